package repositories

import (
	"context"
	"time"

	domain "github.com/henokworkuliyew/ai-powered-e-commerce-system-sub001/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Orders() OrderRepository
	Shipments() ShipmentRepository
	Users() UserRepository
	Counters() CounterRepository
	Health() HealthRepository
	UnitOfWork
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// UnitOfWork allows grouping repository operations in a transactional boundary when supported.
type UnitOfWork interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// OrderRepository persists order headers and provides query helpers for customers and staff.
type OrderRepository interface {
	Insert(ctx context.Context, order domain.Order) error
	Update(ctx context.Context, order domain.Order) error
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	// FindByTransactionRef resolves the order that initiated a payment gateway
	// transaction, used during verification callbacks.
	FindByTransactionRef(ctx context.Context, transactionRef string) (domain.Order, error)
	List(ctx context.Context, filter OrderListFilter) (domain.CursorPage[domain.Order], error)
}

// ShipmentRepository stores shipment records keyed by ID with a unique tracking number.
type ShipmentRepository interface {
	Insert(ctx context.Context, shipment domain.Shipment) error
	Update(ctx context.Context, shipment domain.Shipment) error
	FindByID(ctx context.Context, shipmentID string) (domain.Shipment, error)
	FindByTrackingNumber(ctx context.Context, trackingNumber string) (domain.Shipment, error)
	ListByOrder(ctx context.Context, orderID string) ([]domain.Shipment, error)
	List(ctx context.Context, filter ShipmentListFilter) (domain.CursorPage[domain.Shipment], error)
	// CountByCarrier returns the number of shipments ever handled by the
	// carrier, used by the deletion guard to decide soft versus hard delete.
	CountByCarrier(ctx context.Context, carrierID string) (int64, error)
}

// UserRepository stores account documents including carrier assignment state.
type UserRepository interface {
	Insert(ctx context.Context, user domain.User) error
	Update(ctx context.Context, user domain.User) error
	FindByID(ctx context.Context, userID string) (domain.User, error)
	FindByEmail(ctx context.Context, email string) (domain.User, error)
	List(ctx context.Context, filter UserListFilter) (domain.CursorPage[domain.User], error)
	// AssignShipment atomically sets the carrier's current shipment, failing
	// with a conflict when the carrier already holds one or is not an active carrier.
	AssignShipment(ctx context.Context, carrierID string, assignment domain.ShipmentAssignment) (domain.User, error)
	// ClearAssignment removes the carrier's current shipment if it matches shipmentID.
	ClearAssignment(ctx context.Context, carrierID string, shipmentID string, now time.Time) (domain.User, error)
	// Deactivate soft-deletes the account while preserving the document.
	Deactivate(ctx context.Context, userID string, now time.Time) (domain.User, error)
	// Purge physically removes the account document.
	Purge(ctx context.Context, userID string) error
}

// CounterRepository provides transaction-safe sequence numbers.
type CounterRepository interface {
	Next(ctx context.Context, counterID string, step int64) (int64, error)
	Configure(ctx context.Context, counterID string, cfg CounterConfig) error
}

// HealthRepository exposes status of downstream dependencies for health checks.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}

// Filter DTOs shared across repositories ------------------------------------

type OrderListFilter struct {
	UserID        string
	OrderStatus   []string
	PaymentStatus []string
	DateRange     domain.RangeQuery[time.Time]
	Pagination    domain.Pagination
}

type ShipmentListFilter struct {
	CarrierID      string
	OrderID        string
	TrackingNumber string
	Status         []string
	DateRange      domain.RangeQuery[time.Time]
	Pagination     domain.Pagination
}

type UserListFilter struct {
	Roles         []string
	States        []string
	AvailableOnly bool
	Pagination    domain.Pagination
}

// CounterConfig customises increment behaviour and bounds for a counter.
type CounterConfig struct {
	Step         int64
	MaxValue     *int64
	InitialValue *int64
}
