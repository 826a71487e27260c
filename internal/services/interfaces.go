package services

import (
	"context"
	"time"

	domain "github.com/henokworkuliyew/ai-powered-e-commerce-system-sub001/internal/domain"
	"github.com/henokworkuliyew/ai-powered-e-commerce-system-sub001/internal/repositories"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Pagination         = domain.Pagination
	Order              = domain.Order
	OrderItem          = domain.OrderItem
	OrderTotals        = domain.OrderTotals
	OrderStatus        = domain.OrderStatus
	PaymentStatus      = domain.PaymentStatus
	Shipment           = domain.Shipment
	ShipmentStatus     = domain.ShipmentStatus
	ShipmentAssignment = domain.ShipmentAssignment
	CarrierProfile     = domain.CarrierProfile
	User               = domain.User
	SystemHealthReport = domain.SystemHealthReport
)

// LifecycleEventPublisher publishes order, payment, and shipment lifecycle
// events for downstream consumers (notifications, analytics).
type LifecycleEventPublisher interface {
	PublishLifecycleEvent(ctx context.Context, event LifecycleEvent) error
}

// LifecycleEvent captures metadata for an emitted lifecycle event.
type LifecycleEvent struct {
	Type           string         `json:"type"`
	OrderID        string         `json:"orderId,omitempty"`
	OrderNumber    string         `json:"orderNumber,omitempty"`
	ShipmentID     string         `json:"shipmentId,omitempty"`
	TrackingNumber string         `json:"trackingNumber,omitempty"`
	PreviousStatus string         `json:"previousStatus,omitempty"`
	CurrentStatus  string         `json:"currentStatus,omitempty"`
	ActorID        string         `json:"actorId,omitempty"`
	OccurredAt     time.Time      `json:"occurredAt"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// OrderService encapsulates order creation, reads, and manual status changes.
type OrderService interface {
	CreateOrder(ctx context.Context, cmd CreateOrderCommand) (Order, error)
	GetOrder(ctx context.Context, orderID string) (Order, error)
	ListOrders(ctx context.Context, filter OrderListFilter) (domain.CursorPage[Order], error)
	TransitionStatus(ctx context.Context, cmd OrderStatusTransitionCommand) (Order, error)
}

// PaymentService coordinates gateway checkout sessions and verification callbacks.
type PaymentService interface {
	InitializePayment(ctx context.Context, cmd InitializePaymentCommand) (PaymentInitialization, error)
	VerifyPayment(ctx context.Context, reference string) (PaymentVerification, error)
}

// ShipmentService orchestrates shipment creation, carrier assignment, and progress updates.
type ShipmentService interface {
	CreateShipment(ctx context.Context, cmd CreateShipmentCommand) (Shipment, error)
	GetShipment(ctx context.Context, shipmentID string) (Shipment, error)
	ListShipments(ctx context.Context, filter ShipmentListFilter) (domain.CursorPage[Shipment], error)
	ListByOrder(ctx context.Context, orderID string) ([]Shipment, error)
	UpdateShipmentStatus(ctx context.Context, cmd UpdateShipmentStatusCommand) (Shipment, error)
}

// CarrierService manages the carrier directory and account lifecycle.
type CarrierService interface {
	RegisterCarrier(ctx context.Context, cmd RegisterCarrierCommand) (User, error)
	GetCarrier(ctx context.Context, carrierID string) (User, error)
	ListCarriers(ctx context.Context, filter CarrierListFilter) (domain.CursorPage[User], error)
	DeleteCarrier(ctx context.Context, cmd DeleteCarrierCommand) (CarrierDeletion, error)
}

// SystemService aggregates utility endpoints such as health checks.
type SystemService interface {
	HealthReport(ctx context.Context) (SystemHealthReport, error)
}

// Command and DTO definitions ------------------------------------------------

type OrderListFilter = repositories.OrderListFilter

type ShipmentListFilter = repositories.ShipmentListFilter

type CreateOrderCommand struct {
	UserID            string
	Items             []OrderItem
	Tax               int64
	Shipping          int64
	ShippingAddressID string
	BillingAddressID  string
	Notes             string
	Metadata          map[string]any
	ActorID           string
}

type OrderStatusTransitionCommand struct {
	OrderID        string
	TargetStatus   OrderStatus
	ActorID        string
	Reason         string
	ExpectedStatus *OrderStatus
}

type InitializePaymentCommand struct {
	OrderID       string
	UserID        string
	Provider      string
	CustomerEmail string
	ActorID       string
}

// PaymentInitialization carries the redirect target handed back to the storefront.
type PaymentInitialization struct {
	OrderID     string
	CheckoutURL string
	Reference   string
	Provider    string
	ExpiresAt   time.Time
}

// PaymentVerification reports the reconciled order state after a gateway lookup.
type PaymentVerification struct {
	Order            Order
	Reference        string
	PaymentStatus    PaymentStatus
	AlreadyCompleted bool
}

type CreateShipmentCommand struct {
	OrderID           string
	CarrierID         string
	TrackingNumber    string
	AutoAssign        bool
	DestinationZone   string
	Items             []OrderItem
	EstimatedDelivery *time.Time
	ActorID           string
}

type UpdateShipmentStatusCommand struct {
	ShipmentID   string
	TargetStatus ShipmentStatus
	ActorID      string
}

type RegisterCarrierCommand struct {
	Email     string
	FirstName string
	LastName  string
	Zone      string
	Vehicle   string
	ActorID   string
}

type CarrierListFilter struct {
	AvailableOnly bool
	States        []string
	Pagination    Pagination
}

type DeleteCarrierCommand struct {
	CarrierID string
	ActorID   string
}

// CarrierDeletionOutcome distinguishes the soft-delete and purge paths.
type CarrierDeletionOutcome string

const (
	// CarrierDeactivated means shipment history exists and the account was soft-deleted.
	CarrierDeactivated CarrierDeletionOutcome = "deactivated"
	// CarrierPurged means the account had no shipment history and was removed.
	CarrierPurged CarrierDeletionOutcome = "purged"
)

// CarrierDeletion reports which deletion path was taken.
type CarrierDeletion struct {
	CarrierID string
	Outcome   CarrierDeletionOutcome
}
