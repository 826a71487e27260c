package domain

import (
	"time"
)

// Pagination defines standard cursor-based paging inputs for list operations.
type Pagination struct {
	PageSize  int
	PageToken string
}

// SortOrder indicates ascending or descending ordering for list queries.
type SortOrder string

const (
	// SortAsc sorts results in ascending order.
	SortAsc SortOrder = "asc"
	// SortDesc sorts results in descending order.
	SortDesc SortOrder = "desc"
)

// RangeQuery represents inclusive range filters for numeric or timestamp fields.
type RangeQuery[T comparable] struct {
	From *T
	To   *T
}

// CursorPage packages list results with an encoded next token.
type CursorPage[T any] struct {
	Items         []T
	NextPageToken string
}

// OrderStatus describes the fulfillment state of an order.
type OrderStatus string

const (
	// OrderStatusPending marks a freshly created order awaiting payment.
	OrderStatusPending OrderStatus = "pending"
	// OrderStatusProcessing marks an order whose payment has been verified.
	OrderStatusProcessing OrderStatus = "processing"
	// OrderStatusShipped marks an order with an active shipment.
	OrderStatusShipped OrderStatus = "shipped"
	// OrderStatusDelivered marks an order whose shipment reached the customer.
	OrderStatusDelivered OrderStatus = "delivered"
	// OrderStatusCancelled marks an order withdrawn before completion.
	OrderStatusCancelled OrderStatus = "cancelled"
	// OrderStatusRefunded marks an order whose payment has been returned.
	OrderStatusRefunded OrderStatus = "refunded"
)

// IsTerminal reports whether no further forward transition is permitted.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderStatusDelivered, OrderStatusCancelled, OrderStatusRefunded:
		return true
	}
	return false
}

// PaymentStatus tracks the state of the payment attached to an order.
type PaymentStatus string

const (
	// PaymentStatusPending indicates no successful gateway confirmation yet.
	PaymentStatusPending PaymentStatus = "pending"
	// PaymentStatusCompleted indicates the gateway confirmed the charge.
	PaymentStatusCompleted PaymentStatus = "completed"
	// PaymentStatusFailed indicates the most recent attempt failed; retry is allowed.
	PaymentStatusFailed PaymentStatus = "failed"
	// PaymentStatusRefunded indicates the captured amount was returned.
	PaymentStatusRefunded PaymentStatus = "refunded"
)

// OrderTotals captures the monetary breakdown of an order in minor currency units.
type OrderTotals struct {
	Subtotal int64 `firestore:"subtotal"`
	Tax      int64 `firestore:"tax"`
	Shipping int64 `firestore:"shipping"`
	Total    int64 `firestore:"total"`
}

// OrderItem is a single purchased line within an order.
type OrderItem struct {
	ProductID string `firestore:"productId"`
	Name      string `firestore:"name"`
	Quantity  int    `firestore:"quantity"`
	UnitPrice int64  `firestore:"unitPrice"`
	Subtotal  int64  `firestore:"subtotal"`
	ImageURL  string `firestore:"imageUrl,omitempty"`
}

// Order is the financial record of a customer purchase. Orders are never
// physically deleted.
type Order struct {
	ID                string         `firestore:"-"`
	OrderNumber       string         `firestore:"orderNumber"`
	UserID            string         `firestore:"userId"`
	OrderStatus       OrderStatus    `firestore:"orderStatus"`
	PaymentStatus     PaymentStatus  `firestore:"paymentStatus"`
	Totals            OrderTotals    `firestore:"totals"`
	Items             []OrderItem    `firestore:"items"`
	ShippingAddressID string         `firestore:"shippingAddressId"`
	BillingAddressID  string         `firestore:"billingAddressId"`
	TransactionRef    string         `firestore:"transactionRef,omitempty"`
	Notes             string         `firestore:"notes,omitempty"`
	Metadata          map[string]any `firestore:"metadata,omitempty"`
	CreatedAt         time.Time      `firestore:"createdAt"`
	UpdatedAt         time.Time      `firestore:"updatedAt"`
	PaidAt            *time.Time     `firestore:"paidAt,omitempty"`
	ShippedAt         *time.Time     `firestore:"shippedAt,omitempty"`
	DeliveredAt       *time.Time     `firestore:"deliveredAt,omitempty"`
	CancelledAt       *time.Time     `firestore:"cancelledAt,omitempty"`
	RefundedAt        *time.Time     `firestore:"refundedAt,omitempty"`
	CancelReason      *string        `firestore:"cancelReason,omitempty"`
}

// ItemsSubtotal sums the per-line subtotals for invariant checks.
func (o Order) ItemsSubtotal() int64 {
	var total int64
	for _, item := range o.Items {
		total += item.Subtotal
	}
	return total
}

// ShipmentStatus describes the physical delivery progress of a shipment.
type ShipmentStatus string

const (
	// ShipmentStatusProcessing marks a shipment that has been created but not picked up.
	ShipmentStatusProcessing ShipmentStatus = "processing"
	// ShipmentStatusInTransit marks a shipment on its way to the customer.
	ShipmentStatusInTransit ShipmentStatus = "in_transit"
	// ShipmentStatusDelivered marks a shipment handed over to the customer.
	ShipmentStatusDelivered ShipmentStatus = "delivered"
	// ShipmentStatusFailed marks a shipment that could not be delivered.
	ShipmentStatusFailed ShipmentStatus = "failed"
	// ShipmentStatusReturned marks a shipment sent back to the warehouse.
	ShipmentStatusReturned ShipmentStatus = "returned"
)

// IsTerminal reports whether the shipment can no longer progress.
func (s ShipmentStatus) IsTerminal() bool {
	switch s {
	case ShipmentStatusDelivered, ShipmentStatusFailed, ShipmentStatusReturned:
		return true
	}
	return false
}

// Shipment links exactly one order to one carrier and tracks delivery progress.
// Shipments are kept as an audit trail and never deleted.
type Shipment struct {
	ID                string         `firestore:"-"`
	TrackingNumber    string         `firestore:"trackingNumber"`
	OrderID           string         `firestore:"orderId"`
	OrderNumber       string         `firestore:"orderNumber"`
	CarrierID         string         `firestore:"carrierId"`
	Status            ShipmentStatus `firestore:"status"`
	Items             []OrderItem    `firestore:"items"`
	DestinationZone   string         `firestore:"destinationZone,omitempty"`
	EstimatedDelivery *time.Time     `firestore:"estimatedDelivery,omitempty"`
	DateShipped       *time.Time     `firestore:"dateShipped,omitempty"`
	DateDelivered     *time.Time     `firestore:"dateDelivered,omitempty"`
	CreatedAt         time.Time      `firestore:"createdAt"`
	UpdatedAt         time.Time      `firestore:"updatedAt"`
	CreatedBy         string         `firestore:"createdBy,omitempty"`
}

// UserRole enumerates the closed set of account variants.
type UserRole string

const (
	// RoleCustomer is the default storefront account.
	RoleCustomer UserRole = "customer"
	// RoleManager can create shipments and reconcile order state.
	RoleManager UserRole = "manager"
	// RoleCarrier delivers shipments and reports progress.
	RoleCarrier UserRole = "carrier"
	// RoleAdmin holds full administrative access.
	RoleAdmin UserRole = "admin"
)

// AccountState replaces the isActive/isDeleted flag pair with a single
// explicit deletion state.
type AccountState string

const (
	// AccountActive accounts can authenticate and receive assignments.
	AccountActive AccountState = "active"
	// AccountDeactivated accounts are soft-deleted to preserve shipment history.
	AccountDeactivated AccountState = "deactivated"
	// AccountPurged is only ever observed in audit events; purged documents are removed.
	AccountPurged AccountState = "purged"
)

// ShipmentAssignment is the denormalised summary of a carrier's current shipment.
type ShipmentAssignment struct {
	ShipmentID        string     `firestore:"shipmentId"`
	TrackingNumber    string     `firestore:"trackingNumber"`
	OrderNumber       string     `firestore:"orderNumber"`
	EstimatedDelivery *time.Time `firestore:"estimatedDelivery,omitempty"`
	AssignedAt        time.Time  `firestore:"assignedAt"`
}

// CarrierProfile carries the carrier-only fields of a user account.
type CarrierProfile struct {
	Zone            string              `firestore:"zone"`
	Vehicle         string              `firestore:"vehicle,omitempty"`
	CurrentShipment *ShipmentAssignment `firestore:"currentShipment,omitempty"`
}

// User is an account document. Carrier accounts must carry a CarrierProfile;
// validation enforces the role/profile pairing since Go has no closed sum types.
type User struct {
	ID        string          `firestore:"-"`
	Email     string          `firestore:"email"`
	FirstName string          `firestore:"firstName"`
	LastName  string          `firestore:"lastName"`
	Role      UserRole        `firestore:"role"`
	State     AccountState    `firestore:"state"`
	Carrier   *CarrierProfile `firestore:"carrier,omitempty"`
	CreatedAt time.Time       `firestore:"createdAt"`
	UpdatedAt time.Time       `firestore:"updatedAt"`
}

// IsAvailableCarrier reports whether the account can accept a new shipment.
func (u User) IsAvailableCarrier() bool {
	return u.Role == RoleCarrier &&
		u.State == AccountActive &&
		u.Carrier != nil &&
		u.Carrier.CurrentShipment == nil
}
