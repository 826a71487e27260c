package services

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/henokworkuliyew/ai-powered-e-commerce-system-sub001/internal/domain"
	"github.com/henokworkuliyew/ai-powered-e-commerce-system-sub001/internal/repositories"
)

const (
	orderEventCreated       = "order.created"
	orderEventStatusChanged = "order.status.changed"

	orderIDPrefix      = "ord_"
	orderNumberCounter = "orders"
)

var (
	// ErrOrderInvalidInput signals the caller provided invalid data.
	ErrOrderInvalidInput = errors.New("order: invalid input")
	// ErrOrderNotFound indicates the order could not be located.
	ErrOrderNotFound = errors.New("order: not found")
	// ErrOrderInvalidState indicates an invalid status transition was attempted.
	ErrOrderInvalidState = errors.New("order: invalid status transition")
	// ErrOrderConflict indicates concurrent modification or duplicates.
	ErrOrderConflict = errors.New("order: conflict")
	// ErrOrderPaymentRequired indicates shipping is blocked until payment completes.
	ErrOrderPaymentRequired = errors.New("order: payment required before shipping")
)

var orderStateTransitions = map[domain.OrderStatus][]domain.OrderStatus{
	domain.OrderStatusPending:    {domain.OrderStatusProcessing, domain.OrderStatusShipped, domain.OrderStatusCancelled},
	domain.OrderStatusProcessing: {domain.OrderStatusShipped, domain.OrderStatusCancelled, domain.OrderStatusRefunded},
	domain.OrderStatusShipped:    {domain.OrderStatusDelivered, domain.OrderStatusCancelled, domain.OrderStatusRefunded},
	domain.OrderStatusDelivered:  {domain.OrderStatusRefunded},
}

// OrderServiceDeps bundles collaborators required to construct the order service.
type OrderServiceDeps struct {
	Orders               repositories.OrderRepository
	Counters             repositories.CounterRepository
	Tx                   repositories.UnitOfWork
	RequirePaidShipments bool
	Clock                func() time.Time
	IDGenerator          func() string
	Events               LifecycleEventPublisher
	Logger               func(ctx context.Context, event string, fields map[string]any)
}

type orderService struct {
	orders      repositories.OrderRepository
	counters    repositories.CounterRepository
	tx          repositories.UnitOfWork
	requirePaid bool
	clock       func() time.Time
	newID       func() string
	events      LifecycleEventPublisher
	logger      func(context.Context, string, map[string]any)
}

// NewOrderService wires dependencies into a concrete OrderService implementation.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order service: order repository is required")
	}
	if deps.Counters == nil {
		return nil, errors.New("order service: counter repository is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return ulid.Make().String()
		}
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &orderService{
		orders:      deps.Orders,
		counters:    deps.Counters,
		tx:          deps.Tx,
		requirePaid: deps.RequirePaidShipments,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		events: deps.Events,
		logger: logger,
	}, nil
}

func (s *orderService) CreateOrder(ctx context.Context, cmd CreateOrderCommand) (Order, error) {
	userID := strings.TrimSpace(cmd.UserID)
	if userID == "" {
		return Order{}, fmt.Errorf("%w: user id is required", ErrOrderInvalidInput)
	}
	if len(cmd.Items) == 0 {
		return Order{}, fmt.Errorf("%w: order must contain at least one item", ErrOrderInvalidInput)
	}
	if strings.TrimSpace(cmd.ShippingAddressID) == "" {
		return Order{}, fmt.Errorf("%w: shipping address id is required", ErrOrderInvalidInput)
	}
	if strings.TrimSpace(cmd.BillingAddressID) == "" {
		return Order{}, fmt.Errorf("%w: billing address id is required", ErrOrderInvalidInput)
	}
	if cmd.Tax < 0 || cmd.Shipping < 0 {
		return Order{}, fmt.Errorf("%w: tax and shipping must not be negative", ErrOrderInvalidInput)
	}

	items, err := normaliseOrderItems(cmd.Items)
	if err != nil {
		return Order{}, err
	}

	now := s.now()

	order := Order{
		ID:                orderIDPrefix + s.newID(),
		UserID:            userID,
		OrderStatus:       domain.OrderStatusPending,
		PaymentStatus:     domain.PaymentStatusPending,
		Items:             items,
		Totals:            buildOrderTotals(items, cmd.Tax, cmd.Shipping),
		ShippingAddressID: strings.TrimSpace(cmd.ShippingAddressID),
		BillingAddressID:  strings.TrimSpace(cmd.BillingAddressID),
		Notes:             strings.TrimSpace(cmd.Notes),
		Metadata:          cloneMap(cmd.Metadata),
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	number, err := s.generateOrderNumber(ctx, now)
	if err != nil {
		return Order{}, err
	}
	order.OrderNumber = number

	if err := s.orders.Insert(ctx, order); err != nil {
		return Order{}, s.mapRepositoryError(err)
	}

	s.publishEvent(ctx, LifecycleEvent{
		Type:          orderEventCreated,
		OrderID:       order.ID,
		OrderNumber:   order.OrderNumber,
		CurrentStatus: string(order.OrderStatus),
		ActorID:       cmd.ActorID,
		OccurredAt:    now,
		Metadata:      cloneMap(order.Metadata),
	})

	return order, nil
}

func (s *orderService) GetOrder(ctx context.Context, orderID string) (Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}
	return order, nil
}

func (s *orderService) ListOrders(ctx context.Context, filter OrderListFilter) (domain.CursorPage[Order], error) {
	page, err := s.orders.List(ctx, filter)
	if err != nil {
		return domain.CursorPage[Order]{}, s.mapRepositoryError(err)
	}
	return page, nil
}

func (s *orderService) TransitionStatus(ctx context.Context, cmd OrderStatusTransitionCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	target := domain.OrderStatus(strings.TrimSpace(string(cmd.TargetStatus)))
	if target == "" {
		return Order{}, fmt.Errorf("%w: target status is required", ErrOrderInvalidInput)
	}

	now := s.now()

	// Read, check, and write under one transaction so a concurrent transition
	// cannot be overwritten by a stale snapshot.
	var (
		order   Order
		prev    domain.OrderStatus
		changed bool
	)
	err := runInUnitOfWork(ctx, s.tx, func(ctx context.Context) error {
		current, err := s.orders.FindByID(ctx, orderID)
		if err != nil {
			return err
		}

		if cmd.ExpectedStatus != nil && current.OrderStatus != *cmd.ExpectedStatus {
			return fmt.Errorf("%w: expected status %q but was %q", ErrOrderConflict, *cmd.ExpectedStatus, current.OrderStatus)
		}

		if target == current.OrderStatus {
			order = current
			return nil
		}

		if target == domain.OrderStatusShipped && s.requirePaid && current.PaymentStatus != domain.PaymentStatusCompleted {
			return fmt.Errorf("%w: payment status is %q", ErrOrderPaymentRequired, current.PaymentStatus)
		}

		prev = current.OrderStatus
		if err := applyOrderTransition(&current, target, now); err != nil {
			return err
		}
		if err := s.orders.Update(ctx, current); err != nil {
			return err
		}
		order = current
		changed = true
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrOrderConflict) || errors.Is(err, ErrOrderPaymentRequired) || errors.Is(err, ErrOrderInvalidState) {
			return Order{}, err
		}
		return Order{}, s.mapRepositoryError(err)
	}
	if !changed {
		return order, nil
	}

	metadata := map[string]any{}
	if reason := strings.TrimSpace(cmd.Reason); reason != "" {
		metadata["reason"] = reason
	}

	s.publishEvent(ctx, LifecycleEvent{
		Type:           orderEventStatusChanged,
		OrderID:        order.ID,
		OrderNumber:    order.OrderNumber,
		PreviousStatus: string(prev),
		CurrentStatus:  string(order.OrderStatus),
		ActorID:        cmd.ActorID,
		OccurredAt:     now,
		Metadata:       metadata,
	})

	return order, nil
}

// applyOrderTransition mutates the order in place once the transition table
// admits the change and stamps the matching lifecycle timestamp.
func applyOrderTransition(order *Order, target domain.OrderStatus, now time.Time) error {
	if !canTransitionOrder(order.OrderStatus, target) {
		return fmt.Errorf("%w: %s to %s", ErrOrderInvalidState, order.OrderStatus, target)
	}

	order.OrderStatus = target
	order.UpdatedAt = now

	switch target {
	case domain.OrderStatusShipped:
		if order.ShippedAt == nil {
			order.ShippedAt = &now
		}
	case domain.OrderStatusDelivered:
		order.DeliveredAt = &now
	case domain.OrderStatusCancelled:
		order.CancelledAt = &now
	case domain.OrderStatusRefunded:
		order.RefundedAt = &now
		if order.PaymentStatus == domain.PaymentStatusCompleted {
			order.PaymentStatus = domain.PaymentStatusRefunded
		}
	}

	return nil
}

func canTransitionOrder(current, target domain.OrderStatus) bool {
	if current == target {
		return true
	}
	next, ok := orderStateTransitions[current]
	if !ok {
		return false
	}
	return slices.Contains(next, target)
}

func (s *orderService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrOrderNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrOrderConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("order: repository unavailable: %w", err)
		}
	}

	return err
}

func (s *orderService) generateOrderNumber(ctx context.Context, now time.Time) (string, error) {
	seq, err := s.counters.Next(ctx, orderNumberCounter, 1)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("ORD-%04d-%06d", now.Year(), seq), nil
}

func (s *orderService) now() time.Time {
	return s.clock()
}

func (s *orderService) publishEvent(ctx context.Context, event LifecycleEvent) {
	if s.events == nil {
		return
	}
	if err := s.events.PublishLifecycleEvent(ctx, event); err != nil {
		s.logger(ctx, "order.event.publish.failed", map[string]any{
			"type":   event.Type,
			"order":  event.OrderID,
			"error":  err.Error(),
			"status": event.CurrentStatus,
		})
	}
}

func normaliseOrderItems(items []OrderItem) ([]OrderItem, error) {
	normalised := make([]OrderItem, 0, len(items))
	for i, item := range items {
		productID := strings.TrimSpace(item.ProductID)
		if productID == "" {
			return nil, fmt.Errorf("%w: item %d is missing a product id", ErrOrderInvalidInput, i)
		}
		if item.Quantity < 1 {
			return nil, fmt.Errorf("%w: item %d quantity must be at least 1", ErrOrderInvalidInput, i)
		}
		if item.UnitPrice < 0 {
			return nil, fmt.Errorf("%w: item %d unit price must not be negative", ErrOrderInvalidInput, i)
		}
		subtotal := item.UnitPrice * int64(item.Quantity)
		if item.Subtotal != 0 && item.Subtotal != subtotal {
			return nil, fmt.Errorf("%w: item %d subtotal does not match quantity and unit price", ErrOrderInvalidInput, i)
		}
		normalised = append(normalised, OrderItem{
			ProductID: productID,
			Name:      strings.TrimSpace(item.Name),
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
			Subtotal:  subtotal,
			ImageURL:  strings.TrimSpace(item.ImageURL),
		})
	}
	return normalised, nil
}

func buildOrderTotals(items []OrderItem, tax, shipping int64) OrderTotals {
	var subtotal int64
	for _, item := range items {
		subtotal += item.Subtotal
	}
	return OrderTotals{
		Subtotal: subtotal,
		Tax:      tax,
		Shipping: shipping,
		Total:    subtotal + tax + shipping,
	}
}

func cloneMap(src map[string]any) map[string]any {
	if src == nil {
		return nil
	}
	return maps.Clone(src)
}

// runInUnitOfWork wraps fn in the unit of work when one is configured and
// falls back to a direct call otherwise.
func runInUnitOfWork(ctx context.Context, tx repositories.UnitOfWork, fn func(context.Context) error) error {
	if tx == nil {
		return fn(ctx)
	}
	return tx.RunInTx(ctx, fn)
}
