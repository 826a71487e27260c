package services

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/henokworkuliyew/ai-powered-e-commerce-system-sub001/internal/domain"
	"github.com/henokworkuliyew/ai-powered-e-commerce-system-sub001/internal/repositories"
)

const (
	shipmentEventCreated       = "shipment.created"
	shipmentEventStatusChanged = "shipment.status.changed"

	shipmentIDPrefix = "shp_"
)

var (
	// ErrShipmentInvalidInput signals the caller provided invalid data.
	ErrShipmentInvalidInput = errors.New("shipment: invalid input")
	// ErrShipmentNotFound indicates the shipment could not be located.
	ErrShipmentNotFound = errors.New("shipment: not found")
	// ErrShipmentOrderNotFound indicates the referenced order does not exist.
	ErrShipmentOrderNotFound = errors.New("shipment: order not found")
	// ErrShipmentCarrierNotFound indicates the referenced carrier does not exist or is not an active carrier.
	ErrShipmentCarrierNotFound = errors.New("shipment: carrier not found")
	// ErrCarrierUnavailable indicates no carrier could take the assignment.
	ErrCarrierUnavailable = errors.New("shipment: carrier unavailable")
	// ErrShipmentUnpaidOrder indicates the paid-shipments policy rejected the order.
	ErrShipmentUnpaidOrder = errors.New("shipment: order payment not completed")
	// ErrShipmentInvalidState indicates an invalid status transition was attempted.
	ErrShipmentInvalidState = errors.New("shipment: invalid status transition")
	// ErrShipmentConflict indicates duplicates or concurrent modification.
	ErrShipmentConflict = errors.New("shipment: conflict")
)

var shipmentStateTransitions = map[domain.ShipmentStatus][]domain.ShipmentStatus{
	domain.ShipmentStatusProcessing: {domain.ShipmentStatusInTransit, domain.ShipmentStatusDelivered, domain.ShipmentStatusFailed, domain.ShipmentStatusReturned},
	domain.ShipmentStatusInTransit:  {domain.ShipmentStatusDelivered, domain.ShipmentStatusFailed, domain.ShipmentStatusReturned},
}

// ShipmentServiceDeps bundles collaborators required to construct the shipment service.
type ShipmentServiceDeps struct {
	Orders               repositories.OrderRepository
	Shipments            repositories.ShipmentRepository
	Users                repositories.UserRepository
	Tx                   repositories.UnitOfWork
	RequirePaidShipments bool
	Clock                func() time.Time
	IDGenerator          func() string
	Events               LifecycleEventPublisher
	Logger               func(ctx context.Context, event string, fields map[string]any)
}

type shipmentService struct {
	orders      repositories.OrderRepository
	shipments   repositories.ShipmentRepository
	users       repositories.UserRepository
	tx          repositories.UnitOfWork
	requirePaid bool
	clock       func() time.Time
	newID       func() string
	events      LifecycleEventPublisher
	logger      func(context.Context, string, map[string]any)
}

// NewShipmentService wires dependencies into a concrete ShipmentService implementation.
func NewShipmentService(deps ShipmentServiceDeps) (ShipmentService, error) {
	if deps.Orders == nil {
		return nil, errors.New("shipment service: order repository is required")
	}
	if deps.Shipments == nil {
		return nil, errors.New("shipment service: shipment repository is required")
	}
	if deps.Users == nil {
		return nil, errors.New("shipment service: user repository is required")
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

	return &shipmentService{
		orders:      deps.Orders,
		shipments:   deps.Shipments,
		users:       deps.Users,
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

func (s *shipmentService) CreateShipment(ctx context.Context, cmd CreateShipmentCommand) (Shipment, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Shipment{}, fmt.Errorf("%w: order id is required", ErrShipmentInvalidInput)
	}
	tracking := strings.TrimSpace(cmd.TrackingNumber)
	if tracking == "" {
		return Shipment{}, fmt.Errorf("%w: tracking number is required", ErrShipmentInvalidInput)
	}
	carrierID := strings.TrimSpace(cmd.CarrierID)
	if carrierID == "" && !cmd.AutoAssign {
		return Shipment{}, fmt.Errorf("%w: carrier id is required unless auto assignment is requested", ErrShipmentInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Shipment{}, s.mapOrderLookupError(err)
	}
	if order.OrderStatus.IsTerminal() {
		return Shipment{}, fmt.Errorf("%w: order status is %q", ErrShipmentInvalidState, order.OrderStatus)
	}
	if s.requirePaid && order.PaymentStatus != domain.PaymentStatusCompleted {
		return Shipment{}, fmt.Errorf("%w: payment status is %q", ErrShipmentUnpaidOrder, order.PaymentStatus)
	}

	if existing, err := s.shipments.FindByTrackingNumber(ctx, tracking); err == nil && existing.ID != "" {
		return Shipment{}, fmt.Errorf("%w: tracking number %q already in use", ErrShipmentConflict, tracking)
	} else if err != nil {
		var repoErr repositories.RepositoryError
		if !errors.As(err, &repoErr) || !repoErr.IsNotFound() {
			return Shipment{}, s.mapRepositoryError(err)
		}
	}

	carrier, err := s.resolveCarrier(ctx, carrierID, cmd.AutoAssign, cmd.DestinationZone)
	if err != nil {
		return Shipment{}, err
	}

	now := s.now()
	items := cmd.Items
	if len(items) == 0 {
		items = order.Items
	}

	shipment := Shipment{
		ID:                shipmentIDPrefix + s.newID(),
		TrackingNumber:    tracking,
		OrderID:           order.ID,
		OrderNumber:       order.OrderNumber,
		CarrierID:         carrier.ID,
		Status:            domain.ShipmentStatusProcessing,
		Items:             items,
		DestinationZone:   strings.TrimSpace(cmd.DestinationZone),
		EstimatedDelivery: cmd.EstimatedDelivery,
		CreatedAt:         now,
		UpdatedAt:         now,
		CreatedBy:         strings.TrimSpace(cmd.ActorID),
	}

	// The conditional assignment is the serialisation point: a carrier that
	// picked up another shipment in the meantime fails here and nothing is written.
	if _, err := s.users.AssignShipment(ctx, carrier.ID, domain.ShipmentAssignment{
		ShipmentID:        shipment.ID,
		TrackingNumber:    shipment.TrackingNumber,
		OrderNumber:       shipment.OrderNumber,
		EstimatedDelivery: shipment.EstimatedDelivery,
		AssignedAt:        now,
	}); err != nil {
		var repoErr repositories.RepositoryError
		if errors.As(err, &repoErr) {
			if repoErr.IsConflict() {
				return Shipment{}, fmt.Errorf("%w: carrier %s", ErrCarrierUnavailable, carrier.ID)
			}
			if repoErr.IsNotFound() {
				return Shipment{}, fmt.Errorf("%w: %s", ErrShipmentCarrierNotFound, carrier.ID)
			}
		}
		return Shipment{}, s.mapRepositoryError(err)
	}

	if err := s.shipments.Insert(ctx, shipment); err != nil {
		s.releaseAssignment(ctx, carrier.ID, shipment.ID, now)
		return Shipment{}, s.mapRepositoryError(err)
	}

	// Re-read the order under a transaction before promoting it to shipped:
	// a status change that landed since the initial read must not be lost.
	prevOrderStatus := order.OrderStatus
	err = runInUnitOfWork(ctx, s.tx, func(ctx context.Context) error {
		current, err := s.orders.FindByID(ctx, order.ID)
		if err != nil {
			return err
		}
		prevOrderStatus = current.OrderStatus
		if current.OrderStatus != domain.OrderStatusPending && current.OrderStatus != domain.OrderStatusProcessing {
			order = current
			return nil
		}
		if err := applyOrderTransition(&current, domain.OrderStatusShipped, now); err != nil {
			return err
		}
		if err := s.orders.Update(ctx, current); err != nil {
			return err
		}
		order = current
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrShipmentInvalidState) || errors.Is(err, ErrOrderInvalidState) {
			return Shipment{}, err
		}
		return Shipment{}, s.mapRepositoryError(err)
	}

	s.publishEvent(ctx, LifecycleEvent{
		Type:           shipmentEventCreated,
		OrderID:        order.ID,
		OrderNumber:    order.OrderNumber,
		ShipmentID:     shipment.ID,
		TrackingNumber: shipment.TrackingNumber,
		CurrentStatus:  string(shipment.Status),
		ActorID:        cmd.ActorID,
		OccurredAt:     now,
		Metadata: map[string]any{
			"carrierId": carrier.ID,
		},
	})

	if prevOrderStatus != order.OrderStatus {
		s.publishEvent(ctx, LifecycleEvent{
			Type:           orderEventStatusChanged,
			OrderID:        order.ID,
			OrderNumber:    order.OrderNumber,
			PreviousStatus: string(prevOrderStatus),
			CurrentStatus:  string(order.OrderStatus),
			ActorID:        cmd.ActorID,
			OccurredAt:     now,
		})
	}

	return shipment, nil
}

func (s *shipmentService) GetShipment(ctx context.Context, shipmentID string) (Shipment, error) {
	shipmentID = strings.TrimSpace(shipmentID)
	if shipmentID == "" {
		return Shipment{}, fmt.Errorf("%w: shipment id is required", ErrShipmentInvalidInput)
	}

	shipment, err := s.shipments.FindByID(ctx, shipmentID)
	if err != nil {
		return Shipment{}, s.mapRepositoryError(err)
	}
	return shipment, nil
}

func (s *shipmentService) ListShipments(ctx context.Context, filter ShipmentListFilter) (domain.CursorPage[Shipment], error) {
	page, err := s.shipments.List(ctx, filter)
	if err != nil {
		return domain.CursorPage[Shipment]{}, s.mapRepositoryError(err)
	}
	return page, nil
}

func (s *shipmentService) ListByOrder(ctx context.Context, orderID string) ([]Shipment, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return nil, fmt.Errorf("%w: order id is required", ErrShipmentInvalidInput)
	}

	shipments, err := s.shipments.ListByOrder(ctx, orderID)
	if err != nil {
		return nil, s.mapRepositoryError(err)
	}
	return shipments, nil
}

func (s *shipmentService) UpdateShipmentStatus(ctx context.Context, cmd UpdateShipmentStatusCommand) (Shipment, error) {
	shipmentID := strings.TrimSpace(cmd.ShipmentID)
	if shipmentID == "" {
		return Shipment{}, fmt.Errorf("%w: shipment id is required", ErrShipmentInvalidInput)
	}
	target := domain.ShipmentStatus(strings.TrimSpace(string(cmd.TargetStatus)))
	if target == "" {
		return Shipment{}, fmt.Errorf("%w: target status is required", ErrShipmentInvalidInput)
	}

	shipment, err := s.shipments.FindByID(ctx, shipmentID)
	if err != nil {
		return Shipment{}, s.mapRepositoryError(err)
	}

	// Setting the status a shipment already has is a successful no-op.
	if shipment.Status == target {
		return shipment, nil
	}

	if !canTransitionShipment(shipment.Status, target) {
		return Shipment{}, fmt.Errorf("%w: %s to %s", ErrShipmentInvalidState, shipment.Status, target)
	}

	now := s.now()
	prev := shipment.Status

	shipment.Status = target
	shipment.UpdatedAt = now
	switch target {
	case domain.ShipmentStatusInTransit:
		if shipment.DateShipped == nil {
			shipment.DateShipped = &now
		}
	case domain.ShipmentStatusDelivered:
		shipment.DateDelivered = &now
	}

	if err := s.shipments.Update(ctx, shipment); err != nil {
		return Shipment{}, s.mapRepositoryError(err)
	}

	if target.IsTerminal() {
		s.releaseAssignment(ctx, shipment.CarrierID, shipment.ID, now)
	}

	if target == domain.ShipmentStatusDelivered {
		s.reconcileDeliveredOrder(ctx, shipment, cmd.ActorID, now)
	}

	s.publishEvent(ctx, LifecycleEvent{
		Type:           shipmentEventStatusChanged,
		OrderID:        shipment.OrderID,
		OrderNumber:    shipment.OrderNumber,
		ShipmentID:     shipment.ID,
		TrackingNumber: shipment.TrackingNumber,
		PreviousStatus: string(prev),
		CurrentStatus:  string(shipment.Status),
		ActorID:        cmd.ActorID,
		OccurredAt:     now,
		Metadata: map[string]any{
			"carrierId": shipment.CarrierID,
		},
	})

	return shipment, nil
}

// resolveCarrier returns the explicit carrier, or picks an available one by
// zone preference when auto assignment is requested.
func (s *shipmentService) resolveCarrier(ctx context.Context, carrierID string, autoAssign bool, zone string) (User, error) {
	if carrierID != "" {
		carrier, err := s.users.FindByID(ctx, carrierID)
		if err != nil {
			var repoErr repositories.RepositoryError
			if errors.As(err, &repoErr) && repoErr.IsNotFound() {
				return User{}, fmt.Errorf("%w: %s", ErrShipmentCarrierNotFound, carrierID)
			}
			return User{}, s.mapRepositoryError(err)
		}
		if carrier.Role != domain.RoleCarrier || carrier.State != domain.AccountActive || carrier.Carrier == nil {
			return User{}, fmt.Errorf("%w: %s", ErrShipmentCarrierNotFound, carrierID)
		}
		return carrier, nil
	}

	if !autoAssign {
		return User{}, fmt.Errorf("%w: carrier id is required", ErrShipmentInvalidInput)
	}

	page, err := s.users.List(ctx, repositories.UserListFilter{
		Roles:         []string{string(domain.RoleCarrier)},
		States:        []string{string(domain.AccountActive)},
		AvailableOnly: true,
		Pagination:    domain.Pagination{PageSize: 50},
	})
	if err != nil {
		return User{}, s.mapRepositoryError(err)
	}
	if len(page.Items) == 0 {
		return User{}, fmt.Errorf("%w: no available carrier", ErrCarrierUnavailable)
	}

	zone = strings.TrimSpace(strings.ToLower(zone))
	if zone != "" {
		idx := slices.IndexFunc(page.Items, func(u User) bool {
			return u.Carrier != nil && strings.EqualFold(u.Carrier.Zone, zone)
		})
		if idx >= 0 {
			return page.Items[idx], nil
		}
	}
	return page.Items[0], nil
}

// releaseAssignment clears the carrier's current shipment; failures are logged
// but never fail the surrounding operation.
func (s *shipmentService) releaseAssignment(ctx context.Context, carrierID, shipmentID string, now time.Time) {
	if carrierID == "" {
		return
	}
	if _, err := s.users.ClearAssignment(ctx, carrierID, shipmentID, now); err != nil {
		s.logger(ctx, "shipment.assignment.release_failed", map[string]any{
			"carrier":  carrierID,
			"shipment": shipmentID,
			"error":    err.Error(),
		})
	}
}

// reconcileDeliveredOrder advances the parent order to delivered when the
// shipment arrives. Failed or returned shipments leave the order for an
// operator to resolve.
func (s *shipmentService) reconcileDeliveredOrder(ctx context.Context, shipment Shipment, actorID string, now time.Time) {
	var (
		order    Order
		prev     domain.OrderStatus
		advanced bool
	)
	err := runInUnitOfWork(ctx, s.tx, func(ctx context.Context) error {
		advanced = false

		current, err := s.orders.FindByID(ctx, shipment.OrderID)
		if err != nil {
			return err
		}
		if current.OrderStatus != domain.OrderStatusShipped {
			return nil
		}

		prev = current.OrderStatus
		if err := applyOrderTransition(&current, domain.OrderStatusDelivered, now); err != nil {
			return err
		}
		if err := s.orders.Update(ctx, current); err != nil {
			return err
		}
		order = current
		advanced = true
		return nil
	})
	if err != nil {
		s.logger(ctx, "shipment.order.reconcile_failed", map[string]any{
			"order":    shipment.OrderID,
			"shipment": shipment.ID,
			"error":    err.Error(),
		})
		return
	}
	if !advanced {
		return
	}

	s.publishEvent(ctx, LifecycleEvent{
		Type:           orderEventStatusChanged,
		OrderID:        order.ID,
		OrderNumber:    order.OrderNumber,
		PreviousStatus: string(prev),
		CurrentStatus:  string(order.OrderStatus),
		ActorID:        actorID,
		OccurredAt:     now,
	})
}

func canTransitionShipment(current, target domain.ShipmentStatus) bool {
	next, ok := shipmentStateTransitions[current]
	if !ok {
		return false
	}
	return slices.Contains(next, target)
}

func (s *shipmentService) mapOrderLookupError(err error) error {
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) && repoErr.IsNotFound() {
		return fmt.Errorf("%w: %v", ErrShipmentOrderNotFound, err)
	}
	return s.mapRepositoryError(err)
}

func (s *shipmentService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrShipmentNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrShipmentConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("shipment: repository unavailable: %w", err)
		}
	}

	return err
}

func (s *shipmentService) now() time.Time {
	return s.clock()
}

func (s *shipmentService) publishEvent(ctx context.Context, event LifecycleEvent) {
	if s.events == nil {
		return
	}
	if err := s.events.PublishLifecycleEvent(ctx, event); err != nil {
		s.logger(ctx, "shipment.event.publish.failed", map[string]any{
			"type":     event.Type,
			"shipment": event.ShipmentID,
			"error":    err.Error(),
		})
	}
}
