package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/henokworkuliyew/ai-powered-e-commerce-system-sub001/internal/domain"
	"github.com/henokworkuliyew/ai-powered-e-commerce-system-sub001/internal/repositories"
)

type stubShipmentRepo struct {
	insertFn         func(context.Context, domain.Shipment) error
	updateFn         func(context.Context, domain.Shipment) error
	findFn           func(context.Context, string) (domain.Shipment, error)
	findByTrackingFn func(context.Context, string) (domain.Shipment, error)
	listByOrderFn    func(context.Context, string) ([]domain.Shipment, error)
	listFn           func(context.Context, repositories.ShipmentListFilter) (domain.CursorPage[domain.Shipment], error)
	countFn          func(context.Context, string) (int64, error)
}

func (s *stubShipmentRepo) Insert(ctx context.Context, shipment domain.Shipment) error {
	if s.insertFn != nil {
		return s.insertFn(ctx, shipment)
	}
	return nil
}

func (s *stubShipmentRepo) Update(ctx context.Context, shipment domain.Shipment) error {
	if s.updateFn != nil {
		return s.updateFn(ctx, shipment)
	}
	return nil
}

func (s *stubShipmentRepo) FindByID(ctx context.Context, shipmentID string) (domain.Shipment, error) {
	if s.findFn != nil {
		return s.findFn(ctx, shipmentID)
	}
	return domain.Shipment{}, errors.New("not implemented")
}

func (s *stubShipmentRepo) FindByTrackingNumber(ctx context.Context, tracking string) (domain.Shipment, error) {
	if s.findByTrackingFn != nil {
		return s.findByTrackingFn(ctx, tracking)
	}
	return domain.Shipment{}, stubRepoError{notFound: true}
}

func (s *stubShipmentRepo) ListByOrder(ctx context.Context, orderID string) ([]domain.Shipment, error) {
	if s.listByOrderFn != nil {
		return s.listByOrderFn(ctx, orderID)
	}
	return nil, nil
}

func (s *stubShipmentRepo) List(ctx context.Context, filter repositories.ShipmentListFilter) (domain.CursorPage[domain.Shipment], error) {
	if s.listFn != nil {
		return s.listFn(ctx, filter)
	}
	return domain.CursorPage[domain.Shipment]{}, nil
}

func (s *stubShipmentRepo) CountByCarrier(ctx context.Context, carrierID string) (int64, error) {
	if s.countFn != nil {
		return s.countFn(ctx, carrierID)
	}
	return 0, nil
}

type stubUserRepo struct {
	insertFn     func(context.Context, domain.User) error
	updateFn     func(context.Context, domain.User) error
	findFn       func(context.Context, string) (domain.User, error)
	findEmailFn  func(context.Context, string) (domain.User, error)
	listFn       func(context.Context, repositories.UserListFilter) (domain.CursorPage[domain.User], error)
	assignFn     func(context.Context, string, domain.ShipmentAssignment) (domain.User, error)
	clearFn      func(context.Context, string, string, time.Time) (domain.User, error)
	deactivateFn func(context.Context, string, time.Time) (domain.User, error)
	purgeFn      func(context.Context, string) error
}

func (s *stubUserRepo) Insert(ctx context.Context, user domain.User) error {
	if s.insertFn != nil {
		return s.insertFn(ctx, user)
	}
	return nil
}

func (s *stubUserRepo) Update(ctx context.Context, user domain.User) error {
	if s.updateFn != nil {
		return s.updateFn(ctx, user)
	}
	return nil
}

func (s *stubUserRepo) FindByID(ctx context.Context, userID string) (domain.User, error) {
	if s.findFn != nil {
		return s.findFn(ctx, userID)
	}
	return domain.User{}, errors.New("not implemented")
}

func (s *stubUserRepo) FindByEmail(ctx context.Context, email string) (domain.User, error) {
	if s.findEmailFn != nil {
		return s.findEmailFn(ctx, email)
	}
	return domain.User{}, stubRepoError{notFound: true}
}

func (s *stubUserRepo) List(ctx context.Context, filter repositories.UserListFilter) (domain.CursorPage[domain.User], error) {
	if s.listFn != nil {
		return s.listFn(ctx, filter)
	}
	return domain.CursorPage[domain.User]{}, nil
}

func (s *stubUserRepo) AssignShipment(ctx context.Context, carrierID string, assignment domain.ShipmentAssignment) (domain.User, error) {
	if s.assignFn != nil {
		return s.assignFn(ctx, carrierID, assignment)
	}
	return domain.User{}, nil
}

func (s *stubUserRepo) ClearAssignment(ctx context.Context, carrierID, shipmentID string, now time.Time) (domain.User, error) {
	if s.clearFn != nil {
		return s.clearFn(ctx, carrierID, shipmentID, now)
	}
	return domain.User{}, nil
}

func (s *stubUserRepo) Deactivate(ctx context.Context, userID string, now time.Time) (domain.User, error) {
	if s.deactivateFn != nil {
		return s.deactivateFn(ctx, userID, now)
	}
	return domain.User{}, nil
}

func (s *stubUserRepo) Purge(ctx context.Context, userID string) error {
	if s.purgeFn != nil {
		return s.purgeFn(ctx, userID)
	}
	return nil
}

func activeCarrier(id, zone string) domain.User {
	return domain.User{
		ID:    id,
		Email: id + "@carriers.example",
		Role:  domain.RoleCarrier,
		State: domain.AccountActive,
		Carrier: &domain.CarrierProfile{
			Zone: zone,
		},
	}
}

func shippableOrder() domain.Order {
	return domain.Order{
		ID:            "ord_1",
		OrderNumber:   "ORD-2026-000001",
		UserID:        "user-1",
		OrderStatus:   domain.OrderStatusProcessing,
		PaymentStatus: domain.PaymentStatusCompleted,
		Items: []OrderItem{
			{ProductID: "prod-1", Name: "Desk Lamp", Quantity: 1, UnitPrice: 1500, Subtotal: 1500},
		},
		Totals: OrderTotals{Subtotal: 1500, Total: 1500},
	}
}

func newTestShipmentService(t *testing.T, deps ShipmentServiceDeps) ShipmentService {
	t.Helper()
	if deps.Orders == nil {
		deps.Orders = &stubOrderRepo{}
	}
	if deps.Shipments == nil {
		deps.Shipments = &stubShipmentRepo{}
	}
	if deps.Users == nil {
		deps.Users = &stubUserRepo{}
	}
	if deps.Clock == nil {
		deps.Clock = func() time.Time {
			return time.Date(2026, 5, 10, 9, 0, 0, 0, time.UTC)
		}
	}
	if deps.IDGenerator == nil {
		deps.IDGenerator = func() string { return "000TEST" }
	}
	svc, err := NewShipmentService(deps)
	if err != nil {
		t.Fatalf("new shipment service: %v", err)
	}
	return svc
}

func TestShipmentServiceCreate(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 5, 10, 9, 0, 0, 0, time.UTC)

	var assigned domain.ShipmentAssignment
	var inserted domain.Shipment
	var updatedOrder domain.Order
	events := &captureEvents{}

	svc := newTestShipmentService(t, ShipmentServiceDeps{
		Orders: &stubOrderRepo{
			findFn: func(context.Context, string) (domain.Order, error) {
				return shippableOrder(), nil
			},
			updateFn: func(_ context.Context, order domain.Order) error {
				updatedOrder = order
				return nil
			},
		},
		Shipments: &stubShipmentRepo{
			insertFn: func(_ context.Context, shipment domain.Shipment) error {
				inserted = shipment
				return nil
			},
		},
		Users: &stubUserRepo{
			findFn: func(_ context.Context, id string) (domain.User, error) {
				return activeCarrier(id, "north"), nil
			},
			assignFn: func(_ context.Context, carrierID string, assignment domain.ShipmentAssignment) (domain.User, error) {
				assigned = assignment
				return activeCarrier(carrierID, "north"), nil
			},
		},
		Clock:  func() time.Time { return now },
		Events: events,
	})

	shipment, err := svc.CreateShipment(ctx, CreateShipmentCommand{
		OrderID:        "ord_1",
		CarrierID:      "usr_carrier",
		TrackingNumber: "TRK-100",
		ActorID:        "mgr-1",
	})
	if err != nil {
		t.Fatalf("create shipment: %v", err)
	}

	if shipment.ID != "shp_000TEST" {
		t.Fatalf("unexpected shipment id %q", shipment.ID)
	}
	if shipment.Status != domain.ShipmentStatusProcessing {
		t.Fatalf("expected processing status, got %q", shipment.Status)
	}
	if len(shipment.Items) != 1 || shipment.Items[0].ProductID != "prod-1" {
		t.Fatalf("expected items defaulted from the order, got %v", shipment.Items)
	}
	if assigned.ShipmentID != shipment.ID || assigned.TrackingNumber != "TRK-100" {
		t.Fatalf("unexpected assignment %+v", assigned)
	}
	if inserted.ID != shipment.ID {
		t.Fatal("expected shipment inserted")
	}
	if updatedOrder.OrderStatus != domain.OrderStatusShipped {
		t.Fatalf("expected order advanced to shipped, got %q", updatedOrder.OrderStatus)
	}
	if updatedOrder.ShippedAt == nil || !updatedOrder.ShippedAt.Equal(now) {
		t.Fatalf("expected shipped timestamp %v, got %v", now, updatedOrder.ShippedAt)
	}
	if created := events.ofType("shipment.created"); len(created) != 1 {
		t.Fatalf("expected shipment.created event, got %v", events.events)
	}
	if changed := events.ofType("order.status.changed"); len(changed) != 1 {
		t.Fatalf("expected order.status.changed event, got %v", events.events)
	}
}

func TestShipmentServiceCreateBusyCarrier(t *testing.T) {
	ctx := context.Background()
	inserts := 0

	svc := newTestShipmentService(t, ShipmentServiceDeps{
		Orders: &stubOrderRepo{
			findFn: func(context.Context, string) (domain.Order, error) {
				return shippableOrder(), nil
			},
		},
		Shipments: &stubShipmentRepo{
			insertFn: func(context.Context, domain.Shipment) error {
				inserts++
				return nil
			},
		},
		Users: &stubUserRepo{
			findFn: func(_ context.Context, id string) (domain.User, error) {
				return activeCarrier(id, "north"), nil
			},
			assignFn: func(context.Context, string, domain.ShipmentAssignment) (domain.User, error) {
				return domain.User{}, stubRepoError{conflict: true}
			},
		},
	})

	if _, err := svc.CreateShipment(ctx, CreateShipmentCommand{
		OrderID:        "ord_1",
		CarrierID:      "usr_busy",
		TrackingNumber: "TRK-101",
	}); !errors.Is(err, ErrCarrierUnavailable) {
		t.Fatalf("expected ErrCarrierUnavailable, got %v", err)
	}
	if inserts != 0 {
		t.Fatalf("losing the assignment must not create a shipment, got %d inserts", inserts)
	}
}

func TestShipmentServiceCreateUnknownCarrier(t *testing.T) {
	ctx := context.Background()

	deactivated := activeCarrier("usr_gone", "north")
	deactivated.State = domain.AccountDeactivated

	cases := map[string]func(context.Context, string) (domain.User, error){
		"missing document": func(context.Context, string) (domain.User, error) {
			return domain.User{}, stubRepoError{notFound: true}
		},
		"deactivated account": func(context.Context, string) (domain.User, error) {
			return deactivated, nil
		},
		"not a carrier": func(context.Context, string) (domain.User, error) {
			return domain.User{ID: "usr_cust", Role: domain.RoleCustomer, State: domain.AccountActive}, nil
		},
	}

	for name, findFn := range cases {
		t.Run(name, func(t *testing.T) {
			svc := newTestShipmentService(t, ShipmentServiceDeps{
				Orders: &stubOrderRepo{
					findFn: func(context.Context, string) (domain.Order, error) {
						return shippableOrder(), nil
					},
				},
				Users: &stubUserRepo{findFn: findFn},
			})
			if _, err := svc.CreateShipment(ctx, CreateShipmentCommand{
				OrderID:        "ord_1",
				CarrierID:      "usr_x",
				TrackingNumber: "TRK-102",
			}); !errors.Is(err, ErrShipmentCarrierNotFound) {
				t.Fatalf("expected ErrShipmentCarrierNotFound, got %v", err)
			}
		})
	}
}

func TestShipmentServiceCreateUnknownOrder(t *testing.T) {
	ctx := context.Background()
	svc := newTestShipmentService(t, ShipmentServiceDeps{
		Orders: &stubOrderRepo{
			findFn: func(context.Context, string) (domain.Order, error) {
				return domain.Order{}, stubRepoError{notFound: true}
			},
		},
	})

	if _, err := svc.CreateShipment(ctx, CreateShipmentCommand{
		OrderID:        "ord_missing",
		CarrierID:      "usr_carrier",
		TrackingNumber: "TRK-103",
	}); !errors.Is(err, ErrShipmentOrderNotFound) {
		t.Fatalf("expected ErrShipmentOrderNotFound, got %v", err)
	}
}

func TestShipmentServiceCreateUnpaidPolicy(t *testing.T) {
	ctx := context.Background()
	order := shippableOrder()
	order.OrderStatus = domain.OrderStatusPending
	order.PaymentStatus = domain.PaymentStatusPending

	svc := newTestShipmentService(t, ShipmentServiceDeps{
		Orders: &stubOrderRepo{
			findFn: func(context.Context, string) (domain.Order, error) {
				return order, nil
			},
		},
		RequirePaidShipments: true,
	})

	if _, err := svc.CreateShipment(ctx, CreateShipmentCommand{
		OrderID:        "ord_1",
		CarrierID:      "usr_carrier",
		TrackingNumber: "TRK-104",
	}); !errors.Is(err, ErrShipmentUnpaidOrder) {
		t.Fatalf("expected ErrShipmentUnpaidOrder, got %v", err)
	}
}

func TestShipmentServiceCreateUnpaidAllowedByDefault(t *testing.T) {
	ctx := context.Background()
	order := shippableOrder()
	order.OrderStatus = domain.OrderStatusPending
	order.PaymentStatus = domain.PaymentStatusPending

	var updatedOrder domain.Order

	svc := newTestShipmentService(t, ShipmentServiceDeps{
		Orders: &stubOrderRepo{
			findFn: func(context.Context, string) (domain.Order, error) {
				return order, nil
			},
			updateFn: func(_ context.Context, o domain.Order) error {
				updatedOrder = o
				return nil
			},
		},
		Users: &stubUserRepo{
			findFn: func(_ context.Context, id string) (domain.User, error) {
				return activeCarrier(id, "north"), nil
			},
		},
	})

	if _, err := svc.CreateShipment(ctx, CreateShipmentCommand{
		OrderID:        "ord_1",
		CarrierID:      "usr_carrier",
		TrackingNumber: "TRK-105",
	}); err != nil {
		t.Fatalf("ship-before-payment must pass with the policy off: %v", err)
	}
	if updatedOrder.OrderStatus != domain.OrderStatusShipped {
		t.Fatalf("expected pending order shipped, got %q", updatedOrder.OrderStatus)
	}
}

func TestShipmentServiceCreateDuplicateTracking(t *testing.T) {
	ctx := context.Background()
	svc := newTestShipmentService(t, ShipmentServiceDeps{
		Orders: &stubOrderRepo{
			findFn: func(context.Context, string) (domain.Order, error) {
				return shippableOrder(), nil
			},
		},
		Shipments: &stubShipmentRepo{
			findByTrackingFn: func(context.Context, string) (domain.Shipment, error) {
				return domain.Shipment{ID: "shp_existing", TrackingNumber: "TRK-106"}, nil
			},
		},
	})

	if _, err := svc.CreateShipment(ctx, CreateShipmentCommand{
		OrderID:        "ord_1",
		CarrierID:      "usr_carrier",
		TrackingNumber: "TRK-106",
	}); !errors.Is(err, ErrShipmentConflict) {
		t.Fatalf("expected ErrShipmentConflict, got %v", err)
	}
}

func TestShipmentServiceAutoAssignPrefersZone(t *testing.T) {
	ctx := context.Background()
	var assignedCarrier string

	svc := newTestShipmentService(t, ShipmentServiceDeps{
		Orders: &stubOrderRepo{
			findFn: func(context.Context, string) (domain.Order, error) {
				return shippableOrder(), nil
			},
		},
		Users: &stubUserRepo{
			listFn: func(_ context.Context, filter repositories.UserListFilter) (domain.CursorPage[domain.User], error) {
				if !filter.AvailableOnly {
					t.Fatal("expected available-only carrier listing")
				}
				return domain.CursorPage[domain.User]{Items: []domain.User{
					activeCarrier("usr_south", "south"),
					activeCarrier("usr_north", "north"),
				}}, nil
			},
			assignFn: func(_ context.Context, carrierID string, _ domain.ShipmentAssignment) (domain.User, error) {
				assignedCarrier = carrierID
				return activeCarrier(carrierID, "north"), nil
			},
		},
	})

	shipment, err := svc.CreateShipment(ctx, CreateShipmentCommand{
		OrderID:         "ord_1",
		TrackingNumber:  "TRK-107",
		AutoAssign:      true,
		DestinationZone: "north",
	})
	if err != nil {
		t.Fatalf("auto-assign create: %v", err)
	}
	if assignedCarrier != "usr_north" || shipment.CarrierID != "usr_north" {
		t.Fatalf("expected zone-matching carrier, got %q", assignedCarrier)
	}
}

func TestShipmentServiceAutoAssignNoCarrier(t *testing.T) {
	ctx := context.Background()
	svc := newTestShipmentService(t, ShipmentServiceDeps{
		Orders: &stubOrderRepo{
			findFn: func(context.Context, string) (domain.Order, error) {
				return shippableOrder(), nil
			},
		},
		Users: &stubUserRepo{
			listFn: func(context.Context, repositories.UserListFilter) (domain.CursorPage[domain.User], error) {
				return domain.CursorPage[domain.User]{}, nil
			},
		},
	})

	if _, err := svc.CreateShipment(ctx, CreateShipmentCommand{
		OrderID:        "ord_1",
		TrackingNumber: "TRK-108",
		AutoAssign:     true,
	}); !errors.Is(err, ErrCarrierUnavailable) {
		t.Fatalf("expected ErrCarrierUnavailable, got %v", err)
	}
}

func TestShipmentServiceUpdateStatus(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 5, 12, 16, 0, 0, 0, time.UTC)

	newShipment := func(status domain.ShipmentStatus) domain.Shipment {
		return domain.Shipment{
			ID:             "shp_1",
			TrackingNumber: "TRK-100",
			OrderID:        "ord_1",
			OrderNumber:    "ORD-2026-000001",
			CarrierID:      "usr_carrier",
			Status:         status,
		}
	}

	t.Run("processing to in_transit stamps date shipped", func(t *testing.T) {
		var updated domain.Shipment
		svc := newTestShipmentService(t, ShipmentServiceDeps{
			Shipments: &stubShipmentRepo{
				findFn: func(context.Context, string) (domain.Shipment, error) {
					return newShipment(domain.ShipmentStatusProcessing), nil
				},
				updateFn: func(_ context.Context, s domain.Shipment) error {
					updated = s
					return nil
				},
			},
			Clock: func() time.Time { return now },
		})

		shipment, err := svc.UpdateShipmentStatus(ctx, UpdateShipmentStatusCommand{
			ShipmentID:   "shp_1",
			TargetStatus: domain.ShipmentStatusInTransit,
		})
		if err != nil {
			t.Fatalf("update: %v", err)
		}
		if shipment.Status != domain.ShipmentStatusInTransit {
			t.Fatalf("unexpected status %q", shipment.Status)
		}
		if updated.DateShipped == nil || !updated.DateShipped.Equal(now) {
			t.Fatalf("expected date shipped %v, got %v", now, updated.DateShipped)
		}
	})

	t.Run("delivered reconciles the order and frees the carrier", func(t *testing.T) {
		var cleared, updatedOrderID string
		var updatedOrder domain.Order
		events := &captureEvents{}

		order := shippableOrder()
		order.OrderStatus = domain.OrderStatusShipped

		svc := newTestShipmentService(t, ShipmentServiceDeps{
			Orders: &stubOrderRepo{
				findFn: func(_ context.Context, id string) (domain.Order, error) {
					updatedOrderID = id
					return order, nil
				},
				updateFn: func(_ context.Context, o domain.Order) error {
					updatedOrder = o
					return nil
				},
			},
			Shipments: &stubShipmentRepo{
				findFn: func(context.Context, string) (domain.Shipment, error) {
					return newShipment(domain.ShipmentStatusInTransit), nil
				},
			},
			Users: &stubUserRepo{
				clearFn: func(_ context.Context, carrierID, shipmentID string, _ time.Time) (domain.User, error) {
					cleared = carrierID + "/" + shipmentID
					return domain.User{}, nil
				},
			},
			Clock:  func() time.Time { return now },
			Events: events,
		})

		shipment, err := svc.UpdateShipmentStatus(ctx, UpdateShipmentStatusCommand{
			ShipmentID:   "shp_1",
			TargetStatus: domain.ShipmentStatusDelivered,
		})
		if err != nil {
			t.Fatalf("update: %v", err)
		}
		if shipment.DateDelivered == nil || !shipment.DateDelivered.Equal(now) {
			t.Fatalf("expected date delivered %v, got %v", now, shipment.DateDelivered)
		}
		if cleared != "usr_carrier/shp_1" {
			t.Fatalf("expected assignment cleared, got %q", cleared)
		}
		if updatedOrderID != "ord_1" || updatedOrder.OrderStatus != domain.OrderStatusDelivered {
			t.Fatalf("expected order delivered, got %q", updatedOrder.OrderStatus)
		}
		if changed := events.ofType("order.status.changed"); len(changed) != 1 {
			t.Fatalf("expected one reconciliation event, got %v", events.events)
		}
		if changed := events.ofType("shipment.status.changed"); len(changed) != 1 {
			t.Fatalf("expected shipment.status.changed event, got %v", events.events)
		}
	})

	t.Run("failed leaves the order untouched", func(t *testing.T) {
		orderUpdates := 0
		svc := newTestShipmentService(t, ShipmentServiceDeps{
			Orders: &stubOrderRepo{
				updateFn: func(context.Context, domain.Order) error {
					orderUpdates++
					return nil
				},
			},
			Shipments: &stubShipmentRepo{
				findFn: func(context.Context, string) (domain.Shipment, error) {
					return newShipment(domain.ShipmentStatusInTransit), nil
				},
			},
		})

		if _, err := svc.UpdateShipmentStatus(ctx, UpdateShipmentStatusCommand{
			ShipmentID:   "shp_1",
			TargetStatus: domain.ShipmentStatusFailed,
		}); err != nil {
			t.Fatalf("update: %v", err)
		}
		if orderUpdates != 0 {
			t.Fatalf("failed shipment must not touch the order, got %d updates", orderUpdates)
		}
	})

	t.Run("same status is an idempotent no-op", func(t *testing.T) {
		updates := 0
		svc := newTestShipmentService(t, ShipmentServiceDeps{
			Shipments: &stubShipmentRepo{
				findFn: func(context.Context, string) (domain.Shipment, error) {
					return newShipment(domain.ShipmentStatusInTransit), nil
				},
				updateFn: func(context.Context, domain.Shipment) error {
					updates++
					return nil
				},
			},
		})

		if _, err := svc.UpdateShipmentStatus(ctx, UpdateShipmentStatusCommand{
			ShipmentID:   "shp_1",
			TargetStatus: domain.ShipmentStatusInTransit,
		}); err != nil {
			t.Fatalf("update: %v", err)
		}
		if updates != 0 {
			t.Fatalf("expected no update, got %d", updates)
		}
	})

	t.Run("terminal shipment rejects further transitions", func(t *testing.T) {
		svc := newTestShipmentService(t, ShipmentServiceDeps{
			Shipments: &stubShipmentRepo{
				findFn: func(context.Context, string) (domain.Shipment, error) {
					return newShipment(domain.ShipmentStatusDelivered), nil
				},
			},
		})

		if _, err := svc.UpdateShipmentStatus(ctx, UpdateShipmentStatusCommand{
			ShipmentID:   "shp_1",
			TargetStatus: domain.ShipmentStatusInTransit,
		}); !errors.Is(err, ErrShipmentInvalidState) {
			t.Fatalf("expected ErrShipmentInvalidState, got %v", err)
		}
	})
}
