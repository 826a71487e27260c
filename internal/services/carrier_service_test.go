package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/henokworkuliyew/ai-powered-e-commerce-system-sub001/internal/domain"
	"github.com/henokworkuliyew/ai-powered-e-commerce-system-sub001/internal/repositories"
)

func newTestCarrierService(t *testing.T, deps CarrierServiceDeps) CarrierService {
	t.Helper()
	if deps.Users == nil {
		deps.Users = &stubUserRepo{}
	}
	if deps.Shipments == nil {
		deps.Shipments = &stubShipmentRepo{}
	}
	if deps.Clock == nil {
		deps.Clock = func() time.Time {
			return time.Date(2026, 6, 1, 11, 0, 0, 0, time.UTC)
		}
	}
	if deps.IDGenerator == nil {
		deps.IDGenerator = func() string { return "000TEST" }
	}
	svc, err := NewCarrierService(deps)
	if err != nil {
		t.Fatalf("new carrier service: %v", err)
	}
	return svc
}

func TestCarrierServiceRegister(t *testing.T) {
	ctx := context.Background()
	var inserted domain.User

	svc := newTestCarrierService(t, CarrierServiceDeps{
		Users: &stubUserRepo{
			insertFn: func(_ context.Context, user domain.User) error {
				inserted = user
				return nil
			},
		},
	})

	carrier, err := svc.RegisterCarrier(ctx, RegisterCarrierCommand{
		Email:     "Driver@Example.com",
		FirstName: "Abel",
		LastName:  "Tesfaye",
		Zone:      "north",
		Vehicle:   "van",
		ActorID:   "adm-1",
	})
	if err != nil {
		t.Fatalf("register carrier: %v", err)
	}

	if carrier.ID != "usr_000TEST" {
		t.Fatalf("unexpected id %q", carrier.ID)
	}
	if carrier.Email != "driver@example.com" {
		t.Fatalf("expected lowercased email, got %q", carrier.Email)
	}
	if carrier.Role != domain.RoleCarrier || carrier.State != domain.AccountActive {
		t.Fatalf("unexpected role/state %q/%q", carrier.Role, carrier.State)
	}
	if carrier.Carrier == nil || carrier.Carrier.Zone != "north" {
		t.Fatalf("expected carrier profile with zone, got %+v", carrier.Carrier)
	}
	if carrier.Carrier.CurrentShipment != nil {
		t.Fatal("new carrier must not hold a shipment")
	}
	if inserted.ID != carrier.ID {
		t.Fatal("expected user inserted")
	}
}

func TestCarrierServiceRegisterValidation(t *testing.T) {
	ctx := context.Background()
	svc := newTestCarrierService(t, CarrierServiceDeps{})

	if _, err := svc.RegisterCarrier(ctx, RegisterCarrierCommand{Email: "not-an-email", Zone: "north"}); !errors.Is(err, ErrCarrierInvalidInput) {
		t.Fatalf("expected ErrCarrierInvalidInput for bad email, got %v", err)
	}
	if _, err := svc.RegisterCarrier(ctx, RegisterCarrierCommand{Email: "a@b.com"}); !errors.Is(err, ErrCarrierInvalidInput) {
		t.Fatalf("expected ErrCarrierInvalidInput for missing zone, got %v", err)
	}
}

func TestCarrierServiceRegisterDuplicateEmail(t *testing.T) {
	ctx := context.Background()
	svc := newTestCarrierService(t, CarrierServiceDeps{
		Users: &stubUserRepo{
			findEmailFn: func(context.Context, string) (domain.User, error) {
				return activeCarrier("usr_existing", "north"), nil
			},
		},
	})

	if _, err := svc.RegisterCarrier(ctx, RegisterCarrierCommand{
		Email: "driver@example.com",
		Zone:  "north",
	}); !errors.Is(err, ErrCarrierConflict) {
		t.Fatalf("expected ErrCarrierConflict, got %v", err)
	}
}

func TestCarrierServiceDeleteBusy(t *testing.T) {
	ctx := context.Background()
	deactivations, purges := 0, 0

	busy := activeCarrier("usr_busy", "north")
	busy.Carrier.CurrentShipment = &domain.ShipmentAssignment{ShipmentID: "shp_active"}

	svc := newTestCarrierService(t, CarrierServiceDeps{
		Users: &stubUserRepo{
			findFn: func(context.Context, string) (domain.User, error) {
				return busy, nil
			},
			deactivateFn: func(context.Context, string, time.Time) (domain.User, error) {
				deactivations++
				return domain.User{}, nil
			},
			purgeFn: func(context.Context, string) error {
				purges++
				return nil
			},
		},
	})

	if _, err := svc.DeleteCarrier(ctx, DeleteCarrierCommand{CarrierID: "usr_busy"}); !errors.Is(err, ErrCarrierBusy) {
		t.Fatalf("expected ErrCarrierBusy, got %v", err)
	}
	if deactivations != 0 || purges != 0 {
		t.Fatalf("busy carrier must stay untouched, got %d deactivations and %d purges", deactivations, purges)
	}
}

func TestCarrierServiceDeleteWithHistory(t *testing.T) {
	ctx := context.Background()
	var deactivatedID string

	svc := newTestCarrierService(t, CarrierServiceDeps{
		Users: &stubUserRepo{
			findFn: func(_ context.Context, id string) (domain.User, error) {
				return activeCarrier(id, "north"), nil
			},
			deactivateFn: func(_ context.Context, id string, _ time.Time) (domain.User, error) {
				deactivatedID = id
				return domain.User{ID: id, State: domain.AccountDeactivated}, nil
			},
		},
		Shipments: &stubShipmentRepo{
			countFn: func(context.Context, string) (int64, error) {
				return 7, nil
			},
		},
	})

	result, err := svc.DeleteCarrier(ctx, DeleteCarrierCommand{CarrierID: "usr_vet"})
	if err != nil {
		t.Fatalf("delete carrier: %v", err)
	}
	if result.Outcome != CarrierDeactivated {
		t.Fatalf("expected deactivated outcome, got %q", result.Outcome)
	}
	if deactivatedID != "usr_vet" {
		t.Fatalf("expected deactivation of usr_vet, got %q", deactivatedID)
	}
}

func TestCarrierServiceDeleteWithoutHistory(t *testing.T) {
	ctx := context.Background()
	var purgedID string

	svc := newTestCarrierService(t, CarrierServiceDeps{
		Users: &stubUserRepo{
			findFn: func(_ context.Context, id string) (domain.User, error) {
				return activeCarrier(id, "north"), nil
			},
			purgeFn: func(_ context.Context, id string) error {
				purgedID = id
				return nil
			},
		},
		Shipments: &stubShipmentRepo{
			countFn: func(context.Context, string) (int64, error) {
				return 0, nil
			},
		},
	})

	result, err := svc.DeleteCarrier(ctx, DeleteCarrierCommand{CarrierID: "usr_new"})
	if err != nil {
		t.Fatalf("delete carrier: %v", err)
	}
	if result.Outcome != CarrierPurged {
		t.Fatalf("expected purged outcome, got %q", result.Outcome)
	}
	if purgedID != "usr_new" {
		t.Fatalf("expected purge of usr_new, got %q", purgedID)
	}
}

func TestCarrierServiceDeleteNotFound(t *testing.T) {
	ctx := context.Background()
	svc := newTestCarrierService(t, CarrierServiceDeps{
		Users: &stubUserRepo{
			findFn: func(context.Context, string) (domain.User, error) {
				return domain.User{}, stubRepoError{notFound: true}
			},
		},
	})

	if _, err := svc.DeleteCarrier(ctx, DeleteCarrierCommand{CarrierID: "usr_missing"}); !errors.Is(err, ErrCarrierNotFound) {
		t.Fatalf("expected ErrCarrierNotFound, got %v", err)
	}

	// A customer account is not part of the carrier directory.
	svc = newTestCarrierService(t, CarrierServiceDeps{
		Users: &stubUserRepo{
			findFn: func(context.Context, string) (domain.User, error) {
				return domain.User{ID: "usr_cust", Role: domain.RoleCustomer}, nil
			},
		},
	})
	if _, err := svc.DeleteCarrier(ctx, DeleteCarrierCommand{CarrierID: "usr_cust"}); !errors.Is(err, ErrCarrierNotFound) {
		t.Fatalf("expected ErrCarrierNotFound for non-carrier, got %v", err)
	}
}

func TestCarrierServiceListCarriers(t *testing.T) {
	ctx := context.Background()
	var captured repositories.UserListFilter

	svc := newTestCarrierService(t, CarrierServiceDeps{
		Users: &stubUserRepo{
			listFn: func(_ context.Context, filter repositories.UserListFilter) (domain.CursorPage[domain.User], error) {
				captured = filter
				return domain.CursorPage[domain.User]{Items: []domain.User{activeCarrier("usr_1", "north")}}, nil
			},
		},
	})

	page, err := svc.ListCarriers(ctx, CarrierListFilter{AvailableOnly: true})
	if err != nil {
		t.Fatalf("list carriers: %v", err)
	}
	if len(page.Items) != 1 {
		t.Fatalf("unexpected page %v", page.Items)
	}
	if len(captured.Roles) != 1 || captured.Roles[0] != "carrier" {
		t.Fatalf("expected carrier role filter, got %v", captured.Roles)
	}
	if !captured.AvailableOnly {
		t.Fatal("expected available-only filter to pass through")
	}
	if len(captured.States) != 1 || captured.States[0] != "active" {
		t.Fatalf("expected active state filter, got %v", captured.States)
	}
}
