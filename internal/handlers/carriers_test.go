package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	domain "github.com/henokworkuliyew/ai-powered-e-commerce-system-sub001/internal/domain"
	"github.com/henokworkuliyew/ai-powered-e-commerce-system-sub001/internal/platform/auth"
	"github.com/henokworkuliyew/ai-powered-e-commerce-system-sub001/internal/services"
)

type stubCarrierService struct {
	registerFn func(context.Context, services.RegisterCarrierCommand) (services.User, error)
	getFn      func(context.Context, string) (services.User, error)
	listFn     func(context.Context, services.CarrierListFilter) (domain.CursorPage[services.User], error)
	deleteFn   func(context.Context, services.DeleteCarrierCommand) (services.CarrierDeletion, error)
}

func (s *stubCarrierService) RegisterCarrier(ctx context.Context, cmd services.RegisterCarrierCommand) (services.User, error) {
	if s.registerFn != nil {
		return s.registerFn(ctx, cmd)
	}
	return services.User{}, errors.New("not implemented")
}

func (s *stubCarrierService) GetCarrier(ctx context.Context, carrierID string) (services.User, error) {
	if s.getFn != nil {
		return s.getFn(ctx, carrierID)
	}
	return services.User{}, errors.New("not implemented")
}

func (s *stubCarrierService) ListCarriers(ctx context.Context, filter services.CarrierListFilter) (domain.CursorPage[services.User], error) {
	if s.listFn != nil {
		return s.listFn(ctx, filter)
	}
	return domain.CursorPage[services.User]{}, nil
}

func (s *stubCarrierService) DeleteCarrier(ctx context.Context, cmd services.DeleteCarrierCommand) (services.CarrierDeletion, error) {
	if s.deleteFn != nil {
		return s.deleteFn(ctx, cmd)
	}
	return services.CarrierDeletion{}, errors.New("not implemented")
}

func newCarrierRouter(svc services.CarrierService) chi.Router {
	handler := NewCarrierHandlers(nil, svc)
	router := chi.NewRouter()
	router.Route("/carriers", handler.Routes)
	return router
}

func TestCarrierHandlersRegisterSuccess(t *testing.T) {
	var captured services.RegisterCarrierCommand
	service := &stubCarrierService{
		registerFn: func(_ context.Context, cmd services.RegisterCarrierCommand) (services.User, error) {
			captured = cmd
			return services.User{
				ID:    "usr_new",
				Email: "driver@example.com",
				Role:  domain.RoleCarrier,
				State: domain.AccountActive,
				Carrier: &domain.CarrierProfile{
					Zone:    cmd.Zone,
					Vehicle: cmd.Vehicle,
				},
			}, nil
		},
	}
	router := newCarrierRouter(service)

	body := `{"email": "driver@example.com", "first_name": "Abel", "last_name": "Tesfaye", "zone": "north", "vehicle": "van"}`
	req := httptest.NewRequest(http.MethodPost, "/carriers", bytes.NewBufferString(body))
	req = authedRequest(req, &auth.Identity{UID: "usr_mgr", Role: auth.RoleManager})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.Email != "driver@example.com" || captured.Zone != "north" {
		t.Fatalf("unexpected command %#v", captured)
	}
	if captured.ActorID != "usr_mgr" {
		t.Fatalf("unexpected actor %q", captured.ActorID)
	}

	var resp carrierResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if resp.Carrier.ID != "usr_new" || resp.Carrier.Zone != "north" {
		t.Fatalf("unexpected payload %#v", resp.Carrier)
	}
	if resp.Carrier.Role != string(domain.RoleCarrier) || resp.Carrier.State != string(domain.AccountActive) {
		t.Fatalf("unexpected role/state %q/%q", resp.Carrier.Role, resp.Carrier.State)
	}
}

func TestCarrierHandlersRegisterDuplicate(t *testing.T) {
	service := &stubCarrierService{
		registerFn: func(context.Context, services.RegisterCarrierCommand) (services.User, error) {
			return services.User{}, services.ErrCarrierConflict
		},
	}
	router := newCarrierRouter(service)

	req := httptest.NewRequest(http.MethodPost, "/carriers", bytes.NewBufferString(`{"email": "driver@example.com", "zone": "north"}`))
	req = authedRequest(req, &auth.Identity{UID: "usr_mgr", Role: auth.RoleManager})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d", rr.Code)
	}
}

func TestCarrierHandlersListAvailable(t *testing.T) {
	var captured services.CarrierListFilter
	service := &stubCarrierService{
		listFn: func(_ context.Context, filter services.CarrierListFilter) (domain.CursorPage[services.User], error) {
			captured = filter
			return domain.CursorPage[services.User]{
				Items: []services.User{
					{
						ID:      "usr_1",
						Email:   "a@example.com",
						Role:    domain.RoleCarrier,
						State:   domain.AccountActive,
						Carrier: &domain.CarrierProfile{Zone: "north"},
					},
				},
			}, nil
		},
	}
	router := newCarrierRouter(service)

	req := httptest.NewRequest(http.MethodGet, "/carriers?available=true&page_size=5", nil)
	req = authedRequest(req, &auth.Identity{UID: "usr_mgr", Role: auth.RoleManager})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if !captured.AvailableOnly {
		t.Fatal("expected available-only filter")
	}
	if captured.Pagination.PageSize != 5 {
		t.Fatalf("expected page size 5, got %d", captured.Pagination.PageSize)
	}

	var resp carrierListResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if len(resp.Items) != 1 || resp.Items[0].Zone != "north" {
		t.Fatalf("unexpected items %#v", resp.Items)
	}
}

func TestCarrierHandlersListInvalidAvailable(t *testing.T) {
	router := newCarrierRouter(&stubCarrierService{})

	req := httptest.NewRequest(http.MethodGet, "/carriers?available=definitely", nil)
	req = authedRequest(req, &auth.Identity{UID: "usr_mgr", Role: auth.RoleManager})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
}

func TestCarrierHandlersGetNotFound(t *testing.T) {
	service := &stubCarrierService{
		getFn: func(context.Context, string) (services.User, error) {
			return services.User{}, services.ErrCarrierNotFound
		},
	}
	router := newCarrierRouter(service)

	req := httptest.NewRequest(http.MethodGet, "/carriers/usr_missing", nil)
	req = authedRequest(req, &auth.Identity{UID: "usr_mgr", Role: auth.RoleManager})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rr.Code)
	}
}

func TestCarrierHandlersDeleteOutcomes(t *testing.T) {
	cases := []struct {
		name    string
		outcome services.CarrierDeletionOutcome
	}{
		{name: "deactivated", outcome: services.CarrierDeactivated},
		{name: "purged", outcome: services.CarrierPurged},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			service := &stubCarrierService{
				deleteFn: func(_ context.Context, cmd services.DeleteCarrierCommand) (services.CarrierDeletion, error) {
					return services.CarrierDeletion{CarrierID: cmd.CarrierID, Outcome: tc.outcome}, nil
				},
			}
			router := newCarrierRouter(service)

			req := httptest.NewRequest(http.MethodDelete, "/carriers/usr_1", nil)
			req = authedRequest(req, &auth.Identity{UID: "usr_mgr", Role: auth.RoleManager})

			rr := httptest.NewRecorder()
			router.ServeHTTP(rr, req)

			if rr.Code != http.StatusOK {
				t.Fatalf("expected status 200, got %d", rr.Code)
			}

			var resp carrierDeletionPayload
			if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
				t.Fatalf("failed to parse response: %v", err)
			}
			if resp.CarrierID != "usr_1" || resp.Outcome != string(tc.outcome) {
				t.Fatalf("unexpected payload %#v", resp)
			}
		})
	}
}

func TestCarrierHandlersDeleteBusy(t *testing.T) {
	service := &stubCarrierService{
		deleteFn: func(context.Context, services.DeleteCarrierCommand) (services.CarrierDeletion, error) {
			return services.CarrierDeletion{}, services.ErrCarrierBusy
		},
	}
	router := newCarrierRouter(service)

	req := httptest.NewRequest(http.MethodDelete, "/carriers/usr_busy", nil)
	req = authedRequest(req, &auth.Identity{UID: "usr_mgr", Role: auth.RoleManager})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
}
