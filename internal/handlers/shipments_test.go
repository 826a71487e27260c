package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/henokworkuliyew/ai-powered-e-commerce-system-sub001/internal/domain"
	"github.com/henokworkuliyew/ai-powered-e-commerce-system-sub001/internal/platform/auth"
	"github.com/henokworkuliyew/ai-powered-e-commerce-system-sub001/internal/services"
)

type stubShipmentService struct {
	createFn      func(context.Context, services.CreateShipmentCommand) (services.Shipment, error)
	getFn         func(context.Context, string) (services.Shipment, error)
	listFn        func(context.Context, services.ShipmentListFilter) (domain.CursorPage[services.Shipment], error)
	listByOrderFn func(context.Context, string) ([]services.Shipment, error)
	updateFn      func(context.Context, services.UpdateShipmentStatusCommand) (services.Shipment, error)
}

func (s *stubShipmentService) CreateShipment(ctx context.Context, cmd services.CreateShipmentCommand) (services.Shipment, error) {
	if s.createFn != nil {
		return s.createFn(ctx, cmd)
	}
	return services.Shipment{}, errors.New("not implemented")
}

func (s *stubShipmentService) GetShipment(ctx context.Context, shipmentID string) (services.Shipment, error) {
	if s.getFn != nil {
		return s.getFn(ctx, shipmentID)
	}
	return services.Shipment{}, errors.New("not implemented")
}

func (s *stubShipmentService) ListShipments(ctx context.Context, filter services.ShipmentListFilter) (domain.CursorPage[services.Shipment], error) {
	if s.listFn != nil {
		return s.listFn(ctx, filter)
	}
	return domain.CursorPage[services.Shipment]{}, nil
}

func (s *stubShipmentService) ListByOrder(ctx context.Context, orderID string) ([]services.Shipment, error) {
	if s.listByOrderFn != nil {
		return s.listByOrderFn(ctx, orderID)
	}
	return nil, errors.New("not implemented")
}

func (s *stubShipmentService) UpdateShipmentStatus(ctx context.Context, cmd services.UpdateShipmentStatusCommand) (services.Shipment, error) {
	if s.updateFn != nil {
		return s.updateFn(ctx, cmd)
	}
	return services.Shipment{}, errors.New("not implemented")
}

func newShipmentRouter(svc services.ShipmentService) chi.Router {
	handler := NewShipmentHandlers(nil, svc)
	router := chi.NewRouter()
	router.Route("/shipments", handler.Routes)
	router.Route("/orders", handler.OrderRoutes)
	return router
}

func TestShipmentHandlersCreateSuccess(t *testing.T) {
	estimated := time.Date(2026, 4, 10, 0, 0, 0, 0, time.UTC)

	var captured services.CreateShipmentCommand
	service := &stubShipmentService{
		createFn: func(_ context.Context, cmd services.CreateShipmentCommand) (services.Shipment, error) {
			captured = cmd
			return services.Shipment{
				ID:             "shp_1",
				TrackingNumber: cmd.TrackingNumber,
				OrderID:        cmd.OrderID,
				CarrierID:      cmd.CarrierID,
				Status:         domain.ShipmentStatusProcessing,
			}, nil
		},
	}
	router := newShipmentRouter(service)

	body := `{
		"order_id": "ord_1",
		"carrier_id": "usr_carrier",
		"tracking_number": "TRK-100",
		"destination_zone": "north",
		"estimated_delivery": "2026-04-10T00:00:00Z"
	}`
	req := httptest.NewRequest(http.MethodPost, "/shipments", bytes.NewBufferString(body))
	req = authedRequest(req, &auth.Identity{UID: "usr_mgr", Role: auth.RoleManager})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.OrderID != "ord_1" || captured.CarrierID != "usr_carrier" || captured.TrackingNumber != "TRK-100" {
		t.Fatalf("unexpected command %#v", captured)
	}
	if captured.EstimatedDelivery == nil || !captured.EstimatedDelivery.Equal(estimated) {
		t.Fatalf("expected estimated delivery forwarded, got %#v", captured.EstimatedDelivery)
	}
	if captured.ActorID != "usr_mgr" {
		t.Fatalf("unexpected actor %q", captured.ActorID)
	}

	var resp shipmentResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if resp.Shipment.ID != "shp_1" || resp.Shipment.Status != string(domain.ShipmentStatusProcessing) {
		t.Fatalf("unexpected payload %#v", resp.Shipment)
	}
}

func TestShipmentHandlersCreateAutoAssign(t *testing.T) {
	var captured services.CreateShipmentCommand
	service := &stubShipmentService{
		createFn: func(_ context.Context, cmd services.CreateShipmentCommand) (services.Shipment, error) {
			captured = cmd
			return services.Shipment{ID: "shp_1", CarrierID: "usr_auto"}, nil
		},
	}
	router := newShipmentRouter(service)

	body := `{"order_id": "ord_1", "tracking_number": "TRK-100", "auto_assign": true, "destination_zone": "north"}`
	req := httptest.NewRequest(http.MethodPost, "/shipments", bytes.NewBufferString(body))
	req = authedRequest(req, &auth.Identity{UID: "usr_mgr", Role: auth.RoleManager})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d", rr.Code)
	}
	if !captured.AutoAssign || captured.DestinationZone != "north" {
		t.Fatalf("expected auto-assign command, got %#v", captured)
	}
}

func TestShipmentHandlersCreateErrorMapping(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
	}{
		{name: "unknown order", err: services.ErrShipmentOrderNotFound, status: http.StatusNotFound},
		{name: "unknown carrier", err: services.ErrShipmentCarrierNotFound, status: http.StatusNotFound},
		{name: "busy carrier", err: services.ErrCarrierUnavailable, status: http.StatusConflict},
		{name: "unpaid order", err: services.ErrShipmentUnpaidOrder, status: http.StatusConflict},
		{name: "duplicate tracking", err: services.ErrShipmentConflict, status: http.StatusConflict},
		{name: "invalid input", err: services.ErrShipmentInvalidInput, status: http.StatusBadRequest},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			service := &stubShipmentService{
				createFn: func(context.Context, services.CreateShipmentCommand) (services.Shipment, error) {
					return services.Shipment{}, tc.err
				},
			}
			router := newShipmentRouter(service)

			req := httptest.NewRequest(http.MethodPost, "/shipments", bytes.NewBufferString(`{"order_id": "ord_1", "tracking_number": "TRK-100", "carrier_id": "usr_c"}`))
			req = authedRequest(req, &auth.Identity{UID: "usr_mgr", Role: auth.RoleManager})

			rr := httptest.NewRecorder()
			router.ServeHTTP(rr, req)

			if rr.Code != tc.status {
				t.Fatalf("expected status %d, got %d", tc.status, rr.Code)
			}
		})
	}
}

func TestShipmentHandlersListScopesCarrier(t *testing.T) {
	var captured services.ShipmentListFilter
	service := &stubShipmentService{
		listFn: func(_ context.Context, filter services.ShipmentListFilter) (domain.CursorPage[services.Shipment], error) {
			captured = filter
			return domain.CursorPage[services.Shipment]{
				Items: []services.Shipment{{ID: "shp_1", CarrierID: "usr_carrier"}},
			}, nil
		},
	}
	router := newShipmentRouter(service)

	req := httptest.NewRequest(http.MethodGet, "/shipments?carrier_id=usr_other&status=in_transit", nil)
	req = authedRequest(req, &auth.Identity{UID: "usr_carrier", Role: auth.RoleCarrier})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if captured.CarrierID != "usr_carrier" {
		t.Fatalf("carrier listing must be scoped to the caller, got %q", captured.CarrierID)
	}
	if len(captured.Status) != 1 || captured.Status[0] != "in_transit" {
		t.Fatalf("unexpected status filter %v", captured.Status)
	}
}

func TestShipmentHandlersListManagerFilters(t *testing.T) {
	var captured services.ShipmentListFilter
	service := &stubShipmentService{
		listFn: func(_ context.Context, filter services.ShipmentListFilter) (domain.CursorPage[services.Shipment], error) {
			captured = filter
			return domain.CursorPage[services.Shipment]{}, nil
		},
	}
	router := newShipmentRouter(service)

	req := httptest.NewRequest(http.MethodGet, "/shipments?carrier_id=usr_target&order_id=ord_9", nil)
	req = authedRequest(req, &auth.Identity{UID: "usr_mgr", Role: auth.RoleManager})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if captured.CarrierID != "usr_target" || captured.OrderID != "ord_9" {
		t.Fatalf("unexpected filter %#v", captured)
	}
}

func TestShipmentHandlersListTrackingNumberFilter(t *testing.T) {
	var captured services.ShipmentListFilter
	service := &stubShipmentService{
		listFn: func(_ context.Context, filter services.ShipmentListFilter) (domain.CursorPage[services.Shipment], error) {
			captured = filter
			return domain.CursorPage[services.Shipment]{}, nil
		},
	}
	router := newShipmentRouter(service)

	req := httptest.NewRequest(http.MethodGet, "/shipments?tracking_number=TRK-100", nil)
	req = authedRequest(req, &auth.Identity{UID: "usr_mgr", Role: auth.RoleManager})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if captured.TrackingNumber != "TRK-100" {
		t.Fatalf("expected tracking number filter, got %#v", captured)
	}
}

func TestShipmentHandlersGetHidesForeignShipmentFromCarrier(t *testing.T) {
	service := &stubShipmentService{
		getFn: func(context.Context, string) (services.Shipment, error) {
			return services.Shipment{ID: "shp_1", CarrierID: "usr_other"}, nil
		},
	}
	router := newShipmentRouter(service)

	req := httptest.NewRequest(http.MethodGet, "/shipments/shp_1", nil)
	req = authedRequest(req, &auth.Identity{UID: "usr_carrier", Role: auth.RoleCarrier})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rr.Code)
	}
}

func TestShipmentHandlersUpdateStatusByAssignedCarrier(t *testing.T) {
	var captured services.UpdateShipmentStatusCommand
	service := &stubShipmentService{
		getFn: func(context.Context, string) (services.Shipment, error) {
			return services.Shipment{ID: "shp_1", CarrierID: "usr_carrier", Status: domain.ShipmentStatusProcessing}, nil
		},
		updateFn: func(_ context.Context, cmd services.UpdateShipmentStatusCommand) (services.Shipment, error) {
			captured = cmd
			return services.Shipment{ID: cmd.ShipmentID, CarrierID: "usr_carrier", Status: cmd.TargetStatus}, nil
		},
	}
	router := newShipmentRouter(service)

	req := httptest.NewRequest(http.MethodPatch, "/shipments/shp_1", bytes.NewBufferString(`{"status": "in_transit"}`))
	req = authedRequest(req, &auth.Identity{UID: "usr_carrier", Role: auth.RoleCarrier})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.ShipmentID != "shp_1" || captured.TargetStatus != domain.ShipmentStatusInTransit {
		t.Fatalf("unexpected command %#v", captured)
	}
	if captured.ActorID != "usr_carrier" {
		t.Fatalf("unexpected actor %q", captured.ActorID)
	}
}

func TestShipmentHandlersUpdateStatusForeignCarrier(t *testing.T) {
	updates := 0
	service := &stubShipmentService{
		getFn: func(context.Context, string) (services.Shipment, error) {
			return services.Shipment{ID: "shp_1", CarrierID: "usr_other"}, nil
		},
		updateFn: func(_ context.Context, cmd services.UpdateShipmentStatusCommand) (services.Shipment, error) {
			updates++
			return services.Shipment{}, nil
		},
	}
	router := newShipmentRouter(service)

	req := httptest.NewRequest(http.MethodPatch, "/shipments/shp_1", bytes.NewBufferString(`{"status": "delivered"}`))
	req = authedRequest(req, &auth.Identity{UID: "usr_carrier", Role: auth.RoleCarrier})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rr.Code)
	}
	if updates != 0 {
		t.Fatalf("foreign shipment must not be updated, got %d updates", updates)
	}
}

func TestShipmentHandlersUpdateStatusManagerSkipsOwnershipCheck(t *testing.T) {
	service := &stubShipmentService{
		updateFn: func(_ context.Context, cmd services.UpdateShipmentStatusCommand) (services.Shipment, error) {
			return services.Shipment{ID: cmd.ShipmentID, Status: cmd.TargetStatus}, nil
		},
	}
	router := newShipmentRouter(service)

	req := httptest.NewRequest(http.MethodPatch, "/shipments/shp_1", bytes.NewBufferString(`{"status": "failed"}`))
	req = authedRequest(req, &auth.Identity{UID: "usr_mgr", Role: auth.RoleManager})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestShipmentHandlersUpdateStatusUnknown(t *testing.T) {
	router := newShipmentRouter(&stubShipmentService{})

	req := httptest.NewRequest(http.MethodPatch, "/shipments/shp_1", bytes.NewBufferString(`{"status": "lost"}`))
	req = authedRequest(req, &auth.Identity{UID: "usr_mgr", Role: auth.RoleManager})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
}

func TestShipmentHandlersUpdateStatusInvalidState(t *testing.T) {
	service := &stubShipmentService{
		updateFn: func(context.Context, services.UpdateShipmentStatusCommand) (services.Shipment, error) {
			return services.Shipment{}, services.ErrShipmentInvalidState
		},
	}
	router := newShipmentRouter(service)

	req := httptest.NewRequest(http.MethodPatch, "/shipments/shp_1", bytes.NewBufferString(`{"status": "processing"}`))
	req = authedRequest(req, &auth.Identity{UID: "usr_mgr", Role: auth.RoleManager})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d", rr.Code)
	}
}

func TestShipmentHandlersListOrderShipments(t *testing.T) {
	var capturedOrderID string
	service := &stubShipmentService{
		listByOrderFn: func(_ context.Context, orderID string) ([]services.Shipment, error) {
			capturedOrderID = orderID
			return []services.Shipment{
				{ID: "shp_1", OrderID: orderID, Status: domain.ShipmentStatusDelivered},
			}, nil
		},
	}
	router := newShipmentRouter(service)

	req := httptest.NewRequest(http.MethodGet, "/orders/ord_1/shipments", nil)
	req = authedRequest(req, &auth.Identity{UID: "usr_mgr", Role: auth.RoleManager})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if capturedOrderID != "ord_1" {
		t.Fatalf("expected order ord_1, got %q", capturedOrderID)
	}

	var resp shipmentListResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if len(resp.Items) != 1 || resp.Items[0].ID != "shp_1" {
		t.Fatalf("unexpected items %#v", resp.Items)
	}
}
