package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/henokworkuliyew/ai-powered-e-commerce-system-sub001/internal/domain"
	"github.com/henokworkuliyew/ai-powered-e-commerce-system-sub001/internal/platform/auth"
	"github.com/henokworkuliyew/ai-powered-e-commerce-system-sub001/internal/platform/httpx"
	"github.com/henokworkuliyew/ai-powered-e-commerce-system-sub001/internal/services"
)

const (
	defaultShipmentPageSize = 20
	maxShipmentPageSize     = 100
)

var validShipmentStatuses = map[domain.ShipmentStatus]struct{}{
	domain.ShipmentStatusProcessing: {},
	domain.ShipmentStatusInTransit:  {},
	domain.ShipmentStatusDelivered:  {},
	domain.ShipmentStatusFailed:     {},
	domain.ShipmentStatusReturned:   {},
}

type createShipmentRequest struct {
	OrderID           string `json:"order_id"`
	CarrierID         string `json:"carrier_id"`
	TrackingNumber    string `json:"tracking_number"`
	AutoAssign        bool   `json:"auto_assign"`
	DestinationZone   string `json:"destination_zone"`
	EstimatedDelivery string `json:"estimated_delivery"`
}

type updateShipmentStatusRequest struct {
	Status string `json:"status"`
}

// ShipmentHandlers exposes shipment management endpoints for managers and carriers.
type ShipmentHandlers struct {
	authn     *auth.Authenticator
	shipments services.ShipmentService
}

// NewShipmentHandlers constructs a new ShipmentHandlers instance.
func NewShipmentHandlers(authn *auth.Authenticator, shipments services.ShipmentService) *ShipmentHandlers {
	return &ShipmentHandlers{
		authn:     authn,
		shipments: shipments,
	}
}

// Routes registers the /shipments endpoints.
func (h *ShipmentHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.With(guard(h.authn, auth.RoleManager, auth.RoleAdmin)).Post("/", h.createShipment)
	r.With(guard(h.authn, auth.RoleManager, auth.RoleAdmin, auth.RoleCarrier)).Get("/", h.listShipments)
	r.With(guard(h.authn, auth.RoleManager, auth.RoleAdmin, auth.RoleCarrier)).Get("/{shipmentID}", h.getShipment)
	r.With(guard(h.authn, auth.RoleManager, auth.RoleAdmin, auth.RoleCarrier)).Patch("/{shipmentID}", h.updateShipmentStatus)
}

// OrderRoutes registers the shipment lookups nested under /orders.
func (h *ShipmentHandlers) OrderRoutes(r chi.Router) {
	if r == nil {
		return
	}
	r.With(guard(h.authn, auth.RoleManager, auth.RoleAdmin)).Get("/{orderID}/shipments", h.listOrderShipments)
}

func (h *ShipmentHandlers) createShipment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.shipments == nil {
		httpx.WriteError(ctx, w, httpx.NewError("shipment_service_unavailable", "shipment service unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	body, err := readLimitedBody(r, maxRequestBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	var req createShipmentRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
		return
	}

	cmd := services.CreateShipmentCommand{
		OrderID:         strings.TrimSpace(req.OrderID),
		CarrierID:       strings.TrimSpace(req.CarrierID),
		TrackingNumber:  strings.TrimSpace(req.TrackingNumber),
		AutoAssign:      req.AutoAssign,
		DestinationZone: strings.TrimSpace(req.DestinationZone),
		ActorID:         identity.UID,
	}
	if raw := strings.TrimSpace(req.EstimatedDelivery); raw != "" {
		ts, err := parseTimeParam(raw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "estimated_delivery must be a valid RFC3339 timestamp", http.StatusBadRequest))
			return
		}
		cmd.EstimatedDelivery = &ts
	}

	shipment, err := h.shipments.CreateShipment(ctx, cmd)
	if err != nil {
		writeShipmentError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusCreated, shipmentResponse{Shipment: buildShipmentPayload(shipment)})
}

func (h *ShipmentHandlers) listShipments(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.shipments == nil {
		httpx.WriteError(ctx, w, httpx.NewError("shipment_service_unavailable", "shipment service unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	query := r.URL.Query()
	statusFilters := parseFilterValues(query["status"])

	var dateRange domain.RangeQuery[time.Time]
	var hasDateRange bool
	if raw := strings.TrimSpace(query.Get("created_after")); raw != "" {
		ts, err := parseTimeParam(raw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "created_after must be a valid RFC3339 timestamp", http.StatusBadRequest))
			return
		}
		dateRange.From = &ts
		hasDateRange = true
	}
	if raw := strings.TrimSpace(query.Get("created_before")); raw != "" {
		ts, err := parseTimeParam(raw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "created_before must be a valid RFC3339 timestamp", http.StatusBadRequest))
			return
		}
		dateRange.To = &ts
		hasDateRange = true
	}

	pageSize, err := parsePageSize(query.Get("page_size"), defaultShipmentPageSize, maxShipmentPageSize)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "page_size must be an integer", http.StatusBadRequest))
		return
	}

	filter := services.ShipmentListFilter{
		OrderID:        strings.TrimSpace(query.Get("order_id")),
		TrackingNumber: strings.TrimSpace(query.Get("tracking_number")),
		Status:         statusFilters,
		Pagination: services.Pagination{
			PageSize:  pageSize,
			PageToken: strings.TrimSpace(query.Get("page_token")),
		},
	}
	if hasDateRange {
		filter.DateRange = dateRange
	}

	// Carriers are always scoped to their own assignments.
	if identity.HasRole(auth.RoleCarrier) {
		filter.CarrierID = strings.TrimSpace(identity.UID)
	} else {
		filter.CarrierID = strings.TrimSpace(query.Get("carrier_id"))
	}

	page, err := h.shipments.ListShipments(ctx, filter)
	if err != nil {
		writeShipmentError(ctx, w, err)
		return
	}

	items := make([]shipmentPayload, 0, len(page.Items))
	for _, shipment := range page.Items {
		items = append(items, buildShipmentPayload(shipment))
	}

	writeJSONResponse(w, http.StatusOK, shipmentListResponse{
		Items:         items,
		NextPageToken: strings.TrimSpace(page.NextPageToken),
	})
}

func (h *ShipmentHandlers) getShipment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.shipments == nil {
		httpx.WriteError(ctx, w, httpx.NewError("shipment_service_unavailable", "shipment service unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	shipmentID := strings.TrimSpace(chi.URLParam(r, "shipmentID"))
	if shipmentID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "shipment id is required", http.StatusBadRequest))
		return
	}

	shipment, err := h.shipments.GetShipment(ctx, shipmentID)
	if err != nil {
		writeShipmentError(ctx, w, err)
		return
	}

	if !h.canAccessShipment(identity, shipment) {
		httpx.WriteError(ctx, w, httpx.NewError("shipment_not_found", "shipment not found", http.StatusNotFound))
		return
	}

	writeJSONResponse(w, http.StatusOK, shipmentResponse{Shipment: buildShipmentPayload(shipment)})
}

func (h *ShipmentHandlers) updateShipmentStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.shipments == nil {
		httpx.WriteError(ctx, w, httpx.NewError("shipment_service_unavailable", "shipment service unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	shipmentID := strings.TrimSpace(chi.URLParam(r, "shipmentID"))
	if shipmentID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "shipment id is required", http.StatusBadRequest))
		return
	}

	body, err := readLimitedBody(r, maxRequestBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	var req updateShipmentStatusRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
		return
	}

	target, ok := parseShipmentStatus(req.Status)
	if !ok {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", fmt.Sprintf("unknown shipment status %q", req.Status), http.StatusBadRequest))
		return
	}

	// A carrier may only report progress on its own assignment.
	if identity.HasRole(auth.RoleCarrier) {
		shipment, err := h.shipments.GetShipment(ctx, shipmentID)
		if err != nil {
			writeShipmentError(ctx, w, err)
			return
		}
		if !strings.EqualFold(strings.TrimSpace(shipment.CarrierID), strings.TrimSpace(identity.UID)) {
			httpx.WriteError(ctx, w, httpx.NewError("shipment_not_found", "shipment not found", http.StatusNotFound))
			return
		}
	}

	shipment, err := h.shipments.UpdateShipmentStatus(ctx, services.UpdateShipmentStatusCommand{
		ShipmentID:   shipmentID,
		TargetStatus: target,
		ActorID:      identity.UID,
	})
	if err != nil {
		writeShipmentError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, shipmentResponse{Shipment: buildShipmentPayload(shipment)})
}

func (h *ShipmentHandlers) listOrderShipments(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.shipments == nil {
		httpx.WriteError(ctx, w, httpx.NewError("shipment_service_unavailable", "shipment service unavailable", http.StatusServiceUnavailable))
		return
	}

	if _, ok := requireIdentity(ctx, w); !ok {
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	shipments, err := h.shipments.ListByOrder(ctx, orderID)
	if err != nil {
		writeShipmentError(ctx, w, err)
		return
	}

	items := make([]shipmentPayload, 0, len(shipments))
	for _, shipment := range shipments {
		items = append(items, buildShipmentPayload(shipment))
	}
	writeJSONResponse(w, http.StatusOK, shipmentListResponse{Items: items})
}

func (h *ShipmentHandlers) canAccessShipment(identity *auth.Identity, shipment services.Shipment) bool {
	if identity.HasAnyRole(auth.RoleManager, auth.RoleAdmin) {
		return true
	}
	return strings.EqualFold(strings.TrimSpace(shipment.CarrierID), strings.TrimSpace(identity.UID))
}

// Payload types ---------------------------------------------------------------

type shipmentListResponse struct {
	Items         []shipmentPayload `json:"items"`
	NextPageToken string            `json:"next_page_token,omitempty"`
}

type shipmentResponse struct {
	Shipment shipmentPayload `json:"shipment"`
}

type shipmentPayload struct {
	ID                string             `json:"id"`
	TrackingNumber    string             `json:"tracking_number"`
	OrderID           string             `json:"order_id"`
	OrderNumber       string             `json:"order_number,omitempty"`
	CarrierID         string             `json:"carrier_id"`
	Status            string             `json:"status"`
	Items             []orderItemPayload `json:"items,omitempty"`
	DestinationZone   string             `json:"destination_zone,omitempty"`
	EstimatedDelivery string             `json:"estimated_delivery,omitempty"`
	DateShipped       string             `json:"date_shipped,omitempty"`
	DateDelivered     string             `json:"date_delivered,omitempty"`
	CreatedAt         string             `json:"created_at,omitempty"`
	UpdatedAt         string             `json:"updated_at,omitempty"`
}

func buildShipmentPayload(shipment services.Shipment) shipmentPayload {
	items := make([]orderItemPayload, 0, len(shipment.Items))
	for _, item := range shipment.Items {
		items = append(items, orderItemPayload{
			ProductID: item.ProductID,
			Name:      item.Name,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
			Subtotal:  item.Subtotal,
			ImageURL:  item.ImageURL,
		})
	}
	return shipmentPayload{
		ID:                strings.TrimSpace(shipment.ID),
		TrackingNumber:    strings.TrimSpace(shipment.TrackingNumber),
		OrderID:           strings.TrimSpace(shipment.OrderID),
		OrderNumber:       strings.TrimSpace(shipment.OrderNumber),
		CarrierID:         strings.TrimSpace(shipment.CarrierID),
		Status:            string(shipment.Status),
		Items:             items,
		DestinationZone:   shipment.DestinationZone,
		EstimatedDelivery: formatTime(pointerTime(shipment.EstimatedDelivery)),
		DateShipped:       formatTime(pointerTime(shipment.DateShipped)),
		DateDelivered:     formatTime(pointerTime(shipment.DateDelivered)),
		CreatedAt:         formatTime(shipment.CreatedAt),
		UpdatedAt:         formatTime(shipment.UpdatedAt),
	}
}

func writeShipmentError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrShipmentInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrShipmentNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("shipment_not_found", "shipment not found", http.StatusNotFound))
	case errors.Is(err, services.ErrShipmentOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrShipmentCarrierNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("carrier_not_found", "carrier not found", http.StatusNotFound))
	case errors.Is(err, services.ErrCarrierUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("carrier_unavailable", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrShipmentUnpaidOrder):
		httpx.WriteError(ctx, w, httpx.NewError("payment_required", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrShipmentInvalidState):
		httpx.WriteError(ctx, w, httpx.NewError("shipment_invalid_state", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrShipmentConflict):
		httpx.WriteError(ctx, w, httpx.NewError("shipment_conflict", err.Error(), http.StatusConflict))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("shipment_error", "failed to process shipment request", http.StatusInternalServerError))
	}
}

func parseShipmentStatus(raw string) (services.ShipmentStatus, bool) {
	status := domain.ShipmentStatus(strings.TrimSpace(strings.ToLower(raw)))
	if _, ok := validShipmentStatuses[status]; !ok {
		return "", false
	}
	return status, true
}
