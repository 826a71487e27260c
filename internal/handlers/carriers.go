package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/henokworkuliyew/ai-powered-e-commerce-system-sub001/internal/platform/auth"
	"github.com/henokworkuliyew/ai-powered-e-commerce-system-sub001/internal/platform/httpx"
	"github.com/henokworkuliyew/ai-powered-e-commerce-system-sub001/internal/services"
)

const (
	defaultCarrierPageSize = 20
	maxCarrierPageSize     = 100
)

type registerCarrierRequest struct {
	Email     string `json:"email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Zone      string `json:"zone"`
	Vehicle   string `json:"vehicle"`
}

// CarrierHandlers exposes the carrier directory endpoints for managers.
type CarrierHandlers struct {
	authn    *auth.Authenticator
	carriers services.CarrierService
}

// NewCarrierHandlers constructs a new CarrierHandlers instance.
func NewCarrierHandlers(authn *auth.Authenticator, carriers services.CarrierService) *CarrierHandlers {
	return &CarrierHandlers{
		authn:    authn,
		carriers: carriers,
	}
}

// Routes registers the /carriers endpoints.
func (h *CarrierHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Use(guard(h.authn, auth.RoleManager, auth.RoleAdmin))
	r.Post("/", h.registerCarrier)
	r.Get("/", h.listCarriers)
	r.Get("/{carrierID}", h.getCarrier)
	r.Delete("/{carrierID}", h.deleteCarrier)
}

func (h *CarrierHandlers) registerCarrier(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.carriers == nil {
		httpx.WriteError(ctx, w, httpx.NewError("carrier_service_unavailable", "carrier service unavailable", http.StatusServiceUnavailable))
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

	var req registerCarrierRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
		return
	}

	carrier, err := h.carriers.RegisterCarrier(ctx, services.RegisterCarrierCommand{
		Email:     strings.TrimSpace(req.Email),
		FirstName: strings.TrimSpace(req.FirstName),
		LastName:  strings.TrimSpace(req.LastName),
		Zone:      strings.TrimSpace(req.Zone),
		Vehicle:   strings.TrimSpace(req.Vehicle),
		ActorID:   identity.UID,
	})
	if err != nil {
		writeCarrierError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusCreated, carrierResponse{Carrier: buildCarrierPayload(carrier)})
}

func (h *CarrierHandlers) listCarriers(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.carriers == nil {
		httpx.WriteError(ctx, w, httpx.NewError("carrier_service_unavailable", "carrier service unavailable", http.StatusServiceUnavailable))
		return
	}

	if _, ok := requireIdentity(ctx, w); !ok {
		return
	}

	query := r.URL.Query()

	availableOnly := false
	if raw := strings.TrimSpace(query.Get("available")); raw != "" {
		parsed, err := strconv.ParseBool(raw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "available must be a boolean", http.StatusBadRequest))
			return
		}
		availableOnly = parsed
	}

	pageSize, err := parsePageSize(query.Get("page_size"), defaultCarrierPageSize, maxCarrierPageSize)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "page_size must be an integer", http.StatusBadRequest))
		return
	}

	page, err := h.carriers.ListCarriers(ctx, services.CarrierListFilter{
		AvailableOnly: availableOnly,
		States:        parseFilterValues(query["state"]),
		Pagination: services.Pagination{
			PageSize:  pageSize,
			PageToken: strings.TrimSpace(query.Get("page_token")),
		},
	})
	if err != nil {
		writeCarrierError(ctx, w, err)
		return
	}

	items := make([]carrierPayload, 0, len(page.Items))
	for _, carrier := range page.Items {
		items = append(items, buildCarrierPayload(carrier))
	}

	writeJSONResponse(w, http.StatusOK, carrierListResponse{
		Items:         items,
		NextPageToken: strings.TrimSpace(page.NextPageToken),
	})
}

func (h *CarrierHandlers) getCarrier(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.carriers == nil {
		httpx.WriteError(ctx, w, httpx.NewError("carrier_service_unavailable", "carrier service unavailable", http.StatusServiceUnavailable))
		return
	}

	if _, ok := requireIdentity(ctx, w); !ok {
		return
	}

	carrierID := strings.TrimSpace(chi.URLParam(r, "carrierID"))
	if carrierID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "carrier id is required", http.StatusBadRequest))
		return
	}

	carrier, err := h.carriers.GetCarrier(ctx, carrierID)
	if err != nil {
		writeCarrierError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, carrierResponse{Carrier: buildCarrierPayload(carrier)})
}

func (h *CarrierHandlers) deleteCarrier(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.carriers == nil {
		httpx.WriteError(ctx, w, httpx.NewError("carrier_service_unavailable", "carrier service unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	carrierID := strings.TrimSpace(chi.URLParam(r, "carrierID"))
	if carrierID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "carrier id is required", http.StatusBadRequest))
		return
	}

	result, err := h.carriers.DeleteCarrier(ctx, services.DeleteCarrierCommand{
		CarrierID: carrierID,
		ActorID:   identity.UID,
	})
	if err != nil {
		writeCarrierError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, carrierDeletionPayload{
		CarrierID: result.CarrierID,
		Outcome:   string(result.Outcome),
	})
}

// Payload types ---------------------------------------------------------------

type carrierListResponse struct {
	Items         []carrierPayload `json:"items"`
	NextPageToken string           `json:"next_page_token,omitempty"`
}

type carrierResponse struct {
	Carrier carrierPayload `json:"carrier"`
}

type carrierAssignmentPayload struct {
	ShipmentID        string `json:"shipment_id"`
	TrackingNumber    string `json:"tracking_number,omitempty"`
	OrderNumber       string `json:"order_number,omitempty"`
	EstimatedDelivery string `json:"estimated_delivery,omitempty"`
	AssignedAt        string `json:"assigned_at,omitempty"`
}

type carrierPayload struct {
	ID              string                    `json:"id"`
	Email           string                    `json:"email"`
	FirstName       string                    `json:"first_name,omitempty"`
	LastName        string                    `json:"last_name,omitempty"`
	Role            string                    `json:"role"`
	State           string                    `json:"state"`
	Zone            string                    `json:"zone,omitempty"`
	Vehicle         string                    `json:"vehicle,omitempty"`
	CurrentShipment *carrierAssignmentPayload `json:"current_shipment,omitempty"`
	CreatedAt       string                    `json:"created_at,omitempty"`
	UpdatedAt       string                    `json:"updated_at,omitempty"`
}

type carrierDeletionPayload struct {
	CarrierID string `json:"carrier_id"`
	Outcome   string `json:"outcome"`
}

func buildCarrierPayload(user services.User) carrierPayload {
	payload := carrierPayload{
		ID:        strings.TrimSpace(user.ID),
		Email:     strings.TrimSpace(user.Email),
		FirstName: strings.TrimSpace(user.FirstName),
		LastName:  strings.TrimSpace(user.LastName),
		Role:      string(user.Role),
		State:     string(user.State),
		CreatedAt: formatTime(user.CreatedAt),
		UpdatedAt: formatTime(user.UpdatedAt),
	}
	if user.Carrier != nil {
		payload.Zone = user.Carrier.Zone
		payload.Vehicle = user.Carrier.Vehicle
		if assignment := user.Carrier.CurrentShipment; assignment != nil {
			payload.CurrentShipment = &carrierAssignmentPayload{
				ShipmentID:        assignment.ShipmentID,
				TrackingNumber:    assignment.TrackingNumber,
				OrderNumber:       assignment.OrderNumber,
				EstimatedDelivery: formatTime(pointerTime(assignment.EstimatedDelivery)),
				AssignedAt:        formatTime(assignment.AssignedAt),
			}
		}
	}
	return payload
}

func writeCarrierError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrCarrierInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrCarrierNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("carrier_not_found", "carrier not found", http.StatusNotFound))
	case errors.Is(err, services.ErrCarrierConflict):
		httpx.WriteError(ctx, w, httpx.NewError("carrier_exists", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrCarrierBusy):
		httpx.WriteError(ctx, w, httpx.NewError("carrier_busy", "carrier has an active shipment", http.StatusBadRequest))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("carrier_error", "failed to process carrier request", http.StatusInternalServerError))
	}
}
