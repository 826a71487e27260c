package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/henokworkuliyew/ai-powered-e-commerce-system-sub001/internal/platform/auth"
	"github.com/henokworkuliyew/ai-powered-e-commerce-system-sub001/internal/platform/httpx"
	"github.com/henokworkuliyew/ai-powered-e-commerce-system-sub001/internal/services"
)

type initializePaymentRequest struct {
	OrderID  string `json:"order_id"`
	Provider string `json:"provider"`
}

// PaymentHandlers exposes checkout initialization and gateway verification endpoints.
type PaymentHandlers struct {
	authn    *auth.Authenticator
	payments services.PaymentService
}

// NewPaymentHandlers constructs a new PaymentHandlers instance.
func NewPaymentHandlers(authn *auth.Authenticator, payments services.PaymentService) *PaymentHandlers {
	return &PaymentHandlers{
		authn:    authn,
		payments: payments,
	}
}

// Routes registers the /payments endpoints.
func (h *PaymentHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.With(guard(h.authn, auth.RoleCustomer)).Post("/initialize", h.initializePayment)
	r.With(guard(h.authn)).Get("/verify/{reference}", h.verifyPayment)
}

func (h *PaymentHandlers) initializePayment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.payments == nil {
		httpx.WriteError(ctx, w, httpx.NewError("payment_service_unavailable", "payment service unavailable", http.StatusServiceUnavailable))
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

	var req initializePaymentRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
		return
	}
	if strings.TrimSpace(req.OrderID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order_id is required", http.StatusBadRequest))
		return
	}

	result, err := h.payments.InitializePayment(ctx, services.InitializePaymentCommand{
		OrderID:       strings.TrimSpace(req.OrderID),
		UserID:        identity.UID,
		Provider:      strings.TrimSpace(req.Provider),
		CustomerEmail: strings.TrimSpace(identity.Email),
		ActorID:       identity.UID,
	})
	if err != nil {
		writePaymentError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, paymentInitializationPayload{
		OrderID:     result.OrderID,
		CheckoutURL: result.CheckoutURL,
		Reference:   result.Reference,
		Provider:    result.Provider,
		ExpiresAt:   formatTime(result.ExpiresAt),
	})
}

func (h *PaymentHandlers) verifyPayment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.payments == nil {
		httpx.WriteError(ctx, w, httpx.NewError("payment_service_unavailable", "payment service unavailable", http.StatusServiceUnavailable))
		return
	}

	if _, ok := requireIdentity(ctx, w); !ok {
		return
	}

	reference := strings.TrimSpace(chi.URLParam(r, "reference"))
	if reference == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "payment reference is required", http.StatusBadRequest))
		return
	}

	result, err := h.payments.VerifyPayment(ctx, reference)
	if err != nil {
		writePaymentError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, paymentVerificationPayload{
		Reference:        result.Reference,
		PaymentStatus:    string(result.PaymentStatus),
		OrderID:          result.Order.ID,
		OrderNumber:      result.Order.OrderNumber,
		OrderStatus:      string(result.Order.OrderStatus),
		AlreadyCompleted: result.AlreadyCompleted,
	})
}

type paymentInitializationPayload struct {
	OrderID     string `json:"order_id"`
	CheckoutURL string `json:"checkout_url"`
	Reference   string `json:"reference"`
	Provider    string `json:"provider,omitempty"`
	ExpiresAt   string `json:"expires_at,omitempty"`
}

type paymentVerificationPayload struct {
	Reference        string `json:"reference"`
	PaymentStatus    string `json:"payment_status"`
	OrderID          string `json:"order_id"`
	OrderNumber      string `json:"order_number,omitempty"`
	OrderStatus      string `json:"order_status"`
	AlreadyCompleted bool   `json:"already_completed"`
}

func writePaymentError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrPaymentInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrPaymentForbidden):
		// Concealed as not-found so callers cannot probe foreign orders.
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrPaymentNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("payment_not_found", "no order matches the payment reference", http.StatusNotFound))
	case errors.Is(err, services.ErrPaymentInvalidState):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_payable", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrPaymentConflict):
		httpx.WriteError(ctx, w, httpx.NewError("payment_conflict", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrPaymentGatewayFailed):
		httpx.WriteError(ctx, w, httpx.NewError("payment_gateway_error", "payment gateway request failed", http.StatusBadGateway))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("payment_error", "failed to process payment request", http.StatusInternalServerError))
	}
}
