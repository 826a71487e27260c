package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/henokworkuliyew/ai-powered-e-commerce-system-sub001/internal/domain"
	"github.com/henokworkuliyew/ai-powered-e-commerce-system-sub001/internal/payments"
	"github.com/henokworkuliyew/ai-powered-e-commerce-system-sub001/internal/repositories"
)

const (
	paymentEventCaptured = "payment.captured"
	paymentEventFailed   = "payment.failed"

	defaultPaymentCurrency = "USD"
)

var (
	// ErrPaymentInvalidInput signals the caller provided invalid data.
	ErrPaymentInvalidInput = errors.New("payment: invalid input")
	// ErrPaymentNotFound indicates no order matches the payment reference or id.
	ErrPaymentNotFound = errors.New("payment: not found")
	// ErrPaymentForbidden indicates the order belongs to a different user.
	ErrPaymentForbidden = errors.New("payment: order belongs to another user")
	// ErrPaymentInvalidState indicates the order cannot accept a payment attempt.
	ErrPaymentInvalidState = errors.New("payment: order not payable")
	// ErrPaymentGatewayFailed indicates the PSP call failed; the order is untouched.
	ErrPaymentGatewayFailed = errors.New("payment: gateway request failed")
	// ErrPaymentConflict indicates concurrent modification of the order.
	ErrPaymentConflict = errors.New("payment: conflict")
)

// paymentGateway abstracts payments.Manager for easier testing.
type paymentGateway interface {
	CreateCheckoutSession(ctx context.Context, preferred string, req payments.CheckoutSessionRequest) (payments.CheckoutSession, error)
	LookupPayment(ctx context.Context, preferred string, req payments.LookupRequest) (payments.PaymentDetails, error)
}

// PaymentServiceDeps bundles collaborators required to construct the payment service.
type PaymentServiceDeps struct {
	Orders     repositories.OrderRepository
	Tx         repositories.UnitOfWork
	Gateway    paymentGateway
	SuccessURL string
	CancelURL  string
	Currency   string
	// GatewayTimeout bounds each PSP call; zero means no extra deadline.
	GatewayTimeout time.Duration
	Clock          func() time.Time
	Events         LifecycleEventPublisher
	Logger         func(ctx context.Context, event string, fields map[string]any)
}

type paymentService struct {
	orders         repositories.OrderRepository
	tx             repositories.UnitOfWork
	gateway        paymentGateway
	successURL     string
	cancelURL      string
	currency       string
	gatewayTimeout time.Duration
	clock          func() time.Time
	events         LifecycleEventPublisher
	logger         func(context.Context, string, map[string]any)
}

// NewPaymentService wires dependencies into a concrete PaymentService implementation.
func NewPaymentService(deps PaymentServiceDeps) (PaymentService, error) {
	if deps.Orders == nil {
		return nil, errors.New("payment service: order repository is required")
	}
	if deps.Gateway == nil {
		return nil, errors.New("payment service: gateway is required")
	}
	if strings.TrimSpace(deps.SuccessURL) == "" || strings.TrimSpace(deps.CancelURL) == "" {
		return nil, errors.New("payment service: success and cancel urls are required")
	}

	currency := strings.TrimSpace(deps.Currency)
	if currency == "" {
		currency = defaultPaymentCurrency
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &paymentService{
		orders:         deps.Orders,
		tx:             deps.Tx,
		gateway:        deps.Gateway,
		successURL:     strings.TrimSpace(deps.SuccessURL),
		cancelURL:      strings.TrimSpace(deps.CancelURL),
		currency:       currency,
		gatewayTimeout: deps.GatewayTimeout,
		clock: func() time.Time {
			return clock().UTC()
		},
		events: deps.Events,
		logger: logger,
	}, nil
}

func (s *paymentService) InitializePayment(ctx context.Context, cmd InitializePaymentCommand) (PaymentInitialization, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return PaymentInitialization{}, fmt.Errorf("%w: order id is required", ErrPaymentInvalidInput)
	}
	userID := strings.TrimSpace(cmd.UserID)
	if userID == "" {
		return PaymentInitialization{}, fmt.Errorf("%w: user id is required", ErrPaymentInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return PaymentInitialization{}, s.mapRepositoryError(err)
	}
	if order.UserID != userID {
		return PaymentInitialization{}, fmt.Errorf("%w: order %s", ErrPaymentForbidden, orderID)
	}
	if order.OrderStatus != domain.OrderStatusPending {
		return PaymentInitialization{}, fmt.Errorf("%w: order status is %q", ErrPaymentInvalidState, order.OrderStatus)
	}
	if order.PaymentStatus != domain.PaymentStatusPending && order.PaymentStatus != domain.PaymentStatusFailed {
		return PaymentInitialization{}, fmt.Errorf("%w: payment status is %q", ErrPaymentInvalidState, order.PaymentStatus)
	}

	gatewayCtx, cancel := s.gatewayContext(ctx)
	defer cancel()
	session, err := s.gateway.CreateCheckoutSession(gatewayCtx, strings.TrimSpace(cmd.Provider), payments.CheckoutSessionRequest{
		Amount:        order.Totals.Total,
		Currency:      s.currency,
		CustomerEmail: strings.TrimSpace(cmd.CustomerEmail),
		SuccessURL:    s.successURL,
		CancelURL:     s.cancelURL,
		Metadata: map[string]string{
			"orderId":     order.ID,
			"orderNumber": order.OrderNumber,
		},
		IdempotencyKey: "checkout-" + order.ID,
		Items:          buildCheckoutLineItems(order, s.currency),
	})
	if err != nil {
		if errors.Is(err, payments.ErrUnsupportedProvider) {
			return PaymentInitialization{}, fmt.Errorf("%w: unknown provider %q", ErrPaymentInvalidInput, cmd.Provider)
		}
		s.logger(ctx, "payment.initialize.gateway_failed", map[string]any{
			"order": order.ID,
			"error": err.Error(),
		})
		return PaymentInitialization{}, fmt.Errorf("%w: %v", ErrPaymentGatewayFailed, err)
	}

	reference := session.IntentID
	if reference == "" {
		reference = session.ID
	}

	now := s.now()
	// Re-read before storing the reference; the order may have moved on while
	// the gateway call was in flight.
	err = runInUnitOfWork(ctx, s.tx, func(ctx context.Context) error {
		current, err := s.orders.FindByID(ctx, orderID)
		if err != nil {
			return err
		}
		if current.OrderStatus != domain.OrderStatusPending {
			return fmt.Errorf("%w: order status changed to %q", ErrPaymentConflict, current.OrderStatus)
		}
		current.TransactionRef = reference
		current.UpdatedAt = now
		if err := s.orders.Update(ctx, current); err != nil {
			return err
		}
		order = current
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrPaymentConflict) {
			return PaymentInitialization{}, err
		}
		return PaymentInitialization{}, s.mapRepositoryError(err)
	}

	s.logger(ctx, "payment.initialized", map[string]any{
		"order":     order.ID,
		"provider":  session.Provider,
		"reference": reference,
	})

	return PaymentInitialization{
		OrderID:     order.ID,
		CheckoutURL: session.RedirectURL,
		Reference:   reference,
		Provider:    session.Provider,
		ExpiresAt:   session.ExpiresAt,
	}, nil
}

func (s *paymentService) VerifyPayment(ctx context.Context, reference string) (PaymentVerification, error) {
	reference = strings.TrimSpace(reference)
	if reference == "" {
		return PaymentVerification{}, fmt.Errorf("%w: payment reference is required", ErrPaymentInvalidInput)
	}

	order, err := s.orders.FindByTransactionRef(ctx, reference)
	if err != nil {
		return PaymentVerification{}, s.mapRepositoryError(err)
	}

	// A completed payment never re-enters the gateway; re-verifying is a no-op.
	if order.PaymentStatus == domain.PaymentStatusCompleted || order.PaymentStatus == domain.PaymentStatusRefunded {
		return PaymentVerification{
			Order:            order,
			Reference:        reference,
			PaymentStatus:    order.PaymentStatus,
			AlreadyCompleted: true,
		}, nil
	}

	gatewayCtx, cancel := s.gatewayContext(ctx)
	defer cancel()
	details, err := s.gateway.LookupPayment(gatewayCtx, "", payments.LookupRequest{IntentID: reference})
	if err != nil {
		s.logger(ctx, "payment.verify.gateway_failed", map[string]any{
			"reference": reference,
			"error":     err.Error(),
		})
		return PaymentVerification{}, fmt.Errorf("%w: %v", ErrPaymentGatewayFailed, err)
	}

	switch details.Status {
	case payments.StatusSucceeded:
		return s.recordSuccessfulPayment(ctx, reference)
	case payments.StatusFailed:
		return s.recordFailedPayment(ctx, reference)
	default:
		// pending or provider-specific intermediate state: nothing to record yet.
		return PaymentVerification{
			Order:         order,
			Reference:     reference,
			PaymentStatus: order.PaymentStatus,
		}, nil
	}
}

func (s *paymentService) recordSuccessfulPayment(ctx context.Context, reference string) (PaymentVerification, error) {
	now := s.now()

	// The snapshot read before the gateway lookup may be stale: a shipment
	// created in the meantime must not be overwritten. Re-read and apply the
	// mutation atomically.
	var (
		order            Order
		prevOrderStatus  domain.OrderStatus
		promoted         bool
		alreadyCompleted bool
	)
	err := runInUnitOfWork(ctx, s.tx, func(ctx context.Context) error {
		promoted = false
		alreadyCompleted = false

		current, err := s.orders.FindByTransactionRef(ctx, reference)
		if err != nil {
			return err
		}
		if current.PaymentStatus == domain.PaymentStatusCompleted || current.PaymentStatus == domain.PaymentStatusRefunded {
			order = current
			alreadyCompleted = true
			return nil
		}

		prevOrderStatus = current.OrderStatus
		current.PaymentStatus = domain.PaymentStatusCompleted
		current.PaidAt = &now
		current.UpdatedAt = now

		// Only a pending order is promoted; orders that shipped while the
		// gateway call was in flight keep their progress.
		if current.OrderStatus == domain.OrderStatusPending {
			current.OrderStatus = domain.OrderStatusProcessing
			promoted = true
		}

		if err := s.orders.Update(ctx, current); err != nil {
			return err
		}
		order = current
		return nil
	})
	if err != nil {
		return PaymentVerification{}, s.mapRepositoryError(err)
	}
	if alreadyCompleted {
		return PaymentVerification{
			Order:            order,
			Reference:        reference,
			PaymentStatus:    order.PaymentStatus,
			AlreadyCompleted: true,
		}, nil
	}

	s.publishEvent(ctx, LifecycleEvent{
		Type:          paymentEventCaptured,
		OrderID:       order.ID,
		OrderNumber:   order.OrderNumber,
		CurrentStatus: string(order.PaymentStatus),
		OccurredAt:    now,
		Metadata: map[string]any{
			"reference": reference,
		},
	})

	if promoted {
		s.publishEvent(ctx, LifecycleEvent{
			Type:           orderEventStatusChanged,
			OrderID:        order.ID,
			OrderNumber:    order.OrderNumber,
			PreviousStatus: string(prevOrderStatus),
			CurrentStatus:  string(order.OrderStatus),
			OccurredAt:     now,
		})
	}

	return PaymentVerification{
		Order:         order,
		Reference:     reference,
		PaymentStatus: order.PaymentStatus,
	}, nil
}

func (s *paymentService) recordFailedPayment(ctx context.Context, reference string) (PaymentVerification, error) {
	now := s.now()

	var (
		order            Order
		alreadyCompleted bool
	)
	err := runInUnitOfWork(ctx, s.tx, func(ctx context.Context) error {
		alreadyCompleted = false

		current, err := s.orders.FindByTransactionRef(ctx, reference)
		if err != nil {
			return err
		}
		// A late failure report never demotes a payment that already settled.
		if current.PaymentStatus == domain.PaymentStatusCompleted || current.PaymentStatus == domain.PaymentStatusRefunded {
			order = current
			alreadyCompleted = true
			return nil
		}

		current.PaymentStatus = domain.PaymentStatusFailed
		current.UpdatedAt = now
		if err := s.orders.Update(ctx, current); err != nil {
			return err
		}
		order = current
		return nil
	})
	if err != nil {
		return PaymentVerification{}, s.mapRepositoryError(err)
	}
	if alreadyCompleted {
		return PaymentVerification{
			Order:            order,
			Reference:        reference,
			PaymentStatus:    order.PaymentStatus,
			AlreadyCompleted: true,
		}, nil
	}

	s.publishEvent(ctx, LifecycleEvent{
		Type:          paymentEventFailed,
		OrderID:       order.ID,
		OrderNumber:   order.OrderNumber,
		CurrentStatus: string(order.PaymentStatus),
		OccurredAt:    now,
		Metadata: map[string]any{
			"reference": reference,
		},
	})

	return PaymentVerification{
		Order:         order,
		Reference:     reference,
		PaymentStatus: order.PaymentStatus,
	}, nil
}

func (s *paymentService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrPaymentNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrPaymentConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("payment: repository unavailable: %w", err)
		}
	}

	return err
}

func (s *paymentService) now() time.Time {
	return s.clock()
}

// gatewayContext derives a deadline-bound context for PSP calls.
func (s *paymentService) gatewayContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.gatewayTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.gatewayTimeout)
}

func (s *paymentService) publishEvent(ctx context.Context, event LifecycleEvent) {
	if s.events == nil {
		return
	}
	if err := s.events.PublishLifecycleEvent(ctx, event); err != nil {
		s.logger(ctx, "payment.event.publish.failed", map[string]any{
			"type":  event.Type,
			"order": event.OrderID,
			"error": err.Error(),
		})
	}
}

func buildCheckoutLineItems(order Order, currency string) []payments.CheckoutLineItem {
	items := make([]payments.CheckoutLineItem, 0, len(order.Items))
	for _, item := range order.Items {
		name := item.Name
		if name == "" {
			name = item.ProductID
		}
		items = append(items, payments.CheckoutLineItem{
			Name:     name,
			SKU:      item.ProductID,
			Quantity: int64(item.Quantity),
			Amount:   item.UnitPrice,
			Currency: currency,
		})
	}
	if order.Totals.Shipping > 0 {
		items = append(items, payments.CheckoutLineItem{
			Name:     "Shipping",
			Quantity: 1,
			Amount:   order.Totals.Shipping,
			Currency: currency,
		})
	}
	if order.Totals.Tax > 0 {
		items = append(items, payments.CheckoutLineItem{
			Name:     "Tax",
			Quantity: 1,
			Amount:   order.Totals.Tax,
			Currency: currency,
		})
	}
	return items
}
