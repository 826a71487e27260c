package di

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/henokworkuliyew/ai-powered-e-commerce-system-sub001/internal/payments"
	"github.com/henokworkuliyew/ai-powered-e-commerce-system-sub001/internal/platform/config"
	"github.com/henokworkuliyew/ai-powered-e-commerce-system-sub001/internal/repositories"
	"github.com/henokworkuliyew/ai-powered-e-commerce-system-sub001/internal/services"
)

// Services bundles the service-layer contracts that handlers rely upon. Concrete
// implementations are assembled via dependency injection in NewContainer.
type Services struct {
	Orders    services.OrderService
	Payments  services.PaymentService
	Shipments services.ShipmentService
	Carriers  services.CarrierService
	System    services.SystemService
}

// Container wires repositories and services for runtime use.
type Container struct {
	Config       config.Config
	Repositories repositories.Registry
	Services     Services
}

// ContainerOption customises container construction.
type ContainerOption func(*containerDeps)

type containerDeps struct {
	payments *payments.Manager
	events   services.LifecycleEventPublisher
	logHook  func(ctx context.Context, event string, fields map[string]any)
	build    services.BuildInfo
}

// WithPaymentManager supplies the payment gateway manager. Without it the
// payment endpoints report service unavailable.
func WithPaymentManager(manager *payments.Manager) ContainerOption {
	return func(deps *containerDeps) {
		deps.payments = manager
	}
}

// WithEventPublisher supplies the lifecycle event publisher shared by all services.
func WithEventPublisher(publisher services.LifecycleEventPublisher) ContainerOption {
	return func(deps *containerDeps) {
		deps.events = publisher
	}
}

// WithServiceLogHook supplies the structured logging hook passed to every service.
func WithServiceLogHook(hook func(ctx context.Context, event string, fields map[string]any)) ContainerOption {
	return func(deps *containerDeps) {
		deps.logHook = hook
	}
}

// WithBuildInfo attaches build metadata surfaced by the system service.
func WithBuildInfo(build services.BuildInfo) ContainerOption {
	return func(deps *containerDeps) {
		deps.build = build
	}
}

// NewContainer constructs the runtime dependencies. Production wiring provides
// Firestore-backed repositories, while tests can supply in-memory registries.
func NewContainer(ctx context.Context, cfg config.Config, reg repositories.Registry, opts ...ContainerOption) (*Container, error) {
	if reg == nil {
		return nil, errors.New("repositories registry is required")
	}

	var deps containerDeps
	for _, opt := range opts {
		if opt != nil {
			opt(&deps)
		}
	}

	svc, err := buildServices(cfg, reg, deps)
	if err != nil {
		return nil, err
	}

	return &Container{
		Config:       cfg,
		Repositories: reg,
		Services:     svc,
	}, nil
}

// Close releases resources such as repository clients.
func (c *Container) Close(ctx context.Context) error {
	if c == nil || c.Repositories == nil {
		return nil
	}
	return c.Repositories.Close(ctx)
}

func buildServices(cfg config.Config, reg repositories.Registry, deps containerDeps) (Services, error) {
	var svc Services

	ordersRepo := reg.Orders()
	shipmentsRepo := reg.Shipments()
	usersRepo := reg.Users()
	countersRepo := reg.Counters()

	if ordersRepo != nil && countersRepo != nil {
		orderSvc, err := services.NewOrderService(services.OrderServiceDeps{
			Orders:               ordersRepo,
			Counters:             countersRepo,
			Tx:                   reg,
			RequirePaidShipments: cfg.Features.RequirePaidShipments,
			Clock:                time.Now,
			Events:               deps.events,
			Logger:               deps.logHook,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build order service: %w", err)
		}
		svc.Orders = orderSvc
	}

	if ordersRepo != nil && deps.payments != nil {
		paymentSvc, err := services.NewPaymentService(services.PaymentServiceDeps{
			Orders:         ordersRepo,
			Tx:             reg,
			Gateway:        deps.payments,
			SuccessURL:     cfg.PSP.SuccessURL,
			CancelURL:      cfg.PSP.CancelURL,
			GatewayTimeout: cfg.PSP.GatewayTimeout,
			Clock:          time.Now,
			Events:         deps.events,
			Logger:         deps.logHook,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build payment service: %w", err)
		}
		svc.Payments = paymentSvc
	}

	if ordersRepo != nil && shipmentsRepo != nil && usersRepo != nil {
		shipmentSvc, err := services.NewShipmentService(services.ShipmentServiceDeps{
			Orders:               ordersRepo,
			Shipments:            shipmentsRepo,
			Users:                usersRepo,
			Tx:                   reg,
			RequirePaidShipments: cfg.Features.RequirePaidShipments,
			Clock:                time.Now,
			Events:               deps.events,
			Logger:               deps.logHook,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build shipment service: %w", err)
		}
		svc.Shipments = shipmentSvc
	}

	if usersRepo != nil && shipmentsRepo != nil {
		carrierSvc, err := services.NewCarrierService(services.CarrierServiceDeps{
			Users:     usersRepo,
			Shipments: shipmentsRepo,
			Clock:     time.Now,
			Events:    deps.events,
			Logger:    deps.logHook,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build carrier service: %w", err)
		}
		svc.Carriers = carrierSvc
	}

	if healthRepo := reg.Health(); healthRepo != nil {
		systemSvc, err := services.NewSystemService(services.SystemServiceDeps{
			HealthRepository: healthRepo,
			Clock:            time.Now,
			Build:            deps.build,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build system service: %w", err)
		}
		svc.System = systemSvc
	}

	return svc, nil
}
