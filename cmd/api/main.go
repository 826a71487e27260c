package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
	"google.golang.org/api/iterator"

	"github.com/henokworkuliyew/ai-powered-e-commerce-system-sub001/internal/di"
	"github.com/henokworkuliyew/ai-powered-e-commerce-system-sub001/internal/handlers"
	"github.com/henokworkuliyew/ai-powered-e-commerce-system-sub001/internal/payments"
	"github.com/henokworkuliyew/ai-powered-e-commerce-system-sub001/internal/platform/auth"
	"github.com/henokworkuliyew/ai-powered-e-commerce-system-sub001/internal/platform/config"
	"github.com/henokworkuliyew/ai-powered-e-commerce-system-sub001/internal/platform/events"
	pfirestore "github.com/henokworkuliyew/ai-powered-e-commerce-system-sub001/internal/platform/firestore"
	"github.com/henokworkuliyew/ai-powered-e-commerce-system-sub001/internal/platform/observability"
	"github.com/henokworkuliyew/ai-powered-e-commerce-system-sub001/internal/repositories"
	firestoreRepo "github.com/henokworkuliyew/ai-powered-e-commerce-system-sub001/internal/repositories/firestore"
	"github.com/henokworkuliyew/ai-powered-e-commerce-system-sub001/internal/services"
)

func main() {
	ctx := context.Background()
	startedAt := time.Now().UTC()

	baseLogger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()

	logger := baseLogger.Named("api")
	ctx = observability.WithLogger(ctx, logger)

	cfg, err := config.Load()
	if err != nil {
		var validationErr *config.ValidationError
		if errors.As(err, &validationErr) {
			logger.Fatal("invalid configuration", zap.Strings("fields", validationErr.Fields()))
		}
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	buildInfo := buildInfoFromEnv(startedAt)

	firestoreProvider := pfirestore.NewProvider(cfg.Firestore)
	firestoreClient, err := firestoreProvider.Client(ctx)
	if err != nil {
		logger.Fatal("failed to initialise firestore client", zap.Error(err))
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := firestoreProvider.Close(closeCtx); err != nil {
			logger.Warn("firestore close error", zap.Error(err))
		}
	}()

	var (
		lifecyclePublisher services.LifecycleEventPublisher
		lifecycleTopic     *pubsub.Topic
	)
	if cfg.Events.Topic != "" {
		pubsubClient, err := pubsub.NewClient(ctx, cfg.Events.ProjectID)
		if err != nil {
			logger.Fatal("failed to initialise pubsub client", zap.Error(err))
		}
		defer func() {
			if err := pubsubClient.Close(); err != nil {
				logger.Warn("pubsub close error", zap.Error(err))
			}
		}()

		lifecycleTopic = pubsubClient.Topic(cfg.Events.Topic)
		defer lifecycleTopic.Stop()

		publisher, err := events.NewPubSubLifecyclePublisher(lifecycleTopic)
		if err != nil {
			logger.Fatal("failed to initialise lifecycle publisher", zap.Error(err))
		}
		lifecyclePublisher = publisher
	} else {
		logger.Warn("lifecycle topic not configured; order events will not be published")
	}

	healthChecks := []repositories.DependencyCheck{
		{
			Name: "firestore",
			Check: func(ctx context.Context) error {
				if _, err := firestoreClient.Collections(ctx).Next(); err != nil && !errors.Is(err, iterator.Done) {
					return err
				}
				return nil
			},
		},
	}
	if lifecycleTopic != nil {
		topic := lifecycleTopic
		healthChecks = append(healthChecks, repositories.DependencyCheck{
			Name: "pubsub",
			Check: func(ctx context.Context) error {
				exists, err := topic.Exists(ctx)
				if err != nil {
					return err
				}
				if !exists {
					return fmt.Errorf("topic %s does not exist", topic.ID())
				}
				return nil
			},
		})
	}

	healthRepo, err := repositories.NewDependencyHealthRepository(healthChecks)
	if err != nil {
		logger.Fatal("failed to initialise health repository", zap.Error(err))
	}

	registry, err := firestoreRepo.NewRegistry(firestoreProvider, firestoreRepo.WithHealthRepository(healthRepo))
	if err != nil {
		logger.Fatal("failed to initialise repositories", zap.Error(err))
	}

	paymentsLogger := logger.Named("payments")
	stripeProvider, err := payments.NewStripeProvider(payments.StripeProviderConfig{
		APIKey: cfg.PSP.StripeAPIKey,
		Logger: func(_ context.Context, event string, fields map[string]any) {
			zapFields := make([]zap.Field, 0, len(fields)+1)
			zapFields = append(zapFields, zap.String("event", event))
			for key, value := range fields {
				zapFields = append(zapFields, zap.Any(key, value))
			}
			paymentsLogger.Debug("gateway call", zapFields...)
		},
		Clock: time.Now,
	})
	if err != nil {
		logger.Fatal("failed to initialise stripe provider", zap.Error(err))
	}

	paymentManager, err := payments.NewManager(map[string]payments.Provider{
		"stripe": stripeProvider,
	})
	if err != nil {
		logger.Fatal("failed to initialise payment manager", zap.Error(err))
	}

	container, err := di.NewContainer(ctx, cfg, registry,
		di.WithPaymentManager(paymentManager),
		di.WithEventPublisher(lifecyclePublisher),
		di.WithServiceLogHook(observability.ServiceLogHook(logger.Named("services"))),
		di.WithBuildInfo(buildInfo),
	)
	if err != nil {
		logger.Fatal("failed to assemble services", zap.Error(err))
	}

	firebaseVerifier, err := auth.NewFirebaseVerifier(ctx, cfg.Firebase)
	if err != nil {
		logger.Fatal("failed to initialise firebase verifier", zap.Error(err))
	}
	authenticator := auth.NewAuthenticator(firebaseVerifier, auth.WithUserGetter(firebaseVerifier))

	orderHandlers := handlers.NewOrderHandlers(authenticator, container.Services.Orders)
	paymentHandlers := handlers.NewPaymentHandlers(authenticator, container.Services.Payments)
	shipmentHandlers := handlers.NewShipmentHandlers(authenticator, container.Services.Shipments)
	carrierHandlers := handlers.NewCarrierHandlers(authenticator, container.Services.Carriers)
	healthHandlers := handlers.NewHealthHandlers(
		handlers.WithHealthBuildInfo(buildInfo),
		handlers.WithHealthSystemService(container.Services.System),
	)

	router := handlers.NewRouter(
		handlers.WithMiddlewares(observability.RequestLogger(logger.Named("http"))),
		handlers.WithHealthHandlers(healthHandlers),
		handlers.WithOrderRoutes(func(r chi.Router) {
			orderHandlers.Routes(r)
			shipmentHandlers.OrderRoutes(r)
		}),
		handlers.WithPaymentRoutes(paymentHandlers.Routes),
		handlers.WithShipmentRoutes(shipmentHandlers.Routes),
		handlers.WithCarrierRoutes(carrierHandlers.Routes),
	)

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	serverLogger := logger.Named("http").With(zap.String("addr", server.Addr))
	go func() {
		serverLogger.Info("commerce api listening",
			zap.String("version", buildInfo.Version),
			zap.String("environment", buildInfo.Environment),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverLogger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-shutdown
	logger.Info("shutdown signal received; draining requests")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}

	closeCtx, cancelClose := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelClose()
	if err := container.Close(closeCtx); err != nil {
		logger.Warn("container close error", zap.Error(err))
	}
}

func buildInfoFromEnv(started time.Time) services.BuildInfo {
	version := strings.TrimSpace(os.Getenv("API_BUILD_VERSION"))
	if version == "" {
		version = "dev"
	}
	environment := strings.TrimSpace(os.Getenv("APP_ENVIRONMENT"))
	if environment == "" {
		environment = "local"
	}
	return services.BuildInfo{
		Version:     version,
		Environment: environment,
		StartedAt:   started,
	}
}
