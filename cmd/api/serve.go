package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/myshop/api/internal/di"
	"github.com/myshop/api/internal/handlers"
	"github.com/myshop/api/internal/platform/idempotency"
	"github.com/myshop/api/internal/platform/observability"
	ppostgres "github.com/myshop/api/internal/platform/postgres"
	pgrepo "github.com/myshop/api/internal/repositories/postgres"
)

const (
	shutdownTimeout = 10 * time.Second
	meterName       = "github.com/myshop/api"
)

func serveCommand(logger *zap.Logger) *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "run the HTTP API",
		Action: func(c *cli.Context) error {
			ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, c, logger)
		},
	}
}

func serve(ctx context.Context, c *cli.Context, logger *zap.Logger) error {
	rt, err := loadRuntime(ctx, c, logger)
	if err != nil {
		return err
	}
	defer rt.Close(logger)
	cfg := rt.cfg

	infra, err := openBackends(ctx, logger, rt)
	if err != nil {
		return err
	}
	defer infra.Close(logger)

	provider, err := ppostgres.Open(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	if cfg.Database.MigrateOnStart {
		if err := migrateUp(ctx, provider, logger); err != nil {
			_ = provider.Close()
			return err
		}
	}

	registry, err := pgrepo.NewRegistry(provider, infra.probes...)
	if err != nil {
		_ = provider.Close()
		return fmt.Errorf("initialise repositories: %w", err)
	}

	container, err := di.NewContainer(ctx, cfg, registry,
		di.WithLogger(logger),
		di.WithBuildInfo(rt.build),
		di.WithImageStorage(infra.images),
		di.WithOrderEvents(infra.events),
		di.WithEmailJobs(infra.emailJobs),
	)
	if err != nil {
		_ = registry.Close(ctx)
		return fmt.Errorf("initialise services: %w", err)
	}
	defer func() {
		if err := container.Close(context.Background()); err != nil {
			logger.Warn("container close error", zap.Error(err))
		}
	}()

	router, err := buildRouter(logger, rt, infra, container)
	if err != nil {
		return err
	}

	var cleanupWG sync.WaitGroup
	cleanupCtx, cleanupCancel := context.WithCancel(context.Background())
	defer func() {
		cleanupCancel()
		cleanupWG.Wait()
	}()
	if cfg.Idempotency.Backend == "memory" {
		cleanupWG.Add(1)
		go func() {
			defer cleanupWG.Done()
			idempotency.RunCleanup(cleanupCtx, infra.idemStore, cfg.Idempotency.CleanupInterval, logger.Named("idempotency"))
		}()
	}

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	serverLogger := logger.Named("http").With(zap.String("addr", server.Addr), zap.String("version", rt.build.Version))
	serveErr := make(chan error, 1)
	go func() {
		serverLogger.Info("api listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}
	logger.Info("shutdown signal received; draining requests")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
		return err
	}
	return nil
}

func buildRouter(logger *zap.Logger, rt *runtimeEnv, infra *backends, container *di.Container) (http.Handler, error) {
	cfg := rt.cfg
	svc := container.Services
	authn := container.Authenticator

	metrics, err := observability.NewHTTPMetrics(otel.GetMeterProvider().Meter(meterName))
	if err != nil {
		return nil, fmt.Errorf("initialise http metrics: %w", err)
	}

	idempotencyMiddleware := idempotency.Middleware(
		infra.idemStore,
		idempotency.WithHeader(cfg.Idempotency.Header),
		idempotency.WithTTL(cfg.Idempotency.TTL),
	)

	authHandlers := handlers.NewAuthHandlers(svc.Accounts, handlers.WithAuthRateLimit(cfg.Auth.RateLimitPerMinute, time.Now))
	userHandlers := handlers.NewUserHandlers(authn, svc.Accounts)
	productHandlers := handlers.NewProductHandlers(authn, svc.Catalog,
		handlers.WithProductReviews(svc.Reviews),
		handlers.WithImageURLs(infra.imageURL),
	)
	cartHandlers := handlers.NewCartHandlers(authn, svc.Cart, svc.Checkout, handlers.WithCartIdempotency(idempotencyMiddleware))
	orderHandlers := handlers.NewOrderHandlers(authn, svc.Orders)
	reviewHandlers := handlers.NewReviewHandlers(authn, svc.Reviews)

	healthOpts := []handlers.HealthOption{handlers.WithHealthBuildInfo(rt.build)}
	if svc.System != nil {
		healthOpts = append(healthOpts, handlers.WithHealthSystemService(svc.System))
	}

	httpLogger := logger.Named("http")
	opts := []handlers.Option{
		handlers.WithMiddlewares(
			observability.InjectLoggerMiddleware(httpLogger),
			observability.TraceMiddleware(),
			metrics.Middleware(),
			observability.RecoveryMiddleware(httpLogger),
			observability.RequestLoggerMiddleware(),
		),
		handlers.WithHealthHandlers(handlers.NewHealthHandlers(healthOpts...)),
		handlers.WithCORS(cfg.Server.CORSAllowedOrigins...),
		handlers.WithAuthRoutes(authHandlers.Routes),
		handlers.WithUserRoutes(userHandlers.Routes),
		handlers.WithProductRoutes(productHandlers.Routes),
		handlers.WithCartRoutes(cartHandlers.Routes),
		handlers.WithOrderRoutes(orderHandlers.Routes),
		handlers.WithReviewRoutes(reviewHandlers.Routes),
	}
	if infra.localDir != "" {
		opts = append(opts, handlers.WithStaticImages(localImagePrefix, infra.localDir))
	}

	return handlers.NewRouter(opts...), nil
}
