package di

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/myshop/api/internal/platform/auth"
	"github.com/myshop/api/internal/platform/config"
	"github.com/myshop/api/internal/platform/observability"
	"github.com/myshop/api/internal/repositories"
	"github.com/myshop/api/internal/services"
)

// Services bundles the service-layer contracts that handlers rely upon. Concrete implementations
// are assembled via dependency injection in NewContainer.
type Services struct {
	Accounts services.AccountService
	Cart     services.CartService
	Checkout services.CheckoutService
	Orders   services.OrderService
	Reviews  services.ReviewService
	Catalog  services.CatalogService
	System   services.SystemService
}

// Container wires repositories, services, and authentication for runtime use.
type Container struct {
	Config        config.Config
	Repositories  repositories.Registry
	Services      Services
	Credentials   auth.CredentialService
	Authenticator *auth.Authenticator
}

// Option customises optional collaborators of the container.
type Option func(*options)

type options struct {
	images      services.ImageStorage
	events      services.OrderEventPublisher
	emailJobs   services.EmailJobPublisher
	logger      *zap.Logger
	build       services.BuildInfo
	clock       func() time.Time
	credentials []auth.CredentialOption
}

// WithImageStorage configures where product images are persisted.
func WithImageStorage(images services.ImageStorage) Option {
	return func(o *options) {
		o.images = images
	}
}

// WithOrderEvents publishes order lifecycle events to the configured bus.
func WithOrderEvents(events services.OrderEventPublisher) Option {
	return func(o *options) {
		o.events = events
	}
}

// WithEmailJobs routes account emails through the background mail worker.
// Without it emails are only logged.
func WithEmailJobs(publisher services.EmailJobPublisher) Option {
	return func(o *options) {
		o.emailJobs = publisher
	}
}

// WithLogger sets the fallback logger for service events.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithBuildInfo reports version metadata through the health endpoints.
func WithBuildInfo(build services.BuildInfo) Option {
	return func(o *options) {
		o.build = build
	}
}

// WithClock overrides the time source shared by every service.
func WithClock(clock func() time.Time) Option {
	return func(o *options) {
		if clock != nil {
			o.clock = clock
		}
	}
}

// WithCredentialOptions forwards options to the credential service.
func WithCredentialOptions(opts ...auth.CredentialOption) Option {
	return func(o *options) {
		o.credentials = append(o.credentials, opts...)
	}
}

// NewContainer constructs the runtime dependencies. Production wiring passes the Postgres
// registry, while tests can supply in-memory registries.
func NewContainer(ctx context.Context, cfg config.Config, reg repositories.Registry, opts ...Option) (*Container, error) {
	if reg == nil {
		return nil, errors.New("repositories registry is required")
	}

	o := options{
		logger: zap.NewNop(),
		clock:  time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	if o.build.StartedAt.IsZero() {
		o.build.StartedAt = o.clock()
	}

	credOpts := append([]auth.CredentialOption{
		auth.WithBcryptCost(cfg.Auth.BcryptCost),
		auth.WithCredentialClock(o.clock),
	}, o.credentials...)
	credentials, err := auth.NewJWTCredentials(cfg.Auth.JWTSecret, credOpts...)
	if err != nil {
		return nil, fmt.Errorf("build credentials: %w", err)
	}

	svc, err := buildServices(ctx, reg, cfg, credentials, o)
	if err != nil {
		return nil, err
	}

	lookup, err := services.NewIdentityLookup(reg.Users())
	if err != nil {
		return nil, fmt.Errorf("build identity lookup: %w", err)
	}

	return &Container{
		Config:        cfg,
		Repositories:  reg,
		Services:      svc,
		Credentials:   credentials,
		Authenticator: auth.NewAuthenticator(credentials, auth.WithUserLookup(lookup)),
	}, nil
}

// Close releases resources such as repository clients.
func (c *Container) Close(ctx context.Context) error {
	if c == nil || c.Repositories == nil {
		return nil
	}
	return c.Repositories.Close(ctx)
}

func buildServices(_ context.Context, reg repositories.Registry, cfg config.Config, credentials auth.CredentialService, o options) (Services, error) {
	var svc Services
	logEvent := observability.EventLogger(o.logger.Named("services"))

	var notifier services.Notifier
	if o.emailJobs != nil {
		jobNotifier, err := services.NewJobNotifier(services.JobNotifierDeps{
			Publisher:   o.emailJobs,
			FrontendURL: cfg.Frontend.BaseURL,
			Clock:       o.clock,
			Logger:      logEvent,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build notifier: %w", err)
		}
		notifier = jobNotifier
	} else {
		notifier = services.NewLogNotifier(logEvent)
	}

	accounts, err := services.NewAccountService(services.AccountServiceDeps{
		Users:          reg.Users(),
		Credentials:    credentials,
		Notifier:       notifier,
		AccessTokenTTL: cfg.Auth.TokenTTL,
		ResetTokenTTL:  cfg.Auth.ResetTokenTTL,
		Clock:          o.clock,
		Logger:         logEvent,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build account service: %w", err)
	}
	svc.Accounts = accounts

	cart, err := services.NewCartService(services.CartServiceDeps{
		Products:   reg.Products(),
		Orders:     reg.Orders(),
		OrderItems: reg.OrderItems(),
		UnitOfWork: reg,
		Clock:      o.clock,
		Logger:     logEvent,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build cart service: %w", err)
	}
	svc.Cart = cart

	checkout, err := services.NewCheckoutService(services.CheckoutServiceDeps{
		Products:   reg.Products(),
		Orders:     reg.Orders(),
		OrderItems: reg.OrderItems(),
		UnitOfWork: reg,
		Events:     o.events,
		Clock:      o.clock,
		Logger:     logEvent,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build checkout service: %w", err)
	}
	svc.Checkout = checkout

	orders, err := services.NewOrderService(services.OrderServiceDeps{
		Orders:     reg.Orders(),
		UnitOfWork: reg,
		Events:     o.events,
		Clock:      o.clock,
		Logger:     logEvent,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build order service: %w", err)
	}
	svc.Orders = orders

	sanitizer := services.NewTextSanitizer()

	reviews, err := services.NewReviewService(services.ReviewServiceDeps{
		Reviews:   reg.Reviews(),
		Orders:    reg.Orders(),
		Clock:     o.clock,
		Sanitizer: sanitizer,
		Logger:    logEvent,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build review service: %w", err)
	}
	svc.Reviews = reviews

	catalog, err := services.NewCatalogService(services.CatalogServiceDeps{
		Products:  reg.Products(),
		Images:    o.images,
		Clock:     o.clock,
		Sanitizer: sanitizer,
		Logger:    logEvent,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build catalog service: %w", err)
	}
	svc.Catalog = catalog

	if health := reg.Health(); health != nil {
		system, err := services.NewSystemService(services.SystemServiceDeps{
			HealthRepository: health,
			Clock:            o.clock,
			Build:            o.build,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build system service: %w", err)
		}
		svc.System = system
	}

	return svc, nil
}
