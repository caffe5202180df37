package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/pubsub"
	cloudstorage "cloud.google.com/go/storage"
	"github.com/go-redis/redis/v8"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/myshop/api/internal/platform/idempotency"
	"github.com/myshop/api/internal/platform/jobs"
	"github.com/myshop/api/internal/platform/secrets"
	platformstorage "github.com/myshop/api/internal/platform/storage"
	"github.com/myshop/api/internal/repositories"
	"github.com/myshop/api/internal/services"
)

const (
	localImagePrefix = "/images"
	secretHealthRef  = "secret://healthz"
	probeTimeout     = 2 * time.Second
)

// backends holds the infrastructure selected by configuration together with its readiness
// probes and cleanup hooks.
type backends struct {
	images    services.ImageStorage
	imageURL  func(string) string
	localDir  string
	events    services.OrderEventPublisher
	emailJobs services.EmailJobPublisher
	idemStore idempotency.Store
	probes    []repositories.DependencyProbe
	closers   []func() error
}

func (b *backends) addCloser(fn func() error) {
	b.closers = append(b.closers, fn)
}

// Close runs the cleanup hooks in reverse registration order.
func (b *backends) Close(logger *zap.Logger) {
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i](); err != nil {
			logger.Warn("backend close error", zap.Error(err))
		}
	}
	b.closers = nil
}

func openBackends(ctx context.Context, logger *zap.Logger, rt *runtimeEnv) (*backends, error) {
	b := &backends{}
	steps := []func(context.Context, *zap.Logger, *runtimeEnv) error{
		b.openImageStorage,
		b.openEvents,
		b.openIdempotency,
		b.addSecretProbe,
	}
	for _, step := range steps {
		if err := step(ctx, logger, rt); err != nil {
			b.Close(logger)
			return nil, err
		}
	}
	return b, nil
}

func (b *backends) openImageStorage(ctx context.Context, logger *zap.Logger, rt *runtimeEnv) error {
	cfg := rt.cfg.Storage
	switch cfg.Backend {
	case "gcs":
		client, err := cloudstorage.NewClient(ctx, googleClientOptions(rt.env)...)
		if err != nil {
			return fmt.Errorf("initialise storage client: %w", err)
		}
		b.addCloser(client.Close)
		store, err := platformstorage.NewGCSImageStorage(client, cfg.Bucket)
		if err != nil {
			return fmt.Errorf("initialise gcs image storage: %w", err)
		}
		b.images = store
		b.imageURL = store.PublicURL
		bucket := client.Bucket(cfg.Bucket)
		b.probes = append(b.probes, repositories.DependencyProbe{
			Name:    "imageStorage",
			Timeout: probeTimeout,
			Check: func(ctx context.Context) error {
				_, err := bucket.Attrs(ctx)
				return err
			},
		})
	default:
		store, err := platformstorage.NewLocalImageStorage(cfg.LocalDir, platformstorage.WithPublicBaseURL(localImagePrefix))
		if err != nil {
			return fmt.Errorf("initialise local image storage: %w", err)
		}
		b.images = store
		b.imageURL = store.PublicURL
		b.localDir = store.Dir()
	}
	logger.Info("image storage ready", zap.String("backend", cfg.Backend))
	return nil
}

func (b *backends) openEvents(ctx context.Context, logger *zap.Logger, rt *runtimeEnv) error {
	cfg := rt.cfg.Events
	switch cfg.Backend {
	case "pubsub":
		client, err := pubsub.NewClient(ctx, cfg.PubSubProject, googleClientOptions(rt.env)...)
		if err != nil {
			return fmt.Errorf("initialise pubsub client: %w", err)
		}
		b.addCloser(client.Close)
		topic := client.Topic(cfg.PubSubTopic)
		publisher, err := jobs.NewPubSubPublisher(topic)
		if err != nil {
			return fmt.Errorf("initialise pubsub publisher: %w", err)
		}
		b.addCloser(func() error {
			publisher.Stop()
			return nil
		})
		b.events = publisher
		b.emailJobs = publisher
		b.probes = append(b.probes, repositories.DependencyProbe{
			Name:    "events",
			Timeout: probeTimeout,
			Check: func(ctx context.Context) error {
				ok, err := topic.Exists(ctx)
				if err != nil {
					return err
				}
				if !ok {
					return fmt.Errorf("topic %s does not exist", cfg.PubSubTopic)
				}
				return nil
			},
		})
	case "kafka":
		writer, err := jobs.NewKafkaWriter(cfg.KafkaBrokers, cfg.KafkaTopic, logger)
		if err != nil {
			return fmt.Errorf("initialise kafka writer: %w", err)
		}
		publisher, err := jobs.NewKafkaPublisher(writer)
		if err != nil {
			_ = writer.Close()
			return fmt.Errorf("initialise kafka publisher: %w", err)
		}
		b.addCloser(publisher.Close)
		b.events = publisher
		b.emailJobs = publisher
		brokers := cfg.KafkaBrokers
		b.probes = append(b.probes, repositories.DependencyProbe{
			Name:    "events",
			Timeout: probeTimeout,
			Check: func(ctx context.Context) error {
				return dialAnyBroker(ctx, brokers)
			},
		})
	default:
		logger.Info("event bus disabled; account emails are logged only")
		return nil
	}
	logger.Info("event bus ready", zap.String("backend", cfg.Backend))
	return nil
}

func dialAnyBroker(ctx context.Context, brokers []string) error {
	var errs []error
	for _, broker := range brokers {
		conn, err := kafka.DialContext(ctx, "tcp", broker)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		return conn.Close()
	}
	if len(errs) == 0 {
		return errors.New("no kafka brokers configured")
	}
	return errors.Join(errs...)
}

func (b *backends) openIdempotency(ctx context.Context, logger *zap.Logger, rt *runtimeEnv) error {
	cfg := rt.cfg.Idempotency
	if cfg.Backend != "redis" {
		b.idemStore = idempotency.NewMemoryStore()
		return nil
	}

	client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	b.addCloser(client.Close)
	store, err := idempotency.NewRedisStore(client)
	if err != nil {
		return fmt.Errorf("initialise redis idempotency store: %w", err)
	}
	b.idemStore = store
	b.probes = append(b.probes, repositories.DependencyProbe{
		Name:    "idempotencyStore",
		Timeout: probeTimeout,
		Check: func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		},
	})
	logger.Info("idempotency store ready", zap.String("backend", "redis"), zap.String("addr", cfg.RedisAddr))
	return nil
}

func (b *backends) addSecretProbe(_ context.Context, _ *zap.Logger, rt *runtimeEnv) error {
	if rt.fetcher == nil || rt.cfg.Secrets.ProjectID == "" {
		return nil
	}
	b.probes = append(b.probes, secretManagerProbe(rt.fetcher))
	return nil
}

func secretManagerProbe(fetcher *secrets.Fetcher) repositories.DependencyProbe {
	return repositories.DependencyProbe{
		Name:    "secretManager",
		Timeout: probeTimeout,
		Check: func(ctx context.Context) error {
			_, err := fetcher.ResolveSecret(ctx, secretHealthRef)
			if err == nil {
				return nil
			}
			// A missing health secret still proves the service is reachable.
			if st, ok := status.FromError(err); ok && st.Code() == codes.NotFound {
				return nil
			}
			return err
		},
	}
}
