package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/myshop/api/internal/platform/config"
	"github.com/myshop/api/internal/platform/observability"
	"github.com/myshop/api/internal/platform/secrets"
	"github.com/myshop/api/internal/services"
)

const serviceName = "myshop-api"

func main() {
	env, _ := config.EnvironmentValues()
	baseLogger, err := observability.NewLogger(logLevel(env), serviceName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()

	logger := baseLogger.Named("api")
	ctx := observability.WithLogger(context.Background(), logger)

	if err := newApp(logger).RunContext(ctx, os.Args); err != nil {
		logger.Error("command failed", zap.Error(err))
		_ = baseLogger.Sync()
		os.Exit(1)
	}
}

func newApp(logger *zap.Logger) *cli.App {
	return &cli.App{
		Name:  "api",
		Usage: "storefront backend",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "env-file",
				Value:   ".env",
				Usage:   "dotenv file merged beneath the process environment",
				EnvVars: []string{"API_ENV_FILE"},
			},
		},
		Commands: []*cli.Command{
			serveCommand(logger),
			migrateCommand(logger),
		},
	}
}

// runtimeEnv is the configuration shared by every command.
type runtimeEnv struct {
	env     map[string]string
	cfg     config.Config
	fetcher *secrets.Fetcher
	build   services.BuildInfo
}

func (r *runtimeEnv) Close(logger *zap.Logger) {
	if r == nil || r.fetcher == nil {
		return
	}
	if err := r.fetcher.Close(); err != nil {
		logger.Warn("secret fetcher close error", zap.Error(err))
	}
}

func loadRuntime(ctx context.Context, c *cli.Context, logger *zap.Logger) (*runtimeEnv, error) {
	startedAt := time.Now().UTC()
	envFile := c.String("env-file")

	env, err := config.EnvironmentValues(config.WithEnvFile(envFile))
	if err != nil {
		return nil, fmt.Errorf("read environment values: %w", err)
	}

	fetcher, err := newSecretFetcher(ctx, logger, env)
	if err != nil {
		return nil, fmt.Errorf("initialise secret fetcher: %w", err)
	}

	cfg, err := config.Load(ctx,
		config.WithEnvFile(envFile),
		config.WithSecretResolver(fetcher),
		config.WithRequiredSecrets(requiredSecretNames()...),
	)
	if err != nil {
		_ = fetcher.Close()
		var missing *config.MissingSecretsError
		if errors.As(err, &missing) {
			logger.Error("missing required secrets", zap.Strings("secrets", missing.RedactedNames()))
		}
		return nil, fmt.Errorf("load configuration: %w", err)
	}

	return &runtimeEnv{
		env:     env,
		cfg:     cfg,
		fetcher: fetcher,
		build:   buildInfoFromEnv(env, startedAt),
	}, nil
}

func newSecretFetcher(ctx context.Context, logger *zap.Logger, env map[string]string) (*secrets.Fetcher, error) {
	lookup := func(key string) string {
		return strings.TrimSpace(env[key])
	}

	fallbackPath := lookup("API_SECRETS_FALLBACK_FILE")
	if fallbackPath == "" {
		fallbackPath = ".secrets.local"
	}

	opts := []secrets.Option{
		secrets.WithLogger(logger.Named("secrets")),
		secrets.WithFallbackFile(fallbackPath),
	}
	if project := lookup("API_SECRETS_PROJECT_ID"); project != "" {
		opts = append(opts, secrets.WithProject(project))
	}
	if credentialsFile := lookup("API_GOOGLE_CREDENTIALS_FILE"); credentialsFile != "" {
		opts = append(opts, secrets.WithClientOptions(option.WithCredentialsFile(credentialsFile)))
	}
	return secrets.NewFetcher(ctx, opts...)
}

func requiredSecretNames() []string {
	return []string{"Auth.JWTSecret", "Database.URL"}
}

func buildInfoFromEnv(env map[string]string, started time.Time) services.BuildInfo {
	version := strings.TrimSpace(env["API_BUILD_VERSION"])
	if version == "" {
		version = "dev"
	}
	return services.BuildInfo{
		Version:   version,
		StartedAt: started,
	}
}

func logLevel(env map[string]string) string {
	if level := strings.TrimSpace(env["API_LOG_LEVEL"]); level != "" {
		return level
	}
	return strings.TrimSpace(env["LOG_LEVEL"])
}

func googleClientOptions(env map[string]string) []option.ClientOption {
	if credentialsFile := strings.TrimSpace(env["API_GOOGLE_CREDENTIALS_FILE"]); credentialsFile != "" {
		return []option.ClientOption{option.WithCredentialsFile(credentialsFile)}
	}
	return nil
}
