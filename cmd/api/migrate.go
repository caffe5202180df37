package main

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	ppostgres "github.com/myshop/api/internal/platform/postgres"
)

func migrateCommand(logger *zap.Logger) *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "manage the database schema",
		Subcommands: []*cli.Command{
			{
				Name:  "up",
				Usage: "apply all pending migrations",
				Action: func(c *cli.Context) error {
					return withDatabase(c, logger, func(ctx context.Context, provider *ppostgres.Provider) error {
						return migrateUp(ctx, provider, logger)
					})
				},
			},
			{
				Name:  "down",
				Usage: "roll back migrations",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "steps", Value: 1, Usage: "number of migrations to roll back"},
				},
				Action: func(c *cli.Context) error {
					steps := c.Int("steps")
					return withDatabase(c, logger, func(ctx context.Context, provider *ppostgres.Provider) error {
						return withMigrator(ctx, provider, func(m *ppostgres.Migrator) error {
							if err := m.Down(steps); err != nil {
								return err
							}
							return logVersion(logger, m, "migrations rolled back")
						})
					})
				},
			},
			{
				Name:  "version",
				Usage: "print the current schema version",
				Action: func(c *cli.Context) error {
					return withDatabase(c, logger, func(ctx context.Context, provider *ppostgres.Provider) error {
						return withMigrator(ctx, provider, func(m *ppostgres.Migrator) error {
							return logVersion(logger, m, "schema version")
						})
					})
				},
			},
		},
	}
}

func withDatabase(c *cli.Context, logger *zap.Logger, fn func(context.Context, *ppostgres.Provider) error) error {
	ctx := c.Context
	rt, err := loadRuntime(ctx, c, logger)
	if err != nil {
		return err
	}
	defer rt.Close(logger)

	provider, err := ppostgres.Open(ctx, rt.cfg.Database)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer func() {
		if err := provider.Close(); err != nil {
			logger.Warn("database close error", zap.Error(err))
		}
	}()
	return fn(ctx, provider)
}

func withMigrator(ctx context.Context, provider *ppostgres.Provider, fn func(*ppostgres.Migrator) error) error {
	migrator, err := ppostgres.NewMigrator(ctx, provider.DB())
	if err != nil {
		return err
	}
	defer migrator.Close()
	return fn(migrator)
}

func migrateUp(ctx context.Context, provider *ppostgres.Provider, logger *zap.Logger) error {
	return withMigrator(ctx, provider, func(m *ppostgres.Migrator) error {
		if err := m.Up(); err != nil {
			return err
		}
		return logVersion(logger, m, "migrations applied")
	})
}

func logVersion(logger *zap.Logger, m *ppostgres.Migrator, msg string) error {
	version, dirty, err := m.Version()
	if err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	logger.Info(msg, zap.Uint("version", version), zap.Bool("dirty", dirty))
	return nil
}
