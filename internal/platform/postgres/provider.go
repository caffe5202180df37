package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/myshop/api/internal/platform/config"
)

const (
	driverName         = "postgres"
	defaultPingTimeout = 10 * time.Second
)

// ErrProviderClosed is returned when the pool is used after Close.
var ErrProviderClosed = errors.New("postgres: provider is closed")

// Provider owns the shared connection pool.
type Provider struct {
	db          *sqlx.DB
	pingTimeout time.Duration
}

// ProviderOption customises the Provider behaviour.
type ProviderOption func(*Provider)

// WithPingTimeout overrides the timeout used for the initial and health pings.
func WithPingTimeout(timeout time.Duration) ProviderOption {
	return func(p *Provider) {
		if timeout > 0 {
			p.pingTimeout = timeout
		}
	}
}

// Open connects to the database described by cfg and verifies connectivity.
func Open(ctx context.Context, cfg config.DatabaseConfig, opts ...ProviderOption) (*Provider, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, errors.New("postgres: database url is required")
	}
	db, err := sqlx.Open(driverName, cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	p := NewProvider(db, opts...)
	if err := p.Ping(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return p, nil
}

// NewProvider wraps an existing pool.
func NewProvider(db *sqlx.DB, opts ...ProviderOption) *Provider {
	p := &Provider{db: db, pingTimeout: defaultPingTimeout}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p
}

// DB returns the underlying pool.
func (p *Provider) DB() *sqlx.DB {
	if p == nil {
		return nil
	}
	return p.db
}

// Ping verifies that the database is reachable.
func (p *Provider) Ping(ctx context.Context) error {
	if p == nil || p.db == nil {
		return ErrProviderClosed
	}
	pingCtx, cancel := context.WithTimeout(ctx, p.pingTimeout)
	defer cancel()
	return WrapError("ping", p.db.PingContext(pingCtx))
}

// Close releases the pool.
func (p *Provider) Close() error {
	if p == nil || p.db == nil {
		return nil
	}
	return p.db.Close()
}
