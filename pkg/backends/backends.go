// Package backends builds a connector from a types.Config. It is the only
// package that knows every adapter.
package backends

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mesh-intelligence/connector/internal/mongodb"
	"github.com/mesh-intelligence/connector/internal/sqldb"
	"github.com/mesh-intelligence/connector/pkg/connector"
	"github.com/mesh-intelligence/connector/pkg/entity"
	"github.com/mesh-intelligence/connector/pkg/types"
)

type options struct {
	logger *slog.Logger
	newID  func() string
}

// Option configures Open.
type Option func(*options)

// WithLogger sets the logger of the adapter and the connector.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithIDGenerator replaces the adapter's id generator.
func WithIDGenerator(fn func() string) Option {
	return func(o *options) { o.newID = fn }
}

// NewRegistry returns a registry resolving FromConfig tenant strategies
// with cfg.TenantStrategies.
func NewRegistry(cfg types.Config) (*entity.Registry, error) {
	strategies := make(map[string]entity.TenantStrategy, len(cfg.TenantStrategies))
	for domain, name := range cfg.TenantStrategies {
		s, err := entity.ParseTenantStrategy(name)
		if err != nil {
			return nil, fmt.Errorf("tenant strategy for %q: %w", domain, err)
		}
		strategies[domain] = s
	}
	return entity.NewRegistry(entity.WithTenantStrategies(strategies)), nil
}

// OpenBackend validates cfg and connects the adapter it names.
func OpenBackend(ctx context.Context, cfg types.Config, opts ...Option) (connector.Backend, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := options{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}

	switch cfg.Backend {
	case types.BackendMongoDB:
		mopts := []mongodb.Option{mongodb.WithLogger(o.logger)}
		if o.newID != nil {
			mopts = append(mopts, mongodb.WithIDGenerator(o.newID))
		}
		b, err := mongodb.Open(ctx, cfg.DSN, cfg.Database, mopts...)
		if err != nil {
			return nil, err
		}
		return b, nil
	case types.BackendPostgres, types.BackendSQLite:
		sopts := []sqldb.Option{
			sqldb.WithLogger(o.logger),
			sqldb.WithIDFormat(cfg.IDFormat),
			sqldb.WithMaxOpenConns(cfg.MaxOpenConns),
		}
		if o.newID != nil {
			sopts = append(sopts, sqldb.WithIDGenerator(o.newID))
		}
		dialect := sqldb.SQLite()
		if cfg.Backend == types.BackendPostgres {
			dialect = sqldb.Postgres(cfg.IDFormat)
		}
		b, err := sqldb.Open(ctx, dialect, cfg.DSN, sopts...)
		if err != nil {
			return nil, err
		}
		return b, nil
	}
	return nil, fmt.Errorf("%w: %q", types.ErrBackendUnknown, cfg.Backend)
}

// Open connects the backend named by cfg and wraps it in a connector over
// reg.
func Open(ctx context.Context, cfg types.Config, reg *entity.Registry, opts ...Option) (*connector.Connector, error) {
	b, err := OpenBackend(ctx, cfg, opts...)
	if err != nil {
		return nil, err
	}
	o := options{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	return connector.New(b, reg,
		connector.WithLogger(o.logger),
		connector.WithAutoCreate(cfg.AutoCreate),
	), nil
}

// Ping verifies connectivity of a backend that supports it.
func Ping(ctx context.Context, b connector.Backend) error {
	p, ok := b.(interface{ Ping(context.Context) error })
	if !ok {
		return nil
	}
	return p.Ping(ctx)
}
