// Package connector runs entity operations against a pluggable Backend.
// It resolves descriptors and storage names, creates storage lazily (once
// per storage name), implements optimistic updates and the text search
// fallback, and maps records back to typed entities.
package connector

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"

	"github.com/mesh-intelligence/connector/pkg/entity"
	"github.com/mesh-intelligence/connector/pkg/expr"
	"github.com/mesh-intelligence/connector/pkg/types"
)

// Connector is safe for concurrent use.
type Connector struct {
	backend    Backend
	registry   *entity.Registry
	logger     *slog.Logger
	autoCreate bool
	storages   *storageCache
}

// Option configures a Connector.
type Option func(*Connector)

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *Connector) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithAutoCreate controls lazy storage creation. It is on by default; when
// off, storage units are assumed to exist.
func WithAutoCreate(on bool) Option {
	return func(c *Connector) { c.autoCreate = on }
}

// New returns a connector over backend for the entities declared in
// registry.
func New(backend Backend, registry *entity.Registry, opts ...Option) *Connector {
	c := &Connector{
		backend:    backend,
		registry:   registry,
		logger:     slog.Default(),
		autoCreate: true,
		storages:   newStorageCache(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Backend returns the underlying adapter.
func (c *Connector) Backend() Backend { return c.backend }

// Registry returns the entity registry.
func (c *Connector) Registry() *entity.Registry { return c.registry }

// Close closes the backend.
func (c *Connector) Close() error {
	return c.backend.Close()
}

// EnsureStorage creates the storage unit of T for tenant (nil for shared
// storage) if it was not created yet.
func (c *Connector) EnsureStorage(ctx context.Context, rt reflect.Type, tenant *string) error {
	d, err := c.registry.Describe(rt)
	if err != nil {
		return err
	}
	return c.ensure(ctx, d, d.StorageNameForTenant(tenant))
}

// DropStorage removes a storage unit by name and forgets that it was
// created.
func (c *Connector) DropStorage(ctx context.Context, storage string) error {
	if err := c.backend.DropStorage(ctx, storage); err != nil {
		return fmt.Errorf("dropping %s: %w", storage, err)
	}
	c.storages.forget(storage)
	c.logger.Info("storage dropped", "backend", c.backend.Name(), "storage", storage)
	return nil
}

func (c *Connector) ensure(ctx context.Context, d *entity.Descriptor, storage string) error {
	if !c.autoCreate {
		return nil
	}
	return c.storages.ensure(ctx, storage, func(ctx context.Context) error {
		c.logger.Info("creating storage", "backend", c.backend.Name(), "storage", storage)
		if err := c.backend.EnsureStorage(ctx, d, storage); err != nil {
			c.logger.Warn("storage creation failed", "backend", c.backend.Name(), "storage", storage, "error", err)
			return fmt.Errorf("creating %s: %w", storage, err)
		}
		return nil
	})
}

// forCondition resolves the descriptor of rt and the storage addressed by
// where, creating it if needed.
func (c *Connector) forCondition(ctx context.Context, rt reflect.Type, where expr.Condition) (*entity.Descriptor, string, error) {
	d, err := c.registry.Describe(rt)
	if err != nil {
		return nil, "", err
	}
	storage, err := d.StorageNameForCondition(where)
	if err != nil {
		return nil, "", err
	}
	if err := c.ensure(ctx, d, storage); err != nil {
		return nil, "", err
	}
	return d, storage, nil
}

// forEntity resolves the descriptor of v's type and the storage holding v.
func (c *Connector) forEntity(ctx context.Context, v any) (*entity.Descriptor, string, error) {
	d, err := c.registry.Describe(reflect.TypeOf(v))
	if err != nil {
		return nil, "", err
	}
	storage, err := d.StorageNameForEntity(v)
	if err != nil {
		return nil, "", err
	}
	if err := c.ensure(ctx, d, storage); err != nil {
		return nil, "", err
	}
	return d, storage, nil
}

// checkSort rejects sort orders on properties that are not stored.
func checkSort(d *entity.Descriptor, sorts []types.Sort) error {
	for _, s := range sorts {
		if _, ok := d.Lookup(s.Field); !ok {
			return fmt.Errorf("%w: cannot sort %s by %q", types.ErrUnknownField, d.StorageName, s.Field)
		}
	}
	return nil
}

func typeOf[T any]() reflect.Type {
	return reflect.TypeOf((*T)(nil)).Elem()
}

func decode[T any](d *entity.Descriptor, recs []entity.Record) ([]T, error) {
	out := make([]T, len(recs))
	for i, rec := range recs {
		if err := d.Decode(rec, &out[i]); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func decodeOne[T any](d *entity.Descriptor, rec entity.Record) (*T, error) {
	if rec == nil {
		return nil, nil
	}
	v := new(T)
	if err := d.Decode(rec, v); err != nil {
		return nil, err
	}
	return v, nil
}

func idCondition(d *entity.Descriptor, id any) (expr.Condition, error) {
	if d.ID == nil {
		return nil, fmt.Errorf("%s: %w", d.StorageName, types.ErrMissingIDProperty)
	}
	return expr.Field(d.ID.Name).Eq(id), nil
}
