package connector

import (
	"context"
	"errors"
	"fmt"
	"reflect"

	"github.com/mesh-intelligence/connector/pkg/entity"
	"github.com/mesh-intelligence/connector/pkg/expr"
	"github.com/mesh-intelligence/connector/pkg/patch"
	"github.com/mesh-intelligence/connector/pkg/types"
)

var int64Type = entity.Type{Kind: entity.KindInt, Go: reflect.TypeOf(int64(0))}

// Create inserts v. A generated id is synthesized by the backend and written
// back to v; the version starts at 1.
func Create[T any](ctx context.Context, c *Connector, v *T) error {
	d, storage, err := c.forEntity(ctx, v)
	if err != nil {
		return err
	}
	rec, err := d.Values(v)
	if err != nil {
		return err
	}
	if d.ID != nil && d.ID.Generated {
		delete(rec, d.ID.Name)
	}
	if d.Version != nil {
		rec[d.Version.Name] = int64(1)
	}

	c.logger.Debug("create", "backend", c.backend.Name(), "storage", storage)
	stored, err := c.backend.RunCreate(ctx, d, storage, rec)
	if err != nil {
		return fmt.Errorf("creating in %s: %w", storage, err)
	}
	if d.ID != nil && d.ID.Generated {
		if err := d.Set(v, d.ID, stored.ID(d)); err != nil {
			return err
		}
	}
	if d.Version != nil {
		if err := d.Set(v, d.Version, 1); err != nil {
			return err
		}
	}
	return nil
}

// CreateMany inserts each entity in order and stops at the first error.
func CreateMany[T any](ctx context.Context, c *Connector, vs []*T) error {
	for i, v := range vs {
		if err := Create(ctx, c, v); err != nil {
			return fmt.Errorf("entity %d: %w", i, err)
		}
	}
	return nil
}

// Update writes every field of v, provided the stored version still equals
// v's version, and advances v's version. It fails with
// types.ErrEntityNotFound when no row has v's id and with
// types.ErrVersionConflict when the row has moved on.
func Update[T any](ctx context.Context, c *Connector, v *T) error {
	d, storage, err := c.forEntity(ctx, v)
	if err != nil {
		return err
	}
	id, err := entityID(d, v)
	if err != nil {
		return err
	}
	byID := expr.Field(d.ID.Name).Eq(id)
	where := expr.Condition(byID)

	var version int64
	if d.Version != nil {
		if version, err = currentVersion(d, v); err != nil {
			return err
		}
		where = expr.AllOf(byID, expr.Field(d.Version.Name).Eq(version))
	}

	sets, err := patch.Fields(d, v)
	if err != nil {
		return err
	}
	c.logger.Debug("update", "backend", c.backend.Name(), "storage", storage, "id", id, "version", version)
	n, err := c.backend.RunConditionalUpdate(ctx, d, storage, where, sets)
	if err != nil {
		return fmt.Errorf("updating %s in %s: %w", fmt.Sprint(id), storage, err)
	}
	if n == 0 {
		return c.missedUpdate(ctx, d, storage, byID, id)
	}
	if d.Version != nil {
		return d.Set(v, d.Version, version+1)
	}
	return nil
}

// missedUpdate tells an absent row from a stale version after a
// conditional update matched nothing.
func (c *Connector) missedUpdate(ctx context.Context, d *entity.Descriptor, storage string, byID expr.Condition, id any) error {
	if d.Version == nil {
		return fmt.Errorf("%w: %v in %s", types.ErrEntityNotFound, id, storage)
	}
	recs, _, err := c.backend.RunFind(ctx, d, storage, byID, &types.PageRequest{PageSize: 1})
	if err != nil {
		return fmt.Errorf("probing %v in %s: %w", id, storage, err)
	}
	if len(recs) == 0 {
		return fmt.Errorf("%w: %v in %s", types.ErrEntityNotFound, id, storage)
	}
	return fmt.Errorf("%w: %v in %s", types.ErrVersionConflict, id, storage)
}

// Save creates v when its id is the zero value and updates it otherwise.
func Save[T any](ctx context.Context, c *Connector, v *T) error {
	d, err := c.registry.Describe(typeOf[T]())
	if err != nil {
		return err
	}
	zero, err := d.IsZeroID(v)
	if err != nil {
		return err
	}
	if zero {
		return Create(ctx, c, v)
	}
	return Update(ctx, c, v)
}

// Delete removes the entities matching where and returns how many were
// removed. A nil condition removes every entity of the storage unit.
func Delete[T any](ctx context.Context, c *Connector, where expr.Condition) (int64, error) {
	d, storage, err := c.forCondition(ctx, typeOf[T](), where)
	if err != nil {
		return 0, err
	}
	c.logger.Debug("delete", "backend", c.backend.Name(), "storage", storage, "where", where)
	n, err := c.backend.RunDelete(ctx, d, storage, where)
	if err != nil {
		return 0, fmt.Errorf("deleting from %s: %w", storage, err)
	}
	return n, nil
}

// DeleteEntity removes v by id. It fails with types.ErrEntityNotFound when
// nothing was removed.
func DeleteEntity[T any](ctx context.Context, c *Connector, v *T) error {
	d, storage, err := c.forEntity(ctx, v)
	if err != nil {
		return err
	}
	id, err := entityID(d, v)
	if err != nil {
		return err
	}
	n, err := c.backend.RunDelete(ctx, d, storage, expr.Field(d.ID.Name).Eq(id))
	if err != nil {
		return fmt.Errorf("deleting %v from %s: %w", id, storage, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %v in %s", types.ErrEntityNotFound, id, storage)
	}
	return nil
}

// DropTenantStorage removes the storage unit of one tenant. It does nothing
// for entities that share storage across tenants.
func DropTenantStorage[T any](ctx context.Context, c *Connector, tenant string) error {
	d, err := c.registry.Describe(typeOf[T]())
	if err != nil {
		return err
	}
	if d.Tenant == nil || d.TenantStrategy != entity.SeparatedTenant {
		return nil
	}
	if tenant == "" {
		return fmt.Errorf("%w: %s", types.ErrMissingTenant, d.StorageName)
	}
	return c.DropStorage(ctx, d.StorageNameForTenant(&tenant))
}

func entityID(d *entity.Descriptor, v any) (any, error) {
	if d.ID == nil {
		return nil, fmt.Errorf("%s: %w", d.StorageName, types.ErrMissingIDProperty)
	}
	id, err := d.Get(v, d.ID)
	if err != nil {
		return nil, err
	}
	if reflect.ValueOf(id).IsZero() {
		return nil, fmt.Errorf("%w: %s has an empty id", types.ErrInvalidID, d.StorageName)
	}
	return id, nil
}

func currentVersion(d *entity.Descriptor, v any) (int64, error) {
	current, err := d.Get(v, d.Version)
	if err != nil {
		return 0, err
	}
	cv, err := entity.Convert(current, int64Type)
	if err != nil {
		return 0, err
	}
	return cv.(int64), nil
}

// IsConflict reports whether err is an expected outcome of an optimistic
// write rather than a failure.
func IsConflict(err error) bool {
	return errors.Is(err, types.ErrVersionConflict) ||
		errors.Is(err, types.ErrEntityNotFound) ||
		errors.Is(err, types.ErrDuplicatedKey)
}
