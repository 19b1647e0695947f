package connector

import (
	"context"
	"fmt"

	"github.com/mesh-intelligence/connector/pkg/expr"
	"github.com/mesh-intelligence/connector/pkg/patch"
	"github.com/mesh-intelligence/connector/pkg/types"
)

// PatchOne atomically applies patches to the first entity matching where
// and returns it as stored after the patch. It returns nil when nothing
// matched. The version, when the entity has one, is incremented.
func PatchOne[T any](ctx context.Context, c *Connector, where expr.Condition, patches []patch.Patch, sort ...types.Sort) (*T, error) {
	d, storage, err := c.forCondition(ctx, typeOf[T](), where)
	if err != nil {
		return nil, err
	}
	if err := checkSort(d, sort); err != nil {
		return nil, err
	}
	c.logger.Debug("patch one", "backend", c.backend.Name(), "storage", storage, "where", where)
	rec, err := c.backend.RunPatchOne(ctx, d, storage, where, sort, patches)
	if err != nil {
		return nil, fmt.Errorf("patching in %s: %w", storage, err)
	}
	return decodeOne[T](d, rec)
}

// PatchOneByID is PatchOne on the entity with the given id.
func PatchOneByID[T any](ctx context.Context, c *Connector, id any, patches []patch.Patch) (*T, error) {
	d, err := c.registry.Describe(typeOf[T]())
	if err != nil {
		return nil, err
	}
	where, err := idCondition(d, id)
	if err != nil {
		return nil, err
	}
	return PatchOne[T](ctx, c, where, patches)
}

// PatchEntity applies patches to the stored row of v, provided its version
// still equals v's version, and decodes the patched row back into v. It
// fails with types.ErrMissingVersionProperty for entities without a
// version, and like Update when the row is absent or has moved on.
func PatchEntity[T any](ctx context.Context, c *Connector, v *T, patches []patch.Patch) error {
	d, storage, err := c.forEntity(ctx, v)
	if err != nil {
		return err
	}
	if d.Version == nil {
		return fmt.Errorf("%s: %w", d.StorageName, types.ErrMissingVersionProperty)
	}
	id, err := entityID(d, v)
	if err != nil {
		return err
	}
	version, err := currentVersion(d, v)
	if err != nil {
		return err
	}
	byID := expr.Field(d.ID.Name).Eq(id)
	where := expr.AllOf(byID, expr.Field(d.Version.Name).Eq(version))
	c.logger.Debug("patch entity", "backend", c.backend.Name(), "storage", storage, "id", id, "version", version)
	rec, err := c.backend.RunPatchOne(ctx, d, storage, where, nil, patches)
	if err != nil {
		return fmt.Errorf("patching %v in %s: %w", id, storage, err)
	}
	if rec == nil {
		return c.missedUpdate(ctx, d, storage, byID, id)
	}
	return d.Decode(rec, v)
}

// PatchManyAtomic patches every entity matching where (within page), each
// row atomically on its own, and returns the patched entities. Rows that
// stop matching between selection and update are skipped. Concurrent
// writers may interleave between rows.
func PatchManyAtomic[T any](ctx context.Context, c *Connector, where expr.Condition, page *types.PageRequest, patches []patch.Patch) ([]T, error) {
	if page.Paged() && page.PageSize == 1 && page.Page == 0 {
		v, err := PatchOne[T](ctx, c, where, patches, page.Sort...)
		if err != nil || v == nil {
			return nil, err
		}
		return []T{*v}, nil
	}
	d, storage, err := c.forCondition(ctx, typeOf[T](), where)
	if err != nil {
		return nil, err
	}
	if err := checkSort(d, page.Sorts()); err != nil {
		return nil, err
	}
	c.logger.Debug("patch many atomic", "backend", c.backend.Name(), "storage", storage, "where", where)
	recs, err := c.backend.RunPatchManyAtomic(ctx, d, storage, where, page, patches)
	if err != nil {
		return nil, fmt.Errorf("patching in %s: %w", storage, err)
	}
	return decode[T](d, recs)
}

// PatchManyNonAtomic patches every entity matching where (within page) in
// one bulk statement and returns the modified count.
func PatchManyNonAtomic[T any](ctx context.Context, c *Connector, where expr.Condition, page *types.PageRequest, patches []patch.Patch) (int64, error) {
	d, storage, err := c.forCondition(ctx, typeOf[T](), where)
	if err != nil {
		return 0, err
	}
	if err := checkSort(d, page.Sorts()); err != nil {
		return 0, err
	}
	c.logger.Debug("patch many", "backend", c.backend.Name(), "storage", storage, "where", where)
	n, err := c.backend.RunPatchManyNonAtomic(ctx, d, storage, where, page, patches)
	if err != nil {
		return 0, fmt.Errorf("patching in %s: %w", storage, err)
	}
	return n, nil
}
