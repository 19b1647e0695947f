package connector

import (
	"context"

	"github.com/mesh-intelligence/connector/pkg/entity"
	"github.com/mesh-intelligence/connector/pkg/expr"
	"github.com/mesh-intelligence/connector/pkg/patch"
	"github.com/mesh-intelligence/connector/pkg/types"
)

// Backend is implemented by each storage adapter. The connector resolves the
// descriptor and storage name, guarantees the storage exists, and then calls
// exactly one hook. Conditions and patches are passed uncompiled; each
// adapter compiles them in its own dialect. A nil condition matches every
// row.
type Backend interface {
	// Name identifies the backend in logs and errors.
	Name() string

	// EnsureStorage creates the storage unit and the descriptor's indexes
	// when they do not exist.
	EnsureStorage(ctx context.Context, d *entity.Descriptor, storage string) error

	// DropStorage removes a storage unit and its data.
	DropStorage(ctx context.Context, storage string) error

	// RunFind returns the matching records and, when page asks for it, the
	// total number of matches.
	RunFind(ctx context.Context, d *entity.Descriptor, storage string, where expr.Condition, page *types.PageRequest) ([]entity.Record, *int64, error)

	// RunCreate inserts rec. When the id is generated the record carries no
	// id and the adapter synthesizes one. It returns the stored record.
	// Uniqueness violations are reported as types.ErrDuplicatedKey.
	RunCreate(ctx context.Context, d *entity.Descriptor, storage string, rec entity.Record) (entity.Record, error)

	// RunConditionalUpdate applies patches to the rows matching where and
	// returns how many rows matched.
	RunConditionalUpdate(ctx context.Context, d *entity.Descriptor, storage string, where expr.Condition, patches []patch.Patch) (int64, error)

	// RunPatchOne atomically patches the first match in sort order and
	// returns it after the patch, or nil when nothing matched.
	RunPatchOne(ctx context.Context, d *entity.Descriptor, storage string, where expr.Condition, sort []types.Sort, patches []patch.Patch) (entity.Record, error)

	// RunPatchManyAtomic selects the matching ids, then patches each row on
	// its own, re-qualified by the filter. It returns the patched rows.
	RunPatchManyAtomic(ctx context.Context, d *entity.Descriptor, storage string, where expr.Condition, page *types.PageRequest, patches []patch.Patch) ([]entity.Record, error)

	// RunPatchManyNonAtomic patches every match in one bulk statement and
	// returns the modified count.
	RunPatchManyNonAtomic(ctx context.Context, d *entity.Descriptor, storage string, where expr.Condition, page *types.PageRequest, patches []patch.Patch) (int64, error)

	// RunDelete removes the matching rows and returns how many were removed.
	RunDelete(ctx context.Context, d *entity.Descriptor, storage string, where expr.Condition) (int64, error)

	// RunTextSearch queries the native text index idx.
	RunTextSearch(ctx context.Context, d *entity.Descriptor, storage string, idx entity.Index, query string, page *types.PageRequest) ([]entity.Record, *int64, error)

	// Close releases the driver handle.
	Close() error
}
