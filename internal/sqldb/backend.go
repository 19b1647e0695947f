package sqldb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"strings"
	"time"

	"github.com/mesh-intelligence/connector/pkg/entity"
	"github.com/mesh-intelligence/connector/pkg/expr"
	"github.com/mesh-intelligence/connector/pkg/patch"
	"github.com/mesh-intelligence/connector/pkg/types"
)

// pingTimeout bounds the connectivity check in Open.
const pingTimeout = 5 * time.Second

// Backend implements connector.Backend over database/sql.
type Backend struct {
	db           *sql.DB
	dialect      Dialect
	logger       *slog.Logger
	newID        func() string
	maxOpenConns int
}

// Option configures a Backend.
type Option func(*Backend)

// WithLogger sets the logger used for statements and storage events.
func WithLogger(l *slog.Logger) Option {
	return func(b *Backend) { b.logger = l }
}

// WithIDFormat selects the generator for generated ids: uuid (v7) or ulid.
func WithIDFormat(format string) Option {
	return func(b *Backend) { b.newID = idGenerator(format) }
}

// WithIDGenerator replaces the id generator.
func WithIDGenerator(fn func() string) Option {
	return func(b *Backend) { b.newID = fn }
}

// WithMaxOpenConns limits the pool. SQLite always uses one connection.
func WithMaxOpenConns(n int) Option {
	return func(b *Backend) { b.maxOpenConns = n }
}

// Open connects to dsn with the dialect's driver and verifies the
// connection.
func Open(ctx context.Context, dialect Dialect, dsn string, opts ...Option) (*Backend, error) {
	db, err := sql.Open(dialect.DriverName(), dialect.DSN(dsn))
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", dialect.Name(), err)
	}
	b := New(db, dialect, opts...)
	pctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := b.Ping(pctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return b, nil
}

// New wraps an open handle.
func New(db *sql.DB, dialect Dialect, opts ...Option) *Backend {
	b := &Backend{
		db:      db,
		dialect: dialect,
		logger:  slog.Default(),
		newID:   newUUID,
	}
	for _, opt := range opts {
		opt(b)
	}
	dialect.Configure(db)
	if b.maxOpenConns > 0 && dialect.Name() != types.BackendSQLite {
		db.SetMaxOpenConns(b.maxOpenConns)
	}
	return b
}

// Name returns the dialect name.
func (b *Backend) Name() string { return b.dialect.Name() }

// Ping verifies the connection.
func (b *Backend) Ping(ctx context.Context) error {
	if err := b.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping %s: %w", b.Name(), err)
	}
	return nil
}

// Close closes the handle.
func (b *Backend) Close() error { return b.db.Close() }

// EnsureStorage creates the table and its indexes. Statements run one by
// one; objects created concurrently by another process are tolerated.
func (b *Backend) EnsureStorage(ctx context.Context, d *entity.Descriptor, table string) error {
	stmts, err := schema(b.dialect, d, table)
	if err != nil {
		return err
	}
	for _, stmt := range stmts {
		b.logger.Debug("ddl", "backend", b.Name(), "sql", stmt)
		if _, err := b.db.ExecContext(ctx, stmt); err != nil {
			if b.dialect.IsExistingObject(err) {
				b.logger.Debug("ddl skipped, already exists", "backend", b.Name(), "storage", table, "error", err)
				continue
			}
			return fmt.Errorf("create %s: %w", table, err)
		}
	}
	b.logger.Info("storage ready", "backend", b.Name(), "storage", table)
	return nil
}

// DropStorage drops the table and everything created for it.
func (b *Backend) DropStorage(ctx context.Context, table string) error {
	if err := b.dialect.DropStorage(ctx, b.db, table); err != nil {
		return fmt.Errorf("drop %s: %w", table, err)
	}
	b.logger.Info("storage dropped", "backend", b.Name(), "storage", table)
	return nil
}

func clause(where string, ok bool) string {
	if !ok {
		return ""
	}
	return " WHERE " + where
}

// RunFind selects the matching rows.
func (b *Backend) RunFind(ctx context.Context, d *entity.Descriptor, table string, cond expr.Condition, page *types.PageRequest) ([]entity.Record, *int64, error) {
	c := newCompiler(d, b.dialect)
	where, ok, err := c.where(cond)
	if err != nil {
		return nil, nil, err
	}
	order, err := c.orderBy(page.Sorts(), "")
	if err != nil {
		return nil, nil, err
	}
	recs, err := b.query(ctx, b.db, d, "SELECT * FROM "+quote(table)+clause(where, ok)+order+limit(page), c.args.values)
	if err != nil {
		return nil, nil, fmt.Errorf("find %s: %w", table, err)
	}
	if !page.Total() {
		return recs, nil, nil
	}
	total, err := b.count(ctx, "SELECT COUNT(*) FROM "+quote(table)+clause(where, ok), c.args.values)
	if err != nil {
		return nil, nil, fmt.Errorf("count %s: %w", table, err)
	}
	return recs, &total, nil
}

// RunCreate inserts rec, generating the id when the descriptor says so.
func (b *Backend) RunCreate(ctx context.Context, d *entity.Descriptor, table string, rec entity.Record) (entity.Record, error) {
	out := make(entity.Record, len(rec)+1)
	for k, v := range rec {
		out[k] = v
	}
	if d.ID != nil && d.ID.Generated {
		if id, ok := out[d.ID.Name]; !ok || isZero(id) {
			out[d.ID.Name] = b.newID()
		}
	}

	c := newCompiler(d, b.dialect)
	var cols, values []string
	for _, p := range d.Stored() {
		v, ok := out[p.Name]
		if !ok {
			continue
		}
		enc, err := c.value(p, v)
		if err != nil {
			return nil, err
		}
		cols = append(cols, quote(columnName(p)))
		values = append(values, c.args.add(enc))
	}
	stmt := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", quote(table), strings.Join(cols, ", "), strings.Join(values, ", "))
	if err := b.exec(ctx, b.db, stmt, c.args.values, nil); err != nil {
		return nil, b.writeError("create", table, err)
	}
	return out, nil
}

func isZero(v any) bool {
	return v == nil || reflect.ValueOf(v).IsZero()
}

// RunConditionalUpdate applies patches to every row matching cond.
func (b *Backend) RunConditionalUpdate(ctx context.Context, d *entity.Descriptor, table string, cond expr.Condition, patches []patch.Patch) (int64, error) {
	c := newCompiler(d, b.dialect)
	set, err := c.set(patches)
	if err != nil {
		return 0, err
	}
	where, ok, err := c.where(cond)
	if err != nil {
		return 0, err
	}
	var n int64
	if err := b.exec(ctx, b.db, "UPDATE "+quote(table)+" SET "+set+clause(where, ok), c.args.values, &n); err != nil {
		return 0, b.writeError("update", table, err)
	}
	return n, nil
}

// RunPatchOne locks the first match in sort order and patches it in one
// transaction.
func (b *Backend) RunPatchOne(ctx context.Context, d *entity.Descriptor, table string, cond expr.Condition, sort []types.Sort, patches []patch.Patch) (entity.Record, error) {
	if d.ID == nil {
		return nil, fmt.Errorf("%w: patch one on %s", types.ErrMissingIDProperty, d.StorageName)
	}
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("patch %s: %w", table, err)
	}
	defer func() { _ = tx.Rollback() }()

	ids, err := b.selectIDs(ctx, tx, d, table, cond, &types.PageRequest{PageSize: 1, Sort: sort}, true)
	if err != nil {
		return nil, err
	}
	var rec entity.Record
	if len(ids) > 0 {
		if rec, err = b.patchByID(ctx, tx, d, table, ids[0], nil, patches); err != nil {
			return nil, err
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, b.writeError("patch", table, err)
	}
	return rec, nil
}

// RunPatchManyAtomic selects the matching ids, then patches each row in a
// statement that re-checks cond, so rows that stopped matching are skipped.
func (b *Backend) RunPatchManyAtomic(ctx context.Context, d *entity.Descriptor, table string, cond expr.Condition, page *types.PageRequest, patches []patch.Patch) ([]entity.Record, error) {
	if d.ID == nil {
		return nil, fmt.Errorf("%w: patch many on %s", types.ErrMissingIDProperty, d.StorageName)
	}
	ids, err := b.selectIDs(ctx, b.db, d, table, cond, page, false)
	if err != nil {
		return nil, err
	}
	var out []entity.Record
	for _, id := range ids {
		rec, err := b.patchByID(ctx, b.db, d, table, id, cond, patches)
		if err != nil {
			return out, err
		}
		if rec != nil {
			out = append(out, rec)
		}
	}
	return out, nil
}

// RunPatchManyNonAtomic patches every match in one statement. A page
// restricts the statement to the ids of that page.
func (b *Backend) RunPatchManyNonAtomic(ctx context.Context, d *entity.Descriptor, table string, cond expr.Condition, page *types.PageRequest, patches []patch.Patch) (int64, error) {
	c := newCompiler(d, b.dialect)
	set, err := c.set(patches)
	if err != nil {
		return 0, err
	}
	where, ok, err := c.where(cond)
	if err != nil {
		return 0, err
	}
	filter := clause(where, ok)
	if page.Paged() {
		if d.ID == nil {
			return 0, fmt.Errorf("%w: paged patch on %s", types.ErrMissingIDProperty, d.StorageName)
		}
		order, err := c.orderBy(page.Sorts(), "")
		if err != nil {
			return 0, err
		}
		id := quote(idColumn)
		filter = " WHERE " + id + " IN (SELECT " + id + " FROM " + quote(table) + filter + order + limit(page) + ")"
	}
	var n int64
	if err := b.exec(ctx, b.db, "UPDATE "+quote(table)+" SET "+set+filter, c.args.values, &n); err != nil {
		return 0, b.writeError("patch", table, err)
	}
	return n, nil
}

// RunDelete removes the matching rows.
func (b *Backend) RunDelete(ctx context.Context, d *entity.Descriptor, table string, cond expr.Condition) (int64, error) {
	c := newCompiler(d, b.dialect)
	where, ok, err := c.where(cond)
	if err != nil {
		return 0, err
	}
	var n int64
	if err := b.exec(ctx, b.db, "DELETE FROM "+quote(table)+clause(where, ok), c.args.values, &n); err != nil {
		return 0, fmt.Errorf("delete %s: %w", table, err)
	}
	return n, nil
}

// RunTextSearch queries the native text index. Results are ordered by the
// page's sort or, without one, by relevance.
func (b *Backend) RunTextSearch(ctx context.Context, d *entity.Descriptor, table string, idx entity.Index, query string, page *types.PageRequest) ([]entity.Record, *int64, error) {
	var cols []string
	for _, f := range idx.Fields {
		if p, ok := d.Lookup(f); ok {
			cols = append(cols, quote(columnName(p)))
		}
	}
	c := newCompiler(d, b.dialect)
	ts, ok := b.dialect.TextSearch(c.args, table, idx, cols, query)
	if !ok || len(cols) == 0 {
		if page.Total() {
			var zero int64
			return nil, &zero, nil
		}
		return nil, nil, nil
	}
	c.alias = ts.Alias
	order, err := c.orderBy(page.Sorts(), ts.Rank)
	if err != nil {
		return nil, nil, err
	}
	stmt := "SELECT " + ts.Select + " FROM " + ts.From + " WHERE " + ts.Where + order + limit(page)
	recs, err := b.query(ctx, b.db, d, stmt, c.args.values)
	if err != nil {
		return nil, nil, fmt.Errorf("search %s: %w", table, err)
	}
	if !page.Total() {
		return recs, nil, nil
	}
	total, err := b.count(ctx, "SELECT COUNT(*) FROM "+ts.From+" WHERE "+ts.Where, c.args.values)
	if err != nil {
		return nil, nil, fmt.Errorf("count %s: %w", table, err)
	}
	return recs, &total, nil
}

// selectIDs returns the ids of the rows matching cond within page,
// optionally locking them.
func (b *Backend) selectIDs(ctx context.Context, q queryer, d *entity.Descriptor, table string, cond expr.Condition, page *types.PageRequest, lock bool) ([]any, error) {
	c := newCompiler(d, b.dialect)
	where, ok, err := c.where(cond)
	if err != nil {
		return nil, err
	}
	order, err := c.orderBy(page.Sorts(), "")
	if err != nil {
		return nil, err
	}
	stmt := "SELECT " + quote(idColumn) + " FROM " + quote(table) + clause(where, ok) + order + limit(page)
	if lock {
		stmt += b.dialect.LockRows()
	}
	b.logger.Debug("query", "backend", b.Name(), "sql", stmt, "args", len(c.args.values))
	rows, err := q.QueryContext(ctx, stmt, c.args.values...)
	if err != nil {
		return nil, fmt.Errorf("select %s: %w", table, err)
	}
	defer rows.Close()
	var ids []any
	for rows.Next() {
		var raw any
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		id, err := decode(d.ID, raw)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// patchByID patches the row with id when it still matches cond and returns
// it, or nil when it does not.
func (b *Backend) patchByID(ctx context.Context, q queryer, d *entity.Descriptor, table string, id any, cond expr.Condition, patches []patch.Patch) (entity.Record, error) {
	c := newCompiler(d, b.dialect)
	set, err := c.set(patches)
	if err != nil {
		return nil, err
	}
	where, ok, err := c.where(expr.AllOf(expr.Field(d.ID.Name).Eq(id), cond))
	if err != nil {
		return nil, err
	}
	recs, err := b.query(ctx, q, d, "UPDATE "+quote(table)+" SET "+set+clause(where, ok)+" RETURNING *", c.args.values)
	if err != nil {
		return nil, b.writeError("patch", table, err)
	}
	if len(recs) == 0 {
		return nil, nil
	}
	return recs[0], nil
}

func (b *Backend) query(ctx context.Context, q queryer, d *entity.Descriptor, stmt string, args []any) ([]entity.Record, error) {
	b.logger.Debug("query", "backend", b.Name(), "sql", stmt, "args", len(args))
	rows, err := q.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRecords(rows, d)
}

func (b *Backend) count(ctx context.Context, stmt string, args []any) (int64, error) {
	b.logger.Debug("count", "backend", b.Name(), "sql", stmt, "args", len(args))
	var n int64
	err := b.db.QueryRowContext(ctx, stmt, args...).Scan(&n)
	return n, err
}

// exec runs stmt and stores the affected row count in n when n is not nil.
func (b *Backend) exec(ctx context.Context, q queryer, stmt string, args []any, n *int64) error {
	b.logger.Debug("exec", "backend", b.Name(), "sql", stmt, "args", len(args))
	res, err := q.ExecContext(ctx, stmt, args...)
	if err != nil {
		return err
	}
	if n == nil {
		return nil
	}
	*n, err = res.RowsAffected()
	return err
}

// writeError maps uniqueness violations to types.ErrDuplicatedKey.
func (b *Backend) writeError(op, table string, err error) error {
	if errors.Is(err, types.ErrDuplicatedKey) {
		return err
	}
	if b.dialect.IsDuplicateKey(err) {
		b.logger.Warn("duplicate key", "backend", b.Name(), "storage", table, "error", err)
		return fmt.Errorf("%w: %s %s: %v", types.ErrDuplicatedKey, op, table, err)
	}
	return fmt.Errorf("%s %s: %w", op, table, err)
}
