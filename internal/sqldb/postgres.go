package sqldb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib" // driver: pgx

	"github.com/mesh-intelligence/connector/pkg/entity"
	"github.com/mesh-intelligence/connector/pkg/types"
)

// Postgres error codes.
const (
	pgUniqueViolation = "23505"
	pgDuplicateTable  = "42P07"
	pgDuplicateObject = "42710"
)

type postgres struct {
	uuidIDs bool
}

// Postgres returns the Postgres dialect. Generated ids use a UUID column
// unless idFormat is ulid.
func Postgres(idFormat string) Dialect {
	return postgres{uuidIDs: idFormat != types.IDFormatULID}
}

func (postgres) Name() string       { return types.BackendPostgres }
func (postgres) DriverName() string { return "pgx" }

func (postgres) DSN(dsn string) string { return dsn }

func (postgres) Configure(db *sql.DB) {
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetMaxIdleConns(5)
}

func (postgres) Placeholder(n int) string { return dollar(n) }

func (d postgres) NativeUUID() bool { return d.uuidIDs }

func (d postgres) ColumnType(p *entity.Property) string {
	if p.Generated && d.uuidIDs {
		return "UUID"
	}
	t := p.Type
	switch t.Kind {
	case entity.KindBool:
		return "BOOLEAN"
	case entity.KindInt, entity.KindUint:
		bits := t.Bits()
		if t.Kind == entity.KindUint {
			bits *= 2
		}
		switch {
		case bits <= 16:
			return "SMALLINT"
		case bits <= 32:
			return "INT"
		}
		return "BIGINT"
	case entity.KindFloat:
		if t.Bits() == 32 {
			return "REAL"
		}
		return "DOUBLE PRECISION"
	case entity.KindString:
		if p.MaxLength > 0 {
			return fmt.Sprintf("VARCHAR(%d)", p.MaxLength)
		}
		return "VARCHAR"
	case entity.KindTime:
		return "TIMESTAMP(3) WITH TIME ZONE"
	}
	return "JSONB"
}

func (postgres) Encode(t entity.Type, v any) (any, error) {
	return scalar(t, v)
}

func (postgres) Regex(col, arg string) string { return col + " ~ " + arg }

func (postgres) ArrayLength(col string) string { return "jsonb_array_length(" + col + ")" }

// Membership binds the list as one typed array so an empty list still
// compiles.
func (d postgres) Membership(a *args, p *entity.Property, col string, values []any, negate bool) (string, error) {
	list, err := d.array(p, values)
	if err != nil {
		return "", err
	}
	s := col + " = ANY(" + a.add(list) + ")"
	if negate {
		s = "NOT (" + s + ")"
	}
	return s, nil
}

func (d postgres) array(p *entity.Property, values []any) (any, error) {
	if p.Generated && d.uuidIDs {
		return typed[uuid.UUID](values)
	}
	switch p.Type.Kind {
	case entity.KindBool:
		return typed[bool](values)
	case entity.KindInt, entity.KindUint:
		return typed[int64](values)
	case entity.KindFloat:
		return typed[float64](values)
	case entity.KindString:
		return typed[string](values)
	case entity.KindTime:
		return typed[time.Time](values)
	}
	return nil, fmt.Errorf("%w: membership on %s field %q", types.ErrUnsupportedExpression, p.Type.Kind, p.Name)
}

func typed[T any](values []any) ([]T, error) {
	out := make([]T, 0, len(values))
	for _, v := range values {
		tv, ok := v.(T)
		if !ok {
			var zero T
			return nil, fmt.Errorf("%w: list element %T is not %T", types.ErrTypeMismatch, v, zero)
		}
		out = append(out, tv)
	}
	return out, nil
}

func (postgres) AppendElement(col, elem string) string {
	return "coalesce(" + col + ", '[]'::jsonb) || jsonb_build_array(" + elem + "::jsonb)"
}

func (postgres) RemoveElement(col, elem string) string {
	return "(SELECT coalesce(jsonb_agg(e), '[]'::jsonb) FROM jsonb_array_elements(coalesce(" + col +
		", '[]'::jsonb)) AS e WHERE e <> " + elem + "::jsonb)"
}

func (postgres) LockRows() string { return " FOR UPDATE" }

func tsvector(cols []string) string {
	parts := make([]string, len(cols))
	for i, c := range cols {
		parts[i] = "coalesce(" + c + "::text, '')"
	}
	return "to_tsvector('simple', " + strings.Join(parts, " || ' ' || ") + ")"
}

func (postgres) TextIndexDDL(table string, idx entity.Index, cols []string) []string {
	return []string{fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s USING GIN (%s)",
		quote(table+"__"+idx.Name), quote(table), tsvector(cols))}
}

func (postgres) TextSearch(a *args, table string, idx entity.Index, cols []string, query string) (textSearch, bool) {
	if strings.TrimSpace(query) == "" {
		return textSearch{}, false
	}
	tsq := "websearch_to_tsquery('simple', " + a.add(query) + ")"
	tsv := tsvector(cols)
	return textSearch{
		From:   quote(table),
		Where:  tsv + " @@ " + tsq,
		Rank:   "ts_rank(" + tsv + ", " + tsq + ") DESC",
		Select: "*",
	}, true
}

func (postgres) DropStorage(ctx context.Context, db *sql.DB, table string) error {
	_, err := db.ExecContext(ctx, "DROP TABLE IF EXISTS "+quote(table))
	return err
}

func (postgres) IsDuplicateKey(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

func (postgres) IsExistingObject(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	switch pgErr.Code {
	case pgDuplicateTable, pgDuplicateObject, pgUniqueViolation:
		return true
	}
	return false
}
