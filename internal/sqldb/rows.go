package sqldb

import (
	"context"
	"database/sql"

	"github.com/mesh-intelligence/connector/pkg/entity"
)

// queryer is satisfied by *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// scanRecords reads every row into a record keyed by property name.
// Columns that map to no stored property are skipped.
func scanRecords(rows *sql.Rows, d *entity.Descriptor) ([]entity.Record, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	props := make([]*entity.Property, len(cols))
	for i, col := range cols {
		if col == idColumn && d.ID != nil {
			props[i] = d.ID
			continue
		}
		if p, ok := d.Lookup(col); ok && !p.ID {
			props[i] = p
		}
	}

	var out []entity.Record
	raw := make([]any, len(cols))
	dest := make([]any, len(cols))
	for i := range raw {
		dest[i] = &raw[i]
	}
	for rows.Next() {
		if err := rows.Scan(dest...); err != nil {
			return nil, err
		}
		rec := make(entity.Record, len(cols))
		for i, p := range props {
			if p == nil {
				continue
			}
			v, err := decode(p, raw[i])
			if err != nil {
				return nil, err
			}
			rec[p.Name] = v
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
