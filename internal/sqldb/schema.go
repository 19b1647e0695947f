package sqldb

import (
	"fmt"
	"strings"

	"github.com/mesh-intelligence/connector/pkg/entity"
	"github.com/mesh-intelligence/connector/pkg/types"
)

// schema returns the statements that create table and its indexes for d.
// Every statement is idempotent.
func schema(dialect Dialect, d *entity.Descriptor, table string) ([]string, error) {
	stored := d.Stored()
	cols := make([]string, 0, len(stored))
	seen := make(map[string]bool, len(stored))
	for _, p := range stored {
		name := columnName(p)
		if seen[name] {
			return nil, fmt.Errorf("%w: column %q is declared twice on %s", types.ErrInvalidEntity, name, d.StorageName)
		}
		seen[name] = true
		col := quote(name) + " " + dialect.ColumnType(p)
		switch {
		case p.ID:
			col += " PRIMARY KEY"
		case !p.Type.Optional:
			col += " NOT NULL"
		}
		cols = append(cols, col)
	}
	stmts := []string{fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n    %s\n)", quote(table), strings.Join(cols, ",\n    "))}

	for _, idx := range d.Indexes {
		fields := make([]string, 0, len(idx.Fields))
		for _, f := range idx.Fields {
			p, ok := d.Lookup(f)
			if !ok {
				continue
			}
			fields = append(fields, quote(columnName(p)))
		}
		if len(fields) == 0 {
			continue
		}
		switch idx.Kind {
		case entity.Text:
			if d.ID == nil && dialect.Name() == types.BackendSQLite {
				return nil, fmt.Errorf("%w: text index %q on %s", types.ErrMissingIDProperty, idx.Name, d.StorageName)
			}
			stmts = append(stmts, dialect.TextIndexDDL(table, idx, fields)...)
		default:
			unique := ""
			if idx.Kind == entity.Unique {
				unique = "UNIQUE "
			}
			stmts = append(stmts, fmt.Sprintf("CREATE %sINDEX IF NOT EXISTS %s ON %s (%s)",
				unique, quote(table+"__"+idx.Name), quote(table), strings.Join(fields, ", ")))
		}
	}
	return stmts, nil
}
