// Package sqldb implements the relational storage adapter. One Backend
// drives either Postgres (through pgx) or SQLite (through modernc.org/sqlite);
// everything that differs between the two lives behind Dialect.
package sqldb

import (
	"context"
	"database/sql"
	"strconv"
	"strings"

	"github.com/mesh-intelligence/connector/pkg/entity"
)

// Dialect renders the parts of a statement that are not portable SQL.
type Dialect interface {
	Name() string
	DriverName() string

	// DSN and Configure adjust the connection string and the pool before
	// the handle is used.
	DSN(dsn string) string
	Configure(db *sql.DB)

	Placeholder(n int) string
	ColumnType(p *entity.Property) string
	// NativeUUID reports whether generated ids are stored in a uuid column
	// and must be bound as uuid values.
	NativeUUID() bool

	// Encode maps a converted scalar to a driver argument.
	Encode(t entity.Type, v any) (any, error)

	Regex(col, arg string) string
	ArrayLength(col string) string
	// Membership renders col IN list. values are already encoded.
	Membership(a *args, p *entity.Property, col string, values []any, negate bool) (string, error)
	// AppendElement and RemoveElement render the new value of a JSON
	// collection column; elem is the JSON text of one element.
	AppendElement(col, elem string) string
	RemoveElement(col, elem string) string

	// LockRows is appended to a row selection inside a patch transaction.
	LockRows() string

	TextIndexDDL(table string, idx entity.Index, cols []string) []string
	// TextSearch renders the source, the predicate and the rank ordering of
	// a search over idx. ok is false when query holds nothing to search.
	TextSearch(a *args, table string, idx entity.Index, cols []string, query string) (search textSearch, ok bool)
	DropStorage(ctx context.Context, db *sql.DB, table string) error

	IsDuplicateKey(err error) bool
	// IsExistingObject reports DDL errors raised by a concurrent creator.
	IsExistingObject(err error) bool
}

type textSearch struct {
	// Alias qualifies the storage unit's columns; empty when unqualified.
	Alias  string
	From   string
	Where  string
	Rank   string
	Count  string
	Select string
}

// args collects positional arguments in textual order.
type args struct {
	dialect Dialect
	values  []any
}

func newArgs(d Dialect) *args {
	return &args{dialect: d}
}

func (a *args) add(v any) string {
	a.values = append(a.values, v)
	return a.dialect.Placeholder(len(a.values))
}

// quote renders an identifier.
func quote(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func qualified(alias, col string) string {
	if alias == "" {
		return col
	}
	return alias + "." + col
}

func dollar(n int) string { return "$" + strconv.Itoa(n) }
