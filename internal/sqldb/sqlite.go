package sqldb

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/mesh-intelligence/connector/pkg/entity"
	"github.com/mesh-intelligence/connector/pkg/types"
)

// busyTimeout is how long a statement waits for a competing writer.
const busyTimeout = 5 * time.Second

func init() {
	sqlite.MustRegisterDeterministicScalarFunction("regexp", 2, sqliteRegexp)
}

var patterns sync.Map // string -> *regexp.Regexp

// sqliteRegexp backs the REGEXP operator: X REGEXP Y calls regexp(Y, X).
func sqliteRegexp(_ *sqlite.FunctionContext, argv []driver.Value) (driver.Value, error) {
	pattern, ok := argv[0].(string)
	if !ok {
		return nil, fmt.Errorf("regexp: pattern is %T", argv[0])
	}
	var s string
	switch v := argv[1].(type) {
	case nil:
		return nil, nil
	case string:
		s = v
	case []byte:
		s = string(v)
	default:
		s = fmt.Sprint(v)
	}
	re, ok := patterns.Load(pattern)
	if !ok {
		compiled, err := regexp.Compile(pattern)
		if err != nil {
			return nil, err
		}
		re, _ = patterns.LoadOrStore(pattern, compiled)
	}
	if re.(*regexp.Regexp).MatchString(s) {
		return int64(1), nil
	}
	return int64(0), nil
}

type sqliteDialect struct{}

// SQLite returns the SQLite dialect. Generated ids are stored as text.
func SQLite() Dialect { return sqliteDialect{} }

func (sqliteDialect) Name() string       { return types.BackendSQLite }
func (sqliteDialect) DriverName() string { return "sqlite" }

// DSN adds a busy timeout and immediate transactions unless the caller set
// them.
func (sqliteDialect) DSN(dsn string) string {
	var params []string
	if !strings.Contains(dsn, "busy_timeout") {
		params = append(params, fmt.Sprintf("_pragma=busy_timeout(%d)", busyTimeout.Milliseconds()))
	}
	if !strings.Contains(dsn, "_txlock") {
		params = append(params, "_txlock=immediate")
	}
	if len(params) == 0 {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + strings.Join(params, "&")
}

// Configure pins the pool to one connection; SQLite serializes writers.
func (sqliteDialect) Configure(db *sql.DB) {
	db.SetMaxOpenConns(1)
}

func (sqliteDialect) Placeholder(int) string { return "?" }

func (sqliteDialect) NativeUUID() bool { return false }

func (sqliteDialect) ColumnType(p *entity.Property) string {
	switch p.Type.Kind {
	case entity.KindBool, entity.KindInt, entity.KindUint, entity.KindTime:
		return "INTEGER"
	case entity.KindFloat:
		return "REAL"
	}
	return "TEXT"
}

// Encode stores booleans as 0/1 and times as epoch milliseconds.
func (sqliteDialect) Encode(t entity.Type, v any) (any, error) {
	v, err := scalar(t, v)
	if err != nil || v == nil {
		return v, err
	}
	switch v := v.(type) {
	case bool:
		if v {
			return int64(1), nil
		}
		return int64(0), nil
	case time.Time:
		return v.UnixMilli(), nil
	}
	return v, nil
}

func (sqliteDialect) Regex(col, arg string) string { return col + " REGEXP " + arg }

func (sqliteDialect) ArrayLength(col string) string { return "json_array_length(" + col + ")" }

func (sqliteDialect) Membership(a *args, p *entity.Property, col string, values []any, negate bool) (string, error) {
	if !p.Type.Scalar() {
		return "", fmt.Errorf("%w: membership on %s field %q", types.ErrUnsupportedExpression, p.Type.Kind, p.Name)
	}
	if values == nil {
		values = []any{}
	}
	list, err := jsonText(values)
	if err != nil {
		return "", err
	}
	op := " IN "
	if negate {
		op = " NOT IN "
	}
	return col + op + "(SELECT value FROM json_each(" + a.add(list) + "))", nil
}

func (sqliteDialect) AppendElement(col, elem string) string {
	return "json_insert(coalesce(" + col + ", '[]'), '$[#]', json(" + elem + "))"
}

func (sqliteDialect) RemoveElement(col, elem string) string {
	return "(SELECT json_group_array(CASE WHEN j.type IN ('object', 'array') THEN json(j.value) ELSE j.value END)" +
		" FROM json_each(coalesce(" + col + ", '[]')) AS j WHERE j.value IS NOT json_extract(" + elem + ", '$'))"
}

func (sqliteDialect) LockRows() string { return "" }

// ftsTable names the FTS5 table that mirrors a text index.
func ftsTable(table string, idx entity.Index) string {
	return table + ftsInfix + idx.Name
}

const ftsInfix = "__fts_"

// TextIndexDDL mirrors the indexed columns into an FTS5 table keyed by the
// row id and keeps it current with triggers.
func (sqliteDialect) TextIndexDDL(table string, idx entity.Index, cols []string) []string {
	fts := quote(ftsTable(table, idx))
	id := quote(idColumn)
	list := strings.Join(cols, ", ")
	newValues := make([]string, len(cols))
	assign := make([]string, len(cols))
	for i, c := range cols {
		newValues[i] = "new." + c
		assign[i] = c + " = new." + c
	}
	trigger := func(suffix string) string { return quote(ftsTable(table, idx) + "_" + suffix) }
	return []string{
		fmt.Sprintf("CREATE VIRTUAL TABLE IF NOT EXISTS %s USING fts5(%s UNINDEXED, %s)", fts, id, list),
		fmt.Sprintf("CREATE TRIGGER IF NOT EXISTS %s AFTER INSERT ON %s BEGIN INSERT INTO %s(%s, %s) VALUES (new.%s, %s); END",
			trigger("ai"), quote(table), fts, id, list, id, strings.Join(newValues, ", ")),
		fmt.Sprintf("CREATE TRIGGER IF NOT EXISTS %s AFTER DELETE ON %s BEGIN DELETE FROM %s WHERE %s = old.%s; END",
			trigger("ad"), quote(table), fts, id, id),
		fmt.Sprintf("CREATE TRIGGER IF NOT EXISTS %s AFTER UPDATE ON %s BEGIN UPDATE %s SET %s = new.%s, %s WHERE %s = old.%s; END",
			trigger("au"), quote(table), fts, id, id, strings.Join(assign, ", "), id, id),
	}
}

var ftsWords = regexp.MustCompile(`[\p{L}\p{N}_]+`)

// TextSearch quotes every word of query so FTS5 syntax in user input is
// matched literally. Words are combined with AND.
func (sqliteDialect) TextSearch(a *args, table string, idx entity.Index, _ []string, query string) (textSearch, bool) {
	words := ftsWords.FindAllString(query, -1)
	if len(words) == 0 {
		return textSearch{}, false
	}
	for i, w := range words {
		words[i] = `"` + w + `"`
	}
	fts := quote(ftsTable(table, idx))
	id := quote(idColumn)
	return textSearch{
		Alias:  "m",
		From:   quote(table) + " AS m JOIN " + fts + " ON " + fts + "." + id + " = m." + id,
		Where:  fts + " MATCH " + a.add(strings.Join(words, " ")),
		Rank:   fts + ".rank",
		Select: "m.*",
	}, true
}

// DropStorage drops the table, which takes its triggers along, and every
// FTS5 table created for it.
func (sqliteDialect) DropStorage(ctx context.Context, db *sql.DB, table string) error {
	if _, err := db.ExecContext(ctx, "DROP TABLE IF EXISTS "+quote(table)); err != nil {
		return err
	}
	rows, err := db.QueryContext(ctx,
		`SELECT name FROM sqlite_master WHERE type = 'table' AND sql LIKE 'CREATE VIRTUAL TABLE%' AND substr(name, 1, ?) = ?`,
		len(table)+len(ftsInfix), table+ftsInfix)
	if err != nil {
		return err
	}
	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			rows.Close()
			return err
		}
		names = append(names, name)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}
	for _, name := range names {
		if _, err := db.ExecContext(ctx, "DROP TABLE IF EXISTS "+quote(name)); err != nil {
			return err
		}
	}
	return nil
}

func (sqliteDialect) IsDuplicateKey(err error) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	switch se.Code() {
	case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
		return true
	}
	return false
}

func (sqliteDialect) IsExistingObject(error) bool { return false }
