package sqldb

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/mesh-intelligence/connector/pkg/entity"
	"github.com/mesh-intelligence/connector/pkg/expr"
	"github.com/mesh-intelligence/connector/pkg/types"
)

// idColumn holds the id property whatever its declared name.
const idColumn = "id"

// compiler renders conditions and patches of one descriptor into one
// statement. Arguments accumulate in textual order.
type compiler struct {
	d       *entity.Descriptor
	dialect Dialect
	args    *args
	// alias qualifies columns when the statement joins other tables.
	alias string
}

func newCompiler(d *entity.Descriptor, dialect Dialect) *compiler {
	return &compiler{d: d, dialect: dialect, args: newArgs(dialect)}
}

func columnName(p *entity.Property) string {
	if p.ID {
		return idColumn
	}
	return p.Name
}

func (c *compiler) column(p *entity.Property) string {
	return qualified(c.alias, quote(columnName(p)))
}

// where compiles cond. ok is false when the condition is vacuous.
func (c *compiler) where(cond expr.Condition) (string, bool, error) {
	switch n := cond.(type) {
	case nil:
		return "", false, nil
	case expr.And:
		return c.junction(" AND ", n.Conditions)
	case expr.Or:
		return c.junction(" OR ", n.Conditions)
	case expr.Compare:
		return c.compare(n)
	}
	return "", false, fmt.Errorf("%w: %T", types.ErrUnsupportedExpression, cond)
}

func (c *compiler) junction(sep string, conds []expr.Condition) (string, bool, error) {
	var parts []string
	for _, child := range conds {
		s, ok, err := c.where(child)
		if err != nil {
			return "", false, err
		}
		if ok {
			parts = append(parts, s)
		}
	}
	switch len(parts) {
	case 0:
		return "", false, nil
	case 1:
		return parts[0], true, nil
	}
	return "(" + strings.Join(parts, sep) + ")", true, nil
}

// operand is a compiled side of a comparison: a column, a size
// expression, or a literal still to be bound.
type operand struct {
	sql  string
	prop *entity.Property
	size bool
	lit  *expr.Literal
}

// operand resolves o. ok is false when o names a field that is unknown or
// carries no information in this storage unit.
func (c *compiler) operand(o expr.Operand) (operand, bool, error) {
	switch o := o.(type) {
	case expr.FieldRef:
		p, ok := c.d.Lookup(o.Name)
		if !ok {
			return operand{}, false, nil
		}
		return operand{sql: c.column(p), prop: p}, true, nil
	case expr.Literal:
		return operand{lit: &o}, true, nil
	case expr.CollectionSize:
		ref, isRef := o.Of.(expr.FieldRef)
		if !isRef {
			return operand{}, false, fmt.Errorf("%w: size of %s", types.ErrUnsupportedExpression, o.Of)
		}
		p, ok := c.d.Lookup(ref.Name)
		if !ok {
			return operand{}, false, nil
		}
		if p.Type.Kind != entity.KindCollection {
			return operand{}, false, fmt.Errorf("%w: size of non-collection field %q", types.ErrUnsupportedExpression, p.Name)
		}
		return operand{sql: c.dialect.ArrayLength(c.column(p)), prop: p, size: true}, true, nil
	}
	return operand{}, false, fmt.Errorf("%w: operand %T", types.ErrUnsupportedExpression, o)
}

var sqlOps = map[expr.Op]string{
	expr.Eq:  "=",
	expr.Ne:  "<>",
	expr.Lt:  "<",
	expr.Lte: "<=",
	expr.Gt:  ">",
	expr.Gte: ">=",
}

func (c *compiler) compare(n expr.Compare) (string, bool, error) {
	left, ok, err := c.operand(n.Left)
	if err != nil || !ok {
		return "", false, err
	}
	right, ok, err := c.operand(n.Right)
	if err != nil || !ok {
		return "", false, err
	}
	op := n.Op
	switch {
	case left.lit != nil && right.lit != nil:
		return "", false, fmt.Errorf("%w: %s compares two literals", types.ErrUnsupportedExpression, n)
	case left.lit == nil && right.lit == nil:
		sym, ok := sqlOps[op]
		if !ok {
			return "", false, fmt.Errorf("%w: %s between two fields", types.ErrUnsupportedExpression, op)
		}
		return left.sql + " " + sym + " " + right.sql, true, nil
	case left.lit != nil:
		if !op.Directional() && op != expr.Eq && op != expr.Ne {
			return "", false, fmt.Errorf("%w: %s with a literal on the left", types.ErrUnsupportedExpression, op)
		}
		left, right = right, left
		op = op.Mirror()
	}

	switch op {
	case expr.RegexMatch:
		return c.regex(left, right.lit.Value)
	case expr.In, expr.NotIn:
		return c.membership(left, right.lit.Value, op == expr.NotIn)
	}
	sym, ok := sqlOps[op]
	if !ok {
		return "", false, fmt.Errorf("%w: operator %s", types.ErrUnsupportedExpression, op)
	}
	if right.lit.Value == nil {
		switch op {
		case expr.Eq:
			return left.sql + " IS NULL", true, nil
		case expr.Ne:
			return left.sql + " IS NOT NULL", true, nil
		}
		return "", false, fmt.Errorf("%w: %s against nil", types.ErrUnsupportedExpression, op)
	}
	var v any
	if left.size {
		v, err = sizeValue(right.lit.Value)
	} else {
		v, err = c.value(left.prop, right.lit.Value)
	}
	if err != nil {
		return "", false, err
	}
	return left.sql + " " + sym + " " + c.args.add(v), true, nil
}

func (c *compiler) regex(left operand, pattern any) (string, bool, error) {
	if left.size || left.prop.Type.Kind != entity.KindString {
		return "", false, fmt.Errorf("%w: regex on non-string field %q", types.ErrUnsupportedExpression, left.prop.Name)
	}
	s, ok := pattern.(string)
	if !ok {
		return "", false, fmt.Errorf("%w: regex pattern %T", types.ErrUnsupportedExpression, pattern)
	}
	return c.dialect.Regex(left.sql, c.args.add(s)), true, nil
}

func (c *compiler) membership(left operand, list any, negate bool) (string, bool, error) {
	if left.size {
		return "", false, fmt.Errorf("%w: membership on a collection size", types.ErrUnsupportedExpression)
	}
	rv := reflect.ValueOf(list)
	if list == nil || (rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array) {
		return "", false, fmt.Errorf("%w: membership needs a list, got %T", types.ErrUnsupportedExpression, list)
	}
	values := make([]any, 0, rv.Len())
	for i := 0; i < rv.Len(); i++ {
		v, err := c.value(left.prop, rv.Index(i).Interface())
		if err != nil {
			return "", false, fmt.Errorf("list element %d: %w", i, err)
		}
		values = append(values, v)
	}
	s, err := c.dialect.Membership(c.args, left.prop, left.sql, values, negate)
	if err != nil {
		return "", false, err
	}
	return s, true, nil
}

// value converts a literal to p's type and encodes it for the driver.
// Generated ids stored in uuid columns are bound as uuid values.
func (c *compiler) value(p *entity.Property, v any) (any, error) {
	cv, err := entity.Convert(v, p.Type)
	if err != nil {
		return nil, fmt.Errorf("field %q: %w", p.Name, err)
	}
	if p.Generated && c.dialect.NativeUUID() && cv != nil {
		id, err := uuid.Parse(reflect.ValueOf(cv).String())
		if err != nil {
			return nil, fmt.Errorf("%w: %v", types.ErrInvalidID, v)
		}
		return id, nil
	}
	return c.dialect.Encode(p.Type, cv)
}

func sizeValue(v any) (int64, error) {
	n, err := entity.Convert(v, entity.Type{Kind: entity.KindInt, Go: reflect.TypeOf(int64(0))})
	if err != nil {
		return 0, err
	}
	return n.(int64), nil
}

// orderBy renders the sort keys, or fallback when there are none.
func (c *compiler) orderBy(sort []types.Sort, fallback string) (string, error) {
	var keys []string
	for _, s := range sort {
		p, ok := c.d.Lookup(s.Field)
		if !ok {
			return "", fmt.Errorf("%w: sort by %q", types.ErrUnknownField, s.Field)
		}
		key := c.column(p)
		if s.Desc {
			key += " DESC"
		}
		keys = append(keys, key)
	}
	if len(keys) == 0 {
		if fallback == "" {
			return "", nil
		}
		return " ORDER BY " + fallback, nil
	}
	return " ORDER BY " + strings.Join(keys, ", "), nil
}

// limit renders a page window. Bounds are integers and are inlined.
func limit(page *types.PageRequest) string {
	if !page.Paged() {
		return ""
	}
	return " LIMIT " + strconv.Itoa(page.PageSize) + " OFFSET " + strconv.Itoa(page.Offset())
}
