package mongodb

import (
	"fmt"
	"reflect"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/mesh-intelligence/connector/pkg/entity"
	"github.com/mesh-intelligence/connector/pkg/expr"
	"github.com/mesh-intelligence/connector/pkg/types"
)

var queryOps = map[expr.Op]string{
	expr.Eq:    "$eq",
	expr.Ne:    "$ne",
	expr.Lt:    "$lt",
	expr.Lte:   "$lte",
	expr.Gt:    "$gt",
	expr.Gte:   "$gte",
	expr.In:    "$in",
	expr.NotIn: "$nin",
}

// filter compiles cond. A vacuous condition gives an empty filter, which
// matches every document.
func filter(d *entity.Descriptor, cond expr.Condition) (bson.D, error) {
	f, ok, err := compile(d, cond)
	if err != nil {
		return nil, err
	}
	if !ok {
		return bson.D{}, nil
	}
	return f, nil
}

func compile(d *entity.Descriptor, cond expr.Condition) (bson.D, bool, error) {
	switch n := cond.(type) {
	case nil:
		return nil, false, nil
	case expr.And:
		return junction(d, "$and", n.Conditions)
	case expr.Or:
		return junction(d, "$or", n.Conditions)
	case expr.Compare:
		return compare(d, n)
	}
	return nil, false, fmt.Errorf("%w: %T", types.ErrUnsupportedExpression, cond)
}

func junction(d *entity.Descriptor, op string, conds []expr.Condition) (bson.D, bool, error) {
	var parts bson.A
	for _, child := range conds {
		f, ok, err := compile(d, child)
		if err != nil {
			return nil, false, err
		}
		if ok {
			parts = append(parts, f)
		}
	}
	switch len(parts) {
	case 0:
		return nil, false, nil
	case 1:
		return parts[0].(bson.D), true, nil
	}
	return bson.D{{Key: op, Value: parts}}, true, nil
}

// operand is a resolved side of a comparison.
type operand struct {
	prop *entity.Property
	size bool
	lit  *expr.Literal
}

// aggregate renders the operand as an aggregation expression.
func (o operand) aggregate() any {
	path := "$" + fieldName(o.prop)
	if o.size {
		return bson.D{{Key: "$size", Value: bson.D{{Key: "$ifNull", Value: bson.A{path, bson.A{}}}}}}
	}
	return path
}

func resolve(d *entity.Descriptor, o expr.Operand) (operand, bool, error) {
	switch o := o.(type) {
	case expr.FieldRef:
		p, ok := d.Lookup(o.Name)
		if !ok {
			return operand{}, false, nil
		}
		return operand{prop: p}, true, nil
	case expr.Literal:
		return operand{lit: &o}, true, nil
	case expr.CollectionSize:
		ref, isRef := o.Of.(expr.FieldRef)
		if !isRef {
			return operand{}, false, fmt.Errorf("%w: size of %s", types.ErrUnsupportedExpression, o.Of)
		}
		p, ok := d.Lookup(ref.Name)
		if !ok {
			return operand{}, false, nil
		}
		if p.Type.Kind != entity.KindCollection {
			return operand{}, false, fmt.Errorf("%w: size of non-collection field %q", types.ErrUnsupportedExpression, p.Name)
		}
		return operand{prop: p, size: true}, true, nil
	}
	return operand{}, false, fmt.Errorf("%w: operand %T", types.ErrUnsupportedExpression, o)
}

func compare(d *entity.Descriptor, n expr.Compare) (bson.D, bool, error) {
	left, ok, err := resolve(d, n.Left)
	if err != nil || !ok {
		return nil, false, err
	}
	right, ok, err := resolve(d, n.Right)
	if err != nil || !ok {
		return nil, false, err
	}
	op := n.Op
	switch {
	case left.lit != nil && right.lit != nil:
		return nil, false, fmt.Errorf("%w: %s compares two literals", types.ErrUnsupportedExpression, n)
	case left.lit == nil && right.lit == nil:
		if op == expr.RegexMatch || op == expr.In || op == expr.NotIn {
			return nil, false, fmt.Errorf("%w: %s between two fields", types.ErrUnsupportedExpression, op)
		}
		return exprDoc(queryOps[op], left.aggregate(), right.aggregate()), true, nil
	case left.lit != nil:
		if !op.Directional() && op != expr.Eq && op != expr.Ne {
			return nil, false, fmt.Errorf("%w: %s with a literal on the left", types.ErrUnsupportedExpression, op)
		}
		left, right = right, left
		op = op.Mirror()
	}

	if left.size {
		return sizeFilter(left, op, right.lit.Value)
	}
	field := fieldName(left.prop)
	switch op {
	case expr.RegexMatch:
		pattern, ok := right.lit.Value.(string)
		if !ok || left.prop.Type.Kind != entity.KindString {
			return nil, false, fmt.Errorf("%w: regex on %q with %T", types.ErrUnsupportedExpression, left.prop.Name, right.lit.Value)
		}
		return bson.D{{Key: field, Value: bson.D{{Key: "$regex", Value: primitive.Regex{Pattern: pattern}}}}}, true, nil
	case expr.In, expr.NotIn:
		list, err := values(left.prop, right.lit.Value)
		if err != nil {
			return nil, false, err
		}
		return bson.D{{Key: field, Value: bson.D{{Key: queryOps[op], Value: list}}}}, true, nil
	}

	if right.lit.Value == nil {
		switch op {
		case expr.Eq:
			return bson.D{{Key: field, Value: nil}}, true, nil
		case expr.Ne:
			return bson.D{{Key: field, Value: bson.D{{Key: "$ne", Value: nil}}}}, true, nil
		}
		return nil, false, fmt.Errorf("%w: %s against nil", types.ErrUnsupportedExpression, op)
	}
	v, err := value(left.prop, right.lit.Value)
	if err != nil {
		return nil, false, err
	}
	return bson.D{{Key: field, Value: bson.D{{Key: queryOps[op], Value: v}}}}, true, nil
}

// sizeFilter compares the length of a collection, a missing or null one
// counting as empty.
func sizeFilter(left operand, op expr.Op, lit any) (bson.D, bool, error) {
	if op == expr.RegexMatch || op == expr.In || op == expr.NotIn {
		return nil, false, fmt.Errorf("%w: %s on a collection size", types.ErrUnsupportedExpression, op)
	}
	n, err := entity.Convert(lit, entity.Type{Kind: entity.KindInt, Go: reflect.TypeOf(int64(0))})
	if err != nil || n == nil {
		return nil, false, fmt.Errorf("%w: size compared with %v", types.ErrUnsupportedExpression, lit)
	}
	return exprDoc(queryOps[op], left.aggregate(), n), true, nil
}

func exprDoc(op string, l, r any) bson.D {
	return bson.D{{Key: "$expr", Value: bson.D{{Key: op, Value: bson.A{l, r}}}}}
}

func values(p *entity.Property, list any) (bson.A, error) {
	rv := reflect.ValueOf(list)
	if list == nil || (rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array) {
		return nil, fmt.Errorf("%w: membership needs a list, got %T", types.ErrUnsupportedExpression, list)
	}
	out := make(bson.A, 0, rv.Len())
	for i := 0; i < rv.Len(); i++ {
		v, err := value(p, rv.Index(i).Interface())
		if err != nil {
			return nil, fmt.Errorf("list element %d: %w", i, err)
		}
		out = append(out, v)
	}
	return out, nil
}

// sortDoc renders the sort keys.
func sortDoc(d *entity.Descriptor, sorts []types.Sort) (bson.D, error) {
	var out bson.D
	for _, s := range sorts {
		p, ok := d.Lookup(s.Field)
		if !ok {
			return nil, fmt.Errorf("%w: sort by %q", types.ErrUnknownField, s.Field)
		}
		dir := 1
		if s.Desc {
			dir = -1
		}
		out = append(out, bson.E{Key: fieldName(p), Value: dir})
	}
	return out, nil
}
