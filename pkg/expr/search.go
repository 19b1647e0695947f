package expr

import "reflect"

// SearchFieldValue looks for a constraint that pins field to one value: an
// Eq against a literal (on either side) or an In with a single element.
// Inside an And the first pinned value wins; an Or pins the field only when
// every branch pins it to the same value.
func SearchFieldValue(field string, c Condition) (any, bool) {
	switch n := c.(type) {
	case And:
		for _, child := range n.Conditions {
			if v, ok := SearchFieldValue(field, child); ok {
				return v, true
			}
		}
	case Or:
		var found any
		for i, child := range n.Conditions {
			v, ok := SearchFieldValue(field, child)
			if !ok {
				return nil, false
			}
			if i > 0 && !reflect.DeepEqual(v, found) {
				return nil, false
			}
			found = v
		}
		return found, len(n.Conditions) > 0
	case Compare:
		return pinned(field, n)
	}
	return nil, false
}

func pinned(field string, c Compare) (any, bool) {
	f, lit, ok := fieldAndLiteral(c)
	if !ok || f.Name != field {
		return nil, false
	}
	switch c.Op {
	case Eq:
		return lit.Value, true
	case In:
		rv := reflect.ValueOf(lit.Value)
		if (rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array) && rv.Len() == 1 {
			return rv.Index(0).Interface(), true
		}
	}
	return nil, false
}

func fieldAndLiteral(c Compare) (FieldRef, Literal, bool) {
	if f, ok := c.Left.(FieldRef); ok {
		if l, ok := c.Right.(Literal); ok {
			return f, l, true
		}
	}
	if c.Op == Eq {
		if l, ok := c.Left.(Literal); ok {
			if f, ok := c.Right.(FieldRef); ok {
				return f, l, true
			}
		}
	}
	return FieldRef{}, Literal{}, false
}
