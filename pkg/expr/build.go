package expr

// Field returns a reference to the named property.
func Field(name string) FieldRef {
	return FieldRef{Name: name}
}

// Value wraps v as a literal operand.
func Value(v any) Literal {
	return Literal{Value: v}
}

// AllOf combines conditions with And.
func AllOf(conds ...Condition) And {
	return And{Conditions: conds}
}

// AnyOf combines conditions with Or.
func AnyOf(conds ...Condition) Or {
	return Or{Conditions: conds}
}

// Size returns the collection size of the field.
func (f FieldRef) Size() CollectionSize { return CollectionSize{Of: f} }

func (f FieldRef) Eq(v any) Compare  { return compare(Eq, f, v) }
func (f FieldRef) Ne(v any) Compare  { return compare(Ne, f, v) }
func (f FieldRef) Lt(v any) Compare  { return compare(Lt, f, v) }
func (f FieldRef) Lte(v any) Compare { return compare(Lte, f, v) }
func (f FieldRef) Gt(v any) Compare  { return compare(Gt, f, v) }
func (f FieldRef) Gte(v any) Compare { return compare(Gte, f, v) }

// Matches compares the field against a regular expression.
func (f FieldRef) Matches(pattern string) Compare { return compare(RegexMatch, f, pattern) }

// In tests membership in a slice of values.
func (f FieldRef) In(values any) Compare { return compare(In, f, values) }

// NotIn tests absence from a slice of values.
func (f FieldRef) NotIn(values any) Compare { return compare(NotIn, f, values) }

func (s CollectionSize) Eq(v any) Compare  { return compare(Eq, s, v) }
func (s CollectionSize) Ne(v any) Compare  { return compare(Ne, s, v) }
func (s CollectionSize) Lt(v any) Compare  { return compare(Lt, s, v) }
func (s CollectionSize) Lte(v any) Compare { return compare(Lte, s, v) }
func (s CollectionSize) Gt(v any) Compare  { return compare(Gt, s, v) }
func (s CollectionSize) Gte(v any) Compare { return compare(Gte, s, v) }

// compare treats v as an operand when it already is one, otherwise as a
// literal.
func compare(op Op, left Operand, v any) Compare {
	right, ok := v.(Operand)
	if !ok {
		right = Literal{Value: v}
	}
	return Compare{Op: op, Left: left, Right: right}
}
