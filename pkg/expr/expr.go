// Package expr is the backend-neutral condition language. A Condition is a
// tree of And, Or and Compare nodes; Compare operands are field references,
// literals, or the size of a collection field. Dialect compilers switch over
// the closed set of node types declared here.
package expr

import (
	"fmt"
	"strings"
)

// Op is a comparison operator.
type Op int

const (
	Eq Op = iota
	Ne
	Lt
	Lte
	Gt
	Gte
	RegexMatch
	In
	NotIn
)

var opNames = [...]string{"eq", "ne", "lt", "lte", "gt", "gte", "regex", "in", "nin"}

func (o Op) String() string {
	if o < 0 || int(o) >= len(opNames) {
		return fmt.Sprintf("op(%d)", int(o))
	}
	return opNames[o]
}

// Mirror returns the operator that keeps the comparison's meaning when its
// operands are swapped.
func (o Op) Mirror() Op {
	switch o {
	case Lt:
		return Gt
	case Lte:
		return Gte
	case Gt:
		return Lt
	case Gte:
		return Lte
	default:
		return o
	}
}

// Directional reports whether the operator depends on operand order.
func (o Op) Directional() bool {
	return o == Lt || o == Lte || o == Gt || o == Gte
}

// Condition is a node of a boolean condition tree: And, Or or Compare.
type Condition interface {
	condition()
	String() string
}

// Operand is one side of a Compare: FieldRef, Literal or CollectionSize.
type Operand interface {
	operand()
	String() string
}

// And is satisfied when every child is. An empty And is vacuously true.
type And struct {
	Conditions []Condition
}

// Or is satisfied when any child is. An empty Or is treated as vacuous.
type Or struct {
	Conditions []Condition
}

// Compare applies Op to two operands.
type Compare struct {
	Op    Op
	Left  Operand
	Right Operand
}

// FieldRef names an entity property.
type FieldRef struct {
	Name string
}

// Literal is a constant value. For In and NotIn it holds a slice.
type Literal struct {
	Value any
}

// CollectionSize is the number of elements of a collection operand.
type CollectionSize struct {
	Of Operand
}

func (And) condition()     {}
func (Or) condition()      {}
func (Compare) condition() {}

func (FieldRef) operand()       {}
func (Literal) operand()        {}
func (CollectionSize) operand() {}

func (a And) String() string { return join("and", a.Conditions) }
func (o Or) String() string  { return join("or", o.Conditions) }

func (c Compare) String() string {
	return fmt.Sprintf("%s %s %s", operandString(c.Left), c.Op, operandString(c.Right))
}

func (f FieldRef) String() string       { return f.Name }
func (l Literal) String() string        { return fmt.Sprintf("%#v", l.Value) }
func (s CollectionSize) String() string { return "size(" + operandString(s.Of) + ")" }

func join(op string, conds []Condition) string {
	parts := make([]string, len(conds))
	for i, c := range conds {
		if c == nil {
			parts[i] = "<nil>"
			continue
		}
		parts[i] = c.String()
	}
	return op + "(" + strings.Join(parts, ", ") + ")"
}

func operandString(o Operand) string {
	if o == nil {
		return "<nil>"
	}
	return o.String()
}
