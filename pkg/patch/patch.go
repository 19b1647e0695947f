// Package patch declares field-level updates and prepares them for the
// dialect compilers. Normalize owns the version field: it always comes first
// as an increment by one, and callers cannot patch it.
package patch

import (
	"fmt"

	"github.com/mesh-intelligence/connector/pkg/entity"
	"github.com/mesh-intelligence/connector/pkg/types"
)

// Patch is one field update: Set, Increment, Append or Remove.
type Patch interface {
	patch()
	FieldName() string
}

// Set assigns Value to the field.
type Set struct {
	Field string
	Value any
}

// Increment adds Delta to an integer field.
type Increment struct {
	Field string
	Delta int64
}

// Append adds Value to the end of a collection field.
type Append struct {
	Field string
	Value any
}

// Remove deletes every element equal to Value from a collection field.
type Remove struct {
	Field string
	Value any
}

func (Set) patch()       {}
func (Increment) patch() {}
func (Append) patch()    {}
func (Remove) patch()    {}

func (p Set) FieldName() string       { return p.Field }
func (p Increment) FieldName() string { return p.Field }
func (p Append) FieldName() string    { return p.Field }
func (p Remove) FieldName() string    { return p.Field }

// Compiled is a patch resolved against a descriptor, with its value
// converted to the property's type (or element type for collections).
type Compiled struct {
	Patch    Patch
	Property *entity.Property
	Value    any
}

// Normalize resolves patches against d. When d has a version property an
// Increment of one is placed first and caller patches on the version field
// are dropped; patches on ignored fields are dropped too.
func Normalize(d *entity.Descriptor, patches []Patch) ([]Compiled, error) {
	out := make([]Compiled, 0, len(patches)+1)
	if d.Version != nil {
		out = append(out, Compiled{
			Patch:    Increment{Field: d.Version.Name, Delta: 1},
			Property: d.Version,
			Value:    int64(1),
		})
	}
	for _, p := range patches {
		if p == nil {
			return nil, fmt.Errorf("%w: nil patch", types.ErrUnsupportedPatch)
		}
		prop, ok := d.Property(p.FieldName())
		if !ok {
			return nil, fmt.Errorf("%w: %s on unknown field %q", types.ErrUnsupportedPatch, kind(p), p.FieldName())
		}
		if prop.Version || prop.Ignored() {
			continue
		}
		if prop.ID {
			return nil, fmt.Errorf("%w: %s on id field %q", types.ErrUnsupportedPatch, kind(p), prop.Name)
		}
		c, err := resolve(p, prop)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

func resolve(p Patch, prop *entity.Property) (Compiled, error) {
	c := Compiled{Patch: p, Property: prop}
	var err error
	switch p := p.(type) {
	case Set:
		c.Value, err = entity.Convert(p.Value, prop.Type)
		if err == nil && c.Value == nil && !prop.Type.Optional {
			err = fmt.Errorf("%w: nil for required field", types.ErrTypeMismatch)
		}
	case Increment:
		if prop.Type.Kind != entity.KindInt && prop.Type.Kind != entity.KindUint {
			return c, fmt.Errorf("%w: increment on non-integer field %q", types.ErrUnsupportedPatch, prop.Name)
		}
		c.Value = p.Delta
	case Append:
		c.Value, err = elementValue(prop, p.Value)
	case Remove:
		c.Value, err = elementValue(prop, p.Value)
	default:
		return c, fmt.Errorf("%w: %T", types.ErrUnsupportedPatch, p)
	}
	if err != nil {
		return c, fmt.Errorf("%s %q: %w", kind(p), prop.Name, err)
	}
	return c, nil
}

func elementValue(prop *entity.Property, v any) (any, error) {
	if prop.Type.Kind != entity.KindCollection {
		return nil, fmt.Errorf("%w: field is not a collection", types.ErrUnsupportedPatch)
	}
	return entity.Convert(v, *prop.Type.Elem)
}

func kind(p Patch) string {
	switch p.(type) {
	case Set:
		return "set"
	case Increment:
		return "increment"
	case Append:
		return "append"
	case Remove:
		return "remove"
	}
	return fmt.Sprintf("%T", p)
}

// Fields builds a Set for every stored property of v except the id and the
// version. It is the assignment list of an optimistic update.
func Fields(d *entity.Descriptor, v any) ([]Patch, error) {
	rec, err := d.Values(v)
	if err != nil {
		return nil, err
	}
	var out []Patch
	for _, p := range d.Stored() {
		if p.ID || p.Version {
			continue
		}
		out = append(out, Set{Field: p.Name, Value: rec[p.Name]})
	}
	return out, nil
}
