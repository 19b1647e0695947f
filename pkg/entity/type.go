package entity

import (
	"fmt"
	"reflect"
	"time"
)

// Kind is the semantic type of a property, independent of any backend.
type Kind int

const (
	KindBool Kind = iota
	KindInt
	KindUint
	KindFloat
	KindString
	KindTime
	KindCollection
	KindMap
	// KindAny is only valid as a collection element or map value.
	KindAny
)

var kindNames = [...]string{"bool", "int", "uint", "float", "string", "time", "collection", "map", "any"}

func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return fmt.Sprintf("kind(%d)", int(k))
	}
	return kindNames[k]
}

// Type describes a property's value. Go is the declared Go type with any
// pointer removed; Optional records that the field was a pointer. Elem is set
// for collections (element type) and maps (value type).
type Type struct {
	Kind     Kind
	Optional bool
	Go       reflect.Type
	Elem     *Type
}

func (t Type) String() string {
	if t.Go == nil {
		return t.Kind.String()
	}
	if t.Optional {
		return "*" + t.Go.String()
	}
	return t.Go.String()
}

// Bits returns the size of numeric types, 0 otherwise.
func (t Type) Bits() int {
	switch t.Kind {
	case KindInt, KindUint, KindFloat:
		return t.Go.Bits()
	}
	return 0
}

// Scalar reports whether values of the type are stored as a single column
// or field rather than as an encoded document.
func (t Type) Scalar() bool {
	return t.Kind != KindCollection && t.Kind != KindMap && t.Kind != KindAny
}

var timeType = reflect.TypeOf(time.Time{})

// TypeOf maps a Go field type to its semantic type.
func TypeOf(rt reflect.Type) (Type, error) {
	optional := false
	if rt.Kind() == reflect.Pointer {
		optional = true
		rt = rt.Elem()
	}
	t, err := baseType(rt)
	if err != nil {
		return Type{}, err
	}
	t.Optional = optional
	return t, nil
}

func baseType(rt reflect.Type) (Type, error) {
	if rt == timeType {
		return Type{Kind: KindTime, Go: rt}, nil
	}
	switch rt.Kind() {
	case reflect.Bool:
		return Type{Kind: KindBool, Go: rt}, nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return Type{Kind: KindInt, Go: rt}, nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return Type{Kind: KindUint, Go: rt}, nil
	case reflect.Float32, reflect.Float64:
		return Type{Kind: KindFloat, Go: rt}, nil
	case reflect.String:
		return Type{Kind: KindString, Go: rt}, nil
	case reflect.Slice:
		elem, err := elemType(rt.Elem())
		if err != nil {
			return Type{}, err
		}
		return Type{Kind: KindCollection, Go: rt, Elem: &elem}, nil
	case reflect.Map:
		if rt.Key().Kind() != reflect.String {
			return Type{}, fmt.Errorf("map keys must be strings, got %s", rt.Key())
		}
		elem, err := elemType(rt.Elem())
		if err != nil {
			return Type{}, err
		}
		return Type{Kind: KindMap, Go: rt, Elem: &elem}, nil
	}
	return Type{}, fmt.Errorf("unsupported property type %s", rt)
}

func elemType(rt reflect.Type) (Type, error) {
	if rt.Kind() == reflect.Interface && rt.NumMethod() == 0 {
		return Type{Kind: KindAny, Go: rt}, nil
	}
	if rt.Kind() == reflect.Pointer {
		return Type{}, fmt.Errorf("pointer elements are not supported: %s", rt)
	}
	t, err := baseType(rt)
	if err != nil {
		return Type{}, err
	}
	if !t.Scalar() {
		return Type{}, fmt.Errorf("nested collections are not supported: %s", rt)
	}
	return t, nil
}
