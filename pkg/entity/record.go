package entity

import (
	"fmt"
	"reflect"

	"github.com/mesh-intelligence/connector/pkg/types"
)

// Record is one stored entity keyed by property name. It is the row shape
// exchanged between the connector and the backend adapters; values are the
// converted Go values of each property, nil for absent optionals.
type Record map[string]any

// ID returns the record's identifier under d.
func (r Record) ID(d *Descriptor) any {
	if d.ID == nil {
		return nil
	}
	return r[d.ID.Name]
}

// Values reads every stored property of v, which must be a T or *T for the
// descriptor's type. Nil collections and maps are read as empty ones.
func (d *Descriptor) Values(v any) (Record, error) {
	sv, err := d.structValue(v)
	if err != nil {
		return nil, err
	}
	rec := make(Record, len(d.Properties))
	for _, p := range d.Properties {
		if p.ignored {
			continue
		}
		rec[p.Name] = d.get(sv, p)
	}
	return rec, nil
}

// Get reads one property of v.
func (d *Descriptor) Get(v any, p *Property) (any, error) {
	sv, err := d.structValue(v)
	if err != nil {
		return nil, err
	}
	return d.get(sv, p), nil
}

// Set converts value to the property's type and assigns it on v, which must
// be a pointer.
func (d *Descriptor) Set(v any, p *Property, value any) error {
	sv, err := d.pointerValue(v)
	if err != nil {
		return err
	}
	return setField(sv.FieldByIndex(p.index), p, value)
}

// Decode assigns the properties present in rec onto dst, a pointer to the
// descriptor's type. Keys that are not properties are ignored.
func (d *Descriptor) Decode(rec Record, dst any) error {
	sv, err := d.pointerValue(dst)
	if err != nil {
		return err
	}
	for _, p := range d.Properties {
		value, ok := rec[p.Name]
		if !ok {
			continue
		}
		if err := setField(sv.FieldByIndex(p.index), p, value); err != nil {
			return fmt.Errorf("decoding %s.%s: %w", d.StorageName, p.Name, err)
		}
	}
	return nil
}

// IsZeroID reports whether v has no identifier yet.
func (d *Descriptor) IsZeroID(v any) (bool, error) {
	if d.ID == nil {
		return false, types.ErrMissingIDProperty
	}
	sv, err := d.structValue(v)
	if err != nil {
		return false, err
	}
	return sv.FieldByIndex(d.ID.index).IsZero(), nil
}

func (d *Descriptor) get(sv reflect.Value, p *Property) any {
	fv := sv.FieldByIndex(p.index)
	if fv.Kind() == reflect.Pointer {
		if fv.IsNil() {
			return nil
		}
		fv = fv.Elem()
	}
	switch {
	case p.Type.Kind == KindCollection && fv.IsNil():
		return reflect.MakeSlice(p.Type.Go, 0, 0).Interface()
	case p.Type.Kind == KindMap && fv.IsNil():
		return reflect.MakeMap(p.Type.Go).Interface()
	}
	return fv.Interface()
}

func setField(fv reflect.Value, p *Property, value any) error {
	cv, err := Convert(value, p.Type)
	if err != nil {
		return err
	}
	if cv == nil {
		fv.Set(reflect.Zero(fv.Type()))
		return nil
	}
	rv := reflect.ValueOf(cv)
	if p.Type.Optional {
		ptr := reflect.New(p.Type.Go)
		ptr.Elem().Set(rv)
		fv.Set(ptr)
		return nil
	}
	fv.Set(rv)
	return nil
}

func (d *Descriptor) structValue(v any) (reflect.Value, error) {
	rv := reflect.ValueOf(v)
	if !rv.IsValid() {
		return reflect.Value{}, fmt.Errorf("%w: nil %s", types.ErrInvalidEntity, d.Type)
	}
	for rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return reflect.Value{}, fmt.Errorf("%w: nil %s", types.ErrInvalidEntity, d.Type)
		}
		rv = rv.Elem()
	}
	if rv.Type() != d.Type {
		return reflect.Value{}, fmt.Errorf("%w: %T is not %s", types.ErrTypeMismatch, v, d.Type)
	}
	return rv, nil
}

func (d *Descriptor) pointerValue(v any) (reflect.Value, error) {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		return reflect.Value{}, fmt.Errorf("%w: need a non-nil *%s, got %T", types.ErrTypeMismatch, d.Type, v)
	}
	rv = rv.Elem()
	if rv.Type() != d.Type {
		return reflect.Value{}, fmt.Errorf("%w: %T is not *%s", types.ErrTypeMismatch, v, d.Type)
	}
	return rv, nil
}
