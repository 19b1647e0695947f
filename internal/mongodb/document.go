// Package mongodb implements the document storage adapter on the official
// MongoDB driver. Each storage name is a collection; the id property is
// stored as _id and generated ids are ObjectIDs exposed as hex strings.
package mongodb

import (
	"fmt"
	"reflect"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/mesh-intelligence/connector/pkg/entity"
	"github.com/mesh-intelligence/connector/pkg/types"
)

// idField is the document key of the id property.
const idField = "_id"

// scoreField receives the text score of a search; it maps to no property.
const scoreField = "_score"

func fieldName(p *entity.Property) string {
	if p.ID {
		return idField
	}
	return p.Name
}

// value converts v to p's type and encodes it for the driver. Generated ids
// become ObjectIDs; malformed ones fail with types.ErrInvalidID.
func value(p *entity.Property, v any) (any, error) {
	cv, err := entity.Convert(v, p.Type)
	if err != nil {
		return nil, fmt.Errorf("field %q: %w", p.Name, err)
	}
	if cv == nil {
		return nil, nil
	}
	if p.Generated {
		return objectID(reflect.ValueOf(cv).String())
	}
	return encode(p.Type, cv), nil
}

func objectID(hex string) (primitive.ObjectID, error) {
	oid, err := primitive.ObjectIDFromHex(hex)
	if err != nil {
		return primitive.NilObjectID, fmt.Errorf("%w: %q", types.ErrInvalidID, hex)
	}
	return oid, nil
}

// encode reduces named scalar types to their base type. Unsigned values
// are stored as int64 because BSON has no unsigned integers.
func encode(t entity.Type, v any) any {
	rv := reflect.ValueOf(v)
	switch t.Kind {
	case entity.KindBool:
		return rv.Bool()
	case entity.KindInt:
		return rv.Int()
	case entity.KindUint:
		return int64(rv.Uint())
	case entity.KindFloat:
		return rv.Float()
	case entity.KindString:
		return rv.String()
	}
	return v
}

// record maps a decoded document to a record keyed by property name.
// Keys that match no stored property are skipped.
func record(d *entity.Descriptor, doc bson.M) (entity.Record, error) {
	rec := make(entity.Record, len(doc))
	for k, raw := range doc {
		var p *entity.Property
		if k == idField {
			p = d.ID
		} else if found, ok := d.Lookup(k); ok && !found.ID {
			p = found
		}
		if p == nil {
			continue
		}
		v, err := entity.Convert(plain(raw), p.Type)
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", p.Name, err)
		}
		rec[p.Name] = v
	}
	return rec, nil
}

// plain replaces driver types with values entity.Convert understands.
func plain(v any) any {
	switch v := v.(type) {
	case primitive.ObjectID:
		return v.Hex()
	case primitive.DateTime:
		return v.Time()
	case primitive.A:
		out := make([]any, len(v))
		for i, e := range v {
			out[i] = plain(e)
		}
		return out
	case primitive.D:
		out := make(map[string]any, len(v))
		for _, e := range v {
			out[e.Key] = plain(e.Value)
		}
		return out
	case primitive.M:
		out := make(map[string]any, len(v))
		for k, e := range v {
			out[k] = plain(e)
		}
		return out
	}
	return v
}
