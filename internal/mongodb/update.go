package mongodb

import (
	"fmt"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/mesh-intelligence/connector/pkg/entity"
	"github.com/mesh-intelligence/connector/pkg/patch"
	"github.com/mesh-intelligence/connector/pkg/types"
)

// fieldUpdate accumulates the patches on one field.
type fieldUpdate struct {
	op    string
	field string
	set   any
	inc   int64
	elems bson.A
}

// update renders patches as one update document. MongoDB rejects two
// operators on the same path, so patches on a field are folded: successive
// sets keep the last value, increments add up, appends and removes collect
// their elements. Mixing kinds on one field fails with
// types.ErrUnsupportedPatch.
func update(d *entity.Descriptor, patches []patch.Patch) (bson.D, error) {
	compiled, err := patch.Normalize(d, patches)
	if err != nil {
		return nil, err
	}
	if len(compiled) == 0 {
		return nil, fmt.Errorf("%w: nothing to update", types.ErrUnsupportedPatch)
	}

	var fields []*fieldUpdate
	byField := make(map[string]*fieldUpdate)
	for _, cp := range compiled {
		name := fieldName(cp.Property)
		op := operator(cp.Patch)
		fu, ok := byField[name]
		if !ok {
			fu = &fieldUpdate{op: op, field: name}
			byField[name] = fu
			fields = append(fields, fu)
		} else if fu.op != op {
			return nil, fmt.Errorf("%w: %s and %s on %q in one update", types.ErrUnsupportedPatch, fu.op, op, cp.Property.Name)
		}
		switch op {
		case "$set":
			if fu.set, err = value(cp.Property, cp.Value); err != nil {
				return nil, err
			}
		case "$inc":
			fu.inc += cp.Value.(int64)
		default:
			elem := cp.Value
			if elem != nil {
				elem = encode(*cp.Property.Type.Elem, elem)
			}
			fu.elems = append(fu.elems, elem)
		}
	}

	var ops []string
	byOp := make(map[string]bson.D)
	for _, fu := range fields {
		var v any
		switch fu.op {
		case "$set":
			v = fu.set
		case "$inc":
			v = fu.inc
		case "$push":
			v = bson.D{{Key: "$each", Value: fu.elems}}
		case "$pull":
			v = bson.D{{Key: "$in", Value: fu.elems}}
		}
		if _, ok := byOp[fu.op]; !ok {
			ops = append(ops, fu.op)
		}
		byOp[fu.op] = append(byOp[fu.op], bson.E{Key: fu.field, Value: v})
	}
	doc := make(bson.D, 0, len(ops))
	for _, op := range ops {
		doc = append(doc, bson.E{Key: op, Value: byOp[op]})
	}
	return doc, nil
}

func operator(p patch.Patch) string {
	switch p.(type) {
	case patch.Increment:
		return "$inc"
	case patch.Append:
		return "$push"
	case patch.Remove:
		return "$pull"
	}
	return "$set"
}
