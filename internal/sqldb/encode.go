package sqldb

import (
	"encoding/json"
	"fmt"
	"reflect"
	"time"

	"github.com/google/uuid"

	"github.com/mesh-intelligence/connector/pkg/entity"
	"github.com/mesh-intelligence/connector/pkg/types"
)

// scalar reduces a converted value to a plain driver type: bool, int64,
// float64, string, time.Time, or JSON text for collections and maps.
func scalar(t entity.Type, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	rv := reflect.ValueOf(v)
	switch t.Kind {
	case entity.KindBool:
		return rv.Bool(), nil
	case entity.KindInt:
		return rv.Int(), nil
	case entity.KindUint:
		u := rv.Uint()
		if u > 1<<63-1 {
			return nil, fmt.Errorf("%w: %d does not fit a signed column", types.ErrTypeMismatch, u)
		}
		return int64(u), nil
	case entity.KindFloat:
		return rv.Float(), nil
	case entity.KindString:
		return rv.String(), nil
	case entity.KindTime:
		tm, ok := v.(time.Time)
		if !ok {
			return nil, fmt.Errorf("%w: %T is not a time", types.ErrTypeMismatch, v)
		}
		return tm.UTC(), nil
	}
	return jsonText(v)
}

func jsonText(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("%w: %v", types.ErrTypeMismatch, err)
	}
	return string(b), nil
}

// decode maps a scanned column back to the property's Go type. Collections
// and maps arrive as JSON text; uuid columns as text or raw bytes.
func decode(p *entity.Property, raw any) (any, error) {
	switch v := raw.(type) {
	case nil:
		return nil, nil
	case [16]byte:
		raw = uuid.UUID(v).String()
	case []byte:
		switch {
		case p.Generated && len(v) == 16:
			raw = uuid.UUID(v).String()
		case p.Type.Scalar() && p.Type.Kind != entity.KindString:
			raw = string(v)
		}
	}
	if !p.Type.Scalar() {
		var text []byte
		switch v := raw.(type) {
		case string:
			text = []byte(v)
		case []byte:
			text = v
		}
		if text != nil {
			var out any
			if err := json.Unmarshal(text, &out); err != nil {
				return nil, fmt.Errorf("decode %s: %w", p.Name, err)
			}
			raw = out
		}
	}
	v, err := entity.Convert(raw, p.Type)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", p.Name, err)
	}
	return v, nil
}
