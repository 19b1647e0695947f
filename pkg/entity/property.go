package entity

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

// tagName is the struct tag that declares storage properties.
const tagName = "db"

// Property describes one stored field of an entity.
type Property struct {
	// Name is the property's storage name, used in conditions and patches.
	Name string
	// Field is the Go struct field name.
	Field string
	Type  Type

	ID        bool
	Generated bool
	Version   bool
	Tenant    bool
	MaxLength int

	index   []int
	ignored bool
}

// Ignored reports whether the property carries no information in its
// storage unit: the tenant field of a SeparatedTenant entity.
func (p *Property) Ignored() bool { return p.ignored }

// parseProperty reads the db tag of a struct field. The tag is
// "name,option,option..." with options id, generated, version, tenant and
// maxlen=N. A missing name defaults to the field name with a lower-case
// first letter.
func parseProperty(f reflect.StructField, index []int) (*Property, error) {
	t, err := TypeOf(f.Type)
	if err != nil {
		return nil, fmt.Errorf("field %s: %w", f.Name, err)
	}
	p := &Property{Field: f.Name, Type: t, index: index}

	parts := strings.Split(f.Tag.Get(tagName), ",")
	p.Name = strings.TrimSpace(parts[0])
	if p.Name == "" {
		p.Name = lowerFirst(f.Name)
	}
	for _, opt := range parts[1:] {
		opt = strings.TrimSpace(opt)
		switch {
		case opt == "":
		case opt == "id":
			p.ID = true
		case opt == "generated":
			p.Generated = true
		case opt == "version":
			p.Version = true
		case opt == "tenant":
			p.Tenant = true
		case strings.HasPrefix(opt, "maxlen="):
			n, err := strconv.Atoi(strings.TrimPrefix(opt, "maxlen="))
			if err != nil || n <= 0 {
				return nil, fmt.Errorf("field %s: invalid %q", f.Name, opt)
			}
			p.MaxLength = n
		default:
			return nil, fmt.Errorf("field %s: unknown tag option %q", f.Name, opt)
		}
	}
	return p, p.validate()
}

func (p *Property) validate() error {
	switch {
	case p.Generated && !p.ID:
		return fmt.Errorf("field %s: generated applies to the id property only", p.Field)
	case p.Generated && p.Type.Kind != KindString:
		return fmt.Errorf("field %s: generated ids must be strings", p.Field)
	case p.ID && (!p.Type.Scalar() || p.Type.Optional):
		return fmt.Errorf("field %s: id must be a non-pointer scalar", p.Field)
	case p.Version && (p.Type.Kind != KindInt || p.Type.Optional):
		return fmt.Errorf("field %s: version must be a non-pointer integer", p.Field)
	case p.Tenant && p.Type.Kind != KindString:
		return fmt.Errorf("field %s: tenant must be a string", p.Field)
	case p.MaxLength > 0 && p.Type.Kind != KindString:
		return fmt.Errorf("field %s: maxlen applies to strings only", p.Field)
	case p.ID && p.Version, p.ID && p.Tenant, p.Version && p.Tenant:
		return fmt.Errorf("field %s: id, version and tenant are exclusive", p.Field)
	}
	return nil
}

func lowerFirst(s string) string {
	r, n := utf8.DecodeRuneInString(s)
	return string(unicode.ToLower(r)) + s[n:]
}

// collectProperties walks the exported fields of rt, descending into
// embedded structs that carry no db tag of their own.
func collectProperties(rt reflect.Type, prefix []int) ([]*Property, error) {
	var props []*Property
	for i := 0; i < rt.NumField(); i++ {
		f := rt.Field(i)
		tag, tagged := f.Tag.Lookup(tagName)
		if tag == "-" {
			continue
		}
		index := append(append([]int(nil), prefix...), i)
		if f.Anonymous && !tagged && f.Type.Kind() == reflect.Struct && f.Type != timeType {
			nested, err := collectProperties(f.Type, index)
			if err != nil {
				return nil, err
			}
			props = append(props, nested...)
			continue
		}
		if !f.IsExported() {
			continue
		}
		p, err := parseProperty(f, index)
		if err != nil {
			return nil, err
		}
		props = append(props, p)
	}
	return props, nil
}
