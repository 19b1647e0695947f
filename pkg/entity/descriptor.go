package entity

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/mesh-intelligence/connector/pkg/types"
)

// TenantStrategy decides whether tenants share a storage unit.
type TenantStrategy int

const (
	// MultiTenant stores every tenant in one storage unit; the tenant field
	// is an ordinary column.
	MultiTenant TenantStrategy = iota
	// SeparatedTenant gives each tenant its own storage unit named
	// base__tenant.
	SeparatedTenant
	// FromConfig resolves to one of the above from the registry's
	// per-domain configuration.
	FromConfig
)

func (s TenantStrategy) String() string {
	switch s {
	case MultiTenant:
		return types.TenantStrategyMulti
	case SeparatedTenant:
		return types.TenantStrategySeparated
	case FromConfig:
		return "FROM_CONFIG"
	}
	return fmt.Sprintf("TenantStrategy(%d)", int(s))
}

// ParseTenantStrategy accepts the configuration names of the concrete
// strategies.
func ParseTenantStrategy(s string) (TenantStrategy, error) {
	switch strings.ToUpper(s) {
	case types.TenantStrategyMulti:
		return MultiTenant, nil
	case types.TenantStrategySeparated:
		return SeparatedTenant, nil
	}
	return 0, fmt.Errorf("%w: %q", types.ErrTenantStrategy, s)
}

// IndexKind classifies an index.
type IndexKind int

const (
	Simple IndexKind = iota
	Unique
	Text
)

func (k IndexKind) String() string {
	switch k {
	case Simple:
		return "simple"
	case Unique:
		return "unique"
	case Text:
		return "text"
	}
	return fmt.Sprintf("IndexKind(%d)", int(k))
}

// SimpleSuffix names the implicit simple index that backs a text index's
// regex fallback.
const SimpleSuffix = "__simple"

// Index is a declared index over one or more properties.
type Index struct {
	Name   string
	Fields []string
	Kind   IndexKind
}

// Definition declares how an entity type is stored.
type Definition struct {
	// Domain is the first segment of the storage name and is required.
	Domain string
	// Name is an optional second segment.
	Name           string
	TenantStrategy TenantStrategy
	Indexes        []Index
}

// Descriptor holds the storage facts of one entity type. It is immutable
// once built and shared by every compiler and adapter.
type Descriptor struct {
	Type        reflect.Type
	Domain      string
	Name        string
	StorageName string

	Properties []*Property
	ID         *Property
	Version    *Property
	Tenant     *Property

	// TenantStrategy is resolved: never FromConfig.
	TenantStrategy TenantStrategy
	Indexes        []Index

	byName map[string]*Property
}

func newDescriptor(rt reflect.Type, def Definition, strategies map[string]TenantStrategy) (*Descriptor, error) {
	if rt.Kind() != reflect.Struct {
		return nil, fmt.Errorf("%w: %s is not a struct", types.ErrInvalidEntity, rt)
	}
	if def.Domain == "" {
		return nil, fmt.Errorf("%w: %s has no domain", types.ErrInvalidEntity, rt)
	}
	props, err := collectProperties(rt, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", types.ErrInvalidEntity, rt, err)
	}

	d := &Descriptor{
		Type:        rt,
		Domain:      def.Domain,
		Name:        def.Name,
		StorageName: def.Domain,
		Properties:  props,
		byName:      make(map[string]*Property, len(props)),
	}
	if def.Name != "" {
		d.StorageName += "_" + def.Name
	}

	d.TenantStrategy = def.TenantStrategy
	if d.TenantStrategy == FromConfig {
		d.TenantStrategy = strategies[def.Domain]
	}

	for _, p := range props {
		if _, dup := d.byName[p.Name]; dup {
			return nil, fmt.Errorf("%w: %s: duplicate property %q", types.ErrInvalidEntity, rt, p.Name)
		}
		d.byName[p.Name] = p
		var slot **Property
		var role string
		switch {
		case p.ID:
			slot, role = &d.ID, "id"
		case p.Version:
			slot, role = &d.Version, "version"
		case p.Tenant:
			slot, role = &d.Tenant, "tenant"
		default:
			continue
		}
		if *slot != nil {
			return nil, fmt.Errorf("%w: %s: more than one %s property", types.ErrInvalidEntity, rt, role)
		}
		*slot = p
	}
	if d.Tenant != nil && d.TenantStrategy == SeparatedTenant {
		d.Tenant.ignored = true
	}

	if err := d.resolveIndexes(def.Indexes); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", types.ErrInvalidEntity, rt, err)
	}
	return d, nil
}

// resolveIndexes validates declared indexes, drops ignored fields, and adds
// the simple companion of every text index.
func (d *Descriptor) resolveIndexes(declared []Index) error {
	for _, idx := range declared {
		if len(idx.Fields) == 0 {
			return fmt.Errorf("index %q has no fields", idx.Name)
		}
		var fields []string
		for _, f := range idx.Fields {
			p, ok := d.byName[f]
			if !ok {
				return fmt.Errorf("index %q: unknown field %q", idx.Name, f)
			}
			if !p.ignored {
				fields = append(fields, f)
			}
		}
		if len(fields) == 0 {
			continue
		}
		name := idx.Name
		if name == "" {
			name = strings.Join(fields, "_")
		}
		d.Indexes = append(d.Indexes, Index{Name: name, Fields: fields, Kind: idx.Kind})
		if idx.Kind == Text {
			d.Indexes = append(d.Indexes, Index{Name: name + SimpleSuffix, Fields: fields, Kind: Simple})
		}
	}
	return nil
}

// Property returns the named property, including ignored ones.
func (d *Descriptor) Property(name string) (*Property, bool) {
	p, ok := d.byName[name]
	return p, ok
}

// Lookup returns the named property when it is stored. Unknown and ignored
// properties are not found.
func (d *Descriptor) Lookup(name string) (*Property, bool) {
	p, ok := d.byName[name]
	if !ok || p.ignored {
		return nil, false
	}
	return p, true
}

// Stored returns the properties written to the storage unit, in declaration
// order.
func (d *Descriptor) Stored() []*Property {
	out := make([]*Property, 0, len(d.Properties))
	for _, p := range d.Properties {
		if !p.ignored {
			out = append(out, p)
		}
	}
	return out
}

// Index returns the named index.
func (d *Descriptor) Index(name string) (Index, bool) {
	for _, idx := range d.Indexes {
		if idx.Name == name {
			return idx, true
		}
	}
	return Index{}, false
}

// TextIndex selects a text index by name, or the only one when name is
// empty.
func (d *Descriptor) TextIndex(name string) (Index, error) {
	if name != "" {
		idx, ok := d.Index(name)
		if !ok || idx.Kind != Text {
			return Index{}, fmt.Errorf("%w: %q on %s", types.ErrUnknownIndex, name, d.StorageName)
		}
		return idx, nil
	}
	var found []Index
	for _, idx := range d.Indexes {
		if idx.Kind == Text {
			found = append(found, idx)
		}
	}
	if len(found) != 1 {
		return Index{}, fmt.Errorf("%w: %s declares %d text indexes, name one", types.ErrUnknownIndex, d.StorageName, len(found))
	}
	return found[0], nil
}
