// Package entity derives storage layout from Go entity types. Types are
// declared once in a Registry with a Definition and db struct tags; the
// registry builds each Descriptor on first use and keeps it for its lifetime.
package entity

import (
	"fmt"
	"reflect"
	"sync"

	"github.com/mesh-intelligence/connector/pkg/types"
)

// Registry maps entity types to their descriptors. Construct one per
// process and pass it to every connector.
type Registry struct {
	mu         sync.Mutex
	entries    map[reflect.Type]*registration
	strategies map[string]TenantStrategy
}

type registration struct {
	def  Definition
	once sync.Once
	desc *Descriptor
	err  error
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithTenantStrategies sets the per-domain strategies that FromConfig
// entities resolve to. Domains not listed resolve to MultiTenant.
func WithTenantStrategies(strategies map[string]TenantStrategy) RegistryOption {
	return func(r *Registry) {
		for domain, s := range strategies {
			r.strategies[domain] = s
		}
	}
}

// NewRegistry returns an empty registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		entries:    make(map[reflect.Type]*registration),
		strategies: make(map[string]TenantStrategy),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register declares T, which must be a struct type.
func Register[T any](r *Registry, def Definition) error {
	return r.Register(reflect.TypeOf((*T)(nil)).Elem(), def)
}

// MustRegister is Register for package-level declarations.
func MustRegister[T any](r *Registry, def Definition) {
	if err := Register[T](r, def); err != nil {
		panic(err)
	}
}

// Register declares the entity type rt.
func (r *Registry) Register(rt reflect.Type, def Definition) error {
	rt = indirect(rt)
	if rt.Kind() != reflect.Struct {
		return fmt.Errorf("%w: %s is not a struct", types.ErrInvalidEntity, rt)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[rt]; ok {
		return fmt.Errorf("%w: %s registered twice", types.ErrInvalidEntity, rt)
	}
	r.entries[rt] = &registration{def: def}
	return nil
}

// Describe returns the descriptor of rt, building it on first use.
func (r *Registry) Describe(rt reflect.Type) (*Descriptor, error) {
	rt = indirect(rt)
	r.mu.Lock()
	reg, ok := r.entries[rt]
	r.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", types.ErrUnknownEntity, rt)
	}
	reg.once.Do(func() {
		reg.desc, reg.err = newDescriptor(rt, reg.def, r.strategies)
	})
	return reg.desc, reg.err
}

// DescriptorOf returns the descriptor of T.
func DescriptorOf[T any](r *Registry) (*Descriptor, error) {
	return r.Describe(reflect.TypeOf((*T)(nil)).Elem())
}

func indirect(rt reflect.Type) reflect.Type {
	for rt.Kind() == reflect.Pointer {
		rt = rt.Elem()
	}
	return rt
}
