package entity

import (
	"fmt"

	"github.com/mesh-intelligence/connector/pkg/expr"
	"github.com/mesh-intelligence/connector/pkg/types"
)

// TenantSeparator joins a base storage name and a tenant.
const TenantSeparator = "__"

// StorageNameForEntity returns the storage unit that holds v.
func (d *Descriptor) StorageNameForEntity(v any) (string, error) {
	if !d.separated() {
		return d.StorageName, nil
	}
	sv, err := d.structValue(v)
	if err != nil {
		return "", err
	}
	return d.tenantStorage(d.get(sv, d.Tenant))
}

// StorageNameForCondition returns the storage unit a condition addresses,
// taken from an equality constraint on the tenant field.
func (d *Descriptor) StorageNameForCondition(c expr.Condition) (string, error) {
	if !d.separated() {
		return d.StorageName, nil
	}
	v, _ := expr.SearchFieldValue(d.Tenant.Name, c)
	return d.tenantStorage(v)
}

// StorageNameForTenant suffixes the base name with tenant when the entity
// separates tenants.
func (d *Descriptor) StorageNameForTenant(tenant *string) string {
	if !d.separated() || tenant == nil || *tenant == "" {
		return d.StorageName
	}
	return d.StorageName + TenantSeparator + *tenant
}

func (d *Descriptor) separated() bool {
	return d.Tenant != nil && d.TenantStrategy == SeparatedTenant
}

func (d *Descriptor) tenantStorage(v any) (string, error) {
	tenant, err := Convert(v, Type{Kind: KindString, Go: d.Tenant.Type.Go})
	if err != nil {
		return "", fmt.Errorf("tenant of %s: %w", d.StorageName, err)
	}
	var s string
	if tenant != nil {
		s = fmt.Sprint(tenant)
	}
	if s == "" {
		if d.Tenant.Type.Optional {
			return d.StorageName, nil
		}
		return "", fmt.Errorf("%w: %s requires %q", types.ErrMissingTenant, d.StorageName, d.Tenant.Name)
	}
	return d.StorageName + TenantSeparator + s, nil
}
