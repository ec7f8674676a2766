package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/groundwire/orchestrator/services/tenancy"
)

// TenantsFile is the YAML shape of the static tenant bootstrap file:
// operators hand-edit it to onboard a tenant onto a dedicated database
// rather than the shared logical one.
type TenantsFile struct {
	Tenants map[string]TenantEntry `yaml:"tenants"`
}

type TenantEntry struct {
	Isolation string `yaml:"isolation"`
	Database  string `yaml:"database"`
}

// LoadTenantsFile reads a tenant bootstrap file from path. A missing file is
// not an error: every tenant simply falls back to the registry's default
// logical route.
func LoadTenantsFile(path string) (*TenantsFile, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return &TenantsFile{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: read tenants file: %w", err)
	}
	var f TenantsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("config: parse tenants file: %w", err)
	}
	return &f, nil
}

// ApplyTenants registers every entry in f against reg, defaulting an
// unspecified isolation to LOGICAL and an unspecified database to the
// registry's own default.
func ApplyTenants(reg *tenancy.TenantRegistry, f *TenantsFile, defaultDatabase string) {
	for id, entry := range f.Tenants {
		isolation := tenancy.IsolationLogical
		if entry.Isolation == string(tenancy.IsolationPhysical) {
			isolation = tenancy.IsolationPhysical
		}
		database := entry.Database
		if database == "" {
			database = defaultDatabase
		}
		reg.Register(id, tenancy.TenantRoute{Isolation: isolation, Database: database})
	}
}
