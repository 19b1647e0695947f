package types

import (
	"errors"
	"fmt"
)

// Config selects a backend and carries its connection parameters.
type Config struct {
	Backend string `json:"backend" yaml:"backend" mapstructure:"backend"`

	// DSN is the connection string: a file path for sqlite, a postgres URL,
	// or a mongodb URI. It is passed to the driver verbatim.
	DSN string `json:"dsn" yaml:"dsn" mapstructure:"dsn"`

	// Database names the mongodb database. Ignored by relational backends.
	Database string `json:"database,omitempty" yaml:"database,omitempty" mapstructure:"database"`

	// IDFormat selects generated identifiers on relational backends.
	IDFormat string `json:"id_format" yaml:"id_format" mapstructure:"id_format"`

	AutoCreate   bool `json:"auto_create" yaml:"auto_create" mapstructure:"auto_create"`
	MaxOpenConns int  `json:"max_open_conns,omitempty" yaml:"max_open_conns,omitempty" mapstructure:"max_open_conns"`

	// TenantStrategies maps an entity domain to MULTI_TENANT or
	// SEPARATED_TENANT for entities declared with the FromConfig strategy.
	TenantStrategies map[string]string `json:"tenant_strategies,omitempty" yaml:"tenant_strategies,omitempty" mapstructure:"tenant_strategies"`
}

// Supported backend names.
const (
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendMongoDB  = "mongodb"
)

// Supported generated identifier formats.
const (
	IDFormatUUID = "uuid"
	IDFormatULID = "ulid"
)

// Tenant strategy names accepted in TenantStrategies.
const (
	TenantStrategyMulti     = "MULTI_TENANT"
	TenantStrategySeparated = "SEPARATED_TENANT"
)

// Config validation errors.
var (
	ErrBackendEmpty   = errors.New("backend must not be empty")
	ErrBackendUnknown = errors.New("unknown backend")
	ErrDSNEmpty       = errors.New("dsn must not be empty")
	ErrDatabaseEmpty  = errors.New("database must not be empty")
	ErrIDFormat       = errors.New("unknown id format")
	ErrTenantStrategy = errors.New("unknown tenant strategy")
)

// knownBackends lists the backends that Validate accepts.
var knownBackends = map[string]bool{
	BackendSQLite:   true,
	BackendPostgres: true,
	BackendMongoDB:  true,
}

// Validate checks that the Config is well-formed. It returns a sentinel error
// from this package on failure, wrapped with the offending value.
func (c Config) Validate() error {
	if c.Backend == "" {
		return ErrBackendEmpty
	}
	if !knownBackends[c.Backend] {
		return fmt.Errorf("%w: %q", ErrBackendUnknown, c.Backend)
	}
	if c.DSN == "" {
		return ErrDSNEmpty
	}
	if c.Backend == BackendMongoDB && c.Database == "" {
		return ErrDatabaseEmpty
	}
	switch c.IDFormat {
	case "", IDFormatUUID, IDFormatULID:
	default:
		return fmt.Errorf("%w: %q", ErrIDFormat, c.IDFormat)
	}
	for domain, s := range c.TenantStrategies {
		if s != TenantStrategyMulti && s != TenantStrategySeparated {
			return fmt.Errorf("%w: %q for domain %q", ErrTenantStrategy, s, domain)
		}
	}
	return nil
}
