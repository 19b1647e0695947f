// Package config loads the connector configuration with Viper: config.yaml
// in the configuration directory, CONNECTOR_* environment overrides, and
// defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/mesh-intelligence/connector/internal/paths"
	"github.com/mesh-intelligence/connector/pkg/types"
)

const (
	configFileName = "config"
	configFileType = "yaml"
	configFileExt  = "config.yaml"

	envPrefix = "CONNECTOR"
)

// Config keys.
const (
	KeyBackend      = "backend"
	KeyDSN          = "dsn"
	KeyDatabase     = "database"
	KeyIDFormat     = "id_format"
	KeyAutoCreate   = "auto_create"
	KeyMaxOpenConns = "max_open_conns"
	KeyDataDir      = "data_dir"
)

// DefaultDSN is the SQLite database used when nothing is configured.
const DefaultDSN = "connector.db"

// Default returns the configuration used when config.yaml sets nothing.
func Default() types.Config {
	return types.Config{
		Backend:    types.BackendSQLite,
		DSN:        DefaultDSN,
		IDFormat:   types.IDFormatUUID,
		AutoCreate: true,
	}
}

// Load reads config.yaml from configDir, applies environment overrides and
// validates the result. A missing config.yaml is not an error. A relative
// SQLite DSN is placed in the data directory resolved from dataDirFlag, the
// data_dir key and CONNECTOR_DATA_DIR.
func Load(configDir, dataDirFlag string) (types.Config, error) {
	def := Default()
	v := viper.New()
	v.SetDefault(KeyBackend, def.Backend)
	v.SetDefault(KeyDSN, def.DSN)
	v.SetDefault(KeyDatabase, "")
	v.SetDefault(KeyIDFormat, def.IDFormat)
	v.SetDefault(KeyAutoCreate, def.AutoCreate)
	v.SetDefault(KeyMaxOpenConns, 0)
	v.SetDefault(KeyDataDir, "")

	v.SetConfigName(configFileName)
	v.SetConfigType(configFileType)
	v.AddConfigPath(configDir)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return types.Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg types.Config
	if err := v.Unmarshal(&cfg); err != nil {
		return types.Config{}, fmt.Errorf("decode config: %w", err)
	}
	if cfg.Backend == types.BackendSQLite && isRelativeFile(cfg.DSN) {
		dir, err := paths.ResolveDataDir(dataDirFlag, v.GetString(KeyDataDir))
		if err != nil {
			return types.Config{}, fmt.Errorf("resolve data dir: %w", err)
		}
		cfg.DSN = filepath.Join(dir, cfg.DSN)
	}
	if err := cfg.Validate(); err != nil {
		return types.Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// isRelativeFile reports whether dsn is a plain relative file path, as
// opposed to an absolute path, a file: URI or an in-memory database.
func isRelativeFile(dsn string) bool {
	if dsn == "" || strings.HasPrefix(dsn, "file:") || strings.HasPrefix(dsn, ":memory:") {
		return false
	}
	return !filepath.IsAbs(dsn)
}

// WriteDefault creates configDir and writes a default config.yaml unless
// one exists. It returns the file path and whether it was written.
func WriteDefault(configDir string) (string, bool, error) {
	if err := os.MkdirAll(configDir, 0o755); err != nil {
		return "", false, fmt.Errorf("create config dir: %w", err)
	}
	path := filepath.Join(configDir, configFileExt)
	_, err := os.Stat(path)
	if err == nil {
		return path, false, nil
	}
	if !os.IsNotExist(err) {
		return "", false, fmt.Errorf("stat config file: %w", err)
	}

	body, err := yaml.Marshal(Default())
	if err != nil {
		return "", false, fmt.Errorf("render config: %w", err)
	}
	content := "# connector configuration\n# Environment variables prefixed with CONNECTOR_ override these keys.\n\n" + string(body)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return "", false, fmt.Errorf("write config: %w", err)
	}
	return path, true, nil
}
