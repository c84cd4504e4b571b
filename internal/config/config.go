// Package config loads querygate settings from defaults, an optional YAML
// file, QUERYGATE_* environment variables and explicitly set CLI flags.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"
)

// EnvPrefix is stripped from environment variable names.
const EnvPrefix = "QUERYGATE_"

// Config is loaded once at startup and never mutated afterwards.
type Config struct {
	LogLevel string `koanf:"log_level"`
	HTTPPort int    `koanf:"http_port"`
	GRPCPort int    `koanf:"grpc_port"` // 0 disables the gRPC listener

	AuthSecret    string        `koanf:"auth_secret"`
	AuthAlgorithm string        `koanf:"auth_algorithm"`
	TokenTTL      time.Duration `koanf:"token_ttl"`

	DBDriver          string        `koanf:"db_driver"`
	DBDSN             string        `koanf:"db_dsn"`
	DBTimeout         time.Duration `koanf:"db_timeout"`
	DBMaxOpenConns    int           `koanf:"db_max_open_conns"`
	DBMaxIdleConns    int           `koanf:"db_max_idle_conns"`
	DBConnMaxLifetime time.Duration `koanf:"db_conn_max_lifetime"`
	DBMaxRows         int           `koanf:"db_max_rows"`

	TranslatorBaseURL string        `koanf:"translator_base_url"`
	TranslatorAPIKey  string        `koanf:"translator_api_key"`
	TranslatorModel   string        `koanf:"translator_model"`
	TranslatorTimeout time.Duration `koanf:"translator_timeout"`
	TranslatorRetries int           `koanf:"translator_retries"`

	PolicyBulkMarkers      []string `koanf:"policy_bulk_markers"`
	PolicyForbiddenMessage string   `koanf:"policy_forbidden_message"`
	MaxQueryLength         int      `koanf:"max_query_length"`

	// Schema is the table → columns allow-list. YAML only.
	Schema map[string][]string `koanf:"schema"`

	ClickHouseDSN   string `koanf:"clickhouse_dsn"`
	IdentityEnabled bool   `koanf:"identity_enabled"`
	// IdentityDBDSN holds the users table. Same driver as db_dsn, never the
	// same database.
	IdentityDBDSN string   `koanf:"identity_db_dsn"`
	CORSOrigins   []string `koanf:"cors_origins"`
}

// DefaultSchema mirrors the seeded customers table.
func DefaultSchema() map[string][]string {
	return map[string][]string{
		"customers": {"customer_id", "name", "gender", "location"},
	}
}

func defaults() map[string]interface{} {
	return map[string]interface{}{
		"log_level":                "info",
		"http_port":                8080,
		"grpc_port":                50051,
		"auth_algorithm":           "HS256",
		"token_ttl":                30 * time.Minute,
		"db_driver":                "sqlite",
		"db_dsn":                   "customers.db",
		"db_timeout":               5 * time.Second,
		"db_max_open_conns":        10,
		"db_max_idle_conns":        5,
		"db_conn_max_lifetime":     5 * time.Minute,
		"db_max_rows":              1000,
		"translator_base_url":      "https://api.groq.com/openai/v1",
		"translator_model":         "llama-3.1-8b-instant",
		"translator_timeout":       15 * time.Second,
		"translator_retries":       0,
		"policy_bulk_markers":      []string{"all customers"},
		"policy_forbidden_message": "Not allowed to fetch all customers",
		"max_query_length":         2000,
		"identity_enabled":         true,
		"identity_db_dsn":          "identity.db",
		"cors_origins":             []string{"*"},
	}
}

// findConfigFile returns explicit, or querygate.yaml / querygate.yml in the
// working directory, or "".
func findConfigFile(explicit string) string {
	if explicit != "" {
		return explicit
	}
	for _, name := range []string{"querygate.yaml", "querygate.yml"} {
		if _, err := os.Stat(name); err == nil {
			return name
		}
	}
	return ""
}

// Load builds a Config. Precedence (highest to lowest): flags > env vars >
// config file > defaults. flags may be nil.
func Load(cfgFile string, flags *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if path := findConfigFile(cfgFile); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("error reading config file %s: %w", path, err)
		}
	}

	// QUERYGATE_DB_DSN -> db_dsn
	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	if flags != nil {
		if err := k.Load(posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, interface{}) {
			if !f.Changed {
				return "", nil
			}
			return strings.ReplaceAll(f.Name, "-", "_"), posflag.FlagVal(flags, f)
		}), nil); err != nil {
			return nil, fmt.Errorf("failed to load flags: %w", err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	if cfg.TranslatorAPIKey == "" {
		cfg.TranslatorAPIKey = os.Getenv("GROQ_API_KEY")
	}
	if len(cfg.Schema) == 0 {
		cfg.Schema = DefaultSchema()
	}
	cfg.PolicyBulkMarkers = trimAll(cfg.PolicyBulkMarkers)
	cfg.CORSOrigins = trimAll(cfg.CORSOrigins)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values that do not depend on the command being run.
func (c *Config) Validate() error {
	var errs []error
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log_level: unknown level %q", c.LogLevel))
	}
	switch c.DBDriver {
	case "sqlite", "pgx":
	default:
		errs = append(errs, fmt.Errorf("db_driver: must be sqlite or pgx, got %q", c.DBDriver))
	}
	switch c.AuthAlgorithm {
	case "HS256", "HS384", "HS512":
	default:
		errs = append(errs, fmt.Errorf("auth_algorithm: must be HS256, HS384 or HS512, got %q", c.AuthAlgorithm))
	}
	if c.HTTPPort <= 0 || c.HTTPPort > 65535 {
		errs = append(errs, fmt.Errorf("http_port: out of range: %d", c.HTTPPort))
	}
	if c.GRPCPort < 0 || c.GRPCPort > 65535 {
		errs = append(errs, fmt.Errorf("grpc_port: out of range: %d", c.GRPCPort))
	}
	if c.TranslatorRetries < 0 {
		errs = append(errs, errors.New("translator_retries: must not be negative"))
	}
	if c.IdentityEnabled {
		switch {
		case c.IdentityDBDSN == "":
			errs = append(errs, errors.New("identity_db_dsn: required when identity_enabled is set"))
		case sameDatabase(c.IdentityDBDSN, c.DBDSN):
			errs = append(errs, errors.New("identity_db_dsn: must name a different database than db_dsn"))
		}
	}
	for table, cols := range c.Schema {
		if len(cols) == 0 {
			errs = append(errs, fmt.Errorf("schema: table %q has no columns", table))
		}
	}
	return errors.Join(errs...)
}

// RequireSecret reports an error when no signing secret is configured.
func (c *Config) RequireSecret() error {
	if c.AuthSecret == "" {
		return fmt.Errorf("auth_secret is required (set %sAUTH_SECRET)", EnvPrefix)
	}
	return nil
}

// sameDatabase compares DSNs loosely: surrounding space, a leading "file:"
// and SQLite URI parameters are ignored.
func sameDatabase(a, b string) bool {
	norm := func(s string) string {
		s = strings.TrimPrefix(strings.TrimSpace(s), "file:")
		if i := strings.IndexByte(s, '?'); i >= 0 && !strings.Contains(s, "://") {
			s = s[:i]
		}
		return filepath.Clean(s)
	}
	return norm(a) == norm(b)
}

func trimAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
