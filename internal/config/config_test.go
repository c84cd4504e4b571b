package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("GROQ_API_KEY", "")

	cfg, err := Load("", nil)
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 8080, cfg.HTTPPort)
	assert.Equal(t, 50051, cfg.GRPCPort)
	assert.Equal(t, "HS256", cfg.AuthAlgorithm)
	assert.Equal(t, 30*time.Minute, cfg.TokenTTL)
	assert.Equal(t, "sqlite", cfg.DBDriver)
	assert.Equal(t, "customers.db", cfg.DBDSN)
	assert.Equal(t, 5*time.Second, cfg.DBTimeout)
	assert.Equal(t, 10, cfg.DBMaxOpenConns)
	assert.Equal(t, 5, cfg.DBMaxIdleConns)
	assert.Equal(t, 5*time.Minute, cfg.DBConnMaxLifetime)
	assert.Equal(t, "https://api.groq.com/openai/v1", cfg.TranslatorBaseURL)
	assert.Equal(t, "llama-3.1-8b-instant", cfg.TranslatorModel)
	assert.Equal(t, 15*time.Second, cfg.TranslatorTimeout)
	assert.Zero(t, cfg.TranslatorRetries)
	assert.Equal(t, []string{"all customers"}, cfg.PolicyBulkMarkers)
	assert.Equal(t, "Not allowed to fetch all customers", cfg.PolicyForbiddenMessage)
	assert.Equal(t, DefaultSchema(), cfg.Schema)
	assert.True(t, cfg.IdentityEnabled)
	assert.Equal(t, "identity.db", cfg.IdentityDBDSN)
	assert.Empty(t, cfg.ClickHouseDSN)

	assert.Error(t, cfg.RequireSecret())
}

func TestLoad_FileEnvFlagPrecedence(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	yamlCfg := `
http_port: 9000
db_dsn: /data/file.db
translator_timeout: 20s
schema:
  orders: [order_id, total]
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "querygate.yaml"), []byte(yamlCfg), 0o600))

	t.Setenv("QUERYGATE_DB_DSN", "/data/env.db")
	t.Setenv("QUERYGATE_AUTH_SECRET", "from-env")
	t.Setenv("QUERYGATE_POLICY_BULK_MARKERS", "all customers, everyone ,")
	t.Setenv("QUERYGATE_TRANSLATOR_RETRIES", "2")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.Int("http-port", 8080, "")
	flags.String("log-level", "info", "")
	require.NoError(t, flags.Parse([]string{"--http-port=9100"}))

	cfg, err := Load("", flags)
	require.NoError(t, err)

	assert.Equal(t, 9100, cfg.HTTPPort, "flag beats file")
	assert.Equal(t, "info", cfg.LogLevel, "unset flag does not override")
	assert.Equal(t, "/data/env.db", cfg.DBDSN, "env beats file")
	assert.Equal(t, 20*time.Second, cfg.TranslatorTimeout)
	assert.Equal(t, "from-env", cfg.AuthSecret)
	assert.Equal(t, 2, cfg.TranslatorRetries)
	assert.Equal(t, []string{"all customers", "everyone"}, cfg.PolicyBulkMarkers)
	assert.Equal(t, map[string][]string{"orders": {"order_id", "total"}}, cfg.Schema)
	assert.NoError(t, cfg.RequireSecret())
}

func TestLoad_GroqKeyFallback(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("GROQ_API_KEY", "gsk-fallback")

	cfg, err := Load("", nil)
	require.NoError(t, err)
	assert.Equal(t, "gsk-fallback", cfg.TranslatorAPIKey)

	t.Setenv("QUERYGATE_TRANSLATOR_API_KEY", "gsk-explicit")
	cfg, err = Load("", nil)
	require.NoError(t, err)
	assert.Equal(t, "gsk-explicit", cfg.TranslatorAPIKey)
}

func TestLoad_ExplicitFileMissing(t *testing.T) {
	t.Chdir(t.TempDir())
	_, err := Load("does-not-exist.yaml", nil)
	assert.Error(t, err)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"bad driver", map[string]string{"QUERYGATE_DB_DRIVER": "mysql"}},
		{"bad algorithm", map[string]string{"QUERYGATE_AUTH_ALGORITHM": "RS256"}},
		{"bad level", map[string]string{"QUERYGATE_LOG_LEVEL": "loud"}},
		{"bad port", map[string]string{"QUERYGATE_HTTP_PORT": "70000"}},
		{"negative retries", map[string]string{"QUERYGATE_TRANSLATOR_RETRIES": "-1"}},
		{"identity shares data db", map[string]string{"QUERYGATE_IDENTITY_DB_DSN": "customers.db"}},
		{"identity shares data db uri", map[string]string{"QUERYGATE_DB_DSN": "file:./app.db?mode=rwc", "QUERYGATE_IDENTITY_DB_DSN": "app.db"}},
		{"identity db missing", map[string]string{"QUERYGATE_IDENTITY_DB_DSN": ""}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Chdir(t.TempDir())
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load("", nil)
			assert.Error(t, err)
		})
	}
}

func TestLoad_IdentityDisabledNeedsNoSeparateDB(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("QUERYGATE_IDENTITY_ENABLED", "false")
	t.Setenv("QUERYGATE_IDENTITY_DB_DSN", "customers.db")

	cfg, err := Load("", nil)
	require.NoError(t, err)
	assert.False(t, cfg.IdentityEnabled)
}

func TestSameDatabase(t *testing.T) {
	assert.True(t, sameDatabase("customers.db", " ./customers.db"))
	assert.True(t, sameDatabase("file:customers.db?mode=ro", "customers.db"))
	assert.True(t, sameDatabase("postgres://db/app", "postgres://db/app"))
	assert.False(t, sameDatabase("postgres://db/app", "postgres://db/identity"))
	assert.False(t, sameDatabase("customers.db", "identity.db"))
}
