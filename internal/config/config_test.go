package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })
	return dir
}

func TestLoadDefaults(t *testing.T) {
	// Change to temp dir so no config.yaml is found
	chdirTemp(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "riskcheck.db", cfg.Store.DatabaseURL)
	assert.Equal(t, "memory", cfg.Cache.Driver)
	assert.Equal(t, 24*time.Hour, cfg.Cache.StaleFor)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 10*time.Minute, cfg.Server.JanitorInterval)
	assert.Equal(t, "claude-haiku-4-5-20251001", cfg.Anthropic.Model)
	assert.Equal(t, "gpt-4o-mini", cfg.OpenAI.Model)
	assert.Equal(t, "sonar", cfg.Perplexity.Model)
	assert.Equal(t, "https://api.perplexity.ai", cfg.Perplexity.BaseURL)
	assert.Empty(t, cfg.Market.BaseURL)
	assert.Equal(t, 5, cfg.Resilience.Breaker.FailureThreshold)
	assert.Equal(t, 30*time.Second, cfg.Resilience.Breaker.Cooldown)
	assert.Equal(t, 2, cfg.Resilience.Retry.MaxAttempts)
	assert.Equal(t, 250*time.Millisecond, cfg.Resilience.Retry.InitialBackoff)
}

func TestLoadFromYAML(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: postgres
  database_url: postgres://localhost/risk
  pool:
    max_conns: 20
cache:
  driver: badger
  badger:
    path: /var/lib/riskcheck/cache
log:
  level: debug
  format: console
server:
  port: 9090
  allowed_origins: ["https://app.example.com"]
policy_path: policy.yaml
market:
  base_url: http://market.internal
resilience:
  retry:
    max_attempts: 4
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, int32(20), cfg.Store.Pool.MaxConns)
	assert.Equal(t, "badger", cfg.Cache.Driver)
	assert.Equal(t, "/var/lib/riskcheck/cache", cfg.Cache.Badger.Path)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, []string{"https://app.example.com"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, "policy.yaml", cfg.PolicyPath)
	assert.Equal(t, "http://market.internal", cfg.Market.BaseURL)
	assert.Equal(t, 4, cfg.Resilience.Retry.MaxAttempts)
	// Defaults still apply for unset values
	assert.Equal(t, 2*time.Second, cfg.Resilience.Retry.MaxBackoff)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: sqlite
log:
  level: debug
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	t.Setenv("RISKCHECK_STORE_DRIVER", "postgres")
	t.Setenv("RISKCHECK_LOG_LEVEL", "warn")

	cfg, err := Load()
	require.NoError(t, err)

	// Env overrides file
	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadEnvOverridesDefaults(t *testing.T) {
	chdirTemp(t)

	t.Setenv("RISKCHECK_SERVER_PORT", "3000")
	t.Setenv("RISKCHECK_ANTHROPIC_KEY", "sk-ant-test")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 3000, cfg.Server.Port)
	assert.Equal(t, "sk-ant-test", cfg.Anthropic.Key)
}

func TestInitLoggerConsole(t *testing.T) {
	err := InitLogger(LogConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerJSON(t *testing.T) {
	err := InitLogger(LogConfig{Level: "info", Format: "json"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerInvalidLevel(t *testing.T) {
	err := InitLogger(LogConfig{Level: "invalid", Format: "json"})
	assert.Error(t, err)
}

// validDefaults returns a Config with all defaults populated for validation tests.
func validDefaults() *Config {
	cfg := &Config{}
	cfg.Store.Driver = "sqlite"
	cfg.Store.DatabaseURL = "riskcheck.db"
	cfg.Cache.Driver = "memory"
	cfg.Server.Port = 8080
	return cfg
}

func TestValidateServe(t *testing.T) {
	cfg := validDefaults()
	assert.NoError(t, cfg.Validate("serve"))

	cfg.Server.Port = 0
	err := cfg.Validate("serve")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server.port must be > 0")

	// check runs without a server
	assert.NoError(t, cfg.Validate("check"))
}

func TestValidateStore(t *testing.T) {
	cfg := validDefaults()
	cfg.Store.DatabaseURL = ""
	err := cfg.Validate("serve")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store.database_url is required")

	cfg.Store.Driver = "mysql"
	err = cfg.Validate("serve")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `store.driver "mysql"`)

	cfg.Store.Driver = "memory"
	assert.NoError(t, cfg.Validate("serve"))
}

func TestValidateCache(t *testing.T) {
	cfg := validDefaults()
	cfg.Cache.Driver = "badger"
	err := cfg.Validate("serve")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cache.badger.path is required")

	cfg.Cache.Badger.InMemory = true
	assert.NoError(t, cfg.Validate("serve"))

	cfg.Cache.Driver = "redis"
	err = cfg.Validate("check")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `cache.driver "redis"`)
}

func TestValidateMigrateNeedsPersistentStore(t *testing.T) {
	cfg := validDefaults()
	assert.NoError(t, cfg.Validate("migrate"))

	cfg.Store.Driver = "memory"
	err := cfg.Validate("migrate")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "migrate needs a persistent store.driver")
}

func TestValidateCollectsAllErrors(t *testing.T) {
	cfg := validDefaults()
	cfg.Store.DatabaseURL = ""
	cfg.Server.Port = -1

	err := cfg.Validate("serve")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store.database_url is required")
	assert.Contains(t, err.Error(), "server.port must be > 0")
}

func TestValidateUnknownMode(t *testing.T) {
	cfg := validDefaults()
	err := cfg.Validate("unknown")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
}
