package policy

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/riskcheck/internal/model"
)

func writePolicy(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefault_Valid(t *testing.T) {
	p := Default()
	require.NoError(t, p.Validate())

	q, ok := p.QuotaFor(model.TierFree, EndpointSingleCheck)
	require.True(t, ok)
	assert.Equal(t, 3, q.Max)
	assert.Equal(t, time.Hour, q.Window)

	q, ok = p.QuotaFor(model.TierPro, EndpointSingleCheck)
	require.True(t, ok)
	assert.Equal(t, 1000, q.Max)
}

func TestLoad_EmptyPathReturnsDefault(t *testing.T) {
	p, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), p)
}

func TestLoad_OverridesAndDefaults(t *testing.T) {
	path := writePolicy(t, `
policy:
  rate_limits:
    free:
      single-check:
        max: 10
        window: 30m
  analyzers:
    price:
      timeout: 5s
      cache_ttl: 10m
  ensemble:
    weights:
      anthropic: 0.5
      openai: 0.5
`)
	p, err := Load(path)
	require.NoError(t, err)

	q, ok := p.QuotaFor(model.TierFree, EndpointSingleCheck)
	require.True(t, ok)
	assert.Equal(t, 10, q.Max)
	assert.Equal(t, 30*time.Minute, q.Window)

	_, ok = p.QuotaFor(model.TierPro, EndpointSingleCheck)
	assert.False(t, ok, "explicit rate table replaces the default table")

	assert.Equal(t, 5*time.Second, p.Analyzer("price").Timeout)
	assert.Equal(t, 10*time.Minute, p.Analyzer("price").CacheTTL)
	// Unlisted analyzers keep their defaults.
	assert.Equal(t, time.Hour, p.Analyzer("identity").CacheTTL)
	assert.Equal(t, 30*time.Second, p.Aggregator.RequestTimeout)
	assert.Equal(t, 85, p.Thresholds.ConsensusFloor)
	assert.Equal(t, 30, p.Thresholds.Levels.SafeBelow)
}

func TestLoad_BadWeights(t *testing.T) {
	path := writePolicy(t, `
policy:
  ensemble:
    weights:
      anthropic: 0.5
      openai: 0.2
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sum to")
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestAnalyzer_UnknownUsesDefaults(t *testing.T) {
	p := Default()
	ap := p.Analyzer("impersonation")
	assert.Equal(t, p.Defaults.Timeout, ap.Timeout)
}
