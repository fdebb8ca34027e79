package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultValidates(t *testing.T) {
	assert.NoError(t, Default().Validate())
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown strategy", func(c *Config) { c.Routing.DefaultStrategy = "best_effort" }},
		{"unknown override", func(c *Config) {
			c.Routing.StrategyOverrides = map[string]StrategyName{"STOCK/KLINE": "bogus"}
		}},
		{"negative fallback attempts", func(c *Config) { c.Routing.MaxFallbackAttempts = -1 }},
		{"health floor out of range", func(c *Config) { c.Routing.HealthFloor = 1.5 }},
		{"zero failure threshold", func(c *Config) { c.CircuitBreaker.FailureThreshold = 0 }},
		{"max cooldown below initial", func(c *Config) { c.CircuitBreaker.MaxCooldown = time.Millisecond }},
		{"zero health window", func(c *Config) { c.Health.Window = 0 }},
		{"zero max concurrent", func(c *Config) { c.Connect.MaxConcurrent = 0 }},
		{"coverage above one", func(c *Config) { c.Standardize.RequiredCoverage = 1.5 }},
		{"zero outlier sigma", func(c *Config) { c.Standardize.OutlierSigma = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestStrategyFor(t *testing.T) {
	cfg := Default()
	cfg.Routing.StrategyOverrides = map[string]StrategyName{
		"CRYPTO/TICK": StrategyRoundRobin,
	}

	assert.Equal(t, StrategyRoundRobin, cfg.StrategyFor("CRYPTO/TICK"))
	assert.Equal(t, StrategyPriority, cfg.StrategyFor("STOCK/KLINE"))
}

func TestStoreSnapshotAndUpdate(t *testing.T) {
	store, err := NewStore(Default())
	require.NoError(t, err)

	before := store.Snapshot()
	assert.Equal(t, 5, before.CircuitBreaker.FailureThreshold)

	next := *before
	next.CircuitBreaker.FailureThreshold = 3
	require.NoError(t, store.Update(&next))

	assert.Equal(t, 3, store.Snapshot().CircuitBreaker.FailureThreshold)
	assert.Equal(t, 5, before.CircuitBreaker.FailureThreshold, "held snapshots stay immutable")
}

func TestStoreUpdateRejectsInvalid(t *testing.T) {
	store, err := NewStore(Default())
	require.NoError(t, err)

	bad := *store.Snapshot()
	bad.Routing.DefaultStrategy = "bogus"
	assert.Error(t, store.Update(&bad))
	assert.Equal(t, StrategyPriority, store.Snapshot().Routing.DefaultStrategy,
		"a rejected update leaves the previous snapshot installed")
}

func TestStoreSubscribeSeesLatest(t *testing.T) {
	store, err := NewStore(Default())
	require.NoError(t, err)
	updates := store.Subscribe()

	// push two updates without draining; the subscriber must end up with
	// the newest snapshot even after missing the intermediate one
	first := *store.Snapshot()
	first.CircuitBreaker.FailureThreshold = 7
	require.NoError(t, store.Update(&first))

	second := *store.Snapshot()
	second.CircuitBreaker.FailureThreshold = 9
	require.NoError(t, store.Update(&second))

	var last *Config
	for {
		select {
		case cfg := <-updates:
			last = cfg
			continue
		default:
		}
		break
	}
	require.NotNil(t, last)
	assert.Equal(t, 9, last.CircuitBreaker.FailureThreshold)
}

func TestLoadOverlaysDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
routing:
  default_strategy: health_weighted
circuit_breaker:
  failure_threshold: 3
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, StrategyHealthWeighted, cfg.Routing.DefaultStrategy)
	assert.Equal(t, 3, cfg.CircuitBreaker.FailureThreshold)
	// untouched sections keep their defaults
	assert.Equal(t, 8, cfg.Connect.MaxConcurrent)
}

func TestLoadSubstitutesEnvVars(t *testing.T) {
	t.Setenv("QW_TEST_STRATEGY", "round_robin")

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
routing:
  default_strategy: ${QW_TEST_STRATEGY}
observability:
  log_level: ${QW_TEST_MISSING:-debug}
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, StrategyRoundRobin, cfg.Routing.DefaultStrategy)
	assert.Equal(t, "debug", cfg.Observability.LogLevel)
}

func TestLoadRejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("routing:\n  default_strategy: nonsense\n"), 0o600))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	cfg := Default()
	cfg.Routing.DefaultStrategy = StrategyCircuitBreakerAware
	require.NoError(t, Save(path, cfg))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, StrategyCircuitBreakerAware, loaded.Routing.DefaultStrategy)
}
