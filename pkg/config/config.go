// Package config provides the unified configuration system for quotewire.
// It defines a single Config structure covering routing, circuit breaking,
// health scoring, connection management and standardization, plus a Store
// that holds an immutable snapshot and supports atomic hot reloads.
//
// Example usage:
//
//	cfg := config.Default()
//	cfg.CircuitBreaker.FailureThreshold = 3
//
//	if err := cfg.Validate(); err != nil {
//	    log.Fatal(err)
//	}
//
//	store := config.NewStore(cfg)
//	store.Update(newCfg) // no restart required
package config

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/quotewire/quotewire/pkg/errors"
)

// StrategyName identifies a routing strategy.
type StrategyName string

const (
	StrategyPriority            StrategyName = "priority"
	StrategyRoundRobin          StrategyName = "round_robin"
	StrategyHealthWeighted      StrategyName = "health_weighted"
	StrategyCircuitBreakerAware StrategyName = "circuit_breaker_aware"
)

// Config is the single unified configuration structure. All components read
// from an immutable *Config snapshot obtained through a Store.
type Config struct {
	// Routing controls strategy selection and fallback behavior
	Routing RoutingConfig `yaml:"routing" json:"routing"`

	// CircuitBreaker controls per-plugin failure isolation
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker" json:"circuit_breaker"`

	// Health controls the rolling health score
	Health HealthConfig `yaml:"health" json:"health"`

	// Connect controls asynchronous plugin connection
	Connect ConnectConfig `yaml:"connect" json:"connect"`

	// Standardize controls field mapping and validation
	Standardize StandardizeConfig `yaml:"standardize" json:"standardize"`

	// Observability controls metrics and tracing
	Observability ObservabilityConfig `yaml:"observability" json:"observability"`
}

// RoutingConfig contains routing and fallback settings.
type RoutingConfig struct {
	// DefaultStrategy applies when no per-capability override matches
	DefaultStrategy StrategyName `yaml:"default_strategy" json:"default_strategy"`
	// StrategyOverrides maps "ASSET/DATA" capability keys to strategies
	StrategyOverrides map[string]StrategyName `yaml:"strategy_overrides" json:"strategy_overrides"`
	// MaxFallbackAttempts bounds retries against fallback plugins
	MaxFallbackAttempts int `yaml:"max_fallback_attempts" json:"max_fallback_attempts"`
	// HealthFloor excludes plugins below this score from health-weighted picks
	HealthFloor float64 `yaml:"health_floor" json:"health_floor"`
	// RateLimitPerSec throttles per-plugin routing decisions (0 = unlimited)
	RateLimitPerSec int `yaml:"rate_limit_per_sec" json:"rate_limit_per_sec"`
}

// CircuitBreakerConfig contains circuit breaker thresholds.
type CircuitBreakerConfig struct {
	// FailureThreshold is the consecutive-failure count that opens the circuit
	FailureThreshold int `yaml:"failure_threshold" json:"failure_threshold"`
	// FailureWindow is the rolling window failures must fall within
	FailureWindow time.Duration `yaml:"failure_window" json:"failure_window"`
	// InitialCooldown is the first open-state cooldown
	InitialCooldown time.Duration `yaml:"initial_cooldown" json:"initial_cooldown"`
	// MaxCooldown caps the exponential cooldown
	MaxCooldown time.Duration `yaml:"max_cooldown" json:"max_cooldown"`
}

// HealthConfig contains health monitor settings.
type HealthConfig struct {
	// Window is the sliding window for latency samples
	Window time.Duration `yaml:"window" json:"window"`
	// LatencyCeilingMS normalizes latency into [0,1]; samples at or above
	// the ceiling score zero
	LatencyCeilingMS float64 `yaml:"latency_ceiling_ms" json:"latency_ceiling_ms"`
	// CheckInterval drives the optional periodic plugin health poll
	// (0 disables the poller)
	CheckInterval time.Duration `yaml:"check_interval" json:"check_interval"`
}

// ConnectConfig contains asynchronous connection settings.
type ConnectConfig struct {
	// MaxConcurrent caps simultaneous background connect attempts
	MaxConcurrent int `yaml:"max_concurrent" json:"max_concurrent"`
	// Timeout bounds a single connect attempt
	Timeout time.Duration `yaml:"timeout" json:"timeout"`
}

// StandardizeConfig contains standardization settings.
type StandardizeConfig struct {
	// RequiredCoverage is the minimum non-null share for required fields
	RequiredCoverage float64 `yaml:"required_coverage" json:"required_coverage"`
	// OutlierSigma clips numeric values this many standard deviations out
	OutlierSigma float64 `yaml:"outlier_sigma" json:"outlier_sigma"`
	// FreshnessHorizon is the age at which freshness decays to zero
	FreshnessHorizon time.Duration `yaml:"freshness_horizon" json:"freshness_horizon"`
	// MappingFile optionally points at a YAML alias-table override
	MappingFile string `yaml:"mapping_file" json:"mapping_file"`
}

// ObservabilityConfig contains monitoring settings.
type ObservabilityConfig struct {
	EnableMetrics bool   `yaml:"enable_metrics" json:"enable_metrics"`
	EnableTracing bool   `yaml:"enable_tracing" json:"enable_tracing"`
	LogLevel      string `yaml:"log_level" json:"log_level"`
	// SnapshotPath enables periodic health/circuit snapshots when non-empty
	SnapshotPath string `yaml:"snapshot_path" json:"snapshot_path"`
	// SnapshotInterval controls how often the snapshot is written
	SnapshotInterval time.Duration `yaml:"snapshot_interval" json:"snapshot_interval"`
}

// Default returns a Config populated with production defaults.
func Default() *Config {
	return &Config{
		Routing: RoutingConfig{
			DefaultStrategy:     StrategyPriority,
			MaxFallbackAttempts: 2,
			HealthFloor:         0.3,
		},
		CircuitBreaker: CircuitBreakerConfig{
			FailureThreshold: 5,
			FailureWindow:    60 * time.Second,
			InitialCooldown:  5 * time.Second,
			MaxCooldown:      300 * time.Second,
		},
		Health: HealthConfig{
			Window:           60 * time.Second,
			LatencyCeilingMS: 2000,
		},
		Connect: ConnectConfig{
			MaxConcurrent: 8,
			Timeout:       30 * time.Second,
		},
		Standardize: StandardizeConfig{
			RequiredCoverage: 0.95,
			OutlierSigma:     4,
			FreshnessHorizon: 15 * time.Minute,
		},
		Observability: ObservabilityConfig{
			EnableMetrics:    true,
			LogLevel:         "info",
			SnapshotInterval: 30 * time.Second,
		},
	}
}

// Validate checks the configuration for invalid values.
func (c *Config) Validate() error {
	switch c.Routing.DefaultStrategy {
	case StrategyPriority, StrategyRoundRobin, StrategyHealthWeighted, StrategyCircuitBreakerAware:
	default:
		return errors.Newf(errors.ErrorTypeConfig, "unknown routing strategy %q", c.Routing.DefaultStrategy)
	}
	for key, name := range c.Routing.StrategyOverrides {
		switch name {
		case StrategyPriority, StrategyRoundRobin, StrategyHealthWeighted, StrategyCircuitBreakerAware:
		default:
			return errors.Newf(errors.ErrorTypeConfig, "unknown routing strategy %q for %s", name, key)
		}
	}
	if c.Routing.MaxFallbackAttempts < 0 {
		return errors.New(errors.ErrorTypeConfig, "max_fallback_attempts must be >= 0")
	}
	if c.Routing.HealthFloor < 0 || c.Routing.HealthFloor > 1 {
		return errors.New(errors.ErrorTypeConfig, "health_floor must be in [0,1]")
	}
	if c.CircuitBreaker.FailureThreshold < 1 {
		return errors.New(errors.ErrorTypeConfig, "failure_threshold must be >= 1")
	}
	if c.CircuitBreaker.InitialCooldown <= 0 || c.CircuitBreaker.MaxCooldown < c.CircuitBreaker.InitialCooldown {
		return errors.New(errors.ErrorTypeConfig, "cooldown bounds are invalid")
	}
	if c.Health.Window <= 0 {
		return errors.New(errors.ErrorTypeConfig, "health window must be positive")
	}
	if c.Health.LatencyCeilingMS <= 0 {
		return errors.New(errors.ErrorTypeConfig, "latency ceiling must be positive")
	}
	if c.Connect.MaxConcurrent < 1 {
		return errors.New(errors.ErrorTypeConfig, "max_concurrent connects must be >= 1")
	}
	if c.Standardize.RequiredCoverage <= 0 || c.Standardize.RequiredCoverage > 1 {
		return errors.New(errors.ErrorTypeConfig, "required_coverage must be in (0,1]")
	}
	if c.Standardize.OutlierSigma <= 0 {
		return errors.New(errors.ErrorTypeConfig, "outlier_sigma must be positive")
	}
	return nil
}

// StrategyFor resolves the strategy for a capability key ("ASSET/DATA").
func (c *Config) StrategyFor(capability string) StrategyName {
	if name, ok := c.Routing.StrategyOverrides[capability]; ok {
		return name
	}
	return c.Routing.DefaultStrategy
}

// Store holds an immutable configuration snapshot. Update swaps the snapshot
// atomically and notifies subscribers; readers never observe a partial write.
type Store struct {
	current atomic.Pointer[Config]

	mu   sync.Mutex
	subs []chan *Config
}

// NewStore creates a Store seeded with the given configuration.
func NewStore(cfg *Config) (*Store, error) {
	if cfg == nil {
		cfg = Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s := &Store{}
	s.current.Store(cfg)
	return s, nil
}

// Snapshot returns the current immutable configuration. Callers must not
// mutate the returned value.
func (s *Store) Snapshot() *Config {
	return s.current.Load()
}

// Update validates and atomically installs a new configuration snapshot.
func (s *Store) Update(cfg *Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	s.current.Store(cfg)

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range s.subs {
		select {
		case ch <- cfg:
		default:
			// Slow subscribers miss intermediate snapshots, not the latest.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- cfg:
			default:
			}
		}
	}
	return nil
}

// Subscribe returns a channel receiving each installed snapshot.
func (s *Store) Subscribe() <-chan *Config {
	ch := make(chan *Config, 1)
	s.mu.Lock()
	s.subs = append(s.subs, ch)
	s.mu.Unlock()
	return ch
}
