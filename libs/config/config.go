// Package config loads broker configuration from a TOML file with
// environment-variable overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Config holds all tunables recognized by the broker core.
type Config struct {
	// Server settings
	Host string `toml:"host"`
	Port int    `toml:"port"`

	// Auction settings
	AuctionBiddingDurationDefaultMs int64 `toml:"auction_bidding_duration_default_ms"`
	AuctionExecutionGraceMs         int64 `toml:"auction_execution_grace_ms"`
	FailoverDepth                   int   `toml:"failover_depth"`

	// Payment settings
	PlatformFeePermille int   `toml:"platform_fee_permille"`
	EscrowTTLMs         int64 `toml:"escrow_ttl_ms"`
	FacilitatorTimeoutMs int64 `toml:"facilitator_timeout_ms"`
	DemoMode             bool  `toml:"demo_mode"`

	// Provider liveness settings
	HeartbeatLivenessWindowMs int64 `toml:"heartbeat_liveness_window_ms"`
	HeartbeatSweepIntervalMs  int64 `toml:"heartbeat_sweep_interval_ms"`

	// Push layer settings
	PushBatchIntervalMs       int64 `toml:"push_batch_interval_ms"`
	PushMaxBatchSize          int   `toml:"push_max_batch_size"`
	PushBackpressureThreshold int   `toml:"push_backpressure_threshold"`

	// Logging
	LogLevel  string `toml:"log_level"`
	LogFormat string `toml:"log_format"`
}

// Default returns the configuration with all spec defaults applied.
func Default() *Config {
	return &Config{
		Host:                            "0.0.0.0",
		Port:                            8080,
		AuctionBiddingDurationDefaultMs: 30_000,
		AuctionExecutionGraceMs:         60_000,
		FailoverDepth:                   3,
		PlatformFeePermille:             50,
		EscrowTTLMs:                     30 * 60 * 1000,
		FacilitatorTimeoutMs:            10_000,
		DemoMode:                        true,
		HeartbeatLivenessWindowMs:       60_000,
		HeartbeatSweepIntervalMs:        15_000,
		PushBatchIntervalMs:             100,
		PushMaxBatchSize:                50,
		PushBackpressureThreshold:       100,
		LogLevel:                        "info",
		LogFormat:                       "json",
	}
}

// Load builds the configuration: defaults, then the optional TOML file at
// path, then environment overrides. A missing file is not an error when
// path is empty; a named file that cannot be read is.
func Load(path string) (*Config, error) {
	// Pick up a local .env if present so container and laptop runs agree.
	_ = godotenv.Load()

	cfg := Default()

	if path != "" {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overrides fields from SYNAPSE_* environment variables.
func (c *Config) applyEnv() {
	if v := os.Getenv("SYNAPSE_HOST"); v != "" {
		c.Host = v
	}
	envInt("SYNAPSE_PORT", &c.Port)
	envInt64("SYNAPSE_AUCTION_BIDDING_DURATION_MS", &c.AuctionBiddingDurationDefaultMs)
	envInt64("SYNAPSE_AUCTION_EXECUTION_GRACE_MS", &c.AuctionExecutionGraceMs)
	envInt("SYNAPSE_FAILOVER_DEPTH", &c.FailoverDepth)
	envInt("SYNAPSE_PLATFORM_FEE_PERMILLE", &c.PlatformFeePermille)
	envInt64("SYNAPSE_ESCROW_TTL_MS", &c.EscrowTTLMs)
	envInt64("SYNAPSE_FACILITATOR_TIMEOUT_MS", &c.FacilitatorTimeoutMs)
	envBool("SYNAPSE_DEMO_MODE", &c.DemoMode)
	envInt64("SYNAPSE_HEARTBEAT_LIVENESS_WINDOW_MS", &c.HeartbeatLivenessWindowMs)
	envInt64("SYNAPSE_HEARTBEAT_SWEEP_INTERVAL_MS", &c.HeartbeatSweepIntervalMs)
	envInt64("SYNAPSE_PUSH_BATCH_INTERVAL_MS", &c.PushBatchIntervalMs)
	envInt("SYNAPSE_PUSH_MAX_BATCH_SIZE", &c.PushMaxBatchSize)
	envInt("SYNAPSE_PUSH_BACKPRESSURE_THRESHOLD", &c.PushBackpressureThreshold)
	if v := os.Getenv("SYNAPSE_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("SYNAPSE_LOG_FORMAT"); v != "" {
		c.LogFormat = v
	}
}

// Validate rejects configurations the core cannot run with.
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}
	if c.PlatformFeePermille < 0 || c.PlatformFeePermille > 1000 {
		return fmt.Errorf("platform_fee_permille must be in [0,1000], got %d", c.PlatformFeePermille)
	}
	if c.AuctionBiddingDurationDefaultMs < 1000 {
		return fmt.Errorf("auction_bidding_duration_default_ms must be at least 1000, got %d", c.AuctionBiddingDurationDefaultMs)
	}
	if c.FailoverDepth < 0 {
		return fmt.Errorf("failover_depth must not be negative, got %d", c.FailoverDepth)
	}
	if c.PushBackpressureThreshold <= 0 {
		return fmt.Errorf("push_backpressure_threshold must be positive, got %d", c.PushBackpressureThreshold)
	}
	if c.PushMaxBatchSize <= 0 {
		return fmt.Errorf("push_max_batch_size must be positive, got %d", c.PushMaxBatchSize)
	}
	return nil
}

// BiddingDurationDefault returns the default auction window as a Duration.
func (c *Config) BiddingDurationDefault() time.Duration {
	return time.Duration(c.AuctionBiddingDurationDefaultMs) * time.Millisecond
}

// ExecutionGrace returns the execution grace window as a Duration.
func (c *Config) ExecutionGrace() time.Duration {
	return time.Duration(c.AuctionExecutionGraceMs) * time.Millisecond
}

// EscrowTTL returns the escrow time-to-live as a Duration.
func (c *Config) EscrowTTL() time.Duration {
	return time.Duration(c.EscrowTTLMs) * time.Millisecond
}

// FacilitatorTimeout returns the per-call facilitator timeout.
func (c *Config) FacilitatorTimeout() time.Duration {
	return time.Duration(c.FacilitatorTimeoutMs) * time.Millisecond
}

// HeartbeatLivenessWindow returns the provider liveness window.
func (c *Config) HeartbeatLivenessWindow() time.Duration {
	return time.Duration(c.HeartbeatLivenessWindowMs) * time.Millisecond
}

// HeartbeatSweepInterval returns the liveness sweep cadence.
func (c *Config) HeartbeatSweepInterval() time.Duration {
	return time.Duration(c.HeartbeatSweepIntervalMs) * time.Millisecond
}

// PushBatchInterval returns the push flush cadence.
func (c *Config) PushBatchInterval() time.Duration {
	return time.Duration(c.PushBatchIntervalMs) * time.Millisecond
}

func envInt(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envInt64(key string, dst *int64) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func envBool(key string, dst *bool) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}
