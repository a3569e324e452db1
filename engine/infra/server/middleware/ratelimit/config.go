package ratelimit

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/ulule/limiter/v3"

	"github.com/compozy/notebook/engine/infra/server/routes"
	appconfig "github.com/compozy/notebook/pkg/config"
)

// Store backends.
const (
	StoreMemory = "memory"
	StoreRedis  = "redis"
)

// Config represents rate limiting configuration
type Config struct {
	// Rate applied per client IP to every route without an override.
	GlobalRate RateConfig
	// Per-route overrides keyed by path prefix.
	RouteRates map[string]RateConfig

	Store    string
	Prefix   string
	MaxRetry int

	ExcludedPaths []string
	ExcludedIPs   []string
}

// RateConfig represents a single rate limit configuration
type RateConfig struct {
	Period   time.Duration
	Limit    int64
	Disabled bool
}

// DefaultConfig returns default rate limiting configuration
func DefaultConfig() *Config {
	return &Config{
		GlobalRate: RateConfig{Limit: 60, Period: time.Minute},
		RouteRates: map[string]RateConfig{},
		Store:      StoreMemory,
		Prefix:     "notebook:ratelimit:",
		MaxRetry:   3,
		ExcludedPaths: []string{
			routes.Health(),
			"/metrics",
		},
	}
}

// ConfigFromApp derives the limiter settings from the application config.
// Upload gets a quarter of the global budget since every call hits the
// embedding provider once per chunk.
func ConfigFromApp(cfg *appconfig.Config) *Config {
	out := DefaultConfig()
	rl := cfg.RateLimit
	if rl.Limit > 0 {
		out.GlobalRate.Limit = rl.Limit
	}
	if rl.Period > 0 {
		out.GlobalRate.Period = rl.Period
	}
	if rl.Store != "" {
		out.Store = rl.Store
	}
	if rl.Prefix != "" {
		out.Prefix = rl.Prefix
	}
	if cfg.Monitoring.Path != "" && !slices.Contains(out.ExcludedPaths, cfg.Monitoring.Path) {
		out.ExcludedPaths = append(out.ExcludedPaths, cfg.Monitoring.Path)
	}
	out.RouteRates[routes.Upload()] = RateConfig{
		Limit:  max(out.GlobalRate.Limit/4, 1),
		Period: out.GlobalRate.Period,
	}
	return out
}

// ToLimiterRate converts RateConfig to limiter.Rate
func (rc RateConfig) ToLimiterRate() limiter.Rate {
	return limiter.Rate{
		Period: rc.Period,
		Limit:  rc.Limit,
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.GlobalRate.Limit <= 0 {
		return fmt.Errorf("global rate limit must be positive")
	}
	if c.GlobalRate.Period <= 0 {
		return fmt.Errorf("global rate period must be positive")
	}
	for route, rate := range c.RouteRates {
		if rate.Disabled {
			continue
		}
		if rate.Limit <= 0 || rate.Period <= 0 {
			return fmt.Errorf("route rate limit for %s must be positive", route)
		}
	}
	switch strings.ToLower(c.Store) {
	case "", StoreMemory, StoreRedis:
	default:
		return fmt.Errorf("rate limit store %q is not supported", c.Store)
	}
	return nil
}
