package cache

import (
	"crypto/tls"
	"strings"
	"time"

	appconfig "github.com/compozy/notebook/pkg/config"
)

type Config struct {
	URL          string
	Prefix       string
	PoolSize     int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	PingTimeout  time.Duration
	MaxRetries   int
	// TLSConfig overrides the default for rediss:// URLs.
	TLSConfig *tls.Config
}

// FromAppConfig maps the redis section of the application config.
func FromAppConfig(cfg *appconfig.Config) *Config {
	return &Config{
		URL:         strings.TrimSpace(cfg.Redis.URL),
		Prefix:      cfg.Redis.Prefix,
		PingTimeout: fallbackRedisPingTimeout,
		MaxRetries:  cfg.Retry.MaxAttempts,
	}
}

// Required reports whether any configured component needs redis.
func Required(cfg *appconfig.Config) bool {
	if strings.EqualFold(cfg.Embedder.Cache.Backend, "redis") {
		return true
	}
	if strings.EqualFold(cfg.VectorDB.Provider, "redis") && cfg.VectorDB.DSN.Value() == "" {
		return true
	}
	return cfg.RateLimit.Enabled && strings.EqualFold(cfg.RateLimit.Store, "redis")
}
