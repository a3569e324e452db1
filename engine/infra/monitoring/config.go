package monitoring

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/compozy/notebook/pkg/config"
)

const apiPrefix = "/api/"

// Config controls the Prometheus exporter endpoint.
type Config struct {
	Enabled bool
	Path    string
}

// DefaultConfig returns a disabled exporter mounted at /metrics.
func DefaultConfig() *Config {
	return &Config{Path: "/metrics"}
}

// FromAppConfig maps the application monitoring section.
func FromAppConfig(cfg *config.Config) *Config {
	out := DefaultConfig()
	if cfg == nil {
		return out
	}
	out.Enabled = cfg.Monitoring.Enabled
	if path := strings.TrimSpace(cfg.Monitoring.Path); path != "" {
		out.Path = path
	}
	return out
}

// Validate rejects paths that would shadow the JSON API or carry a query.
func (c *Config) Validate() error {
	switch {
	case c.Path == "":
		return errors.New("monitoring path is required")
	case !strings.HasPrefix(c.Path, "/"):
		return fmt.Errorf("monitoring path %q must be absolute", c.Path)
	case strings.HasPrefix(c.Path, apiPrefix):
		return fmt.Errorf("monitoring path %q cannot be under %s", c.Path, apiPrefix)
	}
	parsed, err := url.Parse(c.Path)
	if err != nil {
		return fmt.Errorf("invalid monitoring path %q: %w", c.Path, err)
	}
	if parsed.RawQuery != "" || strings.Contains(c.Path, "?") {
		return fmt.Errorf("monitoring path %q cannot contain a query", c.Path)
	}
	return nil
}
