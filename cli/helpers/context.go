package helpers

import (
	"context"

	"github.com/compozy/notebook/pkg/config"
)

// ContextKey is a custom type for context keys to avoid string collisions
type ContextKey string

const configServiceKey ContextKey = "config_service"

// ContextWithConfigService keeps the loader that produced the active
// configuration so commands can report where each value came from.
func ContextWithConfigService(ctx context.Context, svc config.Service) context.Context {
	return context.WithValue(ctx, configServiceKey, svc)
}

// ConfigServiceFrom returns the loader attached by the root command, or nil.
func ConfigServiceFrom(ctx context.Context) config.Service {
	svc, ok := ctx.Value(configServiceKey).(config.Service)
	if !ok {
		return nil
	}
	return svc
}
