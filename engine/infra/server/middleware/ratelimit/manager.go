package ratelimit

import (
	"fmt"
	"net/http"
	"slices"
	"sort"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/ulule/limiter/v3"
	mgin "github.com/ulule/limiter/v3/drivers/middleware/gin"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	sredis "github.com/ulule/limiter/v3/drivers/store/redis"

	"github.com/compozy/notebook/engine/core"
	"github.com/compozy/notebook/engine/infra/server/router"
	"github.com/compozy/notebook/pkg/logger"
)

const rateLimitedMessage = "too many requests, retry later"

type routeLimiter struct {
	prefix  string
	handler gin.HandlerFunc
}

// Manager owns the limiter store and one gin handler per configured rate.
type Manager struct {
	config    *Config
	storeName string
	store     limiter.Store
	global    gin.HandlerFunc
	routes    []routeLimiter
}

// NewManager builds the limiters. A nil client selects the in-memory store
// even when the config asks for redis.
func NewManager(cfg *Config, client redis.UniversalClient) (*Manager, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	store, storeName, err := newStore(cfg, client)
	if err != nil {
		return nil, err
	}
	m := &Manager{config: cfg, storeName: storeName, store: store}
	m.global = m.handler(cfg.GlobalRate)
	prefixes := make([]string, 0, len(cfg.RouteRates))
	for prefix, rate := range cfg.RouteRates {
		if rate.Disabled {
			continue
		}
		prefixes = append(prefixes, prefix)
	}
	// Longest prefix wins.
	sort.Slice(prefixes, func(i, j int) bool { return len(prefixes[i]) > len(prefixes[j]) })
	for _, prefix := range prefixes {
		m.routes = append(m.routes, routeLimiter{prefix: prefix, handler: m.handler(cfg.RouteRates[prefix])})
	}
	return m, nil
}

func newStore(cfg *Config, client redis.UniversalClient) (limiter.Store, string, error) {
	options := limiter.StoreOptions{
		Prefix:          cfg.Prefix,
		MaxRetry:        cfg.MaxRetry,
		CleanUpInterval: limiter.DefaultCleanUpInterval,
	}
	if strings.EqualFold(cfg.Store, StoreRedis) && client != nil {
		store, err := sredis.NewStoreWithOptions(client, options)
		if err != nil {
			return nil, "", fmt.Errorf("ratelimit: create redis store: %w", err)
		}
		return store, StoreRedis, nil
	}
	return memory.NewStoreWithOptions(options), StoreMemory, nil
}

// StoreName reports the backend in use.
func (m *Manager) StoreName() string {
	return m.storeName
}

// Middleware applies the most specific configured rate to each request.
func (m *Manager) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		path := c.Request.URL.Path
		if m.excludedPath(path) {
			c.Next()
			return
		}
		for _, route := range m.routes {
			if strings.HasPrefix(path, route.prefix) {
				route.handler(c)
				return
			}
		}
		if m.config.GlobalRate.Disabled {
			c.Next()
			return
		}
		m.global(c)
	}
}

func (m *Manager) handler(rate RateConfig) gin.HandlerFunc {
	instance := limiter.New(m.store, rate.ToLimiterRate())
	return mgin.NewMiddleware(
		instance,
		mgin.WithLimitReachedHandler(m.limitReached),
		mgin.WithErrorHandler(m.storeFailed),
		mgin.WithExcludedKey(func(key string) bool {
			return slices.Contains(m.config.ExcludedIPs, key)
		}),
	)
}

func (m *Manager) limitReached(c *gin.Context) {
	route := c.FullPath()
	if route == "" {
		route = c.Request.URL.Path
	}
	IncrementBlockedRequests(c.Request.Context(), route, m.storeName)
	router.RespondProblem(c, &core.Problem{
		Status:  http.StatusTooManyRequests,
		Kind:    core.KindRateLimited,
		Message: rateLimitedMessage,
	})
}

// storeFailed lets the request through when the store is unreachable.
func (m *Manager) storeFailed(c *gin.Context, err error) {
	logger.FromContext(c.Request.Context()).Warn(
		"Rate limit store unavailable, allowing request",
		"store", m.storeName,
		"error", err,
	)
	c.Next()
}

func (m *Manager) excludedPath(path string) bool {
	for _, excluded := range m.config.ExcludedPaths {
		if excluded != "" && (path == excluded || strings.HasPrefix(path, strings.TrimSuffix(excluded, "/")+"/")) {
			return true
		}
	}
	return false
}
