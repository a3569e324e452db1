package embedder

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/redis/go-redis/v9"

	appconfig "github.com/compozy/notebook/pkg/config"
)

// Cache stores embeddings by key. Implementations must be safe for
// concurrent use. Errors are advisory; callers fall back to the provider.
type Cache interface {
	Get(ctx context.Context, key string) ([]float32, bool, error)
	Set(ctx context.Context, key string, vector []float32) error
}

const (
	CacheNone   = "none"
	CacheMemory = "memory"
	CacheRedis  = "redis"
)

// NewCache builds the configured cache backend. It returns a nil Cache for
// the "none" backend. client is only used by the redis backend.
func NewCache(cfg *appconfig.CacheConfig, client redis.UniversalClient, prefix string) (Cache, error) {
	if cfg == nil {
		return nil, nil
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case "", CacheNone:
		return nil, nil
	case CacheMemory:
		return NewMemoryCache(cfg.Size)
	case CacheRedis:
		if client == nil {
			return nil, errors.New("embedder: redis cache requires a redis client")
		}
		return NewRedisCache(client, prefix, cfg.TTL), nil
	default:
		return nil, fmt.Errorf("embedder: cache backend %q is not supported", cfg.Backend)
	}
}

// MemoryCache is a process-local LRU.
type MemoryCache struct {
	mu    sync.Mutex
	cache *lru.Cache[string, []float32]
}

func NewMemoryCache(size int) (*MemoryCache, error) {
	if size <= 0 {
		return nil, fmt.Errorf("embedder: cache size must be greater than zero")
	}
	cache, err := lru.New[string, []float32](size)
	if err != nil {
		return nil, fmt.Errorf("embedder: init cache: %w", err)
	}
	return &MemoryCache{cache: cache}, nil
}

func (m *MemoryCache) Get(_ context.Context, key string) ([]float32, bool, error) {
	m.mu.Lock()
	value, ok := m.cache.Get(key)
	m.mu.Unlock()
	if !ok {
		return nil, false, nil
	}
	return cloneVector(value), true, nil
}

func (m *MemoryCache) Set(_ context.Context, key string, vector []float32) error {
	if len(vector) == 0 {
		return nil
	}
	m.mu.Lock()
	m.cache.Add(key, cloneVector(vector))
	m.mu.Unlock()
	return nil
}

func (m *MemoryCache) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cache.Len()
}

// RedisCache shares embeddings between processes. Vectors are stored as
// little-endian float32 bytes.
type RedisCache struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

func NewRedisCache(client redis.UniversalClient, prefix string, ttl time.Duration) *RedisCache {
	return &RedisCache{client: client, prefix: prefix + "embedding:", ttl: ttl}
}

func (r *RedisCache) Get(ctx context.Context, key string) ([]float32, bool, error) {
	raw, err := r.client.Get(ctx, r.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("embedder: redis get: %w", err)
	}
	vector, err := decodeVector(raw)
	if err != nil {
		return nil, false, err
	}
	return vector, true, nil
}

func (r *RedisCache) Set(ctx context.Context, key string, vector []float32) error {
	if len(vector) == 0 {
		return nil
	}
	if err := r.client.Set(ctx, r.prefix+key, encodeVector(vector), r.ttl).Err(); err != nil {
		return fmt.Errorf("embedder: redis set: %w", err)
	}
	return nil
}

func encodeVector(vector []float32) []byte {
	buf := make([]byte, 4*len(vector))
	for i, v := range vector {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

func decodeVector(raw []byte) ([]float32, error) {
	if len(raw) == 0 || len(raw)%4 != 0 {
		return nil, fmt.Errorf("embedder: corrupt cached vector of %d bytes", len(raw))
	}
	out := make([]float32, len(raw)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
	}
	return out, nil
}

// cacheKey scopes entries to the provider and model so switching models
// never serves stale vectors.
func cacheKey(provider Provider, model, text string) string {
	sum := sha256.Sum256([]byte(string(provider) + "\x00" + model + "\x00" + text))
	return hex.EncodeToString(sum[:])
}

func cloneVector(src []float32) []float32 {
	if len(src) == 0 {
		return nil
	}
	dst := make([]float32, len(src))
	copy(dst, src)
	return dst
}
