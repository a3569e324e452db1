package vectordb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/compozy/notebook/engine/core"
)

const (
	redisDefaultPrefix  = "notebook:"
	redisDimensionField = "dimension"
	redisMetricField    = "metric"
	redisUpsertAttempts = 3
)

// redisStore keeps each collection in two hashes: a meta hash holding the
// dimension and a records hash mapping record IDs to JSON documents. Search
// loads the collection and scores it in process, which suits notebook sized
// collections and any Redis server without vector set support.
type redisStore struct {
	client  redis.UniversalClient
	prefix  string
	metric  Metric
	timeout time.Duration
	owned   bool
}

func newRedisStore(ctx context.Context, cfg *Config) (*redisStore, error) {
	if cfg == nil {
		return nil, errors.New("vector_db config is required")
	}
	store := &redisStore{
		client:  cfg.Redis,
		prefix:  cfg.KeyPrefix,
		metric:  ParseMetric(cfg.Metric),
		timeout: cfg.Timeout,
	}
	if store.prefix == "" {
		store.prefix = redisDefaultPrefix
	}
	if cfg.DSN != "" {
		opt, err := redis.ParseURL(cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("redis vector_db: invalid dsn: %w", err)
		}
		if cfg.Retry.MaxAttempts > 0 {
			opt.MaxRetries = cfg.Retry.MaxAttempts
		}
		client := redis.NewClient(opt)
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("redis vector_db: ping failed: %w", err)
		}
		store.client = client
		store.owned = true
	}
	if store.client == nil {
		return nil, errMissingRedis
	}
	return store, nil
}

func (s *redisStore) AtomicUpsert() bool { return true }

// Keys share a hash tag so MULTI works against a cluster.
func (s *redisStore) metaKey(collection string) string {
	return s.prefix + "vectors:{" + collection + "}:meta"
}

func (s *redisStore) recordsKey(collection string) string {
	return s.prefix + "vectors:{" + collection + "}:records"
}

func (s *redisStore) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout > 0 {
		return context.WithTimeout(ctx, s.timeout)
	}
	return context.WithCancel(ctx)
}

// dimension returns zero when the collection has never been written.
func (s *redisStore) dimension(ctx context.Context, cmd redis.Cmdable, collection string) (int, error) {
	raw, err := cmd.HGet(ctx, s.metaKey(collection), redisDimensionField).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	dim, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("redis vector_db: collection %q has invalid dimension %q", collection, raw)
	}
	return dim, nil
}

func (s *redisStore) Upsert(ctx context.Context, collection string, records []Record) error {
	if err := ValidateCollection(collection); err != nil {
		return err
	}
	if len(records) == 0 {
		return nil
	}
	fields := make([]any, 0, len(records)*2)
	for i := range records {
		data, err := json.Marshal(fileStoreRecord{
			ID:        records[i].ID,
			Text:      records[i].Text,
			Embedding: records[i].Embedding,
			Metadata:  records[i].Metadata,
		})
		if err != nil {
			return indexWriteError(collection, fmt.Errorf("encode record %q: %w", records[i].ID, err))
		}
		fields = append(fields, records[i].ID, data)
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	metaKey := s.metaKey(collection)
	write := func(tx *redis.Tx) error {
		want, err := s.dimension(ctx, tx, collection)
		if err != nil {
			return err
		}
		dim, err := validateRecords(collection, records, want)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, metaKey, redisDimensionField, dim, redisMetricField, string(s.metric))
			pipe.HSet(ctx, s.recordsKey(collection), fields...)
			return nil
		})
		return err
	}
	var err error
	for range redisUpsertAttempts {
		err = s.client.Watch(ctx, write, metaKey)
		if !errors.Is(err, redis.TxFailedErr) {
			break
		}
	}
	if err != nil {
		return indexWriteError(collection, err)
	}
	return nil
}

func (s *redisStore) Search(
	ctx context.Context,
	collection string,
	query []float32,
	opts SearchOptions,
) ([]Match, error) {
	if err := ValidateCollection(collection); err != nil {
		return nil, err
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	dim, err := s.dimension(ctx, s.client, collection)
	if err != nil {
		return nil, fmt.Errorf("redis vector_db: read collection %q: %w", collection, err)
	}
	if dim == 0 {
		return nil, core.CollectionNotFoundError(collection)
	}
	if err := checkQueryDimension(collection, query, dim); err != nil {
		return nil, err
	}
	raw, err := s.client.HGetAll(ctx, s.recordsKey(collection)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis vector_db: load collection %q: %w", collection, err)
	}
	records := make(map[string]Record, len(raw))
	for id, doc := range raw {
		var rec fileStoreRecord
		if err := json.Unmarshal([]byte(doc), &rec); err != nil {
			return nil, fmt.Errorf("redis vector_db: decode record %q: %w", id, err)
		}
		if len(rec.Embedding) != dim {
			continue
		}
		records[id] = Record{ID: id, Text: rec.Text, Embedding: rec.Embedding, Metadata: rec.Metadata}
	}
	return scoreRecords(s.metric, records, query, opts), nil
}

func (s *redisStore) Delete(ctx context.Context, collection string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := ValidateCollection(collection); err != nil {
		return err
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	if err := s.client.HDel(ctx, s.recordsKey(collection), ids...).Err(); err != nil {
		return fmt.Errorf("redis vector_db: delete from %q: %w", collection, err)
	}
	return nil
}

// Close releases the connection only when the store dialed it itself.
func (s *redisStore) Close(context.Context) error {
	if !s.owned {
		return nil
	}
	return s.client.Close()
}
