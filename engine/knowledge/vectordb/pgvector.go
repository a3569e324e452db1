package vectordb

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/compozy/notebook/engine/core"
	"github.com/compozy/notebook/pkg/logger"
)

const (
	pgTablePrefix   = "notebook_"
	pgIndexSuffix   = "_embedding_idx"
	pgMaxIdentifier = 63
	pgHashLength    = 12
)

var pgPlainName = regexp.MustCompile(`^[a-z0-9_]+$`)

// pgPool is the subset of pgxpool.Pool used by the store.
type pgPool interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

type pgQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// pgStore keeps one table per collection. Upsert runs in one transaction so
// a document is either fully indexed or not at all.
type pgStore struct {
	pool   pgPool
	metric Metric
}

func newPGStore(ctx context.Context, cfg *Config) (*pgStore, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, errors.New("pgvector: dsn is required")
	}
	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("pgvector: failed to connect to postgres: %w", err)
	}
	store, err := newPGStoreWithPool(ctx, pool, ParseMetric(cfg.Metric))
	if err != nil {
		pool.Close()
		return nil, err
	}
	return store, nil
}

func newPGStoreWithPool(ctx context.Context, pool pgPool, metric Metric) (*pgStore, error) {
	if _, err := pool.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		return nil, fmt.Errorf("pgvector: enable extension: %w", err)
	}
	return &pgStore{pool: pool, metric: metric}, nil
}

func (p *pgStore) AtomicUpsert() bool { return true }

// tableName maps a collection to a table name that fits the Postgres
// identifier limit together with its index suffix. Lowercase names without
// hyphens are used as is; any other name gets a hash suffix joined by a
// hyphen, which plain names cannot contain, so distinct collections never
// share a table.
func tableName(collection string) string {
	limit := pgMaxIdentifier - len(pgIndexSuffix)
	if pgPlainName.MatchString(collection) && len(pgTablePrefix)+len(collection) <= limit {
		return pgTablePrefix + collection
	}
	sum := sha256.Sum256([]byte(collection))
	suffix := "-" + hex.EncodeToString(sum[:])[:pgHashLength]
	slug := strings.ToLower(collection)
	if room := limit - len(pgTablePrefix) - len(suffix); len(slug) > room {
		slug = slug[:room]
	}
	return pgTablePrefix + slug + suffix
}

func tableIdent(collection string) string {
	return pgx.Identifier{tableName(collection)}.Sanitize()
}

// collectionDimension reads the declared vector size from the catalog.
// vector(n) stores n as the type modifier.
func collectionDimension(ctx context.Context, q pgQuerier, table string) (int, bool, error) {
	var dimension int32
	err := q.QueryRow(
		ctx,
		"SELECT a.atttypmod FROM pg_attribute a WHERE a.attrelid = to_regclass($1) AND a.attname = 'embedding'",
		table,
	).Scan(&dimension)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("pgvector: inspect %s: %w", table, err)
	}
	return int(dimension), true, nil
}

func (p *pgStore) distanceOperator() string {
	switch p.metric {
	case MetricDot:
		return "<#>"
	case MetricEuclidean:
		return "<->"
	default:
		return "<=>"
	}
}

func (p *pgStore) opsClass() string {
	switch p.metric {
	case MetricDot:
		return "vector_ip_ops"
	case MetricEuclidean:
		return "vector_l2_ops"
	default:
		return "vector_cosine_ops"
	}
}

// score converts the operator's distance into a similarity.
func (p *pgStore) score(distance float64) float64 {
	switch p.metric {
	case MetricDot:
		return -distance
	case MetricEuclidean:
		return distanceToScore(distance)
	default:
		return 1 - distance
	}
}

func (p *pgStore) Upsert(ctx context.Context, collection string, records []Record) (err error) {
	if err := ValidateCollection(collection); err != nil {
		return err
	}
	if len(records) == 0 {
		return nil
	}
	dimension, err := validateRecords(collection, records, 0)
	if err != nil {
		return err
	}
	table := tableIdent(collection)
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return indexWriteError(collection, fmt.Errorf("pgvector: begin tx: %w", err))
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
				logger.FromContext(ctx).Error("Failed to roll back vector upsert", "collection", collection, "error", rbErr)
			}
			err = indexWriteError(collection, err)
			return
		}
		if commitErr := tx.Commit(ctx); commitErr != nil {
			err = indexWriteError(collection, fmt.Errorf("pgvector: commit: %w", commitErr))
		}
	}()
	existing, found, err := collectionDimension(ctx, tx, table)
	if err != nil {
		return err
	}
	if !found {
		if err := p.createTable(ctx, tx, table, dimension); err != nil {
			return err
		}
		existing = dimension
	}
	if existing != dimension {
		return fmt.Errorf("record dimension %d does not match collection dimension %d", dimension, existing)
	}
	stmt := fmt.Sprintf(`INSERT INTO %s (id, embedding, document, metadata, updated_at)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (id) DO UPDATE SET
    embedding = excluded.embedding,
    document = excluded.document,
    metadata = excluded.metadata,
    updated_at = excluded.updated_at`, table)
	now := time.Now().UTC()
	for i := range records {
		rec := &records[i]
		metadata, marshalErr := json.Marshal(rec.Metadata)
		if marshalErr != nil {
			return fmt.Errorf("pgvector: marshal metadata for %q: %w", rec.ID, marshalErr)
		}
		vector := pgvector.NewVector(rec.Embedding)
		if _, execErr := tx.Exec(ctx, stmt, rec.ID, vector, rec.Text, metadata, now); execErr != nil {
			return fmt.Errorf("pgvector: upsert %q: %w", rec.ID, execErr)
		}
	}
	return nil
}

func (p *pgStore) createTable(ctx context.Context, tx pgx.Tx, table string, dimension int) error {
	createTable := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		id TEXT PRIMARY KEY,
		embedding vector(%d) NOT NULL,
		document TEXT NOT NULL,
		metadata JSONB,
		updated_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
	)`, table, dimension)
	if _, err := tx.Exec(ctx, createTable); err != nil {
		return fmt.Errorf("pgvector: create table: %w", err)
	}
	index := pgx.Identifier{strings.Trim(table, `"`) + pgIndexSuffix}.Sanitize()
	createIndex := fmt.Sprintf(
		"CREATE INDEX IF NOT EXISTS %s ON %s USING hnsw (embedding %s)",
		index, table, p.opsClass(),
	)
	if _, err := tx.Exec(ctx, createIndex); err != nil {
		return fmt.Errorf("pgvector: create index: %w", err)
	}
	return nil
}

func (p *pgStore) Search(
	ctx context.Context,
	collection string,
	query []float32,
	opts SearchOptions,
) ([]Match, error) {
	if err := ValidateCollection(collection); err != nil {
		return nil, err
	}
	table := tableIdent(collection)
	dimension, found, err := collectionDimension(ctx, p.pool, table)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, core.CollectionNotFoundError(collection)
	}
	if err := checkQueryDimension(collection, query, dimension); err != nil {
		return nil, err
	}
	topK := normalizeTopK(opts.TopK)
	sql := fmt.Sprintf(
		"SELECT id, document, metadata, embedding %s $1 AS distance FROM %s ORDER BY distance ASC, id ASC LIMIT $2",
		p.distanceOperator(), table,
	)
	rows, err := p.pool.Query(ctx, sql, pgvector.NewVector(query), topK)
	if err != nil {
		return nil, fmt.Errorf("pgvector: search: %w", err)
	}
	defer rows.Close()
	results := make([]Match, 0, topK)
	for rows.Next() {
		var (
			id          string
			document    string
			metadataRaw []byte
			distance    float64
		)
		if err := rows.Scan(&id, &document, &metadataRaw, &distance); err != nil {
			return nil, fmt.Errorf("pgvector: scan: %w", err)
		}
		score := p.score(distance)
		if opts.MinScore > 0 && score < opts.MinScore {
			continue
		}
		meta := make(map[string]any)
		if len(metadataRaw) > 0 {
			if err := json.Unmarshal(metadataRaw, &meta); err != nil {
				return nil, fmt.Errorf("pgvector: decode metadata: %w", err)
			}
		}
		results = append(results, Match{ID: id, Score: score, Text: document, Metadata: meta})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("pgvector: search rows: %w", err)
	}
	return sortMatches(results, topK), nil
}

func (p *pgStore) Delete(ctx context.Context, collection string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := ValidateCollection(collection); err != nil {
		return err
	}
	table := tableIdent(collection)
	_, found, err := collectionDimension(ctx, p.pool, table)
	if err != nil || !found {
		return err
	}
	if _, err := p.pool.Exec(ctx, fmt.Sprintf("DELETE FROM %s WHERE id = ANY($1)", table), ids); err != nil {
		return fmt.Errorf("pgvector: delete: %w", err)
	}
	return nil
}

func (p *pgStore) Close(_ context.Context) error {
	p.pool.Close()
	return nil
}
