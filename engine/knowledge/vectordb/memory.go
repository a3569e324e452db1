package vectordb

import (
	"context"
	"maps"
	"sync"

	"github.com/compozy/notebook/engine/core"
)

type memoryCollection struct {
	dimension int
	records   map[string]Record
}

// MemoryStore keeps collections in process memory. It backs tests and dry
// runs of the ingest command.
type MemoryStore struct {
	mu          sync.RWMutex
	metric      Metric
	collections map[string]*memoryCollection
}

func NewMemoryStore(metric Metric) *MemoryStore {
	return &MemoryStore{metric: metric, collections: make(map[string]*memoryCollection)}
}

func (s *MemoryStore) AtomicUpsert() bool { return true }

func (s *MemoryStore) Upsert(ctx context.Context, collection string, records []Record) error {
	if err := ValidateCollection(collection); err != nil {
		return err
	}
	if len(records) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return indexWriteError(collection, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	col := s.collections[collection]
	want := 0
	if col != nil {
		want = col.dimension
	}
	dimension, err := validateRecords(collection, records, want)
	if err != nil {
		return err
	}
	if col == nil {
		col = &memoryCollection{dimension: dimension, records: make(map[string]Record)}
		s.collections[collection] = col
	}
	for i := range records {
		col.records[records[i].ID] = copyRecord(&records[i])
	}
	return nil
}

func (s *MemoryStore) Search(
	ctx context.Context,
	collection string,
	query []float32,
	opts SearchOptions,
) ([]Match, error) {
	if err := ValidateCollection(collection); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	col := s.collections[collection]
	if col == nil {
		return nil, core.CollectionNotFoundError(collection)
	}
	if err := checkQueryDimension(collection, query, col.dimension); err != nil {
		return nil, err
	}
	return scoreRecords(s.metric, col.records, query, opts), nil
}

func (s *MemoryStore) Delete(_ context.Context, collection string, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	col := s.collections[collection]
	if col == nil {
		return nil
	}
	for _, id := range ids {
		delete(col.records, id)
	}
	return nil
}

func (s *MemoryStore) Close(context.Context) error {
	return nil
}

// Count reports how many records a collection holds.
func (s *MemoryStore) Count(collection string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if col := s.collections[collection]; col != nil {
		return len(col.records)
	}
	return 0
}

func scoreRecords(metric Metric, records map[string]Record, query []float32, opts SearchOptions) []Match {
	matches := make([]Match, 0, len(records))
	for _, rec := range records {
		score := metric.Score(rec.Embedding, query)
		if opts.MinScore > 0 && score < opts.MinScore {
			continue
		}
		matches = append(matches, Match{
			ID:       rec.ID,
			Score:    score,
			Text:     rec.Text,
			Metadata: maps.Clone(rec.Metadata),
		})
	}
	return sortMatches(matches, normalizeTopK(opts.TopK))
}

func copyRecord(rec *Record) Record {
	return Record{
		ID:        rec.ID,
		Text:      rec.Text,
		Embedding: append([]float32(nil), rec.Embedding...),
		Metadata:  maps.Clone(rec.Metadata),
	}
}
