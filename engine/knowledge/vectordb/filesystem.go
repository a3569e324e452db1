package vectordb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/compozy/notebook/engine/core"
)

// fileStore persists each collection as a JSON snapshot under a directory.
// Snapshots are replaced atomically with a temp file and rename.
type fileStore struct {
	mu          sync.RWMutex
	dir         string
	metric      Metric
	collections map[string]*memoryCollection
}

func newFileStore(cfg *Config) (*fileStore, error) {
	if cfg == nil || cfg.Path == "" {
		return nil, errors.New("filesystem: path is required")
	}
	dir := filepath.Clean(cfg.Path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("filesystem: ensure directory %q: %w", dir, err)
	}
	return &fileStore{
		dir:         dir,
		metric:      ParseMetric(cfg.Metric),
		collections: make(map[string]*memoryCollection),
	}, nil
}

func (s *fileStore) AtomicUpsert() bool { return true }

func (s *fileStore) Upsert(ctx context.Context, collection string, records []Record) error {
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
	col, err := s.loadLocked(collection)
	if err != nil {
		return indexWriteError(collection, err)
	}
	want := 0
	if col != nil {
		want = col.dimension
	}
	dimension, err := validateRecords(collection, records, want)
	if err != nil {
		return err
	}
	next := &memoryCollection{dimension: dimension, records: make(map[string]Record)}
	if col != nil {
		for id, rec := range col.records {
			next.records[id] = rec
		}
	}
	for i := range records {
		next.records[records[i].ID] = copyRecord(&records[i])
	}
	if err := s.persist(collection, next); err != nil {
		return indexWriteError(collection, err)
	}
	s.collections[collection] = next
	return nil
}

func (s *fileStore) Search(
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
	col, err := s.collection(collection)
	if err != nil {
		return nil, err
	}
	if col == nil {
		return nil, core.CollectionNotFoundError(collection)
	}
	if err := checkQueryDimension(collection, query, col.dimension); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return scoreRecords(s.metric, col.records, query, opts), nil
}

func (s *fileStore) Delete(_ context.Context, collection string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := ValidateCollection(collection); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	col, err := s.loadLocked(collection)
	if err != nil || col == nil {
		return err
	}
	next := &memoryCollection{dimension: col.dimension, records: make(map[string]Record, len(col.records))}
	for id, rec := range col.records {
		next.records[id] = rec
	}
	for _, id := range ids {
		delete(next.records, id)
	}
	if err := s.persist(collection, next); err != nil {
		return err
	}
	s.collections[collection] = next
	return nil
}

func (s *fileStore) Close(context.Context) error {
	return nil
}

func (s *fileStore) collection(name string) (*memoryCollection, error) {
	s.mu.RLock()
	col, ok := s.collections[name]
	s.mu.RUnlock()
	if ok {
		return col, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked(name)
}

// loadLocked returns nil without error when the collection does not exist.
func (s *fileStore) loadLocked(name string) (*memoryCollection, error) {
	if col, ok := s.collections[name]; ok {
		return col, nil
	}
	path := s.snapshotPath(name)
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("filesystem: read %q: %w", path, err)
	}
	var payload fileStorePayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("filesystem: decode %q: %w", path, err)
	}
	col := &memoryCollection{dimension: payload.Dimension, records: make(map[string]Record, len(payload.Records))}
	for i := range payload.Records {
		rec := payload.Records[i]
		if len(rec.Embedding) != payload.Dimension {
			return nil, fmt.Errorf("filesystem: record %q in %q has dimension %d, want %d",
				rec.ID, path, len(rec.Embedding), payload.Dimension)
		}
		col.records[rec.ID] = Record{
			ID:        rec.ID,
			Text:      rec.Text,
			Embedding: rec.Embedding,
			Metadata:  rec.Metadata,
		}
	}
	s.collections[name] = col
	return col, nil
}

func (s *fileStore) persist(name string, col *memoryCollection) error {
	payload := fileStorePayload{
		Collection: name,
		Dimension:  col.dimension,
		Metric:     string(s.metric),
		Records:    make([]fileStoreRecord, 0, len(col.records)),
	}
	for _, rec := range col.records {
		payload.Records = append(payload.Records, fileStoreRecord{
			ID:        rec.ID,
			Text:      rec.Text,
			Embedding: rec.Embedding,
			Metadata:  rec.Metadata,
		})
	}
	sort.Slice(payload.Records, func(i, j int) bool { return payload.Records[i].ID < payload.Records[j].ID })
	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return fmt.Errorf("filesystem: encode snapshot: %w", err)
	}
	path := s.snapshotPath(name)
	tmp, err := os.CreateTemp(s.dir, name+".*.tmp")
	if err != nil {
		return fmt.Errorf("filesystem: create snapshot: %w", err)
	}
	tmpName := tmp.Name()
	_, writeErr := tmp.Write(data)
	closeErr := tmp.Close()
	if err := errors.Join(writeErr, closeErr); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("filesystem: write snapshot: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("filesystem: commit snapshot: %w", err)
	}
	return nil
}

func (s *fileStore) snapshotPath(name string) string {
	return filepath.Join(s.dir, name+".json")
}

type fileStorePayload struct {
	Collection string            `json:"collection"`
	Dimension  int               `json:"dimension"`
	Metric     string            `json:"metric"`
	Records    []fileStoreRecord `json:"records"`
}

type fileStoreRecord struct {
	ID        string         `json:"id"`
	Text      string         `json:"text"`
	Embedding []float32      `json:"embedding"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}
