package vectordb

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/compozy/notebook/engine/core"
)

// Provider enumerates supported vector database backends.
type Provider string

const (
	ProviderQdrant     Provider = "qdrant"
	ProviderPGVector   Provider = "pgvector"
	ProviderFilesystem Provider = "filesystem"
	ProviderMemory     Provider = "memory"
	ProviderRedis      Provider = "redis"
)

const defaultTopK = 3

// Record is a chunk persisted to a collection.
type Record struct {
	ID        string
	Text      string
	Embedding []float32
	Metadata  map[string]any
}

// SearchOptions controls similarity search execution. MinScore filters only
// when positive.
type SearchOptions struct {
	TopK     int
	MinScore float64
}

// Match is a similarity search hit. Higher scores are more similar.
type Match struct {
	ID       string
	Score    float64
	Text     string
	Metadata map[string]any
}

// Store is the contract shared by ingestion and retrieval. Collections are
// created lazily by Upsert with the dimensionality of the first record.
type Store interface {
	// Upsert writes records, replacing any with the same ID. An empty slice is
	// a no-op.
	Upsert(ctx context.Context, collection string, records []Record) error
	// Search returns up to TopK matches ordered by decreasing score, ties by
	// ID. It fails with CollectionNotFoundError for unknown collections.
	Search(ctx context.Context, collection string, query []float32, opts SearchOptions) ([]Match, error)
	// Delete removes records by ID. Unknown IDs and collections are ignored.
	Delete(ctx context.Context, collection string, ids []string) error
	Close(ctx context.Context) error
}

// AtomicUpserter is implemented by stores whose Upsert either writes every
// record or none of them.
type AtomicUpserter interface {
	AtomicUpsert() bool
}

// Config captures connection details for a vector database. The redis
// provider dials DSN when set and otherwise borrows the shared Redis client.
type Config struct {
	Provider  Provider
	URL       string
	APIKey    string
	DSN       string
	Path      string
	Metric    string
	Timeout   time.Duration
	Retry     core.RetryPolicy
	Redis     redis.UniversalClient
	KeyPrefix string
}

var collectionPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]{0,254}$`)

// ValidateCollection rejects names that are unsafe as table or file names.
func ValidateCollection(name string) error {
	if !collectionPattern.MatchString(name) {
		return core.ValidationError("invalid collection name %q", name)
	}
	return nil
}

// validateRecords checks that every record has an ID and the same
// dimensionality, which must equal want when want is positive.
func validateRecords(collection string, records []Record, want int) (int, error) {
	for i := range records {
		if records[i].ID == "" {
			return 0, indexWriteError(collection, fmt.Errorf("record %d has no id", i))
		}
		got := len(records[i].Embedding)
		if got == 0 {
			return 0, indexWriteError(collection, fmt.Errorf("record %q has an empty embedding", records[i].ID))
		}
		if want == 0 {
			want = got
			continue
		}
		if got != want {
			return 0, indexWriteError(
				collection,
				fmt.Errorf("record %q dimension mismatch (got %d want %d)", records[i].ID, got, want),
			)
		}
	}
	return want, nil
}

func checkQueryDimension(collection string, query []float32, want int) error {
	if len(query) == 0 {
		return core.ValidationError("query vector is empty")
	}
	if want > 0 && len(query) != want {
		return core.ValidationError(
			"query dimension %d does not match collection %q dimension %d",
			len(query), collection, want,
		)
	}
	return nil
}

func indexWriteError(collection string, err error) error {
	return core.WrapKind(core.KindIndexWrite, fmt.Sprintf("failed to write to collection %q", collection), err)
}

// sortMatches orders by decreasing score, breaking ties by ID, and trims to
// topK.
func sortMatches(matches []Match, topK int) []Match {
	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Score == matches[j].Score {
			return matches[i].ID < matches[j].ID
		}
		return matches[i].Score > matches[j].Score
	})
	if topK > 0 && len(matches) > topK {
		matches = matches[:topK]
	}
	return matches
}

func normalizeTopK(topK int) int {
	if topK <= 0 {
		return defaultTopK
	}
	return topK
}
