package vectordb

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/compozy/notebook/engine/core"
)

type fakePoint struct {
	vector  []float32
	payload map[string]any
}

type fakeCollection struct {
	size   int
	points map[string]fakePoint
}

// fakeQdrant implements the subset of the Qdrant REST API the store uses.
type fakeQdrant struct {
	mu             sync.Mutex
	collections    map[string]*fakeCollection
	searchFailures int
	searchCalls    int
	apiKey         string
}

func newFakeQdrant(t *testing.T) (*fakeQdrant, *httptest.Server) {
	t.Helper()
	fake := &fakeQdrant{collections: make(map[string]*fakeCollection)}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /collections/{name}", fake.getCollection)
	mux.HandleFunc("PUT /collections/{name}", fake.createCollection)
	mux.HandleFunc("PUT /collections/{name}/points", fake.upsertPoints)
	mux.HandleFunc("POST /collections/{name}/points/search", fake.search)
	mux.HandleFunc("POST /collections/{name}/points/delete", fake.deletePoints)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fake.apiKey != "" && r.Header.Get("api-key") != fake.apiKey {
			writeQdrant(w, http.StatusUnauthorized, map[string]any{"status": map[string]any{"error": "unauthorized"}})
			return
		}
		mux.ServeHTTP(w, r)
	}))
	t.Cleanup(srv.Close)
	return fake, srv
}

func writeQdrant(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func notFound(w http.ResponseWriter, name string) {
	writeQdrant(w, http.StatusNotFound, map[string]any{
		"status": map[string]any{"error": fmt.Sprintf("Not found: Collection `%s` doesn't exist!", name)},
	})
}

func (f *fakeQdrant) getCollection(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	col, ok := f.collections[r.PathValue("name")]
	if !ok {
		notFound(w, r.PathValue("name"))
		return
	}
	writeQdrant(w, http.StatusOK, map[string]any{
		"result": map[string]any{
			"config": map[string]any{"params": map[string]any{"vectors": map[string]any{"size": col.size, "distance": "Cosine"}}},
		},
		"status": "ok",
	})
}

func (f *fakeQdrant) createCollection(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Vectors struct {
			Size int `json:"size"`
		} `json:"vectors"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)
	f.mu.Lock()
	defer f.mu.Unlock()
	name := r.PathValue("name")
	if _, ok := f.collections[name]; ok {
		writeQdrant(w, http.StatusConflict, map[string]any{"status": map[string]any{"error": "already exists"}})
		return
	}
	f.collections[name] = &fakeCollection{size: body.Vectors.Size, points: make(map[string]fakePoint)}
	writeQdrant(w, http.StatusOK, map[string]any{"result": true, "status": "ok"})
}

func (f *fakeQdrant) upsertPoints(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Points []struct {
			ID      string         `json:"id"`
			Vector  []float32      `json:"vector"`
			Payload map[string]any `json:"payload"`
		} `json:"points"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)
	f.mu.Lock()
	defer f.mu.Unlock()
	col, ok := f.collections[r.PathValue("name")]
	if !ok {
		notFound(w, r.PathValue("name"))
		return
	}
	for _, p := range body.Points {
		if len(p.Vector) != col.size {
			writeQdrant(w, http.StatusBadRequest, map[string]any{"status": map[string]any{"error": "wrong vector size"}})
			return
		}
	}
	for _, p := range body.Points {
		col.points[p.ID] = fakePoint{vector: p.Vector, payload: p.Payload}
	}
	writeQdrant(w, http.StatusOK, map[string]any{"result": map[string]any{"status": "completed"}, "status": "ok"})
}

func (f *fakeQdrant) search(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Vector []float32 `json:"vector"`
		Limit  int       `json:"limit"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.searchCalls++
	if f.searchFailures > 0 {
		f.searchFailures--
		writeQdrant(w, http.StatusServiceUnavailable, map[string]any{"status": map[string]any{"error": "overloaded"}})
		return
	}
	col, ok := f.collections[r.PathValue("name")]
	if !ok {
		notFound(w, r.PathValue("name"))
		return
	}
	type hit struct {
		ID      string         `json:"id"`
		Score   float64        `json:"score"`
		Payload map[string]any `json:"payload"`
	}
	hits := make([]hit, 0, len(col.points))
	for id, p := range col.points {
		hits = append(hits, hit{ID: id, Score: cosineSimilarity(p.vector, body.Vector), Payload: p.payload})
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if len(hits) > body.Limit {
		hits = hits[:body.Limit]
	}
	writeQdrant(w, http.StatusOK, map[string]any{"result": hits, "status": "ok"})
}

func (f *fakeQdrant) deletePoints(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Points []string `json:"points"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)
	f.mu.Lock()
	defer f.mu.Unlock()
	col, ok := f.collections[r.PathValue("name")]
	if !ok {
		notFound(w, r.PathValue("name"))
		return
	}
	for _, id := range body.Points {
		delete(col.points, id)
	}
	writeQdrant(w, http.StatusOK, map[string]any{"result": map[string]any{"status": "completed"}, "status": "ok"})
}

func fastRetry() core.RetryPolicy {
	return core.RetryPolicy{MaxAttempts: 3, InitialBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond}
}

func TestQdrantStore(t *testing.T) {
	storeContract(t, func(t *testing.T) Store {
		_, srv := newFakeQdrant(t)
		store, err := newQdrantStore(&Config{URL: srv.URL, Retry: fastRetry()})
		require.NoError(t, err)
		return store
	})

	t.Run("Should create the collection with the record dimension", func(t *testing.T) {
		fake, srv := newFakeQdrant(t)
		store, err := newQdrantStore(&Config{URL: srv.URL, Retry: fastRetry()})
		require.NoError(t, err)
		require.NoError(t, store.Upsert(t.Context(), "ai_notebook", sampleRecords()))
		fake.mu.Lock()
		defer fake.mu.Unlock()
		require.Contains(t, fake.collections, "ai_notebook")
		assert.Equal(t, 3, fake.collections["ai_notebook"].size)
		assert.Len(t, fake.collections["ai_notebook"].points, 3)
	})

	t.Run("Should keep original ids through the uuid mapping", func(t *testing.T) {
		_, srv := newFakeQdrant(t)
		store, err := newQdrantStore(&Config{URL: srv.URL, Retry: fastRetry()})
		require.NoError(t, err)
		require.NoError(t, store.Upsert(t.Context(), "docs", sampleRecords()))
		matches, err := store.Search(t.Context(), "docs", []float32{0, 1, 0}, SearchOptions{TopK: 1})
		require.NoError(t, err)
		require.Len(t, matches, 1)
		assert.Equal(t, "shipping", matches[0].ID)
		assert.NotContains(t, matches[0].Metadata, qdrantTextKey)
		assert.NotContains(t, matches[0].Metadata, qdrantRecordIDKey)
	})

	t.Run("Should retry transient search failures", func(t *testing.T) {
		fake, srv := newFakeQdrant(t)
		store, err := newQdrantStore(&Config{URL: srv.URL, Retry: fastRetry()})
		require.NoError(t, err)
		require.NoError(t, store.Upsert(t.Context(), "docs", sampleRecords()))
		fake.mu.Lock()
		fake.searchFailures = 2
		fake.mu.Unlock()
		matches, err := store.Search(t.Context(), "docs", []float32{1, 0, 0}, SearchOptions{TopK: 1})
		require.NoError(t, err)
		assert.Equal(t, "refund", matches[0].ID)
		fake.mu.Lock()
		defer fake.mu.Unlock()
		assert.Equal(t, 3, fake.searchCalls)
	})

	t.Run("Should send the api key", func(t *testing.T) {
		fake, srv := newFakeQdrant(t)
		fake.apiKey = "secret"
		store, err := newQdrantStore(&Config{URL: srv.URL, APIKey: "secret", Retry: fastRetry()})
		require.NoError(t, err)
		require.NoError(t, store.Upsert(t.Context(), "docs", sampleRecords()))
		bad, err := newQdrantStore(&Config{URL: srv.URL, APIKey: "wrong", Retry: fastRetry()})
		require.NoError(t, err)
		err = bad.Upsert(t.Context(), "docs", sampleRecords())
		require.Error(t, err)
		assert.ErrorIs(t, err, core.ErrIndexWrite)
	})

	t.Run("Should map stable point ids", func(t *testing.T) {
		assert.Equal(t, qdrantPointID("refund"), qdrantPointID("refund"))
		id := "0b4f7c1e-8a8e-4c52-9a5e-2b3c4d5e6f70"
		assert.Equal(t, id, qdrantPointID(id))
	})
}
