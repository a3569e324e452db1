package vectordb

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appconfig "github.com/compozy/notebook/pkg/config"
)

func TestNew(t *testing.T) {
	t.Run("Should build an instrumented memory store", func(t *testing.T) {
		store, err := New(t.Context(), &Config{Provider: ProviderMemory})
		require.NoError(t, err)
		atomic, ok := store.(AtomicUpserter)
		require.True(t, ok)
		assert.True(t, atomic.AtomicUpsert())
		require.NoError(t, store.Upsert(t.Context(), "docs", sampleRecords()))
		matches, err := store.Search(t.Context(), "docs", []float32{1, 0, 0}, SearchOptions{TopK: 1})
		require.NoError(t, err)
		assert.Equal(t, "refund", matches[0].ID)
		require.NoError(t, store.Close(t.Context()))
	})

	t.Run("Should report qdrant as non atomic", func(t *testing.T) {
		store, err := New(t.Context(), &Config{Provider: ProviderQdrant, URL: "http://localhost:6333"})
		require.NoError(t, err)
		atomic, ok := store.(AtomicUpserter)
		require.True(t, ok)
		assert.False(t, atomic.AtomicUpsert())
	})

	t.Run("Should require provider specific settings", func(t *testing.T) {
		_, err := New(t.Context(), &Config{Provider: ProviderQdrant})
		assert.ErrorIs(t, err, errMissingURL)
		_, err = New(t.Context(), &Config{Provider: ProviderPGVector})
		assert.ErrorIs(t, err, errMissingDSN)
		_, err = New(t.Context(), &Config{Provider: ProviderFilesystem})
		assert.ErrorIs(t, err, errMissingPath)
		_, err = New(t.Context(), &Config{Provider: ProviderRedis})
		assert.ErrorIs(t, err, errMissingRedis)
		_, err = New(t.Context(), &Config{})
		assert.ErrorIs(t, err, errMissingProvider)
		_, err = New(t.Context(), &Config{Provider: "weaviate"})
		assert.Error(t, err)
	})

	t.Run("Should map application settings", func(t *testing.T) {
		app := appconfig.Default()
		app.VectorDB.APIKey = "qdrant-key"
		cfg := ConfigFromApp(app)
		assert.Equal(t, ProviderQdrant, cfg.Provider)
		assert.Equal(t, "http://localhost:6333", cfg.URL)
		assert.Equal(t, "qdrant-key", cfg.APIKey)
		assert.Equal(t, 3, cfg.Retry.MaxAttempts)
		assert.Equal(t, "notebook:", cfg.KeyPrefix)
	})
}
