package knowledge

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChunkMetadata(t *testing.T) {
	t.Run("Should cite page based chunks", func(t *testing.T) {
		m := ChunkMetadata{FileName: "notes.pdf", Page: 2}
		assert.Equal(t, "notes.pdf, page 2", m.Citation())
	})

	t.Run("Should cite row based chunks", func(t *testing.T) {
		m := ChunkMetadata{FileName: "orders.csv", Row: 14}
		assert.Equal(t, "orders.csv, row 14", m.Citation())
	})

	t.Run("Should survive a JSON round trip through a payload map", func(t *testing.T) {
		m := ChunkMetadata{FileName: "notes.pdf", Page: 3, TotalPages: 4, ChunkIndex: 1, MimeType: "application/pdf"}
		raw, err := json.Marshal(m.ToMap())
		require.NoError(t, err)
		var decoded map[string]any
		require.NoError(t, json.Unmarshal(raw, &decoded))
		assert.Equal(t, m, MetadataFromMap(decoded))
	})
}

func TestRetrievalResult(t *testing.T) {
	t.Run("Should report emptiness for nil and empty results", func(t *testing.T) {
		var nilResult *RetrievalResult
		assert.True(t, nilResult.Empty())
		assert.True(t, (&RetrievalResult{Chunks: []RetrievedChunk{}}).Empty())
	})

	t.Run("Should keep chunk order when dropping scores", func(t *testing.T) {
		r := &RetrievalResult{Chunks: []RetrievedChunk{
			{ID: "a", Score: 0.9, Chunk: TextChunk{Content: "first"}},
			{ID: "b", Score: 0.5, Chunk: TextChunk{Content: "second"}},
		}}
		chunks := r.TextChunks()
		require.Len(t, chunks, 2)
		assert.Equal(t, "first", chunks[0].Content)
		assert.Equal(t, "second", chunks[1].Content)
	})
}
