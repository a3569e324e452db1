package knowledge

import (
	"strconv"
	"strings"
)

// UploadedDocument is a file staged on disk while it is indexed. StoragePath
// is transient and removed by the ingest pipeline on every exit path.
type UploadedDocument struct {
	FileName    string
	MimeType    string
	ByteSize    int64
	StoragePath string
}

// ChunkMetadata locates a chunk in its source document so answers can cite it.
// Page and Row are 1-based; zero means not applicable.
type ChunkMetadata struct {
	FileName   string `json:"file_name"`
	Source     string `json:"source,omitempty"`
	MimeType   string `json:"mime_type,omitempty"`
	Page       int    `json:"page,omitempty"`
	TotalPages int    `json:"total_pages,omitempty"`
	Row        int    `json:"row,omitempty"`
	ChunkIndex int    `json:"chunk_index"`
}

// TextChunk is a bounded segment of document text with positional metadata.
type TextChunk struct {
	Content  string        `json:"content"`
	Metadata ChunkMetadata `json:"metadata"`
	Hash     string        `json:"-"`
}

// Location renders a human readable position such as "page 2" or "row 14".
func (m ChunkMetadata) Location() string {
	switch {
	case m.Page > 0:
		return "page " + strconv.Itoa(m.Page)
	case m.Row > 0:
		return "row " + strconv.Itoa(m.Row)
	default:
		return ""
	}
}

// Citation renders "file, location" for prompts and logs.
func (m ChunkMetadata) Citation() string {
	loc := m.Location()
	if loc == "" {
		return m.FileName
	}
	return strings.TrimSpace(m.FileName + ", " + loc)
}

// ToMap flattens the metadata for vector store payloads.
func (m ChunkMetadata) ToMap() map[string]any {
	out := map[string]any{
		"file_name":   m.FileName,
		"chunk_index": m.ChunkIndex,
	}
	if m.Source != "" {
		out["source"] = m.Source
	}
	if m.MimeType != "" {
		out["mime_type"] = m.MimeType
	}
	if m.Page > 0 {
		out["page"] = m.Page
	}
	if m.TotalPages > 0 {
		out["total_pages"] = m.TotalPages
	}
	if m.Row > 0 {
		out["row"] = m.Row
	}
	return out
}

// MetadataFromMap is the inverse of ToMap. Numbers may arrive as float64
// after a JSON round trip.
func MetadataFromMap(raw map[string]any) ChunkMetadata {
	return ChunkMetadata{
		FileName:   stringValue(raw["file_name"]),
		Source:     stringValue(raw["source"]),
		MimeType:   stringValue(raw["mime_type"]),
		Page:       intValue(raw["page"]),
		TotalPages: intValue(raw["total_pages"]),
		Row:        intValue(raw["row"]),
		ChunkIndex: intValue(raw["chunk_index"]),
	}
}

// RetrievedChunk is a chunk returned by similarity search.
type RetrievedChunk struct {
	ID    string    `json:"id"`
	Chunk TextChunk `json:"chunk"`
	Score float64   `json:"score"`
}

// RetrievalResult holds the top-k chunks for one query, most similar first.
type RetrievalResult struct {
	Query      string           `json:"query"`
	Collection string           `json:"collection"`
	Chunks     []RetrievedChunk `json:"chunks"`
}

// TextChunks drops the scores.
func (r *RetrievalResult) TextChunks() []TextChunk {
	out := make([]TextChunk, 0, len(r.Chunks))
	for i := range r.Chunks {
		out = append(out, r.Chunks[i].Chunk)
	}
	return out
}

// Empty reports whether the search matched nothing.
func (r *RetrievalResult) Empty() bool {
	return r == nil || len(r.Chunks) == 0
}

func stringValue(v any) string {
	s, _ := v.(string)
	return s
}

func intValue(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int32:
		return int(n)
	case int64:
		return int(n)
	case float64:
		return int(n)
	case float32:
		return int(n)
	case string:
		i, err := strconv.Atoi(n)
		if err != nil {
			return 0
		}
		return i
	default:
		return 0
	}
}
