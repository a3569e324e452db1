package helpers

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/compozy/notebook/pkg/config"
)

func TestPrinter(t *testing.T) {
	t.Run("Should emit JSON in json mode", func(t *testing.T) {
		var buf bytes.Buffer
		p := NewPrinter(&buf, ModeJSON, false)
		require.NoError(t, p.Report("Upload", map[string]any{"chunks": 2}, Field{Key: "Chunks", Value: 2}))
		require.NoError(t, p.Success("ignored in json mode"))
		var decoded map[string]any
		require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
		assert.InDelta(t, 2, decoded["chunks"], 0)
	})

	t.Run("Should align fields in text mode", func(t *testing.T) {
		var buf bytes.Buffer
		p := NewPrinter(&buf, ModeText, false)
		require.NoError(t, p.Report("Upload", nil,
			Field{Key: "File", Value: "a.pdf"},
			Field{Key: "Chunks", Value: 3},
		))
		require.NoError(t, p.Success("indexed %d chunks", 3))
		assert.Equal(t, "Upload\n  File    a.pdf\n  Chunks  3\n✓ indexed 3 chunks\n", buf.String())
	})
}

func TestDetectMode(t *testing.T) {
	t.Run("Should honor an explicit format", func(t *testing.T) {
		cfg := config.Default()
		cfg.CLI.Format = "text"
		assert.Equal(t, ModeText, DetectMode(cfg))
		cfg.CLI.Format = "json"
		assert.Equal(t, ModeJSON, DetectMode(cfg))
	})

	t.Run("Should fall back to json when not attached to a terminal", func(t *testing.T) {
		t.Setenv("CI", "true")
		assert.Equal(t, ModeJSON, DetectMode(config.Default()))
		assert.False(t, ShouldUseColor())
	})
}
