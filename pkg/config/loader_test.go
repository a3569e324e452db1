package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockSource struct {
	data       map[string]any
	sourceType SourceType
}

func (m *mockSource) Load() (map[string]any, error) { return m.data, nil }
func (m *mockSource) Type() SourceType              { return m.sourceType }

func TestLoader_Load(t *testing.T) {
	t.Run("Should load defaults when no sources are provided", func(t *testing.T) {
		cfg, err := NewService().Load(t.Context())
		require.NoError(t, err)
		assert.Equal(t, 5001, cfg.Server.Port)
		assert.Equal(t, "ai_notebook", cfg.VectorDB.Collection)
		assert.Equal(t, "qdrant", cfg.VectorDB.Provider)
		assert.Equal(t, 3, cfg.Retrieval.TopK)
		assert.Equal(t, 3, cfg.Retry.MaxAttempts)
		assert.Equal(t, 200*time.Millisecond, cfg.Retry.InitialBackoff)
		assert.True(t, cfg.Ingest.Dedupe)
	})

	t.Run("Should let later sources override earlier ones", func(t *testing.T) {
		yamlSource := &mockSource{
			sourceType: SourceYAML,
			data: map[string]any{
				"server":   map[string]any{"host": "yaml.local", "port": 9001},
				"vectordb": map[string]any{"collection": "from_yaml"},
			},
		}
		cliSource := &mockSource{
			sourceType: SourceCLI,
			data:       map[string]any{"server": map[string]any{"host": "cli.local"}},
		}
		svc := NewService()
		cfg, err := svc.Load(t.Context(), yamlSource, cliSource)
		require.NoError(t, err)
		assert.Equal(t, "cli.local", cfg.Server.Host)
		assert.Equal(t, 9001, cfg.Server.Port)
		assert.Equal(t, "from_yaml", cfg.VectorDB.Collection)
		assert.Equal(t, SourceCLI, svc.GetSource("server.host"))
		assert.Equal(t, SourceYAML, svc.GetSource("server.port"))
		assert.Equal(t, SourceDefault, svc.GetSource("retrieval.top_k"))
	})

	t.Run("Should apply environment variables last", func(t *testing.T) {
		t.Setenv("QDRANT_COLLECTION", "env_collection")
		t.Setenv("RETRY_INITIAL_BACKOFF", "50ms")
		t.Setenv("SERVER_CORS_ALLOWED_ORIGINS", "http://a.test,http://b.test")
		t.Setenv("OPENAI_API_KEY", "sk-secret")
		source := &mockSource{
			sourceType: SourceYAML,
			data:       map[string]any{"vectordb": map[string]any{"collection": "from_yaml"}},
		}
		svc := NewService()
		cfg, err := svc.Load(t.Context(), source)
		require.NoError(t, err)
		assert.Equal(t, "env_collection", cfg.VectorDB.Collection)
		assert.Equal(t, 50*time.Millisecond, cfg.Retry.InitialBackoff)
		assert.Equal(t, []string{"http://a.test", "http://b.test"}, cfg.Server.AllowedOrigins)
		assert.Equal(t, "sk-secret", cfg.LLM.APIKey.Value())
		assert.Equal(t, "[REDACTED]", cfg.LLM.APIKey.String())
		assert.Equal(t, SourceEnv, svc.GetSource("vectordb.collection"))
	})

	t.Run("Should let CLI flags override the environment", func(t *testing.T) {
		t.Setenv("SERVER_PORT", "6001")
		svc := NewService()
		cfg, err := svc.Load(t.Context(), NewCLIProvider(map[string]any{"server.port": "7001"}))
		require.NoError(t, err)
		assert.Equal(t, 7001, cfg.Server.Port)
		assert.Equal(t, SourceCLI, svc.GetSource("server.port"))
	})

	t.Run("Should reject values outside validation bounds", func(t *testing.T) {
		source := &mockSource{
			sourceType: SourceYAML,
			data:       map[string]any{"server": map[string]any{"port": 99999}},
		}
		_, err := NewService().Load(t.Context(), source)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "validation failed")
	})

	t.Run("Should reject an unknown vector provider", func(t *testing.T) {
		source := &mockSource{
			sourceType: SourceYAML,
			data:       map[string]any{"vectordb": map[string]any{"provider": "weaviate"}},
		}
		_, err := NewService().Load(t.Context(), source)
		require.Error(t, err)
	})

	t.Run("Should require a DSN for pgvector", func(t *testing.T) {
		source := &mockSource{
			sourceType: SourceYAML,
			data:       map[string]any{"vectordb": map[string]any{"provider": "pgvector"}},
		}
		_, err := NewService().Load(t.Context(), source)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "dsn is required")
	})

	t.Run("Should require redis url for the redis cache backend", func(t *testing.T) {
		source := &mockSource{
			sourceType: SourceYAML,
			data: map[string]any{
				"embedder": map[string]any{"cache": map[string]any{"backend": "redis"}},
			},
		}
		_, err := NewService().Load(t.Context(), source)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "redis url is required")
	})

	t.Run("Should require a redis url for the redis vector store", func(t *testing.T) {
		source := &mockSource{
			sourceType: SourceYAML,
			data:       map[string]any{"vectordb": map[string]any{"provider": "redis"}},
		}
		_, err := NewService().Load(t.Context(), source)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "redis url is required")
	})

	t.Run("Should accept the redis vector store with its own dsn", func(t *testing.T) {
		source := &mockSource{
			sourceType: SourceYAML,
			data: map[string]any{"vectordb": map[string]any{
				"provider": "redis",
				"dsn":      "redis://localhost:6379/2",
			}},
		}
		cfg, err := NewService().Load(t.Context(), source)
		require.NoError(t, err)
		assert.Equal(t, "redis", cfg.VectorDB.Provider)
	})

	t.Run("Should reject overlap larger than chunk size", func(t *testing.T) {
		source := &mockSource{
			sourceType: SourceYAML,
			data:       map[string]any{"chunk": map[string]any{"max_size": 100, "overlap": 100}},
		}
		_, err := NewService().Load(t.Context(), source)
		require.Error(t, err)
	})
}

func TestYAMLProvider(t *testing.T) {
	t.Run("Should read nested values from a file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "notebook.yaml")
		content := "vectordb:\n  provider: filesystem\n  path: /tmp/vectors\nretrieval:\n  top_k: 5\n"
		require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
		cfg, err := NewService().Load(t.Context(), NewYAMLProvider(path))
		require.NoError(t, err)
		assert.Equal(t, "filesystem", cfg.VectorDB.Provider)
		assert.Equal(t, "/tmp/vectors", cfg.VectorDB.Path)
		assert.Equal(t, 5, cfg.Retrieval.TopK)
	})

	t.Run("Should treat a missing file as empty", func(t *testing.T) {
		data, err := NewYAMLProvider(filepath.Join(t.TempDir(), "missing.yaml")).Load()
		require.NoError(t, err)
		assert.Empty(t, data)
	})
}

func TestCLIProvider(t *testing.T) {
	t.Run("Should expand dotted paths", func(t *testing.T) {
		data, err := NewCLIProvider(map[string]any{"server.port": 7000}).Load()
		require.NoError(t, err)
		assert.Equal(t, map[string]any{"server": map[string]any{"port": 7000}}, data)
	})
}

func TestEnvMappings(t *testing.T) {
	t.Run("Should expose env names and sensitivity", func(t *testing.T) {
		assert.Equal(t, "QDRANT_COLLECTION", GetEnvVarForConfigPath("vectordb.collection"))
		assert.Equal(t, "GEMINI_BASE_URL", GetEnvVarForConfigPath("llm.base_url"))
		assert.True(t, IsSensitiveConfigPath("llm.api_key"))
		assert.False(t, IsSensitiveConfigPath("llm.model"))
	})
}

func TestFromContext(t *testing.T) {
	t.Run("Should return the attached configuration", func(t *testing.T) {
		cfg := Default()
		cfg.VectorDB.Collection = "ctx_collection"
		ctx := ContextWithConfig(t.Context(), cfg)
		assert.Equal(t, "ctx_collection", FromContext(ctx).VectorDB.Collection)
	})

	t.Run("Should fall back to defaults", func(t *testing.T) {
		require.NotNil(t, FromContext(t.Context()))
	})
}

func TestLoadDotEnv(t *testing.T) {
	t.Run("Should load variables from an env file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), ".env")
		require.NoError(t, os.WriteFile(path, []byte("NOTEBOOK_DOTENV_MARKER=loaded\n"), 0o600))
		t.Setenv("NOTEBOOK_DOTENV_MARKER", "")
		require.NoError(t, os.Unsetenv("NOTEBOOK_DOTENV_MARKER"))
		require.NoError(t, LoadDotEnv(path, filepath.Join(t.TempDir(), "missing.env")))
		assert.Equal(t, "loaded", os.Getenv("NOTEBOOK_DOTENV_MARKER"))
	})
}
