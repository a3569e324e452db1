package cli

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/compozy/notebook/pkg/config"
)

func executeRoot(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := RootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(append(args, "--env-file", "", "--log-level", "disabled"))
	err := cmd.ExecuteContext(t.Context())
	return out.String(), err
}

func TestSetupGlobalConfig(t *testing.T) {
	t.Run("Should apply the config file and let flags override it", func(t *testing.T) {
		dir := t.TempDir()
		cfgPath := filepath.Join(dir, "notebook.yaml")
		require.NoError(t, os.WriteFile(cfgPath, []byte("vectordb:\n  collection: from_yaml\nserver:\n  port: 7100\n"), 0o600))
		cmd := RootCmd()
		require.NoError(t, cmd.ParseFlags([]string{"--config", cfgPath, "--env-file", "", "--format", "json"}))
		require.NoError(t, SetupGlobalConfig(cmd))
		cfg := config.FromContext(cmd.Context())
		assert.Equal(t, "from_yaml", cfg.VectorDB.Collection)
		assert.Equal(t, 7100, cfg.Server.Port)
		assert.Equal(t, "json", cfg.CLI.Format)
	})

	t.Run("Should fail on an invalid config file", func(t *testing.T) {
		cfgPath := filepath.Join(t.TempDir(), "notebook.yaml")
		require.NoError(t, os.WriteFile(cfgPath, []byte("server:\n  port: 99999\n"), 0o600))
		_, err := executeRoot(t, "config", "show", "--config", cfgPath)
		require.Error(t, err)
	})
}

func TestRootCommands(t *testing.T) {
	missingConfig := filepath.Join(t.TempDir(), "missing.yaml")

	t.Run("Should print version information as JSON", func(t *testing.T) {
		out, err := executeRoot(t, "version", "--format", "json", "--config", missingConfig)
		require.NoError(t, err)
		var decoded map[string]map[string]any
		require.NoError(t, json.Unmarshal([]byte(out), &decoded))
		assert.NotEmpty(t, decoded["client"]["version"])
	})

	t.Run("Should ask a running server and print the answer", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/api/v1/chat", r.URL.Path)
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"data":{"id":"chatcmpl-9","choices":[{"index":0,"message":{"role":"assistant","content":"30 days"},"finish_reason":"stop"}],"sources":[{"file_name":"policy.pdf","page":1}]},"message":"AI generated response"}`))
		}))
		defer srv.Close()
		out, err := executeRoot(t, "ask", "refund", "window?",
			"--base-url", srv.URL, "--format", "text", "--config", missingConfig)
		require.NoError(t, err)
		assert.Contains(t, out, "30 days")
		assert.Contains(t, out, "policy.pdf, page 1")
	})

	t.Run("Should report the server error kind on upload", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnsupportedMediaType)
			_, _ = w.Write([]byte(`{"error":{"kind":"unsupported_format","message":"unsupported file type"}}`))
		}))
		defer srv.Close()
		path := filepath.Join(t.TempDir(), "notes.txt")
		require.NoError(t, os.WriteFile(path, []byte("plain"), 0o600))
		_, err := executeRoot(t, "upload", path, "--base-url", srv.URL, "--format", "json", "--config", missingConfig)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unsupported_format")
		_, statErr := os.Stat(path)
		require.NoError(t, statErr)
	})

	t.Run("Should show configuration with redacted secrets", func(t *testing.T) {
		t.Setenv("OPENAI_API_KEY", "super-secret")
		out, err := executeRoot(t, "config", "show", "--format", "json", "--config", missingConfig)
		require.NoError(t, err)
		assert.NotContains(t, out, "super-secret")
		assert.Contains(t, out, `"path": "server.port"`)
	})
}
