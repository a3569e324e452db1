package generation

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"

	"github.com/compozy/notebook/engine/core"
	"github.com/compozy/notebook/engine/knowledge"
)

type stubModel struct {
	mu       sync.Mutex
	calls    int
	failures []error
	content  string
	info     map[string]any
	messages []llms.MessageContent
}

func (s *stubModel) GenerateContent(
	_ context.Context,
	messages []llms.MessageContent,
	_ ...llms.CallOption,
) (*llms.ContentResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	s.messages = messages
	if len(s.failures) > 0 {
		err := s.failures[0]
		s.failures = s.failures[1:]
		return nil, err
	}
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{
		Content:        s.content,
		StopReason:     "stop",
		GenerationInfo: s.info,
	}}}, nil
}

func (s *stubModel) Call(ctx context.Context, prompt string, opts ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, s, prompt, opts...)
}

func testConfig() *Config {
	return &Config{
		Provider: ProviderOpenAI,
		Model:    "gemini-2.5-pro",
		Retry:    core.RetryPolicy{MaxAttempts: 3, InitialBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond},
	}
}

func refundChunks() []knowledge.TextChunk {
	return []knowledge.TextChunk{
		{
			Content:  "Refunds are processed within 30 days.",
			Metadata: knowledge.ChunkMetadata{FileName: "policy.pdf", Page: 2},
		},
		{
			Content:  "Refund requests need a receipt.",
			Metadata: knowledge.ChunkMetadata{FileName: "policy.pdf", Page: 2, ChunkIndex: 1},
		},
	}
}

func textOf(t *testing.T, msg llms.MessageContent) string {
	t.Helper()
	require.Len(t, msg.Parts, 1)
	part, ok := msg.Parts[0].(llms.TextContent)
	require.True(t, ok)
	return part.Text
}

func TestClient_Generate(t *testing.T) {
	t.Run("Should send the context as a system message followed by the query", func(t *testing.T) {
		model := &stubModel{
			content: "Refunds are processed within 30 days (policy.pdf, page 2).",
			info:    map[string]any{"PromptTokens": 120, "CompletionTokens": 14, "TotalTokens": 134},
		}
		client, err := Wrap(testConfig(), model)
		require.NoError(t, err)
		resp, err := client.Generate(t.Context(), "What is the refund policy?", refundChunks())
		require.NoError(t, err)
		require.Len(t, model.messages, 2)
		assert.Equal(t, llms.ChatMessageTypeSystem, model.messages[0].Role)
		assert.Equal(t, llms.ChatMessageTypeHuman, model.messages[1].Role)
		system := textOf(t, model.messages[0])
		assert.Contains(t, system, "Only answer based on the available context from the file only")
		assert.Contains(t, system, `"pageContent":"Refunds are processed within 30 days."`)
		assert.Contains(t, system, `"page":2`)
		assert.Equal(t, "What is the refund policy?", textOf(t, model.messages[1]))

		assert.Equal(t, "chat.completion", resp.Object)
		assert.True(t, strings.HasPrefix(resp.ID, "chatcmpl-"))
		assert.Equal(t, "gemini-2.5-pro", resp.Model)
		assert.Contains(t, resp.Text(), "30 days")
		assert.Equal(t, "assistant", resp.Choices[0].Message.Role)
		assert.Equal(t, "stop", resp.Choices[0].FinishReason)
		assert.Equal(t, Usage{PromptTokens: 120, CompletionTokens: 14, TotalTokens: 134}, resp.Usage)
		assert.Equal(t, []Source{{FileName: "policy.pdf", Page: 2}}, resp.Sources)
	})

	t.Run("Should reject an empty query or empty context before calling the model", func(t *testing.T) {
		model := &stubModel{content: "unused"}
		client, err := Wrap(testConfig(), model)
		require.NoError(t, err)
		_, err = client.Generate(t.Context(), " ", refundChunks())
		assert.ErrorIs(t, err, core.ErrValidation)
		_, err = client.Generate(t.Context(), "refund?", nil)
		assert.ErrorIs(t, err, core.ErrValidation)
		assert.Zero(t, model.calls)
	})

	t.Run("Should retry transient failures", func(t *testing.T) {
		model := &stubModel{
			content:  "ok",
			failures: []error{errors.New("503 service unavailable"), errors.New("429 too many requests")},
		}
		client, err := Wrap(testConfig(), model)
		require.NoError(t, err)
		resp, err := client.Generate(t.Context(), "refund?", refundChunks())
		require.NoError(t, err)
		assert.Equal(t, "ok", resp.Text())
		assert.Equal(t, 3, model.calls)
	})

	t.Run("Should surface exhausted retries as a generation error", func(t *testing.T) {
		model := &stubModel{failures: []error{
			errors.New("503 service unavailable"),
			errors.New("503 service unavailable"),
			errors.New("503 service unavailable"),
		}}
		client, err := Wrap(testConfig(), model)
		require.NoError(t, err)
		_, err = client.Generate(t.Context(), "refund?", refundChunks())
		assert.ErrorIs(t, err, core.ErrGenerationService)
		assert.Equal(t, 3, model.calls)
	})

	t.Run("Should not retry authentication failures", func(t *testing.T) {
		model := &stubModel{failures: []error{errors.New("401 unauthorized")}}
		client, err := Wrap(testConfig(), model)
		require.NoError(t, err)
		_, err = client.Generate(t.Context(), "refund?", refundChunks())
		assert.ErrorIs(t, err, core.ErrGenerationService)
		assert.Equal(t, 1, model.calls)
	})

	t.Run("Should treat an empty completion as a generation error", func(t *testing.T) {
		client, err := Wrap(testConfig(), &stubModel{content: "  "})
		require.NoError(t, err)
		_, err = client.Generate(t.Context(), "refund?", refundChunks())
		assert.ErrorIs(t, err, core.ErrGenerationService)
	})

	t.Run("Should report timeouts as generation errors", func(t *testing.T) {
		cfg := testConfig()
		cfg.Retry.MaxAttempts = 1
		client, err := Wrap(cfg, &stubModel{failures: []error{context.DeadlineExceeded}})
		require.NoError(t, err)
		_, err = client.Generate(t.Context(), "refund?", refundChunks())
		assert.ErrorIs(t, err, core.ErrGenerationService)
		assert.True(t, core.IsTimeout(err))
	})
}

func TestClient_Answer(t *testing.T) {
	t.Run("Should answer locally when no context was retrieved", func(t *testing.T) {
		model := &stubModel{content: "unused"}
		client, err := Wrap(testConfig(), model)
		require.NoError(t, err)
		resp, err := client.Answer(t.Context(), "What is the refund policy?", nil)
		require.NoError(t, err)
		assert.Equal(t, NoContextAnswer, resp.Text())
		assert.Empty(t, resp.Sources)
		assert.Zero(t, model.calls)
	})

	t.Run("Should delegate to the model when context exists", func(t *testing.T) {
		model := &stubModel{content: "Within 30 days."}
		client, err := Wrap(testConfig(), model)
		require.NoError(t, err)
		resp, err := client.Answer(t.Context(), "refund?", refundChunks())
		require.NoError(t, err)
		assert.Equal(t, "Within 30 days.", resp.Text())
		assert.Equal(t, 1, model.calls)
	})
}

func TestUsageFromInfo(t *testing.T) {
	t.Run("Should read google style keys and derive the total", func(t *testing.T) {
		usage := usageFromInfo(map[string]any{"input_tokens": int32(10), "output_tokens": int32(5)})
		assert.Equal(t, Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15}, usage)
	})
}

func TestWrap(t *testing.T) {
	t.Run("Should require a provider model and implementation", func(t *testing.T) {
		_, err := Wrap(&Config{Provider: ProviderOpenAI}, &stubModel{})
		assert.ErrorIs(t, err, errMissingModel)
		_, err = Wrap(&Config{Model: "m"}, &stubModel{})
		assert.ErrorIs(t, err, errMissingProvider)
		_, err = Wrap(testConfig(), nil)
		assert.Error(t, err)
	})
}
