package generation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tmc/langchaingo/llms"

	"github.com/compozy/notebook/engine/core"
	"github.com/compozy/notebook/engine/knowledge"
	"github.com/compozy/notebook/pkg/logger"
)

// NoContextAnswer is returned without calling the model when retrieval
// produced nothing to ground an answer on.
const NoContextAnswer = "No relevant information was found in the uploaded files to answer this question."

const (
	objectChatCompletion = "chat.completion"
	roleAssistant        = "assistant"
	finishStop           = "stop"
)

// Message is one turn of a chat completion.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type Choice struct {
	Index        int     `json:"index"`
	Message      Message `json:"message"`
	FinishReason string  `json:"finish_reason"`
}

type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Source cites a chunk the answer was grounded on.
type Source struct {
	FileName string `json:"file_name"`
	Page     int    `json:"page,omitempty"`
	Row      int    `json:"row,omitempty"`
}

// Response follows the chat-completion object shape.
type Response struct {
	ID      string   `json:"id"`
	Object  string   `json:"object"`
	Created int64    `json:"created"`
	Model   string   `json:"model"`
	Choices []Choice `json:"choices"`
	Usage   Usage    `json:"usage"`
	Sources []Source `json:"sources"`
}

// Text returns the content of the first choice.
func (r *Response) Text() string {
	if r == nil || len(r.Choices) == 0 {
		return ""
	}
	return r.Choices[0].Message.Content
}

// Client answers questions from supplied context through a chat model.
type Client struct {
	provider    Provider
	model       string
	temperature float64
	maxTokens   int
	retry       core.RetryPolicy
	llm         llms.Model
	now         func() time.Time
}

// New constructs a provider-backed client.
func New(ctx context.Context, cfg *Config) (*Client, error) {
	if cfg == nil {
		return nil, errors.New("llm config is required")
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	model, err := buildModel(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return Wrap(cfg, model)
}

// Wrap constructs a client around an existing langchaingo model.
func Wrap(cfg *Config, model llms.Model) (*Client, error) {
	if cfg == nil {
		return nil, errors.New("llm config is required")
	}
	if model == nil {
		return nil, fmt.Errorf("llm %q: model is required", cfg.Provider)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &Client{
		provider:    cfg.Provider,
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		retry:       cfg.Retry,
		llm:         model,
		now:         time.Now,
	}, nil
}

func (c *Client) Model() string {
	return c.model
}

// Generate asks the model to answer query using only chunks. Both must be
// non-empty.
func (c *Client) Generate(ctx context.Context, query string, chunks []knowledge.TextChunk) (*Response, error) {
	if strings.TrimSpace(query) == "" {
		return nil, core.ValidationError("query must not be empty")
	}
	if len(chunks) == 0 {
		return nil, core.ValidationError("context chunks must not be empty")
	}
	system, err := BuildSystemPrompt(chunks)
	if err != nil {
		return nil, core.NewError(core.KindInternal, "failed to build prompt", err)
	}
	messages := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, system),
		llms.TextParts(llms.ChatMessageTypeHuman, query),
	}
	var choice *llms.ContentChoice
	start := time.Now()
	err = c.withRetry(ctx, func(ctx context.Context) error {
		resp, err := c.llm.GenerateContent(ctx, messages, c.callOptions()...)
		if err != nil {
			recordFailure(ctx, c.provider, c.model, err)
			return err
		}
		if resp == nil || len(resp.Choices) == 0 || resp.Choices[0] == nil {
			return errEmptyCompletion
		}
		choice = resp.Choices[0]
		return nil
	})
	if err != nil {
		return nil, c.serviceError(err)
	}
	if strings.TrimSpace(choice.Content) == "" {
		return nil, c.serviceError(errEmptyCompletion)
	}
	usage := usageFromInfo(choice.GenerationInfo)
	recordCompletion(ctx, c.provider, c.model, usage, time.Since(start))
	logger.FromContext(ctx).Debug(
		"Generated answer",
		"provider", c.provider,
		"model", c.model,
		"chunks", len(chunks),
		"total_tokens", usage.TotalTokens,
	)
	return c.response(choice.Content, finishReason(choice.StopReason), usage, chunks), nil
}

// Answer behaves like Generate but answers locally with NoContextAnswer when
// there are no chunks.
func (c *Client) Answer(ctx context.Context, query string, chunks []knowledge.TextChunk) (*Response, error) {
	if strings.TrimSpace(query) == "" {
		return nil, core.ValidationError("query must not be empty")
	}
	if len(chunks) == 0 {
		return c.response(NoContextAnswer, finishStop, Usage{}, nil), nil
	}
	return c.Generate(ctx, query, chunks)
}

var errEmptyCompletion = errors.New("model returned an empty completion")

func (c *Client) callOptions() []llms.CallOption {
	opts := []llms.CallOption{llms.WithTemperature(c.temperature)}
	if c.maxTokens > 0 {
		opts = append(opts, llms.WithMaxTokens(c.maxTokens))
	}
	return opts
}

func (c *Client) withRetry(ctx context.Context, fn func(ctx context.Context) error) error {
	attempt := 0
	return c.retry.Do(ctx, func(ctx context.Context) error {
		attempt++
		if attempt > 1 {
			knowledge.RecordRemoteRetry(ctx, "generation")
			logger.FromContext(ctx).Debug("Retrying generation request", "provider", c.provider, "attempt", attempt)
		}
		return fn(ctx)
	})
}

func (c *Client) serviceError(err error) error {
	return core.WrapKind(
		core.KindGenerationService,
		fmt.Sprintf("generation service %s/%s failed", c.provider, c.model),
		err,
	)
}

func (c *Client) response(content, finish string, usage Usage, chunks []knowledge.TextChunk) *Response {
	return &Response{
		ID:      "chatcmpl-" + uuid.NewString(),
		Object:  objectChatCompletion,
		Created: c.now().Unix(),
		Model:   c.model,
		Choices: []Choice{{
			Index:        0,
			Message:      Message{Role: roleAssistant, Content: content},
			FinishReason: finish,
		}},
		Usage:   usage,
		Sources: sourcesOf(chunks),
	}
}

func sourcesOf(chunks []knowledge.TextChunk) []Source {
	sources := make([]Source, 0, len(chunks))
	seen := make(map[Source]struct{}, len(chunks))
	for i := range chunks {
		meta := chunks[i].Metadata
		src := Source{FileName: meta.FileName, Page: meta.Page, Row: meta.Row}
		if _, ok := seen[src]; ok {
			continue
		}
		seen[src] = struct{}{}
		sources = append(sources, src)
	}
	return sources
}

func finishReason(stop string) string {
	stop = strings.ToLower(strings.TrimSpace(stop))
	switch stop {
	case "", "end_turn", "finishreasonstop":
		return finishStop
	case "max_tokens", "finishreasonmaxtokens":
		return "length"
	default:
		return stop
	}
}

// usageFromInfo reads token counts from provider generation info. OpenAI and
// Google report them under different keys.
func usageFromInfo(info map[string]any) Usage {
	usage := Usage{
		PromptTokens:     firstInt(info, "PromptTokens", "input_tokens"),
		CompletionTokens: firstInt(info, "CompletionTokens", "output_tokens"),
		TotalTokens:      firstInt(info, "TotalTokens", "total_tokens"),
	}
	if usage.TotalTokens == 0 {
		usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens
	}
	return usage
}

func firstInt(info map[string]any, keys ...string) int {
	for _, key := range keys {
		switch v := info[key].(type) {
		case int:
			return v
		case int32:
			return int(v)
		case int64:
			return int(v)
		case float64:
			return int(v)
		}
	}
	return 0
}
