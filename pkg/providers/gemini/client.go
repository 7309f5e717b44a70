package gemini

import (
	"context"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"time"

	"google.golang.org/genai"

	"github.com/inercia/go-llmcore/pkg/llm"
)

// Backend is the part of the genai models service the client uses.
// *genai.Models satisfies it.
type Backend interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
	GenerateContentStream(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) iter.Seq2[*genai.GenerateContentResponse, error]
	Get(ctx context.Context, model string, config *genai.GetModelConfig) (*genai.Model, error)
}

// Client implements llm.Client over the Gemini API
type Client struct {
	model   string
	backend Backend

	defaults    llm.GenerationConfig
	builtInTool *genai.Tool

	metadata llm.Metadata
	retry    llm.RetryConfig
	logger   *slog.Logger
}

// NewClient creates a new Gemini client using the official Google Gen AI
// library. The model's token limits are fetched once, here.
func NewClient(ctx context.Context, config llm.ClientConfig, opts ...Option) (*Client, error) {
	o := options{temperature: DefaultTemperature, isFunctionCallingModel: true}
	for _, opt := range append(optionsFromConfig(config), opts...) {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if config.Model == "" {
		config.Model = llm.DefaultGeminiModel
	}

	if o.backend == nil {
		backend, err := newGenaiBackend(ctx, config, o)
		if err != nil {
			return nil, err
		}
		o.backend = backend
	}

	info, err := o.backend.Get(ctx, config.Model, nil)
	if err != nil {
		return nil, convertError(err)
	}

	c := &Client{
		model:       config.Model,
		backend:     o.backend,
		builtInTool: o.builtInTool,
		logger:      o.logger.With("provider", "gemini", "model", config.Model),
	}
	c.metadata = buildMetadata(config.Model, info, o)
	c.defaults = defaultGenerationConfig(o)
	c.retry = llm.RetryConfig{
		MaxRetries:    config.MaxRetries,
		BaseDelay:     1 * time.Second,
		MaxDelay:      20 * time.Second,
		MaxElapsed:    60 * time.Second,
		BackoffFactor: 2.0,
		Jitter:        true,
		OnRetry: func(attempt int, err error, delay time.Duration) {
			c.logger.Warn("retrying gemini call", "attempt", attempt, "delay", delay, "error", err)
		},
	}

	return c, nil
}

func newGenaiBackend(ctx context.Context, config llm.ClientConfig, o options) (Backend, error) {
	cc := &genai.ClientConfig{
		APIKey:  config.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if o.vertexAI {
		cc.Backend = genai.BackendVertexAI
		cc.Project = o.project
		cc.Location = o.location
	} else if config.APIKey == "" {
		return nil, &llm.Error{Code: "missing_api_key", Message: "API key is required for Gemini", Type: llm.ErrorTypeAuthentication}
	}
	if config.BaseURL != "" {
		cc.HTTPOptions.BaseURL = config.BaseURL
	}
	if config.Timeout > 0 {
		timeout := config.Timeout
		cc.HTTPOptions.Timeout = &timeout
	}

	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, &llm.Error{
			Code:    "client_creation_error",
			Message: fmt.Sprintf("Failed to create genai client: %v", err),
			Type:    llm.ErrorTypeInternal,
			Err:     err,
		}
	}
	return client.Models, nil
}

func buildMetadata(model string, info *genai.Model, o options) llm.Metadata {
	var inputLimit, outputLimit int
	if info != nil {
		inputLimit = int(info.InputTokenLimit)
		outputLimit = int(info.OutputTokenLimit)
	}

	maxTokens := o.maxTokens
	if maxTokens <= 0 {
		maxTokens = outputLimit
	}
	if maxTokens <= 0 {
		maxTokens = llm.DefaultNumOutput
	}

	contextWindow := o.contextWindow
	if contextWindow <= 0 {
		if inputLimit <= 0 {
			inputLimit = defaultInputTokenLimit
		}
		contextWindow = inputLimit + maxTokens
	}

	return llm.Metadata{
		ModelName:              model,
		ContextWindow:          contextWindow,
		NumOutput:              maxTokens,
		IsChatModel:            true,
		IsFunctionCallingModel: o.isFunctionCallingModel,
		NativeStructuredOutput: true,
	}
}

func defaultGenerationConfig(o options) llm.GenerationConfig {
	var cfg llm.GenerationConfig
	if o.generationConfig != nil {
		cfg = o.generationConfig.Clone()
	} else {
		cfg.Temperature = llm.Ptr(o.temperature)
		if o.maxTokens > 0 {
			cfg.MaxOutputTokens = llm.Ptr(int32(min(o.maxTokens, 1<<31-1)))
		}
	}
	if cfg.CachedContent == "" {
		cfg.CachedContent = o.cachedContent
	}
	return cfg
}

// Metadata returns the limits and capabilities of the bound model
func (c *Client) Metadata() llm.Metadata {
	return c.metadata
}

// request is one prepared generate call
type request struct {
	contents []*genai.Content
	config   *genai.GenerateContentConfig
}

// prepare converts messages and merges per-call options over the defaults
func (c *Client) prepare(messages []llm.Message, call llm.CallOptions, overrides ...llm.GenerationConfig) (*request, error) {
	contents, system, err := toContents(messages)
	if err != nil {
		return nil, err
	}
	merged, err := c.defaults.Merge(append([]llm.GenerationConfig{call.GenerationConfig}, overrides...)...)
	if err != nil {
		return nil, err
	}
	cfg := toGenaiConfig(merged)
	cfg.SystemInstruction = system
	if c.builtInTool != nil {
		cfg.Tools = []*genai.Tool{c.builtInTool}
	}
	return &request{contents: contents, config: cfg}, nil
}

func (c *Client) generate(ctx context.Context, req *request) (*llm.ChatResponse, error) {
	return llm.Retry(ctx, c.retry, func(ctx context.Context) (*llm.ChatResponse, error) {
		c.logger.DebugContext(ctx, "generate content", "contents", len(req.contents))
		resp, err := c.backend.GenerateContent(ctx, c.model, req.contents, req.config)
		if err != nil {
			return nil, convertError(err)
		}
		return chatFromResponse(resp), nil
	})
}

func (c *Client) generateStream(ctx context.Context, req *request) llm.ChatStream {
	c.logger.DebugContext(ctx, "stream content", "contents", len(req.contents))
	return newChatStream(c.backend.GenerateContentStream(ctx, c.model, req.contents, req.config))
}

// Chat sends a conversation and returns the model reply
func (c *Client) Chat(ctx context.Context, messages []llm.Message, opts ...llm.CallOption) (*llm.ChatResponse, error) {
	req, err := c.prepare(messages, llm.NewCallOptions(opts...))
	if err != nil {
		return nil, err
	}
	return c.generate(ctx, req)
}

// Complete sends prompt as a single user turn
func (c *Client) Complete(ctx context.Context, prompt string, opts ...llm.CallOption) (*llm.CompletionResponse, error) {
	resp, err := c.Chat(ctx, llm.CompletionMessages(prompt), opts...)
	if err != nil {
		return nil, err
	}
	return resp.ToCompletion(), nil
}

// StreamChat streams accumulated reply snapshots. It is never retried.
func (c *Client) StreamChat(ctx context.Context, messages []llm.Message, opts ...llm.CallOption) (llm.ChatStream, error) {
	req, err := c.prepare(messages, llm.NewCallOptions(opts...))
	if err != nil {
		return nil, err
	}
	return c.generateStream(ctx, req), nil
}

// StreamComplete streams a completion of prompt
func (c *Client) StreamComplete(ctx context.Context, prompt string, opts ...llm.CallOption) (llm.CompletionStream, error) {
	s, err := c.StreamChat(ctx, llm.CompletionMessages(prompt), opts...)
	if err != nil {
		return nil, err
	}
	return llm.CompletionStreamFromChat(s), nil
}

// StructuredChat constrains the reply to JSON matching schema
func (c *Client) StructuredChat(ctx context.Context, messages []llm.Message, schema llm.ResponseSchema, opts ...llm.CallOption) (*llm.ChatResponse, error) {
	req, err := c.prepare(messages, llm.NewCallOptions(opts...), jsonOutput(schema))
	if err != nil {
		return nil, err
	}
	return c.generate(ctx, req)
}

// StreamStructuredChat streams a JSON reply matching schema
func (c *Client) StreamStructuredChat(ctx context.Context, messages []llm.Message, schema llm.ResponseSchema, opts ...llm.CallOption) (llm.ChatStream, error) {
	req, err := c.prepare(messages, llm.NewCallOptions(opts...), jsonOutput(schema))
	if err != nil {
		return nil, err
	}
	return c.generateStream(ctx, req), nil
}

func jsonOutput(schema llm.ResponseSchema) llm.GenerationConfig {
	return llm.GenerationConfig{
		ResponseMIMEType: "application/json",
		ResponseSchema:   schema.Schema,
	}
}

func (c *Client) Close() error {
	// The genai client doesn't provide a Close method, so we don't need to do anything
	return nil
}
