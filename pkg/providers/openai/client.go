package openai

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/inercia/go-llmcore/pkg/llm"
)

// ModelAttribute represents a model attribute with its pattern and value
type ModelAttribute[T any] struct {
	Pattern *regexp.Regexp
	Value   T
}

var (
	// Tools support patterns - models that support function calling
	toolsSupport = []ModelAttribute[bool]{
		{regexp.MustCompile(`^gpt-4\.1(-mini|-nano)?`), true},
		{regexp.MustCompile(`^gpt-4o(-mini)?`), true},
		{regexp.MustCompile(`^gpt-4(-0613|-32k|-32k-0613)?$`), true},
		{regexp.MustCompile(`^gpt-4-turbo(-preview|-\d{4}-\d{2}-\d{2})?$`), true},
		{regexp.MustCompile(`^gpt-3\.5-turbo(-16k|-\d{4}-\d{2}-\d{2})?$`), true},
		{regexp.MustCompile(`^o[134](-mini)?`), true},
		{regexp.MustCompile(`.*`), false},
	}

	// Structured output patterns - models accepting a json_schema response format
	structuredSupport = []ModelAttribute[bool]{
		{regexp.MustCompile(`^gpt-4\.1`), true},
		{regexp.MustCompile(`^gpt-4o`), true},
		{regexp.MustCompile(`^o[134]`), true},
		{regexp.MustCompile(`.*`), false},
	}

	// Context length patterns - maximum tokens for different models
	contextLength = []ModelAttribute[int]{
		{regexp.MustCompile(`^gpt-4\.1`), 1047576},
		{regexp.MustCompile(`^o[134]`), 200000},
		{regexp.MustCompile(`^gpt-4o(-mini)?`), 128000},
		{regexp.MustCompile(`^gpt-4-turbo(-preview|-\d{4}-\d{2}-\d{2})?$`), 128000},
		{regexp.MustCompile(`^gpt-4-32k(-0613)?$`), 32768},
		{regexp.MustCompile(`^gpt-4(-0613)?$`), 8192},
		{regexp.MustCompile(`^gpt-3\.5-turbo-16k(-\d{4}-\d{2}-\d{2})?$`), 16384},
		{regexp.MustCompile(`^gpt-3\.5-turbo`), 4096},
		{regexp.MustCompile(`.*`), llm.DefaultContextWindow},
	}
)

// getModelAttribute returns the attribute value for a given model by matching against patterns
func getModelAttribute[T any](model string, attributes []ModelAttribute[T]) T {
	for _, attr := range attributes {
		if attr.Pattern.MatchString(model) {
			return attr.Value
		}
	}
	var zero T
	return zero
}

type options struct {
	completionMode bool
	defaults       llm.GenerationConfig
	metadata       func(*llm.Metadata)
	httpClient     openai.HTTPDoer
	logger         *slog.Logger
}

// Option configures a Client
type Option func(*options)

// WithCompletionMode binds the client to the legacy completions endpoint.
// Chat calls are then rendered to a single prompt.
func WithCompletionMode() Option {
	return func(o *options) { o.completionMode = true }
}

// WithGenerationConfig sets the defaults merged under every call
func WithGenerationConfig(cfg llm.GenerationConfig) Option {
	return func(o *options) { o.defaults = cfg.Clone() }
}

// WithMetadata edits the metadata guessed from the model name
func WithMetadata(fn func(*llm.Metadata)) Option {
	return func(o *options) { o.metadata = fn }
}

// WithHTTPClient replaces the HTTP client
func WithHTTPClient(c openai.HTTPDoer) Option {
	return func(o *options) { o.httpClient = c }
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// Client implements the llm.Client interface for OpenAI and compatible
// endpoints
type Client struct {
	client *openai.Client
	model  string

	completionMode bool
	defaults       llm.GenerationConfig
	metadata       llm.Metadata
	retry          llm.RetryConfig
	logger         *slog.Logger
}

// NewClient creates a new OpenAI client
func NewClient(config llm.ClientConfig, opts ...Option) (*Client, error) {
	if config.APIKey == "" {
		return nil, &llm.Error{
			Code:    "missing_api_key",
			Message: "API key is required for OpenAI",
			Type:    llm.ErrorTypeAuthentication,
		}
	}
	if config.Model == "" {
		config.Model = llm.DefaultOpenAIModel
	}

	o := options{}
	if config.ExtraBool(llm.ExtraCompletionMode) {
		o.completionMode = true
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	clientConfig := openai.DefaultConfig(config.APIKey)
	if config.BaseURL != "" {
		clientConfig.BaseURL = config.BaseURL
	}
	switch {
	case o.httpClient != nil:
		clientConfig.HTTPClient = o.httpClient
	case config.Timeout > 0:
		clientConfig.HTTPClient = &http.Client{Timeout: config.Timeout}
	}

	c := &Client{
		client:         openai.NewClientWithConfig(clientConfig),
		model:          config.Model,
		completionMode: o.completionMode,
		defaults:       o.defaults,
		logger:         o.logger.With("provider", "openai", "model", config.Model),
	}
	c.metadata = buildMetadata(config.Model, o)
	c.retry = llm.RetryConfig{
		MaxRetries:    config.MaxRetries,
		BaseDelay:     1 * time.Second,
		MaxDelay:      20 * time.Second,
		MaxElapsed:    60 * time.Second,
		BackoffFactor: 2.0,
		Jitter:        true,
		OnRetry: func(attempt int, err error, delay time.Duration) {
			c.logger.Warn("retrying openai call", "attempt", attempt, "delay", delay, "error", err)
		},
	}
	return c, nil
}

func buildMetadata(model string, o options) llm.Metadata {
	meta := llm.Metadata{
		ModelName:              model,
		ContextWindow:          getModelAttribute(model, contextLength),
		NumOutput:              llm.DefaultNumOutput,
		IsChatModel:            !o.completionMode,
		IsFunctionCallingModel: !o.completionMode && getModelAttribute(model, toolsSupport),
		NativeStructuredOutput: !o.completionMode && getModelAttribute(model, structuredSupport),
	}
	if o.metadata != nil {
		o.metadata(&meta)
	}
	return meta
}

// Metadata returns the limits and capabilities of the bound model
func (c *Client) Metadata() llm.Metadata {
	return c.metadata
}

func (c *Client) merged(call llm.CallOptions) (llm.GenerationConfig, error) {
	return c.defaults.Merge(call.GenerationConfig)
}

func (c *Client) createChat(ctx context.Context, req openai.ChatCompletionRequest) (*llm.ChatResponse, error) {
	return llm.Retry(ctx, c.retry, func(ctx context.Context) (*llm.ChatResponse, error) {
		c.logger.DebugContext(ctx, "create chat completion", "messages", len(req.Messages), "tools", len(req.Tools))
		resp, err := c.client.CreateChatCompletion(ctx, req)
		if err != nil {
			return nil, convertError(err)
		}
		return chatFromResponse(resp), nil
	})
}

func (c *Client) createChatStream(ctx context.Context, req openai.ChatCompletionRequest) (llm.ChatStream, error) {
	c.logger.DebugContext(ctx, "create chat completion stream", "messages", len(req.Messages), "tools", len(req.Tools))
	stream, err := c.client.CreateChatCompletionStream(ctx, req)
	if err != nil {
		return nil, convertError(err)
	}
	return newChatStream(stream), nil
}

// chatRequest builds a chat request from messages and the merged config
func (c *Client) chatRequest(messages []llm.Message, call llm.CallOptions) (openai.ChatCompletionRequest, error) {
	if len(messages) == 0 {
		return openai.ChatCompletionRequest{}, llm.ErrEmptyMessages
	}
	cfg, err := c.merged(call)
	if err != nil {
		return openai.ChatCompletionRequest{}, err
	}
	req := openai.ChatCompletionRequest{
		Model:    c.model,
		Messages: toChatMessages(messages),
	}
	applyChatConfig(&req, cfg)
	return req, nil
}

// Chat sends a conversation and returns the model reply. In completion mode
// the conversation is rendered to a single prompt.
func (c *Client) Chat(ctx context.Context, messages []llm.Message, opts ...llm.CallOption) (*llm.ChatResponse, error) {
	if c.completionMode {
		resp, err := c.Complete(ctx, llm.MessagesToPrompt(messages), opts...)
		if err != nil {
			return nil, err
		}
		return resp.ToChat(), nil
	}
	req, err := c.chatRequest(messages, llm.NewCallOptions(opts...))
	if err != nil {
		return nil, err
	}
	return c.createChat(ctx, req)
}

// StreamChat streams accumulated reply snapshots. It is never retried.
func (c *Client) StreamChat(ctx context.Context, messages []llm.Message, opts ...llm.CallOption) (llm.ChatStream, error) {
	if c.completionMode {
		s, err := c.StreamComplete(ctx, llm.MessagesToPrompt(messages), opts...)
		if err != nil {
			return nil, err
		}
		return llm.ChatStreamFromCompletion(s), nil
	}
	req, err := c.chatRequest(messages, llm.NewCallOptions(opts...))
	if err != nil {
		return nil, err
	}
	return c.createChatStream(ctx, req)
}

// completionRequest builds a request for the completions endpoint
func (c *Client) completionRequest(prompt string, call llm.CallOptions) (openai.CompletionRequest, error) {
	cfg, err := c.merged(call)
	if err != nil {
		return openai.CompletionRequest{}, err
	}
	req := openai.CompletionRequest{
		Model:  c.model,
		Prompt: prompt,
		Stop:   cfg.StopSequences,
	}
	if cfg.Temperature != nil {
		req.Temperature = *cfg.Temperature
	}
	if cfg.TopP != nil {
		req.TopP = *cfg.TopP
	}
	if cfg.MaxOutputTokens != nil {
		req.MaxTokens = int(*cfg.MaxOutputTokens)
	}
	if seed, ok := intExtra(cfg.Extra, "seed"); ok {
		req.Seed = &seed
	}
	return req, nil
}

// Complete sends prompt to the completions endpoint, or as a single user
// turn when the client is in chat mode
func (c *Client) Complete(ctx context.Context, prompt string, opts ...llm.CallOption) (*llm.CompletionResponse, error) {
	if !c.completionMode {
		resp, err := c.Chat(ctx, llm.CompletionMessages(prompt), opts...)
		if err != nil {
			return nil, err
		}
		return resp.ToCompletion(), nil
	}

	req, err := c.completionRequest(prompt, llm.NewCallOptions(opts...))
	if err != nil {
		return nil, err
	}
	return llm.Retry(ctx, c.retry, func(ctx context.Context) (*llm.CompletionResponse, error) {
		c.logger.DebugContext(ctx, "create completion", "prompt_length", len(prompt))
		resp, err := c.client.CreateCompletion(ctx, req)
		if err != nil {
			return nil, convertError(err)
		}
		return completionFromResponse(resp), nil
	})
}

// StreamComplete streams accumulated completion snapshots
func (c *Client) StreamComplete(ctx context.Context, prompt string, opts ...llm.CallOption) (llm.CompletionStream, error) {
	if !c.completionMode {
		s, err := c.StreamChat(ctx, llm.CompletionMessages(prompt), opts...)
		if err != nil {
			return nil, err
		}
		return llm.CompletionStreamFromChat(s), nil
	}

	req, err := c.completionRequest(prompt, llm.NewCallOptions(opts...))
	if err != nil {
		return nil, err
	}
	c.logger.DebugContext(ctx, "create completion stream", "prompt_length", len(prompt))
	stream, err := c.client.CreateCompletionStream(ctx, req)
	if err != nil {
		return nil, convertError(err)
	}
	return newCompletionStream(stream), nil
}

// StructuredChat constrains the reply with a json_schema response format
func (c *Client) StructuredChat(ctx context.Context, messages []llm.Message, schema llm.ResponseSchema, opts ...llm.CallOption) (*llm.ChatResponse, error) {
	req, err := c.structuredRequest(messages, schema, llm.NewCallOptions(opts...))
	if err != nil {
		return nil, err
	}
	return c.createChat(ctx, req)
}

// StreamStructuredChat streams a JSON reply matching schema
func (c *Client) StreamStructuredChat(ctx context.Context, messages []llm.Message, schema llm.ResponseSchema, opts ...llm.CallOption) (llm.ChatStream, error) {
	req, err := c.structuredRequest(messages, schema, llm.NewCallOptions(opts...))
	if err != nil {
		return nil, err
	}
	return c.createChatStream(ctx, req)
}

func (c *Client) structuredRequest(messages []llm.Message, schema llm.ResponseSchema, call llm.CallOptions) (openai.ChatCompletionRequest, error) {
	if c.completionMode {
		return openai.ChatCompletionRequest{}, llm.ErrNotSupported.WithDetail("structured output needs a chat model, %s is bound to the completions endpoint", c.model)
	}
	req, err := c.chatRequest(messages, call)
	if err != nil {
		return req, err
	}
	format, err := responseFormat(schema)
	if err != nil {
		return req, err
	}
	req.ResponseFormat = format
	return req, nil
}

// Close cleans up any resources used by the client
func (c *Client) Close() error {
	// OpenAI client doesn't require explicit cleanup
	return nil
}
