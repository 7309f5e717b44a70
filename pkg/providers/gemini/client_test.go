package gemini

import (
	"context"
	"errors"
	"iter"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"github.com/inercia/go-llmcore/pkg/llm"
)

// fakeBackend scripts genai answers and records requests
type fakeBackend struct {
	mu        sync.Mutex
	model     *genai.Model
	responses []*genai.GenerateContentResponse
	errs      []error
	frames    []*genai.GenerateContentResponse
	streamErr error

	requests []*genai.GenerateContentConfig
	contents [][]*genai.Content
	stopped  atomic.Bool
}

func (f *fakeBackend) record(contents []*genai.Content, config *genai.GenerateContentConfig) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, config)
	f.contents = append(f.contents, contents)
}

func (f *fakeBackend) GenerateContent(_ context.Context, _ string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	f.record(contents, config)
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		return nil, err
	}
	if len(f.responses) == 0 {
		return textResponse("default"), nil
	}
	resp := f.responses[0]
	f.responses = f.responses[1:]
	return resp, nil
}

func (f *fakeBackend) GenerateContentStream(_ context.Context, _ string, contents []*genai.Content, config *genai.GenerateContentConfig) iter.Seq2[*genai.GenerateContentResponse, error] {
	f.record(contents, config)
	return func(yield func(*genai.GenerateContentResponse, error) bool) {
		for _, fr := range f.frames {
			if !yield(fr, nil) {
				f.stopped.Store(true)
				return
			}
		}
		if f.streamErr != nil {
			yield(nil, f.streamErr)
		}
	}
}

func (f *fakeBackend) Get(context.Context, string, *genai.GetModelConfig) (*genai.Model, error) {
	if f.model == nil {
		return &genai.Model{}, nil
	}
	return f.model, nil
}

func (f *fakeBackend) lastConfig() *genai.GenerateContentConfig {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[len(f.requests)-1]
}

func (f *fakeBackend) lastContents() []*genai.Content {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.contents[len(f.contents)-1]
}

func textResponse(parts ...string) *genai.GenerateContentResponse {
	content := &genai.Content{Role: genai.RoleModel}
	for _, p := range parts {
		content.Parts = append(content.Parts, &genai.Part{Text: p})
	}
	return &genai.GenerateContentResponse{Candidates: []*genai.Candidate{{Content: content}}}
}

func newTestClient(t *testing.T, backend *fakeBackend, opts ...Option) *Client {
	t.Helper()
	c, err := NewClient(context.Background(), llm.ClientConfig{Model: "gemini-test"}, append([]Option{WithBackend(backend)}, opts...)...)
	require.NoError(t, err)
	return c
}

func TestNewClient_Metadata(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{model: &genai.Model{InputTokenLimit: 1000, OutputTokenLimit: 200}}
	meta := newTestClient(t, backend).Metadata()
	assert.Equal(t, "gemini-test", meta.ModelName)
	assert.Equal(t, 1200, meta.ContextWindow)
	assert.Equal(t, 200, meta.NumOutput)
	assert.True(t, meta.IsChatModel)
	assert.True(t, meta.IsFunctionCallingModel)
	assert.True(t, meta.NativeStructuredOutput)

	meta = newTestClient(t, &fakeBackend{}, WithMaxTokens(50), WithFunctionCalling(false)).Metadata()
	assert.Equal(t, 50, meta.NumOutput)
	assert.Equal(t, defaultInputTokenLimit+50, meta.ContextWindow)
	assert.False(t, meta.IsFunctionCallingModel)

	meta = newTestClient(t, &fakeBackend{}, WithContextWindow(4096)).Metadata()
	assert.Equal(t, 4096, meta.ContextWindow)
}

func TestNewClient_RequiresKey(t *testing.T) {
	t.Parallel()

	_, err := NewClient(context.Background(), llm.ClientConfig{Model: "gemini-test"})
	var llmErr *llm.Error
	require.ErrorAs(t, err, &llmErr)
	assert.Equal(t, "missing_api_key", llmErr.Code)
}

func TestChat(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	resp := textResponse("thinking...", "Hello")
	resp.Candidates[0].Content.Parts[0].Thought = true
	resp.ResponseID = "r-1"
	resp.UsageMetadata = &genai.GenerateContentResponseUsageMetadata{PromptTokenCount: 3, CandidatesTokenCount: 2, TotalTokenCount: 5}

	backend := &fakeBackend{responses: []*genai.GenerateContentResponse{resp}}
	c := newTestClient(t, backend)

	out, err := c.Chat(ctx, []llm.Message{
		llm.NewTextMessage(llm.RoleSystem, "Be brief."),
		llm.NewTextMessage(llm.RoleUser, "hi"),
		llm.NewTextMessage(llm.RoleUser, "again"),
	}, llm.WithTemperature(0.5))
	require.NoError(t, err)

	assert.Equal(t, "r-1", out.ID)
	assert.Equal(t, "Hello", out.Message.Content)
	assert.Equal(t, "thinking...", out.Message.Extras.Thoughts)
	assert.Empty(t, out.Delta)
	assert.Equal(t, &llm.Usage{PromptTokens: 3, CompletionTokens: 2, TotalTokens: 5}, out.Usage)

	contents := backend.lastContents()
	require.Len(t, contents, 1, "consecutive user turns are merged")
	assert.Len(t, contents[0].Parts, 2)

	cfg := backend.lastConfig()
	require.NotNil(t, cfg.SystemInstruction)
	assert.Equal(t, "Be brief.", cfg.SystemInstruction.Parts[0].Text)
	require.NotNil(t, cfg.Temperature)
	assert.Equal(t, float32(0.5), *cfg.Temperature)
}

func TestChat_DefaultTemperature(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{}
	c := newTestClient(t, backend)
	_, err := c.Complete(context.Background(), "hello")
	require.NoError(t, err)

	cfg := backend.lastConfig()
	require.NotNil(t, cfg.Temperature)
	assert.Equal(t, float32(DefaultTemperature), *cfg.Temperature)
	assert.Equal(t, genai.RoleUser, backend.lastContents()[0].Role)
}

func TestChat_EmptyMessages(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{}
	_, err := newTestClient(t, backend).Chat(context.Background(), []llm.Message{llm.NewTextMessage(llm.RoleSystem, "only system")})
	assert.ErrorIs(t, err, llm.ErrEmptyMessages)
	assert.Empty(t, backend.requests)
}

func TestChat_ToolMessages(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{}
	c := newTestClient(t, backend)

	_, err := c.Chat(context.Background(), []llm.Message{
		llm.NewTextMessage(llm.RoleUser, "add 1 and 2"),
		{Role: llm.RoleAssistant, Extras: llm.Extras{ToolCalls: []llm.ToolCall{{ID: "c1", Name: "add", Args: map[string]any{"a": 1, "b": 2}}}}},
		llm.NewToolResultMessage("c1", "add", "3"),
	})
	require.NoError(t, err)

	contents := backend.lastContents()
	require.Len(t, contents, 3)
	assert.Equal(t, genai.RoleModel, contents[1].Role)
	require.NotNil(t, contents[1].Parts[0].FunctionCall)
	assert.Equal(t, "add", contents[1].Parts[0].FunctionCall.Name)

	fr := contents[2].Parts[0].FunctionResponse
	require.NotNil(t, fr)
	assert.Equal(t, "add", fr.Name)
	assert.Equal(t, map[string]any{"output": "3"}, fr.Response)
}

func TestChat_RetriesRateLimits(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{errs: []error{genai.APIError{Code: 429, Message: "quota", Status: "RESOURCE_EXHAUSTED"}}}
	c, err := NewClient(context.Background(), llm.ClientConfig{Model: "gemini-test", MaxRetries: 1}, WithBackend(backend))
	require.NoError(t, err)

	out, err := c.Chat(context.Background(), []llm.Message{llm.NewTextMessage(llm.RoleUser, "hi")})
	require.NoError(t, err)
	assert.Equal(t, "default", out.Message.Content)
	assert.Len(t, backend.requests, 2)
}

func TestChat_ErrorConversion(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{errs: []error{genai.APIError{Code: 403, Message: "denied", Status: "PERMISSION_DENIED"}}}
	_, err := newTestClient(t, backend).Chat(context.Background(), []llm.Message{llm.NewTextMessage(llm.RoleUser, "hi")})

	var llmErr *llm.Error
	require.ErrorAs(t, err, &llmErr)
	assert.Equal(t, "PERMISSION_DENIED", llmErr.Code)
	assert.Equal(t, llm.ErrorTypeAuthentication, llmErr.Type)
	assert.Equal(t, 403, llmErr.StatusCode)
	assert.Len(t, backend.requests, 1)
}

func TestConvertError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		err      error
		wantType string
	}{
		{"server", genai.APIError{Code: 503}, llm.ErrorTypeServer},
		{"deadline", context.DeadlineExceeded, llm.ErrorTypeTimeout},
		{"rate limit text", errors.New("got 429 from upstream"), llm.ErrorTypeRateLimit},
		{"api key text", errors.New("API key not valid"), llm.ErrorTypeAuthentication},
		{"other", errors.New("boom"), llm.ErrorTypeAPI},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var llmErr *llm.Error
			require.ErrorAs(t, convertError(tt.err), &llmErr)
			assert.Equal(t, tt.wantType, llmErr.Type)
		})
	}

	assert.ErrorIs(t, convertError(context.Canceled), context.Canceled)
	assert.Nil(t, convertError(nil))
}

func TestStreamChat(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{frames: []*genai.GenerateContentResponse{
		textResponse("Hel"),
		{},
		textResponse("lo"),
	}}
	s, err := newTestClient(t, backend).StreamChat(context.Background(), []llm.Message{llm.NewTextMessage(llm.RoleUser, "hi")})
	require.NoError(t, err)

	snapshots, err := llm.Collect(s)
	require.NoError(t, err)
	require.Len(t, snapshots, 2, "frames without candidates are skipped")
	assert.Equal(t, "Hel", snapshots[0].Delta)
	assert.Equal(t, "Hello", snapshots[1].Message.Content)
	assert.Equal(t, "lo", snapshots[1].Delta)
	assert.Equal(t, snapshots[0].ID, snapshots[1].ID)
}

func TestStreamChat_CloseStopsBackend(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{frames: []*genai.GenerateContentResponse{textResponse("a"), textResponse("b"), textResponse("c")}}
	s, err := newTestClient(t, backend).StreamChat(context.Background(), []llm.Message{llm.NewTextMessage(llm.RoleUser, "hi")})
	require.NoError(t, err)

	_, err = s.Next()
	require.NoError(t, err)
	require.NoError(t, s.Close())
	assert.True(t, backend.stopped.Load())
}

func TestStreamChat_Error(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{
		frames:    []*genai.GenerateContentResponse{textResponse("partial")},
		streamErr: genai.APIError{Code: 500, Message: "internal"},
	}
	s, err := newTestClient(t, backend).StreamChat(context.Background(), []llm.Message{llm.NewTextMessage(llm.RoleUser, "hi")})
	require.NoError(t, err)

	snapshots, err := llm.Collect(s)
	assert.Len(t, snapshots, 1)
	var llmErr *llm.Error
	require.ErrorAs(t, err, &llmErr)
	assert.Equal(t, llm.ErrorTypeServer, llmErr.Type)
}

func TestStructuredChat(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{responses: []*genai.GenerateContentResponse{textResponse(`{"name": "Oslo"}`)}}
	c := newTestClient(t, backend)
	schema := llm.ResponseSchema{Name: "city", Schema: map[string]any{"type": "object"}}

	out, err := c.StructuredChat(context.Background(), []llm.Message{llm.NewTextMessage(llm.RoleUser, "Oslo?")}, schema)
	require.NoError(t, err)
	assert.Equal(t, `{"name": "Oslo"}`, out.Message.Content)

	cfg := backend.lastConfig()
	assert.Equal(t, "application/json", cfg.ResponseMIMEType)
	assert.Equal(t, map[string]any{"type": "object"}, cfg.ResponseJsonSchema)
}

func TestGenerationConfigExtras(t *testing.T) {
	t.Parallel()

	cfg := toGenaiConfig(llm.GenerationConfig{
		MaxOutputTokens: llm.Ptr[int32](64),
		Extra:           map[string]any{"seed": 7, "thinking_budget": 128},
	})
	assert.Equal(t, int32(64), cfg.MaxOutputTokens)
	require.NotNil(t, cfg.Seed)
	assert.Equal(t, int32(7), *cfg.Seed)
	require.NotNil(t, cfg.ThinkingConfig)
	assert.True(t, cfg.ThinkingConfig.IncludeThoughts)
	assert.Equal(t, int32(128), *cfg.ThinkingConfig.ThinkingBudget)
}
