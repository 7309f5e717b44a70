package mock

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/inercia/go-llmcore/pkg/llm"
)

// Call records one primitive invocation
type Call struct {
	Method   string
	Messages []llm.Message
	Prompt   string
	Tools    []string
	Schema   *llm.ResponseSchema
	Options  llm.CallOptions
}

// Client implements the llm.Client interface for testing. Errors queued with
// WithError are returned first, then responses queued with the other
// builders, then a generated echo of the last user message.
type Client struct {
	mu sync.Mutex

	metadata  llm.Metadata
	responses []*llm.ChatResponse
	errors    []error
	streams   [][]llm.Fragment
	calls     []Call
	latency   time.Duration

	openedStreams int
	closedStreams int
}

// NewClient creates a new mock LLM client for testing
func NewClient(modelName string) *Client {
	meta := llm.DefaultMetadata(modelName)
	meta.IsFunctionCallingModel = true
	return &Client{metadata: meta}
}

// WithMetadata edits the reported metadata
func (m *Client) WithMetadata(fn func(*llm.Metadata)) *Client {
	m.mu.Lock()
	defer m.mu.Unlock()
	fn(&m.metadata)
	return m
}

// WithCompletionMode reports a completion-only model
func (m *Client) WithCompletionMode() *Client {
	return m.WithMetadata(func(md *llm.Metadata) {
		md.IsChatModel = false
		md.IsFunctionCallingModel = false
	})
}

// WithNativeStructuredOutput reports schema-constrained output support
func (m *Client) WithNativeStructuredOutput() *Client {
	return m.WithMetadata(func(md *llm.Metadata) { md.NativeStructuredOutput = true })
}

// WithFunctionCalling sets whether native tool calling is reported
func (m *Client) WithFunctionCalling(enabled bool) *Client {
	return m.WithMetadata(func(md *llm.Metadata) { md.IsFunctionCallingModel = enabled })
}

// WithResponse queues a full response
func (m *Client) WithResponse(resp *llm.ChatResponse) *Client {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses = append(m.responses, resp)
	return m
}

// WithSimpleResponse queues a text answer
func (m *Client) WithSimpleResponse(content string) *Client {
	return m.WithResponse(&llm.ChatResponse{
		ID:      "mock-" + uuid.NewString(),
		Message: llm.NewTextMessage(llm.RoleAssistant, content),
	})
}

// WithToolCall queues an answer requesting one tool call per given call
func (m *Client) WithToolCall(calls ...llm.ToolCall) *Client {
	msg := llm.Message{Role: llm.RoleAssistant, Extras: llm.Extras{ToolCalls: calls}}
	return m.WithResponse(&llm.ChatResponse{ID: "mock-" + uuid.NewString(), Message: msg})
}

// WithError queues an error
func (m *Client) WithError(err error) *Client {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors = append(m.errors, err)
	return m
}

// WithStream queues the raw fragments of one stream
func (m *Client) WithStream(fragments ...llm.Fragment) *Client {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.streams = append(m.streams, fragments)
	return m
}

// WithStreamText queues a stream yielding each chunk as one text fragment
func (m *Client) WithStreamText(chunks ...string) *Client {
	fragments := make([]llm.Fragment, 0, len(chunks))
	for _, c := range chunks {
		fragments = append(fragments, llm.Fragment{Parts: []llm.FragmentPart{{Text: c}}})
	}
	return m.WithStream(fragments...)
}

// WithLatency delays every call
func (m *Client) WithLatency(d time.Duration) *Client {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.latency = d
	return m
}

// Calls returns the recorded calls
func (m *Client) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Call(nil), m.calls...)
}

// CallCount returns the number of recorded calls
func (m *Client) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// LastCall returns the most recent call, or nil
func (m *Client) LastCall() *Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.calls) == 0 {
		return nil
	}
	c := m.calls[len(m.calls)-1]
	return &c
}

// StreamsOpened and StreamsClosed count stream lifecycles
func (m *Client) StreamsOpened() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.openedStreams
}

func (m *Client) StreamsClosed() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closedStreams
}

// Reset clears queued answers and the call log
func (m *Client) Reset() *Client {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses = nil
	m.errors = nil
	m.streams = nil
	m.calls = nil
	m.openedStreams = 0
	m.closedStreams = 0
	return m
}

// record logs the call and waits for the simulated latency
func (m *Client) record(ctx context.Context, c Call) error {
	m.mu.Lock()
	c.Messages = llm.CloneMessages(c.Messages)
	m.calls = append(m.calls, c)
	latency := m.latency
	m.mu.Unlock()

	if latency > 0 {
		select {
		case <-time.After(latency):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return ctx.Err()
}

// next pops the next scripted answer
func (m *Client) next(c Call) (*llm.ChatResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.errors) > 0 {
		err := m.errors[0]
		m.errors = m.errors[1:]
		return nil, err
	}
	if len(m.responses) > 0 {
		resp := m.responses[0]
		m.responses = m.responses[1:]
		cp := *resp
		cp.Message = resp.Message.Clone()
		return &cp, nil
	}
	return generateResponse(c), nil
}

func generateResponse(c Call) *llm.ChatResponse {
	input := c.Prompt
	for i := len(c.Messages) - 1; i >= 0; i-- {
		if c.Messages[i].Role == llm.RoleUser {
			input = c.Messages[i].Content
			break
		}
	}
	return &llm.ChatResponse{
		ID:      "mock-" + uuid.NewString(),
		Message: llm.NewTextMessage(llm.RoleAssistant, fmt.Sprintf("Mock response to: %s", input)),
	}
}

func (m *Client) call(ctx context.Context, c Call) (*llm.ChatResponse, error) {
	if err := m.record(ctx, c); err != nil {
		return nil, err
	}
	return m.next(c)
}

// stream builds a stream from queued fragments, or splits the next scripted
// answer word by word
func (m *Client) stream(ctx context.Context, c Call) (llm.ChatStream, error) {
	if err := m.record(ctx, c); err != nil {
		return nil, err
	}

	m.mu.Lock()
	var fragments []llm.Fragment
	queued := len(m.streams) > 0 && len(m.errors) == 0
	if queued {
		fragments = m.streams[0]
		m.streams = m.streams[1:]
	}
	m.mu.Unlock()

	if !queued {
		resp, err := m.next(c)
		if err != nil {
			return nil, err
		}
		fragments = fragmentsOf(resp)
	}

	m.mu.Lock()
	m.openedStreams++
	m.mu.Unlock()

	acc := llm.NewStreamAccumulator()
	i := 0
	return llm.NewStream(func() (*llm.ChatResponse, error) {
		for i < len(fragments) {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			f := fragments[i]
			i++
			if snapshot, ok := acc.Add(f); ok {
				return snapshot, nil
			}
		}
		return nil, io.EOF
	}, func() error {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.closedStreams++
		return nil
	}), nil
}

func fragmentsOf(resp *llm.ChatResponse) []llm.Fragment {
	var fragments []llm.Fragment
	if t := resp.Message.Extras.Thoughts; t != "" {
		fragments = append(fragments, llm.Fragment{Parts: []llm.FragmentPart{{Text: t, Thought: true}}})
	}
	words := strings.SplitAfter(resp.Message.Content, " ")
	for _, w := range words {
		if w != "" {
			fragments = append(fragments, llm.Fragment{Parts: []llm.FragmentPart{{Text: w}}})
		}
	}
	if calls := resp.Message.Extras.ToolCalls; len(calls) > 0 {
		fragments = append(fragments, llm.Fragment{ToolCalls: calls})
	}
	return fragments
}

func toolNames(tools []llm.Tool) []string {
	names := make([]string, 0, len(tools))
	for _, t := range tools {
		names = append(names, t.Metadata().Name)
	}
	return names
}

func (m *Client) Metadata() llm.Metadata {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.metadata
}

func (m *Client) Chat(ctx context.Context, messages []llm.Message, opts ...llm.CallOption) (*llm.ChatResponse, error) {
	return m.call(ctx, Call{Method: "Chat", Messages: messages, Options: llm.NewCallOptions(opts...)})
}

func (m *Client) Complete(ctx context.Context, prompt string, opts ...llm.CallOption) (*llm.CompletionResponse, error) {
	resp, err := m.call(ctx, Call{Method: "Complete", Prompt: prompt, Options: llm.NewCallOptions(opts...)})
	if err != nil {
		return nil, err
	}
	return resp.ToCompletion(), nil
}

func (m *Client) StreamChat(ctx context.Context, messages []llm.Message, opts ...llm.CallOption) (llm.ChatStream, error) {
	return m.stream(ctx, Call{Method: "StreamChat", Messages: messages, Options: llm.NewCallOptions(opts...)})
}

func (m *Client) StreamComplete(ctx context.Context, prompt string, opts ...llm.CallOption) (llm.CompletionStream, error) {
	s, err := m.stream(ctx, Call{Method: "StreamComplete", Prompt: prompt, Options: llm.NewCallOptions(opts...)})
	if err != nil {
		return nil, err
	}
	return llm.CompletionStreamFromChat(s), nil
}

func (m *Client) ChatWithTools(ctx context.Context, tools []llm.Tool, messages []llm.Message, opts ...llm.CallOption) (*llm.ChatResponse, error) {
	return m.call(ctx, Call{Method: "ChatWithTools", Messages: messages, Tools: toolNames(tools), Options: llm.NewCallOptions(opts...)})
}

func (m *Client) StreamChatWithTools(ctx context.Context, tools []llm.Tool, messages []llm.Message, opts ...llm.CallOption) (llm.ChatStream, error) {
	return m.stream(ctx, Call{Method: "StreamChatWithTools", Messages: messages, Tools: toolNames(tools), Options: llm.NewCallOptions(opts...)})
}

func (m *Client) ToolCallsFromResponse(resp *llm.ChatResponse, errorOnNoToolCall bool) ([]llm.ToolSelection, error) {
	return llm.ToolSelectionsFromResponse(resp, errorOnNoToolCall)
}

func (m *Client) StructuredChat(ctx context.Context, messages []llm.Message, schema llm.ResponseSchema, opts ...llm.CallOption) (*llm.ChatResponse, error) {
	return m.call(ctx, Call{Method: "StructuredChat", Messages: messages, Schema: &schema, Options: llm.NewCallOptions(opts...)})
}

func (m *Client) StreamStructuredChat(ctx context.Context, messages []llm.Message, schema llm.ResponseSchema, opts ...llm.CallOption) (llm.ChatStream, error) {
	return m.stream(ctx, Call{Method: "StreamStructuredChat", Messages: messages, Schema: &schema, Options: llm.NewCallOptions(opts...)})
}

func (m *Client) Close() error {
	return nil
}
