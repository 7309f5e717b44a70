// Client interface implemented by provider adapters
package llm

import (
	"context"
)

// Client defines the primitives every provider adapter implements. The
// orchestration in LLM is built on top of these.
//
// Non-streaming calls apply the adapter's retry policy. Streaming calls are
// never retried; their streams must be closed by the caller.
type Client interface {
	// Metadata returns the limits and capabilities of the bound model
	Metadata() Metadata

	// Chat sends a conversation and returns the assistant reply
	Chat(ctx context.Context, messages []Message, opts ...CallOption) (*ChatResponse, error)

	// Complete sends a single prompt, already fully formatted
	Complete(ctx context.Context, prompt string, opts ...CallOption) (*CompletionResponse, error)

	// StreamChat streams accumulated reply snapshots
	StreamChat(ctx context.Context, messages []Message, opts ...CallOption) (ChatStream, error)

	// StreamComplete streams accumulated completion snapshots
	StreamComplete(ctx context.Context, prompt string, opts ...CallOption) (CompletionStream, error)

	// ChatWithTools offers tools to the model alongside the conversation
	ChatWithTools(ctx context.Context, tools []Tool, messages []Message, opts ...CallOption) (*ChatResponse, error)

	// StreamChatWithTools is the streaming variant of ChatWithTools
	StreamChatWithTools(ctx context.Context, tools []Tool, messages []Message, opts ...CallOption) (ChatStream, error)

	// ToolCallsFromResponse extracts the tool selections of a reply
	ToolCallsFromResponse(resp *ChatResponse, errorOnNoToolCall bool) ([]ToolSelection, error)

	// StructuredChat constrains the reply to JSON matching schema
	StructuredChat(ctx context.Context, messages []Message, schema ResponseSchema, opts ...CallOption) (*ChatResponse, error)

	// StreamStructuredChat is the streaming variant of StructuredChat
	StreamStructuredChat(ctx context.Context, messages []Message, schema ResponseSchema, opts ...CallOption) (ChatStream, error)

	// Close cleans up any resources used by the client
	Close() error
}

// CallOptions are the per-call settings collected from CallOption values
type CallOptions struct {
	GenerationConfig GenerationConfig

	// ToolChoice is "auto", "none", "any", "required", a tool name, a list
	// of tool names, or a provider-specific value. Nil means "auto", or
	// "any" when ToolRequired is set.
	ToolChoice   any
	ToolRequired bool

	// AllowParallelToolCalls keeps every tool call of a reply
	AllowParallelToolCalls bool
}

// CallOption configures a single call
type CallOption func(*CallOptions)

// NewCallOptions applies opts to an empty CallOptions
func NewCallOptions(opts ...CallOption) CallOptions {
	var o CallOptions
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return o
}

// WithGenerationConfig overrides generation parameters for one call
func WithGenerationConfig(cfg GenerationConfig) CallOption {
	return func(o *CallOptions) {
		merged, err := o.GenerationConfig.Merge(cfg)
		if err != nil {
			// merging two values of the same struct type cannot fail
			merged = cfg
		}
		o.GenerationConfig = merged
	}
}

// WithTemperature overrides the sampling temperature for one call
func WithTemperature(t float32) CallOption {
	return WithGenerationConfig(GenerationConfig{Temperature: &t})
}

// WithToolChoice selects how the model may pick tools
func WithToolChoice(choice any) CallOption {
	return func(o *CallOptions) {
		o.ToolChoice = choice
	}
}

// WithToolRequired forces the model to call at least one tool
func WithToolRequired() CallOption {
	return func(o *CallOptions) {
		o.ToolRequired = true
	}
}

// WithParallelToolCalls keeps every tool call of a reply
func WithParallelToolCalls() CallOption {
	return func(o *CallOptions) {
		o.AllowParallelToolCalls = true
	}
}

// CompletionMessages wraps a prompt as a single user message
func CompletionMessages(prompt string) []Message {
	return []Message{NewTextMessage(RoleUser, prompt)}
}
