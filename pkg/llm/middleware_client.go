package llm

import (
	"context"
	"log/slog"
)

// InstrumentedClient wraps an LLM client and emits chat and completion
// events around every primitive call. Tool and structured calls are chats
// too and emit the chat events.
type InstrumentedClient struct {
	client Client
	sink   Sink
	logger *slog.Logger
}

// NewInstrumentedClient wraps client. A nil sink drops events.
func NewInstrumentedClient(client Client, sink Sink, logger *slog.Logger) *InstrumentedClient {
	if sink == nil {
		sink = NopSink{}
	}
	if logger == nil {
		logger = discardLogger()
	}
	return &InstrumentedClient{client: client, sink: sink, logger: logger}
}

// Unwrap returns the wrapped client
func (e *InstrumentedClient) Unwrap() Client {
	return e.client
}

func (e *InstrumentedClient) emit(ctx context.Context, ev Event) {
	emitEvent(ctx, e.sink, e.logger, ev)
}

// instrumentChat runs a non-streaming chat primitive between start and end events
func (e *InstrumentedClient) instrumentChat(ctx context.Context, messages []Message, call func() (*ChatResponse, error)) (*ChatResponse, error) {
	e.emit(ctx, ChatStartEvent{Messages: messages})
	resp, err := call()
	if err != nil {
		e.logger.DebugContext(ctx, "chat call failed", "error", err)
		return nil, err
	}
	e.emit(ctx, ChatEndEvent{Messages: messages, Response: resp})
	return resp, nil
}

// instrumentChatStream emits the end event with the last snapshot once the stream is drained
func (e *InstrumentedClient) instrumentChatStream(ctx context.Context, messages []Message, open func() (ChatStream, error)) (ChatStream, error) {
	e.emit(ctx, ChatStartEvent{Messages: messages})
	s, err := open()
	if err != nil {
		return nil, err
	}
	var last *ChatResponse
	return ObserveStream(s, func(r *ChatResponse) { last = r }, func() {
		e.emit(ctx, ChatEndEvent{Messages: messages, Response: last})
	}), nil
}

func (e *InstrumentedClient) Metadata() Metadata {
	return e.client.Metadata()
}

func (e *InstrumentedClient) Chat(ctx context.Context, messages []Message, opts ...CallOption) (*ChatResponse, error) {
	return e.instrumentChat(ctx, messages, func() (*ChatResponse, error) {
		return e.client.Chat(ctx, messages, opts...)
	})
}

func (e *InstrumentedClient) StreamChat(ctx context.Context, messages []Message, opts ...CallOption) (ChatStream, error) {
	return e.instrumentChatStream(ctx, messages, func() (ChatStream, error) {
		return e.client.StreamChat(ctx, messages, opts...)
	})
}

func (e *InstrumentedClient) ChatWithTools(ctx context.Context, tools []Tool, messages []Message, opts ...CallOption) (*ChatResponse, error) {
	return e.instrumentChat(ctx, messages, func() (*ChatResponse, error) {
		return e.client.ChatWithTools(ctx, tools, messages, opts...)
	})
}

func (e *InstrumentedClient) StreamChatWithTools(ctx context.Context, tools []Tool, messages []Message, opts ...CallOption) (ChatStream, error) {
	return e.instrumentChatStream(ctx, messages, func() (ChatStream, error) {
		return e.client.StreamChatWithTools(ctx, tools, messages, opts...)
	})
}

func (e *InstrumentedClient) StructuredChat(ctx context.Context, messages []Message, schema ResponseSchema, opts ...CallOption) (*ChatResponse, error) {
	return e.instrumentChat(ctx, messages, func() (*ChatResponse, error) {
		return e.client.StructuredChat(ctx, messages, schema, opts...)
	})
}

func (e *InstrumentedClient) StreamStructuredChat(ctx context.Context, messages []Message, schema ResponseSchema, opts ...CallOption) (ChatStream, error) {
	return e.instrumentChatStream(ctx, messages, func() (ChatStream, error) {
		return e.client.StreamStructuredChat(ctx, messages, schema, opts...)
	})
}

func (e *InstrumentedClient) Complete(ctx context.Context, prompt string, opts ...CallOption) (*CompletionResponse, error) {
	e.emit(ctx, CompletionStartEvent{Prompt: prompt})
	resp, err := e.client.Complete(ctx, prompt, opts...)
	if err != nil {
		e.logger.DebugContext(ctx, "completion call failed", "error", err)
		return nil, err
	}
	e.emit(ctx, CompletionEndEvent{Prompt: prompt, Response: resp})
	return resp, nil
}

func (e *InstrumentedClient) StreamComplete(ctx context.Context, prompt string, opts ...CallOption) (CompletionStream, error) {
	e.emit(ctx, CompletionStartEvent{Prompt: prompt})
	s, err := e.client.StreamComplete(ctx, prompt, opts...)
	if err != nil {
		return nil, err
	}
	var last *CompletionResponse
	return ObserveStream(s, func(r *CompletionResponse) { last = r }, func() {
		e.emit(ctx, CompletionEndEvent{Prompt: prompt, Response: last})
	}), nil
}

func (e *InstrumentedClient) ToolCallsFromResponse(resp *ChatResponse, errorOnNoToolCall bool) ([]ToolSelection, error) {
	return e.client.ToolCallsFromResponse(resp, errorOnNoToolCall)
}

func (e *InstrumentedClient) Close() error {
	return e.client.Close()
}
