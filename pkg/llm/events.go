package llm

import (
	"context"
	"io"
	"log/slog"
)

// Event is an instrumentation record emitted around LLM operations
type Event interface {
	EventName() string
}

// Sink receives instrumentation events. Emit must not block for long; a
// panicking sink is recovered and logged without failing the call.
type Sink interface {
	Emit(ctx context.Context, event Event)
}

// SinkFunc adapts a function into a Sink
type SinkFunc func(ctx context.Context, event Event)

func (f SinkFunc) Emit(ctx context.Context, event Event) { f(ctx, event) }

// NopSink drops every event
type NopSink struct{}

func (NopSink) Emit(context.Context, Event) {}

// SlogSink logs every event on a slog.Logger
type SlogSink struct {
	Logger *slog.Logger
	Level  slog.Level
}

// NewSlogSink logs events at debug level
func NewSlogSink(logger *slog.Logger) SlogSink {
	return SlogSink{Logger: logger, Level: slog.LevelDebug}
}

func (s SlogSink) Emit(ctx context.Context, event Event) {
	if s.Logger == nil {
		return
	}
	s.Logger.Log(ctx, s.Level, "llm event", "event", event.EventName(), "payload", event)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// emitEvent delivers event to sink, containing any panic
func emitEvent(ctx context.Context, sink Sink, logger *slog.Logger, event Event) {
	if sink == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			logger.WarnContext(ctx, "event sink panicked", "event", event.EventName(), "panic", r)
		}
	}()
	sink.Emit(ctx, event)
}

type PredictStartEvent struct {
	Template string         `json:"template"`
	Args     map[string]any `json:"args,omitempty"`
}

type PredictEndEvent struct {
	Output string `json:"output"`
}

// TemplatingEvent records the template data of a predict call
type TemplatingEvent struct {
	Template     string         `json:"template"`
	Vars         []string       `json:"vars,omitempty"`
	Args         map[string]any `json:"args,omitempty"`
	SystemPrompt string         `json:"system_prompt,omitempty"`
	QueryWrapper string         `json:"query_wrapper,omitempty"`
}

type StructuredPredictStartEvent struct {
	OutputType string         `json:"output_type"`
	Template   string         `json:"template"`
	Args       map[string]any `json:"args,omitempty"`
}

// StructuredPredictInProgressEvent carries one partial snapshot of a stream
type StructuredPredictInProgressEvent struct {
	Output any `json:"output"`
}

type StructuredPredictEndEvent struct {
	Output any `json:"output"`
}

type ChatStartEvent struct {
	Messages []Message `json:"messages"`
}

type ChatEndEvent struct {
	Messages []Message    `json:"messages"`
	Response *ChatResponse `json:"response"`
}

type CompletionStartEvent struct {
	Prompt string `json:"prompt"`
}

type CompletionEndEvent struct {
	Prompt   string              `json:"prompt"`
	Response *CompletionResponse `json:"response"`
}

type PredictAndCallStartEvent struct {
	Tools    []string  `json:"tools"`
	Messages []Message `json:"messages"`
}

type PredictAndCallEndEvent struct {
	Response string `json:"response"`
	Failed   bool   `json:"failed"`
}

func (PredictStartEvent) EventName() string                { return "predict_start" }
func (PredictEndEvent) EventName() string                  { return "predict_end" }
func (TemplatingEvent) EventName() string                  { return "templating" }
func (StructuredPredictStartEvent) EventName() string      { return "structured_predict_start" }
func (StructuredPredictInProgressEvent) EventName() string { return "structured_predict_in_progress" }
func (StructuredPredictEndEvent) EventName() string        { return "structured_predict_end" }
func (ChatStartEvent) EventName() string                   { return "chat_start" }
func (ChatEndEvent) EventName() string                     { return "chat_end" }
func (CompletionStartEvent) EventName() string             { return "completion_start" }
func (CompletionEndEvent) EventName() string               { return "completion_end" }
func (PredictAndCallStartEvent) EventName() string         { return "predict_and_call_start" }
func (PredictAndCallEndEvent) EventName() string           { return "predict_and_call_end" }
