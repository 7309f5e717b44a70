package llm

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
)

// ProgramMode selects how structured predictions are produced
type ProgramMode string

const (
	// ProgramModeDefault uses native structured output when the model has it
	ProgramModeDefault ProgramMode = "default"
	// ProgramModeLLM always uses prompted JSON with an output parser
	ProgramModeLLM ProgramMode = "llm"
)

// LLM layers prompting, parsing, structured output and tool orchestration
// over a provider Client. It is safe for concurrent use; every call keeps
// its own state.
type LLM struct {
	client *InstrumentedClient

	systemPrompt       string
	outputParser       OutputParser
	programMode        ProgramMode
	structuredRetries  int
	sink               Sink
	logger             *slog.Logger
	toolStep           ToolStep
	messagesToPrompt   func([]Message) string
	completionToPrompt func(string) string
	queryWrapper       Formatter
}

// Option configures an LLM
type Option func(*LLM)

// WithSystemPrompt prepends a system prompt to every predict call
func WithSystemPrompt(prompt string) Option {
	return func(l *LLM) { l.systemPrompt = prompt }
}

// WithOutputParser parses every predict output
func WithOutputParser(p OutputParser) Option {
	return func(l *LLM) { l.outputParser = p }
}

// WithProgramMode selects the structured output strategy
func WithProgramMode(mode ProgramMode) Option {
	return func(l *LLM) { l.programMode = mode }
}

// WithStructuredRetries lets prompted structured calls retry n times on
// unparseable output
func WithStructuredRetries(n int) Option {
	return func(l *LLM) { l.structuredRetries = max(n, 0) }
}

// WithSink sets the instrumentation event sink
func WithSink(s Sink) Option {
	return func(l *LLM) { l.sink = s }
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(l *LLM) { l.logger = logger }
}

// WithToolStep overrides how PredictAndCall decides on tool calls
func WithToolStep(step ToolStep) Option {
	return func(l *LLM) { l.toolStep = step }
}

// WithMessagesToPrompt sets how chat templates are flattened for
// completion-only models
func WithMessagesToPrompt(fn func([]Message) string) Option {
	return func(l *LLM) { l.messagesToPrompt = fn }
}

// WithCompletionToPrompt transforms raw prompts passed to Complete
func WithCompletionToPrompt(fn func(string) string) Option {
	return func(l *LLM) { l.completionToPrompt = fn }
}

// WithQueryWrapper wraps completion prompts in a template receiving the
// prompt as "query_str"
func WithQueryWrapper(f Formatter) Option {
	return func(l *LLM) { l.queryWrapper = f }
}

// New creates an LLM over client
func New(client Client, opts ...Option) *LLM {
	l := &LLM{programMode: ProgramModeDefault}
	for _, opt := range opts {
		opt(l)
	}
	if l.logger == nil {
		l.logger = discardLogger()
	}
	if l.sink == nil {
		l.sink = NopSink{}
	}
	l.client = NewInstrumentedClient(client, l.sink, l.logger)
	return l
}

// Client returns the instrumented provider client
func (l *LLM) Client() Client {
	return l.client
}

// Metadata returns the bound model's metadata
func (l *LLM) Metadata() Metadata {
	return l.client.Metadata()
}

func (l *LLM) emit(ctx context.Context, ev Event) {
	emitEvent(ctx, l.sink, l.logger, ev)
}

// Chat sends messages as is
func (l *LLM) Chat(ctx context.Context, messages []Message, opts ...CallOption) (*ChatResponse, error) {
	return l.client.Chat(ctx, messages, opts...)
}

// StreamChat streams a reply to messages
func (l *LLM) StreamChat(ctx context.Context, messages []Message, opts ...CallOption) (ChatStream, error) {
	return l.client.StreamChat(ctx, messages, opts...)
}

// Complete sends a raw prompt, passed through the completion-to-prompt hook
func (l *LLM) Complete(ctx context.Context, prompt string, opts ...CallOption) (*CompletionResponse, error) {
	if l.completionToPrompt != nil {
		prompt = l.completionToPrompt(prompt)
	}
	return l.client.Complete(ctx, prompt, opts...)
}

// ChatWithTools offers tools to the model. The system prompt is prepended.
func (l *LLM) ChatWithTools(ctx context.Context, tools []Tool, messages []Message, opts ...CallOption) (*ChatResponse, error) {
	return l.client.ChatWithTools(ctx, tools, l.extendMessages(messages), opts...)
}

// Predict renders prompt, sends it, and returns the (parsed) answer text
func (l *LLM) Predict(ctx context.Context, prompt Formatter, args map[string]any, opts ...CallOption) (string, error) {
	l.emit(ctx, PredictStartEvent{Template: prompt.Template(), Args: args})
	l.logTemplateData(ctx, prompt, args)

	// templates add their own parser's instructions when rendering
	output, err := l.predictText(ctx, prompt, args, l.outputParser, opts...)
	if err != nil {
		return "", err
	}
	parsed, err := parseOutput(l.parserFor(prompt), output)
	if err != nil {
		return "", err
	}

	l.emit(ctx, PredictEndEvent{Output: parsed})
	return parsed, nil
}

// APredict runs Predict in its own goroutine
func (l *LLM) APredict(ctx context.Context, prompt Formatter, args map[string]any, opts ...CallOption) *Future[string] {
	return Async(func() (string, error) {
		return l.Predict(ctx, prompt, args, opts...)
	})
}

// Stream renders prompt and streams the answer as text fragments. Output
// parsers cannot run on fragments, so a configured parser fails the call
// before anything is sent.
func (l *LLM) Stream(ctx context.Context, prompt Formatter, args map[string]any, opts ...CallOption) (TokenStream, error) {
	if l.parserFor(prompt) != nil {
		return nil, ErrStreamingOutputParser
	}

	l.emit(ctx, PredictStartEvent{Template: prompt.Template(), Args: args})
	l.logTemplateData(ctx, prompt, args)

	var tokens TokenStream
	if l.Metadata().IsChatModel {
		messages, err := l.messages(prompt, args, nil)
		if err != nil {
			return nil, err
		}
		s, err := l.client.StreamChat(ctx, messages, opts...)
		if err != nil {
			return nil, err
		}
		tokens = TokensFromChat(s)
	} else {
		text, err := l.prompt(prompt, args, nil)
		if err != nil {
			return nil, err
		}
		s, err := l.client.StreamComplete(ctx, text, opts...)
		if err != nil {
			return nil, err
		}
		tokens = TokensFromCompletion(s)
	}

	var output strings.Builder
	return ObserveStream(tokens, func(t string) { output.WriteString(t) }, func() {
		l.emit(ctx, PredictEndEvent{Output: output.String()})
	}), nil
}

// AStream is Stream delivered over a channel. The channel is unbuffered and
// closed when the stream ends, fails, or ctx is cancelled.
func (l *LLM) AStream(ctx context.Context, prompt Formatter, args map[string]any, opts ...CallOption) (<-chan Result[string], error) {
	s, err := l.Stream(ctx, prompt, args, opts...)
	if err != nil {
		return nil, err
	}
	return StreamToChannel(ctx, s), nil
}

// predictText performs the single model call behind Predict and the prompted
// structured program
func (l *LLM) predictText(ctx context.Context, prompt Formatter, args map[string]any, parser OutputParser, opts ...CallOption) (string, error) {
	if l.Metadata().IsChatModel {
		messages, err := l.messages(prompt, args, parser)
		if err != nil {
			return "", err
		}
		resp, err := l.client.Chat(ctx, messages, opts...)
		if err != nil {
			return "", err
		}
		return resp.Message.Content, nil
	}

	text, err := l.prompt(prompt, args, parser)
	if err != nil {
		return "", err
	}
	resp, err := l.client.Complete(ctx, text, opts...)
	if err != nil {
		return "", err
	}
	return resp.Text, nil
}

// streamText streams the cumulative answer text
func (l *LLM) streamText(ctx context.Context, prompt Formatter, args map[string]any, parser OutputParser, opts ...CallOption) (Stream[string], error) {
	if l.Metadata().IsChatModel {
		messages, err := l.messages(prompt, args, parser)
		if err != nil {
			return nil, err
		}
		s, err := l.client.StreamChat(ctx, messages, opts...)
		if err != nil {
			return nil, err
		}
		return MapStream(s, func(r *ChatResponse) (string, bool, error) {
			return r.Message.Content, true, nil
		}), nil
	}

	text, err := l.prompt(prompt, args, parser)
	if err != nil {
		return nil, err
	}
	s, err := l.client.StreamComplete(ctx, text, opts...)
	if err != nil {
		return nil, err
	}
	return MapStream(s, func(r *CompletionResponse) (string, bool, error) {
		return r.Text, true, nil
	}), nil
}

// messages builds the chat input: rendered messages, parser instructions,
// then the system prompt
func (l *LLM) messages(prompt Formatter, args map[string]any, parser OutputParser) ([]Message, error) {
	messages, err := prompt.FormatMessages(args)
	if err != nil {
		return nil, err
	}
	if parser != nil {
		messages = FormatMessagesWithParser(parser, messages)
	}
	return l.extendMessages(messages), nil
}

// prompt builds the completion input: rendered text, parser instructions,
// system prompt, then the query wrapper
func (l *LLM) prompt(prompt Formatter, args map[string]any, parser OutputParser) (string, error) {
	var text string
	var err error
	if ct, ok := prompt.(*ChatPromptTemplate); ok && l.messagesToPrompt != nil && ct.MessagesToPrompt == nil {
		var msgs []Message
		if msgs, err = ct.FormatMessages(args); err == nil {
			text = l.messagesToPrompt(msgs)
		}
	} else {
		text, err = prompt.Format(args)
	}
	if err != nil {
		return "", err
	}

	if parser != nil {
		text = parser.Format(text)
	}
	return l.extendPrompt(text)
}

func (l *LLM) extendPrompt(text string) (string, error) {
	if l.systemPrompt != "" {
		text = l.systemPrompt + "\n\n" + text
	}
	if l.queryWrapper != nil {
		return l.queryWrapper.Format(map[string]any{"query_str": text})
	}
	return text, nil
}

func (l *LLM) extendMessages(messages []Message) []Message {
	if l.systemPrompt == "" {
		return messages
	}
	out := make([]Message, 0, len(messages)+1)
	out = append(out, NewTextMessage(RoleSystem, l.systemPrompt))
	return append(out, messages...)
}

// parserFor returns the configured parser, falling back to the prompt's own
func (l *LLM) parserFor(prompt Formatter) OutputParser {
	if l.outputParser != nil {
		return l.outputParser
	}
	return prompt.OutputParser()
}

func parseOutput(parser OutputParser, output string) (string, error) {
	if parser == nil {
		return output, nil
	}
	parsed, err := parser.Parse(output)
	if err != nil {
		return "", err
	}
	if s, ok := parsed.(string); ok {
		return s, nil
	}
	return jsonString(parsed)
}

func (l *LLM) logTemplateData(ctx context.Context, prompt Formatter, args map[string]any) {
	ev := TemplatingEvent{
		Template:     prompt.Template(),
		Vars:         prompt.Vars(),
		Args:         args,
		SystemPrompt: l.systemPrompt,
	}
	if l.queryWrapper != nil {
		ev.QueryWrapper = l.queryWrapper.Template()
	}
	l.emit(ctx, ev)
}

func isEOF(err error) bool {
	return errors.Is(err, io.EOF)
}
