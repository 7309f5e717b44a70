package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// Program produces a typed answer from a prompt
type Program[T any] interface {
	Call(ctx context.Context, prompt Formatter, args map[string]any, opts ...CallOption) (*T, error)
	// Stream yields partial instances as the answer grows
	Stream(ctx context.Context, prompt Formatter, args map[string]any, opts ...CallOption) (Stream[*T], error)
}

// ProgramFor selects the structured output strategy for T: the provider's
// native schema-constrained output when the model has it and the mode is
// ProgramModeDefault, prompted JSON otherwise.
func ProgramFor[T any](l *LLM) (Program[T], error) {
	if l.programMode != ProgramModeLLM && l.Metadata().NativeStructuredOutput {
		return NewNativeProgram[T](l)
	}
	return NewTextCompletionProgram[T](l)
}

// StructuredPredict renders prompt and returns the answer as a T
func StructuredPredict[T any](ctx context.Context, l *LLM, prompt Formatter, args map[string]any, opts ...CallOption) (*T, error) {
	l.emit(ctx, StructuredPredictStartEvent{OutputType: TypeName[T](), Template: prompt.Template(), Args: args})

	program, err := ProgramFor[T](l)
	if err != nil {
		return nil, err
	}
	result, err := program.Call(ctx, prompt, args, opts...)
	if err != nil {
		return nil, err
	}

	l.emit(ctx, StructuredPredictEndEvent{Output: result})
	return result, nil
}

// AStructuredPredict runs StructuredPredict in its own goroutine
func AStructuredPredict[T any](ctx context.Context, l *LLM, prompt Formatter, args map[string]any, opts ...CallOption) *Future[*T] {
	return Async(func() (*T, error) {
		return StructuredPredict[T](ctx, l, prompt, args, opts...)
	})
}

// StreamStructuredPredict streams progressively more complete instances of T.
// Every emitted snapshot differs from the previous one. Like Stream, it
// refuses to run with an output parser configured.
func StreamStructuredPredict[T any](ctx context.Context, l *LLM, prompt Formatter, args map[string]any, opts ...CallOption) (Stream[*T], error) {
	if l.parserFor(prompt) != nil {
		return nil, ErrStreamingOutputParser
	}

	l.emit(ctx, StructuredPredictStartEvent{OutputType: TypeName[T](), Template: prompt.Template(), Args: args})

	program, err := ProgramFor[T](l)
	if err != nil {
		return nil, err
	}
	s, err := program.Stream(ctx, prompt, args, opts...)
	if err != nil {
		return nil, err
	}

	var last *T
	return ObserveStream(s, func(v *T) {
		last = v
		l.emit(ctx, StructuredPredictInProgressEvent{Output: v})
	}, func() {
		l.emit(ctx, StructuredPredictEndEvent{Output: last})
	}), nil
}

// AStreamStructuredPredict is StreamStructuredPredict over a channel
func AStreamStructuredPredict[T any](ctx context.Context, l *LLM, prompt Formatter, args map[string]any, opts ...CallOption) (<-chan Result[*T], error) {
	s, err := StreamStructuredPredict[T](ctx, l, prompt, args, opts...)
	if err != nil {
		return nil, err
	}
	return StreamToChannel(ctx, s), nil
}

/////////////////////////////////////////////////////////////////////////////////////////

// NativeProgram asks the provider for a schema-constrained JSON answer
type NativeProgram[T any] struct {
	llm    *LLM
	schema ResponseSchema
}

// NewNativeProgram builds the native program for T
func NewNativeProgram[T any](l *LLM) (*NativeProgram[T], error) {
	schema, err := ResponseSchemaFor[T]()
	if err != nil {
		return nil, err
	}
	return &NativeProgram[T]{llm: l, schema: schema}, nil
}

func (p *NativeProgram[T]) Call(ctx context.Context, prompt Formatter, args map[string]any, opts ...CallOption) (*T, error) {
	messages, err := p.llm.messages(prompt, args, nil)
	if err != nil {
		return nil, err
	}
	resp, err := p.llm.client.StructuredChat(ctx, messages, p.schema, opts...)
	if err != nil {
		return nil, err
	}
	return DecodeStrict[T](resp.Message.Content)
}

func (p *NativeProgram[T]) Stream(ctx context.Context, prompt Formatter, args map[string]any, opts ...CallOption) (Stream[*T], error) {
	messages, err := p.llm.messages(prompt, args, nil)
	if err != nil {
		return nil, err
	}
	s, err := p.llm.client.StreamStructuredChat(ctx, messages, p.schema, opts...)
	if err != nil {
		return nil, err
	}
	return newPartialStream[T](MapStream(s, func(r *ChatResponse) (string, bool, error) {
		return r.Message.Content, true, nil
	})), nil
}

/////////////////////////////////////////////////////////////////////////////////////////

// TextCompletionProgram prompts for JSON with format instructions and parses
// the answer, retrying on unparseable output
type TextCompletionProgram[T any] struct {
	llm     *LLM
	parser  *JSONOutputParser[T]
	retries int
}

// NewTextCompletionProgram builds the prompted program for T
func NewTextCompletionProgram[T any](l *LLM) (*TextCompletionProgram[T], error) {
	parser, err := NewJSONOutputParser[T]()
	if err != nil {
		return nil, err
	}
	return &TextCompletionProgram[T]{llm: l, parser: parser, retries: l.structuredRetries}, nil
}

// Call makes at most retries+1 model calls. When every answer fails to
// parse the last *ValidationError is returned. Backend errors end the loop.
func (p *TextCompletionProgram[T]) Call(ctx context.Context, prompt Formatter, args map[string]any, opts ...CallOption) (*T, error) {
	var lastErr error
	for attempt := 0; attempt <= p.retries; attempt++ {
		output, err := p.llm.predictText(ctx, prompt, args, p.parser, opts...)
		if err != nil {
			return nil, err
		}
		result, err := p.parser.ParseTyped(output)
		if err == nil {
			return result, nil
		}
		lastErr = err
		p.llm.logger.DebugContext(ctx, "structured output did not parse",
			"attempt", attempt+1, "output_type", TypeName[T](), "error", err)
	}
	return nil, lastErr
}

func (p *TextCompletionProgram[T]) Stream(ctx context.Context, prompt Formatter, args map[string]any, opts ...CallOption) (Stream[*T], error) {
	s, err := p.llm.streamText(ctx, prompt, args, p.parser, opts...)
	if err != nil {
		return nil, err
	}
	return newPartialStream[T](s), nil
}

/////////////////////////////////////////////////////////////////////////////////////////

// newPartialStream decodes each cumulative text snapshot of s into a fresh
// T, skipping undecodable prefixes and unchanged snapshots. A stream that
// ends without ever producing a snapshot fails with *ValidationError.
func newPartialStream[T any](s Stream[string]) Stream[*T] {
	var lastJSON []byte
	var lastText string
	emitted := false

	return NewStream(func() (*T, error) {
		for {
			text, err := s.Next()
			if isEOF(err) {
				if !emitted {
					return nil, &ValidationError{Output: lastText, Err: errors.New("stream ended without a decodable object")}
				}
				return nil, err
			}
			if err != nil {
				return nil, err
			}
			lastText = text

			v, ok := ParsePartial[T](text)
			if !ok {
				continue
			}
			data, err := json.Marshal(v)
			if err != nil || bytes.Equal(data, lastJSON) {
				continue
			}
			lastJSON = data
			emitted = true
			return v, nil
		}
	}, s.Close)
}

/////////////////////////////////////////////////////////////////////////////////////////

// StructuredLLM answers every chat with the JSON of a T
type StructuredLLM[T any] struct {
	llm *LLM
}

// AsStructuredLLM wraps l so chats return structured answers
func AsStructuredLLM[T any](l *LLM) *StructuredLLM[T] {
	return &StructuredLLM[T]{llm: l}
}

// Chat predicts a T from messages and returns it as JSON content. Raw holds
// the *T.
func (s *StructuredLLM[T]) Chat(ctx context.Context, messages []Message, opts ...CallOption) (*ChatResponse, error) {
	out, err := StructuredPredict[T](ctx, s.llm, MessagesPrompt(messages), nil, opts...)
	if err != nil {
		return nil, err
	}
	content, err := jsonString(out)
	if err != nil {
		return nil, err
	}
	return &ChatResponse{Message: NewTextMessage(RoleAssistant, content), Raw: out}, nil
}

func jsonString(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to marshal output: %w", err)
	}
	return string(data), nil
}
