package openai

import (
	"encoding/json"
	"errors"
	"io"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"github.com/kaptinlin/jsonrepair"
	"github.com/sashabaranov/go-openai"

	"github.com/inercia/go-llmcore/pkg/llm"
)

// toChatMessages converts our messages to OpenAI format
func toChatMessages(messages []llm.Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, msg := range messages {
		m := openai.ChatCompletionMessage{
			Role:    string(msg.Role),
			Content: msg.Content,
		}
		if msg.Role == llm.RoleTool {
			m.ToolCallID = msg.Extras.ToolCallID
		}
		for _, tc := range msg.Extras.ToolCalls {
			m.ToolCalls = append(m.ToolCalls, openai.ToolCall{
				ID:   tc.ID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      tc.Name,
					Arguments: argumentsJSON(tc.Args),
				},
			})
		}
		// A space avoids the API rejecting an undefined content field
		if strings.TrimSpace(m.Content) == "" {
			m.Content = " "
		}
		out = append(out, m)
	}
	return out
}

func argumentsJSON(args map[string]any) string {
	if args == nil {
		return "{}"
	}
	data, err := json.Marshal(args)
	if err != nil {
		return "{}"
	}
	return string(data)
}

// parseArguments decodes tool call arguments, repairing truncated or
// sloppy JSON. Anything that is not an object decodes to an empty map.
func parseArguments(raw string) map[string]any {
	args := map[string]any{}
	if strings.TrimSpace(raw) == "" {
		return args
	}
	if err := json.Unmarshal([]byte(raw), &args); err == nil {
		return args
	}
	repaired, err := jsonrepair.JSONRepair(raw)
	if err != nil {
		return map[string]any{}
	}
	args = map[string]any{}
	if err := json.Unmarshal([]byte(repaired), &args); err != nil {
		return map[string]any{}
	}
	return args
}

// applyChatConfig maps a merged generation config onto a chat request
func applyChatConfig(req *openai.ChatCompletionRequest, cfg llm.GenerationConfig) {
	if cfg.Temperature != nil {
		req.Temperature = *cfg.Temperature
	}
	if cfg.TopP != nil {
		req.TopP = *cfg.TopP
	}
	if cfg.MaxOutputTokens != nil {
		req.MaxCompletionTokens = int(*cfg.MaxOutputTokens)
	}
	req.Stop = cfg.StopSequences
	if seed, ok := intExtra(cfg.Extra, "seed"); ok {
		req.Seed = &seed
	}
	if cfg.ResponseMIMEType == "application/json" && cfg.ResponseSchema == nil {
		req.ResponseFormat = &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject}
	}
}

func intExtra(extra map[string]any, key string) (int, bool) {
	switch v := extra[key].(type) {
	case int:
		return v, true
	case int32:
		return int(v), true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	}
	return 0, false
}

var schemaNameRe = regexp.MustCompile(`[^a-zA-Z0-9_-]+`)

// responseFormat builds a json_schema response format
func responseFormat(schema llm.ResponseSchema) (*openai.ChatCompletionResponseFormat, error) {
	data, err := json.Marshal(schema.Schema)
	if err != nil {
		return nil, &llm.Error{Code: "invalid_schema", Message: err.Error(), Type: llm.ErrorTypeValidation, Err: err}
	}
	name := schemaNameRe.ReplaceAllString(schema.Name, "_")
	if name == "" {
		name = "output"
	}
	return &openai.ChatCompletionResponseFormat{
		Type: openai.ChatCompletionResponseFormatTypeJSONSchema,
		JSONSchema: &openai.ChatCompletionResponseFormatJSONSchema{
			Name:   name,
			Schema: json.RawMessage(data),
		},
	}, nil
}

func usageFrom(u openai.Usage) *llm.Usage {
	if u.TotalTokens == 0 && u.PromptTokens == 0 && u.CompletionTokens == 0 {
		return nil
	}
	return &llm.Usage{
		PromptTokens:     u.PromptTokens,
		CompletionTokens: u.CompletionTokens,
		TotalTokens:      u.TotalTokens,
	}
}

// chatFromResponse converts OpenAI response to our format. Only the first
// choice is read.
func chatFromResponse(resp openai.ChatCompletionResponse) *llm.ChatResponse {
	out := &llm.ChatResponse{
		ID:      resp.ID,
		Message: llm.Message{Role: llm.RoleAssistant},
		Raw:     resp,
		Usage:   usageFrom(resp.Usage),
	}
	if out.ID == "" {
		out.ID = "openai-" + uuid.NewString()
	}
	if len(resp.Choices) == 0 {
		return out
	}

	msg := resp.Choices[0].Message
	out.Message.Content = msg.Content
	out.Message.Extras.Thoughts = msg.ReasoningContent
	for _, tc := range msg.ToolCalls {
		out.Message.Extras.ToolCalls = append(out.Message.Extras.ToolCalls, llm.ToolCall{
			ID:   tc.ID,
			Name: tc.Function.Name,
			Args: parseArguments(tc.Function.Arguments),
		})
	}
	return out
}

func completionFromResponse(resp openai.CompletionResponse) *llm.CompletionResponse {
	out := &llm.CompletionResponse{ID: resp.ID, Raw: resp}
	if resp.Usage != nil {
		out.Usage = usageFrom(*resp.Usage)
	}
	if len(resp.Choices) > 0 {
		out.Text = resp.Choices[0].Text
	}
	return out
}

// pendingCall buffers one streamed tool call. OpenAI sends the name once
// and the arguments in pieces.
type pendingCall struct {
	id   string
	name string
	args strings.Builder
}

// toolCallBuffer collects tool call deltas by index until the choice ends
type toolCallBuffer struct {
	calls map[int]*pendingCall
	order []int
}

func (b *toolCallBuffer) add(deltas []openai.ToolCall) {
	if b.calls == nil {
		b.calls = map[int]*pendingCall{}
	}
	for i, d := range deltas {
		idx := i
		if d.Index != nil {
			idx = *d.Index
		}
		p, ok := b.calls[idx]
		if !ok {
			p = &pendingCall{}
			b.calls[idx] = p
			b.order = append(b.order, idx)
		}
		if d.ID != "" {
			p.id = d.ID
		}
		if d.Function.Name != "" {
			p.name = d.Function.Name
		}
		p.args.WriteString(d.Function.Arguments)
	}
}

// flush returns the completed calls and empties the buffer
func (b *toolCallBuffer) flush() []llm.ToolCall {
	if len(b.order) == 0 {
		return nil
	}
	calls := make([]llm.ToolCall, 0, len(b.order))
	for _, idx := range b.order {
		p := b.calls[idx]
		calls = append(calls, llm.ToolCall{ID: p.id, Name: p.name, Args: parseArguments(p.args.String())})
	}
	b.calls = nil
	b.order = nil
	return calls
}

// fragmentFromChunk normalizes one chat stream chunk
func fragmentFromChunk(chunk openai.ChatCompletionStreamResponse, buf *toolCallBuffer) llm.Fragment {
	f := llm.Fragment{ID: chunk.ID, Raw: chunk}
	if chunk.Usage != nil {
		f.Usage = usageFrom(*chunk.Usage)
	}
	if len(chunk.Choices) == 0 {
		f.Empty = true
		return f
	}

	choice := chunk.Choices[0]
	if t := choice.Delta.ReasoningContent; t != "" {
		f.Parts = append(f.Parts, llm.FragmentPart{Text: t, Thought: true})
	}
	if t := choice.Delta.Content; t != "" {
		f.Parts = append(f.Parts, llm.FragmentPart{Text: t})
	}
	buf.add(choice.Delta.ToolCalls)
	if choice.FinishReason != "" {
		f.ToolCalls = buf.flush()
	}
	f.Empty = len(f.Parts) == 0 && len(f.ToolCalls) == 0
	return f
}

// chunkReceiver is the part of the go-openai stream readers we use
type chunkReceiver[T any] interface {
	Recv() (T, error)
	Close() error
}

// newChatStream folds chat chunks into snapshots. Tool calls are attached
// once complete, when their choice finishes or the stream ends.
func newChatStream(stream chunkReceiver[openai.ChatCompletionStreamResponse]) llm.ChatStream {
	acc := llm.NewStreamAccumulator()
	buf := &toolCallBuffer{}
	id := "openai-" + uuid.NewString()

	return llm.NewStream(func() (*llm.ChatResponse, error) {
		for {
			chunk, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				calls := buf.flush()
				if len(calls) == 0 {
					return nil, io.EOF
				}
				snapshot, _ := acc.Add(llm.Fragment{ID: id, ToolCalls: calls})
				return snapshot, nil
			}
			if err != nil {
				return nil, convertError(err)
			}
			snapshot, ok := acc.Add(fragmentFromChunk(chunk, buf))
			if !ok {
				continue
			}
			if snapshot.ID == "" {
				snapshot.ID = id
			}
			return snapshot, nil
		}
	}, stream.Close)
}

// newCompletionStream folds completion chunks into snapshots
func newCompletionStream(stream chunkReceiver[openai.CompletionResponse]) llm.CompletionStream {
	acc := llm.NewStreamAccumulator()
	id := "openai-" + uuid.NewString()

	chat := llm.NewStream(func() (*llm.ChatResponse, error) {
		for {
			chunk, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				return nil, io.EOF
			}
			if err != nil {
				return nil, convertError(err)
			}
			f := llm.Fragment{ID: chunk.ID, Raw: chunk, Empty: true}
			if len(chunk.Choices) > 0 && chunk.Choices[0].Text != "" {
				f.Parts = []llm.FragmentPart{{Text: chunk.Choices[0].Text}}
				f.Empty = false
			}
			snapshot, ok := acc.Add(f)
			if !ok {
				continue
			}
			if snapshot.ID == "" {
				snapshot.ID = id
			}
			return snapshot, nil
		}
	}, stream.Close)
	return llm.CompletionStreamFromChat(chat)
}
