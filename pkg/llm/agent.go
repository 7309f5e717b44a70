package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// ToolErrorPrefix starts the response text of a failed PredictAndCall
const ToolErrorPrefix = "An error occurred while running the tool: "

// AgentChatResponse is the outcome of one PredictAndCall step
type AgentChatResponse struct {
	Response string       `json:"response"`
	Sources  []ToolOutput `json:"sources"`

	// Err is set when the step failed; Response then carries the message
	Err error `json:"-"`
}

// Failed reports whether the step ended in an error
func (r *AgentChatResponse) Failed() bool {
	return r.Err != nil
}

func (r *AgentChatResponse) String() string {
	return r.Response
}

// StepResult is the decision of a ToolStep: tools to call, or a direct answer
type StepResult struct {
	ToolCalls []ToolSelection
	Response  string
}

// ToolStep decides which tools to call for a conversation
type ToolStep interface {
	TakeStep(ctx context.Context, l *LLM, tools []Tool, messages []Message, opts ...CallOption) (*StepResult, error)
}

// PredictAndCall lets the model pick tools for the conversation, runs them,
// and joins their outputs. It never returns an error: failures, including
// tool panics, produce a response starting with ToolErrorPrefix and no
// sources.
func (l *LLM) PredictAndCall(ctx context.Context, tools []Tool, userMsg string, history []Message, opts ...CallOption) (result *AgentChatResponse) {
	messages := CloneMessages(history)
	if userMsg != "" {
		messages = append(messages, NewTextMessage(RoleUser, userMsg))
	}

	names := make([]string, 0, len(tools))
	for _, t := range tools {
		names = append(names, t.Metadata().Name)
	}
	l.emit(ctx, PredictAndCallStartEvent{Tools: names, Messages: messages})

	defer func() {
		if r := recover(); r != nil {
			result = l.failedCall(ctx, fmt.Errorf("panic: %v", r))
		}
		l.emit(ctx, PredictAndCallEndEvent{Response: result.Response, Failed: result.Failed()})
	}()

	resp, err := l.predictAndCall(ctx, tools, messages, opts...)
	if err != nil {
		return l.failedCall(ctx, err)
	}
	return resp
}

// APredictAndCall runs PredictAndCall in its own goroutine
func (l *LLM) APredictAndCall(ctx context.Context, tools []Tool, userMsg string, history []Message, opts ...CallOption) *Future[*AgentChatResponse] {
	return Async(func() (*AgentChatResponse, error) {
		return l.PredictAndCall(ctx, tools, userMsg, history, opts...), nil
	})
}

func (l *LLM) failedCall(ctx context.Context, err error) *AgentChatResponse {
	l.logger.WarnContext(ctx, "predict and call failed", "error", err)
	return &AgentChatResponse{
		Response: ToolErrorPrefix + err.Error(),
		Sources:  []ToolOutput{},
		Err:      err,
	}
}

func (l *LLM) predictAndCall(ctx context.Context, tools []Tool, messages []Message, opts ...CallOption) (*AgentChatResponse, error) {
	step, err := l.stepFor()
	if err != nil {
		return nil, err
	}
	decision, err := step.TakeStep(ctx, l, tools, messages, opts...)
	if err != nil {
		return nil, err
	}
	if len(decision.ToolCalls) == 0 {
		return &AgentChatResponse{Response: decision.Response, Sources: []ToolOutput{}}, nil
	}

	outputs := make([]ToolOutput, 0, len(decision.ToolCalls))
	texts := make([]string, 0, len(decision.ToolCalls))
	for _, sel := range decision.ToolCalls {
		l.logger.DebugContext(ctx, "calling tool", "tool", sel.ToolName, "id", sel.ToolID)
		out, err := CallToolWithSelection(ctx, sel, tools)
		if err != nil {
			return nil, err
		}
		outputs = append(outputs, out)
		texts = append(texts, out.Content)
	}

	return &AgentChatResponse{Response: strings.Join(texts, "\n\n"), Sources: outputs}, nil
}

func (l *LLM) stepFor() (ToolStep, error) {
	if l.toolStep != nil {
		return l.toolStep, nil
	}
	if l.Metadata().IsFunctionCallingModel {
		return FunctionCallingStep{}, nil
	}
	return ReActStep{}, nil
}

/////////////////////////////////////////////////////////////////////////////////////////

// FunctionCallingStep uses the provider's native tool calling
type FunctionCallingStep struct {
	// ErrorOnNoToolCall fails the step when the model answers without tools
	ErrorOnNoToolCall bool
}

func (s FunctionCallingStep) TakeStep(ctx context.Context, l *LLM, tools []Tool, messages []Message, opts ...CallOption) (*StepResult, error) {
	resp, err := l.ChatWithTools(ctx, tools, messages, opts...)
	if err != nil {
		return nil, err
	}
	calls, err := l.client.ToolCallsFromResponse(resp, s.ErrorOnNoToolCall)
	if err != nil {
		return nil, err
	}
	if len(calls) > 1 && !NewCallOptions(opts...).AllowParallelToolCalls {
		calls = calls[:1]
	}
	return &StepResult{ToolCalls: calls, Response: resp.Message.Content}, nil
}

/////////////////////////////////////////////////////////////////////////////////////////

// ReActStep asks the model to pick a tool in plain text, for models without
// native tool calling
type ReActStep struct{}

const reactHeader = `You are designed to help with a variety of tasks, from answering questions to running tools.

## Tools

You have access to the following tools:
%s

## Output Format

To use a tool, answer in exactly this format:

Thought: I need to use a tool to help me answer the question.
Action: tool name (one of %s)
Action Input: the input to the tool, as a JSON object, e.g. {"input": "hello world"}

If you can answer without a tool, answer in this format:

Thought: I can answer without using any more tools.
Answer: [your answer here]
`

var (
	reactActionRe = regexp.MustCompile(`(?m)^\s*Action:\s*(.+?)\s*$`)
	reactInputRe  = regexp.MustCompile(`(?s)Action Input:\s*(.*)`)
	reactAnswerRe = regexp.MustCompile(`(?s)Answer:\s*(.*)`)
)

func (ReActStep) TakeStep(ctx context.Context, l *LLM, tools []Tool, messages []Message, opts ...CallOption) (*StepResult, error) {
	header, err := reactSystemPrompt(tools)
	if err != nil {
		return nil, err
	}

	input := make([]Message, 0, len(messages)+1)
	input = append(input, NewTextMessage(RoleSystem, header))
	input = append(input, l.extendMessages(messages)...)

	resp, err := l.client.Chat(ctx, input, opts...)
	if err != nil {
		return nil, err
	}
	return ParseReActOutput(resp.Message.Content), nil
}

func reactSystemPrompt(tools []Tool) (string, error) {
	var desc strings.Builder
	names := make([]string, 0, len(tools))
	for _, t := range tools {
		meta := t.Metadata()
		names = append(names, meta.Name)
		desc.WriteString("> Tool Name: " + meta.Name + "\n")
		desc.WriteString("Tool Description: " + meta.Description + "\n")
		if meta.Parameters != nil {
			params, err := json.Marshal(meta.Parameters)
			if err != nil {
				return "", fmt.Errorf("failed to marshal parameters of tool %q: %w", meta.Name, err)
			}
			desc.WriteString("Tool Args: " + string(params) + "\n")
		}
		desc.WriteString("\n")
	}
	return fmt.Sprintf(reactHeader, desc.String(), strings.Join(names, ", ")), nil
}

// ParseReActOutput reads a text tool-use answer. An Action line selects a
// tool; otherwise the Answer text, or the whole output, is the response.
func ParseReActOutput(output string) *StepResult {
	if m := reactActionRe.FindStringSubmatch(output); m != nil {
		var kwargs any
		if in := reactInputRe.FindStringSubmatch(output); in != nil {
			kwargs = json.RawMessage(ExtractJSONFromResponse(in[1]))
		}
		sel := NewToolSelection(uuid.NewString(), strings.TrimSpace(m[1]), kwargs)
		return &StepResult{ToolCalls: []ToolSelection{sel}}
	}
	if m := reactAnswerRe.FindStringSubmatch(output); m != nil {
		return &StepResult{Response: strings.TrimSpace(m[1])}
	}
	return &StepResult{Response: strings.TrimSpace(output)}
}
