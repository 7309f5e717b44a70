package openai

import (
	"context"

	"github.com/sashabaranov/go-openai"

	"github.com/inercia/go-llmcore/pkg/llm"
)

// toOpenAITools converts tool metadata to function definitions
func toOpenAITools(tools []llm.Tool) []openai.Tool {
	out := make([]openai.Tool, 0, len(tools))
	for _, t := range tools {
		meta := t.Metadata()
		params := any(meta.Parameters)
		if meta.Parameters == nil {
			params = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		out = append(out, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        meta.Name,
				Description: meta.Description,
				Parameters:  params,
			},
		})
	}
	return out
}

func namedChoice(name string) openai.ToolChoice {
	return openai.ToolChoice{Type: openai.ToolTypeFunction, Function: openai.ToolFunction{Name: name}}
}

// toolChoice maps a tool choice to the request value. "any" is spelled
// "required" here; a single tool name forces that tool. Maps and
// openai.ToolChoice values are passed through untouched.
func toolChoice(call llm.CallOptions) (any, error) {
	choice := call.ToolChoice
	if choice == nil {
		if call.ToolRequired {
			return "required", nil
		}
		return "auto", nil
	}

	switch v := choice.(type) {
	case string:
		switch v {
		case "auto", "none", "required":
			return v, nil
		case "any":
			return "required", nil
		}
		return namedChoice(v), nil
	case []string:
		if len(v) == 1 {
			return namedChoice(v[0]), nil
		}
		return "required", nil
	case map[string]any, openai.ToolChoice, *openai.ToolChoice:
		return v, nil
	}
	return nil, llm.ErrUnsupportedToolChoice.WithDetail("OpenAI does not support tool_choice as %T", choice)
}

func (c *Client) toolsRequest(tools []llm.Tool, messages []llm.Message, call llm.CallOptions) (openai.ChatCompletionRequest, error) {
	if c.completionMode {
		return openai.ChatCompletionRequest{}, llm.ErrNotSupported.WithDetail("tool calling needs a chat model, %s is bound to the completions endpoint", c.model)
	}
	choice, err := toolChoice(call)
	if err != nil {
		return openai.ChatCompletionRequest{}, err
	}
	req, err := c.chatRequest(messages, call)
	if err != nil {
		return req, err
	}
	if len(tools) > 0 {
		req.Tools = toOpenAITools(tools)
		req.ToolChoice = choice
		req.ParallelToolCalls = call.AllowParallelToolCalls
	}
	return req, nil
}

// ChatWithTools offers tools to the model alongside the conversation
func (c *Client) ChatWithTools(ctx context.Context, tools []llm.Tool, messages []llm.Message, opts ...llm.CallOption) (*llm.ChatResponse, error) {
	req, err := c.toolsRequest(tools, messages, llm.NewCallOptions(opts...))
	if err != nil {
		return nil, err
	}
	return c.createChat(ctx, req)
}

// StreamChatWithTools streams a reply; tool calls appear on the snapshot
// once their arguments are complete
func (c *Client) StreamChatWithTools(ctx context.Context, tools []llm.Tool, messages []llm.Message, opts ...llm.CallOption) (llm.ChatStream, error) {
	req, err := c.toolsRequest(tools, messages, llm.NewCallOptions(opts...))
	if err != nil {
		return nil, err
	}
	return c.createChatStream(ctx, req)
}

// ToolCallsFromResponse extracts the tool selections of a reply
func (c *Client) ToolCallsFromResponse(resp *llm.ChatResponse, errorOnNoToolCall bool) ([]llm.ToolSelection, error) {
	return llm.ToolSelectionsFromResponse(resp, errorOnNoToolCall)
}
