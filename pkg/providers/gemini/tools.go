package gemini

import (
	"context"
	"slices"

	"google.golang.org/genai"

	"github.com/inercia/go-llmcore/pkg/llm"
)

// functionDeclarations declares the tools that carry a parameter schema
func functionDeclarations(tools []llm.Tool) []*genai.FunctionDeclaration {
	var decls []*genai.FunctionDeclaration
	for _, t := range tools {
		meta := t.Metadata()
		if meta.Parameters == nil {
			continue
		}
		decls = append(decls, &genai.FunctionDeclaration{
			Name:                 meta.Name,
			Description:          meta.Description,
			ParametersJsonSchema: meta.Parameters,
		})
	}
	return decls
}

// toolConfig maps a tool choice to the function calling mode. A nil choice
// means "auto", or "any" when a tool call is required. A tool name restricts
// the model to that tool; any other forcing choice allows every tool.
// Structured choices (maps and the like) are not supported.
func toolConfig(tools []llm.Tool, call llm.CallOptions) (*genai.ToolConfig, error) {
	names := make([]string, 0, len(tools))
	for _, t := range tools {
		names = append(names, t.Metadata().Name)
	}

	choice := call.ToolChoice
	if choice == nil {
		if call.ToolRequired {
			choice = "any"
		} else {
			choice = "auto"
		}
	}

	fc := &genai.FunctionCallingConfig{}
	switch v := choice.(type) {
	case string:
		switch v {
		case "auto":
			fc.Mode = genai.FunctionCallingConfigModeAuto
		case "none":
			fc.Mode = genai.FunctionCallingConfigModeNone
		default:
			fc.Mode = genai.FunctionCallingConfigModeAny
			if slices.Contains(names, v) {
				fc.AllowedFunctionNames = []string{v}
			} else {
				fc.AllowedFunctionNames = names
			}
		}
	case []string:
		fc.Mode = genai.FunctionCallingConfigModeAny
		for _, name := range v {
			if slices.Contains(names, name) {
				fc.AllowedFunctionNames = append(fc.AllowedFunctionNames, name)
			}
		}
		if len(fc.AllowedFunctionNames) == 0 {
			fc.AllowedFunctionNames = names
		}
	default:
		return nil, llm.ErrUnsupportedToolChoice.WithDetail("Gemini does not support tool_choice as %T", choice)
	}

	return &genai.ToolConfig{FunctionCallingConfig: fc}, nil
}

// prepareTools validates the tool choice and attaches declarations. It runs
// before any backend call.
func (c *Client) prepareTools(tools []llm.Tool, messages []llm.Message, call llm.CallOptions) (*request, error) {
	tc, err := toolConfig(tools, call)
	if err != nil {
		return nil, err
	}
	req, err := c.prepare(messages, call)
	if err != nil {
		return nil, err
	}

	decls := functionDeclarations(tools)
	if len(decls) == 0 {
		return req, nil
	}
	if c.builtInTool != nil {
		return nil, llm.ErrToolConflict
	}
	req.config.Tools = []*genai.Tool{{FunctionDeclarations: decls}}
	req.config.ToolConfig = tc
	return req, nil
}

// ChatWithTools offers tools to the model alongside the conversation
func (c *Client) ChatWithTools(ctx context.Context, tools []llm.Tool, messages []llm.Message, opts ...llm.CallOption) (*llm.ChatResponse, error) {
	req, err := c.prepareTools(tools, messages, llm.NewCallOptions(opts...))
	if err != nil {
		return nil, err
	}
	return c.generate(ctx, req)
}

// StreamChatWithTools streams a reply; tool calls accumulate on the snapshots
func (c *Client) StreamChatWithTools(ctx context.Context, tools []llm.Tool, messages []llm.Message, opts ...llm.CallOption) (llm.ChatStream, error) {
	req, err := c.prepareTools(tools, messages, llm.NewCallOptions(opts...))
	if err != nil {
		return nil, err
	}
	return c.generateStream(ctx, req), nil
}

// ToolCallsFromResponse extracts the tool selections of a reply
func (c *Client) ToolCallsFromResponse(resp *llm.ChatResponse, errorOnNoToolCall bool) ([]llm.ToolSelection, error) {
	return llm.ToolSelectionsFromResponse(resp, errorOnNoToolCall)
}
