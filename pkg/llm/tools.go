// Tool contracts and tool selection
package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
)

// ToolMetadata describes a tool to the model
type ToolMetadata struct {
	Name        string `json:"name"`
	Description string `json:"description"`

	// Parameters is the JSON schema of the call arguments. Tools without
	// one are callable but never declared to a provider.
	Parameters map[string]any `json:"parameters,omitempty"`
}

// ToolOutput is the result of running a tool
type ToolOutput struct {
	Content   string         `json:"content"`
	ToolName  string         `json:"tool_name"`
	RawInput  map[string]any `json:"raw_input"`
	RawOutput any            `json:"raw_output"`
	IsError   bool           `json:"is_error,omitempty"`
}

func (o ToolOutput) String() string {
	return o.Content
}

// Tool is something the model can decide to call
type Tool interface {
	Metadata() ToolMetadata
	Call(ctx context.Context, kwargs map[string]any) (ToolOutput, error)
}

// ToolSelection is the model's decision to call one tool with arguments
type ToolSelection struct {
	ToolID     string         `json:"tool_id"`
	ToolName   string         `json:"tool_name"`
	ToolKwargs map[string]any `json:"tool_kwargs"`
}

// NewToolSelection builds a selection. Maps are kept, a json.RawMessage is
// decoded when it holds an object, and anything else becomes an empty map.
func NewToolSelection(id, name string, kwargs any) ToolSelection {
	return ToolSelection{ToolID: id, ToolName: name, ToolKwargs: coerceKwargs(kwargs)}
}

// UnmarshalJSON accepts any shape for tool_kwargs, falling back to {}
func (s *ToolSelection) UnmarshalJSON(data []byte) error {
	var raw struct {
		ToolID     string          `json:"tool_id"`
		ToolName   string          `json:"tool_name"`
		ToolKwargs json.RawMessage `json:"tool_kwargs"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("failed to unmarshal tool selection: %w", err)
	}
	*s = NewToolSelection(raw.ToolID, raw.ToolName, raw.ToolKwargs)
	return nil
}

func coerceKwargs(kwargs any) map[string]any {
	var m map[string]any
	switch kw := kwargs.(type) {
	case map[string]any:
		m = kw
	case map[string]string:
		m = make(map[string]any, len(kw))
		for k, v := range kw {
			m[k] = v
		}
	case json.RawMessage:
		var decoded map[string]any
		if json.Unmarshal(kw, &decoded) == nil && decoded != nil {
			return decoded
		}
	}
	return canonicalKwargs(m)
}

// canonicalKwargs returns m as JSON would decode it, numbers as float64, so
// a selection reads back unchanged after a JSON round trip
func canonicalKwargs(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	data, err := json.Marshal(m)
	if err != nil {
		return maps.Clone(m)
	}
	var out map[string]any
	if json.Unmarshal(data, &out) != nil || out == nil {
		return maps.Clone(m)
	}
	return out
}

// ToolSelectionsFromResponse reads the tool calls a chat response carries.
// With errorOnNoToolCall set, a response without calls is an error;
// otherwise the result is empty.
func ToolSelectionsFromResponse(resp *ChatResponse, errorOnNoToolCall bool) ([]ToolSelection, error) {
	var calls []ToolCall
	if resp != nil {
		calls = resp.Message.Extras.ToolCalls
	}
	if len(calls) == 0 {
		if errorOnNoToolCall {
			return nil, ErrNoToolCalls.WithDetail("got %d tool calls", len(calls))
		}
		return []ToolSelection{}, nil
	}

	selections := make([]ToolSelection, 0, len(calls))
	for _, tc := range calls {
		id := tc.ID
		if id == "" {
			id = tc.Name
		}
		selections = append(selections, NewToolSelection(id, tc.Name, tc.Args))
	}
	return selections, nil
}

// CallToolWithSelection runs the selected tool. Tool errors are returned,
// not folded into the output.
func CallToolWithSelection(ctx context.Context, sel ToolSelection, tools []Tool) (ToolOutput, error) {
	for _, t := range tools {
		if t.Metadata().Name != sel.ToolName {
			continue
		}
		out, err := t.Call(ctx, sel.ToolKwargs)
		if err != nil {
			return out, fmt.Errorf("tool %q failed: %w", sel.ToolName, err)
		}
		if out.ToolName == "" {
			out.ToolName = sel.ToolName
		}
		return out, nil
	}
	return ToolOutput{}, ErrToolNotFound.WithDetail("%q", sel.ToolName)
}

// FunctionTool adapts a typed Go function into a Tool. The parameter schema
// is reflected from In.
type FunctionTool[In any] struct {
	metadata ToolMetadata
	fn       func(context.Context, In) (string, error)
}

// NewFunctionTool creates a tool from fn
func NewFunctionTool[In any](name, description string, fn func(context.Context, In) (string, error)) (*FunctionTool[In], error) {
	var zero In
	params, err := SchemaFromStructAsMap(zero)
	if err != nil {
		return nil, fmt.Errorf("failed to build parameters of tool %q: %w", name, err)
	}
	return &FunctionTool[In]{
		metadata: ToolMetadata{Name: name, Description: description, Parameters: params},
		fn:       fn,
	}, nil
}

func (t *FunctionTool[In]) Metadata() ToolMetadata {
	return t.metadata
}

func (t *FunctionTool[In]) Call(ctx context.Context, kwargs map[string]any) (ToolOutput, error) {
	out := ToolOutput{ToolName: t.metadata.Name, RawInput: kwargs}

	var in In
	data, err := json.Marshal(kwargs)
	if err == nil {
		err = json.Unmarshal(data, &in)
	}
	if err != nil {
		out.IsError = true
		out.Content = err.Error()
		return out, fmt.Errorf("invalid arguments: %w", err)
	}

	result, err := t.fn(ctx, in)
	if err != nil {
		out.IsError = true
		out.Content = err.Error()
		return out, err
	}
	out.Content = result
	out.RawOutput = result
	return out, nil
}
