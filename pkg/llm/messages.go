// Message types and functionality
package llm

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"strings"
)

// MessageRole defines the role of a message sender
type MessageRole string

const (
	RoleSystem    MessageRole = "system"
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
	RoleTool      MessageRole = "tool"
)

// ToolCall is a tool invocation requested by the model
type ToolCall struct {
	ID   string         `json:"id,omitempty"`
	Name string         `json:"name"`
	Args map[string]any `json:"args"`
}

// Extras is the provider side channel attached to a message: tool calls,
// reasoning text and anything else the provider reports.
type Extras struct {
	ToolCalls  []ToolCall
	Thoughts   string
	ToolCallID string
	ToolName   string

	// Extra holds provider keys with no dedicated field
	Extra map[string]any
}

// IsZero reports whether the side channel carries nothing
func (e Extras) IsZero() bool {
	return len(e.ToolCalls) == 0 && e.Thoughts == "" && e.ToolCallID == "" &&
		e.ToolName == "" && len(e.Extra) == 0
}

const (
	extrasToolCalls  = "tool_calls"
	extrasThoughts   = "thoughts"
	extrasToolCallID = "tool_call_id"
	extrasToolName   = "name"
)

// MarshalJSON flattens Extra next to the known keys
func (e Extras) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(e.Extra)+4)
	for k, v := range e.Extra {
		out[k] = v
	}
	if len(e.ToolCalls) > 0 {
		out[extrasToolCalls] = e.ToolCalls
	}
	if e.Thoughts != "" {
		out[extrasThoughts] = e.Thoughts
	}
	if e.ToolCallID != "" {
		out[extrasToolCallID] = e.ToolCallID
	}
	if e.ToolName != "" {
		out[extrasToolName] = e.ToolName
	}
	return json.Marshal(out)
}

// UnmarshalJSON splits known keys into their fields and keeps the rest in Extra
func (e *Extras) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("failed to unmarshal message extras: %w", err)
	}

	*e = Extras{}
	for k, v := range raw {
		var err error
		switch k {
		case extrasToolCalls:
			err = json.Unmarshal(v, &e.ToolCalls)
		case extrasThoughts:
			err = json.Unmarshal(v, &e.Thoughts)
		case extrasToolCallID:
			err = json.Unmarshal(v, &e.ToolCallID)
		case extrasToolName:
			err = json.Unmarshal(v, &e.ToolName)
		default:
			var val any
			if err = json.Unmarshal(v, &val); err == nil {
				if e.Extra == nil {
					e.Extra = make(map[string]any)
				}
				e.Extra[k] = val
			}
		}
		if err != nil {
			return fmt.Errorf("failed to unmarshal extras key %q: %w", k, err)
		}
	}
	return nil
}

// Clone returns a copy that shares no slices or maps with e
func (e Extras) Clone() Extras {
	cp := e
	if e.ToolCalls != nil {
		cp.ToolCalls = make([]ToolCall, len(e.ToolCalls))
		for i, tc := range e.ToolCalls {
			cp.ToolCalls[i] = ToolCall{ID: tc.ID, Name: tc.Name, Args: deepCopyMap(tc.Args)}
		}
	}
	cp.Extra = deepCopyMap(e.Extra)
	return cp
}

// Message is a single chat message. Content "" means no text.
type Message struct {
	Role    MessageRole `json:"role"`
	Content string      `json:"content,omitempty"`
	Extras  Extras      `json:"additional_kwargs"`
}

// NewTextMessage creates a plain text message
func NewTextMessage(role MessageRole, text string) Message {
	return Message{Role: role, Content: text}
}

// NewToolResultMessage creates the message reporting a tool result back to the model
func NewToolResultMessage(callID, toolName, content string) Message {
	return Message{
		Role:    RoleTool,
		Content: content,
		Extras:  Extras{ToolCallID: callID, ToolName: toolName},
	}
}

// HasToolCalls checks if the message contains any tool calls
func (m Message) HasToolCalls() bool {
	return len(m.Extras.ToolCalls) > 0
}

// WithContent returns a copy of the message with its text replaced
func (m Message) WithContent(text string) Message {
	cp := m.Clone()
	cp.Content = text
	return cp
}

// Clone returns a deep copy of the message
func (m Message) Clone() Message {
	return Message{Role: m.Role, Content: m.Content, Extras: m.Extras.Clone()}
}

// String renders the message as "role: content"
func (m Message) String() string {
	return string(m.Role) + ": " + m.Content
}

// CloneMessages deep copies a message list
func CloneMessages(messages []Message) []Message {
	if messages == nil {
		return nil
	}
	out := make([]Message, len(messages))
	for i, m := range messages {
		out[i] = m.Clone()
	}
	return out
}

// MessagesToPrompt renders a conversation as a single prompt for
// completion-only models, ending with an open assistant turn.
func MessagesToPrompt(messages []Message) string {
	lines := make([]string, 0, len(messages))
	for _, m := range messages {
		lines = append(lines, m.String())
	}
	return strings.Join(lines, "\n") + "\n" + string(RoleAssistant) + ": "
}

func deepCopyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := maps.Clone(m)
	for k, v := range out {
		out[k] = deepCopyValue(v)
	}
	return out
}

// deepCopyValue copies the JSON-like values found in tool arguments
func deepCopyValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return deepCopyMap(val)
	case []any:
		out := slices.Clone(val)
		for i, item := range out {
			out[i] = deepCopyValue(item)
		}
		return out
	case []byte:
		return slices.Clone(val)
	default:
		return val
	}
}
