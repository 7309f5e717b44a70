package llm

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// OutputParser turns raw model text into a value, and can add format
// instructions to a prompt so the model produces parseable text.
type OutputParser interface {
	// Format appends the parser's instructions to a prompt
	Format(prompt string) string
	// Parse converts model output
	Parse(output string) (any, error)
}

// FormatMessagesWithParser returns a copy of messages with the parser's
// instructions added to the first system message, or else to the last
// message.
func FormatMessagesWithParser(p OutputParser, messages []Message) []Message {
	out := CloneMessages(messages)
	if p == nil || len(out) == 0 {
		return out
	}
	idx := len(out) - 1
	for i, m := range out {
		if m.Role == RoleSystem {
			idx = i
			break
		}
	}
	out[idx].Content = p.Format(out[idx].Content)
	return out
}

const jsonFormatInstructions = "Here's a JSON schema to follow:\n%s\n\n" +
	"Output a valid JSON object but do not repeat the schema."

// JSONOutputParser parses model output into a T. Its format instructions
// carry the JSON schema of T.
type JSONOutputParser[T any] struct {
	schema string
}

// NewJSONOutputParser builds the parser for output type T
func NewJSONOutputParser[T any]() (*JSONOutputParser[T], error) {
	rs, err := ResponseSchemaFor[T]()
	if err != nil {
		return nil, err
	}
	schema, err := json.Marshal(rs.Schema)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal output schema: %w", err)
	}
	return &JSONOutputParser[T]{schema: string(schema)}, nil
}

// Schema returns the JSON schema embedded in the instructions
func (p *JSONOutputParser[T]) Schema() string {
	return p.schema
}

func (p *JSONOutputParser[T]) Format(prompt string) string {
	instructions := fmt.Sprintf(jsonFormatInstructions, p.schema)
	if prompt == "" {
		return instructions
	}
	return prompt + "\n\n" + instructions
}

func (p *JSONOutputParser[T]) Parse(output string) (any, error) {
	return p.ParseTyped(output)
}

// ParseTyped extracts the JSON object from output and decodes it. Failures
// are reported as *ValidationError.
func (p *JSONOutputParser[T]) ParseTyped(output string) (*T, error) {
	text := ExtractJSONFromResponse(output)
	if !isValidJSONStart(text) {
		return nil, &ValidationError{Output: output, Err: errors.New("no JSON object found in output")}
	}

	var v T
	if err := json.Unmarshal([]byte(text), &v); err != nil {
		return nil, &ValidationError{Output: output, Err: err}
	}
	return &v, nil
}

// ParsePartial decodes the JSON prefix of a still-streaming output into a
// fresh T. ok is false while the prefix cannot be decoded.
func ParsePartial[T any](output string) (*T, bool) {
	text, ok := ExtractPartialJSON(output)
	if !ok {
		return nil, false
	}
	var v T
	if err := json.Unmarshal([]byte(text), &v); err != nil {
		return nil, false
	}
	return &v, true
}

// DecodeStrict decodes a native structured answer. Empty answers, unknown
// fields and trailing data are rejected with ErrStructuredOutputMismatch.
func DecodeStrict[T any](output string) (*T, error) {
	text := strings.TrimSpace(output)
	if text == "" {
		return nil, ErrStructuredOutputMismatch.WithDetail("empty response")
	}

	dec := json.NewDecoder(bytes.NewReader([]byte(text)))
	dec.DisallowUnknownFields()

	var v T
	if err := dec.Decode(&v); err != nil {
		return nil, ErrStructuredOutputMismatch.Wrap(&ValidationError{Output: output, Err: err})
	}
	if dec.More() {
		return nil, ErrStructuredOutputMismatch.WithDetail("trailing data after JSON value")
	}
	return &v, nil
}
