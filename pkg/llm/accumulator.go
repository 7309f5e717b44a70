package llm

import (
	"slices"
	"strings"
)

// FragmentPart is one text part of a streamed frame
type FragmentPart struct {
	Text    string
	Thought bool
}

// Fragment is one provider stream frame, normalized
type Fragment struct {
	// Empty marks frames without any candidate content (heartbeats)
	Empty bool

	ID        string
	Parts     []FragmentPart
	ToolCalls []ToolCall
	Raw       any
	Usage     *Usage
}

// StreamAccumulator folds stream fragments into running snapshots. It
// belongs to a single stream and is not safe for concurrent use.
type StreamAccumulator struct {
	content   strings.Builder
	thoughts  strings.Builder
	toolCalls []ToolCall
}

// NewStreamAccumulator returns an empty accumulator
func NewStreamAccumulator() *StreamAccumulator {
	return &StreamAccumulator{}
}

// Add folds f into the running state and returns the snapshot to emit.
// Empty frames are skipped and report false.
//
// Snapshots only grow: content and thoughts are appended to and tool calls
// are extended, never replaced. Thought parts never reach content or Delta.
func (a *StreamAccumulator) Add(f Fragment) (*ChatResponse, bool) {
	if f.Empty {
		return nil, false
	}

	var delta strings.Builder
	for _, p := range f.Parts {
		if p.Text == "" {
			continue
		}
		if p.Thought {
			a.thoughts.WriteString(p.Text)
			continue
		}
		a.content.WriteString(p.Text)
		delta.WriteString(p.Text)
	}
	a.toolCalls = append(a.toolCalls, f.ToolCalls...)

	return &ChatResponse{
		ID: f.ID,
		Message: Message{
			Role:    RoleAssistant,
			Content: a.content.String(),
			Extras: Extras{
				ToolCalls: slices.Clone(a.toolCalls),
				Thoughts:  a.thoughts.String(),
			},
		},
		Delta: delta.String(),
		Raw:   f.Raw,
		Usage: f.Usage,
	}, true
}

// Content returns the accumulated answer text
func (a *StreamAccumulator) Content() string {
	return a.content.String()
}

// Thoughts returns the accumulated reasoning text
func (a *StreamAccumulator) Thoughts() string {
	return a.thoughts.String()
}

// ToolCalls returns the tool calls seen so far
func (a *StreamAccumulator) ToolCalls() []ToolCall {
	return slices.Clone(a.toolCalls)
}
