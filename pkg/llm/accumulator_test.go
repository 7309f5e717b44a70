package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStreamAccumulator(t *testing.T) {
	t.Parallel()

	acc := NewStreamAccumulator()

	_, ok := acc.Add(Fragment{Empty: true})
	assert.False(t, ok, "empty frames produce no snapshot")

	s1, ok := acc.Add(Fragment{ID: "r1", Parts: []FragmentPart{
		{Text: "let me think", Thought: true},
		{Text: "Hel"},
	}})
	require.True(t, ok)
	assert.Equal(t, "r1", s1.ID)
	assert.Equal(t, RoleAssistant, s1.Message.Role)
	assert.Equal(t, "Hel", s1.Message.Content)
	assert.Equal(t, "Hel", s1.Delta)
	assert.Equal(t, "let me think", s1.Message.Extras.Thoughts)

	s2, ok := acc.Add(Fragment{
		Parts:     []FragmentPart{{Text: "lo"}},
		ToolCalls: []ToolCall{{ID: "c1", Name: "add", Args: map[string]any{"a": 1}}},
	})
	require.True(t, ok)
	assert.Equal(t, "Hello", s2.Message.Content)
	assert.Equal(t, "lo", s2.Delta)
	assert.Equal(t, "let me think", s2.Message.Extras.Thoughts)
	require.Len(t, s2.Message.Extras.ToolCalls, 1)

	s3, ok := acc.Add(Fragment{ToolCalls: []ToolCall{{ID: "c2", Name: "mul"}}})
	require.True(t, ok)
	assert.Equal(t, "Hello", s3.Message.Content)
	assert.Empty(t, s3.Delta)
	assert.Len(t, s3.Message.Extras.ToolCalls, 2)
	assert.Len(t, s2.Message.Extras.ToolCalls, 1, "earlier snapshots are not mutated")

	assert.Equal(t, "Hello", acc.Content())
	assert.Equal(t, "let me think", acc.Thoughts())
	assert.Len(t, acc.ToolCalls(), 2)
}

func TestStreamAccumulator_ThoughtsNeverReachContent(t *testing.T) {
	t.Parallel()

	acc := NewStreamAccumulator()
	snap, ok := acc.Add(Fragment{Parts: []FragmentPart{{Text: "hidden", Thought: true}}})
	require.True(t, ok)
	assert.Empty(t, snap.Message.Content)
	assert.Empty(t, snap.Delta)
	assert.Equal(t, "hidden", snap.Message.Extras.Thoughts)
}
