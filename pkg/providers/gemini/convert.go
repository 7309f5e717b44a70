package gemini

import (
	"io"
	"iter"
	"strings"

	"github.com/google/uuid"
	"google.golang.org/genai"

	"github.com/inercia/go-llmcore/pkg/llm"
)

// toContents converts messages to genai contents. System messages become
// the system instruction; tool results are sent as user function responses.
// Consecutive turns of the same role are merged, as the API requires
// alternating roles.
func toContents(messages []llm.Message) ([]*genai.Content, *genai.Content, error) {
	var system []string
	var contents []*genai.Content

	for _, msg := range messages {
		if msg.Role == llm.RoleSystem {
			if msg.Content != "" {
				system = append(system, msg.Content)
			}
			continue
		}

		parts := toParts(msg)
		if len(parts) == 0 {
			continue
		}

		role := genai.RoleUser
		if msg.Role == llm.RoleAssistant {
			role = genai.RoleModel
		}

		if n := len(contents); n > 0 && contents[n-1].Role == role {
			contents[n-1].Parts = append(contents[n-1].Parts, parts...)
			continue
		}
		contents = append(contents, &genai.Content{Role: role, Parts: parts})
	}

	if len(contents) == 0 {
		return nil, nil, llm.ErrEmptyMessages
	}

	var instruction *genai.Content
	if len(system) > 0 {
		instruction = genai.NewContentFromText(strings.Join(system, "\n"), genai.RoleUser)
	}
	return contents, instruction, nil
}

func toParts(msg llm.Message) []*genai.Part {
	if msg.Role == llm.RoleTool {
		name := msg.Extras.ToolName
		if name == "" {
			name = msg.Extras.ToolCallID
		}
		return []*genai.Part{{
			FunctionResponse: &genai.FunctionResponse{
				ID:       msg.Extras.ToolCallID,
				Name:     name,
				Response: map[string]any{"output": msg.Content},
			},
		}}
	}

	var parts []*genai.Part
	if msg.Content != "" {
		parts = append(parts, genai.NewPartFromText(msg.Content))
	}
	for _, tc := range msg.Extras.ToolCalls {
		parts = append(parts, &genai.Part{
			FunctionCall: &genai.FunctionCall{ID: tc.ID, Name: tc.Name, Args: tc.Args},
		})
	}
	return parts
}

// toGenaiConfig maps a merged generation config onto a fresh genai config
func toGenaiConfig(cfg llm.GenerationConfig) *genai.GenerateContentConfig {
	out := &genai.GenerateContentConfig{
		Temperature:      cfg.Temperature,
		TopP:             cfg.TopP,
		TopK:             cfg.TopK,
		StopSequences:    cfg.StopSequences,
		CachedContent:    cfg.CachedContent,
		ResponseMIMEType: cfg.ResponseMIMEType,
	}
	if cfg.MaxOutputTokens != nil {
		out.MaxOutputTokens = *cfg.MaxOutputTokens
	}
	if cfg.ResponseSchema != nil {
		out.ResponseJsonSchema = cfg.ResponseSchema
	}

	if seed, ok := int32Extra(cfg.Extra, "seed"); ok {
		out.Seed = &seed
	}
	if budget, ok := int32Extra(cfg.Extra, "thinking_budget"); ok {
		out.ThinkingConfig = &genai.ThinkingConfig{IncludeThoughts: true, ThinkingBudget: &budget}
	} else if include, _ := cfg.Extra["include_thoughts"].(bool); include {
		out.ThinkingConfig = &genai.ThinkingConfig{IncludeThoughts: true}
	}
	return out
}

func int32Extra(extra map[string]any, key string) (int32, bool) {
	switch v := extra[key].(type) {
	case int:
		return int32(v), true
	case int32:
		return v, true
	case int64:
		return int32(v), true
	case float64:
		return int32(v), true
	}
	return 0, false
}

// fragmentFromResponse normalizes one response frame. Only the first
// candidate is read.
func fragmentFromResponse(resp *genai.GenerateContentResponse) llm.Fragment {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return llm.Fragment{Empty: true}
	}

	f := llm.Fragment{
		ID:    resp.ResponseID,
		Raw:   resp,
		Usage: usageFrom(resp.UsageMetadata),
	}
	for _, p := range resp.Candidates[0].Content.Parts {
		if p == nil {
			continue
		}
		if p.Text != "" {
			f.Parts = append(f.Parts, llm.FragmentPart{Text: p.Text, Thought: p.Thought})
		}
		if p.FunctionCall != nil {
			f.ToolCalls = append(f.ToolCalls, llm.ToolCall{
				ID:   p.FunctionCall.ID,
				Name: p.FunctionCall.Name,
				Args: p.FunctionCall.Args,
			})
		}
	}
	return f
}

// chatFromResponse converts a complete response, reusing the fragment
// accumulator so both paths decode parts identically
func chatFromResponse(resp *genai.GenerateContentResponse) *llm.ChatResponse {
	snapshot, ok := llm.NewStreamAccumulator().Add(fragmentFromResponse(resp))
	if !ok {
		snapshot = &llm.ChatResponse{Message: llm.Message{Role: llm.RoleAssistant}, Raw: resp}
	}
	snapshot.Delta = ""
	if snapshot.ID == "" {
		snapshot.ID = "gemini-" + uuid.NewString()
	}
	return snapshot
}

func usageFrom(u *genai.GenerateContentResponseUsageMetadata) *llm.Usage {
	if u == nil {
		return nil
	}
	return &llm.Usage{
		PromptTokens:     int(u.PromptTokenCount),
		CompletionTokens: int(u.CandidatesTokenCount),
		TotalTokens:      int(u.TotalTokenCount),
	}
}

// newChatStream pulls frames from seq one at a time and folds them into
// snapshots. Close stops seq, releasing the connection.
func newChatStream(seq iter.Seq2[*genai.GenerateContentResponse, error]) llm.ChatStream {
	frames := llm.PullStream(seq)
	acc := llm.NewStreamAccumulator()
	id := "gemini-" + uuid.NewString()

	return llm.NewStream(func() (*llm.ChatResponse, error) {
		for {
			resp, err := frames.Next()
			if err == io.EOF {
				return nil, io.EOF
			}
			if err != nil {
				return nil, convertError(err)
			}
			snapshot, ok := acc.Add(fragmentFromResponse(resp))
			if !ok {
				continue
			}
			if snapshot.ID == "" {
				snapshot.ID = id
			}
			return snapshot, nil
		}
	}, frames.Close)
}
