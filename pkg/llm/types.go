// Core response types
package llm

// ChatResponse is the result of a chat call. In a stream, Message holds the
// accumulated snapshot and Delta the text added by the current frame.
type ChatResponse struct {
	ID      string  `json:"id,omitempty"`
	Message Message `json:"message"`
	Delta   string  `json:"delta,omitempty"`
	Raw     any     `json:"-"`
	Usage   *Usage  `json:"usage,omitempty"`
}

// CompletionResponse is the result of a single-prompt completion
type CompletionResponse struct {
	ID     string `json:"id,omitempty"`
	Text   string `json:"text"`
	Delta  string `json:"delta,omitempty"`
	Extras Extras `json:"additional_kwargs"`
	Raw    any    `json:"-"`
	Usage  *Usage `json:"usage,omitempty"`
}

// Usage represents token usage information
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Text returns the message content, or "" for a nil response
func (r *ChatResponse) Text() string {
	if r == nil {
		return ""
	}
	return r.Message.Content
}

// ToCompletion converts a chat response into a completion response
func (r *ChatResponse) ToCompletion() *CompletionResponse {
	if r == nil {
		return &CompletionResponse{}
	}
	return &CompletionResponse{
		ID:     r.ID,
		Text:   r.Message.Content,
		Delta:  r.Delta,
		Extras: r.Message.Extras,
		Raw:    r.Raw,
		Usage:  r.Usage,
	}
}

// ToChat converts a completion response into an assistant chat response
func (r *CompletionResponse) ToChat() *ChatResponse {
	if r == nil {
		return &ChatResponse{Message: Message{Role: RoleAssistant}}
	}
	return &ChatResponse{
		ID:      r.ID,
		Message: Message{Role: RoleAssistant, Content: r.Text, Extras: r.Extras},
		Delta:   r.Delta,
		Raw:     r.Raw,
		Usage:   r.Usage,
	}
}
