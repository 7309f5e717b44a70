// Model metadata and capabilities
package llm

const (
	// DefaultContextWindow is assumed when a model reports no input limit
	DefaultContextWindow = 3900
	// DefaultNumOutput is assumed when a model reports no output limit
	DefaultNumOutput = 256
)

// Metadata describes the limits and capabilities of a bound model
type Metadata struct {
	ModelName     string `json:"model_name"`
	ContextWindow int    `json:"context_window"`
	NumOutput     int    `json:"num_output"`

	// IsChatModel selects the message-list code paths over single prompts
	IsChatModel bool `json:"is_chat_model"`
	// IsFunctionCallingModel enables native tool calling
	IsFunctionCallingModel bool `json:"is_function_calling_model"`
	// NativeStructuredOutput means the model can be constrained to a JSON schema
	NativeStructuredOutput bool `json:"native_structured_output"`
}

// DefaultMetadata returns metadata for an unknown chat model
func DefaultMetadata(model string) Metadata {
	return Metadata{
		ModelName:     model,
		ContextWindow: DefaultContextWindow,
		NumOutput:     DefaultNumOutput,
		IsChatModel:   true,
	}
}
