package factory

import (
	"context"
	"strings"

	"github.com/inercia/go-llmcore/pkg/llm"
)

const DefaultProvider = "openai"

// Factory creates LLM clients based on configuration
type Factory struct{}

// New creates a new client factory
func New() *Factory {
	return &Factory{}
}

// CreateClient creates an LLM client based on the configuration
func (f *Factory) CreateClient(ctx context.Context, config llm.ClientConfig) (llm.Client, error) {
	provider := config.Provider
	if provider == "" {
		provider = DefaultProvider
	}
	provider = strings.ToLower(provider)

	if config.Model == "" {
		return nil, &llm.Error{
			Code:    "missing_model",
			Message: "model is required",
			Type:    llm.ErrorTypeValidation,
		}
	}

	constructor, exists := GetProvider(provider)
	if !exists {
		return nil, &llm.Error{
			Code:    "unsupported_provider",
			Message: "unsupported provider: " + provider,
			Type:    llm.ErrorTypeValidation,
		}
	}
	return constructor(ctx, config)
}

// NewLLM builds the client described by config and wraps it in an LLM
func (f *Factory) NewLLM(ctx context.Context, config llm.ClientConfig, opts ...llm.Option) (*llm.LLM, error) {
	client, err := f.CreateClient(ctx, config)
	if err != nil {
		return nil, err
	}
	return llm.New(client, opts...), nil
}

// FromEnv builds an LLM for the provider picked from the environment
func FromEnv(ctx context.Context, opts ...llm.Option) (*llm.LLM, error) {
	return New().NewLLM(ctx, llm.GetLLMFromEnv(), opts...)
}
