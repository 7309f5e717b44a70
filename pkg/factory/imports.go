package factory

import (
	"context"

	"github.com/inercia/go-llmcore/pkg/llm"
	"github.com/inercia/go-llmcore/pkg/providers/gemini"
	"github.com/inercia/go-llmcore/pkg/providers/mock"
	"github.com/inercia/go-llmcore/pkg/providers/openai"
)

func init() {
	RegisterProvider("gemini", func(ctx context.Context, config llm.ClientConfig) (llm.Client, error) {
		return gemini.NewClient(ctx, config)
	})
	RegisterAlias("google", "gemini")

	RegisterProvider("openai", func(_ context.Context, config llm.ClientConfig) (llm.Client, error) {
		return openai.NewClient(config)
	})

	RegisterProvider("mock", func(_ context.Context, config llm.ClientConfig) (llm.Client, error) {
		return mock.NewClient(config.Model), nil
	})
	RegisterAlias("mocked", "mock")
}
