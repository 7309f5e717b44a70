// Package factory provides provider registration and client construction
// for go-llmcore.
//
// Importing the package registers the gemini, openai and mock providers.
// Clients are created by provider name from an llm.ClientConfig:
//
//	f := factory.New()
//	client, err := f.CreateClient(ctx, llm.ClientConfig{
//	    Provider: "gemini",
//	    Model:    "gemini-2.0-flash",
//	    APIKey:   os.Getenv("GOOGLE_API_KEY"),
//	})
//
// FromEnv picks the provider from the environment and returns a ready LLM.
package factory
