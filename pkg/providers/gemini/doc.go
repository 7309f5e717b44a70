// Package gemini provides an LLM client for Google Gemini models.
//
// This provider implements the llm.Client interface for Google's Gemini API
// using the official Google Gen AI library, on either the Gemini API or
// Vertex AI backend.
//
// Key features:
//   - Chat, completion and streaming with thought/answer separation
//   - Native structured output through JSON schema constrained responses
//   - Function calling with tool choice control
//   - Built-in provider tools and cached content
//   - Retry with exponential backoff on non-streaming calls
//   - Automatic error conversion to standardized format
//
// The client automatically registers itself with the provider registry
// of the factory package.
//
// Usage:
//
//	config := llm.ClientConfig{
//	    Provider:   "gemini",
//	    APIKey:     "your-api-key",
//	    Model:      "gemini-2.0-flash",
//	    MaxRetries: 3,
//	}
//	client, err := gemini.NewClient(ctx, config, gemini.WithFunctionCalling(true))
package gemini
