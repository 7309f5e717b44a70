// Package openai provides an OpenAI client implementation for the go-llmcore library.
//
// This package implements the llm.Client interface for OpenAI models and
// OpenAI-compatible endpoints, on either the chat completions or the legacy
// completions endpoint.
//
// Features:
// - Chat and completion calls, streaming included
// - Function calling with tool choice control
// - Native structured output through json_schema response formats
// - Reasoning text kept apart from the answer
// - Retry with exponential backoff on non-streaming calls
//
// A client in completion mode (WithCompletionMode, or the "completion_mode"
// extra of llm.ClientConfig) reports itself as a non-chat model, so the
// orchestration layer renders conversations to prompts.
package openai
