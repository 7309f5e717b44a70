// Package llm provides abstractions and interfaces for Large Language Model clients.
//
// This package defines the primitives that all LLM providers must implement,
// and the orchestration built on top of them.
//
// The main components include:
//
// - Client interface: chat, completion, tool and structured primitives of a provider
// - LLM: prompt templating, output parsing and instrumentation over a Client
// - Structured output: native schema-constrained answers or prompted JSON
// - Tool system: tool contracts, selections and predict-and-call orchestration
// - Streaming: pull-based streams and the fragment accumulator used by adapters
// - Error handling: standardized error types and retry policy
//
// Provider implementations are located in separate packages under /pkg/providers/
// to maintain clean separation of concerns and avoid import cycles.
package llm
