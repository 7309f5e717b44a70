// Package mock provides a scripted client implementation for testing
// go-llmcore applications.
//
// The mock implements llm.Client with queued responses, errors and raw
// stream fragments. Every call is logged so tests can assert on the messages,
// tools and schemas that reached the model. Streams built by the mock count
// how often they were opened and closed.
//
// When nothing is queued, the client answers with an echo of the last user
// message.
package mock
