// ABOUTME: Package generation streams model output and extracts chart intents
// ABOUTME: Adapter enforces the turn deadline and connect-only retry policy

// Package generation talks to the upstream generation service.
//
// Client is the transport boundary: HTTPClient implements it over an
// SSE chat-completions endpoint. Adapter layers the turn policy on top —
// an overall deadline from dispatch, retries for the initial connection
// only, and incremental extraction of ```json:chart fenced blocks into
// chart intents. Consumers receive one finite event stream per turn
// with exactly one terminal event.
package generation
