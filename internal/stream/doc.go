// ABOUTME: Package stream carries one turn's ordered event flow to its consumer
// ABOUTME: Mux merges producers; Envelope frames events for SSE delivery

// Package stream merges a turn's concurrent producers — the generation
// loop emitting text and the chart coordinator settling renders — into a
// single strictly ordered event stream with exactly one terminal event.
//
// The stream's lifecycle is streaming → draining → terminal. A consumer
// disconnect detaches delivery without ending the turn: the message is
// still persisted and readable from history afterwards.
package stream
