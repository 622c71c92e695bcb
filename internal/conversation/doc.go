// ABOUTME: Package conversation is the central orchestration layer for turns
// ABOUTME: All messages flow through here - history is the source of truth, not a side effect

// Package conversation runs streaming turns end to end.
//
// A turn starts by recording the user message, then streams generated
// text while dispatching chart intents concurrently, and ends with one
// atomic commit of the assistant message plus every chart artifact. The
// turn runs detached from the requesting client: a disconnect stops
// delivery, never persistence. The committed history is the source of
// truth; the live stream is a view of it being written.
package conversation
