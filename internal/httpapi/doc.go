// ABOUTME: Package httpapi is the gateway's HTTP surface
// ABOUTME: JSON CRUD for conversations plus SSE delivery of streaming turns

// Package httpapi serves the gateway's HTTP API.
//
// Conversations and message history are plain JSON endpoints under
// /api/conversations. Posting a message starts a streaming turn whose
// events arrive as server-sent events on the same response; a dropped
// client can reattach to the running turn at /stream and backfill what
// it missed from /messages.
package httpapi
