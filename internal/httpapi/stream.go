// ABOUTME: SSE delivery of turn event streams over HTTP
// ABOUTME: POST messages starts a turn; GET stream reattaches to a running one

package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/brainhq/brain-gateway/internal/conversation"
	"github.com/brainhq/brain-gateway/internal/session"
	"github.com/brainhq/brain-gateway/internal/store"
)

// startedEvent is the first SSE frame of every stream, carrying the
// identifiers a client needs to resume from history later.
type startedEvent struct {
	ConversationID string `json:"conversation_id"`
	TurnID         string `json:"turn_id"`
	UserMessageID  string `json:"user_message_id,omitempty"`
	UserSequence   int    `json:"user_sequence,omitempty"`
}

// startTurn handles POST /api/conversations/{id}/messages: one streaming
// turn delivered as SSE. A 409 means another turn already holds the
// conversation; retry after it ends or attach to its stream.
func (a *API) startTurn(w http.ResponseWriter, r *http.Request, conversationID string) {
	var req struct {
		Query string `json:"query"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.sendJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	// Check streaming support before starting the turn (fail fast)
	flusher, ok := w.(http.Flusher)
	if !ok {
		a.logger.Error("streaming not supported")
		a.sendJSONError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	a.startAndStream(w, r, flusher, conversationID, req.Query)
}

// startAndStream begins a turn and streams it; shared by the POST body
// path and the EventSource ?query= path.
func (a *API) startAndStream(w http.ResponseWriter, r *http.Request, flusher http.Flusher, conversationID, query string) {
	handle, err := a.turns.StartTurn(r.Context(), conversationID, query)
	if err != nil {
		switch {
		case errors.Is(err, conversation.ErrEmptyQuery):
			a.sendJSONError(w, http.StatusBadRequest, "query is required")
		case errors.Is(err, session.ErrTurnConflict):
			a.sendJSONError(w, http.StatusConflict, "a turn is already active for this conversation")
		case errors.Is(err, store.ErrNotFound):
			a.sendJSONError(w, http.StatusNotFound, "conversation not found")
		case errors.Is(err, store.ErrConversationDeleted):
			a.sendJSONError(w, http.StatusGone, "conversation deleted")
		default:
			a.logger.Error("failed to start turn", "error", err)
			a.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		}
		return
	}

	a.streamEvents(w, r, flusher, handle, startedEvent{
		ConversationID: handle.ConversationID,
		TurnID:         handle.TurnID,
		UserMessageID:  handle.UserMessageID,
		UserSequence:   handle.UserSequence,
	})
}

// handleStream handles GET /api/conversations/{id}/stream. With a ?query=
// parameter it starts a new turn (EventSource clients cannot POST);
// without one it reattaches to the conversation's in-flight turn. Events
// emitted while detached are gone; the client backfills from /messages
// using the started frame's sequence.
func (a *API) handleStream(w http.ResponseWriter, r *http.Request, conversationID string) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		a.logger.Error("streaming not supported")
		a.sendJSONError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	if query := r.URL.Query().Get("query"); query != "" {
		a.startAndStream(w, r, flusher, conversationID, query)
		return
	}

	handle, ok := a.turns.ActiveTurn(conversationID)
	if !ok {
		a.sendJSONError(w, http.StatusNotFound, "no active turn")
		return
	}
	handle.Attach()

	a.streamEvents(w, r, flusher, handle, startedEvent{
		ConversationID: handle.ConversationID,
		TurnID:         handle.TurnID,
	})
}

// streamEvents writes the turn's event stream as SSE until it closes or
// the client goes away. A disconnect detaches delivery only; the turn
// keeps running and its result is still persisted.
func (a *API) streamEvents(w http.ResponseWriter, r *http.Request, flusher http.Flusher, handle *conversation.TurnHandle, started startedEvent) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	a.writeSSEEvent(w, "started", started)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			handle.Detach()
			a.logger.Debug("client disconnected mid-turn",
				"conversation_id", handle.ConversationID,
				"turn_id", handle.TurnID)
			return

		case env, ok := <-handle.Events():
			if !ok {
				return
			}
			if err := env.WriteSSE(w); err != nil {
				handle.Detach()
				return
			}
			flusher.Flush()
		}
	}
}

// writeSSEEvent frames one ad-hoc SSE event (outside the turn envelope).
func (a *API) writeSSEEvent(w http.ResponseWriter, event string, data any) {
	dataJSON, err := json.Marshal(data)
	if err != nil {
		a.logger.Error("failed to marshal SSE data", "error", err)
		return
	}
	w.Write([]byte("event: " + event + "\ndata: " + string(dataJSON) + "\n\n"))
}
