// ABOUTME: HTTP API for conversations, message history, and streaming turns
// ABOUTME: Routes under /api/conversations with manual path dispatch

package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/brainhq/brain-gateway/internal/conversation"
	"github.com/brainhq/brain-gateway/internal/store"
)

// API exposes the gateway's HTTP surface.
type API struct {
	store  store.Store
	turns  *conversation.Service
	logger *slog.Logger
}

// New creates the HTTP API. Pass nil logger for default.
func New(st store.Store, turns *conversation.Service, logger *slog.Logger) *API {
	if logger == nil {
		logger = slog.Default()
	}
	return &API{
		store:  st,
		turns:  turns,
		logger: logger.With("component", "httpapi"),
	}
}

// Routes registers all handlers on the given mux.
func (a *API) Routes(mux *http.ServeMux) {
	mux.HandleFunc("/api/conversations", a.handleConversations)
	mux.HandleFunc("/api/conversations/", a.handleConversationRoutes)
	mux.HandleFunc("/health", a.handleHealth)
	mux.HandleFunc("/health/ready", a.handleReady)
}

// ConversationResponse is the JSON shape of a conversation.
type ConversationResponse struct {
	ID           string `json:"id"`
	Title        string `json:"title"`
	MessageCount int    `json:"message_count"`
	CreatedAt    string `json:"created_at"`
	UpdatedAt    string `json:"updated_at"`
}

// MessageResponse is the JSON shape of a message with its charts.
type MessageResponse struct {
	ID        string          `json:"id"`
	Role      string          `json:"role"`
	Content   string          `json:"content"`
	Sequence  int             `json:"sequence"`
	Status    string          `json:"status"`
	Charts    []ChartResponse `json:"charts,omitempty"`
	CreatedAt string          `json:"created_at"`
}

// ChartResponse is the JSON shape of a chart artifact.
type ChartResponse struct {
	ID      string          `json:"id"`
	Kind    string          `json:"kind"`
	Config  json.RawMessage `json:"config,omitempty"`
	Ordinal int             `json:"ordinal"`
	Outcome string          `json:"outcome"`
	Reason  string          `json:"reason,omitempty"`
}

// handleConversations handles /api/conversations: POST creates, GET lists.
func (a *API) handleConversations(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		a.createConversation(w, r)
	case http.MethodGet:
		a.listConversations(w, r)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (a *API) createConversation(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Title string `json:"title"`
	}
	if r.Body != nil {
		// An empty body is fine; the first message titles the conversation.
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err.Error() != "EOF" {
			a.sendJSONError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	conv := &store.Conversation{
		ID:    uuid.New().String(),
		Title: req.Title,
	}
	if err := a.store.CreateConversation(r.Context(), conv); err != nil {
		a.logger.Error("failed to create conversation", "error", err)
		a.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(conversationResponse(conv))
}

func (a *API) listConversations(w http.ResponseWriter, r *http.Request) {
	params := store.ListConversationsParams{}
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		parsed, err := strconv.Atoi(limitStr)
		if err != nil || parsed < 1 {
			a.sendJSONError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		params.Limit = parsed
	}
	if beforeStr := r.URL.Query().Get("before"); beforeStr != "" {
		before, err := time.Parse(time.RFC3339, beforeStr)
		if err != nil {
			a.sendJSONError(w, http.StatusBadRequest, "before must be an RFC3339 timestamp")
			return
		}
		params.BeforeUpdated = &before
	}

	convs, err := a.store.ListConversations(r.Context(), params)
	if err != nil {
		a.logger.Error("failed to list conversations", "error", err)
		a.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	response := make([]ConversationResponse, len(convs))
	for i, conv := range convs {
		response[i] = conversationResponse(conv)
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

// handleConversationRoutes dispatches /api/conversations/{id}[/suffix].
func (a *API) handleConversationRoutes(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/conversations/")
	conversationID, suffix, _ := strings.Cut(rest, "/")
	if conversationID == "" {
		a.sendJSONError(w, http.StatusBadRequest, "conversation_id is required")
		return
	}
	if _, err := uuid.Parse(conversationID); err != nil {
		a.sendJSONError(w, http.StatusBadRequest, "invalid conversation_id format")
		return
	}

	switch suffix {
	case "":
		a.handleConversation(w, r, conversationID)
	case "messages":
		a.handleMessages(w, r, conversationID)
	case "stream":
		a.handleStream(w, r, conversationID)
	case "cancel":
		a.handleCancel(w, r, conversationID)
	default:
		a.sendJSONError(w, http.StatusNotFound, "unknown endpoint")
	}
}

// handleConversation handles GET, PATCH, DELETE on a single conversation.
func (a *API) handleConversation(w http.ResponseWriter, r *http.Request, conversationID string) {
	switch r.Method {
	case http.MethodGet:
		conv, err := a.store.GetConversation(r.Context(), conversationID)
		if err != nil {
			a.sendStoreError(w, err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(conversationResponse(conv))

	case http.MethodPatch:
		var req struct {
			Title string `json:"title"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			a.sendJSONError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if strings.TrimSpace(req.Title) == "" {
			a.sendJSONError(w, http.StatusBadRequest, "title is required")
			return
		}
		if err := a.store.RenameConversation(r.Context(), conversationID, req.Title); err != nil {
			a.sendStoreError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)

	case http.MethodDelete:
		if err := a.store.SoftDeleteConversation(r.Context(), conversationID); err != nil {
			a.sendStoreError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)

	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// handleMessages handles GET (history) and POST (start a streaming turn).
func (a *API) handleMessages(w http.ResponseWriter, r *http.Request, conversationID string) {
	switch r.Method {
	case http.MethodGet:
		a.listMessages(w, r, conversationID)
	case http.MethodPost:
		a.startTurn(w, r, conversationID)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// listMessages returns history after an optional sequence cursor.
// ?after_sequence=N resumes where a dropped stream left off.
func (a *API) listMessages(w http.ResponseWriter, r *http.Request, conversationID string) {
	afterSequence := 0
	if afterStr := r.URL.Query().Get("after_sequence"); afterStr != "" {
		parsed, err := strconv.Atoi(afterStr)
		if err != nil || parsed < 0 {
			a.sendJSONError(w, http.StatusBadRequest, "after_sequence must be a non-negative integer")
			return
		}
		afterSequence = parsed
	}

	// Default 50, max 1000
	limit := 50
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		parsed, err := strconv.Atoi(limitStr)
		if err != nil || parsed < 1 {
			a.sendJSONError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = parsed
		if limit > 1000 {
			limit = 1000
		}
	}

	if _, err := a.store.GetConversation(r.Context(), conversationID); err != nil {
		a.sendStoreError(w, err)
		return
	}

	messages, err := a.store.ListMessages(r.Context(), conversationID, afterSequence, limit)
	if err != nil {
		a.logger.Error("failed to list messages", "error", err)
		a.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	response := struct {
		ConversationID string            `json:"conversation_id"`
		Messages       []MessageResponse `json:"messages"`
	}{
		ConversationID: conversationID,
		Messages:       make([]MessageResponse, len(messages)),
	}
	for i, msg := range messages {
		response.Messages[i] = messageResponse(msg)
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

// handleCancel handles POST /api/conversations/{id}/cancel.
func (a *API) handleCancel(w http.ResponseWriter, r *http.Request, conversationID string) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	handle, ok := a.turns.ActiveTurn(conversationID)
	if !ok {
		a.sendJSONError(w, http.StatusNotFound, "no active turn")
		return
	}
	handle.Cancel()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]string{"status": "cancelling", "turn_id": handle.TurnID})
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"status":       "ok",
		"active_turns": a.turns.ActiveTurns(),
	})
}

func (a *API) handleReady(w http.ResponseWriter, r *http.Request) {
	// Ready when the store answers; a broken database means not ready.
	if _, err := a.store.ListConversations(r.Context(), store.ListConversationsParams{Limit: 1}); err != nil {
		a.sendJSONError(w, http.StatusServiceUnavailable, "store unavailable")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ready"})
}

// sendStoreError maps store sentinels onto HTTP statuses.
func (a *API) sendStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		a.sendJSONError(w, http.StatusNotFound, "conversation not found")
	case errors.Is(err, store.ErrConversationDeleted):
		a.sendJSONError(w, http.StatusGone, "conversation deleted")
	default:
		a.logger.Error("store error", "error", err)
		a.sendJSONError(w, http.StatusInternalServerError, "internal server error")
	}
}

// sendJSONError writes a JSON error response.
func (a *API) sendJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

func conversationResponse(conv *store.Conversation) ConversationResponse {
	return ConversationResponse{
		ID:           conv.ID,
		Title:        conv.Title,
		MessageCount: conv.MessageCount,
		CreatedAt:    conv.CreatedAt.Format(time.RFC3339),
		UpdatedAt:    conv.UpdatedAt.Format(time.RFC3339),
	}
}

func messageResponse(msg *store.Message) MessageResponse {
	resp := MessageResponse{
		ID:        msg.ID,
		Role:      msg.Role,
		Content:   msg.Content,
		Sequence:  msg.Sequence,
		Status:    msg.Status,
		CreatedAt: msg.CreatedAt.Format(time.RFC3339),
	}
	for _, chart := range msg.Charts {
		resp.Charts = append(resp.Charts, ChartResponse{
			ID:      chart.ID,
			Kind:    chart.Kind,
			Config:  chart.Config,
			Ordinal: chart.Ordinal,
			Outcome: chart.Outcome,
			Reason:  chart.Reason,
		})
	}
	return resp
}
