// ABOUTME: Registry tracks live turn handles by conversation for reattachment
// ABOUTME: A reconnecting client finds its in-flight stream here, without polling

package conversation

import (
	"log/slog"
	"sync"
)

// Registry holds the turn handle for every in-flight turn, keyed by
// conversation ID. One turn per conversation at a time is enforced by the
// session manager; the registry only makes the live handle findable so a
// disconnected client can reattach to the stream mid-turn.
type Registry struct {
	mu     sync.RWMutex
	active map[string]*TurnHandle
	logger *slog.Logger
}

// NewRegistry creates a registry. Pass nil logger for default.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		active: make(map[string]*TurnHandle),
		logger: logger.With("component", "registry"),
	}
}

func (r *Registry) put(handle *TurnHandle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.active[handle.ConversationID] = handle
	r.logger.Debug("turn registered",
		"conversation_id", handle.ConversationID,
		"turn_id", handle.TurnID)
}

func (r *Registry) get(conversationID string) (*TurnHandle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	handle, ok := r.active[conversationID]
	return handle, ok
}

// remove drops the entry only if it still belongs to the given turn, so a
// slow cleanup can never evict a successor turn's handle.
func (r *Registry) remove(conversationID, turnID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	current, ok := r.active[conversationID]
	if !ok || current.TurnID != turnID {
		return
	}
	delete(r.active, conversationID)
	r.logger.Debug("turn deregistered",
		"conversation_id", conversationID,
		"turn_id", turnID)
}
