// ABOUTME: Turn lock and session lifecycle management for conversations
// ABOUTME: Guarantees at most one active turn per conversation with watchdog force-release

package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrTurnConflict is returned by BeginTurn when a turn is already active
// for the conversation. There is no queuing: the caller must retry later.
var ErrTurnConflict = errors.New("a turn is already active for this conversation")

// Outcome describes how a turn ended.
type Outcome string

const (
	OutcomeComplete  Outcome = "complete"
	OutcomeFailed    Outcome = "failed"
	OutcomeCancelled Outcome = "cancelled"
)

// Turn is the handle for one active turn. Its context is the shared
// cancellation signal for the generation task and all chart tasks of the
// turn; it is cancelled when the turn ends or the watchdog fires.
type Turn struct {
	ID             string
	ConversationID string
	Query          string
	StartedAt      time.Time

	ctx    context.Context
	cancel context.CancelFunc
}

// Context returns the turn-scoped context shared by all of the turn's tasks.
func (t *Turn) Context() context.Context {
	return t.ctx
}

// Cancel cancels all work scoped to the turn. EndTurn still must be called
// to release the lock.
func (t *Turn) Cancel() {
	t.cancel()
}

// Manager owns the only cross-turn mutable state in the system: the
// per-conversation exclusive turn locks. All lock and release operations go
// through BeginTurn/EndTurn; a watchdog force-releases locks held past the
// maximum turn duration so a crashed turn can never wedge a conversation.
type Manager struct {
	mu      sync.Mutex
	active  map[string]*Turn // conversationID -> active turn
	maxTurn time.Duration
	logger  *slog.Logger

	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewManager creates a turn manager. maxTurnDuration bounds how long any
// turn may hold its lock (roughly twice the generation timeout plus
// drain). Pass nil logger for default.
func NewManager(maxTurnDuration time.Duration, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if maxTurnDuration <= 0 {
		maxTurnDuration = 90 * time.Second
	}
	m := &Manager{
		active:  make(map[string]*Turn),
		maxTurn: maxTurnDuration,
		logger:  logger.With("component", "session"),
		stopCh:  make(chan struct{}),
	}
	go m.watchdog()
	return m
}

// BeginTurn acquires the conversation's turn lock and returns a handle.
// Returns ErrTurnConflict if another turn is already active. ctx covers
// acquisition only; the turn context is derived from the background
// context, not the caller's: client disconnection must not cancel
// server-side work (see stream package).
func (m *Manager) BeginTurn(ctx context.Context, conversationID, query string) (*Turn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, busy := m.active[conversationID]; busy {
		return nil, ErrTurnConflict
	}

	ctx, cancel := context.WithCancel(context.Background())
	turn := &Turn{
		ID:             uuid.New().String(),
		ConversationID: conversationID,
		Query:          query,
		StartedAt:      time.Now(),
		ctx:            ctx,
		cancel:         cancel,
	}
	m.active[conversationID] = turn

	m.logger.Debug("turn started",
		"turn_id", turn.ID,
		"conversation_id", conversationID)
	return turn, nil
}

// EndTurn releases the conversation's turn lock and cancels the turn
// context. It is the only unlock path and is safe to call regardless of
// outcome; ending an already-released turn is a no-op.
func (m *Manager) EndTurn(turn *Turn, outcome Outcome) {
	m.mu.Lock()
	current, ok := m.active[turn.ConversationID]
	if ok && current.ID == turn.ID {
		delete(m.active, turn.ConversationID)
	}
	m.mu.Unlock()

	turn.cancel()

	if ok && current.ID == turn.ID {
		m.logger.Info("turn ended",
			"turn_id", turn.ID,
			"conversation_id", turn.ConversationID,
			"outcome", string(outcome),
			"duration", time.Since(turn.StartedAt))
	}
}

// ActiveTurns returns the number of currently active turns.
func (m *Manager) ActiveTurns() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.active)
}

// Close stops the watchdog and cancels every active turn.
func (m *Manager) Close() {
	m.stopOnce.Do(func() { close(m.stopCh) })

	m.mu.Lock()
	turns := make([]*Turn, 0, len(m.active))
	for _, t := range m.active {
		turns = append(turns, t)
	}
	m.active = make(map[string]*Turn)
	m.mu.Unlock()

	for _, t := range turns {
		t.cancel()
	}
}

// watchdog force-releases turns older than the maximum turn duration.
// A force-released turn's context is cancelled, which tears down its
// generation and chart tasks.
func (m *Manager) watchdog() {
	interval := m.maxTurn / 4
	if interval > 5*time.Second {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.reapExpired()
		}
	}
}

func (m *Manager) reapExpired() {
	now := time.Now()

	m.mu.Lock()
	var expired []*Turn
	for convID, turn := range m.active {
		if now.Sub(turn.StartedAt) > m.maxTurn {
			delete(m.active, convID)
			expired = append(expired, turn)
		}
	}
	m.mu.Unlock()

	for _, turn := range expired {
		turn.cancel()
		m.logger.Warn("turn force-released by watchdog",
			"turn_id", turn.ID,
			"conversation_id", turn.ConversationID,
			"age", now.Sub(turn.StartedAt))
	}
}
