// ABOUTME: Store interface and data types for brain-gateway persistence
// ABOUTME: Defines Conversation, Message, ChartArtifact and the Store interface

package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrConversationDeleted is returned when operating on a soft-deleted conversation
var ErrConversationDeleted = errors.New("conversation deleted")

// Role constants for message authorship
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// MessageStatus constants
const (
	// MessageStatusComplete marks a fully generated message.
	MessageStatusComplete = "complete"
	// MessageStatusTruncated marks a message whose generation failed after
	// partial content had already been streamed.
	MessageStatusTruncated = "truncated"
)

// ChartOutcome constants for chart artifact results
const (
	// ChartOutcomeReady means the chart service returned a renderable config.
	ChartOutcomeReady = "ready"
	// ChartOutcomeOmitted means the chart call timed out or failed and the
	// artifact is recorded as degraded rather than failing the message.
	ChartOutcomeOmitted = "omitted"
	// ChartOutcomeRejected means the intent exceeded the per-message cap.
	ChartOutcomeRejected = "rejected"
)

// Conversation groups an ordered sequence of messages for one user dialog.
// NextSequence is the durable per-conversation counter; it is only ever
// advanced inside the AppendMessage transaction.
type Conversation struct {
	ID           string
	Title        string
	NextSequence int
	MessageCount int
	CreatedAt    time.Time
	UpdatedAt    time.Time
	DeletedAt    *time.Time
}

// Message is a single user or assistant message within a conversation.
// Sequence is unique and strictly increasing within the conversation with
// no gaps; it is assigned exactly once, at commit time.
type Message struct {
	ID             string
	ConversationID string
	Role           string // "user" or "assistant"
	Content        string
	Sequence       int
	Status         string // "complete" or "truncated"
	Metadata       json.RawMessage
	CreatedAt      time.Time

	// Charts are the chart artifacts attached to this message, in ordinal
	// order. Populated by ListMessages; ignored on write (pass charts to
	// AppendMessage explicitly).
	Charts []*ChartArtifact
}

// ChartArtifact records the outcome of one chart intent detected in an
// assistant message. Ordinal is the intent position fixed at detection
// time, independent of which chart call finished first. Artifacts are only
// ever written in the same transaction as their owning message.
type ChartArtifact struct {
	ID        string
	MessageID string
	Kind      string
	Config    json.RawMessage // renderable config; nil unless outcome is "ready"
	Ordinal   int
	Outcome   string // "ready", "omitted" or "rejected"
	Reason    string // human-readable reason for omitted/rejected
	CreatedAt time.Time
}

// ContextTurn is a role/content pair used as generation context.
type ContextTurn struct {
	Role    string
	Content string
}

// ListConversationsParams controls keyset pagination over conversations.
type ListConversationsParams struct {
	Limit         int        // defaults to 20, capped at 100
	BeforeUpdated *time.Time // only conversations updated strictly before this time
}

// Store defines the interface for conversation and message persistence.
// It is the single source of truth read by history queries; the streaming
// core never touches storage except through this interface.
type Store interface {
	// Conversations
	CreateConversation(ctx context.Context, conv *Conversation) error
	GetConversation(ctx context.Context, id string) (*Conversation, error)
	ListConversations(ctx context.Context, params ListConversationsParams) ([]*Conversation, error)
	RenameConversation(ctx context.Context, id, title string) error
	SoftDeleteConversation(ctx context.Context, id string) error

	// AppendMessage atomically writes one message together with all of its
	// chart artifacts and assigns the message sequence from the
	// conversation's counter, all in a single transaction. The message is
	// not visible to any reader before the commit succeeds. Returns the
	// assigned sequence.
	AppendMessage(ctx context.Context, msg *Message, charts []*ChartArtifact) (int, error)

	// ListMessages returns messages with sequence > afterSequence in
	// ascending sequence order, charts attached in ordinal order.
	ListMessages(ctx context.Context, conversationID string, afterSequence, limit int) ([]*Message, error)

	// RecentContext returns the last limit role/content pairs for the
	// conversation, oldest first, for use as generation context.
	RecentContext(ctx context.Context, conversationID string, limit int) ([]ContextTurn, error)

	// Close releases any resources held by the store
	Close() error
}
