// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Provides conversation/message/chart persistence with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed. Use ":memory:" for tests.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS conversations (
			id            TEXT PRIMARY KEY,
			title         TEXT NOT NULL,
			next_sequence INTEGER NOT NULL DEFAULT 1,
			message_count INTEGER NOT NULL DEFAULT 0,
			created_at    TEXT NOT NULL,
			updated_at    TEXT NOT NULL,
			deleted_at    TEXT
		);

		CREATE INDEX IF NOT EXISTS idx_conversations_updated
			ON conversations(updated_at DESC);

		CREATE TABLE IF NOT EXISTS messages (
			id              TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL,
			role            TEXT NOT NULL,
			content         TEXT NOT NULL,
			sequence        INTEGER NOT NULL,
			status          TEXT NOT NULL DEFAULT 'complete',
			metadata        TEXT,
			created_at      TEXT NOT NULL,

			FOREIGN KEY (conversation_id) REFERENCES conversations(id),
			UNIQUE (conversation_id, sequence),
			CHECK (role IN ('user', 'assistant')),
			CHECK (status IN ('complete', 'truncated'))
		);

		CREATE INDEX IF NOT EXISTS idx_messages_conversation_sequence
			ON messages(conversation_id, sequence);

		CREATE TABLE IF NOT EXISTS chart_artifacts (
			id         TEXT PRIMARY KEY,
			message_id TEXT NOT NULL,
			kind       TEXT NOT NULL,
			config     TEXT,
			ordinal    INTEGER NOT NULL,
			outcome    TEXT NOT NULL,
			reason     TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL,

			FOREIGN KEY (message_id) REFERENCES messages(id),
			UNIQUE (message_id, ordinal),
			CHECK (outcome IN ('ready', 'omitted', 'rejected'))
		);

		CREATE INDEX IF NOT EXISTS idx_charts_message
			ON chart_artifacts(message_id, ordinal);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("executing schema: %w", err)
	}
	return nil
}

// Close closes the underlying database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// CreateConversation inserts a new conversation row
func (s *SQLiteStore) CreateConversation(ctx context.Context, conv *Conversation) error {
	if conv.NextSequence == 0 {
		conv.NextSequence = 1
	}
	query := `
		INSERT INTO conversations (id, title, next_sequence, message_count, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		conv.ID,
		conv.Title,
		conv.NextSequence,
		conv.MessageCount,
		conv.CreatedAt.UTC().Format(time.RFC3339Nano),
		conv.UpdatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("inserting conversation: %w", err)
	}

	s.logger.Debug("conversation created", "conversation_id", conv.ID)
	return nil
}

// GetConversation retrieves a conversation by ID.
// Returns ErrConversationDeleted for soft-deleted conversations.
func (s *SQLiteStore) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	query := `
		SELECT id, title, next_sequence, message_count, created_at, updated_at, deleted_at
		FROM conversations
		WHERE id = ?
	`
	conv, err := scanConversation(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, err
	}
	if conv.DeletedAt != nil {
		return nil, ErrConversationDeleted
	}
	return conv, nil
}

// ListConversations returns non-deleted conversations newest-updated first,
// using keyset pagination on updated_at.
func (s *SQLiteStore) ListConversations(ctx context.Context, params ListConversationsParams) ([]*Conversation, error) {
	limit := params.Limit
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}

	query := `
		SELECT id, title, next_sequence, message_count, created_at, updated_at, deleted_at
		FROM conversations
		WHERE deleted_at IS NULL
	`
	args := []any{}
	if params.BeforeUpdated != nil {
		query += " AND updated_at < ?"
		args = append(args, params.BeforeUpdated.UTC().Format(time.RFC3339Nano))
	}
	query += " ORDER BY updated_at DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying conversations: %w", err)
	}
	defer rows.Close()

	var convs []*Conversation
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		convs = append(convs, conv)
	}
	return convs, rows.Err()
}

// RenameConversation updates a conversation's title
func (s *SQLiteStore) RenameConversation(ctx context.Context, id, title string) error {
	query := `
		UPDATE conversations SET title = ?, updated_at = ?
		WHERE id = ? AND deleted_at IS NULL
	`
	res, err := s.db.ExecContext(ctx, query, title, time.Now().UTC().Format(time.RFC3339Nano), id)
	if err != nil {
		return fmt.Errorf("renaming conversation: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// SoftDeleteConversation marks a conversation deleted without removing rows.
// Retention and hard deletion are an external policy.
func (s *SQLiteStore) SoftDeleteConversation(ctx context.Context, id string) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	query := `
		UPDATE conversations SET deleted_at = ?, updated_at = ?
		WHERE id = ? AND deleted_at IS NULL
	`
	res, err := s.db.ExecContext(ctx, query, now, now, id)
	if err != nil {
		return fmt.Errorf("deleting conversation: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}

	s.logger.Info("conversation soft-deleted", "conversation_id", id)
	return nil
}

// AppendMessage writes a message with its chart artifacts in one transaction.
// The sequence is read from and advanced on the conversation row inside the
// same transaction, so numbers are assigned exactly once with no gaps even
// when a turn fails before reaching this point.
func (s *SQLiteStore) AppendMessage(ctx context.Context, msg *Message, charts []*ChartArtifact) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	var seq int
	var deletedAt sql.NullString
	row := tx.QueryRowContext(ctx,
		`SELECT next_sequence, deleted_at FROM conversations WHERE id = ?`,
		msg.ConversationID)
	if err := row.Scan(&seq, &deletedAt); err != nil {
		if err == sql.ErrNoRows {
			return 0, ErrNotFound
		}
		return 0, fmt.Errorf("reading sequence counter: %w", err)
	}
	if deletedAt.Valid {
		return 0, ErrConversationDeleted
	}

	now := time.Now().UTC()
	createdAt := msg.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}

	var metadata any
	if len(msg.Metadata) > 0 {
		metadata = string(msg.Metadata)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO messages (id, conversation_id, role, content, sequence, status, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		msg.ID,
		msg.ConversationID,
		msg.Role,
		msg.Content,
		seq,
		msg.Status,
		metadata,
		createdAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return 0, fmt.Errorf("inserting message: %w", err)
	}

	for _, chart := range charts {
		var config any
		if len(chart.Config) > 0 {
			config = string(chart.Config)
		}
		chartCreated := chart.CreatedAt
		if chartCreated.IsZero() {
			chartCreated = now
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO chart_artifacts (id, message_id, kind, config, ordinal, outcome, reason, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`,
			chart.ID,
			msg.ID,
			chart.Kind,
			config,
			chart.Ordinal,
			chart.Outcome,
			chart.Reason,
			chartCreated.Format(time.RFC3339Nano),
		)
		if err != nil {
			return 0, fmt.Errorf("inserting chart artifact %d: %w", chart.Ordinal, err)
		}
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE conversations
		SET next_sequence = next_sequence + 1,
		    message_count = message_count + 1,
		    updated_at = ?
		WHERE id = ?
	`, now.Format(time.RFC3339Nano), msg.ConversationID)
	if err != nil {
		return 0, fmt.Errorf("advancing sequence counter: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing message append: %w", err)
	}

	msg.Sequence = seq
	s.logger.Debug("message appended",
		"conversation_id", msg.ConversationID,
		"message_id", msg.ID,
		"role", msg.Role,
		"sequence", seq,
		"charts", len(charts),
	)
	return seq, nil
}

// ListMessages returns messages after the given sequence in ascending order,
// with chart artifacts attached in ordinal order.
func (s *SQLiteStore) ListMessages(ctx context.Context, conversationID string, afterSequence, limit int) ([]*Message, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, conversation_id, role, content, sequence, status, metadata, created_at
		FROM messages
		WHERE conversation_id = ? AND sequence > ?
		ORDER BY sequence ASC
		LIMIT ?
	`
	rows, err := s.db.QueryContext(ctx, query, conversationID, afterSequence, limit)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	var messages []*Message
	byID := make(map[string]*Message)
	for rows.Next() {
		msg := &Message{}
		var metadata sql.NullString
		var createdAt string
		if err := rows.Scan(
			&msg.ID,
			&msg.ConversationID,
			&msg.Role,
			&msg.Content,
			&msg.Sequence,
			&msg.Status,
			&metadata,
			&createdAt,
		); err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		if metadata.Valid {
			msg.Metadata = json.RawMessage(metadata.String)
		}
		msg.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		messages = append(messages, msg)
		byID[msg.ID] = msg
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(messages) == 0 {
		return messages, nil
	}

	if err := s.attachCharts(ctx, byID); err != nil {
		return nil, err
	}
	return messages, nil
}

// attachCharts loads chart artifacts for the given messages
func (s *SQLiteStore) attachCharts(ctx context.Context, byID map[string]*Message) error {
	ids := make([]any, 0, len(byID))
	placeholders := ""
	for id := range byID {
		if placeholders != "" {
			placeholders += ", "
		}
		placeholders += "?"
		ids = append(ids, id)
	}

	query := `
		SELECT id, message_id, kind, config, ordinal, outcome, reason, created_at
		FROM chart_artifacts
		WHERE message_id IN (` + placeholders + `)
		ORDER BY message_id, ordinal ASC
	`
	rows, err := s.db.QueryContext(ctx, query, ids...)
	if err != nil {
		return fmt.Errorf("querying chart artifacts: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		chart := &ChartArtifact{}
		var config sql.NullString
		var createdAt string
		if err := rows.Scan(
			&chart.ID,
			&chart.MessageID,
			&chart.Kind,
			&config,
			&chart.Ordinal,
			&chart.Outcome,
			&chart.Reason,
			&createdAt,
		); err != nil {
			return fmt.Errorf("scanning chart artifact: %w", err)
		}
		if config.Valid {
			chart.Config = json.RawMessage(config.String)
		}
		chart.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		if msg, ok := byID[chart.MessageID]; ok {
			msg.Charts = append(msg.Charts, chart)
		}
	}
	return rows.Err()
}

// RecentContext returns the newest limit messages as role/content pairs,
// oldest first, for use as generation context.
func (s *SQLiteStore) RecentContext(ctx context.Context, conversationID string, limit int) ([]ContextTurn, error) {
	if limit <= 0 {
		limit = 10
	}

	query := `
		SELECT role, content
		FROM messages
		WHERE conversation_id = ?
		ORDER BY sequence DESC
		LIMIT ?
	`
	rows, err := s.db.QueryContext(ctx, query, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying context: %w", err)
	}
	defer rows.Close()

	var turns []ContextTurn
	for rows.Next() {
		var t ContextTurn
		if err := rows.Scan(&t.Role, &t.Content); err != nil {
			return nil, fmt.Errorf("scanning context turn: %w", err)
		}
		turns = append(turns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Reverse to oldest-first
	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}
	return turns, nil
}

// rowScanner abstracts sql.Row and sql.Rows for scanConversation
type rowScanner interface {
	Scan(dest ...any) error
}

func scanConversation(row rowScanner) (*Conversation, error) {
	conv := &Conversation{}
	var createdAt, updatedAt string
	var deletedAt sql.NullString
	err := row.Scan(
		&conv.ID,
		&conv.Title,
		&conv.NextSequence,
		&conv.MessageCount,
		&createdAt,
		&updatedAt,
		&deletedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning conversation: %w", err)
	}

	conv.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	conv.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	if deletedAt.Valid {
		t, _ := time.Parse(time.RFC3339Nano, deletedAt.String)
		conv.DeletedAt = &t
	}
	return conv, nil
}
