// ABOUTME: Writer commits a turn's final message and chart artifacts durably
// ABOUTME: Retries transient storage failures on a detached timeout context

package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/brainhq/brain-gateway/internal/store"
)

// Writer performs the one durable write of a turn: the assistant message
// plus every chart artifact, committed atomically through AppendMessage.
// Each attempt runs on its own detached timeout context so the commit
// survives client disconnects; transient failures are retried with
// backoff, permanent ones are not.
type Writer struct {
	store    TurnStore
	attempts int
	backoff  time.Duration
	timeout  time.Duration
	logger   *slog.Logger
}

// WriterOptions configures a Writer. Zero values select the defaults.
type WriterOptions struct {
	Attempts int           // total commit attempts, default 3
	Backoff  time.Duration // initial delay between attempts, doubled each retry, default 100ms
	Timeout  time.Duration // per-attempt deadline, default 5s
}

// NewWriter creates a Writer over the given store.
// Pass nil logger for default.
func NewWriter(st TurnStore, opts WriterOptions, logger *slog.Logger) *Writer {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Attempts <= 0 {
		opts.Attempts = 3
	}
	if opts.Backoff <= 0 {
		opts.Backoff = 100 * time.Millisecond
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	return &Writer{
		store:    st,
		attempts: opts.Attempts,
		backoff:  opts.Backoff,
		timeout:  opts.Timeout,
		logger:   logger.With("component", "writer"),
	}
}

// Persist commits the message and its artifacts, returning the assigned
// sequence. AppendMessage is all-or-nothing, so a retry after a failed
// attempt can never produce a duplicate.
func (w *Writer) Persist(msg *store.Message, artifacts []*store.ChartArtifact) (int, error) {
	var lastErr error
	delay := w.backoff

	for attempt := 1; attempt <= w.attempts; attempt++ {
		seq, err := w.commit(msg, artifacts)
		if err == nil {
			if attempt > 1 {
				w.logger.Info("message committed after retry",
					"message_id", msg.ID,
					"attempt", attempt)
			}
			return seq, nil
		}
		lastErr = err

		if errors.Is(err, store.ErrNotFound) || errors.Is(err, store.ErrConversationDeleted) {
			return 0, err
		}

		w.logger.Warn("message commit failed",
			"message_id", msg.ID,
			"attempt", attempt,
			"max_attempts", w.attempts,
			"error", err)
		if attempt < w.attempts {
			time.Sleep(delay)
			delay *= 2
		}
	}
	return 0, fmt.Errorf("persisting message %s after %d attempts: %w", msg.ID, w.attempts, lastErr)
}

// commit runs one attempt on a context detached from the turn, so a
// cancelled or disconnected turn still gets its result written.
func (w *Writer) commit(msg *store.Message, artifacts []*store.ChartArtifact) (int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
	defer cancel()
	return w.store.AppendMessage(ctx, msg, artifacts)
}
