// ABOUTME: Adapter turning the generation client into a deadline-bounded event stream
// ABOUTME: Retries only the initial connection; never retries mid-stream

package generation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/brainhq/brain-gateway/internal/charts"
)

// ErrDeadlineExceeded is the terminal error when the overall generation
// deadline elapses mid-stream.
var ErrDeadlineExceeded = errors.New("generation deadline exceeded")

// ErrUnavailable wraps connection failures that exhausted the initial
// connect retries, before any content was delivered.
var ErrUnavailable = errors.New("generation service unavailable")

// EventKind discriminates adapter events.
type EventKind int

const (
	// EventDelta carries one content increment.
	EventDelta EventKind = iota
	// EventIntent carries one chart intent detected in the stream.
	EventIntent
	// EventDone is the terminal success event.
	EventDone
	// EventError is the terminal failure event.
	EventError
)

// Event is one element of the adapter's output stream. The stream is lazy
// and finite: exactly one terminal event (EventDone or EventError) closes it.
type Event struct {
	Kind   EventKind
	Text   string         // EventDelta
	Intent *charts.Intent // EventIntent
	Err    error          // EventError
}

// Adapter wraps a Client with the turn-level generation policy: an overall
// deadline measured from dispatch, bounded retries for the initial
// connection only, and chart-intent extraction from the delta stream.
// Restarting a stream means a brand-new Generate call.
type Adapter struct {
	client         Client
	timeout        time.Duration
	connectRetries int
	retryBackoff   time.Duration
	logger         *slog.Logger
}

// AdapterOptions configures an Adapter. Zero values select the defaults.
type AdapterOptions struct {
	Timeout        time.Duration // overall deadline, default 30s
	ConnectRetries int           // additional connection attempts, default 1 (2 attempts total)
	RetryBackoff   time.Duration // delay before each retry, default 500ms
}

// NewAdapter creates an Adapter around the given client.
// Pass nil logger for default.
func NewAdapter(client Client, opts AdapterOptions, logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.ConnectRetries < 0 {
		opts.ConnectRetries = 0
	} else if opts.ConnectRetries == 0 {
		opts.ConnectRetries = 1
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = 500 * time.Millisecond
	}
	return &Adapter{
		client:         client,
		timeout:        opts.Timeout,
		connectRetries: opts.ConnectRetries,
		retryBackoff:   opts.RetryBackoff,
		logger:         logger.With("component", "generation"),
	}
}

// Generate starts one generation turn and returns its event stream.
// The deadline clock starts now, covering connection attempts and
// streaming alike. The channel closes after the terminal event.
func (a *Adapter) Generate(ctx context.Context, req *Request) <-chan Event {
	out := make(chan Event, 16)
	go a.run(ctx, req, out)
	return out
}

func (a *Adapter) run(ctx context.Context, req *Request, out chan<- Event) {
	defer close(out)

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	chunks, err := a.connect(ctx, req)
	if err != nil {
		out <- Event{Kind: EventError, Err: err}
		return
	}

	extractor := newIntentExtractor(a.logger)
	delivered := 0

	for {
		select {
		case <-ctx.Done():
			// Mid-stream deadline or cancellation: one terminal error, no
			// retry — retrying would duplicate already-delivered content.
			out <- Event{Kind: EventError, Err: a.terminalErr(ctx)}
			return

		case chunk, ok := <-chunks:
			if !ok {
				for _, intent := range extractor.flush() {
					out <- Event{Kind: EventIntent, Intent: intent}
				}
				a.logger.Debug("generation stream complete", "deltas", delivered)
				out <- Event{Kind: EventDone}
				return
			}
			if chunk.Err != nil {
				out <- Event{Kind: EventError, Err: chunk.Err}
				return
			}

			delivered++
			out <- Event{Kind: EventDelta, Text: chunk.Text}
			for _, intent := range extractor.feed(chunk.Text) {
				out <- Event{Kind: EventIntent, Intent: intent}
			}
		}
	}
}

// connect attempts the initial connection, retrying with backoff while no
// content has been delivered yet.
func (a *Adapter) connect(ctx context.Context, req *Request) (<-chan Chunk, error) {
	var lastErr error
	attempts := a.connectRetries + 1

	for attempt := 1; attempt <= attempts; attempt++ {
		chunks, err := a.client.StreamGenerate(ctx, req)
		if err == nil {
			return chunks, nil
		}
		lastErr = err
		a.logger.Warn("generation connect failed",
			"attempt", attempt,
			"max_attempts", attempts,
			"error", err)

		if attempt < attempts {
			select {
			case <-time.After(a.retryBackoff * time.Duration(attempt)):
			case <-ctx.Done():
				return nil, a.terminalErr(ctx)
			}
		}
	}
	return nil, fmt.Errorf("%w after %d attempts: %v", ErrUnavailable, attempts, lastErr)
}

func (a *Adapter) terminalErr(ctx context.Context) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w (%s)", ErrDeadlineExceeded, a.timeout)
	}
	return ctx.Err()
}
