// ABOUTME: Mux merges one turn's text deltas and chart results into an ordered stream
// ABOUTME: Enforces streaming->draining->terminal and survives consumer disconnects

package stream

import (
	"log/slog"
	"sync"
	"time"
)

// State is the lifecycle phase of a turn's stream.
type State int

const (
	// StateStreaming accepts text chunks and chart results.
	StateStreaming State = iota
	// StateDraining accepts only late chart results; the text is finished.
	StateDraining
	// StateComplete is terminal: message_complete was emitted.
	StateComplete
	// StateFailed is terminal: error was emitted.
	StateFailed
	// StateCancelled is terminal: the turn was cancelled before completing.
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateStreaming:
		return "streaming"
	case StateDraining:
		return "draining"
	case StateComplete:
		return "complete"
	case StateFailed:
		return "failed"
	case StateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

func (s State) terminal() bool {
	return s == StateComplete || s == StateFailed || s == StateCancelled
}

// Options configures a Mux. Zero values select the defaults.
type Options struct {
	BufferSize        int           // output channel capacity, default 64
	HeartbeatInterval time.Duration // ping cadence while open, default 30s
}

// Mux is the single ordered outlet for one turn. Producers (the turn loop
// and chart coordinator goroutines) call its methods concurrently; events
// come out one at a time with monotonically increasing IDs and exactly one
// terminal event, after which the channel closes.
//
// The output channel is bounded: while a consumer is attached, producers
// suspend on a full buffer rather than drop, so a slow reader cannot force
// unbounded memory growth. Detach releases any suspended producer.
//
// The Mux outlives its consumer: after a disconnect, delivery stops but
// producers keep settling so the turn can persist its result. Terminal
// transitions are first-wins; later calls are no-ops.
type Mux struct {
	mu       sync.Mutex // guards state, detached, detachCh, nextID, chunks
	state    State
	detached bool
	detachCh chan struct{}
	nextID   int
	chunks   int

	sendMu sync.Mutex // serializes sends so ID order matches channel order
	out    chan Envelope

	stopOnce  sync.Once
	stopPings chan struct{}
	logger    *slog.Logger
}

// NewMux creates a stream for one turn and starts its heartbeat.
// Pass nil logger for default.
func NewMux(opts Options, logger *slog.Logger) *Mux {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.BufferSize <= 0 {
		opts.BufferSize = 64
	}
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = 30 * time.Second
	}
	m := &Mux{
		detachCh:  make(chan struct{}),
		out:       make(chan Envelope, opts.BufferSize),
		stopPings: make(chan struct{}),
		logger:    logger.With("component", "stream"),
	}
	go m.heartbeat(opts.HeartbeatInterval)
	return m
}

// Events returns the ordered event stream. It closes after the terminal
// event has been delivered (or dropped, if the consumer detached).
func (m *Mux) Events() <-chan Envelope {
	return m.out
}

// State reports the current lifecycle phase.
func (m *Mux) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Chunk emits one text delta. Chunks are only valid while streaming;
// anything after BeginDrain is a producer bug and gets dropped with a log.
func (m *Mux) Chunk(content string) {
	m.sendMu.Lock()
	defer m.sendMu.Unlock()
	sent := m.sendLocked(EventMessageChunk, ChunkData{Content: content}, func(s State) bool {
		return s == StateStreaming
	})
	if !sent {
		m.logger.Warn("dropping chunk outside streaming state")
		return
	}
	m.mu.Lock()
	m.chunks++
	m.mu.Unlock()
}

// ChartReady emits a rendered chart. Charts may land during streaming or
// draining, in whatever order the renderer finishes them.
func (m *Mux) ChartReady(data ChartReadyData) {
	m.sendMu.Lock()
	defer m.sendMu.Unlock()
	sent := m.sendLocked(EventChartReady, data, func(s State) bool { return !s.terminal() })
	if !sent {
		m.logger.Warn("dropping chart_ready after terminal event", "ordinal", data.Ordinal)
	}
}

// ChartOmitted reports a chart that failed or timed out. The stream stays
// healthy; consumers render the message without that artifact.
func (m *Mux) ChartOmitted(ordinal int, reason string) {
	m.sendMu.Lock()
	defer m.sendMu.Unlock()
	data := ChartOmittedData{Ordinal: ordinal, Reason: reason}
	m.sendLocked(EventChartOmitted, data, func(s State) bool { return !s.terminal() })
}

// BeginDrain marks the end of the text stream: a final empty chunk with
// is_final set, then only chart results may follow.
func (m *Mux) BeginDrain() {
	m.sendMu.Lock()
	defer m.sendMu.Unlock()
	m.mu.Lock()
	if m.state != StateStreaming {
		m.mu.Unlock()
		return
	}
	m.state = StateDraining
	m.mu.Unlock()
	m.sendLocked(EventMessageChunk, ChunkData{IsFinal: true}, func(s State) bool {
		return s == StateDraining
	})
}

// Complete emits the terminal success event and closes the stream.
func (m *Mux) Complete(data CompleteData) {
	m.terminate(StateComplete, EventMessageComplete, data)
}

// Fail emits the terminal error event and closes the stream.
func (m *Mux) Fail(code, message string) {
	m.terminate(StateFailed, EventError, ErrorData{ErrorCode: code, ErrorMessage: message})
}

// Cancel closes the stream for a turn abandoned before completion.
func (m *Mux) Cancel(reason string) {
	m.terminate(StateCancelled, EventError, ErrorData{ErrorCode: "cancelled", ErrorMessage: reason})
}

// Detach disconnects the consumer without ending the turn: events stop
// being delivered, suspended producers resume and drop, persistence still
// happens.
func (m *Mux) Detach() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.detached {
		return
	}
	m.detached = true
	close(m.detachCh)
	m.logger.Debug("consumer detached", "state", m.state.String(), "chunks", m.chunks)
}

// Attach resumes delivery for a reconnecting consumer. Events emitted
// while detached are gone; the client catches up from message history and
// follows the live stream from here. Envelope IDs expose the gap.
func (m *Mux) Attach() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.detached || m.state.terminal() {
		return
	}
	m.detached = false
	m.detachCh = make(chan struct{})
	m.logger.Debug("consumer attached", "state", m.state.String(), "next_id", m.nextID)
}

// terminate performs the first-wins terminal transition. The state flips
// before sendMu is taken so in-flight producers refuse on their next check;
// the channel closes only once the last suspended send has resolved.
func (m *Mux) terminate(state State, event string, data any) {
	m.mu.Lock()
	if m.state.terminal() {
		m.mu.Unlock()
		return
	}
	m.state = state
	m.mu.Unlock()

	m.stopOnce.Do(func() { close(m.stopPings) })

	m.sendMu.Lock()
	defer m.sendMu.Unlock()
	m.sendLocked(event, data, func(State) bool { return true })
	close(m.out)
}

// sendLocked assigns the next envelope ID and delivers it; callers hold
// sendMu. A full buffer suspends until the consumer reads or detaches;
// while detached the envelope is dropped but its ID is still consumed.
// Returns false if the allowed check refused the event.
func (m *Mux) sendLocked(event string, data any, allowed func(State) bool) bool {
	m.mu.Lock()
	if !allowed(m.state) {
		m.mu.Unlock()
		return false
	}
	env := Envelope{ID: m.nextID, Type: event, Data: data}
	m.nextID++
	detached := m.detached
	detachCh := m.detachCh
	m.mu.Unlock()

	if detached {
		return true
	}
	select {
	case m.out <- env:
	case <-detachCh:
	}
	return true
}

func (m *Mux) heartbeat(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stopPings:
			return
		case now := <-ticker.C:
			m.sendMu.Lock()
			m.sendLocked(EventPing, newPingData(now), func(s State) bool { return !s.terminal() })
			m.sendMu.Unlock()
		}
	}
}
