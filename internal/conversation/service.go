// ABOUTME: Service orchestrates one streaming turn end to end
// ABOUTME: Record first, then generate; the durable message is the source of truth

package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/brainhq/brain-gateway/internal/charts"
	"github.com/brainhq/brain-gateway/internal/generation"
	"github.com/brainhq/brain-gateway/internal/session"
	"github.com/brainhq/brain-gateway/internal/store"
	"github.com/brainhq/brain-gateway/internal/stream"
)

// ErrEmptyQuery rejects turns with no user content.
var ErrEmptyQuery = errors.New("query must not be empty")

// maxTitleRunes bounds auto-derived conversation titles.
const maxTitleRunes = 50

// TurnStore defines what the service needs from storage.
type TurnStore interface {
	GetConversation(ctx context.Context, id string) (*store.Conversation, error)
	RenameConversation(ctx context.Context, id, title string) error
	AppendMessage(ctx context.Context, msg *store.Message, charts []*store.ChartArtifact) (int, error)
	RecentContext(ctx context.Context, conversationID string, limit int) ([]store.ContextTurn, error)
}

// Generator defines what the service needs from the generation layer.
type Generator interface {
	Generate(ctx context.Context, req *generation.Request) <-chan generation.Event
}

// ChartDispatcher defines what the service needs from the chart layer.
type ChartDispatcher interface {
	Dispatch(ctx context.Context, intents []*charts.Intent) <-chan charts.Result
}

// Service runs streaming turns. One turn: record the user message, stream
// generated text, dispatch chart intents as they appear, merge everything
// into one ordered event stream, and commit the assistant message with all
// chart artifacts in a single atomic write.
type Service struct {
	store        TurnStore
	generator    Generator
	charts       ChartDispatcher
	sessions     *session.Manager
	writer       *Writer
	registry     *Registry
	historyLimit int
	streamOpts   stream.Options
	logger       *slog.Logger
}

// Options configures a Service. Zero values select the defaults.
type Options struct {
	HistoryLimit int // generation context depth, default 10 turns
	Stream       stream.Options
	Writer       WriterOptions
}

// New creates a conversation Service. Pass nil logger for default.
func New(st TurnStore, gen Generator, dispatcher ChartDispatcher, sessions *session.Manager, opts Options, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = 10
	}
	return &Service{
		store:        st,
		generator:    gen,
		charts:       dispatcher,
		sessions:     sessions,
		writer:       NewWriter(st, opts.Writer, logger),
		registry:     NewRegistry(logger),
		historyLimit: opts.HistoryLimit,
		streamOpts:   opts.Stream,
		logger:       logger.With("component", "conversation"),
	}
}

// TurnHandle is the caller's view of a running turn: the recorded user
// message plus the live event stream. The turn itself runs detached from
// the caller's context; dropping the handle does not stop it.
type TurnHandle struct {
	ConversationID string
	TurnID         string
	UserMessageID  string
	UserSequence   int

	mux  *stream.Mux
	turn *session.Turn
}

// Events returns the turn's ordered event stream.
func (h *TurnHandle) Events() <-chan stream.Envelope {
	return h.mux.Events()
}

// Detach stops event delivery without stopping the turn.
func (h *TurnHandle) Detach() { h.mux.Detach() }

// Attach resumes event delivery for a reconnecting consumer.
func (h *TurnHandle) Attach() { h.mux.Attach() }

// Cancel stops the turn. Content already streamed is still persisted.
func (h *TurnHandle) Cancel() { h.turn.Cancel() }

// State reports the stream's lifecycle phase.
func (h *TurnHandle) State() stream.State { return h.mux.State() }

// StartTurn begins one streaming turn. The user message is recorded before
// generation starts, so a record exists even if everything after fails.
// Returns session.ErrTurnConflict while another turn is active on the
// conversation, store.ErrNotFound for unknown or deleted conversations.
func (s *Service) StartTurn(ctx context.Context, conversationID, query string) (*TurnHandle, error) {
	if strings.TrimSpace(query) == "" {
		return nil, ErrEmptyQuery
	}

	conv, err := s.store.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	turn, err := s.sessions.BeginTurn(ctx, conversationID, query)
	if err != nil {
		return nil, err
	}

	// History is read before the user message lands so the query is not
	// duplicated into its own context window.
	history, err := s.store.RecentContext(ctx, conversationID, s.historyLimit)
	if err != nil {
		s.logger.Warn("history unavailable, generating without context",
			"conversation_id", conversationID,
			"error", err)
		history = nil
	}

	userMsg := &store.Message{
		ID:             uuid.New().String(),
		ConversationID: conversationID,
		Role:           store.RoleUser,
		Content:        query,
		Status:         store.MessageStatusComplete,
	}
	userSeq, err := s.store.AppendMessage(ctx, userMsg, nil)
	if err != nil {
		s.sessions.EndTurn(turn, session.OutcomeFailed)
		return nil, fmt.Errorf("recording user message: %w", err)
	}

	s.logger.Debug("user message recorded",
		"conversation_id", conversationID,
		"message_id", userMsg.ID,
		"sequence", userSeq)

	// First message titles the conversation.
	if conv.MessageCount == 0 && conv.Title == "" {
		if err := s.store.RenameConversation(ctx, conversationID, deriveTitle(query)); err != nil {
			s.logger.Warn("auto-title failed", "conversation_id", conversationID, "error", err)
		}
	}

	mux := stream.NewMux(s.streamOpts, s.logger)
	handle := &TurnHandle{
		ConversationID: conversationID,
		TurnID:         turn.ID,
		UserMessageID:  userMsg.ID,
		UserSequence:   userSeq,
		mux:            mux,
		turn:           turn,
	}
	s.registry.put(handle)

	go s.runTurn(turn, mux, query, history)
	return handle, nil
}

// ActiveTurn returns the live handle for a conversation's in-flight turn,
// letting a reconnecting client resume the event stream.
func (s *Service) ActiveTurn(conversationID string) (*TurnHandle, bool) {
	return s.registry.get(conversationID)
}

// ActiveTurns reports how many turns are currently running.
func (s *Service) ActiveTurns() int {
	return s.sessions.ActiveTurns()
}

// runTurn is the detached turn loop. It owns the mux from here on:
// exactly one terminal event, then the registry entry and turn lock go.
func (s *Service) runTurn(turn *session.Turn, mux *stream.Mux, query string, history []store.ContextTurn) {
	ctx := turn.Context()
	logger := s.logger.With("conversation_id", turn.ConversationID, "turn_id", turn.ID)
	defer s.registry.remove(turn.ConversationID, turn.ID)

	// Chart results settle on their own goroutine so chart_ready events
	// interleave with text instead of queueing behind it.
	results := make(chan charts.Result, charts.MaxChartsPerMessage)
	artifactsDone := make(chan []*store.ChartArtifact, 1)
	go s.settleCharts(mux, results, artifactsDone)

	var content strings.Builder
	var dispatches sync.WaitGroup
	var intents int
	var genErr error

	for ev := range s.generator.Generate(ctx, &generation.Request{Query: query, History: history}) {
		switch ev.Kind {
		case generation.EventDelta:
			mux.Chunk(ev.Text)
			content.WriteString(ev.Text)

		case generation.EventIntent:
			intents++
			ch := s.charts.Dispatch(ctx, []*charts.Intent{ev.Intent})
			dispatches.Add(1)
			go func(ch <-chan charts.Result) {
				defer dispatches.Done()
				for r := range ch {
					results <- r
				}
			}(ch)

		case generation.EventError:
			genErr = ev.Err

		case generation.EventDone:
		}
	}

	if genErr == nil {
		mux.BeginDrain()
	}

	// Outstanding chart calls settle (or time out) before the commit; the
	// final write must carry every artifact.
	dispatches.Wait()
	close(results)
	artifacts := <-artifactsDone
	sort.Slice(artifacts, func(i, j int) bool { return artifacts[i].Ordinal < artifacts[j].Ordinal })

	cancelled := errors.Is(genErr, context.Canceled)

	switch {
	case genErr == nil:
		s.finishTurn(turn, mux, logger, content.String(), store.MessageStatusComplete, artifacts, intents)

	case content.Len() == 0:
		if cancelled {
			logger.Info("turn cancelled before any content")
			mux.Cancel("turn cancelled")
			s.sessions.EndTurn(turn, session.OutcomeCancelled)
			return
		}
		logger.Error("generation failed with no content", "error", genErr)
		mux.Fail(errorCode(genErr), genErr.Error())
		s.sessions.EndTurn(turn, session.OutcomeFailed)

	default:
		// Partial content is worth keeping: commit it truncated, then
		// surface the failure.
		logger.Warn("generation interrupted, committing partial content",
			"error", genErr,
			"content_bytes", content.Len())
		msg := s.assistantMessage(turn.ConversationID, content.String(), store.MessageStatusTruncated)
		if _, err := s.writer.Persist(msg, artifacts); err != nil {
			logger.Error("failed to persist partial message", "error", err)
		}
		if cancelled {
			mux.Cancel("turn cancelled")
			s.sessions.EndTurn(turn, session.OutcomeCancelled)
			return
		}
		mux.Fail(errorCode(genErr), genErr.Error())
		s.sessions.EndTurn(turn, session.OutcomeFailed)
	}
}

// finishTurn commits the completed message and emits message_complete.
func (s *Service) finishTurn(turn *session.Turn, mux *stream.Mux, logger *slog.Logger, content, status string, artifacts []*store.ChartArtifact, intents int) {
	msg := s.assistantMessage(turn.ConversationID, content, status)
	seq, err := s.writer.Persist(msg, artifacts)
	if err != nil {
		logger.Error("failed to persist assistant message", "error", err)
		mux.Fail("persistence_failure", "message could not be saved")
		s.sessions.EndTurn(turn, session.OutcomeFailed)
		return
	}

	ready := 0
	for _, a := range artifacts {
		if a.Outcome == store.ChartOutcomeReady {
			ready++
		}
	}
	logger.Info("turn complete",
		"message_id", msg.ID,
		"sequence", seq,
		"intents", intents,
		"charts_ready", ready)

	// total_charts counts every settled intent, omitted ones included,
	// so clients can reconcile ordinals against the event stream.
	mux.Complete(stream.CompleteData{
		MessageID:   msg.ID,
		Sequence:    seq,
		TotalCharts: len(artifacts),
	})
	s.sessions.EndTurn(turn, session.OutcomeComplete)
}

// settleCharts forwards chart results to the stream as they land and
// collects the artifacts for the final commit.
func (s *Service) settleCharts(mux *stream.Mux, results <-chan charts.Result, done chan<- []*store.ChartArtifact) {
	var artifacts []*store.ChartArtifact
	for r := range results {
		art := &store.ChartArtifact{
			ID:      uuid.New().String(),
			Kind:    r.Kind,
			Config:  r.Config,
			Ordinal: r.Ordinal,
			Outcome: string(r.Outcome),
			Reason:  r.Reason,
		}
		artifacts = append(artifacts, art)

		if r.Outcome == charts.OutcomeReady {
			mux.ChartReady(stream.ChartReadyData{
				ChartID:     art.ID,
				ChartKind:   r.Kind,
				ChartConfig: r.Config,
				Ordinal:     r.Ordinal,
			})
		} else {
			mux.ChartOmitted(r.Ordinal, r.Reason)
		}
	}
	done <- artifacts
}

func (s *Service) assistantMessage(conversationID, content, status string) *store.Message {
	return &store.Message{
		ID:             uuid.New().String(),
		ConversationID: conversationID,
		Role:           store.RoleAssistant,
		Content:        content,
		Status:         status,
	}
}

func errorCode(err error) string {
	switch {
	case errors.Is(err, generation.ErrUnavailable):
		return "generation_unavailable"
	case errors.Is(err, generation.ErrDeadlineExceeded):
		return "generation_timeout"
	default:
		return "generation_failed"
	}
}

// deriveTitle trims the first user query into a conversation title.
func deriveTitle(query string) string {
	title := strings.TrimSpace(query)
	if line, _, found := strings.Cut(title, "\n"); found {
		title = strings.TrimSpace(line)
	}
	runes := []rune(title)
	if len(runes) > maxTitleRunes {
		title = string(runes[:maxTitleRunes]) + "…"
	}
	return title
}
