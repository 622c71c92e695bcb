// ABOUTME: Tests for SSE turn streaming over the HTTP API
// ABOUTME: Covers the full event sequence, conflicts, and reattachment

package httpapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brainhq/brain-gateway/internal/charts"
	"github.com/brainhq/brain-gateway/internal/conversation"
	"github.com/brainhq/brain-gateway/internal/generation"
	"github.com/brainhq/brain-gateway/internal/session"
	"github.com/brainhq/brain-gateway/internal/store"
)

func newStreamingAPI(t *testing.T, gen conversation.Generator) (*API, *store.SQLiteStore, *conversation.Service) {
	t.Helper()
	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "stream.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	sessions := session.NewManager(time.Minute, nil)
	t.Cleanup(sessions.Close)

	svc := conversation.New(st, gen, readyDispatcher{}, sessions, conversation.Options{}, nil)
	return New(st, svc, nil), st, svc
}

// sseEventNames extracts the event: lines from an SSE body in order.
func sseEventNames(body string) []string {
	var names []string
	for _, line := range strings.Split(body, "\n") {
		if name, ok := strings.CutPrefix(line, "event: "); ok {
			names = append(names, name)
		}
	}
	return names
}

func TestStartTurn_StreamsFullTurnAsSSE(t *testing.T) {
	gen := &echoGenerator{
		reply: "2024年AI市场持续增长",
		intent: &charts.Intent{Ordinal: 0, Kind: "line", Data: []byte(`[{"x":1}]`)},
	}
	a, st, _ := newStreamingAPI(t, gen)
	createTestConversation(t, st, convID)

	req := httptest.NewRequest(http.MethodPost, "/api/conversations/"+convID+"/messages",
		strings.NewReader(`{"query": "分析2024年AI市场趋势"}`))
	rec := httptest.NewRecorder()
	router(a).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))

	names := sseEventNames(rec.Body.String())
	require.NotEmpty(t, names)
	assert.Equal(t, "started", names[0])
	assert.Contains(t, names, "message_chunk")
	assert.Contains(t, names, "chart_ready")
	assert.Equal(t, "message_complete", names[len(names)-1])

	// The turn's writes are durable once the stream closes.
	messages, err := st.ListMessages(context.Background(), convID, 0, 10)
	require.NoError(t, err)
	require.Len(t, messages, 2)
	assert.Equal(t, store.RoleAssistant, messages[1].Role)
	require.Len(t, messages[1].Charts, 1)
	assert.Equal(t, store.ChartOutcomeReady, messages[1].Charts[0].Outcome)
}

func TestStartTurn_EmptyQuery(t *testing.T) {
	a, st, _ := newStreamingAPI(t, &echoGenerator{reply: "x"})
	createTestConversation(t, st, convID)

	req := httptest.NewRequest(http.MethodPost, "/api/conversations/"+convID+"/messages",
		strings.NewReader(`{"query": "  "}`))
	rec := httptest.NewRecorder()
	router(a).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStartTurn_UnknownConversation(t *testing.T) {
	a, _, _ := newStreamingAPI(t, &echoGenerator{reply: "x"})

	req := httptest.NewRequest(http.MethodPost, "/api/conversations/"+convID+"/messages",
		strings.NewReader(`{"query": "hi"}`))
	rec := httptest.NewRecorder()
	router(a).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStartTurn_ConflictWhileActive(t *testing.T) {
	release := make(chan struct{})
	gen := &gatedGenerator{release: release}
	a, st, svc := newStreamingAPI(t, gen)
	createTestConversation(t, st, convID)

	// Hold the turn lock through the service directly.
	handle, err := svc.StartTurn(context.Background(), convID, "first")
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/api/conversations/"+convID+"/messages",
		strings.NewReader(`{"query": "second"}`))
	rec := httptest.NewRecorder()
	router(a).ServeHTTP(rec, req)
	assert.Equal(t, http.StatusConflict, rec.Code)

	close(release)
	for range handle.Events() {
	}
}

func TestStream_QueryParamStartsTurn(t *testing.T) {
	gen := &echoGenerator{reply: "EventSource clients cannot POST"}
	a, st, _ := newStreamingAPI(t, gen)
	createTestConversation(t, st, convID)

	req := httptest.NewRequest(http.MethodGet,
		"/api/conversations/"+convID+"/stream?query=hi", nil)
	rec := httptest.NewRecorder()
	router(a).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	names := sseEventNames(rec.Body.String())
	require.NotEmpty(t, names)
	assert.Equal(t, "started", names[0])
	assert.Equal(t, "message_complete", names[len(names)-1])

	messages, err := st.ListMessages(context.Background(), convID, 0, 10)
	require.NoError(t, err)
	require.Len(t, messages, 2)
}

func TestStream_NoActiveTurn(t *testing.T) {
	a, st, _ := newStreamingAPI(t, &echoGenerator{reply: "x"})
	createTestConversation(t, st, convID)

	req := httptest.NewRequest(http.MethodGet, "/api/conversations/"+convID+"/stream", nil)
	rec := httptest.NewRecorder()
	router(a).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStream_ReattachToRunningTurn(t *testing.T) {
	release := make(chan struct{})
	gen := &gatedGenerator{release: release}
	a, st, svc := newStreamingAPI(t, gen)
	createTestConversation(t, st, convID)

	handle, err := svc.StartTurn(context.Background(), convID, "hi")
	require.NoError(t, err)
	handle.Detach() // the original client went away

	done := make(chan string, 1)
	go func() {
		req := httptest.NewRequest(http.MethodGet, "/api/conversations/"+convID+"/stream", nil)
		rec := httptest.NewRecorder()
		router(a).ServeHTTP(rec, req)
		done <- rec.Body.String()
	}()

	// Give the reattach a moment to land before finishing the turn.
	time.Sleep(50 * time.Millisecond)
	close(release)

	select {
	case body := <-done:
		names := sseEventNames(body)
		assert.Equal(t, "started", names[0])
		assert.Equal(t, "message_complete", names[len(names)-1])
	case <-time.After(5 * time.Second):
		t.Fatal("reattached stream never finished")
	}
}

// gatedGenerator emits one delta then waits for release before finishing.
type gatedGenerator struct {
	release <-chan struct{}
}

func (g *gatedGenerator) Generate(ctx context.Context, req *generation.Request) <-chan generation.Event {
	out := make(chan generation.Event, 4)
	go func() {
		defer close(out)
		out <- generation.Event{Kind: generation.EventDelta, Text: "分析中"}
		select {
		case <-g.release:
			out <- generation.Event{Kind: generation.EventDone}
		case <-ctx.Done():
			out <- generation.Event{Kind: generation.EventError, Err: ctx.Err()}
		}
	}()
	return out
}
