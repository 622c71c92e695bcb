// ABOUTME: Tests for the turn stream Mux state machine and ordering guarantees
// ABOUTME: Covers drain transitions, terminal-once, detach, stall, heartbeats

package stream

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func drain(t *testing.T, ch <-chan Envelope) []Envelope {
	t.Helper()
	var events []Envelope
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return events
			}
			events = append(events, ev)
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for stream to close")
		}
	}
}

func types(events []Envelope) []string {
	out := make([]string, len(events))
	for i, ev := range events {
		out[i] = ev.Type
	}
	return out
}

func TestMux_HappyPathOrdering(t *testing.T) {
	m := NewMux(Options{}, nil)

	m.Chunk("2024年AI市场")
	m.ChartReady(ChartReadyData{ChartID: "c1", ChartKind: "line", Ordinal: 0})
	m.Chunk("呈增长趋势。")
	m.BeginDrain()
	m.ChartReady(ChartReadyData{ChartID: "c2", ChartKind: "pie", Ordinal: 1})
	m.Complete(CompleteData{MessageID: "m1", Sequence: 2, TotalCharts: 2})

	events := drain(t, m.Events())
	assert.Equal(t, []string{
		EventMessageChunk, EventChartReady, EventMessageChunk,
		EventMessageChunk, EventChartReady, EventMessageComplete,
	}, types(events))

	// IDs are gapless and increasing
	for i, ev := range events {
		assert.Equal(t, i, ev.ID)
	}

	// The drain marker is the final chunk
	final := events[3].Data.(ChunkData)
	assert.True(t, final.IsFinal)
	assert.Empty(t, final.Content)

	assert.Equal(t, StateComplete, m.State())
}

func TestMux_ChunksRefusedAfterDrain(t *testing.T) {
	m := NewMux(Options{}, nil)

	m.Chunk("text")
	m.BeginDrain()
	m.Chunk("too late")
	m.Complete(CompleteData{MessageID: "m1", Sequence: 1})

	events := drain(t, m.Events())
	assert.Equal(t, []string{
		EventMessageChunk, EventMessageChunk, EventMessageComplete,
	}, types(events))
}

func TestMux_TerminalIsFirstWins(t *testing.T) {
	m := NewMux(Options{}, nil)

	m.Fail("generation_failed", "upstream exploded")
	m.Complete(CompleteData{MessageID: "m1"})
	m.Fail("other", "ignored")
	m.Cancel("ignored")

	events := drain(t, m.Events())
	require.Len(t, events, 1)
	assert.Equal(t, EventError, events[0].Type)
	assert.Equal(t, "generation_failed", events[0].Data.(ErrorData).ErrorCode)
	assert.Equal(t, StateFailed, m.State())
}

func TestMux_LateChartResultsDroppedAfterTerminal(t *testing.T) {
	m := NewMux(Options{}, nil)

	m.Complete(CompleteData{MessageID: "m1"})
	m.ChartReady(ChartReadyData{Ordinal: 0})
	m.ChartOmitted(1, "too slow")

	events := drain(t, m.Events())
	require.Len(t, events, 1)
	assert.Equal(t, EventMessageComplete, events[0].Type)
}

func TestMux_CancelEmitsErrorEvent(t *testing.T) {
	m := NewMux(Options{}, nil)

	m.Chunk("partial")
	m.Cancel("client requested stop")

	events := drain(t, m.Events())
	require.Len(t, events, 2)
	errData := events[1].Data.(ErrorData)
	assert.Equal(t, "cancelled", errData.ErrorCode)
	assert.Equal(t, StateCancelled, m.State())
}

func TestMux_DetachKeepsStateMachineRunning(t *testing.T) {
	m := NewMux(Options{}, nil)

	m.Chunk("before detach")
	m.Detach()
	m.Chunk("after detach")
	m.BeginDrain()
	m.Complete(CompleteData{MessageID: "m1", Sequence: 3, TotalCharts: 0})

	// Only the pre-detach event was delivered; the turn still completed.
	events := drain(t, m.Events())
	require.Len(t, events, 1)
	assert.Equal(t, "before detach", events[0].Data.(ChunkData).Content)
	assert.Equal(t, StateComplete, m.State())
}

func TestMux_ReattachResumesLiveDelivery(t *testing.T) {
	m := NewMux(Options{}, nil)

	m.Chunk("seen")
	m.Detach()
	m.Chunk("missed")
	m.Attach()
	m.Chunk("seen again")
	m.Complete(CompleteData{MessageID: "m1"})

	events := drain(t, m.Events())
	require.Len(t, events, 3)
	assert.Equal(t, "seen", events[0].Data.(ChunkData).Content)
	assert.Equal(t, "seen again", events[1].Data.(ChunkData).Content)
	// The dropped event leaves a visible ID gap.
	assert.Equal(t, 0, events[0].ID)
	assert.Equal(t, 2, events[1].ID)
	assert.Equal(t, EventMessageComplete, events[2].Type)
}

func TestMux_ProducerSuspendsOnFullBuffer(t *testing.T) {
	m := NewMux(Options{BufferSize: 2}, nil)

	m.Chunk("a")
	m.Chunk("b")

	done := make(chan struct{})
	go func() {
		m.Chunk("c")
		close(done)
	}()

	// The buffer is full, so the third chunk must block.
	select {
	case <-done:
		t.Fatal("chunk did not suspend on a full buffer")
	case <-time.After(50 * time.Millisecond):
	}

	// One read frees a slot and the producer resumes.
	<-m.Events()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("producer did not resume after the consumer read")
	}

	m.Complete(CompleteData{MessageID: "m1"})
	events := drain(t, m.Events())
	assert.Equal(t, []string{
		EventMessageChunk, EventMessageChunk, EventMessageComplete,
	}, types(events))
}

func TestMux_DetachReleasesSuspendedProducer(t *testing.T) {
	m := NewMux(Options{BufferSize: 1}, nil)

	m.Chunk("a")
	done := make(chan struct{})
	go func() {
		m.Chunk("b")
		close(done)
	}()
	time.Sleep(20 * time.Millisecond)

	m.Detach()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("detach did not release the suspended producer")
	}
	assert.Equal(t, StateStreaming, m.State())

	m.Complete(CompleteData{MessageID: "m1"})
	events := drain(t, m.Events())
	require.Len(t, events, 1)
	assert.Equal(t, "a", events[0].Data.(ChunkData).Content)
	assert.Equal(t, StateComplete, m.State())
}

func TestMux_HeartbeatWhileIdle(t *testing.T) {
	m := NewMux(Options{HeartbeatInterval: 20 * time.Millisecond}, nil)

	var pings int
	deadline := time.After(2 * time.Second)
	for pings < 2 {
		select {
		case ev := <-m.Events():
			if ev.Type == EventPing {
				pings++
			}
		case <-deadline:
			t.Fatal("no heartbeats on an idle stream")
		}
	}
	m.Complete(CompleteData{MessageID: "m1"})
	drain(t, m.Events())
}

func TestEnvelope_WriteSSE(t *testing.T) {
	env := Envelope{
		ID:   7,
		Type: EventChartReady,
		Data: ChartReadyData{
			ChartID:     "c1",
			ChartKind:   "bar",
			ChartConfig: json.RawMessage(`{"type":"bar"}`),
			Ordinal:     0,
		},
	}

	var sb strings.Builder
	require.NoError(t, env.WriteSSE(&sb))

	out := sb.String()
	assert.True(t, strings.HasPrefix(out, "id: 7\nevent: chart_ready\ndata: "))
	assert.True(t, strings.HasSuffix(out, "\n\n"))

	var data ChartReadyData
	payload := strings.TrimPrefix(out, "id: 7\nevent: chart_ready\ndata: ")
	require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(payload)), &data))
	assert.Equal(t, "c1", data.ChartID)
}
