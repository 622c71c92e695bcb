// ABOUTME: Tests for the SSE generation client against a scripted HTTP server
// ABOUTME: Covers frame parsing, [DONE], error frames, and request shape

package generation

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brainhq/brain-gateway/internal/store"
)

func sseServer(t *testing.T, frames []string, capture *completionRequest) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if capture != nil {
			require.NoError(t, json.NewDecoder(r.Body).Decode(capture))
		}
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		for _, frame := range frames {
			fmt.Fprintf(w, "data: %s\n\n", frame)
			flusher.Flush()
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func drainChunks(t *testing.T, ch <-chan Chunk) []Chunk {
	t.Helper()
	var chunks []Chunk
	for {
		select {
		case c, ok := <-ch:
			if !ok {
				return chunks
			}
			chunks = append(chunks, c)
		case <-time.After(5 * time.Second):
			t.Fatal("timed out draining chunk stream")
		}
	}
}

func deltaFrame(content string) string {
	return fmt.Sprintf(`{"choices": [{"delta": {"content": %q}}]}`, content)
}

func TestHTTPClient_StreamsDeltasUntilDone(t *testing.T) {
	srv := sseServer(t, []string{
		deltaFrame("2024年"),
		deltaFrame("AI市场"),
		`[DONE]`,
	}, nil)
	c := NewHTTPClient(HTTPClientOptions{BaseURL: srv.URL}, nil)

	ch, err := c.StreamGenerate(context.Background(), &Request{Query: "分析"})
	require.NoError(t, err)

	chunks := drainChunks(t, ch)
	require.Len(t, chunks, 2)
	assert.Equal(t, "2024年", chunks[0].Text)
	assert.Equal(t, "AI市场", chunks[1].Text)
}

func TestHTTPClient_AbandonedStreamReleasesReader(t *testing.T) {
	// Far more frames than the chunk buffer holds, delivered in one burst.
	frames := make([]string, 0, 65)
	for i := 0; i < 64; i++ {
		frames = append(frames, deltaFrame("x"))
	}
	frames = append(frames, `[DONE]`)
	srv := sseServer(t, frames, nil)
	c := NewHTTPClient(HTTPClientOptions{BaseURL: srv.URL}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch, err := c.StreamGenerate(ctx, &Request{Query: "分析"})
	require.NoError(t, err)

	// Read a couple of chunks, then walk away mid-stream the way a
	// cancelled turn does.
	<-ch
	<-ch
	cancel()

	// The reader must notice the abandonment and close the channel even
	// though nobody drains what it already buffered.
	require.Eventually(t, func() bool {
		select {
		case _, ok := <-ch:
			return !ok
		default:
			return false
		}
	}, 2*time.Second, 10*time.Millisecond, "stream reader never exited after cancellation")
}

func TestHTTPClient_FinishReasonEndsStream(t *testing.T) {
	srv := sseServer(t, []string{
		deltaFrame("完整回答"),
		`{"choices": [{"delta": {}, "finish_reason": "stop"}]}`,
		deltaFrame("绝不应出现"),
	}, nil)
	c := NewHTTPClient(HTTPClientOptions{BaseURL: srv.URL}, nil)

	ch, err := c.StreamGenerate(context.Background(), &Request{Query: "q"})
	require.NoError(t, err)

	chunks := drainChunks(t, ch)
	require.Len(t, chunks, 1)
	assert.Equal(t, "完整回答", chunks[0].Text)
}

func TestHTTPClient_ErrorFrameSurfacesAsChunkErr(t *testing.T) {
	srv := sseServer(t, []string{
		deltaFrame("部分内容"),
		`{"error": {"code": "rate_limited", "message": "slow down"}}`,
	}, nil)
	c := NewHTTPClient(HTTPClientOptions{BaseURL: srv.URL}, nil)

	ch, err := c.StreamGenerate(context.Background(), &Request{Query: "q"})
	require.NoError(t, err)

	chunks := drainChunks(t, ch)
	require.Len(t, chunks, 2)
	require.Error(t, chunks[1].Err)
	assert.ErrorContains(t, chunks[1].Err, "rate_limited")
}

func TestHTTPClient_MalformedFramesSkipped(t *testing.T) {
	srv := sseServer(t, []string{
		`{{{not json`,
		deltaFrame("有效内容"),
		`[DONE]`,
	}, nil)
	c := NewHTTPClient(HTTPClientOptions{BaseURL: srv.URL}, nil)

	ch, err := c.StreamGenerate(context.Background(), &Request{Query: "q"})
	require.NoError(t, err)

	chunks := drainChunks(t, ch)
	require.Len(t, chunks, 1)
	assert.Equal(t, "有效内容", chunks[0].Text)
}

func TestHTTPClient_NonOKStatusFailsConnect(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream overloaded", http.StatusServiceUnavailable)
	}))
	t.Cleanup(srv.Close)
	c := NewHTTPClient(HTTPClientOptions{BaseURL: srv.URL}, nil)

	_, err := c.StreamGenerate(context.Background(), &Request{Query: "q"})
	require.Error(t, err)
	assert.ErrorContains(t, err, "503")
}

func TestHTTPClient_RequestCarriesHistoryAndDefaults(t *testing.T) {
	var got completionRequest
	srv := sseServer(t, []string{`[DONE]`}, &got)
	c := NewHTTPClient(HTTPClientOptions{BaseURL: srv.URL, APIKey: "sk-test"}, nil)

	ch, err := c.StreamGenerate(context.Background(), &Request{
		Query: "继续分析",
		History: []store.ContextTurn{
			{Role: "user", Content: "分析2024年AI市场趋势"},
			{Role: "assistant", Content: "好的，如下。"},
		},
	})
	require.NoError(t, err)
	drainChunks(t, ch)

	assert.Equal(t, "qwen-max", got.Model)
	assert.Equal(t, 4096, got.MaxTokens)
	assert.True(t, got.Stream)
	require.Len(t, got.Messages, 3)
	assert.Equal(t, "user", got.Messages[2].Role)
	assert.Equal(t, "继续分析", got.Messages[2].Content)
}
