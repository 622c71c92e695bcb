// ABOUTME: Event types carried on a turn's ordered output stream
// ABOUTME: Defines wire payloads and SSE framing for each event kind

package stream

import (
	"encoding/json"
	"fmt"
	"io"
	"time"
)

// Wire event names, matching what stream consumers subscribe to.
const (
	EventMessageChunk    = "message_chunk"
	EventChartReady      = "chart_ready"
	EventChartOmitted    = "chart_omitted"
	EventMessageComplete = "message_complete"
	EventError           = "error"
	EventPing            = "ping"
)

// Envelope is one element of a turn's event stream. ID increases by one
// per envelope within a turn, giving consumers a strict ordering check.
type Envelope struct {
	ID   int    `json:"id"`
	Type string `json:"type"`
	Data any    `json:"data"`
}

// ChunkData is one increment of assistant text.
type ChunkData struct {
	Content string `json:"content"`
	IsFinal bool   `json:"is_final"`
}

// ChartReadyData announces one successfully rendered chart.
type ChartReadyData struct {
	ChartID     string          `json:"chart_id"`
	ChartKind   string          `json:"chart_kind"`
	ChartConfig json.RawMessage `json:"chart_config"`
	Ordinal     int             `json:"ordinal"`
}

// ChartOmittedData announces a chart that will not arrive. The assistant
// text that referenced it is unchanged; only the rendered artifact is gone.
type ChartOmittedData struct {
	Ordinal int    `json:"ordinal"`
	Reason  string `json:"reason"`
}

// CompleteData is the terminal success event: the message is durable and
// readable at the given sequence.
type CompleteData struct {
	MessageID   string `json:"message_id"`
	Sequence    int    `json:"sequence"`
	TotalCharts int    `json:"total_charts"`
}

// ErrorData is the terminal failure event.
type ErrorData struct {
	ErrorCode    string `json:"error_code"`
	ErrorMessage string `json:"error_message"`
}

// PingData keeps idle connections alive through proxies.
type PingData struct {
	Timestamp string `json:"timestamp"`
}

func newPingData(now time.Time) PingData {
	return PingData{Timestamp: now.UTC().Format(time.RFC3339)}
}

// WriteSSE frames the envelope as one server-sent event. The envelope ID
// becomes the SSE id field so clients can detect gaps after reconnecting.
func (e Envelope) WriteSSE(w io.Writer) error {
	data, err := json.Marshal(e.Data)
	if err != nil {
		return fmt.Errorf("encoding %s event: %w", e.Type, err)
	}
	_, err = fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", e.ID, e.Type, data)
	return err
}
