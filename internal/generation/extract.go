// ABOUTME: Incremental extraction of chart intents from the generation delta stream
// ABOUTME: Detects fenced json:chart blocks and assigns stable 0-based ordinals

package generation

import (
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/brainhq/brain-gateway/internal/charts"
)

const (
	chartFenceOpen  = "```json:chart"
	chartFenceClose = "```"
)

// intentExtractor scans the delta stream for fenced chart blocks:
//
//	```json:chart
//	{"chart_type": "bar", "title": "...", "data": [...]}
//	```
//
// Blocks may arrive split across any number of deltas. Each complete,
// well-formed block becomes a charts.Intent with an ordinal assigned in
// detection order; malformed blocks are skipped without consuming an
// ordinal. The fence text itself stays part of the message content.
type intentExtractor struct {
	pending string // unconsumed tail of the content stream
	ordinal int
	logger  *slog.Logger
}

func newIntentExtractor(logger *slog.Logger) *intentExtractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &intentExtractor{logger: logger}
}

// chartBlock is the JSON payload of one fenced chart block.
type chartBlock struct {
	ChartType   string          `json:"chart_type"`
	Title       string          `json:"title"`
	Description string          `json:"description"`
	Data        json.RawMessage `json:"data"`
}

// feed appends a delta and returns any intents completed by it.
func (e *intentExtractor) feed(delta string) []*charts.Intent {
	e.pending += delta

	var intents []*charts.Intent
	for {
		start := strings.Index(e.pending, chartFenceOpen)
		if start < 0 {
			e.trimPending()
			return intents
		}

		bodyStart := strings.Index(e.pending[start+len(chartFenceOpen):], "\n")
		if bodyStart < 0 {
			return intents // fence header not yet complete
		}
		bodyStart += start + len(chartFenceOpen) + 1

		end := strings.Index(e.pending[bodyStart:], "\n"+chartFenceClose)
		if end < 0 {
			return intents // closing fence not yet streamed
		}
		body := e.pending[bodyStart : bodyStart+end]
		e.pending = e.pending[bodyStart+end+1+len(chartFenceClose):]

		if intent := e.parse(body); intent != nil {
			intents = append(intents, intent)
		}
	}
}

// flush reports any block completed exactly at end-of-stream. An unclosed
// fence at this point is abandoned: truncated chart data is not guessable.
func (e *intentExtractor) flush() []*charts.Intent {
	intents := e.feed("\n")
	e.pending = ""
	return intents
}

func (e *intentExtractor) parse(body string) *charts.Intent {
	var block chartBlock
	if err := json.Unmarshal([]byte(strings.TrimSpace(body)), &block); err != nil {
		e.logger.Warn("skipping malformed chart block", "error", err)
		return nil
	}
	if len(block.Data) == 0 {
		e.logger.Warn("skipping chart block without data", "ordinal_candidate", e.ordinal)
		return nil
	}

	intent := &charts.Intent{
		Ordinal:     e.ordinal,
		Kind:        block.ChartType,
		Title:       block.Title,
		Description: block.Description,
		Data:        block.Data,
	}
	e.ordinal++

	e.logger.Debug("chart intent detected",
		"ordinal", intent.Ordinal,
		"kind", intent.Kind)
	return intent
}

// trimPending bounds buffered text when no fence is in sight. Everything
// before the last possible fence-prefix suffix can never match.
func (e *intentExtractor) trimPending() {
	if len(e.pending) <= len(chartFenceOpen) {
		return
	}
	keep := len(e.pending) - len(chartFenceOpen)
	e.pending = e.pending[keep:]
}
