// ABOUTME: HTTP client for the external chart service's tool-call protocol
// ABOUTME: Maps chart kinds to service tools and parses text-or-JSON results

package charts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
)

// HTTPRenderer calls the chart service over HTTP. It is explicitly
// constructed and injectable: tests substitute a fake Renderer with
// controllable latency and failure instead.
type HTTPRenderer struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

// NewHTTPRenderer creates a renderer against the chart service at baseURL.
// The per-call deadline comes from the Coordinator's call context, so the
// http.Client itself carries no timeout.
func NewHTTPRenderer(baseURL string, logger *slog.Logger) *HTTPRenderer {
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPRenderer{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{},
		logger:  logger.With("component", "chart-renderer"),
	}
}

// toolCallRequest is the chart service's tool invocation payload.
type toolCallRequest struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// toolCallResponse mirrors the service's result envelope: a list of content
// parts, typically one text part holding the chart config as JSON.
type toolCallResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	IsError bool `json:"isError"`
}

// Render sends one chart specification and returns the renderable config.
func (r *HTTPRenderer) Render(ctx context.Context, intent *Intent) (json.RawMessage, error) {
	tool, ok := toolForKind[strings.ToLower(intent.Kind)]
	if !ok {
		tool = defaultTool
		r.logger.Warn("unknown chart kind, using default tool",
			"kind", intent.Kind,
			"tool", tool)
	}

	args := map[string]any{
		"data": intent.Data,
	}
	if intent.Title != "" {
		args["title"] = intent.Title
	}
	if intent.Description != "" {
		args["description"] = intent.Description
	}

	body, err := json.Marshal(toolCallRequest{Name: tool, Arguments: args})
	if err != nil {
		return nil, fmt.Errorf("encoding chart request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/tools/call", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building chart request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling chart service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("chart service returned %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var result toolCallResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decoding chart response: %w", err)
	}
	if result.IsError {
		return nil, fmt.Errorf("chart service reported tool error")
	}
	if len(result.Content) == 0 {
		return nil, fmt.Errorf("chart service returned empty result")
	}

	return parseChartConfig(result.Content[0].Text, intent.Kind)
}

// parseChartConfig interprets the text part of a tool result. The service
// usually returns the config as JSON; some tools return a bare URL or plain
// text, which gets wrapped into a minimal config object.
func parseChartConfig(text, kind string) (json.RawMessage, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("chart service returned empty config")
	}

	if json.Valid([]byte(text)) {
		return json.RawMessage(text), nil
	}

	wrapped := map[string]any{
		"type":    kind,
		"content": text,
	}
	if strings.HasPrefix(text, "http://") || strings.HasPrefix(text, "https://") {
		wrapped["url"] = text
	}
	config, err := json.Marshal(wrapped)
	if err != nil {
		return nil, fmt.Errorf("wrapping chart config: %w", err)
	}
	return config, nil
}
