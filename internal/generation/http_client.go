// ABOUTME: HTTP streaming client for the external generation service
// ABOUTME: Speaks the service's SSE protocol with incremental deltas and a [DONE] terminator

package generation

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
)

// HTTPClient streams completions from the generation service over HTTP SSE.
type HTTPClient struct {
	baseURL   string
	apiKey    string
	model     string
	maxTokens int
	client    *http.Client
	logger    *slog.Logger
}

// HTTPClientOptions configures an HTTPClient.
type HTTPClientOptions struct {
	BaseURL   string
	APIKey    string
	Model     string // defaults to "qwen-max"
	MaxTokens int    // defaults to 4096
}

// NewHTTPClient creates a streaming generation client. The overall deadline
// is enforced by the Adapter through the request context, so the underlying
// http.Client carries no timeout of its own.
func NewHTTPClient(opts HTTPClientOptions, logger *slog.Logger) *HTTPClient {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Model == "" {
		opts.Model = "qwen-max"
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = 4096
	}
	return &HTTPClient{
		baseURL:   strings.TrimRight(opts.BaseURL, "/"),
		apiKey:    opts.APIKey,
		model:     opts.Model,
		maxTokens: opts.MaxTokens,
		client:    &http.Client{},
		logger:    logger.With("component", "generation-client"),
	}
}

// completionRequest is the service's chat completion payload.
type completionRequest struct {
	Model     string              `json:"model"`
	Messages  []completionMessage `json:"messages"`
	MaxTokens int                 `json:"max_tokens"`
	Stream    bool                `json:"stream"`
}

type completionMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// completionDelta is one SSE data frame of a streaming response.
type completionDelta struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// StreamGenerate opens one streaming completion call. The returned channel
// yields content deltas in order and closes at end-of-stream; a transport
// or protocol failure mid-stream surfaces as a final Chunk with Err set.
func (c *HTTPClient) StreamGenerate(ctx context.Context, req *Request) (<-chan Chunk, error) {
	messages := make([]completionMessage, 0, len(req.History)+1)
	for _, turn := range req.History {
		messages = append(messages, completionMessage{Role: turn.Role, Content: turn.Content})
	}
	messages = append(messages, completionMessage{Role: "user", Content: req.Query})

	body, err := json.Marshal(completionRequest{
		Model:     c.model,
		Messages:  messages,
		MaxTokens: c.maxTokens,
		Stream:    true,
	})
	if err != nil {
		return nil, fmt.Errorf("encoding generation request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building generation request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("connecting to generation service: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		resp.Body.Close()
		return nil, fmt.Errorf("generation service returned %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	out := make(chan Chunk, 16)
	go c.readStream(ctx, resp.Body, out)
	return out, nil
}

// readStream parses SSE data frames until [DONE], EOF, or cancellation.
// The consumer may abandon the channel mid-stream (turn cancelled,
// deadline hit), so every send also watches ctx — otherwise a full
// buffer would strand this goroutine forever.
func (c *HTTPClient) readStream(ctx context.Context, body io.ReadCloser, out chan<- Chunk) {
	defer close(out)
	defer body.Close()

	send := func(chunk Chunk) bool {
		select {
		case out <- chunk:
			return true
		case <-ctx.Done():
			return false
		}
	}

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, ":") {
			continue
		}
		data, ok := strings.CutPrefix(line, "data:")
		if !ok {
			continue
		}
		data = strings.TrimSpace(data)
		if data == "[DONE]" {
			return
		}

		var delta completionDelta
		if err := json.Unmarshal([]byte(data), &delta); err != nil {
			c.logger.Warn("skipping malformed stream frame", "error", err)
			continue
		}
		if delta.Error != nil {
			send(Chunk{Err: fmt.Errorf("generation service error %s: %s", delta.Error.Code, delta.Error.Message)})
			return
		}
		if len(delta.Choices) == 0 {
			continue
		}
		if content := delta.Choices[0].Delta.Content; content != "" {
			if !send(Chunk{Text: content}) {
				return
			}
		}
		if delta.Choices[0].FinishReason != "" {
			return
		}
	}

	if err := scanner.Err(); err != nil {
		send(Chunk{Err: fmt.Errorf("reading generation stream: %w", err)})
	}
}
