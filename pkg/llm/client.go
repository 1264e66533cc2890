package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/subterminator/agents/pkg/errs"
)

const (
	defaultBaseURL   = "https://api.anthropic.com/v1"
	defaultMaxTokens = 4096
	apiVersion       = "2023-06-01"

	// maxAttempts bounds the retry loop for rate limits and transient errors.
	maxAttempts = 3
)

// Config holds client construction options.
type Config struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

// Client talks to a Claude-compatible Messages endpoint.
// Safe for concurrent use.
type Client struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a client. Zero-value config fields get defaults.
func NewClient(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	return &Client{
		apiKey:     cfg.APIKey,
		baseURL:    cfg.BaseURL,
		model:      cfg.Model,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     slog.Default(),
	}
}

// Model returns the configured model id.
func (c *Client) Model() string { return c.model }

// wireRequest is the Messages request body.
type wireRequest struct {
	Model       string      `json:"model"`
	MaxTokens   int         `json:"max_tokens"`
	System      string      `json:"system,omitempty"`
	Messages    []Message   `json:"messages"`
	Tools       []Tool      `json:"tools,omitempty"`
	ToolChoice  *ToolChoice `json:"tool_choice,omitempty"`
	Temperature float64     `json:"temperature"`
	Stream      bool        `json:"stream,omitempty"`
}

type wireError struct {
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// Complete performs a blocking Messages call with retry.
// Rate limits (429) and 5xx responses back off with powers of 2 seconds;
// other non-2xx statuses fail immediately.
func (c *Client) Complete(ctx context.Context, req Request) (*Response, error) {
	if c.apiKey == "" {
		return nil, errs.New(errs.KindConfiguration, "LM API key not configured")
	}

	body, err := json.Marshal(c.toWire(req, false))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal LM request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(1<<uint(attempt-1)) * time.Second
			c.logger.Debug("Retrying LM call", "attempt", attempt+1, "backoff", backoff)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, errs.Wrap(errs.KindAgentTimeout, ctx.Err(), "LM call cancelled")
			}
		}

		resp, err := c.post(ctx, body, false)
		if err != nil {
			lastErr = err
			if errs.KindOf(err).Retryable() {
				continue
			}
			return nil, err
		}

		out, err := decodeResponse(resp)
		resp.Body.Close()
		if err != nil {
			return nil, err
		}
		return out, nil
	}
	return nil, lastErr
}

// Stream performs a streaming Messages call. The returned channel carries
// text deltas, accumulated tool calls, and a final UsageChunk; it is closed
// when the stream ends. Failures arrive as a terminal ErrorChunk.
func (c *Client) Stream(ctx context.Context, req Request) (<-chan Chunk, error) {
	if c.apiKey == "" {
		return nil, errs.New(errs.KindConfiguration, "LM API key not configured")
	}

	body, err := json.Marshal(c.toWire(req, true))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal LM request: %w", err)
	}

	resp, err := c.post(ctx, body, true)
	if err != nil {
		return nil, err
	}

	chunks := make(chan Chunk, 64)
	go func() {
		defer close(chunks)
		defer resp.Body.Close()
		parseEventStream(resp.Body, chunks)
	}()
	return chunks, nil
}

func (c *Client) toWire(req Request, stream bool) wireRequest {
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = defaultMaxTokens
	}
	return wireRequest{
		Model:       c.model,
		MaxTokens:   maxTokens,
		System:      req.System,
		Messages:    req.Messages,
		Tools:       req.Tools,
		ToolChoice:  req.ToolChoice,
		Temperature: req.Temperature,
		Stream:      stream,
	}
}

// post sends the request and classifies transport-level failures.
func (c *Client) post(ctx context.Context, body []byte, stream bool) (*http.Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/messages", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create LM request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", c.apiKey)
	httpReq.Header.Set("anthropic-version", apiVersion)
	if stream {
		httpReq.Header.Set("Accept", "text/event-stream")
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, errs.Wrap(errs.KindAgentTimeout, err, "LM request deadline exceeded")
		}
		return nil, errs.Wrap(errs.KindTransient, err, "LM request failed")
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		return resp, nil
	case resp.StatusCode == http.StatusTooManyRequests:
		resp.Body.Close()
		return nil, errs.New(errs.KindRateLimit, "LM rate limit exceeded")
	case resp.StatusCode >= 500:
		resp.Body.Close()
		return nil, errs.New(errs.KindTransient, "LM returned status %d", resp.StatusCode)
	default:
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, errs.New(errs.KindInternal, "LM returned status %d: %s", resp.StatusCode, summarize(data))
	}
}

func decodeResponse(resp *http.Response) (*Response, error) {
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errs.Wrap(errs.KindTransient, err, "failed to read LM response")
	}

	var we wireError
	if err := json.Unmarshal(data, &we); err == nil && we.Error != nil {
		return nil, errs.New(errs.KindInternal, "LM error: %s", we.Error.Message)
	}

	var out Response
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, errs.Wrap(errs.KindInternal, err, "failed to parse LM response")
	}
	if len(out.Content) == 0 {
		return nil, errs.New(errs.KindInternal, "LM returned no content")
	}
	return &out, nil
}

func summarize(data []byte) string {
	var we wireError
	if err := json.Unmarshal(data, &we); err == nil && we.Error != nil {
		return we.Error.Message
	}
	s := string(data)
	if len(s) > 200 {
		s = s[:200]
	}
	return s
}
