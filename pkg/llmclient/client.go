// Package llmclient is the narrow, policy-agnostic surface the scheduler
// uses to talk to a remote OpenAI-compatible chat-completion service.
// Transport and decode failures never escape this package: callers always
// get a Response, with finish reason "error" marking the failure
// (spec.md §4.4/§7) so scheduler recovery logic can keep making progress.
package llmclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tarsy-labs/dagrunner/pkg/version"
)

// Client is the inference client contract (spec.md §4.4).
type Client interface {
	// CheckHealth reports whether the backend is ready to serve requests.
	CheckHealth(ctx context.Context) bool

	// ListModels returns the model identifiers the backend reports.
	ListModels(ctx context.Context) ([]string, error)

	// Generate issues a single chat-completion request.
	Generate(ctx context.Context, req Request) Response

	// BatchGenerate issues a logical batch of requests. It does NOT require
	// concurrent in-process dispatch (the backend may batch internally);
	// implementations MAY dispatch up to maxParallel concurrently, but MUST
	// return responses in the same order as the input requests.
	BatchGenerate(ctx context.Context, reqs []Request, maxParallel int) []Response

	// Statistics returns a snapshot of cumulative per-process counters.
	Statistics() Counters
}

// Config configures an HTTPClient.
type Config struct {
	BaseURL string
	APIKey  string
	Model   string

	// Timeout bounds each individual HTTP call. Defaults to 120s, matching
	// spec.md §5's "Cancellation & timeouts" guidance.
	Timeout time.Duration

	// MaxRetries bounds retry attempts after a transport error or a
	// retryable HTTP status. Zero or negative selects the default of 2.
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

func (c Config) withDefaults() Config {
	if c.Timeout <= 0 {
		c.Timeout = 120 * time.Second
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 2
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = 500 * time.Millisecond
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 10 * time.Second
	}
	return c
}

// HTTPClient is a Client backed by net/http, speaking the OpenAI-compatible
// chat-completions contract described in spec.md §6.
type HTTPClient struct {
	cfg        Config
	httpClient *http.Client

	requests atomic.Int64
	tokens   atomic.Int64
	latency  atomic.Int64
}

// NewHTTPClient constructs an HTTPClient. It does not verify connectivity;
// call CheckHealth before relying on the backend.
func NewHTTPClient(cfg Config) *HTTPClient {
	cfg = cfg.withDefaults()
	return &HTTPClient{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

func (c *HTTPClient) CheckHealth(ctx context.Context) bool {
	url := strings.TrimSuffix(c.cfg.BaseURL, "/") + "/health"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		slog.Warn("llmclient: failed to build health request", "error", err)
		return false
	}
	req.Header.Set("User-Agent", version.Full())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		slog.Warn("llmclient: health check failed", "error", err)
		return false
	}
	defer resp.Body.Close()

	return resp.StatusCode == http.StatusOK
}

type modelsResponse struct {
	Data []struct {
		ID string `json:"id"`
	} `json:"data"`
}

func (c *HTTPClient) ListModels(ctx context.Context) ([]string, error) {
	url := strings.TrimSuffix(c.cfg.BaseURL, "/") + "/v1/models"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("llmclient: build models request: %w", err)
	}
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("llmclient: models request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("llmclient: models request returned HTTP %d: %s", resp.StatusCode, string(body))
	}

	var decoded modelsResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("llmclient: failed to decode models response: %w", err)
	}

	ids := make([]string, 0, len(decoded.Data))
	for _, m := range decoded.Data {
		ids = append(ids, m.ID)
	}
	return ids, nil
}

func (c *HTTPClient) authorize(req *http.Request) {
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", version.Full())
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatTool struct {
	Type     string `json:"type"`
	Function struct {
		Name        string         `json:"name"`
		Description string         `json:"description"`
		Parameters  map[string]any `json:"parameters"`
	} `json:"function"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float64       `json:"temperature"`
	Tools       []chatTool    `json:"tools,omitempty"`
	ToolChoice  string        `json:"tool_choice,omitempty"`
}

type chatToolCall struct {
	ID       string `json:"id"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content   string         `json:"content"`
			ToolCalls []chatToolCall `json:"tool_calls"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
}

// Generate issues a single chat-completion request. Transport and decode
// failures are converted to a Response with FinishError and zero tokens,
// never returned as a Go error (spec.md §4.4's "Failure policy").
func (c *HTTPClient) Generate(ctx context.Context, req Request) Response {
	start := time.Now()
	resp, err := c.doGenerate(ctx, req)
	latency := time.Since(start).Milliseconds()

	c.requests.Add(1)
	c.latency.Add(latency)

	if err != nil {
		slog.Warn("llmclient: generate failed", "node_id", req.NodeID, "error", err)
		return Response{
			NodeID:       req.NodeID,
			Content:      "ERROR: " + err.Error(),
			FinishReason: FinishError,
			TokensUsed:   0,
			LatencyMS:    latency,
		}
	}

	resp.LatencyMS = latency
	c.tokens.Add(int64(resp.TokensUsed))
	return resp
}

func (c *HTTPClient) doGenerate(ctx context.Context, req Request) (Response, error) {
	body := chatRequest{
		Model:       c.cfg.Model,
		Messages:    []chatMessage{{Role: "user", Content: req.Prompt}},
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	}
	if len(req.Tools) > 0 {
		body.ToolChoice = "auto"
		body.Tools = make([]chatTool, len(req.Tools))
		for i, t := range req.Tools {
			body.Tools[i].Type = "function"
			body.Tools[i].Function.Name = t.Name
			body.Tools[i].Function.Description = t.Description
			body.Tools[i].Function.Parameters = t.Parameters
		}
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return Response{}, fmt.Errorf("marshal request: %w", err)
	}

	url := strings.TrimSuffix(c.cfg.BaseURL, "/") + "/v1/chat/completions"

	decoded, err := c.postWithRetry(ctx, url, payload)
	if err != nil {
		return Response{}, err
	}

	if len(decoded.Choices) == 0 {
		return Response{}, fmt.Errorf("response contained no choices")
	}
	choice := decoded.Choices[0]

	var toolCalls []ToolCall
	for _, tc := range choice.Message.ToolCalls {
		var args map[string]any
		if tc.Function.Arguments != "" {
			if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
				slog.Warn("llmclient: failed to decode tool call arguments",
					"node_id", req.NodeID, "tool", tc.Function.Name, "error", err)
				args = map[string]any{}
			}
		}
		toolCalls = append(toolCalls, ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: args,
		})
	}

	return Response{
		NodeID:       req.NodeID,
		Content:      choice.Message.Content,
		FinishReason: mapFinishReason(choice.FinishReason),
		TokensUsed:   decoded.Usage.TotalTokens,
		ToolCalls:    toolCalls,
	}, nil
}

func mapFinishReason(raw string) FinishReason {
	switch raw {
	case "length":
		return FinishLength
	case "tool_calls", "function_call":
		return FinishToolCalls
	case "stop", "":
		return FinishNormal
	default:
		return FinishNormal
	}
}

// postWithRetry sends the chat-completion POST with bounded retries and
// exponential backoff on transport errors and on HTTP 408, 429, 500, 502,
// 503 and 504, mirroring the shape the wider agent-tooling
// ecosystem uses for OpenAI-compatible backends (see DESIGN.md).
func (c *HTTPClient) postWithRetry(ctx context.Context, url string, payload []byte) (chatResponse, error) {
	var lastErr error

	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := c.backoff(attempt)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return chatResponse{}, ctx.Err()
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
		if err != nil {
			return chatResponse{}, fmt.Errorf("build request: %w", err)
		}
		c.authorize(req)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("request failed: %w", err)
			continue
		}

		if resp.StatusCode == http.StatusOK {
			defer resp.Body.Close()
			var decoded chatResponse
			if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
				return chatResponse{}, fmt.Errorf("decode response: %w", err)
			}
			return decoded, nil
		}

		bodyBytes, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		lastErr = fmt.Errorf("HTTP %d: %s", resp.StatusCode, truncate(string(bodyBytes), 300))

		if !isRetryableStatus(resp.StatusCode) {
			return chatResponse{}, lastErr
		}
		slog.Info("llmclient: retrying after retryable status", "status", resp.StatusCode, "attempt", attempt+1)
	}

	return chatResponse{}, lastErr
}

func isRetryableStatus(status int) bool {
	switch status {
	case http.StatusTooManyRequests, http.StatusRequestTimeout,
		http.StatusInternalServerError, http.StatusBadGateway,
		http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}

func (c *HTTPClient) backoff(attempt int) time.Duration {
	d := time.Duration(math.Pow(2, float64(attempt-1))) * c.cfg.BaseDelay
	if d > c.cfg.MaxDelay {
		d = c.cfg.MaxDelay
	}
	return d
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// BatchGenerate dispatches requests up to maxParallel concurrently and
// returns responses ordered to match the input requests, regardless of
// completion order (spec.md §4.4/§5).
func (c *HTTPClient) BatchGenerate(ctx context.Context, reqs []Request, maxParallel int) []Response {
	if maxParallel <= 0 {
		maxParallel = 1
	}

	responses := make([]Response, len(reqs))
	sem := make(chan struct{}, maxParallel)
	var wg sync.WaitGroup

	for i, req := range reqs {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, req Request) {
			defer wg.Done()
			defer func() { <-sem }()
			responses[i] = c.Generate(ctx, req)
		}(i, req)
	}

	wg.Wait()
	return responses
}

// Statistics returns a snapshot of cumulative per-process counters. These
// are monotonically non-decreasing and are never reset between runs
// (spec.md §3/§9): if multiple workflows share one client, callers must
// snapshot before each run and difference.
func (c *HTTPClient) Statistics() Counters {
	return Counters{
		TotalRequests:  c.requests.Load(),
		TotalTokens:    c.tokens.Load(),
		TotalLatencyMS: c.latency.Load(),
	}
}
