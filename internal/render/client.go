// Package render talks to the remote render service: submitting flattened
// clip lists as render tasks and polling task status until a terminal state.
package render

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/storyforge/storyforge-agent/internal/timeline"
)

// TaskError represents an error response from the render service.
type TaskError struct {
	StatusCode int
	Body       string
}

func (e *TaskError) Error() string {
	return fmt.Sprintf("render service: HTTP %d: %s", e.StatusCode, e.Body)
}

// IsRetryable returns true for server errors (5xx) and network errors.
// Client errors (4xx) are considered permanent.
func (e *TaskError) IsRetryable() bool {
	return e.StatusCode >= 500
}

// SubmitRequest is the body sent to the task-creation endpoint.
type SubmitRequest struct {
	Clips         []timeline.Clip `json:"clips"`
	NarrationURL  string          `json:"narration_url"`
	TotalDuration float64         `json:"total_duration"`
}

// SubmitResponse identifies the created task and where to poll it.
type SubmitResponse struct {
	TaskID    string `json:"task_id"`
	StatusURL string `json:"status_url"`
}

// Task status values reported by the render service.
const (
	StatusPending = "pending"
	StatusSuccess = "success"
	StatusFailure = "failure"
)

// StatusResponse is one poll result.
type StatusResponse struct {
	Status    string `json:"status"`
	ResultURL string `json:"result_url,omitempty"`
	ErrorText string `json:"error_text,omitempty"`
}

// Client is the render service contract.
type Client interface {
	Submit(ctx context.Context, req SubmitRequest) (*SubmitResponse, error)
	Poll(ctx context.Context, statusURL string) (*StatusResponse, error)
}

// HTTPClient is the real render service client.
type HTTPClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
	logger     *slog.Logger
}

func NewHTTPClient(baseURL, token string, logger *slog.Logger) *HTTPClient {
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger: logger,
	}
}

// Submit posts the flattened clip list plus narration reference and total
// duration; on success the service answers with a task id and a status URL.
func (c *HTTPClient) Submit(ctx context.Context, req SubmitRequest) (*SubmitResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal render request: %w", err)
	}

	endpoint := c.baseURL + "/api/render/tasks"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	c.setHeaders(httpReq)

	c.logger.Info("submitting render task",
		"url", endpoint,
		"clip_count", len(req.Clips),
		"total_duration_s", req.TotalDuration,
		"body_bytes", len(body),
	)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &TaskError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	var result SubmitResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("decode render response: %w", err)
	}
	if result.TaskID == "" {
		return nil, fmt.Errorf("render service returned no task id")
	}

	c.logger.Info("render task created", "task_id", result.TaskID)
	return &result, nil
}

// Poll fetches one status snapshot. statusURL may be absolute or relative
// to the service base URL.
func (c *HTTPClient) Poll(ctx context.Context, statusURL string) (*StatusResponse, error) {
	endpoint := statusURL
	if u, err := url.Parse(statusURL); err == nil && !u.IsAbs() {
		endpoint = c.baseURL + "/" + strings.TrimLeft(statusURL, "/")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	c.setHeaders(httpReq)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &TaskError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	var result StatusResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("decode status response: %w", err)
	}
	return &result, nil
}

func (c *HTTPClient) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	req.Header.Set("X-Storyforge-Request-Id", generateRequestID())
}

func generateRequestID() string {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	return fmt.Sprintf("%x-%x-%x-%x-%x", b[0:4], b[4:6], b[6:8], b[8:10], b[10:])
}
