// Package stock searches the remote stock media catalog for images and
// video clips to place on the timeline.
package stock

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/storyforge/storyforge-agent/internal/timeline"
)

const DefaultPageSize = 15

// SearchError represents an error response from the stock service.
type SearchError struct {
	StatusCode int
	Body       string
}

func (e *SearchError) Error() string {
	return fmt.Sprintf("stock service: HTTP %d: %s", e.StatusCode, e.Body)
}

// Result is one stock catalog hit.
type Result struct {
	ID         string  `json:"id"`
	Kind       string  `json:"kind"`
	PreviewURL string  `json:"preview_url"`
	SourceURL  string  `json:"source_url"`
	Duration   float64 `json:"duration,omitempty"`
}

// Asset converts a catalog hit into a timeline asset.
func (r Result) Asset() timeline.Asset {
	kind := timeline.KindStockImage
	if r.Kind == "video" {
		kind = timeline.KindStockVideo
	}
	return timeline.Asset{
		ID:         r.ID,
		Kind:       kind,
		PreviewURL: r.PreviewURL,
		SourceURL:  r.SourceURL,
		Duration:   r.Duration,
	}
}

type searchResponse struct {
	Results []Result `json:"results"`
}

// Client is the stock catalog contract.
type Client interface {
	Search(ctx context.Context, query string, perPage int) ([]Result, error)
}

// HTTPClient is the real stock catalog client.
type HTTPClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *slog.Logger
}

func NewHTTPClient(baseURL, apiKey string, logger *slog.Logger) *HTTPClient {
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
		logger: logger,
	}
}

func (c *HTTPClient) Search(ctx context.Context, query string, perPage int) ([]Result, error) {
	if query == "" {
		return nil, fmt.Errorf("empty search query")
	}
	if perPage <= 0 || perPage > 80 {
		perPage = DefaultPageSize
	}

	endpoint := c.baseURL + "/v1/search?" + url.Values{
		"query":    {query},
		"per_page": {strconv.Itoa(perPage)},
	}.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &SearchError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	var result searchResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}

	if c.logger != nil {
		c.logger.Info("stock search", "query", query, "results", len(result.Results))
	}
	return result.Results, nil
}

var _ Client = (*HTTPClient)(nil)
