// Package serp wraps the external search-ranking API.
package serp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"
)

// Entry is one organic result on a SERP.
type Entry struct {
	Position int    `json:"position"`
	Domain   string `json:"domain"`
	URL      string `json:"url"`
}

// Result is the ranking lookup outcome for one keyword.
type Result struct {
	Keyword      string  `json:"keyword"`
	Position     int     `json:"position"`
	URL          string  `json:"url"`
	TopResults   []Entry `json:"top_results"`
	SnippetOwner string  `json:"snippet_owner"`
	Volume       int     `json:"volume"`
}

// Client performs ranking lookups for keywords against a domain.
type Client interface {
	Rank(ctx context.Context, domain, keyword string) (Result, error)
}

// Config controls the HTTP client.
type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// HTTPClient implements Client against a JSON ranking API.
type HTTPClient struct {
	cfg    Config
	http   *http.Client
	retry  *RetryPolicy
	logger *zap.Logger
}

// NewHTTPClient constructs an HTTPClient.
func NewHTTPClient(cfg Config, logger *zap.Logger) *HTTPClient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPClient{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.Timeout},
		retry:  NewRetryPolicy(),
		logger: logger,
	}
}

// Rank queries the ranking API for one keyword, retrying transient failures
// with jittered backoff.
func (c *HTTPClient) Rank(ctx context.Context, domain, keyword string) (Result, error) {
	var lastErr error
	for attempt := 0; ; attempt++ {
		result, err := c.rankOnce(ctx, domain, keyword)
		if err == nil {
			return result, nil
		}
		lastErr = err
		if !c.retry.ShouldRetry(err, attempt) {
			break
		}
		c.logger.Debug("serp lookup retrying",
			zap.String("keyword", keyword),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		select {
		case <-ctx.Done():
			return Result{}, fmt.Errorf("serp lookup canceled: %w", ctx.Err())
		case <-time.After(c.retry.Backoff(attempt)):
		}
	}
	return Result{}, fmt.Errorf("serp lookup for %q: %w", keyword, lastErr)
}

func (c *HTTPClient) rankOnce(ctx context.Context, domain, keyword string) (Result, error) {
	endpoint := fmt.Sprintf("%s/v1/rankings?%s", c.cfg.BaseURL, url.Values{
		"domain":  {domain},
		"keyword": {keyword},
	}.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Result{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("ranking request: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		return Result{}, &StatusError{Code: resp.StatusCode}
	}

	var result Result
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return Result{}, fmt.Errorf("decode ranking response: %w", err)
	}
	result.Keyword = keyword
	return result, nil
}

// StatusError reports a non-200 ranking API response.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("ranking API returned status %d", e.Code)
}

// Retryable reports whether the status indicates a transient condition.
func (e *StatusError) Retryable() bool {
	return e.Code == http.StatusTooManyRequests || e.Code >= 500
}
