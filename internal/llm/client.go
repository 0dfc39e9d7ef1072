// Package llm holds the HTTP collaborators used to produce and judge responses:
// a chat-completion service and a knowledge-source search service.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/cuongbtq/evalpipe/internal/domain"
	"golang.org/x/time/rate"
)

// Config holds collaborator endpoints and limits
type Config struct {
	ChatEndpoint      string
	SearchEndpoint    string
	Timeout           time.Duration
	RequestsPerSecond float64
	Burst             int
	LocationHint      string
}

// httpClient is shared plumbing for the JSON-over-HTTP collaborators
type httpClient struct {
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
	logger  *slog.Logger
}

func newHTTPClient(baseURL string, cfg Config, logger *slog.Logger) *httpClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}

	return &httpClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(limit, burst),
		logger:  logger,
	}
}

// postJSON sends in as JSON and decodes the response into out
func (c *httpClient) postJSON(ctx context.Context, path, authToken string, in, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if authToken != "" {
		req.Header.Set("Authorization", "Bearer "+authToken)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return domain.NewRetryableError(fmt.Errorf("request to %s failed: %w", path, err))
	}
	defer resp.Body.Close()

	c.logger.Debug("Collaborator call completed",
		slog.String("path", path),
		slog.Int("status", resp.StatusCode),
	)

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return domain.NewRetryableError(fmt.Errorf("failed to read response: %w", err))
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return classifyStatus(resp.StatusCode, path, respBody)
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to decode response from %s: %w", path, err)
	}
	return nil
}

// StatusError is a non-2xx reply from a collaborator
type StatusError struct {
	StatusCode int
	Path       string
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s returned status %d: %s", e.Path, e.StatusCode, e.Body)
}

// classifyStatus maps throttling and server errors to retryable errors and
// every other client error to a configuration failure.
func classifyStatus(status int, path string, body []byte) error {
	const maxBody = 512
	if len(body) > maxBody {
		body = body[:maxBody]
	}
	statusErr := &StatusError{StatusCode: status, Path: path, Body: strings.TrimSpace(string(body))}

	switch {
	case status == http.StatusTooManyRequests,
		status == http.StatusRequestTimeout,
		status >= http.StatusInternalServerError:
		return domain.NewRetryableError(statusErr)
	default:
		return domain.NewNonRetryableError(domain.KindConfiguration, statusErr)
	}
}
