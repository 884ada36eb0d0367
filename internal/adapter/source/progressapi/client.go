package progressapi

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

	"github.com/google/uuid"
	"github.com/mmcdole/marathon/internal/domain"
)

const (
	defaultTimeout = 30 * time.Second

	pathProgress = "/api/progress"
	pathEpisode  = "/api/progress/episode"
)

// Client implements domain.ProgressRepository over the progress HTTP API.
// It never retries; the single load retry belongs to the caller.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a new progress API client. A zero timeout uses the default.
func NewClient(baseURL string, timeout time.Duration, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: logger,
	}
}

// doRequest performs a JSON request and returns the body of a 2xx response
func (c *Client) doRequest(ctx context.Context, method, path string, payload any) ([]byte, error) {
	reqURL := c.baseURL + path

	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	requestID := uuid.NewString()
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", requestID)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	c.logger.Debug("progress request", "method", method, "url", reqURL, "requestID", requestID)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("progress request failed", "error", err, "method", method, "path", path, "requestID", requestID)
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.logger.Error("progress request error",
			"status", resp.StatusCode,
			"body", string(respBody),
			"method", method,
			"path", path,
			"requestID", requestID,
		)
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	return respBody, nil
}

// GetProgress fetches the current user's progress
func (c *Client) GetProgress(ctx context.Context) (*domain.UserProgressData, error) {
	body, err := c.doRequest(ctx, http.MethodGet, pathProgress, nil)
	if err != nil {
		return nil, err
	}

	var resp ProgressResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	progress, err := MapProgress(resp)
	if err != nil {
		c.logger.Warn("progress timestamp unreadable", "error", err)
	}
	if err := progress.Summary.Validate(); err != nil {
		c.logger.Warn("server summary is inconsistent, keeping it", "error", err)
	}

	return progress, nil
}

// SetEpisodeWatched marks an episode watched or unwatched.
// Any 2xx is success; the response body is not inspected.
func (c *Client) SetEpisodeWatched(ctx context.Context, episodeID string, watched bool) error {
	_, err := c.doRequest(ctx, http.MethodPost, pathEpisode, EpisodeUpdateRequest{
		EpisodeID: episodeID,
		Watched:   watched,
	})
	return err
}

// ResetProgress clears all progress for the current user
func (c *Client) ResetProgress(ctx context.Context) error {
	_, err := c.doRequest(ctx, http.MethodDelete, pathProgress, nil)
	return err
}
