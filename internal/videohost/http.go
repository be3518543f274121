package videohost

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/chalkdrop/chalkdrop/internal/config"
)

// Client implements Host against the provider's HTTP API.
type Client struct {
	endpoint string
	apiKey   string
	http     *http.Client
}

// NewClient constructs a provider client from config. The HTTP client carries
// no overall timeout; per-call deadlines come from the caller's context so a
// large upload is not cut off by a poll-sized budget.
func NewClient(cfg config.VideoConfig) *Client {
	return &Client{
		endpoint: cfg.Endpoint,
		apiKey:   cfg.APIKey,
		http:     &http.Client{},
	}
}

type uploadResponse struct {
	ID string `json:"id"`
}

// Upload streams the video bytes to the provider and returns the assigned
// video id once receipt is acknowledged. Privacy is pinned to unlisted.
func (c *Client) Upload(ctx context.Context, req UploadRequest) (string, error) {
	q := url.Values{}
	q.Set("title", req.Title)
	q.Set("privacy", "unlisted")
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		fmt.Sprintf("%s/v1/videos?%s", c.endpoint, q.Encode()), req.Body)
	if err != nil {
		return "", fmt.Errorf("build upload request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/octet-stream")
	httpReq.Header.Set("X-Api-Key", c.apiKey)
	if req.Size > 0 {
		httpReq.ContentLength = req.Size
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("%w: upload: %v", ErrTransient, err)
	}
	defer resp.Body.Close()
	if err := checkStatus(resp); err != nil {
		return "", err
	}
	var out uploadResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode upload response: %w", err)
	}
	if out.ID == "" {
		return "", fmt.Errorf("provider returned empty video id")
	}
	return out.ID, nil
}

// Status polls the provider for one processing snapshot.
func (c *Client) Status(ctx context.Context, videoID string) (ProcessingState, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/v1/videos/%s/status", c.endpoint, url.PathEscape(videoID)), nil)
	if err != nil {
		return ProcessingState{}, fmt.Errorf("build status request: %w", err)
	}
	httpReq.Header.Set("X-Api-Key", c.apiKey)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return ProcessingState{}, fmt.Errorf("%w: status: %v", ErrTransient, err)
	}
	defer resp.Body.Close()
	if err := checkStatus(resp); err != nil {
		return ProcessingState{}, err
	}
	var state ProcessingState
	if err := json.NewDecoder(resp.Body).Decode(&state); err != nil {
		return ProcessingState{}, fmt.Errorf("decode status response: %w", err)
	}
	return state, nil
}

// Delete removes the video from the provider. Callers treat failures as
// best-effort.
func (c *Client) Delete(ctx context.Context, videoID string) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodDelete,
		fmt.Sprintf("%s/v1/videos/%s", c.endpoint, url.PathEscape(videoID)), nil)
	if err != nil {
		return fmt.Errorf("build delete request: %w", err)
	}
	httpReq.Header.Set("X-Api-Key", c.apiKey)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return fmt.Errorf("%w: delete: %v", ErrTransient, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	if resp.StatusCode == http.StatusNotFound {
		return nil
	}
	return checkStatusCode(resp.StatusCode)
}

func checkStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	return checkStatusCode(resp.StatusCode)
}

func checkStatusCode(code int) error {
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusTooManyRequests || code >= 500:
		// Rate limits and server errors are retryable, not fatal.
		return fmt.Errorf("%w: provider returned %d", ErrTransient, code)
	default:
		return fmt.Errorf("provider returned %d", code)
	}
}

// jitterlessBackoff is the fixed wait applied after a transient upload error
// before the caller retries; polling has its own interval.
const jitterlessBackoff = 2 * time.Second
