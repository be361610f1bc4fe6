package convert

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/blkluv/photo-booth-sogni-sub001/pkg/models"
	"github.com/blkluv/photo-booth-sogni-sub001/pkg/ratelimit"
	"github.com/blkluv/photo-booth-sogni-sub001/pkg/retry"
)

// Client issues conversion-start requests against the style-transfer
// service. It only starts projects; results arrive on the shared event
// stream, never on this request path.
type Client struct {
	baseURL    string
	httpClient *http.Client
	apiKey     string
	limiter    *ratelimit.Limiter
	retryCfg   retry.Config
}

// NewClient creates a new conversion request client
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		limiter:  ratelimit.NewLimiter(10, 4),
		retryCfg: retry.DefaultConfig(),
	}
}

// SetAPIKey sets the API key for authentication
func (c *Client) SetAPIKey(apiKey string) {
	c.apiKey = apiKey
}

// SetRateLimit replaces the default request budget
func (c *Client) SetRateLimit(rps float64, burst int) {
	c.limiter = ratelimit.NewLimiter(rps, burst)
}

// SetRetryConfig replaces the default retry policy for start calls
func (c *Client) SetRetryConfig(cfg retry.Config) {
	c.retryCfg = cfg
}

// BaseURL returns the API base URL the client talks to
func (c *Client) BaseURL() string {
	return c.baseURL
}

// addAuthHeader adds authentication header to request
func (c *Client) addAuthHeader(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
}

type startRequest struct {
	ImageURL string  `json:"imageUrl"`
	Width    int     `json:"width,omitempty"`
	Height   int     `json:"height,omitempty"`
	StyleID  string  `json:"styleId"`
	Prompt   string  `json:"prompt,omitempty"`
	Strength float64 `json:"strength,omitempty"`
}

type startResponse struct {
	ProjectID string `json:"projectId"`
}

// Start asks the service to transform one image and returns the remote
// project identifier used to correlate later server-pushed events. It
// never blocks on the eventual result. Transient failures are retried
// with backoff; the request budget is rate limited per base URL.
func (c *Client) Start(ctx context.Context, image models.ImageHandle, style models.StyleParams) (string, error) {
	if err := c.limiter.Wait(ctx, c.baseURL); err != nil {
		return "", fmt.Errorf("rate limit wait: %w", err)
	}

	var remoteID string
	err := retry.Do(ctx, c.retryCfg, func() error {
		id, err := c.startOnce(ctx, image, style)
		if err != nil {
			return err
		}
		remoteID = id
		return nil
	})
	if err != nil {
		return "", err
	}
	return remoteID, nil
}

func (c *Client) startOnce(ctx context.Context, image models.ImageHandle, style models.StyleParams) (string, error) {
	data, err := json.Marshal(startRequest{
		ImageURL: image.URL,
		Width:    image.Width,
		Height:   image.Height,
		StyleID:  style.StyleID,
		Prompt:   style.Prompt,
		Strength: style.Strength,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal start request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/v1/projects", bytes.NewBuffer(data))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	c.addAuthHeader(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to send start request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("start request failed with status %d: %s", resp.StatusCode, string(body))
	}

	var result startResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("failed to decode start response: %w", err)
	}
	if result.ProjectID == "" {
		return "", fmt.Errorf("start response carried no project id")
	}

	return result.ProjectID, nil
}

// Cancel tells the service to abandon an in-flight project. Used when
// the batch is cancelled; a late terminal event for the project is
// harmless because its registration is already gone.
func (c *Client) Cancel(ctx context.Context, remoteID string) error {
	req, err := http.NewRequestWithContext(ctx, "POST",
		fmt.Sprintf("%s/v1/projects/%s/cancel", c.baseURL, remoteID), nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	c.addAuthHeader(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send cancel request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("cancel request failed with status %d: %s", resp.StatusCode, string(body))
	}

	return nil
}
