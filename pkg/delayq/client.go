package delayq

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// Config holds the delayed-job platform credentials and limits.
type Config struct {
	APIURL         string        `env:"DELAYQ_API_URL,required"`         // base URL of the job platform API
	APIToken       string        `env:"DELAYQ_API_TOKEN,required"`       // bearer token for publish/delete calls
	CallbackSecret string        `env:"DELAYQ_CALLBACK_SECRET,required"` // HMAC secret for callback signatures
	MaxDelay       time.Duration `env:"DELAYQ_MAX_DELAY" envDefault:"168h"` // platform cap on scheduling horizon
	MaxRetries     int           `env:"DELAYQ_MAX_RETRIES" envDefault:"1"`  // callback retries on 5xx
	RequestTimeout time.Duration `env:"DELAYQ_REQUEST_TIMEOUT" envDefault:"15s"`
}

// Publisher schedules HTTP callbacks for future delivery.
type Publisher interface {
	// Publish enqueues a POST of payload to targetURL after delay and
	// returns the platform's job handle. Fails with ErrDelayExceedsMax
	// when the delay is beyond the platform cap.
	Publish(ctx context.Context, targetURL string, payload []byte, delay time.Duration) (string, error)

	// Delete cancels a scheduled job by its handle.
	Delete(ctx context.Context, jobID string) error

	// MaxDelay reports the platform's scheduling horizon.
	MaxDelay() time.Duration
}

// Client implements Publisher against the job platform's HTTP API.
// The platform stores the payload and signature headers verbatim and POSTs
// them to the target URL when the delay elapses.
type Client struct {
	config Config
	client *http.Client
}

// NewClient creates a delayed-job client. Connection pooling follows the
// defaults suitable for a low-volume control-plane integration.
func NewClient(cfg Config) (*Client, error) {
	if cfg.APIURL == "" {
		return nil, fmt.Errorf("%w: APIURL is required", ErrInvalidConfiguration)
	}
	if _, err := url.ParseRequestURI(cfg.APIURL); err != nil {
		return nil, fmt.Errorf("%w: invalid APIURL: %w", ErrInvalidConfiguration, err)
	}
	if cfg.APIToken == "" {
		return nil, fmt.Errorf("%w: APIToken is required", ErrInvalidConfiguration)
	}
	if cfg.CallbackSecret == "" {
		return nil, fmt.Errorf("%w: CallbackSecret is required", ErrInvalidConfiguration)
	}
	if cfg.MaxDelay <= 0 {
		return nil, fmt.Errorf("%w: MaxDelay must be positive", ErrInvalidConfiguration)
	}

	return &Client{
		config: cfg,
		client: &http.Client{Timeout: cfg.RequestTimeout},
	}, nil
}

// NewClientWithHTTPClient creates a client with a custom HTTP client,
// mainly for tests.
func NewClientWithHTTPClient(cfg Config, httpClient *http.Client) (*Client, error) {
	c, err := NewClient(cfg)
	if err != nil {
		return nil, err
	}
	if httpClient != nil {
		c.client = httpClient
	}
	return c, nil
}

// MaxDelay reports the platform's scheduling horizon.
func (c *Client) MaxDelay() time.Duration {
	return c.config.MaxDelay
}

type publishRequest struct {
	URL          string            `json:"url"`
	Body         json.RawMessage   `json:"body"`
	DelaySeconds int64             `json:"delay_seconds"`
	Retries      int               `json:"retries"`
	Headers      map[string]string `json:"headers,omitempty"`
}

type publishResponse struct {
	JobID string `json:"job_id"`
}

// Publish schedules a signed POST of payload to targetURL after delay.
func (c *Client) Publish(ctx context.Context, targetURL string, payload []byte, delay time.Duration) (string, error) {
	if delay < 0 {
		delay = 0
	}
	if delay > c.config.MaxDelay {
		return "", fmt.Errorf("%w: %v > %v", ErrDelayExceedsMax, delay, c.config.MaxDelay)
	}

	sig, err := SignPayload(c.config.CallbackSecret, payload, time.Now().Add(delay))
	if err != nil {
		return "", err
	}

	body, err := json.Marshal(publishRequest{
		URL:          targetURL,
		Body:         payload,
		DelaySeconds: int64(delay.Seconds()),
		Retries:      c.config.MaxRetries,
		Headers:      sig.Headers(),
	})
	if err != nil {
		return "", fmt.Errorf("marshal publish request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.APIURL+"/v1/publish", bytes.NewReader(body))
	if err != nil {
		return "", errors.Join(ErrPublishFailed, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.config.APIToken)

	resp, err := c.client.Do(req)
	if err != nil {
		return "", errors.Join(ErrPublishFailed, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("%w: status %d", ErrPublishFailed, resp.StatusCode)
	}

	var out publishResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&out); err != nil {
		return "", errors.Join(ErrPublishFailed, err)
	}
	if out.JobID == "" {
		return "", fmt.Errorf("%w: empty job id in response", ErrPublishFailed)
	}

	return out.JobID, nil
}

// Delete cancels a scheduled job. Deleting an already-delivered or unknown
// job returns ErrDeleteFailed; callers treat that as best-effort.
func (c *Client) Delete(ctx context.Context, jobID string) error {
	if jobID == "" {
		return fmt.Errorf("%w: empty job id", ErrDeleteFailed)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.config.APIURL+"/v1/jobs/"+url.PathEscape(jobID), nil)
	if err != nil {
		return errors.Join(ErrDeleteFailed, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.config.APIToken)

	resp, err := c.client.Do(req)
	if err != nil {
		return errors.Join(ErrDeleteFailed, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: status %d", ErrDeleteFailed, resp.StatusCode)
	}

	return nil
}
