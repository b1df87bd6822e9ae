package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/bhulekhchain/title-registry/internal/logger"
)

// maxResponseBody bounds how much of a response body is buffered
const maxResponseBody = 4 << 20

// HTTPResponse is a fully-read response
type HTTPResponse struct {
	StatusCode int
	Body       []byte
}

// StatusError is returned by Get when the server answers with a non-2xx status
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status code %d: %s", e.StatusCode, e.Body)
}

// HTTPClient defines an interface for HTTP client operations to enable mocking
//
//go:generate mockgen -source=http.go -destination=../mocks/http.go -package=mocks -mock_names=HTTPClient=MockHTTPClient
type HTTPClient interface {
	// Get performs an idempotent GET, retrying 429/5xx/network failures with
	// exponential backoff, and decodes the JSON body into result
	Get(ctx context.Context, url string, headers map[string]string, result interface{}) error

	// PostNoRetry performs a single POST. Non-2xx responses are returned, not errored;
	// the caller decides how to classify them.
	PostNoRetry(ctx context.Context, url string, headers map[string]string, body io.Reader) (*HTTPResponse, error)
}

// RealHTTPClient implements HTTPClient using net/http
type RealHTTPClient struct {
	client     *http.Client
	maxElapsed time.Duration
}

// NewHTTPClient creates a new real HTTP client
func NewHTTPClient(timeout time.Duration) HTTPClient {
	return &RealHTTPClient{
		client:     &http.Client{Timeout: timeout},
		maxElapsed: time.Minute,
	}
}

func (c *RealHTTPClient) Get(ctx context.Context, url string, headers map[string]string, result interface{}) error {
	var body []byte

	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("failed to create request: %w", err))
		}
		for k, v := range headers {
			req.Header.Set(k, v)
		}

		resp, err := c.do(req)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(err)
			}
			return err
		}

		switch {
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			logger.WarnCtx(ctx, "retryable HTTP status, backing off",
				zap.String("url", url), zap.Int("status", resp.StatusCode))
			return &StatusError{StatusCode: resp.StatusCode, Body: string(resp.Body)}
		case resp.StatusCode < 200 || resp.StatusCode >= 300:
			return backoff.Permanent(&StatusError{StatusCode: resp.StatusCode, Body: string(resp.Body)})
		}

		body = resp.Body
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 10 * time.Second
	b.MaxElapsedTime = c.maxElapsed
	b.RandomizationFactor = 0.5

	if err := backoff.Retry(operation, backoff.WithContext(b, ctx)); err != nil {
		return err
	}

	if result == nil {
		return nil
	}
	if err := json.Unmarshal(body, result); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func (c *RealHTTPClient) PostNoRetry(ctx context.Context, url string, headers map[string]string, body io.Reader) (*HTTPResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return c.do(req)
}

func (c *RealHTTPClient) do(req *http.Request) (*HTTPResponse, error) {
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to perform request: %w", err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			logger.Warn("failed to close response body", zap.Error(err), zap.String("url", req.URL.String()))
		}
	}()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	return &HTTPResponse{StatusCode: resp.StatusCode, Body: data}, nil
}
