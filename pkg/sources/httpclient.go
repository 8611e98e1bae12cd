package sources

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// ====================================================================================
// A rate-limited, retry-capable HTTP client shared by the REST source
// adapters. The rate limiter is enforced on every attempt regardless of how
// many sync workers run in parallel: the external API, not local compute, is
// the binding constraint.
// ====================================================================================

// HTTPClientConfig configures the shared REST client.
type HTTPClientConfig struct {
	// Timeout bounds each individual request. Default 30s.
	Timeout time.Duration

	// MaxRetries bounds retry attempts after the first request. Default 3.
	MaxRetries int

	// BackoffBase is the base of the linear backoff: the n-th retry waits
	// n * BackoffBase. Default 2s, matching the source APIs' politeness
	// expectations.
	BackoffBase time.Duration

	// RateLimit is the sustained request rate in requests per second shared
	// by all workers. Default 0.5 (one request every two seconds).
	RateLimit float64

	// RateBurst is the limiter's burst size. Default 1.
	RateBurst int

	// Transport allows injecting a custom round tripper in tests.
	Transport http.RoundTripper
}

func (c *HTTPClientConfig) applyDefaults() {
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = 2 * time.Second
	}
	if c.RateLimit <= 0 {
		c.RateLimit = 0.5
	}
	if c.RateBurst <= 0 {
		c.RateBurst = 1
	}
}

// HTTPStatusError is returned when the final attempt yields a non-2xx status.
type HTTPStatusError struct {
	URL        string
	StatusCode int
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("HTTP %d from %s", e.StatusCode, e.URL)
}

// HTTPClient issues GET requests with rate limiting and bounded, linear
// backoff retries. 4xx responses other than 429 are never retried: they
// indicate a client or configuration problem a retry cannot fix.
type HTTPClient struct {
	cfg     HTTPClientConfig
	client  *http.Client
	limiter *rate.Limiter
	logger  zerolog.Logger
}

// NewHTTPClient creates the shared REST client.
func NewHTTPClient(cfg HTTPClientConfig, logger zerolog.Logger) *HTTPClient {
	cfg.applyDefaults()
	return &HTTPClient{
		cfg: cfg,
		client: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: cfg.Transport,
		},
		limiter: rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateBurst),
		logger:  logger.With().Str("component", "HTTPClient").Logger(),
	}
}

// Get fetches rawURL with the given query parameters. It returns the response
// body, the final status code, and how many retries were consumed. A non-nil
// error means the fetch ultimately failed; retries is still meaningful then.
func (c *HTTPClient) Get(ctx context.Context, rawURL string, query url.Values) (body []byte, status int, retries int, err error) {
	fullURL := rawURL
	if len(query) > 0 {
		fullURL = rawURL + "?" + query.Encode()
	}

	var lastErr error
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			retries = attempt
			backoff := time.Duration(attempt) * c.cfg.BackoffBase
			c.logger.Warn().
				Str("url", rawURL).
				Int("attempt", attempt+1).
				Dur("backoff", backoff).
				Err(lastErr).
				Msg("Request failed, backing off before retry.")
			select {
			case <-ctx.Done():
				return nil, 0, retries, ctx.Err()
			case <-time.After(backoff):
			}
		}

		if err := c.limiter.Wait(ctx); err != nil {
			return nil, 0, retries, fmt.Errorf("rate limiter: %w", err)
		}

		body, status, lastErr = c.doOnce(ctx, fullURL)
		if lastErr == nil {
			return body, status, retries, nil
		}
		if !retryableStatus(status) {
			return nil, status, retries, lastErr
		}
	}

	return nil, status, retries, fmt.Errorf("request failed after %d retries: %w", c.cfg.MaxRetries, lastErr)
}

func (c *HTTPClient) doOnce(ctx context.Context, fullURL string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		// Network-level failure: no status, retryable.
		return nil, 0, fmt.Errorf("http request: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		// A connection dropped mid-body is a network failure like any other;
		// report no status so it stays retryable even on a 2xx response.
		return nil, 0, fmt.Errorf("read body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, resp.StatusCode, &HTTPStatusError{URL: fullURL, StatusCode: resp.StatusCode}
	}
	return body, resp.StatusCode, nil
}

// retryableStatus reports whether a status is worth retrying. Status zero
// means the request never completed (network error), which is retryable.
func retryableStatus(status int) bool {
	return status == 0 || status == http.StatusTooManyRequests || status >= 500
}
