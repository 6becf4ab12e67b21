package eta

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/rand/v2"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/time/rate"
)

// Defaults applied by NewClient for zero Options fields.
const (
	DefaultBaseURL        = "https://api.invoicing.eta.gov.eg"
	DefaultTokenURL       = "https://id.eta.gov.eg/connect/token"
	DefaultMinInterval    = 600 * time.Millisecond
	DefaultMaxAttempts    = 5
	DefaultRateLimitWait  = 5 * time.Second
	DefaultRequestTimeout = 20 * time.Second
)

// Backoff constants for server errors and network failures.
const (
	baseBackoff    = 2 * time.Second
	maxBackoff     = 60 * time.Second
	backoffFactor  = 2.0
	jitterFraction = 0.25
	userAgent      = "eta-fetcher/0.1"
)

// TokenSource provides bearer tokens. Defined at the consumer; Session is
// the production implementation.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// invalidator is implemented by token sources that can drop a cached token
// after the registry rejected it.
type invalidator interface {
	Invalidate()
}

// Options configures a Client. Zero fields take the package defaults.
type Options struct {
	BaseURL        string
	MinInterval    time.Duration
	MaxAttempts    int
	RateLimitWait  time.Duration
	RequestTimeout time.Duration
	// HTTPClient overrides the client built from RequestTimeout.
	HTTPClient *http.Client
}

// Client talks to the registry API. Every outbound request, including
// retries, waits on the same limiter, so one Client enforces one minimum
// spacing regardless of which operation issues the call.
type Client struct {
	baseURL       string
	httpClient    *http.Client
	token         TokenSource
	logger        *slog.Logger
	limiter       *rate.Limiter
	maxAttempts   int
	rateLimitWait time.Duration

	// sleepFunc is called to wait between retries. Tests override it to
	// avoid real delays.
	sleepFunc func(ctx context.Context, d time.Duration) error
}

// NewClient creates a registry client.
func NewClient(opts Options, token TokenSource, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}

	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}

	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}

	if opts.RateLimitWait <= 0 {
		opts.RateLimitWait = DefaultRateLimitWait
	}

	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = DefaultRequestTimeout
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: opts.RequestTimeout}
	}

	return &Client{
		baseURL:       opts.BaseURL,
		httpClient:    httpClient,
		token:         token,
		logger:        logger,
		limiter:       newLimiter(opts.MinInterval),
		maxAttempts:   opts.MaxAttempts,
		rateLimitWait: opts.RateLimitWait,
		sleepFunc:     timeSleep,
	}
}

// newLimiter returns a burst-1 limiter admitting one call per interval.
// A negative interval disables spacing; zero selects the default.
func newLimiter(interval time.Duration) *rate.Limiter {
	if interval == 0 {
		interval = DefaultMinInterval
	}

	if interval < 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}

	return rate.NewLimiter(rate.Every(interval), 1)
}

// get performs a GET with retries and returns the body of a 2xx response.
func (c *Client) get(ctx context.Context, path string, query url.Values) ([]byte, error) {
	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	reauthed := false

	for attempt := 1; ; attempt++ {
		status, header, body, err := c.doOnce(ctx, target)
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("eta: request canceled: %w", ctx.Err())
			}

			if errors.Is(err, ErrAuth) {
				return nil, err
			}

			if attempt >= c.maxAttempts {
				return nil, fmt.Errorf("eta: GET %s failed after %d attempts: %w: %w", path, attempt, ErrTransient, err)
			}

			backoff := c.calcBackoff(attempt - 1)
			c.logger.Warn("retrying after network error",
				slog.String("path", path),
				slog.Int("attempt", attempt),
				slog.Duration("backoff", backoff),
				slog.String("error", err.Error()),
			)

			if sleepErr := c.sleepFunc(ctx, backoff); sleepErr != nil {
				return nil, fmt.Errorf("eta: request canceled: %w", sleepErr)
			}

			continue
		}

		if status >= http.StatusOK && status < http.StatusMultipleChoices {
			c.logger.Debug("request succeeded",
				slog.String("path", path),
				slog.Int("status", status),
			)

			return body, nil
		}

		// A rejected bearer token is refreshed once, outside the attempt budget.
		if status == http.StatusUnauthorized && !reauthed {
			if inv, ok := c.token.(invalidator); ok {
				reauthed = true
				inv.Invalidate()
				attempt--

				c.logger.Info("token rejected, re-authenticating", slog.String("path", path))

				continue
			}
		}

		if isRetryable(status) && attempt < c.maxAttempts {
			backoff := c.retryBackoff(status, header, attempt-1)
			c.logger.Warn("retrying after HTTP error",
				slog.String("path", path),
				slog.Int("status", status),
				slog.Int("attempt", attempt),
				slog.Duration("backoff", backoff),
			)

			if err := c.sleepFunc(ctx, backoff); err != nil {
				return nil, fmt.Errorf("eta: request canceled: %w", err)
			}

			continue
		}

		if attempt > 1 {
			c.logger.Error("request failed after retries",
				slog.String("path", path),
				slog.Int("status", status),
				slog.Int("attempts", attempt),
			)
		}

		return nil, &APIError{
			StatusCode: status,
			Path:       path,
			Message:    string(body),
			Err:        classifyStatus(status),
		}
	}
}

// doOnce executes a single request after waiting for the limiter.
func (c *Client) doOnce(ctx context.Context, target string) (int, http.Header, []byte, error) {
	tok, err := c.token.Token(ctx)
	if err != nil {
		return 0, nil, nil, err
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return 0, nil, nil, fmt.Errorf("waiting for rate limiter: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, http.NoBody)
	if err != nil {
		return 0, nil, nil, fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+tok)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, nil, fmt.Errorf("reading response body: %w", err)
	}

	return resp.StatusCode, resp.Header, body, nil
}

// retryBackoff returns the wait before retrying a retryable status. A 429
// honors Retry-After when present and otherwise waits rateLimitWait.
func (c *Client) retryBackoff(status int, header http.Header, attempt int) time.Duration {
	if status == http.StatusTooManyRequests {
		if ra := header.Get("Retry-After"); ra != "" {
			if seconds, err := strconv.Atoi(ra); err == nil && seconds > 0 {
				return time.Duration(seconds) * time.Second
			}
		}

		return c.rateLimitWait
	}

	return c.calcBackoff(attempt)
}

// calcBackoff computes exponential backoff with ±25% jitter.
func (c *Client) calcBackoff(attempt int) time.Duration {
	backoff := float64(baseBackoff) * math.Pow(backoffFactor, float64(attempt))
	if backoff > float64(maxBackoff) {
		backoff = float64(maxBackoff)
	}

	jitter := backoff * jitterFraction * (rand.Float64()*2 - 1) //nolint:gosec // jitter does not need crypto rand
	backoff += jitter

	return time.Duration(backoff)
}

// timeSleep waits for the given duration or until the context is canceled.
func timeSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
