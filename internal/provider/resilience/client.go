// Package resilience provides the shared HTTP client used for catalog and
// product-service calls: bounded retries with rate-limit awareness and a
// circuit breaker in front of the upstream.
package resilience

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"net/http"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jonboulle/clockwork"
	"github.com/sony/gobreaker/v2"
)

var (
	// ErrCircuitOpen is returned when the circuit breaker is open.
	ErrCircuitOpen = errors.New("circuit breaker is open")

	// ErrMaxAttemptsExceeded is returned when every attempt failed.
	ErrMaxAttemptsExceeded = errors.New("max attempts exceeded")
)

// RateLimitError is an HTTP 429 that survived all retries.
type RateLimitError struct {
	RetryAfter time.Duration // zero when the header was absent or unusable
}

func (e *RateLimitError) Error() string {
	return "rate limited by upstream"
}

// ServerError is an HTTP 5xx response.
type ServerError struct {
	StatusCode int
}

func (e *ServerError) Error() string {
	return "server error: " + http.StatusText(e.StatusCode)
}

// Config holds configuration for the resilient HTTP client.
type Config struct {
	// Name identifies this client for circuit breaker naming.
	Name string

	// Timeout is the per-request timeout. Default: 60 seconds.
	Timeout time.Duration

	// MaxAttempts is the total number of tries, first included. Default: 10.
	MaxAttempts int

	// BaseWait seeds the exponential backoff: the wait before retry n is
	// BaseWait * 2^n plus jitter. Default: 2 seconds.
	BaseWait time.Duration

	// MaxJitter bounds the random addition to each backoff wait.
	// Default: 3 seconds.
	MaxJitter time.Duration

	// RetryAfterMargin is added on top of an advertised Retry-After.
	// Default: 1 second.
	RetryAfterMargin time.Duration

	// BreakerTimeout is how long the breaker stays open before probing.
	// Default: 60 seconds.
	BreakerTimeout time.Duration

	// Clock is used for all waiting; tests inject a fake. Default: real.
	Clock clockwork.Clock
}

// Client retries 429 and 5xx responses with exponential backoff, honoring
// Retry-After when the upstream advertises one, and fails fast while the
// circuit breaker is open. Exhausting attempts returns the last typed error
// wrapped in ErrMaxAttemptsExceeded; callers degrade to "no result" rather
// than aborting their batch.
type Client struct {
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker[*http.Response]
	cfg        Config
	clock      clockwork.Clock
}

// NewClient creates a resilient HTTP client.
func NewClient(cfg Config) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = 10
	}
	if cfg.BaseWait == 0 {
		cfg.BaseWait = 2 * time.Second
	}
	if cfg.MaxJitter == 0 {
		cfg.MaxJitter = 3 * time.Second
	}
	if cfg.RetryAfterMargin == 0 {
		cfg.RetryAfterMargin = time.Second
	}
	if cfg.BreakerTimeout == 0 {
		cfg.BreakerTimeout = 60 * time.Second
	}
	clock := cfg.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	breaker := gobreaker.NewCircuitBreaker[*http.Response](gobreaker.Settings{
		Name:    cfg.Name,
		Timeout: cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.Requests >= 5 &&
				float64(counts.TotalFailures)/float64(counts.Requests) >= 0.5
		},
	})

	return &Client{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		breaker:    breaker,
		cfg:        cfg,
		clock:      clock,
	}
}

// Do executes the request, retrying rate limits and server errors.
// The caller owns the response body on success.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.cfg.BaseWait
	bo.Multiplier = 2
	bo.RandomizationFactor = 0 // jitter is additive, applied below
	bo.MaxInterval = 24 * time.Hour
	bo.MaxElapsedTime = 0
	bo.Reset()

	var lastErr error

	for attempt := 0; attempt < c.cfg.MaxAttempts; attempt++ {
		if attempt > 0 {
			wait := bo.NextBackOff() + c.jitter()
			if ra, ok := retryAfterOf(lastErr); ok {
				wait = ra + c.cfg.RetryAfterMargin
			}
			select {
			case <-req.Context().Done():
				return nil, req.Context().Err()
			case <-c.clock.After(wait):
			}
		}

		resp, err := c.breaker.Execute(func() (*http.Response, error) {
			r, err := c.httpClient.Do(req.Clone(req.Context()))
			if err != nil {
				return nil, err
			}
			// 5xx counts as a breaker failure; 429 does not, rate
			// limiting is not a service fault.
			if r.StatusCode >= 500 {
				r.Body.Close()
				return nil, &ServerError{StatusCode: r.StatusCode}
			}
			return r, nil
		})

		switch {
		case err == nil && resp.StatusCode == http.StatusTooManyRequests:
			ra := parseRetryAfter(resp.Header.Get("Retry-After"))
			resp.Body.Close()
			lastErr = &RateLimitError{RetryAfter: ra}
		case err == nil:
			return resp, nil
		case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
			return nil, ErrCircuitOpen
		default:
			lastErr = err
		}
	}

	return nil, fmt.Errorf("%w: %w", ErrMaxAttemptsExceeded, lastErr)
}

func (c *Client) jitter() time.Duration {
	if c.cfg.MaxJitter <= 0 {
		return 0
	}
	return time.Duration(rand.Int64N(int64(c.cfg.MaxJitter)))
}

// parseRetryAfter reads the delta-seconds form of Retry-After. HTTP-date
// values are not emitted by the services we talk to and yield zero.
func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	secs, err := strconv.Atoi(v)
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

func retryAfterOf(err error) (time.Duration, bool) {
	var rle *RateLimitError
	if errors.As(err, &rle) && rle.RetryAfter > 0 {
		return rle.RetryAfter, true
	}
	return 0, false
}

// BreakerState exposes the circuit breaker state for health reporting.
func (c *Client) BreakerState() gobreaker.State {
	return c.breaker.State()
}
