// Package httpx is the HTTP effect layer (spec §4.1): a rate-limited,
// retrying HTTP client with typed error classification and replay-safe
// metrics emission. The fetch (Doer), metric sink and log effects are
// injected through NewClient; Clock and Sleeper are interfaces, but NewClient
// always uses RealClock and RealSleeper, so a Client's rate-limit and backoff
// waits are real-time and cannot be replaced by a test. Grounded on
// src/chainadapter/rpc/http.go's failover loop and rpc/health.go's
// circuit-breaker bookkeeping, generalized from JSON-RPC-only transport to
// a provider-agnostic request/response contract.
package httpx

import (
	"context"
	"io"
	"math/rand"
	"net/http"
	"strconv"
	"time"

	"github.com/arcsign/exitbook/internal/errs"
)

// BackoffConfig configures bounded exponential backoff with full jitter.
type BackoffConfig struct {
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	MaxRetries int
}

// DefaultBackoff mirrors typical provider guidance: start at 200ms, cap at
// 10s, retry up to 5 times.
func DefaultBackoff() BackoffConfig {
	return BackoffConfig{BaseDelay: 200 * time.Millisecond, MaxDelay: 10 * time.Second, MaxRetries: 5}
}

func (c BackoffConfig) delayFor(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	d := c.BaseDelay << attempt
	if d <= 0 || d > c.MaxDelay {
		d = c.MaxDelay
	}
	// Full jitter: uniform(0, d).
	return time.Duration(rand.Int63n(int64(d) + 1))
}

// Request is a single HTTP effect invocation.
type Request struct {
	Method   string
	URL      string
	Headers  map[string]string
	Body     io.Reader
	Provider string // for metrics/error attribution
	Endpoint string // logical endpoint name for metrics
}

// Response is the successful result of a Request.
type Response struct {
	StatusCode int
	Headers    http.Header
	Body       []byte
}

// Client is the HTTP effect layer: token-bucket rate limiting, retrying
// with full-jitter backoff, typed error classification, metric emission.
type Client struct {
	doer    Doer
	limiter *TokenBucket
	backoff BackoffConfig
	clock   Clock
	sleeper Sleeper
	metrics MetricSink
	log     Logger
}

// NewClient constructs a Client. Fails construction (returns an error) if
// rateLimit is configured with a non-positive rate, per spec §4.1.
func NewClient(rateLimit RateLimitConfig, backoff BackoffConfig, doer Doer, metrics MetricSink, log Logger) (*Client, error) {
	clock := RealClock{}
	limiter, err := NewTokenBucket(rateLimit, clock)
	if err != nil {
		return nil, err
	}
	if doer == nil {
		doer = http.DefaultClient
	}
	if metrics == nil {
		metrics = NoopMetricSink{}
	}
	if log == nil {
		log = noopLogger{}
	}
	return &Client{
		doer:    doer,
		limiter: limiter,
		backoff: backoff,
		clock:   clock,
		sleeper: RealSleeper{},
		metrics: metrics,
		log:     log,
	}, nil
}

// Do executes req with rate limiting and retry, returning a classified
// *Error on failure. On 429, a Retry-After header (if present) overrides the
// computed backoff delay.
func (c *Client) Do(ctx context.Context, req Request) (*Response, error) {
	var lastErr error

	for attempt := 0; attempt <= c.backoff.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, errs.Wrap(errs.Cancelled, "request cancelled", err)
		}

		if wait := c.limiter.WaitDuration(); wait > 0 {
			if err := c.sleeper.Sleep(ctx, wait); err != nil {
				return nil, errs.Wrap(errs.Cancelled, "request cancelled while rate-limited", err)
			}
		}
		c.limiter.Allow()

		resp, httpErr := c.execute(ctx, req)
		if httpErr == nil {
			return resp, nil
		}

		httpxErr, ok := httpErr.(*Error)
		if !ok {
			return nil, httpErr
		}
		lastErr = httpxErr

		if !httpxErr.ShouldRetry || attempt == c.backoff.MaxRetries {
			break
		}

		delay := c.backoff.delayFor(attempt)
		if httpxErr.Class == ClassRateLimit && httpxErr.RetryAfter != "" {
			if secs, err := strconv.Atoi(httpxErr.RetryAfter); err == nil {
				delay = time.Duration(secs) * time.Second
			}
		}
		c.log.Warnw("httpx: retrying after error", "class", httpxErr.Class, "attempt", attempt, "delay", delay)
		if err := c.sleeper.Sleep(ctx, delay); err != nil {
			return nil, errs.Wrap(errs.Cancelled, "request cancelled during backoff", err)
		}
	}

	return nil, toDomainError(lastErr)
}

func (c *Client) execute(ctx context.Context, req Request) (*Response, error) {
	start := c.clock.Now()

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, req.Body)
	if err != nil {
		return nil, &Error{Class: ClassClient, Message: "failed to build request", Cause: err}
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := c.doer.Do(httpReq)
	duration := c.clock.Now().Sub(start)

	if err != nil {
		class := ClassUnknown
		shouldRetry := true
		if ctxErr := ctx.Err(); ctxErr != nil {
			class = ClassTimeout
		}
		c.emitMetric(req, 0, duration)
		return nil, &Error{Class: class, ShouldRetry: shouldRetry, Message: "transport error", Cause: err}
	}
	defer resp.Body.Close()

	body, readErr := io.ReadAll(resp.Body)
	c.emitMetric(req, resp.StatusCode, duration)
	if readErr != nil {
		return nil, &Error{Class: ClassUnknown, ShouldRetry: true, Message: "failed to read response body", Cause: readErr}
	}

	class, shouldRetry := ClassifyStatus(resp.StatusCode)
	if class == ClassRateLimit || class == ClassServer || class == ClassClient {
		return nil, &Error{
			Class:       class,
			StatusCode:  resp.StatusCode,
			RetryAfter:  resp.Header.Get("Retry-After"),
			ShouldRetry: shouldRetry,
			Message:     "non-success HTTP status",
		}
	}

	return &Response{StatusCode: resp.StatusCode, Headers: resp.Header, Body: body}, nil
}

func (c *Client) emitMetric(req Request, status int, duration time.Duration) {
	c.metrics.Emit(Metric{
		Provider:   req.Provider,
		Endpoint:   req.Endpoint,
		Method:     req.Method,
		DurationMs: duration.Milliseconds(),
		Status:     status,
		Timestamp:  c.clock.Now(),
	})
}

func toDomainError(err error) error {
	if err == nil {
		return nil
	}
	httpxErr, ok := err.(*Error)
	if !ok {
		return errs.Wrap(errs.Internal, "http effect failed", err)
	}
	switch httpxErr.Class {
	case ClassRateLimit:
		return errs.WrapProvider(errs.RateLimited, httpxErr.Message, "", "", true, httpxErr.StatusCode, httpxErr)
	case ClassTimeout:
		return errs.WrapProvider(errs.Timeout, httpxErr.Message, "", "", true, httpxErr.StatusCode, httpxErr)
	case ClassServer:
		return errs.WrapProvider(errs.Network, httpxErr.Message, "", "", true, httpxErr.StatusCode, httpxErr)
	case ClassClient:
		return errs.WrapProvider(errs.InvalidArgs, httpxErr.Message, "", "", false, httpxErr.StatusCode, httpxErr)
	default:
		return errs.WrapProvider(errs.Network, httpxErr.Message, "", "", httpxErr.ShouldRetry, httpxErr.StatusCode, httpxErr)
	}
}
