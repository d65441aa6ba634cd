// Package external provides the anti-corruption layer between the functions
// and third-party HTTP APIs. Vendor SDKs that accept an *http.Client are
// given one built on Transport, which enforces consistent resilience
// patterns: circuit breaking, retries with exponential backoff, trace
// propagation and error mapping.
package external

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand/v2"
	"net/http"
	"strconv"
	"time"

	"github.com/sony/gobreaker/v2"

	"orderpush/internal/types"
)

// TraceHeader carries the invocation's event ID to upstream services.
const TraceHeader = "X-Request-Id"

// RetryPolicy configures the retry behavior of a Transport.
type RetryPolicy struct {
	MaxRetries int
	MinWait    time.Duration
	MaxWait    time.Duration
}

// DefaultRetryPolicy returns sensible defaults for a function invocation,
// which has a bounded deadline of its own.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries: 2,
		MinWait:    250 * time.Millisecond,
		MaxWait:    5 * time.Second,
	}
}

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Transport is an http.RoundTripper that wraps a base transport with a
// circuit breaker and retries on 429 and 5xx responses.
type Transport struct {
	base        http.RoundTripper
	breaker     *gobreaker.CircuitBreaker[*http.Response]
	retryPolicy RetryPolicy
	userAgent   string
	sleepFn     SleepFunc
}

// TransportOption is a functional option for configuring a Transport.
type TransportOption func(*Transport)

// WithSleepFunc overrides the sleep between retries. Intended for tests.
func WithSleepFunc(fn SleepFunc) TransportOption {
	return func(t *Transport) {
		t.sleepFn = fn
	}
}

// WithBase sets the underlying transport. Defaults to http.DefaultTransport.
func WithBase(base http.RoundTripper) TransportOption {
	return func(t *Transport) {
		t.base = base
	}
}

// WithBreaker replaces the circuit breaker, e.g. to share one across
// clients or to tune it in tests.
func WithBreaker(cb *gobreaker.CircuitBreaker[*http.Response]) TransportOption {
	return func(t *Transport) {
		t.breaker = cb
	}
}

// NewBreaker returns the default breaker: it opens after more than five
// consecutive failures and half-opens after 30s.
func NewBreaker(name string) *gobreaker.CircuitBreaker[*http.Response] {
	return gobreaker.NewCircuitBreaker[*http.Response](gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
		IsSuccessful: func(err error) bool {
			return err == nil
		},
	})
}

// NewTransport creates a Transport named breakerName.
func NewTransport(breakerName string, retryPolicy RetryPolicy, userAgent string, opts ...TransportOption) *Transport {
	t := &Transport{
		base:        http.DefaultTransport,
		breaker:     NewBreaker(breakerName),
		retryPolicy: retryPolicy,
		userAgent:   userAgent,
		sleepFn:     sleepContext,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// NewHTTPClient returns an *http.Client using t with an overall timeout.
func NewHTTPClient(t *Transport, timeout time.Duration) *http.Client {
	return &http.Client{Transport: t, Timeout: timeout}
}

// RoundTrip executes the request with:
//  1. Trace header injection (event ID from context)
//  2. User-Agent header injection
//  3. Circuit breaker wrapping
//  4. Retry on 429/5xx (respecting Retry-After headers)
//  5. Error mapping to types.AppError
//
// Responses other than 429/5xx are returned as-is. Exhausted retries and an
// open circuit are returned as a types.AppError with an upstream code.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx := req.Context()

	// Snapshot the body so it can be replayed on retries.
	var bodyBytes []byte
	if req.Body != nil && req.Body != http.NoBody {
		var err error
		bodyBytes, err = io.ReadAll(req.Body)
		req.Body.Close()
		if err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to read request body for retry support", err)
		}
	}

	var lastResp *http.Response
	var lastErr error

	maxAttempts := 1 + t.retryPolicy.MaxRetries
	for attempt := 0; attempt < maxAttempts; attempt++ {
		attemptReq := t.prepare(req, bodyBytes)

		resp, err := t.breaker.Execute(func() (*http.Response, error) {
			r, doErr := t.base.RoundTrip(attemptReq)
			if doErr != nil {
				return nil, doErr
			}
			if r.StatusCode >= 500 {
				return r, fmt.Errorf("upstream returned %d", r.StatusCode)
			}
			if r.StatusCode == http.StatusTooManyRequests {
				return r, fmt.Errorf("upstream returned 429")
			}
			return r, nil
		})
		if err == nil {
			return resp, nil
		}

		lastErr = err
		lastResp = nil
		if resp != nil {
			if attempt < maxAttempts-1 {
				resp.Body.Close()
			} else {
				lastResp = resp
			}
		}

		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			break
		}
		if ctx.Err() != nil {
			break
		}

		if attempt < maxAttempts-1 {
			if sleepErr := t.sleepFn(ctx, t.computeBackoff(attempt, resp)); sleepErr != nil {
				lastErr = sleepErr
				break
			}
		}
	}

	if lastResp != nil {
		lastResp.Body.Close()
	}
	return nil, t.mapError(lastResp, lastErr)
}

// prepare clones req for one attempt; RoundTrippers must not modify the
// caller's request.
func (t *Transport) prepare(req *http.Request, body []byte) *http.Request {
	r := req.Clone(req.Context())
	if eventID := types.GetEventID(req.Context()); eventID != "" {
		r.Header.Set(TraceHeader, eventID)
	}
	if t.userAgent != "" {
		r.Header.Set("User-Agent", t.userAgent)
	}
	if body != nil {
		r.Body = io.NopCloser(bytes.NewReader(body))
		r.ContentLength = int64(len(body))
		r.GetBody = func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(body)), nil
		}
	}
	return r
}

// computeBackoff determines the wait before the next attempt. It respects
// Retry-After if present, otherwise uses exponential backoff with jitter
// clamped to [MinWait, MaxWait].
func (t *Transport) computeBackoff(attempt int, resp *http.Response) time.Duration {
	if resp != nil {
		if retryAfter := resp.Header.Get("Retry-After"); retryAfter != "" {
			if seconds, err := strconv.Atoi(retryAfter); err == nil && seconds > 0 {
				return min(time.Duration(seconds)*time.Second, t.retryPolicy.MaxWait)
			}
			if at, err := http.ParseTime(retryAfter); err == nil {
				wait := time.Until(at)
				if wait <= 0 {
					return t.retryPolicy.MinWait
				}
				return min(wait, t.retryPolicy.MaxWait)
			}
		}
	}

	base := float64(t.retryPolicy.MinWait) * math.Pow(2, float64(attempt))
	base = math.Min(base, float64(t.retryPolicy.MaxWait))

	minWait := float64(t.retryPolicy.MinWait)
	if base <= minWait {
		return t.retryPolicy.MinWait
	}
	return time.Duration(minWait + rand.Float64()*(base-minWait))
}

// mapError translates HTTP-level failures into AppErrors. Every upstream
// failure maps to a retryable code.
func (t *Transport) mapError(resp *http.Response, err error) *types.AppError {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return types.NewAppError(types.ErrCodeUpstreamUnavailable, "circuit breaker is open; upstream service unavailable", err)
	}

	if resp != nil {
		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			return types.NewAppError(types.ErrCodeUpstreamRateLimited, "upstream rate limit exceeded", err)
		case resp.StatusCode >= 500:
			return types.NewAppError(types.ErrCodeUpstreamUnavailable, fmt.Sprintf("upstream returned %d after retries", resp.StatusCode), err)
		}
	}

	return types.NewAppError(types.ErrCodeUpstreamUnavailable, "upstream request failed", err)
}
