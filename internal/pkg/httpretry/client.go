// Package httpretry retries idempotent API reads with exponential backoff
// and full jitter. The streaming send request never goes through it.
package httpretry

import (
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"strconv"
	"time"

	"github.com/ignite/ses-bulk-sender/internal/pkg/logger"
)

// HTTPDoer is satisfied by *http.Client and *RetryClient.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// RetryClient retries transport errors and 429/5xx gateway responses.
type RetryClient struct {
	client     HTTPDoer
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
}

// NewRetryClient wraps client, or a 30s-timeout http.Client when nil.
// maxRetries counts attempts after the first and defaults to 3.
func NewRetryClient(client HTTPDoer, maxRetries int) *RetryClient {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &RetryClient{
		client:     client,
		maxRetries: maxRetries,
		baseDelay:  500 * time.Millisecond,
		maxDelay:   10 * time.Second,
	}
}

// SetBackoff overrides the base and maximum backoff delays.
func (rc *RetryClient) SetBackoff(base, max time.Duration) {
	rc.baseDelay = base
	rc.maxDelay = max
}

// Do sends req, retrying while the response is retryable and attempts
// remain. The final retryable response is returned as-is so the caller can
// decode its error body. A request with a body is retried only when
// req.GetBody can rewind it.
func (rc *RetryClient) Do(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	var lastErr error

	for attempt := 0; ; attempt++ {
		resp, err := rc.client.Do(req)
		switch {
		case err != nil && ctx.Err() != nil:
			return nil, err
		case err == nil && !retryableStatus(resp.StatusCode):
			return resp, nil
		}

		last := attempt == rc.maxRetries || (req.Body != nil && req.GetBody == nil)
		if err == nil && last {
			return resp, nil
		}

		wait := rc.backoff(attempt + 1)
		if err != nil {
			lastErr = err
		} else {
			if ra, ok := retryAfter(resp); ok {
				wait = min(ra, rc.maxDelay)
			}
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
			lastErr = fmt.Errorf("httpretry: %s %s returned %d", req.Method, req.URL.Path, resp.StatusCode)
		}
		if last {
			return nil, lastErr
		}

		if req.GetBody != nil {
			body, err := req.GetBody()
			if err != nil {
				return nil, fmt.Errorf("httpretry: rewind body: %w", err)
			}
			req.Body = body
		}

		logger.Warn("httpretry: retrying request",
			"attempt", attempt+1, "max_retries", rc.maxRetries,
			"path", req.URL.Path, "wait", wait, "error", lastErr)

		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return nil, lastErr
		}
	}
}

// backoff returns a full-jitter delay in [base/2, min(max, base*2^(n-1))].
func (rc *RetryClient) backoff(n int) time.Duration {
	ceiling := rc.baseDelay << (n - 1)
	if ceiling > rc.maxDelay || ceiling <= 0 {
		ceiling = rc.maxDelay
	}
	d := time.Duration(rand.Int63n(int64(ceiling) + 1))
	if floor := rc.baseDelay / 2; d < floor {
		d = floor
	}
	return d
}

// retryAfter reads a Retry-After header given in seconds.
func retryAfter(resp *http.Response) (time.Duration, bool) {
	secs, err := strconv.Atoi(resp.Header.Get("Retry-After"))
	if err != nil || secs < 0 {
		return 0, false
	}
	return time.Duration(secs) * time.Second, true
}

func retryableStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}
