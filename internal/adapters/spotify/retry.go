package spotify

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ewilliams-labs/duet/internal/core/domain"
)

const (
	defaultAttempts = 3
	defaultBackoff  = 500 * time.Millisecond
	maxBackoff      = 30 * time.Second
)

// retryPolicy decides whether and how long to wait before repeating a
// Spotify request.
type retryPolicy struct {
	attempts int
	base     time.Duration
}

func (c *Client) retryPolicy() retryPolicy {
	p := retryPolicy{attempts: c.maxRetries, base: c.baseBackoff}
	if p.attempts <= 0 {
		p.attempts = defaultAttempts
	}
	if p.base <= 0 {
		p.base = defaultBackoff
	}
	return p
}

// wait is the pause after the given zero-based attempt. A Retry-After
// from the server replaces the exponential delay. Both are capped.
func (p retryPolicy) wait(attempt int, retryAfter time.Duration) time.Duration {
	d := retryAfter
	if d <= 0 {
		d = p.base << attempt
	}
	return min(d, maxBackoff)
}

// retryable reports whether the outcome of one attempt is worth repeating:
// transport errors other than cancellation, 429 and 5xx.
func retryable(resp *http.Response, err error) bool {
	if err != nil {
		return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
	}
	return resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError
}

// send performs a body-less request with pacing and retries. On success
// the caller owns resp.Body; any status that is not retryable is returned
// as is.
func (c *Client) send(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	policy := c.retryPolicy()
	endpoint := endpointLabel(req.URL.Path)

	var lastErr error
	for attempt := 0; attempt < policy.attempts; attempt++ {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return nil, fmt.Errorf("spotify adapter: rate limiter: %w", err)
			}
		}

		resp, err := c.httpClient.Do(req)
		c.countRequest(endpoint, resp, err)
		if !retryable(resp, err) {
			return resp, err
		}

		var retryAfter time.Duration
		if err != nil {
			lastErr = err
		} else {
			retryAfter = parseRetryAfter(resp)
			lastErr = fmt.Errorf("status %d", resp.StatusCode)
			_ = resp.Body.Close()
		}

		if attempt == policy.attempts-1 {
			break
		}
		delay := policy.wait(attempt, retryAfter)
		c.log().Warn("spotify adapter: retrying request",
			zap.String("endpoint", endpoint),
			zap.Int("attempt", attempt+1),
			zap.Int("max", policy.attempts),
			zap.Duration("delay", delay),
			zap.Error(lastErr),
		)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, fmt.Errorf("spotify adapter: request canceled: %w", ctx.Err())
		case <-timer.C:
		}
	}

	return nil, fmt.Errorf("spotify adapter: giving up after %d attempts: %w", policy.attempts, lastErr)
}

// parseRetryAfter reads Retry-After as seconds or an HTTP date.
func parseRetryAfter(resp *http.Response) time.Duration {
	v := strings.TrimSpace(resp.Header.Get("Retry-After"))
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(max(secs, 0)) * time.Second
	}
	if when, err := http.ParseTime(v); err == nil {
		return max(time.Until(when), 0)
	}
	return 0
}

func (c *Client) log() *zap.Logger {
	if c.logger == nil {
		return zap.NewNop()
	}
	return c.logger
}

func (c *Client) countRequest(endpoint string, resp *http.Response, err error) {
	if c.requests == nil {
		return
	}
	status := "error"
	if err == nil && resp != nil {
		status = strconv.Itoa(resp.StatusCode)
	}
	c.requests.WithLabelValues(endpoint, status).Inc()
}

func (c *Client) incDegraded(reason domain.DegradeReason) {
	if c.degraded != nil {
		c.degraded.WithLabelValues(providerName, string(reason)).Inc()
	}
}

// endpointLabel keeps metric cardinality bounded by dropping ids from the path.
func endpointLabel(path string) string {
	switch {
	case strings.Contains(path, "/playlists/"):
		return "playlist_tracks"
	case strings.Contains(path, "/audio-features"):
		return "audio_features"
	default:
		return "other"
	}
}
