// Package llm provides the shared LLM capability: a Retry-After-aware HTTP
// transport, a provider abstraction, and the typed agent facade every
// pipeline stage calls through.
package llm

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/fctr-id/okta-ai-agent-sub001/pkg/config"
)

// RetryNotice describes one retry wait, emitted through the progress callback
// before the transport sleeps.
type RetryNotice struct {
	Attempt     int
	WaitSeconds float64
	Reason      string
	AgentLabel  string
}

// NoticeFunc receives retry progress. May be nil.
type NoticeFunc func(RetryNotice)

type labelKey struct{}

// WithAgentLabel annotates a request context with the calling agent's name so
// retry notices can identify which stage is waiting.
func WithAgentLabel(ctx context.Context, label string) context.Context {
	return context.WithValue(ctx, labelKey{}, label)
}

func agentLabel(ctx context.Context) string {
	if v, ok := ctx.Value(labelKey{}).(string); ok {
		return v
	}
	return ""
}

// RetryTransport wraps an http.RoundTripper so that rate-limit responses and
// transient upstream errors are retried. Retries happen below the agent
// layer: the agent sees either a success or a terminal failure.
//
// Retriable: 429, 502, 503, 504, and connect/timeout errors. A Retry-After
// header (seconds or HTTP-date) is honored exactly, clamped to MaxWait;
// otherwise the wait is base * 2^(attempt-1). The wrapped calls are assumed
// idempotent (an LLM query with the same prompt is safe to re-issue).
type RetryTransport struct {
	Base   http.RoundTripper
	Retry  config.RetryConfig
	Notify NoticeFunc
}

// NewRetryTransport builds a RetryTransport over the default transport.
func NewRetryTransport(retry config.RetryConfig, notify NoticeFunc) *RetryTransport {
	return &RetryTransport{Base: http.DefaultTransport, Retry: retry, Notify: notify}
}

// RoundTrip implements http.RoundTripper.
func (t *RetryTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}

	var resp *http.Response
	var err error
	for attempt := 1; attempt <= t.Retry.MaxAttempts; attempt++ {
		if attempt > 1 && req.GetBody != nil {
			body, bodyErr := req.GetBody()
			if bodyErr != nil {
				return nil, fmt.Errorf("recreating request body for retry: %w", bodyErr)
			}
			req.Body = body
		}

		resp, err = base.RoundTrip(req)

		reason, retriable := classify(resp, err)
		if !retriable || attempt == t.Retry.MaxAttempts {
			return resp, err
		}

		wait := t.waitFor(resp, attempt)
		if resp != nil {
			// Drain so the connection can be reused.
			resp.Body.Close()
		}

		notice := RetryNotice{
			Attempt:     attempt,
			WaitSeconds: wait.Seconds(),
			Reason:      reason,
			AgentLabel:  agentLabel(req.Context()),
		}
		if t.Notify != nil {
			t.Notify(notice)
		}
		slog.Info("LLM call retrying",
			"agent", notice.AgentLabel,
			"attempt", attempt,
			"wait_seconds", notice.WaitSeconds,
			"reason", reason)

		// Cancellation is consulted before sleeping, never mid-request.
		select {
		case <-req.Context().Done():
			return nil, req.Context().Err()
		case <-time.After(wait):
		}
	}
	return resp, err
}

// classify decides whether a response or error is retriable and names the reason.
func classify(resp *http.Response, err error) (string, bool) {
	if err != nil {
		// Connect errors and timeouts are retriable; context cancellation is not.
		if resp == nil {
			return "connection error", true
		}
		return err.Error(), false
	}
	switch resp.StatusCode {
	case http.StatusTooManyRequests:
		return "rate limited", true
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return fmt.Sprintf("upstream error (HTTP %d)", resp.StatusCode), true
	}
	return "", false
}

// waitFor picks the wait before the next attempt: Retry-After if present,
// otherwise exponential backoff. Always clamped to MaxWait.
func (t *RetryTransport) waitFor(resp *http.Response, attempt int) time.Duration {
	if resp != nil {
		if wait, ok := parseRetryAfter(resp.Header.Get("Retry-After")); ok {
			return clamp(wait, t.Retry.MaxWait)
		}
	}
	backoff := t.Retry.BackoffBase * time.Duration(1<<(attempt-1))
	return clamp(backoff, t.Retry.MaxWait)
}

// parseRetryAfter handles both delta-seconds and HTTP-date forms.
func parseRetryAfter(value string) (time.Duration, bool) {
	if value == "" {
		return 0, false
	}
	if secs, err := strconv.Atoi(value); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second, true
	}
	if at, err := http.ParseTime(value); err == nil {
		if wait := time.Until(at); wait > 0 {
			return wait, true
		}
		return 0, true
	}
	return 0, false
}

func clamp(d, max time.Duration) time.Duration {
	if max > 0 && d > max {
		return max
	}
	if d < 0 {
		return 0
	}
	return d
}
