package core

import (
	"context"
	"errors"
	"net"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"
)

const (
	defaultRetryAttempts  = 3
	defaultRetryBackoff   = 200 * time.Millisecond
	defaultRetryMaxDelay  = 2 * time.Second
	defaultRetryJitter    = 50 * time.Millisecond
	maxRetryAttemptsLimit = 10
)

// RetryPolicy bounds how a remote call is retried. Timeout applies to each
// attempt, not to the whole sequence.
type RetryPolicy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Jitter         bool
	Timeout        time.Duration
}

// DefaultRetryPolicy retries three times with exponential backoff.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    defaultRetryAttempts,
		InitialBackoff: defaultRetryBackoff,
		MaxBackoff:     defaultRetryMaxDelay,
		Jitter:         true,
	}
}

func (p RetryPolicy) normalized() RetryPolicy {
	if p.MaxAttempts <= 0 || p.MaxAttempts > maxRetryAttemptsLimit {
		p.MaxAttempts = defaultRetryAttempts
	}
	if p.InitialBackoff <= 0 {
		p.InitialBackoff = defaultRetryBackoff
	}
	if p.MaxBackoff > 0 && p.MaxBackoff < p.InitialBackoff {
		p.MaxBackoff = p.InitialBackoff
	}
	return p
}

func (p RetryPolicy) backoff() retry.Backoff {
	b := retry.NewExponential(p.InitialBackoff)
	if p.MaxBackoff > 0 {
		b = retry.WithCappedDuration(p.MaxBackoff, b)
	}
	if p.Jitter {
		b = retry.WithJitter(defaultRetryJitter, b)
	}
	retries := uint64(p.MaxAttempts - 1) // #nosec G115 -- bounded by normalized
	return retry.WithMaxRetries(retries, b)
}

// Do runs fn until it succeeds, fails with a permanent error, the attempts
// run out, or ctx is done. The last attempt's error is returned unwrapped.
func (p RetryPolicy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	p = p.normalized()
	return retry.Do(ctx, p.backoff(), func(ctx context.Context) error {
		attemptCtx := ctx
		cancel := func() {}
		if p.Timeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, p.Timeout)
		}
		err := fn(attemptCtx)
		cancel()
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return err
		}
		if IsRetryable(err) {
			return retry.RetryableError(err)
		}
		return err
	})
}

// IsRetryable reports whether err looks transient: expired deadlines,
// network failures, throttling and 5xx responses.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	switch KindOf(err) {
	case KindValidation, KindUnsupportedFormat, KindCollectionMissing:
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var marked interface{ Retryable() bool }
	if errors.As(err, &marked) {
		return marked.Retryable()
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, permanent := range permanentMarkers {
		if strings.Contains(msg, permanent) {
			return false
		}
	}
	for _, transient := range transientMarkers {
		if strings.Contains(msg, transient) {
			return true
		}
	}
	return false
}

var permanentMarkers = []string{
	"401", "403", "unauthorized", "forbidden", "invalid api key", "api key not valid",
	"permission denied", "invalid_request", "invalid argument",
}

var transientMarkers = []string{
	"429", "rate limit", "too many requests", "resource exhausted", "quota",
	"500", "502", "503", "504", "internal server error", "bad gateway",
	"service unavailable", "unavailable", "overloaded", "timeout", "timed out",
	"connection reset", "connection refused", "broken pipe", "unexpected eof",
}
