// Package retry runs failure-prone calls under a bounded exponential backoff
// policy. A call reports one of three outcomes: nil (success), a plain error
// (transient, try again) or an error wrapped with Permanent (stop now).
package retry

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Policy bounds the number of attempts and the delay between them
type Policy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
}

// DefaultPolicy is 3 attempts, waiting 4s then 8s (capped at 10s)
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:     3,
		InitialInterval: 4 * time.Second,
		MaxInterval:     10 * time.Second,
		Multiplier:      2,
	}
}

// Permanent marks err as not worth retrying
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return backoff.Permanent(err)
}

// Do calls fn until it succeeds, returns a permanent error, the attempts are
// exhausted or ctx is done. The returned error is the last one fn produced,
// with any Permanent wrapper removed.
func Do(ctx context.Context, name string, policy Policy, fn func(ctx context.Context) error) error {
	attempts := policy.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	attempt := 0
	operation := func() error {
		attempt++
		err := fn(ctx)
		if err != nil {
			var permanent *backoff.PermanentError
			if !errors.As(err, &permanent) && attempt < attempts {
				slog.Warn("attempt failed, retrying",
					"operation", name,
					"attempt", attempt,
					"max_attempts", attempts,
					"error", err,
				)
			}
		}
		return err
	}

	err := backoff.Retry(operation, backoff.WithContext(
		backoff.WithMaxRetries(policy.backOff(), uint64(attempts-1)),
		ctx,
	))
	if err == nil {
		return nil
	}

	var permanent *backoff.PermanentError
	if errors.As(err, &permanent) {
		return permanent.Err
	}
	return err
}

func (p Policy) backOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialInterval
	b.MaxInterval = p.MaxInterval
	if p.Multiplier > 0 {
		b.Multiplier = p.Multiplier
	}
	b.RandomizationFactor = 0
	// attempts bound the loop, not elapsed time
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}
