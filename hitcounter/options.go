package hitcounter

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/hashicorp/go-hclog"
)

// Option configures a Counter.
type Option func(*Counter)

// WithDefaultRetries sets the budget used by IncrementDefault. Negative values are ignored.
func WithDefaultRetries(n int) Option {
	return func(c *Counter) {
		if n >= 0 {
			c.maxRetries = n
		}
	}
}

// WithConstantBackOff pauses d between every attempt. This is the default, with DefaultBackoff.
func WithConstantBackOff(d time.Duration) Option {
	return func(c *Counter) {
		c.newBackOff = constantBackOff(d)
	}
}

// WithExponentialBackOff grows the pause by 1.5x after every failure, starting at
// initial and capped at maxInterval, with the jitter of backoff.ExponentialBackOff.
func WithExponentialBackOff(initial, maxInterval time.Duration) Option {
	return func(c *Counter) {
		c.newBackOff = func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = initial
			b.MaxInterval = maxInterval
			b.MaxElapsedTime = 0
			b.Reset()
			return b
		}
	}
}

// WithBackOff installs a custom policy. newBackOff is called once per Increment call;
// a policy returning backoff.Stop ends the call as retries exhausted. A nil newBackOff is ignored.
func WithBackOff(newBackOff func() backoff.BackOff) Option {
	return func(c *Counter) {
		if newBackOff != nil {
			c.newBackOff = newBackOff
		}
	}
}

func WithLogger(logger hclog.Logger) Option {
	return func(c *Counter) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithObserver adds an observer of state transitions.
func WithObserver(o Observer) Option {
	return func(c *Counter) {
		c.observers = append(c.observers, o)
	}
}

// WithSleeper replaces the pause between attempts. sleep must return ctx.Err()
// if ctx is done before d elapses. A nil sleep is ignored.
func WithSleeper(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(c *Counter) {
		if sleep != nil {
			c.sleep = sleep
		}
	}
}

func constantBackOff(d time.Duration) func() backoff.BackOff {
	return func() backoff.BackOff {
		return backoff.NewConstantBackOff(d)
	}
}
