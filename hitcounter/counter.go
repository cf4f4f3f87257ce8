package hitcounter

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/hashicorp/go-hclog"
	"github.com/metaphi-org/go-hit-counter/hitcounter/datastore"
)

const (
	DefaultMaxRetries = 5
	DefaultBackoff    = 500 * time.Millisecond
)

// Counter increments remote counters, retrying on transient connection failures
// with a pause between attempts. It holds no per-call state and is safe for
// concurrent use.
type Counter struct {
	ds         datastore.Datastore
	maxRetries int
	newBackOff func() backoff.BackOff
	sleep      func(ctx context.Context, d time.Duration) error
	logger     hclog.Logger
	observers  []Observer
}

func New(ds datastore.Datastore, opts ...Option) *Counter {
	c := &Counter{
		ds:         ds,
		maxRetries: DefaultMaxRetries,
		newBackOff: constantBackOff(DefaultBackoff),
		sleep:      sleepContext,
		logger:     hclog.NewNullLogger(),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Increment atomically increments key and returns the new value. Transient
// failures are retried up to maxRetries times.
func (c *Counter) Increment(ctx context.Context, key string, maxRetries int) (int64, error) {
	return c.IncrementKey(ctx, datastore.KeyConfig{Key: key}, maxRetries)
}

// IncrementDefault is Increment with the counter's default retry budget.
func (c *Counter) IncrementDefault(ctx context.Context, key string) (int64, error) {
	return c.Increment(ctx, key, c.maxRetries)
}

// IncrementKey is Increment for keys that carry an expiry.
func (c *Counter) IncrementKey(ctx context.Context, key datastore.KeyConfig, maxRetries int) (int64, error) {
	cl := &call{
		counter:     c,
		key:         key,
		retriesLeft: maxRetries,
		state:       Attempting,
		start:       time.Now(),
		logger:      c.logger.With("key", key.Key),
	}

	switch {
	case key.Key == "":
		cl.fatal(ErrEmptyKey, false)
	case maxRetries < 0:
		cl.retriesLeft = 0
		cl.fatal(ErrNegativeRetries, false)
	default:
		cl.policy = c.newBackOff()
	}

	return cl.run(ctx)
}

// DefaultRetries returns the budget used by IncrementDefault.
func (c *Counter) DefaultRetries() int {
	return c.maxRetries
}

// call holds the state of one Increment invocation.
type call struct {
	counter     *Counter
	key         datastore.KeyConfig
	policy      backoff.BackOff
	state       State
	retriesLeft int
	attempts    int
	delay       time.Duration
	value       int64
	err         error
	start       time.Time
	logger      hclog.Logger
}

func (cl *call) run(ctx context.Context) (int64, error) {
	for {
		switch cl.state {
		case Attempting:
			cl.attempt(ctx)
		case BackingOff:
			cl.backOff(ctx)
		case Succeeded:
			if cl.attempts > 1 {
				cl.logger.Debug("increment succeeded after retries", "attempts", cl.attempts, "value", cl.value)
			}
			return cl.value, nil
		default:
			return 0, cl.err
		}
	}
}

func (cl *call) attempt(ctx context.Context) {
	if err := ctx.Err(); err != nil {
		cl.fatal(err, false)
		return
	}

	cl.attempts++
	value, err := cl.counter.ds.IncrKey(ctx, cl.key)

	switch {
	case err == nil:
		cl.value = value
		cl.transition(Succeeded, nil, true)

	case !datastore.IsTransient(err):
		cl.fatal(err, true)

	case cl.retriesLeft == 0:
		cl.exhausted(err)

	default:
		delay := cl.policy.NextBackOff()
		if delay == backoff.Stop {
			cl.exhausted(err)
			return
		}
		cl.retriesLeft--
		cl.delay = delay
		cl.logger.Warn("transient increment failure, backing off",
			"attempt", cl.attempts,
			"retries_left", cl.retriesLeft,
			"delay", delay,
			"error", err,
		)
		cl.transition(BackingOff, err, true)
	}
}

func (cl *call) backOff(ctx context.Context) {
	if err := cl.counter.sleep(ctx, cl.delay); err != nil {
		cl.fatal(err, false)
		return
	}
	cl.transition(Attempting, nil, false)
}

func (cl *call) exhausted(err error) {
	cl.err = &RetriesExhaustedError{Key: cl.key.Key, Attempts: cl.attempts, Err: err}
	cl.logger.Error("increment failed, retries exhausted", "attempts", cl.attempts, "error", err)
	cl.transition(FailedExhausted, err, true)
}

func (cl *call) fatal(err error, remote bool) {
	cl.err = &FatalError{Key: cl.key.Key, Attempts: cl.attempts, Err: err}
	cl.logger.Error("increment failed", "attempts", cl.attempts, "error", err)
	cl.transition(FailedFatal, err, remote)
}

func (cl *call) transition(to State, err error, remote bool) {
	t := Transition{
		Key:         cl.key.Key,
		From:        cl.state,
		To:          to,
		Attempt:     cl.attempts,
		RetriesLeft: cl.retriesLeft,
		Elapsed:     time.Since(cl.start),
		Remote:      remote,
		Err:         err,
	}
	if to == BackingOff {
		t.Delay = cl.delay
	}

	cl.state = to
	for _, o := range cl.counter.observers {
		o.Observe(t)
	}
}

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
