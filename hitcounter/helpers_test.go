package hitcounter_test

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/metaphi-org/go-hit-counter/hitcounter/datastore"
)

var errConnRefused = errors.New("dial tcp 10.0.0.7:6379: connect: connection refused")

type step struct {
	value int64
	err   error
}

func ok(v int64) step { return step{value: v} }

func connErr() step { return step{err: datastore.NewTransientError(errConnRefused)} }

func fail(err error) step { return step{err: err} }

// scriptedStore replays a fixed sequence of results.
type scriptedStore struct {
	mu      sync.Mutex
	steps   []step
	calls   []datastore.KeyConfig
	onCall  func(n int)
	pingErr error
}

func newScriptedStore(steps ...step) *scriptedStore {
	return &scriptedStore{steps: steps}
}

func (s *scriptedStore) IncrKey(_ context.Context, key datastore.KeyConfig) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls = append(s.calls, key)
	if s.onCall != nil {
		s.onCall(len(s.calls))
	}
	if len(s.steps) == 0 {
		return 0, errors.New("scriptedStore: unexpected call")
	}
	st := s.steps[0]
	s.steps = s.steps[1:]
	return st.value, st.err
}

func (s *scriptedStore) Ping(context.Context) error {
	return s.pingErr
}

func (s *scriptedStore) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

// memStore is a goroutine safe in-memory datastore.
type memStore struct {
	mu     sync.Mutex
	counts map[string]int64
}

func newMemStore() *memStore {
	return &memStore{counts: map[string]int64{}}
}

func (m *memStore) IncrKey(_ context.Context, key datastore.KeyConfig) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counts[key.Key]++
	return m.counts[key.Key], nil
}

func (m *memStore) Ping(context.Context) error { return nil }

// recordingSleeper records pauses instead of sleeping.
type recordingSleeper struct {
	mu     sync.Mutex
	pauses []time.Duration
}

func (r *recordingSleeper) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pauses = append(r.pauses, d)
	return nil
}

func (r *recordingSleeper) Pauses() []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]time.Duration(nil), r.pauses...)
}
