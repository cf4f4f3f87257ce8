package datastore

import (
	"context"
	"time"
)

type KeyConfig struct {
	Key string
	// MaxLifespan bounds how long the counter lives. Zero keeps the key forever.
	MaxLifespan time.Duration
}

type Datastore interface {
	// Responsible for atomically incrementing a key. Returns the post increment count.
	//
	// When MaxLifespan is set the expiry must only be applied on the first increment of the key.
	// Connection level failures are returned wrapped with NewTransientError, everything else as is.
	IncrKey(ctx context.Context, key KeyConfig) (int64, error)

	// Ping checks that the backing service is reachable.
	Ping(ctx context.Context) error
}
