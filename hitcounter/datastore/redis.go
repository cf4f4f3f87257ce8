package datastore

import (
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"syscall"

	"github.com/redis/go-redis/v9"
)

var ErrClientNotConfigured = errors.New("redis client not specified")

// Replies the server sends while it cannot serve writes for a short while.
var transientReplyPrefixes = []string{
	"LOADING ",
	"READONLY ",
	"MASTERDOWN ",
	"TRYAGAIN ",
	"CLUSTERDOWN ",
}

// incrExpireScript increments KEYS[1] and sets a TTL of ARGV[1] milliseconds if the key
// has none. A failing INCR aborts the script, so the key is left untouched.
var incrExpireScript = redis.NewScript(`
local count = redis.call('INCR', KEYS[1])
if redis.call('PTTL', KEYS[1]) == -1 then
	redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
return count
`)

// RedisDatastore represents a datastore backed by Redis.
//
// Client may be a single node, failover or cluster client. It should be created with
// MaxRetries set to -1 so that go-redis does not retry on its own.
type RedisDatastore struct {
	Client redis.UniversalClient
}

// IncrKey increments the key in Redis and sets an expiration time if the key has none.
func (r RedisDatastore) IncrKey(ctx context.Context, key KeyConfig) (int64, error) {
	if r.Client == nil {
		return 0, ErrClientNotConfigured
	}

	if key.MaxLifespan <= 0 {
		count, err := r.Client.Incr(ctx, key.Key).Result()
		if err != nil {
			return 0, classifyRedisError(err)
		}
		return count, nil
	}

	count, err := incrExpireScript.Run(ctx, r.Client, []string{key.Key}, max(key.MaxLifespan.Milliseconds(), 1)).Int64()
	if err != nil {
		return 0, classifyRedisError(err)
	}

	return count, nil
}

func (r RedisDatastore) Ping(ctx context.Context) error {
	if r.Client == nil {
		return ErrClientNotConfigured
	}
	return classifyRedisError(r.Client.Ping(ctx).Err())
}

func classifyRedisError(err error) error {
	if err == nil {
		return nil
	}

	// context.DeadlineExceeded satisfies net.Error, check it first.
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var replyErr redis.Error
	if errors.As(err, &replyErr) {
		msg := replyErr.Error()
		for _, prefix := range transientReplyPrefixes {
			if strings.HasPrefix(msg, prefix) {
				return NewTransientError(err)
			}
		}
		return err
	}

	var netErr net.Error
	if errors.As(err, &netErr) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE) {
		return NewTransientError(err)
	}

	return err
}
