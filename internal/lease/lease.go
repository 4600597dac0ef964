// Package lease holds a run lease on Redis so that only one process syncs a
// mailbox at a time.
package lease

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrHeld is returned when another holder owns the lease.
var ErrHeld = errors.New("lease held by another run")

// releaseScript deletes the key only while it still carries our token.
const releaseScript = `if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`

// Client is the subset of the Redis client used for leasing.
type Client interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd
}

// Redis leases one key. The TTL bounds how long a crashed holder blocks others.
type Redis struct {
	client Client
	key    string
	ttl    time.Duration
	logger *slog.Logger
	token  func() string
}

// NewRedis creates a lease on key with the given TTL.
func NewRedis(client Client, key string, ttl time.Duration, logger *slog.Logger) *Redis {
	if logger == nil {
		logger = slog.Default()
	}
	return &Redis{
		client: client,
		key:    key,
		ttl:    ttl,
		logger: logger,
		token:  uuid.NewString,
	}
}

// Key returns the lease key for a mailbox.
func Key(user, host, mailbox string) string {
	return fmt.Sprintf("inbound-sync:lease:%s@%s/%s", user, host, mailbox)
}

// Acquire takes the lease. The returned func releases it if it is still ours.
func (l *Redis) Acquire(ctx context.Context) (func(context.Context) error, error) {
	token := l.token()
	ok, err := l.client.SetNX(ctx, l.key, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire lease %s: %w", l.key, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrHeld, l.key)
	}

	l.logger.DebugContext(ctx, "Lease acquired",
		slog.String("key", l.key),
		slog.Duration("ttl", l.ttl),
	)

	return func(ctx context.Context) error {
		n, err := l.client.Eval(ctx, releaseScript, []string{l.key}, token).Int64()
		if err != nil {
			return fmt.Errorf("release lease %s: %w", l.key, err)
		}
		if n == 0 {
			l.logger.WarnContext(ctx, "Lease expired before release", slog.String("key", l.key))
		}
		return nil
	}, nil
}
