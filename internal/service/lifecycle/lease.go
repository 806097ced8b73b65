package lifecycle

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
)

const leaseKey = "airlock:lifecycle:sweep"

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLease is a Lease on a single Redis key.
type RedisLease struct {
	client *redis.Client
	key    string
	logger *slog.Logger
}

// NewRedisLease connects to the Redis server at url.
func NewRedisLease(url string, logger *slog.Logger) (*RedisLease, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return newRedisLease(client, logger), nil
}

func newRedisLease(client *redis.Client, logger *slog.Logger) *RedisLease {
	return &RedisLease{client: client, key: leaseKey, logger: logger}
}

// Acquire takes the lease for ttl. The returned release only deletes the
// key while this holder still owns it.
func (l *RedisLease) Acquire(ctx context.Context, ttl time.Duration) (func(), bool, error) {
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, l.key, token, ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("acquire lease: %w", err)
	}
	if !ok {
		return nil, false, nil
	}
	release := func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if err := releaseScript.Run(releaseCtx, l.client, []string{l.key}, token).Err(); err != nil {
			l.logger.Warn("failed to release sweep lease", "error", err)
		}
	}
	return release, true, nil
}

// Close closes the Redis client.
func (l *RedisLease) Close() error {
	return l.client.Close()
}
