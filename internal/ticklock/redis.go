package ticklock

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/BTreeMap/NudgePipe/internal/util"
	"github.com/redis/go-redis/v9"
)

// KeyPrefix namespaces lock keys in Redis.
const KeyPrefix = "nudgepipe:tick:"

// releaseScript deletes the key only if it still carries our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Redis is a Locker shared by every replica pointing at the same server.
type Redis struct {
	client redis.UniversalClient
}

// NewRedis wraps an existing client.
func NewRedis(client redis.UniversalClient) *Redis {
	return &Redis{client: client}
}

// NewRedisFromURL connects to redisURL and pings it.
func NewRedisFromURL(ctx context.Context, redisURL string) (*Redis, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	client := redis.NewClient(opt)
	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping Redis: %w", err)
	}
	return &Redis{client: client}, nil
}

func (r *Redis) TryLock(ctx context.Context, key string, ttl time.Duration) (func(), bool, error) {
	token := util.GenerateLockToken()
	fullKey := KeyPrefix + key
	ok, err := r.client.SetNX(ctx, fullKey, token, ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("failed to acquire tick lock %s: %w", key, err)
	}
	if !ok {
		slog.Debug("Redis.TryLock: lock held elsewhere", "key", key)
		return nil, false, nil
	}
	return func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := releaseScript.Run(releaseCtx, r.client, []string{fullKey}, token).Err(); err != nil {
			slog.Warn("Redis.TryLock: release failed", "key", key, "error", err)
		}
	}, true, nil
}

// Close closes the underlying client.
func (r *Redis) Close() error {
	return r.client.Close()
}
