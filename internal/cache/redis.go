package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const defaultKeyPrefix = "inventory-sync:"

// Connect parses a redis URL and verifies the connection
func Connect(redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
	}
	client := redis.NewClient(opts)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return client, nil
}

// StartGuard serializes sync starts across processes. It narrows the
// window in which two starts can both see no active session; the session
// table stays the source of truth.
type StartGuard struct {
	client *redis.Client
	key    string
	ttl    time.Duration

	mu    sync.Mutex
	token string
}

// releaseScript deletes the key only while it still holds the caller's token
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// NewStartGuard creates a guard holding its key for at most ttl
func NewStartGuard(client *redis.Client, keyPrefix string, ttl time.Duration) *StartGuard {
	if keyPrefix == "" {
		keyPrefix = defaultKeyPrefix
	}
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &StartGuard{client: client, key: keyPrefix + "start-lock", ttl: ttl}
}

// Acquire returns true if the caller now holds the guard
// Uses SETNX (SET if Not eXists) with TTL in a single atomic operation
func (g *StartGuard) Acquire(ctx context.Context) (bool, error) {
	token := uuid.NewString()
	ok, err := g.client.SetNX(ctx, g.key, token, g.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire start guard: %w", err)
	}
	if ok {
		g.mu.Lock()
		g.token = token
		g.mu.Unlock()
	}
	return ok, nil
}

// Release frees the guard if this guard still holds it. A key that expired
// and was taken by another process is left alone.
func (g *StartGuard) Release(ctx context.Context) error {
	g.mu.Lock()
	token := g.token
	g.token = ""
	g.mu.Unlock()
	if token == "" {
		return nil
	}

	if err := releaseScript.Run(ctx, g.client, []string{g.key}, token).Err(); err != nil {
		return fmt.Errorf("failed to release start guard: %w", err)
	}
	return nil
}

// Throttle is a fixed-window request counter shared by every process
type Throttle struct {
	client    *redis.Client
	keyPrefix string
	limit     int64
	window    time.Duration
}

// NewThrottle allows limit hits per key per window
func NewThrottle(client *redis.Client, keyPrefix string, limit int, window time.Duration) *Throttle {
	if keyPrefix == "" {
		keyPrefix = defaultKeyPrefix
	}
	return &Throttle{
		client:    client,
		keyPrefix: keyPrefix + "throttle:",
		limit:     int64(limit),
		window:    window,
	}
}

// Allow records a hit for key and reports whether it is within the limit.
// retryAfter is the remaining window when the limit is exceeded.
func (t *Throttle) Allow(ctx context.Context, key string) (allowed bool, retryAfter time.Duration, err error) {
	if t.limit <= 0 {
		return true, 0, nil
	}
	redisKey := t.keyPrefix + key

	count, err := t.client.Incr(ctx, redisKey).Result()
	if err != nil {
		return false, 0, fmt.Errorf("failed to record throttle hit: %w", err)
	}
	if count == 1 {
		if err := t.client.Expire(ctx, redisKey, t.window).Err(); err != nil {
			return false, 0, fmt.Errorf("failed to set throttle window: %w", err)
		}
	}

	if count > t.limit {
		ttl, err := t.client.PTTL(ctx, redisKey).Result()
		if err != nil || ttl < 0 {
			ttl = t.window
		}
		return false, ttl, nil
	}
	return true, 0, nil
}
