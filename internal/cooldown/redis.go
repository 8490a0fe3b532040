package cooldown

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis keeps windows in Redis so they survive restarts. Each window is a
// key set with NX and a TTL of the window length.
type Redis struct {
	client *redis.Client
	window time.Duration
	prefix string
}

// NewRedis connects using a redis:// URL and verifies the connection.
func NewRedis(ctx context.Context, url string, window time.Duration) (*Redis, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("cooldown: parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("cooldown: ping redis: %w", err)
	}
	return &Redis{client: client, window: window, prefix: "mlop:monitor:cooldown:"}, nil
}

// Allow implements Store.
func (r *Redis) Allow(ctx context.Context, key string, now time.Time) (bool, error) {
	ok, err := r.client.SetNX(ctx, r.prefix+key, now.UTC().Format(time.RFC3339Nano), r.window).Result()
	if err != nil {
		return false, fmt.Errorf("cooldown: set window: %w", err)
	}
	return ok, nil
}

// Close releases the client.
func (r *Redis) Close() error {
	return r.client.Close()
}
