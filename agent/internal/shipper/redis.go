package shipper

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/obsidianstack/upsstats/agent/internal/config"
	"github.com/obsidianstack/upsstats/pkg/types"
)

// recentLen is how many records the <name>:recent list keeps.
const recentLen = 1000

// redisTimeout bounds one pipeline round trip.
const redisTimeout = 5 * time.Second

// Compile-time interface check.
var _ Writer = (*RedisWriter)(nil)

// RedisWriter keeps the latest measurement and a short history in Redis so
// dashboards can read current UPS state without querying InfluxDB.
//
// Keys, per measurement name:
//   - <name>:latest  JSON record, expires after the configured TTL
//   - <name>:recent  list of JSON records, newest first, capped at 1000
type RedisWriter struct {
	client *redis.Client
	ttl    time.Duration
	now    func() time.Time
}

// NewRedisWriter creates a writer for cfg. No connection is made until the
// first command.
func NewRedisWriter(cfg config.RedisConfig) *RedisWriter {
	return &RedisWriter{
		client: redis.NewClient(&redis.Options{
			Addr:     cfg.Address,
			Password: cfg.Password,
			DB:       cfg.DB,
		}),
		ttl: cfg.TTLDuration(),
		now: time.Now,
	}
}

// Ping checks connectivity.
func (w *RedisWriter) Ping(ctx context.Context) error {
	return w.client.Ping(ctx).Err()
}

// Close closes the underlying connection pool.
func (w *RedisWriter) Close() error {
	return w.client.Close()
}

// Write stores every measurement in batch in one pipeline.
func (w *RedisWriter) Write(ctx context.Context, batch []types.Measurement) error {
	ctx, cancel := context.WithTimeout(ctx, redisTimeout)
	defer cancel()

	at := w.now()
	pipe := w.client.Pipeline()
	for _, m := range batch {
		payload, err := toCacheJSON(m, at)
		if err != nil {
			return fmt.Errorf("redis: encode %q: %w", m.Name(), err)
		}
		pipe.Set(ctx, m.Name()+":latest", payload, w.ttl)
		pipe.LPush(ctx, m.Name()+":recent", payload)
		pipe.LTrim(ctx, m.Name()+":recent", 0, recentLen-1)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis exec: %w", err)
	}
	return nil
}
