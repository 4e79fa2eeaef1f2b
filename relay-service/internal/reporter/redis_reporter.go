// Package reporter publishes periodic relay stats snapshots to Redis so other
// processes can read them without calling /stats.
package reporter

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/weiawesome/wes-io-live/pkg/log"
	"github.com/weiawesome/wes-io-live/relay-service/internal/domain"
)

// StatsFunc returns the current stats snapshot.
type StatsFunc func(ctx context.Context) (domain.Stats, error)

// Store is the part of a key-value store the reporter writes to.
type Store interface {
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Del(ctx context.Context, key string) error
}

type redisStore struct {
	client *redis.Client
}

// NewRedisStore adapts a go-redis client to Store.
func NewRedisStore(client *redis.Client) Store {
	return &redisStore{client: client}
}

func (s *redisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return s.client.Set(ctx, key, value, ttl).Err()
}

func (s *redisStore) Del(ctx context.Context, key string) error {
	return s.client.Del(ctx, key).Err()
}

// Snapshot is the value stored under the reporter key.
type Snapshot struct {
	domain.Stats
	Instance string `json:"instance"`
}

// RedisReporter refreshes the stats key on every heartbeat. The key expires
// on its own if the process dies.
type RedisReporter struct {
	store    Store
	key      string
	instance string
	interval time.Duration
	ttl      time.Duration
	stats    StatsFunc

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRedisReporter creates a reporter. Call Start to begin heartbeats.
func NewRedisReporter(store Store, key, instance string, interval, ttl time.Duration, stats StatsFunc) *RedisReporter {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	if ttl < interval {
		ttl = 3 * interval
	}
	return &RedisReporter{
		store:    store,
		key:      key,
		instance: instance,
		interval: interval,
		ttl:      ttl,
		stats:    stats,
	}
}

// Start writes one snapshot immediately and then one per interval.
func (r *RedisReporter) Start(ctx context.Context) {
	ctx, r.cancel = context.WithCancel(ctx)
	r.wg.Add(1)
	go r.heartbeatLoop(ctx)

	l := log.L()
	l.Info().
		Str("key", r.key).
		Dur("interval", r.interval).
		Msg("stats reporter started")
}

func (r *RedisReporter) heartbeatLoop(ctx context.Context) {
	defer r.wg.Done()

	r.report(ctx)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.report(ctx)
		}
	}
}

func (r *RedisReporter) report(ctx context.Context) {
	if err := r.Report(ctx); err != nil && ctx.Err() == nil {
		l := log.L()
		l.Warn().Err(err).Str("key", r.key).Msg("failed to report stats")
	}
}

// Report writes a single snapshot.
func (r *RedisReporter) Report(ctx context.Context) error {
	stats, err := r.stats(ctx)
	if err != nil {
		return fmt.Errorf("failed to read stats: %w", err)
	}

	data, err := json.Marshal(Snapshot{Stats: stats, Instance: r.instance})
	if err != nil {
		return fmt.Errorf("failed to marshal stats: %w", err)
	}

	if err := r.store.Set(ctx, r.key, data, r.ttl); err != nil {
		return fmt.Errorf("failed to set %s: %w", r.key, err)
	}
	return nil
}

// Close stops the heartbeat and removes the key.
func (r *RedisReporter) Close(ctx context.Context) error {
	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()

	if err := r.store.Del(ctx, r.key); err != nil {
		return fmt.Errorf("failed to delete %s: %w", r.key, err)
	}
	return nil
}
