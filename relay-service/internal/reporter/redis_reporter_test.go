package reporter

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weiawesome/wes-io-live/relay-service/internal/domain"
)

type memStore struct {
	mu   sync.Mutex
	data map[string][]byte
	ttl  map[string]time.Duration
	sets int
}

func newMemStore() *memStore {
	return &memStore{data: map[string][]byte{}, ttl: map[string]time.Duration{}}
}

func (m *memStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	m.ttl[key] = ttl
	m.sets++
	return nil
}

func (m *memStore) Del(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func (m *memStore) get(key string) ([]byte, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data[key], m.sets
}

func fixedStats(ctx context.Context) (domain.Stats, error) {
	return domain.Stats{Connections: 3, Rooms: 2, Timestamp: "2024-01-01T00:00:00.000Z"}, nil
}

func TestReportWritesSnapshot(t *testing.T) {
	store := newMemStore()
	r := NewRedisReporter(store, "relay:stats", "relay-1", time.Second, 5*time.Second, fixedStats)

	require.NoError(t, r.Report(context.Background()))

	raw, _ := store.get("relay:stats")
	var snap map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &snap))
	assert.Equal(t, float64(3), snap["connections"])
	assert.Equal(t, float64(2), snap["rooms"])
	assert.Equal(t, "2024-01-01T00:00:00.000Z", snap["timestamp"])
	assert.Equal(t, "relay-1", snap["instance"])
	assert.Equal(t, 5*time.Second, store.ttl["relay:stats"])
}

func TestReportStatsError(t *testing.T) {
	store := newMemStore()
	r := NewRedisReporter(store, "k", "", time.Second, time.Second, func(context.Context) (domain.Stats, error) {
		return domain.Stats{}, errors.New("stopped")
	})

	assert.Error(t, r.Report(context.Background()))
	raw, _ := store.get("k")
	assert.Nil(t, raw)
}

func TestTTLNeverShorterThanInterval(t *testing.T) {
	r := NewRedisReporter(newMemStore(), "k", "", 10*time.Second, time.Second, fixedStats)
	assert.Equal(t, 30*time.Second, r.ttl)
}

func TestHeartbeatAndClose(t *testing.T) {
	store := newMemStore()
	r := NewRedisReporter(store, "relay:stats", "relay-1", 10*time.Millisecond, time.Second, fixedStats)

	r.Start(context.Background())
	assert.Eventually(t, func() bool {
		_, sets := store.get("relay:stats")
		return sets >= 3
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, r.Close(context.Background()))
	raw, _ := store.get("relay:stats")
	assert.Nil(t, raw)
}
