package sink

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weiawesome/wes-io-live/pkg/database"
	"github.com/weiawesome/wes-io-live/pkg/pubsub"
	"github.com/weiawesome/wes-io-live/pkg/storage"
	"github.com/weiawesome/wes-io-live/relay-service/internal/config"
)

type fakeSink struct {
	name string
	err  error

	mu     sync.Mutex
	events []*pubsub.Event
	closed bool
	block  chan struct{}
}

func (f *fakeSink) Name() string { return f.name }

func (f *fakeSink) Publish(ctx context.Context, event *pubsub.Event) error {
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
	return f.err
}

func (f *fakeSink) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeSink) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.events)
}

type fakePublisher struct {
	channels []string
	closed   bool
}

func (p *fakePublisher) Publish(_ context.Context, channel string, _ *pubsub.Event) error {
	p.channels = append(p.channels, channel)
	return nil
}

func (p *fakePublisher) Close() error {
	p.closed = true
	return nil
}

func event(t *testing.T, typ, room string) *pubsub.Event {
	t.Helper()
	evt, err := pubsub.NewEvent(typ, room, map[string]string{"room": room}, time.Now())
	require.NoError(t, err)
	return evt
}

func TestChannelSinkUsesRoomChannel(t *testing.T) {
	pub := &fakePublisher{}
	s := NewChannelSink("redis", pub, "relay:room")

	require.NoError(t, s.Publish(context.Background(), event(t, "MESSAGE", "general")))
	require.NoError(t, s.Close())

	assert.Equal(t, []string{"relay:room:general"}, pub.channels)
	assert.True(t, pub.closed)
}

func TestMultiPublishesToAll(t *testing.T) {
	a, b := &fakeSink{name: "a"}, &fakeSink{name: "b", err: errors.New("down")}
	m := NewMulti(a, b)

	err := m.Publish(context.Background(), event(t, "MESSAGE", "general"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "b: down")
	assert.Equal(t, 1, a.count())
	assert.Equal(t, 1, b.count())

	require.NoError(t, m.Close())
	assert.True(t, a.closed)
	assert.True(t, b.closed)
}

func TestDispatcherDeliversAndDrains(t *testing.T) {
	s := &fakeSink{name: "fake"}
	d := NewDispatcher(s, 8, time.Second)
	go d.Run(context.Background())

	for i := 0; i < 5; i++ {
		assert.True(t, d.Enqueue(event(t, "MESSAGE", "general")))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, d.Close(ctx))

	assert.Equal(t, 5, s.count())
	assert.True(t, s.closed)
	assert.False(t, d.Enqueue(event(t, "MESSAGE", "general")))
}

func TestDispatcherDropsWhenFull(t *testing.T) {
	s := &fakeSink{name: "slow", block: make(chan struct{})}
	d := NewDispatcher(s, 1, time.Second)

	assert.True(t, d.Enqueue(event(t, "MESSAGE", "general")))
	assert.False(t, d.Enqueue(event(t, "MESSAGE", "general")))

	close(s.block)
	go d.Run(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, d.Close(ctx))
	assert.Equal(t, 1, s.count())
}

func TestDispatcherSurvivesSinkErrors(t *testing.T) {
	s := &fakeSink{name: "broken", err: errors.New("nope")}
	d := NewDispatcher(s, 4, time.Second)
	go d.Run(context.Background())

	d.Enqueue(event(t, "USER_LEFT", "general"))
	d.Enqueue(event(t, "USER_JOINED", "general"))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, d.Close(ctx))
	assert.Equal(t, 2, s.count())
}

func TestArchiveSinkStoresRows(t *testing.T) {
	db, err := database.New(&database.Config{Driver: "sqlite", FilePath: ":memory:", MaxOpenConns: 1, LogLevel: "silent"})
	require.NoError(t, err)

	s, err := NewArchiveSink(db)
	require.NoError(t, err)

	evt := event(t, "MESSAGE", "general")
	require.NoError(t, s.Publish(context.Background(), evt))

	var rows []ArchivedEvent
	require.NoError(t, db.Find(&rows).Error)
	require.Len(t, rows, 1)
	assert.Equal(t, "MESSAGE", rows[0].Type)
	assert.Equal(t, "general", rows[0].RoomID)
	assert.JSONEq(t, string(evt.Payload), rows[0].Payload)

	require.NoError(t, s.Close())
}

func TestBuildNoDrivers(t *testing.T) {
	m, err := Build(&config.Config{})
	require.NoError(t, err)
	assert.Nil(t, m)
}

func TestBuildArchiveOnly(t *testing.T) {
	cfg := &config.Config{
		Sink:     config.SinkConfig{Drivers: []string{"archive", "archive"}},
		Database: database.Config{Driver: "sqlite", FilePath: ":memory:", MaxOpenConns: 1, LogLevel: "silent"},
	}
	m, err := Build(cfg)
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, 1, m.Len())
	require.NoError(t, m.Close())
}

func TestBuildTranscript(t *testing.T) {
	cfg := &config.Config{
		Sink: config.SinkConfig{Drivers: []string{"transcript"}},
		Transcript: config.TranscriptConfig{
			BatchSize: 10,
			Storage:   storage.Config{Backend: storage.BackendLocal, Local: storage.LocalConfig{BasePath: t.TempDir()}},
		},
	}
	m, err := Build(cfg)
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, 1, m.Len())
	require.NoError(t, m.Close())
}

func TestBuildUnknownDriver(t *testing.T) {
	_, err := Build(&config.Config{Sink: config.SinkConfig{Drivers: []string{"carrier-pigeon"}}})
	assert.Error(t, err)
}
