package hub

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weiawesome/wes-io-live/relay-service/internal/idgen"
	"github.com/weiawesome/wes-io-live/relay-service/internal/presence"
	"github.com/weiawesome/wes-io-live/relay-service/internal/registry"
	"github.com/weiawesome/wes-io-live/relay-service/internal/router"
)

// chanPeer is safe to read from the test goroutine while the loop delivers.
type chanPeer struct {
	frames chan map[string]interface{}
	once   sync.Once
	closed chan struct{}
}

func newChanPeer() *chanPeer {
	return &chanPeer{
		frames: make(chan map[string]interface{}, 32),
		closed: make(chan struct{}),
	}
}

func (p *chanPeer) Deliver(data []byte) bool {
	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		return false
	}
	select {
	case p.frames <- m:
		return true
	default:
		return false
	}
}

func (p *chanPeer) Close() { p.once.Do(func() { close(p.closed) }) }

func (p *chanPeer) next(t *testing.T) map[string]interface{} {
	t.Helper()
	select {
	case f := <-p.frames:
		return f
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for frame")
		return nil
	}
}

func startHub(t *testing.T, typingTTL, sweep time.Duration) (*Hub, context.CancelFunc) {
	t.Helper()
	reg := registry.New(idgen.NewCounterGenerator(), registry.Options{MaxAttempts: 2, UsernamePrefix: "User-", UsernameIDChars: 5})
	r := router.New(reg, presence.NewRelay(typingTTL), router.Options{DefaultRoom: "general"})
	h := New(r, Options{EventBuffer: 16, SweepInterval: sweep})

	ctx, cancel := context.WithCancel(context.Background())
	go h.Run(ctx)
	t.Cleanup(func() {
		cancel()
		<-h.Done()
	})
	return h, cancel
}

func TestHubRoutesFrames(t *testing.T) {
	h, _ := startHub(t, 0, 0)
	ctx := context.Background()

	pa, pb := newChanPeer(), newChanPeer()
	a, err := h.Register(ctx, pa)
	require.NoError(t, err)
	b, err := h.Register(ctx, pb)
	require.NoError(t, err)
	assert.NotEqual(t, a, b)

	require.NoError(t, h.Inbound(a, []byte(`{"type":"JOIN","username":"Alice"}`)))
	assert.Equal(t, "JOINED", pa.next(t)["type"])

	require.NoError(t, h.Inbound(b, []byte(`{"type":"JOIN","username":"Bob"}`)))
	assert.Equal(t, "USER_JOINED", pa.next(t)["type"])
	assert.Equal(t, "JOINED", pb.next(t)["type"])

	require.NoError(t, h.Inbound(b, []byte(`{"type":"MESSAGE","text":"yo"}`)))
	assert.Equal(t, "yo", pa.next(t)["text"])
	assert.Equal(t, "yo", pb.next(t)["text"])

	stats, err := h.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Connections)
	assert.Equal(t, 1, stats.Rooms)
	assert.NotEmpty(t, stats.Timestamp)

	require.NoError(t, h.Disconnect(b))
	require.NoError(t, h.Disconnect(b))
	assert.Equal(t, "USER_DISCONNECTED", pa.next(t)["type"])

	stats, err = h.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Connections)
}

func TestHubSweepsTyping(t *testing.T) {
	h, _ := startHub(t, 20*time.Millisecond, 5*time.Millisecond)
	ctx := context.Background()

	pa, pb := newChanPeer(), newChanPeer()
	a, err := h.Register(ctx, pa)
	require.NoError(t, err)
	b, err := h.Register(ctx, pb)
	require.NoError(t, err)

	require.NoError(t, h.Inbound(a, []byte(`{"type":"JOIN"}`)))
	pa.next(t)
	require.NoError(t, h.Inbound(b, []byte(`{"type":"JOIN"}`)))
	pa.next(t)
	pb.next(t)

	require.NoError(t, h.Inbound(b, []byte(`{"type":"TYPING","isTyping":true}`)))
	assert.Equal(t, true, pa.next(t)["isTyping"])

	f := pa.next(t)
	assert.Equal(t, "TYPING", f["type"])
	assert.Equal(t, false, f["isTyping"])
}

func TestHubStopClosesPeers(t *testing.T) {
	h, cancel := startHub(t, 0, 0)
	ctx := context.Background()

	p := newChanPeer()
	_, err := h.Register(ctx, p)
	require.NoError(t, err)

	cancel()
	<-h.Done()

	select {
	case <-p.closed:
	case <-time.After(time.Second):
		t.Fatal("peer not closed on shutdown")
	}

	_, err = h.Register(ctx, newChanPeer())
	assert.ErrorIs(t, err, ErrStopped)
	_, err = h.Stats(ctx)
	assert.ErrorIs(t, err, ErrStopped)
}

func TestStatsHonoursContext(t *testing.T) {
	reg := registry.New(idgen.NewCounterGenerator(), registry.Options{MaxAttempts: 1})
	h := New(router.New(reg, presence.NewRelay(0), router.Options{}), Options{EventBuffer: 1})

	// Loop never started: the single buffer slot fills and the next call waits on ctx.
	require.NoError(t, h.Inbound("x", []byte(`{}`)))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := h.Stats(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
