// Package hub runs the single dispatcher loop that owns all relay state.
// Socket goroutines only talk to it through events.
package hub

import (
	"context"
	"errors"
	"time"

	"github.com/weiawesome/wes-io-live/pkg/log"
	"github.com/weiawesome/wes-io-live/relay-service/internal/domain"
	"github.com/weiawesome/wes-io-live/relay-service/internal/router"
)

// ErrStopped is returned once the loop has exited.
var ErrStopped = errors.New("hub stopped")

type registerResult struct {
	id  string
	err error
}

type registerEvent struct {
	peer  domain.Peer
	reply chan registerResult
}

type frameEvent struct {
	id   string
	data []byte
}

type disconnectEvent struct {
	id string
}

type statsEvent struct {
	reply chan domain.Stats
}

// Options configures the loop.
type Options struct {
	EventBuffer   int
	SweepInterval time.Duration // 0 disables typing sweeps
}

// Hub serialises every relay event through one goroutine.
type Hub struct {
	router *router.Router
	events chan interface{}
	done   chan struct{}
	opts   Options
}

// New creates a Hub driving r. Call Run to start it.
func New(r *router.Router, opts Options) *Hub {
	if opts.EventBuffer < 1 {
		opts.EventBuffer = 1
	}
	return &Hub{
		router: r,
		events: make(chan interface{}, opts.EventBuffer),
		done:   make(chan struct{}),
		opts:   opts,
	}
}

// Run processes events until ctx is cancelled, then closes every connection.
func (h *Hub) Run(ctx context.Context) {
	var sweep <-chan time.Time
	if h.opts.SweepInterval > 0 {
		ticker := time.NewTicker(h.opts.SweepInterval)
		defer ticker.Stop()
		sweep = ticker.C
	}

	l := log.L()
	l.Info().Msg("hub started")

	for {
		select {
		case <-ctx.Done():
			closed := h.router.CloseAll()
			close(h.done)
			l.Info().Int(log.FieldTotal, closed).Msg("hub stopped")
			return

		case ev := <-h.events:
			h.dispatch(ev)

		case now := <-sweep:
			if n := h.router.Sweep(now); n > 0 {
				l.Debug().Int("expired", n).Msg("typing indicators expired")
			}
		}
	}
}

func (h *Hub) dispatch(ev interface{}) {
	switch e := ev.(type) {
	case registerEvent:
		conn, err := h.router.Connect(e.peer)
		if err != nil {
			e.reply <- registerResult{err: err}
			return
		}
		e.reply <- registerResult{id: conn.ID}

	case frameEvent:
		h.router.Handle(e.id, e.data)

	case disconnectEvent:
		h.router.Disconnect(e.id)

	case statsEvent:
		e.reply <- h.router.Stats()
	}
}

// submit hands ev to the loop, giving up if the loop has stopped or ctx ends.
func (h *Hub) submit(ctx context.Context, ev interface{}) error {
	select {
	case h.events <- ev:
		return nil
	case <-h.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Register adds peer as a new connection and returns its id.
func (h *Hub) Register(ctx context.Context, peer domain.Peer) (string, error) {
	reply := make(chan registerResult, 1)
	if err := h.submit(ctx, registerEvent{peer: peer, reply: reply}); err != nil {
		return "", err
	}
	// Once queued the loop always replies; the caller must learn the id.
	select {
	case res := <-reply:
		return res.id, res.err
	case <-h.done:
		return "", ErrStopped
	}
}

// Inbound queues one raw frame from id. Frames from one caller are handled
// in the order submitted.
func (h *Hub) Inbound(id string, data []byte) error {
	return h.submit(context.Background(), frameEvent{id: id, data: data})
}

// Disconnect queues cleanup for id. Extra calls for the same id are no-ops.
func (h *Hub) Disconnect(id string) error {
	return h.submit(context.Background(), disconnectEvent{id: id})
}

// Stats returns a snapshot taken inside the loop.
func (h *Hub) Stats(ctx context.Context) (domain.Stats, error) {
	reply := make(chan domain.Stats, 1)
	if err := h.submit(ctx, statsEvent{reply: reply}); err != nil {
		return domain.Stats{}, err
	}
	select {
	case s := <-reply:
		return s, nil
	case <-h.done:
		return domain.Stats{}, ErrStopped
	case <-ctx.Done():
		return domain.Stats{}, ctx.Err()
	}
}

// Done is closed once Run has returned.
func (h *Hub) Done() <-chan struct{} {
	return h.done
}
