package sink

import (
	"context"
	"sync"
	"time"

	"github.com/weiawesome/wes-io-live/pkg/log"
	"github.com/weiawesome/wes-io-live/pkg/pubsub"
)

// Dispatcher decouples the relay loop from slow sinks with a bounded queue.
type Dispatcher struct {
	sink    Sink
	queue   chan *pubsub.Event
	timeout time.Duration
	flush   time.Duration

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

// NewDispatcher creates a Dispatcher with room for buffer pending events.
func NewDispatcher(s Sink, buffer int, timeout time.Duration) *Dispatcher {
	if buffer < 1 {
		buffer = 1
	}
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &Dispatcher{
		sink:    s,
		queue:   make(chan *pubsub.Event, buffer),
		timeout: timeout,
		done:    make(chan struct{}),
	}
}

// Enqueue queues event without blocking. It returns false when the queue is
// full or the dispatcher is closed.
func (d *Dispatcher) Enqueue(event *pubsub.Event) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return false
	}

	select {
	case d.queue <- event:
		return true
	default:
		l := log.L()
		l.Warn().
			Str(log.FieldRoom, event.RoomID).
			Str(log.FieldFrameType, event.Type).
			Msg("sink queue full, event dropped")
		return false
	}
}

// FlushEvery makes Run call FlushStale on the sink every interval, when the
// sink buffers. Call before Run.
func (d *Dispatcher) FlushEvery(interval time.Duration) {
	d.flush = interval
}

// Run publishes queued events until Close drains the queue. ctx bounds each
// publish.
func (d *Dispatcher) Run(ctx context.Context) {
	defer close(d.done)

	var tick <-chan time.Time
	flusher, buffers := d.sink.(StaleFlusher)
	if buffers && d.flush > 0 {
		ticker := time.NewTicker(d.flush)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case event, ok := <-d.queue:
			if !ok {
				return
			}
			d.publish(ctx, event)

		case <-tick:
			d.flushStale(ctx, flusher)
		}
	}
}

func (d *Dispatcher) flushStale(ctx context.Context, f StaleFlusher) {
	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.timeout)
	defer cancel()

	if err := f.FlushStale(fctx); err != nil {
		l := log.Ctx(ctx)
		l.Warn().Err(err).Msg("sink flush failed")
	}
}

func (d *Dispatcher) publish(ctx context.Context, event *pubsub.Event) {
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.timeout)
	defer cancel()

	if err := d.sink.Publish(pctx, event); err != nil {
		l := log.Ctx(ctx)
		l.Warn().
			Err(err).
			Str(log.FieldRoom, event.RoomID).
			Str(log.FieldFrameType, event.Type).
			Msg("sink publish failed")
	}
}

// Close stops accepting events, waits for Run to drain the queue or ctx to
// expire, then closes the sink.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()

	select {
	case <-d.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return d.sink.Close()
}
