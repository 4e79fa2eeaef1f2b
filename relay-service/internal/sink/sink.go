// Package sink hands relay events to external collaborators: Redis or Kafka
// channels, a SQL archive and object-store transcripts. Failures are logged
// and never reach the relay loop.
package sink

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/weiawesome/wes-io-live/pkg/pubsub"
)

// Sink receives relay events.
type Sink interface {
	Name() string
	Publish(ctx context.Context, event *pubsub.Event) error
	Close() error
}

// StaleFlusher is implemented by sinks that buffer events and need a timer
// to write out batches that stopped growing.
type StaleFlusher interface {
	FlushStale(ctx context.Context) error
}

// ChannelSink routes events onto per-room pubsub channels.
type ChannelSink struct {
	name   string
	pub    pubsub.Publisher
	prefix string
}

// NewChannelSink wraps a pubsub publisher.
func NewChannelSink(name string, pub pubsub.Publisher, prefix string) *ChannelSink {
	return &ChannelSink{name: name, pub: pub, prefix: prefix}
}

func (s *ChannelSink) Name() string { return s.name }

func (s *ChannelSink) Publish(ctx context.Context, event *pubsub.Event) error {
	return s.pub.Publish(ctx, pubsub.RoomChannel(s.prefix, event.RoomID), event)
}

func (s *ChannelSink) Close() error {
	return s.pub.Close()
}

// Multi publishes each event to all sinks concurrently.
type Multi struct {
	sinks []Sink
}

// NewMulti combines sinks.
func NewMulti(sinks ...Sink) *Multi {
	return &Multi{sinks: sinks}
}

func (m *Multi) Name() string { return "multi" }

// Publish waits for every sink and returns the first failure.
func (m *Multi) Publish(ctx context.Context, event *pubsub.Event) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, s := range m.sinks {
		s := s
		g.Go(func() error {
			if err := s.Publish(gctx, event); err != nil {
				return fmt.Errorf("%s: %w", s.Name(), err)
			}
			return nil
		})
	}
	return g.Wait()
}

// FlushStale forwards to every sink that buffers.
func (m *Multi) FlushStale(ctx context.Context) error {
	var first error
	for _, s := range m.sinks {
		f, ok := s.(StaleFlusher)
		if !ok {
			continue
		}
		if err := f.FlushStale(ctx); err != nil && first == nil {
			first = fmt.Errorf("%s: %w", s.Name(), err)
		}
	}
	return first
}

// Close closes every sink and returns the first failure.
func (m *Multi) Close() error {
	var first error
	for _, s := range m.sinks {
		if err := s.Close(); err != nil && first == nil {
			first = fmt.Errorf("%s: %w", s.Name(), err)
		}
	}
	return first
}

// Len returns the number of combined sinks.
func (m *Multi) Len() int {
	return len(m.sinks)
}
