package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"path"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/weiawesome/wes-io-live/pkg/pubsub"
	"github.com/weiawesome/wes-io-live/pkg/storage"
)

const transcriptContentType = "application/x-ndjson"

// TranscriptOptions controls how events are batched into objects.
type TranscriptOptions struct {
	Prefix    string
	BatchSize int
	MaxAge    time.Duration
	Now       func() time.Time
}

type transcriptBuffer struct {
	buf   bytes.Buffer
	count int
	first time.Time
}

// TranscriptSink batches events per room and writes each batch as one NDJSON
// object under <prefix>/<room>/<yyyy>/<mm>/<dd>/<ulid>.ndjson.
type TranscriptSink struct {
	store storage.Storage
	opts  TranscriptOptions

	mu    sync.Mutex
	rooms map[string]*transcriptBuffer
}

// NewTranscriptSink wraps store.
func NewTranscriptSink(store storage.Storage, opts TranscriptOptions) *TranscriptSink {
	if opts.Prefix == "" {
		opts.Prefix = "transcripts"
	}
	if opts.BatchSize < 1 {
		opts.BatchSize = 100
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &TranscriptSink{
		store: store,
		opts:  opts,
		rooms: make(map[string]*transcriptBuffer),
	}
}

func (s *TranscriptSink) Name() string { return "transcript" }

// Publish buffers event. A room's batch is written once it is full or its
// oldest event is older than MaxAge; stale batches of other rooms are
// written on the same call.
func (s *TranscriptSink) Publish(ctx context.Context, event *pubsub.Event) error {
	line, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.opts.Now()
	b, ok := s.rooms[event.RoomID]
	if !ok {
		b = &transcriptBuffer{first: now}
		s.rooms[event.RoomID] = b
	}
	b.buf.Write(line)
	b.buf.WriteByte('\n')
	b.count++

	var errs []error
	if b.count >= s.opts.BatchSize {
		errs = append(errs, s.flushLocked(ctx, event.RoomID))
	}
	errs = append(errs, s.flushStaleLocked(ctx, now))
	return errors.Join(errs...)
}

// FlushStale writes every batch whose oldest event is older than MaxAge.
// The dispatcher calls it on a timer.
func (s *TranscriptSink) FlushStale(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flushStaleLocked(ctx, s.opts.Now())
}

func (s *TranscriptSink) flushStaleLocked(ctx context.Context, now time.Time) error {
	if s.opts.MaxAge <= 0 {
		return nil
	}
	var errs []error
	for room, b := range s.rooms {
		if now.Sub(b.first) >= s.opts.MaxAge {
			errs = append(errs, s.flushLocked(ctx, room))
		}
	}
	return errors.Join(errs...)
}

// flushLocked writes and forgets one room's batch. A failed batch is dropped.
func (s *TranscriptSink) flushLocked(ctx context.Context, room string) error {
	b := s.rooms[room]
	delete(s.rooms, room)
	if b == nil || b.count == 0 {
		return nil
	}

	key := TranscriptKey(s.opts.Prefix, room, b.first, ulid.Make().String())
	data := b.buf.Bytes()
	if err := s.store.Write(ctx, key, bytes.NewReader(data), int64(len(data)), transcriptContentType); err != nil {
		return fmt.Errorf("failed to write transcript for room %s: %w", room, err)
	}
	return nil
}

// Flush writes every pending batch.
func (s *TranscriptSink) Flush(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var errs []error
	for room := range s.rooms {
		errs = append(errs, s.flushLocked(ctx, room))
	}
	return errors.Join(errs...)
}

// Close flushes pending batches.
func (s *TranscriptSink) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.Flush(ctx)
}

// TranscriptKey builds the object key for a batch whose first event arrived
// at first. The room name is path-escaped.
func TranscriptKey(prefix, room string, first time.Time, id string) string {
	first = first.UTC()
	return path.Join(prefix, url.PathEscape(room), first.Format("2006/01/02"), id+".ndjson")
}
