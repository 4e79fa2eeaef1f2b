package sink

import (
	"bufio"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weiawesome/wes-io-live/pkg/pubsub"
	"github.com/weiawesome/wes-io-live/pkg/storage"
)

type failingStore struct{ storage.Storage }

func (failingStore) Write(context.Context, string, io.Reader, int64, string) error {
	return errors.New("bucket unavailable")
}

func newLocalStore(t *testing.T) storage.Storage {
	t.Helper()
	s, err := storage.NewLocalStorage(storage.LocalConfig{BasePath: t.TempDir()})
	require.NoError(t, err)
	return s
}

func readLines(t *testing.T, s storage.Storage, key string) []string {
	t.Helper()
	rc, err := s.Read(context.Background(), key)
	require.NoError(t, err)
	defer rc.Close()

	var lines []string
	sc := bufio.NewScanner(rc)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	require.NoError(t, sc.Err())
	return lines
}

func messageAt(t *testing.T, room, text string, at time.Time) *pubsub.Event {
	t.Helper()
	ev, err := pubsub.NewEvent("MESSAGE", room, map[string]string{"text": text}, at)
	require.NoError(t, err)
	return ev
}

func TestTranscriptKey(t *testing.T) {
	at := time.Date(2024, 3, 9, 23, 0, 0, 0, time.FixedZone("x", -2*3600))
	assert.Equal(t, "transcripts/a%2Fb/2024/03/10/ID.ndjson", TranscriptKey("transcripts", "a/b", at, "ID"))
}

func TestTranscriptFlushesFullBatch(t *testing.T) {
	ctx := context.Background()
	store := newLocalStore(t)
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	s := NewTranscriptSink(store, TranscriptOptions{BatchSize: 2, Now: func() time.Time { return now }})

	require.NoError(t, s.Publish(ctx, messageAt(t, "general", "one", now)))
	objs, err := store.List(ctx, "transcripts/")
	require.NoError(t, err)
	assert.Empty(t, objs)

	require.NoError(t, s.Publish(ctx, messageAt(t, "general", "two", now)))
	objs, err = store.List(ctx, "transcripts/general/2024/01/01/")
	require.NoError(t, err)
	require.Len(t, objs, 1)

	lines := readLines(t, store, objs[0].Key)
	require.Len(t, lines, 2)
	assert.True(t, strings.Contains(lines[0], `"one"`))
	assert.True(t, strings.Contains(lines[1], `"two"`))
}

func TestTranscriptFlushesStaleRooms(t *testing.T) {
	ctx := context.Background()
	store := newLocalStore(t)
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	s := NewTranscriptSink(store, TranscriptOptions{
		BatchSize: 100,
		MaxAge:    time.Minute,
		Now:       func() time.Time { return now },
	})

	require.NoError(t, s.Publish(ctx, messageAt(t, "lobby", "old", now)))
	now = now.Add(2 * time.Minute)
	require.NoError(t, s.Publish(ctx, messageAt(t, "general", "new", now)))

	objs, err := store.List(ctx, "transcripts/lobby/")
	require.NoError(t, err)
	assert.Len(t, objs, 1)
	objs, err = store.List(ctx, "transcripts/general/")
	require.NoError(t, err)
	assert.Empty(t, objs)

	require.NoError(t, s.Close())
	objs, err = store.List(ctx, "transcripts/general/")
	require.NoError(t, err)
	assert.Len(t, objs, 1)
}

func TestTranscriptWriteFailureDropsBatch(t *testing.T) {
	s := NewTranscriptSink(failingStore{}, TranscriptOptions{BatchSize: 1})
	err := s.Publish(context.Background(), messageAt(t, "general", "lost", time.Now()))
	assert.Error(t, err)
	assert.NoError(t, s.Close())
}

func TestTranscriptFlushStaleWithoutTraffic(t *testing.T) {
	ctx := context.Background()
	store := newLocalStore(t)
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	s := NewTranscriptSink(store, TranscriptOptions{
		BatchSize: 100,
		MaxAge:    time.Minute,
		Now:       func() time.Time { return now },
	})

	require.NoError(t, s.Publish(ctx, messageAt(t, "quiet", "hello", now)))
	require.NoError(t, s.FlushStale(ctx))
	objs, err := store.List(ctx, "transcripts")
	require.NoError(t, err)
	assert.Empty(t, objs)

	now = now.Add(time.Hour)
	require.NoError(t, s.FlushStale(ctx))
	objs, err = store.List(ctx, "transcripts/quiet/")
	require.NoError(t, err)
	require.Len(t, objs, 1)
	assert.Len(t, readLines(t, store, objs[0].Key), 1)
}

func TestDispatcherFlushesQuietTranscripts(t *testing.T) {
	ctx := context.Background()
	store := newLocalStore(t)
	transcript := NewTranscriptSink(store, TranscriptOptions{BatchSize: 100, MaxAge: 20 * time.Millisecond})

	d := NewDispatcher(NewMulti(transcript), 8, time.Second)
	d.FlushEvery(10 * time.Millisecond)
	go d.Run(ctx)
	defer d.Close(ctx)

	require.True(t, d.Enqueue(messageAt(t, "quiet", "hello", time.Now())))

	assert.Eventually(t, func() bool {
		objs, err := store.List(ctx, "transcripts/quiet/")
		return err == nil && len(objs) == 1
	}, 2*time.Second, 10*time.Millisecond)
}
