package storage

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalRoundTrip(t *testing.T) {
	ctx := context.Background()
	s, err := New(ctx, Config{Backend: BackendLocal, Local: LocalConfig{BasePath: t.TempDir()}})
	require.NoError(t, err)

	require.NoError(t, s.Write(ctx, "transcripts/general/a.ndjson", strings.NewReader("one\n"), 4, "application/x-ndjson"))
	require.NoError(t, s.Write(ctx, "transcripts/lobby/b.ndjson", strings.NewReader("two\n"), -1, ""))

	rc, err := s.Read(ctx, "transcripts/general/a.ndjson")
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	rc.Close()
	require.NoError(t, err)
	assert.Equal(t, "one\n", string(data))

	objs, err := s.List(ctx, "transcripts/gen")
	require.NoError(t, err)
	require.Len(t, objs, 1)
	assert.Equal(t, "transcripts/general/a.ndjson", objs[0].Key)
	assert.Equal(t, int64(4), objs[0].Size)

	objs, err = s.List(ctx, "")
	require.NoError(t, err)
	assert.Len(t, objs, 2)

	require.NoError(t, s.Delete(ctx, "transcripts/general/a.ndjson"))
	require.NoError(t, s.Delete(ctx, "transcripts/general/a.ndjson"))
	_, err = s.Read(ctx, "transcripts/general/a.ndjson")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestLocalRejectsEscapingKeys(t *testing.T) {
	s, err := NewLocalStorage(LocalConfig{BasePath: t.TempDir()})
	require.NoError(t, err)

	err = s.Write(context.Background(), "../outside", strings.NewReader("x"), 1, "")
	assert.Error(t, err)
}

func TestUnknownBackend(t *testing.T) {
	_, err := New(context.Background(), Config{Backend: "ftp"})
	assert.Error(t, err)

	_, err = New(context.Background(), Config{Backend: BackendS3})
	assert.Error(t, err)
}
