package s3blob

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"positionengine/internal/domain"
	"positionengine/internal/store/memory"
)

// fakeWriter captures uploads in memory.
type fakeWriter struct {
	objects map[string][]byte
}

func newFakeWriter() *fakeWriter {
	return &fakeWriter{objects: make(map[string][]byte)}
}

func (f *fakeWriter) Put(_ context.Context, path string, data io.Reader, _ string) error {
	buf, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	f.objects[path] = buf
	return nil
}

// fakeVerifier counts lines of uploaded objects.
type fakeVerifier struct {
	writer *fakeWriter
}

func (f *fakeVerifier) CountLines(_ context.Context, path string) (int, error) {
	return bytes.Count(f.writer.objects[path], []byte("\n")), nil
}

func appendEvents(t *testing.T, log *memory.EventLog, n int) {
	t.Helper()
	for range n {
		ev, err := domain.NewEvent("p1", domain.EventAdjusted, domain.AdjustedPayload{})
		require.NoError(t, err)
		_, err = log.Append(context.Background(), ev)
		require.NoError(t, err)
	}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestArchiveEventsSegments(t *testing.T) {
	ctx := context.Background()
	log := memory.NewEventLog()
	appendEvents(t, log, 25)

	writer := newFakeWriter()
	a := NewArchiver(log, writer, &fakeVerifier{writer}, 10, testLogger())

	next, err := a.ArchiveEvents(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(26), next)

	require.Len(t, writer.objects, 3)
	assert.Contains(t, writer.objects, segmentPath(1, 10))
	assert.Contains(t, writer.objects, segmentPath(11, 20))
	assert.Contains(t, writer.objects, segmentPath(21, 25))

	// The final partial segment has one JSON line per event.
	lines := bytes.Count(writer.objects[segmentPath(21, 25)], []byte("\n"))
	assert.Equal(t, 5, lines)
}

func TestArchiveEventsResume(t *testing.T) {
	ctx := context.Background()
	log := memory.NewEventLog()
	appendEvents(t, log, 10)

	writer := newFakeWriter()
	a := NewArchiver(log, writer, nil, 100, testLogger())

	next, err := a.ArchiveEvents(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(11), next)

	// No new events: resuming archives nothing.
	next, err = a.ArchiveEvents(ctx, next)
	require.NoError(t, err)
	assert.Equal(t, int64(11), next)
	assert.Len(t, writer.objects, 1)

	appendEvents(t, log, 5)
	next, err = a.ArchiveEvents(ctx, next)
	require.NoError(t, err)
	assert.Equal(t, int64(16), next)
	assert.Contains(t, writer.objects, segmentPath(11, 15))
}

func TestArchiveEventsEmptyLog(t *testing.T) {
	log := memory.NewEventLog()
	writer := newFakeWriter()
	a := NewArchiver(log, writer, nil, 100, testLogger())

	next, err := a.ArchiveEvents(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), next)
	assert.Empty(t, writer.objects)
}
