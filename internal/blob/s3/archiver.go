package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"positionengine/internal/domain"
)

// BlobWriter is the slice of Writer the archiver uses.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
}

// SegmentVerifier confirms an uploaded segment round-trips intact.
type SegmentVerifier interface {
	CountLines(ctx context.Context, path string) (int, error)
}

// Archiver exports event log segments to object storage as JSONL files. The
// export is purely additive: the event log keeps every event forever, the
// archive exists for offline analysis and disaster recovery. Nothing is ever
// deleted from the primary store.
type Archiver struct {
	log      domain.EventLog
	writer   BlobWriter
	verifier SegmentVerifier
	// segmentSize is the number of events per archive object.
	segmentSize int
	logger      *slog.Logger
}

// NewArchiver creates an Archiver. A non-positive segmentSize defaults to
// 10,000 events per object. verifier may be nil, in which case uploads are
// not read back.
func NewArchiver(log domain.EventLog, writer BlobWriter, verifier SegmentVerifier, segmentSize int, logger *slog.Logger) *Archiver {
	if segmentSize <= 0 {
		segmentSize = 10000
	}
	return &Archiver{
		log:         log,
		writer:      writer,
		verifier:    verifier,
		segmentSize: segmentSize,
		logger:      logger.With(slog.String("component", "archiver")),
	}
}

// ArchiveEvents exports all events with id >= fromID in fixed-size segments
// and returns the id to resume from next time (one past the last archived
// event). Re-running with the same fromID overwrites the same objects with
// identical content; the log is append-only, so segments never change once
// full.
func (a *Archiver) ArchiveEvents(ctx context.Context, fromID int64) (int64, error) {
	if fromID < 1 {
		fromID = 1
	}

	next := fromID
	for {
		events, err := a.log.ReplayRange(ctx, next, a.segmentSize)
		if err != nil {
			return next, fmt.Errorf("s3blob: archive events from %d: %w", next, err)
		}
		if len(events) == 0 {
			return next, nil
		}

		buf, err := marshalJSONL(events)
		if err != nil {
			return next, fmt.Errorf("s3blob: archive events marshal: %w", err)
		}

		first, last := events[0].ID, events[len(events)-1].ID
		path := segmentPath(first, last)
		if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
			return next, fmt.Errorf("s3blob: archive events upload %s: %w", path, err)
		}

		if a.verifier != nil {
			lines, err := a.verifier.CountLines(ctx, path)
			if err != nil {
				return next, fmt.Errorf("s3blob: verify segment %s: %w", path, err)
			}
			if lines != len(events) {
				return next, fmt.Errorf("s3blob: segment %s has %d records, want %d", path, lines, len(events))
			}
		}

		a.logger.InfoContext(ctx, "event segment archived",
			slog.String("path", path),
			slog.Int("events", len(events)),
			slog.Int64("first_event_id", first),
			slog.Int64("last_event_id", last),
		)

		next = last + 1
		if len(events) < a.segmentSize {
			return next, nil
		}
	}
}

// segmentPath builds the object key for one event segment.
//
//	archive/events/000000000001-000000010000.jsonl
func segmentPath(first, last int64) string {
	return fmt.Sprintf("archive/events/%012d-%012d.jsonl", first, last)
}

// marshalJSONL serialises events as newline-delimited JSON, one compact line
// per event.
func marshalJSONL(events []domain.Event) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, ev := range events {
		if err := enc.Encode(ev); err != nil {
			return nil, fmt.Errorf("jsonl encode event %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}
