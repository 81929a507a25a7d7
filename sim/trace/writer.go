package trace

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Writer appends records to a rollout log file. The on-disk format is a
// sequence of [4-byte little-endian length][payload bytes] frames; the
// payload is the JSON-encoded Record. A zero-length frame is the completion
// sentinel, written last by Finalize(true): a reader that never sees it
// knows the rollout crashed or aborted mid-stream.
//
// Each Append is exactly one frame, written and flushed in order; frames are
// never batched or reordered. Any I/O error is fatal to the rollout that
// owns the writer.
type Writer struct {
	f    *os.File
	buf  *bufio.Writer
	n    int
	done bool
}

// NewWriter creates the log file at path, creating parent directories as
// needed. An existing file is truncated: rollout ids are unique per batch,
// so a collision means a retried rollout and the stale log must not survive.
func NewWriter(path string) (*Writer, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create log file: %w", err)
	}
	return &Writer{f: f, buf: bufio.NewWriter(f)}, nil
}

// Append writes one record as one frame and flushes it.
func (w *Writer) Append(rec *Record) error {
	if w.done {
		return fmt.Errorf("append to finalized log")
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	var hdr [4]byte
	binary.LittleEndian.PutUint32(hdr[:], uint32(len(payload)))
	if _, err := w.buf.Write(hdr[:]); err != nil {
		return fmt.Errorf("write frame header: %w", err)
	}
	if _, err := w.buf.Write(payload); err != nil {
		return fmt.Errorf("write frame payload: %w", err)
	}
	if err := w.buf.Flush(); err != nil {
		return fmt.Errorf("flush frame: %w", err)
	}
	w.n++
	return nil
}

// Count returns the number of records appended so far.
func (w *Writer) Count() int { return w.n }

// Finalize flushes and closes the log. When clean is true the completion
// sentinel is written after all entries, marking a rollout that finished;
// an aborted rollout finalizes with clean=false so its partial log is kept
// but recognizably incomplete.
func (w *Writer) Finalize(clean bool) error {
	if w.done {
		return nil
	}
	w.done = true
	if clean {
		var hdr [4]byte // zero length = sentinel
		if _, err := w.buf.Write(hdr[:]); err != nil {
			w.f.Close()
			return fmt.Errorf("write sentinel: %w", err)
		}
	}
	if err := w.buf.Flush(); err != nil {
		w.f.Close()
		return fmt.Errorf("flush log: %w", err)
	}
	if err := w.f.Sync(); err != nil {
		w.f.Close()
		return fmt.Errorf("sync log: %w", err)
	}
	return w.f.Close()
}

// EntrySink is the writer-side interface the engine emits into; Writer is
// the live implementation and NopWriter serves replay.
type EntrySink interface {
	Append(rec *Record) error
	Finalize(clean bool) error
}

// NopWriter discards every record. The replay engine drives the state
// machine with a NopWriter so verification never clobbers the recording
// under test.
type NopWriter struct{}

func (NopWriter) Append(*Record) error { return nil }
func (NopWriter) Finalize(bool) error  { return nil }
