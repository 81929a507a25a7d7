package trace

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
)

// ErrTruncated marks a log whose final frame was cut off mid-write. The
// records decoded before the truncation point are still valid.
var ErrTruncated = errors.New("trace: log truncated mid-record")

// Reader decodes a rollout log lazily, forward-only. It is not restartable
// mid-stream: to re-read, open a fresh Reader. After Next returns io.EOF,
// Complete reports whether the completion sentinel was present.
type Reader struct {
	f        *os.File
	buf      *bufio.Reader
	complete bool
	finished bool
}

// NewReader opens the log at path.
func NewReader(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	return &Reader{f: f, buf: bufio.NewReader(f)}, nil
}

// Next returns the next record. io.EOF signals the end of the stream,
// whether by sentinel or by physical end of file; ErrTruncated signals a
// frame cut off mid-write.
func (r *Reader) Next() (*Record, error) {
	if r.finished {
		return nil, io.EOF
	}
	var hdr [4]byte
	if _, err := io.ReadFull(r.buf, hdr[:]); err != nil {
		r.finished = true
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, ErrTruncated
	}
	n := binary.LittleEndian.Uint32(hdr[:])
	if n == 0 {
		// Completion sentinel: the rollout finished cleanly.
		r.finished = true
		r.complete = true
		return nil, io.EOF
	}
	payload := make([]byte, n)
	if _, err := io.ReadFull(r.buf, payload); err != nil {
		r.finished = true
		return nil, ErrTruncated
	}
	var rec Record
	if err := json.Unmarshal(payload, &rec); err != nil {
		r.finished = true
		return nil, fmt.Errorf("decode record: %w", err)
	}
	return &rec, nil
}

// Complete reports whether the stream ended with the completion sentinel.
// Only meaningful after Next has returned io.EOF.
func (r *Reader) Complete() bool { return r.complete }

// Close releases the underlying file.
func (r *Reader) Close() error { return r.f.Close() }

// ReadAll decodes every record in the file at path and reports whether the
// log was cleanly completed. Convenience for tools and tests; the engine
// itself streams via Next.
func ReadAll(path string) ([]*Record, bool, error) {
	r, err := NewReader(path)
	if err != nil {
		return nil, false, err
	}
	defer r.Close()
	var recs []*Record
	for {
		rec, err := r.Next()
		if err == io.EOF {
			return recs, r.Complete(), nil
		}
		if err != nil {
			return recs, false, err
		}
		recs = append(recs, rec)
	}
}
