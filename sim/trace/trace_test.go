package trace

import (
	"encoding/binary"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func sampleRecords(t *testing.T, n int) []*Record {
	t.Helper()
	kinds := []Kind{KindActorPoses, KindRequest, KindResponse}
	recs := make([]*Record, 0, n+1)
	meta, err := NewRecord(KindMetadata, 0, Metadata{RolloutID: "r-001", SceneID: "scene-a", Config: json.RawMessage(`{"steps":3}`)})
	require.NoError(t, err)
	recs = append(recs, meta)
	for i := 0; i < n; i++ {
		rec, err := NewRecord(kinds[i%len(kinds)], int64(i)*33000, map[string]int{"seq": i})
		require.NoError(t, err)
		recs = append(recs, rec)
	}
	return recs
}

func TestWriterReader_RoundTrip(t *testing.T) {
	// GIVEN N records of mixed kinds
	path := filepath.Join(t.TempDir(), "r-001.dlog")
	recs := sampleRecords(t, 20)

	// WHEN they are written with a clean finalize and read back
	w, err := NewWriter(path)
	require.NoError(t, err)
	for _, rec := range recs {
		require.NoError(t, w.Append(rec))
	}
	require.Equal(t, len(recs), w.Count())
	require.NoError(t, w.Finalize(true))

	got, complete, err := ReadAll(path)
	require.NoError(t, err)

	// THEN the same records come back, in order, byte-identical payloads
	require.True(t, complete)
	require.Len(t, got, len(recs))
	for i := range recs {
		require.Equal(t, recs[i].Kind, got[i].Kind, "record %d kind", i)
		require.Equal(t, recs[i].InstantUS, got[i].InstantUS, "record %d instant", i)
		require.Equal(t, []byte(recs[i].Payload), []byte(got[i].Payload), "record %d payload", i)
	}
}

func TestWriter_UncleanFinalizeOmitsSentinel(t *testing.T) {
	// GIVEN a log finalized as an aborted rollout
	path := filepath.Join(t.TempDir(), "r-002.dlog")
	w, err := NewWriter(path)
	require.NoError(t, err)
	for _, rec := range sampleRecords(t, 4) {
		require.NoError(t, w.Append(rec))
	}
	require.NoError(t, w.Finalize(false))

	// WHEN it is read back
	got, complete, err := ReadAll(path)

	// THEN the entries survive but the log is marked incomplete
	require.NoError(t, err)
	require.Len(t, got, 5)
	require.False(t, complete)
}

func TestReader_TruncatedRecord(t *testing.T) {
	// GIVEN a log whose final frame was cut off mid-write
	path := filepath.Join(t.TempDir(), "r-003.dlog")
	w, err := NewWriter(path)
	require.NoError(t, err)
	recs := sampleRecords(t, 2)
	for _, rec := range recs {
		require.NoError(t, w.Append(rec))
	}
	require.NoError(t, w.Finalize(false))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, raw[:len(raw)-3], 0o644))

	// WHEN it is read
	got, _, err := ReadAll(path)

	// THEN the intact prefix decodes and the tail reports truncation
	require.ErrorIs(t, err, ErrTruncated)
	require.Len(t, got, 2)
}

func TestReader_TruncatedHeader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "r-004.dlog")
	w, err := NewWriter(path)
	require.NoError(t, err)
	require.NoError(t, w.Append(sampleRecords(t, 0)[0]))
	require.NoError(t, w.Finalize(false))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	// Append 2 stray bytes: a header fragment.
	require.NoError(t, os.WriteFile(path, append(raw, 0x01, 0x00), 0o644))

	got, _, err := ReadAll(path)
	require.ErrorIs(t, err, ErrTruncated)
	require.Len(t, got, 1)
}

func TestWriter_AppendAfterFinalizeFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "r-005.dlog")
	w, err := NewWriter(path)
	require.NoError(t, err)
	require.NoError(t, w.Finalize(true))
	require.Error(t, w.Append(sampleRecords(t, 0)[0]))
}

func TestWriter_FrameFormat(t *testing.T) {
	// The frame header is a 4-byte little-endian payload length.
	path := filepath.Join(t.TempDir(), "r-006.dlog")
	w, err := NewWriter(path)
	require.NoError(t, err)
	rec := sampleRecords(t, 0)[0]
	require.NoError(t, w.Append(rec))
	require.NoError(t, w.Finalize(true))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	n := binary.LittleEndian.Uint32(raw[:4])
	require.Equal(t, int(n), len(raw)-8, "payload length + header + sentinel")

	var decoded Record
	require.NoError(t, json.Unmarshal(raw[4:4+n], &decoded))
	require.Equal(t, KindMetadata, decoded.Kind)

	// Trailing sentinel: a zero-length frame.
	require.Equal(t, uint32(0), binary.LittleEndian.Uint32(raw[4+n:]))
}

func TestNopWriter_Discards(t *testing.T) {
	var sink EntrySink = NopWriter{}
	require.NoError(t, sink.Append(sampleRecords(t, 0)[0]))
	require.NoError(t, sink.Finalize(true))
}
