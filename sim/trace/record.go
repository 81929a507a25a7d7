// Package trace implements the append-only rollout log: an envelope record
// type and a length-delimited binary codec. This package has no dependencies
// on sim/ — it stores pure data and moves bytes.
package trace

import "encoding/json"

// Kind discriminates record payloads.
type Kind string

const (
	// KindMetadata is written exactly once, first in every log.
	KindMetadata Kind = "metadata"
	// KindActorPoses is a world snapshot, one per step.
	KindActorPoses Kind = "actor_poses"
	// KindRequest is an outgoing service request.
	KindRequest Kind = "request"
	// KindResponse is the reply paired with the preceding request.
	KindResponse Kind = "response"
)

// Record is the envelope for one log entry. Records are write-once:
// append order in the file is causal emission order, and readers must not
// assume alignment between entry kinds beyond the InstantUS timestamps.
type Record struct {
	Kind      Kind            `json:"kind"`
	InstantUS int64           `json:"instant_us"`
	Payload   json.RawMessage `json:"payload"`
}

// Metadata is the first record of every rollout log. Config embeds the full
// resolved scenario so a recording is self-contained for replay.
type Metadata struct {
	RolloutID string          `json:"rollout_id"`
	SceneID   string          `json:"scene_id"`
	StartedAt string          `json:"started_at"` // RFC3339 wall-clock, informational only
	Config    json.RawMessage `json:"config"`
}

// NewRecord marshals payload into an envelope.
func NewRecord(kind Kind, instantUS int64, payload any) (*Record, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &Record{Kind: kind, InstantUS: instantUS, Payload: raw}, nil
}
