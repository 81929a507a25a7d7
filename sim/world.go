package sim

import "encoding/json"

// Pose is a planar vehicle pose. Payload values are float64 because they
// come from remote dynamics/physics services; they never participate in
// clock arithmetic.
type Pose struct {
	X       float64 `json:"x"`
	Y       float64 `json:"y"`
	Z       float64 `json:"z"`
	Heading float64 `json:"heading"`
}

// ActorPose pairs an actor id with its pose. Slices are kept sorted by ID by
// the producing service; the engine preserves order as received.
type ActorPose struct {
	ID   string `json:"id"`
	Pose Pose   `json:"pose"`
}

// WorldState is the mutable per-rollout aggregate: ego and actor poses, the
// most recent observation bundle from rendering, and the most recent
// trajectory from the policy. It is owned exclusively by one rollout state
// machine and never shared across rollouts or goroutines.
type WorldState struct {
	Ego         Pose
	Actors      []ActorPose
	Observation json.RawMessage // last sensor/observation bundle, opaque to the engine
	Trajectory  []Pose          // last policy decision
}

// NewWorldState returns the initial world for a rollout.
func NewWorldState() *WorldState {
	return &WorldState{}
}

// Snapshot returns the poses to record in an ActorPoses log entry: the ego
// pose first under the reserved id, then all actors in service order.
func (w *WorldState) Snapshot() []ActorPose {
	out := make([]ActorPose, 0, len(w.Actors)+1)
	out = append(out, ActorPose{ID: "ego", Pose: w.Ego})
	out = append(out, w.Actors...)
	return out
}

// Per-service payload schemas. Requests are built from WorldState and the
// current instant; responses are threaded back into WorldState before the
// next call in the step issues. Marshaling a struct (not a map) keeps field
// order, and therefore recorded request bytes, deterministic for replay.

// WorldQueryRequest asks the world service for the current actor set.
type WorldQueryRequest struct {
	Step int `json:"step"`
}

// WorldQueryResponse carries the actor poses around the ego.
type WorldQueryResponse struct {
	Actors []ActorPose `json:"actors"`
}

// RenderRequest asks the rendering service for the sensor bundle covering
// the camera events completed by the decision instant.
type RenderRequest struct {
	Ego          Pose        `json:"ego"`
	Actors       []ActorPose `json:"actors"`
	CameraCount  int         `json:"camera_count"`
	CaptureStart SimInstant  `json:"capture_start_us"`
	CaptureEnd   SimInstant  `json:"capture_end_us"`
}

// RenderResponse returns the opaque observation bundle.
type RenderResponse struct {
	Observation json.RawMessage `json:"observation"`
}

// PolicyRequest asks the driving policy for a decision.
type PolicyRequest struct {
	Ego         Pose            `json:"ego"`
	Observation json.RawMessage `json:"observation,omitempty"`
	Extrapolate bool            `json:"extrapolate"` // set when sensor clocks lag the decision instant
}

// PolicyResponse carries the planned trajectory.
type PolicyResponse struct {
	Trajectory []Pose `json:"trajectory"`
}

// VehicleRequest asks vehicle control/dynamics to track the trajectory for
// one control interval.
type VehicleRequest struct {
	Ego        Pose   `json:"ego"`
	Trajectory []Pose `json:"trajectory"`
	DtUS       int64  `json:"dt_us"`
}

// VehicleResponse returns the integrated ego pose.
type VehicleResponse struct {
	Ego Pose `json:"ego"`
}

// PhysicsRequest asks the ground/physics service to constrain the ego pose
// against the map surface and actors.
type PhysicsRequest struct {
	Ego    Pose        `json:"ego"`
	Actors []ActorPose `json:"actors"`
}

// PhysicsResponse returns the constrained ego pose.
type PhysicsResponse struct {
	Ego Pose `json:"ego"`
}
