package sim

import (
	"fmt"
	"time"
)

// Service names the engine calls each step, in causal order. The order is
// fixed: later calls in a step consume the results of earlier ones.
const (
	ServiceWorld   = "world"   // actor/world-state query
	ServiceRender  = "render"  // sensor rendering
	ServicePolicy  = "policy"  // driving-policy decision
	ServiceVehicle = "vehicle" // vehicle control / dynamics
	ServicePhysics = "physics" // ground / physics constraint
)

// StepCallOrder is the causal call order within one control tick.
func StepCallOrder() []string {
	return []string{ServiceWorld, ServiceRender, ServicePolicy, ServiceVehicle, ServicePhysics}
}

// Clock names with engine-level meaning. Scenario configs may declare
// additional dependent clocks; these two get dedicated payload handling.
const (
	ClockCamera = "camera"
	ClockPose   = "pose"
)

// ScenarioConfig is the immutable, fully resolved description of one
// rollout. It is produced by configuration resolution (cmd/ or an external
// wizard), validated once during Initializing, and owned exclusively by the
// rollout state machine constructed from it.
type ScenarioConfig struct {
	RolloutID string `yaml:"rollout_id" json:"rollout_id"`
	SceneID   string `yaml:"scene_id" json:"scene_id"`

	// Timing. ControlIntervalUS is the driving clock; Clocks are the
	// dependent camera/pose clocks.
	ControlIntervalUS int64       `yaml:"control_interval_us" json:"control_interval_us"`
	Steps             int         `yaml:"steps" json:"steps"`
	Clocks            []ClockSpec `yaml:"clocks" json:"clocks"`
	StrictSync        bool        `yaml:"strict_sync" json:"strict_sync"`

	// Scene composition.
	VehicleCount int `yaml:"vehicle_count" json:"vehicle_count"`
	CameraCount  int `yaml:"camera_count" json:"camera_count"`

	// Services contains the active endpoints for this rollout; endpoints in
	// StepCallOrder but absent here are skipped (e.g. render-less smoke runs).
	Services []string `yaml:"services" json:"services"`

	// Call handling. CallTimeout bounds each remote call; queueing waits are
	// bounded per pool (ReplicaPoolConfig.MaxQueueWait).
	MaxCallAttempts int           `yaml:"max_call_attempts" json:"max_call_attempts"`
	CallTimeout     time.Duration `yaml:"call_timeout" json:"call_timeout"`

	// LogDir is the directory this rollout's trace file is written into.
	LogDir string `yaml:"log_dir" json:"log_dir"`
}

// Validate checks the config exhaustively. It is called exactly once, at
// rollout Initializing; a failure aborts the rollout before any remote call.
func (c *ScenarioConfig) Validate() error {
	if c.RolloutID == "" {
		return &ConfigError{Field: "rollout_id", Reason: "must not be empty"}
	}
	if c.Steps <= 0 {
		return &ConfigError{Field: "steps", Reason: fmt.Sprintf("must be positive, got %d", c.Steps)}
	}
	if c.VehicleCount < 1 {
		return &ConfigError{Field: "vehicle_count", Reason: fmt.Sprintf("must be at least 1, got %d", c.VehicleCount)}
	}
	if c.CameraCount < 0 {
		return &ConfigError{Field: "camera_count", Reason: fmt.Sprintf("must be non-negative, got %d", c.CameraCount)}
	}
	if len(c.Services) == 0 {
		return &ConfigError{Field: "services", Reason: "at least one active service required"}
	}
	known := map[string]bool{}
	for _, s := range StepCallOrder() {
		known[s] = true
	}
	for _, s := range c.Services {
		if !known[s] {
			return &ConfigError{Field: "services", Reason: fmt.Sprintf("unknown service %q", s)}
		}
	}
	if c.MaxCallAttempts < 1 {
		return &ConfigError{Field: "max_call_attempts", Reason: fmt.Sprintf("must be at least 1, got %d", c.MaxCallAttempts)}
	}
	if c.CallTimeout <= 0 {
		return &ConfigError{Field: "call_timeout", Reason: "must be positive"}
	}
	// ClockSet construction re-checks clock arithmetic; run it here so a bad
	// clock table surfaces as a validation fault with the offending clock.
	if _, err := NewClockSet(c.ControlIntervalUS, c.Clocks); err != nil {
		return err
	}
	return nil
}

// ServiceActive reports whether the named endpoint participates in this
// rollout's step loop.
func (c *ScenarioConfig) ServiceActive(name string) bool {
	for _, s := range c.Services {
		if s == name {
			return true
		}
	}
	return false
}

// Duration returns the total simulated duration of the rollout.
func (c *ScenarioConfig) Duration() SimInstant {
	return SimInstant(int64(c.Steps) * c.ControlIntervalUS)
}
