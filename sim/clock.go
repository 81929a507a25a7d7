package sim

import "fmt"

// ClockSpec describes one dependent logical clock (camera capture, pose
// update). IntervalUS is the period between event starts, PhaseOffsetUS
// shifts the first event, and ShutterUS is how long each event takes to
// complete (camera shutter, pose integration lead). An event starting at
// instant s completes at s+ShutterUS.
type ClockSpec struct {
	Name          string `yaml:"name" json:"name"`
	IntervalUS    int64  `yaml:"interval_us" json:"interval_us"`
	PhaseOffsetUS int64  `yaml:"phase_offset_us" json:"phase_offset_us"`
	ShutterUS     int64  `yaml:"shutter_us" json:"shutter_us"`
}

// ActiveInterval is one event of a logical clock: it starts at Start and its
// result becomes available at Completion = Start + shutter.
type ActiveInterval struct {
	Start      SimInstant
	Completion SimInstant
}

// SyncError reports a strict-sync violation: a dependent clock whose latest
// completed event does not land exactly on the decision instant.
type SyncError struct {
	Clock      string
	Completion SimInstant
	Decision   SimInstant
}

func (e *SyncError) Error() string {
	return fmt.Sprintf("strict-sync violation: clock %q latest completion at %s, decision requested at %s (mismatch %dus)",
		e.Clock, e.Completion, e.Decision, int64(e.Decision-e.Completion))
}

// ClockSet answers, for any simulated instant, which logical clocks fire and
// what their active intervals are. The control tick is the driving clock;
// every dependent clock interval must be an exact integer multiple of it.
// A ClockSet is a pure value: all methods are read-only and integer-exact.
type ClockSet struct {
	controlIntervalUS int64
	clocks            []ClockSpec
}

// NewClockSet validates the clock configuration and returns the set.
// Validation failures are configuration faults: they name the offending
// clock and are never retried.
func NewClockSet(controlIntervalUS int64, clocks []ClockSpec) (*ClockSet, error) {
	if controlIntervalUS <= 0 {
		return nil, &ConfigError{Field: "control_interval_us", Reason: fmt.Sprintf("must be positive, got %d", controlIntervalUS)}
	}
	for _, c := range clocks {
		if c.Name == "" {
			return nil, &ConfigError{Field: "clocks", Reason: "clock with empty name"}
		}
		if c.IntervalUS <= 0 {
			return nil, &ConfigError{Field: c.Name, Reason: fmt.Sprintf("interval_us must be positive, got %d", c.IntervalUS)}
		}
		if c.IntervalUS%controlIntervalUS != 0 {
			return nil, &ConfigError{
				Field:  c.Name,
				Reason: fmt.Sprintf("interval %dus is not an exact multiple of the control interval %dus", c.IntervalUS, controlIntervalUS),
			}
		}
		if c.PhaseOffsetUS < 0 {
			return nil, &ConfigError{Field: c.Name, Reason: fmt.Sprintf("phase_offset_us must be non-negative, got %d", c.PhaseOffsetUS)}
		}
		if c.ShutterUS < 0 {
			return nil, &ConfigError{Field: c.Name, Reason: fmt.Sprintf("shutter_us must be non-negative, got %d", c.ShutterUS)}
		}
	}
	return &ClockSet{controlIntervalUS: controlIntervalUS, clocks: clocks}, nil
}

// ControlIntervalUS returns the driving clock's tick interval.
func (cs *ClockSet) ControlIntervalUS() int64 { return cs.controlIntervalUS }

// Clocks returns the dependent clock specs.
func (cs *ClockSet) Clocks() []ClockSpec { return cs.clocks }

// spec returns the named clock spec, or false if not configured.
func (cs *ClockSet) spec(name string) (ClockSpec, bool) {
	for _, c := range cs.clocks {
		if c.Name == name {
			return c, true
		}
	}
	return ClockSpec{}, false
}

// FiresAt reports whether the named clock starts an event exactly at now.
func (cs *ClockSet) FiresAt(name string, now SimInstant) bool {
	c, ok := cs.spec(name)
	if !ok {
		return false
	}
	rel := now.US() - c.PhaseOffsetUS
	return rel >= 0 && rel%c.IntervalUS == 0
}

// ActiveIntervalAt returns the event of the named clock whose start is the
// latest at or before now. ok is false when the clock has not yet fired.
func (cs *ClockSet) ActiveIntervalAt(name string, now SimInstant) (ActiveInterval, bool) {
	c, ok := cs.spec(name)
	if !ok {
		return ActiveInterval{}, false
	}
	rel := now.US() - c.PhaseOffsetUS
	if rel < 0 {
		return ActiveInterval{}, false
	}
	start := c.PhaseOffsetUS + (rel/c.IntervalUS)*c.IntervalUS
	return ActiveInterval{
		Start:      SimInstant(start),
		Completion: SimInstant(start + c.ShutterUS),
	}, true
}

// LatestCompletion returns the completion instant of the most recent event
// of the named clock that has fully completed by now (completion <= now).
// ok is false when no event has completed yet.
func (cs *ClockSet) LatestCompletion(name string, now SimInstant) (SimInstant, bool) {
	c, ok := cs.spec(name)
	if !ok {
		return 0, false
	}
	// Latest start s = phase + k*interval with s + shutter <= now.
	rel := now.US() - c.PhaseOffsetUS - c.ShutterUS
	if rel < 0 {
		return 0, false
	}
	start := c.PhaseOffsetUS + (rel/c.IntervalUS)*c.IntervalUS
	return SimInstant(start + c.ShutterUS), true
}

// CheckStrictSync asserts that every dependent clock's latest completed
// event finishes exactly at the decision instant. Policies tolerate stale
// sensor data in general (extrapolation), but in strict-sync mode any
// nonzero skew is a configuration fault, reported with the offending clock
// and both instants. Exact integer equality; no epsilon.
func (cs *ClockSet) CheckStrictSync(decision SimInstant) error {
	for _, c := range cs.clocks {
		completion, ok := cs.LatestCompletion(c.Name, decision)
		if !ok {
			return &SyncError{Clock: c.Name, Completion: -1, Decision: decision}
		}
		if completion != decision {
			return &SyncError{Clock: c.Name, Completion: completion, Decision: decision}
		}
	}
	return nil
}

// DueCompletions returns the names of all dependent clocks that have at
// least one completed event by now. Used by the step loop to decide which
// sensor results may be consumed versus extrapolated.
func (cs *ClockSet) DueCompletions(now SimInstant) []string {
	var due []string
	for _, c := range cs.clocks {
		if _, ok := cs.LatestCompletion(c.Name, now); ok {
			due = append(due, c.Name)
		}
	}
	return due
}
