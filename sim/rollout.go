package sim

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/drivesim/drivesim/sim/trace"
)

// RolloutState labels the lifecycle of one rollout.
type RolloutState string

const (
	StateInitializing RolloutState = "Initializing"
	StateStepping     RolloutState = "Stepping"
	StateFinalizing   RolloutState = "Finalizing"
	StateCompleted    RolloutState = "Completed"
	StateAborted      RolloutState = "Aborted"
)

// callSpec is one slot in the fixed causal call order of a step. Idempotent
// calls have no side effect on the remote world and may be retried with the
// identical payload; mutating calls are never retried, since re-issuing
// them could double-apply an effect.
type callSpec struct {
	service    string
	method     string
	idempotent bool
}

// stepCalls returns the causal order of one control tick. Later calls
// consume results of earlier ones, so a step is never internally parallel.
func stepCalls() []callSpec {
	return []callSpec{
		{service: ServiceWorld, method: "query_actors", idempotent: true},
		{service: ServiceRender, method: "render_frame", idempotent: true},
		{service: ServicePolicy, method: "plan", idempotent: true},
		{service: ServiceVehicle, method: "apply_control", idempotent: false},
		{service: ServicePhysics, method: "constrain_pose", idempotent: false},
	}
}

// LogPath returns the trace file location for a scenario.
func LogPath(cfg *ScenarioConfig) string {
	return filepath.Join(cfg.LogDir, cfg.RolloutID+".dlog")
}

// RolloutStateMachine drives one simulated episode end-to-end: it advances
// the clock set, calls the active service endpoints in causal order each
// control tick, threads responses into its WorldState, and appends every
// request, response, and world snapshot to the rollout log.
//
// A state machine is single-goroutine: only its owning rollout task may call
// Run. RequestStop is the one concurrency-safe entry point, used by the
// evaluation collaborator to flag a terminal condition (collision, off-road,
// timeout); the engine itself is agnostic to driving-quality semantics.
type RolloutStateMachine struct {
	cfg     *ScenarioConfig
	clocks  *ClockSet
	world   *WorldState
	callers map[string]Caller
	sink    trace.EntrySink

	state RolloutState
	now   SimInstant
	step  int
	stop  chan struct{}
	err   error
}

// NewRolloutStateMachine builds a state machine over the given callers.
// When sink is nil, Initializing opens a trace.Writer at LogPath(cfg); the
// replay engine passes trace.NopWriter instead.
func NewRolloutStateMachine(cfg *ScenarioConfig, callers map[string]Caller, sink trace.EntrySink) *RolloutStateMachine {
	return &RolloutStateMachine{
		cfg:     cfg,
		world:   NewWorldState(),
		callers: callers,
		sink:    sink,
		state:   StateInitializing,
		stop:    make(chan struct{}),
	}
}

// State returns the current lifecycle state.
func (m *RolloutStateMachine) State() RolloutState { return m.state }

// Err returns the abort reason, nil unless state is Aborted.
func (m *RolloutStateMachine) Err() error { return m.err }

// World exposes the rollout-local world state (for tests and evaluation).
func (m *RolloutStateMachine) World() *WorldState { return m.world }

// RequestStop flags an external terminal condition. The step loop observes
// the flag between steps and finalizes cleanly. Safe to call from any
// goroutine, any number of times.
func (m *RolloutStateMachine) RequestStop() {
	select {
	case <-m.stop:
	default:
		close(m.stop)
	}
}

func (m *RolloutStateMachine) stopped() bool {
	select {
	case <-m.stop:
		return true
	default:
		return false
	}
}

// Run drives the rollout through Initializing, Stepping, and Finalizing.
// It returns nil when the rollout completes and the abort reason otherwise.
// Cancelling ctx aborts the rollout: outstanding calls are cancelled and
// held capacity slots release as those calls unwind.
func (m *RolloutStateMachine) Run(ctx context.Context) error {
	if err := m.initialize(); err != nil {
		return m.abort(err)
	}

	m.state = StateStepping
	// The first decision falls one full control interval after rollout
	// start, giving every dependent clock time to complete an event.
	m.now = SimInstant(m.cfg.ControlIntervalUS)
	for m.step = 1; m.step <= m.cfg.Steps; m.step++ {
		if err := ctx.Err(); err != nil {
			return m.abort(fmt.Errorf("rollout cancelled at step %d: %w", m.step, err))
		}
		if m.stopped() {
			logrus.Infof("rollout %s: stop requested at step %d", m.cfg.RolloutID, m.step)
			break
		}
		if err := m.runStep(ctx); err != nil {
			return m.abort(err)
		}
		m.now = m.now.Add(m.cfg.ControlIntervalUS)
	}

	m.state = StateFinalizing
	if err := m.sink.Finalize(true); err != nil {
		m.state = StateAborted
		m.err = fmt.Errorf("finalize log: %w", err)
		return m.err
	}
	m.state = StateCompleted
	logrus.Infof("rollout %s: completed after %d steps (%s simulated)", m.cfg.RolloutID, m.step-1, m.now)
	return nil
}

// initialize validates the scenario, builds the clock set, opens the log,
// and emits the metadata record.
func (m *RolloutStateMachine) initialize() error {
	if err := m.cfg.Validate(); err != nil {
		return err
	}
	clocks, err := NewClockSet(m.cfg.ControlIntervalUS, m.cfg.Clocks)
	if err != nil {
		return err
	}
	m.clocks = clocks
	for _, svc := range m.cfg.Services {
		if _, ok := m.callers[svc]; !ok {
			return &ConfigError{Field: "services", Reason: fmt.Sprintf("no endpoint configured for active service %q", svc)}
		}
	}
	if m.sink == nil {
		w, err := trace.NewWriter(LogPath(m.cfg))
		if err != nil {
			return err
		}
		m.sink = w
	}
	cfgRaw, err := json.Marshal(m.cfg)
	if err != nil {
		return fmt.Errorf("marshal scenario config: %w", err)
	}
	meta := trace.Metadata{
		RolloutID: m.cfg.RolloutID,
		SceneID:   m.cfg.SceneID,
		StartedAt: time.Now().UTC().Format(time.RFC3339),
		Config:    cfgRaw,
	}
	rec, err := trace.NewRecord(trace.KindMetadata, 0, meta)
	if err != nil {
		return err
	}
	return m.sink.Append(rec)
}

// runStep executes one control tick: sync check, causal calls, snapshot.
func (m *RolloutStateMachine) runStep(ctx context.Context) error {
	extrapolate := false
	if m.cfg.StrictSync {
		if err := m.clocks.CheckStrictSync(m.now); err != nil {
			return err
		}
	} else if c, ok := m.clocks.LatestCompletion(ClockCamera, m.now); !ok || c != m.now {
		// Sensor data is stale relative to the decision instant; the policy
		// is told to extrapolate.
		extrapolate = true
	}

	for _, spec := range stepCalls() {
		if !m.cfg.ServiceActive(spec.service) {
			continue
		}
		payload, err := m.buildPayload(spec.service, extrapolate)
		if err != nil {
			return err
		}
		resp, err := m.issue(ctx, spec, payload)
		if err != nil {
			return err
		}
		if err := m.applyResponse(spec.service, resp); err != nil {
			return err
		}
	}

	rec, err := trace.NewRecord(trace.KindActorPoses, m.now.US(), m.world.Snapshot())
	if err != nil {
		return err
	}
	return m.sink.Append(rec)
}

// buildPayload assembles the request payload for one service from the
// current world state.
func (m *RolloutStateMachine) buildPayload(service string, extrapolate bool) (any, error) {
	switch service {
	case ServiceWorld:
		return WorldQueryRequest{Step: m.step}, nil
	case ServiceRender:
		req := RenderRequest{
			Ego:          m.world.Ego,
			Actors:       m.world.Actors,
			CameraCount:  m.cfg.CameraCount,
			CaptureStart: m.now,
			CaptureEnd:   m.now,
		}
		if c, ok := m.clocks.LatestCompletion(ClockCamera, m.now); ok {
			if spec, found := m.clocks.spec(ClockCamera); found {
				req.CaptureStart = c.Add(-spec.ShutterUS)
			}
			req.CaptureEnd = c
		}
		return req, nil
	case ServicePolicy:
		return PolicyRequest{Ego: m.world.Ego, Observation: m.world.Observation, Extrapolate: extrapolate}, nil
	case ServiceVehicle:
		return VehicleRequest{Ego: m.world.Ego, Trajectory: m.world.Trajectory, DtUS: m.cfg.ControlIntervalUS}, nil
	case ServicePhysics:
		return PhysicsRequest{Ego: m.world.Ego, Actors: m.world.Actors}, nil
	}
	return nil, &ConfigError{Field: "services", Reason: fmt.Sprintf("no payload builder for service %q", service)}
}

// issue sends one logical call, retrying idempotent calls with the identical
// request up to the configured attempt bound. The request is logged once per
// logical call (retries re-send the same payload); the response is logged on
// success. A mutating call fails on its first error.
func (m *RolloutStateMachine) issue(ctx context.Context, spec callSpec, payload any) (*ServiceResponse, error) {
	req, err := NewServiceRequest(spec.service, spec.method, m.cfg.RolloutID, m.now, payload)
	if err != nil {
		return nil, err
	}
	rec, err := trace.NewRecord(trace.KindRequest, m.now.US(), req)
	if err != nil {
		return nil, err
	}
	if err := m.sink.Append(rec); err != nil {
		return nil, err
	}

	caller := m.callers[spec.service]
	for attempt := 1; ; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, m.cfg.CallTimeout)
		resp, callErr := caller.Call(callCtx, req)
		cancel()
		if callErr == nil {
			rec, err := trace.NewRecord(trace.KindResponse, m.now.US(), resp)
			if err != nil {
				return nil, err
			}
			if err := m.sink.Append(rec); err != nil {
				return nil, err
			}
			return resp, nil
		}
		ce, isCallErr := AsCallError(callErr)
		if spec.idempotent && isCallErr && ce.IsRetryable() && attempt < m.cfg.MaxCallAttempts {
			logrus.Warnf("rollout %s: %s/%s attempt %d/%d failed, retrying: %v",
				m.cfg.RolloutID, spec.service, spec.method, attempt, m.cfg.MaxCallAttempts, callErr)
			continue
		}
		if spec.idempotent {
			return nil, fmt.Errorf("exhausted %d attempts on %s/%s: %w", attempt, spec.service, spec.method, callErr)
		}
		return nil, fmt.Errorf("mutating call %s/%s failed (not retried): %w", spec.service, spec.method, callErr)
	}
}

// applyResponse threads a response into the world state before the next
// call of the step issues.
func (m *RolloutStateMachine) applyResponse(service string, resp *ServiceResponse) error {
	decode := func(v any) error {
		if err := json.Unmarshal(resp.Payload, v); err != nil {
			return fmt.Errorf("decode %s response: %w", service, err)
		}
		return nil
	}
	switch service {
	case ServiceWorld:
		var p WorldQueryResponse
		if err := decode(&p); err != nil {
			return err
		}
		m.world.Actors = p.Actors
	case ServiceRender:
		var p RenderResponse
		if err := decode(&p); err != nil {
			return err
		}
		m.world.Observation = p.Observation
	case ServicePolicy:
		var p PolicyResponse
		if err := decode(&p); err != nil {
			return err
		}
		m.world.Trajectory = p.Trajectory
	case ServiceVehicle:
		var p VehicleResponse
		if err := decode(&p); err != nil {
			return err
		}
		m.world.Ego = p.Ego
	case ServicePhysics:
		var p PhysicsResponse
		if err := decode(&p); err != nil {
			return err
		}
		m.world.Ego = p.Ego
	}
	return nil
}

// abort flushes what was logged so far, leaves the log unsealed, and
// records the reason. Partial logs are never deleted: the entries up to the
// failure point are evidence.
func (m *RolloutStateMachine) abort(reason error) error {
	m.state = StateAborted
	m.err = reason
	if m.sink != nil {
		if err := m.sink.Finalize(false); err != nil {
			logrus.Warnf("rollout %s: flushing partial log failed: %v", m.cfg.RolloutID, err)
		}
	}
	logrus.Errorf("rollout %s: aborted: %v", m.cfg.RolloutID, reason)
	return reason
}
