package sim

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/drivesim/drivesim/sim/trace"
)

// ReplayMismatch describes one request that diverged from the recording.
type ReplayMismatch struct {
	CallIndex int        // position in the recorded request stream
	Instant   SimInstant // decision instant of the outgoing request
	Service   string
	Fields    []string // names of the differing fields
}

func (m ReplayMismatch) String() string {
	return fmt.Sprintf("call #%d (%s at %s): fields differ: %s",
		m.CallIndex, m.Service, m.Instant, strings.Join(m.Fields, ", "))
}

// ReplayReport is the pass/fail verdict of one replay run.
type ReplayReport struct {
	RolloutID  string
	Calls      int  // recorded request/response pairs consumed
	Complete   bool // recording ended with the completion sentinel
	Mismatches []ReplayMismatch
}

// Passed reports whether every outgoing request matched the recording.
func (r *ReplayReport) Passed() bool { return len(r.Mismatches) == 0 }

func (r *ReplayReport) String() string {
	if r.Passed() {
		return fmt.Sprintf("replay %s: PASS (%d calls verified, complete=%v)", r.RolloutID, r.Calls, r.Complete)
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "replay %s: FAIL (%d calls, %d mismatches)\n", r.RolloutID, r.Calls, len(r.Mismatches))
	for _, m := range r.Mismatches {
		fmt.Fprintf(&sb, "  %s\n", m)
	}
	return sb.String()
}

// recordedCall is one request/response pair from the log.
type recordedCall struct {
	req  *ServiceRequest
	resp *ServiceResponse
}

// replayCursor walks the recorded calls in emission order. All service
// stubs share one cursor: the recording is a single causal stream, so call
// position, not service name, identifies the expected pair.
type replayCursor struct {
	calls      []recordedCall
	pos        int
	mismatches []ReplayMismatch
}

// replayCaller substitutes a live endpoint with the recorded stream.
type replayCaller struct {
	service string
	cursor  *replayCursor
}

func (c *replayCaller) ServiceName() string { return c.service }

// errRecordingExhausted stops the replayed state machine once the live run
// issues more calls than the recording holds (e.g. the recording aborted).
var errRecordingExhausted = errors.New("recording exhausted")

// Call asserts the outgoing request is field-for-field identical to the
// recorded one at this position and returns the recorded response.
// Divergence is recorded, not fatal: returning the recorded response keeps
// the replay aligned so one mismatch does not cascade into noise.
func (c *replayCaller) Call(_ context.Context, req *ServiceRequest) (*ServiceResponse, error) {
	cur := c.cursor
	if cur.pos >= len(cur.calls) {
		return nil, fmt.Errorf("%w at call #%d (%s)", errRecordingExhausted, cur.pos, c.service)
	}
	rec := cur.calls[cur.pos]
	if fields := diffRequests(req, rec.req); len(fields) > 0 {
		cur.mismatches = append(cur.mismatches, ReplayMismatch{
			CallIndex: cur.pos,
			Instant:   req.Instant,
			Service:   req.Service,
			Fields:    fields,
		})
	}
	cur.pos++
	return rec.resp, nil
}

// diffRequests compares two requests field by field; payloads byte-wise.
func diffRequests(got, want *ServiceRequest) []string {
	var fields []string
	if got.Service != want.Service {
		fields = append(fields, fmt.Sprintf("service (got %q, recorded %q)", got.Service, want.Service))
	}
	if got.Method != want.Method {
		fields = append(fields, fmt.Sprintf("method (got %q, recorded %q)", got.Method, want.Method))
	}
	if got.RolloutID != want.RolloutID {
		fields = append(fields, fmt.Sprintf("rollout_id (got %q, recorded %q)", got.RolloutID, want.RolloutID))
	}
	if got.Instant != want.Instant {
		fields = append(fields, fmt.Sprintf("instant_us (got %s, recorded %s)", got.Instant, want.Instant))
	}
	if !bytes.Equal(got.Payload, want.Payload) {
		fields = append(fields, fmt.Sprintf("payload (got %s, recorded %s)", got.Payload, want.Payload))
	}
	return fields
}

// ReplayEngine verifies a recorded rollout: it rebuilds the scenario from
// the log's metadata record, drives a fresh RolloutStateMachine against the
// recorded responses, and reports any outgoing request that is not
// byte-identical to the recording. Used to prove behavior-preserving
// refactors produce identical request traces, without any live service.
type ReplayEngine struct {
	logPath string
}

// NewReplayEngine verifies the log at path.
func NewReplayEngine(logPath string) *ReplayEngine {
	return &ReplayEngine{logPath: logPath}
}

// Replay runs the verification. The returned report is deterministic:
// replaying the same log against the same engine logic twice yields
// identical verdicts.
func (e *ReplayEngine) Replay(ctx context.Context) (*ReplayReport, error) {
	cfg, calls, complete, err := e.load()
	if err != nil {
		return nil, err
	}
	cursor := &replayCursor{calls: calls}
	callers := make(map[string]Caller, len(cfg.Services))
	for _, svc := range cfg.Services {
		callers[svc] = &replayCaller{service: svc, cursor: cursor}
	}

	machine := NewRolloutStateMachine(cfg, callers, trace.NopWriter{})
	if err := machine.Run(ctx); err != nil && !errors.Is(err, errRecordingExhausted) {
		return nil, fmt.Errorf("replay run: %w", err)
	}

	report := &ReplayReport{
		RolloutID:  cfg.RolloutID,
		Calls:      cursor.pos,
		Complete:   complete,
		Mismatches: cursor.mismatches,
	}
	if cursor.pos < len(cursor.calls) {
		report.Mismatches = append(report.Mismatches, ReplayMismatch{
			CallIndex: cursor.pos,
			Service:   cursor.calls[cursor.pos].req.Service,
			Instant:   cursor.calls[cursor.pos].req.Instant,
			Fields:    []string{fmt.Sprintf("missing call (recording has %d calls, live run issued %d)", len(cursor.calls), cursor.pos)},
		})
	}
	logrus.Infof("%s", report)
	return report, nil
}

// load reads the full recording: metadata first, then request/response
// pairs in emission order.
func (e *ReplayEngine) load() (*ScenarioConfig, []recordedCall, bool, error) {
	r, err := trace.NewReader(e.logPath)
	if err != nil {
		return nil, nil, false, err
	}
	defer r.Close()

	var cfg *ScenarioConfig
	var calls []recordedCall
	var pendingReq *ServiceRequest
	first := true
	for {
		rec, err := r.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, false, fmt.Errorf("read recording: %w", err)
		}
		switch rec.Kind {
		case trace.KindMetadata:
			if !first {
				return nil, nil, false, fmt.Errorf("metadata record not first in %s", e.logPath)
			}
			var meta trace.Metadata
			if err := json.Unmarshal(rec.Payload, &meta); err != nil {
				return nil, nil, false, fmt.Errorf("decode metadata: %w", err)
			}
			cfg = &ScenarioConfig{}
			if err := json.Unmarshal(meta.Config, cfg); err != nil {
				return nil, nil, false, fmt.Errorf("decode embedded scenario config: %w", err)
			}
		case trace.KindRequest:
			if pendingReq != nil {
				// Request with no recorded response: the live rollout
				// aborted here. Replay verifies only answered calls.
				logrus.Debugf("recording %s: unanswered request %s/%s dropped", e.logPath, pendingReq.Service, pendingReq.Method)
			}
			pendingReq = &ServiceRequest{}
			if err := json.Unmarshal(rec.Payload, pendingReq); err != nil {
				return nil, nil, false, fmt.Errorf("decode recorded request: %w", err)
			}
		case trace.KindResponse:
			if pendingReq == nil {
				return nil, nil, false, fmt.Errorf("response without preceding request in %s", e.logPath)
			}
			resp := &ServiceResponse{}
			if err := json.Unmarshal(rec.Payload, resp); err != nil {
				return nil, nil, false, fmt.Errorf("decode recorded response: %w", err)
			}
			calls = append(calls, recordedCall{req: pendingReq, resp: resp})
			pendingReq = nil
		case trace.KindActorPoses:
			// World snapshots are not replayed; the state machine
			// regenerates them from the recorded responses.
		default:
			return nil, nil, false, fmt.Errorf("unknown record kind %q in %s", rec.Kind, e.logPath)
		}
		first = false
	}
	if cfg == nil {
		return nil, nil, false, fmt.Errorf("recording %s has no metadata record", e.logPath)
	}
	return cfg, calls, r.Complete(), nil
}
