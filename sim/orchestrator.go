package sim

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"
)

// RolloutResult is one rollout's terminal record in a batch report.
type RolloutResult struct {
	RolloutID string
	SceneID   string
	State     RolloutState
	Reason    string // human-readable abort reason, empty when Completed
	LogPath   string
}

// BatchReport enumerates every rollout's terminal state. One failed rollout
// never halts the batch; it shows up here as Aborted with its reason.
type BatchReport struct {
	BatchID string
	Results []RolloutResult
}

// Completed returns the number of rollouts that finished cleanly.
func (r *BatchReport) Completed() int {
	n := 0
	for _, res := range r.Results {
		if res.State == StateCompleted {
			n++
		}
	}
	return n
}

// Aborted returns the number of rollouts that aborted.
func (r *BatchReport) Aborted() int { return len(r.Results) - r.Completed() }

func (r *BatchReport) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "batch %s: %d completed, %d aborted\n", r.BatchID, r.Completed(), r.Aborted())
	for _, res := range r.Results {
		if res.State == StateCompleted {
			fmt.Fprintf(&sb, "  %-24s %s  %s\n", res.RolloutID, res.State, res.LogPath)
		} else {
			fmt.Fprintf(&sb, "  %-24s %s  %s\n", res.RolloutID, res.State, res.Reason)
		}
	}
	return sb.String()
}

// RolloutOrchestrator owns the endpoint pools and the global admission
// arithmetic: it never runs more simultaneous rollouts than the minimum
// total capacity across all required service endpoints, so no single
// service can be overwhelmed by a faster one. It is an explicit object with
// no process-wide state: construct one per batch run, let it go at the end.
type RolloutOrchestrator struct {
	pools map[string]*ReplicaPool
}

// NewRolloutOrchestrator builds an orchestrator over one pool per service
// endpoint.
func NewRolloutOrchestrator(pools map[string]*ReplicaPool) (*RolloutOrchestrator, error) {
	if len(pools) == 0 {
		return nil, &ConfigError{Field: "pools", Reason: "at least one service endpoint required"}
	}
	return &RolloutOrchestrator{pools: pools}, nil
}

// MaxParallelRollouts returns the binding backpressure bound: the minimum
// pool capacity across the given services (all pools when services is nil).
func (o *RolloutOrchestrator) MaxParallelRollouts(services []string) int64 {
	if services == nil {
		for name := range o.pools {
			services = append(services, name)
		}
	}
	min := int64(0)
	for _, name := range services {
		p, ok := o.pools[name]
		if !ok {
			continue
		}
		if c := p.Capacity(); min == 0 || c < min {
			min = c
		}
	}
	if min == 0 {
		min = 1
	}
	return min
}

// callers returns the Caller view of the pools for one rollout.
func (o *RolloutOrchestrator) callers() map[string]Caller {
	m := make(map[string]Caller, len(o.pools))
	for name, p := range o.pools {
		m[name] = p
	}
	return m
}

// requiredServices returns the union of active services across the batch.
func requiredServices(configs []*ScenarioConfig) []string {
	seen := map[string]bool{}
	var out []string
	for _, cfg := range configs {
		for _, s := range cfg.Services {
			if !seen[s] {
				seen[s] = true
				out = append(out, s)
			}
		}
	}
	return out
}

// RunBatch executes the configured rollouts, each as an independent task,
// admitting at most MaxParallelRollouts of them at a time. A rollout
// aborting is recorded and the rest of the queue proceeds. The report lists
// results in the order the configs were given.
func (o *RolloutOrchestrator) RunBatch(ctx context.Context, configs []*ScenarioConfig) *BatchReport {
	report := &BatchReport{
		BatchID: uuid.NewString(),
		Results: make([]RolloutResult, len(configs)),
	}
	bound := o.MaxParallelRollouts(requiredServices(configs))
	logrus.Infof("batch %s: %d rollouts, at most %d in parallel", report.BatchID, len(configs), bound)

	admit := semaphore.NewWeighted(bound)
	var wg sync.WaitGroup
	for i, cfg := range configs {
		result := RolloutResult{RolloutID: cfg.RolloutID, SceneID: cfg.SceneID, LogPath: LogPath(cfg)}
		if err := admit.Acquire(ctx, 1); err != nil {
			// Batch cancelled while queued: everything not yet launched
			// aborts without side effects.
			result.State = StateAborted
			result.Reason = fmt.Sprintf("batch cancelled before launch: %v", err)
			report.Results[i] = result
			continue
		}
		wg.Add(1)
		go func(i int, cfg *ScenarioConfig, result RolloutResult) {
			defer wg.Done()
			defer admit.Release(1)
			machine := NewRolloutStateMachine(cfg, o.callers(), nil)
			if err := machine.Run(ctx); err != nil {
				result.State = StateAborted
				result.Reason = err.Error()
			} else {
				result.State = StateCompleted
			}
			report.Results[i] = result
		}(i, cfg, result)
	}
	wg.Wait()
	logrus.Infof("batch %s: done (%d completed, %d aborted)", report.BatchID, report.Completed(), report.Aborted())
	return report
}
