package sim

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"
)

// ReplicaHandle identifies one network-addressable instance of a service.
// Handles live for the orchestrator's process lifetime; the in-flight
// counter is the only mutable field and is updated atomically.
type ReplicaHandle struct {
	ID       string
	Addr     string
	inFlight atomic.Int64
}

// InFlight returns the number of requests currently outstanding on this
// replica.
func (r *ReplicaHandle) InFlight() int64 { return r.inFlight.Load() }

// ReplicaPoolConfig describes one endpoint's replica set, as handed to the
// engine by configuration resolution.
type ReplicaPoolConfig struct {
	Service    string   `yaml:"service"`
	Replicas   []string `yaml:"replicas"` // one address per replica
	PerReplica int64    `yaml:"per_replica_concurrency"`
	Selector   string   `yaml:"selector"`
	// MaxQueueWait bounds how long a caller may sit in the admission queue.
	// Zero means wait as long as the caller's context allows.
	MaxQueueWait time.Duration `yaml:"max_queue_wait"`
}

// ReplicaPool owns the replicas of one service endpoint. It enforces
// admission control: at most replicas x perReplica calls are in flight at
// once, and a caller beyond that capacity suspends on the semaphore until a
// slot frees or its context is cancelled. Acquire/release is the single
// mutation point for capacity, so slots can never be over- or under-counted
// under concurrent rollouts.
type ReplicaPool struct {
	service    string
	replicas   []*ReplicaHandle
	perReplica int64
	maxWait    time.Duration
	slots      *semaphore.Weighted
	client     ServiceClient

	mu       sync.Mutex // guards selector state
	selector ReplicaSelector
}

// NewReplicaPool builds a pool from its config.
func NewReplicaPool(cfg ReplicaPoolConfig, client ServiceClient) (*ReplicaPool, error) {
	if cfg.Service == "" {
		return nil, &ConfigError{Field: "service", Reason: "must not be empty"}
	}
	if len(cfg.Replicas) == 0 {
		return nil, &ConfigError{Field: cfg.Service, Reason: "at least one replica required"}
	}
	if cfg.PerReplica < 1 {
		return nil, &ConfigError{Field: cfg.Service, Reason: fmt.Sprintf("per_replica_concurrency must be at least 1, got %d", cfg.PerReplica)}
	}
	replicas := make([]*ReplicaHandle, len(cfg.Replicas))
	for i, addr := range cfg.Replicas {
		replicas[i] = &ReplicaHandle{ID: fmt.Sprintf("%s-%d", cfg.Service, i), Addr: addr}
	}
	return &ReplicaPool{
		service:    cfg.Service,
		replicas:   replicas,
		perReplica: cfg.PerReplica,
		maxWait:    cfg.MaxQueueWait,
		slots:      semaphore.NewWeighted(int64(len(cfg.Replicas)) * cfg.PerReplica),
		client:     client,
		selector:   NewReplicaSelector(cfg.Selector),
	}, nil
}

// ServiceName returns the endpoint name this pool serves.
func (p *ReplicaPool) ServiceName() string { return p.service }

// Capacity returns the total concurrent call capacity of the pool.
func (p *ReplicaPool) Capacity() int64 { return int64(len(p.replicas)) * p.perReplica }

// pick chooses a replica under the selection lock. If the selector's pick is
// already at per-replica capacity (possible with round-robin), the least
// loaded replica is used instead; a semaphore slot is held at this point, so
// some replica is guaranteed below its limit.
func (p *ReplicaPool) pick() *ReplicaHandle {
	p.mu.Lock()
	defer p.mu.Unlock()
	i := p.selector.Pick(p.replicas)
	if p.replicas[i].InFlight() >= p.perReplica {
		i = (&LeastInFlightSelector{}).Pick(p.replicas)
	}
	r := p.replicas[i]
	r.inFlight.Add(1)
	return r
}

// Call routes one logical call to one physical replica. The caller suspends
// while the pool is at capacity; the pool's max queue wait bounds that
// suspension. Any failure is returned as a *CallError so the rollout state
// machine can apply its retry policy.
func (p *ReplicaPool) Call(ctx context.Context, req *ServiceRequest) (*ServiceResponse, error) {
	acquireCtx := ctx
	var cancel context.CancelFunc
	if p.maxWait > 0 {
		acquireCtx, cancel = context.WithTimeout(ctx, p.maxWait)
		defer cancel()
	}
	if err := p.slots.Acquire(acquireCtx, 1); err != nil {
		if ctx.Err() == nil && acquireCtx.Err() != nil {
			return nil, &CallError{Service: p.service, Kind: CallErrCapacity,
				Cause: fmt.Errorf("no capacity slot freed within %s", p.maxWait)}
		}
		return nil, &CallError{Service: p.service, Kind: CallErrTransport, Cause: err}
	}
	defer p.slots.Release(1)

	replica := p.pick()
	defer replica.inFlight.Add(-1)

	logrus.Debugf("-> %s/%s rollout=%s t=%s replica=%s", req.Service, req.Method, req.RolloutID, req.Instant, replica.ID)

	resp, err := p.client.Call(ctx, replica, req)
	if err != nil {
		kind := CallErrTransport
		if ctx.Err() == context.DeadlineExceeded {
			kind = CallErrTimeout
		}
		return nil, &CallError{Service: p.service, Replica: replica.ID, Kind: kind, Cause: err}
	}
	if resp.Error != "" {
		return nil, &CallError{Service: p.service, Replica: replica.ID, Kind: CallErrRemote, Cause: fmt.Errorf("%s", resp.Error)}
	}
	if err := validateEcho(req, resp); err != nil {
		return nil, &CallError{Service: p.service, Replica: replica.ID, Kind: CallErrMalformed, Cause: err}
	}
	return resp, nil
}
