// Package sim provides the runtime orchestration engine for distributed
// driving-simulation rollouts.
//
// # Reading Guide
//
// Start with these three files to understand the engine:
//   - clock.go: logical clocks (camera, pose, control) over exact-integer microseconds
//   - rollout.go: the per-rollout state machine and its causal per-step call order
//   - orchestrator.go: batch execution under global admission control
//
// # Architecture
//
// The sim package defines the engine and its interfaces; implementations of
// side concerns live in sub-packages:
//   - sim/trace/: append-only rollout log codec (length-delimited records)
//   - sim/rpc/: HTTP client for live service endpoints
//
// # Key Interfaces
//
// The extension points are small interfaces:
//   - ServiceClient: issue one request to one replica (live HTTP, test fakes)
//   - Caller: route one logical call (ReplicaPool live, replay stub during verification)
//   - ReplicaSelector: pick a replica given current in-flight counts
//   - EntrySink: receive emitted log records (trace.Writer live, trace.NopWriter in replay)
package sim
