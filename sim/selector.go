package sim

import "github.com/sirupsen/logrus"

// ReplicaSelector picks which replica should handle the next call.
// Selection only balances load; admission control (capacity) is enforced by
// the pool regardless of the selector in use. Selectors must not impose
// strict FIFO across replicas: replicas have independent capacity.
type ReplicaSelector interface {
	// Pick selects a replica index given the current replica states.
	Pick(replicas []*ReplicaHandle) int
}

// NewReplicaSelector creates a selector of the specified type.
func NewReplicaSelector(selectorType string) ReplicaSelector {
	switch selectorType {
	case "", "least-inflight":
		return &LeastInFlightSelector{}
	case "round-robin":
		return &RoundRobinSelector{}
	default:
		logrus.Panicf("unknown replica selector type: %s", selectorType)
		return nil
	}
}

// GetAvailableSelectors returns the list of supported selector types.
func GetAvailableSelectors() []string {
	return []string{"least-inflight", "round-robin"}
}

// LeastInFlightSelector routes each call to the replica with the fewest
// in-flight requests, breaking ties by lowest index for determinism.
type LeastInFlightSelector struct{}

func (s *LeastInFlightSelector) Pick(replicas []*ReplicaHandle) int {
	best := 0
	bestLoad := replicas[0].InFlight()
	for i := 1; i < len(replicas); i++ {
		if load := replicas[i].InFlight(); load < bestLoad {
			best, bestLoad = i, load
		}
	}
	return best
}

// RoundRobinSelector cycles through replicas in index order. The cursor is
// advanced under the pool's selection lock, so concurrent callers see
// distinct picks.
type RoundRobinSelector struct {
	next int
}

func (s *RoundRobinSelector) Pick(replicas []*ReplicaHandle) int {
	i := s.next % len(replicas)
	s.next++
	return i
}
