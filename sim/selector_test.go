package sim

import "testing"

func newHandles(n int) []*ReplicaHandle {
	out := make([]*ReplicaHandle, n)
	for i := range out {
		out[i] = &ReplicaHandle{ID: string(rune('a' + i))}
	}
	return out
}

func TestLeastInFlightSelector_PicksLeastLoaded(t *testing.T) {
	// GIVEN replicas with in-flight counts [2, 0, 1]
	replicas := newHandles(3)
	replicas[0].inFlight.Store(2)
	replicas[2].inFlight.Store(1)

	// WHEN a replica is picked
	got := (&LeastInFlightSelector{}).Pick(replicas)

	// THEN the idle replica wins
	if got != 1 {
		t.Errorf("Pick: got index %d, want 1", got)
	}
}

func TestLeastInFlightSelector_TieBreaksByLowestIndex(t *testing.T) {
	replicas := newHandles(3)
	got := (&LeastInFlightSelector{}).Pick(replicas)
	if got != 0 {
		t.Errorf("Pick on all-idle replicas: got index %d, want 0", got)
	}
}

func TestRoundRobinSelector_Cycles(t *testing.T) {
	replicas := newHandles(3)
	s := &RoundRobinSelector{}
	want := []int{0, 1, 2, 0, 1, 2, 0}
	for i, w := range want {
		if got := s.Pick(replicas); got != w {
			t.Errorf("Pick #%d: got %d, want %d", i, got, w)
		}
	}
}

func TestNewReplicaSelector_DefaultsToLeastInFlight(t *testing.T) {
	if _, ok := NewReplicaSelector("").(*LeastInFlightSelector); !ok {
		t.Error("empty selector type should default to least-inflight")
	}
	if _, ok := NewReplicaSelector("round-robin").(*RoundRobinSelector); !ok {
		t.Error("round-robin selector not constructed")
	}
}

func TestGetAvailableSelectors(t *testing.T) {
	got := GetAvailableSelectors()
	if len(got) != 2 {
		t.Fatalf("expected 2 selector types, got %v", got)
	}
}
