package testing

import (
	"testing"

	"metastate/lib/cluster"
	"metastate/lib/gateway"
)

// StateFactory is a function that creates a fresh IPersistedState seeded with
// the given term and state.
type StateFactory func(term uint64, state cluster.ClusterState) gateway.IPersistedState

// RunPersistedStateTests runs the conformance test suite for an
// IPersistedState implementation.
func RunPersistedStateTests(t *testing.T, name string, factory StateFactory) {
	t.Run(name, func(t *testing.T) {
		t.Run("InitialValues", func(t *testing.T) {
			testInitialValues(t, factory)
		})

		t.Run("SetCurrentTerm", func(t *testing.T) {
			testSetCurrentTerm(t, factory)
		})

		t.Run("SetLastAcceptedState", func(t *testing.T) {
			testSetLastAcceptedState(t, factory)
		})

		t.Run("MarkCommittedFoldsVotingConfig", func(t *testing.T) {
			testMarkCommittedFoldsVotingConfig(t, factory)
		})

		t.Run("MarkCommittedFoldsClusterUUID", func(t *testing.T) {
			testMarkCommittedFoldsClusterUUID(t, factory)
		})

		t.Run("MarkCommittedIsIdempotent", func(t *testing.T) {
			testMarkCommittedIsIdempotent(t, factory)
		})
	})
}

// --------------------------------------------------------------------------
// Helper functions
// --------------------------------------------------------------------------

func baseState(term uint64) cluster.ClusterState {
	metadata := cluster.EmptyMetadata()
	metadata.Coordination.Term = term
	return cluster.NewClusterState("test-cluster", 1, metadata)
}

// --------------------------------------------------------------------------
// Test functions
// --------------------------------------------------------------------------

func testInitialValues(t *testing.T, factory StateFactory) {
	state := baseState(3)
	ps := factory(3, state)
	defer ps.Close()

	if got := ps.GetCurrentTerm(); got != 3 {
		t.Errorf("Expected initial term 3, got %d", got)
	}
	if got := ps.GetLastAcceptedState(); got.Version != state.Version {
		t.Errorf("Expected initial state version %d, got %d", state.Version, got.Version)
	}
}

func testSetCurrentTerm(t *testing.T, factory StateFactory) {
	ps := factory(1, baseState(1))
	defer ps.Close()

	if err := ps.SetCurrentTerm(7); err != nil {
		t.Fatalf("SetCurrentTerm failed: %v", err)
	}
	if got := ps.GetCurrentTerm(); got != 7 {
		t.Errorf("Expected term 7, got %d", got)
	}
}

func testSetLastAcceptedState(t *testing.T, factory StateFactory) {
	ps := factory(2, baseState(2))
	defer ps.Close()

	next := baseState(2).WithVersion(42)
	if err := ps.SetLastAcceptedState(next); err != nil {
		t.Fatalf("SetLastAcceptedState failed: %v", err)
	}
	if got := ps.GetLastAcceptedState(); got.Version != 42 {
		t.Errorf("Expected state version 42, got %d", got.Version)
	}
}

func testMarkCommittedFoldsVotingConfig(t *testing.T, factory StateFactory) {
	state := baseState(2)
	coordination := state.Metadata.Coordination
	coordination.LastAcceptedConfiguration = cluster.NewVotingConfiguration("node-1", "node-2")
	coordination.LastCommittedConfiguration = cluster.NewVotingConfiguration("node-1")
	state = state.WithMetadata(state.Metadata.WithCoordination(coordination))

	ps := factory(2, state)
	defer ps.Close()
	if err := ps.SetLastAcceptedState(state); err != nil {
		t.Fatalf("SetLastAcceptedState failed: %v", err)
	}

	if err := ps.MarkLastAcceptedStateAsCommitted(); err != nil {
		t.Fatalf("MarkLastAcceptedStateAsCommitted failed: %v", err)
	}

	got := ps.GetLastAcceptedState()
	if !got.LastCommittedConfiguration().Equals(got.LastAcceptedConfiguration()) {
		t.Errorf("Expected committed configuration %v to equal accepted configuration %v",
			got.LastCommittedConfiguration(), got.LastAcceptedConfiguration())
	}
}

func testMarkCommittedFoldsClusterUUID(t *testing.T, factory StateFactory) {
	state := baseState(2)
	metadata := state.Metadata.GenerateClusterUUIDIfNeeded()
	state = state.WithMetadata(metadata)

	ps := factory(2, state)
	defer ps.Close()
	if err := ps.SetLastAcceptedState(state); err != nil {
		t.Fatalf("SetLastAcceptedState failed: %v", err)
	}

	if err := ps.MarkLastAcceptedStateAsCommitted(); err != nil {
		t.Fatalf("MarkLastAcceptedStateAsCommitted failed: %v", err)
	}

	got := ps.GetLastAcceptedState()
	if !got.Metadata.ClusterUUIDCommitted {
		t.Errorf("Expected cluster UUID to be committed")
	}
	if got.Metadata.ClusterUUID != metadata.ClusterUUID {
		t.Errorf("Expected cluster UUID %s to survive the commit, got %s",
			metadata.ClusterUUID, got.Metadata.ClusterUUID)
	}
}

func testMarkCommittedIsIdempotent(t *testing.T, factory StateFactory) {
	state := baseState(2)
	state = state.WithMetadata(state.Metadata.GenerateClusterUUIDIfNeeded())

	ps := factory(2, state)
	defer ps.Close()
	if err := ps.SetLastAcceptedState(state); err != nil {
		t.Fatalf("SetLastAcceptedState failed: %v", err)
	}

	if err := ps.MarkLastAcceptedStateAsCommitted(); err != nil {
		t.Fatalf("first MarkLastAcceptedStateAsCommitted failed: %v", err)
	}
	first := ps.GetLastAcceptedState()

	if err := ps.MarkLastAcceptedStateAsCommitted(); err != nil {
		t.Fatalf("second MarkLastAcceptedStateAsCommitted failed: %v", err)
	}
	second := ps.GetLastAcceptedState()

	if first.Metadata.ClusterUUIDCommitted != second.Metadata.ClusterUUIDCommitted ||
		!first.LastCommittedConfiguration().Equals(second.LastCommittedConfiguration()) {
		t.Errorf("Expected repeated commit to leave the state unchanged")
	}
}
