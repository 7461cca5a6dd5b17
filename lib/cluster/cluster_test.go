package cluster

import (
	"testing"
)

// --------------------------------------------------------------------------
// Voting configurations
// --------------------------------------------------------------------------

func TestVotingConfigurationSortsAndDeduplicates(t *testing.T) {
	v := NewVotingConfiguration("node-2", "node-1", "node-2")
	if len(v.NodeIDs) != 2 {
		t.Fatalf("expected duplicates to be removed, got %v", v.NodeIDs)
	}
	if v.NodeIDs[0] != "node-1" || v.NodeIDs[1] != "node-2" {
		t.Errorf("expected sorted node IDs, got %v", v.NodeIDs)
	}
}

func TestVotingConfigurationEquals(t *testing.T) {
	a := NewVotingConfiguration("node-1", "node-2")
	b := NewVotingConfiguration("node-2", "node-1")
	c := NewVotingConfiguration("node-1")

	if !a.Equals(b) {
		t.Error("expected order-independent equality")
	}
	if a.Equals(c) {
		t.Error("expected different memberships to differ")
	}
}

func TestVotingConfigurationContains(t *testing.T) {
	v := NewVotingConfiguration("node-1", "node-2")
	if !v.Contains("node-1") || v.Contains("node-3") {
		t.Errorf("unexpected membership results for %v", v.NodeIDs)
	}
}

func TestStaleStateConfiguration(t *testing.T) {
	v := StaleStateConfiguration()
	if !v.IsStaleSentinel() {
		t.Error("expected the sentinel configuration to report itself")
	}
	if NewVotingConfiguration("node-1").IsStaleSentinel() {
		t.Error("expected a real configuration not to be the sentinel")
	}
	if NewVotingConfiguration(StaleStateConfigNodeID, "node-1").IsStaleSentinel() {
		t.Error("expected a mixed configuration not to be the sentinel")
	}
}

// --------------------------------------------------------------------------
// Metadata
// --------------------------------------------------------------------------

func TestGenerateClusterUUIDIfNeeded(t *testing.T) {
	m := EmptyMetadata()
	generated := m.GenerateClusterUUIDIfNeeded()
	if generated.ClusterUUID == "" || generated.ClusterUUID == UnknownClusterUUID {
		t.Fatalf("expected a fresh UUID, got %q", generated.ClusterUUID)
	}
	if generated.ClusterUUIDCommitted {
		t.Error("expected a fresh UUID to be uncommitted")
	}

	again := generated.GenerateClusterUUIDIfNeeded()
	if again.ClusterUUID != generated.ClusterUUID {
		t.Error("expected an established UUID to be kept")
	}
}

func TestMetadataIsEmpty(t *testing.T) {
	if !EmptyMetadata().IsEmpty() {
		t.Error("expected empty metadata to report empty")
	}
	withUUID := EmptyMetadata().GenerateClusterUUIDIfNeeded()
	if withUUID.IsEmpty() {
		t.Error("expected metadata with a UUID to be non-empty")
	}
	withTerm := EmptyMetadata()
	withTerm.Coordination.Term = 1
	if withTerm.IsEmpty() {
		t.Error("expected metadata with a term to be non-empty")
	}
}

func TestSansIndicesDoesNotMutate(t *testing.T) {
	m := EmptyMetadata().WithIndices(map[string]IndexMetadata{
		"idx": {Name: "idx", UUID: "uuid-1"},
	})
	global := m.SansIndices()
	if global.Indices != nil {
		t.Error("expected the global document to carry no indices")
	}
	if len(m.Indices) != 1 {
		t.Error("expected the original metadata to keep its indices")
	}
}

// --------------------------------------------------------------------------
// Cluster state
// --------------------------------------------------------------------------

func TestIsLocalNodeElectedCoordinator(t *testing.T) {
	cases := []struct {
		local, coordinator string
		want               bool
	}{
		{"node-1", "node-1", true},
		{"node-1", "node-2", false},
		{"node-1", "", false},
		{"", "", false},
	}
	for _, c := range cases {
		nodes := DiscoveryNodes{LocalNodeID: c.local, CoordinatorNodeID: c.coordinator}
		if got := nodes.IsLocalNodeElectedCoordinator(); got != c.want {
			t.Errorf("local=%q coordinator=%q: expected %t, got %t", c.local, c.coordinator, c.want, got)
		}
	}
}

func TestClusterStateTerm(t *testing.T) {
	metadata := EmptyMetadata()
	metadata.Coordination.Term = 11
	state := NewClusterState("test-cluster", 1, metadata)
	if state.Term() != 11 {
		t.Errorf("expected term 11, got %d", state.Term())
	}
}

// --------------------------------------------------------------------------
// Versions
// --------------------------------------------------------------------------

func TestMajorOf(t *testing.T) {
	cases := []struct {
		version string
		want    int
	}{
		{"1.2.0", 1},
		{"10.0.1", 10},
		{"2", 2},
		{"not-a-version", 0},
		{"", 0},
	}
	for _, c := range cases {
		if got := MajorOf(c.version); got != c.want {
			t.Errorf("MajorOf(%q): expected %d, got %d", c.version, c.want, got)
		}
	}
}
