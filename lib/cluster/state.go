package cluster

// DiscoveryNodes is the minimal node membership view the persistence layer
// needs: the local node and the currently elected coordinator, if any.
type DiscoveryNodes struct {
	LocalNodeID       string `json:"local_node_id"`
	CoordinatorNodeID string `json:"coordinator_node_id,omitempty"`
}

// IsLocalNodeElectedCoordinator returns whether the local node currently
// holds the elected coordinator role. Only the coordinator publishes state
// to the remote store.
func (n DiscoveryNodes) IsLocalNodeElectedCoordinator() bool {
	return n.LocalNodeID != "" && n.LocalNodeID == n.CoordinatorNodeID
}

// Blocks are the cluster-level blocks relevant to persistence.
type Blocks struct {
	// StateNotRecovered is set between boot and the first successful state
	// recovery; it is added during initial state preparation.
	StateNotRecovered bool `json:"state_not_recovered,omitempty"`
	// DisableStatePersistence suppresses persistence of applied states (used
	// during certain maintenance blocks). While set, the applier skips writes
	// and arms a full rewrite for the next persisted state.
	DisableStatePersistence bool `json:"disable_state_persistence,omitempty"`
}

// ClusterState is the authoritative description of the cluster at one
// version: metadata plus the version counter assigned by the coordination
// layer. Owned exclusively by whichever persisted-state instance currently
// holds it and replaced wholesale on each accepted update.
type ClusterState struct {
	Name     string         `json:"name"`
	Version  uint64         `json:"version"`
	Metadata Metadata       `json:"metadata"`
	Nodes    DiscoveryNodes `json:"nodes"`
	Blocks   Blocks         `json:"blocks"`
}

// NewClusterState creates a state carrying the given metadata at the given
// version.
func NewClusterState(name string, version uint64, metadata Metadata) ClusterState {
	return ClusterState{Name: name, Version: version, Metadata: metadata}
}

// Term returns the consensus term under which this state was accepted.
func (s ClusterState) Term() uint64 {
	return s.Metadata.Coordination.Term
}

// LastAcceptedConfiguration returns the last accepted voting configuration.
func (s ClusterState) LastAcceptedConfiguration() VotingConfiguration {
	return s.Metadata.Coordination.LastAcceptedConfiguration
}

// LastCommittedConfiguration returns the last committed voting configuration.
func (s ClusterState) LastCommittedConfiguration() VotingConfiguration {
	return s.Metadata.Coordination.LastCommittedConfiguration
}

// WithMetadata returns a copy carrying the given metadata.
func (s ClusterState) WithMetadata(metadata Metadata) ClusterState {
	s.Metadata = metadata
	return s
}

// WithVersion returns a copy at the given version.
func (s ClusterState) WithVersion(version uint64) ClusterState {
	s.Version = version
	return s
}

// WithNodes returns a copy with the given node view.
func (s ClusterState) WithNodes(nodes DiscoveryNodes) ClusterState {
	s.Nodes = nodes
	return s
}

// WithBlocks returns a copy with the given blocks.
func (s ClusterState) WithBlocks(blocks Blocks) ClusterState {
	s.Blocks = blocks
	return s
}
