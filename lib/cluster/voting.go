package cluster

import "sort"

// StaleStateConfigNodeID is the synthetic node ID of the voting configuration
// written by a node whose on-disk state is potentially stale (it is written
// asynchronously after application, rather than before acceptance). If such a
// node is restarted as a voting-eligible node it cannot win an election until
// it has received a fresh cluster state.
const StaleStateConfigNodeID = "STALE_STATE_CONFIG"

// VotingConfiguration is the set of nodes whose votes count toward consensus
// decisions. Node IDs are kept sorted and deduplicated.
type VotingConfiguration struct {
	NodeIDs []string `json:"node_ids"`
}

// NewVotingConfiguration creates a configuration from the given node IDs.
func NewVotingConfiguration(nodeIDs ...string) VotingConfiguration {
	seen := make(map[string]struct{}, len(nodeIDs))
	ids := make([]string, 0, len(nodeIDs))
	for _, id := range nodeIDs {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return VotingConfiguration{NodeIDs: ids}
}

// StaleStateConfiguration returns the stale-sentinel voting configuration.
func StaleStateConfiguration() VotingConfiguration {
	return NewVotingConfiguration(StaleStateConfigNodeID)
}

// IsEmpty returns whether the configuration contains no nodes.
func (v VotingConfiguration) IsEmpty() bool {
	return len(v.NodeIDs) == 0
}

// Contains returns whether the given node ID is part of the configuration.
func (v VotingConfiguration) Contains(nodeID string) bool {
	for _, id := range v.NodeIDs {
		if id == nodeID {
			return true
		}
	}
	return false
}

// Equals compares two configurations by membership.
func (v VotingConfiguration) Equals(other VotingConfiguration) bool {
	if len(v.NodeIDs) != len(other.NodeIDs) {
		return false
	}
	for i, id := range v.NodeIDs {
		if other.NodeIDs[i] != id {
			return false
		}
	}
	return true
}

// IsStaleSentinel returns whether this is the stale-sentinel configuration.
func (v VotingConfiguration) IsStaleSentinel() bool {
	return len(v.NodeIDs) == 1 && v.NodeIDs[0] == StaleStateConfigNodeID
}
