package gateway

import (
	"sync"

	"metastate/lib/cluster"
)

// InMemoryPersistedState keeps term and state in memory only. It backs
// coordinating-only nodes, which carry no durable cluster state, and serves
// as the synchronously updated half of the async decorator.
type InMemoryPersistedState struct {
	mu                sync.Mutex
	currentTerm       uint64
	lastAcceptedState cluster.ClusterState
	manifest          cluster.Manifest
	hasManifest       bool
}

// NewInMemoryPersistedState creates an in-memory persisted state seeded with
// the given term and state.
func NewInMemoryPersistedState(term uint64, state cluster.ClusterState) *InMemoryPersistedState {
	return &InMemoryPersistedState{currentTerm: term, lastAcceptedState: state}
}

func (s *InMemoryPersistedState) GetCurrentTerm() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentTerm
}

func (s *InMemoryPersistedState) GetLastAcceptedState() cluster.ClusterState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastAcceptedState
}

func (s *InMemoryPersistedState) SetCurrentTerm(term uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.currentTerm = term
	return nil
}

func (s *InMemoryPersistedState) SetLastAcceptedState(state cluster.ClusterState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastAcceptedState = state
	return nil
}

func (s *InMemoryPersistedState) MarkLastAcceptedStateAsCommitted() error {
	state, changed, _ := committedState(s.GetLastAcceptedState())
	if changed {
		return s.SetLastAcceptedState(state)
	}
	return nil
}

func (s *InMemoryPersistedState) GetLastAcceptedManifest() (cluster.Manifest, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.manifest, s.hasManifest
}

func (s *InMemoryPersistedState) SetLastAcceptedManifest(manifest cluster.Manifest) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.manifest = manifest
	s.hasManifest = true
}

func (s *InMemoryPersistedState) GetStats() cluster.PersistedStateStats {
	return cluster.PersistedStateStats{}
}

func (s *InMemoryPersistedState) Close() error {
	return nil
}
