package gateway

import (
	"fmt"

	"github.com/puzpuzpuz/xsync/v3"
)

// PersistedStateType identifies a persisted-state slot in the registry.
type PersistedStateType string

const (
	// PersistedStateTypeLocal is the node-local durable (or in-memory) state.
	PersistedStateTypeLocal PersistedStateType = "LOCAL"
	// PersistedStateTypeRemote is the remote-store-backed state.
	PersistedStateTypeRemote PersistedStateType = "REMOTE"
)

// PersistedStateRegistry holds the persisted-state instances of a node, keyed
// by type. Each slot is set exactly once during startup; lookups may come
// from any goroutine afterwards.
type PersistedStateRegistry struct {
	states *xsync.MapOf[PersistedStateType, IPersistedState]
}

// NewPersistedStateRegistry creates an empty registry.
func NewPersistedStateRegistry() *PersistedStateRegistry {
	return &PersistedStateRegistry{
		states: xsync.NewMapOf[PersistedStateType, IPersistedState](),
	}
}

// Add registers a persisted state under the given type. Registering the same
// type twice is a programming error.
func (r *PersistedStateRegistry) Add(t PersistedStateType, state IPersistedState) error {
	if _, loaded := r.states.LoadOrStore(t, state); loaded {
		return fmt.Errorf("persisted state %s already registered", t)
	}
	return nil
}

// Get returns the persisted state registered under the given type, if any.
func (r *PersistedStateRegistry) Get(t PersistedStateType) (IPersistedState, bool) {
	return r.states.Load(t)
}

// Close closes every registered state, keeping the first error.
func (r *PersistedStateRegistry) Close() error {
	var firstErr error
	r.states.Range(func(t PersistedStateType, state IPersistedState) bool {
		if err := state.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("closing persisted state %s: %w", t, err)
		}
		return true
	})
	return firstErr
}
