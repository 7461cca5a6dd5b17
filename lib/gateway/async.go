package gateway

import (
	"sync"
	"time"

	"metastate/lib/cluster"
)

// asyncCloseTimeout bounds how long Close waits for the in-flight write
// before proceeding anyway.
const asyncCloseTimeout = 10 * time.Second

// AsyncPersistedState wraps a persisted state for nodes that accept cluster
// state updates on a latency-sensitive path and must not block it on disk
// commits. In-memory term and state are updated synchronously so readers
// never see stale values; the durable write is handed to a single background
// worker. Bursts of updates coalesce: only the latest term/state pair is
// ever written, intermediate values are dropped without I/O.
//
// Because the durable copy is written after application rather than before
// acceptance, it is potentially stale. Both voting configurations are
// therefore overwritten with the stale-sentinel configuration before
// delegation, so a node restarted as voting-eligible before its write landed
// cannot win an election on stale data. The in-memory state returned to
// callers keeps the real configurations.
type AsyncPersistedState struct {
	delegate IPersistedState

	mu                sync.Mutex
	currentTerm       uint64
	lastAcceptedState cluster.ClusterState
	newTermQueued     bool
	newStateQueued    bool
	writing           bool

	// signal is the single-slot mailbox feeding the worker; a second
	// submission while one is pending is absorbed, not queued.
	signal   chan struct{}
	shutdown chan struct{}
	done     chan struct{}
	closing  sync.Once
}

// NewAsyncPersistedState wraps the given delegate and starts the background
// update worker.
func NewAsyncPersistedState(delegate IPersistedState) *AsyncPersistedState {
	s := &AsyncPersistedState{
		delegate:          delegate,
		currentTerm:       delegate.GetCurrentTerm(),
		lastAcceptedState: delegate.GetLastAcceptedState(),
		signal:            make(chan struct{}, 1),
		shutdown:          make(chan struct{}),
		done:              make(chan struct{}),
	}
	go s.updateLoop()
	return s
}

func (s *AsyncPersistedState) GetCurrentTerm() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentTerm
}

func (s *AsyncPersistedState) GetLastAcceptedState() cluster.ClusterState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastAcceptedState
}

func (s *AsyncPersistedState) SetCurrentTerm(term uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.currentTerm = term
	if s.newTermQueued {
		log.Debugf("term update already queued (setting term to %d)", term)
		return nil
	}
	log.Debugf("queuing term update (setting term to %d)", term)
	s.newTermQueued = true
	if !s.newStateQueued {
		s.scheduleUpdate()
	}
	return nil
}

func (s *AsyncPersistedState) SetLastAcceptedState(state cluster.ClusterState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastAcceptedState = state
	if s.newStateQueued {
		log.Debugf("cluster state update already queued (setting cluster state to %d)", state.Version)
		return nil
	}
	log.Debugf("queuing cluster state update (setting cluster state to %d)", state.Version)
	s.newStateQueued = true
	if !s.newTermQueued {
		s.scheduleUpdate()
	}
	return nil
}

func (s *AsyncPersistedState) MarkLastAcceptedStateAsCommitted() error {
	state, changed, _ := committedState(s.GetLastAcceptedState())
	if changed {
		return s.SetLastAcceptedState(state)
	}
	return nil
}

// ForceWriteNextStateFully forwards to the delegate.
func (s *AsyncPersistedState) ForceWriteNextStateFully() {
	if forcer, ok := s.delegate.(IFullRewriteForcer); ok {
		forcer.ForceWriteNextStateFully()
	}
}

func (s *AsyncPersistedState) GetLastAcceptedManifest() (cluster.Manifest, bool) {
	return s.delegate.GetLastAcceptedManifest()
}

func (s *AsyncPersistedState) SetLastAcceptedManifest(manifest cluster.Manifest) {
	s.delegate.SetLastAcceptedManifest(manifest)
}

func (s *AsyncPersistedState) GetStats() cluster.PersistedStateStats {
	return s.delegate.GetStats()
}

// AllPendingAsyncStatesWritten returns true iff nothing is queued and the
// worker is idle. Used by tests and shutdown to await quiescence.
func (s *AsyncPersistedState) AllPendingAsyncStatesWritten() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.newTermQueued && !s.newStateQueued && !s.writing
}

// Close drains the worker for at most asyncCloseTimeout, then closes the
// delegate regardless.
func (s *AsyncPersistedState) Close() error {
	s.closing.Do(func() { close(s.shutdown) })
	select {
	case <-s.done:
	case <-time.After(asyncCloseTimeout):
		log.Warningf("timed out waiting for pending state writes, closing anyway")
	}
	return s.delegate.Close()
}

// scheduleUpdate signals the worker. Callers hold the mutex; the send never
// blocks because the mailbox has one slot and a pending signal covers any
// number of queued updates.
func (s *AsyncPersistedState) scheduleUpdate() {
	select {
	case s.signal <- struct{}{}:
	default:
	}
}

func (s *AsyncPersistedState) updateLoop() {
	for {
		select {
		case <-s.signal:
			s.writePending()
		case <-s.shutdown:
			// Best effort: flush whatever is still queued before exiting.
			s.writePending()
			close(s.done)
			return
		}
	}
}

// writePending atomically snapshots and clears both queued flags, then
// writes term before state — never the reverse, so the durable term is never
// below the term in the durable state.
func (s *AsyncPersistedState) writePending() {
	s.mu.Lock()
	var (
		term       uint64
		writeTerm  bool
		state      cluster.ClusterState
		writeState bool
	)
	if s.newTermQueued {
		term, writeTerm = s.currentTerm, true
		s.newTermQueued = false
	}
	if s.newStateQueued {
		state, writeState = s.lastAcceptedState, true
		s.newStateQueued = false
	}
	if writeTerm || writeState {
		s.writing = true
	}
	s.mu.Unlock()

	if writeTerm {
		if err := s.delegate.SetCurrentTerm(term); err != nil {
			log.Errorf("exception occurred when storing new meta data: %v", err)
		}
	}
	if writeState {
		if err := s.delegate.SetLastAcceptedState(resetVotingConfiguration(state)); err != nil {
			log.Errorf("exception occurred when storing new meta data: %v", err)
		}
	}

	if writeTerm || writeState {
		s.mu.Lock()
		s.writing = false
		s.mu.Unlock()
	}
}

// resetVotingConfiguration replaces both voting configurations with the
// stale-sentinel configuration on the copy that goes to durable storage.
func resetVotingConfiguration(state cluster.ClusterState) cluster.ClusterState {
	coordination := state.Metadata.Coordination
	coordination.LastAcceptedConfiguration = cluster.StaleStateConfiguration()
	coordination.LastCommittedConfiguration = cluster.StaleStateConfiguration()
	return state.WithMetadata(state.Metadata.WithCoordination(coordination))
}
