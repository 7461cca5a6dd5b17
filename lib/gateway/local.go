package gateway

import (
	"fmt"
	"sync/atomic"

	"github.com/lni/dragonboat/v4/logger"

	"metastate/lib/cluster"
)

var log = logger.GetLogger("gateway")

// LocalPersistedState encapsulates the incremental writing of metadata to
// the on-disk document store. It runs synchronously on the consensus-apply
// thread and is not itself thread-safe, with one exception: Close may race
// with the setters, which is why the write session lives behind an atomic
// pointer (close vs. reopen is the only contention, so a single
// compare-and-swap replaces a lock).
type LocalPersistedState struct {
	store             IStateStore
	currentTerm       uint64
	lastAcceptedState cluster.ClusterState

	writer              atomic.Pointer[writerSlot]
	writeNextStateFully bool
}

// writerSlot wraps the session so the atomic pointer always compares by
// slot identity.
type writerSlot struct {
	w IStateWriter
}

// NewLocalPersistedState opens a write session and immediately writes the
// whole state out, so the store is fresh and in the latest format. Called
// during initialisation; a failure here is enough to halt the node, which is
// intentional: the component must never start on partially-written storage.
func NewLocalPersistedState(store IStateStore, term uint64, state cluster.ClusterState) (*LocalPersistedState, error) {
	writer, err := store.CreateWriter()
	if err != nil {
		return nil, err
	}
	if err := writer.WriteFullStateAndCommit(term, state); err != nil {
		_ = writer.Close()
		return nil, fmt.Errorf("initial full state write failed: %w", err)
	}
	s := &LocalPersistedState{
		store:             store,
		currentTerm:       term,
		lastAcceptedState: state,
	}
	s.writer.Store(&writerSlot{w: writer})
	return s, nil
}

func (s *LocalPersistedState) GetCurrentTerm() uint64 {
	return s.currentTerm
}

func (s *LocalPersistedState) GetLastAcceptedState() cluster.ClusterState {
	return s.lastAcceptedState
}

func (s *LocalPersistedState) SetCurrentTerm(term uint64) error {
	if s.writeNextStateFully {
		writer, err := s.getWriterSafe()
		if err != nil {
			return s.failWrite(err)
		}
		if err := writer.WriteFullStateAndCommit(term, s.lastAcceptedState); err != nil {
			return s.failWrite(err)
		}
		s.writeNextStateFully = false
	} else {
		writer, err := s.getWriterSafe()
		if err != nil {
			return s.failWrite(err)
		}
		if err := writer.WriteIncrementalTermUpdateAndCommit(term, s.lastAcceptedState.Version); err != nil {
			return s.failWrite(err)
		}
	}
	s.currentTerm = term
	return nil
}

func (s *LocalPersistedState) SetLastAcceptedState(state cluster.ClusterState) error {
	writer, err := s.getWriterSafe()
	if err != nil {
		return s.failWrite(err)
	}
	if s.writeNextStateFully {
		if err := writer.WriteFullStateAndCommit(s.currentTerm, state); err != nil {
			return s.failWrite(err)
		}
		s.writeNextStateFully = false
	} else if state.Term() != s.lastAcceptedState.Term() {
		// In a new term we cannot compare the persisted metadata's version
		// numbers to those in the new state, so write everything again.
		if err := writer.WriteFullStateAndCommit(s.currentTerm, state); err != nil {
			return s.failWrite(err)
		}
	} else {
		// Within the same term the version numbers let us skip unnecessary
		// writing.
		if err := writer.WriteIncrementalStateAndCommit(s.currentTerm, s.lastAcceptedState, state); err != nil {
			return s.failWrite(err)
		}
	}
	s.lastAcceptedState = state
	return nil
}

func (s *LocalPersistedState) MarkLastAcceptedStateAsCommitted() error {
	state, changed, _ := committedState(s.lastAcceptedState)
	if changed {
		return s.SetLastAcceptedState(state)
	}
	return nil
}

// ForceWriteNextStateFully arms a full rewrite for the next write of either
// kind.
func (s *LocalPersistedState) ForceWriteNextStateFully() {
	s.writeNextStateFully = true
}

func (s *LocalPersistedState) GetLastAcceptedManifest() (cluster.Manifest, bool) {
	return cluster.Manifest{}, false
}

func (s *LocalPersistedState) SetLastAcceptedManifest(cluster.Manifest) {}

func (s *LocalPersistedState) GetStats() cluster.PersistedStateStats {
	return cluster.PersistedStateStats{}
}

// getWriterSafe returns the live write session, reopening it if it was
// closed by a failed commit. If Close raced the reopen, the fresh session is
// discarded: at most one live session exists at a time.
func (s *LocalPersistedState) getWriterSafe() (IStateWriter, error) {
	slot := s.writer.Load()
	if slot == nil {
		return nil, ErrAlreadyClosed
	}
	if slot.w.IsOpen() {
		return slot.w, nil
	}
	writer, err := s.store.CreateWriter()
	if err != nil {
		return nil, err
	}
	if s.writer.CompareAndSwap(slot, &writerSlot{w: writer}) {
		return writer, nil
	}
	// Lost the race against Close; the only concurrent caller is Close, so
	// the slot must be gone now.
	_ = writer.Close()
	return nil, ErrAlreadyClosed
}

// failWrite arms the full-rewrite flag so the component self-heals rather
// than diffing against possibly-inconsistent prior state, then surfaces the
// failure to the coordination layer.
func (s *LocalPersistedState) failWrite(err error) error {
	s.writeNextStateFully = true
	log.Errorf("state write failed, next write will be full: %v", err)
	return err
}

// Close releases the write session exactly once.
func (s *LocalPersistedState) Close() error {
	slot := s.writer.Swap(nil)
	if slot == nil {
		return nil
	}
	return slot.w.Close()
}
