package gateway

import (
	"sync"
	"testing"
	"time"

	"metastate/lib/cluster"
)

// blockingDelegate is an in-memory delegate whose writes can be held up, so
// tests can pile updates behind an in-flight write.
type blockingDelegate struct {
	mu          sync.Mutex
	term        uint64
	state       cluster.ClusterState
	termWrites  int
	stateWrites []cluster.ClusterState
	gate        chan struct{}
	closed      bool
}

func newBlockingDelegate() *blockingDelegate {
	return &blockingDelegate{}
}

// holdWrites makes the next writes block until releaseWrites is called.
func (d *blockingDelegate) holdWrites() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.gate = make(chan struct{})
}

func (d *blockingDelegate) releaseWrites() {
	d.mu.Lock()
	gate := d.gate
	d.gate = nil
	d.mu.Unlock()
	if gate != nil {
		close(gate)
	}
}

func (d *blockingDelegate) waitGate() {
	d.mu.Lock()
	gate := d.gate
	d.mu.Unlock()
	if gate != nil {
		<-gate
	}
}

func (d *blockingDelegate) GetCurrentTerm() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.term
}

func (d *blockingDelegate) GetLastAcceptedState() cluster.ClusterState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

func (d *blockingDelegate) SetCurrentTerm(term uint64) error {
	d.waitGate()
	d.mu.Lock()
	defer d.mu.Unlock()
	d.term = term
	d.termWrites++
	return nil
}

func (d *blockingDelegate) SetLastAcceptedState(state cluster.ClusterState) error {
	d.waitGate()
	d.mu.Lock()
	defer d.mu.Unlock()
	d.state = state
	d.stateWrites = append(d.stateWrites, state)
	return nil
}

func (d *blockingDelegate) MarkLastAcceptedStateAsCommitted() error { return nil }

func (d *blockingDelegate) GetLastAcceptedManifest() (cluster.Manifest, bool) {
	return cluster.Manifest{}, false
}

func (d *blockingDelegate) SetLastAcceptedManifest(cluster.Manifest) {}

func (d *blockingDelegate) GetStats() cluster.PersistedStateStats {
	return cluster.PersistedStateStats{}
}

func (d *blockingDelegate) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

func (d *blockingDelegate) writtenStates() []cluster.ClusterState {
	d.mu.Lock()
	defer d.mu.Unlock()
	states := make([]cluster.ClusterState, len(d.stateWrites))
	copy(states, d.stateWrites)
	return states
}

// waitUntil polls cond for up to two seconds.
func waitUntil(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

// --------------------------------------------------------------------------
// Tests
// --------------------------------------------------------------------------

func TestAsyncUpdatesInMemorySynchronously(t *testing.T) {
	delegate := newBlockingDelegate()
	ps := NewAsyncPersistedState(delegate)
	defer ps.Close()

	delegate.holdWrites()
	defer delegate.releaseWrites()

	if err := ps.SetCurrentTerm(9); err != nil {
		t.Fatalf("SetCurrentTerm failed: %v", err)
	}
	if err := ps.SetLastAcceptedState(stateWithTerm(9, 4)); err != nil {
		t.Fatalf("SetLastAcceptedState failed: %v", err)
	}

	// Readers see the new values even though nothing has been written yet.
	if ps.GetCurrentTerm() != 9 {
		t.Errorf("expected in-memory term 9, got %d", ps.GetCurrentTerm())
	}
	if ps.GetLastAcceptedState().Version != 4 {
		t.Errorf("expected in-memory state version 4, got %d", ps.GetLastAcceptedState().Version)
	}
}

func TestAsyncCoalescesBurstsToLatestState(t *testing.T) {
	delegate := newBlockingDelegate()
	ps := NewAsyncPersistedState(delegate)
	defer ps.Close()

	delegate.holdWrites()
	for v := uint64(1); v <= 50; v++ {
		if err := ps.SetLastAcceptedState(stateWithTerm(1, v)); err != nil {
			t.Fatalf("SetLastAcceptedState failed: %v", err)
		}
	}
	delegate.releaseWrites()

	waitUntil(t, ps.AllPendingAsyncStatesWritten)

	written := delegate.writtenStates()
	if len(written) >= 50 {
		t.Errorf("expected coalescing to drop intermediate writes, got %d", len(written))
	}
	if last := written[len(written)-1]; last.Version != 50 {
		t.Errorf("expected latest version 50 to be written, got %d", last.Version)
	}
}

func TestAsyncDurableCopyCarriesStaleSentinel(t *testing.T) {
	delegate := newBlockingDelegate()
	ps := NewAsyncPersistedState(delegate)
	defer ps.Close()

	state := stateWithTerm(1, 2)
	coordination := state.Metadata.Coordination
	coordination.LastAcceptedConfiguration = cluster.NewVotingConfiguration("node-1", "node-2")
	coordination.LastCommittedConfiguration = cluster.NewVotingConfiguration("node-1", "node-2")
	state = state.WithMetadata(state.Metadata.WithCoordination(coordination))

	if err := ps.SetLastAcceptedState(state); err != nil {
		t.Fatalf("SetLastAcceptedState failed: %v", err)
	}
	waitUntil(t, ps.AllPendingAsyncStatesWritten)

	// The durable copy must not be electable.
	durable := delegate.GetLastAcceptedState()
	if !durable.LastAcceptedConfiguration().IsStaleSentinel() ||
		!durable.LastCommittedConfiguration().IsStaleSentinel() {
		t.Errorf("expected stale-sentinel voting configurations on the durable copy, got %v / %v",
			durable.LastAcceptedConfiguration(), durable.LastCommittedConfiguration())
	}

	// The in-memory copy keeps the real configurations.
	inMemory := ps.GetLastAcceptedState()
	if inMemory.LastAcceptedConfiguration().IsStaleSentinel() {
		t.Errorf("expected in-memory state to keep the real voting configuration")
	}
}

func TestAsyncWritesTermBeforeState(t *testing.T) {
	delegate := newBlockingDelegate()
	ps := NewAsyncPersistedState(delegate)
	defer ps.Close()

	delegate.holdWrites()
	if err := ps.SetCurrentTerm(3); err != nil {
		t.Fatalf("SetCurrentTerm failed: %v", err)
	}
	if err := ps.SetLastAcceptedState(stateWithTerm(3, 1)); err != nil {
		t.Fatalf("SetLastAcceptedState failed: %v", err)
	}
	delegate.releaseWrites()
	waitUntil(t, ps.AllPendingAsyncStatesWritten)

	if delegate.GetCurrentTerm() != 3 {
		t.Errorf("expected durable term 3, got %d", delegate.GetCurrentTerm())
	}
	if got := delegate.GetLastAcceptedState(); got.Term() != 3 {
		t.Errorf("expected durable state at term 3, got %d", got.Term())
	}
}

func TestAsyncCloseDrainsAndClosesDelegate(t *testing.T) {
	delegate := newBlockingDelegate()
	ps := NewAsyncPersistedState(delegate)

	if err := ps.SetLastAcceptedState(stateWithTerm(1, 7)); err != nil {
		t.Fatalf("SetLastAcceptedState failed: %v", err)
	}
	if err := ps.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	delegate.mu.Lock()
	closed := delegate.closed
	delegate.mu.Unlock()
	if !closed {
		t.Error("expected delegate to be closed")
	}
	if got := delegate.GetLastAcceptedState(); got.Version != 7 {
		t.Errorf("expected pending write to be flushed before close, got version %d", got.Version)
	}
}
