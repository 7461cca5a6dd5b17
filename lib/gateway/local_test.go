package gateway

import (
	"errors"
	"testing"

	"metastate/lib/cluster"
	"metastate/lib/storage"
)

// --------------------------------------------------------------------------
// Mocks
// --------------------------------------------------------------------------

type writeRecord struct {
	kind  string // "full", "term", "incremental"
	term  uint64
	state cluster.ClusterState
}

// mockWriter records every write and can be told to fail. A failed commit
// closes the session, matching the real writer's behavior.
type mockWriter struct {
	store  *mockStore
	open   bool
	failOn string
}

func (w *mockWriter) WriteFullStateAndCommit(term uint64, state cluster.ClusterState) error {
	return w.record(writeRecord{kind: "full", term: term, state: state})
}

func (w *mockWriter) WriteIncrementalTermUpdateAndCommit(term uint64, lastAcceptedVersion uint64) error {
	return w.record(writeRecord{kind: "term", term: term})
}

func (w *mockWriter) WriteIncrementalStateAndCommit(term uint64, prev, next cluster.ClusterState) error {
	return w.record(writeRecord{kind: "incremental", term: term, state: next})
}

func (w *mockWriter) record(r writeRecord) error {
	if !w.open {
		return errors.New("writer is closed")
	}
	if w.failOn == r.kind {
		w.open = false
		return errors.New("injected write failure")
	}
	w.store.writes = append(w.store.writes, r)
	return nil
}

func (w *mockWriter) IsOpen() bool { return w.open }

func (w *mockWriter) Close() error {
	w.open = false
	return nil
}

type mockStore struct {
	writes        []writeRecord
	writersOpened int
	failOn        string
	createErr     error
}

func (s *mockStore) CreateWriter() (IStateWriter, error) {
	if s.createErr != nil {
		return nil, s.createErr
	}
	s.writersOpened++
	return &mockWriter{store: s, open: true, failOn: s.failOn}, nil
}

func (s *mockStore) lastWrite(t *testing.T) writeRecord {
	t.Helper()
	if len(s.writes) == 0 {
		t.Fatal("expected at least one write")
	}
	return s.writes[len(s.writes)-1]
}

func stateWithTerm(term, version uint64) cluster.ClusterState {
	metadata := cluster.EmptyMetadata()
	metadata.Coordination.Term = term
	return cluster.NewClusterState("test-cluster", version, metadata)
}

// --------------------------------------------------------------------------
// Tests
// --------------------------------------------------------------------------

func TestLocalWritesFullStateOnCreation(t *testing.T) {
	store := &mockStore{}
	ps, err := NewLocalPersistedState(store, 4, stateWithTerm(4, 10))
	if err != nil {
		t.Fatalf("NewLocalPersistedState failed: %v", err)
	}
	defer ps.Close()

	if len(store.writes) != 1 || store.writes[0].kind != "full" {
		t.Fatalf("expected one full write on creation, got %+v", store.writes)
	}
	if store.writes[0].term != 4 {
		t.Errorf("expected full write with term 4, got %d", store.writes[0].term)
	}
}

func TestLocalFailedCreationClosesWriter(t *testing.T) {
	store := &mockStore{failOn: "full"}
	if _, err := NewLocalPersistedState(store, 1, stateWithTerm(1, 1)); err == nil {
		t.Fatal("expected creation to fail")
	}
}

func TestLocalTermUpdateIsIncremental(t *testing.T) {
	store := &mockStore{}
	ps, err := NewLocalPersistedState(store, 1, stateWithTerm(1, 1))
	if err != nil {
		t.Fatalf("NewLocalPersistedState failed: %v", err)
	}
	defer ps.Close()

	if err := ps.SetCurrentTerm(2); err != nil {
		t.Fatalf("SetCurrentTerm failed: %v", err)
	}
	if got := store.lastWrite(t); got.kind != "term" || got.term != 2 {
		t.Errorf("expected incremental term write for term 2, got %+v", got)
	}
	if ps.GetCurrentTerm() != 2 {
		t.Errorf("expected term 2, got %d", ps.GetCurrentTerm())
	}
}

func TestLocalSameTermStateUpdateIsIncremental(t *testing.T) {
	store := &mockStore{}
	ps, err := NewLocalPersistedState(store, 1, stateWithTerm(1, 1))
	if err != nil {
		t.Fatalf("NewLocalPersistedState failed: %v", err)
	}
	defer ps.Close()

	if err := ps.SetLastAcceptedState(stateWithTerm(1, 2)); err != nil {
		t.Fatalf("SetLastAcceptedState failed: %v", err)
	}
	if got := store.lastWrite(t); got.kind != "incremental" {
		t.Errorf("expected incremental state write, got %+v", got)
	}
}

func TestLocalCrossTermStateUpdateIsFull(t *testing.T) {
	store := &mockStore{}
	ps, err := NewLocalPersistedState(store, 1, stateWithTerm(1, 1))
	if err != nil {
		t.Fatalf("NewLocalPersistedState failed: %v", err)
	}
	defer ps.Close()

	if err := ps.SetCurrentTerm(2); err != nil {
		t.Fatalf("SetCurrentTerm failed: %v", err)
	}
	if err := ps.SetLastAcceptedState(stateWithTerm(2, 2)); err != nil {
		t.Fatalf("SetLastAcceptedState failed: %v", err)
	}
	if got := store.lastWrite(t); got.kind != "full" {
		t.Errorf("expected full write across terms, got %+v", got)
	}
}

func TestLocalFailureForcesNextWriteFull(t *testing.T) {
	store := &mockStore{}
	ps, err := NewLocalPersistedState(store, 1, stateWithTerm(1, 1))
	if err != nil {
		t.Fatalf("NewLocalPersistedState failed: %v", err)
	}
	defer ps.Close()

	// Inject a failure into the live writer, then verify the in-memory state
	// was not advanced past the durable one.
	store.failOn = "incremental"
	ps.writer.Load().w.(*mockWriter).failOn = "incremental"
	if err := ps.SetLastAcceptedState(stateWithTerm(1, 2)); err == nil {
		t.Fatal("expected write failure to surface")
	}
	if ps.GetLastAcceptedState().Version != 1 {
		t.Errorf("expected state to stay at version 1 after failed write, got %d",
			ps.GetLastAcceptedState().Version)
	}

	// The next write must be full and must reopen a writer, since the failed
	// commit closed the previous session.
	store.failOn = ""
	opened := store.writersOpened
	if err := ps.SetLastAcceptedState(stateWithTerm(1, 3)); err != nil {
		t.Fatalf("SetLastAcceptedState after recovery failed: %v", err)
	}
	if got := store.lastWrite(t); got.kind != "full" {
		t.Errorf("expected full write after a failure, got %+v", got)
	}
	if store.writersOpened != opened+1 {
		t.Errorf("expected a new writer to be opened after the failed commit")
	}
	if ps.GetLastAcceptedState().Version != 3 {
		t.Errorf("expected state version 3, got %d", ps.GetLastAcceptedState().Version)
	}
}

func TestLocalForceWriteNextStateFully(t *testing.T) {
	store := &mockStore{}
	ps, err := NewLocalPersistedState(store, 1, stateWithTerm(1, 1))
	if err != nil {
		t.Fatalf("NewLocalPersistedState failed: %v", err)
	}
	defer ps.Close()

	ps.ForceWriteNextStateFully()
	if err := ps.SetCurrentTerm(2); err != nil {
		t.Fatalf("SetCurrentTerm failed: %v", err)
	}
	if got := store.lastWrite(t); got.kind != "full" {
		t.Errorf("expected forced full write, got %+v", got)
	}

	// The force flag is consumed by the full write.
	if err := ps.SetCurrentTerm(3); err != nil {
		t.Fatalf("SetCurrentTerm failed: %v", err)
	}
	if got := store.lastWrite(t); got.kind != "term" {
		t.Errorf("expected incremental term write after the forced one, got %+v", got)
	}
}

func TestLocalUseAfterClose(t *testing.T) {
	store := &mockStore{}
	ps, err := NewLocalPersistedState(store, 1, stateWithTerm(1, 1))
	if err != nil {
		t.Fatalf("NewLocalPersistedState failed: %v", err)
	}

	if err := ps.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := ps.Close(); err != nil {
		t.Fatalf("second Close failed: %v", err)
	}
	if err := ps.SetCurrentTerm(2); !errors.Is(err, ErrAlreadyClosed) {
		t.Errorf("expected ErrAlreadyClosed, got %v", err)
	}
}

// A crash between the term write and the state write must never leave the
// durable term below the durable state's term; writing the term first
// preserves that.
func TestLocalTermWrittenBeforeState(t *testing.T) {
	store := &mockStore{}
	ps, err := NewLocalPersistedState(store, 1, stateWithTerm(1, 1))
	if err != nil {
		t.Fatalf("NewLocalPersistedState failed: %v", err)
	}
	defer ps.Close()

	if err := ps.SetCurrentTerm(5); err != nil {
		t.Fatalf("SetCurrentTerm failed: %v", err)
	}
	if err := ps.SetLastAcceptedState(stateWithTerm(5, 2)); err != nil {
		t.Fatalf("SetLastAcceptedState failed: %v", err)
	}

	sawTerm := false
	for _, w := range store.writes {
		if w.kind == "term" && w.term == 5 {
			sawTerm = true
		}
		if w.state.Term() == 5 && !sawTerm && w.kind != "full" {
			t.Fatal("state for term 5 written before the term itself")
		}
	}
}

// Compile-time check that the real storage writer satisfies the interface the
// mocks stand in for.
var _ IStateStore = StorageAdapter{}
var _ IStateWriter = (*storage.Writer)(nil)
