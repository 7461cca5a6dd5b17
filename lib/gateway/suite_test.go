package gateway_test

import (
	"testing"

	"github.com/cockroachdb/pebble/vfs"

	"metastate/lib/cluster"
	"metastate/lib/gateway"
	gwtesting "metastate/lib/gateway/testing"
	"metastate/lib/storage"
)

// The conformance suite runs against every IPersistedState implementation.
// The local variant is backed by a real document store on an in-memory
// filesystem, so the full write path is exercised.

func TestInMemoryPersistedState(t *testing.T) {
	gwtesting.RunPersistedStateTests(t, "InMemory",
		func(term uint64, state cluster.ClusterState) gateway.IPersistedState {
			return gateway.NewInMemoryPersistedState(term, state)
		})
}

func TestLocalPersistedState(t *testing.T) {
	gwtesting.RunPersistedStateTests(t, "Local",
		func(term uint64, state cluster.ClusterState) gateway.IPersistedState {
			svc, err := storage.NewServiceWithFS(t.TempDir(), "node-1", vfs.NewMem())
			if err != nil {
				t.Fatalf("opening document store: %v", err)
			}
			t.Cleanup(func() { _ = svc.Close() })

			ps, err := gateway.NewLocalPersistedState(gateway.StorageAdapter{Svc: svc}, term, state)
			if err != nil {
				t.Fatalf("creating local persisted state: %v", err)
			}
			return ps
		})
}

func TestAsyncPersistedState(t *testing.T) {
	gwtesting.RunPersistedStateTests(t, "Async",
		func(term uint64, state cluster.ClusterState) gateway.IPersistedState {
			return gateway.NewAsyncPersistedState(gateway.NewInMemoryPersistedState(term, state))
		})
}
