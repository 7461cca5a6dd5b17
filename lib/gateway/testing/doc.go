// Package testing provides a reusable conformance test suite for
// IPersistedState implementations. Every implementation, whatever its
// backing (memory, disk, remote), must behave identically on the
// term/state/commit contract; the suite pins that behavior down once.
package testing
