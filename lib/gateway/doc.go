// Package gateway loads (and maybe upgrades) cluster metadata at startup and
// persistently stores cluster metadata for future restarts.
//
// When started, it ensures this version is compatible with the state stored
// on disk, performs a metadata upgrade if necessary, selects the
// persisted-state implementation matching the node's roles and installs the
// applier that feeds every accepted cluster-state transition into it. Note
// that the state loaded at startup is not necessarily the state the cluster
// will end up using: voting-eligible nodes must win an election to find a
// complete and non-stale state, and other nodes receive the real cluster
// state from the elected coordinator after joining.
//
// Implementations of IPersistedState:
//
//   - LocalPersistedState persists synchronously to the on-disk document
//     store. Used on voting-eligible nodes, where the consensus-apply path
//     is allowed to block on disk commits.
//
//   - AsyncPersistedState wraps a LocalPersistedState for data nodes whose
//     apply path must not block: updates are coalesced onto one background
//     worker, and the durable copy carries the stale-sentinel voting
//     configuration until the write has landed.
//
//   - RemotePersistedState publishes metadata manifests to a remote blob
//     store. Only the elected coordinator writes remotely; followers track
//     state in memory.
//
//   - InMemoryPersistedState carries no durable state at all and serves
//     coordinating-only nodes.
package gateway
