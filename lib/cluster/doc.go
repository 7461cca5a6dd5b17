// Package cluster defines the metadata model that the persistence layer
// records and reconstructs: the cluster state with its consensus term and
// version, index and template metadata, voting configurations, remote-store
// manifests and the per-node metadata document.
//
// The package focuses on:
//   - Immutable value semantics: states and metadata are replaced wholesale,
//     never mutated in place. All With* helpers return copies.
//   - A strict link between the consensus term and the metadata it protects
//     (a persisted term is never below the term inside the persisted state).
//   - The stale-sentinel voting configuration used to mark asynchronously
//     written states as potentially stale.
//
// Key Components:
//
//   - ClusterState: the unit of persistence. Created by the coordination
//     layer and handed to a persisted-state implementation on every accepted
//     transition; this package never originates one on its own.
//
//   - Metadata: cluster UUID (and its committed flag), index and template
//     metadata, persistent settings and the coordination bookkeeping
//     (term, last accepted/committed voting configuration).
//
//   - Manifest: a one-to-one description of what a remote metadata write
//     produced. Its index list must exactly match the index set of the
//     described state, by name and UUID.
//
//   - NodeMetadata: node id and product version, written once at startup and
//     checked on the next boot to detect downgrade attempts.
package cluster
