// Package storage implements the on-disk transactional document store that
// durably records cluster metadata between restarts.
//
// The store keeps three kinds of documents in a single pebble keyspace:
//
//   - "meta": the current consensus term and the version of the last accepted
//     state. Rewritten on every commit.
//   - "global": the cluster metadata without its index set.
//   - "index/<uuid>": one document per index.
//
// Every write operation batches its document changes and commits them with a
// synced pebble batch, so a commit is atomic and survives a crash. A full
// write replaces the entire keyspace; an incremental write only touches the
// documents that changed relative to a known prior state within the same
// term.
//
// The package also persists the node metadata document (node id and product
// version) used to detect downgrade attempts, and carries a version-gated
// loader for the legacy single-file state format.
package storage
