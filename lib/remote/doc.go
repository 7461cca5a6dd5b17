// Package remote implements publication of cluster metadata to a remote blob
// store and its recovery at boot.
//
// Every successful write produces a manifest: a record naming exactly which
// uploaded documents (one global document, one document per index) constitute
// that metadata snapshot. Manifests are written under
//
//	cluster-state/<clusterName>/<clusterUUID>/manifest/
//
// with names that sort by (term, version), so the latest manifest of a
// cluster UUID can be found with a single listing. Incremental writes upload
// only the documents that changed and let the new manifest reference the
// previous upload for everything else.
//
// The blob store itself is abstracted behind IBlobStore; a filesystem-rooted
// implementation is provided for durable deployments and an in-memory one for
// tests.
package remote
