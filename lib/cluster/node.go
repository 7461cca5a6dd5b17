package cluster

// NodeMetadata is written once at startup next to the cluster state. On the
// next boot it is used to detect downgrade attempts: a node must not start on
// state written by a newer major version.
type NodeMetadata struct {
	NodeID         string `json:"node_id"`
	ProductVersion string `json:"product_version"`
}

// PersistedStateStats are the write/upload counters a persisted-state
// implementation exposes upward. Implementations without a remote path report
// zero values.
type PersistedStateStats struct {
	UploadsSucceeded uint64 `json:"uploads_succeeded"`
	UploadsFailed    uint64 `json:"uploads_failed"`
}
