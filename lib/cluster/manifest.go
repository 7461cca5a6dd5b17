package cluster

// ManifestIndex is one entry of a manifest's index list: which index the
// manifest covers and the blob the index metadata was uploaded as. Unchanged
// indices keep the file name of a previous upload.
type ManifestIndex struct {
	Name     string `json:"name"`
	UUID     string `json:"uuid"`
	FileName string `json:"file_name"`
}

// Manifest describes exactly what one remote metadata write produced. It is
// held alongside (not inside) the cluster state it describes. Its index list
// must match the described state's index set one-to-one, by name and UUID.
type Manifest struct {
	ClusterUUID         string          `json:"cluster_uuid"`
	PreviousClusterUUID string          `json:"previous_cluster_uuid"`
	Term                uint64          `json:"term"`
	Version             uint64          `json:"version"`
	Committed           bool            `json:"committed"`
	ProductVersion      string          `json:"product_version"`
	Indices             []ManifestIndex `json:"indices"`
	GlobalMetadataFile  string          `json:"global_metadata_file"`
}

// WithCommitted returns a copy with the committed flag set.
func (m Manifest) WithCommitted(committed bool) Manifest {
	m.Committed = committed
	return m
}

// ManifestInfo pairs a manifest with the blob name it was uploaded as.
type ManifestInfo struct {
	Manifest Manifest
	FileName string
}
