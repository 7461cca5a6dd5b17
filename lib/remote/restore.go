package remote

import (
	"encoding/json"
	"fmt"

	"metastate/lib/cluster"
)

// RestoreService reconstructs a cluster state from the remote store during
// boot. Remote metadata always overrides whatever the local disk held when
// the local cluster UUID is unknown.
type RestoreService struct {
	svc *Service
}

// NewRestoreService creates a restore service over the given remote state
// service.
func NewRestoreService(svc *Service) *RestoreService {
	return &RestoreService{svc: svc}
}

// Restore loads the latest manifest for the given cluster UUID and every
// document it names, returning the reconstructed state. Any missing blob is
// an error; the caller treats restore failures as boot-fatal after retries.
func (r *RestoreService) Restore(state cluster.ClusterState, clusterUUID string) (cluster.ClusterState, error) {
	info, found, err := r.svc.GetLatestManifest(state.Name, clusterUUID)
	if err != nil {
		return cluster.ClusterState{}, err
	}
	if !found {
		return cluster.ClusterState{}, fmt.Errorf("no manifest found in remote store for cluster UUID %s", clusterUUID)
	}
	manifest := info.Manifest

	metadata := cluster.EmptyMetadata()
	if err := r.getJSON(manifest.GlobalMetadataFile, &metadata); err != nil {
		return cluster.ClusterState{}, err
	}

	indices := make(map[string]cluster.IndexMetadata, len(manifest.Indices))
	for _, mi := range manifest.Indices {
		var im cluster.IndexMetadata
		if err := r.getJSON(mi.FileName, &im); err != nil {
			return cluster.ClusterState{}, err
		}
		indices[im.Name] = im
	}
	if len(indices) > 0 {
		metadata = metadata.WithIndices(indices)
	}

	log.Infof("restored cluster state from remote store (uuid=%s term=%d version=%d indices=%d)",
		clusterUUID, manifest.Term, manifest.Version, len(indices))
	return state.WithMetadata(metadata).WithVersion(manifest.Version), nil
}

func (r *RestoreService) getJSON(key string, doc interface{}) error {
	data, found, err := r.svc.blobs.Get(key)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("remote store is missing blob %s", key)
	}
	if err := json.Unmarshal(data, doc); err != nil {
		return fmt.Errorf("decoding blob %s: %w", key, err)
	}
	return nil
}
