package remote

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/VictoriaMetrics/metrics"
	"github.com/lni/dragonboat/v4/logger"

	"metastate/lib/cluster"
)

var log = logger.GetLogger("remote")

const clusterStatePrefix = "cluster-state"

// --------------------------------------------------------------------------
// Service
// --------------------------------------------------------------------------

// Service reads and writes cluster metadata manifests in a blob store.
// Writes happen only on the elected coordinator; any node may read during
// boot-time restore.
type Service struct {
	clusterName        string
	blobs              IBlobStore
	publicationEnabled bool

	set              *metrics.Set
	uploadsSucceeded *metrics.Counter
	uploadsFailed    *metrics.Counter
}

// NewService creates a remote state service on the given blob store.
// publicationEnabled mirrors the cluster setting that allows followers to
// receive published state from the remote store; it widens the conditions
// under which incremental writes are allowed across term changes.
func NewService(clusterName string, blobs IBlobStore, publicationEnabled bool) *Service {
	set := metrics.NewSet()
	return &Service{
		clusterName:        clusterName,
		blobs:              blobs,
		publicationEnabled: publicationEnabled,
		set:                set,
		uploadsSucceeded:   set.NewCounter("remote_state_uploads_succeeded_total"),
		uploadsFailed:      set.NewCounter("remote_state_uploads_failed_total"),
	}
}

// RemotePublicationEnabled returns whether remote-driven publication is on.
func (s *Service) RemotePublicationEnabled() bool {
	return s.publicationEnabled
}

// WriteMetadataFailed records a failed metadata upload.
func (s *Service) WriteMetadataFailed() {
	s.uploadsFailed.Inc()
}

// UploadStats returns the upload counters.
func (s *Service) UploadStats() cluster.PersistedStateStats {
	return cluster.PersistedStateStats{
		UploadsSucceeded: s.uploadsSucceeded.Get(),
		UploadsFailed:    s.uploadsFailed.Get(),
	}
}

// Close releases the blob store.
func (s *Service) Close() error {
	return s.blobs.Close()
}

// --------------------------------------------------------------------------
// Path layout
// --------------------------------------------------------------------------

func basePath(clusterName, clusterUUID string) string {
	return fmt.Sprintf("%s/%s/%s", clusterStatePrefix, clusterName, clusterUUID)
}

// Manifest names sort lexicographically by (term, version), so the latest
// manifest is the greatest key under the manifest prefix.
func manifestFileName(term, version uint64) string {
	return fmt.Sprintf("manifest-%020d-%020d-%d.json", term, version, time.Now().UnixNano())
}

func indexFileName(im cluster.IndexMetadata) string {
	return fmt.Sprintf("%s-%d.json", im.UUID, im.Version)
}

func globalFileName(version uint64) string {
	return fmt.Sprintf("global-%020d-%d.json", version, time.Now().UnixNano())
}

// --------------------------------------------------------------------------
// Manifest lookup
// --------------------------------------------------------------------------

// GetLatestManifest returns the most recent manifest for the given cluster
// UUID, reporting whether one exists.
func (s *Service) GetLatestManifest(clusterName, clusterUUID string) (cluster.ManifestInfo, bool, error) {
	prefix := basePath(clusterName, clusterUUID) + "/manifest/"
	keys, err := s.blobs.List(prefix)
	if err != nil {
		return cluster.ManifestInfo{}, false, fmt.Errorf("listing manifests for %s: %w", clusterUUID, err)
	}
	if len(keys) == 0 {
		return cluster.ManifestInfo{}, false, nil
	}
	latest := keys[len(keys)-1]
	data, found, err := s.blobs.Get(latest)
	if err != nil {
		return cluster.ManifestInfo{}, false, err
	}
	if !found {
		return cluster.ManifestInfo{}, false, fmt.Errorf("manifest %s disappeared during read", latest)
	}
	var manifest cluster.Manifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return cluster.ManifestInfo{}, false, fmt.Errorf("decoding manifest %s: %w", latest, err)
	}
	return cluster.ManifestInfo{Manifest: manifest, FileName: latest}, true, nil
}

// GetLastKnownUUID scans all cluster UUIDs recorded for the cluster name and
// returns the UUID with the most recent committed manifest, or the unknown
// sentinel when the remote store holds no usable state.
func (s *Service) GetLastKnownUUID(clusterName string) (string, error) {
	prefix := fmt.Sprintf("%s/%s/", clusterStatePrefix, clusterName)
	keys, err := s.blobs.List(prefix)
	if err != nil {
		return cluster.UnknownClusterUUID, err
	}
	uuids := make(map[string]struct{})
	for _, key := range keys {
		rest := strings.TrimPrefix(key, prefix)
		if uuid, _, ok := strings.Cut(rest, "/"); ok {
			uuids[uuid] = struct{}{}
		}
	}

	bestUUID := cluster.UnknownClusterUUID
	var bestTerm, bestVersion uint64
	ordered := make([]string, 0, len(uuids))
	for uuid := range uuids {
		ordered = append(ordered, uuid)
	}
	sort.Strings(ordered)
	for _, uuid := range ordered {
		info, found, err := s.GetLatestManifest(clusterName, uuid)
		if err != nil {
			return cluster.UnknownClusterUUID, err
		}
		if !found || !info.Manifest.Committed {
			continue
		}
		if info.Manifest.Term > bestTerm ||
			(info.Manifest.Term == bestTerm && info.Manifest.Version > bestVersion) {
			bestUUID = info.Manifest.ClusterUUID
			bestTerm = info.Manifest.Term
			bestVersion = info.Manifest.Version
		}
	}
	return bestUUID, nil
}

// --------------------------------------------------------------------------
// Metadata writes
// --------------------------------------------------------------------------

// WriteFullMetadata uploads every document of the given state and a manifest
// describing them.
func (s *Service) WriteFullMetadata(state cluster.ClusterState, previousClusterUUID string) (cluster.ManifestInfo, error) {
	base := basePath(state.Name, state.Metadata.ClusterUUID)

	indices := make([]cluster.ManifestIndex, 0, len(state.Metadata.Indices))
	for _, im := range sortedIndices(state.Metadata) {
		key := base + "/index/" + indexFileName(im)
		if err := s.putJSON(key, im); err != nil {
			return cluster.ManifestInfo{}, err
		}
		indices = append(indices, cluster.ManifestIndex{Name: im.Name, UUID: im.UUID, FileName: key})
	}

	globalKey := base + "/global/" + globalFileName(state.Version)
	if err := s.putJSON(globalKey, state.Metadata.SansIndices()); err != nil {
		return cluster.ManifestInfo{}, err
	}

	manifest := cluster.Manifest{
		ClusterUUID:         state.Metadata.ClusterUUID,
		PreviousClusterUUID: previousClusterUUID,
		Term:                state.Term(),
		Version:             state.Version,
		Committed:           false,
		ProductVersion:      cluster.CurrentVersion,
		Indices:             indices,
		GlobalMetadataFile:  globalKey,
	}
	return s.uploadManifest(state, manifest)
}

// WriteIncrementalMetadata uploads only the documents that changed relative
// to the previous state, reusing the previous manifest's uploads for the
// rest.
func (s *Service) WriteIncrementalMetadata(prev, next cluster.ClusterState, prevManifest cluster.Manifest) (cluster.ManifestInfo, error) {
	base := basePath(next.Name, next.Metadata.ClusterUUID)

	previousUploads := make(map[string]cluster.ManifestIndex, len(prevManifest.Indices))
	for _, mi := range prevManifest.Indices {
		previousUploads[mi.Name] = mi
	}

	indices := make([]cluster.ManifestIndex, 0, len(next.Metadata.Indices))
	for _, im := range sortedIndices(next.Metadata) {
		pim, unchanged := prev.Metadata.Indices[im.Name]
		previous, uploaded := previousUploads[im.Name]
		if unchanged && uploaded && pim.UUID == im.UUID && pim.Version == im.Version {
			indices = append(indices, previous)
			continue
		}
		key := base + "/index/" + indexFileName(im)
		if err := s.putJSON(key, im); err != nil {
			return cluster.ManifestInfo{}, err
		}
		indices = append(indices, cluster.ManifestIndex{Name: im.Name, UUID: im.UUID, FileName: key})
	}

	globalKey := prevManifest.GlobalMetadataFile
	prevGlobal, err := json.Marshal(prev.Metadata.SansIndices())
	if err != nil {
		return cluster.ManifestInfo{}, err
	}
	nextGlobal, err := json.Marshal(next.Metadata.SansIndices())
	if err != nil {
		return cluster.ManifestInfo{}, err
	}
	if !bytes.Equal(prevGlobal, nextGlobal) || globalKey == "" {
		globalKey = base + "/global/" + globalFileName(next.Version)
		if err := s.blobs.Put(globalKey, nextGlobal); err != nil {
			s.uploadsFailed.Inc()
			return cluster.ManifestInfo{}, err
		}
	}

	manifest := cluster.Manifest{
		ClusterUUID:         next.Metadata.ClusterUUID,
		PreviousClusterUUID: prevManifest.PreviousClusterUUID,
		Term:                next.Term(),
		Version:             next.Version,
		Committed:           false,
		ProductVersion:      cluster.CurrentVersion,
		Indices:             indices,
		GlobalMetadataFile:  globalKey,
	}
	return s.uploadManifest(next, manifest)
}

// MarkLastStateAsCommitted rewrites the manifest (and, when the metadata
// changed, the global document) with the committed flag set.
func (s *Service) MarkLastStateAsCommitted(state cluster.ClusterState, prevManifest cluster.Manifest, commitVotingConfig bool) (cluster.ManifestInfo, error) {
	base := basePath(state.Name, state.Metadata.ClusterUUID)

	globalKey := prevManifest.GlobalMetadataFile
	if commitVotingConfig || state.Metadata.ClusterUUIDCommitted {
		// The commit folded new metadata (voting config and/or the UUID
		// committed flag); the global document must reflect it.
		globalKey = base + "/global/" + globalFileName(state.Version)
		if err := s.putJSON(globalKey, state.Metadata.SansIndices()); err != nil {
			return cluster.ManifestInfo{}, err
		}
	}

	manifest := prevManifest.WithCommitted(true)
	manifest.Term = state.Term()
	manifest.Version = state.Version
	manifest.GlobalMetadataFile = globalKey
	return s.uploadManifest(state, manifest)
}

func (s *Service) uploadManifest(state cluster.ClusterState, manifest cluster.Manifest) (cluster.ManifestInfo, error) {
	key := basePath(state.Name, state.Metadata.ClusterUUID) + "/manifest/" + manifestFileName(manifest.Term, manifest.Version)
	if err := s.putJSON(key, manifest); err != nil {
		return cluster.ManifestInfo{}, err
	}
	s.uploadsSucceeded.Inc()
	log.Debugf("uploaded manifest %s (term=%d version=%d committed=%t)",
		key, manifest.Term, manifest.Version, manifest.Committed)
	return cluster.ManifestInfo{Manifest: manifest, FileName: key}, nil
}

func (s *Service) putJSON(key string, doc interface{}) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	if err := s.blobs.Put(key, data); err != nil {
		s.uploadsFailed.Inc()
		return fmt.Errorf("uploading %s: %w", key, err)
	}
	return nil
}

// sortedIndices returns the index metadata ordered by name so uploads and
// manifests are deterministic.
func sortedIndices(m cluster.Metadata) []cluster.IndexMetadata {
	indices := make([]cluster.IndexMetadata, 0, len(m.Indices))
	for _, im := range m.Indices {
		indices = append(indices, im)
	}
	sort.Slice(indices, func(i, j int) bool { return indices[i].Name < indices[j].Name })
	return indices
}
