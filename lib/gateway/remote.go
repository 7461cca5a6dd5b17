package gateway

import (
	"fmt"

	"metastate/lib/cluster"
)

// RemotePersistedState publishes accepted cluster states to the remote store
// as metadata manifests. Only the elected coordinator writes remotely;
// every other node merely tracks the accepted state and manifest in memory,
// since it receives both through publication. Terms are not persisted here
// at all: the remote store is a replica of coordinator state, not a vote
// ledger, so SetCurrentTerm is a no-op.
type RemotePersistedState struct {
	svc IRemoteStateService

	lastAcceptedState    cluster.ClusterState
	hasAcceptedState     bool
	lastAcceptedManifest cluster.Manifest
	hasManifest          bool

	// previousClusterUUID links the current cluster UUID chain in manifests.
	previousClusterUUID string
}

// NewRemotePersistedState creates a remote persisted state writing through
// the given service. previousClusterUUID seeds the UUID chain recorded in
// full-metadata manifests.
func NewRemotePersistedState(svc IRemoteStateService, previousClusterUUID string) *RemotePersistedState {
	return &RemotePersistedState{svc: svc, previousClusterUUID: previousClusterUUID}
}

func (s *RemotePersistedState) GetCurrentTerm() uint64 {
	if !s.hasAcceptedState {
		return 0
	}
	return s.lastAcceptedState.Term()
}

func (s *RemotePersistedState) GetLastAcceptedState() cluster.ClusterState {
	return s.lastAcceptedState
}

// SetCurrentTerm is a no-op: the manifest carries the term of the state it
// describes, and no separate term document exists remotely.
func (s *RemotePersistedState) SetCurrentTerm(uint64) error {
	return nil
}

func (s *RemotePersistedState) SetLastAcceptedState(state cluster.ClusterState) error {
	if !state.Nodes.IsLocalNodeElectedCoordinator() {
		// Followers receive the manifest through publication; nothing to
		// upload here.
		s.lastAcceptedState = state
		s.hasAcceptedState = true
		return nil
	}

	var (
		info cluster.ManifestInfo
		err  error
	)
	if s.shouldWriteFullClusterState(state) {
		// A full write starts (or restarts) a manifest chain, so recover the
		// previous cluster UUID from the latest manifest if one exists.
		latest, found, lookupErr := s.svc.GetLatestManifest(state.Name, state.Metadata.ClusterUUID)
		if lookupErr != nil {
			s.svc.WriteMetadataFailed()
			return lookupErr
		}
		if found {
			s.previousClusterUUID = latest.Manifest.PreviousClusterUUID
		} else {
			log.Errorf("latest manifest is not present in remote store for cluster UUID %s", state.Metadata.ClusterUUID)
		}
		info, err = s.svc.WriteFullMetadata(state, s.previousClusterUUID)
	} else {
		info, err = s.svc.WriteIncrementalMetadata(s.lastAcceptedState, state, s.lastAcceptedManifest)
	}
	if err != nil {
		s.svc.WriteMetadataFailed()
		return err
	}

	verifyManifestAndClusterState(info.Manifest, state)
	s.lastAcceptedState = state
	s.hasAcceptedState = true
	s.lastAcceptedManifest = info.Manifest
	s.hasManifest = true
	return nil
}

// shouldWriteFullClusterState decides between a full and an incremental
// remote write. Incremental writes need a previous state and manifest to
// diff against, produced by the same product version; without remote
// publication a term change also invalidates the diff base, because a new
// coordinator may not have observed the previous upload.
func (s *RemotePersistedState) shouldWriteFullClusterState(state cluster.ClusterState) bool {
	if !s.hasAcceptedState || !s.hasManifest {
		return true
	}
	if !s.svc.RemotePublicationEnabled() && s.lastAcceptedState.Term() != state.Term() {
		return true
	}
	if s.lastAcceptedManifest.ProductVersion != cluster.CurrentVersion {
		return true
	}
	return false
}

func (s *RemotePersistedState) MarkLastAcceptedStateAsCommitted() error {
	if !s.hasAcceptedState || !s.hasManifest {
		return fmt.Errorf("cannot commit: no accepted state or manifest present")
	}
	state, _, commitVotingConfig := committedState(s.lastAcceptedState)

	if !state.Nodes.IsLocalNodeElectedCoordinator() {
		// The coordinator rewrites the committed manifest remotely; followers
		// only flip their in-memory copy.
		s.lastAcceptedState = state
		s.lastAcceptedManifest = s.lastAcceptedManifest.WithCommitted(true)
		return nil
	}

	info, err := s.svc.MarkLastStateAsCommitted(state, s.lastAcceptedManifest, commitVotingConfig)
	if err != nil {
		s.svc.WriteMetadataFailed()
		return err
	}
	s.lastAcceptedState = state
	s.lastAcceptedManifest = info.Manifest
	return nil
}

func (s *RemotePersistedState) GetLastAcceptedManifest() (cluster.Manifest, bool) {
	return s.lastAcceptedManifest, s.hasManifest
}

func (s *RemotePersistedState) SetLastAcceptedManifest(manifest cluster.Manifest) {
	s.lastAcceptedManifest = manifest
	s.hasManifest = true
}

func (s *RemotePersistedState) GetStats() cluster.PersistedStateStats {
	return s.svc.UploadStats()
}

func (s *RemotePersistedState) Close() error {
	return s.svc.Close()
}

// verifyManifestAndClusterState panics when the manifest's index list does
// not match the state's index set one-to-one. A mismatch means the upload
// described a state other than the one accepted, which must never be
// published.
func verifyManifestAndClusterState(manifest cluster.Manifest, state cluster.ClusterState) {
	if len(manifest.Indices) != len(state.Metadata.Indices) {
		panic(fmt.Sprintf("manifest covers %d indices, cluster state has %d",
			len(manifest.Indices), len(state.Metadata.Indices)))
	}
	for _, mi := range manifest.Indices {
		im, ok := state.Metadata.Indices[mi.Name]
		if !ok || im.UUID != mi.UUID {
			panic(fmt.Sprintf("manifest index %s/%s not present in cluster state", mi.Name, mi.UUID))
		}
	}
}
