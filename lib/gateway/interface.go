package gateway

import (
	"errors"
	"fmt"

	"metastate/lib/cluster"
	"metastate/lib/storage"
)

// --------------------------------------------------------------------------
// Interface Definition
// --------------------------------------------------------------------------

// IPersistedState is the contract between the coordination layer and the
// persistence layer. On every accepted transition the coordination layer
// calls SetCurrentTerm followed by SetLastAcceptedState; on commit it calls
// MarkLastAcceptedStateAsCommitted.
//
// The persisted term is always durable no later than the state accepted
// under it, and never below the term embedded in the persisted state.
type IPersistedState interface {
	// GetCurrentTerm returns the last term handed to SetCurrentTerm.
	GetCurrentTerm() uint64
	// GetLastAcceptedState returns the last accepted cluster state.
	GetLastAcceptedState() cluster.ClusterState
	// SetCurrentTerm records a new consensus term. Terms are monotonic
	// non-decreasing.
	SetCurrentTerm(term uint64) error
	// SetLastAcceptedState records a newly accepted cluster state.
	SetLastAcceptedState(state cluster.ClusterState) error
	// MarkLastAcceptedStateAsCommitted marks the last accepted state as
	// committed, folding the voting-configuration commit and the cluster
	// UUID committed flag into at most one additional write.
	MarkLastAcceptedStateAsCommitted() error
	// GetLastAcceptedManifest returns the manifest of the last remote write,
	// if this implementation produces manifests.
	GetLastAcceptedManifest() (cluster.Manifest, bool)
	// SetLastAcceptedManifest replaces the tracked manifest.
	SetLastAcceptedManifest(manifest cluster.Manifest)
	// GetStats returns write/upload counters.
	GetStats() cluster.PersistedStateStats
	// Close flushes pending writes and releases the underlying resources.
	Close() error
}

// IFullRewriteForcer is implemented by persisted states whose next write can
// be forced to be a full rewrite (used when persistence was skipped for a
// transition and incremental diffing would be unsafe).
type IFullRewriteForcer interface {
	ForceWriteNextStateFully()
}

// --------------------------------------------------------------------------
// Storage-facing interfaces
// --------------------------------------------------------------------------

// IStateWriter is one write session against the on-disk document store.
type IStateWriter interface {
	WriteFullStateAndCommit(term uint64, state cluster.ClusterState) error
	WriteIncrementalTermUpdateAndCommit(term uint64, lastAcceptedVersion uint64) error
	WriteIncrementalStateAndCommit(term uint64, prev, next cluster.ClusterState) error
	IsOpen() bool
	Close() error
}

// IStateStore opens write sessions against the on-disk document store.
type IStateStore interface {
	CreateWriter() (IStateWriter, error)
}

// IStateStorage is the full storage surface the recovery orchestrator needs.
type IStateStorage interface {
	IStateStore
	LoadBestOnDiskState() (storage.OnDiskState, error)
	LoadLegacyState() (storage.OnDiskState, bool, error)
	LoadNodeMetadata() (cluster.NodeMetadata, bool, error)
	WriteNodeMetadata(meta cluster.NodeMetadata) error
	NodeID() string
}

// StorageAdapter adapts a *storage.Service to IStateStorage.
type StorageAdapter struct {
	Svc *storage.Service
}

func (a StorageAdapter) CreateWriter() (IStateWriter, error) {
	writer, err := a.Svc.CreateWriter()
	if err != nil {
		return nil, err
	}
	return writer, nil
}

func (a StorageAdapter) LoadBestOnDiskState() (storage.OnDiskState, error) {
	return a.Svc.LoadBestOnDiskState()
}

func (a StorageAdapter) LoadLegacyState() (storage.OnDiskState, bool, error) {
	return a.Svc.LoadLegacyState()
}

func (a StorageAdapter) LoadNodeMetadata() (cluster.NodeMetadata, bool, error) {
	return a.Svc.LoadNodeMetadata()
}

func (a StorageAdapter) WriteNodeMetadata(meta cluster.NodeMetadata) error {
	return a.Svc.WriteNodeMetadata(meta)
}

func (a StorageAdapter) NodeID() string {
	return a.Svc.NodeID()
}

// --------------------------------------------------------------------------
// Remote-facing interfaces
// --------------------------------------------------------------------------

// IRemoteStateService is the remote blob layer consumed by
// RemotePersistedState and the recovery orchestrator. Implemented by
// remote.Service.
type IRemoteStateService interface {
	GetLastKnownUUID(clusterName string) (string, error)
	GetLatestManifest(clusterName, clusterUUID string) (cluster.ManifestInfo, bool, error)
	WriteFullMetadata(state cluster.ClusterState, previousClusterUUID string) (cluster.ManifestInfo, error)
	WriteIncrementalMetadata(prev, next cluster.ClusterState, prevManifest cluster.Manifest) (cluster.ManifestInfo, error)
	MarkLastStateAsCommitted(state cluster.ClusterState, prevManifest cluster.Manifest, commitVotingConfig bool) (cluster.ManifestInfo, error)
	RemotePublicationEnabled() bool
	WriteMetadataFailed()
	UploadStats() cluster.PersistedStateStats
	Close() error
}

// IRemoteRestoreService restores cluster state from the remote store during
// boot. Implemented by remote.RestoreService.
type IRemoteRestoreService interface {
	Restore(state cluster.ClusterState, clusterUUID string) (cluster.ClusterState, error)
}

// --------------------------------------------------------------------------
// Errors
// --------------------------------------------------------------------------

// ErrAlreadyClosed is returned when a persisted state is used after close.
var ErrAlreadyClosed = errors.New("persisted state has been closed")

// FatalError marks a failure the process must not survive: continuing would
// leave the node running on missing or inconsistent metadata. Callers are
// expected to halt, not recover.
type FatalError struct {
	Err error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("fatal: %v", e.Err)
}

func (e *FatalError) Unwrap() error {
	return e.Err
}

// NewFatalError wraps err as process-halting.
func NewFatalError(err error) error {
	return &FatalError{Err: err}
}

// IsFatal reports whether err carries process-halting intent.
func IsFatal(err error) bool {
	var fatal *FatalError
	return errors.As(err, &fatal)
}

// --------------------------------------------------------------------------
// Shared commit logic
// --------------------------------------------------------------------------

// committedState folds the two independent commit conditions into one state
// change: committing the voting configuration when accepted and committed
// configurations differ, and setting the cluster UUID committed flag when
// the UUID is known but not yet committed. It returns the (possibly
// unchanged) state, whether anything changed and whether the voting
// configuration was committed.
func committedState(state cluster.ClusterState) (cluster.ClusterState, bool, bool) {
	commitVotingConfig := !state.LastAcceptedConfiguration().Equals(state.LastCommittedConfiguration())
	uuidKnown := state.Metadata.ClusterUUID != "" && state.Metadata.ClusterUUID != cluster.UnknownClusterUUID
	commitClusterUUID := uuidKnown && !state.Metadata.ClusterUUIDCommitted

	if !commitVotingConfig && !commitClusterUUID {
		return state, false, false
	}
	metadata := state.Metadata
	if commitVotingConfig {
		coordination := metadata.Coordination
		coordination.LastCommittedConfiguration = coordination.LastAcceptedConfiguration
		metadata = metadata.WithCoordination(coordination)
	}
	if commitClusterUUID {
		metadata = metadata.WithClusterUUIDCommitted(true)
	}
	return state.WithMetadata(metadata), true, commitVotingConfig
}
