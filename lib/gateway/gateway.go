package gateway

import (
	"fmt"
	"time"

	"metastate/lib/cluster"
	"metastate/lib/config"
)

const (
	restoreRetryAttempts     = 5
	restoreRetryInitialDelay = 200 * time.Millisecond
)

// GatewayState is the startup orchestrator: it loads the best available
// state from disk (falling back to the legacy format and, when configured,
// the remote store), upgrades the metadata, selects the persisted-state
// implementation matching the node's roles and afterwards feeds every
// applied cluster-state transition into it.
type GatewayState struct {
	cfg      *config.Config
	registry *PersistedStateRegistry

	persistedState IPersistedState
	started        bool

	// sleep is replaceable so restore-retry backoff is testable.
	sleep func(time.Duration)
}

// NewGatewayState creates an unstarted gateway for the given node
// configuration.
func NewGatewayState(cfg *config.Config) *GatewayState {
	return &GatewayState{
		cfg:      cfg,
		registry: NewPersistedStateRegistry(),
		sleep:    time.Sleep,
	}
}

// Start loads, upgrades and installs the node's persisted state. remoteSvc
// and restoreSvc may be nil when the remote store is not configured;
// upgrader contributes the metadata upgrade. A FatalError from Start means
// the node must not continue running.
func (g *GatewayState) Start(
	store IStateStorage,
	remoteSvc IRemoteStateService,
	restoreSvc IRemoteRestoreService,
	upgrader MetadataUpgrader,
) error {
	if g.started {
		return fmt.Errorf("gateway already started")
	}

	if store != nil {
		// Refuse to start on state written by a newer release.
		if _, _, err := store.LoadNodeMetadata(); err != nil {
			return NewFatalError(fmt.Errorf("checking node metadata: %w", err))
		}
	}

	if g.cfg.IsCoordinatingOnlyNode() {
		if err := g.startCoordinatingOnly(store); err != nil {
			return err
		}
		g.started = true
		return nil
	}

	onDisk, err := store.LoadBestOnDiskState()
	if err != nil {
		return NewFatalError(fmt.Errorf("loading on-disk state: %w", err))
	}
	if onDisk.Empty() {
		// Nothing in the document store; a node upgraded from an old release
		// may still carry state in the legacy format.
		legacy, found, err := store.LoadLegacyState()
		if err != nil {
			return NewFatalError(fmt.Errorf("loading legacy state: %w", err))
		}
		if found {
			log.Infof("loaded state from legacy format (term=%d version=%d)",
				legacy.CurrentTerm, legacy.LastAcceptedVersion)
			onDisk = legacy
		}
	}

	currentTerm := onDisk.CurrentTerm
	state := cluster.NewClusterState(g.cfg.ClusterName, onDisk.LastAcceptedVersion, onDisk.Metadata)

	// Seeds the remote manifest lineage. It stays unknown unless the remote
	// store reports a previous incarnation of this cluster below; a known
	// local UUID must not become its own predecessor.
	lastKnownUUID := cluster.UnknownClusterUUID

	if remoteSvc != nil && g.cfg.IsVotingEligibleNode() &&
		(state.Metadata.ClusterUUID == "" || state.Metadata.ClusterUUID == cluster.UnknownClusterUUID) {
		// The local store knows no cluster; the remote store may. Restore the
		// most recent committed state before joining elections on nothing.
		remoteUUID, err := remoteSvc.GetLastKnownUUID(g.cfg.ClusterName)
		if err != nil {
			return NewFatalError(fmt.Errorf("looking up last known cluster UUID: %w", err))
		}
		if remoteUUID != cluster.UnknownClusterUUID {
			lastKnownUUID = remoteUUID
			restored, err := g.restoreClusterStateWithRetries(restoreSvc, remoteUUID)
			if err != nil {
				return err
			}
			state = restored
		}
	}

	upgradedMetadata, _, err := upgrader.UpgradeMetadata(state.Metadata)
	if err != nil {
		return NewFatalError(fmt.Errorf("upgrading metadata: %w", err))
	}
	state = g.prepareInitialClusterState(state.WithMetadata(upgradedMetadata))

	persistedState, err := g.createPersistedState(store, currentTerm, state)
	if err != nil {
		return NewFatalError(err)
	}
	if err := g.registry.Add(PersistedStateTypeLocal, persistedState); err != nil {
		_ = persistedState.Close()
		return err
	}
	g.persistedState = persistedState

	if remoteSvc != nil && g.cfg.IsVotingEligibleNode() {
		remoteState := NewRemotePersistedState(remoteSvc, lastKnownUUID)
		if err := g.registry.Add(PersistedStateTypeRemote, remoteState); err != nil {
			return err
		}
	}

	if err := store.WriteNodeMetadata(cluster.NodeMetadata{
		NodeID:         store.NodeID(),
		ProductVersion: cluster.CurrentVersion,
	}); err != nil {
		return NewFatalError(fmt.Errorf("writing node metadata: %w", err))
	}

	g.started = true
	return nil
}

// startCoordinatingOnly installs an in-memory persisted state. When a data
// directory is configured anyway, an empty state is written in the current
// format so a later role change finds the store initialised rather than in a
// stale or legacy layout.
func (g *GatewayState) startCoordinatingOnly(store IStateStorage) error {
	state := g.prepareInitialClusterState(
		cluster.NewClusterState(g.cfg.ClusterName, 0, cluster.EmptyMetadata()))

	if store != nil {
		writer, err := store.CreateWriter()
		if err != nil {
			return NewFatalError(fmt.Errorf("initialising store on coordinating-only node: %w", err))
		}
		err = writer.WriteFullStateAndCommit(0, state)
		if closeErr := writer.Close(); err == nil {
			err = closeErr
		}
		if err != nil {
			return NewFatalError(fmt.Errorf("writing empty state on coordinating-only node: %w", err))
		}
		if err := store.WriteNodeMetadata(cluster.NodeMetadata{
			NodeID:         store.NodeID(),
			ProductVersion: cluster.CurrentVersion,
		}); err != nil {
			return NewFatalError(fmt.Errorf("writing node metadata: %w", err))
		}
	}

	persistedState := NewInMemoryPersistedState(0, state)
	if err := g.registry.Add(PersistedStateTypeLocal, persistedState); err != nil {
		return err
	}
	g.persistedState = persistedState
	return nil
}

// prepareInitialClusterState applies the startup transforms: the
// not-recovered block, the local node identity, archival of unknown settings
// and block recovery from persistent settings.
func (g *GatewayState) prepareInitialClusterState(state cluster.ClusterState) cluster.ClusterState {
	state = AddStateNotRecoveredBlock(state)
	state = SetLocalNode(state, g.cfg.NodeID)
	state = UpgradeAndArchiveUnknownOrInvalidSettings(state)
	state = RecoverClusterBlocks(state)
	return state
}

// createPersistedState picks the implementation matching the node's roles:
// synchronous local persistence for voting-eligible nodes, the async
// decorator for data nodes.
func (g *GatewayState) createPersistedState(store IStateStorage, term uint64, state cluster.ClusterState) (IPersistedState, error) {
	local, err := NewLocalPersistedState(store, term, state)
	if err != nil {
		return nil, fmt.Errorf("creating local persisted state: %w", err)
	}
	if g.cfg.IsVotingEligibleNode() {
		return local, nil
	}
	return NewAsyncPersistedState(local), nil
}

// restoreClusterStateWithRetries restores from the remote store, retrying
// transient failures with doubling backoff. Exhausting the retries is fatal:
// the node knows committed state exists remotely and must not boot blank.
func (g *GatewayState) restoreClusterStateWithRetries(restoreSvc IRemoteRestoreService, clusterUUID string) (cluster.ClusterState, error) {
	if restoreSvc == nil {
		return cluster.ClusterState{}, NewFatalError(
			fmt.Errorf("remote state for cluster UUID %s exists but no restore service is configured", clusterUUID))
	}
	base := cluster.NewClusterState(g.cfg.ClusterName, 0, cluster.EmptyMetadata())

	delay := restoreRetryInitialDelay
	var lastErr error
	for attempt := 1; attempt <= restoreRetryAttempts; attempt++ {
		restored, err := restoreSvc.Restore(base, clusterUUID)
		if err == nil {
			log.Infof("restored cluster state from remote store (cluster UUID %s, version %d)",
				clusterUUID, restored.Version)
			return restored, nil
		}
		lastErr = err
		log.Warningf("remote state restore attempt %d/%d failed: %v", attempt, restoreRetryAttempts, err)
		if attempt < restoreRetryAttempts {
			g.sleep(delay)
			delay *= 2
		}
	}
	return cluster.ClusterState{}, NewFatalError(
		fmt.Errorf("restoring cluster state from remote store for cluster UUID %s: %w", clusterUUID, lastErr))
}

// --------------------------------------------------------------------------
// Applier
// --------------------------------------------------------------------------

// ApplyClusterState feeds an applied cluster-state transition into the
// persisted state. While state persistence is disabled by a block, the write
// is skipped and the next persisted state is forced to be written fully,
// since the skipped transitions invalidate incremental diffing.
func (g *GatewayState) ApplyClusterState(state cluster.ClusterState) {
	if !g.started {
		return
	}
	if state.Blocks.DisableStatePersistence {
		if forcer, ok := g.persistedState.(IFullRewriteForcer); ok {
			forcer.ForceWriteNextStateFully()
		}
		return
	}
	if term := state.Term(); term > g.persistedState.GetCurrentTerm() {
		if err := g.persistedState.SetCurrentTerm(term); err != nil {
			log.Warningf("failed to persist term %d: %v", term, err)
			return
		}
	}
	if err := g.persistedState.SetLastAcceptedState(state); err != nil {
		log.Warningf("failed to persist cluster state version %d: %v", state.Version, err)
	}
}

// --------------------------------------------------------------------------
// Accessors and shutdown
// --------------------------------------------------------------------------

// GetPersistedState returns the node's primary persisted state.
func (g *GatewayState) GetPersistedState() IPersistedState {
	return g.persistedState
}

// GetMetadata returns the metadata of the last accepted state.
func (g *GatewayState) GetMetadata() cluster.Metadata {
	return g.persistedState.GetLastAcceptedState().Metadata
}

// Registry returns the persisted-state registry.
func (g *GatewayState) Registry() *PersistedStateRegistry {
	return g.registry
}

// AllPendingAsyncStatesWritten reports whether no asynchronous write is
// queued or running. Always true for synchronous implementations.
func (g *GatewayState) AllPendingAsyncStatesWritten() bool {
	if async, ok := g.persistedState.(*AsyncPersistedState); ok {
		return async.AllPendingAsyncStatesWritten()
	}
	return true
}

// Close closes every registered persisted state.
func (g *GatewayState) Close() error {
	return g.registry.Close()
}
