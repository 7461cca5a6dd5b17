package gateway

import (
	"strings"

	"metastate/lib/cluster"
)

// State preparation transforms applied to the loaded metadata before it is
// handed to the selected persisted-state implementation.

// SettingDisableStatePersistence is the persistent setting that suppresses
// persistence of applied states while set to "true".
const SettingDisableStatePersistence = "cluster.blocks.state_persistence.disabled"

// archivedSettingPrefix marks persistent settings that were not recognised by
// this version. Archiving instead of dropping keeps them recoverable after a
// downgrade or a fix.
const archivedSettingPrefix = "archived."

// knownSettingPrefixes covers every setting namespace this version accepts.
var knownSettingPrefixes = []string{
	"cluster.",
	"gateway.",
	"remote_store.",
}

// AddStateNotRecoveredBlock marks the state as not yet recovered. The block
// is lifted once the coordination layer completes its first recovery.
func AddStateNotRecoveredBlock(state cluster.ClusterState) cluster.ClusterState {
	blocks := state.Blocks
	blocks.StateNotRecovered = true
	return state.WithBlocks(blocks)
}

// SetLocalNode records the local node's identity in the state's node view.
func SetLocalNode(state cluster.ClusterState, nodeID string) cluster.ClusterState {
	nodes := state.Nodes
	nodes.LocalNodeID = nodeID
	return state.WithNodes(nodes)
}

// RecoverClusterBlocks derives the persistence-relevant blocks from the
// loaded persistent settings.
func RecoverClusterBlocks(state cluster.ClusterState) cluster.ClusterState {
	blocks := state.Blocks
	blocks.DisableStatePersistence = state.Metadata.Settings[SettingDisableStatePersistence] == "true"
	return state.WithBlocks(blocks)
}

// UpgradeAndArchiveUnknownOrInvalidSettings renames persistent settings this
// version does not recognise with the archived prefix, leaving already
// archived entries alone. Returns the state unchanged if every setting is
// known.
func UpgradeAndArchiveUnknownOrInvalidSettings(state cluster.ClusterState) cluster.ClusterState {
	settings := state.Metadata.Settings
	changed := false
	upgraded := make(map[string]string, len(settings))
	for key, value := range settings {
		if strings.HasPrefix(key, archivedSettingPrefix) || isKnownSetting(key) {
			upgraded[key] = value
			continue
		}
		log.Warningf("archiving unknown persistent setting %s", key)
		upgraded[archivedSettingPrefix+key] = value
		changed = true
	}
	if !changed {
		return state
	}
	return state.WithMetadata(state.Metadata.WithSettings(upgraded))
}

func isKnownSetting(key string) bool {
	for _, prefix := range knownSettingPrefixes {
		if strings.HasPrefix(key, prefix) {
			return true
		}
	}
	return false
}
