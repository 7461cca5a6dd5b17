package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"metastate/lib/cluster"
)

// The legacy loader reads the single-file state format written before the
// document store existed. It is only consulted when the document store is
// empty, and only below this major-version ceiling; from that version on the
// old format can no longer occur in the field.
const legacyLoaderMajorCeiling = 4

const legacyStateFile = "legacy-state.json"

// legacyState is the old on-disk format: one JSON file carrying everything.
type legacyState struct {
	CurrentTerm         uint64           `json:"current_term"`
	LastAcceptedVersion uint64           `json:"last_accepted_version"`
	Metadata            cluster.Metadata `json:"metadata"`
}

// LoadLegacyState attempts the legacy-format fallback. It reports found=false
// when the running version is past the ceiling or no legacy file exists.
func (s *Service) LoadLegacyState() (OnDiskState, bool, error) {
	if cluster.MajorOf(cluster.CurrentVersion) >= legacyLoaderMajorCeiling {
		return OnDiskState{}, false, nil
	}
	path := s.fs.PathJoin(s.dataPath, legacyStateFile)
	f, err := s.fs.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return OnDiskState{}, false, nil
		}
		return OnDiskState{}, false, err
	}
	defer func() { _ = f.Close() }()

	data, err := io.ReadAll(f)
	if err != nil {
		return OnDiskState{}, false, err
	}
	var legacy legacyState
	if err := json.Unmarshal(data, &legacy); err != nil {
		return OnDiskState{}, false, fmt.Errorf("decoding legacy state: %w", err)
	}
	log.Warningf("loaded cluster state from legacy format at %s", path)
	return OnDiskState{
		NodeID:              s.nodeID,
		CurrentTerm:         legacy.CurrentTerm,
		LastAcceptedVersion: legacy.LastAcceptedVersion,
		Metadata:            legacy.Metadata,
	}, true, nil
}
