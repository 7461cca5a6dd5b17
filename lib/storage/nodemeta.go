package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"metastate/lib/cluster"
)

const nodeMetadataFile = "node-metadata.json"

// WriteNodeMetadata records the node id and product version next to the
// cluster state. Written after every successful state install so a later
// downgrade can be detected at boot.
func (s *Service) WriteNodeMetadata(meta cluster.NodeMetadata) error {
	data, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	path := s.fs.PathJoin(s.dataPath, nodeMetadataFile)
	f, err := s.fs.Create(path)
	if err != nil {
		return fmt.Errorf("writing node metadata: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return fmt.Errorf("writing node metadata: %w", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return fmt.Errorf("syncing node metadata: %w", err)
	}
	return f.Close()
}

// LoadNodeMetadata reads back the node metadata document, reporting whether
// one exists. State written by a newer major version fails the load: starting
// on such state would be a downgrade.
func (s *Service) LoadNodeMetadata() (cluster.NodeMetadata, bool, error) {
	path := s.fs.PathJoin(s.dataPath, nodeMetadataFile)
	f, err := s.fs.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cluster.NodeMetadata{}, false, nil
		}
		return cluster.NodeMetadata{}, false, err
	}
	defer func() { _ = f.Close() }()

	data, err := io.ReadAll(f)
	if err != nil {
		return cluster.NodeMetadata{}, false, err
	}
	var meta cluster.NodeMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return cluster.NodeMetadata{}, false, fmt.Errorf("decoding node metadata: %w", err)
	}
	if cluster.MajorOf(meta.ProductVersion) > cluster.MajorOf(cluster.CurrentVersion) {
		return cluster.NodeMetadata{}, false, fmt.Errorf(
			"node state was written by version %s, cannot downgrade to %s",
			meta.ProductVersion, cluster.CurrentVersion,
		)
	}
	return meta, true, nil
}
