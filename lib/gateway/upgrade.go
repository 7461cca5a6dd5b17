package gateway

import (
	"fmt"

	"metastate/lib/cluster"
)

// TemplateUpgrader rewrites the template set during the startup metadata
// upgrade. Plugins contribute upgraders to migrate their template formats.
type TemplateUpgrader func(templates map[string]cluster.TemplateMetadata) map[string]cluster.TemplateMetadata

// MetadataUpgrader runs the startup compatibility upgrade over loaded
// metadata: every index is checked against the supported version range and
// stamped with the current product version, and the registered template
// upgraders are applied.
type MetadataUpgrader struct {
	TemplateUpgraders []TemplateUpgrader
}

// UpgradeMetadata returns the upgraded metadata and whether anything
// changed. The upgrade is idempotent: metadata already stamped with the
// current version passes through unchanged.
func (u MetadataUpgrader) UpgradeMetadata(metadata cluster.Metadata) (cluster.Metadata, bool, error) {
	changed := false

	indices := metadata.CopyIndices()
	for name, im := range indices {
		upgraded, indexChanged, err := upgradeIndexMetadata(im)
		if err != nil {
			return cluster.Metadata{}, false, err
		}
		if indexChanged {
			indices[name] = upgraded
			changed = true
		}
	}
	if changed {
		metadata = metadata.WithIndices(indices)
	}

	templates := metadata.CopyTemplates()
	templatesChanged := false
	for _, upgrader := range u.TemplateUpgraders {
		templates = upgrader(templates)
		templatesChanged = true
	}
	if templatesChanged && !templatesEqual(metadata.Templates, templates) {
		metadata = metadata.WithTemplates(templates)
		changed = true
	}

	return metadata, changed, nil
}

// upgradeIndexMetadata verifies the index was created recently enough to be
// readable by this version and stamps it with the current product version.
// Indices created more than one major version back must be upgraded by an
// intermediate release first; major 0 marks a pre-release (or unparseable)
// created version, which no stable release can read.
func upgradeIndexMetadata(im cluster.IndexMetadata) (cluster.IndexMetadata, bool, error) {
	currentMajor := cluster.MajorOf(cluster.CurrentVersion)
	createdMajor := cluster.MajorOf(im.CreatedVersion)
	if createdMajor == 0 || createdMajor < currentMajor-1 {
		return cluster.IndexMetadata{}, false, fmt.Errorf(
			"index %s was created with version %s, which is incompatible with version %s; upgrade it with an intermediate release first",
			im.Name, im.CreatedVersion, cluster.CurrentVersion)
	}
	if im.UpgradedVersion == cluster.CurrentVersion {
		return im, false, nil
	}
	im.UpgradedVersion = cluster.CurrentVersion
	return im, true, nil
}

func templatesEqual(a, b map[string]cluster.TemplateMetadata) bool {
	if len(a) != len(b) {
		return false
	}
	for name, ta := range a {
		tb, ok := b[name]
		if !ok || ta.Name != tb.Name || ta.Order != tb.Order {
			return false
		}
		if len(ta.Patterns) != len(tb.Patterns) || len(ta.Settings) != len(tb.Settings) {
			return false
		}
		for i, p := range ta.Patterns {
			if tb.Patterns[i] != p {
				return false
			}
		}
		for k, v := range ta.Settings {
			if tb.Settings[k] != v {
				return false
			}
		}
	}
	return true
}
