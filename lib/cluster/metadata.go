package cluster

import (
	"github.com/google/uuid"
)

// UnknownClusterUUID marks a metadata instance whose cluster UUID has not yet
// been established (fresh node, or metadata restored without a UUID).
const UnknownClusterUUID = "_na_"

// CoordinationMetadata is the consensus bookkeeping carried inside Metadata:
// the term under which the state was accepted and the last accepted and
// committed voting configurations.
type CoordinationMetadata struct {
	Term                       uint64              `json:"term"`
	LastAcceptedConfiguration  VotingConfiguration `json:"last_accepted_configuration"`
	LastCommittedConfiguration VotingConfiguration `json:"last_committed_configuration"`
}

// IndexMetadata describes one index: identity, a per-index version counter
// that increases with every metadata change, and the settings the index was
// created with. CreatedVersion is the product version that created the index,
// UpgradedVersion the product version that last ran a compatibility upgrade.
type IndexMetadata struct {
	Name            string            `json:"name"`
	UUID            string            `json:"uuid"`
	Version         uint64            `json:"version"`
	NumberOfShards  int               `json:"number_of_shards"`
	CreatedVersion  string            `json:"created_version"`
	UpgradedVersion string            `json:"upgraded_version,omitempty"`
	Settings        map[string]string `json:"settings,omitempty"`
}

// TemplateMetadata describes one index template.
type TemplateMetadata struct {
	Name     string            `json:"name"`
	Patterns []string          `json:"patterns"`
	Order    int               `json:"order"`
	Settings map[string]string `json:"settings,omitempty"`
}

// Metadata is the durable description of the cluster: identity, indices,
// templates, persistent settings and coordination bookkeeping. Treated as an
// immutable value; the With* helpers return modified copies.
type Metadata struct {
	ClusterUUID          string                      `json:"cluster_uuid"`
	ClusterUUIDCommitted bool                        `json:"cluster_uuid_committed"`
	Indices              map[string]IndexMetadata    `json:"indices,omitempty"`
	Templates            map[string]TemplateMetadata `json:"templates,omitempty"`
	Settings             map[string]string           `json:"settings,omitempty"`
	Coordination         CoordinationMetadata        `json:"coordination"`
}

// EmptyMetadata returns metadata with an unknown cluster UUID and no content.
func EmptyMetadata() Metadata {
	return Metadata{ClusterUUID: UnknownClusterUUID}
}

// IsEmpty reports whether the metadata carries no durable content at all.
func (m Metadata) IsEmpty() bool {
	return (m.ClusterUUID == "" || m.ClusterUUID == UnknownClusterUUID) &&
		len(m.Indices) == 0 && len(m.Templates) == 0 && len(m.Settings) == 0 &&
		m.Coordination.Term == 0
}

// WithCoordination returns a copy with the given coordination metadata.
func (m Metadata) WithCoordination(c CoordinationMetadata) Metadata {
	m.Coordination = c
	return m
}

// WithClusterUUIDCommitted returns a copy with the committed flag set.
func (m Metadata) WithClusterUUIDCommitted(committed bool) Metadata {
	m.ClusterUUIDCommitted = committed
	return m
}

// WithIndices returns a copy holding the given index set.
func (m Metadata) WithIndices(indices map[string]IndexMetadata) Metadata {
	m.Indices = indices
	return m
}

// WithTemplates returns a copy holding the given template set.
func (m Metadata) WithTemplates(templates map[string]TemplateMetadata) Metadata {
	m.Templates = templates
	return m
}

// WithSettings returns a copy holding the given persistent settings.
func (m Metadata) WithSettings(settings map[string]string) Metadata {
	m.Settings = settings
	return m
}

// GenerateClusterUUIDIfNeeded returns a copy with a freshly generated cluster
// UUID if the current one is unknown, or the metadata unchanged otherwise.
func (m Metadata) GenerateClusterUUIDIfNeeded() Metadata {
	if m.ClusterUUID != "" && m.ClusterUUID != UnknownClusterUUID {
		return m
	}
	m.ClusterUUID = uuid.NewString()
	m.ClusterUUIDCommitted = false
	return m
}

// SansIndices returns a copy without the index set. This is the "global"
// document written separately from the per-index documents.
func (m Metadata) SansIndices() Metadata {
	m.Indices = nil
	return m
}

// CopyIndices returns a shallow copy of the index map, suitable as the basis
// for a modified index set.
func (m Metadata) CopyIndices() map[string]IndexMetadata {
	indices := make(map[string]IndexMetadata, len(m.Indices))
	for name, im := range m.Indices {
		indices[name] = im
	}
	return indices
}

// CopyTemplates returns a shallow copy of the template map.
func (m Metadata) CopyTemplates() map[string]TemplateMetadata {
	templates := make(map[string]TemplateMetadata, len(m.Templates))
	for name, tm := range m.Templates {
		templates[name] = tm
	}
	return templates
}
