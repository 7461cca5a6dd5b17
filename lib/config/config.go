// Package config holds the node configuration for the metastate server.
package config

import (
	"fmt"
	"strings"
)

// --------------------------------------------------------------------------
// Node roles
// --------------------------------------------------------------------------

type NodeRole string

const (
	// RoleVoting marks a voting-eligible node: it participates in elections
	// and persists state synchronously on the consensus-apply path.
	RoleVoting NodeRole = "voting"
	// RoleData marks a data node: it holds local data paths and persists
	// state asynchronously so the apply path never blocks on disk commits.
	RoleData NodeRole = "data"
)

// ParseRoles parses a comma-separated role list ("voting,data"). An empty
// string yields no roles (a coordinating-only node).
func ParseRoles(roles string) ([]NodeRole, error) {
	if strings.TrimSpace(roles) == "" {
		return nil, nil
	}
	var parsed []NodeRole
	for _, role := range strings.Split(roles, ",") {
		switch r := NodeRole(strings.TrimSpace(role)); r {
		case RoleVoting, RoleData:
			parsed = append(parsed, r)
		default:
			return nil, fmt.Errorf("invalid node role: %s (expected one of: voting, data)", role)
		}
	}
	return parsed, nil
}

// --------------------------------------------------------------------------
// Server configuration struct
// --------------------------------------------------------------------------

// Config holds all configuration parameters for a metastate node.
type Config struct {
	// Node identity
	NodeID      string
	ClusterName string
	Roles       []NodeRole

	// Local storage parameters
	DataDir string

	// Remote store parameters
	RemoteStateEnabled       bool
	RemoteDir                string
	RemotePublicationEnabled bool

	// Logging configuration
	LogLevel string
}

// IsVotingEligibleNode returns whether the node may participate in elections.
func (c *Config) IsVotingEligibleNode() bool {
	return c.hasRole(RoleVoting)
}

// IsDataNode returns whether the node holds local data paths.
func (c *Config) IsDataNode() bool {
	return c.hasRole(RoleData)
}

// IsCoordinatingOnlyNode returns whether the node carries no durable state.
func (c *Config) IsCoordinatingOnlyNode() bool {
	return !c.IsVotingEligibleNode() && !c.IsDataNode()
}

func (c *Config) hasRole(role NodeRole) bool {
	for _, r := range c.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// String returns a formatted string representation of the configuration
func (c *Config) String() string {
	var sb strings.Builder

	// Create helper functions for consistent formatting
	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	// Node identity
	addSection("Node Identity")
	addField("Node ID", c.NodeID)
	addField("Cluster Name", c.ClusterName)
	roles := make([]string, 0, len(c.Roles))
	for _, r := range c.Roles {
		roles = append(roles, string(r))
	}
	if len(roles) == 0 {
		addField("Roles", "coordinating-only")
	} else {
		addField("Roles", strings.Join(roles, ", "))
	}

	// Storage
	addSection("Storage")
	addField("Data Directory", c.DataDir)

	// Remote store
	addSection("Remote Store")
	addField("Enabled", fmt.Sprintf("%t", c.RemoteStateEnabled))
	if c.RemoteStateEnabled {
		addField("Remote Directory", c.RemoteDir)
		addField("Remote Publication", fmt.Sprintf("%t", c.RemotePublicationEnabled))
	}

	// Logging configuration
	addSection("Logging")
	addField("Log Level", c.LogLevel)

	return sb.String()
}
