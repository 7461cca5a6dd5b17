// Package cmd implements the command-line interface for the metastate
// cluster-state manager.
//
// The package is organized into subpackages:
//
//   - serve: Commands for starting and configuring a metastate node
//   - util: Shared utilities for command-line processing and configuration (internal use)
//
// See metastate -help for a list of all commands.
package cmd
