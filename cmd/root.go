package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"metastate/cmd/serve"
	"metastate/lib/cluster"
)

var (

	// RootCmd represents the base command when called without any subcommands
	RootCmd = &cobra.Command{
		Use:   "metastate",
		Short: "persisted cluster-state manager",
		Long: fmt.Sprintf(`metastate (v%s)

A cluster-state persistence layer written in Go: it loads, upgrades and
durably stores cluster metadata across restarts, locally and in a remote
store.`, cluster.CurrentVersion),
	}
	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of metastate",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("metastate v%s\n", cluster.CurrentVersion)
		},
	}
)

func init() {
	// Add Commands
	RootCmd.AddCommand(serve.ServeCmd)
	RootCmd.AddCommand(versionCmd)
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the RootCmd.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
