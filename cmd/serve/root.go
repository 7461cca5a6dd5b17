package serve

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/lni/dragonboat/v4/logger"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	cmdUtil "metastate/cmd/util"
	"metastate/lib/config"
	"metastate/lib/gateway"
	"metastate/lib/logging"
	"metastate/lib/remote"
	"metastate/lib/storage"
)

var (
	log = logger.GetLogger("cmd")

	serveCmdConfig = &config.Config{}
	ServeCmd       = &cobra.Command{
		Use:     "serve",
		Short:   "Start a metastate node",
		Long:    `Start a metastate node with the specified configuration. The configuration can be set via command line flags or environment variables. The format of the environment variables is METASTATE_<flag> (e.g. METASTATE_DATA_DIR=/var/lib/metastate)`,
		PreRunE: processConfig,
		RunE:    run,
	}
)

func init() {
	// initialize viper
	cobra.OnInitialize(cmdUtil.InitEnvConfig)

	// add flags
	key := "node-id"
	ServeCmd.PersistentFlags().String(key, "", cmdUtil.WrapString("Unique identifier of this node (e.g. 'node-1')"))

	key = "cluster-name"
	ServeCmd.PersistentFlags().String(key, "metastate", cmdUtil.WrapString("Name of the cluster this node belongs to"))

	key = "roles"
	ServeCmd.PersistentFlags().String(key, "voting,data", cmdUtil.WrapString("Comma-separated list of node roles. Valid roles: voting, data. An empty list makes this a coordinating-only node that holds no durable cluster state"))

	key = "data-dir"
	ServeCmd.PersistentFlags().String(key, "data", cmdUtil.WrapString("Directory used for storing the on-disk cluster state. May be empty on coordinating-only nodes"))

	key = "remote-state-enabled"
	ServeCmd.PersistentFlags().Bool(key, false, cmdUtil.WrapString("Whether cluster state is additionally persisted to a remote store"))

	key = "remote-dir"
	ServeCmd.PersistentFlags().String(key, "", cmdUtil.WrapString("Root directory of the remote blob store (required when remote state is enabled)"))

	key = "remote-publication-enabled"
	ServeCmd.PersistentFlags().Bool(key, false, cmdUtil.WrapString("Whether followers receive published state through the remote store. This widens the conditions under which incremental remote writes are allowed across term changes"))

	key = "log-level"
	ServeCmd.PersistentFlags().String(key, "info", cmdUtil.WrapString("LogLevel is the level at which logs will be output (debug, info, warn, error)"))
}

// processConfig reads the configuration from the command line flags and environment variables and converts them to the node configuration
func processConfig(cmd *cobra.Command, _ []string) error {
	// bind the flags to viper
	if err := cmdUtil.BindCommandFlags(cmd); err != nil {
		return err
	}

	// parse roles
	roles, err := config.ParseRoles(viper.GetString("roles"))
	if err != nil {
		return err
	}
	serveCmdConfig.Roles = roles

	// read the configuration from the command line flags and environment variables
	serveCmdConfig.NodeID = viper.GetString("node-id")
	serveCmdConfig.ClusterName = viper.GetString("cluster-name")
	serveCmdConfig.DataDir = viper.GetString("data-dir")
	serveCmdConfig.RemoteStateEnabled = viper.GetBool("remote-state-enabled")
	serveCmdConfig.RemoteDir = viper.GetString("remote-dir")
	serveCmdConfig.RemotePublicationEnabled = viper.GetBool("remote-publication-enabled")
	serveCmdConfig.LogLevel = viper.GetString("log-level")

	// validate
	if serveCmdConfig.NodeID == "" {
		return fmt.Errorf("node-id is required")
	}
	if serveCmdConfig.DataDir == "" && !serveCmdConfig.IsCoordinatingOnlyNode() {
		return fmt.Errorf("data-dir is required for voting and data nodes")
	}
	if serveCmdConfig.RemoteStateEnabled && serveCmdConfig.RemoteDir == "" {
		return fmt.Errorf("remote-dir is required when remote state is enabled")
	}

	return nil
}

// run starts the metastate node
func run(_ *cobra.Command, _ []string) error {
	logging.InitLoggers(serveCmdConfig.LogLevel)
	fmt.Println(serveCmdConfig.String())

	// local document store (optional on coordinating-only nodes)
	var store gateway.IStateStorage
	var storageSvc *storage.Service
	if serveCmdConfig.DataDir != "" {
		svc, err := storage.NewService(serveCmdConfig.DataDir, serveCmdConfig.NodeID)
		if err != nil {
			return fmt.Errorf("opening document store: %w", err)
		}
		storageSvc = svc
		store = gateway.StorageAdapter{Svc: svc}
	}

	// remote state service (optional)
	var remoteSvc gateway.IRemoteStateService
	var restoreSvc gateway.IRemoteRestoreService
	if serveCmdConfig.RemoteStateEnabled {
		blobs, err := remote.NewFSBlobStore(serveCmdConfig.RemoteDir)
		if err != nil {
			return fmt.Errorf("opening remote blob store: %w", err)
		}
		svc := remote.NewService(serveCmdConfig.ClusterName, blobs, serveCmdConfig.RemotePublicationEnabled)
		remoteSvc = svc
		restoreSvc = remote.NewRestoreService(svc)
	}

	g := gateway.NewGatewayState(serveCmdConfig)
	if err := g.Start(store, remoteSvc, restoreSvc, gateway.MetadataUpgrader{}); err != nil {
		if storageSvc != nil {
			_ = storageSvc.Close()
		}
		if gateway.IsFatal(err) {
			fmt.Fprintf(os.Stderr, "cannot start without consistent cluster state: %v\n", err)
			os.Exit(1)
		}
		return err
	}

	ps := g.GetPersistedState()
	log.Infof("node started (term=%d, state version=%d, cluster UUID=%s)",
		ps.GetCurrentTerm(), ps.GetLastAcceptedState().Version, g.GetMetadata().ClusterUUID)

	// wait for shutdown
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	if err := g.Close(); err != nil {
		return fmt.Errorf("closing persisted states: %w", err)
	}
	if storageSvc != nil {
		return storageSvc.Close()
	}
	return nil
}
