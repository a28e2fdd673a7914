package serve

import (
	"context"
	"fmt"
	"os/signal"
	"strings"
	"syscall"
	"time"

	cmdUtil "github.com/ValentinKolb/rKV/cmd/util"
	"github.com/ValentinKolb/rKV/lib/db/util"
	"github.com/ValentinKolb/rKV/rpc/common"
	"github.com/ValentinKolb/rKV/rpc/server"
	"github.com/ValentinKolb/rKV/rpc/transport"
	"github.com/ValentinKolb/rKV/rpc/transport/tcp"
	"github.com/ValentinKolb/rKV/rpc/transport/unix"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	serveCmdConfig = &common.ServerConfig{}
	ServeCmd       = &cobra.Command{
		Use:     "serve",
		Short:   "Start the rKV server",
		Long:    `Start the rKV server with the specified configuration. The configuration can be set via command line flags or environment variables. The format of the environment variables is RKV_<flag> (e.g. RKV_LOG_LEVEL=debug)`,
		PreRunE: processConfig,
		RunE:    run,
	}
)

func init() {
	// initialize viper
	cobra.OnInitialize(cmdUtil.InitConfig)

	// add flags
	key := "endpoint"
	ServeCmd.PersistentFlags().String(key, "0.0.0.0:6379", cmdUtil.WrapString("The address on which the server will listen (e.g. 0.0.0.0:6379 for tcp or /tmp/rkv.sock for unix)"))

	key = "databases"
	ServeCmd.PersistentFlags().Int(key, 16, cmdUtil.WrapString("Number of logical databases (SELECT 0..n-1)"))

	key = "engine"
	ServeCmd.PersistentFlags().String(key, "maple", cmdUtil.WrapString("Storage engine: maple (in-memory) or pebble (durable, requires --data-dir)"))

	key = "mode"
	ServeCmd.PersistentFlags().String(key, "local", cmdUtil.WrapString("local serves a single node store, raft replicates the store across the cluster members"))

	key = "snapshot-file"
	ServeCmd.PersistentFlags().String(key, "", cmdUtil.WrapString("(local mode) File the store is loaded from on startup and written to by SAVE and on shutdown. Empty disables snapshots"))

	key = "active-expire-interval"
	ServeCmd.PersistentFlags().Duration(key, 100*time.Millisecond, cmdUtil.WrapString("Interval of the active expiration cycle"))

	key = "active-expire-budget"
	ServeCmd.PersistentFlags().Int(key, 200, cmdUtil.WrapString("Maximum number of expired keys removed per database and pass of the active expiration cycle"))

	key = "cluster-slots"
	ServeCmd.PersistentFlags().String(key, "", cmdUtil.WrapString("Slot ownership for cluster routing in the format '0-8191=host1:6379,8192-16383=host2:6379'. Empty disables routing"))

	key = "cluster-self"
	ServeCmd.PersistentFlags().String(key, "", cmdUtil.WrapString("The address of this node as it appears in --cluster-slots"))

	key = "max-clients"
	ServeCmd.PersistentFlags().Int(key, 10000, cmdUtil.WrapString("Maximum number of simultaneous client connections (0 = unlimited)"))

	key = "idle-timeout"
	ServeCmd.PersistentFlags().Duration(key, 0, cmdUtil.WrapString("Close client connections that were idle for this long (0 = never)"))

	key = "metrics-endpoint"
	ServeCmd.PersistentFlags().String(key, "", cmdUtil.WrapString("Address of the admin HTTP endpoint serving /metrics, /healthz and /debug/pprof (e.g. 127.0.0.1:9121). Empty disables it"))

	key = "shard-id"
	ServeCmd.PersistentFlags().Uint64(key, 100, cmdUtil.WrapString("(raft mode) ID of the raft shard holding the store"))

	key = "rtt-millisecond"
	ServeCmd.PersistentFlags().Int(key, 100, cmdUtil.WrapString("(raft mode) RTTMillisecond defines the average Round Trip Time (RTT) in milliseconds between two NodeHost instances. \nOther raft configuration parameters (ElectionRTT=value*10, HeartbeatRTT=value*1) are derived from this value"))

	key = "snapshot-entries"
	ServeCmd.PersistentFlags().Int(key, 10000, cmdUtil.WrapString("(raft mode) SnapshotEntries defines how often the state machine should be snapshotted automatically. It is defined in terms of the number of applied Raft log entries. SnapshotEntries can be set to 0 to disable such automatic snapshotting (not recommended)"))

	key = "compaction-overhead"
	ServeCmd.PersistentFlags().Int(key, 5000, cmdUtil.WrapString("(raft mode) CompactionOverhead defines the number of log entries to keep after a snapshot. Recommended value is about 1/2 of SnapshotEntries"))

	key = "data-dir"
	ServeCmd.PersistentFlags().String(key, "data", cmdUtil.WrapString("DataDir is the directory used by the pebble engine and, in raft mode, for the raft log and snapshots"))

	key = "replica-id"
	ServeCmd.PersistentFlags().String(key, "", cmdUtil.WrapString("(raft mode) ReplicaID is the unique identifier for this NodeHost instance (e.g. 'node-1')"))

	key = "cluster-members"
	ServeCmd.PersistentFlags().String(key, "", cmdUtil.WrapString("(raft mode) ClusterMembers is a comma-separated list of NodeHost addresses in the format 'node-1=localhost:63001,node-2=localhost:63002,...'"))

	key = "timeout"
	ServeCmd.PersistentFlags().Int64(key, 5, cmdUtil.WrapString("(raft mode) Timeout of raft proposals and reads in seconds"))

	key = "log-level"
	ServeCmd.PersistentFlags().String(key, "info", cmdUtil.WrapString("LogLevel is the level at which logs will be output (debug, info, warn, error)"))
}

// processConfig reads the configuration from the command line flags and environment variables and converts them to the server configuration
func processConfig(cmd *cobra.Command, _ []string) error {
	// bind the flags to viper
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	// read the configuration from the command line flags and environment variables
	serveCmdConfig.TransportType = viper.GetString("transport")
	serveCmdConfig.Transport = common.ServerTransportConfig{
		Endpoint:   viper.GetString("endpoint"),
		MaxClients: viper.GetInt("max-clients"),
		TCPConf:    common.TCPConf{TCPNoDelay: true, TCPKeepAliveSec: 300, TCPLingerSec: -1},
	}
	serveCmdConfig.IdleTimeout = viper.GetDuration("idle-timeout")
	serveCmdConfig.Mode = common.ServerMode(viper.GetString("mode"))
	serveCmdConfig.Engine = common.EngineType(viper.GetString("engine"))
	serveCmdConfig.Databases = viper.GetInt("databases")
	serveCmdConfig.DataDir = viper.GetString("data-dir")
	serveCmdConfig.SnapshotFile = viper.GetString("snapshot-file")
	serveCmdConfig.ActiveExpireInterval = viper.GetDuration("active-expire-interval")
	serveCmdConfig.ActiveExpireBudget = viper.GetInt("active-expire-budget")
	serveCmdConfig.ClusterSlots = viper.GetString("cluster-slots")
	serveCmdConfig.ClusterSelf = viper.GetString("cluster-self")
	serveCmdConfig.MetricsEndpoint = viper.GetString("metrics-endpoint")
	serveCmdConfig.ShardID = viper.GetUint64("shard-id")
	serveCmdConfig.RTTMillisecond = viper.GetUint64("rtt-millisecond")
	serveCmdConfig.SnapshotEntries = viper.GetUint64("snapshot-entries")
	serveCmdConfig.CompactionOverhead = viper.GetUint64("compaction-overhead")
	serveCmdConfig.TimeoutSecond = viper.GetInt64("timeout")
	serveCmdConfig.LogLevel = viper.GetString("log-level")

	if serveCmdConfig.Databases < 1 {
		return fmt.Errorf("databases must be at least 1")
	}
	switch serveCmdConfig.Mode {
	case common.ServerModeLocal, common.ServerModeRaft:
	default:
		return fmt.Errorf("invalid mode %s (expected local or raft)", serveCmdConfig.Mode)
	}
	switch serveCmdConfig.Engine {
	case common.EngineMaple, common.EnginePebble:
	default:
		return fmt.Errorf("invalid engine %s (expected maple or pebble)", serveCmdConfig.Engine)
	}
	if serveCmdConfig.ClusterSlots != "" && serveCmdConfig.ClusterSelf == "" {
		return fmt.Errorf("cluster-self is required when cluster-slots is set")
	}

	raft := serveCmdConfig.Mode == common.ServerModeRaft

	// parse replica id
	if id := viper.GetString("replica-id"); id != "" {
		serveCmdConfig.ReplicaID = uint64(util.HashString(id, 0))
	} else if raft {
		// error only if cluster mode
		return fmt.Errorf("ReplicaId is required in raft mode")
	}

	// parse cluster members
	if clusterMembers := viper.GetString("cluster-members"); clusterMembers != "" {
		members, err := parseClusterMembers(clusterMembers)
		if err != nil {
			return err
		}
		serveCmdConfig.ClusterMembers = members
	} else if raft {
		// error only if cluster mode
		return fmt.Errorf("ClusterMembers is required in raft mode")
	}

	// test if the replica id is in the cluster members (only for cluster mode)
	if _, ok := serveCmdConfig.ClusterMembers[serveCmdConfig.ReplicaID]; !ok && raft {
		return fmt.Errorf("no address found for replica ID %d in cluster members", serveCmdConfig.ReplicaID)
	}

	return common.InitLoggers(serveCmdConfig.LogLevel)
}

// parseClusterMembers parses 'node-1=host:port,...'. Node names are hashed
// into replica IDs the same way --replica-id is.
func parseClusterMembers(s string) (map[uint64]string, error) {
	members := make(map[uint64]string)
	for _, member := range strings.Split(s, ",") {
		parts := strings.Split(strings.TrimSpace(member), "=")
		if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
			return nil, fmt.Errorf("invalid cluster member format: %s (expected ID=address)", member)
		}
		idHash := uint64(util.HashString(parts[0], 0))
		if _, dup := members[idHash]; dup {
			return nil, fmt.Errorf("duplicate cluster member %s", parts[0])
		}
		members[idHash] = parts[1]
	}
	return members, nil
}

// run starts the rKV server and shuts it down on SIGINT or SIGTERM
func run(_ *cobra.Command, _ []string) error {

	// Parse the transport
	var t transport.IRPCServerTransport
	switch serveCmdConfig.TransportType {
	case "tcp":
		t = tcp.NewTCPServerTransport()
	case "unix":
		t = unix.NewUnixServerTransport()
	default:
		return fmt.Errorf("invalid transport %s", serveCmdConfig.TransportType)
	}

	serv := server.NewRPCServer(*serveCmdConfig, t)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() { errCh <- serv.Serve() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		server.Logger.Infof("Received shutdown signal")
		if err := serv.Shutdown(); err != nil {
			return err
		}
		return <-errCh
	}
}
