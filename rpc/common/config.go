package common

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/lni/dragonboat/v4/config"
)

// --------------------------------------------------------------------------
// helper functions for to interface with Dragonboat (for the server config)
// --------------------------------------------------------------------------

// Dragonboat uses RTT (Round Trip Time) to determine the timing of elections and heartbeats.
// These default values are selected according to the RAFT Paper
const (
	electionRTTFactor  = 10
	heartbeatRTTFactor = 1
)

// ToDragonboatConfig converts the ServerConfig to Dragonboat Config
func (c *ServerConfig) ToDragonboatConfig() config.Config {
	return config.Config{
		ReplicaID:          c.ReplicaID,
		ShardID:            c.ShardID,
		ElectionRTT:        electionRTTFactor,
		HeartbeatRTT:       heartbeatRTTFactor,
		CheckQuorum:        true,
		SnapshotEntries:    c.SnapshotEntries,
		CompactionOverhead: c.CompactionOverhead,
		MaxInMemLogSize:    0,
	}
}

// ToNodeHostConfig creates a NodeHostConfig for Dragonboat
func (c *ServerConfig) ToNodeHostConfig() config.NodeHostConfig {
	return config.NodeHostConfig{
		WALDir:         c.DataDir,
		NodeHostDir:    c.DataDir,
		RTTMillisecond: c.RTTMillisecond,
		RaftAddress:    c.ClusterMembers[c.ReplicaID],
	}
}

// --------------------------------------------------------------------------
// Transport configuration (shared by server and client)
// --------------------------------------------------------------------------

// SocketConf holds socket buffer sizes in bytes (0 = OS default).
type SocketConf struct {
	WriteBufferSize int
	ReadBufferSize  int
}

// TCPConf holds TCP specific socket options.
type TCPConf struct {
	TCPNoDelay      bool
	TCPKeepAliveSec int
	TCPLingerSec    int // negative keeps the OS default
}

// ServerTransportConfig configures the listening side of a transport.
type ServerTransportConfig struct {
	Endpoint   string
	MaxClients int // 0 = unlimited
	SocketConf
	TCPConf
}

// ClientTransportConfig configures the connecting side of a transport.
type ClientTransportConfig struct {
	Endpoints              []string
	ConnectionsPerEndpoint int
	RetryCount             int
	SocketConf
	TCPConf
}

// --------------------------------------------------------------------------
// RPC server configuration struct
// --------------------------------------------------------------------------

type ServerMode string

const (
	ServerModeLocal ServerMode = "local"
	ServerModeRaft  ServerMode = "raft"
)

type EngineType string

const (
	EngineMaple  EngineType = "maple"
	EnginePebble EngineType = "pebble"
)

// ServerConfig holds all configuration parameters of a server.
type ServerConfig struct {
	// Transport
	TransportType string // tcp or unix
	Transport     ServerTransportConfig
	IdleTimeout   time.Duration // 0 disables the idle timeout

	// Storage
	Mode         ServerMode
	Engine       EngineType
	Databases    int
	DataDir      string
	SnapshotFile string // maple snapshot, only used in local mode

	// Active expiration
	ActiveExpireInterval time.Duration
	ActiveExpireBudget   int

	// Cluster routing
	ClusterSlots string // "0-8191=host:port,..." empty disables routing
	ClusterSelf  string

	// Dragonboat parameters
	ShardID            uint64
	RTTMillisecond     uint64
	SnapshotEntries    uint64
	CompactionOverhead uint64
	ReplicaID          uint64
	ClusterMembers     map[uint64]string
	TimeoutSecond      int64

	// Admin HTTP endpoint (metrics, pprof). Empty disables it.
	MetricsEndpoint string

	// Logging configuration
	LogLevel string
}

// Timeout returns the raft proposal timeout.
func (c *ServerConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSecond) * time.Second
}

// String returns a formatted string representation of the configuration
func (c *ServerConfig) String() string {
	var sb strings.Builder

	// Create helper functions for consistent formatting
	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	// Server settings
	addSection("RPC Server")
	addField("Transport", c.TransportType)
	addField("Endpoint", c.Transport.Endpoint)
	addField("Max Clients", limitString(c.Transport.MaxClients))
	addField("Idle Timeout", durationString(c.IdleTimeout))
	if c.MetricsEndpoint != "" {
		addField("Metrics Endpoint", c.MetricsEndpoint)
	}

	// Storage
	addSection("Storage")
	addField("Mode", string(c.Mode))
	addField("Engine", string(c.Engine))
	addField("Databases", strconv.Itoa(c.Databases))
	if c.Engine == EnginePebble || c.Mode == ServerModeRaft {
		addField("Data Directory", c.DataDir)
	}
	if c.SnapshotFile != "" && c.Mode == ServerModeLocal {
		addField("Snapshot File", c.SnapshotFile)
	}
	addField("Expire Interval", durationString(c.ActiveExpireInterval))
	addField("Expire Budget", strconv.Itoa(c.ActiveExpireBudget))

	if c.ClusterSlots != "" {
		addSection("Cluster Routing")
		addField("Self", c.ClusterSelf)
		for _, r := range strings.Split(c.ClusterSlots, ",") {
			sb.WriteString(fmt.Sprintf("    %s\n", strings.TrimSpace(r)))
		}
	}

	// Logging configuration
	addSection("Logging")
	addField("Log Level", c.LogLevel)

	if c.Mode == ServerModeRaft {
		// Node Identity
		addSection("Node Identity")
		addField("RAFT Address", c.ClusterMembers[c.ReplicaID])
		addField("Node ID", strconv.FormatUint(c.ReplicaID, 10))
		addField("Shard ID", strconv.FormatUint(c.ShardID, 10))

		// RAFT parameters
		addSection("RAFT Parameters")
		addField("Round Trip Time (ms)", fmt.Sprintf("%d ms", c.RTTMillisecond))
		addField("Election RTT (ms)", fmt.Sprintf("%d", c.RTTMillisecond*electionRTTFactor))
		addField("Heartbeat RTT (ms)", fmt.Sprintf("%d", c.RTTMillisecond*heartbeatRTTFactor))
		addField("Check Quorum", fmt.Sprintf("%t", true))
		addField("Snapshot Entries", fmt.Sprintf("%d", c.SnapshotEntries))
		addField("Compaction Overhead", fmt.Sprintf("%d", c.CompactionOverhead))
		addField("Timeout", fmt.Sprintf("%d sec", c.TimeoutSecond))

		addSection("Cluster Members")

		// Sort keys for consistent output
		var keys []uint64
		for k := range c.ClusterMembers {
			keys = append(keys, k)
		}
		sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

		for _, k := range keys {
			sb.WriteString(fmt.Sprintf("    Node %d: %s\n", k, c.ClusterMembers[k]))
		}
	}
	return sb.String()
}

func limitString(n int) string {
	if n <= 0 {
		return "unlimited"
	}
	return strconv.Itoa(n)
}

func durationString(d time.Duration) string {
	if d <= 0 {
		return "disabled"
	}
	return d.String()
}

// --------------------------------------------------------------------------
// RPC client configuration struct
// --------------------------------------------------------------------------

type ClientConfig struct {
	TimeoutSecond int
	Protocol      int // RESP version negotiated with HELLO (2 or 3)
	DB            int // database selected on connect
	Transport     ClientTransportConfig
}

// Timeout returns the per request timeout (0 = none).
func (c *ClientConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSecond) * time.Second
}

// String returns a formatted string representation of the client configuration
func (c *ClientConfig) String() string {
	var sb strings.Builder

	// Create helper functions for consistent formatting
	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	// General Client Settings
	addSection("Client Configuration")
	addField("Timeout", fmt.Sprintf("%d sec", c.TimeoutSecond))
	addField("Protocol", fmt.Sprintf("RESP%d", max(c.Protocol, 2)))
	addField("Database", strconv.Itoa(c.DB))
	addField("Retry Count", strconv.Itoa(c.Transport.RetryCount))
	addField("Connections Per Endpoint", strconv.Itoa(int(math.Max(1, float64(c.Transport.ConnectionsPerEndpoint)))))

	// Endpoints
	addSection("Endpoints")
	for i, endpoint := range c.Transport.Endpoints {
		addField(strconv.Itoa(i), endpoint)
	}

	return sb.String()
}
