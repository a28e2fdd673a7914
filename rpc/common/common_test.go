package common

import (
	"strings"
	"testing"
	"time"

	"github.com/lni/dragonboat/v4/logger"
)

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    logger.LogLevel
		wantErr bool
	}{
		{"debug", logger.DEBUG, false},
		{"INFO", logger.INFO, false},
		{"", logger.INFO, false},
		{"warn", logger.WARNING, false},
		{"warning", logger.WARNING, false},
		{"error", logger.ERROR, false},
		{"verbose", logger.INFO, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLogLevel(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseLogLevel(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("ParseLogLevel(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestLoggerRespectsLevel(t *testing.T) {
	var sb strings.Builder
	l := CreateLogger("test").(*rkvLogger)
	l.logger.SetOutput(&sb)
	l.logger.SetFlags(0)

	l.SetLevel(logger.WARNING)
	l.Infof("hidden")
	l.Warningf("shown %d", 1)

	out := sb.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("Expected info message to be filtered, got %q", out)
	}
	if out != "WARN  | test            | shown 1\n" {
		t.Errorf("Unexpected log line %q", out)
	}
}

func TestDragonboatConfig(t *testing.T) {
	c := ServerConfig{
		ShardID:            7,
		ReplicaID:          2,
		RTTMillisecond:     100,
		SnapshotEntries:    1000,
		CompactionOverhead: 50,
		DataDir:            "/tmp/rkv",
		ClusterMembers:     map[uint64]string{1: "a:63001", 2: "b:63001"},
	}

	rc := c.ToDragonboatConfig()
	if rc.ShardID != 7 || rc.ReplicaID != 2 || rc.ElectionRTT != electionRTTFactor || !rc.CheckQuorum {
		t.Errorf("Unexpected raft config %+v", rc)
	}
	nh := c.ToNodeHostConfig()
	if nh.RaftAddress != "b:63001" || nh.NodeHostDir != "/tmp/rkv" || nh.RTTMillisecond != 100 {
		t.Errorf("Unexpected node host config %+v", nh)
	}
}

func TestServerConfigString(t *testing.T) {
	c := ServerConfig{
		TransportType:        "tcp",
		Transport:            ServerTransportConfig{Endpoint: "0.0.0.0:6379"},
		Mode:                 ServerModeLocal,
		Engine:               EngineMaple,
		Databases:            16,
		ActiveExpireInterval: 100 * time.Millisecond,
		LogLevel:             "info",
	}
	out := c.String()
	for _, want := range []string{"0.0.0.0:6379", "unlimited", "maple", "100ms", "disabled"} {
		if !strings.Contains(out, want) {
			t.Errorf("Expected %q in config output:\n%s", want, out)
		}
	}
	if strings.Contains(out, "RAFT PARAMETERS") {
		t.Errorf("Expected no raft section in local mode")
	}

	c.Mode = ServerModeRaft
	c.ClusterMembers = map[uint64]string{2: "b:63001", 1: "a:63001"}
	c.ReplicaID = 1
	out = c.String()
	if !strings.Contains(out, "RAFT PARAMETERS") || strings.Index(out, "Node 1") > strings.Index(out, "Node 2") {
		t.Errorf("Expected sorted cluster members in raft mode:\n%s", out)
	}
}
