package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os/signal"
	"path/filepath"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/ValentinKolb/rKV/lib/cluster"
	"github.com/ValentinKolb/rKV/lib/command"
	"github.com/ValentinKolb/rKV/lib/db"
	"github.com/ValentinKolb/rKV/lib/db/engines/maple"
	"github.com/ValentinKolb/rKV/lib/db/engines/pebble"
	"github.com/ValentinKolb/rKV/lib/expire"
	"github.com/ValentinKolb/rKV/lib/lockmgr"
	"github.com/ValentinKolb/rKV/lib/script"
	"github.com/ValentinKolb/rKV/lib/store"
	"github.com/ValentinKolb/rKV/lib/store/dstore"
	"github.com/ValentinKolb/rKV/lib/store/lstore"
	"github.com/ValentinKolb/rKV/rpc/common"
	"github.com/ValentinKolb/rKV/rpc/transport"
	"github.com/ValentinKolb/rKV/rpc/transport/http"
	"github.com/lni/dragonboat/v4"
	"github.com/lni/dragonboat/v4/logger"
)

var Logger = logger.GetLogger("rpc")

// Version is reported by INFO and HELLO.
var Version = "dev"

// NewRPCServer creates a new RESP server
// It takes a config and the transport to listen on as parameters
//
// Usage:
//
//	s := server.NewRPCServer(*config, tcp.NewTCPServerTransport())
//
//	if err := s.Serve(); err != nil {
//		panic(err)
//	}
func NewRPCServer(config common.ServerConfig, transport transport.IRPCServerTransport) *RPCServer {
	// https://github.com/golang/go/issues/17393
	if runtime.GOOS == "darwin" {
		signal.Ignore(syscall.Signal(0xd))
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &RPCServer{
		config:    config,
		transport: transport,
		ctx:       ctx,
		cancel:    cancel,
		ready:     make(chan struct{}),
	}
}

// RPCServer wires the store, the command engine, scripting, active
// expiration and the admin endpoint to a transport.
type RPCServer struct {
	config    common.ServerConfig
	transport transport.IRPCServerTransport

	nodeHost *dragonboat.NodeHost
	store    store.IStore
	engine   *command.Engine
	sweeper  *expire.Sweeper
	admin    *http.AdminServer

	ctx       context.Context
	cancel    context.CancelFunc
	ready     chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
	closeErr  error
}

// dbFactory returns the constructor of the configured storage engine.
func (s *RPCServer) dbFactory() (store.DBFactory, error) {
	switch s.config.Engine {
	case common.EngineMaple, "":
		return func() (db.KVDB, error) {
			return maple.NewMapleDB(&maple.DBOptions{Databases: s.config.Databases}), nil
		}, nil
	case common.EnginePebble:
		if s.config.DataDir == "" {
			return nil, fmt.Errorf("the pebble engine requires a data directory")
		}
		return func() (db.KVDB, error) {
			opts := pebble.DefaultOptions(filepath.Join(s.config.DataDir, "pebble"))
			opts.Databases = s.config.Databases
			return pebble.NewPebbleDB(opts)
		}, nil
	default:
		return nil, fmt.Errorf("invalid engine: %s", s.config.Engine)
	}
}

// initStore creates the local or the replicated store.
func (s *RPCServer) initStore() error {
	factory, err := s.dbFactory()
	if err != nil {
		return err
	}

	switch s.config.Mode {
	case common.ServerModeLocal, "":
		st, err := lstore.NewLocalStore(factory, s.config.SnapshotFile)
		if err != nil {
			return fmt.Errorf("failed to create local store: %w", err)
		}
		s.store = st
		Logger.Infof("Created local store (engine=%s, databases=%d)", s.config.Engine, st.NumDatabases())

	case common.ServerModeRaft:
		if len(s.config.ClusterMembers) == 0 {
			return fmt.Errorf("raft mode requires cluster members")
		}
		nodeHost, err := dragonboat.NewNodeHost(s.config.ToNodeHostConfig())
		if err != nil {
			return fmt.Errorf("failed to create node host: %w", err)
		}
		s.nodeHost = nodeHost

		// Start Raft for the shard
		if err := nodeHost.StartConcurrentReplica(s.config.ClusterMembers, false, dstore.CreateStateMaschineFactory(factory), s.config.ToDragonboatConfig()); err != nil {
			nodeHost.Close()
			return fmt.Errorf("failed to start shard %d: %w", s.config.ShardID, err)
		}
		s.store = dstore.NewDistributedStore(nodeHost, s.config.ShardID, s.config.ReplicaID, s.config.Databases, s.config.Timeout())
		Logger.Infof("Started replica %d of shard %d (engine=%s)", s.config.ReplicaID, s.config.ShardID, s.config.Engine)

	default:
		return fmt.Errorf("invalid mode: %s", s.config.Mode)
	}
	return nil
}

func (s *RPCServer) init() error {
	if err := s.initStore(); err != nil {
		return err
	}

	// Cluster routing is optional, an empty slot map disables it
	var router *cluster.Router
	if s.config.ClusterSlots != "" {
		slots, err := cluster.ParseSlotMap(s.config.ClusterSlots)
		if err != nil {
			return fmt.Errorf("invalid cluster slots: %w", err)
		}
		router = cluster.NewRouter(slots, s.config.ClusterSelf)
		Logger.Infof("Cluster routing enabled, %d slots assigned", slots.Assigned())
	}

	s.engine = command.NewEngine(command.Config{
		Store:   s.store,
		Locks:   lockmgr.NewLockManager(s.store.NumDatabases()),
		Router:  router,
		Version: Version,
	})
	s.engine.SetScripter(script.NewEngine())

	s.sweeper = expire.NewSweeper(s.engine, s.config.ActiveExpireInterval, s.config.ActiveExpireBudget)

	if s.config.MetricsEndpoint != "" {
		s.admin = http.NewAdminServer(s.config.MetricsEndpoint, s.health, s.config.LogLevel == "debug")
	}

	// Configure the transport layer
	s.transport.RegisterHandler(s.serveConn)

	Logger.Infof("rKV setup completed successfully")
	return nil
}

// health reports an error if the store can not answer.
func (s *RPCServer) health() error {
	_, err := s.store.GetDBInfo()
	return err
}

// Serve initializes the server and blocks until Shutdown is called or the
// transport fails.
func (s *RPCServer) Serve() error {
	Logger.Infof("Starting rKV server %s", Version)
	Logger.Infof("%s", s.config.String())

	if err := s.init(); err != nil {
		return err
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.sweeper.Run(s.ctx)
	}()

	if s.admin != nil {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			if err := s.admin.ListenAndServe(); err != nil {
				Logger.Errorf("Admin server failed: %v", err)
			}
		}()
	}

	close(s.ready)
	err := s.transport.Listen(s.config)
	if err != nil {
		// the listener never came up, release everything else
		_ = s.Shutdown()
	}
	return err
}

// Addr returns the address of the RESP listener, nil before it is bound.
func (s *RPCServer) Addr() net.Addr {
	return s.transport.Addr()
}

// WaitReady blocks until the server listens or the timeout elapses.
func (s *RPCServer) WaitReady(timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	select {
	case <-s.ready:
	case <-time.After(timeout):
		return errors.New("server did not start in time")
	}
	for time.Now().Before(deadline) {
		if s.Addr() != nil {
			return nil
		}
		time.Sleep(5 * time.Millisecond)
	}
	return errors.New("server did not start listening in time")
}

// Engine returns the command engine, nil before Serve initialized it.
func (s *RPCServer) Engine() *command.Engine {
	return s.engine
}

// Shutdown stops accepting connections, closes open sessions, stops the
// background tasks, saves the snapshot (if configured) and closes the store.
// It is safe to call more than once.
func (s *RPCServer) Shutdown() error {
	s.closeOnce.Do(func() {
		Logger.Infof("Shutting down")
		var errs []error

		if err := s.transport.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close transport: %w", err))
		}
		s.cancel()

		if s.admin != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := s.admin.Shutdown(ctx); err != nil {
				errs = append(errs, fmt.Errorf("stop admin server: %w", err))
			}
			cancel()
		}
		s.wg.Wait()

		if s.engine != nil {
			s.engine.Close()
		}
		if s.store != nil {
			if s.config.Mode != common.ServerModeRaft && s.config.SnapshotFile != "" {
				if err := s.store.Save(); err != nil {
					errs = append(errs, fmt.Errorf("save snapshot: %w", err))
				} else {
					Logger.Infof("Saved snapshot to %s", s.config.SnapshotFile)
				}
			}
			if err := s.store.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close store: %w", err))
			}
		}
		if s.nodeHost != nil {
			s.nodeHost.Close()
		}
		s.closeErr = errors.Join(errs...)
	})
	return s.closeErr
}
