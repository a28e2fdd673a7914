package command

import (
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/rKV/lib/cluster"
	"github.com/ValentinKolb/rKV/lib/lockmgr"
	"github.com/ValentinKolb/rKV/lib/resp"
	"github.com/ValentinKolb/rKV/lib/store"
	"github.com/VictoriaMetrics/metrics"
	"github.com/lni/dragonboat/v4/logger"
	gometrics "github.com/rcrowley/go-metrics"
)

var log = logger.GetLogger("command")

// Scripter executes server side scripts. It is implemented by the script
// package and attached with Engine.SetScripter.
type Scripter interface {
	// Eval runs source with the given keys and arguments in the keyspace of c.
	Eval(c *Ctx, source string, keys, argv [][]byte) (resp.Value, error)
	// EvalSHA runs a cached script.
	EvalSHA(c *Ctx, sha string, keys, argv [][]byte) (resp.Value, error)
	// Load caches a script and returns its digest.
	Load(source string) string
	// Exists reports whether a digest is cached.
	Exists(sha string) bool
	// Flush drops all cached scripts.
	Flush()
}

// Config holds the collaborators of an Engine.
type Config struct {
	Store    store.IStore
	Locks    lockmgr.ILockManager // created from the store if nil
	Router   *cluster.Router      // nil disables routing
	Clients  *ClientRegistry      // created if nil
	Monitors *MonitorHub          // created if nil
	Version  string
}

// Engine dispatches requests to their handlers. It is safe for concurrent use,
// every session calls Exec from its own goroutine.
type Engine struct {
	store    store.IStore
	locks    lockmgr.ILockManager
	router   *cluster.Router
	clients  *ClientRegistry
	monitors *MonitorHub
	scripts  Scripter
	version  string
	started  time.Time

	ops         gometrics.Meter
	commands    atomic.Uint64
	connections atomic.Uint64
	expired     atomic.Uint64
}

// NewEngine creates a dispatcher over cfg.Store.
func NewEngine(cfg Config) *Engine {
	e := &Engine{
		store:    cfg.Store,
		locks:    cfg.Locks,
		router:   cfg.Router,
		clients:  cfg.Clients,
		monitors: cfg.Monitors,
		version:  cfg.Version,
		started:  time.Now(),
		ops:      gometrics.NewMeter(),
	}
	if e.locks == nil {
		e.locks = lockmgr.NewLockManager(cfg.Store.NumDatabases())
	}
	if e.clients == nil {
		e.clients = NewClientRegistry()
	}
	if e.monitors == nil {
		e.monitors = NewMonitorHub()
	}
	if e.version == "" {
		e.version = "dev"
	}
	return e
}

// SetScripter attaches the scripting engine. It must be called before the
// engine serves requests.
func (e *Engine) SetScripter(s Scripter) { e.scripts = s }

func (e *Engine) Store() store.IStore { return e.store }
func (e *Engine) Clients() *ClientRegistry { return e.clients }
func (e *Engine) Monitors() *MonitorHub { return e.monitors }
func (e *Engine) Router() *cluster.Router { return e.router }
func (e *Engine) Locks() lockmgr.ILockManager { return e.locks }

// ConnectionAccepted counts a new client connection for INFO.
func (e *Engine) ConnectionAccepted() { e.connections.Add(1) }

// Close stops the background meters.
func (e *Engine) Close() {
	e.ops.Stop()
}

// --------------------------------------------------------------------------
// Dispatch
// --------------------------------------------------------------------------

// Exec executes one request of a session and returns its reply. Errors are
// returned as error replies, Exec never fails.
func (e *Engine) Exec(sess *Session, args [][]byte) resp.Value {
	if len(args) == 0 {
		return resp.Error("ERR empty command")
	}
	name := string(args[0])
	cmd, ok := Lookup(name)
	if !ok {
		return ToReply(unknownCommand(name, args[1:]))
	}
	if !cmd.arityOK(len(args)) {
		return ToReply(wrongArgs(cmd.Name))
	}
	sess.touch(cmd.Name)

	dbIdx := sess.DB()
	if e.monitors.Active() {
		e.monitors.Publish(sess, dbIdx, args)
	}
	if err := e.router.Route(cmd.Keys(args)); err != nil {
		return ToReply(err)
	}

	unlock := e.lock(cmd, dbIdx, args)
	defer unlock()

	c := &Ctx{
		Context: sess.Context(),
		Engine:  e,
		Session: sess,
		KS:      NewStoreView(e.store, dbIdx),
		Cmd:     cmd,
		Args:    args,
	}
	return e.call(c)
}

// Invoke executes a command issued by a script against the keyspace of c. A
// non nil error means the command may not run in a script at all, and the
// caller must abort the script. Command failures come back as error replies.
func (e *Engine) Invoke(c *Ctx, args [][]byte) (resp.Value, error) {
	if len(args) == 0 {
		return resp.Value{}, Errf("Please specify at least one argument for this redis lib call")
	}
	cmd, ok := Lookup(string(args[0]))
	if !ok {
		return resp.Value{}, Errf("Unknown Redis command called from script")
	}
	if cmd.Flags&FlagNoScript != 0 {
		return resp.Value{}, ErrNotAllowed
	}
	if cmd.OtherDB != nil {
		if n, other := cmd.OtherDB(args); other && n != c.KS.DB() {
			return resp.Value{}, ErrNotAllowed
		}
	}
	if !cmd.arityOK(len(args)) {
		return ToReply(wrongArgs(cmd.Name)), nil
	}
	if err := e.router.Route(cmd.Keys(args)); err != nil {
		return ToReply(err), nil
	}
	sub := &Ctx{
		Context:  c.Context,
		Engine:   e,
		Session:  c.Session,
		KS:       c.KS,
		Cmd:      cmd,
		Args:     args,
		InScript: true,
	}
	return e.call(sub), nil
}

// call runs the handler and records its metrics.
func (e *Engine) call(c *Ctx) resp.Value {
	start := time.Now()
	v, err := e.run(c)
	metrics.GetOrCreateCounter(fmt.Sprintf(`rkv_commands_total{cmd=%q}`, c.Cmd.Name)).Inc()
	metrics.GetOrCreateHistogram(fmt.Sprintf(`rkv_command_duration_seconds{cmd=%q}`, c.Cmd.Name)).UpdateDuration(start)
	e.ops.Mark(1)
	e.commands.Add(1)
	if err != nil {
		return ToReply(err)
	}
	return v
}

func (e *Engine) run(c *Ctx) (v resp.Value, err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("Command %s panicked: %v", c.Cmd.Name, r)
			err = Errf("internal error: %v", r)
		}
	}()
	return c.Cmd.Handler(c)
}

// lock takes the locks a command needs. Commands touching two databases take
// both locks in index order.
func (e *Engine) lock(cmd *Command, dbIdx int, args [][]byte) func() {
	switch {
	case cmd.Flags&FlagNoLock != 0:
		return func() {}
	case cmd.Flags&FlagAllDBs != 0:
		if cmd.Flags&FlagWrite != 0 {
			return e.locks.LockAll()
		}
		return e.locks.RLockAll()
	}
	if cmd.OtherDB != nil {
		if other, ok := cmd.OtherDB(args); ok && other >= 0 && other < e.locks.NumDatabases() {
			return e.locks.LockMany(dbIdx, other)
		}
	}
	if cmd.Flags&FlagWrite != 0 {
		return e.locks.Lock(dbIdx)
	}
	return e.locks.RLock(dbIdx)
}

// --------------------------------------------------------------------------
// Expiration
// --------------------------------------------------------------------------

// ExpireCycle runs an active expiration cycle on one database while holding
// its lock, so the sweeper never races a command that modifies a value in
// place. Engine implements expire.Cycler.
func (e *Engine) ExpireCycle(dbIdx int, limit int) (int, error) {
	unlock := e.locks.Lock(dbIdx)
	defer unlock()
	n, err := e.store.ExpireCycle(dbIdx, limit)
	e.expired.Add(uint64(n))
	return n, err
}

// NumDatabases returns the number of databases of the store.
func (e *Engine) NumDatabases() int { return e.store.NumDatabases() }

// --------------------------------------------------------------------------
// Stats
// --------------------------------------------------------------------------

// Stats is a snapshot of the engine counters reported by INFO.
type Stats struct {
	Uptime         time.Duration
	Commands       uint64
	Connections    uint64
	ExpiredKeys    uint64
	OpsPerSec      float64
	ConnectedNow   int
	MonitorClients bool
}

// Stats returns the current counters.
func (e *Engine) Stats() Stats {
	return Stats{
		Uptime:         time.Since(e.started),
		Commands:       e.commands.Load(),
		Connections:    e.connections.Load(),
		ExpiredKeys:    e.expired.Load(),
		OpsPerSec:      e.ops.Rate1(),
		ConnectedNow:   e.clients.Len(),
		MonitorClients: e.monitors.Active(),
	}
}

func lower(b []byte) string { return strings.ToLower(string(b)) }
