package script

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/ValentinKolb/rKV/lib/command"
	"github.com/ValentinKolb/rKV/lib/resp"
	"github.com/VictoriaMetrics/metrics"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
	lua "github.com/yuin/gopher-lua"
	"github.com/yuin/gopher-lua/parse"
)

var log = logger.GetLogger("script")

const chunkName = "user_script"

// log levels of redis.log
const (
	logDebug = iota
	logVerbose
	logNotice
	logWarning
)

// entry is a cached script. Scripts that do not compile are cached with
// their compile error.
type entry struct {
	source string
	proto  *lua.FunctionProto
	err    error
}

// Engine runs Lua scripts for the command engine. Every invocation gets a
// fresh interpreter and a fresh transaction, only compiled scripts are
// shared.
type Engine struct {
	cache *xsync.MapOf[string, *entry]
}

// NewEngine creates a script engine with an empty cache.
func NewEngine() *Engine {
	return &Engine{cache: xsync.NewMapOf[string, *entry]()}
}

var _ command.Scripter = (*Engine)(nil)

// SHA1 returns the lowercase hex digest scripts are cached under.
func SHA1(source string) string {
	sum := sha1.Sum([]byte(source))
	return hex.EncodeToString(sum[:])
}

// Load caches source and returns its digest.
func (s *Engine) Load(source string) string {
	sha := SHA1(source)
	s.load(sha, source)
	return sha
}

func (s *Engine) load(sha, source string) *entry {
	if e, ok := s.cache.Load(sha); ok {
		return e
	}
	e := &entry{source: source}
	e.proto, e.err = compile(source)
	e, _ = s.cache.LoadOrStore(sha, e)
	return e
}

// Exists reports whether a script with the digest is cached.
func (s *Engine) Exists(sha string) bool {
	_, ok := s.cache.Load(sha)
	return ok
}

// Flush empties the cache.
func (s *Engine) Flush() {
	s.cache.Clear()
}

// Eval caches and runs source.
func (s *Engine) Eval(c *command.Ctx, source string, keys, argv [][]byte) (resp.Value, error) {
	return s.run(c, s.load(SHA1(source), source), keys, argv)
}

// EvalSHA runs a cached script.
func (s *Engine) EvalSHA(c *command.Ctx, sha string, keys, argv [][]byte) (resp.Value, error) {
	e, ok := s.cache.Load(sha)
	if !ok {
		return resp.Value{}, command.ErrNoScript
	}
	return s.run(c, e, keys, argv)
}

func compile(source string) (*lua.FunctionProto, error) {
	chunk, err := parse.Parse(strings.NewReader(source), chunkName)
	if err != nil {
		return nil, err
	}
	return lua.Compile(chunk, chunkName)
}

// --------------------------------------------------------------------------
// Invocation
// --------------------------------------------------------------------------

// invocation is the state of one running script.
type invocation struct {
	ctx    *command.Ctx
	txn    *Txn
	abort  error
	cancel context.CancelFunc
}

// run executes a script against a transaction on the session database and
// commits the transaction if the script finishes without error.
func (s *Engine) run(c *command.Ctx, e *entry, keys, argv [][]byte) (resp.Value, error) {
	if e.err != nil {
		recordRun("compile_error")
		return resp.Value{}, command.Errf("Error compiling script (new function): %v", e.err)
	}

	parent := c.Context
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	txn := NewTxn(c.Engine.Store(), c.KS.DB(), c.KS.Now())
	if err := txn.Begin(); err != nil {
		return resp.Value{}, err
	}
	inv := &invocation{
		ctx: &command.Ctx{
			Context:  ctx,
			Engine:   c.Engine,
			Session:  c.Session,
			KS:       txn,
			Cmd:      c.Cmd,
			Args:     c.Args,
			InScript: true,
		},
		txn:    txn,
		cancel: cancel,
	}

	L := newState(inv, keys, argv)
	defer L.Close()
	L.SetContext(ctx)

	L.Push(L.NewFunctionFromProto(e.proto))
	err := L.PCall(0, 1, nil)

	switch {
	case inv.abort != nil:
		_ = txn.Discard()
		recordRun("aborted")
		return resp.Value{}, inv.abort
	case parent.Err() != nil:
		_ = txn.Discard()
		recordRun("cancelled")
		return resp.Value{}, command.Errf("script cancelled: %v", parent.Err())
	case err != nil:
		_ = txn.Discard()
		recordRun("error")
		return resp.Value{}, scriptError(err)
	}

	reply := toRESP(L.Get(-1))
	if err := txn.Commit(); err != nil {
		log.Errorf("Failed to commit script writes on db %d: %v", txn.DB(), err)
		recordRun("commit_error")
		return resp.Value{}, err
	}
	recordRun("ok")
	return reply, nil
}

func recordRun(result string) {
	metrics.GetOrCreateCounter(fmt.Sprintf(`rkv_script_runs_total{result=%q}`, result)).Inc()
}

// scriptError converts a Lua error into a command error. Error tables raised
// by redis.call keep their reply text.
func scriptError(err error) error {
	var apiErr *lua.ApiError
	if !errors.As(err, &apiErr) {
		return command.Errf("user_script: %v", err)
	}
	if tbl, ok := apiErr.Object.(*lua.LTable); ok {
		if msg, ok := tbl.RawGetString("err").(lua.LString); ok {
			kind, rest, found := strings.Cut(string(msg), " ")
			if !found {
				return command.Errf("%s", msg)
			}
			return &command.Error{Kind: kind, Msg: rest}
		}
	}
	msg := apiErr.Object.String()
	if !strings.HasPrefix(msg, chunkName) {
		msg = chunkName + ": " + msg
	}
	return command.Errf("%s", msg)
}

// --------------------------------------------------------------------------
// Interpreter setup
// --------------------------------------------------------------------------

// newState creates a sandboxed interpreter with KEYS, ARGV and the redis table.
func newState(inv *invocation, keys, argv [][]byte) *lua.LState {
	L := lua.NewState(lua.Options{SkipOpenLibs: true})
	for _, lib := range []struct {
		name string
		open lua.LGFunction
	}{
		{lua.LoadLibName, lua.OpenPackage},
		{lua.BaseLibName, lua.OpenBase},
		{lua.TabLibName, lua.OpenTable},
		{lua.StringLibName, lua.OpenString},
		{lua.MathLibName, lua.OpenMath},
	} {
		L.Push(L.NewFunction(lib.open))
		L.Push(lua.LString(lib.name))
		L.Call(1, 0)
	}
	// no file system or module access
	for _, name := range []string{"dofile", "loadfile", "require", "module"} {
		L.SetGlobal(name, lua.LNil)
	}
	L.SetGlobal("package", lua.LNil)

	L.SetGlobal("KEYS", stringTable(L, keys))
	L.SetGlobal("ARGV", stringTable(L, argv))

	redis := L.NewTable()
	L.SetFuncs(redis, map[string]lua.LGFunction{
		"call":         inv.call(false),
		"pcall":        inv.call(true),
		"error_reply":  errorReply,
		"status_reply": statusReply,
		"sha1hex":      sha1hex,
		"log":          logMessage,
	})
	redis.RawSetString("LOG_DEBUG", lua.LNumber(logDebug))
	redis.RawSetString("LOG_VERBOSE", lua.LNumber(logVerbose))
	redis.RawSetString("LOG_NOTICE", lua.LNumber(logNotice))
	redis.RawSetString("LOG_WARNING", lua.LNumber(logWarning))
	L.SetGlobal("redis", redis)
	return L
}

func stringTable(L *lua.LState, items [][]byte) *lua.LTable {
	tbl := L.CreateTable(len(items), 0)
	for _, it := range items {
		tbl.Append(lua.LString(it))
	}
	return tbl
}

// call implements redis.call and redis.pcall. Failed commands raise an error
// table (call) or return it (pcall). Commands that may not run in a script
// abort the invocation, pcall can not catch that.
func (inv *invocation) call(protected bool) lua.LGFunction {
	return func(L *lua.LState) int {
		if inv.abort != nil {
			L.RaiseError("%s", inv.abort.Error())
			return 0
		}
		args, err := callArgs(L)
		if err != nil {
			if protected {
				L.Push(errorTable(L, err.Error()))
				return 1
			}
			L.Error(errorTable(L, err.Error()), 1)
			return 0
		}

		reply, err := inv.ctx.Engine.Invoke(inv.ctx, args)
		if err != nil {
			inv.abort = err
			inv.cancel()
			L.RaiseError("%s", err.Error())
			return 0
		}
		if reply.IsError() && !protected {
			L.Error(errorTable(L, reply.Str), 1)
			return 0
		}
		L.Push(toLua(L, reply))
		return 1
	}
}

func callArgs(L *lua.LState) ([][]byte, error) {
	n := L.GetTop()
	if n == 0 {
		return nil, command.Errf("Please specify at least one argument for this redis lib call")
	}
	args := make([][]byte, 0, n)
	for i := 1; i <= n; i++ {
		switch v := L.Get(i).(type) {
		case lua.LString:
			args = append(args, []byte(v))
		case lua.LNumber:
			args = append(args, []byte(v.String()))
		default:
			return nil, command.Errf("Lua redis lib command arguments must be strings or integers")
		}
	}
	return args, nil
}

func errorReply(L *lua.LState) int {
	L.Push(errorTable(L, strings.TrimPrefix(L.CheckString(1), "-")))
	return 1
}

func statusReply(L *lua.LState) int {
	L.Push(statusTable(L, L.CheckString(1)))
	return 1
}

func sha1hex(L *lua.LState) int {
	L.Push(lua.LString(SHA1(L.CheckString(1))))
	return 1
}

func logMessage(L *lua.LState) int {
	level := L.CheckInt(1)
	parts := make([]string, 0, L.GetTop()-1)
	for i := 2; i <= L.GetTop(); i++ {
		parts = append(parts, L.ToStringMeta(L.Get(i)).String())
	}
	msg := strings.Join(parts, " ")
	switch level {
	case logDebug, logVerbose:
		log.Debugf("%s", msg)
	case logNotice:
		log.Infof("%s", msg)
	case logWarning:
		log.Warningf("%s", msg)
	default:
		L.RaiseError("Invalid log level.")
	}
	return 0
}
