package command

import (
	"fmt"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/ValentinKolb/rKV/lib/resp"
)

func init() {
	register(
		&Command{Name: "ping", Min: 1, Max: 2, Flags: FlagFast | FlagNoLock, Handler: ping},
		&Command{Name: "echo", Min: 2, Max: 2, Flags: FlagFast | FlagNoLock, Handler: echo},
		&Command{Name: "hello", Min: 1, Max: -1, Flags: FlagFast | FlagNoLock | FlagNoScript, Handler: hello},
		&Command{Name: "select", Min: 2, Max: 2, Flags: FlagFast | FlagNoLock | FlagNoScript, Handler: selectDB},
		&Command{Name: "client", Min: 2, Max: -1, Flags: FlagNoLock | FlagNoScript, Handler: client},
		&Command{Name: "quit", Min: 1, Max: -1, Flags: FlagFast | FlagNoLock | FlagNoScript, Handler: quit},
		&Command{Name: "dbsize", Min: 1, Max: 1, Flags: FlagReadonly | FlagFast | FlagNoScript, Handler: dbsize},
		&Command{Name: "flushdb", Min: 1, Max: 2, Flags: FlagWrite | FlagNoScript, Handler: flushdb},
		&Command{Name: "flushall", Min: 1, Max: 2, Flags: FlagWrite | FlagAllDBs | FlagNoScript, Handler: flushall},
		&Command{Name: "swapdb", Min: 3, Max: 3, Flags: FlagWrite | FlagAllDBs | FlagNoScript, Handler: swapdb},
		&Command{Name: "info", Min: 1, Max: -1, Flags: FlagReadonly | FlagAllDBs, Handler: info},
		&Command{Name: "time", Min: 1, Max: 1, Flags: FlagFast | FlagNoLock, Handler: serverTime},
		&Command{Name: "command", Min: 1, Max: -1, Flags: FlagNoLock, Handler: commandInfo},
		&Command{Name: "save", Min: 1, Max: 1, Flags: FlagReadonly | FlagAllDBs | FlagAdmin | FlagNoScript, Handler: save},
		&Command{Name: "monitor", Min: 1, Max: 1, Flags: FlagAdmin | FlagNoLock | FlagNoScript, Handler: monitor},
	)
}

func ping(c *Ctx) (resp.Value, error) {
	if c.NArgs() == 1 {
		return resp.Bulk(c.Args[1]), nil
	}
	return resp.SimpleString("PONG"), nil
}

func echo(c *Ctx) (resp.Value, error) {
	return resp.Bulk(c.Args[1]), nil
}

// hello negotiates the protocol version and returns the server properties.
// The reply is already encoded with the new version.
func hello(c *Ctx) (resp.Value, error) {
	proto := c.Session.Protocol()
	i := 1
	if c.NArgs() >= 1 {
		v, err := c.Int(1)
		if err != nil {
			return resp.Value{}, Errf("Protocol version is not an integer or out of range")
		}
		if v != resp.Proto2 && v != resp.Proto3 {
			return resp.Value{}, &Error{Kind: "NOPROTO", Msg: "unsupported protocol version"}
		}
		proto = int(v)
		i = 2
	}
	name, rename := "", false
	for ; i < len(c.Args); i++ {
		switch {
		case c.Is(i, "SETNAME") && i+1 < len(c.Args):
			if !validClientName(c.Args[i+1]) {
				return resp.Value{}, errClientName
			}
			name, rename = c.Arg(i+1), true
			i++
		default:
			return resp.Value{}, Errf("Syntax error in HELLO option '%s'", c.Arg(i))
		}
	}

	c.Session.SetProtocol(proto)
	if rename {
		c.Session.SetName(name)
	}
	mode := "standalone"
	if c.Engine.router.Enabled() {
		mode = "cluster"
	}
	return resp.Map(
		resp.BulkString("server"), resp.BulkString("rkv"),
		resp.BulkString("version"), resp.BulkString(c.Engine.version),
		resp.BulkString("proto"), resp.Integer(int64(proto)),
		resp.BulkString("id"), resp.Integer(int64(c.Session.ID)),
		resp.BulkString("mode"), resp.BulkString(mode),
		resp.BulkString("role"), resp.BulkString("master"),
		resp.BulkString("modules"), resp.Array(),
	), nil
}

func selectDB(c *Ctx) (resp.Value, error) {
	idx, err := c.Int(1)
	if err != nil {
		return resp.Value{}, err
	}
	if idx < 0 || idx >= int64(c.Engine.store.NumDatabases()) {
		return resp.Value{}, ErrInvalidDB
	}
	c.Session.Select(int(idx))
	return resp.OK, nil
}

var errClientName = Errf("Client names cannot contain spaces, newlines or special characters.")

func validClientName(name []byte) bool {
	for _, b := range name {
		if b < '!' || b > '~' {
			return false
		}
	}
	return true
}

func client(c *Ctx) (resp.Value, error) {
	sub := lower(c.Args[1])
	switch {
	case sub == "id" && c.NArgs() == 1:
		return resp.Integer(int64(c.Session.ID)), nil
	case sub == "getname" && c.NArgs() == 1:
		if name := c.Session.Name(); name != "" {
			return resp.BulkString(name), nil
		}
		return resp.NullBulk(), nil
	case sub == "setname" && c.NArgs() == 2:
		if !validClientName(c.Args[2]) {
			return resp.Value{}, errClientName
		}
		c.Session.SetName(c.Arg(2))
		return resp.OK, nil
	case sub == "info" && c.NArgs() == 1:
		return resp.BulkString(c.Session.Info() + "\n"), nil
	case sub == "list" && c.NArgs() == 1:
		var sb strings.Builder
		for _, s := range c.Engine.clients.List() {
			sb.WriteString(s.Info())
			sb.WriteByte('\n')
		}
		return resp.BulkString(sb.String()), nil
	case sub == "id" || sub == "getname" || sub == "setname" || sub == "info" || sub == "list":
		return resp.Value{}, Errf("wrong number of arguments for 'client|%s' command", sub)
	default:
		return resp.Value{}, Errf("unknown subcommand '%s'. Try CLIENT HELP.", c.Arg(1))
	}
}

func quit(c *Ctx) (resp.Value, error) {
	c.Session.RequestClose()
	return resp.OK, nil
}

func dbsize(c *Ctx) (resp.Value, error) {
	n, err := c.Engine.store.Size(c.KS.DB())
	if err != nil {
		return resp.Value{}, err
	}
	return resp.Integer(int64(n)), nil
}

// flushMode accepts the optional ASYNC / SYNC argument, both flush synchronously.
func flushMode(c *Ctx) error {
	if c.NArgs() == 1 && !c.Is(1, "ASYNC") && !c.Is(1, "SYNC") {
		return ErrSyntax
	}
	return nil
}

func flushdb(c *Ctx) (resp.Value, error) {
	if err := flushMode(c); err != nil {
		return resp.Value{}, err
	}
	if err := c.Engine.store.Flush(c.KS.DB()); err != nil {
		return resp.Value{}, err
	}
	return resp.OK, nil
}

func flushall(c *Ctx) (resp.Value, error) {
	if err := flushMode(c); err != nil {
		return resp.Value{}, err
	}
	if err := c.Engine.store.FlushAll(); err != nil {
		return resp.Value{}, err
	}
	return resp.OK, nil
}

func swapdb(c *Ctx) (resp.Value, error) {
	a, err := c.Int(1)
	if err != nil {
		return resp.Value{}, Errf("invalid first DB index")
	}
	b, err := c.Int(2)
	if err != nil {
		return resp.Value{}, Errf("invalid second DB index")
	}
	n := int64(c.Engine.store.NumDatabases())
	if a < 0 || a >= n || b < 0 || b >= n {
		return resp.Value{}, ErrInvalidDB
	}
	if a != b {
		if err := c.Engine.store.Swap(int(a), int(b)); err != nil {
			return resp.Value{}, err
		}
	}
	return resp.OK, nil
}

func serverTime(*Ctx) (resp.Value, error) {
	now := time.Now()
	return resp.Array(
		resp.BulkString(strconv.FormatInt(now.Unix(), 10)),
		resp.BulkString(strconv.Itoa(now.Nanosecond()/1000)),
	), nil
}

func save(c *Ctx) (resp.Value, error) {
	if err := c.Engine.store.Save(); err != nil {
		return resp.Value{}, err
	}
	return resp.OK, nil
}

func monitor(c *Ctx) (resp.Value, error) {
	c.Engine.monitors.Subscribe(c.Session)
	return resp.OK, nil
}

// --------------------------------------------------------------------------
// COMMAND
// --------------------------------------------------------------------------

// arity reports the arity the way COMMAND does: negative for "at least".
func (cmd *Command) arity() int64 {
	if cmd.Max == cmd.Min {
		return int64(cmd.Min)
	}
	return -int64(cmd.Min)
}

func (cmd *Command) describe() resp.Value {
	flags := cmd.Flags.Names()
	fv := make([]resp.Value, len(flags))
	for i, f := range flags {
		fv[i] = resp.SimpleString(f)
	}
	return resp.Array(
		resp.BulkString(cmd.Name),
		resp.Integer(cmd.arity()),
		resp.Set(fv...),
		resp.Integer(int64(cmd.FirstKey)),
		resp.Integer(int64(cmd.LastKey)),
		resp.Integer(int64(cmd.Step)),
	)
}

func commandInfo(c *Ctx) (resp.Value, error) {
	if c.NArgs() == 0 {
		all := All()
		out := make([]resp.Value, len(all))
		for i, cmd := range all {
			out[i] = cmd.describe()
		}
		return resp.Array(out...), nil
	}
	switch lower(c.Args[1]) {
	case "count":
		return resp.Integer(int64(len(commands))), nil
	case "info":
		out := make([]resp.Value, 0, c.NArgs()-1)
		for _, name := range c.Args[2:] {
			if cmd, ok := Lookup(string(name)); ok {
				out = append(out, cmd.describe())
			} else {
				out = append(out, resp.NullArray())
			}
		}
		return resp.Array(out...), nil
	default:
		return resp.Value{}, Errf("unknown subcommand '%s'. Try COMMAND HELP.", c.Arg(1))
	}
}

// --------------------------------------------------------------------------
// INFO
// --------------------------------------------------------------------------

var infoSections = []string{"server", "clients", "memory", "stats", "keyspace"}

func info(c *Ctx) (resp.Value, error) {
	wanted := map[string]bool{}
	for _, a := range c.Args[1:] {
		s := lower(a)
		if s == "all" || s == "everything" || s == "default" {
			wanted = map[string]bool{}
			break
		}
		wanted[s] = true
	}

	dbInfo, err := c.Engine.store.GetDBInfo()
	if err != nil {
		return resp.Value{}, err
	}
	stats := c.Engine.Stats()

	var sb strings.Builder
	for _, section := range infoSections {
		if len(wanted) > 0 && !wanted[section] {
			continue
		}
		if sb.Len() > 0 {
			sb.WriteString("\r\n")
		}
		fmt.Fprintf(&sb, "# %s%s\r\n", strings.ToUpper(section[:1]), section[1:])
		switch section {
		case "server":
			fmt.Fprintf(&sb, "rkv_version:%s\r\n", c.Engine.version)
			fmt.Fprintf(&sb, "redis_mode:%s\r\n", map[bool]string{true: "cluster", false: "standalone"}[c.Engine.router.Enabled()])
			fmt.Fprintf(&sb, "os:%s %s\r\n", runtime.GOOS, runtime.GOARCH)
			fmt.Fprintf(&sb, "go_version:%s\r\n", runtime.Version())
			fmt.Fprintf(&sb, "storage_engine:%s\r\n", dbInfo.DbType)
			fmt.Fprintf(&sb, "databases:%d\r\n", c.Engine.store.NumDatabases())
			fmt.Fprintf(&sb, "uptime_in_seconds:%d\r\n", int64(stats.Uptime.Seconds()))
			fmt.Fprintf(&sb, "uptime_in_days:%d\r\n", int64(stats.Uptime.Hours()/24))
		case "clients":
			fmt.Fprintf(&sb, "connected_clients:%d\r\n", stats.ConnectedNow)
		case "memory":
			var ms runtime.MemStats
			runtime.ReadMemStats(&ms)
			fmt.Fprintf(&sb, "used_memory:%d\r\n", ms.HeapAlloc)
			fmt.Fprintf(&sb, "used_memory_dataset:%d\r\n", dbInfo.SizeBytes)
		case "stats":
			fmt.Fprintf(&sb, "total_connections_received:%d\r\n", stats.Connections)
			fmt.Fprintf(&sb, "total_commands_processed:%d\r\n", stats.Commands)
			fmt.Fprintf(&sb, "instantaneous_ops_per_sec:%d\r\n", int64(stats.OpsPerSec))
			fmt.Fprintf(&sb, "expired_keys:%d\r\n", stats.ExpiredKeys)
		case "keyspace":
			for i, n := range dbInfo.Keys {
				if n == 0 {
					continue
				}
				expires := 0
				if i < len(dbInfo.Expires) {
					expires = dbInfo.Expires[i]
				}
				fmt.Fprintf(&sb, "db%d:keys=%d,expires=%d,avg_ttl=0\r\n", i, n, expires)
			}
		}
	}
	return resp.BulkString(sb.String()), nil
}
