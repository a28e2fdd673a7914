package command

import (
	"github.com/ValentinKolb/rKV/lib/resp"
)

func init() {
	register(
		&Command{Name: "eval", Min: 3, Max: -1, Flags: FlagWrite | FlagNoScript, KeysFunc: numKeysAt(2), Handler: eval(false)},
		&Command{Name: "evalsha", Min: 3, Max: -1, Flags: FlagWrite | FlagNoScript, KeysFunc: numKeysAt(2), Handler: eval(true)},
		&Command{Name: "script", Min: 2, Max: -1, Flags: FlagNoLock | FlagNoScript, Handler: scriptCmd},
	)
}

// RunsScript reports whether a request executes a Lua script.
func RunsScript(args [][]byte) bool {
	if len(args) == 0 {
		return false
	}
	name := lower(args[0])
	return name == "eval" || name == "evalsha"
}

var errScriptingDisabled = Errf("scripting is not enabled on this server")

// eval runs a script while the dispatcher holds the write lock of the
// session database for the whole invocation.
func eval(bySHA bool) Handler {
	return func(c *Ctx) (resp.Value, error) {
		if c.Engine.scripts == nil {
			return resp.Value{}, errScriptingDisabled
		}
		n, err := c.Int(2)
		if err != nil {
			return resp.Value{}, err
		}
		if n < 0 {
			return resp.Value{}, Errf("Number of keys can't be negative")
		}
		if n > int64(len(c.Args)-3) {
			return resp.Value{}, Errf("Number of keys can't be greater than number of args")
		}
		keys, argv := c.Args[3:3+n], c.Args[3+n:]
		if bySHA {
			return c.Engine.scripts.EvalSHA(c, lower(c.Args[1]), keys, argv)
		}
		return c.Engine.scripts.Eval(c, c.Arg(1), keys, argv)
	}
}

func scriptCmd(c *Ctx) (resp.Value, error) {
	s := c.Engine.scripts
	if s == nil {
		return resp.Value{}, errScriptingDisabled
	}
	switch sub := lower(c.Args[1]); {
	case sub == "load" && c.NArgs() == 2:
		return resp.BulkString(s.Load(c.Arg(2))), nil
	case sub == "exists" && c.NArgs() >= 2:
		out := make([]resp.Value, 0, c.NArgs()-1)
		for _, sha := range c.Args[2:] {
			out = append(out, resp.Integer(boolInt(s.Exists(lower(sha)))))
		}
		return resp.Array(out...), nil
	case sub == "flush" && c.NArgs() <= 2:
		s.Flush()
		return resp.OK, nil
	case sub == "load" || sub == "exists":
		return resp.Value{}, Errf("wrong number of arguments for 'script|%s' command", sub)
	default:
		return resp.Value{}, Errf("unknown subcommand '%s'. Try SCRIPT HELP.", c.Arg(1))
	}
}
