package command

import (
	"sort"
	"strings"

	"github.com/ValentinKolb/rKV/lib/resp"
)

// Flag describes properties of a command.
type Flag uint16

const (
	FlagWrite    Flag = 1 << iota // may modify the keyspace, takes the exclusive lock
	FlagReadonly                  // never modifies the keyspace, takes the shared lock
	FlagAdmin                     // server administration
	FlagNoScript                  // not allowed inside scripts
	FlagFast                      // constant or logarithmic time
	FlagNoLock                    // touches no keys (connection state)
	FlagAllDBs                    // locks every database
)

var flagNames = []struct {
	flag Flag
	name string
}{
	{FlagWrite, "write"},
	{FlagReadonly, "readonly"},
	{FlagAdmin, "admin"},
	{FlagNoScript, "noscript"},
	{FlagFast, "fast"},
}

// Names returns the flag names reported by COMMAND.
func (f Flag) Names() []string {
	var out []string
	for _, fn := range flagNames {
		if f&fn.flag != 0 {
			out = append(out, fn.name)
		}
	}
	return out
}

// Handler executes a command. Returned errors are converted into error replies.
type Handler func(c *Ctx) (resp.Value, error)

// Command is one entry of the command table.
type Command struct {
	Name string
	// Arity including the command name. Max < 0 means unlimited.
	Min, Max int
	Flags    Flag
	// Key positions for routing. LastKey -1 means the last argument.
	FirstKey, LastKey, Step int
	// KeysFunc overrides the key positions for commands with a key count argument.
	KeysFunc func(args [][]byte) []string
	// OtherDB returns a second database the command touches (MOVE, COPY ... DB).
	OtherDB func(args [][]byte) (int, bool)
	Handler Handler
}

// Keys extracts the key arguments of a request.
func (cmd *Command) Keys(args [][]byte) []string {
	if cmd.KeysFunc != nil {
		return cmd.KeysFunc(args)
	}
	if cmd.FirstKey <= 0 || cmd.FirstKey >= len(args) {
		return nil
	}
	last := cmd.LastKey
	if last < 0 {
		last = len(args) + last
	}
	if last >= len(args) {
		last = len(args) - 1
	}
	step := max(cmd.Step, 1)
	keys := make([]string, 0, (last-cmd.FirstKey)/step+1)
	for i := cmd.FirstKey; i <= last; i += step {
		keys = append(keys, string(args[i]))
	}
	return keys
}

func (cmd *Command) arityOK(n int) bool {
	return n >= cmd.Min && (cmd.Max < 0 || n <= cmd.Max)
}

// --------------------------------------------------------------------------
// Command Table
// --------------------------------------------------------------------------

var commands = map[string]*Command{}

// register adds commands to the table. It is called from init functions.
func register(cmds ...*Command) {
	for _, c := range cmds {
		name := strings.ToLower(c.Name)
		if _, dup := commands[name]; dup {
			panic("command registered twice: " + name)
		}
		c.Name = name
		commands[name] = c
	}
}

// Lookup finds a command by name, case-insensitively.
func Lookup(name string) (*Command, bool) {
	cmd, ok := commands[strings.ToLower(name)]
	return cmd, ok
}

// All returns every command ordered by name.
func All() []*Command {
	out := make([]*Command, 0, len(commands))
	for _, c := range commands {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
