package client

import (
	"fmt"
	"strconv"
	"time"

	"github.com/ValentinKolb/rKV/lib/resp"
	"github.com/ValentinKolb/rKV/rpc/common"
	"github.com/ValentinKolb/rKV/rpc/transport"
)

// TTL results for keys without a time to live.
const (
	TTLMissing    = -2 * time.Second // the key does not exist
	TTLPersistent = -1 * time.Second // the key exists without expiration
)

// NewClient connects the transport and returns a client on top of it.
//
// Usage:
//
//	c, err := client.NewClient(config, tcp.NewTCPClientTransport())
//	if err != nil {
//		return err
//	}
//	defer c.Close()
//	_ = c.Set("key", "value", 0)
func NewClient(config common.ClientConfig, transport transport.IRPCClientTransport) (*Client, error) {
	if err := transport.Connect(config); err != nil {
		return nil, err
	}
	return &Client{config: config, transport: transport}, nil
}

// Client sends commands to a RESP server. It is safe for concurrent use.
type Client struct {
	config    common.ClientConfig
	transport transport.IRPCClientTransport
}

// Close closes all connections.
func (c *Client) Close() error {
	return c.transport.Close()
}

// Do sends a raw command. Error replies are returned as values.
func (c *Client) Do(cmd string, a ...string) (resp.Value, error) {
	return c.transport.Do(args(cmd, a...)...)
}

// DoBytes sends a raw command with binary arguments.
func (c *Client) DoBytes(a ...[]byte) (resp.Value, error) {
	return c.transport.Do(a...)
}

// Pipeline sends all commands in one write and returns the replies in order.
func (c *Client) Pipeline(cmds ...[]string) ([]resp.Value, error) {
	wire := make([][][]byte, len(cmds))
	for i, cmd := range cmds {
		if len(cmd) == 0 {
			return nil, fmt.Errorf("empty command at index %d", i)
		}
		wire[i] = args(cmd[0], cmd[1:]...)
	}
	return c.transport.Pipeline(wire)
}

// --------------------------------------------------------------------------
// Typed commands
// --------------------------------------------------------------------------

func (c *Client) Ping() error {
	_, err := checkReply(c.Do("PING"))
	return err
}

// Get returns the value of key, found is false if the key does not exist.
func (c *Client) Get(key string) (value []byte, found bool, err error) {
	return asBulk(c.Do("GET", key))
}

// Set stores value under key. A positive ttl sets an expiration with
// millisecond precision.
func (c *Client) Set(key, value string, ttl time.Duration) error {
	_, err := c.SetWith(key, value, ttl)
	return err
}

// SetWith stores value under key with additional options (NX, XX, KEEPTTL,
// GET, ...). ok is false if a condition was not met.
func (c *Client) SetWith(key, value string, ttl time.Duration, opts ...string) (ok bool, err error) {
	a := []string{key, value}
	if ttl > 0 {
		a = append(a, "PX", strconv.FormatInt(ttl.Milliseconds(), 10))
	}
	a = append(a, opts...)
	return asStatus(c.Do("SET", a...))
}

// Del removes keys and returns how many existed.
func (c *Client) Del(keys ...string) (int64, error) {
	return asInt(c.Do("DEL", keys...))
}

// Exists returns how many of the keys exist (duplicates count twice).
func (c *Client) Exists(keys ...string) (int64, error) {
	return asInt(c.Do("EXISTS", keys...))
}

// Expire sets a time to live with millisecond precision.
func (c *Client) Expire(key string, ttl time.Duration) (bool, error) {
	return asBool(c.Do("PEXPIRE", key, strconv.FormatInt(ttl.Milliseconds(), 10)))
}

// Persist removes the expiration of key.
func (c *Client) Persist(key string) (bool, error) {
	return asBool(c.Do("PERSIST", key))
}

// TTL returns the remaining time to live, TTLMissing or TTLPersistent.
func (c *Client) TTL(key string) (time.Duration, error) {
	ms, err := asInt(c.Do("PTTL", key))
	if err != nil {
		return 0, err
	}
	if ms < 0 {
		return time.Duration(ms) * time.Second, nil
	}
	return time.Duration(ms) * time.Millisecond, nil
}

func (c *Client) Incr(key string) (int64, error) {
	return asInt(c.Do("INCR", key))
}

func (c *Client) IncrBy(key string, delta int64) (int64, error) {
	return asInt(c.Do("INCRBY", key, strconv.FormatInt(delta, 10)))
}

// DBSize returns the number of keys of the selected database.
func (c *Client) DBSize() (int64, error) {
	return asInt(c.Do("DBSIZE"))
}

func (c *Client) FlushDB() error {
	_, err := checkReply(c.Do("FLUSHDB"))
	return err
}

// Info returns the INFO text of the given sections (all if none).
func (c *Client) Info(sections ...string) (string, error) {
	v, err := checkReply(c.Do("INFO", sections...))
	if err != nil {
		return "", err
	}
	return v.Text(), nil
}

// --------------------------------------------------------------------------
// Scripting
// --------------------------------------------------------------------------

// Eval runs a Lua script. The reply is returned as is, error replies of the
// script become a *ReplyError.
func (c *Client) Eval(script string, keys []string, argv ...string) (resp.Value, error) {
	return checkReply(c.Do("EVAL", scriptArgs(script, keys, argv)...))
}

// EvalSHA runs a cached script.
func (c *Client) EvalSHA(sha string, keys []string, argv ...string) (resp.Value, error) {
	return checkReply(c.Do("EVALSHA", scriptArgs(sha, keys, argv)...))
}

// ScriptLoad caches a script and returns its SHA1 digest.
func (c *Client) ScriptLoad(script string) (string, error) {
	v, found, err := asBulk(c.Do("SCRIPT", "LOAD", script))
	if err != nil {
		return "", err
	}
	if !found {
		return "", unexpected(resp.NullBulk(), resp.TypeBulkString)
	}
	return string(v), nil
}

// ScriptExists reports for each digest whether it is cached.
func (c *Client) ScriptExists(shas ...string) ([]bool, error) {
	v, err := checkReply(c.Do("SCRIPT", append([]string{"EXISTS"}, shas...)...))
	if err != nil {
		return nil, err
	}
	if v.Type != resp.TypeArray {
		return nil, unexpected(v, resp.TypeArray)
	}
	out := make([]bool, len(v.Elems))
	for i, e := range v.Elems {
		out[i] = e.Type == resp.TypeInteger && e.Int == 1
	}
	return out, nil
}

// ScriptFlush empties the script cache.
func (c *Client) ScriptFlush() error {
	_, err := checkReply(c.Do("SCRIPT", "FLUSH"))
	return err
}

func scriptArgs(script string, keys, argv []string) []string {
	a := make([]string, 0, 2+len(keys)+len(argv))
	a = append(a, script, strconv.Itoa(len(keys)))
	a = append(a, keys...)
	return append(a, argv...)
}
