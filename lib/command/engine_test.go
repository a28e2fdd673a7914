package command

import (
	"context"
	"strings"
	"testing"

	"github.com/ValentinKolb/rKV/lib/cluster"
	"github.com/ValentinKolb/rKV/lib/db"
	"github.com/ValentinKolb/rKV/lib/db/engines/maple"
	"github.com/ValentinKolb/rKV/lib/expire"
	"github.com/ValentinKolb/rKV/lib/resp"
	"github.com/ValentinKolb/rKV/lib/store/lstore"
)

type harness struct {
	t    *testing.T
	e    *Engine
	sess *Session
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	if cfg.Store == nil {
		st, err := lstore.NewLocalStore(func() (db.KVDB, error) {
			return maple.NewMapleDB(nil), nil
		}, "")
		if err != nil {
			t.Fatalf("NewLocalStore() failed: %v", err)
		}
		t.Cleanup(func() { _ = st.Close() })
		cfg.Store = st
	}
	e := NewEngine(cfg)
	t.Cleanup(e.Close)
	sess := e.Clients().Register(context.Background(), "127.0.0.1:50000")
	t.Cleanup(func() { e.Clients().Unregister(sess) })
	return &harness{t: t, e: e, sess: sess}
}

func args(parts ...string) [][]byte {
	out := make([][]byte, len(parts))
	for i, p := range parts {
		out[i] = []byte(p)
	}
	return out
}

func (h *harness) do(parts ...string) resp.Value {
	h.t.Helper()
	return h.e.Exec(h.sess, args(parts...))
}

func (h *harness) expect(want resp.Value, parts ...string) {
	h.t.Helper()
	if got := h.do(parts...); !got.Equal(want) {
		h.t.Errorf("%s = %#v, want %#v", strings.Join(parts, " "), got, want)
	}
}

func (h *harness) expectErr(prefix string, parts ...string) {
	h.t.Helper()
	got := h.do(parts...)
	if !got.IsError() || !strings.HasPrefix(got.Str, prefix) {
		h.t.Errorf("%s = %#v, want error starting with %q", strings.Join(parts, " "), got, prefix)
	}
}

func setClock(t *testing.T, now *int64) {
	t.Helper()
	prev := expire.Now
	expire.Now = func() int64 { return *now }
	t.Cleanup(func() { expire.Now = prev })
}

func bulks(items ...string) resp.Value { return resp.StringArray(items) }

func TestDispatchErrors(t *testing.T) {
	h := newHarness(t, Config{})

	h.expect(resp.SimpleString("PONG"), "PING")
	h.expect(resp.BulkString("hi"), "ping", "hi")
	h.expectErr("ERR unknown command 'nope', with args beginning with: 'a'", "nope", "a")
	h.expectErr("ERR wrong number of arguments for 'get' command", "GET")
	h.expectErr("ERR wrong number of arguments for 'set' command", "SET", "k")
	h.expectErr("ERR syntax error", "SET", "k", "v", "NX", "XX")
	h.expectErr("ERR value is not an integer or out of range", "INCRBY", "k", "x")
}

func TestStringCommands(t *testing.T) {
	h := newHarness(t, Config{})

	h.expect(resp.OK, "SET", "k", "v")
	h.expect(resp.BulkString("v"), "GET", "k")
	h.expect(resp.NullBulk(), "SET", "k", "w", "NX")
	h.expect(resp.BulkString("v"), "SET", "k", "w", "XX", "GET")
	h.expect(resp.NullBulk(), "SET", "missing", "w", "XX")
	h.expect(resp.NullBulk(), "GET", "missing")
	h.expect(resp.Integer(5), "APPEND", "k", "1234")
	h.expect(resp.BulkString("w12"), "GETRANGE", "k", "0", "2")
	h.expect(resp.BulkString("34"), "GETRANGE", "k", "-2", "-1")
	h.expect(resp.Integer(5), "STRLEN", "k")
	h.expect(resp.Integer(7), "SETRANGE", "k", "5", "ab")
	h.expect(resp.BulkString("w1234ab"), "GET", "k")

	h.expect(resp.Integer(1), "INCR", "n")
	h.expect(resp.Integer(11), "INCRBY", "n", "10")
	h.expect(resp.Integer(8), "DECRBY", "n", "3")
	h.expect(resp.BulkString("8.5"), "INCRBYFLOAT", "n", "0.5")
	h.expectErr("ERR value is not an integer", "INCR", "n")
	h.expect(resp.OK, "SET", "big", "9223372036854775807")
	h.expectErr("ERR increment or decrement would overflow", "INCR", "big")

	h.expect(resp.OK, "MSET", "a", "1", "b", "2")
	h.expect(resp.BulkArray([][]byte{[]byte("1"), []byte("2"), nil}), "MGET", "a", "b", "c")
	h.expect(resp.Integer(0), "MSETNX", "a", "x", "c", "3")
	h.expect(resp.NullBulk(), "GET", "c")
	h.expect(resp.BulkString("1"), "GETDEL", "a")
	h.expect(resp.Integer(0), "EXISTS", "a")
	h.expect(resp.Integer(1), "SETNX", "a", "x")
	h.expect(resp.Integer(0), "SETNX", "a", "y")
}

func TestTypeIsolation(t *testing.T) {
	h := newHarness(t, Config{})

	h.expect(resp.OK, "SET", "s", "v")
	h.expect(resp.Integer(1), "RPUSH", "l", "a")
	h.expect(resp.Integer(1), "HSET", "h", "f", "v")

	for _, cmd := range [][]string{
		{"LPUSH", "s", "x"},
		{"GET", "l"},
		{"HGET", "l", "f"},
		{"SADD", "h", "m"},
		{"ZADD", "s", "1", "m"},
		{"INCR", "h"},
		{"JSON.GET", "s"},
	} {
		h.expectErr("WRONGTYPE", cmd...)
	}
	// the failed commands left everything untouched
	h.expect(resp.BulkString("v"), "GET", "s")
	h.expect(resp.SimpleString("list"), "TYPE", "l")
	h.expect(resp.SimpleString("hash"), "TYPE", "h")
	h.expect(resp.SimpleString("none"), "TYPE", "missing")
}

func TestExpiration(t *testing.T) {
	now := int64(1_000_000)
	setClock(t, &now)
	h := newHarness(t, Config{})

	h.expect(resp.OK, "SET", "k", "v", "PX", "1500")
	h.expect(resp.Integer(1500), "PTTL", "k")
	h.expect(resp.Integer(2), "TTL", "k")
	h.expect(resp.Integer(1_001_500), "PEXPIRETIME", "k")
	h.expect(resp.Integer(-2), "PTTL", "missing")

	// relative expirations <= 0 delete instead of failing
	for _, cmd := range [][]string{
		{"SET", "z", "v", "EX", "0"},
		{"SET", "z", "v", "PX", "-5"},
		{"SET", "z", "v", "EXAT", "0"},
	} {
		h.expect(resp.OK, "SET", "z", "old")
		h.expect(resp.OK, cmd...)
		h.expect(resp.Integer(0), "EXISTS", "z")
	}
	h.expect(resp.OK, "SET", "z", "old")
	h.expect(resp.BulkString("old"), "SET", "z", "new", "EX", "0", "GET")
	h.expect(resp.Integer(0), "EXISTS", "z")
	h.expect(resp.OK, "SETEX", "z", "-1", "v")
	h.expect(resp.Integer(0), "EXISTS", "z")
	h.expect(resp.OK, "PSETEX", "z", "0", "v")
	h.expect(resp.Integer(0), "EXISTS", "z")
	h.expect(resp.OK, "SET", "z", "v")
	h.expect(resp.BulkString("v"), "GETEX", "z", "PX", "0")
	h.expect(resp.Integer(0), "EXISTS", "z")

	// NX, XX, GT and LT conditions
	h.expect(resp.Integer(0), "PEXPIRE", "k", "5000", "NX")
	h.expect(resp.Integer(1), "PEXPIRE", "k", "5000", "XX")
	h.expect(resp.Integer(0), "PEXPIRE", "k", "1000", "GT")
	h.expect(resp.Integer(1), "PEXPIRE", "k", "1000", "LT")
	h.expect(resp.Integer(1000), "PTTL", "k")

	now += 999
	h.expect(resp.BulkString("v"), "GET", "k")
	now++
	h.expect(resp.NullBulk(), "GET", "k")
	h.expect(resp.Integer(-2), "TTL", "k")
	h.expect(resp.Integer(0), "EXISTS", "k")

	// SET clears the expiration unless KEEPTTL is given
	h.expect(resp.OK, "SET", "p", "v", "EX", "10")
	h.expect(resp.OK, "SET", "p", "w", "KEEPTTL")
	h.expect(resp.Integer(10), "TTL", "p")
	h.expect(resp.OK, "SET", "p", "x")
	h.expect(resp.Integer(-1), "TTL", "p")

	h.expect(resp.Integer(1), "EXPIRE", "p", "10")
	h.expect(resp.Integer(1), "PERSIST", "p")
	h.expect(resp.Integer(0), "PERSIST", "p")

	// a deadline in the past deletes the key
	h.expect(resp.Integer(1), "EXPIRE", "p", "-1")
	h.expect(resp.Integer(0), "EXISTS", "p")
}

func TestKeyCommands(t *testing.T) {
	h := newHarness(t, Config{})

	h.expect(resp.OK, "MSET", "a", "1", "b", "2", "c", "3")
	h.expect(resp.Integer(3), "EXISTS", "a", "b", "a")
	h.expect(resp.Integer(2), "DEL", "a", "b", "nope")
	h.expect(resp.OK, "RENAME", "c", "d")
	h.expect(resp.BulkString("3"), "GET", "d")
	h.expectErr("ERR no such key", "RENAME", "c", "e")
	h.expect(resp.OK, "SET", "e", "x")
	h.expect(resp.Integer(0), "RENAMENX", "d", "e")
	h.expect(resp.Integer(1), "COPY", "d", "f")
	h.expect(resp.Integer(0), "COPY", "d", "f")
	h.expect(resp.Integer(1), "COPY", "e", "f", "REPLACE")
	h.expect(resp.BulkString("x"), "GET", "f")
	h.expectErr("ERR source and destination objects are the same", "COPY", "f", "f")
	h.expect(bulks("d", "e", "f"), "KEYS", "*")
	h.expect(resp.Integer(3), "DBSIZE")

	// scan until the cursor returns to 0
	seen := map[string]bool{}
	cursor := "0"
	for {
		v := h.do("SCAN", cursor, "COUNT", "1")
		if v.IsError() || len(v.Elems) != 2 {
			t.Fatalf("SCAN = %#v", v)
		}
		for _, k := range v.Elems[1].Elems {
			seen[string(k.Bulk)] = true
		}
		if cursor = string(v.Elems[0].Bulk); cursor == "0" {
			break
		}
	}
	if len(seen) != 3 {
		t.Errorf("SCAN returned %v, want 3 keys", seen)
	}
	h.expectErr("ERR invalid cursor", "SCAN", "abc")
}

func TestSelectMoveSwap(t *testing.T) {
	h := newHarness(t, Config{})

	h.expect(resp.OK, "SET", "k", "v0")
	h.expect(resp.Integer(1), "MOVE", "k", "1")
	h.expect(resp.Integer(0), "EXISTS", "k")
	h.expectErr("ERR source and destination objects are the same", "MOVE", "k", "0")
	h.expectErr("ERR DB index is out of range", "SELECT", "16")

	h.expect(resp.OK, "SELECT", "1")
	h.expect(resp.BulkString("v0"), "GET", "k")
	h.expect(resp.Integer(1), "COPY", "k", "k", "DB", "2")
	h.expect(resp.OK, "SWAPDB", "1", "3")
	h.expect(resp.NullBulk(), "GET", "k")
	h.expect(resp.OK, "SELECT", "3")
	h.expect(resp.BulkString("v0"), "GET", "k")

	h.expect(resp.OK, "FLUSHALL")
	h.expect(resp.Integer(0), "DBSIZE")
	h.expect(resp.OK, "SELECT", "2")
	h.expect(resp.Integer(0), "DBSIZE")
}

func TestListCommands(t *testing.T) {
	h := newHarness(t, Config{})

	h.expect(resp.Integer(3), "RPUSH", "l", "a", "b", "c")
	h.expect(resp.Integer(5), "LPUSH", "l", "y", "z")
	h.expect(bulks("z", "y", "a", "b", "c"), "LRANGE", "l", "0", "-1")
	h.expect(bulks("b", "c"), "LRANGE", "l", "-2", "100")
	h.expect(bulks(), "LRANGE", "l", "4", "2")
	h.expect(resp.BulkString("a"), "LINDEX", "l", "2")
	h.expect(resp.NullBulk(), "LINDEX", "l", "9")
	h.expect(resp.OK, "LSET", "l", "0", "Z")
	h.expectErr("ERR index out of range", "LSET", "l", "9", "x")
	h.expectErr("ERR no such key", "LSET", "nope", "0", "x")
	h.expect(resp.Integer(6), "LINSERT", "l", "AFTER", "a", "a")
	h.expect(resp.Integer(-1), "LINSERT", "l", "BEFORE", "nope", "x")
	h.expect(resp.Integer(2), "LPOS", "l", "a")
	h.expect(resp.Array(resp.Integer(2), resp.Integer(3)), "LPOS", "l", "a", "COUNT", "0")
	h.expect(resp.Integer(3), "LPOS", "l", "a", "RANK", "-1")
	h.expect(resp.Integer(2), "LREM", "l", "0", "a")
	h.expect(bulks("Z", "y", "b", "c"), "LRANGE", "l", "0", "-1")

	h.expect(resp.BulkString("Z"), "LPOP", "l")
	h.expect(bulks("c", "b"), "RPOP", "l", "2")
	h.expectErr("ERR value is out of range, must be positive", "LPOP", "l", "-1")
	h.expect(resp.BulkString("y"), "RPOPLPUSH", "l", "other")
	// the last element was popped, so the key is gone
	h.expect(resp.Integer(0), "EXISTS", "l")
	h.expect(resp.NullArray(), "LPOP", "l", "1")
	h.expect(resp.Integer(0), "LPUSHX", "l", "x")

	h.expect(resp.Integer(3), "RPUSH", "r", "1", "2", "3")
	h.expect(resp.BulkString("1"), "LMOVE", "r", "r", "LEFT", "RIGHT")
	h.expect(bulks("2", "3", "1"), "LRANGE", "r", "0", "-1")
	h.expect(resp.OK, "LTRIM", "r", "1", "1")
	h.expect(bulks("3"), "LRANGE", "r", "0", "-1")
	h.expect(resp.OK, "LTRIM", "r", "5", "6")
	h.expect(resp.Integer(0), "LLEN", "r")
}

func TestHashCommands(t *testing.T) {
	h := newHarness(t, Config{})

	h.expect(resp.Integer(2), "HSET", "h", "a", "1", "b", "2")
	h.expect(resp.Integer(0), "HSET", "h", "a", "10")
	h.expectErr("ERR wrong number of arguments for 'hset' command", "HSET", "h", "a", "1", "b")
	h.expect(resp.BulkString("10"), "HGET", "h", "a")
	h.expect(resp.Integer(0), "HSETNX", "h", "a", "x")
	h.expect(resp.BulkArray([][]byte{[]byte("10"), nil}), "HMGET", "h", "a", "zz")
	h.expect(resp.Integer(2), "HLEN", "h")
	h.expect(resp.Integer(15), "HINCRBY", "h", "a", "5")
	h.expect(resp.BulkString("2.5"), "HINCRBYFLOAT", "h", "b", "0.5")
	h.expectErr("ERR hash value is not an integer", "HINCRBY", "h", "b", "1")
	h.expect(bulks("a", "b"), "HKEYS", "h")
	h.expect(resp.Map(resp.BulkString("a"), resp.BulkString("15"), resp.BulkString("b"), resp.BulkString("2.5")), "HGETALL", "h")
	h.expect(resp.Integer(3), "HSTRLEN", "h", "b")
	h.expect(resp.Integer(2), "HDEL", "h", "a", "b", "c")
	h.expect(resp.Integer(0), "EXISTS", "h")
}

func TestSetCommands(t *testing.T) {
	h := newHarness(t, Config{})

	h.expect(resp.Integer(3), "SADD", "s1", "a", "b", "c")
	h.expect(resp.Integer(1), "SADD", "s1", "a", "d")
	h.expect(resp.Integer(2), "SADD", "s2", "c", "d")
	h.expect(resp.Integer(4), "SCARD", "s1")
	h.expect(resp.Integer(1), "SISMEMBER", "s1", "a")
	h.expect(resp.Array(resp.Integer(1), resp.Integer(0)), "SMISMEMBER", "s1", "a", "x")
	h.expect(resp.Set(resp.BulkString("c"), resp.BulkString("d")), "SINTER", "s1", "s2")
	h.expect(resp.Set(resp.BulkString("a"), resp.BulkString("b")), "SDIFF", "s1", "s2")
	h.expect(resp.Integer(2), "SINTERCARD", "2", "s1", "s2")
	h.expect(resp.Integer(1), "SINTERCARD", "2", "s1", "s2", "LIMIT", "1")
	h.expect(resp.Integer(4), "SUNIONSTORE", "u", "s1", "s2")
	h.expect(resp.Integer(0), "SINTERSTORE", "u", "s1", "missing")
	h.expect(resp.Integer(0), "EXISTS", "u")
	h.expect(resp.Integer(1), "SMOVE", "s2", "s3", "c")
	h.expect(resp.Set(resp.BulkString("d")), "SMEMBERS", "s2")
	h.expect(resp.Integer(2), "SREM", "s1", "a", "b")

	// diff of a set with itself is empty, the destination is not created
	h.expect(resp.Integer(2), "SADD", "same", "x", "y")
	h.expect(resp.Integer(0), "SDIFFSTORE", "dst", "same", "same")
	h.expect(resp.Integer(0), "EXISTS", "dst")
	h.expect(resp.OK, "SET", "dst", "v")
	h.expect(resp.Integer(0), "SDIFFSTORE", "dst", "same", "same")
	h.expect(resp.Integer(0), "EXISTS", "dst")

	v := h.do("SPOP", "s1", "5")
	if len(v.Elems) != 2 {
		t.Errorf("SPOP s1 5 = %#v, want 2 members", v)
	}
	h.expect(resp.Integer(0), "EXISTS", "s1")
	if v := h.do("SRANDMEMBER", "s2", "-3"); len(v.Elems) != 3 {
		t.Errorf("SRANDMEMBER with negative count = %#v", v)
	}
}

func TestZSetCommands(t *testing.T) {
	h := newHarness(t, Config{})

	h.expect(resp.Integer(3), "ZADD", "z", "1", "a", "2", "b", "3", "c")
	h.expect(resp.Integer(1), "ZADD", "z", "CH", "5", "a")
	h.expect(resp.Integer(0), "ZADD", "z", "GT", "CH", "1", "a")
	h.expect(resp.Double(6), "ZADD", "z", "INCR", "1", "a")
	h.expect(resp.NullBulk(), "ZADD", "z", "NX", "INCR", "1", "a")
	h.expectErr("ERR XX and NX options", "ZADD", "z", "NX", "XX", "1", "a")
	h.expectErr("ERR value is not a valid float", "ZADD", "z", "x", "a")

	h.expect(bulks("b", "c", "a"), "ZRANGE", "z", "0", "-1")
	h.expect(bulks("a", "c"), "ZREVRANGE", "z", "0", "1")
	h.expect(resp.Array(resp.BulkString("b"), resp.Double(2), resp.BulkString("c"), resp.Double(3)),
		"ZRANGEBYSCORE", "z", "-inf", "(6", "WITHSCORES")
	h.expect(bulks("a", "c"), "ZRANGE", "z", "+inf", "2", "BYSCORE", "REV", "LIMIT", "0", "2")
	h.expect(bulks("c"), "ZREVRANGEBYSCORE", "z", "5", "(2")
	h.expectErr("ERR min or max is not a float", "ZCOUNT", "z", "x", "1")
	h.expect(resp.Integer(2), "ZCOUNT", "z", "(1", "3")
	h.expect(resp.Integer(0), "ZRANK", "z", "b")
	h.expect(resp.Integer(0), "ZREVRANK", "z", "a")
	h.expect(resp.Double(3), "ZSCORE", "z", "c")
	h.expect(resp.Array(resp.Double(2), resp.NullBulk()), "ZMSCORE", "z", "b", "x")
	h.expect(resp.Double(4.5), "ZINCRBY", "z", "1.5", "c")

	h.expect(resp.Array(resp.BulkString("b"), resp.Double(2)), "ZPOPMIN", "z")
	h.expect(resp.Array(resp.BulkString("a"), resp.Double(6)), "ZPOPMAX", "z", "1")
	h.expect(resp.Integer(1), "ZREMRANGEBYSCORE", "z", "-inf", "+inf")
	h.expect(resp.Integer(0), "ZCARD", "z")
	h.expect(resp.Integer(0), "EXISTS", "z")

	// equal scores are ordered by member
	h.expect(resp.Integer(4), "ZADD", "ties", "1", "b", "1", "a", "2", "c", "1", "ab")
	h.expect(bulks("a", "ab", "b", "c"), "ZRANGE", "ties", "0", "-1")
	h.expect(bulks("a", "ab", "b"), "ZRANGEBYSCORE", "ties", "1", "1")
	h.expect(bulks("b", "ab", "a"), "ZREVRANGEBYSCORE", "ties", "1", "1")
	h.expect(resp.Integer(1), "ZRANK", "ties", "ab")

	// re-adding a member with a new score moves it
	h.expect(resp.Integer(2), "ZADD", "zs", "1", "x", "2", "y")
	h.expect(resp.Integer(0), "ZADD", "zs", "0", "y")
	h.expect(bulks("y", "x"), "ZRANGE", "zs", "0", "-1")
	h.expect(resp.Array(resp.BulkString("y"), resp.Double(0), resp.BulkString("x"), resp.Double(1)),
		"ZRANGE", "zs", "0", "-1", "WITHSCORES")
}

func TestJSONCommands(t *testing.T) {
	h := newHarness(t, Config{})

	h.expect(resp.OK, "JSON.SET", "doc", "$", `{"a":1,"b":{"c":[1,2]}}`)
	h.expectErr("ERR invalid JSON value", "JSON.SET", "doc", "$", `{"a":`)
	h.expectErr("ERR new objects must be created at the root", "JSON.SET", "nope", "$.a", "1")
	h.expect(resp.BulkString(`[1]`), "JSON.GET", "doc", "$.a")
	h.expect(resp.BulkString(`[1,2]`), "JSON.GET", "doc", ".b.c")
	h.expect(resp.BulkString(`[2]`), "JSON.GET", "doc", "$.b.c[1]")
	h.expect(resp.OK, "JSON.SET", "doc", "$.d", `"x"`)
	h.expect(resp.NullBulk(), "JSON.SET", "doc", "$.d", `"y"`, "NX")
	h.expect(resp.SimpleString("string"), "JSON.TYPE", "doc", ".d")
	h.expect(resp.SimpleString("integer"), "JSON.TYPE", "doc", ".a")
	h.expect(resp.BulkString("3"), "JSON.NUMINCRBY", "doc", ".a", "2")
	h.expectErr("ERR expected number but found string", "JSON.NUMINCRBY", "doc", ".d", "1")
	h.expect(resp.Integer(1), "JSON.DEL", "doc", "$.b")
	h.expect(resp.BulkString(`{"a":3,"d":"x"}`), "JSON.GET", "doc")
	h.expect(resp.SimpleString("ReJSON-RL"), "TYPE", "doc")
	h.expect(resp.Array(resp.BulkString("3"), resp.NullBulk()), "JSON.MGET", "doc", "nope", ".a")
	h.expect(resp.Integer(1), "JSON.DEL", "doc")
	h.expect(resp.Integer(0), "EXISTS", "doc")
}

func TestHelloAndClient(t *testing.T) {
	h := newHarness(t, Config{Version: "1.2.3"})

	h.expectErr("NOPROTO", "HELLO", "4")
	v := h.do("HELLO", "3", "SETNAME", "worker")
	if v.Type != resp.TypeMap {
		t.Fatalf("HELLO 3 = %#v, want map", v)
	}
	if h.sess.Protocol() != resp.Proto3 {
		t.Errorf("protocol = %d, want 3", h.sess.Protocol())
	}
	h.expect(resp.BulkString("worker"), "CLIENT", "GETNAME")
	h.expectErr("ERR Client names cannot contain spaces", "CLIENT", "SETNAME", "a b")
	if v := h.do("CLIENT", "LIST"); !strings.Contains(string(v.Bulk), "name=worker") {
		t.Errorf("CLIENT LIST = %q", v.Bulk)
	}

	// protocol 3 clients receive nested pairs
	h.expect(resp.Integer(2), "ZADD", "z", "1", "a", "2", "b")
	h.expect(resp.Array(
		resp.Array(resp.BulkString("a"), resp.Double(1)),
		resp.Array(resp.BulkString("b"), resp.Double(2)),
	), "ZRANGE", "z", "0", "-1", "WITHSCORES")

	h.expect(resp.OK, "QUIT")
	if !h.sess.Closing() {
		t.Error("QUIT did not mark the session")
	}
}

func TestInfo(t *testing.T) {
	h := newHarness(t, Config{})
	h.expect(resp.OK, "SET", "k", "v")
	v := h.do("INFO", "keyspace")
	if got := string(v.Bulk); !strings.Contains(got, "db0:keys=1,expires=0") || strings.Contains(got, "# Server") {
		t.Errorf("INFO keyspace = %q", got)
	}
	v = h.do("INFO")
	for _, want := range []string{"# Server", "# Clients", "# Stats", "total_commands_processed:"} {
		if !strings.Contains(string(v.Bulk), want) {
			t.Errorf("INFO misses %q", want)
		}
	}
	if n := h.do("COMMAND", "COUNT"); n.Int != int64(len(commands)) {
		t.Errorf("COMMAND COUNT = %d", n.Int)
	}
}

func TestRouting(t *testing.T) {
	slots, err := cluster.ParseSlotMap("0-8191=a:1,8192-16383=b:2")
	if err != nil {
		t.Fatal(err)
	}
	h := newHarness(t, Config{Router: cluster.NewRouter(slots, "a:1")})

	// bar -> 5061 (local), foo -> 12182 (remote)
	h.expect(resp.OK, "SET", "bar", "v")
	h.expectErr("MOVED 12182 b:2", "GET", "foo")
	h.expectErr("CROSSSLOT", "MGET", "foo", "bar")
	h.expect(resp.Integer(12182), "CLUSTER", "KEYSLOT", "foo")
	h.expect(resp.Integer(5061), "CLUSTER", "KEYSLOT", "{bar}.x")
}

func TestMonitorReceivesOtherSessions(t *testing.T) {
	h := newHarness(t, Config{})
	watcher := h.e.Clients().Register(context.Background(), "127.0.0.1:50001")
	defer h.e.Clients().Unregister(watcher)

	if v := h.e.Exec(watcher, args("MONITOR")); !v.Equal(resp.OK) {
		t.Fatalf("MONITOR = %#v", v)
	}
	h.expect(resp.OK, "SET", "k", "v")

	line, ok := watcher.Monitor().Pop()
	if !ok {
		t.Fatal("monitor received nothing")
	}
	if !strings.HasSuffix(*line, `[0 127.0.0.1:50000] "SET" "k" "v"`) {
		t.Errorf("monitor line = %q", *line)
	}
	h.e.Monitors().Unsubscribe(watcher)
}

func TestInvokeRejectsForbiddenCommands(t *testing.T) {
	h := newHarness(t, Config{})
	c := &Ctx{Context: context.Background(), Engine: h.e, Session: h.sess, KS: NewStoreView(h.e.Store(), 0)}

	for _, cmd := range [][]string{{"SELECT", "1"}, {"FLUSHALL"}, {"EVAL", "return 1", "0"}, {"NOSUCH"}, {"COPY", "a", "b", "DB", "1"}} {
		if _, err := h.e.Invoke(c, args(cmd...)); err == nil {
			t.Errorf("Invoke(%v) should abort the script", cmd)
		}
	}
	// COPY ... DB naming the current database stays inside the keyspace
	if _, err := h.e.Invoke(c, args("COPY", "a", "b", "DB", "0")); err != nil {
		t.Errorf("Invoke(COPY a b DB 0) = %v, want no abort", err)
	}
	if _, err := h.e.Invoke(c, args("DBSIZE")); err == nil {
		t.Error("Invoke(DBSIZE) should abort the script")
	}

	v, err := h.e.Invoke(c, args("SET", "k", "v"))
	if err != nil || !v.Equal(resp.OK) {
		t.Errorf("Invoke(SET) = %#v, %v", v, err)
	}
	v, err = h.e.Invoke(c, args("GET"))
	if err != nil || !v.IsError() {
		t.Errorf("Invoke(GET) with wrong arity = %#v, %v, want error reply", v, err)
	}
}

func TestExpireCycleCountsKeys(t *testing.T) {
	now := int64(1_000)
	setClock(t, &now)
	h := newHarness(t, Config{})

	h.expect(resp.OK, "SET", "a", "v", "PX", "10")
	h.expect(resp.OK, "SET", "b", "v", "PX", "10")
	now += 10
	n, err := h.e.ExpireCycle(0, 100)
	if err != nil || n != 2 {
		t.Fatalf("ExpireCycle() = %d, %v", n, err)
	}
	if got := h.e.Stats().ExpiredKeys; got != 2 {
		t.Errorf("ExpiredKeys = %d", got)
	}
}
