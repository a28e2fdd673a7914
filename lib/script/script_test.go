package script

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/ValentinKolb/rKV/lib/command"
	"github.com/ValentinKolb/rKV/lib/db"
	"github.com/ValentinKolb/rKV/lib/db/engines/maple"
	"github.com/ValentinKolb/rKV/lib/resp"
	"github.com/ValentinKolb/rKV/lib/store"
	"github.com/ValentinKolb/rKV/lib/store/lstore"
)

func newStore(t *testing.T) store.IStore {
	t.Helper()
	st, err := lstore.NewLocalStore(func() (db.KVDB, error) {
		return maple.NewMapleDB(nil), nil
	}, "")
	if err != nil {
		t.Fatalf("NewLocalStore() failed: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

type harness struct {
	t       *testing.T
	e       *command.Engine
	scripts *Engine
	sess    *command.Session
}

func newHarness(t *testing.T, st store.IStore) *harness {
	t.Helper()
	e := command.NewEngine(command.Config{Store: st})
	t.Cleanup(e.Close)
	scripts := NewEngine()
	e.SetScripter(scripts)
	sess := e.Clients().Register(context.Background(), "127.0.0.1:50000")
	t.Cleanup(func() { e.Clients().Unregister(sess) })
	return &harness{t: t, e: e, scripts: scripts, sess: sess}
}

func (h *harness) do(parts ...string) resp.Value {
	h.t.Helper()
	args := make([][]byte, len(parts))
	for i, p := range parts {
		args[i] = []byte(p)
	}
	return h.e.Exec(h.sess, args)
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

// --------------------------------------------------------------------------
// Transaction
// --------------------------------------------------------------------------

func TestTxnReadYourOwnWrites(t *testing.T) {
	st := newStore(t)
	if err := st.Set(0, "k", &db.StoredValue{Value: db.Scalar("old")}); err != nil {
		t.Fatal(err)
	}

	txn := NewTxn(st, 0, 1000)
	if err := txn.Begin(); err != nil {
		t.Fatal(err)
	}
	if err := txn.Set("k", &db.StoredValue{Value: db.Scalar("new")}); err != nil {
		t.Fatal(err)
	}
	sv, err := txn.Get("k")
	if err != nil || sv == nil || string(sv.Value.(db.Scalar)) != "new" {
		t.Fatalf("Get() inside txn = %v, %v, want new", sv, err)
	}

	// the store still has the old value until commit
	sv, _ = st.Get(0, "k")
	if string(sv.Value.(db.Scalar)) != "old" {
		t.Fatalf("store changed before commit: %v", sv)
	}

	if removed, _ := txn.Delete("k"); !removed {
		t.Error("Delete() of a buffered key must report removal")
	}
	if ok, _ := txn.Exists("k"); ok {
		t.Error("deleted key still visible inside txn")
	}
	if err := txn.Set("other", &db.StoredValue{Value: db.Scalar("x")}); err != nil {
		t.Fatal(err)
	}
	if err := txn.Commit(); err != nil {
		t.Fatal(err)
	}
	if txn.State() != StateCommitted {
		t.Errorf("state = %s, want committed", txn.State())
	}
	if ok, _ := st.Exists(0, "k"); ok {
		t.Error("k must be deleted after commit")
	}
	if ok, _ := st.Exists(0, "other"); !ok {
		t.Error("other must exist after commit")
	}
}

func TestTxnGetReturnsPrivateCopy(t *testing.T) {
	st := newStore(t)
	_ = st.Set(0, "l", &db.StoredValue{Value: db.NewList([]byte("a"))})

	txn := NewTxn(st, 0, 1000)
	_ = txn.Begin()
	sv, err := txn.Get("l")
	if err != nil {
		t.Fatal(err)
	}
	sv.Value.(*db.List).PushBack([]byte("b"))

	stored, _ := st.Get(0, "l")
	if n := stored.Value.(*db.List).Len(); n != 1 {
		t.Errorf("store list has %d elements, want 1", n)
	}
	_ = txn.Discard()
}

func TestTxnDiscard(t *testing.T) {
	st := newStore(t)
	txn := NewTxn(st, 0, 1000)
	_ = txn.Begin()
	_ = txn.Set("a", &db.StoredValue{Value: db.Scalar("1")})
	if err := txn.Discard(); err != nil {
		t.Fatal(err)
	}
	if ok, _ := st.Exists(0, "a"); ok {
		t.Error("discarded write is visible")
	}
	if _, err := txn.Get("a"); !errors.Is(err, ErrTxnState) {
		t.Errorf("Get() after discard = %v, want ErrTxnState", err)
	}
	if err := txn.Commit(); !errors.Is(err, ErrTxnState) {
		t.Errorf("Commit() after discard = %v, want ErrTxnState", err)
	}
}

func TestTxnStateTransitions(t *testing.T) {
	st := newStore(t)
	txn := NewTxn(st, 0, 1000)

	if err := txn.Set("a", &db.StoredValue{Value: db.Scalar("1")}); !errors.Is(err, ErrTxnState) {
		t.Errorf("Set() before Begin() = %v, want ErrTxnState", err)
	}
	if err := txn.Commit(); !errors.Is(err, ErrTxnState) {
		t.Errorf("Commit() before Begin() = %v, want ErrTxnState", err)
	}
	_ = txn.Begin()
	if err := txn.Begin(); !errors.Is(err, ErrTxnState) {
		t.Errorf("second Begin() = %v, want ErrTxnState", err)
	}
	if err := txn.Commit(); err != nil {
		t.Fatalf("empty Commit() failed: %v", err)
	}
	if err := txn.Discard(); !errors.Is(err, ErrTxnState) {
		t.Errorf("Discard() after commit = %v, want ErrTxnState", err)
	}
}

func TestTxnExpiredWriteBecomesDelete(t *testing.T) {
	st := newStore(t)
	_ = st.Set(0, "k", &db.StoredValue{Value: db.Scalar("v")})

	txn := NewTxn(st, 0, 1000)
	_ = txn.Begin()
	_ = txn.Set("k", &db.StoredValue{Value: db.Scalar("v"), ExpireAt: 500})
	ops := txn.Ops()
	if len(ops) != 1 || ops[0].Key != "k" || ops[0].Value != nil {
		t.Fatalf("Ops() = %+v, want one delete of k", ops)
	}
	_ = txn.Commit()
	if ok, _ := st.Exists(0, "k"); ok {
		t.Error("k must be gone")
	}
}

// failingStore rejects every batch.
type failingStore struct {
	store.IStore
}

func (failingStore) WriteBatch(int, []db.BatchOp) error {
	return store.NewError(store.RetCInternalError, "disk full")
}

func TestTxnCommitFailure(t *testing.T) {
	st := failingStore{newStore(t)}
	txn := NewTxn(st, 0, 1000)
	_ = txn.Begin()
	_ = txn.Set("a", &db.StoredValue{Value: db.Scalar("1")})
	if err := txn.Commit(); err == nil {
		t.Fatal("Commit() must fail")
	}
	if txn.State() != StateDiscarded {
		t.Errorf("state = %s, want discarded", txn.State())
	}
}

// --------------------------------------------------------------------------
// Scripts
// --------------------------------------------------------------------------

func TestEvalBasics(t *testing.T) {
	h := newHarness(t, newStore(t))

	h.expect(resp.OK, "EVAL", "return redis.call('SET', KEYS[1], ARGV[1])", "1", "k", "v")
	h.expect(resp.BulkString("v"), "EVAL", "return redis.call('GET', KEYS[1])", "1", "k")
	h.expect(resp.NullBulk(), "EVAL", "return redis.call('GET', 'missing')", "0")
	h.expect(resp.Integer(3), "EVAL", "return 3.9", "0")
	h.expect(resp.Integer(1), "EVAL", "return true", "0")
	h.expect(resp.NullBulk(), "EVAL", "return nil", "0")
	h.expect(resp.SimpleString("FINE"), "EVAL", "return redis.status_reply('FINE')", "0")
	h.expect(resp.Error("MY failure"), "EVAL", "return redis.error_reply('MY failure')", "0")
	h.expect(
		resp.Array(resp.Integer(1), resp.BulkString("two"), resp.Array(resp.Integer(3))),
		"EVAL", "return {1, 'two', {3}, nil, 5}", "0",
	)
	h.expect(resp.StringArray([]string{"a", "b", "c", "d"}), "EVAL", "return {KEYS[1], KEYS[2], ARGV[1], ARGV[2]}", "2", "a", "b", "c", "d")
	h.expect(resp.BulkString(SHA1("x")), "EVAL", "return redis.sha1hex('x')", "0")
	h.expect(resp.Integer(7), "EVAL", "return redis.call('INCRBY', 'n', 7)", "0")

	h.expectErr("ERR Number of keys can't be negative", "EVAL", "return 1", "-1")
	h.expectErr("ERR Number of keys can't be greater than number of args", "EVAL", "return 1", "2", "a")
	h.expectErr("ERR Error compiling script", "EVAL", "return (", "0")
}

func TestScriptReadsOwnWrites(t *testing.T) {
	h := newHarness(t, newStore(t))

	h.expect(resp.OK, "SET", "k", "before")
	h.expect(resp.BulkString("after"), "EVAL",
		"redis.call('SET', KEYS[1], 'after'); return redis.call('GET', KEYS[1])", "1", "k")
	h.expect(resp.StringArray([]string{"z", "a"}), "EVAL",
		"redis.call('RPUSH', 'l', 'a'); redis.call('LPUSH', 'l', 'z'); return redis.call('LRANGE', 'l', 0, -1)", "0")
	h.expect(resp.Integer(0), "EVAL",
		"redis.call('SET', 't', 'v'); redis.call('EXPIRE', 't', -1); return redis.call('EXISTS', 't')", "0")
}

func TestScriptRollback(t *testing.T) {
	h := newHarness(t, newStore(t))

	h.expect(resp.OK, "SET", "keep", "1")
	h.expectErr("ERR user_script", "EVAL", "redis.call('SET', 'a', '1'); redis.call('SET', 'b', '2'); redis.call('DEL', 'keep'); error('boom')", "0")
	h.expect(resp.Integer(0), "EXISTS", "a", "b")
	h.expect(resp.BulkString("1"), "GET", "keep")

	// an error reply raised by redis.call keeps its kind
	h.expectErr("WRONGTYPE", "EVAL", "redis.call('SET', 's', 'x'); redis.call('LPUSH', 'keep', 'y')", "0")
	h.expect(resp.Integer(0), "EXISTS", "s")
}

func TestScriptPCall(t *testing.T) {
	h := newHarness(t, newStore(t))

	h.expect(resp.OK, "SET", "str", "x")
	h.expect(resp.BulkString("WRONGTYPE"), "EVAL", `
		local ok, err = pcall(redis.call, 'LPUSH', 'str', 'y')
		return string.sub(err.err, 1, 9)`, "0")
	h.expect(resp.Error("WRONGTYPE Operation against a key holding the wrong kind of value"), "EVAL",
		"return redis.pcall('LPUSH', 'str', 'y')", "0")
	h.expect(resp.Integer(1), "EVAL", "redis.pcall('LPUSH', 'str', 'y'); redis.call('SET', 'after', '1'); return 1", "0")
	h.expect(resp.BulkString("1"), "GET", "after")
}

func TestScriptForbiddenCommandsAbort(t *testing.T) {
	h := newHarness(t, newStore(t))

	h.expectErr("ERR This Redis command is not allowed from script", "EVAL",
		"redis.call('SET', 'a', '1'); pcall(redis.call, 'FLUSHALL'); redis.call('SET', 'b', '1')", "0")
	h.expect(resp.Integer(0), "EXISTS", "a", "b")

	h.expectErr("ERR Unknown Redis command called from script", "EVAL", "redis.pcall('NOPE')", "0")
	h.expectErr("ERR This Redis command is not allowed from script", "EVAL", "return redis.call('EVAL', 'return 1', 0)", "0")
	h.expectErr("ERR This Redis command is not allowed from script", "EVAL", "return redis.call('MOVE', 'a', 1)", "0")
	h.expectErr("ERR Lua redis lib command arguments must be strings or integers", "EVAL", "return redis.call('GET', {})", "0")
}

func TestScriptSandbox(t *testing.T) {
	h := newHarness(t, newStore(t))

	h.expect(resp.Integer(1), "EVAL", "return (dofile == nil and require == nil and package == nil) and 1 or 0", "0")
	h.expect(resp.Integer(1), "EVAL", "return (os == nil and io == nil) and 1 or 0", "0")
	h.expect(resp.Integer(4), "EVAL", "return math.max(1, 4) + #table.concat({}) ", "0")
}

func TestEvalSHAAndScriptCache(t *testing.T) {
	h := newHarness(t, newStore(t))
	src := "return ARGV[1]"
	sha := SHA1(src)

	h.expectErr("NOSCRIPT", "EVALSHA", sha, "0", "x")
	h.expect(resp.BulkString(sha), "SCRIPT", "LOAD", src)
	h.expect(resp.Array(resp.Integer(1), resp.Integer(0)), "SCRIPT", "EXISTS", sha, "ffff")
	h.expect(resp.BulkString("x"), "EVALSHA", sha, "0", "x")
	h.expect(resp.BulkString("x"), "EVALSHA", strings.ToUpper(sha), "0", "x")
	h.expect(resp.OK, "SCRIPT", "FLUSH")
	h.expect(resp.Array(resp.Integer(0)), "SCRIPT", "EXISTS", sha)

	// EVAL caches the script as a side effect
	h.expect(resp.BulkString("y"), "EVAL", src, "0", "y")
	if !h.scripts.Exists(sha) {
		t.Error("EVAL must cache the script")
	}
}

func TestScriptRunsOnSelectedDB(t *testing.T) {
	h := newHarness(t, newStore(t))

	h.expect(resp.OK, "SELECT", "3")
	h.expect(resp.OK, "EVAL", "return redis.call('SET', 'k', 'v')", "0")
	h.expect(resp.BulkString("v"), "GET", "k")
	h.expect(resp.OK, "SELECT", "0")
	h.expect(resp.Integer(0), "EXISTS", "k")
}

func TestScriptCommitFailure(t *testing.T) {
	h := newHarness(t, failingStore{newStore(t)})

	h.expectErr("ERR internal error", "EVAL", "return redis.call('SET', 'k', 'v')", "0")
	h.expect(resp.Integer(0), "EXISTS", "k")
	// read only scripts never write a batch
	h.expect(resp.NullBulk(), "EVAL", "return redis.call('GET', 'k')", "0")
}

func TestScriptCancelledSession(t *testing.T) {
	h := newHarness(t, newStore(t))
	ctx, cancel := context.WithCancel(context.Background())
	sess := h.e.Clients().Register(ctx, "127.0.0.1:50001")
	defer h.e.Clients().Unregister(sess)
	cancel()

	got := h.e.Exec(sess, [][]byte{[]byte("EVAL"), []byte("redis.call('SET', 'k', 'v')"), []byte("0")})
	if !got.IsError() {
		t.Fatalf("EVAL on a closed session = %#v, want error", got)
	}
	h.expect(resp.Integer(0), "EXISTS", "k")
}
