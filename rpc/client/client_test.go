package client

import (
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/ValentinKolb/rKV/lib/resp"
	"github.com/ValentinKolb/rKV/rpc/common"
)

// fakeTransport records the sent commands and answers with canned replies.
type fakeTransport struct {
	sent    [][]string
	replies []resp.Value
	err     error
}

func (f *fakeTransport) Connect(common.ClientConfig) error { return f.err }
func (f *fakeTransport) Close() error                      { return nil }

func (f *fakeTransport) Do(a ...[]byte) (resp.Value, error) {
	vs, err := f.Pipeline([][][]byte{a})
	if err != nil {
		return resp.Value{}, err
	}
	return vs[0], nil
}

func (f *fakeTransport) Pipeline(cmds [][][]byte) ([]resp.Value, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make([]resp.Value, 0, len(cmds))
	for _, cmd := range cmds {
		s := make([]string, len(cmd))
		for i, a := range cmd {
			s[i] = string(a)
		}
		f.sent = append(f.sent, s)
		out = append(out, f.replies[0])
		f.replies = f.replies[1:]
	}
	return out, nil
}

func newFake(t *testing.T, replies ...resp.Value) (*Client, *fakeTransport) {
	t.Helper()
	f := &fakeTransport{replies: replies}
	c, err := NewClient(common.ClientConfig{}, f)
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	return c, f
}

func TestConnectError(t *testing.T) {
	_, err := NewClient(common.ClientConfig{}, &fakeTransport{err: errors.New("refused")})
	if err == nil {
		t.Fatalf("Expected connect error")
	}
}

func TestSetArguments(t *testing.T) {
	tests := []struct {
		name  string
		ttl   time.Duration
		opts  []string
		reply resp.Value
		want  []string
		ok    bool
	}{
		{"plain", 0, nil, resp.OK, []string{"SET", "k", "v"}, true},
		{"ttl", 1500 * time.Millisecond, nil, resp.OK, []string{"SET", "k", "v", "PX", "1500"}, true},
		{"nx not met", 0, []string{"NX"}, resp.NullBulk(), []string{"SET", "k", "v", "NX"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, f := newFake(t, tt.reply)
			ok, err := c.SetWith("k", "v", tt.ttl, tt.opts...)
			if err != nil {
				t.Fatalf("SetWith failed: %v", err)
			}
			if ok != tt.ok {
				t.Errorf("Expected ok=%v, got %v", tt.ok, ok)
			}
			if !reflect.DeepEqual(f.sent[0], tt.want) {
				t.Errorf("Expected %v, got %v", tt.want, f.sent[0])
			}
		})
	}
}

func TestGet(t *testing.T) {
	c, _ := newFake(t, resp.BulkString("v"), resp.NullBulk(), resp.Null(), resp.Error("WRONGTYPE Operation against a key holding the wrong kind of value"))

	if v, found, err := c.Get("a"); err != nil || !found || string(v) != "v" {
		t.Errorf("Expected v, got %q %v %v", v, found, err)
	}
	if _, found, err := c.Get("b"); err != nil || found {
		t.Errorf("Expected RESP2 null to be not found, got %v %v", found, err)
	}
	if _, found, err := c.Get("c"); err != nil || found {
		t.Errorf("Expected RESP3 null to be not found, got %v %v", found, err)
	}
	_, _, err := c.Get("d")
	var replyErr *ReplyError
	if !errors.As(err, &replyErr) || replyErr.Kind() != "WRONGTYPE" {
		t.Errorf("Expected WRONGTYPE reply error, got %v", err)
	}
}

func TestTTL(t *testing.T) {
	c, f := newFake(t, resp.Integer(-2), resp.Integer(-1), resp.Integer(2500))

	if ttl, _ := c.TTL("k"); ttl != TTLMissing {
		t.Errorf("Expected TTLMissing, got %s", ttl)
	}
	if ttl, _ := c.TTL("k"); ttl != TTLPersistent {
		t.Errorf("Expected TTLPersistent, got %s", ttl)
	}
	if ttl, _ := c.TTL("k"); ttl != 2500*time.Millisecond {
		t.Errorf("Expected 2.5s, got %s", ttl)
	}
	if f.sent[0][0] != "PTTL" {
		t.Errorf("Expected PTTL, got %v", f.sent[0])
	}
}

func TestUnexpectedReplyType(t *testing.T) {
	c, _ := newFake(t, resp.BulkString("1"))
	if _, err := c.Del("k"); err == nil {
		t.Errorf("Expected an error for a bulk reply to DEL")
	}
}

func TestEvalArguments(t *testing.T) {
	c, f := newFake(t, resp.Integer(3))
	v, err := c.Eval("return 3", []string{"k1", "k2"}, "a")
	if err != nil || v.Int != 3 {
		t.Fatalf("Expected 3, got %v (%v)", v, err)
	}
	want := []string{"EVAL", "return 3", "2", "k1", "k2", "a"}
	if !reflect.DeepEqual(f.sent[0], want) {
		t.Errorf("Expected %v, got %v", want, f.sent[0])
	}
}

func TestScriptExists(t *testing.T) {
	c, _ := newFake(t, resp.Array(resp.Integer(1), resp.Integer(0)))
	got, err := c.ScriptExists("a", "b")
	if err != nil || !reflect.DeepEqual(got, []bool{true, false}) {
		t.Errorf("Expected [true false], got %v (%v)", got, err)
	}
}

func TestPipelineRejectsEmptyCommand(t *testing.T) {
	c, _ := newFake(t)
	if _, err := c.Pipeline([]string{"PING"}, nil); err == nil {
		t.Errorf("Expected an error for an empty command")
	}
}
