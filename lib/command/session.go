package command

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/rKV/lib/db/util"
	"github.com/ValentinKolb/rKV/lib/resp"
	"github.com/puzpuzpuz/xsync/v3"
)

// Session is the per connection state.
type Session struct {
	ID      uint64
	Addr    string
	Created time.Time

	ctx    context.Context
	cancel context.CancelFunc

	db    atomic.Int32
	proto atomic.Int32

	mu         sync.Mutex
	name       string
	lastCmd    string
	lastActive time.Time

	monitor *util.LockFreeMPSC[string]
	closing atomic.Bool
}

// Context is cancelled when the session is closed.
func (s *Session) Context() context.Context { return s.ctx }

// DB returns the selected database.
func (s *Session) DB() int { return int(s.db.Load()) }

// Select changes the selected database. The index must be validated by the caller.
func (s *Session) Select(idx int) { s.db.Store(int32(idx)) }

// Protocol returns the negotiated protocol version (2 or 3).
func (s *Session) Protocol() int { return int(s.proto.Load()) }

// SetProtocol changes the protocol version of all following replies.
func (s *Session) SetProtocol(p int) { s.proto.Store(int32(p)) }

// Name returns the client name set with CLIENT SETNAME or HELLO.
func (s *Session) Name() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.name
}

// SetName sets the client name.
func (s *Session) SetName(name string) {
	s.mu.Lock()
	s.name = name
	s.mu.Unlock()
}

func (s *Session) touch(cmd string) {
	s.mu.Lock()
	s.lastCmd = cmd
	s.lastActive = time.Now()
	s.mu.Unlock()
}

// Monitor returns the feed of a monitoring session, nil otherwise.
func (s *Session) Monitor() *util.LockFreeMPSC[string] {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.monitor
}

// RequestClose marks the session to be closed after the current reply (QUIT).
func (s *Session) RequestClose() { s.closing.Store(true) }

// Closing reports whether QUIT was received.
func (s *Session) Closing() bool { return s.closing.Load() }

// Info renders the session in the CLIENT LIST format.
func (s *Session) Info() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	flags := "N"
	if s.monitor != nil {
		flags = "O"
	}
	return fmt.Sprintf("id=%d addr=%s name=%s age=%d idle=%d flags=%s db=%d resp=%d cmd=%s",
		s.ID, s.Addr, s.name,
		int(now.Sub(s.Created).Seconds()), int(now.Sub(s.lastActive).Seconds()),
		flags, s.DB(), s.Protocol(), strings.ToLower(s.lastCmd))
}

// --------------------------------------------------------------------------
// Client Registry
// --------------------------------------------------------------------------

// ClientRegistry tracks the open sessions.
type ClientRegistry struct {
	nextID   atomic.Uint64
	sessions *xsync.MapOf[uint64, *Session]
}

func NewClientRegistry() *ClientRegistry {
	return &ClientRegistry{sessions: xsync.NewMapOf[uint64, *Session]()}
}

// Register creates a session for a new connection. The session context is
// derived from parent.
func (r *ClientRegistry) Register(parent context.Context, addr string) *Session {
	ctx, cancel := context.WithCancel(parent)
	now := time.Now()
	s := &Session{
		ID:         r.nextID.Add(1),
		Addr:       addr,
		Created:    now,
		ctx:        ctx,
		cancel:     cancel,
		lastActive: now,
	}
	s.proto.Store(resp.Proto2)
	r.sessions.Store(s.ID, s)
	return s
}

// Unregister removes the session and cancels its context.
func (r *ClientRegistry) Unregister(s *Session) {
	r.sessions.Delete(s.ID)
	s.cancel()
}

// Len returns the number of open sessions.
func (r *ClientRegistry) Len() int {
	return r.sessions.Size()
}

// List returns all sessions ordered by id.
func (r *ClientRegistry) List() []*Session {
	out := make([]*Session, 0, r.sessions.Size())
	r.sessions.Range(func(_ uint64, s *Session) bool {
		out = append(out, s)
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
