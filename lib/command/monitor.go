package command

import (
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/rKV/lib/db/util"
	"github.com/puzpuzpuz/xsync/v3"
)

// maxMonitorBacklog bounds the lines queued for a slow monitor.
const maxMonitorBacklog = 10_000

// MonitorHub fans executed commands out to MONITOR sessions. Publishing never
// blocks: every monitor owns a lock-free queue that its connection drains.
type MonitorHub struct {
	subs   *xsync.MapOf[uint64, *util.LockFreeMPSC[string]]
	active atomic.Int32
}

func NewMonitorHub() *MonitorHub {
	return &MonitorHub{subs: xsync.NewMapOf[uint64, *util.LockFreeMPSC[string]]()}
}

// Subscribe turns the session into a monitor and returns its feed.
func (h *MonitorHub) Subscribe(s *Session) *util.LockFreeMPSC[string] {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.monitor != nil {
		return s.monitor
	}
	q := util.NewLockFreeMPSC[string]()
	s.monitor = q
	h.subs.Store(s.ID, q)
	h.active.Add(1)
	return q
}

// Unsubscribe closes the feed of a session, if any.
func (h *MonitorHub) Unsubscribe(s *Session) {
	if q, ok := h.subs.LoadAndDelete(s.ID); ok {
		h.active.Add(-1)
		q.Close()
	}
}

// Active reports whether any monitor is connected.
func (h *MonitorHub) Active() bool {
	return h.active.Load() > 0
}

// Publish formats a command the way MONITOR shows it and queues it for every
// monitor except the issuing session.
func (h *MonitorHub) Publish(from *Session, dbIdx int, args [][]byte) {
	if !h.Active() {
		return
	}
	line := FormatMonitorLine(time.Now(), dbIdx, from.Addr, args)
	h.subs.Range(func(id uint64, q *util.LockFreeMPSC[string]) bool {
		if id != from.ID && q.Len() < maxMonitorBacklog {
			l := line
			q.Push(&l)
		}
		return true
	})
}

// FormatMonitorLine renders `1700000000.123456 [0 127.0.0.1:5000] "SET" "k" "v"`.
func FormatMonitorLine(t time.Time, dbIdx int, addr string, args [][]byte) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%d.%06d [%d %s]", t.Unix(), t.Nanosecond()/1000, dbIdx, addr)
	for _, a := range args {
		sb.WriteByte(' ')
		sb.WriteString(strconv.Quote(string(a)))
	}
	return sb.String()
}
