package pebble

import (
	"github.com/ValentinKolb/rKV/lib/db/codec"
	"github.com/cockroachdb/pebble"
)

// entryState is the state of a key as seen by a mutation
type entryState struct {
	exists   bool
	expireAt int64
}

// mutation collects the writes of one operation in a pebble batch. It tracks
// the state of every touched key, so later steps of the same operation see
// earlier ones, and applies the counter changes only after a successful commit.
//
// Thread-safety: a mutation is used while holding the write lock of its space.
type mutation struct {
	p       *pebbleImpl
	phys    uint16
	sp      *space
	b       *pebble.Batch
	pending map[string]entryState
	cleared bool

	keysDelta     int
	volatileDelta int
}

func (p *pebbleImpl) newMutation(phys uint16, sp *space) *mutation {
	return &mutation{
		p:       p,
		phys:    phys,
		sp:      sp,
		b:       p.db.NewBatch(),
		pending: make(map[string]entryState),
	}
}

// current returns the state of key including the writes of this mutation
func (m *mutation) current(key string) (expireAt int64, exists bool, err error) {
	if st, ok := m.pending[key]; ok {
		return st.expireAt, st.exists, nil
	}
	if m.cleared {
		return 0, false, nil
	}
	raw, ok, err := m.p.getRaw(m.phys, key)
	if err != nil || !ok {
		return 0, false, err
	}
	at, err := codec.PeekExpireAt(raw)
	if err != nil {
		return 0, false, err
	}
	m.pending[key] = entryState{exists: true, expireAt: at}
	return at, true, nil
}

// put stores an encoded value and maintains the expiry index
func (m *mutation) put(key string, encoded []byte, expireAt int64) error {
	oldAt, existed, err := m.current(key)
	if err != nil {
		return err
	}
	if existed && oldAt > 0 {
		m.dropIndex(key, oldAt)
		m.volatileDelta--
	}
	if !existed {
		m.keysDelta++
	}

	if err := m.b.Set(dataKey(m.phys, key), encoded, nil); err != nil {
		return err
	}
	if expireAt > 0 {
		if err := m.b.Set(expireKey(m.phys, expireAt, key), nil, nil); err != nil {
			return err
		}
		m.volatileDelta++
	}
	m.pending[key] = entryState{exists: true, expireAt: expireAt}
	return nil
}

// remove deletes key and returns whether it was stored and its expiration
func (m *mutation) remove(key string) (existed bool, expireAt int64, err error) {
	expireAt, existed, err = m.current(key)
	if err != nil || !existed {
		return false, 0, err
	}
	if expireAt > 0 {
		m.dropIndex(key, expireAt)
		m.volatileDelta--
	}
	if err := m.b.Delete(dataKey(m.phys, key), nil); err != nil {
		return false, 0, err
	}
	m.keysDelta--
	m.pending[key] = entryState{}
	return true, expireAt, nil
}

// dropIndex removes an expiry index entry
func (m *mutation) dropIndex(key string, at int64) {
	_ = m.b.Delete(expireKey(m.phys, at, key), nil)
}

// clear deletes every key of the space
func (m *mutation) clear() {
	for _, prefix := range [][]byte{dataPrefix(m.phys), expirePrefix(m.phys)} {
		_ = m.b.DeleteRange(prefix, prefixEnd(prefix), nil)
	}
	m.cleared = true
	m.pending = make(map[string]entryState)
	m.keysDelta = -m.sp.keys
	m.volatileDelta = -m.sp.volatile
}

// commit writes the batch and applies the counter changes
func (m *mutation) commit() error {
	if m.b.Empty() {
		return nil
	}
	if err := m.b.Commit(m.p.writeOpts); err != nil {
		return err
	}
	m.sp.keys += m.keysDelta
	m.sp.volatile += m.volatileDelta
	if m.cleared {
		m.sp.cursors.Purge()
	}
	return nil
}

func (m *mutation) close() {
	_ = m.b.Close()
}
