package script

import (
	"errors"
	"fmt"

	"github.com/ValentinKolb/rKV/lib/db"
	"github.com/ValentinKolb/rKV/lib/store"
)

// State is the lifecycle position of a transaction.
type State int

const (
	StateStart State = iota
	StateExecuting
	StateCommitting
	StateCommitted
	StateDiscarded
)

func (s State) String() string {
	switch s {
	case StateStart:
		return "start"
	case StateExecuting:
		return "executing"
	case StateCommitting:
		return "committing"
	case StateCommitted:
		return "committed"
	case StateDiscarded:
		return "discarded"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// ErrTxnState is returned for operations that are not valid in the current
// state of a transaction.
var ErrTxnState = errors.New("script: invalid transaction state")

// Txn buffers the writes of one script invocation on one database. It
// implements command.Keyspace: reads see the buffer first and fall through to
// the store, writes only touch the buffer until Commit.
//
// A Txn is owned by a single invocation and is not safe for concurrent use.
type Txn struct {
	st    store.IStore
	dbIdx int
	now   int64
	state State

	// pending holds the most recent write per key, nil marks a delete
	pending map[string]*db.StoredValue
	order   []string
}

// NewTxn creates a transaction on one database of st. now is the frozen
// evaluation time of the whole script.
func NewTxn(st store.IStore, dbIdx int, now int64) *Txn {
	return &Txn{
		st:      st,
		dbIdx:   dbIdx,
		now:     now,
		state:   StateStart,
		pending: make(map[string]*db.StoredValue),
	}
}

// State returns the current lifecycle state.
func (t *Txn) State() State { return t.state }

// Pending returns the number of buffered operations.
func (t *Txn) Pending() int { return len(t.order) }

func (t *Txn) transition(from, to State) error {
	if t.state != from {
		return fmt.Errorf("%w: %s -> %s from %s", ErrTxnState, from, to, t.state)
	}
	t.state = to
	return nil
}

// Begin moves the transaction from Start to Executing.
func (t *Txn) Begin() error {
	return t.transition(StateStart, StateExecuting)
}

// Commit flattens the buffer into one batch and writes it atomically. A
// failed batch leaves the transaction discarded and the store untouched.
func (t *Txn) Commit() error {
	if err := t.transition(StateExecuting, StateCommitting); err != nil {
		return err
	}
	ops := t.Ops()
	if len(ops) > 0 {
		if err := t.st.WriteBatch(t.dbIdx, ops); err != nil {
			t.drop()
			return err
		}
	}
	t.state = StateCommitted
	t.pending, t.order = nil, nil
	return nil
}

// Discard drops the buffer. Discarding a committed transaction is an error,
// discarding twice is a no-op.
func (t *Txn) Discard() error {
	switch t.state {
	case StateCommitted:
		return fmt.Errorf("%w: discard after commit", ErrTxnState)
	case StateDiscarded:
		return nil
	}
	t.drop()
	return nil
}

func (t *Txn) drop() {
	t.state = StateDiscarded
	t.pending, t.order = nil, nil
}

// Ops returns the buffered operations in first write order.
func (t *Txn) Ops() []db.BatchOp {
	ops := make([]db.BatchOp, 0, len(t.order))
	for _, key := range t.order {
		ops = append(ops, db.BatchOp{Key: key, Value: t.pending[key]})
	}
	return ops
}

func (t *Txn) record(key string, sv *db.StoredValue) {
	if _, ok := t.pending[key]; !ok {
		t.order = append(t.order, key)
	}
	t.pending[key] = sv
}

func (t *Txn) checkExecuting() error {
	if t.state != StateExecuting {
		return fmt.Errorf("%w: %s", ErrTxnState, t.state)
	}
	return nil
}

// --------------------------------------------------------------------------
// command.Keyspace
// --------------------------------------------------------------------------

func (t *Txn) DB() int { return t.dbIdx }

func (t *Txn) Now() int64 { return t.now }

// Get returns the buffered value of key or a private copy of the stored one.
// Handlers may modify the result, they write it back with Set.
func (t *Txn) Get(key string) (*db.StoredValue, error) {
	if err := t.checkExecuting(); err != nil {
		return nil, err
	}
	if sv, ok := t.pending[key]; ok {
		if sv == nil || sv.Expired(t.now) {
			return nil, nil
		}
		return sv, nil
	}
	sv, err := t.st.Get(t.dbIdx, key)
	if err != nil || sv == nil || sv.Expired(t.now) {
		return nil, err
	}
	return sv.Clone(), nil
}

func (t *Txn) Set(key string, value *db.StoredValue) error {
	if err := t.checkExecuting(); err != nil {
		return err
	}
	if value.Expired(t.now) {
		t.record(key, nil)
		return nil
	}
	t.record(key, value)
	return nil
}

func (t *Txn) Delete(key string) (bool, error) {
	existed, err := t.Exists(key)
	if err != nil {
		return false, err
	}
	t.record(key, nil)
	return existed, nil
}

func (t *Txn) Exists(key string) (bool, error) {
	sv, err := t.Get(key)
	return sv != nil, err
}
