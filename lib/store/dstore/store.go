package dstore

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/ValentinKolb/rKV/lib/db"
	"github.com/ValentinKolb/rKV/lib/db/codec"
	"github.com/ValentinKolb/rKV/lib/expire"
	"github.com/ValentinKolb/rKV/lib/store"
	"github.com/ValentinKolb/rKV/lib/store/dstore/internal"
	"github.com/lni/dragonboat/v4"
	"github.com/lni/dragonboat/v4/client"
	"github.com/lni/dragonboat/v4/logger"
)

var (
	retries = 5
	log     = logger.GetLogger("store")
)

// storeImpl is the concrete implementation of the store.IStore interface.
// It encapsulates a Dragonboat NodeHost which is used to communicate with the state machine.
type storeImpl struct {
	nh        *dragonboat.NodeHost
	shardID   uint64
	replicaID uint64
	numDBs    int
	cs        *client.Session
	timeout   time.Duration
}

// NewDistributedStore creates a new distributed store instance which uses raft consensus to ensure strict linearizability
// across multiple nodes. numDBs must match the number of databases of the replicated engines.
func NewDistributedStore(nh *dragonboat.NodeHost, shardID, replicaID uint64, numDBs int, timeout time.Duration) store.IStore {
	cs := nh.GetNoOPSession(shardID)
	return &storeImpl{
		nh:        nh,
		shardID:   shardID,
		replicaID: replicaID,
		numDBs:    numDBs,
		cs:        cs,
		timeout:   timeout,
	}
}

// --------------------------------------------------------------------------
// Internal write and read operations (used by interface methods)
// --------------------------------------------------------------------------

// write serializes a Command and sends it via SyncPropose. The command is
// stamped with the current time unless it already carries one.
// It returns the numeric result of the command or a *store.Error.
func (s *storeImpl) write(cmd internal.Command) (int64, error) {
	if cmd.Now == 0 {
		cmd.Now = expire.Now()
	}
	data := cmd.Serialize()

	for i := 0; i < retries; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)

		res, err := s.nh.SyncPropose(ctx, s.cs, data)
		cancel()

		// Check for system busy errors
		if errors.Is(err, dragonboat.ErrSystemBusy) {
			log.Infof("SyncPropose: System busy, retrying (%d/%d)...", i+1, retries)
			time.Sleep(s.timeout / 10)
			continue
		}

		if err != nil {
			return 0, store.NewError(store.RetCInternalError, err.Error())
		}
		if res.Value != uint64(store.RetCSuccess) {
			return 0, store.NewError(store.RetCode(res.Value), string(res.Data))
		}
		if len(res.Data) != 8 {
			return 0, store.NewError(store.RetCInternalError, fmt.Sprintf("unexpected result of %d bytes", len(res.Data)))
		}
		return int64(binary.BigEndian.Uint64(res.Data)), nil
	}
	return 0, store.NewError(store.RetCInternalError, "timeout")
}

// read is a generic helper function queries the statemachine
// and attempts to convert the response into the expected type R.
//
// This function uses the SyncRead function (dragonboat) by default to Query the state machine.
// If linearizability is not required, the stale parameter can be set to true to use the faster StaleRead function.
//
// If the read operation fails due to a system busy error, the function retries up to 5 times.
//
// It returns the response of type R and a error (nil on success).
func read[R any](r *storeImpl, q internal.Query, stale bool) (R, error) {
	var zero R
	q.Now = expire.Now()
	for i := 0; i < retries; i++ {

		var res interface{}
		var err error

		// Query the state machine, use StaleRead if stale is set otherwise use SyncRead (default)
		if stale {
			res, err = r.nh.StaleRead(r.shardID, q)
		} else {
			ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
			res, err = r.nh.SyncRead(ctx, r.shardID, q)
			cancel()
		}

		// Check for system busy errors
		if errors.Is(err, dragonboat.ErrSystemBusy) {
			log.Infof("SyncRead: System busy, retrying (%d/%d)...", i+1, retries)
			time.Sleep(r.timeout / 10)
			continue
		}

		if err != nil {
			var se *store.Error
			if errors.As(err, &se) {
				return zero, se
			}
			return zero, store.NewError(store.RetCInternalError, err.Error())
		}

		// The state machine is expected to return the response in the expected type R.
		casted, ok := res.(R)
		if !ok {
			return zero, store.NewError(store.RetCInternalError,
				fmt.Sprintf("unexpected type: received %T, expected %T", res, zero))
		}
		return casted, nil
	}
	return zero, store.NewError(store.RetCInternalError, "timeout")
}

func (s *storeImpl) query(q internal.Query) (internal.QueryResult, error) {
	return read[internal.QueryResult](s, q, false)
}

func (s *storeImpl) checkDB(idx int) error {
	if err := db.CheckDB(idx, s.numDBs); err != nil {
		return store.NewError(store.RetCInternalError, err.Error())
	}
	return nil
}

// --------------------------------------------------------------------------
// Interface Methods (docs see store/interface.go)
// --------------------------------------------------------------------------

func (s *storeImpl) Get(dbIdx int, key string) (*db.StoredValue, error) {
	res, err := s.query(internal.Query{Type: internal.QueryTGet, DB: dbIdx, Key: key})
	if err != nil {
		return nil, err
	}
	return res.Value, nil
}

func (s *storeImpl) Set(dbIdx int, key string, value *db.StoredValue) error {
	if err := s.checkDB(dbIdx); err != nil {
		return err
	}
	if value == nil || value.Value == nil {
		return store.NewError(store.RetCInvalidOperation, "nil value")
	}
	_, err := s.write(internal.Command{
		Type:    internal.CommandTSet,
		DB:      uint32(dbIdx),
		Key:     key,
		Payload: codec.EncodeValue(value),
	})
	return err
}

func (s *storeImpl) Delete(dbIdx int, key string) (bool, error) {
	if err := s.checkDB(dbIdx); err != nil {
		return false, err
	}
	n, err := s.write(internal.Command{Type: internal.CommandTDelete, DB: uint32(dbIdx), Key: key})
	return n == 1, err
}

func (s *storeImpl) Exists(dbIdx int, key string) (bool, error) {
	res, err := s.query(internal.Query{Type: internal.QueryTExists, DB: dbIdx, Key: key})
	return res.Ok, err
}

func (s *storeImpl) Keys(dbIdx int, pattern string) ([]string, error) {
	res, err := s.query(internal.Query{Type: internal.QueryTKeys, DB: dbIdx, Pattern: pattern})
	return res.Keys, err
}

// Scan cursors live in the registry of the replica that served the read, and
// reads are served by the local replica.
func (s *storeImpl) Scan(dbIdx int, cursor uint64, pattern string, count int) (uint64, []string, error) {
	res, err := s.query(internal.Query{
		Type:    internal.QueryTScan,
		DB:      dbIdx,
		Cursor:  cursor,
		Pattern: pattern,
		Count:   count,
	})
	return res.Cursor, res.Keys, err
}

func (s *storeImpl) Flush(dbIdx int) error {
	if err := s.checkDB(dbIdx); err != nil {
		return err
	}
	_, err := s.write(internal.Command{Type: internal.CommandTFlush, DB: uint32(dbIdx)})
	return err
}

func (s *storeImpl) FlushAll() error {
	_, err := s.write(internal.Command{Type: internal.CommandTFlushAll})
	return err
}

func (s *storeImpl) Size(dbIdx int) (int, error) {
	res, err := s.query(internal.Query{Type: internal.QueryTSize, DB: dbIdx})
	return res.N, err
}

func (s *storeImpl) Swap(a, b int) error {
	if err := s.checkDB(a); err != nil {
		return err
	}
	if err := s.checkDB(b); err != nil {
		return err
	}
	_, err := s.write(internal.Command{Type: internal.CommandTSwap, DB: uint32(a), DB2: uint32(b)})
	return err
}

func (s *storeImpl) SetExpiration(dbIdx int, key string, at int64) (bool, error) {
	if err := s.checkDB(dbIdx); err != nil {
		return false, err
	}
	n, err := s.write(internal.Command{Type: internal.CommandTSetExpiration, DB: uint32(dbIdx), Key: key, Arg: at})
	return n == 1, err
}

func (s *storeImpl) GetExpiration(dbIdx int, key string) (int64, bool, error) {
	res, err := s.query(internal.Query{Type: internal.QueryTGetExpiration, DB: dbIdx, Key: key})
	return res.At, res.Ok, err
}

func (s *storeImpl) RemoveExpiration(dbIdx int, key string) (bool, error) {
	if err := s.checkDB(dbIdx); err != nil {
		return false, err
	}
	n, err := s.write(internal.Command{Type: internal.CommandTRemoveExpiration, DB: uint32(dbIdx), Key: key})
	return n == 1, err
}

// WriteBatch proposes the whole batch as one log entry, so replicas apply it
// with a single engine WriteBatch.
func (s *storeImpl) WriteBatch(dbIdx int, ops []db.BatchOp) error {
	if err := s.checkDB(dbIdx); err != nil {
		return err
	}
	if len(ops) == 0 {
		return nil
	}
	_, err := s.write(internal.Command{
		Type:    internal.CommandTWriteBatch,
		DB:      uint32(dbIdx),
		Payload: internal.EncodeBatch(ops),
	})
	return err
}

// ExpireCycle proposes an expiration cycle if this replica is the leader.
// Followers return 0, the leader's proposal removes the keys everywhere.
func (s *storeImpl) ExpireCycle(dbIdx int, limit int) (int, error) {
	leaderID, _, valid, err := s.nh.GetLeaderID(s.shardID)
	if err != nil || !valid || leaderID != s.replicaID {
		return 0, nil
	}
	if err := s.checkDB(dbIdx); err != nil {
		return 0, err
	}
	n, err := s.write(internal.Command{Type: internal.CommandTExpireCycle, DB: uint32(dbIdx), Arg: int64(limit)})
	return int(n), err
}

func (s *storeImpl) NumDatabases() int {
	return s.numDBs
}

func (s *storeImpl) GetDBInfo() (db.DatabaseInfo, error) {
	return read[db.DatabaseInfo](
		s,
		internal.Query{
			Type: internal.QueryTGetDBInfo,
		},
		true, // Note: allow for stale reads
	)
}

// Save requests a raft snapshot of the local replica.
func (s *storeImpl) Save() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	idx, err := s.nh.SyncRequestSnapshot(ctx, s.shardID, dragonboat.DefaultSnapshotOption)
	if errors.Is(err, dragonboat.ErrRejected) {
		// nothing new since the last snapshot
		return nil
	}
	if err != nil {
		return store.NewError(store.RetCInternalError, err.Error())
	}
	log.Infof("Snapshot created at index %d", idx)
	return nil
}

// Close is a no-op, the NodeHost is owned and closed by the caller.
func (s *storeImpl) Close() error {
	return nil
}
