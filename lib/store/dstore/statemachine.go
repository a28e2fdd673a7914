package dstore

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/ValentinKolb/rKV/lib/db"
	"github.com/ValentinKolb/rKV/lib/db/codec"
	"github.com/ValentinKolb/rKV/lib/store"
	"github.com/ValentinKolb/rKV/lib/store/dstore/internal"
	sm "github.com/lni/dragonboat/v4/statemachine"
)

// --------------------------------------------------------------------------
// State Machine Implementation
// --------------------------------------------------------------------------

// KVStateMachine is a state machine implementation for Dragonboat RAFT
type KVStateMachine struct {
	replicaID uint64
	shardID   uint64
	database  db.KVDB // the actual dataStorage
}

// CreateStateMaschineFactory returns a function that can be used by dragonboat to create a new state machine for a node host
// The factory pattern is used to enable the caller to pass an interchangeable dbFactory.
// A factory error is fatal for the replica, dragonboat can not start a shard without its state machine.
func CreateStateMaschineFactory(dbFactory store.DBFactory) func(shardID uint64, replicaID uint64) sm.IConcurrentStateMachine {
	return func(shardID uint64, replicaID uint64) sm.IConcurrentStateMachine {
		database, err := dbFactory()
		if err != nil {
			log.Panicf("Failed to create database for shard %d replica %d: %v", shardID, replicaID, err)
		}
		return &KVStateMachine{
			replicaID: replicaID,
			shardID:   shardID,
			database:  database,
		}
	}
}

// Lookup handles read-only queries by mapping each Query operation to the corresponding KVDB method.
func (fsm *KVStateMachine) Lookup(itf interface{}) (interface{}, error) {

	// try to parse Query into Query struct
	q, ok := itf.(internal.Query)
	if !ok {
		return nil, store.NewError(store.RetCInternalError, fmt.Sprintf("invalid Query type: %T", itf))
	}

	var res internal.QueryResult
	var err error

	switch q.Type {
	case internal.QueryTGet:
		if !fsm.database.SupportsFeature(db.FeatureGet) {
			return nil, store.NewError(store.RetCUnsupportedOperation, "Get operation is not supported")
		}
		var val *db.StoredValue
		val, err = fsm.database.Get(q.DB, q.Key, q.Now)
		// the engine may hand out its own instance, callers get a copy
		res.Value = val.Clone()
		res.Ok = val != nil
	case internal.QueryTExists:
		if !fsm.database.SupportsFeature(db.FeatureGet) {
			return nil, store.NewError(store.RetCUnsupportedOperation, "Exists operation is not supported")
		}
		res.Ok, err = fsm.database.Exists(q.DB, q.Key, q.Now)
	case internal.QueryTKeys:
		if !fsm.database.SupportsFeature(db.FeatureKeys) {
			return nil, store.NewError(store.RetCUnsupportedOperation, "Keys operation is not supported")
		}
		res.Keys, err = fsm.database.Keys(q.DB, q.Pattern, q.Now)
	case internal.QueryTScan:
		if !fsm.database.SupportsFeature(db.FeatureKeys) {
			return nil, store.NewError(store.RetCUnsupportedOperation, "Scan operation is not supported")
		}
		res.Cursor, res.Keys, err = fsm.database.Scan(q.DB, q.Cursor, q.Pattern, q.Count, q.Now)
		if errors.Is(err, db.ErrInvalidCursor) {
			return nil, store.ErrInvalidCursor
		}
	case internal.QueryTGetExpiration:
		if !fsm.database.SupportsFeature(db.FeatureExpire) {
			return nil, store.NewError(store.RetCUnsupportedOperation, "GetExpiration operation is not supported")
		}
		res.At, res.Ok, err = fsm.database.GetExpiration(q.DB, q.Key, q.Now)
	case internal.QueryTSize:
		res.N, err = fsm.database.Size(q.DB)
	case internal.QueryTGetDBInfo:
		return fsm.database.GetInfo(), nil
	default:
		return nil, store.NewError(store.RetCInvalidOperation, fmt.Sprintf("unknown Query operation: %d", q.Type))
	}

	if err != nil {
		return nil, store.Wrap(err)
	}
	return res, nil
}

// Update handles write commands on the KVDB instance
// All write operations are serialized into []byte and are accessible via the entries struct
func (fsm *KVStateMachine) Update(entries []sm.Entry) ([]sm.Entry, error) {

	// Nothing to do
	if len(entries) == 0 {
		return entries, nil
	}

	// Stats
	start := time.Now()

	cmd := internal.Command{}
	for idx, e := range entries {
		entries[idx].Result = fsm.apply(&cmd, e.Cmd)
	}

	// Log if the update took long
	if elapsed := time.Since(start); elapsed > time.Millisecond {
		log.Infof("Statemachine took long to update. Batch updated %d entries, took %.2fms", len(entries), float64(elapsed)/float64(time.Millisecond))
	}
	return entries, nil
}

// apply executes a single log entry. Successful results carry an 8 byte big
// endian number in Data (boolean results are 0 or 1).
func (fsm *KVStateMachine) apply(cmd *internal.Command, data []byte) sm.Result {
	if len(data) == 0 {
		return failure(store.RetCInvalidOperation, "empty command ignored")
	}
	if err := cmd.Deserialize(data); err != nil {
		return failure(store.RetCInternalError, fmt.Sprintf("failed to deserialize command: %v", err))
	}

	// Check if the db supports the operation
	feat, err := cmd.Type.ToDBFeature()
	if err != nil {
		return failure(store.RetCInvalidOperation, fmt.Sprintf("unknown Command operation: %s", cmd.Type))
	}
	if !fsm.database.SupportsFeature(feat) {
		return failure(store.RetCUnsupportedOperation, fmt.Sprintf("%s operation is not supported", cmd.Type))
	}

	dbIdx := int(cmd.DB)
	var n int64

	switch cmd.Type {
	case internal.CommandTSet:
		var sv *db.StoredValue
		if sv, err = codec.DecodeValue(cmd.Payload); err == nil {
			err = fsm.database.Set(dbIdx, cmd.Key, sv, cmd.Now)
		}
	case internal.CommandTDelete:
		var removed bool
		removed, err = fsm.database.Delete(dbIdx, cmd.Key, cmd.Now)
		n = boolToInt(removed)
	case internal.CommandTFlush:
		err = fsm.database.Flush(dbIdx)
	case internal.CommandTFlushAll:
		err = fsm.database.FlushAll()
	case internal.CommandTSwap:
		err = fsm.database.Swap(dbIdx, int(cmd.DB2))
	case internal.CommandTSetExpiration:
		var ok bool
		ok, err = fsm.database.SetExpiration(dbIdx, cmd.Key, cmd.Arg, cmd.Now)
		n = boolToInt(ok)
	case internal.CommandTRemoveExpiration:
		var ok bool
		ok, err = fsm.database.RemoveExpiration(dbIdx, cmd.Key, cmd.Now)
		n = boolToInt(ok)
	case internal.CommandTWriteBatch:
		var ops []db.BatchOp
		if ops, err = internal.DecodeBatch(cmd.Payload); err == nil {
			err = fsm.database.WriteBatch(dbIdx, ops, cmd.Now)
		}
	case internal.CommandTExpireCycle:
		var removed int
		removed, err = fsm.database.ExpireCycle(dbIdx, int(cmd.Arg), cmd.Now)
		n = int64(removed)
	default:
		return failure(store.RetCInvalidOperation, fmt.Sprintf("unknown Command operation: %s", cmd.Type))
	}

	if err != nil {
		return failure(store.RetCInternalError, fmt.Sprintf("%s failed: %v", cmd.Type, err))
	}
	return sm.Result{
		Value: uint64(store.RetCSuccess),
		Data:  binary.BigEndian.AppendUint64(nil, uint64(n)),
	}
}

func failure(code store.RetCode, msg string) sm.Result {
	return sm.Result{Value: uint64(code), Data: []byte(msg)}
}

func boolToInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

// PrepareSnapshot serializes the database. Dragonboat never runs it
// concurrently with Update, so the snapshot matches the applied index exactly.
func (fsm *KVStateMachine) PrepareSnapshot() (interface{}, error) {
	if !fsm.database.SupportsFeature(db.FeatureSave) {
		return nil, fmt.Errorf("the used KVDB implementation does not support Save() operations")
	}
	var buf bytes.Buffer
	if err := fsm.database.Save(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// SaveSnapshot writes the snapshot created by PrepareSnapshot to the writer
func (fsm *KVStateMachine) SaveSnapshot(ctx interface{}, writer io.Writer, _ sm.ISnapshotFileCollection, _ <-chan struct{}) error {
	data, ok := ctx.([]byte)
	if !ok {
		return fmt.Errorf("invalid snapshot context: %T", ctx)
	}
	_, err := writer.Write(data)
	return err
}

// RecoverFromSnapshot replaces the database content with the snapshot.
func (fsm *KVStateMachine) RecoverFromSnapshot(r io.Reader, _ []sm.SnapshotFile, _ <-chan struct{}) error {
	if !fsm.database.SupportsFeature(db.FeatureLoad) {
		return fmt.Errorf("the used KVDB implementation does not support Load() operations")
	}
	return fsm.database.Load(r)
}

// Close performs any necessary cleanup.
func (fsm *KVStateMachine) Close() error {
	return fsm.database.Close()
}
