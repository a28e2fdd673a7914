// Package dstore implements a replicated store using the Dragonboat RAFT
// consensus library. It provides a strongly consistent implementation of the
// store.IStore interface across multiple nodes.
//
// Architecture:
//
//   - Store Client: Implements store.IStore. It serializes writes into
//     commands, proposes them to the RAFT shard and decodes the results.
//
//   - State Machine: A Dragonboat IConcurrentStateMachine that owns the db.KVDB
//     instance of the replica and applies committed commands to it.
//
//   - Communication Protocol: Defined in the internal package, Command and Query
//     structures with the binary log format.
//
// Write Operations:
//
//	1. The operation is serialized into a Command stamped with the proposer's clock
//	2. The Command is proposed to the RAFT shard via SyncPropose
//	3. Once committed, every replica applies it in Update with the carried clock
//	4. The numeric result (removed, ok, count) is returned in the entry result
//
//	WriteBatch is a single log entry, so the batch is applied atomically on
//	every replica.
//
// Read Operations:
//
//	Reads use SyncRead (linearizable) and are served by the local replica.
//	Values returned by Get are private copies. GetDBInfo uses StaleRead.
//
// Active Expiration:
//
//	ExpireCycle only proposes a command on the current leader. Followers return
//	zero and receive the removals through the log.
//
// Snapshotting and Recovery:
//
//	PrepareSnapshot serializes the engine with db.KVDB.Save while Update is
//	paused, SaveSnapshot streams the result. RecoverFromSnapshot uses
//	db.KVDB.Load. Save triggers a snapshot through SyncRequestSnapshot.
//
// Error Handling and Retries:
//
//	When Dragonboat returns ErrSystemBusy the operation is retried after a short
//	delay, up to 5 times. Every operation uses the configured timeout.
package dstore
