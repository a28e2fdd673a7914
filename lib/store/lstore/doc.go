// Package lstore implements a local, single-node store based on the
// store.IStore interface. It is a thin wrapper around any db.KVDB
// implementation that supplies the wall clock to the engine.
//
// Key Features:
//   - Direct integration with db.KVDB implementations
//   - Wall clock time (expire.Now) for every time dependent operation
//   - Feature detection to handle unsupported operations gracefully
//   - Optional snapshot file, restored on startup and written by Save
//
// Implementation Details:
//
//   - Feature Detection: Before executing operations, the store checks if the underlying
//     db.KVDB implementation supports the requested feature through the SupportsFeature
//     method. Unsupported operations return RetCUnsupportedOperation errors.
//
//   - Snapshots: Save writes a snapshot into a temporary file in the same directory and
//     renames it over the configured snapshot file.
//
// Usage Example:
//
//	factory := func() (db.KVDB, error) { return maple.NewMapleDB(maple.DefaultOptions()), nil }
//	s, err := lstore.NewLocalStore(factory, "dump.rkv")
//
//	err = s.Set(0, "greeting", db.NewStoredValue(db.Scalar("hello")))
//	value, err := s.Get(0, "greeting")
//
// For replicated deployments use the dstore package, which implements the same
// interface on top of RAFT.
package lstore
