// Package script runs Lua scripts (EVAL, EVALSHA) on top of the command engine.
//
// Each invocation gets a fresh gopher-lua interpreter and a Txn bound to the
// session database. redis.call and redis.pcall dispatch through
// command.Engine.Invoke with the Txn as keyspace, so all writes of a script are
// buffered and reads see the buffer first. A script that returns normally is
// committed with a single store.IStore.WriteBatch, any error discards the
// buffer and leaves the store unchanged.
package script
