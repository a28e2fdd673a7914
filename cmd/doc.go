// Package cmd implements the command-line interface of rKV. It provides a
// hierarchical command structure for running the server and for talking to
// it as a client.
//
// The package is organized into several subpackages:
//
//   - serve: Starts and configures the rKV server
//   - kv: Key-value operations (get, set, del, expire, ...) plus a raw exec
//     command and the perf benchmark
//   - script: Lua scripting (eval, evalsha, load, exists, flush)
//   - util: Shared utilities for flags, configuration and reply printing (internal use)
//
// See rkv --help for a list of all commands.
package cmd
