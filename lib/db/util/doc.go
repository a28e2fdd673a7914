// Package util provides building blocks shared by the storage engines of rKV.
//
// The package contains:
//   - functions: Hash functions, seeds and Redis style glob matching
//   - mapheap: An expiry queue (min-heap by timestamp) that also supports key-based access
//   - lockfreempsc: A lock-free Multi-Producer Single-Consumer (MPSC) queue with a non-blocking consumer side
//   - statistics: A SizeHistogram for estimating memory usage without full scans
//   - cursors: A bounded registry mapping SCAN cursors to iteration positions
//
// None of the components depend on a specific engine, so the in-memory and
// the durable engine share them.
package util
