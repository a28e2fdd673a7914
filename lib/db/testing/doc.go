// Package testing provides standardised tests and benchmarks for
// storage engines that satisfy the db.KVDB interface.
//
// The package contains:
//   - testing: A conformance suite for the KVDB interface contract
//     (value variants, expiration, batches, iteration, swap and persistence)
//   - benchmark: Performance tests for common engine operations
//
// Example usage:
//
//	// Creating a factory function for your implementation
//	factory := func() db.KVDB {
//		return NewMyEngine()
//	}
//
//	// Running the standard test suite
//	dbtesting.RunKVDBTests(t, "MyEngine", factory)
//
//	// Running performance benchmarks
//	dbtesting.RunKVDBBenchmarks(b, "MyEngine", factory)
package testing
