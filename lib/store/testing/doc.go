// Package testing provides standardised tests and benchmarks for
// store implementations that satisfy the store.IStore interface.
//
// The package contains:
//   - testing: A comprehensive test suite for validating conformance to the IStore interface contract
//   - benchmark: Performance tests for measuring throughput of common store operations
//
// The suite registers its own test types (CLIDs 7000-7003) on import.
//
// Example usage:
//
//	// Creating a factory function for your implementation
//	factory := func() store.IStore {
//		return NewMyStore()
//	}
//
//	// Running the standard test suite
//	storetesting.RunIStoreTests(t, "MyStore", factory)
//
//	// Running performance benchmarks
//	storetesting.RunIStoreBenchmarks(b, "MyStore", factory)
package testing
