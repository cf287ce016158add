// Package cmd implements the command-line interface of sgkv. It provides a
// small command tree to exercise the store and the RCU objects outside of
// tests.
//
// The package is organized into several subpackages:
//
//   - run: Runs a simulated multi-slot event loop against the hive stores
//   - perf: Micro benchmarks for RCU objects and the local store
//   - util: Shared utilities for command-line processing and configuration (internal use)
//
// See sgkv -help for a list of all commands.
package cmd
