// Package util provides small building blocks shared by the store and incident
// packages.
//
// The package contains:
//   - functions: the seeded xxhash string hash used to derive hashed store keys
//   - mapheap: a priority queue that also supports key-based access, used to
//     order store finalization
//   - lockfreempsc: a lock-free Multi-Producer Single-Consumer (MPSC) queue
//     used to deliver incidents without blocking the producer
//
// None of these components know anything about proxies or RCU objects, so they
// can be tested in isolation.
package util
