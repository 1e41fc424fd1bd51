// Package store provides SQLite-backed storage for simulation runs and
// their signal traces.
//
// The store keeps:
//   - Runs: one row per simulation, with its scenario, resolved config,
//     outcome and counters
//   - Transitions: every recorded signal change, keyed by run and seq
//
// # Ordering
//
// All ordering uses seq (the scheduler's logical clock), never simulated or
// wall time. Queries return rows ORDER BY seq ASC, signal ASC COLLATE BINARY
// so reads are identical across processes.
//
// # Database Configuration
//
//   - WAL mode: concurrent reads while a run is written
//   - synchronous=NORMAL: balance durability/performance
//   - busy_timeout=5000: wait for locks up to 5 seconds
//   - foreign_keys=ON: transitions must belong to a run
package store
