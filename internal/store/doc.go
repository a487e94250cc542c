// Package store is the local engine: a SQLite database (mattn/go-sqlite3)
// holding the program's tables, views and maintenance triggers, plus the
// allInputs ledger of every accepted input.
//
// # Ledger
//
// Each input is stamped with a logical timestep from the runtime clock
// and recorded in allInputs. Ordering always uses the timestep, never
// the wall-clock timestamp stored next to it.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
//
// The pool is limited to one connection, so an in-memory database
// (":memory:") keeps its contents for the life of the Store.
package store
