// Package chainlog is an append-only SQLite ledger for development and
// tests. It implements ledger.Chain and ledger.Submitter and stands in for
// a real network.
//
// # Guarantees
//
//   - entries are immutable: UPDATE and DELETE abort via triggers
//   - a record id can be written once; a second createEvent for it yields a
//     failed receipt ("record already exists")
//   - ordering uses seq (submission) and block (execution), never wall time
//   - resubmitting an identical signed transaction returns the same ref
//
// # Database Configuration
//
//   - WAL mode, synchronous=NORMAL, busy_timeout=5000, foreign_keys=ON
//   - schema versioned through PRAGMA user_version
package chainlog
