// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package sqlitepool provides hearth's standard SQLite connection pool.
//
// Everything hearth persists — the event graph, the stream index, the
// resolved-state and extremity tables, sync cursors, access tokens,
// the media index — lives in SQLite through this package. It wraps
// zombiezen.com/go/sqlite with the pragmas the server depends on and
// exposes the underlying sqlitex.Pool Take/Put API directly.
//
// # Pragmas
//
// Every connection in the pool is initialized with:
//
//   - journal_mode=WAL: concurrent readers and a single writer. The
//     per-room actor is the only writer for a room's rows; sync and
//     timeline reads never block it.
//   - synchronous=FULL: an fsync per commit. The event graph is the
//     source of truth for every room hosted here — unlike a cache or
//     index there is nothing to rebuild it from, so durability across
//     OS crashes is worth the commit latency. Admissions are batched
//     into one transaction per event, not per row, which keeps the
//     fsync count proportional to traffic.
//   - busy_timeout=5000: wait up to 5 seconds for a write lock instead
//     of surfacing SQLITE_BUSY to the admission path.
//   - foreign_keys=OFF: graph integrity (prev_events and auth_events
//     referencing stored rows) is the admission pipeline's job, with
//     GraphGap semantics and backfill. FK enforcement would turn a
//     recoverable gap into a constraint error.
//   - cache_size=-8192: 8 MB page cache per connection.
//   - temp_store=MEMORY: temporary indexes in memory.
//
// # Usage
//
// Callers Take a connection, perform work, and Put it back.
// Connections are NOT safe for concurrent use — each goroutine must
// hold its own connection for the duration of its work. There is no
// query builder and no ORM: packages write SQL, use sqlitex.Execute
// for cached statements, and manage transactions with
// sqlitex.ImmediateTransaction.
package sqlitepool
