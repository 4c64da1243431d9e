// Copyright 2026 The Globe Authors
// SPDX-License-Identifier: Apache-2.0

// Package sqlitepool opens SQLite databases for Globe's local storage.
//
// It wraps zombiezen.com/go/sqlite's sqlitex.Pool, applies a fixed set
// of pragmas to every connection, and brings the schema up to date
// once at open time. Callers [Pool.Take] a connection, do their work,
// and [Pool.Put] it back. A connection belongs to one goroutine at a
// time.
//
// # Pragmas
//
//   - journal_mode=WAL: readers never block the writer.
//   - synchronous=NORMAL: commits survive a process crash but not a
//     power failure. The event log is a diagnostic record, not a
//     source of truth.
//   - busy_timeout=5000: wait up to five seconds for the write lock.
//   - cache_size=-8192: 8 MB page cache per connection.
//   - temp_store=MEMORY.
//
// # Schema
//
// Config.Schema is an ordered list of migration scripts. Script i
// moves the database from user_version i to i+1. Open runs the
// scripts the file has not seen yet, each in its own IMMEDIATE
// transaction, and refuses a file whose user_version is newer than the
// binary knows about.
//
//	pool, err := sqlitepool.Open(sqlitepool.Config{
//	    Path:   "/var/lib/globe/events.db",
//	    Schema: []string{createEventsTable},
//	    Logger: logger,
//	})
//	if err != nil {
//	    return err
//	}
//	defer pool.Close()
package sqlitepool
