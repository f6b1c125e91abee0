// Package store provides the SQLite-backed local cache that everything
// else in the sync engine reads from and writes to.
//
// The store holds four kinds of durable state:
//   - Entity sub-records: per-family tables (user_*, post_*) for details,
//     counts, relationships, and tags, keyed by entity id. Post ids are
//     composite ("authorId:postId").
//   - Streams: the locally known ordered id prefix per streamId.
//   - TTL records: last-confirmed-fresh stamps per entity id.
//   - Files: attachment metadata keyed by file id.
//
// All multi-row writes run inside a single transaction per table so a
// bulk save is all-or-nothing. Upserts use ON CONFLICT(id) DO UPDATE so
// re-ingesting the same batch is idempotent.
//
// Committed writes publish change notifications; see Watch and WatchTable.
// Notifications carry no payload - subscribers re-read the store.
//
// # Database Configuration
//
//   - WAL mode: concurrent reads during writes
//   - synchronous=NORMAL: balance durability/performance
//   - busy_timeout=5000: wait for locks up to 5 seconds
//   - foreign_keys=ON
//
// The local cache is always re-derivable from the remote source of truth,
// so a crash between two tables' bulk saves is an accepted risk rather
// than a reason for cross-table transactions.
package store
