// Package storage owns the on-disk index database for a graph root.
//
// The index lives at <root>/.grove/graph.db and is auto-created on first
// use with foreign-key enforcement and WAL journaling enabled. The database
// is a derived, rebuildable cache: the plain-text documents are the ground
// truth, and a full re-scan reconstructs the index from files.
//
// # Database Schema
//
// Tables:
//   - pages: page metadata (unique name, title, path, journal/namespace flags)
//   - blocks: block rows keyed by text id, cascading delete from pages
//   - block_children: ordered parent/child edges, cascading both ways
//   - properties, tags: polymorphic entity_type/entity_id attribute rows
//   - links: polymorphic source -> target page name edges
//   - aliases, block_references, queries: per-entity side tables
//   - file_sync_state: per-file checksum and sync timestamps
//
// # Basic Usage
//
//	store, err := storage.Open("/path/to/graph")
//	if err != nil {
//	    return err
//	}
//	defer store.Close()
//
// # Transactions
//
// WithTx runs a function inside a scoped transaction with guaranteed
// rollback on error and bounded retry on busy/locked conditions:
//
//	err := store.WithTx(ctx, func(q storage.Querier) error {
//	    if _, err := q.ExecContext(ctx, stmt, args...); err != nil {
//	        return err
//	    }
//	    return nil
//	})
//
// # Migrations
//
// Schema migrations are keyed by semantic version, run forward-only inside a
// single transaction at open time, and recorded in schema_version.
package storage
