// Package repository maps the typed entity graph onto the relational schema.
//
// Saves use replace-all semantics: persisting a page or block first deletes
// every row the entity owns in the relational side tables (properties, tags,
// links, children, references, queries) and reinserts the current in-memory
// state, so no stale relation survives an edit. Saving a page is one
// transaction covering the page row, its attribute rows, and every owned
// block; a failure anywhere aborts the whole save.
//
// Reads always rejoin all side tables, so a partial row is never returned as
// a complete entity. Lookups that find nothing return storage.ErrNotFound.
package repository
