package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/Masterminds/semver/v3"
)

const (
	// CurrentSchemaVersion tracks the database schema version
	CurrentSchemaVersion = "1.0.0"
)

// Migration represents a database schema migration
type Migration struct {
	Version string
	Up      string
}

// AllMigrations contains all database migrations in order
var AllMigrations = []Migration{
	{
		Version: "1.0.0",
		Up:      migrationV1Up,
	},
}

const migrationV1Up = `
-- Schema version tracking
CREATE TABLE IF NOT EXISTS schema_version (
    version TEXT PRIMARY KEY,
    applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

-- Pages
CREATE TABLE IF NOT EXISTS pages (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    name TEXT NOT NULL UNIQUE,
    title TEXT,
    file_path TEXT,
    is_journal BOOLEAN DEFAULT 0,
    journal_date TEXT,
    namespace TEXT,
    is_whiteboard BOOLEAN DEFAULT 0,
    is_template BOOLEAN DEFAULT 0,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_pages_name ON pages(name);
CREATE INDEX IF NOT EXISTS idx_pages_namespace ON pages(namespace);
CREATE INDEX IF NOT EXISTS idx_pages_journal_date ON pages(journal_date) WHERE journal_date IS NOT NULL;

-- Blocks, cascading delete from pages
CREATE TABLE IF NOT EXISTS blocks (
    id TEXT PRIMARY KEY,
    page_id INTEGER NOT NULL,
    content TEXT NOT NULL,
    level INTEGER NOT NULL DEFAULT 0,
    parent_id TEXT,
    task_state TEXT,
    priority TEXT,
    scheduled_date TEXT,
    scheduled_time TEXT,
    scheduled_repeater TEXT,
    deadline_date TEXT,
    deadline_time TEXT,
    deadline_repeater TEXT,
    kind TEXT NOT NULL DEFAULT 'bullet',
    is_collapsed BOOLEAN DEFAULT 0,
    heading_level INTEGER DEFAULT 0,
    code_language TEXT,
    latex TEXT,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    FOREIGN KEY (page_id) REFERENCES pages(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_blocks_page ON blocks(page_id);
CREATE INDEX IF NOT EXISTS idx_blocks_parent ON blocks(parent_id);
CREATE INDEX IF NOT EXISTS idx_blocks_task_state ON blocks(task_state) WHERE task_state IS NOT NULL;
CREATE INDEX IF NOT EXISTS idx_blocks_scheduled ON blocks(scheduled_date) WHERE scheduled_date IS NOT NULL;
CREATE INDEX IF NOT EXISTS idx_blocks_deadline ON blocks(deadline_date) WHERE deadline_date IS NOT NULL;

-- Ordered parent/child edges, cascading from blocks on either side
CREATE TABLE IF NOT EXISTS block_children (
    parent_id TEXT NOT NULL,
    child_id TEXT NOT NULL,
    position INTEGER NOT NULL,
    PRIMARY KEY (parent_id, child_id),
    FOREIGN KEY (parent_id) REFERENCES blocks(id) ON DELETE CASCADE,
    FOREIGN KEY (child_id) REFERENCES blocks(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_block_children_parent ON block_children(parent_id, position);
CREATE INDEX IF NOT EXISTS idx_block_children_child ON block_children(child_id);

-- Polymorphic attributes: entity_type is 'page' or 'block'
CREATE TABLE IF NOT EXISTS properties (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    entity_type TEXT NOT NULL CHECK (entity_type IN ('page', 'block')),
    entity_id TEXT NOT NULL,
    key TEXT NOT NULL,
    value TEXT,
    UNIQUE (entity_type, entity_id, key)
);

CREATE INDEX IF NOT EXISTS idx_properties_entity ON properties(entity_type, entity_id);
CREATE INDEX IF NOT EXISTS idx_properties_key ON properties(key);

CREATE TABLE IF NOT EXISTS tags (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    entity_type TEXT NOT NULL CHECK (entity_type IN ('page', 'block')),
    entity_id TEXT NOT NULL,
    tag TEXT NOT NULL,
    UNIQUE (entity_type, entity_id, tag)
);

CREATE INDEX IF NOT EXISTS idx_tags_entity ON tags(entity_type, entity_id);
CREATE INDEX IF NOT EXISTS idx_tags_tag ON tags(tag);

CREATE TABLE IF NOT EXISTS links (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    source_type TEXT NOT NULL CHECK (source_type IN ('page', 'block')),
    source_id TEXT NOT NULL,
    target_page TEXT NOT NULL,
    link_kind TEXT NOT NULL DEFAULT 'ref',
    UNIQUE (source_type, source_id, target_page, link_kind)
);

CREATE INDEX IF NOT EXISTS idx_links_source ON links(source_type, source_id);
CREATE INDEX IF NOT EXISTS idx_links_target ON links(target_page);

CREATE TABLE IF NOT EXISTS aliases (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    page_id INTEGER NOT NULL,
    alias TEXT NOT NULL UNIQUE,
    FOREIGN KEY (page_id) REFERENCES pages(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_aliases_page ON aliases(page_id);
CREATE INDEX IF NOT EXISTS idx_aliases_alias ON aliases(alias);

CREATE TABLE IF NOT EXISTS block_references (
    source_block_id TEXT NOT NULL,
    referenced_block_id TEXT NOT NULL,
    PRIMARY KEY (source_block_id, referenced_block_id),
    FOREIGN KEY (source_block_id) REFERENCES blocks(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_block_references_target ON block_references(referenced_block_id);

CREATE TABLE IF NOT EXISTS embeds (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    block_id TEXT NOT NULL,
    embed_kind TEXT NOT NULL CHECK (embed_kind IN ('block', 'page')),
    target TEXT NOT NULL,
    FOREIGN KEY (block_id) REFERENCES blocks(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_embeds_block ON embeds(block_id);

CREATE TABLE IF NOT EXISTS queries (
    block_id TEXT PRIMARY KEY,
    query_text TEXT NOT NULL,
    query_kind TEXT NOT NULL CHECK (query_kind IN ('simple', 'advanced')),
    FOREIGN KEY (block_id) REFERENCES blocks(id) ON DELETE CASCADE
);

-- File synchronization state
CREATE TABLE IF NOT EXISTS file_sync_state (
    file_path TEXT PRIMARY KEY,
    last_modified TIMESTAMP,
    last_synced TIMESTAMP,
    checksum TEXT NOT NULL
);
`

// ApplyMigrations runs all pending migrations forward-only inside a single
// transaction, recording each applied version in schema_version.
func ApplyMigrations(ctx context.Context, db *sql.DB) error {
	currentVersion, err := currentSchemaVersion(ctx, db)
	if err != nil {
		return err
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for _, migration := range AllMigrations {
		migrationVersion, err := semver.NewVersion(migration.Version)
		if err != nil {
			return fmt.Errorf("invalid migration version %s: %w", migration.Version, err)
		}
		if !currentVersion.LessThan(migrationVersion) {
			continue // Already applied
		}

		if _, err := tx.ExecContext(ctx, migration.Up); err != nil {
			return fmt.Errorf("failed to apply migration %s: %w", migration.Version, err)
		}
		if _, err := tx.ExecContext(ctx, "INSERT INTO schema_version (version) VALUES (?)", migration.Version); err != nil {
			return fmt.Errorf("failed to record migration %s: %w", migration.Version, err)
		}
		currentVersion = migrationVersion
	}

	return tx.Commit()
}

// currentSchemaVersion reads the most recently applied version, defaulting
// to 0.0.0 for a fresh database.
func currentSchemaVersion(ctx context.Context, db *sql.DB) (*semver.Version, error) {
	var tableName string
	err := db.QueryRowContext(ctx, "SELECT name FROM sqlite_master WHERE type='table' AND name='schema_version'").Scan(&tableName)
	if err == sql.ErrNoRows {
		return semver.MustParse("0.0.0"), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to check schema_version table: %w", err)
	}

	var versionStr string
	err = db.QueryRowContext(ctx, "SELECT version FROM schema_version ORDER BY applied_at DESC LIMIT 1").Scan(&versionStr)
	if err == sql.ErrNoRows || versionStr == "" {
		return semver.MustParse("0.0.0"), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read schema_version: %w", err)
	}

	version, err := semver.NewVersion(versionStr)
	if err != nil {
		return nil, fmt.Errorf("invalid current schema version %s: %w", versionStr, err)
	}
	return version, nil
}
