package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/grovekit/grove/internal/storage"
	"github.com/grovekit/grove/pkg/types"
)

// PageRepository persists Page entities and their owned block trees.
type PageRepository struct {
	store *storage.Store
}

// NewPageRepository creates a page repository on the given store.
func NewPageRepository(store *storage.Store) *PageRepository {
	return &PageRepository{store: store}
}

// Create inserts a new page. A name collision returns
// storage.ErrAlreadyExists.
func (r *PageRepository) Create(ctx context.Context, page *types.Page) error {
	existing, err := r.Get(ctx, page.Name)
	if err != nil && err != storage.ErrNotFound {
		return err
	}
	if existing != nil {
		return fmt.Errorf("page %q: %w", page.Name, storage.ErrAlreadyExists)
	}
	return r.Save(ctx, page)
}

// Save upserts a page and every owned block inside one transaction,
// replacing all attribute rows so no stale relation survives the save.
func (r *PageRepository) Save(ctx context.Context, page *types.Page) error {
	return r.store.WithTx(ctx, func(q storage.Querier) error {
		return savePage(ctx, q, page)
	})
}

// savePage is the transactional body of Save.
func savePage(ctx context.Context, q storage.Querier, page *types.Page) error {
	now := time.Now()
	var pageID int64
	err := q.QueryRowContext(ctx, `
		INSERT INTO pages (name, title, file_path, is_journal, journal_date, namespace,
		                   is_whiteboard, is_template, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			title = excluded.title,
			file_path = excluded.file_path,
			is_journal = excluded.is_journal,
			journal_date = excluded.journal_date,
			namespace = excluded.namespace,
			is_whiteboard = excluded.is_whiteboard,
			is_template = excluded.is_template,
			updated_at = excluded.updated_at
		RETURNING id
	`, page.Name, page.Title, page.FilePath, page.Journal, nullable(page.JournalDate),
		page.Namespace, page.Whiteboard, page.Template, now, now).Scan(&pageID)
	if err != nil {
		return fmt.Errorf("failed to upsert page: %w", err)
	}
	page.UpdatedAt = now

	if err := replacePageAttributes(ctx, q, pageID, page); err != nil {
		return err
	}

	// Replace the owned block set wholesale: reinserting under the page's
	// cascade wipes any block the new tree no longer contains. Every block
	// row goes in before any child ordering, since block_children references
	// both ends.
	if err := deletePageBlocks(ctx, q, pageID); err != nil {
		return err
	}
	for _, block := range page.Blocks {
		if err := insertBlockRow(ctx, q, pageID, block); err != nil {
			return err
		}
	}
	for _, block := range page.Blocks {
		if err := insertBlockChildren(ctx, q, block); err != nil {
			return err
		}
		if err := replaceBlockRelations(ctx, q, block); err != nil {
			return err
		}
	}
	return nil
}

// replacePageAttributes deletes and reinserts the page's rows in the
// polymorphic and per-page side tables.
func replacePageAttributes(ctx context.Context, q storage.Querier, pageID int64, page *types.Page) error {
	for _, stmt := range []string{
		`DELETE FROM properties WHERE entity_type = 'page' AND entity_id = ?`,
		`DELETE FROM tags WHERE entity_type = 'page' AND entity_id = ?`,
		`DELETE FROM links WHERE source_type = 'page' AND source_id = ?`,
	} {
		if _, err := q.ExecContext(ctx, stmt, page.Name); err != nil {
			return fmt.Errorf("failed to clear page attributes: %w", err)
		}
	}
	if _, err := q.ExecContext(ctx, `DELETE FROM aliases WHERE page_id = ?`, pageID); err != nil {
		return fmt.Errorf("failed to clear aliases: %w", err)
	}

	for key, value := range page.Properties {
		if _, err := q.ExecContext(ctx,
			`INSERT INTO properties (entity_type, entity_id, key, value) VALUES ('page', ?, ?, ?)`,
			page.Name, key, value); err != nil {
			return fmt.Errorf("failed to insert page property: %w", err)
		}
	}
	for _, tag := range page.Tags {
		if _, err := q.ExecContext(ctx,
			`INSERT OR IGNORE INTO tags (entity_type, entity_id, tag) VALUES ('page', ?, ?)`,
			page.Name, tag); err != nil {
			return fmt.Errorf("failed to insert page tag: %w", err)
		}
	}
	for _, link := range page.Links {
		if _, err := q.ExecContext(ctx,
			`INSERT OR IGNORE INTO links (source_type, source_id, target_page, link_kind) VALUES ('page', ?, ?, 'ref')`,
			page.Name, link); err != nil {
			return fmt.Errorf("failed to insert page link: %w", err)
		}
	}
	for _, alias := range page.Aliases {
		if _, err := q.ExecContext(ctx,
			`INSERT OR IGNORE INTO aliases (page_id, alias) VALUES (?, ?)`,
			pageID, alias); err != nil {
			return fmt.Errorf("failed to insert alias: %w", err)
		}
	}
	return nil
}

// deletePageBlocks removes all blocks of a page, cleaning the polymorphic
// rows the foreign keys cannot cascade to.
func deletePageBlocks(ctx context.Context, q storage.Querier, pageID int64) error {
	for _, stmt := range []string{
		`DELETE FROM properties WHERE entity_type = 'block' AND entity_id IN (SELECT id FROM blocks WHERE page_id = ?)`,
		`DELETE FROM tags WHERE entity_type = 'block' AND entity_id IN (SELECT id FROM blocks WHERE page_id = ?)`,
		`DELETE FROM links WHERE source_type = 'block' AND source_id IN (SELECT id FROM blocks WHERE page_id = ?)`,
		`DELETE FROM blocks WHERE page_id = ?`,
	} {
		if _, err := q.ExecContext(ctx, stmt, pageID); err != nil {
			return fmt.Errorf("failed to delete page blocks: %w", err)
		}
	}
	return nil
}

// Get reconstructs a page with all side tables rejoined: properties, tags,
// links, aliases, backlinks, and the full block tree.
func (r *PageRepository) Get(ctx context.Context, name string) (*types.Page, error) {
	return getPage(ctx, r.store.Querier(), name)
}

func getPage(ctx context.Context, q storage.Querier, name string) (*types.Page, error) {
	var (
		page        types.Page
		pageID      int64
		journalDate sql.NullString
		title       sql.NullString
		filePath    sql.NullString
		namespace   sql.NullString
	)
	err := q.QueryRowContext(ctx, `
		SELECT id, name, title, file_path, is_journal, journal_date, namespace,
		       is_whiteboard, is_template, created_at, updated_at
		FROM pages WHERE name = ?
	`, name).Scan(&pageID, &page.Name, &title, &filePath, &page.Journal, &journalDate,
		&namespace, &page.Whiteboard, &page.Template, &page.CreatedAt, &page.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	page.Title = title.String
	page.FilePath = filePath.String
	page.JournalDate = journalDate.String
	page.Namespace = namespace.String

	if page.Properties, err = loadProperties(ctx, q, "page", page.Name); err != nil {
		return nil, err
	}
	if page.Tags, err = loadTags(ctx, q, "page", page.Name); err != nil {
		return nil, err
	}
	if page.Links, err = loadLinks(ctx, q, "page", page.Name); err != nil {
		return nil, err
	}
	if page.Aliases, err = loadAliases(ctx, q, pageID); err != nil {
		return nil, err
	}
	if page.Backlinks, err = loadBacklinks(ctx, q, page.Name); err != nil {
		return nil, err
	}
	if page.Blocks, err = loadPageBlocks(ctx, q, pageID, page.Name); err != nil {
		return nil, err
	}
	return &page, nil
}

// Delete removes a page and everything it owns. Blocks and their FK-backed
// side tables cascade; the polymorphic attribute rows are cleared explicitly.
func (r *PageRepository) Delete(ctx context.Context, name string) error {
	return r.store.WithTx(ctx, func(q storage.Querier) error {
		var pageID int64
		err := q.QueryRowContext(ctx, `SELECT id FROM pages WHERE name = ?`, name).Scan(&pageID)
		if err == sql.ErrNoRows {
			return storage.ErrNotFound
		}
		if err != nil {
			return err
		}
		if err := deletePageBlocks(ctx, q, pageID); err != nil {
			return err
		}
		for _, stmt := range []string{
			`DELETE FROM properties WHERE entity_type = 'page' AND entity_id = ?`,
			`DELETE FROM tags WHERE entity_type = 'page' AND entity_id = ?`,
			`DELETE FROM links WHERE source_type = 'page' AND source_id = ?`,
		} {
			if _, err := q.ExecContext(ctx, stmt, name); err != nil {
				return err
			}
		}
		if _, err := q.ExecContext(ctx, `DELETE FROM pages WHERE id = ?`, pageID); err != nil {
			return fmt.Errorf("failed to delete page: %w", err)
		}
		return nil
	})
}

// List returns every page, fully reconstructed, ordered by name.
func (r *PageRepository) List(ctx context.Context) ([]*types.Page, error) {
	names, err := r.Names(ctx)
	if err != nil {
		return nil, err
	}
	pages := make([]*types.Page, 0, len(names))
	for _, name := range names {
		page, err := r.Get(ctx, name)
		if err != nil {
			return nil, err
		}
		pages = append(pages, page)
	}
	return pages, nil
}

// Names returns all page names ordered alphabetically.
func (r *PageRepository) Names(ctx context.Context) ([]string, error) {
	rows, err := r.store.Querier().QueryContext(ctx, `SELECT name FROM pages ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// Count returns the number of indexed pages.
func (r *PageRepository) Count(ctx context.Context) (int, error) {
	var n int
	err := r.store.Querier().QueryRowContext(ctx, `SELECT COUNT(*) FROM pages`).Scan(&n)
	return n, err
}

// FindByNamespace returns pages whose namespace equals ns or nests under it.
func (r *PageRepository) FindByNamespace(ctx context.Context, ns string) ([]*types.Page, error) {
	return r.findByNameQuery(ctx,
		`SELECT name FROM pages WHERE namespace = ? OR namespace LIKE ? ORDER BY name`,
		ns, ns+"/%")
}

// FindByTag returns pages carrying the tag, via the polymorphic tag table.
func (r *PageRepository) FindByTag(ctx context.Context, tag string) ([]*types.Page, error) {
	return r.findByNameQuery(ctx, `
		SELECT p.name FROM pages p
		JOIN tags t ON t.entity_type = 'page' AND t.entity_id = p.name
		WHERE t.tag = ?
		ORDER BY p.name
	`, tag)
}

// Backlinks returns the names of pages that link to the given page, without
// loading the page itself.
func (r *PageRepository) Backlinks(ctx context.Context, name string) ([]string, error) {
	return loadBacklinks(ctx, r.store.Querier(), name)
}

// FindByAlias resolves an alias to its page.
func (r *PageRepository) FindByAlias(ctx context.Context, alias string) (*types.Page, error) {
	var name string
	err := r.store.Querier().QueryRowContext(ctx, `
		SELECT p.name FROM pages p
		JOIN aliases a ON a.page_id = p.id
		WHERE a.alias = ?
	`, alias).Scan(&name)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return r.Get(ctx, name)
}

func (r *PageRepository) findByNameQuery(ctx context.Context, query string, args ...interface{}) ([]*types.Page, error) {
	rows, err := r.store.Querier().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			_ = rows.Close()
			return nil, err
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, err
	}
	// Release the result set before the per-page reads; the pool has a
	// single connection.
	if err := rows.Close(); err != nil {
		return nil, err
	}

	pages := make([]*types.Page, 0, len(names))
	for _, name := range names {
		page, err := r.Get(ctx, name)
		if err != nil {
			return nil, err
		}
		pages = append(pages, page)
	}
	return pages, nil
}

// loadBacklinks collects the distinct names of pages whose blocks or page
// links target the given page.
func loadBacklinks(ctx context.Context, q storage.Querier, name string) ([]string, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT DISTINCT p.name FROM links l
		JOIN blocks b ON l.source_type = 'block' AND l.source_id = b.id
		JOIN pages p ON b.page_id = p.id
		WHERE l.target_page = ? AND p.name != ?
		UNION
		SELECT DISTINCT l.source_id FROM links l
		WHERE l.source_type = 'page' AND l.target_page = ? AND l.source_id != ?
		ORDER BY 1
	`, name, name, name, name)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var backlinks []string
	for rows.Next() {
		var source string
		if err := rows.Scan(&source); err != nil {
			return nil, err
		}
		backlinks = append(backlinks, source)
	}
	return backlinks, rows.Err()
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
