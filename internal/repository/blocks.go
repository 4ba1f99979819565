package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/grovekit/grove/internal/storage"
	"github.com/grovekit/grove/pkg/types"
)

// BlockRepository persists individual blocks and serves block-level queries.
type BlockRepository struct {
	store *storage.Store
}

// NewBlockRepository creates a block repository on the given store.
func NewBlockRepository(store *storage.Store) *BlockRepository {
	return &BlockRepository{store: store}
}

// Save upserts a single block and replaces its side-table rows. The block's
// page must already exist; saving against an unknown page returns
// storage.ErrNotFound.
func (r *BlockRepository) Save(ctx context.Context, block *types.Block) error {
	if err := block.Validate(); err != nil {
		return err
	}
	return r.store.WithTx(ctx, func(q storage.Querier) error {
		var pageID int64
		err := q.QueryRowContext(ctx, `SELECT id FROM pages WHERE name = ?`, block.PageName).Scan(&pageID)
		if err == sql.ErrNoRows {
			return fmt.Errorf("page %q: %w", block.PageName, storage.ErrNotFound)
		}
		if err != nil {
			return err
		}
		if err := insertBlock(ctx, q, pageID, block); err != nil {
			return err
		}
		return replaceBlockRelations(ctx, q, block)
	})
}

// insertBlock upserts the block row and its child ordering. Shared between
// page saves and single-block saves. The block's children must already have
// rows; callers saving a whole tree insert every row first via
// insertBlockRow and then wire orderings.
func insertBlock(ctx context.Context, q storage.Querier, pageID int64, block *types.Block) error {
	if err := insertBlockRow(ctx, q, pageID, block); err != nil {
		return err
	}
	return insertBlockChildren(ctx, q, block)
}

// insertBlockRow upserts only the blocks-table row.
func insertBlockRow(ctx context.Context, q storage.Querier, pageID int64, block *types.Block) error {
	now := time.Now()
	created := block.CreatedAt
	if created.IsZero() {
		created = now
	}
	var (
		schedDate, schedTime, schedRepeat interface{}
		deadDate, deadTime, deadRepeat    interface{}
	)
	if s := block.Scheduled; s != nil {
		schedDate, schedTime, schedRepeat = nullable(s.Date), nullable(s.Time), nullable(s.Repeater)
	}
	if d := block.Deadline; d != nil {
		deadDate, deadTime, deadRepeat = nullable(d.Date), nullable(d.Time), nullable(d.Repeater)
	}
	_, err := q.ExecContext(ctx, `
		INSERT INTO blocks (id, page_id, content, level, parent_id, task_state, priority,
		                    scheduled_date, scheduled_time, scheduled_repeater,
		                    deadline_date, deadline_time, deadline_repeater,
		                    kind, is_collapsed, heading_level, code_language, latex,
		                    created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			page_id = excluded.page_id,
			content = excluded.content,
			level = excluded.level,
			parent_id = excluded.parent_id,
			task_state = excluded.task_state,
			priority = excluded.priority,
			scheduled_date = excluded.scheduled_date,
			scheduled_time = excluded.scheduled_time,
			scheduled_repeater = excluded.scheduled_repeater,
			deadline_date = excluded.deadline_date,
			deadline_time = excluded.deadline_time,
			deadline_repeater = excluded.deadline_repeater,
			kind = excluded.kind,
			is_collapsed = excluded.is_collapsed,
			heading_level = excluded.heading_level,
			code_language = excluded.code_language,
			latex = excluded.latex,
			updated_at = excluded.updated_at
	`, block.ID, pageID, block.Content, block.Level, nullable(block.ParentID),
		nullable(string(block.TaskState)), nullable(string(block.Priority)),
		schedDate, schedTime, schedRepeat, deadDate, deadTime, deadRepeat,
		string(block.Kind), block.Collapsed, block.HeadingLevel,
		nullable(block.CodeLanguage), nullable(block.Latex), created, now)
	if err != nil {
		return fmt.Errorf("failed to upsert block %s: %w", block.ID, err)
	}
	block.UpdatedAt = now
	return nil
}

// insertBlockChildren rewrites the block's ordered child list.
func insertBlockChildren(ctx context.Context, q storage.Querier, block *types.Block) error {
	if _, err := q.ExecContext(ctx, `DELETE FROM block_children WHERE parent_id = ?`, block.ID); err != nil {
		return err
	}
	for pos, childID := range block.Children {
		if _, err := q.ExecContext(ctx,
			`INSERT INTO block_children (parent_id, child_id, position) VALUES (?, ?, ?)`,
			block.ID, childID, pos); err != nil {
			return fmt.Errorf("failed to insert child ordering: %w", err)
		}
	}
	return nil
}

// replaceBlockRelations rewrites the block's rows in properties, tags, links,
// block_references, embeds, and queries.
func replaceBlockRelations(ctx context.Context, q storage.Querier, block *types.Block) error {
	for _, stmt := range []string{
		`DELETE FROM properties WHERE entity_type = 'block' AND entity_id = ?`,
		`DELETE FROM tags WHERE entity_type = 'block' AND entity_id = ?`,
		`DELETE FROM links WHERE source_type = 'block' AND source_id = ?`,
		`DELETE FROM block_references WHERE source_block_id = ?`,
		`DELETE FROM embeds WHERE block_id = ?`,
		`DELETE FROM queries WHERE block_id = ?`,
	} {
		if _, err := q.ExecContext(ctx, stmt, block.ID); err != nil {
			return fmt.Errorf("failed to clear block relations: %w", err)
		}
	}

	for key, value := range block.Properties {
		if _, err := q.ExecContext(ctx,
			`INSERT INTO properties (entity_type, entity_id, key, value) VALUES ('block', ?, ?, ?)`,
			block.ID, key, value); err != nil {
			return err
		}
	}
	for _, tag := range block.Tags {
		if _, err := q.ExecContext(ctx,
			`INSERT OR IGNORE INTO tags (entity_type, entity_id, tag) VALUES ('block', ?, ?)`,
			block.ID, tag); err != nil {
			return err
		}
	}
	for _, link := range block.Links {
		if _, err := q.ExecContext(ctx,
			`INSERT OR IGNORE INTO links (source_type, source_id, target_page, link_kind) VALUES ('block', ?, ?, 'ref')`,
			block.ID, link); err != nil {
			return err
		}
	}
	for _, ref := range block.BlockRefs {
		if _, err := q.ExecContext(ctx,
			`INSERT OR IGNORE INTO block_references (source_block_id, referenced_block_id) VALUES (?, ?)`,
			block.ID, ref); err != nil {
			return err
		}
	}
	for _, embed := range block.Embeds {
		if _, err := q.ExecContext(ctx,
			`INSERT INTO embeds (block_id, embed_kind, target) VALUES (?, ?, ?)`,
			block.ID, string(embed.Kind), embed.Target); err != nil {
			return err
		}
	}
	if query := block.Query; query != nil {
		if _, err := q.ExecContext(ctx,
			`INSERT INTO queries (block_id, query_text, query_kind) VALUES (?, ?, ?)`,
			block.ID, query.Text, string(query.Kind)); err != nil {
			return err
		}
	}
	return nil
}

// Get loads a single block with all of its relations rejoined.
func (r *BlockRepository) Get(ctx context.Context, id string) (*types.Block, error) {
	return getBlock(ctx, r.store.Querier(), id)
}

func getBlock(ctx context.Context, q storage.Querier, id string) (*types.Block, error) {
	rows, err := q.QueryContext(ctx, blockSelect+` WHERE b.id = ?`, id)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, storage.ErrNotFound
	}
	block, err := scanBlock(rows)
	if err != nil {
		return nil, err
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := loadBlockRelations(ctx, q, block); err != nil {
		return nil, err
	}
	return block, nil
}

// Delete removes a block and promotes its children to the block's parent,
// splicing them into the parent's child list where the block sat.
func (r *BlockRepository) Delete(ctx context.Context, id string) error {
	return r.store.WithTx(ctx, func(q storage.Querier) error {
		block, err := getBlock(ctx, q, id)
		if err != nil {
			return err
		}

		for _, childID := range block.Children {
			child, err := getBlock(ctx, q, childID)
			if err != nil {
				return err
			}
			if err := reparentSubtree(ctx, q, child, block.ParentID, block.Level); err != nil {
				return err
			}
		}
		if block.ParentID != "" {
			// Splice the children into the grandparent where the block sat.
			parent, err := getBlock(ctx, q, block.ParentID)
			if err != nil {
				return err
			}
			merged := spliceChildren(parent.Children, id, block.Children)
			if _, err := q.ExecContext(ctx, `DELETE FROM block_children WHERE parent_id = ?`, parent.ID); err != nil {
				return err
			}
			for pos, childID := range merged {
				if _, err := q.ExecContext(ctx,
					`INSERT INTO block_children (parent_id, child_id, position) VALUES (?, ?, ?)`,
					parent.ID, childID, pos); err != nil {
					return err
				}
			}
		}

		for _, stmt := range []string{
			`DELETE FROM properties WHERE entity_type = 'block' AND entity_id = ?`,
			`DELETE FROM tags WHERE entity_type = 'block' AND entity_id = ?`,
			`DELETE FROM links WHERE source_type = 'block' AND source_id = ?`,
			`DELETE FROM blocks WHERE id = ?`,
		} {
			if _, err := q.ExecContext(ctx, stmt, id); err != nil {
				return err
			}
		}
		return nil
	})
}

// reparentSubtree moves a block under a new parent and shifts the levels of
// its whole subtree so the hierarchy invariant holds after promotion.
func reparentSubtree(ctx context.Context, q storage.Querier, block *types.Block, newParentID string, newLevel int) error {
	shift := newLevel - block.Level
	if _, err := q.ExecContext(ctx,
		`UPDATE blocks SET parent_id = ?, level = ? WHERE id = ?`,
		nullable(newParentID), newLevel, block.ID); err != nil {
		return err
	}
	if shift == 0 {
		return nil
	}
	var walk func(id string) error
	walk = func(id string) error {
		b, err := getBlock(ctx, q, id)
		if err != nil {
			return err
		}
		if _, err := q.ExecContext(ctx,
			`UPDATE blocks SET level = ? WHERE id = ?`, b.Level+shift, b.ID); err != nil {
			return err
		}
		for _, childID := range b.Children {
			if err := walk(childID); err != nil {
				return err
			}
		}
		return nil
	}
	for _, childID := range block.Children {
		if err := walk(childID); err != nil {
			return err
		}
	}
	return nil
}

// spliceChildren replaces removed in the sibling list with its promoted
// children, keeping the surrounding order intact.
func spliceChildren(siblings []string, removed string, promoted []string) []string {
	merged := make([]string, 0, len(siblings)+len(promoted))
	for _, id := range siblings {
		if id == removed {
			merged = append(merged, promoted...)
			continue
		}
		merged = append(merged, id)
	}
	return merged
}

// List returns every block in the graph, grouped by page in document order.
func (r *BlockRepository) List(ctx context.Context) ([]*types.Block, error) {
	return r.findBlocks(ctx, blockSelect+` ORDER BY b.page_id, b.rowid`)
}

// FindByTaskState returns blocks in the given task state, most recently
// updated first.
func (r *BlockRepository) FindByTaskState(ctx context.Context, state types.TaskState) ([]*types.Block, error) {
	return r.findBlocks(ctx, blockSelect+` WHERE b.task_state = ? ORDER BY b.updated_at DESC`, string(state))
}

// FindByPriority returns blocks carrying the given priority marker.
func (r *BlockRepository) FindByPriority(ctx context.Context, priority types.Priority) ([]*types.Block, error) {
	return r.findBlocks(ctx, blockSelect+` WHERE b.priority = ? ORDER BY b.updated_at DESC`, string(priority))
}

// FindScheduledOn returns blocks scheduled on the given ISO day.
func (r *BlockRepository) FindScheduledOn(ctx context.Context, date string) ([]*types.Block, error) {
	return r.findBlocks(ctx, blockSelect+` WHERE b.scheduled_date = ? ORDER BY b.scheduled_time`, date)
}

// FindDeadlineOn returns blocks whose deadline falls on the given ISO day.
func (r *BlockRepository) FindDeadlineOn(ctx context.Context, date string) ([]*types.Block, error) {
	return r.findBlocks(ctx, blockSelect+` WHERE b.deadline_date = ? ORDER BY b.deadline_time`, date)
}

// FindByTag returns blocks carrying the tag.
func (r *BlockRepository) FindByTag(ctx context.Context, tag string) ([]*types.Block, error) {
	return r.findBlocks(ctx, blockSelect+`
		JOIN tags t ON t.entity_type = 'block' AND t.entity_id = b.id
		WHERE t.tag = ?
		ORDER BY b.updated_at DESC
	`, tag)
}

// SearchContent matches blocks whose content contains the term. The search is
// case-insensitive unless caseSensitive is set.
func (r *BlockRepository) SearchContent(ctx context.Context, term string, caseSensitive bool) ([]*types.Block, error) {
	if caseSensitive {
		return r.findBlocks(ctx, blockSelect+
			` WHERE instr(b.content, ?) > 0 ORDER BY b.updated_at DESC`, term)
	}
	return r.findBlocks(ctx, blockSelect+
		` WHERE b.content LIKE ? ESCAPE '\' ORDER BY b.updated_at DESC`, "%"+escapeLike(term)+"%")
}

// ReferencesTo returns the IDs of blocks that reference the given block.
func (r *BlockRepository) ReferencesTo(ctx context.Context, id string) ([]string, error) {
	rows, err := r.store.Querier().QueryContext(ctx,
		`SELECT source_block_id FROM block_references WHERE referenced_block_id = ? ORDER BY source_block_id`, id)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var sources []string
	for rows.Next() {
		var source string
		if err := rows.Scan(&source); err != nil {
			return nil, err
		}
		sources = append(sources, source)
	}
	return sources, rows.Err()
}

const blockSelect = `
	SELECT b.id, p.name, b.content, b.level, b.parent_id, b.task_state, b.priority,
	       b.scheduled_date, b.scheduled_time, b.scheduled_repeater,
	       b.deadline_date, b.deadline_time, b.deadline_repeater,
	       b.kind, b.is_collapsed, b.heading_level, b.code_language, b.latex,
	       b.created_at, b.updated_at
	FROM blocks b
	JOIN pages p ON p.id = b.page_id`

func scanBlock(rows *sql.Rows) (*types.Block, error) {
	var (
		block                             types.Block
		parentID, taskState, priority     sql.NullString
		schedDate, schedTime, schedRepeat sql.NullString
		deadDate, deadTime, deadRepeat    sql.NullString
		kind, codeLanguage, latex         sql.NullString
	)
	err := rows.Scan(&block.ID, &block.PageName, &block.Content, &block.Level,
		&parentID, &taskState, &priority,
		&schedDate, &schedTime, &schedRepeat,
		&deadDate, &deadTime, &deadRepeat,
		&kind, &block.Collapsed, &block.HeadingLevel, &codeLanguage, &latex,
		&block.CreatedAt, &block.UpdatedAt)
	if err != nil {
		return nil, err
	}
	block.ParentID = parentID.String
	block.TaskState = types.TaskState(taskState.String)
	block.Priority = types.Priority(priority.String)
	block.Kind = types.BlockKind(kind.String)
	block.CodeLanguage = codeLanguage.String
	block.Latex = latex.String
	if schedDate.Valid {
		block.Scheduled = &types.Schedule{Date: schedDate.String, Time: schedTime.String, Repeater: schedRepeat.String}
	}
	if deadDate.Valid {
		block.Deadline = &types.Schedule{Date: deadDate.String, Time: deadTime.String, Repeater: deadRepeat.String}
	}
	return &block, nil
}

func (r *BlockRepository) findBlocks(ctx context.Context, query string, args ...interface{}) ([]*types.Block, error) {
	q := r.store.Querier()
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}

	var blocks []*types.Block
	for rows.Next() {
		block, err := scanBlock(rows)
		if err != nil {
			_ = rows.Close()
			return nil, err
		}
		blocks = append(blocks, block)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, err
	}
	// Close before the relation queries: the pool has a single connection
	// and an open result set would hold it.
	if err := rows.Close(); err != nil {
		return nil, err
	}
	for _, block := range blocks {
		if err := loadBlockRelations(ctx, q, block); err != nil {
			return nil, err
		}
	}
	return blocks, nil
}

// loadBlockRelations fills children, properties, tags, links, references,
// embeds, and the query attached to a block.
func loadBlockRelations(ctx context.Context, q storage.Querier, block *types.Block) error {
	rows, err := q.QueryContext(ctx,
		`SELECT child_id FROM block_children WHERE parent_id = ? ORDER BY position`, block.ID)
	if err != nil {
		return err
	}
	block.Children = nil
	for rows.Next() {
		var childID string
		if err := rows.Scan(&childID); err != nil {
			_ = rows.Close()
			return err
		}
		block.Children = append(block.Children, childID)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return err
	}
	_ = rows.Close()

	if block.Properties, err = loadProperties(ctx, q, "block", block.ID); err != nil {
		return err
	}
	if block.Tags, err = loadTags(ctx, q, "block", block.ID); err != nil {
		return err
	}
	if block.Links, err = loadLinks(ctx, q, "block", block.ID); err != nil {
		return err
	}

	rows, err = q.QueryContext(ctx,
		`SELECT referenced_block_id FROM block_references WHERE source_block_id = ?`, block.ID)
	if err != nil {
		return err
	}
	block.BlockRefs = nil
	for rows.Next() {
		var ref string
		if err := rows.Scan(&ref); err != nil {
			_ = rows.Close()
			return err
		}
		block.BlockRefs = append(block.BlockRefs, ref)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return err
	}
	_ = rows.Close()

	rows, err = q.QueryContext(ctx,
		`SELECT embed_kind, target FROM embeds WHERE block_id = ? ORDER BY id`, block.ID)
	if err != nil {
		return err
	}
	block.Embeds = nil
	for rows.Next() {
		var kind, target string
		if err := rows.Scan(&kind, &target); err != nil {
			_ = rows.Close()
			return err
		}
		block.Embeds = append(block.Embeds, types.Embed{Kind: types.EmbedKind(kind), Target: target})
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return err
	}
	_ = rows.Close()

	var queryText, queryKind string
	err = q.QueryRowContext(ctx,
		`SELECT query_text, query_kind FROM queries WHERE block_id = ?`, block.ID).
		Scan(&queryText, &queryKind)
	switch {
	case err == sql.ErrNoRows:
		block.Query = nil
	case err != nil:
		return err
	default:
		block.Query = &types.BlockQuery{Text: queryText, Kind: types.QueryKind(queryKind)}
	}
	return nil
}

// loadPageBlocks reconstructs a page's full block list, roots first in
// document order, descendants following their parents.
func loadPageBlocks(ctx context.Context, q storage.Querier, pageID int64, pageName string) ([]*types.Block, error) {
	// Rowid order is insertion order, which page saves write in document
	// order, so roots come back in their on-disk sequence.
	rows, err := q.QueryContext(ctx, blockSelect+` WHERE b.page_id = ? ORDER BY b.rowid`, pageID)
	if err != nil {
		return nil, err
	}

	byID := make(map[string]*types.Block)
	var all []*types.Block
	for rows.Next() {
		block, err := scanBlock(rows)
		if err != nil {
			_ = rows.Close()
			return nil, err
		}
		block.PageName = pageName
		byID[block.ID] = block
		all = append(all, block)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, err
	}
	_ = rows.Close()

	for _, block := range all {
		if err := loadBlockRelations(ctx, q, block); err != nil {
			return nil, err
		}
	}

	var roots []*types.Block
	for _, block := range all {
		if block.ParentID == "" {
			roots = append(roots, block)
		}
	}

	ordered := make([]*types.Block, 0, len(all))
	var appendSubtree func(block *types.Block)
	appendSubtree = func(block *types.Block) {
		ordered = append(ordered, block)
		for _, childID := range block.Children {
			if child, ok := byID[childID]; ok {
				appendSubtree(child)
			}
		}
	}
	for _, root := range roots {
		appendSubtree(root)
	}
	// Orphans should not happen, but never drop data on read.
	if len(ordered) < len(all) {
		seen := make(map[string]bool, len(ordered))
		for _, block := range ordered {
			seen[block.ID] = true
		}
		for _, block := range all {
			if !seen[block.ID] {
				ordered = append(ordered, block)
			}
		}
	}
	return ordered, nil
}

func loadProperties(ctx context.Context, q storage.Querier, entityType, entityID string) (map[string]string, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT key, value FROM properties WHERE entity_type = ? AND entity_id = ?`,
		entityType, entityID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	props := make(map[string]string)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, err
		}
		props[key] = value
	}
	if len(props) == 0 {
		return nil, rows.Err()
	}
	return props, rows.Err()
}

func loadTags(ctx context.Context, q storage.Querier, entityType, entityID string) ([]string, error) {
	return stringColumn(ctx, q,
		`SELECT tag FROM tags WHERE entity_type = ? AND entity_id = ? ORDER BY tag`,
		entityType, entityID)
}

func loadLinks(ctx context.Context, q storage.Querier, sourceType, sourceID string) ([]string, error) {
	return stringColumn(ctx, q,
		`SELECT target_page FROM links WHERE source_type = ? AND source_id = ? ORDER BY target_page`,
		sourceType, sourceID)
}

func loadAliases(ctx context.Context, q storage.Querier, pageID int64) ([]string, error) {
	return stringColumn(ctx, q,
		`SELECT alias FROM aliases WHERE page_id = ? ORDER BY alias`, pageID)
}

func stringColumn(ctx context.Context, q storage.Querier, query string, args ...interface{}) ([]string, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var values []string
	for rows.Next() {
		var value string
		if err := rows.Scan(&value); err != nil {
			return nil, err
		}
		values = append(values, value)
	}
	return values, rows.Err()
}

func escapeLike(s string) string {
	out := make([]rune, 0, len(s))
	for _, r := range s {
		if r == '%' || r == '_' || r == '\\' {
			out = append(out, '\\')
		}
		out = append(out, r)
	}
	return string(out)
}
