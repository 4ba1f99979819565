// Package graph is the client facade over the whole engine: it owns the
// storage handle, the repositories, the cache, and the synchronizer for one
// graph root. Mutations follow the file-first contract: the document file is
// written to disk before the index is touched, so a crash between the two
// leaves files ahead of the index and a resync repairs everything.
package graph

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/grovekit/grove/internal/cache"
	"github.com/grovekit/grove/internal/parser"
	"github.com/grovekit/grove/internal/repository"
	"github.com/grovekit/grove/internal/storage"
	"github.com/grovekit/grove/internal/syncer"
	"github.com/grovekit/grove/pkg/types"
)

// pagesDirName is where non-journal page files live under the graph root.
const pagesDirName = "pages"

// journalsDirName is where journal page files live under the graph root.
const journalsDirName = "journals"

// Options configures an open graph.
type Options struct {
	// PageCacheSize and BlockCacheSize bound the entity cache. Zero means
	// the cache defaults.
	PageCacheSize  int
	BlockCacheSize int
	// Debounce overrides the synchronizer quiet period.
	Debounce time.Duration
	// IgnoreTTL overrides the own-write suppression window.
	IgnoreTTL time.Duration
	// Logger receives engine activity. Nil means zap.NewNop().
	Logger *zap.Logger
}

// Graph is an open knowledge graph rooted at a directory of markdown files.
type Graph struct {
	root   string
	store  *storage.Store
	parser *parser.Parser
	pages  *repository.PageRepository
	blocks *repository.BlockRepository
	state  *repository.SyncStateRepository
	cache  *cache.EntityCache
	syncer *syncer.Syncer
	logger *zap.Logger
}

// Open opens the graph at root, creating the index directory and applying
// migrations as needed. If the index is empty, the document tree is scanned
// and indexed before Open returns.
func Open(ctx context.Context, root string, opts Options) (*Graph, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("failed to open graph root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("graph root %s is not a directory", root)
	}

	store, err := storage.Open(root)
	if err != nil {
		return nil, err
	}

	entityCache, err := cache.New(opts.PageCacheSize, opts.BlockCacheSize)
	if err != nil {
		store.Close()
		return nil, err
	}

	g := &Graph{
		root:   root,
		store:  store,
		parser: parser.New(),
		pages:  repository.NewPageRepository(store),
		blocks: repository.NewBlockRepository(store),
		state:  repository.NewSyncStateRepository(store),
		cache:  entityCache,
		logger: logger,
	}
	g.syncer = syncer.New(root, g.pages, g.state, entityCache, syncer.Config{
		Debounce:  opts.Debounce,
		IgnoreTTL: opts.IgnoreTTL,
		Logger:    logger,
	})

	count, err := g.pages.Count(ctx)
	if err != nil {
		store.Close()
		return nil, err
	}
	if count == 0 {
		if _, err := g.syncer.InitialScan(ctx); err != nil {
			store.Close()
			return nil, err
		}
	}
	return g, nil
}

// Close stops watching and releases the database handle.
func (g *Graph) Close() error {
	if err := g.syncer.Stop(); err != nil {
		g.logger.Warn("failed to stop syncer", zap.Error(err))
	}
	return g.store.Close()
}

// Root returns the graph root directory.
func (g *Graph) Root() string {
	return g.root
}

// Watch starts the file synchronizer so external edits flow into the index.
func (g *Graph) Watch(ctx context.Context) error {
	return g.syncer.Start(ctx)
}

// Resync re-scans the whole document tree. Unchanged files short-circuit on
// their checksums, so a resync of a healthy graph is cheap.
func (g *Graph) Resync(ctx context.Context) (syncer.ScanStats, error) {
	return g.syncer.InitialScan(ctx)
}

// CreatePage creates a page and its document file. A name collision returns
// storage.ErrAlreadyExists.
func (g *Graph) CreatePage(ctx context.Context, name string) (*types.Page, error) {
	existing, err := g.pages.Get(ctx, name)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}
	if existing != nil {
		return nil, fmt.Errorf("page %q: %w", name, storage.ErrAlreadyExists)
	}

	now := time.Now()
	page := &types.Page{
		Name:      name,
		FilePath:  g.pageFilePath(name, false),
		Namespace: types.NamespaceOf(name),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := g.writeAndSave(ctx, page); err != nil {
		return nil, err
	}
	return page, nil
}

// CreateJournalPage creates a journal page for the given ISO date.
func (g *Graph) CreateJournalPage(ctx context.Context, date string) (*types.Page, error) {
	name := journalFileName(date)
	existing, err := g.pages.Get(ctx, name)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}
	if existing != nil {
		return nil, fmt.Errorf("journal %q: %w", name, storage.ErrAlreadyExists)
	}

	now := time.Now()
	page := &types.Page{
		Name:        name,
		FilePath:    g.pageFilePath(name, true),
		Journal:     true,
		JournalDate: date,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := g.writeAndSave(ctx, page); err != nil {
		return nil, err
	}
	return page, nil
}

// AddBlock appends a block with the given content to a page. An empty
// parentID makes the block a root; otherwise it becomes the last child of
// the parent. The raw content is run through the extraction pipeline, so
// task markers, tags, and links land in their derived fields.
func (g *Graph) AddBlock(ctx context.Context, pageName, parentID, content string) (*types.Block, error) {
	// Mutations work on a fresh copy so a failed save never leaves a
	// half-mutated entity in the cache.
	page, err := g.pages.Get(ctx, pageName)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	block := &types.Block{
		ID:        uuid.NewString(),
		PageName:  pageName,
		Content:   content,
		Kind:      types.KindBullet,
		CreatedAt: now,
		UpdatedAt: now,
	}
	g.parser.ExtractInto(block)

	if parentID != "" {
		parent := page.BlockByID(parentID)
		if parent == nil {
			return nil, fmt.Errorf("parent block %q: %w", parentID, storage.ErrNotFound)
		}
		block.ParentID = parent.ID
		block.Level = parent.Level + 1
		parent.Children = append(parent.Children, block.ID)
	}
	page.Blocks = append(page.Blocks, block)

	if err := g.writeAndSave(ctx, page); err != nil {
		return nil, err
	}
	return block, nil
}

// UpdateBlock replaces a block's content, re-deriving its extracted fields,
// and rewrites the owning page's file.
func (g *Graph) UpdateBlock(ctx context.Context, id, content string) (*types.Block, error) {
	located, err := g.Block(ctx, id)
	if err != nil {
		return nil, err
	}
	page, err := g.pages.Get(ctx, located.PageName)
	if err != nil {
		return nil, err
	}
	block := page.BlockByID(id)
	if block == nil {
		return nil, fmt.Errorf("block %q: %w", id, storage.ErrNotFound)
	}

	block.Content = content
	block.Kind = types.KindBullet
	block.HeadingLevel = 0
	block.CodeLanguage = ""
	block.Latex = ""
	block.TaskState = types.TaskNone
	block.Priority = types.PriorityNone
	block.Scheduled = nil
	block.Deadline = nil
	block.Tags = nil
	block.Links = nil
	block.BlockRefs = nil
	block.Embeds = nil
	block.Query = nil
	block.Properties = make(map[string]string)
	block.UpdatedAt = time.Now()
	g.parser.ExtractInto(block)

	if err := g.writeAndSave(ctx, page); err != nil {
		return nil, err
	}
	return block, nil
}

// DeleteBlock removes a block from its page, promoting the block's children
// to its parent so no descendant is orphaned, then rewrites the file.
func (g *Graph) DeleteBlock(ctx context.Context, id string) error {
	located, err := g.Block(ctx, id)
	if err != nil {
		return err
	}
	page, err := g.pages.Get(ctx, located.PageName)
	if err != nil {
		return err
	}
	block := page.BlockByID(id)
	if block == nil {
		return fmt.Errorf("block %q: %w", id, storage.ErrNotFound)
	}

	promoteChildren(page, block)
	remaining := page.Blocks[:0]
	for _, b := range page.Blocks {
		if b.ID != id {
			remaining = append(remaining, b)
		}
	}
	page.Blocks = remaining

	return g.writeAndSave(ctx, page)
}

// DeletePage removes a page, its document file, and all index state.
func (g *Graph) DeletePage(ctx context.Context, name string) error {
	page, err := g.pages.Get(ctx, name)
	if err != nil {
		return err
	}

	if page.FilePath != "" {
		g.syncer.Ignored().Register(page.FilePath)
		if err := os.Remove(page.FilePath); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to remove %s: %w", page.FilePath, err)
		}
		if err := g.state.Delete(ctx, page.FilePath); err != nil {
			return err
		}
	}
	if err := g.pages.Delete(ctx, name); err != nil {
		return err
	}
	g.cache.InvalidatePage(name)
	return nil
}

// Page returns a page by name, read through the cache.
func (g *Graph) Page(ctx context.Context, name string) (*types.Page, error) {
	if page, ok := g.cache.GetPage(name); ok {
		return page, nil
	}
	page, err := g.pages.Get(ctx, name)
	if err != nil {
		return nil, err
	}
	g.cache.PutPage(page)
	return page, nil
}

// Block returns a block by id, read through the cache.
func (g *Graph) Block(ctx context.Context, id string) (*types.Block, error) {
	if block, ok := g.cache.GetBlock(id); ok {
		return block, nil
	}
	block, err := g.blocks.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	g.cache.PutBlock(block)
	return block, nil
}

// Pages returns every page in the graph. This is the query-builder's "all
// pages" collection and bypasses the cache.
func (g *Graph) Pages(ctx context.Context) ([]*types.Page, error) {
	return g.pages.List(ctx)
}

// Blocks returns every block in the graph, grouped by page in document
// order. Like Pages, this bypasses the cache.
func (g *Graph) Blocks(ctx context.Context) ([]*types.Block, error) {
	return g.blocks.List(ctx)
}

// PageNames returns every page name, ordered.
func (g *Graph) PageNames(ctx context.Context) ([]string, error) {
	return g.pages.Names(ctx)
}

// PageRepo exposes the page repository for composed lookups.
func (g *Graph) PageRepo() *repository.PageRepository {
	return g.pages
}

// BlockRepo exposes the block repository for composed lookups.
func (g *Graph) BlockRepo() *repository.BlockRepository {
	return g.blocks
}

// writeAndSave is the file-first write path shared by all mutations: render
// the page, register own-write suppression, write the file, then persist to
// the index and invalidate the cache. If the file write fails the index is
// never touched.
func (g *Graph) writeAndSave(ctx context.Context, page *types.Page) error {
	if page.FilePath == "" {
		page.FilePath = g.pageFilePath(page.Name, page.Journal)
	}
	rendered := parser.Render(page)

	if err := os.MkdirAll(filepath.Dir(page.FilePath), 0o755); err != nil {
		return fmt.Errorf("failed to create page directory: %w", err)
	}
	g.syncer.Ignored().Register(page.FilePath)
	if err := os.WriteFile(page.FilePath, []byte(rendered), 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", page.FilePath, err)
	}

	if err := g.pages.Save(ctx, page); err != nil {
		return err
	}

	now := time.Now()
	if err := g.state.Upsert(ctx, &repository.SyncState{
		FilePath:     page.FilePath,
		LastModified: now,
		LastSynced:   now,
		Checksum:     syncer.Checksum([]byte(rendered)),
	}); err != nil {
		return err
	}

	g.cache.InvalidatePage(page.Name)
	return nil
}

// pageFilePath places a page file under pages/ or journals/. Namespace
// separators are flattened so the file sits directly in its directory.
func (g *Graph) pageFilePath(name string, journal bool) string {
	dir := pagesDirName
	if journal {
		dir = journalsDirName
	}
	return filepath.Join(g.root, dir, flattenName(name)+".md")
}

// flattenName encodes namespace separators for use in a file name.
func flattenName(name string) string {
	out := make([]rune, 0, len(name))
	for _, r := range name {
		if r == '/' {
			out = append(out, '_', '_', '_')
			continue
		}
		out = append(out, r)
	}
	return string(out)
}

// journalFileName converts an ISO date to the journal file naming scheme.
func journalFileName(date string) string {
	out := []rune(date)
	for i, r := range out {
		if r == '-' {
			out[i] = '_'
		}
	}
	return string(out)
}

// promoteChildren re-parents a block's children onto its parent, splicing
// them into the parent's child list where the block sat, or demotes them to
// roots when the block had no parent.
func promoteChildren(page *types.Page, block *types.Block) {
	parent := page.BlockByID(block.ParentID)
	for _, childID := range block.Children {
		child := page.BlockByID(childID)
		if child == nil {
			continue
		}
		if parent != nil {
			child.ParentID = parent.ID
		} else {
			child.ParentID = ""
		}
		shiftLevels(page, child, block.Level)
	}
	if parent != nil {
		merged := make([]string, 0, len(parent.Children)+len(block.Children))
		for _, id := range parent.Children {
			if id == block.ID {
				merged = append(merged, block.Children...)
				continue
			}
			merged = append(merged, id)
		}
		parent.Children = merged
	}
	block.Children = nil
}

// shiftLevels sets a block's level and shifts its subtree to match.
func shiftLevels(page *types.Page, block *types.Block, level int) {
	delta := level - block.Level
	if delta == 0 {
		return
	}
	block.Level = level
	for _, childID := range block.Children {
		if child := page.BlockByID(childID); child != nil {
			shiftLevels(page, child, child.Level+delta)
		}
	}
}
