// Package cache provides a bounded in-memory cache for pages and blocks,
// sitting between the graph facade and the repositories. Eviction is LRU,
// so hot entities stay resident while cold ones fall out under pressure.
package cache

import (
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/grovekit/grove/pkg/types"
)

// Default capacities. Pages are heavier than blocks, so the page cache is
// an order of magnitude smaller.
const (
	DefaultPageCapacity  = 100
	DefaultBlockCapacity = 1000
)

// EntityCache caches pages by name and blocks by id.
type EntityCache struct {
	pages  *lru.Cache[string, *types.Page]
	blocks *lru.Cache[string, *types.Block]
}

// New creates a cache with the given capacities. Non-positive capacities
// fall back to the defaults.
func New(pageCapacity, blockCapacity int) (*EntityCache, error) {
	if pageCapacity <= 0 {
		pageCapacity = DefaultPageCapacity
	}
	if blockCapacity <= 0 {
		blockCapacity = DefaultBlockCapacity
	}
	pages, err := lru.New[string, *types.Page](pageCapacity)
	if err != nil {
		return nil, err
	}
	blocks, err := lru.New[string, *types.Block](blockCapacity)
	if err != nil {
		return nil, err
	}
	return &EntityCache{pages: pages, blocks: blocks}, nil
}

// GetPage returns a cached page by name.
func (c *EntityCache) GetPage(name string) (*types.Page, bool) {
	return c.pages.Get(name)
}

// PutPage caches a page and its blocks, so a page read warms block lookups.
func (c *EntityCache) PutPage(page *types.Page) {
	c.pages.Add(page.Name, page)
	for _, block := range page.Blocks {
		c.blocks.Add(block.ID, block)
	}
}

// InvalidatePage drops a page and every cached block belonging to it.
func (c *EntityCache) InvalidatePage(name string) {
	if page, ok := c.pages.Get(name); ok {
		for _, block := range page.Blocks {
			c.blocks.Remove(block.ID)
		}
	}
	c.pages.Remove(name)
	// Blocks cached individually may belong to the page without the page
	// itself being resident. Sweep by owner.
	for _, id := range c.blocks.Keys() {
		if block, ok := c.blocks.Peek(id); ok && block.PageName == name {
			c.blocks.Remove(id)
		}
	}
}

// GetBlock returns a cached block by id.
func (c *EntityCache) GetBlock(id string) (*types.Block, bool) {
	return c.blocks.Get(id)
}

// PutBlock caches a block.
func (c *EntityCache) PutBlock(block *types.Block) {
	c.blocks.Add(block.ID, block)
}

// InvalidateBlock drops a block, and its owning page since the page's block
// tree no longer matches the store.
func (c *EntityCache) InvalidateBlock(id string) {
	if block, ok := c.blocks.Peek(id); ok {
		c.pages.Remove(block.PageName)
	}
	c.blocks.Remove(id)
}

// Purge empties both caches.
func (c *EntityCache) Purge() {
	c.pages.Purge()
	c.blocks.Purge()
}

// Len reports the resident page and block counts.
func (c *EntityCache) Len() (pages, blocks int) {
	return c.pages.Len(), c.blocks.Len()
}
