package types

import (
	"errors"
	"strings"
	"time"
)

// Page represents a named document composed of an ordered tree of blocks.
// The plain-text file on disk is the ground truth; the indexed form mirrors it.
type Page struct {
	Name        string // unique within the graph
	Title       string
	FilePath    string // path of the backing file on disk
	Journal     bool
	JournalDate string // ISO date when Journal is set
	Namespace   string // parent namespace derived from the name
	Whiteboard  bool
	Template    bool

	Properties map[string]string
	Tags       []string
	Links      []string // outgoing page links
	Backlinks  []string // computed: pages whose blocks link here
	Aliases    []string

	// Blocks in document order. Ownership: a block belongs to exactly one
	// page; deleting the page cascades to its blocks.
	Blocks []*Block

	CreatedAt time.Time
	UpdatedAt time.Time
}

// NamespaceOf derives the parent namespace from a /-delimited page name.
// "projects/grove/design" -> "projects/grove"; "inbox" -> "".
func NamespaceOf(name string) string {
	idx := strings.LastIndex(name, "/")
	if idx < 0 {
		return ""
	}
	return name[:idx]
}

// Roots returns the page's level-0 blocks in document order.
func (p *Page) Roots() []*Block {
	var roots []*Block
	for _, b := range p.Blocks {
		if b.ParentID == "" {
			roots = append(roots, b)
		}
	}
	return roots
}

// BlockByID returns the owned block with the given id, or nil.
func (p *Page) BlockByID(id string) *Block {
	for _, b := range p.Blocks {
		if b.ID == id {
			return b
		}
	}
	return nil
}

// Validate performs integrity checks on the page and its block tree.
func (p *Page) Validate() error {
	if p.Name == "" {
		return errors.New("page name is required")
	}
	if p.Namespace != NamespaceOf(p.Name) {
		return errors.New("page namespace does not match name")
	}
	byID := make(map[string]*Block, len(p.Blocks))
	for _, b := range p.Blocks {
		if err := b.Validate(); err != nil {
			return err
		}
		if b.PageName != p.Name {
			return errors.New("block belongs to a different page")
		}
		if _, dup := byID[b.ID]; dup {
			return errors.New("duplicate block id in page")
		}
		byID[b.ID] = b
	}
	// Parent pointers and children lists must be symmetric.
	for _, b := range p.Blocks {
		if b.ParentID == "" {
			continue
		}
		parent, ok := byID[b.ParentID]
		if !ok {
			return errors.New("block parent not in page")
		}
		if !parent.HasChild(b.ID) {
			return errors.New("parent does not list block as child")
		}
		if b.Level != parent.Level+1 {
			return errors.New("block level is not parent level plus one")
		}
	}
	return nil
}
