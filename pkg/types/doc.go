// Package types provides shared entity definitions for the grove knowledge graph.
//
// This package defines the domain types used across all components of grove:
// pages, blocks, and the metadata extracted from block content (task states,
// priorities, schedules, tags, links, embeds, and queries).
//
// # Core Types
//
// Page represents a named document composed of an ordered tree of blocks:
//
//	page := &types.Page{
//	    Name:     "projects/grove",
//	    Title:    "grove",
//	    FilePath: "pages/projects___grove.md",
//	}
//
// Block represents one node of a page's outline:
//
//	block := &types.Block{
//	    ID:        uuid.New().String(),
//	    PageName:  "projects/grove",
//	    Content:   "Review PR",
//	    TaskState: types.TaskTODO,
//	    Priority:  types.PriorityA,
//	}
//
// # Invariants
//
// A block's ParentID, when set, references a block in the same page, and the
// parent's Children list contains the block's ID at its outline position. A
// child's Level is always its parent's Level plus one. Tag, link, and
// reference sets are derived from content by the parser and recomputed on
// every content mutation; they are never edited independently.
//
// # Validation
//
// Entity types implement Validate methods to ensure data integrity before
// persistence:
//
//	if err := block.Validate(); err != nil {
//	    return err
//	}
package types
