// Package parser turns raw document text into a typed block tree.
//
// The parser makes a single linear pass over the document with a mutable
// ancestor stack (one entry per currently open indentation level). Each line
// becomes at most one block; multi-line constructs (fenced code, math blocks,
// org-style begin/end sections, drawers) are folded greedily into a single
// block whose level is the opening line's level.
//
// # Basic Usage
//
//	p := parser.New()
//	result := p.Parse("projects/grove", content)
//
//	for _, block := range result.Blocks {
//	    fmt.Printf("%s %q (level %d)\n", block.Kind, block.Content, block.Level)
//	}
//
// # Hierarchy Resolution
//
// A level-0 block resets the ancestor stack to just itself. A block at level
// L pops the stack down to length L and attaches itself as a child of the new
// top of stack. Indentation is counted in leading tabs, or leading spaces
// divided by two when no tabs are present; the two are never mixed on a
// single line. A line can never nest deeper than the current stack depth.
//
// # Extraction Passes
//
// Per block, extraction passes run in a fixed order: task state and priority
// are stripped from content first, then tags, then page links, block
// references, embeds, queries, and LaTeX spans are collected. SCHEDULED: and
// DEADLINE: directive lines stay in content. Order matters: a tag adjacent
// to a priority marker survives because the marker is gone before the tag
// scan runs.
//
// # Error Handling
//
// The parser never fails: malformed directives are skipped, and an
// unterminated fence or math block consumes to end of document. Lines that
// are only a list marker produce no block.
package parser
