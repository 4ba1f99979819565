package parser

import (
	"sort"
	"strings"

	"github.com/grovekit/grove/pkg/types"
)

// Render writes a page back to canonical document text: page properties
// first, then the block tree with two-space indents and "- " markers. Task
// and priority tokens are reconstructed from the extracted fields, so the
// output is textually equivalent to the source but not guaranteed to be
// byte-identical; Parse(Render(page)) reproduces the same tree.
func Render(page *types.Page) string {
	var sb strings.Builder

	keys := make([]string, 0, len(page.Properties))
	for k := range page.Properties {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		sb.WriteString(k)
		sb.WriteString(":: ")
		sb.WriteString(page.Properties[k])
		sb.WriteByte('\n')
	}
	if len(keys) > 0 && len(page.Blocks) > 0 {
		sb.WriteByte('\n')
	}

	byID := make(map[string]*types.Block, len(page.Blocks))
	for _, b := range page.Blocks {
		byID[b.ID] = b
	}
	for _, root := range page.Roots() {
		renderBlock(&sb, root, byID)
	}
	return sb.String()
}

func renderBlock(sb *strings.Builder, b *types.Block, byID map[string]*types.Block) {
	indent := strings.Repeat(" ", b.Level*indentStride)

	lines := strings.Split(b.Content, "\n")
	first := lines[0]

	sb.WriteString(indent)
	sb.WriteString("- ")
	if b.TaskState != types.TaskNone {
		sb.WriteString(string(b.TaskState))
		sb.WriteByte(' ')
	}
	if b.Priority != types.PriorityNone {
		sb.WriteString("[#")
		sb.WriteString(string(b.Priority))
		sb.WriteString("] ")
	}
	sb.WriteString(first)
	if len(lines) == 1 {
		for _, tag := range b.Tags {
			sb.WriteString(" #")
			sb.WriteString(tag)
		}
	}
	sb.WriteByte('\n')

	for _, line := range lines[1:] {
		sb.WriteString(indent)
		sb.WriteString(strings.Repeat(" ", indentStride))
		sb.WriteString(line)
		sb.WriteByte('\n')
	}

	propKeys := make([]string, 0, len(b.Properties))
	for k := range b.Properties {
		propKeys = append(propKeys, k)
	}
	sort.Strings(propKeys)
	for _, k := range propKeys {
		sb.WriteString(indent)
		sb.WriteString(strings.Repeat(" ", indentStride))
		sb.WriteString(k)
		sb.WriteString(":: ")
		sb.WriteString(b.Properties[k])
		sb.WriteByte('\n')
	}

	for _, childID := range b.Children {
		if child, ok := byID[childID]; ok {
			renderBlock(sb, child, byID)
		}
	}
}
