package parser

import (
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/grovekit/grove/pkg/types"
)

// indentStride is the number of leading spaces equal to one outline level.
const indentStride = 2

// Parser builds typed block trees from raw document text.
type Parser struct{}

// New creates a new Parser instance.
func New() *Parser {
	return &Parser{}
}

// Result holds the outcome of parsing one document.
type Result struct {
	// PageProperties are key:: value declarations before the first block.
	PageProperties map[string]string
	// Blocks in document order, with parent/child links fully resolved.
	Blocks []*types.Block
}

var (
	orderedMarkerRe = regexp.MustCompile(`^\d+[.)]\s+`)
	propertyLineRe  = regexp.MustCompile(`^([A-Za-z][A-Za-z0-9_-]*)::\s*(.*)$`)
	drawerOpenRe    = regexp.MustCompile(`^:[A-Za-z][A-Za-z0-9_-]*:$`)
	beginRe         = regexp.MustCompile(`(?i)^#\+BEGIN_([A-Za-z]+)(?:\s+(\S+))?`)
)

// Parse turns raw multi-line document text into an ordered list of blocks
// owned by pageName, with hierarchy resolved in a single linear pass.
func (p *Parser) Parse(pageName, content string) *Result {
	res := &Result{PageProperties: make(map[string]string)}
	lines := strings.Split(content, "\n")

	var stack []*types.Block // ancestor stack, one entry per open level
	inPreamble := true

	for i := 0; i < len(lines); i++ {
		line := lines[i]
		if strings.TrimSpace(line) == "" {
			continue
		}

		level, body := indentLevel(line)
		stripped, numbered := stripMarker(body)

		// Page-level properties are only valid before the first list item.
		if inPreamble && !numbered && stripped == body {
			if m := propertyLineRe.FindStringSubmatch(strings.TrimSpace(body)); m != nil {
				res.PageProperties[strings.ToLower(m[1])] = strings.TrimSpace(m[2])
				continue
			}
		}

		block := &types.Block{
			ID:         uuid.New().String(),
			PageName:   pageName,
			Kind:       types.KindBullet,
			Properties: make(map[string]string),
		}
		if numbered {
			block.Kind = types.KindNumbered
		}

		switch {
		case strings.HasPrefix(stripped, "```"):
			block.Kind = types.KindCode
			block.Content, i = foldFence(lines, i, stripped, "```")

		case strings.HasPrefix(stripped, "$$"):
			block.Kind = types.KindMath
			block.Content, i = foldMath(lines, i, stripped)

		case beginRe.MatchString(stripped):
			m := beginRe.FindStringSubmatch(stripped)
			block.Kind = orgKind(m[1])
			end := "#+end_" + strings.ToLower(m[1])
			block.Content, i = foldFence(lines, i, stripped, end)
			if block.Kind == types.KindCode && m[2] != "" {
				block.CodeLanguage = m[2]
			}

		case drawerOpenRe.MatchString(stripped):
			block.Kind = types.KindDrawer
			block.Content, i = foldFence(lines, i, stripped, ":end:")

		default:
			// Continuation lines attach to the preceding block: properties
			// move into its map, schedule directives fold into its content.
			if stripped == body && len(res.Blocks) > 0 {
				trimmed := strings.TrimSpace(stripped)
				if m := propertyLineRe.FindStringSubmatch(trimmed); m != nil {
					prev := res.Blocks[len(res.Blocks)-1]
					prev.Properties[strings.ToLower(m[1])] = strings.TrimSpace(m[2])
					continue
				}
				if directiveRe.MatchString(trimmed) {
					prev := res.Blocks[len(res.Blocks)-1]
					prev.Content += "\n" + trimmed
					extractSchedules(prev)
					continue
				}
			}
			block.Content = stripped
		}

		// A marker-only line yields no block.
		if strings.TrimSpace(block.Content) == "" {
			continue
		}
		inPreamble = false

		extract(block)

		// Hierarchy: pop the stack down to the line's level, attach to the
		// new top of stack, then push. A block can never nest deeper than
		// the current stack depth.
		if level > len(stack) {
			level = len(stack)
		}
		stack = stack[:level]
		if len(stack) > 0 {
			parent := stack[len(stack)-1]
			block.ParentID = parent.ID
			block.Level = parent.Level + 1
			parent.Children = append(parent.Children, block.ID)
		} else {
			block.Level = 0
		}
		stack = append(stack, block)

		res.Blocks = append(res.Blocks, block)
	}

	return res
}

// BuildPage parses content and assembles a complete Page entity for the
// document at filePath.
func (p *Parser) BuildPage(name, filePath, content string) *types.Page {
	res := p.Parse(name, content)
	now := time.Now()

	page := &types.Page{
		Name:       name,
		Title:      name,
		FilePath:   filePath,
		Namespace:  types.NamespaceOf(name),
		Properties: res.PageProperties,
		Blocks:     res.Blocks,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	if title, ok := res.PageProperties["title"]; ok && title != "" {
		page.Title = title
	}
	if filepath.Base(filepath.Dir(filePath)) == "journals" {
		page.Journal = true
		page.JournalDate = journalDate(name)
	}
	if aliases, ok := res.PageProperties["alias"]; ok {
		page.Aliases = splitList(aliases)
	}
	if aliases, ok := res.PageProperties["aliases"]; ok {
		page.Aliases = append(page.Aliases, splitList(aliases)...)
	}
	if tags, ok := res.PageProperties["tags"]; ok {
		page.Tags = splitList(tags)
	}
	if _, ok := res.PageProperties["template"]; ok {
		page.Template = true
	}
	if res.PageProperties["whiteboard"] == "true" {
		page.Whiteboard = true
	}

	// Outgoing links aggregate the link sets of all owned blocks.
	seen := make(map[string]bool)
	for _, b := range res.Blocks {
		for _, l := range b.Links {
			if !seen[l] {
				seen[l] = true
				page.Links = append(page.Links, l)
			}
		}
	}
	return page
}

// indentLevel computes the outline level of a line: leading tab count, or
// leading space count divided by the stride when no tabs are present. Tabs
// and spaces are never combined for a single line.
func indentLevel(line string) (int, string) {
	tabs := 0
	for tabs < len(line) && line[tabs] == '\t' {
		tabs++
	}
	if tabs > 0 {
		return tabs, line[tabs:]
	}
	spaces := 0
	for spaces < len(line) && line[spaces] == ' ' {
		spaces++
	}
	return spaces / indentStride, line[spaces:]
}

// stripMarker removes a list-marker prefix from single-line content and
// reports whether the marker was an ordered-list number.
func stripMarker(body string) (string, bool) {
	if m := orderedMarkerRe.FindString(body); m != "" {
		return body[len(m):], true
	}
	for _, marker := range []string{"- ", "* ", "+ "} {
		if strings.HasPrefix(body, marker) {
			return body[len(marker):], false
		}
	}
	// A bare marker with nothing after it strips to empty content.
	if body == "-" || body == "*" || body == "+" {
		return "", false
	}
	return body, false
}

// foldFence consumes lines from the opening line at index start to the line
// whose trimmed text begins with close (case-insensitive), or to end of
// document if unterminated. It returns the folded content and the index of
// the last consumed line.
func foldFence(lines []string, start int, opening, close string) (string, int) {
	// Continuation lines written by the renderer carry the opening line's
	// indentation plus one stride; strip that prefix when present.
	prefix := lines[start][:len(lines[start])-len(strings.TrimLeft(lines[start], " \t"))]
	if strings.HasPrefix(prefix, "\t") {
		prefix += "\t"
	} else {
		prefix += strings.Repeat(" ", indentStride)
	}

	parts := []string{opening}
	i := start + 1
	for ; i < len(lines); i++ {
		trimmed := strings.TrimSpace(lines[i])
		parts = append(parts, strings.TrimPrefix(lines[i], prefix))
		if strings.HasPrefix(strings.ToLower(trimmed), close) {
			return strings.Join(parts, "\n"), i
		}
	}
	// Unterminated: consume to end of document.
	return strings.Join(parts, "\n"), i - 1
}

// foldMath consumes a $$-delimited math block. A line that both opens and
// closes the delimiter stays a single line.
func foldMath(lines []string, start int, opening string) (string, int) {
	rest := opening[len("$$"):]
	if strings.Contains(rest, "$$") {
		return opening, start
	}
	parts := []string{opening}
	i := start + 1
	for ; i < len(lines); i++ {
		parts = append(parts, strings.TrimLeft(lines[i], " \t"))
		if strings.Contains(lines[i], "$$") {
			return strings.Join(parts, "\n"), i
		}
	}
	return strings.Join(parts, "\n"), i - 1
}

// orgKind maps an org-style begin/end section name to a block kind.
func orgKind(name string) types.BlockKind {
	switch strings.ToUpper(name) {
	case "SRC":
		return types.KindCode
	case "QUOTE":
		return types.KindQuote
	case "EXAMPLE":
		return types.KindExample
	case "EXPORT":
		return types.KindExport
	case "VERSE":
		return types.KindVerse
	case "QUERY":
		return types.KindBullet // kind stays bullet; the query pass attaches it
	default:
		return types.KindBullet
	}
}

// journalDate derives an ISO date from a journal page name like 2026_08_30
// or 2026-08-30. Returns "" when the name is not a date.
func journalDate(name string) string {
	base := name
	if idx := strings.LastIndex(name, "/"); idx >= 0 {
		base = name[idx+1:]
	}
	normalized := strings.ReplaceAll(base, "_", "-")
	if _, err := time.Parse("2006-01-02", normalized); err != nil {
		return ""
	}
	return normalized
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		part = strings.TrimPrefix(part, "[[")
		part = strings.TrimSuffix(part, "]]")
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
