package parser

import (
	"regexp"
	"strings"

	"github.com/grovekit/grove/pkg/types"
)

var (
	taskStateRe = regexp.MustCompile(`^(IN-PROGRESS|CANCELLED|DELEGATED|WAITING|LATER|DOING|DONE|TODO|NOW)(?:\s+|$)`)
	priorityRe  = regexp.MustCompile(`\[#([ABC])\]\s*`)
	scheduledRe = regexp.MustCompile(`SCHEDULED:\s*<(\d{4}-\d{2}-\d{2})(?:\s+[A-Za-z]{2,3})?(?:\s+(\d{1,2}:\d{2}))?(?:\s+([.+]*[+-]?\d+[dwmy]))?>`)
	deadlineRe  = regexp.MustCompile(`DEADLINE:\s*<(\d{4}-\d{2}-\d{2})(?:\s+[A-Za-z]{2,3})?(?:\s+(\d{1,2}:\d{2}))?(?:\s+([.+]*[+-]?\d+[dwmy]))?>`)
	directiveRe = regexp.MustCompile(`^(?:SCHEDULED|DEADLINE):\s*<`)
	tagRe       = regexp.MustCompile(`(^|[\s(),.;:!?'"\[\]{}-])#([A-Za-z0-9_][A-Za-z0-9_/-]*)`)
	pageLinkRe  = regexp.MustCompile(`\[\[([^\[\]]+)\]\]`)
	blockRefRe  = regexp.MustCompile(`\(\(([0-9a-zA-Z-]{4,})\)\)`)
	embedRe     = regexp.MustCompile(`\{\{embed\s+(?:\(\(([^()]+)\)\)|\[\[([^\[\]]+)\]\])\s*\}\}`)
	queryRe     = regexp.MustCompile(`\{\{query\s+(.+?)\}\}`)
	beginQryRe  = regexp.MustCompile(`(?is)#\+BEGIN_QUERY\s*\n(.*?)\n\s*#\+END_QUERY`)
	latexDispRe = regexp.MustCompile(`(?s)\$\$(.+?)\$\$`)
	latexInlRe  = regexp.MustCompile(`(?s)\\\((.+?)\\\)`)
	headingRe   = regexp.MustCompile(`^(#{1,6})\s+\S`)
	fenceLangRe = regexp.MustCompile("^```([A-Za-z0-9+#_-]+)")
)

// ExtractInto runs the extraction passes over a block whose content was set
// directly rather than parsed from a document, deriving task state, tags,
// links, and the rest of the block metadata in place. Content is first put
// into the shape parsing the rendered page would produce, so a block written
// through the API and a block read back from disk carry the same kind and
// content.
func (p *Parser) ExtractInto(b *types.Block) {
	firstLine := b.Content
	if idx := strings.IndexByte(firstLine, '\n'); idx >= 0 {
		firstLine = firstLine[:idx]
	}
	switch {
	case strings.HasPrefix(firstLine, "```"):
		b.Kind = types.KindCode
	case strings.HasPrefix(firstLine, "$$"):
		b.Kind = types.KindMath
	case beginRe.MatchString(firstLine):
		m := beginRe.FindStringSubmatch(firstLine)
		b.Kind = orgKind(m[1])
		if b.Kind == types.KindCode && m[2] != "" {
			b.CodeLanguage = m[2]
		}
	case drawerOpenRe.MatchString(firstLine):
		b.Kind = types.KindDrawer
	default:
		normalizeContent(b)
	}
	extract(b)
}

// normalizeContent rewrites multi-line plain content the way the parser folds
// continuation lines: property lines move into the property map, schedule
// directives keep their own line, and anything else joins the line before it.
func normalizeContent(b *types.Block) {
	if !strings.Contains(b.Content, "\n") {
		return
	}
	lines := strings.Split(b.Content, "\n")
	out := lines[:1]
	for _, line := range lines[1:] {
		t := strings.TrimSpace(line)
		switch {
		case t == "":
		case propertyLineRe.MatchString(t):
			m := propertyLineRe.FindStringSubmatch(t)
			if b.Properties == nil {
				b.Properties = make(map[string]string)
			}
			b.Properties[strings.ToLower(m[1])] = strings.TrimSpace(m[2])
		case directiveRe.MatchString(t):
			out = append(out, t)
		default:
			out[len(out)-1] = strings.TrimSpace(out[len(out)-1] + " " + t)
		}
	}
	b.Content = strings.Join(out, "\n")
}

// extract runs the extraction passes over a block's content. Order matters:
// task state and priority mutate content by stripping their tokens before the
// tag and link scans run.
func extract(b *types.Block) {
	switch b.Kind {
	case types.KindCode:
		extractCodeLanguage(b)
		return
	case types.KindMath:
		extractLatex(b)
		return
	case types.KindExample, types.KindExport, types.KindVerse, types.KindDrawer:
		return
	}

	// Advanced query sections fold to a bullet whose content is the whole
	// begin/end span.
	if m := beginQryRe.FindStringSubmatch(b.Content); m != nil {
		b.Query = &types.BlockQuery{Text: strings.TrimSpace(m[1]), Kind: types.QueryAdvanced}
	}

	extractTaskState(b)
	extractPriority(b)
	extractSchedules(b)
	extractTags(b)
	extractLinks(b)
	extractBlockRefs(b)
	extractEmbeds(b)
	extractQuery(b)
	extractLatex(b)
	extractHeading(b)
}

// extractTaskState strips a leading task keyword from content.
func extractTaskState(b *types.Block) {
	m := taskStateRe.FindStringSubmatch(b.Content)
	if m == nil {
		return
	}
	b.TaskState = types.TaskState(m[1])
	b.Content = strings.TrimSpace(b.Content[len(m[0]):])
}

// extractPriority strips the first [#A|B|C] token from content.
func extractPriority(b *types.Block) {
	m := priorityRe.FindStringSubmatch(b.Content)
	if m == nil {
		return
	}
	b.Priority = types.Priority(m[1])
	b.Content = collapseSpaces(priorityRe.ReplaceAllString(b.Content, ""))
}

// extractSchedules records SCHEDULED: and DEADLINE: directives. The directive
// lines stay in content.
func extractSchedules(b *types.Block) {
	if m := scheduledRe.FindStringSubmatch(b.Content); m != nil {
		b.Scheduled = &types.Schedule{Date: m[1], Time: m[2], Repeater: m[3]}
	}
	if m := deadlineRe.FindStringSubmatch(b.Content); m != nil {
		b.Deadline = &types.Schedule{Date: m[1], Time: m[2], Repeater: m[3]}
	}
}

// extractTags collects #word tokens bounded by whitespace or punctuation and
// strips them from content.
func extractTags(b *types.Block) {
	matches := tagRe.FindAllStringSubmatch(b.Content, -1)
	if matches == nil {
		return
	}
	for _, m := range matches {
		b.Tags = appendUnique(b.Tags, m[2])
	}
	b.Content = collapseSpaces(tagRe.ReplaceAllString(b.Content, "$1"))
}

func extractLinks(b *types.Block) {
	for _, m := range pageLinkRe.FindAllStringSubmatch(b.Content, -1) {
		b.Links = appendUnique(b.Links, m[1])
	}
}

func extractBlockRefs(b *types.Block) {
	for _, m := range blockRefRe.FindAllStringSubmatch(b.Content, -1) {
		b.BlockRefs = appendUnique(b.BlockRefs, m[1])
	}
}

func extractEmbeds(b *types.Block) {
	for _, m := range embedRe.FindAllStringSubmatch(b.Content, -1) {
		if m[1] != "" {
			b.Embeds = append(b.Embeds, types.Embed{Kind: types.EmbedBlock, Target: m[1]})
		} else {
			b.Embeds = append(b.Embeds, types.Embed{Kind: types.EmbedPage, Target: m[2]})
		}
	}
}

// extractQuery attaches a simple {{query "..."}} unless an advanced query was
// already found; first match wins.
func extractQuery(b *types.Block) {
	if b.Query != nil {
		return
	}
	if m := queryRe.FindStringSubmatch(b.Content); m != nil {
		b.Query = &types.BlockQuery{Text: strings.Trim(m[1], `"`), Kind: types.QuerySimple}
	}
}

// extractLatex records the first $$...$$ or \(...\) span.
func extractLatex(b *types.Block) {
	if m := latexDispRe.FindStringSubmatch(b.Content); m != nil {
		b.Latex = strings.TrimSpace(m[1])
		return
	}
	if m := latexInlRe.FindStringSubmatch(b.Content); m != nil {
		b.Latex = strings.TrimSpace(m[1])
	}
}

// extractCodeLanguage records the language tag of a fenced or org src block.
func extractCodeLanguage(b *types.Block) {
	if b.CodeLanguage != "" {
		return
	}
	firstLine := b.Content
	if idx := strings.IndexByte(firstLine, '\n'); idx >= 0 {
		firstLine = firstLine[:idx]
	}
	if m := fenceLangRe.FindStringSubmatch(firstLine); m != nil {
		b.CodeLanguage = m[1]
	}
}

// extractHeading sets heading kind and level for a leading #-run of length
// one to six followed by content.
func extractHeading(b *types.Block) {
	m := headingRe.FindStringSubmatch(b.Content)
	if m == nil {
		return
	}
	b.Kind = types.KindHeading
	b.HeadingLevel = len(m[1])
}

func collapseSpaces(s string) string {
	for strings.Contains(s, "  ") {
		s = strings.ReplaceAll(s, "  ", " ")
	}
	return strings.TrimSpace(s)
}

func appendUnique(list []string, v string) []string {
	for _, existing := range list {
		if existing == v {
			return list
		}
	}
	return append(list, v)
}
