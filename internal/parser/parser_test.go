package parser

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grovekit/grove/pkg/types"
)

func TestNew(t *testing.T) {
	p := New()
	assert.NotNil(t, p)
}

func TestParse_TaskPriorityTag(t *testing.T) {
	p := New()
	res := p.Parse("inbox", "- TODO Review PR [#A] #urgent")

	require.Len(t, res.Blocks, 1)
	b := res.Blocks[0]
	assert.Equal(t, types.TaskTODO, b.TaskState)
	assert.Equal(t, types.PriorityA, b.Priority)
	assert.Equal(t, []string{"urgent"}, b.Tags)
	assert.Equal(t, "Review PR", b.Content)
}

func TestParse_TaskStates(t *testing.T) {
	p := New()
	content := strings.Join([]string{
		"- TODO write docs",
		"- DOING refactor",
		"- DONE ship it",
		"- WAITING on review",
		"- IN-PROGRESS long task",
		"- plain note",
	}, "\n")
	res := p.Parse("tasks", content)

	require.Len(t, res.Blocks, 6)
	assert.Equal(t, types.TaskTODO, res.Blocks[0].TaskState)
	assert.Equal(t, types.TaskDoing, res.Blocks[1].TaskState)
	assert.Equal(t, types.TaskDone, res.Blocks[2].TaskState)
	assert.Equal(t, types.TaskWaiting, res.Blocks[3].TaskState)
	assert.Equal(t, types.TaskInProgress, res.Blocks[4].TaskState)
	assert.Equal(t, types.TaskNone, res.Blocks[5].TaskState)
	assert.Equal(t, "long task", res.Blocks[4].Content)
}

func TestParse_Hierarchy(t *testing.T) {
	p := New()
	content := strings.Join([]string{
		"- root one",
		"  - child a",
		"    - grandchild",
		"  - child b",
		"- root two",
	}, "\n")
	res := p.Parse("tree", content)
	require.Len(t, res.Blocks, 5)

	byContent := make(map[string]*types.Block)
	for _, b := range res.Blocks {
		byContent[b.Content] = b
	}

	rootOne := byContent["root one"]
	childA := byContent["child a"]
	grand := byContent["grandchild"]
	childB := byContent["child b"]
	rootTwo := byContent["root two"]

	assert.Equal(t, 0, rootOne.Level)
	assert.Empty(t, rootOne.ParentID)
	assert.Equal(t, []string{childA.ID, childB.ID}, rootOne.Children)

	assert.Equal(t, rootOne.ID, childA.ParentID)
	assert.Equal(t, rootOne.Level+1, childA.Level)
	assert.Equal(t, childA.ID, grand.ParentID)
	assert.Equal(t, childA.Level+1, grand.Level)
	assert.Equal(t, rootOne.ID, childB.ParentID)

	assert.Equal(t, 0, rootTwo.Level)
	assert.Empty(t, rootTwo.ParentID)
}

func TestParse_HierarchyInvariantHolds(t *testing.T) {
	p := New()
	content := strings.Join([]string{
		"- a",
		"        - over-indented jumps only one level",
		"\t- tab child",
		"- b",
		"  - c",
		"      - another jump",
	}, "\n")
	res := p.Parse("clamp", content)

	byID := make(map[string]*types.Block)
	for _, b := range res.Blocks {
		byID[b.ID] = b
	}
	for _, b := range res.Blocks {
		if b.ParentID == "" {
			assert.Equal(t, 0, b.Level)
			continue
		}
		parent := byID[b.ParentID]
		require.NotNil(t, parent, "parent of %q must exist", b.Content)
		assert.Equal(t, parent.Level+1, b.Level, "block %q", b.Content)
		assert.True(t, parent.HasChild(b.ID))
	}
}

func TestParse_CodeFence(t *testing.T) {
	p := New()
	content := "- ```dart\nvoid main(){}\n```"
	res := p.Parse("code", content)

	require.Len(t, res.Blocks, 1)
	b := res.Blocks[0]
	assert.Equal(t, types.KindCode, b.Kind)
	assert.Equal(t, "dart", b.CodeLanguage)
	assert.Equal(t, "```dart\nvoid main(){}\n```", b.Content)
}

func TestParse_UnterminatedFenceRunsToEOF(t *testing.T) {
	p := New()
	content := "- ```go\nfunc broken() {\n- never a block"
	res := p.Parse("code", content)

	require.Len(t, res.Blocks, 1)
	b := res.Blocks[0]
	assert.Equal(t, types.KindCode, b.Kind)
	assert.Contains(t, b.Content, "never a block")
}

func TestParse_MathBlock(t *testing.T) {
	p := New()
	res := p.Parse("math", "- $$\nE = mc^2\n$$")

	require.Len(t, res.Blocks, 1)
	b := res.Blocks[0]
	assert.Equal(t, types.KindMath, b.Kind)
	assert.Equal(t, "E = mc^2", b.Latex)
}

func TestParse_OrgSections(t *testing.T) {
	p := New()
	content := strings.Join([]string{
		"- #+BEGIN_SRC python",
		"  print('hi')",
		"  #+END_SRC",
		"- #+BEGIN_QUOTE",
		"  wise words",
		"  #+END_QUOTE",
	}, "\n")
	res := p.Parse("org", content)

	require.Len(t, res.Blocks, 2)
	assert.Equal(t, types.KindCode, res.Blocks[0].Kind)
	assert.Equal(t, "python", res.Blocks[0].CodeLanguage)
	assert.Equal(t, types.KindQuote, res.Blocks[1].Kind)
}

func TestParse_AdvancedQuery(t *testing.T) {
	p := New()
	content := "- #+BEGIN_QUERY\n  {:title \"open\"}\n  #+END_QUERY"
	res := p.Parse("queries", content)

	require.Len(t, res.Blocks, 1)
	q := res.Blocks[0].Query
	require.NotNil(t, q)
	assert.Equal(t, types.QueryAdvanced, q.Kind)
	assert.Contains(t, q.Text, ":title")
}

func TestParse_SimpleQuery(t *testing.T) {
	p := New()
	res := p.Parse("queries", `- {{query (todo TODO)}}`)

	require.Len(t, res.Blocks, 1)
	q := res.Blocks[0].Query
	require.NotNil(t, q)
	assert.Equal(t, types.QuerySimple, q.Kind)
	assert.Equal(t, "(todo TODO)", q.Text)
}

func TestParse_LinksRefsEmbeds(t *testing.T) {
	p := New()
	content := "- see [[Project/Alpha]] and ((abcd-1234)) plus {{embed [[Design]]}}"
	res := p.Parse("links", content)

	require.Len(t, res.Blocks, 1)
	b := res.Blocks[0]
	assert.Equal(t, []string{"Project/Alpha", "Design"}, b.Links)
	assert.Equal(t, []string{"abcd-1234"}, b.BlockRefs)
	require.Len(t, b.Embeds, 1)
	assert.Equal(t, types.EmbedPage, b.Embeds[0].Kind)
	assert.Equal(t, "Design", b.Embeds[0].Target)
}

func TestParse_Scheduled(t *testing.T) {
	p := New()
	content := "- TODO water plants\n  SCHEDULED: <2026-09-01 Tue 09:00 .+1w>"
	res := p.Parse("agenda", content)

	// The directive line folds into the task block it annotates.
	require.Len(t, res.Blocks, 1)
	b := res.Blocks[0]
	assert.Equal(t, types.TaskTODO, b.TaskState)
	assert.Contains(t, b.Content, "SCHEDULED:")
	require.NotNil(t, b.Scheduled)
	assert.Equal(t, "2026-09-01", b.Scheduled.Date)
	assert.Equal(t, "09:00", b.Scheduled.Time)
	assert.Equal(t, ".+1w", b.Scheduled.Repeater)
}

func TestParse_DeadlineContinuation(t *testing.T) {
	p := New()
	content := "- TODO file taxes\n  DEADLINE: <2026-04-15>\n- unrelated"
	res := p.Parse("agenda", content)

	require.Len(t, res.Blocks, 2)
	require.NotNil(t, res.Blocks[0].Deadline)
	assert.Equal(t, "2026-04-15", res.Blocks[0].Deadline.Date)
	assert.Nil(t, res.Blocks[1].Deadline)
}

func TestParse_BlockProperties(t *testing.T) {
	p := New()
	content := "- design notes\n  status:: draft\n  owner:: ren"
	res := p.Parse("props", content)

	require.Len(t, res.Blocks, 1)
	b := res.Blocks[0]
	assert.Equal(t, "draft", b.Properties["status"])
	assert.Equal(t, "ren", b.Properties["owner"])
}

func TestParse_Heading(t *testing.T) {
	p := New()
	res := p.Parse("doc", "- ## Weekly Review")

	require.Len(t, res.Blocks, 1)
	assert.Equal(t, types.KindHeading, res.Blocks[0].Kind)
	assert.Equal(t, 2, res.Blocks[0].HeadingLevel)
}

func TestParse_NumberedAndDrawer(t *testing.T) {
	p := New()
	content := strings.Join([]string{
		"1. first step",
		"2) second step",
		"- :LOGBOOK:",
		"  CLOCK: [2026-08-29]",
		"  :END:",
	}, "\n")
	res := p.Parse("misc", content)

	require.Len(t, res.Blocks, 3)
	assert.Equal(t, types.KindNumbered, res.Blocks[0].Kind)
	assert.Equal(t, types.KindNumbered, res.Blocks[1].Kind)
	assert.Equal(t, types.KindDrawer, res.Blocks[2].Kind)
}

func TestBuildPage_Properties(t *testing.T) {
	p := New()
	content := strings.Join([]string{
		"title:: My Project",
		"tags:: active, work",
		"alias:: [[proj]]",
		"",
		"- links to [[Other Page]]",
	}, "\n")
	page := p.BuildPage("Project/Alpha", "pages/Project___Alpha.md", content)

	assert.Equal(t, "Project/Alpha", page.Name)
	assert.Equal(t, "My Project", page.Title)
	assert.Equal(t, "Project", page.Namespace)
	assert.Equal(t, []string{"active", "work"}, page.Tags)
	assert.Equal(t, []string{"proj"}, page.Aliases)
	assert.Equal(t, []string{"Other Page"}, page.Links)
	assert.False(t, page.Journal)
	require.NoError(t, page.Validate())
}

func TestBuildPage_Journal(t *testing.T) {
	p := New()
	page := p.BuildPage("2026_08_30", "journals/2026_08_30.md", "- slept in")

	assert.True(t, page.Journal)
	assert.Equal(t, "2026-08-30", page.JournalDate)
}

func TestBuildPage_NonDateJournalName(t *testing.T) {
	p := New()
	page := p.BuildPage("scratch", "journals/scratch.md", "- note")

	assert.True(t, page.Journal)
	assert.Empty(t, page.JournalDate)
}

func TestRender_RoundTrip(t *testing.T) {
	p := New()
	content := strings.Join([]string{
		"title:: Round Trip",
		"",
		"- TODO Review PR [#A] #urgent",
		"  - nested note with [[Link]]",
		"    status:: open",
		"- ```dart",
		"  void main(){}",
		"  ```",
		"- plain closing thought",
	}, "\n")

	first := p.BuildPage("rt", "pages/rt.md", content)
	rendered := Render(first)
	second := p.BuildPage("rt", "pages/rt.md", rendered)

	require.Len(t, second.Blocks, len(first.Blocks))
	for i, want := range first.Blocks {
		got := second.Blocks[i]
		assert.Equal(t, want.Content, got.Content, "block %d content", i)
		assert.Equal(t, want.TaskState, got.TaskState, "block %d task", i)
		assert.Equal(t, want.Priority, got.Priority, "block %d priority", i)
		assert.Equal(t, want.Level, got.Level, "block %d level", i)
		assert.Equal(t, want.Kind, got.Kind, "block %d kind", i)
		assert.Equal(t, want.Tags, got.Tags, "block %d tags", i)
		assert.Equal(t, want.Links, got.Links, "block %d links", i)
		assert.Equal(t, len(want.Children), len(got.Children), "block %d children", i)
	}
	assert.Equal(t, first.Properties, second.Properties)

	// A second render is a fixed point.
	assert.Equal(t, rendered, Render(second))
}

func TestParse_EmptyAndBareMarkers(t *testing.T) {
	p := New()
	res := p.Parse("empty", "\n-\n   \n- real content\n-")

	require.Len(t, res.Blocks, 1)
	assert.Equal(t, "real content", res.Blocks[0].Content)
}

func TestParse_TagBoundaries(t *testing.T) {
	p := New()
	res := p.Parse("tags", "- see:#urgent and a,#b")

	require.Len(t, res.Blocks, 1)
	b := res.Blocks[0]
	assert.Equal(t, []string{"urgent", "b"}, b.Tags)
	assert.Equal(t, "see: and a,", b.Content)
}

func TestParse_InlineLatex(t *testing.T) {
	p := New()
	res := p.Parse("math", `- rest energy is \(E = mc^2\)`)

	require.Len(t, res.Blocks, 1)
	b := res.Blocks[0]
	assert.Equal(t, types.KindBullet, b.Kind)
	assert.Equal(t, "E = mc^2", b.Latex)
}

func TestParse_BlockEmbed(t *testing.T) {
	p := New()
	res := p.Parse("embeds", "- {{embed ((abcd-1234))}}")

	require.Len(t, res.Blocks, 1)
	b := res.Blocks[0]
	require.Len(t, b.Embeds, 1)
	assert.Equal(t, types.EmbedBlock, b.Embeds[0].Kind)
	assert.Equal(t, "abcd-1234", b.Embeds[0].Target)
}

func TestExtractInto_CodeFence(t *testing.T) {
	p := New()
	b := &types.Block{ID: "b1", PageName: "snippets", Kind: types.KindBullet, Content: "```go\nfunc main() {}\n```"}
	p.ExtractInto(b)

	assert.Equal(t, types.KindCode, b.Kind)
	assert.Equal(t, "go", b.CodeLanguage)

	// Rendering and reparsing yields the same kind and content, so the index
	// never disagrees with the file it wrote.
	page := &types.Page{Name: "snippets", FilePath: "pages/snippets.md", Blocks: []*types.Block{b}}
	again := p.BuildPage("snippets", "pages/snippets.md", Render(page))
	require.Len(t, again.Blocks, 1)
	assert.Equal(t, b.Kind, again.Blocks[0].Kind)
	assert.Equal(t, b.Content, again.Blocks[0].Content)
}

func TestExtractInto_MathBlock(t *testing.T) {
	p := New()
	b := &types.Block{ID: "m1", PageName: "math", Kind: types.KindBullet, Content: "$$\nE = mc^2\n$$"}
	p.ExtractInto(b)

	assert.Equal(t, types.KindMath, b.Kind)
	assert.Equal(t, "E = mc^2", b.Latex)
}

func TestExtractInto_NormalizesContinuations(t *testing.T) {
	p := New()
	b := &types.Block{ID: "n1", PageName: "notes", Kind: types.KindBullet, Content: "TODO call dentist\nabout the invoice\nstatus:: open\nSCHEDULED: <2026-09-02>"}
	p.ExtractInto(b)

	assert.Equal(t, "call dentist about the invoice\nSCHEDULED: <2026-09-02>", b.Content)
	assert.Equal(t, types.TaskTODO, b.TaskState)
	assert.Equal(t, "open", b.Properties["status"])
	require.NotNil(t, b.Scheduled)
	assert.Equal(t, "2026-09-02", b.Scheduled.Date)
}
