package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTaskState(t *testing.T) {
	assert.Equal(t, TaskTODO, ParseTaskState("TODO"))
	assert.Equal(t, TaskInProgress, ParseTaskState("IN-PROGRESS"))
	assert.Equal(t, TaskNone, ParseTaskState(""))
	assert.Equal(t, TaskNone, ParseTaskState("todo"))
	assert.Equal(t, TaskNone, ParseTaskState("SOMEDAY"))
}

func TestNamespaceOf(t *testing.T) {
	assert.Equal(t, "", NamespaceOf("Inbox"))
	assert.Equal(t, "Project", NamespaceOf("Project/Alpha"))
	assert.Equal(t, "Project/Alpha", NamespaceOf("Project/Alpha/Notes"))
}

func TestBlockValidate(t *testing.T) {
	b := &Block{ID: "b1", PageName: "p", Kind: KindBullet}
	assert.NoError(t, b.Validate())

	assert.Error(t, (&Block{PageName: "p", Kind: KindBullet}).Validate())
	assert.Error(t, (&Block{ID: "b1", Kind: KindBullet}).Validate())
	assert.Error(t, (&Block{ID: "b1", PageName: "p", Kind: "sidebar"}).Validate())
	assert.Error(t, (&Block{ID: "b1", PageName: "p", Kind: KindBullet, ParentID: "b1"}).Validate())
	assert.Error(t, (&Block{ID: "b1", PageName: "p", Kind: KindHeading, HeadingLevel: 7}).Validate())
	assert.Error(t, (&Block{ID: "b1", PageName: "p", Kind: KindBullet, Priority: "D"}).Validate())
	assert.Error(t, (&Block{ID: "b1", PageName: "p", Kind: KindBullet, TaskState: "MAYBE"}).Validate())
}

func TestPageRootsAndLookup(t *testing.T) {
	root := &Block{ID: "r", PageName: "p", Kind: KindBullet, Children: []string{"c"}}
	child := &Block{ID: "c", PageName: "p", Kind: KindBullet, ParentID: "r", Level: 1}
	page := &Page{Name: "p", Blocks: []*Block{root, child}}

	roots := page.Roots()
	require.Len(t, roots, 1)
	assert.Equal(t, "r", roots[0].ID)

	assert.Equal(t, child, page.BlockByID("c"))
	assert.Nil(t, page.BlockByID("missing"))
}

func TestPageValidate(t *testing.T) {
	root := &Block{ID: "r", PageName: "p", Kind: KindBullet, Children: []string{"c"}}
	child := &Block{ID: "c", PageName: "p", Kind: KindBullet, ParentID: "r", Level: 1}
	page := &Page{Name: "p", Blocks: []*Block{root, child}}
	assert.NoError(t, page.Validate())

	// Broken symmetry: parent does not list the child.
	root.Children = nil
	assert.Error(t, page.Validate())
	root.Children = []string{"c"}

	// Broken level arithmetic.
	child.Level = 3
	assert.Error(t, page.Validate())
	child.Level = 1

	assert.Error(t, (&Page{}).Validate())
}
