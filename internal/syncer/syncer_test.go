package syncer

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grovekit/grove/internal/cache"
	"github.com/grovekit/grove/internal/repository"
	"github.com/grovekit/grove/internal/storage"
)

func newSyncer(t *testing.T) (*Syncer, string, *repository.PageRepository) {
	t.Helper()
	root := t.TempDir()

	store, err := storage.Open(root)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	pages := repository.NewPageRepository(store)
	states := repository.NewSyncStateRepository(store)
	entityCache, err := cache.New(0, 0)
	require.NoError(t, err)

	s := New(root, pages, states, entityCache, Config{})
	return s, root, pages
}

func writeFile(t *testing.T, root, rel, content string) string {
	t.Helper()
	path := filepath.Join(root, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestPageNameForPath(t *testing.T) {
	assert.Equal(t, "Inbox", PageNameForPath("/graph/pages/Inbox.md"))
	assert.Equal(t, "2026_08_30", PageNameForPath("/graph/journals/2026_08_30.md"))
	assert.Equal(t, "bare", PageNameForPath("bare.md"))
	assert.Equal(t, "Project/Alpha", PageNameForPath("/graph/pages/Project___Alpha.md"))
}

func TestChecksum(t *testing.T) {
	a := Checksum([]byte("hello"))
	b := Checksum([]byte("hello"))
	c := Checksum([]byte("world"))
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 64)
}

func TestSyncFile_IndexesPage(t *testing.T) {
	s, root, pages := newSyncer(t)
	ctx := context.Background()

	path := writeFile(t, root, "pages/Inbox.md", "- TODO call the bank #errand")

	synced, err := s.SyncFile(ctx, path)
	require.NoError(t, err)
	assert.True(t, synced)

	page, err := pages.Get(ctx, "Inbox")
	require.NoError(t, err)
	require.Len(t, page.Blocks, 1)
	assert.Equal(t, "call the bank", page.Blocks[0].Content)
	assert.Equal(t, []string{"errand"}, page.Blocks[0].Tags)
}

func TestSyncFile_Idempotent(t *testing.T) {
	s, root, _ := newSyncer(t)
	ctx := context.Background()

	path := writeFile(t, root, "pages/Inbox.md", "- stable content")

	synced, err := s.SyncFile(ctx, path)
	require.NoError(t, err)
	assert.True(t, synced)

	// Unchanged content short-circuits on the checksum.
	synced, err = s.SyncFile(ctx, path)
	require.NoError(t, err)
	assert.False(t, synced)

	// Changed content syncs again.
	require.NoError(t, os.WriteFile(path, []byte("- new content"), 0o644))
	synced, err = s.SyncFile(ctx, path)
	require.NoError(t, err)
	assert.True(t, synced)
}

func TestProcessDelete(t *testing.T) {
	s, root, pages := newSyncer(t)
	ctx := context.Background()

	path := writeFile(t, root, "pages/Gone.md", "- to be removed")
	_, err := s.SyncFile(ctx, path)
	require.NoError(t, err)

	require.NoError(t, os.Remove(path))
	require.NoError(t, s.processChange(ctx, path, OpDelete))

	_, err = pages.Get(ctx, "Gone")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	// Deleting an unindexed path is a no-op.
	require.NoError(t, s.processChange(ctx, filepath.Join(root, "pages/Never.md"), OpDelete))
}

func TestProcessChange_VanishedFileIsDelete(t *testing.T) {
	s, root, pages := newSyncer(t)
	ctx := context.Background()

	path := writeFile(t, root, "pages/Flash.md", "- here and gone")
	_, err := s.SyncFile(ctx, path)
	require.NoError(t, err)

	require.NoError(t, os.Remove(path))
	require.NoError(t, s.processChange(ctx, path, OpModify))

	_, err = pages.Get(ctx, "Flash")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestProcessChange_VanishedUntrackedFileIsSkipped(t *testing.T) {
	s, root, pages := newSyncer(t)
	ctx := context.Background()

	path := writeFile(t, root, "pages/Flash.md", "- stays put")
	_, err := s.SyncFile(ctx, path)
	require.NoError(t, err)

	// An event for a path that was never indexed and no longer exists must
	// not touch the page of the same name.
	stray := filepath.Join(root, "Flash.md")
	require.NoError(t, s.processChange(ctx, stray, OpModify))

	_, err = pages.Get(ctx, "Flash")
	require.NoError(t, err)
}

func TestInitialScan(t *testing.T) {
	s, root, pages := newSyncer(t)
	ctx := context.Background()

	writeFile(t, root, "pages/One.md", "- first")
	writeFile(t, root, "pages/Two.md", "- second")
	writeFile(t, root, "journals/2026_08_30.md", "- journal entry")
	writeFile(t, root, "pages/readme.txt", "not a document")
	writeFile(t, root, ".grove/scratch.md", "never indexed")

	stats, err := s.InitialScan(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Files)
	assert.Equal(t, 3, stats.Synced)
	assert.Equal(t, 0, stats.Failures)

	journal, err := pages.Get(ctx, "2026_08_30")
	require.NoError(t, err)
	assert.True(t, journal.Journal)
	assert.Equal(t, "2026-08-30", journal.JournalDate)

	// A rescan of an unchanged tree skips every file.
	stats, err = s.InitialScan(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Skipped)
	assert.Equal(t, 0, stats.Synced)
}

func TestIgnoreSet_OneShot(t *testing.T) {
	set := NewIgnoreSet(time.Minute)

	set.Register("/g/pages/a.md")
	assert.True(t, set.Consume("/g/pages/a.md"))
	// One registration suppresses exactly one event.
	assert.False(t, set.Consume("/g/pages/a.md"))
	assert.False(t, set.Consume("/g/pages/other.md"))
}

func TestIgnoreSet_Expiry(t *testing.T) {
	set := NewIgnoreSet(time.Second)
	current := time.Now()
	set.now = func() time.Time { return current }

	set.Register("/g/pages/a.md")
	current = current.Add(2 * time.Second)
	assert.False(t, set.Consume("/g/pages/a.md"))

	set.Register("/g/pages/b.md")
	set.Register("/g/pages/c.md")
	current = current.Add(2 * time.Second)
	set.Sweep()
	assert.False(t, set.Consume("/g/pages/b.md"))
	assert.False(t, set.Consume("/g/pages/c.md"))
}

func TestAdmit_LoopSuppression(t *testing.T) {
	s, root, _ := newSyncer(t)
	path := filepath.Join(root, "pages", "own-write.md")

	// A programmatic write registers the path first; the resulting watch
	// event must not reach the pending set.
	s.Ignored().Register(path)
	assert.False(t, s.admit(Event{Path: path, Op: OpModify}))
	s.pendingMu.Lock()
	assert.Empty(t, s.pending)
	s.pendingMu.Unlock()

	// The suppression is one-shot: the next event for the same path, an
	// external edit, goes through.
	assert.True(t, s.admit(Event{Path: path, Op: OpModify}))
	s.pendingMu.Lock()
	change, ok := s.pending[path]
	s.pendingMu.Unlock()
	require.True(t, ok)
	assert.Equal(t, OpModify, change.op)
}

func TestAdmit_LastEventWins(t *testing.T) {
	s, root, _ := newSyncer(t)
	path := filepath.Join(root, "pages", "busy.md")

	assert.True(t, s.admit(Event{Path: path, Op: OpCreate}))
	assert.True(t, s.admit(Event{Path: path, Op: OpModify}))
	assert.True(t, s.admit(Event{Path: path, Op: OpDelete}))

	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()
	require.Len(t, s.pending, 1)
	assert.Equal(t, OpDelete, s.pending[path].op)
}

func TestWatcherEventFiltering(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, storage.IndexDirName), 0o755))

	w, err := NewWatcher(root)
	require.NoError(t, err)
	require.NoError(t, w.Start())
	defer func() { _ = w.Stop() }()

	require.NoError(t, os.WriteFile(filepath.Join(root, "note.md"), []byte("- x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "ignored.txt"), []byte("x"), 0o644))

	// The markdown file surfaces, possibly as a create/write pair; the
	// non-markdown file never does.
	deadline := time.After(2 * time.Second)
	sawNote := false
	for !sawNote {
		select {
		case ev := <-w.Events():
			assert.Equal(t, filepath.Join(root, "note.md"), ev.Path)
			sawNote = true
		case <-deadline:
			t.Fatal("expected a watch event for note.md")
		}
	}

	drain := time.After(300 * time.Millisecond)
	for {
		select {
		case ev := <-w.Events():
			assert.Equal(t, filepath.Join(root, "note.md"), ev.Path)
		case <-drain:
			return
		}
	}
}
