package index

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/amanmcp/internal/store"
)

func TestIngestIncremental_NoPriorState_FallsBackToFull(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "main.go"), []byte("package main\n"), 0o644))

	source := &fakeSource{workdir: dir, head: "sha1"}
	parser := newFakeParser(".go")
	lexical := &fakeLexical{}
	vector := newFakeVector()
	embedder := newFakeEmbedder()
	state := newFakeStateStore()

	p := newTestPipeline(t, source, parser, lexical, vector, embedder, state)

	require.NoError(t, p.IngestIncremental(context.Background(), "local/example"))
	require.Len(t, lexical.added, 1)
}

func TestIngestIncremental_UpToDate_NoOp(t *testing.T) {
	dir := t.TempDir()
	source := &fakeSource{workdir: dir, head: "sha1"}
	parser := newFakeParser(".go")
	lexical := &fakeLexical{}
	vector := newFakeVector()
	embedder := newFakeEmbedder()
	state := newFakeStateStore()
	state.states["local/example"] = &store.RepositoryIndexState{RepositoryURL: "local/example", LastIndexedCommit: "sha1"}

	p := newTestPipeline(t, source, parser, lexical, vector, embedder, state)

	require.NoError(t, p.IngestIncremental(context.Background(), "local/example"))
	require.Empty(t, lexical.added)
}

func TestIngestIncremental_AppliesChangesInOrder(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "added.go"), []byte("package main\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "modified.go"), []byte("package main\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "new_name.go"), []byte("package main\n"), 0o644))

	source := &fakeSource{
		workdir: dir,
		head:    "sha2",
		changes: []*store.FileChange{
			{Kind: store.FileAdded, Path: "added.go"},
			{Kind: store.FileModified, Path: "modified.go"},
			{Kind: store.FileRenamed, OldPath: "old_name.go", NewPath: "new_name.go"},
			{Kind: store.FileDeleted, Path: "removed.go"},
		},
	}
	parser := newFakeParser(".go")
	lexical := &fakeLexical{}
	vector := newFakeVector()
	embedder := newFakeEmbedder()
	state := newFakeStateStore()
	state.states["local/example"] = &store.RepositoryIndexState{RepositoryURL: "local/example", LastIndexedCommit: "sha1"}

	p := newTestPipeline(t, source, parser, lexical, vector, embedder, state)

	require.NoError(t, p.IngestIncremental(context.Background(), "local/example"))

	require.Equal(t, []string{"removed.go", "old_name.go", "modified.go"}, lexical.removedFiles)
	require.Len(t, lexical.added, 3) // new_name.go, modified.go, added.go re-added

	got, found, err := state.Get(context.Background(), "local/example")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "sha2", got.LastIndexedCommit)
}

func TestIngestIncremental_AllChangesFail_DoesNotCommit(t *testing.T) {
	dir := t.TempDir() // no files present on disk

	source := &fakeSource{
		workdir: dir,
		head:    "sha2",
		changes: []*store.FileChange{
			{Kind: store.FileAdded, Path: "missing.go"},
		},
	}
	parser := newFakeParser(".go")
	lexical := &fakeLexical{}
	vector := newFakeVector()
	embedder := newFakeEmbedder()
	state := newFakeStateStore()
	state.states["local/example"] = &store.RepositoryIndexState{RepositoryURL: "local/example", LastIndexedCommit: "sha1"}

	p := newTestPipeline(t, source, parser, lexical, vector, embedder, state)

	err := p.IngestIncremental(context.Background(), "local/example")
	require.Error(t, err)

	got, _, _ := state.Get(context.Background(), "local/example")
	require.Equal(t, "sha1", got.LastIndexedCommit, "state must not advance when nothing succeeded")
}

func TestOrderChanges_DeletedRenamedModifiedAdded(t *testing.T) {
	in := []*store.FileChange{
		{Kind: store.FileAdded, Path: "a"},
		{Kind: store.FileModified, Path: "b"},
		{Kind: store.FileDeleted, Path: "c"},
		{Kind: store.FileRenamed, OldPath: "d", NewPath: "e"},
	}
	out := orderChanges(in)
	require.Equal(t, []store.FileChangeKind{
		store.FileDeleted, store.FileRenamed, store.FileModified, store.FileAdded,
	}, []store.FileChangeKind{out[0].Kind, out[1].Kind, out[2].Kind, out[3].Kind})
}
