package gitsource

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/amanmcp/internal/store"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func commitAll(t *testing.T, wt *git.Worktree, message string) string {
	t.Helper()
	_, err := wt.Add(".")
	require.NoError(t, err)
	sig := &object.Signature{Name: "tester", Email: "tester@example.com", When: time.Now()}
	hash, err := wt.Commit(message, &git.CommitOptions{Author: sig})
	require.NoError(t, err)
	return hash.String()
}

func newTestRepo(t *testing.T) (dir string, repo *git.Repository, wt *git.Worktree) {
	t.Helper()
	dir = t.TempDir()
	repo, err := git.PlainInit(dir, false)
	require.NoError(t, err)
	wt, err = repo.Worktree()
	require.NoError(t, err)
	return dir, repo, wt
}

func TestGitSource_Clone_LocalPath(t *testing.T) {
	dir, _, wt := newTestRepo(t)
	writeFile(t, dir, "a.go", "package a\n")
	head := commitAll(t, wt, "initial")

	g := New()
	workdir, resolvedHead, err := g.Clone(context.Background(), dir, t.TempDir())
	require.NoError(t, err)
	require.Equal(t, dir, workdir)
	require.Equal(t, head, resolvedHead)
}

func TestGitSource_ResolveHEAD(t *testing.T) {
	dir, _, wt := newTestRepo(t)
	writeFile(t, dir, "a.go", "package a\n")
	head := commitAll(t, wt, "initial")

	g := New()
	resolved, err := g.ResolveHEAD(dir)
	require.NoError(t, err)
	require.Equal(t, head, resolved)
}

func TestGitSource_Diff_AddedModifiedDeleted(t *testing.T) {
	dir, _, wt := newTestRepo(t)
	writeFile(t, dir, "keep.go", "package a\n\nfunc Keep() {}\n")
	writeFile(t, dir, "remove.go", "package a\n\nfunc Remove() {}\n")
	from := commitAll(t, wt, "initial")

	writeFile(t, dir, "keep.go", "package a\n\nfunc Keep() { /* changed */ }\n")
	require.NoError(t, os.Remove(filepath.Join(dir, "remove.go")))
	writeFile(t, dir, "new.go", "package a\n\nfunc New() {}\n")
	to := commitAll(t, wt, "second")

	g := New()
	changes, err := g.Diff(context.Background(), dir, from, to)
	require.NoError(t, err)

	byKind := map[store.FileChangeKind][]*store.FileChange{}
	for _, c := range changes {
		byKind[c.Kind] = append(byKind[c.Kind], c)
	}
	require.Len(t, byKind[store.FileModified], 1)
	require.Equal(t, "keep.go", byKind[store.FileModified][0].Path)
	require.Len(t, byKind[store.FileDeleted], 1)
	require.Equal(t, "remove.go", byKind[store.FileDeleted][0].Path)
	require.Len(t, byKind[store.FileAdded], 1)
	require.Equal(t, "new.go", byKind[store.FileAdded][0].Path)
}

func TestGitSource_Diff_DetectsRename(t *testing.T) {
	dir, _, wt := newTestRepo(t)
	longContent := "package a\n\nfunc Widget() {\n\t// line 1\n\t// line 2\n\t// line 3\n\t// line 4\n\t// line 5\n\treturn\n}\n"
	writeFile(t, dir, "widget.go", longContent)
	from := commitAll(t, wt, "initial")

	require.NoError(t, os.Remove(filepath.Join(dir, "widget.go")))
	writeFile(t, dir, "gadget.go", longContent)
	to := commitAll(t, wt, "rename")

	g := New()
	changes, err := g.Diff(context.Background(), dir, from, to)
	require.NoError(t, err)

	require.Len(t, changes, 1)
	require.Equal(t, store.FileRenamed, changes[0].Kind)
	require.Equal(t, "widget.go", changes[0].OldPath)
	require.Equal(t, "gadget.go", changes[0].NewPath)
}

func TestGitSource_IsLocalRepo(t *testing.T) {
	dir := t.TempDir()
	require.False(t, isLocalRepo(dir)) // no .git yet
	require.False(t, isLocalRepo("https://github.com/example/repo.git"))
	require.False(t, isLocalRepo("git@github.com:example/repo.git"))

	require.NoError(t, os.Mkdir(filepath.Join(dir, ".git"), 0o755))
	require.True(t, isLocalRepo(dir))
}
