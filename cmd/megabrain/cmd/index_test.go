package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// createTestProject writes a small Go source file and commits it, so the
// directory satisfies gitsource's "local checkout" detection.
func createTestProject(t *testing.T, dir string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "main.go"), []byte("package main\n\nfunc main() {}\n"), 0o644))

	repo, err := git.PlainInit(dir, false)
	require.NoError(t, err)
	wt, err := repo.Worktree()
	require.NoError(t, err)
	_, err = wt.Add(".")
	require.NoError(t, err)
	sig := &object.Signature{Name: "tester", Email: "tester@example.com", When: time.Now()}
	_, err = wt.Commit("initial", &git.CommitOptions{Author: sig})
	require.NoError(t, err)
}

func TestIndexCmd_CreatesDataDirectory(t *testing.T) {
	testDir := t.TempDir()
	createTestProject(t, testDir)

	cmd := NewRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"index", testDir, "--backend", "static"})

	err := cmd.Execute()

	require.NoError(t, err)
	dataDir := filepath.Join(testDir, ".megabrain")
	assert.DirExists(t, dataDir, ".megabrain directory should be created")
}

func TestIndexCmd_CreatesLexicalAndStateFiles(t *testing.T) {
	testDir := t.TempDir()
	createTestProject(t, testDir)

	cmd := NewRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"index", testDir, "--backend", "static", "--no-tui"})

	require.NoError(t, cmd.Execute())

	assert.DirExists(t, filepath.Join(testDir, ".megabrain", "lexical.bleve"))
	assert.FileExists(t, filepath.Join(testDir, ".megabrain", "state.db"))
}

func TestIndexCmd_RequiresArg(t *testing.T) {
	cmd := NewRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"index"})

	err := cmd.Execute()
	assert.Error(t, err, "index with no path/url should fail argument validation")
}

func TestIndexCmd_IncrementalFlagExists(t *testing.T) {
	cmd := newIndexCmd()
	flag := cmd.Flags().Lookup("incremental")
	require.NotNil(t, flag)
	assert.Equal(t, "false", flag.DefValue)
}

func TestIndexCmd_Incremental_NoPriorIndex_FallsBackToFullIngest(t *testing.T) {
	testDir := t.TempDir()
	createTestProject(t, testDir)

	cmd := NewRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"index", testDir, "--backend", "static", "--incremental"})

	require.NoError(t, cmd.Execute())
	assert.FileExists(t, filepath.Join(testDir, ".megabrain", "state.db"))
}
