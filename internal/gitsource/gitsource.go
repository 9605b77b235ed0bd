// Package gitsource implements the RepositorySource collaborator §4.7 and
// §4.8 depend on: resolving a repository_url to a working tree on disk and
// diffing two commits of that tree for the Incremental Indexer.
package gitsource

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/utils/merkletrie"

	"github.com/Aman-CERP/amanmcp/internal/store"
)

// RenameSimilarityThreshold is the minimum fraction of unchanged lines
// between a deleted and an added blob for the pair to be reported as a
// single FileRenamed change instead of a FileDeleted/FileAdded pair (§4.8).
const RenameSimilarityThreshold = 0.5

// RepositorySource is the collaborator the Indexing Pipeline (§4.7) and
// Incremental Indexer (§4.8) use to go from a repository_url to a working
// tree on disk, and to resolve/diff commits within it. A local path is
// itself a valid repository_url: Clone opens it in place instead of
// cloning when it already looks like a working git repository.
type RepositorySource interface {
	// Clone resolves repositoryURL to a working tree, cloning into destDir
	// if it is not already a local path, and returns that working tree's
	// root directory plus the resolved HEAD commit SHA.
	Clone(ctx context.Context, repositoryURL, destDir string) (workdir string, headCommit string, err error)

	// ResolveHEAD returns the current HEAD commit SHA of the working tree.
	ResolveHEAD(workdir string) (string, error)

	// Diff compares two commits of the working tree and returns the
	// FileChanges between them, with rename detection (§4.8).
	Diff(ctx context.Context, workdir, fromCommit, toCommit string) ([]*store.FileChange, error)
}

// GitSource is the go-git/v5-backed RepositorySource implementation.
type GitSource struct{}

// New returns a GitSource.
func New() *GitSource {
	return &GitSource{}
}

// Clone implements RepositorySource. A repositoryURL that already names a
// directory on disk containing a ".git" entry is treated as a local
// checkout and opened in place; everything else is cloned into destDir.
func (g *GitSource) Clone(ctx context.Context, repositoryURL, destDir string) (string, string, error) {
	if isLocalRepo(repositoryURL) {
		repo, err := git.PlainOpen(repositoryURL)
		if err != nil {
			return "", "", fmt.Errorf("gitsource: open local repository %q: %w", repositoryURL, err)
		}
		head, err := resolveHEAD(repo)
		if err != nil {
			return "", "", err
		}
		return repositoryURL, head, nil
	}

	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return "", "", fmt.Errorf("gitsource: create clone destination: %w", err)
	}
	repo, err := git.PlainCloneContext(ctx, destDir, false, &git.CloneOptions{
		URL: repositoryURL,
	})
	if err != nil {
		return "", "", fmt.Errorf("gitsource: clone %q: %w", repositoryURL, err)
	}
	head, err := resolveHEAD(repo)
	if err != nil {
		return "", "", err
	}
	return destDir, head, nil
}

// ResolveHEAD implements RepositorySource.
func (g *GitSource) ResolveHEAD(workdir string) (string, error) {
	repo, err := git.PlainOpen(workdir)
	if err != nil {
		return "", fmt.Errorf("gitsource: open %q: %w", workdir, err)
	}
	return resolveHEAD(repo)
}

// Diff implements RepositorySource using a direct two-tree comparison
// (object.Tree.Diff), then pairs Delete/Insert entries whose line
// similarity reaches RenameSimilarityThreshold into a FileRenamed change.
func (g *GitSource) Diff(ctx context.Context, workdir, fromCommit, toCommit string) ([]*store.FileChange, error) {
	repo, err := git.PlainOpen(workdir)
	if err != nil {
		return nil, fmt.Errorf("gitsource: open %q: %w", workdir, err)
	}

	fromTree, err := treeAt(repo, fromCommit)
	if err != nil {
		return nil, fmt.Errorf("gitsource: resolve tree %s: %w", fromCommit, err)
	}
	toTree, err := treeAt(repo, toCommit)
	if err != nil {
		return nil, fmt.Errorf("gitsource: resolve tree %s: %w", toCommit, err)
	}

	changes, err := fromTree.Diff(toTree)
	if err != nil {
		return nil, fmt.Errorf("gitsource: diff %s..%s: %w", fromCommit, toCommit, err)
	}

	var deleted, added []*object.Change
	var result []*store.FileChange
	for _, c := range changes {
		action, err := c.Action()
		if err != nil {
			return nil, fmt.Errorf("gitsource: classify change: %w", err)
		}
		switch action {
		case merkletrie.Insert:
			added = append(added, c)
		case merkletrie.Delete:
			deleted = append(deleted, c)
		case merkletrie.Modify:
			result = append(result, &store.FileChange{Kind: store.FileModified, Path: c.To.Name})
		}
	}

	renamedFrom := map[int]bool{}
	renamedTo := map[int]bool{}
	for di, d := range deleted {
		for ai, a := range added {
			if renamedTo[ai] {
				continue
			}
			similar, err := similarEnough(d, a)
			if err != nil {
				continue
			}
			if similar {
				result = append(result, &store.FileChange{
					Kind:    store.FileRenamed,
					OldPath: d.From.Name,
					NewPath: a.To.Name,
				})
				renamedFrom[di] = true
				renamedTo[ai] = true
				break
			}
		}
	}
	for di, d := range deleted {
		if !renamedFrom[di] {
			result = append(result, &store.FileChange{Kind: store.FileDeleted, Path: d.From.Name})
		}
	}
	for ai, a := range added {
		if !renamedTo[ai] {
			result = append(result, &store.FileChange{Kind: store.FileAdded, Path: a.To.Name})
		}
	}

	return result, nil
}

// similarEnough reports whether a deleted blob and an added blob are similar
// enough to be treated as one rename: it counts the lines of the added blob
// that also occur in the deleted blob (each deleted line matched at most
// once) and divides by the longer file's line count.
func similarEnough(deleted, added *object.Change) (bool, error) {
	fromFile, err := deleted.From.Tree.TreeEntryFile(&deleted.From.TreeEntry)
	if err != nil {
		return false, err
	}
	toFile, err := added.To.Tree.TreeEntryFile(&added.To.TreeEntry)
	if err != nil {
		return false, err
	}

	fromLines, err := fromFile.Lines()
	if err != nil {
		return false, err
	}
	toLines, err := toFile.Lines()
	if err != nil {
		return false, err
	}

	fromSet := make(map[string]int, len(fromLines))
	for _, l := range fromLines {
		fromSet[l]++
	}
	shared := 0
	for _, l := range toLines {
		if fromSet[l] > 0 {
			shared++
			fromSet[l]--
		}
	}

	maxLen := len(fromLines)
	if len(toLines) > maxLen {
		maxLen = len(toLines)
	}
	if maxLen == 0 {
		return false, nil
	}
	return float64(shared)/float64(maxLen) >= RenameSimilarityThreshold, nil
}

func resolveHEAD(repo *git.Repository) (string, error) {
	ref, err := repo.Head()
	if err != nil {
		return "", fmt.Errorf("gitsource: resolve HEAD: %w", err)
	}
	return ref.Hash().String(), nil
}

func treeAt(repo *git.Repository, commitSHA string) (*object.Tree, error) {
	hash := plumbing.NewHash(commitSHA)
	commit, err := repo.CommitObject(hash)
	if err != nil {
		return nil, err
	}
	return commit.Tree()
}

func isLocalRepo(repositoryURL string) bool {
	if strings.Contains(repositoryURL, "://") || strings.HasPrefix(repositoryURL, "git@") {
		return false
	}
	info, err := os.Stat(filepath.Join(repositoryURL, ".git"))
	return err == nil && (info.IsDir() || info.Mode().IsRegular())
}
