package index

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/Aman-CERP/amanmcp/internal/scanner"
	"github.com/Aman-CERP/amanmcp/internal/store"
	"github.com/Aman-CERP/amanmcp/internal/ui"
)

// IngestIncremental runs the Incremental Indexer (§4.8): it resolves the
// working tree, looks up the repository's last_indexed_commit, diffs that
// commit against HEAD, and applies the resulting FileChanges in
// Deleted→Renamed→Modified→Added order. If no prior state exists it falls
// back to a full Ingest. A new RepositoryIndexState is committed as long as
// at least one file changed successfully; per-file errors are counted but
// never abort the pass.
func (p *Pipeline) IngestIncremental(ctx context.Context, repositoryURL string) error {
	prev, found, err := p.State.Get(ctx, repositoryURL)
	if err != nil {
		return fmt.Errorf("index: lookup repository state: %w", err)
	}
	if !found {
		return p.Ingest(ctx, repositoryURL)
	}

	start := time.Now()
	cloneDest := filepath.Join(p.Config.Ingestion.TempDir, sanitizeDirName(repositoryURL))
	p.emit(ui.ProgressEvent{Stage: ui.StageCloning, Message: "resolving working tree", Percentage: 0})
	workdir, headCommit, err := p.Source.Clone(ctx, repositoryURL, cloneDest)
	if err != nil {
		p.emit(ui.ProgressEvent{Stage: ui.StageFailed, Message: err.Error(), Percentage: 100})
		return fmt.Errorf("index: clone %q: %w", repositoryURL, err)
	}

	if headCommit == prev.LastIndexedCommit {
		p.emit(ui.ProgressEvent{Stage: ui.StageComplete, Message: "already up to date", Percentage: 100})
		return nil
	}

	changes, err := p.Source.Diff(ctx, workdir, prev.LastIndexedCommit, headCommit)
	if err != nil {
		p.emit(ui.ProgressEvent{Stage: ui.StageFailed, Message: err.Error(), Percentage: 100})
		return fmt.Errorf("index: diff %s..%s: %w", prev.LastIndexedCommit, headCommit, err)
	}

	ordered := orderChanges(changes)

	var succeeded, errCount int
	total := len(ordered)
	for i, change := range ordered {
		if err := p.applyChange(ctx, repositoryURL, workdir, change); err != nil {
			errCount++
			p.renderError(changePath(change), err, true)
		} else {
			succeeded++
		}

		percentage := float64(i+1) / float64(total) * 100
		p.emit(ui.ProgressEvent{
			Stage:      ui.StageIndexing,
			Message:    "applied change",
			Current:    i + 1,
			Total:      total,
			Percentage: percentage,
		})
	}

	if succeeded == 0 {
		p.emit(ui.ProgressEvent{Stage: ui.StageFailed, Message: "no file changes applied successfully", Percentage: 100})
		return fmt.Errorf("index: incremental pass applied no changes (%d errors)", errCount)
	}

	if err := p.State.Put(ctx, &store.RepositoryIndexState{
		RepositoryURL:     repositoryURL,
		LastIndexedCommit: headCommit,
		LastIndexedAt:     time.Now(),
	}); err != nil {
		p.emit(ui.ProgressEvent{Stage: ui.StageFailed, Message: err.Error(), Percentage: 100})
		return fmt.Errorf("index: commit repository state: %w", err)
	}

	p.emit(ui.ProgressEvent{Stage: ui.StageComplete, Message: "incremental indexing complete", Percentage: 100})
	p.emitComplete(ui.CompletionStats{
		Files:    succeeded,
		Duration: time.Since(start),
		Errors:   errCount,
	})
	return nil
}

// orderChanges sorts FileChanges into the §4.8-mandated application order:
// Deleted, then Renamed, then Modified, then Added.
func orderChanges(changes []*store.FileChange) []*store.FileChange {
	rank := func(k store.FileChangeKind) int {
		switch k {
		case store.FileDeleted:
			return 0
		case store.FileRenamed:
			return 1
		case store.FileModified:
			return 2
		case store.FileAdded:
			return 3
		default:
			return 4
		}
	}
	ordered := make([]*store.FileChange, len(changes))
	copy(ordered, changes)
	for i := 1; i < len(ordered); i++ {
		for j := i; j > 0 && rank(ordered[j].Kind) < rank(ordered[j-1].Kind); j-- {
			ordered[j], ordered[j-1] = ordered[j-1], ordered[j]
		}
	}
	return ordered
}

func changePath(c *store.FileChange) string {
	switch c.Kind {
	case store.FileRenamed:
		return c.NewPath
	default:
		return c.Path
	}
}

// applyChange routes one FileChange through the remove-then-reparse-and-add
// path §4.8 requires for Renamed/Modified (chunk boundaries are not stable
// under edits, so the old entry must be dropped before the new one is
// added), the remove-only path for Deleted, and the add-only path for
// Added.
func (p *Pipeline) applyChange(ctx context.Context, repositoryURL, workdir string, change *store.FileChange) error {
	switch change.Kind {
	case store.FileDeleted:
		return p.removeFile(ctx, change.Path)

	case store.FileRenamed:
		if err := p.removeFile(ctx, change.OldPath); err != nil {
			return err
		}
		return p.reparseAndAdd(ctx, repositoryURL, workdir, change.NewPath)

	case store.FileModified:
		if err := p.removeFile(ctx, change.Path); err != nil {
			return err
		}
		return p.reparseAndAdd(ctx, repositoryURL, workdir, change.Path)

	case store.FileAdded:
		return p.reparseAndAdd(ctx, repositoryURL, workdir, change.Path)

	default:
		return fmt.Errorf("index: unknown file change kind %q", change.Kind)
	}
}

func (p *Pipeline) removeFile(ctx context.Context, relPath string) error {
	if _, err := p.Lexical.RemoveByFile(ctx, relPath); err != nil {
		return fmt.Errorf("lexical remove_by_file: %w", err)
	}
	if err := p.Vector.DeleteByFile(ctx, relPath); err != nil {
		return fmt.Errorf("vector delete_by_file: %w", err)
	}
	return nil
}

func (p *Pipeline) reparseAndAdd(ctx context.Context, repositoryURL, workdir, relPath string) error {
	if !p.selectable(relPath) {
		return nil
	}

	content, err := os.ReadFile(filepath.Join(workdir, relPath))
	if err != nil {
		return fmt.Errorf("read %s: %w", relPath, err)
	}

	chunks, err := p.Parser.Parse(ctx, repositoryURL, relPath, content, scanner.DetectLanguage(relPath))
	if err != nil {
		return fmt.Errorf("parse %s: %w", relPath, err)
	}
	if len(chunks) == 0 {
		return nil
	}

	if _, errCount := p.writeBatches(ctx, chunks); errCount > 0 {
		return fmt.Errorf("%s: %d chunks failed to embed/upsert", relPath, errCount)
	}
	return nil
}
