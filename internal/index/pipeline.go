// Package index implements the Indexing Pipeline (§4.7) and Incremental
// Indexer (§4.8): turning a repository_url into Chunk rows in the Lexical
// and Vector Indices, and keeping those rows in sync as the repository
// changes.
package index

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/gobwas/glob"

	"github.com/Aman-CERP/amanmcp/internal/chunk"
	"github.com/Aman-CERP/amanmcp/internal/config"
	"github.com/Aman-CERP/amanmcp/internal/embed"
	megaerrors "github.com/Aman-CERP/amanmcp/internal/errors"
	"github.com/Aman-CERP/amanmcp/internal/gitsource"
	"github.com/Aman-CERP/amanmcp/internal/scanner"
	"github.com/Aman-CERP/amanmcp/internal/store"
	"github.com/Aman-CERP/amanmcp/internal/ui"
)

// maxIndexableFileSize mirrors scanner.DefaultMaxFileSize; it is passed to
// the scanner as ScanOptions.MaxFileSize, which leaves larger files out.
const maxIndexableFileSize = scanner.DefaultMaxFileSize

// Pipeline wires the Indexing Pipeline's collaborators: file enumeration,
// parsing, embedding, and index writes, plus the durable state commit on
// success. It is the concrete runnable default SPEC_FULL.md's §1 scope
// exclusion calls for — RepositorySource/CodeParser/Embedder/VectorStore
// are pluggable, but this struct assembles one working combination.
type Pipeline struct {
	Source    gitsource.RepositorySource
	Scanner   *scanner.Scanner
	Parser    chunk.CodeParser
	Lexical   store.LexicalIndex
	Vector    store.VectorIndex
	Embedder  embed.Embedder
	State     store.RepositoryStateStore
	Renderer  ui.Renderer
	Config    config.Config

	includeGlobs []glob.Glob
	excludeGlobs []glob.Glob
}

// NewPipeline compiles the configured path globs and returns a ready
// Pipeline. Renderer may be nil, in which case progress events are dropped.
func NewPipeline(
	source gitsource.RepositorySource,
	sc *scanner.Scanner,
	parser chunk.CodeParser,
	lexical store.LexicalIndex,
	vector store.VectorIndex,
	embedder embed.Embedder,
	state store.RepositoryStateStore,
	renderer ui.Renderer,
	cfg config.Config,
) (*Pipeline, error) {
	p := &Pipeline{
		Source:   source,
		Scanner:  sc,
		Parser:   parser,
		Lexical:  lexical,
		Vector:   vector,
		Embedder: embedder,
		State:    state,
		Renderer: renderer,
		Config:   cfg,
	}
	for _, pat := range cfg.Paths.Include {
		g, err := glob.Compile(pat, '/')
		if err != nil {
			return nil, fmt.Errorf("index: compile include pattern %q: %w", pat, err)
		}
		p.includeGlobs = append(p.includeGlobs, g)
	}
	for _, pat := range cfg.Paths.Exclude {
		g, err := glob.Compile(pat, '/')
		if err != nil {
			return nil, fmt.Errorf("index: compile exclude pattern %q: %w", pat, err)
		}
		p.excludeGlobs = append(p.excludeGlobs, g)
	}
	return p, nil
}

// selectable reports whether relPath passes the configured include/exclude
// globs (§4.7: "enumerate files by extension/glob filter") and is within an
// extension the CodeParser supports.
func (p *Pipeline) selectable(relPath string) bool {
	if len(p.includeGlobs) > 0 {
		matched := false
		for _, g := range p.includeGlobs {
			if g.Match(relPath) {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	for _, g := range p.excludeGlobs {
		if g.Match(relPath) {
			return false
		}
	}

	ext := path.Ext(relPath)
	for _, supported := range p.Parser.SupportedExtensions() {
		if ext == supported {
			return true
		}
	}
	return false
}

func (p *Pipeline) emit(event ui.ProgressEvent) {
	if p.Renderer == nil {
		return
	}
	event.Timestamp = time.Now()
	p.Renderer.UpdateProgress(event)
}

func (p *Pipeline) emitComplete(stats ui.CompletionStats) {
	if p.Renderer == nil {
		return
	}
	p.Renderer.Complete(stats)
}

// Ingest runs the full Indexing Pipeline (§4.7) against repositoryURL: it
// resolves a working tree (cloning if repositoryURL is remote), enumerates
// and parses every selectable file, batches the resulting chunks through
// the lexical and vector indices, and commits a RepositoryIndexState on
// success. Partial per-file parse failures are logged and skipped; the pass
// never aborts because of them.
func (p *Pipeline) Ingest(ctx context.Context, repositoryURL string) error {
	start := time.Now()

	cloneDest := filepath.Join(p.Config.Ingestion.TempDir, sanitizeDirName(repositoryURL))
	p.emit(ui.ProgressEvent{Stage: ui.StageCloning, Message: "resolving working tree", Percentage: 0})
	workdir, headCommit, err := p.Source.Clone(ctx, repositoryURL, cloneDest)
	if err != nil {
		p.emit(ui.ProgressEvent{Stage: ui.StageFailed, Message: err.Error(), Percentage: 100})
		return fmt.Errorf("index: clone %q: %w", repositoryURL, err)
	}
	p.emit(ui.ProgressEvent{Stage: ui.StageCloning, Message: "working tree ready", Percentage: 100})

	results, err := p.Scanner.Scan(ctx, &scanner.ScanOptions{
		RootDir:          workdir,
		IncludePatterns:  p.Config.Paths.Include,
		ExcludePatterns:  p.Config.Paths.Exclude,
		RespectGitignore: true,
		MaxFileSize:      maxIndexableFileSize,
	})
	if err != nil {
		p.emit(ui.ProgressEvent{Stage: ui.StageFailed, Message: err.Error(), Percentage: 100})
		return fmt.Errorf("index: scan %q: %w", workdir, err)
	}

	var allChunks []*store.Chunk
	var filesSeen, parseErrors int
	for res := range results {
		if res.Error != nil {
			parseErrors++
			p.renderError(res.Error.Error(), res.Error, true)
			continue
		}
		if !p.selectable(res.File.Path) {
			continue
		}
		filesSeen++

		content, err := os.ReadFile(res.File.AbsPath)
		if err != nil {
			parseErrors++
			p.renderError(res.File.Path, err, true)
			continue
		}

		chunks, err := p.Parser.Parse(ctx, repositoryURL, res.File.Path, content, res.File.Language)
		if err != nil {
			parseErrors++
			p.renderError(res.File.Path, err, true)
			continue
		}
		allChunks = append(allChunks, chunks...)

		p.emit(ui.ProgressEvent{
			Stage:       ui.StageParsing,
			Message:     "parsed",
			CurrentFile: res.File.Path,
			Current:     filesSeen,
		})
	}

	writeErrors, err := p.writeBatches(ctx, allChunks)
	if err != nil {
		p.emit(ui.ProgressEvent{Stage: ui.StageFailed, Message: err.Error(), Percentage: 100})
		return fmt.Errorf("index: write batches: %w", err)
	}

	if err := p.State.Put(ctx, &store.RepositoryIndexState{
		RepositoryURL:     repositoryURL,
		LastIndexedCommit: headCommit,
		LastIndexedAt:     time.Now(),
	}); err != nil {
		p.emit(ui.ProgressEvent{Stage: ui.StageFailed, Message: err.Error(), Percentage: 100})
		return fmt.Errorf("index: commit repository state: %w", err)
	}

	p.emit(ui.ProgressEvent{Stage: ui.StageComplete, Message: "indexing complete", Percentage: 100})
	p.emitComplete(ui.CompletionStats{
		Files:    filesSeen,
		Chunks:   len(allChunks),
		Duration: time.Since(start),
		Errors:   parseErrors + writeErrors,
	})
	return nil
}

// writeBatches batches chunks (default Config.Index.BatchSize, 1000) through
// the lexical index's AddChunks then the embedder and vector index's
// Upsert, emitting an StageIndexing ProgressEvent per batch with a monotonic
// percentage. It returns the count of per-chunk embed/upsert failures;
// those are skipped rather than aborting the pass (upsert failures are also
// logged). A failing lexical AddChunks batch is retried (3 attempts, ~1s
// backoff doubling) and aborts the pass if it still fails.
func (p *Pipeline) writeBatches(ctx context.Context, chunks []*store.Chunk) (int, error) {
	batchSize := p.Config.Index.BatchSize
	if batchSize <= 0 {
		batchSize = 1000
	}

	total := len(chunks)
	var errCount int
	for offset := 0; offset < total; offset += batchSize {
		end := offset + batchSize
		if end > total {
			end = total
		}
		batch := chunks[offset:end]

		retryCfg := megaerrors.DefaultRetryConfig()
		retryCfg.MaxRetries = 2 // 3 attempts in total
		if err := megaerrors.Retry(ctx, retryCfg, func() error {
			return p.Lexical.AddChunks(ctx, batch)
		}); err != nil {
			return errCount, fmt.Errorf("lexical add_chunks: %w", err)
		}

		texts := make([]string, len(batch))
		for i, c := range batch {
			texts[i] = c.Content
		}
		vectors, err := p.Embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return errCount, fmt.Errorf("embed batch: %w", err)
		}
		for i, c := range batch {
			if i >= len(vectors) || vectors[i] == nil {
				errCount++
				continue
			}
			metadata := store.ChunkToVectorMetadata(c)
			if err := p.Vector.Upsert(ctx, c.ChunkID, metadata, vectors[i]); err != nil {
				errCount++
				p.renderError(c.SourceFile, err, true)
				continue
			}
		}

		percentage := float64(end) / float64(total) * 100
		p.emit(ui.ProgressEvent{
			Stage:      ui.StageIndexing,
			Message:    "indexed batch",
			Current:    end,
			Total:      total,
			Percentage: percentage,
		})
	}
	return errCount, nil
}

func (p *Pipeline) renderError(file string, err error, isWarn bool) {
	slog.Warn("index: file error", "file", file, "error", err)
	if p.Renderer != nil {
		p.Renderer.AddError(ui.ErrorEvent{File: file, Err: err, IsWarn: isWarn})
	}
}

func sanitizeDirName(repositoryURL string) string {
	h := make([]byte, 0, len(repositoryURL))
	for _, r := range repositoryURL {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			h = append(h, byte(r))
		default:
			h = append(h, '_')
		}
	}
	return string(h)
}
