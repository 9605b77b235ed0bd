package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/amanmcp/internal/chunk"
	"github.com/Aman-CERP/amanmcp/internal/config"
	"github.com/Aman-CERP/amanmcp/internal/embed"
	"github.com/Aman-CERP/amanmcp/internal/gitsource"
	"github.com/Aman-CERP/amanmcp/internal/index"
	"github.com/Aman-CERP/amanmcp/internal/scanner"
	"github.com/Aman-CERP/amanmcp/internal/store"
	"github.com/Aman-CERP/amanmcp/internal/ui"
)

func newIndexCmd() *cobra.Command {
	var (
		noTUI       bool
		incremental bool
		backend     string
	)

	cmd := &cobra.Command{
		Use:   "index [path-or-url]",
		Short: "Index a repository for hybrid search",
		Long: `Ingest a local directory or remote repository URL into the lexical
and vector indices.

This clones/resolves the repository, parses its source files into chunks,
embeds and writes them to the Lexical and Vector Indices, and commits the
resulting repository index state.

Use --incremental to diff against the last indexed commit instead of
reingesting the whole tree.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if backend != "" {
				os.Setenv("AMANMCP_EMBEDDER", backend)
			}

			return runIndex(ctx, cmd, args[0], noTUI, incremental)
		},
	}

	cmd.Flags().BoolVar(&noTUI, "no-tui", false, "Disable TUI mode, use plain text output")
	cmd.Flags().BoolVar(&incremental, "incremental", false, "Diff against the last indexed commit instead of a full reingest")
	cmd.Flags().StringVar(&backend, "backend", "", "Embedding backend: auto-detect (default), ollama, mlx, or static")

	return cmd
}

// runIndex assembles the Indexing Pipeline's collaborators and runs either
// a full or incremental ingest of repositoryURL (a local path or remote
// git URL).
func runIndex(ctx context.Context, cmd *cobra.Command, repositoryURL string, noTUI bool, incremental bool) error {
	root, err := indexDataRoot(repositoryURL)
	if err != nil {
		return err
	}

	dataDir := filepath.Join(root, ".megabrain")
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	cfg, err := config.Load(root)
	if err != nil {
		cfg = config.NewConfig()
	}

	uiCfg := ui.NewConfig(cmd.OutOrStdout(), ui.WithForcePlain(noTUI), ui.WithProjectDir(root))
	renderer := ui.NewRenderer(uiCfg)
	if err := renderer.Start(ctx); err != nil {
		slog.Warn("failed to start progress renderer", slog.String("error", err.Error()))
	}
	defer func() { _ = renderer.Stop() }()

	lexical, err := store.NewBleveLexicalIndex(filepath.Join(dataDir, "lexical.bleve"))
	if err != nil {
		return fmt.Errorf("failed to open lexical index: %w", err)
	}
	defer func() { _ = lexical.Close() }()

	provider := embed.ParseProvider(cfg.Embeddings.Provider)
	embedder, err := embed.NewEmbedder(ctx, provider, cfg.Embeddings.Model)
	if err != nil {
		return fmt.Errorf("embedder initialization failed: %w", err)
	}
	defer func() { _ = embedder.Close() }()

	vector, err := store.NewHNSWVectorIndex(store.VectorIndexConfig{Dimensions: embedder.Dimensions()})
	if err != nil {
		return fmt.Errorf("failed to open vector index: %w", err)
	}
	defer func() { _ = vector.Close() }()

	state, err := store.NewSQLiteRepositoryStateStore(filepath.Join(dataDir, "state.db"))
	if err != nil {
		return fmt.Errorf("failed to open repository index state store: %w", err)
	}
	defer func() { _ = state.Close() }()

	sc, err := scanner.New()
	if err != nil {
		return fmt.Errorf("failed to create scanner: %w", err)
	}

	parser := chunk.NewTreeSitterCodeParser()
	defer parser.Close()

	pipeline, err := index.NewPipeline(gitsource.New(), sc, parser, lexical, vector, embedder, state, renderer, *cfg)
	if err != nil {
		return fmt.Errorf("failed to assemble indexing pipeline: %w", err)
	}

	if incremental {
		return pipeline.IngestIncremental(ctx, repositoryURL)
	}
	return pipeline.Ingest(ctx, repositoryURL)
}

// indexDataRoot picks the directory the .megabrain state/index data lives
// under: the repository itself for a local path, or the current working
// directory for a remote URL (which Ingest clones into its own temp dir).
func indexDataRoot(repositoryURL string) (string, error) {
	if info, err := os.Stat(repositoryURL); err == nil && info.IsDir() {
		absPath, err := filepath.Abs(repositoryURL)
		if err != nil {
			return "", fmt.Errorf("failed to resolve path: %w", err)
		}
		if root, err := config.FindProjectRoot(absPath); err == nil {
			return root, nil
		}
		return absPath, nil
	}

	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("failed to resolve working directory: %w", err)
	}
	return cwd, nil
}
