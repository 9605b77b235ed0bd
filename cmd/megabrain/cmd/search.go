package cmd

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite" // pure Go SQLite driver (no CGO)

	"github.com/spf13/cobra"

	graphresolver "github.com/Aman-CERP/amanmcp/internal/graph"

	"github.com/Aman-CERP/amanmcp/internal/config"
	"github.com/Aman-CERP/amanmcp/internal/embed"
	"github.com/Aman-CERP/amanmcp/internal/output"
	"github.com/Aman-CERP/amanmcp/internal/search"
	"github.com/Aman-CERP/amanmcp/internal/store"
	"github.com/Aman-CERP/amanmcp/internal/telemetry"
)

// searchOptions holds CLI flags for search.
type searchOptions struct {
	limit      int
	mode       string
	language   string
	repository string
	entityType string
	scope      string
	format     string // "text", "json"
	transitive bool
	depth      int
}

func newSearchCmd() *cobra.Command {
	var opts searchOptions

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search the indexed codebase",
		Long: `Search the indexed codebase using hybrid search.

Combines the Lexical Index (keyword/BM25) and Vector Index (semantic
embedding) scores via the Hybrid Search Orchestrator's weighted fusion.

Examples:
  megabrain search "authentication middleware"
  megabrain search "HandleRequest" --mode keyword --limit 5
  megabrain search "retry policy" --language go --format json
  megabrain search "Handler" --transitive --depth 3`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := strings.Join(args, " ")
			return runSearch(cmd.Context(), cmd, query, opts)
		},
	}

	cmd.Flags().IntVarP(&opts.limit, "limit", "n", 10, "Maximum number of results")
	cmd.Flags().StringVarP(&opts.mode, "mode", "m", "hybrid", "Search mode: hybrid, keyword, vector")
	cmd.Flags().StringVarP(&opts.language, "language", "l", "", "Filter by language (e.g., go, python)")
	cmd.Flags().StringVar(&opts.repository, "repository", "", "Filter by repository")
	cmd.Flags().StringVar(&opts.entityType, "entity-type", "", "Filter by entity type (e.g., function, class)")
	cmd.Flags().StringVarP(&opts.scope, "scope", "s", "", "Filter by source file prefix")
	cmd.Flags().StringVarP(&opts.format, "format", "f", "text", "Output format: text, json")
	cmd.Flags().BoolVar(&opts.transitive, "transitive", false, "Expand type results along extends/implements edges")
	cmd.Flags().IntVar(&opts.depth, "depth", 0, "Transitive expansion depth (0 uses the configured default)")

	return cmd
}

func runSearch(ctx context.Context, cmd *cobra.Command, query string, opts searchOptions) error {
	out := output.New(cmd.OutOrStdout())

	root, err := config.FindProjectRoot(".")
	if err != nil {
		root, _ = os.Getwd()
	}

	dataDir := filepath.Join(root, ".megabrain")
	lexicalPath := filepath.Join(dataDir, "lexical.bleve")
	if _, err := os.Stat(lexicalPath); os.IsNotExist(err) {
		return fmt.Errorf("no index found at %s, run 'megabrain index' first", root)
	}

	cfg, err := config.Load(root)
	if err != nil {
		cfg = config.NewConfig()
	}

	lexical, err := store.NewBleveLexicalIndex(lexicalPath)
	if err != nil {
		return fmt.Errorf("failed to open lexical index: %w", err)
	}
	defer func() { _ = lexical.Close() }()

	mode := search.ParseMode(opts.mode)

	// Keyword-only requests never touch the embedder or vector index, so
	// stay off the network entirely and use the static embedder to satisfy
	// the engine's non-nil dependency requirement.
	provider := embed.ProviderStatic
	if mode != search.ModeKeyword {
		provider = embed.ParseProvider(cfg.Embeddings.Provider)
	}
	embedder, err := embed.NewEmbedder(ctx, provider, cfg.Embeddings.Model)
	if err != nil {
		return fmt.Errorf("failed to create embedder: %w", err)
	}
	defer func() { _ = embedder.Close() }()

	vector, err := store.NewHNSWVectorIndex(store.VectorIndexConfig{Dimensions: embedder.Dimensions()})
	if err != nil {
		return fmt.Errorf("failed to open vector index: %w", err)
	}
	defer func() { _ = vector.Close() }()

	engineCfg := search.DefaultEngineConfig()
	if cfg.Search.MaxResults > 0 {
		engineCfg.DefaultLimit = cfg.Search.MaxResults
	}
	engineCfg.DefaultWeights = search.Weights{
		KeywordWeight: cfg.Search.Hybrid.KeywordWeight,
		VectorWeight:  cfg.Search.Hybrid.VectorWeight,
	}
	engineCfg.Boosts = store.BoostConfiguration{
		Content:    cfg.Search.Boost.Content,
		EntityName: cfg.Search.Boost.EntityName,
		DocSummary: cfg.Search.Boost.DocSummary,
	}
	engineCfg.FacetsLimit = cfg.Search.Facets.Limit
	engineCfg.DefaultDepth = cfg.Search.Transitive.DefaultDepth
	engineCfg.MaxDepth = cfg.Search.Transitive.MaxDepth

	var engineOpts []search.EngineOption
	if opts.transitive {
		resolver, err := buildTransitiveResolver(ctx, lexical, query)
		if err != nil {
			out.Warningf("transitive expansion unavailable: %v", err)
		} else {
			engineOpts = append(engineOpts, search.WithTransitiveResolver(resolver))
		}
	}

	engine, err := search.NewEngine(lexical, vector, embedder, engineCfg, engineOpts...)
	if err != nil {
		return fmt.Errorf("failed to create search engine: %w", err)
	}
	defer func() { _ = engine.Close() }()

	filters := &store.Filters{}
	if opts.language != "" {
		filters.Languages = []string{opts.language}
	}
	if opts.repository != "" {
		filters.Repositories = []string{opts.repository}
	}
	if opts.entityType != "" {
		filters.EntityTypes = []string{opts.entityType}
	}
	if opts.scope != "" {
		filters.SourceFilePrefixes = []string{opts.scope}
	}

	searchOpts := search.SearchOptions{
		Limit:      opts.limit,
		Mode:       mode,
		Transitive: opts.transitive,
		Depth:      opts.depth,
	}
	if !filters.Empty() {
		searchOpts.Filters = filters
	}

	resp, err := engine.Search(ctx, query, searchOpts)
	if err != nil {
		return fmt.Errorf("search failed: %w", err)
	}

	recordQueryTelemetry(dataDir, query, mode, resp)

	if resp.Warning != "" {
		out.Warning(resp.Warning)
	}

	switch opts.format {
	case "json":
		return formatJSON(cmd, resp)
	default:
		return formatText(out, resp)
	}
}

// buildTransitiveResolver assembles a best-effort Transitive Graph Resolver
// snapshot for a single request: it fetches the chunks the query itself
// would otherwise surface (widened to a generous limit) and builds the
// extends/implements graph over just that set. A narrow query therefore
// sees a narrower graph than a full repository scan would; that tradeoff
// keeps `megabrain search` from having to hold every indexed chunk in
// memory on each invocation.
func buildTransitiveResolver(ctx context.Context, lexical store.LexicalIndex, query string) (search.TransitiveResolver, error) {
	hits, err := lexical.Search(ctx, store.LexicalSearchRequest{Query: query, Limit: 2000})
	if err != nil {
		return nil, err
	}
	chunks := make([]*store.Chunk, 0, len(hits))
	for _, h := range hits {
		chunks = append(chunks, h.Chunk)
	}
	return graphresolver.NewResolver(chunks), nil
}

// recordQueryTelemetry persists a single query event (type, latency bucket,
// zero-result tracking) to .megabrain/telemetry.db. Failures are logged and
// otherwise ignored: telemetry never blocks or fails a search.
func recordQueryTelemetry(dataDir, query string, mode search.Mode, resp *search.SearchResponse) {
	queryType := telemetry.QueryTypeMixed
	switch mode {
	case search.ModeKeyword:
		queryType = telemetry.QueryTypeLexical
	case search.ModeVector:
		queryType = telemetry.QueryTypeSemantic
	}

	db, err := sql.Open("sqlite", filepath.Join(dataDir, "telemetry.db"))
	if err != nil {
		slog.Warn("telemetry: failed to open store", slog.String("error", err.Error()))
		return
	}
	defer func() { _ = db.Close() }()

	if err := telemetry.InitTelemetrySchema(db); err != nil {
		slog.Warn("telemetry: failed to init schema", slog.String("error", err.Error()))
		return
	}

	metricsStore, err := telemetry.NewSQLiteMetricsStore(db)
	if err != nil {
		slog.Warn("telemetry: failed to open metrics store", slog.String("error", err.Error()))
		return
	}
	defer func() { _ = metricsStore.Close() }()

	metrics := telemetry.NewQueryMetricsWithConfig(metricsStore, telemetry.QueryMetricsConfig{
		TopTermsCapacity:    100,
		ZeroResultsCapacity: 100,
		FlushInterval:       0, // flush explicitly below; no background ticker for a one-shot CLI run
	})
	defer func() { _ = metrics.Close() }()

	metrics.Record(telemetry.QueryEvent{
		Query:       query,
		QueryType:   queryType,
		ResultCount: len(resp.Results),
		Latency:     time.Duration(resp.TookMS) * time.Millisecond,
		Timestamp:   time.Now(),
	})

	if err := metrics.Flush(); err != nil {
		slog.Warn("telemetry: failed to flush", slog.String("error", err.Error()))
	}
}

// formatText outputs results in human-readable format.
func formatText(out *output.Writer, resp *search.SearchResponse) error {
	if len(resp.Results) == 0 {
		out.Status("", fmt.Sprintf("No results found for %q", resp.Query))
		return nil
	}

	out.Statusf("🔍", "Found %d results for %q (%dms):", resp.Total, resp.Query, resp.TookMS)
	out.Newline()

	for i, r := range resp.Results {
		location := r.SourceFile
		if r.LineRange.Start > 0 {
			location = fmt.Sprintf("%s:%d", r.SourceFile, r.LineRange.Start)
		}

		tag := ""
		if r.IsTransitive {
			tag = " [transitive: " + strings.Join(r.RelationshipPath, " -> ") + "]"
		}
		out.Statusf("", "%d. %s (score: %.3f)%s", i+1, location, r.Score, tag)

		for _, line := range getSnippet(r.Content, 3) {
			out.Status("", "   "+line)
		}
		out.Newline()
	}

	return nil
}

// formatJSON outputs the full search response as JSON.
func formatJSON(cmd *cobra.Command, resp *search.SearchResponse) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(resp)
}

// getSnippet returns the first n non-trailing-empty lines of content.
func getSnippet(content string, n int) []string {
	lines := strings.Split(content, "\n")
	if len(lines) > n {
		lines = lines[:n]
	}
	for len(lines) > 0 && strings.TrimSpace(lines[len(lines)-1]) == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}
