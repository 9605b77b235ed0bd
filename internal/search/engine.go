package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Aman-CERP/amanmcp/internal/embed"
	"github.com/Aman-CERP/amanmcp/internal/store"
)

// Engine implements the §4.5 Hybrid Search Orchestrator.
type Engine struct {
	lexical    store.LexicalIndex
	vector     store.VectorIndex
	embedder   embed.Embedder
	config     EngineConfig
	fusion     *Fusion
	transitive TransitiveResolver // optional; nil disables §4.11 expansion
}

var _ SearchEngine = (*Engine)(nil)

// ErrNilDependency is returned when a required dependency is nil.
var ErrNilDependency = errors.New("nil dependency")

// ErrEmptyQuery is returned when the query string is blank after trimming
// (§4.5 step 1 validation).
var ErrEmptyQuery = errors.New("query must not be empty")

// EngineOption configures optional Engine behavior.
type EngineOption func(*Engine)

// WithTransitiveResolver enables §4.11 transitive expansion for requests
// with Transitive=true.
func WithTransitiveResolver(r TransitiveResolver) EngineOption {
	return func(e *Engine) { e.transitive = r }
}

// NewEngine constructs the orchestrator over the given lexical index, vector
// index, and embedder.
func NewEngine(lexical store.LexicalIndex, vector store.VectorIndex, embedder embed.Embedder, config EngineConfig, opts ...EngineOption) (*Engine, error) {
	if lexical == nil {
		return nil, fmt.Errorf("%w: lexical index is required", ErrNilDependency)
	}
	if vector == nil {
		return nil, fmt.Errorf("%w: vector index is required", ErrNilDependency)
	}
	if embedder == nil {
		return nil, fmt.Errorf("%w: embedder is required", ErrNilDependency)
	}
	e := &Engine{
		lexical:  lexical,
		vector:   vector,
		embedder: embedder,
		config:   config,
		fusion:   NewFusion(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Search executes the §4.5 pipeline: validate, dispatch to lexical/vector
// per mode, normalize, combine, dedupe, sort, facet, optionally expand
// transitively, then paginate.
func (e *Engine) Search(ctx context.Context, query string, opts SearchOptions) (*SearchResponse, error) {
	start := time.Now()

	query = strings.TrimSpace(query)
	if query == "" {
		return nil, ErrEmptyQuery
	}

	opts = e.applyDefaults(opts)
	if opts.Depth < 1 || opts.Depth > e.config.MaxDepth {
		return nil, fmt.Errorf("depth must be in [1, %d], got %d", e.config.MaxDepth, opts.Depth)
	}
	if err := opts.Weights.Validate(); err != nil {
		return nil, err
	}

	fetchLimit := opts.Offset + opts.Limit
	if fetchLimit < e.config.DefaultLimit {
		fetchLimit = e.config.DefaultLimit
	}

	lexHits, vecMatches, degraded, warning, err := e.dispatch(ctx, query, opts, fetchLimit)
	if err != nil {
		return nil, err
	}

	fused := e.fusion.Fuse(lexHits, vecMatches, *opts.Weights)

	var facets map[string][]store.FacetValue
	if opts.Mode != ModeVector {
		facets, err = e.lexical.ComputeFacets(ctx, store.FacetRequest{
			Query:             query,
			Filters:           opts.Filters,
			Fields:            store.FacetFields,
			MaxValuesPerField: e.config.FacetsLimit,
		})
		if err != nil {
			slog.Warn("facet computation failed", slog.String("error", err.Error()))
		}
	}

	results := toSearchResults(fused)

	var transitiveWarning string
	if opts.Transitive && opts.Mode != ModeVector && e.transitive != nil {
		results, transitiveWarning = e.expandTransitive(ctx, results, opts.Depth)
	}

	total := len(results)
	page := paginate(&results, opts.Offset, opts.Limit)

	if warning == "" {
		warning = transitiveWarning
	} else if transitiveWarning != "" {
		warning = warning + "; " + transitiveWarning
	}

	return &SearchResponse{
		Results:  results,
		Total:    total,
		Page:     page,
		Size:     len(results),
		Query:    query,
		TookMS:   time.Since(start).Milliseconds(),
		Facets:   facets,
		Degraded: degraded,
		Warning:  warning,
	}, nil
}

// applyDefaults fills unset SearchOptions fields with engine configuration
// defaults.
func (e *Engine) applyDefaults(opts SearchOptions) SearchOptions {
	if opts.Limit <= 0 {
		opts.Limit = e.config.DefaultLimit
	}
	if opts.Limit > e.config.MaxLimit {
		opts.Limit = e.config.MaxLimit
	}
	if opts.Offset < 0 {
		opts.Offset = 0
	}
	if opts.Mode == "" {
		opts.Mode = ModeHybrid
	}
	if opts.Depth == 0 {
		opts.Depth = e.config.DefaultDepth
	}
	if opts.Weights == nil {
		w := e.config.DefaultWeights
		opts.Weights = &w
	}
	return opts
}

// dispatch runs the lexical and/or vector search named by opts.Mode. When
// mode is hybrid, both run concurrently via errgroup with graceful
// degradation to the surviving side; errors.Join only surfaces when both
// fail (§7: "degrade gracefully... unless both fail").
func (e *Engine) dispatch(ctx context.Context, query string, opts SearchOptions, limit int) (
	lexHits []*store.LexicalHit,
	vecMatches []store.VectorMatch,
	degraded bool,
	warning string,
	err error,
) {
	runLexical := opts.Mode != ModeVector
	runVector := opts.Mode != ModeKeyword

	if runLexical && !runVector {
		lexHits, err = e.searchLexical(ctx, query, opts, limit)
		return lexHits, nil, false, "", err
	}
	if runVector && !runLexical {
		vecMatches, err = e.searchVector(ctx, query, limit)
		return nil, vecMatches, false, "", err
	}

	g, gctx := errgroup.WithContext(ctx)
	var lexErr, vecErr error

	g.Go(func() error {
		var e2 error
		lexHits, e2 = e.searchLexical(gctx, query, opts, limit)
		lexErr = e2
		return nil // never fail the group: degrade instead
	})
	g.Go(func() error {
		var e2 error
		vecMatches, e2 = e.searchVector(gctx, query, limit)
		vecErr = e2
		return nil
	})

	if waitErr := g.Wait(); waitErr != nil {
		return nil, nil, false, "", waitErr
	}

	if lexErr != nil && vecErr != nil {
		return nil, nil, false, "", errors.Join(lexErr, vecErr)
	}
	if lexErr != nil {
		slog.Warn("lexical search failed, degrading to vector-only", slog.String("error", lexErr.Error()))
		return nil, vecMatches, true, "lexical search unavailable, results are vector-only: " + lexErr.Error(), nil
	}
	if vecErr != nil {
		slog.Warn("vector search failed, degrading to lexical-only", slog.String("error", vecErr.Error()))
		return lexHits, nil, true, "vector search unavailable, results are lexical-only: " + vecErr.Error(), nil
	}
	return lexHits, vecMatches, false, "", nil
}

func (e *Engine) searchLexical(ctx context.Context, query string, opts SearchOptions, limit int) ([]*store.LexicalHit, error) {
	return e.lexical.Search(ctx, store.LexicalSearchRequest{
		Query:             query,
		Limit:             limit,
		Filters:           opts.Filters,
		IncludeFieldMatch: opts.IncludeFieldMatch,
		Boosts:            e.config.Boosts,
	})
}

func (e *Engine) searchVector(ctx context.Context, query string, limit int) ([]store.VectorMatch, error) {
	vec, err := e.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	return e.vector.Search(ctx, vec, limit)
}

// expandTransitive runs §4.11 expansion over the seed set of type-entity
// results and appends newly-discovered hits, tagged is_transitive.
func (e *Engine) expandTransitive(ctx context.Context, results []*SearchResult, depth int) ([]*SearchResult, string) {
	seeds := make([]*store.Chunk, 0, len(results))
	for _, r := range results {
		switch store.EntityType(r.EntityType) {
		case store.EntityClass, store.EntityInterface, store.EntityEnum, store.EntityRecord,
			store.EntityAnnotation, store.EntityStruct, store.EntityTrait, store.EntityUnion,
			store.EntityGenericType:
		default:
			continue // only type entities seed the expansion
		}
		seeds = append(seeds, &store.Chunk{
			ChunkID:             "", // seed identity for the resolver is the qualified name, not chunk_id
			EntityQualifiedName: r.EntityQualifiedName,
			EntityType:          store.EntityType(r.EntityType),
		})
	}

	hits, err := e.transitive.Expand(ctx, seeds, depth)
	if err != nil {
		slog.Warn("transitive expansion failed", slog.String("error", err.Error()))
		return results, "transitive expansion unavailable: " + err.Error()
	}

	seen := make(map[string]struct{}, len(results))
	for _, r := range results {
		seen[r.EntityQualifiedName] = struct{}{}
	}

	for _, h := range hits {
		if _, ok := seen[h.Chunk.EntityQualifiedName]; ok {
			continue
		}
		seen[h.Chunk.EntityQualifiedName] = struct{}{}
		results = append(results, &SearchResult{
			Content:             h.Chunk.Content,
			EntityName:          h.Chunk.EntityName,
			EntityQualifiedName: h.Chunk.EntityQualifiedName,
			EntityType:          string(h.Chunk.EntityType),
			SourceFile:          h.Chunk.SourceFile,
			Language:            h.Chunk.Language,
			Repository:          h.Chunk.Repository,
			LineRange:           h.Chunk.LineRange,
			DocSummary:          h.Chunk.DocSummary,
			IsTransitive:        true,
			RelationshipPath:    h.Path,
		})
	}
	return results, ""
}

// paginate slices results to the requested offset/limit window in place and
// returns the 1-indexed page number.
func paginate(results *[]*SearchResult, offset, limit int) int {
	r := *results
	if offset >= len(r) {
		*results = []*SearchResult{}
	} else {
		end := offset + limit
		if end > len(r) {
			end = len(r)
		}
		*results = r[offset:end]
	}
	if limit <= 0 {
		return 1
	}
	return offset/limit + 1
}

func toSearchResults(fused []*FusedResult) []*SearchResult {
	results := make([]*SearchResult, 0, len(fused))
	for _, f := range fused {
		if f.Chunk == nil {
			continue
		}
		results = append(results, &SearchResult{
			Content:             f.Chunk.Content,
			EntityName:          f.Chunk.EntityName,
			EntityQualifiedName: f.Chunk.EntityQualifiedName,
			EntityType:          string(f.Chunk.EntityType),
			SourceFile:          f.Chunk.SourceFile,
			Language:            f.Chunk.Language,
			Repository:          f.Chunk.Repository,
			Score:               f.Combined,
			LineRange:           f.Chunk.LineRange,
			DocSummary:          f.Chunk.DocSummary,
			FieldMatch:          f.FieldMatch,
			MatchedTerms:        f.MatchedTerms,
			LexicalScore:        f.NormLex,
			VectorScore:         f.NormVec,
			InBothSets:          f.InLexical && f.InVector,
		})
	}
	return results
}

// Index adds chunks to the lexical index, then the vector index (ordered
// lexical-first per §5: a partial embedder failure leaves the lexical row
// present). Embedder errors never fail the call; the pipeline's caller is
// responsible for tracking affected chunks as lexical-only (§4.4, §4.7).
func (e *Engine) Index(ctx context.Context, chunks []*store.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	if err := e.lexical.AddChunks(ctx, chunks); err != nil {
		return fmt.Errorf("lexical index write: %w", err)
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Content
	}
	vectors, err := e.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		slog.Warn("embedder batch failed, chunks remain lexical-only", slog.String("error", err.Error()))
		return nil
	}
	for i, c := range chunks {
		if i >= len(vectors) {
			break
		}
		if upsertErr := e.vector.Upsert(ctx, c.ChunkID, store.ChunkToVectorMetadata(c), vectors[i]); upsertErr != nil {
			slog.Warn("vector upsert failed, chunk remains lexical-only",
				slog.String("chunk_id", c.ChunkID), slog.String("error", upsertErr.Error()))
		}
	}
	return nil
}

// Delete removes chunks from both indices by id.
func (e *Engine) Delete(ctx context.Context, chunkIDs []string) error {
	var errs []error
	for _, id := range chunkIDs {
		if err := e.lexical.RemoveByID(ctx, id); err != nil {
			errs = append(errs, fmt.Errorf("lexical remove %s: %w", id, err))
		}
		if err := e.vector.Delete(ctx, id); err != nil {
			errs = append(errs, fmt.Errorf("vector remove %s: %w", id, err))
		}
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// Stats reports index-level statistics.
func (e *Engine) Stats() EngineStats {
	stats := EngineStats{}
	if hnsw, ok := e.vector.(*store.HNSWVectorIndex); ok {
		stats.VectorStats = hnsw.Stats()
	}
	return stats
}

// Close releases both index resources. Both are attempted even if the first
// fails.
func (e *Engine) Close() error {
	var errs []error
	if err := e.lexical.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := e.vector.Close(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
