// Package search implements the hybrid search orchestrator: it dispatches a
// query to the lexical and vector indices in parallel, normalizes and
// combines their scores, computes facets, and optionally expands the result
// set along the transitive type-hierarchy graph.
package search

import (
	"context"
	"strings"
	"time"

	"github.com/Aman-CERP/amanmcp/internal/store"
)

// Mode selects which back-ends a query is dispatched to.
type Mode string

const (
	ModeHybrid  Mode = "hybrid"
	ModeKeyword Mode = "keyword"
	ModeVector  Mode = "vector"
)

// ParseMode parses the mode query parameter. Matching is case-insensitive;
// anything unrecognized (including empty) falls back to ModeHybrid per the
// external-interface contract.
func ParseMode(s string) Mode {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case string(ModeKeyword):
		return ModeKeyword
	case string(ModeVector):
		return ModeVector
	default:
		return ModeHybrid
	}
}

// Weights is the §4.6 HybridWeights pair: the relative contribution of the
// lexical and vector score components to the combined score.
type Weights struct {
	KeywordWeight float64
	VectorWeight  float64
}

// DefaultWeights returns the §6 configuration-surface defaults (0.6/0.4).
func DefaultWeights() Weights {
	return Weights{KeywordWeight: 0.6, VectorWeight: 0.4}
}

// Validate enforces §4.6: both weights in [0,1], summing to 1.0 within
// floating-point tolerance. Applied both at startup and to any per-request
// override.
func (w Weights) Validate() error {
	if w.KeywordWeight < 0 || w.KeywordWeight > 1 {
		return &InvalidWeightsError{Reason: "keyword_weight must be between 0 and 1"}
	}
	if w.VectorWeight < 0 || w.VectorWeight > 1 {
		return &InvalidWeightsError{Reason: "vector_weight must be between 0 and 1"}
	}
	if sum := w.KeywordWeight + w.VectorWeight; sum < 0.99 || sum > 1.01 {
		return &InvalidWeightsError{Reason: "keyword_weight + vector_weight must equal 1.0"}
	}
	return nil
}

// InvalidWeightsError reports a Weights value that fails validation.
type InvalidWeightsError struct {
	Reason string
}

func (e *InvalidWeightsError) Error() string {
	return "invalid hybrid weights: " + e.Reason
}

// SearchOptions parametrizes a single Engine.Search call (§4.5 input).
type SearchOptions struct {
	Limit             int
	Offset            int
	Mode              Mode
	Filters           *store.Filters
	IncludeFieldMatch bool
	Transitive        bool
	Depth             int
	// Weights overrides the engine's configured default for this request
	// only. Nil means "use the configured default".
	Weights *Weights
}

// SearchResult is one row of the §6 Search API response body.
type SearchResult struct {
	Content             string
	EntityName          string
	EntityQualifiedName string
	EntityType          string
	SourceFile          string
	Language            string
	Repository          string
	Score               float64
	LineRange           store.LineRange
	DocSummary          string
	FieldMatch          *store.FieldMatch
	IsTransitive        bool
	RelationshipPath    []string

	// Diagnostic fields retained from fusion, not part of the wire response
	// but useful to callers that want to explain a ranking.
	LexicalScore float64
	VectorScore  float64
	InBothSets   bool
}

// SearchResponse is the full §6 Search API response body.
type SearchResponse struct {
	Results []*SearchResult
	Total   int
	Page    int
	Size    int
	Query   string
	TookMS  int64
	Facets  map[string][]store.FacetValue
	// Degraded is set when one back-end failed and results reflect only the
	// other (§7 propagation policy: "degrade gracefully... with a warning").
	Degraded bool
	Warning  string
}

// EngineConfig configures default behavior of Engine. Callers build this
// from the loaded megabrain.search.* configuration (internal/config); search
// itself does not depend on the config package to keep the dependency graph
// one-directional.
type EngineConfig struct {
	DefaultLimit   int
	MaxLimit       int
	DefaultWeights Weights
	Boosts         store.BoostConfiguration
	FacetsLimit    int
	DefaultDepth   int
	MaxDepth       int
	SearchTimeout  time.Duration
}

// DefaultEngineConfig returns the §6 configuration-surface defaults.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		DefaultLimit:   10,
		MaxLimit:       100,
		DefaultWeights: DefaultWeights(),
		Boosts:         store.DefaultBoostConfiguration(),
		FacetsLimit:    10,
		DefaultDepth:   5,
		MaxDepth:       10,
		SearchTimeout:  5 * time.Second,
	}
}

// TransitiveHit is one chunk added to a result set by transitive expansion
// (§4.11): a type reached by following extends/implements edges from a seed.
type TransitiveHit struct {
	Chunk *store.Chunk
	// Path is the chain of entity_qualified_name from seed to this hit,
	// inclusive of both ends.
	Path []string
}

// TransitiveResolver is the §4.11 contract: expand a seed set of type chunks
// by following structural inheritance edges, bounded by depth.
type TransitiveResolver interface {
	Expand(ctx context.Context, seeds []*store.Chunk, depth int) ([]TransitiveHit, error)
}

// SearchEngine is the public contract for the hybrid search orchestrator.
type SearchEngine interface {
	Search(ctx context.Context, query string, opts SearchOptions) (*SearchResponse, error)
	Index(ctx context.Context, chunks []*store.Chunk) error
	Delete(ctx context.Context, chunkIDs []string) error
	Stats() EngineStats
	Close() error
}

// EngineStats reports index-level statistics.
type EngineStats struct {
	VectorStats store.HNSWStats
}
