package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLexicalIndex(t *testing.T) *BleveLexicalIndex {
	t.Helper()
	idx, err := NewBleveLexicalIndex("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = idx.Close() })
	return idx
}

func sampleChunk(id, repo, file, entityName, content string) *Chunk {
	return &Chunk{
		ChunkID:             id,
		Content:             content,
		EntityName:          entityName,
		EntityQualifiedName: repo + "." + entityName,
		EntityType:          EntityFunction,
		Language:            "go",
		Repository:          repo,
		SourceFile:          file,
		LineRange:           LineRange{Start: 1, End: 10},
		ByteRange:           ByteRange{Start: 0, End: 100},
		Attributes:          NewAttributes(),
		DocSummary:          "",
	}
}

func TestBleveLexicalIndex_AddAndSearchByContent(t *testing.T) {
	// Given: a chunk whose content contains a distinctive camelCase identifier
	idx := newTestLexicalIndex(t)
	ctx := context.Background()
	chunk := sampleChunk("c1", "repo-a", "src/user.go", "getUserById", "func getUserById(id int) *User { return nil }")
	require.NoError(t, idx.AddChunks(ctx, []*Chunk{chunk}))

	// When: searching by a sub-token of the camelCase identifier
	hits, err := idx.Search(ctx, LexicalSearchRequest{Query: "user", Limit: 10, Boosts: DefaultBoostConfiguration()})

	// Then: the chunk is found
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "c1", hits[0].Chunk.ChunkID)
}

func TestBleveLexicalIndex_ExactIdentifierPhraseMatches(t *testing.T) {
	// Given: two chunks, one containing the exact compound identifier
	idx := newTestLexicalIndex(t)
	ctx := context.Background()
	require.NoError(t, idx.AddChunks(ctx, []*Chunk{
		sampleChunk("c1", "repo-a", "a.go", "getUserById", "getUserById does a lookup"),
		sampleChunk("c2", "repo-a", "b.go", "deleteUserById", "deleteUserById removes a row"),
	}))

	// When: searching for the whole original-case identifier
	hits, err := idx.Search(ctx, LexicalSearchRequest{Query: "getUserById", Limit: 10, Boosts: DefaultBoostConfiguration()})

	// Then: the exactly matching chunk is ranked first
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	assert.Equal(t, "c1", hits[0].Chunk.ChunkID)
}

func TestBleveLexicalIndex_FiltersByLanguageAndRepository(t *testing.T) {
	// Given: chunks across two languages and two repositories
	idx := newTestLexicalIndex(t)
	ctx := context.Background()
	goChunk := sampleChunk("go1", "repo-a", "a.go", "Parse", "parse tokens")
	goChunk.Language = "go"
	pyChunk := sampleChunk("py1", "repo-b", "b.py", "parse", "parse tokens")
	pyChunk.Language = "python"
	require.NoError(t, idx.AddChunks(ctx, []*Chunk{goChunk, pyChunk}))

	// When: searching restricted to Go
	hits, err := idx.Search(ctx, LexicalSearchRequest{
		Query:   "parse",
		Limit:   10,
		Filters: &Filters{Languages: []string{"go"}},
		Boosts:  DefaultBoostConfiguration(),
	})

	// Then: only the Go chunk is returned
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "go1", hits[0].Chunk.ChunkID)
}

func TestBleveLexicalIndex_ComputeFacetsExcludesOwnDimension(t *testing.T) {
	// Given: chunks spanning two languages, searched with a language filter
	idx := newTestLexicalIndex(t)
	ctx := context.Background()
	goChunk := sampleChunk("go1", "repo-a", "a.go", "Handler", "http handler")
	goChunk.Language = "go"
	rsChunk := sampleChunk("rs1", "repo-a", "b.rs", "handler", "http handler")
	rsChunk.Language = "rust"
	require.NoError(t, idx.AddChunks(ctx, []*Chunk{goChunk, rsChunk}))

	// When: computing the language facet while filtered to language=go
	facets, err := idx.ComputeFacets(ctx, FacetRequest{
		Query:             "handler",
		Filters:           &Filters{Languages: []string{"go"}},
		Fields:            []string{FacetLanguage},
		MaxValuesPerField: 10,
	})

	// Then: the language facet itself ignores the language filter (exclude-self),
	// so both go and rust counts are visible to let the user broaden the filter
	require.NoError(t, err)
	values := facets[FacetLanguage]
	total := 0
	for _, v := range values {
		total += v.Count
	}
	assert.Equal(t, 2, total)
}

func TestBleveLexicalIndex_RemoveByFile(t *testing.T) {
	// Given: two chunks from the same file and one from another
	idx := newTestLexicalIndex(t)
	ctx := context.Background()
	require.NoError(t, idx.AddChunks(ctx, []*Chunk{
		sampleChunk("c1", "repo-a", "same.go", "A", "alpha"),
		sampleChunk("c2", "repo-a", "same.go", "B", "beta"),
		sampleChunk("c3", "repo-a", "other.go", "C", "gamma"),
	}))

	// When: removing by file
	removed, err := idx.RemoveByFile(ctx, "same.go")

	// Then: exactly the two chunks from that file are gone
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	hits, err := idx.Search(ctx, LexicalSearchRequest{Query: "*", Limit: 10, Boosts: DefaultBoostConfiguration()})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "c3", hits[0].Chunk.ChunkID)
}

func TestBleveLexicalIndex_SearchDegradesOnMalformedQuerySyntax(t *testing.T) {
	// Given: an indexed chunk
	idx := newTestLexicalIndex(t)
	ctx := context.Background()
	require.NoError(t, idx.AddChunks(ctx, []*Chunk{
		sampleChunk("c1", "repo-a", "a.go", "Compute", "compute(x) total"),
	}))

	// When: searching with unbalanced query-string syntax that bleve's query
	// parser would otherwise reject outright
	hits, err := idx.Search(ctx, LexicalSearchRequest{Query: "compute(", Limit: 10, Boosts: DefaultBoostConfiguration()})

	// Then: the degrade chain still returns a usable (possibly empty) result,
	// never a hard parser error
	require.NoError(t, err)
	_ = hits
}

func TestBleveLexicalIndex_IncludeFieldMatch(t *testing.T) {
	// Given: a chunk matched on both entity_name and content
	idx := newTestLexicalIndex(t)
	ctx := context.Background()
	require.NoError(t, idx.AddChunks(ctx, []*Chunk{
		sampleChunk("c1", "repo-a", "a.go", "totalAmount", "returns the totalAmount for an order"),
	}))

	// When: searching with field match explanation requested
	hits, err := idx.Search(ctx, LexicalSearchRequest{
		Query:             "totalAmount",
		Limit:             10,
		IncludeFieldMatch: true,
		Boosts:            DefaultBoostConfiguration(),
	})

	// Then: FieldMatch is populated and lists at least one matched field
	require.NoError(t, err)
	require.Len(t, hits, 1)
	require.NotNil(t, hits[0].FieldMatch)
	assert.NotEmpty(t, hits[0].FieldMatch.MatchedFields)
}

func TestBoostConfiguration_Validate(t *testing.T) {
	// Given: a boost configuration with a non-positive multiplier
	b := BoostConfiguration{Content: 1.0, EntityName: 0, DocSummary: 2.0}

	// When/Then: validation fails
	assert.Error(t, b.Validate())

	// And: the defaults are always valid
	assert.NoError(t, DefaultBoostConfiguration().Validate())
}
