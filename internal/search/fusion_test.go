package search

import (
	"testing"

	"github.com/Aman-CERP/amanmcp/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func lexHit(chunkID string, score float64) *store.LexicalHit {
	return &store.LexicalHit{
		Chunk:    &store.Chunk{ChunkID: chunkID, LineRange: store.LineRange{Start: 1, End: 2}},
		RawScore: score,
	}
}

func vecMatch(chunkID string, sim float32) store.VectorMatch {
	return store.VectorMatch{ChunkID: chunkID, Similarity: sim, Metadata: map[string]string{}}
}

func TestFuse_EmptyBothSets_ReturnsEmptySlice(t *testing.T) {
	results := NewFusion().Fuse(nil, nil, DefaultWeights())
	require.NotNil(t, results)
	assert.Empty(t, results)
}

func TestFuse_LexicalOnly_VectorContributesZero(t *testing.T) {
	lex := []*store.LexicalHit{lexHit("A", 10), lexHit("B", 5)}

	results := NewFusion().Fuse(lex, nil, Weights{KeywordWeight: 0.6, VectorWeight: 0.4})

	require.Len(t, results, 2)
	// A has the max lexical score -> norm 1.0, combined = 0.6*1.0 = 0.6
	assert.Equal(t, "A", results[0].ChunkID)
	assert.InDelta(t, 0.6, results[0].Combined, 1e-9)
	// B has the min -> norm 0.0, combined = 0
	assert.Equal(t, "B", results[1].ChunkID)
	assert.InDelta(t, 0.0, results[1].Combined, 1e-9)
	assert.False(t, results[0].InVector)
	assert.True(t, results[0].InLexical)
}

func TestFuse_VectorOnly_LexicalContributesZero(t *testing.T) {
	vec := []store.VectorMatch{vecMatch("X", 0.9), vecMatch("Y", 0.1)}

	results := NewFusion().Fuse(nil, vec, Weights{KeywordWeight: 0.6, VectorWeight: 0.4})

	require.Len(t, results, 2)
	assert.Equal(t, "X", results[0].ChunkID)
	assert.InDelta(t, 0.4, results[0].Combined, 1e-9)
	assert.Equal(t, "Y", results[1].ChunkID)
	assert.InDelta(t, 0.0, results[1].Combined, 1e-9)
	assert.False(t, results[0].InLexical)
	assert.True(t, results[0].InVector)
}

func TestFuse_SingleBucket_NormalizesToOne(t *testing.T) {
	lex := []*store.LexicalHit{lexHit("A", 3), lexHit("B", 3)}

	results := NewFusion().Fuse(lex, nil, DefaultWeights())

	require.Len(t, results, 2)
	for _, r := range results {
		assert.InDelta(t, 1.0, r.NormLex, 1e-9)
	}
}

func TestFuse_OverlappingChunk_CombinesBothComponents(t *testing.T) {
	lex := []*store.LexicalHit{lexHit("A", 10), lexHit("B", 0)}
	vec := []store.VectorMatch{vecMatch("A", 0.2), vecMatch("B", 1.0)}
	weights := Weights{KeywordWeight: 0.6, VectorWeight: 0.4}

	results := NewFusion().Fuse(lex, vec, weights)

	require.Len(t, results, 2)
	byID := map[string]*FusedResult{}
	for _, r := range results {
		byID[r.ChunkID] = r
	}

	a := byID["A"]
	require.NotNil(t, a)
	assert.True(t, a.InLexical)
	assert.True(t, a.InVector)
	// A: norm_lex=1.0 (max lex), norm_vec=0.0 (min vec) -> combined = 0.6
	assert.InDelta(t, 0.6, a.Combined, 1e-9)

	b := byID["B"]
	require.NotNil(t, b)
	// B: norm_lex=0.0 (min lex), norm_vec=1.0 (max vec) -> combined = 0.4
	assert.InDelta(t, 0.4, b.Combined, 1e-9)
}

func TestFuse_PrefersLexicalMetadataOnOverlap(t *testing.T) {
	lex := []*store.LexicalHit{lexHit("A", 1)}
	lex[0].Chunk.Content = "lexical content"
	vec := []store.VectorMatch{{ChunkID: "A", Similarity: 0.5, Metadata: map[string]string{"content": "vector content"}}}

	results := NewFusion().Fuse(lex, vec, DefaultWeights())

	require.Len(t, results, 1)
	assert.Equal(t, "lexical content", results[0].Chunk.Content)
}

func TestFuse_VectorOnlyHit_ReconstructsChunkFromMetadata(t *testing.T) {
	vec := []store.VectorMatch{{
		ChunkID:    "Z",
		Similarity: 0.8,
		Metadata:   store.ChunkToVectorMetadata(&store.Chunk{ChunkID: "Z", Content: "snippet", LineRange: store.LineRange{Start: 3, End: 8}}),
	}}

	results := NewFusion().Fuse(nil, vec, DefaultWeights())

	require.Len(t, results, 1)
	require.NotNil(t, results[0].Chunk)
	assert.Equal(t, "snippet", results[0].Chunk.Content)
	assert.Equal(t, 3, results[0].Chunk.LineRange.Start)
}

func TestFuse_TieBreaksByChunkIDAscending(t *testing.T) {
	lex := []*store.LexicalHit{lexHit("B", 5), lexHit("A", 5), lexHit("C", 5)}

	results := NewFusion().Fuse(lex, nil, DefaultWeights())

	require.Len(t, results, 3)
	assert.Equal(t, []string{"A", "B", "C"}, []string{results[0].ChunkID, results[1].ChunkID, results[2].ChunkID})
}

func TestFuse_SortedByCombinedDescending(t *testing.T) {
	lex := []*store.LexicalHit{lexHit("low", 1), lexHit("high", 100), lexHit("mid", 50)}

	results := NewFusion().Fuse(lex, nil, DefaultWeights())

	require.Len(t, results, 3)
	for i := 1; i < len(results); i++ {
		assert.GreaterOrEqual(t, results[i-1].Combined, results[i].Combined)
	}
}

func TestMinMaxNormalize_EmptySet_ReturnsEmptyMap(t *testing.T) {
	out := minMaxNormalize(map[string]float64{})
	assert.Empty(t, out)
}

func TestMinMaxNormalize_SingleBucket_AllOne(t *testing.T) {
	out := minMaxNormalize(map[string]float64{"a": 7, "b": 7, "c": 7})
	for _, v := range out {
		assert.InDelta(t, 1.0, v, 1e-9)
	}
}

func TestMinMaxNormalize_ScalesToUnitRange(t *testing.T) {
	out := minMaxNormalize(map[string]float64{"a": 0, "b": 5, "c": 10})
	assert.InDelta(t, 0.0, out["a"], 1e-9)
	assert.InDelta(t, 0.5, out["b"], 1e-9)
	assert.InDelta(t, 1.0, out["c"], 1e-9)
}

func TestWeights_Validate_RejectsOutOfRangeAndNonUnitSum(t *testing.T) {
	cases := []struct {
		name string
		w    Weights
		ok   bool
	}{
		{"valid default", DefaultWeights(), true},
		{"valid custom", Weights{KeywordWeight: 0.3, VectorWeight: 0.7}, true},
		{"negative keyword", Weights{KeywordWeight: -0.1, VectorWeight: 1.1}, false},
		{"keyword over one", Weights{KeywordWeight: 1.5, VectorWeight: -0.5}, false},
		{"sum not one", Weights{KeywordWeight: 0.9, VectorWeight: 0.9}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.w.Validate()
			if tc.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}
