package search

import (
	"sort"

	"github.com/Aman-CERP/amanmcp/internal/store"
)

// FusedResult is one result row after normalization and combination (§4.5
// steps 4-7): a chunk scored against the normalized lexical and/or vector
// sets, deduplicated by chunk_id.
type FusedResult struct {
	ChunkID      string
	Chunk        *store.Chunk
	FieldMatch   *store.FieldMatch
	Combined     float64 // k_w*norm_lex + v_w*norm_vec
	NormLex      float64
	NormVec      float64
	RawLex       float64
	RawVec       float64
	InLexical    bool
	InVector     bool
	MatchedTerms []string
}

// Fusion combines independently-normalized lexical and vector result sets
// into a single ranked, deduplicated list.
type Fusion struct{}

// NewFusion returns a ready-to-use Fusion. It holds no state: the weights
// that govern a combination are supplied per call so per-request overrides
// (§4.6) require no reconstruction.
func NewFusion() *Fusion {
	return &Fusion{}
}

// Fuse implements §4.5 steps 4-7: min-max normalize each set independently,
// merge by chunk_id with combined = keyword_weight*norm_lex +
// vector_weight*norm_vec (missing side contributes 0), dedupe preferring
// lexical metadata, then sort by combined descending with chunk_id ascending
// as the deterministic tie-break.
func (f *Fusion) Fuse(lexHits []*store.LexicalHit, vecHits []store.VectorMatch, weights Weights) []*FusedResult {
	if len(lexHits) == 0 && len(vecHits) == 0 {
		return []*FusedResult{}
	}

	lexRaw := make(map[string]float64, len(lexHits))
	for _, h := range lexHits {
		lexRaw[h.Chunk.ChunkID] = h.RawScore
	}
	vecRaw := make(map[string]float64, len(vecHits))
	for _, m := range vecHits {
		vecRaw[m.ChunkID] = float64(m.Similarity)
	}

	normLex := minMaxNormalize(lexRaw)
	normVec := minMaxNormalize(vecRaw)

	merged := make(map[string]*FusedResult, len(lexHits)+len(vecHits))

	for _, h := range lexHits {
		r := f.getOrCreate(merged, h.Chunk.ChunkID)
		r.Chunk = h.Chunk
		r.FieldMatch = h.FieldMatch
		r.RawLex = h.RawScore
		r.NormLex = normLex[h.Chunk.ChunkID]
		r.InLexical = true
	}

	for _, m := range vecHits {
		r := f.getOrCreate(merged, m.ChunkID)
		r.RawVec = float64(m.Similarity)
		r.NormVec = normVec[m.ChunkID]
		r.InVector = true
		if r.Chunk == nil {
			// Vector-only hit: reconstruct enough of a Chunk from the flat
			// metadata map to render a result (§4.5 step 6: prefer lexical
			// metadata, fall back to vector metadata).
			r.Chunk = store.ChunkFromVectorMetadata(m.ChunkID, m.Metadata)
		}
	}

	for _, r := range merged {
		r.Combined = weights.KeywordWeight*r.NormLex + weights.VectorWeight*r.NormVec
	}

	return f.toSortedSlice(merged)
}

// getOrCreate returns the existing partial result for id, creating one if
// this is its first sighting in either set.
func (f *Fusion) getOrCreate(m map[string]*FusedResult, id string) *FusedResult {
	if r, ok := m[id]; ok {
		return r
	}
	r := &FusedResult{ChunkID: id}
	m[id] = r
	return r
}

// toSortedSlice converts the merge map to a slice sorted by combined score
// descending, breaking ties by chunk_id ascending for a stable, deterministic
// ordering (§4.5 step 7).
func (f *Fusion) toSortedSlice(m map[string]*FusedResult) []*FusedResult {
	results := make([]*FusedResult, 0, len(m))
	for _, r := range m {
		results = append(results, r)
	}

	sort.Slice(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if a.Combined != b.Combined {
			return a.Combined > b.Combined
		}
		return a.ChunkID < b.ChunkID
	})

	return results
}

// minMaxNormalize scales a score set to [0,1]: (s-min)/(max-min) when
// max>min; 1.0 for every entry in a single-bucket (all-equal) nonempty set;
// an empty map for an empty set (§4.5 step 4).
func minMaxNormalize(scores map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(scores))
	if len(scores) == 0 {
		return out
	}

	min, max := scoreBounds(scores)

	if max > min {
		for id, s := range scores {
			out[id] = (s - min) / (max - min)
		}
	} else {
		for id := range scores {
			out[id] = 1.0
		}
	}
	return out
}

func scoreBounds(scores map[string]float64) (min, max float64) {
	first := true
	for _, s := range scores {
		if first {
			min, max = s, s
			first = false
			continue
		}
		if s < min {
			min = s
		}
		if s > max {
			max = s
		}
	}
	return min, max
}
