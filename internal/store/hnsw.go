package store

import (
	"bufio"
	"context"
	"encoding/gob"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sync"

	"github.com/coder/hnsw"
)

// VectorIndexConfig fixes the dimension and distance metric for a vector
// index at construction time. Dimension is immutable once chosen; every
// subsequent Upsert/Search vector is checked against it.
type VectorIndexConfig struct {
	Dimensions int
	Metric     string // "cos" (default) or "l2"
	M          int
	EfSearch   int
}

// IncompatibleVectorError reports a vector whose dimension does not match
// the index's fixed dimension.
type IncompatibleVectorError struct {
	Expected int
	Got      int
}

func (e IncompatibleVectorError) Error() string {
	return fmt.Sprintf("incompatible vector: expected %d dimensions, got %d", e.Expected, e.Got)
}

// VectorMatch is one hit from a Search call.
type VectorMatch struct {
	ChunkID    string
	Metadata   map[string]string
	Similarity float32
}

// VectorIndex is the §4.3 Vector Index contract: upsert-by-id, delete by id
// or by source file, and k-nearest-neighbor search by cosine similarity.
type VectorIndex interface {
	Upsert(ctx context.Context, chunkID string, metadata map[string]string, vector []float32) error
	Delete(ctx context.Context, chunkID string) error
	DeleteByFile(ctx context.Context, sourceFile string) error
	Search(ctx context.Context, queryVector []float32, limit int) ([]VectorMatch, error)
	Close() error
}

// HNSWVectorIndex implements VectorIndex using coder/hnsw, a pure Go HNSW
// implementation (no CGO).
type HNSWVectorIndex struct {
	mu     sync.RWMutex
	graph  *hnsw.Graph[uint64]
	config VectorIndexConfig

	idMap   map[string]uint64 // chunk_id -> internal key
	keyMap  map[uint64]string // internal key -> chunk_id
	nextKey uint64

	metadata map[string]map[string]string   // chunk_id -> metadata
	byFile   map[string]map[string]struct{} // source_file -> set of chunk_id

	closed bool
}

// hnswMetadata stores the ID/metadata mappings for persistence; the graph
// itself is exported/imported separately via coder/hnsw's own codec.
type hnswMetadata struct {
	IDMap    map[string]uint64
	NextKey  uint64
	Config   VectorIndexConfig
	Metadata map[string]map[string]string
	ByFile   map[string]map[string]struct{}
}

// NewHNSWVectorIndex creates a new HNSW-based vector index.
func NewHNSWVectorIndex(cfg VectorIndexConfig) (*HNSWVectorIndex, error) {
	if cfg.Metric == "" {
		cfg.Metric = "cos"
	}
	if cfg.M == 0 {
		cfg.M = 16 // coder/hnsw default recommendation
	}
	if cfg.EfSearch == 0 {
		cfg.EfSearch = 20 // coder/hnsw default
	}

	graph := hnsw.NewGraph[uint64]()

	switch cfg.Metric {
	case "cos":
		graph.Distance = hnsw.CosineDistance
	case "l2":
		graph.Distance = hnsw.EuclideanDistance
	default:
		graph.Distance = hnsw.CosineDistance
	}

	graph.M = cfg.M
	graph.EfSearch = cfg.EfSearch
	graph.Ml = 0.25 // coder/hnsw's default level generation factor

	return &HNSWVectorIndex{
		graph:    graph,
		config:   cfg,
		idMap:    make(map[string]uint64),
		keyMap:   make(map[uint64]string),
		metadata: make(map[string]map[string]string),
		byFile:   make(map[string]map[string]struct{}),
		nextKey:  0,
	}, nil
}

// Upsert inserts or replaces the vector and metadata for chunkID.
//
// If chunkID already exists, the prior node is orphaned rather than deleted
// from the graph: coder/hnsw has a documented bug where deleting the last
// remaining node corrupts the graph, so both Upsert-replace and Delete use
// lazy deletion (drop the id/key mapping, leave the node in place).
func (s *HNSWVectorIndex) Upsert(ctx context.Context, chunkID string, metadata map[string]string, vector []float32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("vector index is closed")
	}

	if len(vector) != s.config.Dimensions {
		return IncompatibleVectorError{Expected: s.config.Dimensions, Got: len(vector)}
	}

	s.removeLocked(chunkID)

	key := s.nextKey
	s.nextKey++

	vec := make([]float32, len(vector))
	copy(vec, vector)
	if s.config.Metric == "cos" {
		normalizeVectorInPlace(vec)
	}

	node := hnsw.MakeNode(key, vec)
	s.graph.Add(node)

	s.idMap[chunkID] = key
	s.keyMap[key] = chunkID

	meta := make(map[string]string, len(metadata))
	for k, v := range metadata {
		meta[k] = v
	}
	s.metadata[chunkID] = meta

	if sourceFile, ok := metadata[AttrSourceFile]; ok && sourceFile != "" {
		if s.byFile[sourceFile] == nil {
			s.byFile[sourceFile] = make(map[string]struct{})
		}
		s.byFile[sourceFile][chunkID] = struct{}{}
	}

	return nil
}

// Search finds the k nearest neighbors of queryVector by cosine similarity.
func (s *HNSWVectorIndex) Search(ctx context.Context, queryVector []float32, limit int) ([]VectorMatch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, fmt.Errorf("vector index is closed")
	}

	if len(queryVector) != s.config.Dimensions {
		return nil, IncompatibleVectorError{Expected: s.config.Dimensions, Got: len(queryVector)}
	}

	if s.graph.Len() == 0 {
		return []VectorMatch{}, nil
	}

	query := make([]float32, len(queryVector))
	copy(query, queryVector)
	if s.config.Metric == "cos" {
		normalizeVectorInPlace(query)
	}

	nodes := s.graph.Search(query, limit)

	results := make([]VectorMatch, 0, len(nodes))
	for _, node := range nodes {
		chunkID, exists := s.keyMap[node.Key]
		if !exists {
			// Orphaned (lazy-deleted) node; skip.
			continue
		}

		distance := s.graph.Distance(query, node.Value)
		similarity := 1.0 - distance

		meta := s.metadata[chunkID]
		metaCopy := make(map[string]string, len(meta))
		for k, v := range meta {
			metaCopy[k] = v
		}

		results = append(results, VectorMatch{
			ChunkID:    chunkID,
			Metadata:   metaCopy,
			Similarity: similarity,
		})
	}

	return results, nil
}

// Delete removes chunkID's vector.
func (s *HNSWVectorIndex) Delete(ctx context.Context, chunkID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("vector index is closed")
	}

	s.removeLocked(chunkID)
	return nil
}

// DeleteByFile removes every chunk indexed from sourceFile, via the
// secondary source_file -> chunk_id index maintained alongside idMap/keyMap.
func (s *HNSWVectorIndex) DeleteByFile(ctx context.Context, sourceFile string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("vector index is closed")
	}

	ids, ok := s.byFile[sourceFile]
	if !ok {
		return nil
	}

	for chunkID := range ids {
		s.removeLocked(chunkID)
	}
	delete(s.byFile, sourceFile)

	return nil
}

// removeLocked drops chunkID's id/key/metadata mappings without touching the
// graph itself (lazy deletion). Caller holds s.mu.
func (s *HNSWVectorIndex) removeLocked(chunkID string) {
	key, exists := s.idMap[chunkID]
	if !exists {
		return
	}

	delete(s.keyMap, key)
	delete(s.idMap, chunkID)

	if meta, ok := s.metadata[chunkID]; ok {
		if sourceFile := meta[AttrSourceFile]; sourceFile != "" {
			if set, ok := s.byFile[sourceFile]; ok {
				delete(set, chunkID)
				if len(set) == 0 {
					delete(s.byFile, sourceFile)
				}
			}
		}
	}
	delete(s.metadata, chunkID)
}

// AllIDs returns every chunk_id currently present in the index.
func (s *HNSWVectorIndex) AllIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil
	}

	ids := make([]string, 0, len(s.idMap))
	for id := range s.idMap {
		ids = append(ids, id)
	}
	return ids
}

// Contains reports whether chunkID is present.
func (s *HNSWVectorIndex) Contains(chunkID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return false
	}

	_, exists := s.idMap[chunkID]
	return exists
}

// Count returns the number of live (non-orphaned) vectors.
func (s *HNSWVectorIndex) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return 0
	}

	return len(s.idMap)
}

// HNSWStats reports orphan counts for background compaction decisions.
type HNSWStats struct {
	ValidIDs   int // live id mappings
	GraphNodes int // total nodes in the graph, including orphans
	Orphans    int // GraphNodes - ValidIDs (lazy-deleted nodes)
}

// Stats returns index statistics.
func (s *HNSWVectorIndex) Stats() HNSWStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return HNSWStats{}
	}

	validIDs := len(s.idMap)
	graphNodes := s.graph.Len()

	return HNSWStats{
		ValidIDs:   validIDs,
		GraphNodes: graphNodes,
		Orphans:    graphNodes - validIDs,
	}
}

// Save persists the index to disk: the HNSW graph itself via coder/hnsw's
// Export, and the id/metadata mappings via gob. Both writes are atomic
// (temp file + rename).
func (s *HNSWVectorIndex) Save(path string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return fmt.Errorf("vector index is closed")
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	tmpIndexPath := path + ".tmp"
	file, err := os.Create(tmpIndexPath)
	if err != nil {
		return fmt.Errorf("failed to create index file: %w", err)
	}

	if err := s.graph.Export(file); err != nil {
		file.Close()
		os.Remove(tmpIndexPath)
		return fmt.Errorf("failed to export graph: %w", err)
	}

	if err := file.Close(); err != nil {
		os.Remove(tmpIndexPath)
		return fmt.Errorf("failed to close index file: %w", err)
	}

	if err := os.Rename(tmpIndexPath, path); err != nil {
		os.Remove(tmpIndexPath)
		return fmt.Errorf("failed to rename index file: %w", err)
	}

	metaPath := path + ".meta"
	if err := s.saveMetadata(metaPath); err != nil {
		return fmt.Errorf("failed to save metadata: %w", err)
	}

	return nil
}

func (s *HNSWVectorIndex) saveMetadata(path string) error {
	tmpPath := path + ".tmp"
	file, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("create temp metadata file: %w", err)
	}

	meta := hnswMetadata{
		IDMap:    s.idMap,
		NextKey:  s.nextKey,
		Config:   s.config,
		Metadata: s.metadata,
		ByFile:   s.byFile,
	}

	encoder := gob.NewEncoder(file)
	if err := encoder.Encode(meta); err != nil {
		if closeErr := file.Close(); closeErr != nil {
			slog.Warn("failed to close temp file during cleanup", slog.String("error", closeErr.Error()))
		}
		os.Remove(tmpPath)
		return fmt.Errorf("encode metadata: %w", err)
	}

	if err := file.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close metadata file: %w", err)
	}

	return os.Rename(tmpPath, path)
}

// Load loads the index from disk.
func (s *HNSWVectorIndex) Load(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("vector index is closed")
	}

	metaPath := path + ".meta"
	if err := s.loadMetadata(metaPath); err != nil {
		return fmt.Errorf("failed to load metadata: %w", err)
	}

	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open index file: %w", err)
	}
	defer file.Close()

	// Use bufio.Reader because coder/hnsw Import requires io.ByteReader.
	reader := bufio.NewReader(file)
	if err := s.graph.Import(reader); err != nil {
		return fmt.Errorf("failed to import graph: %w", err)
	}

	return nil
}

func (s *HNSWVectorIndex) loadMetadata(path string) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open metadata file: %w", err)
	}
	defer func() {
		if err := file.Close(); err != nil {
			slog.Warn("failed to close metadata file", slog.String("error", err.Error()))
		}
	}()

	var meta hnswMetadata

	decoder := gob.NewDecoder(file)
	if err := decoder.Decode(&meta); err != nil {
		return fmt.Errorf("decode hnsw metadata: %w", err)
	}

	s.idMap = meta.IDMap
	s.keyMap = make(map[uint64]string)
	s.nextKey = meta.NextKey
	s.config = meta.Config
	s.metadata = meta.Metadata
	if s.metadata == nil {
		s.metadata = make(map[string]map[string]string)
	}
	s.byFile = meta.ByFile
	if s.byFile == nil {
		s.byFile = make(map[string]map[string]struct{})
	}

	for id, key := range s.idMap {
		s.keyMap[key] = id
	}

	return nil
}

// Close releases resources.
func (s *HNSWVectorIndex) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}

	s.closed = true
	s.graph = nil

	return nil
}

// ReadHNSWVectorIndexDimensions reads the dimension recorded in an existing
// index's metadata file, or 0 if none exists yet (fresh start). path should
// be the vector index path (e.g. "vectors.hnsw"), not the meta file path.
func ReadHNSWVectorIndexDimensions(path string) (int, error) {
	metaPath := path + ".meta"

	file, err := os.Open(metaPath)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to open hnsw metadata: %w", err)
	}
	defer func() {
		if err := file.Close(); err != nil {
			slog.Warn("failed to close hnsw metadata file", slog.String("error", err.Error()))
		}
	}()

	var meta hnswMetadata
	decoder := gob.NewDecoder(file)
	if err := decoder.Decode(&meta); err != nil {
		return 0, fmt.Errorf("failed to decode hnsw metadata: %w", err)
	}

	return meta.Config.Dimensions, nil
}

var _ VectorIndex = (*HNSWVectorIndex)(nil)

// normalizeVectorInPlace normalizes a vector to unit length in place.
func normalizeVectorInPlace(v []float32) {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}
	if sumSquares == 0 {
		return
	}
	invMagnitude := float32(1.0 / math.Sqrt(sumSquares))
	for i := range v {
		v[i] *= invMagnitude
	}
}
