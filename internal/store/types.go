// Package store provides the lexical index (bleve), vector index (HNSW), and
// durable state persistence (SQLite) that back the search and indexing engine.
package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// EntityType identifies the syntactic kind of a Chunk.
type EntityType string

const (
	EntityClass       EntityType = "class"
	EntityInterface   EntityType = "interface"
	EntityEnum        EntityType = "enum"
	EntityRecord      EntityType = "record"
	EntityAnnotation  EntityType = "annotation"
	EntityMethod      EntityType = "method"
	EntityConstructor EntityType = "constructor"
	EntityFunction    EntityType = "function"
	EntityStruct      EntityType = "struct"
	EntityTrait       EntityType = "trait"
	EntityImpl        EntityType = "impl"
	EntityUnion       EntityType = "union"
	EntityGenericType EntityType = "type" // the catch-all "type" entity_type value from the data model
)

// Well-known Attributes keys. Language-specific parsers are free to add more;
// these are the ones the Transitive Graph Resolver (internal/graph) and the
// document mapper understand.
const (
	AttrPackage        = "package"
	AttrModifiers      = "modifiers"
	AttrAnnotations    = "annotations"
	AttrParameters     = "parameters"
	AttrReturnType     = "return_type"
	AttrEnclosingType  = "enclosing_type"
	AttrSuperclass     = "superclass"
	AttrInterfaces     = "interfaces"
	AttrThrows         = "throws"
)

// Vector index metadata keys. These are not Chunk.Attributes entries; they
// are the flat metadata map passed to VectorIndex.Upsert, used to recover
// enough of a Chunk to serve a hybrid search hit without a second lookup and
// to drive VectorIndex.DeleteByFile.
const (
	AttrSourceFile          = "source_file"
	metaChunkID             = "chunk_id"
	metaContent             = "content"
	metaEntityName          = "entity_name"
	metaEntityQualifiedName = "entity_qualified_name"
	metaEntityType          = "entity_type"
	metaLanguage            = "language"
	metaRepository          = "repository"
	metaDocSummary          = "doc_summary"
	metaLineStart           = "line_start"
	metaLineEnd             = "line_end"
)

// ChunkToVectorMetadata flattens the fields of a Chunk a vector-only hit
// needs to render into the metadata map passed to VectorIndex.Upsert. Content
// is included so a vector-only hit still has a snippet to show; Attributes
// are not (they are lexical-index/transitive-resolver concerns, irrelevant to
// a bare vector match).
func ChunkToVectorMetadata(c *Chunk) map[string]string {
	return map[string]string{
		metaChunkID:             c.ChunkID,
		metaContent:             c.Content,
		metaEntityName:          c.EntityName,
		metaEntityQualifiedName: c.EntityQualifiedName,
		metaEntityType:          string(c.EntityType),
		metaLanguage:            c.Language,
		metaRepository:          c.Repository,
		AttrSourceFile:          c.SourceFile,
		metaDocSummary:          c.DocSummary,
		metaLineStart:           fmt.Sprintf("%d", c.LineRange.Start),
		metaLineEnd:             fmt.Sprintf("%d", c.LineRange.End),
	}
}

// ChunkFromVectorMetadata reconstructs a minimal Chunk from a VectorMatch's
// metadata map, for hits that have no corresponding lexical-index row.
func ChunkFromVectorMetadata(chunkID string, metadata map[string]string) *Chunk {
	var start, end int
	fmt.Sscanf(metadata[metaLineStart], "%d", &start)
	fmt.Sscanf(metadata[metaLineEnd], "%d", &end)
	return &Chunk{
		ChunkID:             chunkID,
		Content:             metadata[metaContent],
		EntityName:          metadata[metaEntityName],
		EntityQualifiedName: metadata[metaEntityQualifiedName],
		EntityType:          EntityType(metadata[metaEntityType]),
		Language:            metadata[metaLanguage],
		Repository:          metadata[metaRepository],
		SourceFile:          metadata[AttrSourceFile],
		LineRange:           LineRange{Start: start, End: end},
		DocSummary:          metadata[metaDocSummary],
	}
}

// LineRange is an inclusive, 1-based source line span.
type LineRange struct {
	Start int
	End   int
}

// ByteRange is an inclusive byte offset span within SourceFile.
type ByteRange struct {
	Start int
	End   int
}

// Attributes is an insertion-ordered string->string map. A plain Go map
// cannot preserve the ordering the data model calls for (language-specific
// metadata such as parameters or annotations reads naturally in declaration
// order), so this keeps a parallel key slice.
type Attributes struct {
	keys   []string
	values map[string]string
}

// NewAttributes returns an empty, ready-to-use Attributes.
func NewAttributes() *Attributes {
	return &Attributes{values: make(map[string]string)}
}

// Set inserts or updates a key, preserving first-insertion order.
func (a *Attributes) Set(key, value string) {
	if a.values == nil {
		a.values = make(map[string]string)
	}
	if _, exists := a.values[key]; !exists {
		a.keys = append(a.keys, key)
	}
	a.values[key] = value
}

// Get returns the value for key and whether it was present.
func (a *Attributes) Get(key string) (string, bool) {
	if a == nil || a.values == nil {
		return "", false
	}
	v, ok := a.values[key]
	return v, ok
}

// Keys returns attribute keys in insertion order.
func (a *Attributes) Keys() []string {
	if a == nil {
		return nil
	}
	out := make([]string, len(a.keys))
	copy(out, a.keys)
	return out
}

// Len reports the number of attributes.
func (a *Attributes) Len() int {
	if a == nil {
		return 0
	}
	return len(a.keys)
}

// Chunk is the atomic unit of indexing: one code entity (class, method,
// function, ...) with enough metadata to be both lexically and semantically
// searchable and to participate in transitive graph resolution.
type Chunk struct {
	ChunkID             string
	Content             string
	EntityName          string
	EntityQualifiedName string
	EntityType          EntityType
	Language            string
	Repository          string
	SourceFile          string
	LineRange           LineRange
	ByteRange           ByteRange
	Attributes          *Attributes
	DocSummary          string
}

// Validate enforces the data-model invariants on line numbering.
func (c *Chunk) Validate() error {
	if c.LineRange.Start < 1 {
		return fmt.Errorf("chunk %s: start_line must be >= 1, got %d", c.ChunkID, c.LineRange.Start)
	}
	if c.LineRange.End < c.LineRange.Start {
		return fmt.Errorf("chunk %s: end_line (%d) must be >= start_line (%d)", c.ChunkID, c.LineRange.End, c.LineRange.Start)
	}
	return nil
}

// ComputeChunkID derives the stable, deterministic chunk_id from the tuple
// the data model specifies: (repository, source_file, entity_qualified_name,
// byte_range). Re-indexing the same entity unchanged yields the same ID.
func ComputeChunkID(repository, sourceFile, entityQualifiedName string, byteRange ByteRange) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s\x00%s\x00%s\x00%d\x00%d", repository, sourceFile, entityQualifiedName, byteRange.Start, byteRange.End)
	return hex.EncodeToString(h.Sum(nil))
}

// RepositoryIndexState is the durable record of how far a repository has
// been ingested. Unique by RepositoryURL; mutated atomically by the
// Incremental Indexer (or the full pipeline) at the end of a successful pass.
type RepositoryIndexState struct {
	RepositoryURL     string
	LastIndexedCommit string // always a resolved SHA, never the symbolic "HEAD"
	LastIndexedAt     time.Time
}

// FileChangeKind tags the variant of a FileChange.
type FileChangeKind string

const (
	FileAdded    FileChangeKind = "added"
	FileModified FileChangeKind = "modified"
	FileDeleted  FileChangeKind = "deleted"
	FileRenamed  FileChangeKind = "renamed"
)

// FileChange is the tagged variant describing one file's change between two
// commits. Path is populated for Added/Modified/Deleted; OldPath/NewPath are
// populated for Renamed.
type FileChange struct {
	Kind    FileChangeKind
	Path    string
	OldPath string
	NewPath string
}

// RepositoryStateStore is the contract for §4.9: durable mapping from
// repository URL to last-indexed commit, atomic per key, serialized
// concurrent writes to the same URL.
type RepositoryStateStore interface {
	Get(ctx context.Context, url string) (*RepositoryIndexState, bool, error)
	Put(ctx context.Context, state *RepositoryIndexState) error
	Exists(ctx context.Context, url string) (bool, error)
	Delete(ctx context.Context, url string) (bool, error)
	Close() error
}

// FieldKind classifies how a DocumentMapper field is stored and searched.
type FieldKind string

const (
	FieldKeyword      FieldKind = "keyword"
	FieldText         FieldKind = "text"
	FieldTextKeyword  FieldKind = "text+keyword"
	FieldNumeric      FieldKind = "numeric"
)

// FieldSpec is one row of the static field catalog (§4.1). It exists so the
// catalog can be inspected and iterated instead of relying on reflection
// over the Chunk struct.
type FieldSpec struct {
	Name      string
	Kind      FieldKind
	Stored    bool
	Tokenized bool
}

// FieldCatalog is the literal field catalog from §4.1.
var FieldCatalog = []FieldSpec{
	{Name: "chunk_id", Kind: FieldKeyword, Stored: true, Tokenized: false},
	{Name: "content", Kind: FieldText, Stored: true, Tokenized: true},
	{Name: "entity_name", Kind: FieldTextKeyword, Stored: true, Tokenized: true},
	{Name: "entity_qualified_name", Kind: FieldKeyword, Stored: true, Tokenized: false},
	{Name: "entity_type", Kind: FieldKeyword, Stored: true, Tokenized: false},
	{Name: "language", Kind: FieldKeyword, Stored: true, Tokenized: false},
	{Name: "repository", Kind: FieldKeyword, Stored: true, Tokenized: false},
	{Name: "source_file", Kind: FieldKeyword, Stored: true, Tokenized: false},
	{Name: "doc_summary", Kind: FieldText, Stored: true, Tokenized: true},
	{Name: "start_line", Kind: FieldNumeric, Stored: true, Tokenized: false},
	{Name: "end_line", Kind: FieldNumeric, Stored: true, Tokenized: false},
}

// FacetField names the dimensions faceting is computed over.
const (
	FacetLanguage   = "language"
	FacetRepository = "repository"
	FacetEntityType = "entity_type"
)

// FacetFields is the fixed set of facet-eligible fields.
var FacetFields = []string{FacetLanguage, FacetRepository, FacetEntityType}

// FacetValue is one (value, count) pair in a facet response.
type FacetValue struct {
	Value string `json:"value"`
	Count int    `json:"count"`
}

// Filters restricts search results: conjunction across dimensions,
// disjunction within a dimension. SourceFilePrefixes are matched as prefixes;
// the rest are matched exactly.
type Filters struct {
	Languages           []string
	Repositories        []string
	SourceFilePrefixes  []string
	EntityTypes         []string
}

// Empty reports whether no filter dimension is populated.
func (f *Filters) Empty() bool {
	if f == nil {
		return true
	}
	return len(f.Languages) == 0 && len(f.Repositories) == 0 && len(f.SourceFilePrefixes) == 0 && len(f.EntityTypes) == 0
}

// CurrentSchemaVersion is the current on-disk schema version for the
// repository state store.
const CurrentSchemaVersion = 1
