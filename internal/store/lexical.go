package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/custom"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/analysis/token/lowercase"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/query"
	"github.com/blevesearch/bleve/v2/registry"
	"github.com/blevesearch/bleve/v2/search"
	lru "github.com/hashicorp/golang-lru/v2"
)

const (
	// CodeTokenizerName is the name of the custom code tokenizer.
	CodeTokenizerName = "code_tokenizer"
	// CodeStopFilterName is the name of the custom stop word filter.
	CodeStopFilterName = "code_stop"
	// CodeAnalyzerName is the name of the custom code analyzer.
	CodeAnalyzerName = "code_analyzer"
)

func init() {
	_ = registry.RegisterTokenizer(CodeTokenizerName, codeTokenizerConstructor)
	_ = registry.RegisterTokenFilter(CodeStopFilterName, codeStopFilterConstructor)
}

// Default field boosts (§4.2, §4.6 defaults).
const (
	DefaultBoostEntityName = 3.0
	DefaultBoostDocSummary = 2.0
	DefaultBoostContent    = 1.0
)

// BoostConfiguration holds per-field positive multipliers applied at query
// time. Validated at startup; violations are fatal (§4.6).
type BoostConfiguration struct {
	Content    float64
	EntityName float64
	DocSummary float64
}

// DefaultBoostConfiguration returns the §4.2 defaults.
func DefaultBoostConfiguration() BoostConfiguration {
	return BoostConfiguration{
		Content:    DefaultBoostContent,
		EntityName: DefaultBoostEntityName,
		DocSummary: DefaultBoostDocSummary,
	}
}

// Validate enforces that every boost is a positive multiplier.
func (b BoostConfiguration) Validate() error {
	for name, v := range map[string]float64{"content": b.Content, "entity_name": b.EntityName, "doc_summary": b.DocSummary} {
		if v <= 0 {
			return fmt.Errorf("boost.%s must be positive, got %v", name, v)
		}
	}
	return nil
}

// LexicalSearchRequest parametrizes LexicalIndex.Search.
type LexicalSearchRequest struct {
	Query             string
	Limit             int
	Filters           *Filters
	IncludeFieldMatch bool
	Boosts            BoostConfiguration
}

// FieldMatch describes which fields contributed to a hit's score, requested
// via include_field_match (§4.2). Populating it is O(per-hit) costly, so it
// is opt-in: scores are computed by re-running a field-scoped query
// restricted to the single matched document, not by parsing bleve's internal
// explanation tree (whose format is not a stable public contract).
type FieldMatch struct {
	MatchedFields []string
	Scores        map[string]float64
}

// LexicalHit is one scored result from the lexical index.
type LexicalHit struct {
	Chunk      *Chunk
	RawScore   float64
	FieldMatch *FieldMatch
}

// FacetRequest parametrizes LexicalIndex.ComputeFacets.
type FacetRequest struct {
	Query            string
	Filters          *Filters
	Fields           []string
	MaxValuesPerField int
}

// LexicalIndex is the §4.2 Lexical Index contract.
type LexicalIndex interface {
	AddChunks(ctx context.Context, chunks []*Chunk) error
	RemoveByFile(ctx context.Context, sourceFile string) (int, error)
	RemoveByID(ctx context.Context, chunkID string) error
	Search(ctx context.Context, req LexicalSearchRequest) ([]*LexicalHit, error)
	ComputeFacets(ctx context.Context, req FacetRequest) (map[string][]FacetValue, error)
	Close() error
}

// BleveLexicalIndex is the bleve-backed implementation of LexicalIndex.
//
// Concurrency discipline: writers hold mu exclusively; readers share mu's
// read lock, so searches run concurrently with each other against the most
// recently committed snapshot — bleve itself re-opens readers on each batch
// commit.
type BleveLexicalIndex struct {
	mu          sync.RWMutex
	index       bleve.Index
	path        string
	closed      bool
	filterCache *lru.Cache[string, query.Query]
}

const filterCacheSize = 512

// bleveChunkDoc is the document shape indexed into bleve. entity_name is
// indexed twice: once through the code analyzer (searchable, lowercased)
// and once as an unanalyzed keyword carrying the original case, satisfying
// the "text + keyword" field kind in the catalog.
type bleveChunkDoc struct {
	ChunkID              string `json:"chunk_id"`
	Content              string `json:"content"`
	EntityName           string `json:"entity_name"`
	EntityNameExact      string `json:"entity_name_exact"`
	EntityQualifiedName  string `json:"entity_qualified_name"`
	EntityType           string `json:"entity_type"`
	Language             string `json:"language"`
	Repository           string `json:"repository"`
	SourceFile           string `json:"source_file"`
	DocSummary           string `json:"doc_summary"`
	StartLine            int    `json:"start_line"`
	EndLine              int    `json:"end_line"`
	AttributesJSON       string `json:"attributes_json"`
}

func validateIndexIntegrity(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	metaPath := filepath.Join(path, "index_meta.json")
	info, err := os.Stat(metaPath)
	if os.IsNotExist(err) {
		return fmt.Errorf("index_meta.json missing (corrupted index)")
	}
	if err != nil {
		return fmt.Errorf("cannot stat index_meta.json: %w", err)
	}
	if info.Size() == 0 {
		return fmt.Errorf("index_meta.json is empty (corrupted)")
	}
	data, err := os.ReadFile(metaPath)
	if err != nil {
		return fmt.Errorf("cannot read index_meta.json: %w", err)
	}
	var meta map[string]interface{}
	if err := json.Unmarshal(data, &meta); err != nil {
		return fmt.Errorf("index_meta.json is corrupt: %w", err)
	}
	return nil
}

func isCorruptionError(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "unexpected end of JSON") ||
		strings.Contains(errStr, "error parsing mapping JSON") ||
		strings.Contains(errStr, "failed to load segment") ||
		strings.Contains(errStr, "error opening bolt") ||
		strings.Contains(errStr, "no such file or directory") ||
		err == bleve.ErrorIndexMetaCorrupt
}

// NewBleveLexicalIndex opens (or creates) the lexical index at path. An
// empty path creates an in-memory index, used by tests.
func NewBleveLexicalIndex(path string) (*BleveLexicalIndex, error) {
	indexMapping, err := createChunkIndexMapping()
	if err != nil {
		return nil, fmt.Errorf("failed to create index mapping: %w", err)
	}

	var idx bleve.Index
	if path == "" {
		idx, err = bleve.NewMemOnly(indexMapping)
	} else {
		dir := filepath.Dir(path)
		if mkErr := os.MkdirAll(dir, 0o755); mkErr != nil {
			return nil, fmt.Errorf("failed to create directory %s: %w", dir, mkErr)
		}

		if validErr := validateIndexIntegrity(path); validErr != nil {
			slog.Warn("lexical_index_corrupted", slog.String("path", path), slog.String("error", validErr.Error()))
			if removeErr := os.RemoveAll(path); removeErr != nil {
				return nil, fmt.Errorf("lexical index corrupted at %s and cannot remove: %w (original error: %v)", path, removeErr, validErr)
			}
			slog.Info("lexical_index_cleared", slog.String("path", path), slog.String("reason", "corruption detected, please reindex"))
		}

		idx, err = bleve.Open(path)
		if err == bleve.ErrorIndexPathDoesNotExist {
			idx, err = bleve.New(path, indexMapping)
		} else if err != nil && isCorruptionError(err) {
			slog.Warn("lexical_index_open_failed", slog.String("path", path), slog.String("error", err.Error()))
			if removeErr := os.RemoveAll(path); removeErr != nil {
				return nil, fmt.Errorf("lexical index corrupted, cannot clear: %w (original: %v)", removeErr, err)
			}
			idx, err = bleve.New(path, indexMapping)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create/open index: %w", err)
	}

	cache, err := lru.New[string, query.Query](filterCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create filter cache: %w", err)
	}

	return &BleveLexicalIndex{index: idx, path: path, filterCache: cache}, nil
}

func createChunkIndexMapping() (*mapping.IndexMappingImpl, error) {
	im := bleve.NewIndexMapping()

	if err := im.AddCustomAnalyzer(CodeAnalyzerName, map[string]interface{}{
		"type":      custom.Name,
		"tokenizer": CodeTokenizerName,
		"token_filters": []string{
			lowercase.Name,
			CodeStopFilterName,
		},
	}); err != nil {
		return nil, fmt.Errorf("failed to add custom analyzer: %w", err)
	}

	docMapping := bleve.NewDocumentMapping()

	textField := bleve.NewTextFieldMapping()
	textField.Analyzer = CodeAnalyzerName
	textField.Store = true

	keywordField := bleve.NewTextFieldMapping()
	keywordField.Analyzer = keyword.Name
	keywordField.Store = true

	numField := bleve.NewNumericFieldMapping()
	numField.Store = true

	docMapping.AddFieldMappingsAt("chunk_id", keywordField)
	docMapping.AddFieldMappingsAt("content", textField)
	docMapping.AddFieldMappingsAt("entity_name", textField)
	docMapping.AddFieldMappingsAt("entity_name_exact", keywordField)
	docMapping.AddFieldMappingsAt("entity_qualified_name", keywordField)
	docMapping.AddFieldMappingsAt("entity_type", keywordField)
	docMapping.AddFieldMappingsAt("language", keywordField)
	docMapping.AddFieldMappingsAt("repository", keywordField)
	docMapping.AddFieldMappingsAt("source_file", keywordField)
	docMapping.AddFieldMappingsAt("doc_summary", textField)
	docMapping.AddFieldMappingsAt("start_line", numField)
	docMapping.AddFieldMappingsAt("end_line", numField)
	docMapping.AddFieldMappingsAt("attributes_json", keywordField)

	im.DefaultMapping = docMapping
	im.DefaultAnalyzer = CodeAnalyzerName
	return im, nil
}

func toBleveDoc(c *Chunk) bleveChunkDoc {
	attrsJSON := "{}"
	if c.Attributes != nil && c.Attributes.Len() > 0 {
		m := make(map[string]string, c.Attributes.Len())
		for _, k := range c.Attributes.Keys() {
			v, _ := c.Attributes.Get(k)
			m[k] = v
		}
		if b, err := json.Marshal(m); err == nil {
			attrsJSON = string(b)
		}
	}
	return bleveChunkDoc{
		ChunkID:             c.ChunkID,
		Content:             c.Content,
		EntityName:          c.EntityName,
		EntityNameExact:     c.EntityName,
		EntityQualifiedName: c.EntityQualifiedName,
		EntityType:          string(c.EntityType),
		Language:            c.Language,
		Repository:          c.Repository,
		SourceFile:          c.SourceFile,
		DocSummary:          c.DocSummary,
		StartLine:           c.LineRange.Start,
		EndLine:             c.LineRange.End,
		AttributesJSON:      attrsJSON,
	}
}

func fromBleveFields(id string, fields map[string]interface{}) *Chunk {
	c := &Chunk{ChunkID: id, Attributes: NewAttributes()}
	getStr := func(k string) string {
		if v, ok := fields[k]; ok {
			if s, ok := v.(string); ok {
				return s
			}
		}
		return ""
	}
	getInt := func(k string) int {
		if v, ok := fields[k]; ok {
			switch n := v.(type) {
			case float64:
				return int(n)
			case int:
				return n
			}
		}
		return 0
	}
	c.Content = getStr("content")
	c.EntityName = getStr("entity_name_exact")
	if c.EntityName == "" {
		c.EntityName = getStr("entity_name")
	}
	c.EntityQualifiedName = getStr("entity_qualified_name")
	c.EntityType = EntityType(getStr("entity_type"))
	c.Language = getStr("language")
	c.Repository = getStr("repository")
	c.SourceFile = getStr("source_file")
	c.DocSummary = getStr("doc_summary")
	c.LineRange = LineRange{Start: getInt("start_line"), End: getInt("end_line")}

	if raw := getStr("attributes_json"); raw != "" {
		var m map[string]string
		if err := json.Unmarshal([]byte(raw), &m); err == nil {
			// Deterministic ordering since JSON object key order is not
			// preserved; good enough for a round trip of stored fields
			// (attribute *contents*, not necessarily exact original
			// ordering, survive the lexical store's JSON encoding).
			keys := make([]string, 0, len(m))
			for k := range m {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				c.Attributes.Set(k, m[k])
			}
		}
	}
	return c
}

// AddChunks upserts by chunk_id (delete-then-add).
func (b *BleveLexicalIndex) AddChunks(ctx context.Context, chunks []*Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return fmt.Errorf("lexical index is closed")
	}

	batch := b.index.NewBatch()
	for _, c := range chunks {
		batch.Delete(c.ChunkID)
		if err := batch.Index(c.ChunkID, toBleveDoc(c)); err != nil {
			return fmt.Errorf("failed to index chunk %s: %w", c.ChunkID, err)
		}
	}
	if err := b.index.Batch(batch); err != nil {
		return fmt.Errorf("failed to execute batch: %w", err)
	}
	return nil
}

// RemoveByFile deletes every document whose source_file equals path,
// returning the number of documents removed.
func (b *BleveLexicalIndex) RemoveByFile(ctx context.Context, sourceFile string) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return 0, fmt.Errorf("lexical index is closed")
	}

	q := bleve.NewTermQuery(sourceFile)
	q.SetField("source_file")
	req := bleve.NewSearchRequest(q)
	req.Size = 1 << 20
	req.Fields = nil

	result, err := b.index.SearchInContext(ctx, req)
	if err != nil {
		return 0, fmt.Errorf("failed to find documents for file %s: %w", sourceFile, err)
	}
	if len(result.Hits) == 0 {
		return 0, nil
	}

	batch := b.index.NewBatch()
	for _, hit := range result.Hits {
		batch.Delete(hit.ID)
	}
	if err := b.index.Batch(batch); err != nil {
		return 0, fmt.Errorf("failed to delete documents for file %s: %w", sourceFile, err)
	}
	return len(result.Hits), nil
}

// RemoveByID deletes a single chunk by ID.
func (b *BleveLexicalIndex) RemoveByID(ctx context.Context, chunkID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return fmt.Errorf("lexical index is closed")
	}
	return b.index.Delete(chunkID)
}

// buildFilterQuery builds (or retrieves from cache) the conjunction-of-
// disjunctions query.Query for the given filters. excludeDimension, when
// non-empty, skips that dimension — used by facet drilldown (§9 Open
// Question #3: exclude-self semantics).
func (b *BleveLexicalIndex) buildFilterQuery(f *Filters, excludeDimension string) query.Query {
	if f.Empty() {
		return nil
	}

	key := filterCacheKey(f, excludeDimension)
	if cached, ok := b.filterCache.Get(key); ok {
		return cached
	}

	var must []query.Query
	addDisjunction := func(dimension, field string, values []string) {
		if dimension == excludeDimension || len(values) == 0 {
			return
		}
		var ors []query.Query
		for _, v := range values {
			tq := bleve.NewTermQuery(v)
			tq.SetField(field)
			ors = append(ors, tq)
		}
		if len(ors) == 1 {
			must = append(must, ors[0])
		} else {
			must = append(must, bleve.NewDisjunctionQuery(ors...))
		}
	}
	addDisjunction("language", "language", f.Languages)
	addDisjunction("repository", "repository", f.Repositories)
	addDisjunction("entity_type", "entity_type", f.EntityTypes)

	if excludeDimension != "source_file" && len(f.SourceFilePrefixes) > 0 {
		var ors []query.Query
		for _, p := range f.SourceFilePrefixes {
			pq := bleve.NewPrefixQuery(p)
			pq.SetField("source_file")
			ors = append(ors, pq)
		}
		if len(ors) == 1 {
			must = append(must, ors[0])
		} else {
			must = append(must, bleve.NewDisjunctionQuery(ors...))
		}
	}

	if len(must) == 0 {
		return nil
	}
	combined := bleve.NewConjunctionQuery(must...)
	b.filterCache.Add(key, combined)
	return combined
}

func filterCacheKey(f *Filters, excludeDimension string) string {
	var sb strings.Builder
	sb.WriteString(excludeDimension)
	sb.WriteByte('|')
	sb.WriteString(strings.Join(f.Languages, ","))
	sb.WriteByte('|')
	sb.WriteString(strings.Join(f.Repositories, ","))
	sb.WriteByte('|')
	sb.WriteString(strings.Join(f.SourceFilePrefixes, ","))
	sb.WriteByte('|')
	sb.WriteString(strings.Join(f.EntityTypes, ","))
	return sb.String()
}

// buildQuery returns the best-effort query-string query for q. Whether it
// actually parses is only known once bleve executes it (query-string parsing
// is lazy in bleve), so the degrade chain — (a) as-is, (b) escaped, (c)
// literal bag-of-words — is driven by Search's retry loop, not here.
func buildQuery(q string) query.Query {
	q = strings.TrimSpace(q)
	if q == "" || q == "*" {
		return bleve.NewMatchAllQuery()
	}
	return bleve.NewQueryStringQuery(q)
}

var queryStringSpecialChars = []string{"+", "-", "&&", "||", "!", "(", ")", "{", "}", "[", "]", "^", "\"", "~", "*", "?", ":", "\\", "/"}

func escapeQueryString(q string) string {
	for _, c := range queryStringSpecialChars {
		q = strings.ReplaceAll(q, c, "\\"+c)
	}
	return q
}

func literalBagOfWordsQuery(q string) query.Query {
	fields := []string{"content", "entity_name", "doc_summary"}
	var disjuncts []query.Query
	for _, field := range fields {
		mq := bleve.NewMatchQuery(q)
		mq.SetField(field)
		disjuncts = append(disjuncts, mq)
	}
	if len(disjuncts) == 0 {
		return bleve.NewMatchNoneQuery()
	}
	return bleve.NewDisjunctionQuery(disjuncts...)
}

// boostedQuery builds a disjunction of match queries over
// content/entity_name/doc_summary, each carrying its configured boost. Search
// uses it only for queries without query-string syntax, since a parsed query
// string may already target a specific field.
func boostedQuery(q string, boosts BoostConfiguration) query.Query {
	content := bleve.NewMatchQuery(q)
	content.SetField("content")
	content.SetBoost(boosts.Content)

	entityName := bleve.NewMatchQuery(q)
	entityName.SetField("entity_name")
	entityName.SetBoost(boosts.EntityName)

	docSummary := bleve.NewMatchQuery(q)
	docSummary.SetField("doc_summary")
	docSummary.SetBoost(boosts.DocSummary)

	return bleve.NewDisjunctionQuery(content, entityName, docSummary)
}

// Search executes a query with filters, boosts, and optional field-match
// explanation.
func (b *BleveLexicalIndex) Search(ctx context.Context, req LexicalSearchRequest) ([]*LexicalHit, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return nil, fmt.Errorf("lexical index is closed")
	}

	q := strings.TrimSpace(req.Query)
	if q == "" {
		return nil, fmt.Errorf("query must not be empty")
	}

	var baseQuery query.Query
	usesQueryStringSyntax := strings.ContainsAny(q, ":\"*?()")
	if usesQueryStringSyntax {
		baseQuery = buildQuery(q)
	} else {
		boosts := req.Boosts
		if boosts == (BoostConfiguration{}) {
			boosts = DefaultBoostConfiguration()
		}
		baseQuery = boostedQuery(q, boosts)
	}

	var filterQuery query.Query
	if req.Filters != nil && !req.Filters.Empty() {
		filterQuery = b.buildFilterQuery(req.Filters, "")
	}

	limit := req.Limit
	if limit <= 0 {
		limit = 10
	}

	fields := []string{"content", "entity_name_exact", "entity_name", "entity_qualified_name", "entity_type", "language", "repository", "source_file", "doc_summary", "start_line", "end_line", "attributes_json"}

	runSearch := func(base query.Query) (*bleve.SearchResult, error) {
		sq := base
		if filterQuery != nil {
			sq = bleve.NewConjunctionQuery(base, filterQuery)
		}
		sr := bleve.NewSearchRequest(sq)
		sr.Size = limit
		sr.IncludeLocations = req.IncludeFieldMatch
		sr.Fields = fields
		return b.index.SearchInContext(ctx, sr)
	}

	result, err := runSearch(baseQuery)
	if err != nil && usesQueryStringSyntax {
		// Degrade (b): escape special characters and retry as a
		// literal query-string query.
		result, err = runSearch(bleve.NewQueryStringQuery(escapeQueryString(q)))
	}
	if err != nil {
		// Degrade (c): treat as a literal bag-of-words disjunction.
		result, err = runSearch(literalBagOfWordsQuery(q))
	}
	if err != nil {
		// Degrade floor: never propagate a parse exception, return
		// an empty result set instead.
		return []*LexicalHit{}, nil
	}

	hits := make([]*LexicalHit, 0, len(result.Hits))
	for _, hit := range result.Hits {
		chunk := fromBleveFields(hit.ID, hit.Fields)
		lh := &LexicalHit{Chunk: chunk, RawScore: hit.Score}
		if req.IncludeFieldMatch {
			lh.FieldMatch = b.computeFieldMatch(ctx, hit)
		}
		hits = append(hits, lh)
	}
	return hits, nil
}

// computeFieldMatch is the opt-in, O(per-hit) field-match explanation: the
// set of matched fields comes for free from Locations; the per-field score
// contribution is obtained by re-scoring this single document against each
// matched field in isolation.
func (b *BleveLexicalIndex) computeFieldMatch(ctx context.Context, hit *search.DocumentMatch) *FieldMatch {
	fieldSet := make(map[string]struct{})
	for field := range hit.Locations {
		fieldSet[field] = struct{}{}
	}
	fields := make([]string, 0, len(fieldSet))
	for f := range fieldSet {
		fields = append(fields, f)
	}
	sort.Strings(fields)

	scores := make(map[string]float64, len(fields))
	for _, field := range fields {
		idq := query.NewDocIDQuery([]string{hit.ID})
		// Re-score this one document restricted to the field: a
		// conjunction of "this doc" and "non-empty field" is enough
		// because overall relevance already proved a match exists;
		// what we want is bleve's own per-field score for that doc.
		combined := bleve.NewConjunctionQuery(idq, existsQuery(field))
		sr := bleve.NewSearchRequest(combined)
		sr.Size = 1
		res, err := b.index.SearchInContext(ctx, sr)
		if err == nil && len(res.Hits) > 0 {
			scores[field] = res.Hits[0].Score
		}
	}

	return &FieldMatch{MatchedFields: fields, Scores: scores}
}

func existsQuery(field string) query.Query {
	q := bleve.NewWildcardQuery("*")
	q.SetField(field)
	return q
}

// ComputeFacets aggregates value counts over documents matching (query ∧
// filter) for the fixed facet fields. Facet keys are always present, even
// when empty.
func (b *BleveLexicalIndex) ComputeFacets(ctx context.Context, req FacetRequest) (map[string][]FacetValue, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return nil, fmt.Errorf("lexical index is closed")
	}

	fields := req.Fields
	if len(fields) == 0 {
		fields = FacetFields
	}
	maxValues := req.MaxValuesPerField
	if maxValues <= 0 {
		maxValues = 10
	}

	result := make(map[string][]FacetValue, len(fields))
	for _, field := range fields {
		var searchQuery query.Query = bleve.NewMatchAllQuery()
		if strings.TrimSpace(req.Query) != "" && req.Query != "*" {
			searchQuery = buildQuery(req.Query)
		}
		if req.Filters != nil && !req.Filters.Empty() {
			// Open Question #3: exclude-self — the facet's own
			// dimension is excluded from its own filter so drilling
			// into a value still shows the full distribution.
			if fq := b.buildFilterQuery(req.Filters, field); fq != nil {
				searchQuery = bleve.NewConjunctionQuery(searchQuery, fq)
			}
		}

		sr := bleve.NewSearchRequest(searchQuery)
		sr.Size = 0
		facetReq := bleve.NewFacetRequest(field, maxValues)
		sr.AddFacet(field, facetReq)

		res, err := b.index.SearchInContext(ctx, sr)
		if err != nil {
			return nil, fmt.Errorf("facet computation failed for field %s: %w", field, err)
		}

		values := []FacetValue{}
		if fr, ok := res.Facets[field]; ok {
			for _, term := range fr.Terms.Terms() {
				values = append(values, FacetValue{Value: term.Term, Count: term.Count})
			}
		}
		result[field] = values
	}
	return result, nil
}

// Close closes the underlying index.
func (b *BleveLexicalIndex) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	if b.index != nil {
		return b.index.Close()
	}
	return nil
}

var _ LexicalIndex = (*BleveLexicalIndex)(nil)

// codeTokenizerConstructor creates a new code tokenizer for bleve.
func codeTokenizerConstructor(config map[string]interface{}, cache *registry.Cache) (analysis.Tokenizer, error) {
	return &bleveCodeTokenizer{}, nil
}

// bleveCodeTokenizer implements analysis.Tokenizer for code-aware
// tokenization: it splits on case transitions, punctuation, and underscores
// (digits stay attached to their letters), while also emitting the original (unsplit)
// compound word at the position of its first sub-token so that phrase
// queries for the exact identifier still match a component query for one
// of its parts.
type bleveCodeTokenizer struct{}

func (t *bleveCodeTokenizer) Tokenize(input []byte) analysis.TokenStream {
	text := string(input)
	words := tokenRegex.FindAllString(text, -1)

	result := make(analysis.TokenStream, 0, len(words)*2)
	pos := 1
	offset := 0

	for _, word := range words {
		start := strings.Index(strings.ToLower(text[offset:]), strings.ToLower(word))
		if start == -1 {
			start = offset
		} else {
			start += offset
		}
		end := start + len(word)

		sub := SplitCodeToken(word)
		firstPos := pos
		emitted := 0
		for _, s := range sub {
			lower := strings.ToLower(s)
			if len(lower) < 2 {
				continue
			}
			result = append(result, &analysis.Token{
				Term:     []byte(lower),
				Start:    start,
				End:      end,
				Position: pos,
				Type:     analysis.AlphaNumeric,
			})
			pos++
			emitted++
		}
		if emitted > 1 {
			result = append(result, &analysis.Token{
				Term:     []byte(strings.ToLower(word)),
				Start:    start,
				End:      end,
				Position: firstPos,
				Type:     analysis.AlphaNumeric,
			})
		}
		if end <= len(text) {
			offset = end
		}
	}

	return result
}

func codeStopFilterConstructor(config map[string]interface{}, cache *registry.Cache) (analysis.TokenFilter, error) {
	return &bleveCodeStopFilter{stopWords: BuildStopWordMap(DefaultCodeStopWords)}, nil
}

// bleveCodeStopFilter drops programming-noise tokens.
type bleveCodeStopFilter struct {
	stopWords map[string]struct{}
}

func (f *bleveCodeStopFilter) Filter(input analysis.TokenStream) analysis.TokenStream {
	result := make(analysis.TokenStream, 0, len(input))
	for _, token := range input {
		term := strings.ToLower(string(token.Term))
		if _, isStop := f.stopWords[term]; !isStop {
			result = append(result, token)
		}
	}
	return result
}

// DefaultCodeStopWords are filtered as programming noise.
var DefaultCodeStopWords = []string{
	"var", "let", "const", "func", "function", "def", "class",
	"return", "if", "else", "for", "while", "the", "a", "an", "of", "to",
}

