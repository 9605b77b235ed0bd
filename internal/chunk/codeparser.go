package chunk

import (
	"context"
	"path"
	"strings"

	"github.com/Aman-CERP/amanmcp/internal/store"
)

// CodeParser turns one file's raw bytes into the Chunk rows the indexing
// pipeline writes to the lexical and vector indices. It is the collaborator
// SPEC_FULL.md's §1 scope exclusion names: this repo ships one concrete
// implementation, TreeSitterCodeParser, so the pipeline is runnable, but a
// caller is free to supply another.
type CodeParser interface {
	Parse(ctx context.Context, repository, sourceFile string, content []byte, language string) ([]*store.Chunk, error)
	SupportedExtensions() []string
}

// TreeSitterCodeParser adapts the tree-sitter-backed CodeChunker and the
// MarkdownChunker into CodeParser: it keeps their AST-aware entity
// extraction untouched and maps each resulting internal Chunk onto the data
// model's store.Chunk.
type TreeSitterCodeParser struct {
	code     *CodeChunker
	markdown *MarkdownChunker
}

// NewTreeSitterCodeParser builds a CodeParser with default chunking options.
func NewTreeSitterCodeParser() *TreeSitterCodeParser {
	return &TreeSitterCodeParser{
		code:     NewCodeChunker(),
		markdown: NewMarkdownChunker(),
	}
}

// Close releases the underlying tree-sitter parser.
func (p *TreeSitterCodeParser) Close() {
	p.code.Close()
	p.markdown.Close()
}

// SupportedExtensions reports every extension either sub-chunker handles.
func (p *TreeSitterCodeParser) SupportedExtensions() []string {
	exts := append([]string{}, p.code.SupportedExtensions()...)
	return append(exts, p.markdown.SupportedExtensions()...)
}

// Parse routes to the markdown chunker for .md/.mdx files and the
// tree-sitter code chunker for everything else, then adapts the result.
func (p *TreeSitterCodeParser) Parse(ctx context.Context, repository, sourceFile string, content []byte, language string) ([]*store.Chunk, error) {
	file := &FileInput{Path: sourceFile, Content: content, Language: language}

	var raw []*Chunk
	var err error
	switch strings.ToLower(path.Ext(sourceFile)) {
	case ".md", ".mdx":
		raw, err = p.markdown.Chunk(ctx, file)
	default:
		raw, err = p.code.Chunk(ctx, file)
	}
	if err != nil {
		return nil, err
	}

	chunks := make([]*store.Chunk, 0, len(raw))
	for _, c := range raw {
		chunks = append(chunks, p.adapt(repository, c))
	}
	return chunks, nil
}

// adapt converts one internal Chunk (possibly carrying several Symbols: the
// first part of a line-split symbol also carries its parent) into a
// store.Chunk. The first symbol names the chunk; additional symbols are
// recorded as a comma-separated alias list under AttrModifiers, so
// "Search_part1" lists "Search". Later parts ("Search_part2") carry only
// their own name and get no alias.
func (p *TreeSitterCodeParser) adapt(repository string, c *Chunk) *store.Chunk {
	entityName := c.FilePath
	entityType := store.EntityGenericType
	var docSummary string
	attrs := store.NewAttributes()

	if len(c.Symbols) > 0 {
		sym := c.Symbols[0]
		entityName = sym.Name
		entityType = symbolTypeToEntityType(sym.Type)
		docSummary = sym.DocComment
		if sym.Signature != "" {
			attrs.Set(store.AttrReturnType, sym.Signature)
		}
		if len(c.Symbols) > 1 {
			aliases := make([]string, 0, len(c.Symbols)-1)
			for _, alias := range c.Symbols[1:] {
				aliases = append(aliases, alias.Name)
			}
			attrs.Set(store.AttrModifiers, strings.Join(aliases, ","))
		}
	}

	qualifiedName := entityName
	if pkg := goPackageName(c.Context); pkg != "" {
		attrs.Set(store.AttrPackage, pkg)
		qualifiedName = pkg + "." + entityName
	}

	byteRange := store.ByteRange{Start: 0, End: len(c.RawContent)}
	chunkID := store.ComputeChunkID(repository, c.FilePath, qualifiedName+":"+c.ID, byteRange)

	return &store.Chunk{
		ChunkID:             chunkID,
		Content:             c.Content,
		EntityName:          entityName,
		EntityQualifiedName: qualifiedName,
		EntityType:          entityType,
		Language:            c.Language,
		Repository:          repository,
		SourceFile:          c.FilePath,
		LineRange:           store.LineRange{Start: c.StartLine, End: c.EndLine},
		ByteRange:           byteRange,
		Attributes:          attrs,
		DocSummary:          docSummary,
	}
}

func symbolTypeToEntityType(t SymbolType) store.EntityType {
	switch t {
	case SymbolTypeClass:
		return store.EntityClass
	case SymbolTypeInterface:
		return store.EntityInterface
	case SymbolTypeMethod:
		return store.EntityMethod
	case SymbolTypeFunction:
		return store.EntityFunction
	case SymbolTypeConstant:
		return store.EntityGenericType
	case SymbolTypeVariable:
		return store.EntityGenericType
	case SymbolTypeType:
		return store.EntityGenericType
	default:
		return store.EntityGenericType
	}
}

// goPackageName pulls the declared package name out of a Go file's extracted
// context ("package foo"); returns "" for non-Go files or when absent.
func goPackageName(fileContext string) string {
	for _, line := range strings.Split(fileContext, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "package ") {
			return strings.TrimSpace(strings.TrimPrefix(line, "package "))
		}
	}
	return ""
}
