package index

import (
	"context"

	"github.com/Aman-CERP/amanmcp/internal/store"
)

// fakeParser implements chunk.CodeParser with a scripted response keyed by
// source file path, so tests can drive specific parse outcomes without the
// tree-sitter machinery.
type fakeParser struct {
	extensions []string
	chunks     map[string][]*store.Chunk
	errs       map[string]error
	calls      []string
}

func newFakeParser(extensions ...string) *fakeParser {
	return &fakeParser{
		extensions: extensions,
		chunks:     map[string][]*store.Chunk{},
		errs:       map[string]error{},
	}
}

func (f *fakeParser) SupportedExtensions() []string { return f.extensions }

func (f *fakeParser) Parse(ctx context.Context, repository, sourceFile string, content []byte, language string) ([]*store.Chunk, error) {
	f.calls = append(f.calls, sourceFile)
	if err, ok := f.errs[sourceFile]; ok {
		return nil, err
	}
	if chunks, ok := f.chunks[sourceFile]; ok {
		return chunks, nil
	}
	return []*store.Chunk{
		{
			ChunkID:             sourceFile + "#0",
			Content:             string(content),
			EntityName:          sourceFile,
			EntityQualifiedName: sourceFile,
			EntityType:          store.EntityGenericType,
			Language:            language,
			Repository:          repository,
			SourceFile:          sourceFile,
			LineRange:           store.LineRange{Start: 1, End: 1},
			ByteRange:           store.ByteRange{Start: 0, End: len(content)},
			Attributes:          store.NewAttributes(),
		},
	}, nil
}

// fakeLexical implements store.LexicalIndex, tracking chunks added/removed
// by source file so tests can assert on pipeline write behavior.
type fakeLexical struct {
	added        []*store.Chunk
	removedFiles []string
	addErr       error
}

func (f *fakeLexical) AddChunks(ctx context.Context, chunks []*store.Chunk) error {
	if f.addErr != nil {
		return f.addErr
	}
	f.added = append(f.added, chunks...)
	return nil
}
func (f *fakeLexical) RemoveByFile(ctx context.Context, sourceFile string) (int, error) {
	f.removedFiles = append(f.removedFiles, sourceFile)
	return 1, nil
}
func (f *fakeLexical) RemoveByID(ctx context.Context, chunkID string) error { return nil }
func (f *fakeLexical) Search(ctx context.Context, req store.LexicalSearchRequest) ([]*store.LexicalHit, error) {
	return nil, nil
}
func (f *fakeLexical) ComputeFacets(ctx context.Context, req store.FacetRequest) (map[string][]store.FacetValue, error) {
	return nil, nil
}
func (f *fakeLexical) Close() error { return nil }

// fakeVector implements store.VectorIndex similarly.
type fakeVector struct {
	upserted     map[string][]float32
	deletedFiles []string
	upsertErr    error
}

func newFakeVector() *fakeVector {
	return &fakeVector{upserted: map[string][]float32{}}
}

func (f *fakeVector) Upsert(ctx context.Context, chunkID string, metadata map[string]string, vector []float32) error {
	if f.upsertErr != nil {
		return f.upsertErr
	}
	f.upserted[chunkID] = vector
	return nil
}
func (f *fakeVector) Delete(ctx context.Context, chunkID string) error { return nil }
func (f *fakeVector) DeleteByFile(ctx context.Context, sourceFile string) error {
	f.deletedFiles = append(f.deletedFiles, sourceFile)
	return nil
}
func (f *fakeVector) Search(ctx context.Context, queryVector []float32, limit int) ([]store.VectorMatch, error) {
	return nil, nil
}
func (f *fakeVector) Close() error { return nil }

// fakeEmbedder implements embed.Embedder with a deterministic one-float
// vector per text.
type fakeEmbedder struct {
	failOn map[int]bool
}

func newFakeEmbedder() *fakeEmbedder { return &fakeEmbedder{failOn: map[int]bool{}} }

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return []float32{float32(len(text))}, nil
}
func (f *fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		if f.failOn[i] {
			out[i] = nil
			continue
		}
		out[i] = []float32{float32(len(t))}
	}
	return out, nil
}
func (f *fakeEmbedder) Dimensions() int                  { return 1 }
func (f *fakeEmbedder) ModelName() string                { return "fake" }
func (f *fakeEmbedder) Available(ctx context.Context) bool { return true }
func (f *fakeEmbedder) Close() error                     { return nil }
func (f *fakeEmbedder) SetBatchIndex(idx int)            {}
func (f *fakeEmbedder) SetFinalBatch(isFinal bool)       {}

// fakeStateStore implements store.RepositoryStateStore over an in-memory map.
type fakeStateStore struct {
	states map[string]*store.RepositoryIndexState
}

func newFakeStateStore() *fakeStateStore {
	return &fakeStateStore{states: map[string]*store.RepositoryIndexState{}}
}

func (f *fakeStateStore) Get(ctx context.Context, url string) (*store.RepositoryIndexState, bool, error) {
	s, ok := f.states[url]
	return s, ok, nil
}
func (f *fakeStateStore) Put(ctx context.Context, state *store.RepositoryIndexState) error {
	f.states[state.RepositoryURL] = state
	return nil
}
func (f *fakeStateStore) Exists(ctx context.Context, url string) (bool, error) {
	_, ok := f.states[url]
	return ok, nil
}
func (f *fakeStateStore) Delete(ctx context.Context, url string) (bool, error) {
	_, ok := f.states[url]
	delete(f.states, url)
	return ok, nil
}
func (f *fakeStateStore) Close() error { return nil }

// fakeSource implements gitsource.RepositorySource over a fixed working
// directory and a scripted commit/diff sequence.
type fakeSource struct {
	workdir    string
	head       string
	changes    []*store.FileChange
	cloneErr   error
	diffErr    error
}

func (f *fakeSource) Clone(ctx context.Context, repositoryURL, destDir string) (string, string, error) {
	if f.cloneErr != nil {
		return "", "", f.cloneErr
	}
	return f.workdir, f.head, nil
}
func (f *fakeSource) ResolveHEAD(workdir string) (string, error) { return f.head, nil }
func (f *fakeSource) Diff(ctx context.Context, workdir, fromCommit, toCommit string) ([]*store.FileChange, error) {
	if f.diffErr != nil {
		return nil, f.diffErr
	}
	return f.changes, nil
}
