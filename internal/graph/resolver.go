// Package graph implements the Transitive Graph Resolver (§4.11): expanding
// a seed set of type chunks by following extends/implements edges derived
// from attributes.superclass/attributes.interfaces.
package graph

import (
	"context"
	"fmt"
	"strings"

	"github.com/dominikbraun/graph"

	"github.com/Aman-CERP/amanmcp/internal/search"
	"github.com/Aman-CERP/amanmcp/internal/store"
)

// Resolver implements search.TransitiveResolver over a fixed snapshot of
// chunks. It builds a directed graph (entity_qualified_name -> supertype's
// entity_qualified_name) once at construction and expands seeds against it
// with a depth-bounded, visited-set BFS.
type Resolver struct {
	byQualifiedName map[string]*store.Chunk
	g               graph.Graph[string, string]
}

// NewResolver builds a Resolver over chunks. Chunks without an
// entity_qualified_name are skipped. Every other chunk, whatever its entity
// type, gets an edge to each name in its superclass/interfaces attributes; a
// supertype name with no matching chunk becomes a vertex but yields no hit.
func NewResolver(chunks []*store.Chunk) *Resolver {
	r := &Resolver{
		byQualifiedName: make(map[string]*store.Chunk, len(chunks)),
		g:               graph.New(graph.StringHash, graph.Directed()),
	}

	for _, c := range chunks {
		if c.EntityQualifiedName == "" {
			continue
		}
		r.byQualifiedName[c.EntityQualifiedName] = c
		_ = r.g.AddVertex(c.EntityQualifiedName)
	}

	for _, c := range chunks {
		if c.EntityQualifiedName == "" {
			continue
		}
		for _, super := range supertypesOf(c) {
			_ = r.g.AddVertex(super) // no-op if already present
			_ = r.g.AddEdge(c.EntityQualifiedName, super)
		}
	}

	return r
}

// supertypesOf reads attributes.superclass (single name) and
// attributes.interfaces (comma-separated names) off a Chunk.
func supertypesOf(c *store.Chunk) []string {
	var supers []string
	if c.Attributes == nil {
		return supers
	}
	if super, ok := c.Attributes.Get(store.AttrSuperclass); ok && super != "" {
		supers = append(supers, super)
	}
	if ifaces, ok := c.Attributes.Get(store.AttrInterfaces); ok && ifaces != "" {
		for _, name := range strings.Split(ifaces, ",") {
			name = strings.TrimSpace(name)
			if name != "" {
				supers = append(supers, name)
			}
		}
	}
	return supers
}

// Expand implements search.TransitiveResolver (§4.11): BFS from each seed
// up to depth hops along extends/implements edges, visited-set keyed on
// entity_qualified_name to break cycles, each hit tagged with its full
// traversal path from seed to result.
func (r *Resolver) Expand(ctx context.Context, seeds []*store.Chunk, depth int) ([]search.TransitiveHit, error) {
	if depth <= 0 {
		return nil, nil
	}

	adjacency, err := r.g.AdjacencyMap()
	if err != nil {
		return nil, fmt.Errorf("graph: adjacency map: %w", err)
	}

	var hits []search.TransitiveHit
	for _, seed := range seeds {
		if seed.EntityQualifiedName == "" {
			continue
		}
		hits = append(hits, r.bfsFrom(seed.EntityQualifiedName, depth, adjacency)...)

		if err := ctx.Err(); err != nil {
			return hits, err
		}
	}
	return hits, nil
}

type queueEntry struct {
	name string
	path []string
}

// bfsFrom expands a single seed, grounded on project-cortex's
// visited-map(name -> first-seen depth) recursive pattern, rewritten as an
// explicit queue so path-to-result can be threaded without recursion.
func (r *Resolver) bfsFrom(seedName string, depth int, adjacency map[string]map[string]graph.Edge[string]) []search.TransitiveHit {
	visited := map[string]int{seedName: 0}
	queue := []queueEntry{{name: seedName, path: []string{seedName}}}

	var hits []search.TransitiveHit
	for len(queue) > 0 {
		entry := queue[0]
		queue = queue[1:]

		currentDepth := visited[entry.name]
		if currentDepth >= depth {
			continue
		}

		for next := range adjacency[entry.name] {
			nextDepth := currentDepth + 1
			if prev, seen := visited[next]; seen && prev <= nextDepth {
				continue
			}
			visited[next] = nextDepth

			path := append(append([]string{}, entry.path...), next)
			if chunk, ok := r.byQualifiedName[next]; ok {
				hits = append(hits, search.TransitiveHit{Chunk: chunk, Path: path})
			}
			queue = append(queue, queueEntry{name: next, path: path})
		}
	}
	return hits
}
