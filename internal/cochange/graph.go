package cochange

import (
	"cmp"
	"iter"
	"slices"
	"sync"
)

// pairKey is the canonical (min, max) key of an unordered node pair.
type pairKey struct {
	lo NodeID
	hi NodeID
}

func makePair(a, b NodeID) pairKey {
	if a > b {
		a, b = b, a
	}

	return pairKey{lo: a, hi: b}
}

// edge holds the contribution sets of one pair. Weight is always derived
// from the set sizes.
type edge struct {
	changes    map[string]struct{}
	subChanges map[string]struct{}
}

func newEdge() *edge {
	return &edge{
		changes:    make(map[string]struct{}, 1),
		subChanges: make(map[string]struct{}),
	}
}

func (e *edge) weight(w Weighting) int {
	if w == WeightBySubChange {
		return len(e.subChanges)
	}

	return len(e.changes)
}

func (e *edge) export(key pairKey, w Weighting) Edge {
	return Edge{
		A:            key.lo,
		B:            key.hi,
		ChangeIDs:    sortedKeys(e.changes),
		SubChangeIDs: sortedKeys(e.subChanges),
		Weight:       e.weight(w),
	}
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}

	slices.Sort(out)

	return out
}

// Neighbor is one adjacent node with the weight of the connecting edge.
type Neighbor struct {
	ID     NodeID
	Weight int
}

// Graph is an undirected simple graph of file nodes with co-change edges.
type Graph struct {
	nodes     map[NodeID]struct{}
	edges     map[pairKey]*edge
	adjacency map[NodeID][]NodeID
	mu        sync.RWMutex
	weighting Weighting
}

// NewGraph creates an empty graph using the given weighting.
func NewGraph(weighting Weighting) *Graph {
	return &Graph{
		nodes:     make(map[NodeID]struct{}),
		edges:     make(map[pairKey]*edge),
		adjacency: make(map[NodeID][]NodeID),
		weighting: weighting,
	}
}

// Weighting returns the weighting the graph was created with.
func (g *Graph) Weighting() Weighting {
	return g.weighting
}

// EnsureNode adds id to the node set if absent.
func (g *Graph) EnsureNode(id NodeID) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.nodes[id] = struct{}{}
}

// HasNode reports whether id is in the node set.
func (g *Graph) HasNode(id NodeID) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()

	_, ok := g.nodes[id]

	return ok
}

// Reinforce records that a and b changed together in changeID. Empty
// sub-change ids are ignored. A self pair or an empty changeID is rejected
// and reported as false.
func (g *Graph) Reinforce(a, b NodeID, changeID string, subChangeIDs ...string) bool {
	if a == b || changeID == "" {
		return false
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	g.reinforceLocked(makePair(a, b), changeID, subChangeIDs)

	return true
}

func (g *Graph) reinforceLocked(key pairKey, changeID string, subChangeIDs []string) {
	g.nodes[key.lo] = struct{}{}
	g.nodes[key.hi] = struct{}{}

	e, ok := g.edges[key]
	if !ok {
		e = newEdge()
		g.edges[key] = e
		g.adjacency[key.lo] = append(g.adjacency[key.lo], key.hi)
		g.adjacency[key.hi] = append(g.adjacency[key.hi], key.lo)
	}

	e.changes[changeID] = struct{}{}

	for _, sub := range subChangeIDs {
		if sub != "" {
			e.subChanges[sub] = struct{}{}
		}
	}
}

// EdgeWeight returns the weight of the edge between a and b, or 0 if none exists.
func (g *Graph) EdgeWeight(a, b NodeID) int {
	g.mu.RLock()
	defer g.mu.RUnlock()

	e, ok := g.edges[makePair(a, b)]
	if !ok {
		return 0
	}

	return e.weight(g.weighting)
}

// Edge returns a copy of the edge between a and b.
func (g *Graph) Edge(a, b NodeID) (Edge, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	key := makePair(a, b)

	e, ok := g.edges[key]
	if !ok {
		return Edge{}, false
	}

	return e.export(key, g.weighting), true
}

// Edges yields a copy of every edge exactly once. Each range over the
// returned sequence takes a fresh copy, so the sequence can be reused.
func (g *Graph) Edges() iter.Seq[Edge] {
	return func(yield func(Edge) bool) {
		for _, e := range g.edgeList() {
			if !yield(e) {
				return
			}
		}
	}
}

func (g *Graph) edgeList() []Edge {
	g.mu.RLock()
	defer g.mu.RUnlock()

	out := make([]Edge, 0, len(g.edges))
	for key, e := range g.edges {
		out = append(out, e.export(key, g.weighting))
	}

	return out
}

// Neighbors returns the nodes adjacent to id, strongest coupling first.
func (g *Graph) Neighbors(id NodeID) []Neighbor {
	g.mu.RLock()
	defer g.mu.RUnlock()

	adjacent := g.adjacency[id]
	out := make([]Neighbor, 0, len(adjacent))

	for _, other := range adjacent {
		out = append(out, Neighbor{ID: other, Weight: g.edges[makePair(id, other)].weight(g.weighting)})
	}

	slices.SortFunc(out, func(x, y Neighbor) int {
		if c := cmp.Compare(y.Weight, x.Weight); c != 0 {
			return c
		}

		return cmp.Compare(x.ID, y.ID)
	})

	return out
}

// NodeCount returns the number of nodes.
func (g *Graph) NodeCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()

	return len(g.nodes)
}

// EdgeCount returns the number of edges.
func (g *Graph) EdgeCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()

	return len(g.edges)
}
