package cochange

import (
	"fmt"
	"log/slog"
	"sync"
)

// PathFilter decides whether a path takes part in the graph.
type PathFilter interface {
	Allow(path string) bool
}

// Options configures a Processor. The zero value weights by change-set,
// has no size cap, no filter and logs to slog.Default.
type Options struct {
	Filter            PathFilter
	Logger            *slog.Logger
	Weighting         Weighting
	MaxChangeSetFiles int
}

// Outcome summarizes the effect of one applied change-set.
type Outcome struct {
	ChangeID       string
	Files          int
	Filtered       int
	Created        int
	Renamed        int
	Collisions     int
	Reinforcements int
	Oversized      bool
}

// Frozen is a consistent copy of the nodes and edges of a processor.
// Aliases, sorted by path, resolve former paths claimed by several nodes.
type Frozen struct {
	Nodes     []FileNode
	Edges     []Edge
	Aliases   []Alias
	Weighting Weighting
}

// Processor applies change-sets to a registry and a graph it owns
// exclusively. Apply and Freeze are mutually atomic.
type Processor struct {
	registry *Registry
	graph    *Graph
	logger   *slog.Logger
	opts     Options
	mu       sync.Mutex
}

// NewProcessor creates a processor with an empty registry and graph.
func NewProcessor(opts Options) *Processor {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Processor{
		registry: NewRegistry(),
		graph:    NewGraph(opts.Weighting),
		logger:   logger,
		opts:     opts,
	}
}

// Registry returns the processor's registry for read access.
func (p *Processor) Registry() *Registry {
	return p.registry
}

// Graph returns the processor's graph for read access.
func (p *Processor) Graph() *Graph {
	return p.graph
}

// Consume applies cs unless fetchErr reports that its file list could not be
// retrieved, in which case nothing is touched and a *SkipError is returned.
func (p *Processor) Consume(cs ChangeSet, fetchErr error) (Outcome, error) {
	if fetchErr != nil {
		return Outcome{ChangeID: cs.ID}, &SkipError{ChangeID: cs.ID, Err: fetchErr}
	}

	return p.Apply(cs), nil
}

// resolved is one edit of the change-set being applied.
type resolved struct {
	path string
	sub  string
	id   NodeID
}

// Apply resolves every edit of cs and reinforces each pair of files that
// changed together.
func (p *Processor) Apply(cs ChangeSet) Outcome {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := Outcome{ChangeID: cs.ID}
	entries := make([]resolved, 0, len(cs.Edits))

	for _, edit := range cs.Edits {
		if edit.Path == "" || (p.opts.Filter != nil && !p.opts.Filter.Allow(edit.Path)) {
			out.Filtered++

			continue
		}

		id, res := p.registry.ResolveOrCreate(edit)
		p.graph.EnsureNode(id)
		p.count(&out, cs.ID, edit, res)

		entries = append(entries, resolved{path: edit.Path, sub: edit.SubChangeID, id: id})
	}

	out.Files = len(entries)

	if p.graph.Weighting() == WeightBySubChange {
		for sub, group := range groupBySubChange(entries, cs.ID) {
			p.reinforceUnit(&out, group, cs.ID, sub)
		}
	} else {
		p.reinforceUnit(&out, entries, cs.ID, "")
	}

	return out
}

func (p *Processor) count(out *Outcome, changeID string, edit Edit, res Resolution) {
	switch res {
	case ResolvedCreated:
		out.Created++
	case ResolvedRenamed:
		out.Renamed++
	case ResolvedCollision:
		out.Collisions++
		p.logger.Debug("rename target already held by another file",
			"change_id", changeID, "from", edit.PreviousPath, "to", edit.Path)
	case ResolvedExisting:
	}
}

// reinforceUnit reinforces every pair i < j of entries. A non-empty sub
// overrides the per-entry sub-change ids.
func (p *Processor) reinforceUnit(out *Outcome, entries []resolved, changeID, sub string) {
	if p.opts.MaxChangeSetFiles > 0 && len(entries) > p.opts.MaxChangeSetFiles {
		out.Oversized = true

		return
	}

	for i := range entries {
		for j := i + 1; j < len(entries); j++ {
			subA, subB := entries[i].sub, entries[j].sub
			if sub != "" {
				subA, subB = sub, ""
			}

			if p.graph.Reinforce(entries[i].id, entries[j].id, changeID, subA, subB) {
				out.Reinforcements++
			}
		}
	}
}

// groupBySubChange splits entries into per-sub-change units, keeping first
// appearance order inside each unit. Entries without a sub-change id fall
// back to the change id.
func groupBySubChange(entries []resolved, changeID string) map[string][]resolved {
	groups := make(map[string][]resolved)

	for _, e := range entries {
		key := e.sub
		if key == "" {
			key = changeID
		}

		groups[key] = append(groups[key], e)
	}

	return groups
}

// Freeze returns a consistent copy of all nodes and edges.
func (p *Processor) Freeze() Frozen {
	p.mu.Lock()
	defer p.mu.Unlock()

	frozen := Frozen{
		Nodes:     p.registry.snapshot(),
		Edges:     p.graph.edgeList(),
		Aliases:   p.registry.aliases(),
		Weighting: p.graph.Weighting(),
	}

	return frozen
}

// Restore rebuilds a processor from a frozen state. Node ids must be dense and
// zero-based in slice order; edges must reference known nodes, connect
// distinct nodes, and appear once per unordered pair. The graph is weighted
// by opts.Weighting; state.Weighting is ignored.
func Restore(state Frozen, opts Options) (*Processor, error) {
	p := NewProcessor(opts)

	nodes := state.Nodes

	for i, n := range nodes {
		if n.ID != NodeID(i) {
			return nil, fmt.Errorf("%w: position %d has id %d", ErrNodeOrder, i, n.ID)
		}

		if n.CurrentPath == "" {
			return nil, fmt.Errorf("%w: node %d", ErrEmptyPath, n.ID)
		}

		p.registry.restore(n)
		p.graph.nodes[n.ID] = struct{}{}
	}

	indexErr := p.registry.restoreIndex()
	if indexErr != nil {
		return nil, indexErr
	}

	for _, a := range state.Aliases {
		aliasErr := p.registry.restoreAlias(a)
		if aliasErr != nil {
			return nil, aliasErr
		}
	}

	for _, e := range state.Edges {
		edgeErr := p.graph.restoreEdge(e, len(nodes))
		if edgeErr != nil {
			return nil, edgeErr
		}
	}

	return p, nil
}

func (g *Graph) restoreEdge(e Edge, nodeCount int) error {
	if e.A == e.B {
		return fmt.Errorf("%w: %d", ErrSelfEdge, e.A)
	}

	for _, id := range []NodeID{e.A, e.B} {
		if id < 0 || int(id) >= nodeCount {
			return fmt.Errorf("%w: %d", ErrUnknownNode, id)
		}
	}

	key := makePair(e.A, e.B)
	if _, dup := g.edges[key]; dup {
		return fmt.Errorf("%w: %d-%d", ErrDuplicateEdge, key.lo, key.hi)
	}

	if len(e.ChangeIDs) == 0 {
		return fmt.Errorf("%w: %d-%d", ErrEmptyContribution, key.lo, key.hi)
	}

	for _, id := range e.ChangeIDs {
		if id == "" {
			return fmt.Errorf("%w: %d-%d has an empty change id", ErrEmptyContribution, key.lo, key.hi)
		}

		g.reinforceLocked(key, id, e.SubChangeIDs)
	}

	return nil
}
