// Package snapshot converts a co-change graph to and from its portable
// document form.
package snapshot

import (
	"cmp"
	"errors"
	"fmt"
	"slices"

	"github.com/Sumatoshi-tech/cochange/internal/cochange"
)

// ErrWeightMismatch is returned by Decode when an edge weight disagrees with
// its contribution sets.
var ErrWeightMismatch = errors.New("edge weight does not match its contributions")

// Node is one file in the document.
type Node struct {
	Path          string   `json:"path"                     yaml:"path"`
	PreviousPaths []string `json:"previous_paths,omitempty" yaml:"previous_paths,omitempty"`
	ID            int      `json:"id"                       yaml:"id"`
}

// Edge is one co-change relation. Source is always less than Target.
type Edge struct {
	ChangeIDs    []string `json:"change_ids"     yaml:"change_ids"`
	SubChangeIDs []string `json:"sub_change_ids" yaml:"sub_change_ids"`
	Source       int      `json:"source"         yaml:"source"`
	Target       int      `json:"target"         yaml:"target"`
	Weight       int      `json:"weight"         yaml:"weight"`
}

// Alias resolves a former path that several nodes list to one of them.
type Alias struct {
	Path string `json:"path" yaml:"path"`
	Node int    `json:"node" yaml:"node"`
}

// Snapshot is the serializable form of a graph.
type Snapshot struct {
	Weighting string  `json:"weighting"         yaml:"weighting"`
	Nodes     []Node  `json:"nodes"             yaml:"nodes"`
	Edges     []Edge  `json:"edges"             yaml:"edges"`
	Aliases   []Alias `json:"aliases,omitempty" yaml:"aliases,omitempty"`
}

// Freezer is anything that can hand out a consistent copy of a graph.
type Freezer interface {
	Freeze() cochange.Frozen
}

// Export builds the document for the current state of f. Node ids follow
// creation order; edges are sorted by (source, target).
func Export(f Freezer) Snapshot {
	frozen := f.Freeze()

	snap := Snapshot{
		Weighting: frozen.Weighting.String(),
		Nodes:     make([]Node, 0, len(frozen.Nodes)),
		Edges:     make([]Edge, 0, len(frozen.Edges)),
	}

	for _, n := range frozen.Nodes {
		snap.Nodes = append(snap.Nodes, Node{
			ID:            int(n.ID),
			Path:          n.CurrentPath,
			PreviousPaths: n.PreviousPaths,
		})
	}

	for _, e := range frozen.Edges {
		snap.Edges = append(snap.Edges, Edge{
			Source:       int(e.A),
			Target:       int(e.B),
			Weight:       e.Weight,
			ChangeIDs:    nonNil(e.ChangeIDs),
			SubChangeIDs: nonNil(e.SubChangeIDs),
		})
	}

	for _, a := range frozen.Aliases {
		snap.Aliases = append(snap.Aliases, Alias{Path: a.Path, Node: int(a.Node)})
	}

	slices.SortFunc(snap.Edges, func(x, y Edge) int {
		if c := cmp.Compare(x.Source, y.Source); c != 0 {
			return c
		}

		return cmp.Compare(x.Target, y.Target)
	})

	return snap
}

func nonNil(ids []string) []string {
	if ids == nil {
		return []string{}
	}

	return ids
}

// Decode rebuilds a processor from a document. The document's weighting
// overrides opts.Weighting.
func Decode(snap Snapshot, opts cochange.Options) (*cochange.Processor, error) {
	weighting, err := cochange.ParseWeighting(snap.Weighting)
	if err != nil {
		return nil, err
	}

	opts.Weighting = weighting

	nodes := make([]cochange.FileNode, len(snap.Nodes))
	for i, n := range snap.Nodes {
		nodes[i] = cochange.FileNode{
			ID:            cochange.NodeID(n.ID),
			CurrentPath:   n.Path,
			PreviousPaths: n.PreviousPaths,
		}
	}

	edges := make([]cochange.Edge, len(snap.Edges))
	for i, e := range snap.Edges {
		edges[i] = cochange.Edge{
			A:            cochange.NodeID(e.Source),
			B:            cochange.NodeID(e.Target),
			ChangeIDs:    e.ChangeIDs,
			SubChangeIDs: e.SubChangeIDs,
		}
	}

	aliases := make([]cochange.Alias, len(snap.Aliases))
	for i, a := range snap.Aliases {
		aliases[i] = cochange.Alias{Path: a.Path, Node: cochange.NodeID(a.Node)}
	}

	proc, err := cochange.Restore(cochange.Frozen{Nodes: nodes, Edges: edges, Aliases: aliases}, opts)
	if err != nil {
		return nil, fmt.Errorf("restore graph: %w", err)
	}

	for _, e := range snap.Edges {
		got := proc.Graph().EdgeWeight(cochange.NodeID(e.Source), cochange.NodeID(e.Target))
		if got != e.Weight {
			return nil, fmt.Errorf("%w: %d-%d declares %d, contributions give %d",
				ErrWeightMismatch, e.Source, e.Target, e.Weight, got)
		}
	}

	return proc, nil
}

// Stats summarizes a document without decoding it.
type Stats struct {
	Nodes     int
	Edges     int
	Renamed   int
	MaxWeight int
	Weighting string
}

// Summarize computes document-level counters.
func (s Snapshot) Summarize() Stats {
	st := Stats{Nodes: len(s.Nodes), Edges: len(s.Edges), Weighting: s.Weighting}

	for _, n := range s.Nodes {
		if len(n.PreviousPaths) > 0 {
			st.Renamed++
		}
	}

	for _, e := range s.Edges {
		st.MaxWeight = max(st.MaxWeight, e.Weight)
	}

	return st
}
