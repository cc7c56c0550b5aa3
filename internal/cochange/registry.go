package cochange

import (
	"cmp"
	"fmt"
	"iter"
	"slices"
	"sync"
)

// Resolution reports how an edit was mapped to a node.
type Resolution int

const (
	// ResolvedExisting means the edit's path already belonged to a node.
	ResolvedExisting Resolution = iota
	// ResolvedCreated means a new node was created for the edit's path.
	ResolvedCreated
	// ResolvedRenamed means the node found via the previous path took the new path.
	ResolvedRenamed
	// ResolvedCollision means the rename target is the current path of a
	// different node; that node is returned and the renamed node is left as is.
	ResolvedCollision
)

// String returns a short name for logs.
func (r Resolution) String() string {
	switch r {
	case ResolvedExisting:
		return "existing"
	case ResolvedCreated:
		return "created"
	case ResolvedRenamed:
		return "renamed"
	case ResolvedCollision:
		return "collision"
	default:
		return "unknown"
	}
}

// lookup is what the path index knows about one edit.
type lookup struct {
	prevID        NodeID
	pathID        NodeID
	prevFound     bool
	pathFound     bool
	pathIsCurrent bool
}

// action is the effect decide picks for an edit.
type action int

const (
	actionCreate action = iota
	actionUsePath
	actionRename
	actionCollide
)

// decide is the rename resolution policy. It is a pure function of the index
// state so the policy can be tested without a registry.
//
//	previous resolves | path resolves             | action
//	yes               | no, or to the same node   | rename
//	yes               | other node, its current   | collide
//	yes               | other node, history only  | rename
//	no                | yes                       | use path owner
//	no                | no                        | create
func decide(l lookup) action {
	switch {
	case l.prevFound && (!l.pathFound || l.pathID == l.prevID):
		return actionRename
	case l.prevFound && l.pathIsCurrent:
		return actionCollide
	case l.prevFound:
		return actionRename
	case l.pathFound:
		return actionUsePath
	default:
		return actionCreate
	}
}

// Registry maps file paths, current and historical, to node identities.
type Registry struct {
	index map[string]NodeID
	nodes []*FileNode
	mu    sync.RWMutex
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{index: make(map[string]NodeID)}
}

// ResolveOrCreate maps an edit to a node, creating or renaming nodes as needed.
// An unresolvable PreviousPath is treated as if no rename had been signalled.
func (r *Registry) ResolveOrCreate(edit Edit) (NodeID, Resolution) {
	r.mu.Lock()
	defer r.mu.Unlock()

	l := r.lookupLocked(edit)

	switch decide(l) {
	case actionRename:
		if r.renameLocked(r.nodes[l.prevID], edit.Path) {
			return l.prevID, ResolvedRenamed
		}

		return l.prevID, ResolvedExisting
	case actionCollide:
		return l.pathID, ResolvedCollision
	case actionUsePath:
		return l.pathID, ResolvedExisting
	default:
		return r.createLocked(edit.Path), ResolvedCreated
	}
}

func (r *Registry) lookupLocked(edit Edit) lookup {
	var l lookup

	if edit.PreviousPath != "" {
		l.prevID, l.prevFound = r.index[edit.PreviousPath]
	}

	l.pathID, l.pathFound = r.index[edit.Path]
	if l.pathFound {
		l.pathIsCurrent = r.nodes[l.pathID].CurrentPath == edit.Path
	}

	return l
}

func (r *Registry) createLocked(path string) NodeID {
	id := NodeID(len(r.nodes))
	r.nodes = append(r.nodes, &FileNode{ID: id, CurrentPath: path})
	r.index[path] = id

	return id
}

// renameLocked moves node to path and reports whether anything changed.
// A path the node held before is taken out of its history so that
// PreviousPaths never contains CurrentPath.
func (r *Registry) renameLocked(node *FileNode, path string) bool {
	if node.CurrentPath == path {
		return false
	}

	old := node.CurrentPath

	node.PreviousPaths = slices.DeleteFunc(node.PreviousPaths, func(p string) bool { return p == path })
	node.PreviousPaths = append(node.PreviousPaths, old)
	node.CurrentPath = path

	r.index[path] = node.ID
	r.index[old] = node.ID

	return true
}

// Lookup returns the node a path resolves to.
func (r *Registry) Lookup(path string) (NodeID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.index[path]

	return id, ok
}

// Node returns a copy of the node with the given id.
func (r *Registry) Node(id NodeID) (FileNode, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if id < 0 || int(id) >= len(r.nodes) {
		return FileNode{}, false
	}

	return r.nodes[id].clone(), true
}

// Len returns the number of nodes.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.nodes)
}

// Nodes yields copies of all nodes in creation order.
func (r *Registry) Nodes() iter.Seq[FileNode] {
	return func(yield func(FileNode) bool) {
		for _, n := range r.snapshot() {
			if !yield(n) {
				return
			}
		}
	}
}

func (r *Registry) snapshot() []FileNode {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]FileNode, len(r.nodes))
	for i, n := range r.nodes {
		out[i] = n.clone()
	}

	return out
}

// restore appends a node decoded from a snapshot. Nodes must arrive in id order.
// Current paths are indexed by restoreIndex once all nodes are known.
func (r *Registry) restore(node FileNode) {
	n := node.clone()
	r.nodes = append(r.nodes, &n)
}

// aliases lists the former paths that several nodes claim, with the node the
// index resolves each to. Current paths always resolve to their holder and
// are left out.
func (r *Registry) aliases() []Alias {
	r.mu.RLock()
	defer r.mu.RUnlock()

	claims := make(map[string]int)

	for _, n := range r.nodes {
		for _, p := range n.PreviousPaths {
			claims[p]++
		}
	}

	var out []Alias

	for p, count := range claims {
		id := r.index[p]
		if count < 2 || r.nodes[id].CurrentPath == p {
			continue
		}

		out = append(out, Alias{Path: p, Node: id})
	}

	slices.SortFunc(out, func(a, b Alias) int { return cmp.Compare(a.Path, b.Path) })

	return out
}

// restoreAlias points a former path at the given node, overriding the
// lowest-id default of restoreIndex.
func (r *Registry) restoreAlias(a Alias) error {
	if a.Node < 0 || int(a.Node) >= len(r.nodes) {
		return fmt.Errorf("%w: alias %q points at %d", ErrUnknownNode, a.Path, a.Node)
	}

	if !slices.Contains(r.nodes[a.Node].PreviousPaths, a.Path) {
		return fmt.Errorf("%w: %q is not a previous path of node %d", ErrInvalidAlias, a.Path, a.Node)
	}

	if owner := r.index[a.Path]; r.nodes[owner].CurrentPath == a.Path {
		return fmt.Errorf("%w: %q is the current path of node %d", ErrInvalidAlias, a.Path, owner)
	}

	r.index[a.Path] = a.Node

	return nil
}

// restoreIndex rebuilds the path index: current paths first, then history
// entries that no current path claims. A former path listed by several nodes
// goes to the lowest id until an alias says otherwise.
func (r *Registry) restoreIndex() error {
	for _, n := range r.nodes {
		if owner, taken := r.index[n.CurrentPath]; taken {
			return duplicatePathError(n.CurrentPath, owner, n.ID)
		}

		r.index[n.CurrentPath] = n.ID
	}

	for _, n := range r.nodes {
		for _, p := range n.PreviousPaths {
			if p == n.CurrentPath {
				return historyContainsCurrentError(n.ID, p)
			}

			if _, taken := r.index[p]; !taken {
				r.index[p] = n.ID
			}
		}
	}

	return nil
}
