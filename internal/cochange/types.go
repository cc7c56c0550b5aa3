// Package cochange builds a weighted co-change graph of files from the file
// lists of historical change-sets (pull requests, commits).
//
// A [Processor] owns one [Registry], which maps paths to stable node
// identities across renames, and one [Graph], which accumulates one edge per
// unordered pair of files that changed together.
package cochange

import (
	"errors"
	"fmt"
)

// NodeID is the stable identity of one logical file within a run.
type NodeID int

// FileNode is one logical file across its history of paths.
type FileNode struct {
	// PreviousPaths holds every path the file had before CurrentPath, oldest first.
	PreviousPaths []string
	CurrentPath   string
	ID            NodeID
}

// clone returns a deep copy safe to hand out of a lock.
func (n *FileNode) clone() FileNode {
	out := FileNode{ID: n.ID, CurrentPath: n.CurrentPath}

	if len(n.PreviousPaths) > 0 {
		out.PreviousPaths = append([]string(nil), n.PreviousPaths...)
	}

	return out
}

// Alias pins a former path to the node the registry resolves it to. It is
// only needed when several nodes list the same former path.
type Alias struct {
	Path string
	Node NodeID
}

// Edit is one file entry of a change-set.
type Edit struct {
	// Path is the file path after the change.
	Path string `json:"path"                    yaml:"path"`
	// PreviousPath is set when the file was known under another name before the change.
	PreviousPath string `json:"previous_path,omitempty" yaml:"previous_path,omitempty"`
	// SubChangeID identifies the finer-grained unit (usually a commit hash) that touched the file.
	SubChangeID string `json:"sub_change_id,omitempty" yaml:"sub_change_id,omitempty"`
}

// ChangeSet is a unit of co-change: every pair of files in it is reinforced once.
type ChangeSet struct {
	ID    string `json:"id"              yaml:"id"`
	Title string `json:"title,omitempty" yaml:"title,omitempty"`
	Edits []Edit `json:"edits"           yaml:"edits"`
}

// Edge is a read-only copy of one co-change edge. A is always less than B.
type Edge struct {
	ChangeIDs    []string
	SubChangeIDs []string
	A            NodeID
	B            NodeID
	Weight       int
}

// Weighting selects which contribution set defines an edge weight.
type Weighting int

const (
	// WeightByChange counts distinct change-set identifiers.
	WeightByChange Weighting = iota
	// WeightBySubChange counts distinct sub-change identifiers.
	WeightBySubChange
)

const (
	weightingChange    = "change"
	weightingSubChange = "subchange"
)

// ErrInvalidWeighting is returned for an unknown weighting name.
var ErrInvalidWeighting = errors.New("invalid weighting")

// ParseWeighting converts a configuration string into a Weighting.
// The empty string selects WeightByChange.
func ParseWeighting(name string) (Weighting, error) {
	switch name {
	case "", weightingChange:
		return WeightByChange, nil
	case weightingSubChange:
		return WeightBySubChange, nil
	default:
		return WeightByChange, fmt.Errorf("%w: %q (want %q or %q)", ErrInvalidWeighting, name, weightingChange, weightingSubChange)
	}
}

// String returns the configuration name of the weighting.
func (w Weighting) String() string {
	if w == WeightBySubChange {
		return weightingSubChange
	}

	return weightingChange
}
