package cochange

import (
	"errors"
	"fmt"
)

// Sentinel errors returned when restoring a graph from decoded data.
var (
	// ErrDuplicatePath indicates two nodes claim the same current path.
	ErrDuplicatePath = errors.New("duplicate current path")
	// ErrHistoryContainsCurrent indicates a node lists its current path as a previous path.
	ErrHistoryContainsCurrent = errors.New("previous paths contain current path")
	// ErrNodeOrder indicates node ids are not dense and zero-based.
	ErrNodeOrder = errors.New("node ids must be dense and zero-based")
	// ErrEmptyPath indicates a node without a current path.
	ErrEmptyPath = errors.New("node has empty path")
	// ErrUnknownNode indicates an edge endpoint that is not a node.
	ErrUnknownNode = errors.New("edge references unknown node")
	// ErrSelfEdge indicates an edge whose endpoints are equal.
	ErrSelfEdge = errors.New("edge connects a node to itself")
	// ErrDuplicateEdge indicates two edges for the same unordered pair.
	ErrDuplicateEdge = errors.New("duplicate edge")
	// ErrInvalidAlias indicates an alias that does not name a former path of its node.
	ErrInvalidAlias = errors.New("invalid alias")
	// ErrEmptyContribution indicates an edge without any contributing change-set.
	ErrEmptyContribution = errors.New("edge has no contributing change ids")
)

// SkipError reports a change-set that was skipped because its file list
// could not be retrieved. It is recoverable: the run continues.
type SkipError struct {
	Err      error
	ChangeID string
}

// Error implements error.
func (e *SkipError) Error() string {
	return fmt.Sprintf("change-set %s skipped: %v", e.ChangeID, e.Err)
}

// Unwrap returns the retrieval error.
func (e *SkipError) Unwrap() error {
	return e.Err
}

func duplicatePathError(path string, first, second NodeID) error {
	return fmt.Errorf("%w: %q held by nodes %d and %d", ErrDuplicatePath, path, first, second)
}

func historyContainsCurrentError(id NodeID, path string) error {
	return fmt.Errorf("%w: node %d, path %q", ErrHistoryContainsCurrent, id, path)
}
