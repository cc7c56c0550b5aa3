package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/Sumatoshi-tech/cochange/internal/cochange"
	"github.com/Sumatoshi-tech/cochange/internal/report"
	"github.com/Sumatoshi-tech/cochange/pkg/levenshtein"
)

// Tool name constants.
const (
	ToolNameNeighbors = "cochange_neighbors"
	ToolNameWeight    = "cochange_weight"
	ToolNameSummary   = "cochange_summary"
)

// Result size limits.
const (
	DefaultNeighborLimit = 20
	DefaultSummaryLimit  = 10
	MaxLimit             = 500
)

// Sentinel errors for tool input validation.
var (
	ErrEmptyPath    = errors.New("path parameter is required and must not be empty")
	ErrUnknownPath  = errors.New("path not in snapshot")
	ErrNegative     = errors.New("limit must not be negative")
	ErrSamePath     = errors.New("a and b resolve to the same file")
	ErrLimitTooHigh = errors.New("limit exceeds maximum")
)

// NeighborsInput is the input schema for cochange_neighbors.
type NeighborsInput struct {
	Path  string `json:"path"            jsonschema:"file path; a former path of a renamed file also matches"`
	Limit int    `json:"limit,omitempty" jsonschema:"maximum number of neighbors (default: 20)"`
}

// WeightInput is the input schema for cochange_weight.
type WeightInput struct {
	A string `json:"a" jsonschema:"first file path"`
	B string `json:"b" jsonschema:"second file path"`
}

// SummaryInput is the input schema for cochange_summary.
type SummaryInput struct {
	Limit int `json:"limit,omitempty" jsonschema:"number of strongest couples to include (default: 10)"`
}

// ToolOutput is a generic wrapper for tool results.
type ToolOutput struct {
	Data any `json:"data"`
}

// Neighbor is one file coupled to the queried file.
type Neighbor struct {
	Path   string `json:"path"`
	Weight int    `json:"weight"`
}

// NeighborsResult is the payload of cochange_neighbors.
type NeighborsResult struct {
	Path      string     `json:"path"`
	Neighbors []Neighbor `json:"neighbors"`
	Total     int        `json:"total"`
}

// WeightResult is the payload of cochange_weight.
type WeightResult struct {
	A         string   `json:"a"`
	B         string   `json:"b"`
	ChangeIDs []string `json:"change_ids"`
	Weight    int      `json:"weight"`
}

// SummaryResult is the payload of cochange_summary.
type SummaryResult struct {
	Weighting string          `json:"weighting"`
	Top       []report.Couple `json:"top"`
	Nodes     int             `json:"nodes"`
	Edges     int             `json:"edges"`
	Renamed   int             `json:"renamed"`
	MaxWeight int             `json:"max_weight"`
}

const (
	neighborsToolDescription = "List the files that most often changed together with the given file, " +
		"strongest coupling first."

	weightToolDescription = "Return the co-change weight between two files and the change-sets " +
		"that contributed to it. Unrelated files have weight 0."

	summaryToolDescription = "Summarize the co-change graph: node, edge and rename counts, " +
		"the maximum edge weight and the strongest couples."
)

func (s *Server) handleNeighbors(_ context.Context, _ *mcpsdk.CallToolRequest, in NeighborsInput) (*mcpsdk.CallToolResult, ToolOutput, error) {
	limit, err := resolveLimit(in.Limit, DefaultNeighborLimit)
	if err != nil {
		return errorResult(err)
	}

	id, node, err := s.resolve(in.Path)
	if err != nil {
		return errorResult(err)
	}

	adjacent := s.proc.Graph().Neighbors(id)
	out := NeighborsResult{Path: node.CurrentPath, Total: len(adjacent), Neighbors: make([]Neighbor, 0, min(limit, len(adjacent)))}

	for _, n := range adjacent[:min(limit, len(adjacent))] {
		other, _ := s.proc.Registry().Node(n.ID)
		out.Neighbors = append(out.Neighbors, Neighbor{Path: other.CurrentPath, Weight: n.Weight})
	}

	return jsonResult(out)
}

func (s *Server) handleWeight(_ context.Context, _ *mcpsdk.CallToolRequest, in WeightInput) (*mcpsdk.CallToolResult, ToolOutput, error) {
	a, nodeA, err := s.resolve(in.A)
	if err != nil {
		return errorResult(fmt.Errorf("a: %w", err))
	}

	b, nodeB, err := s.resolve(in.B)
	if err != nil {
		return errorResult(fmt.Errorf("b: %w", err))
	}

	if a == b {
		return errorResult(fmt.Errorf("%w: %s", ErrSamePath, nodeA.CurrentPath))
	}

	out := WeightResult{A: nodeA.CurrentPath, B: nodeB.CurrentPath, ChangeIDs: []string{}}

	if edge, ok := s.proc.Graph().Edge(a, b); ok {
		out.Weight = edge.Weight
		out.ChangeIDs = edge.ChangeIDs
	}

	return jsonResult(out)
}

func (s *Server) handleSummary(_ context.Context, _ *mcpsdk.CallToolRequest, in SummaryInput) (*mcpsdk.CallToolResult, ToolOutput, error) {
	limit, err := resolveLimit(in.Limit, DefaultSummaryLimit)
	if err != nil {
		return errorResult(err)
	}

	top, err := report.TopCouples(s.snap, report.Options{Limit: limit})
	if err != nil {
		return errorResult(err)
	}

	stats := s.snap.Summarize()

	return jsonResult(SummaryResult{
		Weighting: stats.Weighting,
		Top:       top,
		Nodes:     stats.Nodes,
		Edges:     stats.Edges,
		Renamed:   stats.Renamed,
		MaxWeight: stats.MaxWeight,
	})
}

// resolve maps a current or former path to its node.
func (s *Server) resolve(path string) (cochange.NodeID, cochange.FileNode, error) {
	if path == "" {
		return 0, cochange.FileNode{}, ErrEmptyPath
	}

	id, ok := s.proc.Registry().Lookup(path)
	if !ok {
		return 0, cochange.FileNode{}, s.unknownPath(path)
	}

	node, _ := s.proc.Registry().Node(id)

	return id, node, nil
}

func (s *Server) unknownPath(path string) error {
	current := func(yield func(string) bool) {
		for n := range s.proc.Registry().Nodes() {
			if !yield(n.CurrentPath) {
				return
			}
		}
	}

	if hint, ok := levenshtein.Suggest(path, current); ok {
		return fmt.Errorf("%w: %s (did you mean %s?)", ErrUnknownPath, path, hint)
	}

	return fmt.Errorf("%w: %s", ErrUnknownPath, path)
}

func resolveLimit(limit, fallback int) (int, error) {
	switch {
	case limit < 0:
		return 0, ErrNegative
	case limit == 0:
		return fallback, nil
	case limit > MaxLimit:
		return 0, fmt.Errorf("%w: %d (max %d)", ErrLimitTooHigh, limit, MaxLimit)
	default:
		return limit, nil
	}
}

// errorResult builds a CallToolResult with isError set.
func errorResult(err error) (*mcpsdk.CallToolResult, ToolOutput, error) {
	return &mcpsdk.CallToolResult{
		Content: []mcpsdk.Content{
			&mcpsdk.TextContent{Text: err.Error()},
		},
		IsError: true,
	}, ToolOutput{}, nil
}

// jsonResult builds a CallToolResult with JSON-encoded content.
func jsonResult(value any) (*mcpsdk.CallToolResult, ToolOutput, error) {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return errorResult(fmt.Errorf("encode result: %w", err))
	}

	return &mcpsdk.CallToolResult{
		Content: []mcpsdk.Content{
			&mcpsdk.TextContent{Text: string(data)},
		},
	}, ToolOutput{Data: value}, nil
}
