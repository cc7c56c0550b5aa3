// Package render draws a snapshot as an interactive force-directed HTML
// graph.
package render

import (
	"cmp"
	"fmt"
	"io"
	"math"
	"slices"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/Sumatoshi-tech/cochange/internal/pathfilter"
	"github.com/Sumatoshi-tech/cochange/internal/snapshot"
)

const (
	defaultTitle   = "Co-change graph"
	defaultWidth   = "100%"
	defaultHeight  = "900px"
	otherLanguage  = "Other"
	minSymbolSize  = 6
	maxSymbolSize  = 60
	symbolScale    = 4
	forceRepulsion = 160
	forceGravity   = 0.08
	forceEdgeLen   = 90
)

// Options tunes the rendered page.
type Options struct {
	Title  string
	Width  string
	Height string
	// MinWeight drops edges lighter than this. Values below 1 keep all edges.
	MinWeight int
	// MaxNodes keeps only the nodes with the highest weighted degree. Zero
	// keeps all.
	MaxNodes int
}

// Data is the chart input derived from a snapshot.
type Data struct {
	Nodes      []opts.GraphNode
	Links      []opts.GraphLink
	Categories []*opts.GraphCategory
}

type candidate struct {
	path   string
	id     int
	degree int
}

// Build selects nodes and links and assigns one category per language.
// Nodes are sized by weighted degree over the kept edges; nodes left
// without edges are dropped when MinWeight filters anything.
func Build(snap snapshot.Snapshot, o Options) Data {
	paths := make(map[int]string, len(snap.Nodes))
	for _, n := range snap.Nodes {
		paths[n.ID] = n.Path
	}

	degree := make(map[int]int, len(snap.Nodes))
	kept := make([]snapshot.Edge, 0, len(snap.Edges))

	for _, e := range snap.Edges {
		if e.Weight < o.MinWeight {
			continue
		}

		kept = append(kept, e)
		degree[e.Source] += e.Weight
		degree[e.Target] += e.Weight
	}

	candidates := make([]candidate, 0, len(snap.Nodes))

	for _, n := range snap.Nodes {
		if o.MinWeight > 1 && degree[n.ID] == 0 {
			continue
		}

		candidates = append(candidates, candidate{path: n.Path, id: n.ID, degree: degree[n.ID]})
	}

	slices.SortStableFunc(candidates, func(a, b candidate) int {
		return cmp.Or(cmp.Compare(b.degree, a.degree), cmp.Compare(a.id, b.id))
	})

	if o.MaxNodes > 0 && len(candidates) > o.MaxNodes {
		candidates = candidates[:o.MaxNodes]
	}

	selected := make(map[int]bool, len(candidates))
	categoryIndex := make(map[string]int)

	var data Data

	for _, c := range candidates {
		selected[c.id] = true

		lang := pathfilter.Language(c.path)
		if lang == "" {
			lang = otherLanguage
		}

		idx, ok := categoryIndex[lang]
		if !ok {
			idx = len(data.Categories)
			categoryIndex[lang] = idx
			data.Categories = append(data.Categories, &opts.GraphCategory{Name: lang})
		}

		data.Nodes = append(data.Nodes, opts.GraphNode{
			Name:       c.path,
			Value:      float32(c.degree),
			Category:   idx,
			SymbolSize: symbolSize(c.degree),
		})
	}

	for _, e := range kept {
		if !selected[e.Source] || !selected[e.Target] {
			continue
		}

		data.Links = append(data.Links, opts.GraphLink{
			Source: paths[e.Source],
			Target: paths[e.Target],
			Value:  float32(e.Weight),
		})
	}

	return data
}

func symbolSize(degree int) int {
	size := minSymbolSize + int(math.Round(math.Sqrt(float64(degree))*symbolScale))

	return min(size, maxSymbolSize)
}

// Chart builds the echarts graph for snap.
func Chart(snap snapshot.Snapshot, o Options) *charts.Graph {
	data := Build(snap, o)
	stats := snap.Summarize()

	title := cmp.Or(o.Title, defaultTitle)

	graph := charts.NewGraph()
	graph.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{
			PageTitle: title,
			Width:     cmp.Or(o.Width, defaultWidth),
			Height:    cmp.Or(o.Height, defaultHeight),
		}),
		charts.WithTitleOpts(opts.Title{
			Title: title,
			Subtitle: fmt.Sprintf("%d files, %d edges, weighted by %s",
				len(data.Nodes), len(data.Links), stats.Weighting),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), Top: "bottom"}),
	)

	graph.AddSeries("files", data.Nodes, data.Links,
		charts.WithGraphChartOpts(opts.GraphChart{
			Layout: "force",
			Force: &opts.GraphForce{
				Repulsion:  forceRepulsion,
				Gravity:    forceGravity,
				EdgeLength: forceEdgeLen,
			},
			Roam:       opts.Bool(true),
			Draggable:  opts.Bool(true),
			Categories: data.Categories,
		}),
	)

	return graph
}

// HTML writes a standalone page for snap to w.
func HTML(w io.Writer, snap snapshot.Snapshot, o Options) error {
	err := Chart(snap, o).Render(w)
	if err != nil {
		return fmt.Errorf("render graph: %w", err)
	}

	return nil
}
