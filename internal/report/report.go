// Package report prints co-change snapshots and build runs as terminal
// tables.
package report

import (
	"cmp"
	"errors"
	"fmt"
	"io"
	"slices"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/Sumatoshi-tech/cochange/internal/pipeline"
	"github.com/Sumatoshi-tech/cochange/internal/snapshot"
	"github.com/Sumatoshi-tech/cochange/pkg/levenshtein"
)

// ErrUnknownFile is returned when the --file filter names no node.
var ErrUnknownFile = errors.New("file not in snapshot")

// Couple is one edge with its endpoints resolved to paths.
type Couple struct {
	Source  string `json:"source"`
	Target  string `json:"target"`
	Weight  int    `json:"weight"`
	Changes int    `json:"changes"`
}

// Options controls table output.
type Options struct {
	// File restricts couples to edges touching this path. Previous paths
	// of a node match too.
	File  string
	Limit int
	Color bool
}

// TopCouples returns the heaviest edges, heaviest first, ties broken by
// source then target path.
func TopCouples(snap snapshot.Snapshot, o Options) ([]Couple, error) {
	paths := make(map[int]string, len(snap.Nodes))
	focus := -1

	for _, n := range snap.Nodes {
		paths[n.ID] = n.Path

		if o.File != "" && (n.Path == o.File || slices.Contains(n.PreviousPaths, o.File)) {
			focus = n.ID
		}
	}

	if o.File != "" && focus < 0 {
		return nil, unknownFile(o.File, snap.Nodes)
	}

	couples := make([]Couple, 0, len(snap.Edges))

	for _, e := range snap.Edges {
		if focus >= 0 && e.Source != focus && e.Target != focus {
			continue
		}

		src, dst := paths[e.Source], paths[e.Target]
		if focus == e.Target {
			src, dst = dst, src
		}

		couples = append(couples, Couple{Source: src, Target: dst, Weight: e.Weight, Changes: len(e.ChangeIDs)})
	}

	slices.SortFunc(couples, func(a, b Couple) int {
		return cmp.Or(cmp.Compare(b.Weight, a.Weight), cmp.Compare(a.Source, b.Source), cmp.Compare(a.Target, b.Target))
	})

	if o.Limit > 0 && len(couples) > o.Limit {
		couples = couples[:o.Limit]
	}

	return couples, nil
}

func unknownFile(file string, nodes []snapshot.Node) error {
	paths := func(yield func(string) bool) {
		for _, n := range nodes {
			if !yield(n.Path) {
				return
			}
		}
	}

	if hint, ok := levenshtein.Suggest(file, paths); ok {
		return fmt.Errorf("%w: %s (did you mean %s?)", ErrUnknownFile, file, hint)
	}

	return fmt.Errorf("%w: %s", ErrUnknownFile, file)
}

func newTable(w io.Writer) table.Writer {
	style := table.StyleLight
	style.Format.Header = text.FormatDefault
	style.Format.Footer = text.FormatDefault

	tbl := table.NewWriter()
	tbl.SetOutputMirror(w)
	tbl.SetStyle(style)

	return tbl
}

func header(o Options, cells ...string) table.Row {
	row := make(table.Row, len(cells))

	paint := color.New(color.FgCyan, color.Bold)

	for i, c := range cells {
		if o.Color {
			row[i] = paint.Sprint(c)
		} else {
			row[i] = c
		}
	}

	return row
}

// WriteCouples renders couples with a footer summarizing the snapshot.
func WriteCouples(w io.Writer, couples []Couple, stats snapshot.Stats, o Options) {
	tbl := newTable(w)
	tbl.AppendHeader(header(o, "#", "File", "Changes with", "Weight", "Change-sets"))

	for i, c := range couples {
		tbl.AppendRow(table.Row{
			i + 1,
			c.Source,
			c.Target,
			humanize.Comma(int64(c.Weight)),
			humanize.Comma(int64(c.Changes)),
		})
	}

	tbl.AppendFooter(table.Row{
		"",
		fmt.Sprintf("%s files (%s renamed)", humanize.Comma(int64(stats.Nodes)), humanize.Comma(int64(stats.Renamed))),
		humanize.Comma(int64(stats.Edges)) + " edges",
		"max " + strconv.Itoa(stats.MaxWeight),
		"by " + stats.Weighting,
	})

	tbl.Render()
}

// WriteBuildSummary prints the outcome of one build run, including every
// skipped change-set and its reason.
func WriteBuildSummary(w io.Writer, s pipeline.Summary, out string, o Options) {
	tbl := newTable(w)
	tbl.AppendHeader(header(o, "Build", ""))

	tbl.AppendRows([]table.Row{
		{"Change-sets listed", humanize.Comma(int64(s.Listed))},
		{"Applied", humanize.Comma(int64(s.Applied))},
		{"Skipped", humanize.Comma(int64(s.Skipped()))},
		{"Oversized", humanize.Comma(int64(s.Oversized))},
		{"Renames", humanize.Comma(int64(s.Renamed))},
		{"Collisions", humanize.Comma(int64(s.Collisions))},
		{"Files", humanize.Comma(int64(s.Nodes))},
		{"Edges", humanize.Comma(int64(s.Edges))},
		{"Duration", s.Duration.Round(time.Millisecond).String()},
		{"Snapshot", out},
	})

	tbl.Render()

	if len(s.Failures) == 0 {
		return
	}

	failures := newTable(w)
	failures.AppendHeader(header(o, "Skipped change-set", "Reason"))

	for _, f := range s.Failures {
		failures.AppendRow(table.Row{f.Ref.ID, f.Err.Error()})
	}

	failures.Render()
}
