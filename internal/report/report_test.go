package report_test

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sumatoshi-tech/cochange/internal/pipeline"
	"github.com/Sumatoshi-tech/cochange/internal/report"
	"github.com/Sumatoshi-tech/cochange/internal/snapshot"
	"github.com/Sumatoshi-tech/cochange/internal/source"
)

func sample() snapshot.Snapshot {
	return snapshot.Snapshot{
		Weighting: "change",
		Nodes: []snapshot.Node{
			{ID: 0, Path: "a.go"},
			{ID: 1, Path: "b.go", PreviousPaths: []string{"old_b.go"}},
			{ID: 2, Path: "c.go"},
		},
		Edges: []snapshot.Edge{
			{Source: 0, Target: 1, Weight: 2, ChangeIDs: []string{"1", "2"}},
			{Source: 0, Target: 2, Weight: 1, ChangeIDs: []string{"2"}},
			{Source: 1, Target: 2, Weight: 1, ChangeIDs: []string{"2"}},
		},
	}
}

func TestTopCouples_Ordering(t *testing.T) {
	t.Parallel()

	couples, err := report.TopCouples(sample(), report.Options{})
	require.NoError(t, err)

	assert.Equal(t, []report.Couple{
		{Source: "a.go", Target: "b.go", Weight: 2, Changes: 2},
		{Source: "a.go", Target: "c.go", Weight: 1, Changes: 1},
		{Source: "b.go", Target: "c.go", Weight: 1, Changes: 1},
	}, couples)

	limited, err := report.TopCouples(sample(), report.Options{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestTopCouples_FileFocus(t *testing.T) {
	t.Parallel()

	couples, err := report.TopCouples(sample(), report.Options{File: "old_b.go"})
	require.NoError(t, err)

	assert.Equal(t, []report.Couple{
		{Source: "b.go", Target: "a.go", Weight: 2, Changes: 2},
		{Source: "b.go", Target: "c.go", Weight: 1, Changes: 1},
	}, couples)

	_, err = report.TopCouples(sample(), report.Options{File: "missing.go"})
	require.ErrorIs(t, err, report.ErrUnknownFile)
	assert.NotContains(t, err.Error(), "did you mean")

	_, err = report.TopCouples(sample(), report.Options{File: "c.og"})
	require.ErrorIs(t, err, report.ErrUnknownFile)
	assert.Contains(t, err.Error(), "did you mean c.go?")
}

func TestWriteCouples(t *testing.T) {
	t.Parallel()

	couples, err := report.TopCouples(sample(), report.Options{})
	require.NoError(t, err)

	var buf bytes.Buffer

	report.WriteCouples(&buf, couples, sample().Summarize(), report.Options{})

	out := buf.String()
	assert.Contains(t, out, "Changes with")
	assert.Contains(t, out, "a.go")
	assert.Contains(t, out, "3 files (1 renamed)")
	assert.Contains(t, out, "3 edges")
	assert.Contains(t, out, "max 2")
}

func TestWriteBuildSummary(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	report.WriteBuildSummary(&buf, pipeline.Summary{
		Listed:   1234,
		Applied:  1233,
		Nodes:    10,
		Edges:    20,
		Duration: 1500 * time.Millisecond,
		Failures: []pipeline.Failure{{Ref: source.Ref{ID: "77"}, Err: errors.New("github: 404")}},
	}, "out.json", report.Options{})

	out := buf.String()
	assert.Contains(t, out, "1,234")
	assert.Contains(t, out, "1.5s")
	assert.Contains(t, out, "out.json")
	assert.Contains(t, out, "77")
	assert.Contains(t, out, "github: 404")
}
