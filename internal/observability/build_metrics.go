package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	metricChangeSetsTotal     = "cochange.build.changesets.total"
	metricReinforcementsTotal = "cochange.build.reinforcements.total"
	metricRenamesTotal        = "cochange.build.renames.total"
	metricGraphNodes          = "cochange.graph.nodes"
	metricGraphEdges          = "cochange.graph.edges"
	metricRunDuration         = "cochange.build.duration.seconds"

	attrOutcome = "outcome"

	outcomeApplied   = "applied"
	outcomeSkipped   = "skipped"
	outcomeOversized = "oversized"
)

// runBuckets spans a handful of commits up to full-history GitHub crawls.
var runBuckets = []float64{0.1, 0.5, 1, 5, 10, 30, 60, 300, 900, 1800, 3600}

// BuildMetrics holds OTel instruments for graph construction runs.
type BuildMetrics struct {
	changeSets     metric.Int64Counter
	reinforcements metric.Int64Counter
	renames        metric.Int64Counter
	nodes          metric.Int64Gauge
	edges          metric.Int64Gauge
	runDuration    metric.Float64Histogram
}

// NewBuildMetrics creates build metric instruments from the given meter.
func NewBuildMetrics(mt metric.Meter) (*BuildMetrics, error) {
	b := newInstrumentSet(mt)

	bm := &BuildMetrics{
		changeSets:     b.counter(metricChangeSetsTotal, "Change-sets processed by outcome", "{changeset}"),
		reinforcements: b.counter(metricReinforcementsTotal, "Pairwise edge reinforcements", "{reinforcement}"),
		renames:        b.counter(metricRenamesTotal, "Renames merged into existing nodes", "{rename}"),
		nodes:          b.gauge(metricGraphNodes, "Nodes in the graph after the last run", "{node}"),
		edges:          b.gauge(metricGraphEdges, "Edges in the graph after the last run", "{edge}"),
		runDuration:    b.histogram(metricRunDuration, "Build run duration in seconds", "s", runBuckets...),
	}

	err := b.err()
	if err != nil {
		return nil, err
	}

	return bm, nil
}

// ChangeSetApplied records one applied change-set. Safe on a nil receiver.
func (bm *BuildMetrics) ChangeSetApplied(ctx context.Context, reinforcements, renames int, oversized bool) {
	if bm == nil {
		return
	}

	outcome := outcomeApplied
	if oversized {
		outcome = outcomeOversized
	}

	bm.changeSets.Add(ctx, 1, metric.WithAttributes(attribute.String(attrOutcome, outcome)))
	bm.reinforcements.Add(ctx, int64(reinforcements))
	bm.renames.Add(ctx, int64(renames))
}

// ChangeSetSkipped records a change-set whose retrieval failed. Safe on a nil receiver.
func (bm *BuildMetrics) ChangeSetSkipped(ctx context.Context) {
	if bm == nil {
		return
	}

	bm.changeSets.Add(ctx, 1, metric.WithAttributes(attribute.String(attrOutcome, outcomeSkipped)))
}

// RunFinished records the final graph size and run duration. Safe on a nil receiver.
func (bm *BuildMetrics) RunFinished(ctx context.Context, nodes, edges int, duration time.Duration) {
	if bm == nil {
		return
	}

	bm.nodes.Record(ctx, int64(nodes))
	bm.edges.Record(ctx, int64(edges))
	bm.runDuration.Record(ctx, duration.Seconds())
}
