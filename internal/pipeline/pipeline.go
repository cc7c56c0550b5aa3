// Package pipeline drives a change-set source into a co-change processor.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/Sumatoshi-tech/cochange/internal/cochange"
	"github.com/Sumatoshi-tech/cochange/internal/observability"
	"github.com/Sumatoshi-tech/cochange/internal/source"
)

// DefaultWorkers is the fetch concurrency when Options.Workers is unset.
const DefaultWorkers = 1

const tracerPipeline = "cochange.pipeline"

// Options configures a Runner.
type Options struct {
	Logger  *slog.Logger
	Metrics *observability.BuildMetrics
	Tracer  trace.Tracer
	// Progress, when set, is called after every change-set with the number
	// handled so far and the total.
	Progress func(done, total int)
	Workers  int
}

// Failure is one change-set that could not be retrieved.
type Failure struct {
	Err error
	Ref source.Ref
}

// Summary describes one completed run.
type Summary struct {
	Failures       []Failure
	Listed         int
	Applied        int
	Oversized      int
	Renamed        int
	Collisions     int
	Reinforcements int
	Nodes          int
	Edges          int
	Duration       time.Duration
}

// Skipped returns the number of change-sets that were not applied.
func (s Summary) Skipped() int {
	return len(s.Failures)
}

// Runner fetches change-sets with bounded concurrency and applies each one
// atomically to its processor. Change-sets are applied in listing order
// whatever the number of workers.
type Runner struct {
	src    source.Source
	proc   *cochange.Processor
	logger *slog.Logger
	tracer trace.Tracer
	opts   Options
}

// NewRunner creates a runner over src and proc.
func NewRunner(src source.Source, proc *cochange.Processor, opts Options) *Runner {
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	tracer := opts.Tracer
	if tracer == nil {
		tracer = otel.Tracer(tracerPipeline)
	}

	return &Runner{src: src, proc: proc, logger: logger, tracer: tracer, opts: opts}
}

// Run lists the source, then fetches and applies every change-set. Per-item
// retrieval failures are recorded in the summary and never stop the run; a
// List failure or cancellation of ctx does.
func (r *Runner) Run(ctx context.Context) (Summary, error) {
	start := time.Now()

	ctx, span := r.tracer.Start(ctx, "cochange.build",
		trace.WithAttributes(attribute.Int("pipeline.workers", r.opts.Workers)))
	defer span.End()

	refs, err := r.src.List(ctx)
	if err != nil {
		observability.RecordSpanError(span, err, observability.ErrTypeDependencyUnavailable, observability.ErrSourceDependency)

		return Summary{}, fmt.Errorf("list change-sets: %w", err)
	}

	r.logger.InfoContext(ctx, "change-sets listed", "count", len(refs), "workers", r.opts.Workers)

	acc := &accumulator{summary: Summary{Listed: len(refs)}, total: len(refs), progress: r.opts.Progress}

	order := newSequencer(func(f fetched) { r.apply(ctx, f, acc) })

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(r.opts.Workers)

	for i, ref := range refs {
		if groupCtx.Err() != nil {
			break
		}

		group.Go(func() error {
			order.deliver(i, r.fetch(groupCtx, ref))

			return nil
		})
	}

	_ = group.Wait()

	err = ctx.Err()
	if err != nil {
		observability.RecordSpanError(span, err, observability.ErrTypeInternal, observability.ErrSourceClient)

		return acc.result(), fmt.Errorf("build interrupted: %w", err)
	}

	summary := acc.result()
	summary.Nodes = r.proc.Registry().Len()
	summary.Edges = r.proc.Graph().EdgeCount()
	summary.Duration = time.Since(start)

	r.opts.Metrics.RunFinished(ctx, summary.Nodes, summary.Edges, summary.Duration)

	span.SetAttributes(
		attribute.Int("pipeline.applied", summary.Applied),
		attribute.Int("pipeline.skipped", summary.Skipped()),
		attribute.Int("cochange.nodes", summary.Nodes),
		attribute.Int("cochange.edges", summary.Edges),
	)

	return summary, nil
}

// fetched is the retrieval result of one listed change-set.
type fetched struct {
	ref      source.Ref
	err      error
	cs       cochange.ChangeSet
	canceled bool
}

func (r *Runner) fetch(ctx context.Context, ref source.Ref) fetched {
	ctx = observability.WithChangeID(ctx, ref.ID)

	fetchCtx, fetchSpan := r.tracer.Start(ctx, observability.SpanChangeSetFetch,
		trace.WithAttributes(attribute.String("changeset.id", ref.ID)))
	defer fetchSpan.End()

	cs, err := r.src.Fetch(fetchCtx, ref)
	if err != nil {
		observability.RecordSpanError(fetchSpan, err, observability.ErrTypeDependencyUnavailable, observability.ErrSourceDependency)
	}

	if cs.ID == "" {
		cs.ID = ref.ID
	}

	return fetched{
		ref:      ref,
		cs:       cs,
		err:      err,
		canceled: err != nil && errors.Is(err, context.Canceled) && ctx.Err() != nil,
	}
}

func (r *Runner) apply(ctx context.Context, f fetched, acc *accumulator) {
	if f.canceled {
		return
	}

	ctx = observability.WithChangeID(ctx, f.cs.ID)

	_, applySpan := r.tracer.Start(ctx, observability.SpanChangeSetApply,
		trace.WithAttributes(attribute.String("changeset.id", f.cs.ID)))

	out, err := r.proc.Consume(f.cs, f.err)
	applySpan.SetAttributes(
		attribute.Int("changeset.files", out.Files),
		attribute.Int("changeset.reinforcements", out.Reinforcements),
	)
	applySpan.End()

	if err != nil {
		r.logger.WarnContext(ctx, "change-set skipped", "error", f.err)
		r.opts.Metrics.ChangeSetSkipped(ctx)
		acc.fail(Failure{Ref: f.ref, Err: f.err})

		return
	}

	r.logger.DebugContext(ctx, "change-set applied",
		"files", out.Files,
		"filtered", out.Filtered,
		"created", out.Created,
		"renamed", out.Renamed,
		"reinforcements", out.Reinforcements,
	)

	if out.Oversized {
		r.logger.InfoContext(ctx, "change-set too large, edges not reinforced", "files", out.Files)
	}

	r.opts.Metrics.ChangeSetApplied(ctx, out.Reinforcements, out.Renamed, out.Oversized)
	acc.apply(out)
}

// sequencer releases results in listing position order. Results that arrive
// early wait in pending until every earlier position has been released.
type sequencer struct {
	release func(fetched)
	pending map[int]fetched
	next    int
	mu      sync.Mutex
}

func newSequencer(release func(fetched)) *sequencer {
	return &sequencer{release: release, pending: make(map[int]fetched)}
}

// deliver hands over the result at position pos and releases the contiguous
// run of results that became ready.
func (s *sequencer) deliver(pos int, f fetched) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.pending[pos] = f

	for {
		ready, ok := s.pending[s.next]
		if !ok {
			return
		}

		delete(s.pending, s.next)
		s.next++
		s.release(ready)
	}
}

type accumulator struct {
	progress func(done, total int)
	summary  Summary
	done     int
	total    int
	mu       sync.Mutex
}

func (a *accumulator) apply(out cochange.Outcome) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.summary.Applied++
	a.summary.Renamed += out.Renamed
	a.summary.Collisions += out.Collisions
	a.summary.Reinforcements += out.Reinforcements

	if out.Oversized {
		a.summary.Oversized++
	}

	a.step()
}

func (a *accumulator) fail(f Failure) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.summary.Failures = append(a.summary.Failures, f)
	a.step()
}

func (a *accumulator) step() {
	a.done++

	if a.progress != nil {
		a.progress(a.done, a.total)
	}
}

func (a *accumulator) result() Summary {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := a.summary
	out.Failures = append([]Failure(nil), a.summary.Failures...)

	return out
}
