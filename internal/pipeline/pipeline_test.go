package pipeline_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/Sumatoshi-tech/cochange/internal/cochange"
	"github.com/Sumatoshi-tech/cochange/internal/observability"
	"github.com/Sumatoshi-tech/cochange/internal/pipeline"
	"github.com/Sumatoshi-tech/cochange/internal/source"
)

var (
	errRateLimited = errors.New("rate limited")
	errListFailed  = errors.New("listing failed")
)

type fakeSource struct {
	listErr  error
	failing  map[string]error
	delays   map[string]time.Duration
	sets     []cochange.ChangeSet
	mu       sync.Mutex
	fetched  []string
	inflight atomic.Int32
	peak     atomic.Int32
}

func (f *fakeSource) List(context.Context) ([]source.Ref, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}

	refs := make([]source.Ref, len(f.sets))
	for i, cs := range f.sets {
		refs[i] = source.Ref{ID: cs.ID, Title: cs.Title, Seq: i}
	}

	return refs, nil
}

func (f *fakeSource) Fetch(_ context.Context, ref source.Ref) (cochange.ChangeSet, error) {
	n := f.inflight.Add(1)
	defer f.inflight.Add(-1)

	for {
		peak := f.peak.Load()
		if n <= peak || f.peak.CompareAndSwap(peak, n) {
			break
		}
	}

	f.mu.Lock()
	f.fetched = append(f.fetched, ref.ID)
	f.mu.Unlock()

	time.Sleep(f.delays[ref.ID])

	if err := f.failing[ref.ID]; err != nil {
		return cochange.ChangeSet{ID: ref.ID}, err
	}

	return f.sets[ref.Seq], nil
}

func changeSet(id string, paths ...string) cochange.ChangeSet {
	edits := make([]cochange.Edit, len(paths))
	for i, p := range paths {
		edits[i] = cochange.Edit{Path: p}
	}

	return cochange.ChangeSet{ID: id, Edits: edits}
}

func TestRunner_ReferenceScenario(t *testing.T) {
	t.Parallel()

	src := &fakeSource{sets: []cochange.ChangeSet{
		changeSet("1", "a.txt", "b.txt"),
		changeSet("2", "a.txt", "b.txt", "c.txt"),
		{ID: "3", Edits: []cochange.Edit{{Path: "b.txt", PreviousPath: "old_b.txt"}}},
	}}

	proc := cochange.NewProcessor(cochange.Options{})

	var progress []int

	summary, err := pipeline.NewRunner(src, proc, pipeline.Options{
		Progress: func(done, total int) {
			assert.Equal(t, 3, total)

			progress = append(progress, done)
		},
	}).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"1", "2", "3"}, src.fetched)
	assert.Equal(t, []int{1, 2, 3}, progress)
	assert.Equal(t, 3, summary.Listed)
	assert.Equal(t, 3, summary.Applied)
	assert.Equal(t, 0, summary.Skipped())
	assert.Equal(t, 3, summary.Nodes)
	assert.Equal(t, 3, summary.Edges)
	assert.Equal(t, 4, summary.Reinforcements)
	assert.Positive(t, summary.Duration)
}

func TestRunner_FailuresDoNotStopTheRun(t *testing.T) {
	t.Parallel()

	src := &fakeSource{
		sets: []cochange.ChangeSet{
			changeSet("1", "a", "b"),
			changeSet("2", "a", "c"),
			changeSet("3", "b", "c"),
		},
		failing: map[string]error{"2": errRateLimited},
	}

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	t.Cleanup(func() { require.NoError(t, mp.Shutdown(context.Background())) })

	metrics, err := observability.NewBuildMetrics(mp.Meter("test"))
	require.NoError(t, err)

	proc := cochange.NewProcessor(cochange.Options{})

	summary, err := pipeline.NewRunner(src, proc, pipeline.Options{Metrics: metrics}).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, summary.Applied)
	require.Len(t, summary.Failures, 1)
	assert.Equal(t, "2", summary.Failures[0].Ref.ID)
	require.ErrorIs(t, summary.Failures[0].Err, errRateLimited)

	_, ok := proc.Registry().Lookup("c")
	assert.True(t, ok)
	assert.Equal(t, 2, summary.Edges)

	var collected metricdata.ResourceMetrics

	require.NoError(t, reader.Collect(context.Background(), &collected))

	outcomes := map[string]int64{}

	for _, sm := range collected.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != "cochange.build.changesets.total" {
				continue
			}

			sum, isSum := m.Data.(metricdata.Sum[int64])
			require.True(t, isSum)

			for _, dp := range sum.DataPoints {
				outcome, _ := dp.Attributes.Value("outcome")
				outcomes[outcome.AsString()] += dp.Value
			}
		}
	}

	assert.Equal(t, map[string]int64{"applied": 2, "skipped": 1}, outcomes)
}

func TestRunner_SkipLogCarriesChangeID(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	logger := slog.New(observability.NewLogHandler(slog.NewJSONHandler(&buf, nil), "cochange", "", observability.ModeCLI))

	src := &fakeSource{
		sets:    []cochange.ChangeSet{changeSet("1", "a", "b"), changeSet("2", "a", "c")},
		failing: map[string]error{"2": errRateLimited},
	}

	_, err := pipeline.NewRunner(src, cochange.NewProcessor(cochange.Options{}), pipeline.Options{Logger: logger}).
		Run(context.Background())
	require.NoError(t, err)

	var skipped map[string]any

	for _, line := range bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n")) {
		var record map[string]any

		require.NoError(t, json.Unmarshal(line, &record))

		if record["msg"] == "change-set skipped" {
			skipped = record
		}
	}

	require.NotNil(t, skipped)
	assert.Equal(t, "2", skipped["change_id"])
	assert.Equal(t, "WARN", skipped["level"])
}

func TestRunner_ListFailureIsFatal(t *testing.T) {
	t.Parallel()

	proc := cochange.NewProcessor(cochange.Options{})

	_, err := pipeline.NewRunner(&fakeSource{listErr: errListFailed}, proc, pipeline.Options{}).Run(context.Background())
	require.ErrorIs(t, err, errListFailed)
	assert.Equal(t, 0, proc.Registry().Len())
}

func TestRunner_ConcurrentWorkersBounded(t *testing.T) {
	t.Parallel()

	sets := make([]cochange.ChangeSet, 40)
	for i := range sets {
		sets[i] = changeSet(string(rune('A'+i%26))+string(rune('a'+i/26)), "shared.go", "other.go")
	}

	src := &fakeSource{sets: sets}
	proc := cochange.NewProcessor(cochange.Options{})

	summary, err := pipeline.NewRunner(src, proc, pipeline.Options{Workers: 4}).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 40, summary.Applied)
	assert.LessOrEqual(t, src.peak.Load(), int32(4))

	weight := proc.Graph().EdgeWeight(mustLookup(t, proc, "shared.go"), mustLookup(t, proc, "other.go"))
	assert.Equal(t, 40, weight)

	fetched := append([]string(nil), src.fetched...)
	sort.Strings(fetched)
	assert.Len(t, fetched, 40)
}

func TestRunner_AppliesInListingOrderWithSlowFetch(t *testing.T) {
	t.Parallel()

	src := &fakeSource{
		sets: []cochange.ChangeSet{
			changeSet("1", "old.go", "x.go"),
			{ID: "2", Edits: []cochange.Edit{{Path: "new.go", PreviousPath: "old.go"}, {Path: "x.go"}}},
			changeSet("3", "new.go", "y.go"),
		},
		delays: map[string]time.Duration{"1": 50 * time.Millisecond},
	}

	proc := cochange.NewProcessor(cochange.Options{})

	var progress []int

	summary, err := pipeline.NewRunner(src, proc, pipeline.Options{
		Workers:  4,
		Progress: func(done, _ int) { progress = append(progress, done) },
	}).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []int{1, 2, 3}, progress)
	assert.Equal(t, 3, summary.Nodes)
	assert.Equal(t, 2, summary.Edges)
	assert.Equal(t, 1, summary.Renamed)

	newID := mustLookup(t, proc, "new.go")
	assert.Equal(t, cochange.NodeID(0), newID)
	assert.Equal(t, newID, mustLookup(t, proc, "old.go"))
	assert.Equal(t, 2, proc.Graph().EdgeWeight(newID, mustLookup(t, proc, "x.go")))
}

func TestRunner_CanceledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	src := &fakeSource{sets: []cochange.ChangeSet{changeSet("1", "a", "b")}}

	_, err := pipeline.NewRunner(src, cochange.NewProcessor(cochange.Options{}), pipeline.Options{}).Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
}

func TestRunner_Spans(t *testing.T) {
	t.Parallel()

	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))

	t.Cleanup(func() { require.NoError(t, tp.Shutdown(context.Background())) })

	src := &fakeSource{sets: []cochange.ChangeSet{changeSet("1", "a", "b")}}

	_, err := pipeline.NewRunner(src, cochange.NewProcessor(cochange.Options{}), pipeline.Options{
		Tracer: tp.Tracer("test"),
	}).Run(context.Background())
	require.NoError(t, err)

	names := make([]string, 0, 3)
	for _, s := range exporter.GetSpans() {
		names = append(names, s.Name)
	}

	assert.ElementsMatch(t, []string{
		observability.SpanChangeSetFetch,
		observability.SpanChangeSetApply,
		"cochange.build",
	}, names)
}

func mustLookup(t *testing.T, proc *cochange.Processor, path string) cochange.NodeID {
	t.Helper()

	id, ok := proc.Registry().Lookup(path)
	require.True(t, ok, path)

	return id
}
