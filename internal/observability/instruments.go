package observability

import (
	"errors"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/metric"
)

const (
	metricPrefix  = "cochange."
	suffixCounter = ".total"
	suffixSeconds = ".seconds"
	unitSeconds   = "s"
)

// ErrMetricName is returned when an instrument name breaks the naming rules:
// a "cochange." prefix everywhere, ".total" on counters and ".seconds" on
// histograms measured in seconds.
var ErrMetricName = errors.New("metric name breaks naming rules")

// instrumentSet creates the instruments of one metrics group. Naming and
// creation errors are collected and reported together by err.
type instrumentSet struct {
	meter metric.Meter
	errs  []error
}

func newInstrumentSet(mt metric.Meter) *instrumentSet {
	return &instrumentSet{meter: mt}
}

// CheckMetricName applies the naming rules to one instrument name. suffix is
// the required ending, or empty when only the prefix applies.
func CheckMetricName(name, suffix string) error {
	if !strings.HasPrefix(name, metricPrefix) || !strings.HasSuffix(name, suffix) {
		return fmt.Errorf("%w: %q (want %s*%s)", ErrMetricName, name, metricPrefix, suffix)
	}

	return nil
}

func (s *instrumentSet) counter(name, desc, unit string) metric.Int64Counter {
	s.collect(CheckMetricName(name, suffixCounter))

	c, err := s.meter.Int64Counter(name, metric.WithDescription(desc), metric.WithUnit(unit))
	s.collect(created(name, err))

	return c
}

func (s *instrumentSet) histogram(name, desc, unit string, bounds ...float64) metric.Float64Histogram {
	suffix := ""
	if unit == unitSeconds {
		suffix = suffixSeconds
	}

	s.collect(CheckMetricName(name, suffix))

	opts := []metric.Float64HistogramOption{metric.WithDescription(desc), metric.WithUnit(unit)}
	if len(bounds) > 0 {
		opts = append(opts, metric.WithExplicitBucketBoundaries(bounds...))
	}

	h, err := s.meter.Float64Histogram(name, opts...)
	s.collect(created(name, err))

	return h
}

func (s *instrumentSet) upDownCounter(name, desc, unit string) metric.Int64UpDownCounter {
	s.collect(CheckMetricName(name, ""))

	c, err := s.meter.Int64UpDownCounter(name, metric.WithDescription(desc), metric.WithUnit(unit))
	s.collect(created(name, err))

	return c
}

func (s *instrumentSet) gauge(name, desc, unit string) metric.Int64Gauge {
	s.collect(CheckMetricName(name, ""))

	g, err := s.meter.Int64Gauge(name, metric.WithDescription(desc), metric.WithUnit(unit))
	s.collect(created(name, err))

	return g
}

func (s *instrumentSet) collect(err error) {
	if err != nil {
		s.errs = append(s.errs, err)
	}
}

func (s *instrumentSet) err() error {
	return errors.Join(s.errs...)
}

func created(name string, err error) error {
	if err != nil {
		return fmt.Errorf("create %s: %w", name, err)
	}

	return nil
}
