// Package metrics provides the metric registry shared by all virtual users of a run.
package metrics

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
)

// Kind identifies how a metric aggregates its observations.
type Kind int

const (
	// KindCounter sums every observation.
	KindCounter Kind = iota + 1
	// KindGauge keeps the last observation along with its min and max.
	KindGauge
	// KindRate tracks the fraction of non-zero (true) observations.
	KindRate
	// KindTrend keeps a latency distribution for percentile estimation.
	KindTrend
)

func (k Kind) String() string {
	switch k {
	case KindCounter:
		return "counter"
	case KindGauge:
		return "gauge"
	case KindRate:
		return "rate"
	case KindTrend:
		return "trend"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *Kind) UnmarshalText(b []byte) error {
	parsed, err := ParseKind(string(b))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// ParseKind parses a kind name as produced by Kind.String.
func ParseKind(s string) (Kind, error) {
	switch s {
	case "counter":
		return KindCounter, nil
	case "gauge":
		return KindGauge, nil
	case "rate":
		return KindRate, nil
	case "trend":
		return KindTrend, nil
	default:
		return 0, fmt.Errorf("unknown metric kind: %q", s)
	}
}

// ErrKindMismatch is returned when a metric name is reused with a different kind.
var ErrKindMismatch = errors.New("metric kind mismatch")

// Metric is a single named metric owned by a Registry.
//
// # Thread Safety
//
// Counters and rates are updated with atomics. Gauges and trends are
// protected by a per-metric mutex, so writers of different metrics never
// contend with each other.
type Metric struct {
	Name string
	Kind Kind

	count  atomic.Int64
	passes atomic.Int64
	sum    atomicFloat

	// Gauge and trend state
	mu      sync.Mutex
	last    float64
	min     float64
	max     float64
	hist    *hdrhistogram.Histogram
	histMin int64
	histMax int64
}

func newMetric(name string, kind Kind, cfg Config) *Metric {
	m := &Metric{
		Name:    name,
		Kind:    kind,
		min:     math.Inf(1),
		max:     math.Inf(-1),
		histMin: cfg.HistogramMin,
		histMax: cfg.HistogramMax,
	}
	if kind == KindTrend {
		m.hist = hdrhistogram.New(cfg.HistogramMin, cfg.HistogramMax, cfg.HistogramSigFigs)
	}
	return m
}

// Add records one observation.
//
// For rates any non-zero value counts as a pass. Trend values are
// milliseconds.
func (m *Metric) Add(value float64) {
	switch m.Kind {
	case KindCounter:
		m.count.Add(1)
		m.sum.Add(value)

	case KindRate:
		// count before passes; Snapshot loads them in reverse order.
		m.count.Add(1)
		if value != 0 {
			m.passes.Add(1)
		}

	case KindGauge:
		m.mu.Lock()
		m.last = value
		m.observeBounds(value)
		m.count.Add(1)
		m.mu.Unlock()

	case KindTrend:
		// HDR histogram is not safe for concurrent writers.
		m.mu.Lock()
		m.hist.RecordValue(m.clampMicros(value))
		m.observeBounds(value)
		m.count.Add(1)
		m.sum.Add(value)
		m.mu.Unlock()
	}
}

// AddBool records a rate observation.
func (m *Metric) AddBool(ok bool) {
	if ok {
		m.Add(1)
		return
	}
	m.Add(0)
}

// AddDuration records a duration in milliseconds.
func (m *Metric) AddDuration(d time.Duration) {
	m.Add(float64(d) / float64(time.Millisecond))
}

func (m *Metric) observeBounds(value float64) {
	if value < m.min {
		m.min = value
	}
	if value > m.max {
		m.max = value
	}
}

func (m *Metric) clampMicros(ms float64) int64 {
	micros := int64(math.Round(ms * 1000))
	if micros < m.histMin {
		micros = m.histMin
	}
	if micros > m.histMax {
		micros = m.histMax
	}
	return micros
}

// Snapshot returns a consistent point-in-time aggregate of the metric.
func (m *Metric) Snapshot() Snapshot {
	s := Snapshot{Name: m.Name, Kind: m.Kind}

	switch m.Kind {
	case KindCounter:
		s.Count = m.count.Load()
		s.Sum = m.sum.Load()

	case KindRate:
		// Load passes first so it never exceeds count.
		s.Passes = m.passes.Load()
		s.Count = m.count.Load()
		s.Fails = s.Count - s.Passes

	case KindGauge:
		m.mu.Lock()
		s.Count = m.count.Load()
		s.Value = m.last
		s.Min, s.Max = m.boundsLocked()
		m.mu.Unlock()

	case KindTrend:
		m.mu.Lock()
		s.Count = m.count.Load()
		s.Sum = m.sum.Load()
		s.Min, s.Max = m.boundsLocked()
		s.hist = hdrhistogram.Import(m.hist.Export())
		m.mu.Unlock()
	}

	s.finish()
	return s
}

func (m *Metric) boundsLocked() (float64, float64) {
	if m.count.Load() == 0 {
		return 0, 0
	}
	return m.min, m.max
}

// atomicFloat is a float64 updated with compare-and-swap.
type atomicFloat struct {
	bits atomic.Uint64
}

func (f *atomicFloat) Add(delta float64) {
	for {
		old := f.bits.Load()
		next := math.Float64bits(math.Float64frombits(old) + delta)
		if f.bits.CompareAndSwap(old, next) {
			return
		}
	}
}

func (f *atomicFloat) Load() float64 {
	return math.Float64frombits(f.bits.Load())
}
