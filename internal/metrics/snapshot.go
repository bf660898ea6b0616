package metrics

import (
	"fmt"
	"math"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
)

// Snapshot is an immutable aggregate of one metric at a point in time.
//
// Trend values (Min, Max, Mean, StdDev, Percentile) are in milliseconds.
type Snapshot struct {
	Name string `json:"name"`
	Kind Kind   `json:"kind"`

	// Count is the number of observations.
	Count int64 `json:"count"`

	// Sum of all observations (counter, trend).
	Sum float64 `json:"sum,omitempty"`

	// Rate is passes/count for rates and sum per second for counters.
	Rate float64 `json:"rate,omitempty"`

	Passes int64 `json:"passes,omitempty"`
	Fails  int64 `json:"fails,omitempty"`

	// Value is the last gauge observation.
	Value float64 `json:"value,omitempty"`

	Min    float64 `json:"min,omitempty"`
	Max    float64 `json:"max,omitempty"`
	Mean   float64 `json:"mean,omitempty"`
	StdDev float64 `json:"stdDev,omitempty"`

	// Elapsed is the registry run time used for counter rates.
	Elapsed time.Duration `json:"elapsed,omitempty"`

	hist *hdrhistogram.Histogram
}

// Empty reports whether the metric has no observations.
func (s Snapshot) Empty() bool {
	return s.Count == 0
}

// Percentile returns the value at quantile q (0-100) in milliseconds.
//
// Only trends carry a distribution; other kinds return 0.
func (s Snapshot) Percentile(q float64) float64 {
	if s.hist == nil || s.Count == 0 {
		return 0
	}
	return float64(s.hist.ValueAtQuantile(q)) / 1000
}

// Merge combines two sub-aggregates of the same metric.
//
// Counters, rates and trends merge associatively. For gauges the right-hand
// value wins and bounds are combined.
func (s Snapshot) Merge(o Snapshot) (Snapshot, error) {
	if s.Kind != o.Kind {
		return Snapshot{}, fmt.Errorf("merge %s (%s) with %s (%s): %w", s.Name, s.Kind, o.Name, o.Kind, ErrKindMismatch)
	}

	out := Snapshot{
		Name:    s.Name,
		Kind:    s.Kind,
		Count:   s.Count + o.Count,
		Sum:     s.Sum + o.Sum,
		Passes:  s.Passes + o.Passes,
		Fails:   s.Fails + o.Fails,
		Elapsed: s.Elapsed,
	}
	if o.Elapsed > out.Elapsed {
		out.Elapsed = o.Elapsed
	}

	switch {
	case s.Count == 0:
		out.Min, out.Max, out.Value = o.Min, o.Max, o.Value
	case o.Count == 0:
		out.Min, out.Max, out.Value = s.Min, s.Max, s.Value
	default:
		out.Min = math.Min(s.Min, o.Min)
		out.Max = math.Max(s.Max, o.Max)
		out.Value = o.Value
	}

	if s.Kind == KindTrend {
		switch {
		case s.hist != nil:
			out.hist = hdrhistogram.Import(s.hist.Export())
			if o.hist != nil {
				out.hist.Merge(o.hist)
			}
		case o.hist != nil:
			out.hist = hdrhistogram.Import(o.hist.Export())
		}
	}

	out.finish()
	return out, nil
}

// finish fills derived fields.
func (s *Snapshot) finish() {
	switch s.Kind {
	case KindRate:
		if s.Count > 0 {
			s.Rate = float64(s.Passes) / float64(s.Count)
		}
	case KindCounter:
		if secs := s.Elapsed.Seconds(); secs > 0 {
			s.Rate = s.Sum / secs
		}
	case KindTrend:
		if s.Count > 0 {
			s.Mean = s.Sum / float64(s.Count)
		}
		if s.hist != nil {
			s.StdDev = s.hist.StdDev() / 1000
		}
	}
}

func (s Snapshot) String() string {
	switch s.Kind {
	case KindCounter:
		return fmt.Sprintf("count=%g rate=%.2f/s", s.Sum, s.Rate)
	case KindGauge:
		return fmt.Sprintf("value=%g min=%g max=%g", s.Value, s.Min, s.Max)
	case KindRate:
		return fmt.Sprintf("rate=%.2f%% ✓ %d ✗ %d", s.Rate*100, s.Passes, s.Fails)
	case KindTrend:
		return fmt.Sprintf("avg=%s min=%s med=%s max=%s p(90)=%s p(95)=%s",
			FormatMillis(s.Mean), FormatMillis(s.Min), FormatMillis(s.Percentile(50)),
			FormatMillis(s.Max), FormatMillis(s.Percentile(90)), FormatMillis(s.Percentile(95)))
	default:
		return ""
	}
}

// FormatMillis renders a millisecond value as a rounded duration.
func FormatMillis(ms float64) string {
	d := time.Duration(ms * float64(time.Millisecond))
	switch {
	case d >= time.Second:
		return d.Round(time.Millisecond).String()
	case d >= time.Millisecond:
		return d.Round(10 * time.Microsecond).String()
	default:
		return d.Round(time.Microsecond).String()
	}
}
