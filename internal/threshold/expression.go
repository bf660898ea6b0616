// Package threshold evaluates pass/fail criteria against aggregated metrics.
package threshold

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/wesleyorama2/stampede/internal/metrics"
)

var (
	// ErrUnknownMetric is returned when a threshold names a metric that was never declared.
	ErrUnknownMetric = errors.New("unknown threshold metric")

	// ErrUnsupportedAggregate is returned when an aggregate does not apply to a metric kind.
	ErrUnsupportedAggregate = errors.New("unsupported aggregate for metric kind")
)

// Aggregate names a value derived from a metric snapshot.
type Aggregate string

const (
	AggAvg        Aggregate = "avg"
	AggMin        Aggregate = "min"
	AggMax        Aggregate = "max"
	AggMed        Aggregate = "med"
	AggPercentile Aggregate = "p"
	AggCount      Aggregate = "count"
	AggRate       Aggregate = "rate"
	AggValue      Aggregate = "value"
)

// Expression is a parsed comparison such as "p(95)<500".
type Expression struct {
	Source     string
	Aggregate  Aggregate
	Percentile float64
	Op         string
	Value      float64
}

var (
	exprPattern = regexp.MustCompile(`^\s*([a-z]+)\s*(\(\s*([0-9.]+)\s*\)|[0-9.]+)?\s*(<=|>=|==|!=|<|>)\s*(.+?)\s*$`)
	unitPattern = regexp.MustCompile(`^(-?[0-9.]+)\s*(ns|us|µs|ms|s|m|h)$`)
)

// Parse parses a threshold expression.
//
// Valid formats:
//   - "p(95)<500" or "p95 < 500ms"
//   - "avg<200", "med<=300ms", "min>0", "max<2s"
//   - "rate<0.1"
//   - "count>1000"
//   - "value>0"
//
// Duration literals are normalised to milliseconds.
func Parse(expr string) (Expression, error) {
	m := exprPattern.FindStringSubmatch(expr)
	if m == nil {
		return Expression{}, fmt.Errorf("invalid threshold expression %q", expr)
	}

	e := Expression{Source: strings.TrimSpace(expr), Op: m[4]}

	name, pct := m[1], m[2]
	switch Aggregate(name) {
	case AggAvg, AggMin, AggMax, AggMed, AggCount, AggRate, AggValue:
		if pct != "" {
			return Expression{}, fmt.Errorf("invalid threshold expression %q: %s takes no argument", expr, name)
		}
		e.Aggregate = Aggregate(name)

	case AggPercentile:
		arg := m[3]
		if arg == "" {
			arg = pct
		}
		q, err := strconv.ParseFloat(arg, 64)
		if err != nil || q < 0 || q > 100 {
			return Expression{}, fmt.Errorf("invalid threshold expression %q: percentile must be within 0-100", expr)
		}
		e.Aggregate = AggPercentile
		e.Percentile = q

	default:
		return Expression{}, fmt.Errorf("invalid threshold expression %q: unknown aggregate %q", expr, name)
	}

	v, err := parseLiteral(m[5])
	if err != nil {
		return Expression{}, fmt.Errorf("invalid threshold expression %q: %w", expr, err)
	}
	e.Value = v

	return e, nil
}

// MustParse is like Parse but panics on error.
func MustParse(expr string) Expression {
	e, err := Parse(expr)
	if err != nil {
		panic(err)
	}
	return e
}

func parseLiteral(s string) (float64, error) {
	if v, err := strconv.ParseFloat(s, 64); err == nil {
		return v, nil
	}

	m := unitPattern.FindStringSubmatch(s)
	if m == nil {
		return 0, fmt.Errorf("invalid threshold value %q", s)
	}
	unit := m[2]
	if unit == "µs" {
		unit = "us"
	}
	d, err := time.ParseDuration(m[1] + unit)
	if err != nil {
		return 0, fmt.Errorf("invalid threshold value %q: %w", s, err)
	}
	return float64(d) / float64(time.Millisecond), nil
}

// Supports reports whether the aggregate can be computed for a metric kind.
func (e Expression) Supports(kind metrics.Kind) bool {
	switch kind {
	case metrics.KindTrend:
		switch e.Aggregate {
		case AggAvg, AggMin, AggMax, AggMed, AggPercentile, AggCount:
			return true
		}
	case metrics.KindRate:
		return e.Aggregate == AggRate
	case metrics.KindCounter:
		return e.Aggregate == AggCount || e.Aggregate == AggRate
	case metrics.KindGauge:
		switch e.Aggregate {
		case AggValue, AggMin, AggMax:
			return true
		}
	}
	return false
}

// Observe computes the aggregate from a snapshot.
func (e Expression) Observe(s metrics.Snapshot) (float64, error) {
	if !e.Supports(s.Kind) {
		return 0, fmt.Errorf("%s on %s metric %s: %w", e.Aggregate, s.Kind, s.Name, ErrUnsupportedAggregate)
	}

	switch e.Aggregate {
	case AggAvg:
		return s.Mean, nil
	case AggMin:
		return s.Min, nil
	case AggMax:
		return s.Max, nil
	case AggMed:
		return s.Percentile(50), nil
	case AggPercentile:
		return s.Percentile(e.Percentile), nil
	case AggCount:
		if s.Kind == metrics.KindCounter {
			return s.Sum, nil
		}
		return float64(s.Count), nil
	case AggRate:
		return s.Rate, nil
	case AggValue:
		return s.Value, nil
	}
	return 0, fmt.Errorf("%s: %w", e.Aggregate, ErrUnsupportedAggregate)
}

// Holds reports whether the comparison holds for the observed value.
func (e Expression) Holds(observed float64) bool {
	switch e.Op {
	case "<":
		return observed < e.Value
	case "<=":
		return observed <= e.Value
	case ">":
		return observed > e.Value
	case ">=":
		return observed >= e.Value
	case "==":
		return observed == e.Value
	case "!=":
		return observed != e.Value
	default:
		return false
	}
}

// Label renders the aggregate the way it appears in reports, e.g. "p(95)".
func (e Expression) Label() string {
	if e.Aggregate == AggPercentile {
		return "p(" + strconv.FormatFloat(e.Percentile, 'f', -1, 64) + ")"
	}
	return string(e.Aggregate)
}

func (e Expression) String() string {
	return e.Source
}
