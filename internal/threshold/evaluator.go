package threshold

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/wesleyorama2/stampede/internal/metrics"
)

// NoDataPolicy decides the outcome of a threshold whose metric has no observations.
type NoDataPolicy string

const (
	// NoDataPass treats an empty metric as vacuously passing.
	NoDataPass NoDataPolicy = "pass"
	// NoDataFail treats an empty metric as a failure.
	NoDataFail NoDataPolicy = "fail"
)

// ParseNoDataPolicy parses a policy name; empty means NoDataPass.
func ParseNoDataPolicy(s string) (NoDataPolicy, error) {
	switch NoDataPolicy(s) {
	case "", NoDataPass:
		return NoDataPass, nil
	case NoDataFail:
		return NoDataFail, nil
	default:
		return "", fmt.Errorf("invalid noData policy %q (want pass or fail)", s)
	}
}

// Threshold binds an expression to a metric.
type Threshold struct {
	Metric      string
	Expression  Expression
	AbortOnFail bool

	// DelayAbortEval postpones abort decisions until the run is this old.
	DelayAbortEval time.Duration
}

// Result is the evaluation of a single threshold.
type Result struct {
	Metric      string  `json:"metric"`
	Expression  string  `json:"expression"`
	Observed    float64 `json:"observed"`
	Value       string  `json:"value"`
	Passed      bool    `json:"passed"`
	NoData      bool    `json:"noData,omitempty"`
	AbortOnFail bool    `json:"abortOnFail,omitempty"`
	Message     string  `json:"message,omitempty"`

	delayAbortEval time.Duration
}

// Outcome is the evaluation of every configured threshold.
type Outcome struct {
	Passed   bool     `json:"passed"`
	Failures []string `json:"failures,omitempty"`
	Results  []Result `json:"results"`
}

// ShouldAbort reports whether a failed abort-on-fail threshold is past its delay.
func (o Outcome) ShouldAbort(elapsed time.Duration) (bool, string) {
	for _, r := range o.Results {
		if r.AbortOnFail && !r.Passed && elapsed >= r.delayAbortEval {
			return true, fmt.Sprintf("threshold %s %q crossed: observed %s", r.Metric, r.Expression, r.Value)
		}
	}
	return false, ""
}

// Evaluator evaluates thresholds against a metric registry.
//
// Evaluation is read-only and may run repeatedly during a test.
type Evaluator struct {
	thresholds []Threshold
	noData     NoDataPolicy
}

// NewEvaluator creates an evaluator for the given thresholds.
func NewEvaluator(thresholds []Threshold, noData NoDataPolicy) *Evaluator {
	if noData == "" {
		noData = NoDataPass
	}
	return &Evaluator{
		thresholds: thresholds,
		noData:     noData,
	}
}

// Thresholds returns the configured thresholds.
func (e *Evaluator) Thresholds() []Threshold {
	return e.thresholds
}

// HasAbortOnFail reports whether any threshold can abort the run.
func (e *Evaluator) HasAbortOnFail() bool {
	for _, t := range e.thresholds {
		if t.AbortOnFail {
			return true
		}
	}
	return false
}

// Validate checks every threshold against the declared metrics.
//
// Unknown metrics and aggregates that do not apply to a metric's kind are
// configuration errors.
func (e *Evaluator) Validate(r *metrics.Registry) error {
	var errs []error
	for _, t := range e.thresholds {
		m, ok := r.Lookup(t.Metric)
		if !ok {
			errs = append(errs, fmt.Errorf("%s: %w", t.Metric, ErrUnknownMetric))
			continue
		}
		if !t.Expression.Supports(m.Kind) {
			errs = append(errs, fmt.Errorf("%s %q: %s on %s: %w",
				t.Metric, t.Expression.Source, t.Expression.Label(), m.Kind, ErrUnsupportedAggregate))
		}
	}
	return errors.Join(errs...)
}

// Evaluate evaluates every threshold against current snapshots.
func (e *Evaluator) Evaluate(r *metrics.Registry) Outcome {
	out := Outcome{Passed: true, Results: make([]Result, 0, len(e.thresholds))}

	for _, t := range e.thresholds {
		res := e.evaluate(r, t)
		if !res.Passed {
			out.Passed = false
			out.Failures = append(out.Failures, fmt.Sprintf("%s: %s (%s)", res.Metric, res.Expression, res.Message))
		}
		out.Results = append(out.Results, res)
	}

	return out
}

func (e *Evaluator) evaluate(r *metrics.Registry, t Threshold) Result {
	res := Result{
		Metric:         t.Metric,
		Expression:     t.Expression.Source,
		AbortOnFail:    t.AbortOnFail,
		delayAbortEval: t.DelayAbortEval,
	}

	snap, ok := r.Snapshot(t.Metric)
	if !ok {
		res.Message = ErrUnknownMetric.Error()
		return res
	}

	if snap.Empty() {
		res.NoData = true
		res.Value = "no data"
		res.Passed = e.noData == NoDataPass
		if !res.Passed {
			res.Message = "no observations"
		}
		return res
	}

	observed, err := t.Expression.Observe(snap)
	if err != nil {
		res.Message = err.Error()
		return res
	}

	res.Observed = observed
	res.Value = formatObserved(snap.Kind, t.Expression, observed)
	res.Passed = t.Expression.Holds(observed)
	if !res.Passed {
		res.Message = fmt.Sprintf("%s is %s", t.Expression.Label(), res.Value)
	}
	return res
}

func formatObserved(kind metrics.Kind, e Expression, v float64) string {
	if kind == metrics.KindTrend && e.Aggregate != AggCount {
		return metrics.FormatMillis(v)
	}
	if e.Aggregate == AggRate && kind == metrics.KindRate {
		return strconv.FormatFloat(v, 'f', 4, 64)
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}
