package output

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/wesleyorama2/stampede/internal/engine"
	"github.com/wesleyorama2/stampede/internal/metrics"
	"github.com/wesleyorama2/stampede/internal/threshold"
)

// OutputFormat represents the format of the end-of-run report
type OutputFormat string

const (
	// FormatText is the console summary
	FormatText OutputFormat = "text"
	// FormatJSON is a machine-readable JSON report
	FormatJSON OutputFormat = "json"
	// FormatYAML is a YAML report
	FormatYAML OutputFormat = "yaml"
)

// ParseFormat parses a report format name; empty means text.
func ParseFormat(s string) (OutputFormat, error) {
	switch OutputFormat(strings.ToLower(s)) {
	case "", FormatText:
		return FormatText, nil
	case FormatJSON:
		return FormatJSON, nil
	case FormatYAML, "yml":
		return FormatYAML, nil
	default:
		return "", fmt.Errorf("unknown output format %q (want text, json or yaml)", s)
	}
}

// Report is the serialisable form of a run result.
type Report struct {
	RunID       string                  `json:"runId" yaml:"runId"`
	Name        string                  `json:"name" yaml:"name"`
	Description string                  `json:"description,omitempty" yaml:"description,omitempty"`
	StartTime   time.Time               `json:"startTime" yaml:"startTime"`
	EndTime     time.Time               `json:"endTime" yaml:"endTime"`
	Duration    string                  `json:"duration" yaml:"duration"`
	Seed        int64                   `json:"seed" yaml:"seed"`
	Passed      bool                    `json:"passed" yaml:"passed"`
	Aborted     bool                    `json:"aborted,omitempty" yaml:"aborted,omitempty"`
	AbortReason string                  `json:"abortReason,omitempty" yaml:"abortReason,omitempty"`
	Iterations  int64                   `json:"iterations" yaml:"iterations"`
	Metrics     map[string]MetricReport `json:"metrics" yaml:"metrics"`
	Thresholds  []ThresholdReport       `json:"thresholds,omitempty" yaml:"thresholds,omitempty"`
}

// MetricReport is one metric's aggregate. Trend values are in milliseconds.
type MetricReport struct {
	Kind   string  `json:"kind" yaml:"kind"`
	Count  int64   `json:"count" yaml:"count"`
	Sum    float64 `json:"sum,omitempty" yaml:"sum,omitempty"`
	Rate   float64 `json:"rate,omitempty" yaml:"rate,omitempty"`
	Passes int64   `json:"passes,omitempty" yaml:"passes,omitempty"`
	Fails  int64   `json:"fails,omitempty" yaml:"fails,omitempty"`
	Value  float64 `json:"value,omitempty" yaml:"value,omitempty"`
	Min    float64 `json:"min,omitempty" yaml:"min,omitempty"`
	Max    float64 `json:"max,omitempty" yaml:"max,omitempty"`
	Avg    float64 `json:"avg,omitempty" yaml:"avg,omitempty"`
	Med    float64 `json:"med,omitempty" yaml:"med,omitempty"`
	P90    float64 `json:"p90,omitempty" yaml:"p90,omitempty"`
	P95    float64 `json:"p95,omitempty" yaml:"p95,omitempty"`
	P99    float64 `json:"p99,omitempty" yaml:"p99,omitempty"`
}

// ThresholdReport is one threshold's verdict.
type ThresholdReport struct {
	Metric      string `json:"metric" yaml:"metric"`
	Expression  string `json:"expression" yaml:"expression"`
	Passed      bool   `json:"passed" yaml:"passed"`
	Value       string `json:"value" yaml:"value"`
	NoData      bool   `json:"noData,omitempty" yaml:"noData,omitempty"`
	AbortOnFail bool   `json:"abortOnFail,omitempty" yaml:"abortOnFail,omitempty"`
}

// NewReport builds a Report from a run result.
func NewReport(result *engine.Result) *Report {
	r := &Report{
		RunID:       result.RunID,
		Name:        result.Name,
		Description: result.Description,
		StartTime:   result.StartTime,
		EndTime:     result.EndTime,
		Duration:    result.Duration.Round(time.Millisecond).String(),
		Seed:        result.Seed,
		Passed:      result.Passed,
		Aborted:     result.Aborted,
		AbortReason: result.AbortReason,
		Iterations:  result.Iterations,
		Metrics:     make(map[string]MetricReport, len(result.Metrics)),
	}

	for name, s := range result.Metrics {
		r.Metrics[name] = metricReport(s)
	}
	for _, t := range result.Thresholds.Results {
		r.Thresholds = append(r.Thresholds, thresholdReport(t))
	}
	sort.SliceStable(r.Thresholds, func(i, j int) bool { return r.Thresholds[i].Metric < r.Thresholds[j].Metric })
	return r
}

func metricReport(s metrics.Snapshot) MetricReport {
	m := MetricReport{
		Kind:   s.Kind.String(),
		Count:  s.Count,
		Sum:    s.Sum,
		Rate:   s.Rate,
		Passes: s.Passes,
		Fails:  s.Fails,
		Value:  s.Value,
		Min:    s.Min,
		Max:    s.Max,
	}
	if s.Kind == metrics.KindTrend {
		m.Avg = s.Mean
		m.Med = s.Percentile(50)
		m.P90 = s.Percentile(90)
		m.P95 = s.Percentile(95)
		m.P99 = s.Percentile(99)
	}
	return m
}

func thresholdReport(t threshold.Result) ThresholdReport {
	return ThresholdReport{
		Metric:      t.Metric,
		Expression:  t.Expression,
		Passed:      t.Passed,
		Value:       t.Value,
		NoData:      t.NoData,
		AbortOnFail: t.AbortOnFail,
	}
}

// WriteReport writes result to w in the given format. FormatText uses the
// console summary without colors.
func WriteReport(w io.Writer, format OutputFormat, result *engine.Result) error {
	switch format {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(NewReport(result))
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(NewReport(result)); err != nil {
			return err
		}
		return enc.Close()
	case FormatText, "":
		NewConsole(ConsoleConfig{Writer: w, NoColor: true}).PrintSummary(result)
		return nil
	default:
		return fmt.Errorf("unknown output format %q", format)
	}
}
