package output

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/wesleyorama2/stampede/internal/engine"
	"github.com/wesleyorama2/stampede/internal/executor"
	"github.com/wesleyorama2/stampede/internal/metrics"
	"github.com/wesleyorama2/stampede/internal/threshold"
)

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		duration time.Duration
		expected string
	}{
		{500 * time.Millisecond, "500ms"},
		{1 * time.Second, "1.0s"},
		{1*time.Minute + 30*time.Second, "1m 30s"},
		{16 * time.Minute, "16m 00s"},
		{1*time.Hour + 2*time.Minute + 3*time.Second, "1h 02m 03s"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			if got := formatDuration(tt.duration); got != tt.expected {
				t.Errorf("formatDuration(%v) = %q, want %q", tt.duration, got, tt.expected)
			}
		})
	}
}

func TestFormatNumber(t *testing.T) {
	tests := []struct {
		number   int64
		expected string
	}{
		{0, "0"},
		{100, "100"},
		{1000, "1,000"},
		{12345, "12,345"},
		{1234567, "1,234,567"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			if got := formatNumber(tt.number); got != tt.expected {
				t.Errorf("formatNumber(%d) = %q, want %q", tt.number, got, tt.expected)
			}
		})
	}
}

func TestRenderProgressBar(t *testing.T) {
	assert.Equal(t, "[░░░░]", renderProgressBar(-1, 4))
	assert.Equal(t, "[██░░]", renderProgressBar(0.5, 4))
	assert.Equal(t, "[████]", renderProgressBar(2, 4))
}

// sampleResult builds a result from a registry holding 10 requests and
// 10 error observations, 2 of them errors.
func sampleResult(t *testing.T, ths ...threshold.Threshold) *engine.Result {
	t.Helper()

	r := metrics.NewRegistry()
	b, err := metrics.DeclareBuiltins(r)
	require.NoError(t, err)
	errs := r.MustDeclare("errors", metrics.KindRate)

	for i := 0; i < 10; i++ {
		b.HTTPReqs.Add(1)
		b.HTTPReqDuration.AddDuration(time.Duration(10+i) * time.Millisecond)
		b.HTTPReqFailed.AddBool(false)
		errs.AddBool(i < 2)
	}
	b.Iterations.Add(5)
	b.VUs.Add(3)
	b.VUs.Add(0)

	outcome := threshold.NewEvaluator(ths, threshold.NoDataPass).Evaluate(r)

	return &engine.Result{
		RunID:      "6f1c9a4e-0000-4000-8000-000000000001",
		Name:       "checkout-latency",
		StartTime:  time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		EndTime:    time.Date(2024, 1, 1, 0, 16, 0, 0, time.UTC),
		Duration:   16 * time.Minute,
		Seed:       42,
		Passed:     outcome.Passed,
		Iterations: 5,
		Metrics:    r.Snapshots(),
		Thresholds: outcome,
	}
}

func TestConsole_PrintSummary_Passed(t *testing.T) {
	result := sampleResult(t,
		threshold.Threshold{Metric: "http_req_duration", Expression: threshold.MustParse("p(95)<500")},
		threshold.Threshold{Metric: "checks", Expression: threshold.MustParse("rate>0.9")},
	)

	var buf bytes.Buffer
	NewConsole(ConsoleConfig{Writer: &buf}).PrintSummary(result)
	out := buf.String()

	assert.NotContains(t, out, "\033[", "colors must be off for a non-terminal writer")
	assert.Contains(t, out, "checkout-latency - Completed ✓")
	assert.Contains(t, out, "Duration:      16m 00s")
	assert.Contains(t, out, "http_req_duration")
	assert.Contains(t, out, "✓ http_req_duration p(95)<500 (actual: ")
	assert.Contains(t, out, "✓ checks rate>0.9 (no data)")
	assert.Regexp(t, `checks\.+: no data`, out)
	assert.True(t, strings.HasSuffix(out, "PASSED\n"))
}

func TestConsole_PrintSummary_Failed(t *testing.T) {
	result := sampleResult(t,
		threshold.Threshold{Metric: "errors", Expression: threshold.MustParse("rate<0.1"), AbortOnFail: true},
	)
	result.Aborted = true
	result.AbortReason = "threshold errors crossed"

	var buf bytes.Buffer
	NewConsole(ConsoleConfig{Writer: &buf}).PrintSummary(result)
	out := buf.String()

	assert.Contains(t, out, "Failed ✗")
	assert.Contains(t, out, "Aborted:       threshold errors crossed")
	assert.Contains(t, out, "✗ errors rate<0.1 (actual: 0.2000) [abortOnFail]")
	assert.Contains(t, out, "FAILED: 1 threshold(s) crossed")
}

func TestConsole_Quiet(t *testing.T) {
	result := sampleResult(t)

	var buf bytes.Buffer
	c := NewConsole(ConsoleConfig{Writer: &buf, Quiet: true})
	c.PrintHeader(Header{Name: "x"})
	c.PrintProgress(LiveStats{})
	c.PrintSummary(result)

	assert.Equal(t, "PASSED\n", buf.String())
}

func TestConsole_Colors(t *testing.T) {
	result := sampleResult(t)

	var buf bytes.Buffer
	NewConsole(ConsoleConfig{Writer: &buf, ForceColors: true}).PrintSummary(result)
	assert.Contains(t, buf.String(), "\033[")

	buf.Reset()
	NewConsole(ConsoleConfig{Writer: &buf, ForceColors: true, NoColor: true}).PrintSummary(result)
	assert.NotContains(t, buf.String(), "\033[")
}

func TestConsole_PrintHeader(t *testing.T) {
	var buf bytes.Buffer
	NewConsole(ConsoleConfig{Writer: &buf}).PrintHeader(Header{
		Name:    "checkout-latency",
		BaseURL: "http://demo-shop:8000",
		Stages: []executor.Stage{
			{Duration: 2 * time.Minute, Target: 10},
			{Duration: 5 * time.Minute, Target: 10, Name: "hold"},
		},
		Seed:       7,
		Thresholds: 2,
	})
	out := buf.String()

	assert.Contains(t, out, "checkout-latency - Running")
	assert.Contains(t, out, "Target:        http://demo-shop:8000")
	assert.Contains(t, out, "Stages:        2 (7m 00s, max 10 VUs)")
	assert.Contains(t, out, "ramp-up")
	assert.Contains(t, out, "hold")
	assert.Contains(t, out, "Seed:          7")
}

func TestConsole_PrintProgress(t *testing.T) {
	stats := LiveStats{
		Progress:     0.25,
		Elapsed:      4 * time.Minute,
		Remaining:    12 * time.Minute,
		ActiveVUs:    10,
		TargetVUs:    10,
		Iterations:   1500,
		Requests:     4200,
		RPS:          17.5,
		LatencyP95:   120,
		Phase:        "steady",
		CurrentStage: 2,
		TotalStages:  5,
	}

	var buf bytes.Buffer
	c := NewConsole(ConsoleConfig{Writer: &buf})
	c.PrintProgress(stats)
	c.PrintProgress(stats)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], " 25%")
	assert.Contains(t, lines[0], "steady 2/5")
	assert.Contains(t, lines[0], "VUs 10/10")
	assert.Contains(t, lines[0], "reqs 4,200 (17.5/s)")
	assert.Contains(t, lines[0], "p95 120ms")

	buf.Reset()
	tty := NewConsole(ConsoleConfig{Writer: &buf, ForceTTY: true, NoColor: true})
	tty.PrintProgress(stats)
	assert.True(t, strings.HasPrefix(buf.String(), clearLine))
	assert.NotContains(t, buf.String(), "\n")
}

func TestStatsFrom(t *testing.T) {
	r := metrics.NewRegistry()
	b, err := metrics.DeclareBuiltins(r)
	require.NoError(t, err)
	r.MarkStart()

	for i := 0; i < 4; i++ {
		b.HTTPReqs.Add(1)
		b.HTTPReqDuration.AddDuration(100 * time.Millisecond)
		b.HTTPReqFailed.AddBool(i == 0)
	}

	live := StatsFrom(executor.Stats{
		Elapsed:       time.Minute,
		TotalDuration: 4 * time.Minute,
		ActiveVUs:     3,
		TargetVUs:     4,
		CurrentStage:  0,
		TotalStages:   2,
		Phase:         executor.PhaseRampUp,
	}, r)

	assert.InDelta(t, 0.25, live.Progress, 1e-9)
	assert.Equal(t, 3*time.Minute, live.Remaining)
	assert.Equal(t, 1, live.CurrentStage)
	assert.Equal(t, int64(4), live.Requests)
	assert.InDelta(t, 0.25, live.FailedRate, 1e-9)
	assert.InDelta(t, 100, live.LatencyAvg, 0.5)
	assert.InDelta(t, 100, live.LatencyP95, 0.5)
	assert.Equal(t, string(executor.PhaseRampUp), live.Phase)
}

func TestParseFormat(t *testing.T) {
	for in, want := range map[string]OutputFormat{
		"":     FormatText,
		"text": FormatText,
		"JSON": FormatJSON,
		"yml":  FormatYAML,
		"yaml": FormatYAML,
	} {
		got, err := ParseFormat(in)
		require.NoError(t, err)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseFormat("junit")
	assert.Error(t, err)
}

func TestWriteReport(t *testing.T) {
	result := sampleResult(t,
		threshold.Threshold{Metric: "http_req_duration", Expression: threshold.MustParse("p(95)<500")},
		threshold.Threshold{Metric: "errors", Expression: threshold.MustParse("rate<0.1")},
	)

	t.Run("json", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, WriteReport(&buf, FormatJSON, result))

		var report Report
		require.NoError(t, json.Unmarshal(buf.Bytes(), &report))
		assert.False(t, report.Passed)
		assert.Equal(t, "16m0s", report.Duration)

		trend := report.Metrics["http_req_duration"]
		assert.Equal(t, "trend", trend.Kind)
		assert.Equal(t, int64(10), trend.Count)
		assert.InDelta(t, 19, trend.P95, 0.5)

		require.Len(t, report.Thresholds, 2)
		assert.Equal(t, "errors", report.Thresholds[0].Metric)
		assert.False(t, report.Thresholds[0].Passed)
	})

	t.Run("yaml", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, WriteReport(&buf, FormatYAML, result))

		var report Report
		require.NoError(t, yaml.Unmarshal(buf.Bytes(), &report))
		assert.Equal(t, result.RunID, report.RunID)
		assert.Equal(t, int64(5), report.Iterations)
		assert.InDelta(t, 0.2, report.Metrics["errors"].Rate, 1e-9)
	})

	t.Run("text", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, WriteReport(&buf, FormatText, result))
		assert.Contains(t, buf.String(), "FAILED")
	})
}
