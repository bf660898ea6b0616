// Package output renders run progress and the end-of-run summary.
package output

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/wesleyorama2/stampede/internal/engine"
	"github.com/wesleyorama2/stampede/internal/executor"
	"github.com/wesleyorama2/stampede/internal/metrics"
)

const (
	clearLine = "\r\033[2K"

	ruleWidth = 56
	ruleChar  = "━"

	progressFilled = "█"
	progressEmpty  = "░"
)

// LiveStats contains real-time statistics for display.
type LiveStats struct {
	Progress  float64
	Elapsed   time.Duration
	Remaining time.Duration

	ActiveVUs int
	TargetVUs int

	Iterations int64
	Requests   int64
	RPS        float64
	FailedRate float64

	// Latency in milliseconds
	LatencyP95 float64
	LatencyAvg float64

	Phase        string
	StageName    string
	CurrentStage int // 1-indexed
	TotalStages  int
}

// StatsFrom combines executor stats with the registry's HTTP metrics.
func StatsFrom(stats executor.Stats, r *metrics.Registry) LiveStats {
	live := LiveStats{
		Progress:     stats.Progress(),
		Elapsed:      stats.Elapsed,
		ActiveVUs:    stats.ActiveVUs,
		TargetVUs:    stats.TargetVUs,
		Iterations:   stats.Iterations,
		Phase:        string(stats.Phase),
		StageName:    stats.CurrentStageName,
		CurrentStage: stats.CurrentStage + 1,
		TotalStages:  stats.TotalStages,
	}
	if remaining := stats.TotalDuration - stats.Elapsed; remaining > 0 {
		live.Remaining = remaining
	}

	if s, ok := r.Snapshot(metrics.HTTPReqs); ok {
		live.Requests = int64(s.Sum)
		live.RPS = s.Rate
	}
	if s, ok := r.Snapshot(metrics.HTTPReqFailed); ok {
		live.FailedRate = s.Rate
	}
	if s, ok := r.Snapshot(metrics.HTTPReqDuration); ok {
		live.LatencyP95 = s.Percentile(95)
		live.LatencyAvg = s.Mean
	}
	return live
}

// Header describes the run for PrintHeader.
type Header struct {
	Name        string
	Description string
	BaseURL     string
	Stages      []executor.Stage
	Seed        int64
	Thresholds  int
}

// ConsoleConfig contains configuration for Console.
type ConsoleConfig struct {
	Writer      io.Writer
	Quiet       bool
	NoColor     bool
	ForceColors bool
	ForceTTY    bool
}

// Console writes human-readable run output.
type Console struct {
	writer io.Writer
	scheme *ColorScheme
	isTTY  bool
	quiet  bool

	mu           sync.Mutex
	liveProgress bool
}

// NewConsole creates a console writer.
//
// Colors are used when the writer is a terminal that supports them, unless
// NoColor is set or NO_COLOR is present in the environment.
func NewConsole(config ConsoleConfig) *Console {
	if config.Writer == nil {
		config.Writer = os.Stdout
	}

	isTTY := config.ForceTTY || isTerminal(config.Writer)
	useColors := !config.NoColor && (config.ForceColors || (isTTY && supportsColors()))

	scheme := NoColorScheme()
	if useColors {
		scheme = DefaultColorScheme().enabled()
	}

	return &Console{
		writer: config.Writer,
		scheme: scheme,
		isTTY:  isTTY,
		quiet:  config.Quiet,
	}
}

// PrintHeader prints the run header.
func (c *Console) PrintHeader(h Header) {
	if c.quiet {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.scheme
	rule := s.Rule.Sprint(strings.Repeat(ruleChar, ruleWidth))

	c.writeln(rule)
	c.writeln(s.Title.Sprintf("%s - Running [ramping-vus]", h.Name))
	c.writeln(rule)
	if h.Description != "" {
		c.writeln(s.Dim.Sprint(h.Description))
	}
	c.writeln("")
	c.writeln(fmt.Sprintf("Target:        %s", s.Value.Sprint(h.BaseURL)))
	c.writeln(fmt.Sprintf("Stages:        %s (%s, max %d VUs)",
		s.Value.Sprint(len(h.Stages)),
		formatDuration(executor.TotalDuration(h.Stages)),
		executor.MaxTarget(h.Stages)))
	for i, st := range h.Stages {
		name := st.Name
		if name == "" {
			name = string(executor.PhaseOf(h.Stages, i))
		}
		c.writeln(s.Dim.Sprintf("  %d. %-8s -> %3d VUs  %s", i+1, formatDuration(st.Duration), st.Target, name))
	}
	c.writeln(fmt.Sprintf("Thresholds:    %s", s.Value.Sprint(h.Thresholds)))
	c.writeln(fmt.Sprintf("Seed:          %d", h.Seed))
	c.writeln("")
}

// PrintProgress prints a progress line.
//
// On a terminal the line is redrawn in place; otherwise one line is
// appended per call.
func (c *Console) PrintProgress(stats LiveStats) {
	if c.quiet {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	line := c.renderProgress(stats)
	if c.isTTY {
		c.write(clearLine + line)
		c.liveProgress = true
		return
	}
	c.writeln(line)
}

func (c *Console) renderProgress(stats LiveStats) string {
	s := c.scheme

	stage := stats.Phase
	if stats.TotalStages > 0 {
		stage = fmt.Sprintf("%s %d/%d", stats.Phase, stats.CurrentStage, stats.TotalStages)
	}

	return fmt.Sprintf("%s %s %s | %s | VUs %s/%d | iters %s | reqs %s (%.1f/s) | failed %s | p95 %s",
		s.Pass.Sprint(renderProgressBar(stats.Progress, 20)),
		s.Title.Sprintf("%3.0f%%", stats.Progress*100),
		s.Dim.Sprintf("%s/%s", formatDuration(stats.Elapsed), formatDuration(stats.Elapsed+stats.Remaining)),
		s.Phase.Sprint(stage),
		s.Value.Sprint(stats.ActiveVUs), stats.TargetVUs,
		formatNumber(stats.Iterations),
		formatNumber(stats.Requests), stats.RPS,
		s.rateColor(stats.FailedRate).Sprintf("%.2f%%", stats.FailedRate*100),
		s.Highlight.Sprint(metrics.FormatMillis(stats.LatencyP95)))
}

// PrintSummary prints the end-of-run summary.
func (c *Console) PrintSummary(result *engine.Result) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.scheme

	if c.quiet {
		if result.Passed {
			c.writeln(s.Pass.Sprint("PASSED"))
		} else {
			c.writeln(s.Fail.Sprint("FAILED"))
		}
		return
	}

	if c.liveProgress {
		c.write(clearLine)
		c.liveProgress = false
	}

	status := s.Pass.Sprint("Completed ✓")
	switch {
	case !result.Passed:
		status = s.Fail.Sprint("Failed ✗")
	case result.Aborted:
		status = s.Warn.Sprint("Stopped")
	}

	rule := s.Rule.Sprint(strings.Repeat(ruleChar, ruleWidth))
	c.writeln("")
	c.writeln(rule)
	c.writeln(fmt.Sprintf("%s - %s", s.Title.Sprint(result.Name), status))
	c.writeln(rule)
	c.writeln("")

	c.writeln(fmt.Sprintf("Run ID:        %s", result.RunID))
	c.writeln(fmt.Sprintf("Duration:      %s", s.Value.Sprint(formatDuration(result.Duration))))
	c.writeln(fmt.Sprintf("Iterations:    %s", s.Value.Sprint(formatNumber(result.Iterations))))
	if result.Aborted {
		c.writeln(fmt.Sprintf("Aborted:       %s", s.Warn.Sprint(result.AbortReason)))
	}
	c.writeln("")

	if len(result.Metrics) > 0 {
		c.writeln(s.Label.Sprint("Metrics:"))
		names := make([]string, 0, len(result.Metrics))
		width := 0
		for name := range result.Metrics {
			names = append(names, name)
			if len(name) > width {
				width = len(name)
			}
		}
		sort.Strings(names)
		for _, name := range names {
			snap := result.Metrics[name]
			dots := strings.Repeat(".", width-len(name)+3)
			c.writeln(fmt.Sprintf("  %s%s: %s", name, s.Dim.Sprint(dots), formatSnapshot(snap)))
		}
		c.writeln("")
	}

	if len(result.Thresholds.Results) > 0 {
		c.writeln(s.Label.Sprint("Thresholds:"))
		for _, t := range result.Thresholds.Results {
			icon := s.PassIcon()
			if !t.Passed {
				icon = s.FailIcon()
			}
			detail := fmt.Sprintf("(actual: %s)", t.Value)
			if t.NoData {
				detail = s.Warn.Sprint("(no data)")
			}
			abort := ""
			if t.AbortOnFail {
				abort = s.Dim.Sprint(" [abortOnFail]")
			}
			c.writeln(fmt.Sprintf("  %s %s %s %s%s", icon, t.Metric, t.Expression, detail, abort))
		}
		c.writeln("")
	}

	if result.Passed {
		c.writeln(s.Pass.Sprint("PASSED"))
	} else {
		c.writeln(s.Fail.Sprintf("FAILED: %d threshold(s) crossed", len(result.Failures())))
	}
}

func formatSnapshot(s metrics.Snapshot) string {
	if s.Empty() {
		return "no data"
	}
	return s.String()
}

// write writes to the output without a newline.
func (c *Console) write(s string) {
	fmt.Fprint(c.writer, s)
}

// writeln writes to the output with a newline.
func (c *Console) writeln(s string) {
	fmt.Fprintln(c.writer, s)
}

// renderProgressBar renders a progress bar.
func renderProgressBar(progress float64, width int) string {
	if progress < 0 {
		progress = 0
	}
	if progress > 1 {
		progress = 1
	}

	filled := int(progress * float64(width))
	return "[" + strings.Repeat(progressFilled, filled) + strings.Repeat(progressEmpty, width-filled) + "]"
}

// formatDuration formats a duration in a human-readable format.
func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	if d < time.Hour {
		m := int(d.Minutes())
		s := int(d.Seconds()) % 60
		return fmt.Sprintf("%dm %02ds", m, s)
	}
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%dh %02dm %02ds", h, m, s)
}

// formatNumber formats a number with thousands separators.
func formatNumber(n int64) string {
	str := fmt.Sprintf("%d", n)
	if n < 0 || len(str) <= 3 {
		return str
	}

	var result strings.Builder
	offset := len(str) % 3
	if offset > 0 {
		result.WriteString(str[:offset])
	}
	for i := offset; i < len(str); i += 3 {
		if result.Len() > 0 {
			result.WriteString(",")
		}
		result.WriteString(str[i : i+3])
	}
	return result.String()
}
