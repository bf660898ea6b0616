package config

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Default settings.
const (
	DefaultName              = "checkout-latency"
	DefaultBaseURL           = "http://demo-shop:8000"
	DefaultTimeout           = 30 * time.Second
	DefaultTick              = 100 * time.Millisecond
	DefaultGracefulStop      = 30 * time.Second
	DefaultThresholdInterval = time.Second
	DefaultUserAgent         = "stampede/1.0"
	DefaultMaxIdleConns      = 100
)

// Default returns the built-in checkout-latency scenario: a 16 minute ramp
// to 10 and then 20 VUs with p(95) latency and error rate thresholds.
func Default() *Config {
	c := &Config{
		Name:        DefaultName,
		Description: "Browse, view and order against the demo shop",
		Settings: Settings{
			BaseURL: DefaultBaseURL,
		},
		Stages: []StageConfig{
			{Duration: Duration(2 * time.Minute), Target: 10, Name: "ramp to 10"},
			{Duration: Duration(5 * time.Minute), Target: 10, Name: "hold 10"},
			{Duration: Duration(2 * time.Minute), Target: 20, Name: "ramp to 20"},
			{Duration: Duration(5 * time.Minute), Target: 20, Name: "hold 20"},
			{Duration: Duration(2 * time.Minute), Target: 0, Name: "ramp down"},
		},
		Thresholds: map[string][]ThresholdConfig{
			"http_req_duration": {{Threshold: "p(95)<500"}},
			"errors":            {{Threshold: "rate<0.1"}},
		},
	}
	ApplyDefaults(c)
	return c
}

// ApplyDefaults fills unset settings.
func ApplyDefaults(c *Config) {
	if c.Name == "" {
		c.Name = DefaultName
	}

	s := &c.Settings
	if s.Timeout == 0 {
		s.Timeout = Duration(DefaultTimeout)
	}
	if s.Tick == 0 {
		s.Tick = Duration(DefaultTick)
	}
	if s.GracefulStop == 0 {
		s.GracefulStop = Duration(DefaultGracefulStop)
	}
	if s.ThresholdInterval == 0 {
		s.ThresholdInterval = Duration(DefaultThresholdInterval)
	}
	if s.NoData == "" {
		s.NoData = "pass"
	}
	if s.UserAgent == "" {
		s.UserAgent = DefaultUserAgent
	}
	if s.MaxIdleConnsPerHost == 0 {
		s.MaxIdleConnsPerHost = DefaultMaxIdleConns
	}
}

// ParseStages parses a compact stage list such as "30s:10,1m:10,30s:0".
func ParseStages(s string) ([]StageConfig, error) {
	var stages []StageConfig

	for i, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		dur, target, ok := strings.Cut(part, ":")
		if !ok {
			return nil, fmt.Errorf("stage %d %q: want duration:target", i, part)
		}

		d, err := time.ParseDuration(strings.TrimSpace(dur))
		if err != nil {
			return nil, fmt.Errorf("stage %d %q: %w", i, part, err)
		}
		if d <= 0 {
			return nil, fmt.Errorf("stage %d %q: duration must be positive", i, part)
		}

		n, err := strconv.Atoi(strings.TrimSpace(target))
		if err != nil {
			return nil, fmt.Errorf("stage %d %q: invalid target: %w", i, part, err)
		}
		if n < 0 {
			return nil, fmt.Errorf("stage %d %q: target cannot be negative", i, part)
		}

		stages = append(stages, StageConfig{Duration: Duration(d), Target: n})
	}

	if len(stages) == 0 {
		return nil, fmt.Errorf("no stages in %q", s)
	}
	return stages, nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
