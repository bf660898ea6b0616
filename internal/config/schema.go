// Package config provides scenario configuration loading and validation.
package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/wesleyorama2/stampede/internal/executor"
	"github.com/wesleyorama2/stampede/internal/journey"
	"github.com/wesleyorama2/stampede/internal/threshold"
)

// Config is the root configuration for a load test run.
//
// Example YAML:
//
//	name: checkout-latency
//	settings:
//	  baseUrl: http://demo-shop:8000
//	stages:
//	  - duration: 2m
//	    target: 10
//	  - duration: 5m
//	    target: 10
//	thresholds:
//	  http_req_duration: ["p(95)<500"]
//	  errors: ["rate<0.1"]
type Config struct {
	// Name of the test (for reporting)
	Name string `json:"name,omitempty" yaml:"name,omitempty"`

	// Description of the test (optional)
	Description string `json:"description,omitempty" yaml:"description,omitempty"`

	// Settings contains transport and execution settings
	Settings Settings `json:"settings,omitempty" yaml:"settings,omitempty"`

	// Stages is the ramping timeline
	Stages []StageConfig `json:"stages" yaml:"stages"`

	// Thresholds maps metric names to pass/fail expressions
	Thresholds map[string][]ThresholdConfig `json:"thresholds,omitempty" yaml:"thresholds,omitempty"`

	// Journey tunes the checkout journey
	Journey JourneyConfig `json:"journey,omitempty" yaml:"journey,omitempty"`
}

// Settings contains transport and execution settings.
type Settings struct {
	// BaseURL is the target the journey runs against
	BaseURL string `json:"baseUrl,omitempty" yaml:"baseUrl,omitempty"`

	// Timeout is the HTTP request timeout
	Timeout Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`

	// Seed makes VU random draws reproducible; 0 derives one from the clock
	Seed int64 `json:"seed,omitempty" yaml:"seed,omitempty"`

	// Tick is how often the executor reconciles the VU count
	Tick Duration `json:"tick,omitempty" yaml:"tick,omitempty"`

	// GracefulStop bounds how long in-flight iterations may run after stop
	GracefulStop Duration `json:"gracefulStop,omitempty" yaml:"gracefulStop,omitempty"`

	// ThresholdInterval is how often abort-on-fail thresholds are evaluated
	ThresholdInterval Duration `json:"thresholdInterval,omitempty" yaml:"thresholdInterval,omitempty"`

	// NoData decides thresholds over empty metrics: "pass" or "fail"
	NoData string `json:"noData,omitempty" yaml:"noData,omitempty"`

	// MaxIdleConnsPerHost limits idle connections per host
	MaxIdleConnsPerHost int `json:"maxIdleConnsPerHost,omitempty" yaml:"maxIdleConnsPerHost,omitempty"`

	// InsecureSkipVerify skips TLS certificate verification
	InsecureSkipVerify bool `json:"insecureSkipVerify,omitempty" yaml:"insecureSkipVerify,omitempty"`

	// UserAgent is the default User-Agent header
	UserAgent string `json:"userAgent,omitempty" yaml:"userAgent,omitempty"`

	// Headers are default headers applied to all requests
	Headers map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
}

// StageConfig defines a single stage of the ramping timeline.
type StageConfig struct {
	// Duration of this stage (e.g., "30s", "2m")
	Duration Duration `json:"duration" yaml:"duration"`

	// Target VU count at the end of the stage
	Target int `json:"target" yaml:"target"`

	// Name is an optional name for this stage (for reporting)
	Name string `json:"name,omitempty" yaml:"name,omitempty"`
}

// ThresholdConfig is one threshold expression.
//
// It decodes from either a plain string ("p(95)<500") or an object with
// abortOnFail and delayAbortEval.
type ThresholdConfig struct {
	Threshold      string   `json:"threshold" yaml:"threshold"`
	AbortOnFail    bool     `json:"abortOnFail,omitempty" yaml:"abortOnFail,omitempty"`
	DelayAbortEval Duration `json:"delayAbortEval,omitempty" yaml:"delayAbortEval,omitempty"`
}

// UnmarshalJSON implements json.Unmarshaler.
func (t *ThresholdConfig) UnmarshalJSON(b []byte) error {
	var expr string
	if err := json.Unmarshal(b, &expr); err == nil {
		*t = ThresholdConfig{Threshold: expr}
		return nil
	}

	type plain ThresholdConfig
	var p plain
	if err := json.Unmarshal(b, &p); err != nil {
		return err
	}
	*t = ThresholdConfig(p)
	return nil
}

// MarshalJSON implements json.Marshaler. Plain thresholds encode as strings.
func (t ThresholdConfig) MarshalJSON() ([]byte, error) {
	if !t.AbortOnFail && t.DelayAbortEval == 0 {
		return marshalUnescaped(t.Threshold)
	}
	type plain ThresholdConfig
	return marshalUnescaped(plain(t))
}

// marshalUnescaped encodes v without HTML escaping, so comparison
// operators stay readable.
func marshalUnescaped(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// JourneyConfig tunes the checkout journey. Unset fields take the journey defaults.
type JourneyConfig struct {
	ProductCount     int       `json:"productCount,omitempty" yaml:"productCount,omitempty"`
	MaxQuantity      int       `json:"maxQuantity,omitempty" yaml:"maxQuantity,omitempty"`
	OrderProbability *float64  `json:"orderProbability,omitempty" yaml:"orderProbability,omitempty"`
	ChaosProbability *float64  `json:"chaosProbability,omitempty" yaml:"chaosProbability,omitempty"`
	BrowseThinkTime  *Duration `json:"browseThinkTime,omitempty" yaml:"browseThinkTime,omitempty"`
	DetailThinkTime  *Duration `json:"detailThinkTime,omitempty" yaml:"detailThinkTime,omitempty"`
	EndThinkTime     *Duration `json:"endThinkTime,omitempty" yaml:"endThinkTime,omitempty"`
}

// CheckoutConfig resolves the journey settings over the journey defaults.
func (j JourneyConfig) CheckoutConfig() journey.Config {
	cfg := journey.DefaultConfig()
	if j.ProductCount != 0 {
		cfg.ProductCount = j.ProductCount
	}
	if j.MaxQuantity != 0 {
		cfg.MaxQuantity = j.MaxQuantity
	}
	if j.OrderProbability != nil {
		cfg.OrderProbability = *j.OrderProbability
	}
	if j.ChaosProbability != nil {
		cfg.ChaosProbability = *j.ChaosProbability
	}
	if j.BrowseThinkTime != nil {
		cfg.BrowseThinkTime = j.BrowseThinkTime.Duration()
	}
	if j.DetailThinkTime != nil {
		cfg.DetailThinkTime = j.DetailThinkTime.Duration()
	}
	if j.EndThinkTime != nil {
		cfg.EndThinkTime = j.EndThinkTime.Duration()
	}
	return cfg
}

// ExecutorStages converts the stage timeline for the executor.
func (c *Config) ExecutorStages() []executor.Stage {
	stages := make([]executor.Stage, len(c.Stages))
	for i, s := range c.Stages {
		stages[i] = executor.Stage{Duration: s.Duration.Duration(), Target: s.Target, Name: s.Name}
	}
	return stages
}

// ThresholdList parses every threshold, ordered by metric name.
func (c *Config) ThresholdList() ([]threshold.Threshold, error) {
	var out []threshold.Threshold
	var errs []error

	for _, metric := range sortedKeys(c.Thresholds) {
		for _, tc := range c.Thresholds[metric] {
			expr, err := threshold.Parse(tc.Threshold)
			if err != nil {
				errs = append(errs, fmt.Errorf("thresholds.%s: %w", metric, err))
				continue
			}
			out = append(out, threshold.Threshold{
				Metric:         metric,
				Expression:     expr,
				AbortOnFail:    tc.AbortOnFail,
				DelayAbortEval: tc.DelayAbortEval.Duration(),
			})
		}
	}

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return out, nil
}

// Duration is a time.Duration that can be unmarshaled from JSON/YAML strings.
type Duration time.Duration

// Duration returns the value as a time.Duration.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Duration) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		*d = 0
		return nil
	}

	dur, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(dur)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}

	if s == "" {
		*d = 0
		return nil
	}

	dur, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(dur)
	return nil
}

// String returns the duration as a string.
func (d Duration) String() string {
	return time.Duration(d).String()
}
