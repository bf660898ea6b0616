package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const checkoutYAML = `
name: "checkout"
description: "Checkout latency"
settings:
  baseUrl: "http://localhost:8000"
  timeout: 5s
  seed: 42
  noData: fail
  headers:
    X-Env: staging
stages:
  - duration: 30s
    target: 10
  - duration: 1m
    target: 10
    name: plateau
thresholds:
  http_req_duration: ["p(95)<500", "avg<200ms"]
  errors:
    - threshold: "rate<0.1"
      abortOnFail: true
      delayAbortEval: 10s
journey:
  orderProbability: 0
  maxQuantity: 5
  endThinkTime: 0s
`

func TestParseConfig_YAML(t *testing.T) {
	c, err := ParseConfig([]byte(checkoutYAML), "checkout.yaml")
	if err != nil {
		t.Fatalf("ParseConfig() error = %v", err)
	}

	if c.Name != "checkout" {
		t.Errorf("Name = %q, want checkout", c.Name)
	}
	if c.Settings.BaseURL != "http://localhost:8000" {
		t.Errorf("BaseURL = %q", c.Settings.BaseURL)
	}
	if c.Settings.Timeout.Duration() != 5*time.Second {
		t.Errorf("Timeout = %v, want 5s", c.Settings.Timeout)
	}
	if c.Settings.Seed != 42 {
		t.Errorf("Seed = %d, want 42", c.Settings.Seed)
	}
	if c.Settings.Headers["X-Env"] != "staging" {
		t.Errorf("Headers = %v", c.Settings.Headers)
	}

	if len(c.Stages) != 2 {
		t.Fatalf("len(Stages) = %d, want 2", len(c.Stages))
	}
	if c.Stages[1].Duration.Duration() != time.Minute || c.Stages[1].Target != 10 || c.Stages[1].Name != "plateau" {
		t.Errorf("Stages[1] = %+v", c.Stages[1])
	}

	if got := len(c.Thresholds["http_req_duration"]); got != 2 {
		t.Errorf("http_req_duration thresholds = %d, want 2", got)
	}
	errs := c.Thresholds["errors"]
	if len(errs) != 1 || !errs[0].AbortOnFail || errs[0].DelayAbortEval.Duration() != 10*time.Second {
		t.Errorf("errors thresholds = %+v", errs)
	}

	j := c.Journey.CheckoutConfig()
	if j.OrderProbability != 0 {
		t.Errorf("OrderProbability = %v, want 0 (explicitly disabled)", j.OrderProbability)
	}
	if j.ChaosProbability != 0.05 {
		t.Errorf("ChaosProbability = %v, want default 0.05", j.ChaosProbability)
	}
	if j.MaxQuantity != 5 || j.ProductCount != 4 {
		t.Errorf("MaxQuantity/ProductCount = %d/%d, want 5/4", j.MaxQuantity, j.ProductCount)
	}
	if j.EndThinkTime != 0 || j.BrowseThinkTime != time.Second {
		t.Errorf("think times = %v/%v", j.BrowseThinkTime, j.EndThinkTime)
	}

	// Defaults applied
	if c.Settings.Tick.Duration() != DefaultTick {
		t.Errorf("Tick = %v, want %v", c.Settings.Tick, DefaultTick)
	}
	if c.Settings.GracefulStop.Duration() != DefaultGracefulStop {
		t.Errorf("GracefulStop = %v, want %v", c.Settings.GracefulStop, DefaultGracefulStop)
	}

	if err := c.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}

func TestParseConfig_JSON(t *testing.T) {
	data := `{
		"settings": {"baseUrl": "https://shop.example.com"},
		"stages": [{"duration": "10s", "target": 2}],
		"thresholds": {"http_req_failed": ["rate<0.01"]}
	}`

	c, err := ParseConfig([]byte(data), "scenario.json")
	if err != nil {
		t.Fatalf("ParseConfig() error = %v", err)
	}
	if c.Name != DefaultName {
		t.Errorf("Name = %q, want default %q", c.Name, DefaultName)
	}
	if c.Settings.NoData != "pass" {
		t.Errorf("NoData = %q, want pass", c.Settings.NoData)
	}

	ths, err := c.ThresholdList()
	if err != nil {
		t.Fatalf("ThresholdList() error = %v", err)
	}
	if len(ths) != 1 || ths[0].Metric != "http_req_failed" || ths[0].Expression.Value != 0.01 {
		t.Errorf("ThresholdList() = %+v", ths)
	}
}

func TestParseConfig_SchemaViolations(t *testing.T) {
	tests := []struct {
		name string
		data string
		want string
	}{
		{
			name: "missing stages",
			data: "settings:\n  baseUrl: http://x\n",
			want: "stages",
		},
		{
			name: "negative target",
			data: "stages:\n  - duration: 1m\n    target: -1\n",
			want: "/stages/0/target",
		},
		{
			name: "fractional target",
			data: "stages:\n  - duration: 1m\n    target: 2.5\n",
			want: "/stages/0/target",
		},
		{
			name: "bad duration",
			data: "stages:\n  - duration: soon\n    target: 1\n",
			want: "/stages/0/duration",
		},
		{
			name: "unknown field",
			data: "stages:\n  - duration: 1m\n    target: 1\nexecutor: constant-vus\n",
			want: "executor",
		},
		{
			name: "invalid noData",
			data: "settings:\n  noData: skip\nstages:\n  - duration: 1m\n    target: 1\n",
			want: "/settings/noData",
		},
		{
			name: "probability out of range",
			data: "stages:\n  - duration: 1m\n    target: 1\njourney:\n  orderProbability: 1.5\n",
			want: "/journey/orderProbability",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseConfig([]byte(tt.data), "bad.yaml")
			var se *SchemaError
			if !errors.As(err, &se) {
				t.Fatalf("ParseConfig() error = %v, want *SchemaError", err)
			}
			if !strings.Contains(se.Error(), tt.want) {
				t.Errorf("SchemaError = %q, want mention of %q", se.Error(), tt.want)
			}
		})
	}
}

func TestParseConfig_Malformed(t *testing.T) {
	if _, err := ParseConfig([]byte("stages: [\n"), "bad.yaml"); err == nil {
		t.Error("ParseConfig() expected error for malformed YAML")
	}
	if _, err := ParseConfig([]byte("{"), "bad.json"); err == nil {
		t.Error("ParseConfig() expected error for malformed JSON")
	}
	if _, err := ParseConfig([]byte(""), "empty.yaml"); err == nil {
		t.Error("ParseConfig() expected error for empty document")
	}
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "checkout.yml")
	if err := os.WriteFile(path, []byte(checkoutYAML), 0o644); err != nil {
		t.Fatal(err)
	}

	c, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if c.Name != "checkout" {
		t.Errorf("Name = %q", c.Name)
	}

	if _, err := LoadConfig(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Error("LoadConfig() expected error for missing file")
	}
}

func TestLoadConfig_Example(t *testing.T) {
	c, err := LoadConfig(filepath.Join("..", "..", "examples", "checkout-latency.yaml"))
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if err := c.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if len(c.Stages) != 5 {
		t.Errorf("len(Stages) = %d, want 5", len(c.Stages))
	}
}

func TestDefault(t *testing.T) {
	c := Default()
	if err := c.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}

	stages := c.ExecutorStages()
	want := []struct {
		d      time.Duration
		target int
	}{
		{2 * time.Minute, 10},
		{5 * time.Minute, 10},
		{2 * time.Minute, 20},
		{5 * time.Minute, 20},
		{2 * time.Minute, 0},
	}
	if len(stages) != len(want) {
		t.Fatalf("len(stages) = %d, want %d", len(stages), len(want))
	}
	for i, w := range want {
		if stages[i].Duration != w.d || stages[i].Target != w.target {
			t.Errorf("stages[%d] = %+v, want %v:%d", i, stages[i], w.d, w.target)
		}
	}

	ths, err := c.ThresholdList()
	if err != nil {
		t.Fatalf("ThresholdList() error = %v", err)
	}
	if len(ths) != 2 {
		t.Fatalf("len(ThresholdList()) = %d, want 2", len(ths))
	}
	// Ordered by metric name
	if ths[0].Metric != "errors" || ths[1].Metric != "http_req_duration" {
		t.Errorf("threshold order = %s, %s", ths[0].Metric, ths[1].Metric)
	}
	if c.Settings.BaseURL != DefaultBaseURL {
		t.Errorf("BaseURL = %q", c.Settings.BaseURL)
	}
}

func TestParseStages(t *testing.T) {
	stages, err := ParseStages("30s:10, 1m:10,30s:0")
	if err != nil {
		t.Fatalf("ParseStages() error = %v", err)
	}
	if len(stages) != 3 {
		t.Fatalf("len = %d, want 3", len(stages))
	}
	if stages[1].Duration.Duration() != time.Minute || stages[1].Target != 10 {
		t.Errorf("stages[1] = %+v", stages[1])
	}

	for _, bad := range []string{"", "30s", "abc:1", "30s:x", "0s:1", "30s:-2"} {
		if _, err := ParseStages(bad); err == nil {
			t.Errorf("ParseStages(%q) expected error", bad)
		}
	}
}

func TestThresholdConfig_JSONRoundTrip(t *testing.T) {
	plain := ThresholdConfig{Threshold: "p(95)<500"}
	b, err := plain.MarshalJSON()
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != `"p(95)<500"` {
		t.Errorf("MarshalJSON() = %s, want plain string", b)
	}

	abort := ThresholdConfig{Threshold: "rate<0.1", AbortOnFail: true, DelayAbortEval: Duration(time.Second)}
	b, err = abort.MarshalJSON()
	if err != nil {
		t.Fatal(err)
	}
	if want := `{"threshold":"rate<0.1","abortOnFail":true,"delayAbortEval":"1s"}`; string(b) != want {
		t.Errorf("MarshalJSON() = %s, want %s", b, want)
	}
	var back ThresholdConfig
	if err := back.UnmarshalJSON(b); err != nil {
		t.Fatal(err)
	}
	if back != abort {
		t.Errorf("round trip = %+v, want %+v", back, abort)
	}
}
