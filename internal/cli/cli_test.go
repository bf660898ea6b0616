package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wesleyorama2/stampede/internal/output"
	"github.com/wesleyorama2/stampede/internal/shop"
)

// scenario is a fast checkout run; thresholds are appended per test.
const scenario = `
name: cli-test
settings:
  baseUrl: http://placeholder:8000
  seed: 99
  tick: 10ms
  gracefulStop: 2s
stages:
  - duration: 200ms
    target: 2
  - duration: 200ms
    target: 0
journey:
  chaosProbability: 0
  browseThinkTime: 5ms
  detailThinkTime: 5ms
  endThinkTime: 5ms
thresholds:
`

func writeScenario(t *testing.T, thresholds string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "scenario.yaml")
	require.NoError(t, os.WriteFile(path, []byte(scenario+thresholds), 0o644))
	return path
}

func startShop(t *testing.T) string {
	t.Helper()
	noFailures := 0.0
	srv := httptest.NewServer(shop.New(shop.Options{
		Seed:               3,
		UnlimitedStock:     true,
		PaymentFailureRate: &noFailures,
	}).Router())
	t.Cleanup(srv.Close)
	return srv.URL
}

func execute(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := ExecuteArgs(context.Background(), args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, ExitOK, ExitCode(nil))
	assert.Equal(t, ExitError, ExitCode(errors.New("boom")))
	assert.Equal(t, ExitThresholdsFailed, ExitCode(&ThresholdsFailedError{Failures: []string{"errors"}}))
	assert.Equal(t, ExitThresholdsFailed, ExitCode(fmt.Errorf("run: %w", &ThresholdsFailedError{})))
}

func TestThresholdsFailedError(t *testing.T) {
	err := &ThresholdsFailedError{Failures: []string{"errors: rate<0.1", "http_req_duration: p(95)<500"}}
	assert.Equal(t, "2 threshold(s) failed: errors: rate<0.1; http_req_duration: p(95)<500", err.Error())
}

func TestVersion(t *testing.T) {
	code, stdout, _ := execute(t, "version")
	assert.Equal(t, ExitOK, code)
	assert.True(t, strings.HasPrefix(stdout, "stampede "+version))
}

func TestValidate(t *testing.T) {
	code, stdout, stderr := execute(t, "validate", "--no-color", filepath.Join("..", "..", "examples", "checkout-latency.yaml"))
	require.Equal(t, ExitOK, code, stderr)
	assert.Contains(t, stdout, "✓ checkout-latency is valid: 5 stages, 16m0s, max 20 VUs, 2 thresholds")

	code, stdout, _ = execute(t, "validate", "--no-color")
	assert.Equal(t, ExitOK, code)
	assert.Contains(t, stdout, "checkout-latency is valid")
}

func TestValidate_Errors(t *testing.T) {
	code, _, stderr := execute(t, "validate", writeScenario(t, "  checkout_p99:\n    - p(99)<500\n"))
	assert.Equal(t, ExitError, code)
	assert.Contains(t, stderr, "unknown threshold metric")

	code, _, stderr = execute(t, "validate", filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Equal(t, ExitError, code)
	assert.Contains(t, stderr, "failed to load config")
}

func TestRun_Passes(t *testing.T) {
	url := startShop(t)
	path := writeScenario(t, "  errors:\n    - rate<0.1\n  http_req_duration:\n    - p(95)<500\n")
	report := filepath.Join(t.TempDir(), "report.json")

	code, stdout, stderr := execute(t, "run", "-c", path, "--base-url", url, "--quiet", "--out", report)
	require.Equal(t, ExitOK, code, stderr)
	assert.Equal(t, "PASSED\n", stdout)

	data, err := os.ReadFile(report)
	require.NoError(t, err)
	var r output.Report
	require.NoError(t, json.Unmarshal(data, &r))
	assert.True(t, r.Passed)
	assert.Equal(t, "cli-test", r.Name)
	assert.Equal(t, int64(99), r.Seed)
	assert.Positive(t, r.Iterations)
}

func TestRun_ThresholdsFail(t *testing.T) {
	url := startShop(t)
	path := writeScenario(t, "  http_reqs:\n    - count>1000000\n")

	code, stdout, stderr := execute(t, "run", "-c", path, "--base-url", url, "--no-color", "--progress-interval", "50ms")
	assert.Equal(t, ExitThresholdsFailed, code)
	assert.Contains(t, stdout, "cli-test - Running")
	assert.Contains(t, stdout, "✗ http_reqs count>1000000")
	assert.Contains(t, stdout, "FAILED")
	assert.Contains(t, stderr, "threshold(s) failed")
}

func TestRun_Overrides(t *testing.T) {
	url := startShop(t)
	path := writeScenario(t, "  iterations:\n    - count>0\n")

	code, stdout, stderr := execute(t, "run", "-c", path, "--base-url", url, "--quiet",
		"--stages", "150ms:1,50ms:0", "--seed", "5")
	require.Equal(t, ExitOK, code, stderr)
	assert.Equal(t, "PASSED\n", stdout)
}

func TestRun_ConfigErrors(t *testing.T) {
	code, _, stderr := execute(t, "run", "--stages", "forever:1")
	assert.Equal(t, ExitError, code)
	assert.Contains(t, stderr, "invalid --stages")

	code, _, stderr = execute(t, "run", "--base-url", "ftp://shop")
	assert.Equal(t, ExitError, code)
	assert.Contains(t, stderr, "baseUrl")

	code, _, _ = execute(t, "run", "--log-level", "loud")
	assert.Equal(t, ExitError, code)

	code, _, _ = execute(t, "run", "--out", "r.xml", "--format", "junit")
	assert.Equal(t, ExitError, code)
}
