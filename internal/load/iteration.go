package load

import (
	"context"
	"math/rand"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/wesleyorama2/stampede/internal/metrics"
	"github.com/wesleyorama2/stampede/internal/transport"
)

// Behavior is the work a virtual user repeats, one call per iteration.
type Behavior interface {
	Iterate(ctx context.Context, it *Iteration)
}

// BehaviorFunc adapts a function to Behavior.
type BehaviorFunc func(ctx context.Context, it *Iteration)

// Iterate calls f(ctx, it).
func (f BehaviorFunc) Iterate(ctx context.Context, it *Iteration) {
	f(ctx, it)
}

// CheckResult is the outcome of a named assertion.
type CheckResult struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
}

// Iteration is the handle a Behavior uses during one pass.
//
// An Iteration belongs to a single VU goroutine and must not be shared.
type Iteration struct {
	// VU is the ID of the executing virtual user.
	VU int
	// Number is the 1-based iteration count of this VU.
	Number int64
	// Rand is the VU's seeded random source.
	Rand *rand.Rand

	doer     transport.Doer
	builtins *metrics.Builtins
	logger   *zap.Logger
	checks   []CheckResult
}

// Do executes a request and records the http_* metrics.
//
// Failures are reported in the Response; Do never panics or aborts the
// iteration.
func (it *Iteration) Do(ctx context.Context, req *transport.Request) *transport.Response {
	resp := it.doer.Do(ctx, req)
	if resp == nil {
		resp = &transport.Response{Err: errNilResponse}
	}

	b := it.builtins
	b.HTTPReqs.Add(1)
	b.HTTPReqDuration.AddDuration(resp.Latency)
	if resp.Err == nil {
		b.HTTPReqWaiting.AddDuration(resp.Waiting)
	}
	b.HTTPReqFailed.AddBool(resp.Failed())

	if resp.Err != nil {
		it.logger.Debug("request failed",
			zap.String("method", req.Method),
			zap.String("path", req.Path),
			zap.Error(resp.Err))
	}
	return resp
}

// Get issues a GET request.
func (it *Iteration) Get(ctx context.Context, path string) *transport.Response {
	return it.Do(ctx, &transport.Request{Method: http.MethodGet, Path: path})
}

// Post issues a POST with a JSON-encoded body.
func (it *Iteration) Post(ctx context.Context, path string, body any) *transport.Response {
	req, err := transport.NewJSONRequest(http.MethodPost, path, body)
	if err != nil {
		return &transport.Response{Err: err}
	}
	return it.Do(ctx, req)
}

// Check records a named assertion into the checks rate and returns it.
func (it *Iteration) Check(name string, ok bool) CheckResult {
	c := CheckResult{Name: name, Passed: ok}
	it.checks = append(it.checks, c)
	it.builtins.Checks.AddBool(ok)
	return c
}

// Checks returns the checks recorded so far in this iteration.
func (it *Iteration) Checks() []CheckResult {
	out := make([]CheckResult, len(it.checks))
	copy(out, it.checks)
	return out
}

// Sleep pauses the VU for d. It returns early only when ctx is cancelled.
func (it *Iteration) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Logger returns a logger tagged with the VU and iteration.
func (it *Iteration) Logger() *zap.Logger {
	return it.logger
}
