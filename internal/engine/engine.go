// Package engine wires a configured scenario into a single load test run.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/wesleyorama2/stampede/internal/config"
	"github.com/wesleyorama2/stampede/internal/executor"
	"github.com/wesleyorama2/stampede/internal/journey"
	"github.com/wesleyorama2/stampede/internal/load"
	"github.com/wesleyorama2/stampede/internal/metrics"
	"github.com/wesleyorama2/stampede/internal/threshold"
	"github.com/wesleyorama2/stampede/internal/transport"
)

// ErrAlreadyStarted is returned when Run is called more than once.
var ErrAlreadyStarted = errors.New("engine has already been started")

// Engine is the orchestrator for one load test run.
//
// It coordinates:
//   - Metric declaration and threshold validation
//   - The ramping VU executor running the journey
//   - Live evaluation of abort-on-fail thresholds
//   - Final threshold evaluation
//
// Example usage:
//
//	cfg, _ := config.LoadConfig("checkout.yaml")
//	eng, _ := engine.New(cfg)
//	result, _ := eng.Run(context.Background())
//	fmt.Printf("Test passed: %v\n", result.Passed)
type Engine struct {
	config *config.Config
	logger *zap.Logger

	registry  *metrics.Registry
	builtins  *metrics.Builtins
	evaluator *threshold.Evaluator
	client    *transport.Client
	pool      *load.Pool
	executor  *executor.RampingVUs

	doer     transport.Doer
	behavior load.Behavior

	progress         func(executor.Stats)
	progressInterval time.Duration

	started atomic.Bool

	mu          sync.Mutex
	abortReason string
}

// Result contains the outcome of a run.
type Result struct {
	RunID       string        `json:"runId"`
	Name        string        `json:"name"`
	Description string        `json:"description,omitempty"`
	StartTime   time.Time     `json:"startTime"`
	EndTime     time.Time     `json:"endTime"`
	Duration    time.Duration `json:"duration"`
	Seed        int64         `json:"seed"`

	Passed      bool   `json:"passed"`
	Aborted     bool   `json:"aborted,omitempty"`
	AbortReason string `json:"abortReason,omitempty"`

	// Iterations counts completed iterations only
	Iterations int64                       `json:"iterations"`
	Metrics    map[string]metrics.Snapshot `json:"metrics"`
	Thresholds threshold.Outcome           `json:"thresholds"`
}

// Failures returns a line per failed threshold.
func (r *Result) Failures() []string {
	return r.Thresholds.Failures
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger used by the engine and everything it builds.
func WithLogger(logger *zap.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithDoer replaces the HTTP transport.
func WithDoer(d transport.Doer) Option {
	return func(e *Engine) {
		e.doer = d
	}
}

// WithBehavior replaces the checkout journey with another behavior.
func WithBehavior(b load.Behavior) Option {
	return func(e *Engine) {
		e.behavior = b
	}
}

// WithProgress calls fn with executor stats every interval while running.
func WithProgress(interval time.Duration, fn func(executor.Stats)) Option {
	return func(e *Engine) {
		e.progressInterval = interval
		e.progress = fn
	}
}

// New creates an engine for cfg.
//
// Metrics are declared and thresholds validated against them here, so an
// unknown threshold metric or a kind conflict fails before any VU starts.
func New(cfg *config.Config, opts ...Option) (*Engine, error) {
	config.ApplyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	e := &Engine{
		config: cfg,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = zap.NewNop()
	}

	e.registry = metrics.NewRegistry()
	builtins, err := metrics.DeclareBuiltins(e.registry)
	if err != nil {
		return nil, fmt.Errorf("failed to declare metrics: %w", err)
	}
	e.builtins = builtins

	if e.behavior == nil {
		checkout, err := journey.NewCheckout(e.registry, cfg.Journey.CheckoutConfig())
		if err != nil {
			return nil, fmt.Errorf("failed to create journey: %w", err)
		}
		e.behavior = checkout
	}

	thresholds, err := cfg.ThresholdList()
	if err != nil {
		return nil, fmt.Errorf("invalid thresholds: %w", err)
	}
	policy, err := threshold.ParseNoDataPolicy(cfg.Settings.NoData)
	if err != nil {
		return nil, err
	}
	e.evaluator = threshold.NewEvaluator(thresholds, policy)
	if err := e.evaluator.Validate(e.registry); err != nil {
		return nil, fmt.Errorf("invalid thresholds: %w", err)
	}

	if e.doer == nil {
		e.client = newClient(cfg.Settings)
		e.doer = e.client
	}

	e.pool = load.NewPool(e.behavior, e.doer, e.builtins, cfg.Settings.Seed, e.logger)

	e.executor, err = executor.NewRampingVUs(executor.Config{
		Stages:       cfg.ExecutorStages(),
		Tick:         cfg.Settings.Tick.Duration(),
		GracefulStop: cfg.Settings.GracefulStop.Duration(),
	}, e.pool,
		executor.WithLogger(e.logger.Named("executor")),
		executor.WithVUGauge(e.builtins.VUs),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create executor: %w", err)
	}

	return e, nil
}

func newClient(s config.Settings) *transport.Client {
	opts := []transport.ClientOption{
		transport.WithBaseURL(s.BaseURL),
		transport.WithTimeout(s.Timeout.Duration()),
		transport.WithHeader("User-Agent", s.UserAgent),
		transport.WithMaxIdleConnsPerHost(s.MaxIdleConnsPerHost),
		transport.WithInsecureSkipVerify(s.InsecureSkipVerify),
	}
	for k, v := range s.Headers {
		opts = append(opts, transport.WithHeader(k, v))
	}
	return transport.NewClient(opts...)
}

// Run executes the stage timeline and returns the result.
//
// Cancelling ctx drains the run like Stop does; the result is still
// evaluated and returned. Threshold failures are reported through
// Result.Passed, not as an error.
func (e *Engine) Run(ctx context.Context) (*Result, error) {
	if !e.started.CompareAndSwap(false, true) {
		return nil, ErrAlreadyStarted
	}
	if e.client != nil {
		defer e.client.CloseIdleConnections()
	}

	runID := uuid.New().String()
	start := time.Now()
	e.registry.MarkStart()

	e.logger.Info("run started",
		zap.String("runId", runID),
		zap.String("name", e.config.Name),
		zap.String("baseUrl", e.config.Settings.BaseURL),
		zap.Int64("seed", e.pool.Seed()))

	watchCtx, stopWatching := context.WithCancel(ctx)
	defer stopWatching()

	var g errgroup.Group
	g.Go(func() error {
		defer stopWatching()
		return e.executor.Run(ctx)
	})
	if e.evaluator.HasAbortOnFail() {
		g.Go(func() error {
			e.watchThresholds(watchCtx)
			return nil
		})
	}
	if e.progress != nil {
		g.Go(func() error {
			e.reportProgress(watchCtx)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("run failed: %w", err)
	}

	if ctx.Err() != nil {
		e.abort("run interrupted")
	}

	outcome := e.evaluator.Evaluate(e.registry)
	end := time.Now()

	e.mu.Lock()
	reason := e.abortReason
	e.mu.Unlock()

	snapshots := e.registry.Snapshots()

	result := &Result{
		RunID:       runID,
		Name:        e.config.Name,
		Description: e.config.Description,
		StartTime:   start,
		EndTime:     end,
		Duration:    end.Sub(start),
		Seed:        e.pool.Seed(),
		Passed:      outcome.Passed,
		Aborted:     reason != "",
		AbortReason: reason,
		Iterations:  int64(snapshots[metrics.Iterations].Sum),
		Metrics:     snapshots,
		Thresholds:  outcome,
	}

	e.logger.Info("run finished",
		zap.String("runId", runID),
		zap.Duration("duration", result.Duration),
		zap.Int64("iterations", result.Iterations),
		zap.Bool("passed", result.Passed),
		zap.Bool("aborted", result.Aborted))

	return result, nil
}

// watchThresholds evaluates thresholds every interval and stops the run once
// an abort-on-fail threshold has failed past its delay.
func (e *Engine) watchThresholds(ctx context.Context) {
	ticker := time.NewTicker(e.config.Settings.ThresholdInterval.Duration())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			outcome := e.evaluator.Evaluate(e.registry)
			if abort, reason := outcome.ShouldAbort(e.registry.Elapsed()); abort {
				e.logger.Warn("aborting run", zap.String("reason", reason))
				e.abort(reason)
				e.executor.Stop()
				return
			}
		}
	}
}

func (e *Engine) reportProgress(ctx context.Context) {
	interval := e.progressInterval
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.progress(e.executor.Stats())
		}
	}
}

func (e *Engine) abort(reason string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.abortReason == "" {
		e.abortReason = reason
	}
}

// Stop ends the run early. Run drains in-flight iterations and returns.
func (e *Engine) Stop() {
	e.abort("stopped")
	e.executor.Stop()
}

// Registry returns the run's metric registry.
func (e *Engine) Registry() *metrics.Registry {
	return e.registry
}

// Evaluator returns the run's threshold evaluator.
func (e *Engine) Evaluator() *threshold.Evaluator {
	return e.evaluator
}

// Stats returns executor statistics.
func (e *Engine) Stats() executor.Stats {
	return e.executor.Stats()
}

// Seed returns the base seed VU random sources derive from.
func (e *Engine) Seed() int64 {
	return e.pool.Seed()
}

// Config returns the configuration the engine was built from.
func (e *Engine) Config() *config.Config {
	return e.config
}
