package executor

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/wesleyorama2/stampede/internal/load"
	"github.com/wesleyorama2/stampede/internal/metrics"
)

const (
	// DefaultTick is how often the VU count is reconciled with the target.
	DefaultTick = 100 * time.Millisecond
	// DefaultGracefulStop bounds how long draining VUs may keep running.
	DefaultGracefulStop = 30 * time.Second
)

// Spawner creates virtual users. load.Pool implements it.
type Spawner interface {
	Spawn() *load.VirtualUser
}

// Config configures a RampingVUs executor.
type Config struct {
	Stages       []Stage
	Tick         time.Duration
	GracefulStop time.Duration
}

// Stats is a point-in-time view of executor progress.
type Stats struct {
	StartTime        time.Time     `json:"startTime"`
	Elapsed          time.Duration `json:"elapsed"`
	TotalDuration    time.Duration `json:"totalDuration"`
	ActiveVUs        int           `json:"activeVUs"`
	// RunningVUs excludes VUs that are retiring.
	RunningVUs       int           `json:"runningVUs"`
	TargetVUs        int           `json:"targetVUs"`
	Iterations       int64         `json:"iterations"`
	CurrentStage     int           `json:"currentStage"`
	CurrentStageName string        `json:"currentStageName,omitempty"`
	TotalStages      int           `json:"totalStages"`
	Phase            Phase         `json:"phase"`
}

// Progress returns elapsed time as a fraction of the timeline, capped at 1.
func (s Stats) Progress() float64 {
	if s.TotalDuration <= 0 {
		return 1
	}
	p := float64(s.Elapsed) / float64(s.TotalDuration)
	if p > 1 {
		p = 1
	}
	return p
}

// Option configures a RampingVUs executor.
type Option func(*RampingVUs)

// WithLogger sets the executor's logger.
func WithLogger(logger *zap.Logger) Option {
	return func(e *RampingVUs) {
		e.logger = logger
	}
}

// WithVUGauge records the running VU count into a gauge on every tick.
func WithVUGauge(m *metrics.Metric) Option {
	return func(e *RampingVUs) {
		e.gauge = m
	}
}

// RampingVUs ramps the VU count up and down according to stages.
//
// VU counts are interpolated between stages rather than stepped. Excess VUs
// are retired from the most recently spawned end and finish their current
// iteration before stopping.
//
// Example stages:
//
//	stages:
//	  - duration: 2m
//	    target: 10     # ramp from 0 to 10 VUs over 2m
//	  - duration: 5m
//	    target: 10     # stay at 10 VUs for 5 minutes
//	  - duration: 2m
//	    target: 0      # ramp down to 0 VUs over 2m
type RampingVUs struct {
	config  Config
	spawner Spawner
	logger  *zap.Logger
	gauge   *metrics.Metric

	startTime    time.Time
	activeVUs    atomic.Int32
	targetVUs    atomic.Int32
	currentStage atomic.Int32
	phase        atomic.Value

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	// vus holds non-retiring VUs in spawn order; all holds every VU spawned.
	vus   []*load.VirtualUser
	all   []*load.VirtualUser
	vusMu sync.Mutex

	mu sync.RWMutex
}

// NewRampingVUs creates a ramping VUs executor.
func NewRampingVUs(config Config, spawner Spawner, opts ...Option) (*RampingVUs, error) {
	if err := ValidateStages(config.Stages); err != nil {
		return nil, err
	}
	if config.Tick <= 0 {
		config.Tick = DefaultTick
	}
	if config.GracefulStop <= 0 {
		config.GracefulStop = DefaultGracefulStop
	}

	e := &RampingVUs{
		config:  config,
		spawner: spawner,
		logger:  zap.NewNop(),
		stopCh:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.phase.Store(PhaseInit)

	return e, nil
}

// Run executes the timeline and blocks until every VU has stopped.
//
// Cancelling ctx or calling Stop switches straight to draining: no VU starts
// a new iteration and in-flight iterations run on a context detached from
// ctx. If draining exceeds GracefulStop, that context is cancelled too.
func (e *RampingVUs) Run(ctx context.Context) error {
	e.mu.Lock()
	e.startTime = time.Now()
	e.mu.Unlock()

	vuCtx, hardCancel := context.WithCancel(context.WithoutCancel(ctx))
	defer hardCancel()

	total := TotalDuration(e.config.Stages)
	e.logger.Info("executor started",
		zap.Int("stages", len(e.config.Stages)),
		zap.Duration("duration", total),
		zap.Int("maxVUs", MaxTarget(e.config.Stages)))

	e.reconcile(vuCtx, 0)
	e.controller(ctx, vuCtx, total)

	e.setPhase(PhaseDraining)
	e.drain(hardCancel)
	e.setPhase(PhaseDone)
	e.recordGauge(0)

	e.logger.Info("executor finished",
		zap.Duration("elapsed", time.Since(e.startTime)),
		zap.Int64("iterations", e.iterations()))
	return nil
}

// controller adjusts the VU count every tick until the timeline ends or the
// run is stopped.
func (e *RampingVUs) controller(ctx, vuCtx context.Context, total time.Duration) {
	ticker := time.NewTicker(e.config.Tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.logger.Info("run cancelled, draining")
			return
		case <-e.stopCh:
			e.logger.Info("stop requested, draining")
			return
		case <-ticker.C:
			elapsed := time.Since(e.startTime)
			if elapsed >= total {
				return
			}
			e.reconcile(vuCtx, elapsed)
		}
	}
}

// reconcile spawns or retires VUs so the running count matches the target.
func (e *RampingVUs) reconcile(vuCtx context.Context, elapsed time.Duration) {
	target, idx := TargetAt(e.config.Stages, elapsed)
	e.setPhase(PhaseOf(e.config.Stages, idx))

	// Stage and VU list change together so Stats sees a consistent pair.
	e.vusMu.Lock()
	e.targetVUs.Store(int32(target))
	if prev := e.currentStage.Swap(int32(idx)); prev != int32(idx) {
		e.logger.Debug("stage changed", zap.Int("stage", idx), zap.Int("target", e.config.Stages[idx].Target))
	}
	current := len(e.vus)
	if target > current {
		for i := current; i < target; i++ {
			vu := e.spawner.Spawn()
			e.vus = append(e.vus, vu)
			e.all = append(e.all, vu)
			e.wg.Add(1)
			go e.runVU(vuCtx, vu)
		}
	} else if target < current {
		for i := current - 1; i >= target; i-- {
			e.vus[i].Retire()
		}
		e.vus = e.vus[:target]
	}
	running := len(e.vus)
	e.vusMu.Unlock()

	e.recordGauge(running)
}

func (e *RampingVUs) runVU(ctx context.Context, vu *load.VirtualUser) {
	defer e.wg.Done()

	e.activeVUs.Add(1)
	defer e.activeVUs.Add(-1)

	vu.Run(ctx)
}

// drain retires every VU and waits for them, cancelling in-flight work once
// the graceful stop window has passed.
func (e *RampingVUs) drain(hardCancel context.CancelFunc) {
	e.vusMu.Lock()
	for _, vu := range e.vus {
		vu.Retire()
	}
	e.vus = nil
	e.vusMu.Unlock()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	timer := time.NewTimer(e.config.GracefulStop)
	defer timer.Stop()

	select {
	case <-done:
	case <-timer.C:
		e.logger.Warn("graceful stop exceeded, interrupting iterations",
			zap.Duration("gracefulStop", e.config.GracefulStop),
			zap.Int("activeVUs", int(e.activeVUs.Load())))
		hardCancel()
		<-done
	}
}

// Stop ends the run early. Run drains and returns.
func (e *RampingVUs) Stop() {
	e.stopOnce.Do(func() { close(e.stopCh) })
}

// ActiveVUs returns the number of VU goroutines, including retiring ones.
func (e *RampingVUs) ActiveVUs() int {
	return int(e.activeVUs.Load())
}

// Phase returns the current phase.
func (e *RampingVUs) Phase() Phase {
	return e.phase.Load().(Phase)
}

// Stats returns executor statistics.
func (e *RampingVUs) Stats() Stats {
	e.mu.RLock()
	start := e.startTime
	e.mu.RUnlock()

	var elapsed time.Duration
	if !start.IsZero() {
		elapsed = time.Since(start)
	}

	e.vusMu.Lock()
	stageIdx := int(e.currentStage.Load())
	running := len(e.vus)
	e.vusMu.Unlock()

	stageName := ""
	if stageIdx < len(e.config.Stages) {
		stageName = e.config.Stages[stageIdx].Name
	}

	return Stats{
		StartTime:        start,
		Elapsed:          elapsed,
		TotalDuration:    TotalDuration(e.config.Stages),
		ActiveVUs:        int(e.activeVUs.Load()),
		RunningVUs:       running,
		TargetVUs:        int(e.targetVUs.Load()),
		Iterations:       e.iterations(),
		CurrentStage:     stageIdx,
		CurrentStageName: stageName,
		TotalStages:      len(e.config.Stages),
		Phase:            e.Phase(),
	}
}

func (e *RampingVUs) iterations() int64 {
	e.vusMu.Lock()
	defer e.vusMu.Unlock()

	var n int64
	for _, vu := range e.all {
		n += vu.Iterations()
	}
	return n
}

func (e *RampingVUs) setPhase(p Phase) {
	if e.phase.Load().(Phase) == p {
		return
	}
	e.phase.Store(p)
	e.logger.Debug("phase changed", zap.String("phase", string(p)))
}

func (e *RampingVUs) recordGauge(n int) {
	if e.gauge != nil {
		e.gauge.Add(float64(n))
	}
}
