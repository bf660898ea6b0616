// Package load runs iterations of a behavior on behalf of virtual users.
package load

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/wesleyorama2/stampede/internal/metrics"
	"github.com/wesleyorama2/stampede/internal/transport"
)

var (
	// ErrRetired is returned when an iteration is requested from a retired VU.
	ErrRetired = errors.New("virtual user retired")

	errNilResponse = errors.New("transport returned no response")
)

// VUState represents the lifecycle state of a Virtual User.
type VUState int32

const (
	// VUStateIdle indicates the VU is between iterations.
	VUStateIdle VUState = iota
	// VUStateRunning indicates the VU is inside an iteration.
	VUStateRunning
	// VUStateRetiring indicates the VU will stop at the next iteration boundary.
	VUStateRetiring
	// VUStateStopped indicates the VU goroutine has exited.
	VUStateStopped
)

func (s VUState) String() string {
	switch s {
	case VUStateIdle:
		return "idle"
	case VUStateRunning:
		return "running"
	case VUStateRetiring:
		return "retiring"
	case VUStateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// VirtualUser is a single simulated user executing iterations.
//
// Each VU has its own:
//   - seeded random source
//   - iteration counter
//   - lifecycle state
//
// Nothing else survives between iterations.
type VirtualUser struct {
	// Unique identifier for this VU
	ID int

	behavior Behavior
	doer     transport.Doer
	builtins *metrics.Builtins
	rand     *rand.Rand
	logger   *zap.Logger

	state     atomic.Int32
	retiring  atomic.Bool
	iteration atomic.Int64

	doneCh   chan struct{}
	doneOnce sync.Once
}

// NewVirtualUser creates a Virtual User whose random source is seeded with seed.
func NewVirtualUser(id int, behavior Behavior, doer transport.Doer, builtins *metrics.Builtins, seed int64, logger *zap.Logger) *VirtualUser {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &VirtualUser{
		ID:       id,
		behavior: behavior,
		doer:     doer,
		builtins: builtins,
		rand:     rand.New(rand.NewSource(seed)),
		logger:   logger.With(zap.Int("vu", id)),
		doneCh:   make(chan struct{}),
	}
}

// State returns the current VU state.
func (vu *VirtualUser) State() VUState {
	s := VUState(vu.state.Load())
	if s != VUStateStopped && vu.retiring.Load() {
		return VUStateRetiring
	}
	return s
}

// Iterations returns the number of iterations started.
func (vu *VirtualUser) Iterations() int64 {
	return vu.iteration.Load()
}

// RunIteration executes exactly one pass of the behavior.
//
// The iterations and iteration_duration metrics are recorded only when the
// pass completes; a pass cut short by ctx returns ctx.Err().
func (vu *VirtualUser) RunIteration(ctx context.Context) error {
	if vu.State() == VUStateStopped {
		return fmt.Errorf("VU %d: %w", vu.ID, ErrRetired)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	vu.state.Store(int32(VUStateRunning))
	defer vu.state.CompareAndSwap(int32(VUStateRunning), int32(VUStateIdle))

	n := vu.iteration.Add(1)
	it := &Iteration{
		VU:       vu.ID,
		Number:   n,
		Rand:     vu.rand,
		doer:     vu.doer,
		builtins: vu.builtins,
		logger:   vu.logger.With(zap.Int64("iteration", n)),
	}

	start := time.Now()
	vu.behavior.Iterate(ctx, it)
	if err := ctx.Err(); err != nil {
		vu.logger.Debug("iteration interrupted", zap.Int64("iteration", n))
		return err
	}

	vu.builtins.Iterations.Add(1)
	vu.builtins.IterationDuration.AddDuration(time.Since(start))
	return nil
}

// Run loops iterations until the VU is retired or ctx is cancelled.
//
// Retirement is observed only between iterations, so a retired VU always
// finishes the pass it is in.
func (vu *VirtualUser) Run(ctx context.Context) {
	defer vu.markStopped()

	for !vu.retiring.Load() {
		if err := vu.RunIteration(ctx); err != nil {
			return
		}
	}
}

// Retire asks the VU to stop at its next iteration boundary.
func (vu *VirtualUser) Retire() {
	vu.retiring.Store(true)
}

// Done is closed once Run has returned.
func (vu *VirtualUser) Done() <-chan struct{} {
	return vu.doneCh
}

func (vu *VirtualUser) markStopped() {
	vu.state.Store(int32(VUStateStopped))
	vu.doneOnce.Do(func() { close(vu.doneCh) })
}
