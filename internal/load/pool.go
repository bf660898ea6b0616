package load

import (
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/wesleyorama2/stampede/internal/metrics"
	"github.com/wesleyorama2/stampede/internal/transport"
)

// Pool creates Virtual Users that share a behavior, transport and metrics.
//
// VU IDs start at 1 and are never reused. Each VU's random source is seeded
// with the pool seed plus its ID, so a run with a fixed seed draws the same
// values per VU.
type Pool struct {
	behavior Behavior
	doer     transport.Doer
	builtins *metrics.Builtins
	seed     int64
	logger   *zap.Logger

	nextID atomic.Int32

	mu  sync.RWMutex
	vus map[int]*VirtualUser
}

// NewPool creates a pool. A zero seed is replaced with one derived from the clock.
func NewPool(behavior Behavior, doer transport.Doer, builtins *metrics.Builtins, seed int64, logger *zap.Logger) *Pool {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pool{
		behavior: behavior,
		doer:     doer,
		builtins: builtins,
		seed:     seed,
		logger:   logger,
		vus:      make(map[int]*VirtualUser),
	}
}

// Seed returns the base seed.
func (p *Pool) Seed() int64 {
	return p.seed
}

// Spawn creates and registers a new VU. The caller runs it.
func (p *Pool) Spawn() *VirtualUser {
	id := int(p.nextID.Add(1))
	vu := NewVirtualUser(id, p.behavior, p.doer, p.builtins, p.seed+int64(id), p.logger)

	p.mu.Lock()
	p.vus[id] = vu
	p.mu.Unlock()

	return vu
}

// Get returns a VU by ID, or nil if not found.
func (p *Pool) Get(id int) *VirtualUser {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.vus[id]
}

// Live returns the number of VUs that have not stopped.
func (p *Pool) Live() int {
	p.mu.RLock()
	defer p.mu.RUnlock()

	n := 0
	for _, vu := range p.vus {
		if vu.State() != VUStateStopped {
			n++
		}
	}
	return n
}

// RetireAll asks every VU to stop at its next iteration boundary.
func (p *Pool) RetireAll() {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, vu := range p.vus {
		vu.Retire()
	}
}
