package metrics

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// Config contains configuration for a Registry.
type Config struct {
	// HistogramMin is the minimum recordable trend value in microseconds (default: 1)
	HistogramMin int64

	// HistogramMax is the maximum recordable trend value in microseconds (default: 1 hour)
	HistogramMax int64

	// HistogramSigFigs is the number of significant figures (default: 3)
	HistogramSigFigs int
}

// DefaultConfig returns the default registry configuration.
func DefaultConfig() Config {
	return Config{
		HistogramMin:     1,
		HistogramMax:     3600000000, // 1 hour in microseconds
		HistogramSigFigs: 3,
	}
}

// Registry is the store of named metrics for one run.
//
// A Registry is constructed explicitly and handed to every virtual user, so
// several independent runs can share a process. All methods are safe for
// concurrent use.
type Registry struct {
	config Config

	mu      sync.RWMutex
	metrics map[string]*Metric

	startMu   sync.RWMutex
	startTime time.Time
}

// NewRegistry creates a registry with default configuration.
func NewRegistry() *Registry {
	return NewRegistryWithConfig(DefaultConfig())
}

// NewRegistryWithConfig creates a registry with custom configuration.
func NewRegistryWithConfig(config Config) *Registry {
	if config.HistogramMin <= 0 {
		config.HistogramMin = 1
	}
	if config.HistogramMax <= config.HistogramMin {
		config.HistogramMax = DefaultConfig().HistogramMax
	}
	if config.HistogramSigFigs <= 0 {
		config.HistogramSigFigs = 3
	}

	return &Registry{
		config:    config,
		metrics:   make(map[string]*Metric),
		startTime: time.Now(),
	}
}

// Declare returns the metric with the given name, creating it if needed.
//
// Declaring an existing name with a different kind returns ErrKindMismatch.
func (r *Registry) Declare(name string, kind Kind) (*Metric, error) {
	if name == "" {
		return nil, fmt.Errorf("metric name cannot be empty")
	}
	if kind < KindCounter || kind > KindTrend {
		return nil, fmt.Errorf("metric %s: invalid kind %d", name, kind)
	}

	r.mu.RLock()
	m, ok := r.metrics[name]
	r.mu.RUnlock()

	if !ok {
		r.mu.Lock()
		m, ok = r.metrics[name]
		if !ok {
			m = newMetric(name, kind, r.config)
			r.metrics[name] = m
		}
		r.mu.Unlock()
	}

	if m.Kind != kind {
		return nil, fmt.Errorf("metric %s is a %s, not a %s: %w", name, m.Kind, kind, ErrKindMismatch)
	}
	return m, nil
}

// MustDeclare is like Declare but panics on error.
func (r *Registry) MustDeclare(name string, kind Kind) *Metric {
	m, err := r.Declare(name, kind)
	if err != nil {
		panic(err)
	}
	return m
}

// Record adds a value to the named metric, creating it on first use.
func (r *Registry) Record(name string, kind Kind, value float64) error {
	m, err := r.Declare(name, kind)
	if err != nil {
		return err
	}
	m.Add(value)
	return nil
}

// Lookup returns a metric by name.
func (r *Registry) Lookup(name string) (*Metric, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.metrics[name]
	return m, ok
}

// Names returns all metric names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	names := make([]string, 0, len(r.metrics))
	for name := range r.metrics {
		names = append(names, name)
	}
	r.mu.RUnlock()

	sort.Strings(names)
	return names
}

// Snapshot returns a point-in-time aggregate of the named metric.
func (r *Registry) Snapshot(name string) (Snapshot, bool) {
	m, ok := r.Lookup(name)
	if !ok {
		return Snapshot{}, false
	}

	s := m.Snapshot()
	s.Elapsed = r.Elapsed()
	s.finish()
	return s, true
}

// Snapshots returns snapshots of every metric keyed by name.
func (r *Registry) Snapshots() map[string]Snapshot {
	names := r.Names()
	out := make(map[string]Snapshot, len(names))
	for _, name := range names {
		if s, ok := r.Snapshot(name); ok {
			out[name] = s
		}
	}
	return out
}

// MarkStart resets the time origin used for per-second counter rates.
func (r *Registry) MarkStart() {
	r.startMu.Lock()
	r.startTime = time.Now()
	r.startMu.Unlock()
}

// Elapsed returns the time since the registry's start mark.
func (r *Registry) Elapsed() time.Duration {
	r.startMu.RLock()
	defer r.startMu.RUnlock()
	return time.Since(r.startTime)
}
