package telemetry

import (
	"context"
	"sync"
	"time"
)

// Recorder is the observability port handed to every component
type Recorder interface {
	IncCounter(name string)
	ObserveDuration(name string, d time.Duration)
	StartSpan(ctx context.Context, name string) (context.Context, func())
}

// Nop discards everything
type Nop struct{}

func (Nop) IncCounter(string)                     {}
func (Nop) ObserveDuration(string, time.Duration) {}
func (Nop) StartSpan(ctx context.Context, _ string) (context.Context, func()) {
	return ctx, func() {}
}

// Counters keeps counters and duration totals in memory
type Counters struct {
	mu sync.RWMutex

	counters  map[string]int64
	durations map[string]time.Duration
	samples   map[string]int64
}

// NewCounters creates a new in-memory recorder
func NewCounters() *Counters {
	return &Counters{
		counters:  make(map[string]int64),
		durations: make(map[string]time.Duration),
		samples:   make(map[string]int64),
	}
}

// IncCounter increments the named counter
func (c *Counters) IncCounter(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counters[name]++
}

// ObserveDuration adds d to the named timer
func (c *Counters) ObserveDuration(name string, d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.durations[name] += d
	c.samples[name]++
}

// StartSpan times the span and records it under name when the returned func is called
func (c *Counters) StartSpan(ctx context.Context, name string) (context.Context, func()) {
	start := time.Now()
	return ctx, func() {
		c.ObserveDuration(name, time.Since(start))
	}
}

// Count returns the current value of a counter
func (c *Counters) Count(name string) int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.counters[name]
}

// Snapshot returns counters and average durations in milliseconds
func (c *Counters) Snapshot() map[string]any {
	c.mu.RLock()
	defer c.mu.RUnlock()

	counters := make(map[string]int64, len(c.counters))
	for k, v := range c.counters {
		counters[k] = v
	}

	timers := make(map[string]float64, len(c.durations))
	for k, total := range c.durations {
		n := c.samples[k]
		if n == 0 {
			continue
		}
		timers[k] = float64(total.Milliseconds()) / float64(n)
	}

	return map[string]any{
		"counters":        counters,
		"avg_duration_ms": timers,
	}
}
