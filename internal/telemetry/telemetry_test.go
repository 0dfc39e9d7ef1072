package telemetry

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCounters(t *testing.T) {
	c := NewCounters()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.IncCounter("jobs.completed")
		}()
	}
	wg.Wait()

	c.ObserveDuration("job.execute", 20*time.Millisecond)
	c.ObserveDuration("job.execute", 40*time.Millisecond)

	assert.Equal(t, int64(50), c.Count("jobs.completed"))

	snap := c.Snapshot()
	assert.Equal(t, int64(50), snap["counters"].(map[string]int64)["jobs.completed"])
	assert.Equal(t, 30.0, snap["avg_duration_ms"].(map[string]float64)["job.execute"])
}

func TestCounters_StartSpan(t *testing.T) {
	c := NewCounters()

	_, end := c.StartSpan(context.Background(), "span")
	end()

	_, ok := c.Snapshot()["avg_duration_ms"].(map[string]float64)["span"]
	assert.True(t, ok)
}

func TestNop(t *testing.T) {
	var r Recorder = Nop{}
	ctx := context.Background()

	got, end := r.StartSpan(ctx, "x")
	end()
	r.IncCounter("x")
	r.ObserveDuration("x", time.Second)

	assert.Equal(t, ctx, got)
}
