// Package pipeline implements per-session frame admission: a bounded
// in-flight counter plus a minimum inter-frame interval. Frames failing
// either check are dropped silently; drops are counted for stats but never
// reported to the client — they are a normal part of flow control.
//
// There is no queue deeper than the in-flight cap. Depth would add
// steady-state latency without throughput when the accelerator is the
// bottleneck; the shallow bound keeps tail latency near inference time.
package pipeline

import (
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// Pipeline is one session's admission state. Admit is called from the
// session's dispatch goroutine; Done may be called from the write pump, so
// counters are atomic.
type Pipeline struct {
	maxInFlight int64
	inFlight    atomic.Int64
	admitted    atomic.Int64
	dropped     atomic.Int64
	limiter     *rate.Limiter
}

// New creates a pipeline with the given in-flight cap and minimum interval
// between accepted frames. A zero interval disables rate limiting.
func New(maxInFlight int, minInterval time.Duration) *Pipeline {
	limit := rate.Inf
	if minInterval > 0 {
		limit = rate.Every(minInterval)
	}
	return &Pipeline{
		maxInFlight: int64(maxInFlight),
		limiter:     rate.NewLimiter(limit, 1),
	}
}

// Admit decides whether a newly arrived frame enters the pipeline. On
// success the in-flight count is incremented and the inter-frame clock
// resets; on refusal the frame is counted as dropped. Only accepted frames
// consume a rate token, so a burst dropped on the cap does not push the
// interval window forward.
func (p *Pipeline) Admit() bool {
	if p.inFlight.Load() >= p.maxInFlight {
		p.dropped.Add(1)
		return false
	}
	if !p.limiter.Allow() {
		p.dropped.Add(1)
		return false
	}
	p.inFlight.Add(1)
	p.admitted.Add(1)
	return true
}

// Done records a reply (success or error) for an admitted frame. Clamped
// at zero so double accounting can never wedge admission.
func (p *Pipeline) Done() {
	for {
		cur := p.inFlight.Load()
		if cur == 0 {
			return
		}
		if p.inFlight.CompareAndSwap(cur, cur-1) {
			return
		}
	}
}

// InFlight returns the number of admitted frames without a reply yet.
func (p *Pipeline) InFlight() int64 {
	return p.inFlight.Load()
}

// Admitted returns the total number of accepted frames.
func (p *Pipeline) Admitted() int64 {
	return p.admitted.Load()
}

// Dropped returns the total number of dropped frames.
func (p *Pipeline) Dropped() int64 {
	return p.dropped.Load()
}
