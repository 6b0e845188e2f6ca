// Package engine adapts one session to the shared model pool: it owns the
// session's active mode, runs preprocess → forward → decode → postprocess,
// and keeps rolling latency statistics. One Engine per session; the pool
// behind it is shared process-wide.
package engine

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/lumastream/luma/codec"
	"github.com/lumastream/luma/errors"
	"github.com/lumastream/luma/model"
)

// Meta accompanies every successful prediction.
type Meta struct {
	InferenceTimeMS float64
	AvgFPS          float64
	Mode            model.Mode
}

// Engine is the per-session inference adapter. Not safe for concurrent use;
// a session drives it from a single goroutine.
type Engine struct {
	pool        *model.Pool
	mode        model.Mode
	mdl         model.Model
	warmupIters int
	stats       Stats
	log         *zap.SugaredLogger
}

// New creates an engine bound to the shared pool. No model is resident
// until the first SetMode call.
func New(pool *model.Pool, warmupIters int, log *zap.SugaredLogger) *Engine {
	return &Engine{
		pool:        pool,
		warmupIters: warmupIters,
		log:         log,
	}
}

// Mode returns the active mode.
func (e *Engine) Mode() model.Mode {
	return e.mode
}

// Stats returns a snapshot of the rolling statistics.
func (e *Engine) Stats() StatsSnapshot {
	return e.stats.Snapshot()
}

// SetMode switches the engine to the given mode, obtaining the model from
// the pool (and triggering a load on the pool's first sight of the mode).
// A no-op when the engine is already on the mode.
func (e *Engine) SetMode(ctx context.Context, mode model.Mode) error {
	if e.mdl != nil && e.mode == mode {
		return nil
	}
	m, err := e.pool.Get(ctx, mode)
	if err != nil {
		return errors.Wrapf(err, "mode change to %s failed", mode)
	}
	e.mode = mode
	e.mdl = m
	return nil
}

// WarmUp runs the model on synthetic inputs so the first real frame does
// not pay one-time initialization costs. Coalesced and memoized across all
// sessions via the pool: exactly one warm-up sequence runs per mode, and
// every later session returns immediately unless force is set.
func (e *Engine) WarmUp(ctx context.Context, force bool) error {
	if e.mdl == nil {
		return errors.New("warm-up requires an active mode")
	}
	if force {
		if err := e.runWarmup(ctx); err != nil {
			return err
		}
		e.pool.MarkWarm(e.mode)
		return nil
	}
	return e.pool.EnsureWarm(e.mode, func() error {
		return e.runWarmup(ctx)
	})
}

// runWarmup performs the synthetic forward passes for the active mode.
func (e *Engine) runWarmup(ctx context.Context) error {
	spec := e.mode.Spec()
	input := make([]float32, 3*spec.InputH*spec.InputW)
	shape := []int64{1, 3, int64(spec.InputH), int64(spec.InputW)}

	start := time.Now()
	for i := 0; i < e.warmupIters; i++ {
		if _, err := e.mdl.Forward(ctx, input, shape); err != nil {
			return errors.Wrapf(err, "warm-up pass %d failed for %s", i+1, e.mode)
		}
	}
	e.log.Infow("Model warmed up",
		"mode", e.mode.String(),
		"iterations", e.warmupIters,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

// Predict runs one frame through the active model and returns the class map
// at the frame's original resolution.
func (e *Engine) Predict(ctx context.Context, frame *codec.Frame) (*codec.ClassMap, Meta, error) {
	if e.mdl == nil {
		return nil, Meta{}, errors.New("predict requires an active mode")
	}

	spec := e.mode.Spec()
	input := codec.Preprocess(frame.Image, spec.InputH, spec.InputW)
	shape := []int64{1, 3, int64(spec.InputH), int64(spec.InputW)}

	start := time.Now()
	outputs, err := e.mdl.Forward(ctx, input, shape)
	if err != nil {
		return nil, Meta{}, err
	}
	elapsed := time.Since(start)

	cm, err := decode(spec, outputs)
	if err != nil {
		return nil, Meta{}, err
	}
	cm = codec.PostprocessClassMap(cm, frame.Image.H, frame.Image.W)

	e.stats.Record(elapsed)
	snap := e.stats.Snapshot()
	return cm, Meta{
		InferenceTimeMS: float64(elapsed.Microseconds()) / 1000.0,
		AvgFPS:          snap.AvgFPS,
		Mode:            e.mode,
	}, nil
}
