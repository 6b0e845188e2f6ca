package model

import (
	"context"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/lumastream/luma/errors"
)

// Pool owns every loaded model for the process lifetime. Models load lazily
// on first Get; concurrent first calls for the same mode coalesce into one
// load. The pool also memoizes warm-up state so only the first session per
// mode pays the synthetic forward passes.
//
// The pool does not know how to run inference; it only knows how to load.
type Pool struct {
	mu     sync.RWMutex
	loader Loader
	models map[Mode]Model
	warm   map[Mode]bool
	gen    uint64 // bumped by Clear so in-flight loads do not resurrect models
	sf     singleflight.Group
	log    *zap.SugaredLogger
}

// NewPool creates an empty pool over the given loader.
func NewPool(loader Loader, log *zap.SugaredLogger) *Pool {
	return &Pool{
		loader: loader,
		models: make(map[Mode]Model),
		warm:   make(map[Mode]bool),
		log:    log,
	}
}

// Get returns the model for a mode, loading it on first call. Concurrent
// first calls block on a single load and all observe its result; read-only
// lookups of already-loaded models do not block each other.
func (p *Pool) Get(ctx context.Context, mode Mode) (Model, error) {
	p.mu.RLock()
	if m, ok := p.models[mode]; ok {
		p.mu.RUnlock()
		return m, nil
	}
	gen := p.gen
	p.mu.RUnlock()

	v, err, _ := p.sf.Do(mode.String(), func() (interface{}, error) {
		// Another coalesced caller may have finished the store already.
		p.mu.RLock()
		if m, ok := p.models[mode]; ok {
			p.mu.RUnlock()
			return m, nil
		}
		p.mu.RUnlock()

		m, err := p.loader(ctx, mode)
		if err != nil {
			return nil, errors.Wrapf(err, "load failed for mode %s", mode)
		}

		p.mu.Lock()
		if p.gen != gen {
			// Clear ran while we were loading; drop the model rather than
			// resurrecting it past the reset.
			p.mu.Unlock()
			_ = m.Close()
			return nil, errors.Newf("pool cleared while loading mode %s", mode)
		}
		p.models[mode] = m
		p.mu.Unlock()
		return m, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(Model), nil
}

// Loaded reports whether the mode's model is resident.
func (p *Pool) Loaded(mode Mode) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.models[mode]
	return ok
}

// IsWarm reports whether the mode has completed warm-up.
func (p *Pool) IsWarm(mode Mode) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.warm[mode]
}

// MarkWarm records that warm-up ran for the mode. A mode that is not loaded
// cannot be warm; such calls are ignored to preserve the invariant.
func (p *Pool) MarkWarm(mode Mode) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.models[mode]; !ok {
		p.log.Warnw("MarkWarm ignored for unloaded mode", "mode", mode.String())
		return
	}
	p.warm[mode] = true
}

// EnsureWarm runs the warm-up routine exactly once per mode across all
// sessions: concurrent callers coalesce onto a single run and everyone
// observes its result. A mode already warm returns immediately.
func (p *Pool) EnsureWarm(mode Mode, run func() error) error {
	if p.IsWarm(mode) {
		return nil
	}
	_, err, _ := p.sf.Do("warm/"+mode.String(), func() (interface{}, error) {
		if p.IsWarm(mode) {
			return nil, nil
		}
		if err := run(); err != nil {
			return nil, err
		}
		p.MarkWarm(mode)
		return nil, nil
	})
	return err
}

// LoadedModes returns every mode with a resident model, in wire order.
func (p *Pool) LoadedModes() []Mode {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]Mode, 0, len(p.models))
	for _, m := range AllModes {
		if _, ok := p.models[m]; ok {
			out = append(out, m)
		}
	}
	return out
}

// Clear evicts every loaded model and resets the warm set. Used on process
// shutdown. Atomic with respect to Get: loads racing with Clear either
// complete before the reset or fail.
func (p *Pool) Clear() {
	p.mu.Lock()
	models := p.models
	p.models = make(map[Mode]Model)
	p.warm = make(map[Mode]bool)
	p.gen++
	p.mu.Unlock()

	for mode, m := range models {
		if err := m.Close(); err != nil {
			p.log.Warnw("Model close failed during pool clear",
				"mode", mode.String(),
				"error", err,
			)
		}
	}
}
