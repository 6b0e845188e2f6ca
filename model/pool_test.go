package model

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/lumastream/luma/errors"
)

// fakeModel counts forward passes; used throughout the pool tests.
type fakeModel struct {
	forwards atomic.Int64
	closed   atomic.Bool
}

func (f *fakeModel) Forward(ctx context.Context, input []float32, shape []int64) ([]Output, error) {
	f.forwards.Add(1)
	return []Output{{Data: []float32{0}, Shape: []int64{1, 1, 1, 1}}}, nil
}

func (f *fakeModel) Close() error {
	f.closed.Store(true)
	return nil
}

func countingLoader(loads *atomic.Int64, delay time.Duration) Loader {
	return func(ctx context.Context, mode Mode) (Model, error) {
		loads.Add(1)
		if delay > 0 {
			time.Sleep(delay)
		}
		return &fakeModel{}, nil
	}
}

func TestPoolLoadsOnce(t *testing.T) {
	var loads atomic.Int64
	p := NewPool(countingLoader(&loads, 0), zaptest.NewLogger(t).Sugar())

	ctx := context.Background()
	a, err := p.Get(ctx, ModeBalanced)
	require.NoError(t, err)
	b, err := p.Get(ctx, ModeBalanced)
	require.NoError(t, err)

	assert.Same(t, a, b)
	assert.Equal(t, int64(1), loads.Load())
}

func TestPoolCoalescesConcurrentLoads(t *testing.T) {
	var loads atomic.Int64
	p := NewPool(countingLoader(&loads, 30*time.Millisecond), zaptest.NewLogger(t).Sugar())

	const callers = 16
	models := make([]Model, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			m, err := p.Get(context.Background(), ModeSOTA)
			require.NoError(t, err)
			models[i] = m
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int64(1), loads.Load(), "concurrent first calls must coalesce")
	for i := 1; i < callers; i++ {
		assert.Same(t, models[0], models[i], "caller %d observed a different model", i)
	}
}

func TestPoolSeparateModesLoadSeparately(t *testing.T) {
	var loads atomic.Int64
	p := NewPool(countingLoader(&loads, 0), zaptest.NewLogger(t).Sugar())

	ctx := context.Background()
	_, err := p.Get(ctx, ModeFast)
	require.NoError(t, err)
	_, err = p.Get(ctx, ModeAccurate)
	require.NoError(t, err)
	assert.Equal(t, int64(2), loads.Load())
}

func TestPoolLoadErrorNotCached(t *testing.T) {
	var calls atomic.Int64
	loader := func(ctx context.Context, mode Mode) (Model, error) {
		if calls.Add(1) == 1 {
			return nil, errors.New("transient load failure")
		}
		return &fakeModel{}, nil
	}
	p := NewPool(loader, zaptest.NewLogger(t).Sugar())

	ctx := context.Background()
	_, err := p.Get(ctx, ModeFast)
	require.Error(t, err)
	assert.False(t, p.Loaded(ModeFast))

	m, err := p.Get(ctx, ModeFast)
	require.NoError(t, err)
	assert.NotNil(t, m)
}

func TestWarmRequiresLoaded(t *testing.T) {
	var loads atomic.Int64
	p := NewPool(countingLoader(&loads, 0), zaptest.NewLogger(t).Sugar())

	// Marking an unloaded mode warm is ignored: warm ⇒ loaded.
	p.MarkWarm(ModeFast)
	assert.False(t, p.IsWarm(ModeFast))

	_, err := p.Get(context.Background(), ModeFast)
	require.NoError(t, err)
	p.MarkWarm(ModeFast)
	assert.True(t, p.IsWarm(ModeFast))
}

func TestWarmInvariantUnderRandomOps(t *testing.T) {
	// Invariant: after any sequence of operations, IsWarm(m) ⇒ Loaded(m).
	var loads atomic.Int64
	p := NewPool(countingLoader(&loads, 0), zaptest.NewLogger(t).Sugar())
	ctx := context.Background()

	ops := []func(Mode){
		func(m Mode) { _, _ = p.Get(ctx, m) },
		func(m Mode) { p.MarkWarm(m) },
		func(m Mode) { p.IsWarm(m) },
		func(m Mode) { p.Clear() },
	}
	seed := uint64(42)
	next := func(n int) int {
		seed = seed*6364136223846793005 + 1442695040888963407
		return int(seed>>33) % n
	}
	for i := 0; i < 500; i++ {
		ops[next(len(ops))](AllModes[next(len(AllModes))])
		for _, m := range AllModes {
			if p.IsWarm(m) {
				assert.True(t, p.Loaded(m), "mode %s warm but not loaded after op %d", m, i)
			}
		}
	}
}

func TestEnsureWarmCoalescesConcurrentRuns(t *testing.T) {
	var loads atomic.Int64
	p := NewPool(countingLoader(&loads, 0), zaptest.NewLogger(t).Sugar())
	_, err := p.Get(context.Background(), ModeBalanced)
	require.NoError(t, err)

	var runs atomic.Int64
	warm := func() error {
		runs.Add(1)
		time.Sleep(20 * time.Millisecond)
		return nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			require.NoError(t, p.EnsureWarm(ModeBalanced, warm))
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(1), runs.Load(), "exactly one warm-up sequence per mode")
	assert.True(t, p.IsWarm(ModeBalanced))

	// Later callers return without running anything.
	require.NoError(t, p.EnsureWarm(ModeBalanced, warm))
	assert.Equal(t, int64(1), runs.Load())
}

func TestEnsureWarmErrorDoesNotMarkWarm(t *testing.T) {
	var loads atomic.Int64
	p := NewPool(countingLoader(&loads, 0), zaptest.NewLogger(t).Sugar())
	_, err := p.Get(context.Background(), ModeFast)
	require.NoError(t, err)

	require.Error(t, p.EnsureWarm(ModeFast, func() error {
		return errors.New("device busy")
	}))
	assert.False(t, p.IsWarm(ModeFast))

	// The failure is not sticky.
	require.NoError(t, p.EnsureWarm(ModeFast, func() error { return nil }))
	assert.True(t, p.IsWarm(ModeFast))
}

func TestClearEvictsAndResetsWarm(t *testing.T) {
	var loads atomic.Int64
	p := NewPool(countingLoader(&loads, 0), zaptest.NewLogger(t).Sugar())

	ctx := context.Background()
	m, err := p.Get(ctx, ModeBalanced)
	require.NoError(t, err)
	p.MarkWarm(ModeBalanced)

	p.Clear()
	assert.False(t, p.Loaded(ModeBalanced))
	assert.False(t, p.IsWarm(ModeBalanced))
	assert.True(t, m.(*fakeModel).closed.Load(), "cleared models must be closed")

	// Reload after clear works and counts as a fresh load.
	_, err = p.Get(ctx, ModeBalanced)
	require.NoError(t, err)
	assert.Equal(t, int64(2), loads.Load())
}

func TestClearDuringLoadDoesNotResurrect(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	loader := func(ctx context.Context, mode Mode) (Model, error) {
		close(started)
		<-release
		return &fakeModel{}, nil
	}
	p := NewPool(loader, zaptest.NewLogger(t).Sugar())

	errCh := make(chan error, 1)
	go func() {
		_, err := p.Get(context.Background(), ModeFast)
		errCh <- err
	}()

	<-started
	p.Clear()
	close(release)

	err := <-errCh
	require.Error(t, err, "a load that straddles Clear must fail")
	assert.False(t, p.Loaded(ModeFast))
}

func TestLoadedModes(t *testing.T) {
	var loads atomic.Int64
	p := NewPool(countingLoader(&loads, 0), zaptest.NewLogger(t).Sugar())
	ctx := context.Background()

	assert.Empty(t, p.LoadedModes())
	_, _ = p.Get(ctx, ModeSOTA)
	_, _ = p.Get(ctx, ModeFast)
	assert.Equal(t, []Mode{ModeFast, ModeSOTA}, p.LoadedModes())
}
