package nav

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CSSFrancis/spyde-sub000/internal/dataset"
	"github.com/CSSFrancis/spyde-sub000/internal/ndarray"
	"github.com/CSSFrancis/spyde-sub000/internal/timeutil"
)

// gateSource serves constant 2x2 frames whose value encodes the navigation
// index, optionally holding every read until released.
type gateSource struct {
	mu      sync.Mutex
	calls   int
	release chan struct{} // nil means reads return immediately
}

func (s *gateSource) ReadSlice(navIndex []int) (*ndarray.Array, error) {
	s.mu.Lock()
	s.calls++
	release := s.release
	s.mu.Unlock()
	if release != nil {
		<-release
	}
	v := 0.0
	for _, i := range navIndex {
		v = v*10 + float64(i)
	}
	return ndarray.FromData([]float64{v, v, v, v}, 2, 2)
}

func (s *gateSource) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func newLazySignal(t *testing.T, src dataset.SliceSource) (*dataset.Signal, *dataset.Executor) {
	t.Helper()
	exec := dataset.NewExecutor(2, nil)
	t.Cleanup(exec.Close)
	sig, err := dataset.NewSignal(dataset.SignalConfig{
		Name:     "test",
		NavShape: []int{8, 8},
		SigShape: []int{2, 2},
		Source:   src,
		Executor: exec,
	})
	require.NoError(t, err)
	return sig, exec
}

func newMaterializedSignal(t *testing.T) *dataset.Signal {
	t.Helper()
	data := ndarray.New(4, 4, 2, 2)
	for x := 0; x < 4; x++ {
		for y := 0; y < 4; y++ {
			for i := 0; i < 2; i++ {
				for j := 0; j < 2; j++ {
					data.Set(float64(x*10+y), x, y, i, j)
				}
			}
		}
	}
	sig, err := dataset.NewSignal(dataset.SignalConfig{
		Name:     "mat",
		NavShape: []int{4, 4},
		SigShape: []int{2, 2},
		Data:     data,
	})
	require.NoError(t, err)
	return sig
}

// drainEvents applies every queued resolved event and reports how many there
// were. Tests drive the apply context by hand instead of running the loop.
func drainEvents(m *Manager) int {
	n := 0
	for {
		select {
		case ev := <-m.events:
			m.runTask(func() { m.applyResolved(ev) })
			n++
		default:
			return n
		}
	}
}

func TestDispatchAppliesMaterializedValue(t *testing.T) {
	m := NewManager(ManagerConfig{})
	sig := newMaterializedSignal(t)

	nav := m.AddSurface("nav", []int{4, 4})
	cid, err := m.AddConsumer(ConsumerConfig{
		Surface: nav, Dims: 2, Shape: []int{2, 2},
		Update: NavigationUpdate(sig),
	})
	require.NoError(t, err)
	sel, err := m.AddSelector(SelectorConfig{
		Surface: nav, Geometry: PointGeometry{Coords: []int{1, 2}},
		Consumers: []ConsumerID{cid},
	})
	require.NoError(t, err)

	require.NoError(t, m.UpdateNow(sel))

	data, state, err := m.ConsumerData(cid)
	require.NoError(t, err)
	assert.Equal(t, StateApplied, state)
	require.NotNil(t, data.Value)
	assert.Equal(t, 12.0, data.Value.Data[0])
}

func TestUnchangedIndicesSuppressed(t *testing.T) {
	m := NewManager(ManagerConfig{})
	var calls atomic.Int64
	update := func(mgr *Manager, sel *Selector, c *Consumer, idx *ndarray.IntMatrix) (Data, error) {
		calls.Add(1)
		return Data{Value: ndarray.Ones(2, 2)}, nil
	}

	nav := m.AddSurface("nav", []int{8, 8})
	cid, err := m.AddConsumer(ConsumerConfig{Surface: nav, Dims: 2, Shape: []int{2, 2}, Update: update})
	require.NoError(t, err)
	sel, err := m.AddSelector(SelectorConfig{
		Surface: nav, Geometry: PointGeometry{Coords: []int{3, 3}},
		Consumers: []ConsumerID{cid},
	})
	require.NoError(t, err)

	require.NoError(t, m.UpdateNow(sel))
	require.NoError(t, m.UpdateNow(sel))
	assert.Equal(t, int64(1), calls.Load(), "unchanged indices must not re-dispatch")

	require.NoError(t, m.ForceUpdate(sel, false))
	assert.Equal(t, int64(2), calls.Load(), "forced update bypasses the suppression")
}

func TestClippingKeepsOutOfBoundsDragUsable(t *testing.T) {
	m := NewManager(ManagerConfig{})
	var got *ndarray.IntMatrix
	update := func(mgr *Manager, sel *Selector, c *Consumer, idx *ndarray.IntMatrix) (Data, error) {
		got = idx.Clone()
		return Data{Value: ndarray.Ones(1)}, nil
	}

	nav := m.AddSurface("nav", []int{64, 64})
	cid, err := m.AddConsumer(ConsumerConfig{Surface: nav, Dims: 1, Shape: []int{1}, Update: update})
	require.NoError(t, err)
	sel, err := m.AddSelector(SelectorConfig{
		Surface: nav, Geometry: PointGeometry{Coords: []int{-5, 500}},
		Consumers: []ConsumerID{cid},
	})
	require.NoError(t, err)

	require.NoError(t, m.UpdateNow(sel))
	require.NotNil(t, got)
	assert.Equal(t, []int{0, 63}, got.Row(0))
}

func TestPlaceholderShownWhilePending(t *testing.T) {
	src := &gateSource{release: make(chan struct{})}
	sig, _ := newLazySignal(t, src)

	m := NewManager(ManagerConfig{})
	nav := m.AddSurface("nav", []int{8, 8})
	cid, err := m.AddConsumer(ConsumerConfig{
		Surface: nav, Dims: 2, Shape: []int{2, 2},
		Update: NavigationUpdate(sig),
	})
	require.NoError(t, err)
	sel, err := m.AddSelector(SelectorConfig{
		Surface: nav, Geometry: PointGeometry{Coords: []int{1, 1}},
		Consumers: []ConsumerID{cid},
	})
	require.NoError(t, err)

	require.NoError(t, m.UpdateNow(sel))

	data, state, err := m.ConsumerData(cid)
	require.NoError(t, err)
	assert.Equal(t, StateFetchPending, state)
	require.NotNil(t, data.Value, "a placeholder must show before the first result")
	assert.True(t, data.Value.Equal(ndarray.Checkerboard(2, 2)))

	close(src.release)
	_, err = data.Future.Result()
	require.NoError(t, err)

	p := NewPoller(m, time.Millisecond, nil)
	p.PollOnce(nil)
	require.Equal(t, 1, drainEvents(m))

	data, state, err = m.ConsumerData(cid)
	require.NoError(t, err)
	assert.Equal(t, StateApplied, state)
	assert.Equal(t, 11.0, data.Value.Data[0])
}

func TestStaleResultDropped(t *testing.T) {
	m := NewManager(ManagerConfig{})
	src := &gateSource{}
	sig, _ := newLazySignal(t, src)

	nav := m.AddSurface("nav", []int{8, 8})
	cid, err := m.AddConsumer(ConsumerConfig{
		Surface: nav, Dims: 2, Shape: []int{2, 2},
		Update: NavigationUpdate(sig),
	})
	require.NoError(t, err)
	sel, err := m.AddSelector(SelectorConfig{
		Surface: nav, Geometry: PointGeometry{Coords: []int{2, 2}},
		Consumers: []ConsumerID{cid},
	})
	require.NoError(t, err)
	require.NoError(t, m.UpdateNow(sel))

	data, _, err := m.ConsumerData(cid)
	require.NoError(t, err)
	require.NotNil(t, data.Future)
	currentID := data.Future.ID()

	// A result carrying a superseded future's identity must die at the guard
	// without touching the consumer.
	stale := ResolvedEvent{
		Consumer: cid,
		FutureID: currentID - 1,
		Value:    ndarray.Ones(2, 2),
	}
	m.runTask(func() { m.applyResolved(stale) })

	after, state, err := m.ConsumerData(cid)
	require.NoError(t, err)
	assert.Equal(t, StateFetchPending, state)
	assert.Same(t, data.Future, after.Future)
	assert.Equal(t, int64(1), m.Stats().Snapshot().StaleDrops)
}

func TestPollerForwardsEachResultOnce(t *testing.T) {
	m := NewManager(ManagerConfig{})
	src := &gateSource{}
	sig, _ := newLazySignal(t, src)

	nav := m.AddSurface("nav", []int{8, 8})
	cid, err := m.AddConsumer(ConsumerConfig{
		Surface: nav, Dims: 2, Shape: []int{2, 2},
		Update: NavigationUpdate(sig),
	})
	require.NoError(t, err)
	sel, err := m.AddSelector(SelectorConfig{
		Surface: nav, Geometry: PointGeometry{Coords: []int{3, 4}},
		Consumers: []ConsumerID{cid},
	})
	require.NoError(t, err)
	require.NoError(t, m.UpdateNow(sel))

	data, _, err := m.ConsumerData(cid)
	require.NoError(t, err)
	_, err = data.Future.Result()
	require.NoError(t, err)

	p := NewPoller(m, time.Millisecond, nil)
	p.PollOnce(nil)
	p.PollOnce(nil) // event not yet applied, future still attached

	assert.Equal(t, 1, drainEvents(m), "a resolved future is forwarded once per consumer")
	assert.Equal(t, int64(1), m.Stats().Snapshot().DedupSuppressed)

	// After Stop the seen set resets.
	p.Run()
	p.Stop()
	assert.Empty(t, p.seen)
}

func TestPollerSurvivesOneBadItem(t *testing.T) {
	m := NewManager(ManagerConfig{})
	src := &gateSource{}
	sig, _ := newLazySignal(t, src)

	nav := m.AddSurface("nav", []int{8, 8})
	cid, err := m.AddConsumer(ConsumerConfig{
		Surface: nav, Dims: 2, Shape: []int{2, 2},
		Update: NavigationUpdate(sig),
	})
	require.NoError(t, err)
	sel, err := m.AddSelector(SelectorConfig{
		Surface: nav, Geometry: PointGeometry{Coords: []int{1, 1}},
		Consumers: []ConsumerID{cid},
	})
	require.NoError(t, err)
	require.NoError(t, m.UpdateNow(sel))

	data, _, err := m.ConsumerData(cid)
	require.NoError(t, err)
	_, err = data.Future.Result()
	require.NoError(t, err)

	p := NewPoller(m, time.Millisecond, nil)
	// A corrupt item panics during inspection; the recover must contain it.
	require.NotPanics(t, func() { p.inspect(pendingItem{consumer: "bogus"}, nil) })
	p.PollOnce(nil)
	assert.Equal(t, 1, drainEvents(m), "healthy items still get through")
}

func TestForcedUpdateSwallowsCancellation(t *testing.T) {
	m := NewManager(ManagerConfig{})
	cancelled := dataset.NewFuture()
	cancelled.Cancel()
	update := func(mgr *Manager, sel *Selector, c *Consumer, idx *ndarray.IntMatrix) (Data, error) {
		return Data{Future: cancelled}, nil
	}

	nav := m.AddSurface("nav", []int{8, 8})
	cid, err := m.AddConsumer(ConsumerConfig{Surface: nav, Dims: 2, Shape: []int{2, 2}, Update: update})
	require.NoError(t, err)
	sel, err := m.AddSelector(SelectorConfig{
		Surface: nav, Geometry: PointGeometry{Coords: []int{0, 0}},
		Consumers: []ConsumerID{cid},
	})
	require.NoError(t, err)

	require.NoError(t, m.ForceUpdate(sel, false))
	_, state, err := m.ConsumerData(cid)
	require.NoError(t, err)
	assert.Equal(t, StateIdle, state, "a cancelled forced fetch leaves the consumer untouched")
	assert.Equal(t, int64(1), m.Stats().Snapshot().Cancellations)
}

func TestDebounceCoalescesBurst(t *testing.T) {
	m := NewManager(ManagerConfig{DebounceDelay: 20 * time.Millisecond})
	m.Run()
	defer m.Stop()

	var calls atomic.Int64
	update := func(mgr *Manager, sel *Selector, c *Consumer, idx *ndarray.IntMatrix) (Data, error) {
		calls.Add(1)
		return Data{Value: ndarray.Ones(2, 2)}, nil
	}

	nav := m.AddSurface("nav", []int{64, 64})
	cid, err := m.AddConsumer(ConsumerConfig{Surface: nav, Dims: 2, Shape: []int{2, 2}, Update: update})
	require.NoError(t, err)
	sel, err := m.AddSelector(SelectorConfig{
		Surface: nav, Geometry: PointGeometry{Coords: []int{0, 0}},
		Consumers: []ConsumerID{cid},
	})
	require.NoError(t, err)

	for i := 1; i <= 5; i++ {
		require.NoError(t, m.SetGeometry(sel, PointGeometry{Coords: []int{i, i}}))
		time.Sleep(2 * time.Millisecond)
	}

	deadline := time.Now().Add(time.Second)
	for calls.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	time.Sleep(50 * time.Millisecond) // room for spurious extra fires

	assert.Equal(t, int64(1), calls.Load(), "a drag burst settles into a single fetch")
}

func TestMultiSelectorCartesianChain(t *testing.T) {
	m := NewManager(ManagerConfig{})
	update := func(mgr *Manager, sel *Selector, c *Consumer, idx *ndarray.IntMatrix) (Data, error) {
		return Data{Value: ndarray.Ones(2, 2)}, nil
	}

	navSurf := m.AddSurface("nav", []int{16, 16})
	sigSurf := m.AddSurface("sig", []int{32})

	sigConsumer, err := m.AddConsumer(ConsumerConfig{Surface: sigSurf, Dims: 2, Shape: []int{2, 2}, Update: update})
	require.NoError(t, err)
	upstream, err := m.AddSelector(SelectorConfig{
		Surface:     navSurf,
		Geometry:    RectGeometry{X0: 2, Y0: 3, X1: 3, Y1: 4},
		Integrating: true,
		Consumers:   []ConsumerID{sigConsumer},
	})
	require.NoError(t, err)

	downstream, err := m.AddSelector(SelectorConfig{
		Surface:     sigSurf,
		Geometry:    SpanGeometry{Lo: 5, Hi: 6},
		Integrating: true,
		Multi:       true,
	})
	require.NoError(t, err)

	chain := m.UpstreamChain(downstream)
	require.Len(t, chain, 1)
	assert.Equal(t, upstream, chain[0].ID())

	idx, err := m.ComputeIndices(downstream)
	require.NoError(t, err)
	assert.Equal(t, 8, idx.Rows, "4 upstream positions x 2 local positions")
	assert.Equal(t, 3, idx.Cols)
	assert.Equal(t, []int{2, 3, 5}, idx.Row(0), "nearest upstream level varies slowest")
	assert.Equal(t, []int{2, 3, 6}, idx.Row(1))
	assert.Equal(t, []int{3, 4, 6}, idx.Row(7))
}

func TestNonIntegratingCollapsesToRepresentativePoint(t *testing.T) {
	m := NewManager(ManagerConfig{})
	nav := m.AddSurface("nav", []int{16, 16})
	sel, err := m.AddSelector(SelectorConfig{
		Surface:  nav,
		Geometry: RectGeometry{X0: 2, Y0: 2, X1: 4, Y1: 6},
	})
	require.NoError(t, err)

	idx, err := m.ComputeIndices(sel)
	require.NoError(t, err)
	require.Equal(t, 1, idx.Rows)
	assert.Equal(t, []int{3, 4}, idx.Row(0))
}

func TestCloseSelectorDetachesLinkedCompanions(t *testing.T) {
	m := NewManager(ManagerConfig{})
	a := m.AddSurface("a", []int{8, 8})
	b := m.AddSurface("b", []int{8, 8})

	selA, err := m.AddSelector(SelectorConfig{Surface: a, Geometry: PointGeometry{Coords: []int{1, 1}}})
	require.NoError(t, err)
	selB, err := m.AddSelector(SelectorConfig{Surface: b, Geometry: PointGeometry{Coords: []int{1, 1}}})
	require.NoError(t, err)
	require.NoError(t, m.LinkSelectors(selA, selB))

	m.CloseSelector(selA)
	assert.Nil(t, m.SelectorByID(selA))
	assert.Nil(t, m.SelectorByID(selB), "linked companions close together")
}

func TestCloseSurfaceRemovesConsumersAndSelectors(t *testing.T) {
	m := NewManager(ManagerConfig{})
	update := func(mgr *Manager, sel *Selector, c *Consumer, idx *ndarray.IntMatrix) (Data, error) {
		return Data{}, nil
	}

	nav := m.AddSurface("nav", []int{8, 8})
	sig := m.AddSurface("sig", []int{8, 8})
	cid, err := m.AddConsumer(ConsumerConfig{Surface: sig, Dims: 2, Shape: []int{2, 2}, Update: update})
	require.NoError(t, err)
	sel, err := m.AddSelector(SelectorConfig{
		Surface: nav, Geometry: PointGeometry{Coords: []int{1, 1}},
		Consumers: []ConsumerID{cid},
	})
	require.NoError(t, err)

	m.CloseSurface(sig)
	assert.Nil(t, m.ConsumerByID(cid))
	require.NotNil(t, m.SelectorByID(sel))
	assert.Empty(t, m.SelectorByID(sel).Consumers(), "fan-out entries to closed consumers are dropped")

	m.CloseSurface(nav)
	assert.Nil(t, m.SelectorByID(sel))
}

func TestManagerLifecycleIdempotent(t *testing.T) {
	m := NewManager(ManagerConfig{})
	m.Run()
	m.Run()
	m.Stop()
	m.Stop()

	p := NewPoller(m, time.Millisecond, nil)
	p.Run()
	p.Run()
	p.Stop()
	p.Stop()
}

func TestMutuallyFedSurfacesSettleInOnePass(t *testing.T) {
	// Two surfaces feeding each other: A on s1 drives a consumer on s2, B on
	// s2 drives one on s1. A dispatch must visit each selector once and stop,
	// and the upstream walk must yield a finite chain.
	m := NewManager(ManagerConfig{})
	var calls atomic.Int64
	update := func(mgr *Manager, sel *Selector, c *Consumer, idx *ndarray.IntMatrix) (Data, error) {
		calls.Add(1)
		return Data{Value: ndarray.Ones(2, 2)}, nil
	}

	s1 := m.AddSurface("s1", []int{8, 8})
	s2 := m.AddSurface("s2", []int{8, 8})
	c2, err := m.AddConsumer(ConsumerConfig{Surface: s2, Dims: 2, Shape: []int{2, 2}, Update: update})
	require.NoError(t, err)
	c1, err := m.AddConsumer(ConsumerConfig{Surface: s1, Dims: 2, Shape: []int{2, 2}, Update: update})
	require.NoError(t, err)

	selA, err := m.AddSelector(SelectorConfig{
		Surface: s1, Geometry: PointGeometry{Coords: []int{1, 1}},
		Consumers: []ConsumerID{c2},
	})
	require.NoError(t, err)
	selB, err := m.AddSelector(SelectorConfig{
		Surface: s2, Geometry: PointGeometry{Coords: []int{2, 2}},
		Consumers: []ConsumerID{c1},
	})
	require.NoError(t, err)

	require.NoError(t, m.UpdateNow(selA))
	assert.Equal(t, int64(2), calls.Load(), "each selector dispatches exactly once per pass")

	chain := m.UpstreamChain(selA)
	require.Len(t, chain, 1)
	assert.Equal(t, selB, chain[0].ID())

	downstream := m.DownstreamConsumers(selA)
	assert.Len(t, downstream, 2)
}

func TestPollerSweepsOnClockTicks(t *testing.T) {
	m := NewManager(ManagerConfig{})
	src := &gateSource{}
	sig, _ := newLazySignal(t, src)

	nav := m.AddSurface("nav", []int{8, 8})
	cid, err := m.AddConsumer(ConsumerConfig{
		Surface: nav, Dims: 2, Shape: []int{2, 2},
		Update: NavigationUpdate(sig),
	})
	require.NoError(t, err)
	sel, err := m.AddSelector(SelectorConfig{
		Surface: nav, Geometry: PointGeometry{Coords: []int{2, 5}},
		Consumers: []ConsumerID{cid},
	})
	require.NoError(t, err)
	require.NoError(t, m.UpdateNow(sel))

	data, _, err := m.ConsumerData(cid)
	require.NoError(t, err)
	_, err = data.Future.Result()
	require.NoError(t, err)

	clk := timeutil.NewMockClock(time.Now())
	p := NewPoller(m, 50*time.Millisecond, nil)
	p.SetClock(clk)
	p.Run()
	defer p.Stop()

	assert.Zero(t, m.Stats().Snapshot().PollSweeps, "no sweeps until the clock moves")

	applied := false
	deadline := time.Now().Add(time.Second)
	for !applied && time.Now().Before(deadline) {
		clk.Advance(p.interval)
		select {
		case ev := <-m.events:
			m.runTask(func() { m.applyResolved(ev) })
			applied = true
		case <-time.After(time.Millisecond):
		}
	}
	require.True(t, applied, "advancing the clock must drive a sweep")

	_, state, err := m.ConsumerData(cid)
	require.NoError(t, err)
	assert.Equal(t, StateApplied, state)
}

func TestResizeTriggersContrastRerange(t *testing.T) {
	m := NewManager(ManagerConfig{})
	update := func(mgr *Manager, sel *Selector, c *Consumer, idx *ndarray.IntMatrix) (Data, error) {
		return Data{Value: ndarray.Ones(2, 2)}, nil
	}

	nav := m.AddSurface("nav", []int{16, 16})
	cid, err := m.AddConsumer(ConsumerConfig{Surface: nav, Dims: 2, Shape: []int{2, 2}, Update: update})
	require.NoError(t, err)
	sel, err := m.AddSelector(SelectorConfig{
		Surface:     nav,
		Geometry:    RectGeometry{X0: 1, Y0: 1, X1: 2, Y1: 2},
		Integrating: true,
		Consumers:   []ConsumerID{cid},
	})
	require.NoError(t, err)

	require.NoError(t, m.UpdateNow(sel))
	c := m.ConsumerByID(cid)
	assert.True(t, c.NeedsAutoLevel(), "first dispatch establishes the size signature")
	assert.True(t, c.NeedsRange())

	// Same extent at a new position: levels stay.
	require.NoError(t, m.SetGeometry(sel, RectGeometry{X0: 3, Y0: 3, X1: 4, Y1: 4}))
	require.NoError(t, m.UpdateNow(sel))
	assert.False(t, c.NeedsAutoLevel())
	assert.False(t, c.NeedsRange())

	// Bigger extent: the aggregate's dynamic range moved, re-range.
	require.NoError(t, m.SetGeometry(sel, RectGeometry{X0: 3, Y0: 3, X1: 6, Y1: 6}))
	require.NoError(t, m.UpdateNow(sel))
	assert.True(t, c.NeedsAutoLevel())
	assert.True(t, c.NeedsRange())
}

func TestFFTConsumerFollowsParentThroughCascade(t *testing.T) {
	m := NewManager(ManagerConfig{})
	update := func(mgr *Manager, sel *Selector, c *Consumer, idx *ndarray.IntMatrix) (Data, error) {
		return Data{Value: ndarray.Ones(4, 4)}, nil
	}

	navSurf := m.AddSurface("nav", []int{8, 8})
	imgSurf := m.AddSurface("img", []int{4, 4})
	fftSurf := m.AddSurface("fft", []int{4, 4})

	imgC, err := m.AddConsumer(ConsumerConfig{Surface: imgSurf, Dims: 2, Shape: []int{4, 4}, Update: update})
	require.NoError(t, err)
	fftC, err := m.AddConsumer(ConsumerConfig{Surface: fftSurf, Dims: 2, Shape: []int{4, 4}, Update: FFTUpdate(imgSurf)})
	require.NoError(t, err)

	selNav, err := m.AddSelector(SelectorConfig{
		Surface: navSurf, Geometry: PointGeometry{Coords: []int{1, 1}},
		Consumers: []ConsumerID{imgC},
	})
	require.NoError(t, err)
	_, err = m.AddSelector(SelectorConfig{
		Surface: imgSurf, Geometry: PointGeometry{Coords: []int{0, 0}},
		Consumers: []ConsumerID{fftC},
	})
	require.NoError(t, err)

	require.NoError(t, m.UpdateNow(selNav))

	data, state, err := m.ConsumerData(fftC)
	require.NoError(t, err)
	assert.Equal(t, StateApplied, state, "the cascade must reach the derived consumer")
	require.NotNil(t, data.Value)
	require.Equal(t, []int{4, 4}, data.Value.Shape)
	// A constant image concentrates everything in the centered DC bin.
	assert.Equal(t, 16.0, data.Value.At(2, 2))
	assert.Equal(t, 0.0, data.Value.At(0, 0))
}

func TestSelectorSnapshotAccessors(t *testing.T) {
	m := NewManager(ManagerConfig{})
	update := func(mgr *Manager, sel *Selector, c *Consumer, idx *ndarray.IntMatrix) (Data, error) {
		return Data{Value: ndarray.Ones(2, 2)}, nil
	}

	nav := m.AddSurface("nav", []int{8, 8})
	cid, err := m.AddConsumer(ConsumerConfig{Surface: nav, Dims: 2, Shape: []int{2, 2}, Update: update})
	require.NoError(t, err)
	sel, err := m.AddSelector(SelectorConfig{
		Surface: nav, Geometry: PointGeometry{Coords: []int{3, 4}},
		Consumers: []ConsumerID{cid},
	})
	require.NoError(t, err)

	assert.Nil(t, m.SelectorIndices(sel), "nothing dispatched yet")
	require.NoError(t, m.UpdateNow(sel))

	idx := m.SelectorIndices(sel)
	require.NotNil(t, idx)
	assert.Equal(t, []int{3, 4}, idx.Row(0))
	idx.Vals[0] = 99
	assert.Equal(t, []int{3, 4}, m.SelectorIndices(sel).Row(0), "callers get a copy")

	assert.Equal(t, []ConsumerID{cid}, m.SelectorConsumers(sel))
	assert.Nil(t, m.SelectorIndices("missing"))
}

func TestScenarioSupersededFetchNeverLands(t *testing.T) {
	// Full path: dispatch at A, move to B before A resolves, resolve both.
	// The displayed value must be B's, and A's result must count as stale
	// or never be forwarded at all.
	src := &gateSource{release: make(chan struct{})}
	sig, _ := newLazySignal(t, src)

	m := NewManager(ManagerConfig{})
	nav := m.AddSurface("nav", []int{8, 8})
	cid, err := m.AddConsumer(ConsumerConfig{
		Surface: nav, Dims: 2, Shape: []int{2, 2},
		Update: NavigationUpdate(sig),
	})
	require.NoError(t, err)
	sel, err := m.AddSelector(SelectorConfig{
		Surface: nav, Geometry: PointGeometry{Coords: []int{1, 2}},
		Consumers: []ConsumerID{cid},
	})
	require.NoError(t, err)

	require.NoError(t, m.UpdateNow(sel))
	first, _, err := m.ConsumerData(cid)
	require.NoError(t, err)
	require.NotNil(t, first.Future)

	require.NoError(t, m.SetGeometry(sel, PointGeometry{Coords: []int{3, 4}}))
	require.NoError(t, m.UpdateNow(sel))
	second, _, err := m.ConsumerData(cid)
	require.NoError(t, err)
	require.NotNil(t, second.Future)
	require.NotEqual(t, first.Future.ID(), second.Future.ID())

	close(src.release)
	for _, f := range []*dataset.Future{first.Future, second.Future} {
		_, err := f.Result()
		require.NoError(t, err)
	}

	p := NewPoller(m, time.Millisecond, nil)
	p.PollOnce(nil)
	drainEvents(m)

	data, state, err := m.ConsumerData(cid)
	require.NoError(t, err)
	assert.Equal(t, StateApplied, state)
	assert.Equal(t, 34.0, data.Value.Data[0], fmt.Sprintf("displayed value must come from the second fetch, got %v", data.Value.Data[0]))
}
