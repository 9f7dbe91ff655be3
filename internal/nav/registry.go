package nav

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/CSSFrancis/spyde-sub000/internal/ndarray"
)

// Registry identifiers. Cross-references between surfaces, selectors and
// consumers are ID lookups into the owning manager, never raw pointers, so
// teardown order stays explicit and no reference cycles form.
type (
	SurfaceID  string
	SelectorID string
	ConsumerID string
)

// Surface is a display surface record: the bounds selectors drawn on it are
// clipped against, the selector feeding it (if any), and the consumer
// painting it (if any).
type Surface struct {
	id     SurfaceID
	name   string
	bounds []int

	// parentSelector is the selector whose fetches feed this surface.
	// Walking surface -> parent selector -> that selector's surface yields
	// the upstream chain.
	parentSelector SelectorID
	// consumer is the consumer painting this surface, used by update
	// functions that derive from the parent surface's displayed data.
	consumer ConsumerID
}

// ID returns the surface's registry identifier.
func (s *Surface) ID() SurfaceID { return s.id }

// Name returns the display name.
func (s *Surface) Name() string { return s.name }

// Bounds returns the per-axis sizes selections on this surface clip to.
func (s *Surface) Bounds() []int {
	out := make([]int, len(s.bounds))
	copy(out, s.bounds)
	return out
}

// DefaultDebounceDelay coalesces raw drag ticks before a fetch is issued.
const DefaultDebounceDelay = 2 * time.Millisecond

// ManagerConfig configures a pipeline manager.
type ManagerConfig struct {
	// DebounceDelay is the quiescent interval after the last selector move
	// before the update path runs. 0 means DefaultDebounceDelay.
	DebounceDelay time.Duration
	// EventBuffer sizes the resolved-event channel. 0 means 64.
	EventBuffer int
	// Logger is optional; if nil, uses log.Default().
	Logger *log.Logger
}

// Manager owns every surface, selector and consumer by ID and runs the apply
// context: the single goroutine on which all consumer and selector state is
// mutated. The poller only reads future status and hands values off through
// the resolved-event channel.
type Manager struct {
	logger *log.Logger
	stats  *PipelineStats

	mu        sync.RWMutex
	surfaces  map[SurfaceID]*Surface
	selectors map[SelectorID]*Selector
	consumers map[ConsumerID]*Consumer

	delay time.Duration

	events chan ResolvedEvent
	tasks  chan func()

	// renders queued under mu, flushed by the apply context after unlock so
	// display hooks can call back into the manager.
	pendingRenders []func()

	lifecycle sync.Mutex
	running   bool
	stopCh    chan struct{}
	doneCh    chan struct{}
}

// NewManager builds an empty registry.
func NewManager(cfg ManagerConfig) *Manager {
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}
	delay := cfg.DebounceDelay
	if delay <= 0 {
		delay = DefaultDebounceDelay
	}
	buf := cfg.EventBuffer
	if buf <= 0 {
		buf = 64
	}
	return &Manager{
		logger:    logger,
		stats:     &PipelineStats{},
		surfaces:  map[SurfaceID]*Surface{},
		selectors: map[SelectorID]*Selector{},
		consumers: map[ConsumerID]*Consumer{},
		delay:     delay,
		events:    make(chan ResolvedEvent, buf),
		tasks:     make(chan func(), buf),
	}
}

// Stats returns the pipeline counters.
func (m *Manager) Stats() *PipelineStats { return m.stats }

// AddSurface registers a display surface. Bounds are the per-axis sizes that
// selections drawn on the surface are clipped against.
func (m *Manager) AddSurface(name string, bounds []int) SurfaceID {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := SurfaceID(uuid.NewString())
	b := make([]int, len(bounds))
	copy(b, bounds)
	m.surfaces[id] = &Surface{id: id, name: name, bounds: b}
	return id
}

// SurfaceByID returns the surface record, or nil.
func (m *Manager) SurfaceByID(id SurfaceID) *Surface {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.surfaces[id]
}

// ConsumerConfig describes a new consumer endpoint.
type ConsumerConfig struct {
	// Surface is the display surface the consumer paints.
	Surface SurfaceID
	// Dims is the displayed dimensionality, 1 or 2.
	Dims int
	// Shape is the expected output shape, used for the loading placeholder.
	Shape []int
	// Update computes the consumer's data from a selector's indices.
	Update UpdateFunc
	// Render is the display hook; may be nil.
	Render RenderFunc
}

// AddConsumer registers a consumer endpoint on a surface.
func (m *Manager) AddConsumer(cfg ConsumerConfig) (ConsumerID, error) {
	if cfg.Dims != 1 && cfg.Dims != 2 {
		return "", fmt.Errorf("nav: consumer dimensionality must be 1 or 2, got %d", cfg.Dims)
	}
	if cfg.Update == nil {
		return "", fmt.Errorf("nav: consumer needs an update function")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	surf := m.surfaces[cfg.Surface]
	if surf == nil {
		return "", fmt.Errorf("nav: unknown surface %s", cfg.Surface)
	}
	id := ConsumerID(uuid.NewString())
	shape := make([]int, len(cfg.Shape))
	copy(shape, cfg.Shape)
	m.consumers[id] = &Consumer{
		id:      id,
		surface: cfg.Surface,
		dims:    cfg.Dims,
		shape:   shape,
		update:  cfg.Update,
		render:  cfg.Render,
		state:   StateIdle,
	}
	surf.consumer = id
	return id, nil
}

// ConsumerByID returns the consumer record, or nil.
func (m *Manager) ConsumerByID(id ConsumerID) *Consumer {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.consumers[id]
}

// ConsumerData returns a consumer's current data and state.
func (m *Manager) ConsumerData(id ConsumerID) (Data, ConsumerState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c := m.consumers[id]
	if c == nil {
		return Data{}, StateIdle, fmt.Errorf("nav: unknown consumer %s", id)
	}
	return c.data, c.state, nil
}

// SelectorConfig describes a new selector.
type SelectorConfig struct {
	// Surface is the surface the selector is drawn on.
	Surface SurfaceID
	// Geometry is the initial shape.
	Geometry Geometry
	// Integrating selects aggregation over the full extent; false collapses
	// the selection to its representative point.
	Integrating bool
	// Multi combines this selector's indices with its upstream chain.
	Multi bool
	// Consumers is the fan-out fed by this selector.
	Consumers []ConsumerID
	// Delay overrides the manager's debounce delay when > 0.
	Delay time.Duration
}

// AddSelector registers a selector and marks it as the parent of every
// consumer's surface, which is what links nested navigation levels together.
func (m *Manager) AddSelector(cfg SelectorConfig) (SelectorID, error) {
	if cfg.Geometry == nil {
		return "", fmt.Errorf("nav: selector needs a geometry")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.surfaces[cfg.Surface] == nil {
		return "", fmt.Errorf("nav: unknown surface %s", cfg.Surface)
	}
	for _, cid := range cfg.Consumers {
		if m.consumers[cid] == nil {
			return "", fmt.Errorf("nav: unknown consumer %s", cid)
		}
	}
	id := SelectorID(uuid.NewString())
	delay := cfg.Delay
	if delay <= 0 {
		delay = m.delay
	}
	sel := &Selector{
		id:          id,
		surface:     cfg.Surface,
		geom:        cfg.Geometry,
		integrating: cfg.Integrating,
		multi:       cfg.Multi,
		consumers:   append([]ConsumerID{}, cfg.Consumers...),
		delay:       delay,
	}
	m.selectors[id] = sel
	for _, cid := range cfg.Consumers {
		m.surfaces[m.consumers[cid].surface].parentSelector = id
	}
	return id, nil
}

// SelectorByID returns the selector record, or nil. The record's accessors
// read apply-context-owned state; callers on other goroutines should use
// SelectorIndices and SelectorConsumers instead.
func (m *Manager) SelectorByID(id SelectorID) *Selector {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.selectors[id]
}

// SelectorIndices returns a copy of the selector's last-dispatched index set,
// or nil. Safe from any goroutine.
func (m *Manager) SelectorIndices(id SelectorID) *ndarray.IntMatrix {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sel := m.selectors[id]
	if sel == nil {
		return nil
	}
	return sel.currentIndices.Clone()
}

// SelectorConsumers returns a copy of the selector's fan-out. Safe from any
// goroutine.
func (m *Manager) SelectorConsumers(id SelectorID) []ConsumerID {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sel := m.selectors[id]
	if sel == nil {
		return nil
	}
	out := make([]ConsumerID, len(sel.consumers))
	copy(out, sel.consumers)
	return out
}

// LinkSelectors records b as a linked companion of a (a cloned ROI shown on
// another surface). Companions are closed together.
func (m *Manager) LinkSelectors(a, b SelectorID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	sa, sb := m.selectors[a], m.selectors[b]
	if sa == nil || sb == nil {
		return fmt.Errorf("nav: unknown selector in link %s -> %s", a, b)
	}
	sa.linked = append(sa.linked, b)
	sb.linked = append(sb.linked, a)
	return nil
}

// UpstreamChain returns the selectors feeding sel's surface, nearest first.
func (m *Manager) UpstreamChain(id SelectorID) []*Selector {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sel := m.selectors[id]
	if sel == nil {
		return nil
	}
	return m.upstreamChain(sel)
}

// upstreamChain walks surface -> parent selector -> its surface, stopping at
// the first selector already visited so a cyclic graph yields a finite chain.
// Caller holds mu.
func (m *Manager) upstreamChain(sel *Selector) []*Selector {
	var out []*Selector
	seen := map[SelectorID]struct{}{sel.id: {}}
	cur := m.surfaces[sel.surface]
	for cur != nil && cur.parentSelector != "" {
		parent := m.selectors[cur.parentSelector]
		if parent == nil {
			break
		}
		if _, ok := seen[parent.id]; ok {
			break
		}
		seen[parent.id] = struct{}{}
		out = append(out, parent)
		cur = m.surfaces[parent.surface]
	}
	return out
}

// DownstreamConsumers returns every consumer reachable from sel: its direct
// fan-out plus the fan-out of selectors chained off those consumers' surfaces.
func (m *Manager) DownstreamConsumers(id SelectorID) map[ConsumerID]struct{} {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := map[ConsumerID]struct{}{}
	sel := m.selectors[id]
	if sel == nil {
		return out
	}
	m.collectDownstream(sel, out, map[SelectorID]struct{}{})
	return out
}

func (m *Manager) collectDownstream(sel *Selector, out map[ConsumerID]struct{}, seen map[SelectorID]struct{}) {
	if _, ok := seen[sel.id]; ok {
		return
	}
	seen[sel.id] = struct{}{}
	for _, cid := range sel.consumers {
		c := m.consumers[cid]
		if c == nil {
			continue
		}
		out[cid] = struct{}{}
		for _, next := range m.selectorsOnSurface(c.surface) {
			m.collectDownstream(next, out, seen)
		}
	}
}

// selectorsOnSurface lists selectors drawn on a surface. Caller holds mu.
func (m *Manager) selectorsOnSurface(id SurfaceID) []*Selector {
	var out []*Selector
	for _, s := range m.selectors {
		if s.surface == id {
			out = append(out, s)
		}
	}
	return out
}

// CloseSelector removes a selector and its linked companions, detaching any
// surfaces that referenced it as their parent.
func (m *Manager) CloseSelector(id SelectorID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closeSelector(id, map[SelectorID]struct{}{})
}

func (m *Manager) closeSelector(id SelectorID, seen map[SelectorID]struct{}) {
	if _, ok := seen[id]; ok {
		return
	}
	seen[id] = struct{}{}
	sel := m.selectors[id]
	if sel == nil {
		return
	}
	if sel.timer != nil {
		sel.timer.Stop()
	}
	for _, surf := range m.surfaces {
		if surf.parentSelector == id {
			surf.parentSelector = ""
		}
	}
	delete(m.selectors, id)
	for _, linked := range sel.linked {
		m.closeSelector(linked, seen)
	}
}

// CloseSurface removes a surface together with its consumers and the
// selectors drawn on it (and their linked companions).
func (m *Manager) CloseSurface(id SurfaceID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	surf := m.surfaces[id]
	if surf == nil {
		return
	}
	seen := map[SelectorID]struct{}{}
	for _, sel := range m.selectorsOnSurface(id) {
		m.closeSelector(sel.id, seen)
	}
	for cid, c := range m.consumers {
		if c.surface != id {
			continue
		}
		delete(m.consumers, cid)
		for _, sel := range m.selectors {
			sel.consumers = removeConsumer(sel.consumers, cid)
		}
	}
	delete(m.surfaces, id)
}

func removeConsumer(list []ConsumerID, id ConsumerID) []ConsumerID {
	out := list[:0]
	for _, c := range list {
		if c != id {
			out = append(out, c)
		}
	}
	return out
}
