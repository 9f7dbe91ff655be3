package nav

import (
	"errors"
	"log"
	"sync"
	"time"

	"github.com/CSSFrancis/spyde-sub000/internal/dataset"
	"github.com/CSSFrancis/spyde-sub000/internal/timeutil"
)

// DefaultPollInterval is the sweep period for the result poller.
const DefaultPollInterval = 10 * time.Millisecond

// seenKey identifies one (future, consumer) pairing so a future that stays
// resolved across sweeps is forwarded exactly once per consumer.
type seenKey struct {
	fid      int64
	consumer ConsumerID
}

// Poller sweeps consumers with outstanding futures and forwards resolved
// results to the manager's apply context. It only ever reads future status;
// consumer state is mutated exclusively by the apply context.
type Poller struct {
	mgr      *Manager
	interval time.Duration
	logger   *log.Logger
	clock    timeutil.Clock

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}

	seen map[seenKey]struct{}
}

// NewPoller builds a poller for mgr. interval <= 0 means DefaultPollInterval;
// logger nil means log.Default().
func NewPoller(mgr *Manager, interval time.Duration, logger *log.Logger) *Poller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Poller{
		mgr:      mgr,
		interval: interval,
		logger:   logger,
		clock:    timeutil.RealClock{},
		seen:     map[seenKey]struct{}{},
	}
}

// SetClock swaps the sweep clock, for tests. Call before Run.
func (p *Poller) SetClock(c timeutil.Clock) { p.clock = c }

// Run starts the sweep loop. Calling Run on a running poller is a no-op.
func (p *Poller) Run() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return
	}
	p.running = true
	p.stopCh = make(chan struct{})
	p.doneCh = make(chan struct{})
	go p.loop(p.stopCh, p.doneCh)
}

// Stop shuts the loop down, waits for it to exit, and clears the seen set so
// a later Run starts fresh. Calling Stop on a stopped poller is a no-op.
func (p *Poller) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	close(p.stopCh)
	doneCh := p.doneCh
	p.mu.Unlock()
	<-doneCh

	p.mu.Lock()
	p.seen = map[seenKey]struct{}{}
	p.mu.Unlock()
}

func (p *Poller) loop(stopCh, doneCh chan struct{}) {
	defer close(doneCh)
	ticker := p.clock.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C():
			p.PollOnce(stopCh)
		}
	}
}

// PollOnce runs a single sweep: inspect every consumer with a pending future
// and forward newly resolved results. Exported so tests and single-threaded
// callers can drive the poller without the loop; stopCh may be nil.
func (p *Poller) PollOnce(stopCh chan struct{}) {
	p.mgr.stats.IncrPollSweeps()
	for _, item := range p.pendingFutures() {
		p.inspect(item, stopCh)
	}
}

type pendingItem struct {
	consumer ConsumerID
	fut      *dataset.Future
}

// pendingFutures snapshots the outstanding (consumer, future) pairs under a
// read lock. The snapshot may go stale immediately; the apply context's
// identity check is what makes that harmless.
func (p *Poller) pendingFutures() []pendingItem {
	p.mgr.mu.RLock()
	defer p.mgr.mu.RUnlock()
	var out []pendingItem
	for id, c := range p.mgr.consumers {
		if c.data.Future != nil {
			out = append(out, pendingItem{consumer: id, fut: c.data.Future})
		}
	}
	return out
}

// inspect handles one pending pair. A panic out of one item is contained so
// the rest of the sweep still runs.
func (p *Poller) inspect(item pendingItem, stopCh chan struct{}) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Printf("poller: inspecting consumer %s: panic: %v", item.consumer, r)
		}
	}()

	// The future's identity is read from the snapshot item itself, never
	// from the live consumer, so a concurrent re-dispatch cannot make us
	// pair the old future's value with the new future's ID.
	fid := item.fut.ID()
	if !item.fut.IsDone() {
		return
	}
	key := seenKey{fid: fid, consumer: item.consumer}
	p.mu.Lock()
	if _, dup := p.seen[key]; dup {
		p.mu.Unlock()
		p.mgr.stats.IncrDedupSuppressed()
		return
	}
	p.seen[key] = struct{}{}
	p.mu.Unlock()

	val, err := item.fut.Result()
	if errors.Is(err, dataset.ErrCancelled) {
		p.mgr.stats.IncrCancellations()
		return
	}
	ev := ResolvedEvent{Consumer: item.consumer, FutureID: fid, Value: val, Err: err}
	select {
	case p.mgr.events <- ev:
		p.mgr.stats.IncrEventsEmitted()
	case <-stopCh:
	}
}
