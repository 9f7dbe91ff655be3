package nav

import (
	"errors"

	"github.com/CSSFrancis/spyde-sub000/internal/ndarray"
)

// ResolvedEvent carries one completed fetch from the poller to the apply
// context. FutureID is the identity of the future that produced the value;
// it is checked against the consumer's current future before anything is
// applied, so results from superseded fetches die here.
type ResolvedEvent struct {
	Consumer ConsumerID
	FutureID int64
	Value    *ndarray.Array
	Err      error
}

// Run starts the apply context: the single goroutine that executes posted
// tasks and applies resolved events. Calling Run on a running manager is a
// no-op.
func (m *Manager) Run() {
	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()
	if m.running {
		return
	}
	m.running = true
	m.stopCh = make(chan struct{})
	m.doneCh = make(chan struct{})
	go m.loop(m.stopCh, m.doneCh)
}

// Stop shuts the apply context down and waits for it to exit. Calling Stop
// on a stopped manager is a no-op.
func (m *Manager) Stop() {
	m.lifecycle.Lock()
	if !m.running {
		m.lifecycle.Unlock()
		return
	}
	m.running = false
	close(m.stopCh)
	doneCh := m.doneCh
	m.lifecycle.Unlock()
	<-doneCh
}

func (m *Manager) loop(stopCh, doneCh chan struct{}) {
	defer close(doneCh)
	for {
		select {
		case <-stopCh:
			// Final drain so tasks accepted just before Stop still run.
			for {
				select {
				case fn := <-m.tasks:
					m.runTask(fn)
				default:
					return
				}
			}
		case fn := <-m.tasks:
			m.runTask(fn)
		case ev := <-m.events:
			m.runTask(func() { m.applyResolved(ev) })
		}
	}
}

// post hands fn to the apply context and reports whether it was accepted.
// When the manager is not running the task executes inline on the caller,
// which keeps programmatic use (setup code, tests) free of lifecycle
// ceremony. A task refused by a concurrent Stop reports false.
func (m *Manager) post(fn func()) bool {
	m.lifecycle.Lock()
	running := m.running
	stopCh := m.stopCh
	m.lifecycle.Unlock()
	if !running {
		m.runTask(fn)
		return true
	}
	select {
	case m.tasks <- fn:
		return true
	case <-stopCh:
		return false
	}
}

// postWait is post plus completion: it blocks until fn has run and returns
// its error. Must not be called from the apply context itself (a render or
// update hook), which would deadlock.
func (m *Manager) postWait(fn func() error) error {
	var err error
	done := make(chan struct{})
	if !m.post(func() {
		defer close(done)
		err = fn()
	}) {
		return errors.New("nav: manager stopped")
	}
	<-done
	return err
}

// runTask executes one task under the registry lock, then flushes the
// renders it queued. Renders run unlocked so display hooks may call back
// into the manager.
func (m *Manager) runTask(fn func()) {
	m.mu.Lock()
	fn()
	renders := m.pendingRenders
	m.pendingRenders = nil
	m.mu.Unlock()
	for _, r := range renders {
		r()
	}
}

// applyResolved is the stale-result guard. The identity check runs before
// anything else: a result whose future is no longer the consumer's current
// future belongs to a superseded fetch and is dropped without side effects.
// Caller holds m.mu on the apply context.
func (m *Manager) applyResolved(ev ResolvedEvent) {
	c := m.consumers[ev.Consumer]
	if c == nil || c.data.Future == nil || c.data.Future.ID() != ev.FutureID {
		m.stats.IncrStaleDrops()
		return
	}
	if ev.Err != nil {
		// The fetch itself failed; keep whatever the consumer last showed.
		m.stats.IncrFetchErrors()
		m.logger.Printf("consumer %s: fetch failed: %v", c.id, ev.Err)
		return
	}
	c.state = StateResolving
	m.applyValue(c, ev.Value, false)
}
