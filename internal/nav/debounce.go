package nav

import (
	"fmt"
	"time"
)

// SetGeometry replaces a selector's geometry and schedules a debounced
// update. Raw drag ticks arrive here; only the last position within the
// debounce window reaches the fetch path.
func (m *Manager) SetGeometry(id SelectorID, g Geometry) error {
	if g == nil {
		return fmt.Errorf("nav: nil geometry for selector %s", id)
	}
	m.mu.Lock()
	sel := m.selectors[id]
	if sel == nil {
		m.mu.Unlock()
		return fmt.Errorf("nav: unknown selector %s", id)
	}
	sel.geom = g
	m.scheduleUpdate(sel)
	m.mu.Unlock()
	return nil
}

// MoveSelector is SetGeometry for callers that already hold the new shape;
// kept separate for readability at call sites driving interactive drags.
func (m *Manager) MoveSelector(id SelectorID, g Geometry) error {
	return m.SetGeometry(id, g)
}

// scheduleUpdate restarts the selector's single-shot debounce timer. Each
// call supersedes the previous pending fire, so a burst of geometry changes
// produces exactly one update after the burst goes quiet. Caller holds m.mu.
func (m *Manager) scheduleUpdate(sel *Selector) {
	id := sel.id
	if sel.timer != nil {
		sel.timer.Stop()
	}
	sel.timer = time.AfterFunc(sel.delay, func() {
		m.stats.IncrDebounceFires()
		m.post(func() {
			if sel := m.selectors[id]; sel != nil {
				m.updateSelector(sel, false, false)
			}
		})
	})
}

// ForceUpdate bypasses the debounce timer and the unchanged-indices check,
// re-dispatching the selector immediately on the apply context. It blocks
// until the update (including any inline-resolved fetches) completes.
func (m *Manager) ForceUpdate(id SelectorID, updateContrast bool) error {
	return m.postWait(func() error {
		sel := m.selectors[id]
		if sel == nil {
			return fmt.Errorf("nav: unknown selector %s", id)
		}
		if sel.timer != nil {
			sel.timer.Stop()
		}
		m.updateSelector(sel, true, updateContrast)
		return nil
	})
}

// UpdateNow dispatches the selector immediately, keeping the
// unchanged-indices suppression. Used after programmatic geometry changes
// where the debounce window would only add latency.
func (m *Manager) UpdateNow(id SelectorID) error {
	return m.postWait(func() error {
		sel := m.selectors[id]
		if sel == nil {
			return fmt.Errorf("nav: unknown selector %s", id)
		}
		if sel.timer != nil {
			sel.timer.Stop()
		}
		m.updateSelector(sel, false, false)
		return nil
	})
}
