package nav

import (
	"errors"

	"github.com/CSSFrancis/spyde-sub000/internal/dataset"
	"github.com/CSSFrancis/spyde-sub000/internal/ndarray"
)

// updateSelector recomputes a selector's index set and dispatches it to the
// selector's fan-out, then cascades to selectors drawn on the fed surfaces.
//
// When force is false an index set equal to the last dispatched one is
// dropped without touching any consumer. Cascaded updates always force:
// the downstream selector's own geometry is unchanged but the data it derives
// from has moved under it.
//
// The selector's currentIndices advance only when at least one consumer
// accepted the dispatch (or the fan-out is empty), so a fully failed dispatch
// stays retryable.
//
// Caller holds m.mu and runs on the apply context.
func (m *Manager) updateSelector(sel *Selector, force, updateContrast bool) {
	m.updateSelectorChain(sel, force, updateContrast, map[SelectorID]struct{}{})
}

// updateSelectorChain is updateSelector with a visited set. A cascade visits
// each selector at most once, so mutually-fed surfaces (A on s1 feeding a
// consumer on s2 while B on s2 feeds one on s1) settle in a single pass
// instead of recursing through the forced path forever.
func (m *Manager) updateSelectorChain(sel *Selector, force, updateContrast bool, seen map[SelectorID]struct{}) {
	if _, ok := seen[sel.id]; ok {
		return
	}
	seen[sel.id] = struct{}{}
	indices, err := m.computeIndices(sel)
	if err != nil {
		m.logger.Printf("selector %s: computing indices: %v", sel.id, err)
		return
	}
	if indices.IsEmpty() {
		return
	}
	if !force && ndarray.EqualInt(indices, sel.currentIndices) {
		return
	}

	// A resize changes the aggregate's dynamic range even at the same
	// position, so the display must re-range.
	if sig := sel.geom.SizeSignature(); sig != sel.lastSizeSig {
		sel.lastSizeSig = sig
		updateContrast = true
	}

	delivered := 0
	for _, cid := range sel.consumers {
		c := m.consumers[cid]
		if c == nil {
			continue
		}
		if m.deliver(sel, c, indices, force, updateContrast) {
			delivered++
		}
	}
	if delivered > 0 || len(sel.consumers) == 0 {
		sel.currentIndices = indices.Clone()
	}

	for _, cid := range sel.consumers {
		c := m.consumers[cid]
		if c == nil {
			continue
		}
		for _, next := range m.selectorsOnSurface(c.surface) {
			m.updateSelectorChain(next, true, updateContrast, seen)
		}
	}
}

// deliver runs one consumer's update function and routes the result: direct
// values apply immediately, futures either block (forced) or go pending for
// the poller. Reports whether the consumer accepted the dispatch.
func (m *Manager) deliver(sel *Selector, c *Consumer, indices *ndarray.IntMatrix, force, updateContrast bool) bool {
	data, err := c.update(m, sel, c, indices)
	if err != nil {
		m.stats.IncrFetchErrors()
		m.logger.Printf("consumer %s: update failed: %v", c.id, err)
		return false
	}
	if data.IsZero() {
		return true
	}

	if data.Future == nil {
		m.applyValue(c, data.Value, updateContrast)
		return true
	}

	m.stats.IncrFetchesIssued()
	if force {
		// Forced updates resolve inline so the caller observes the final
		// value on return. A cancelled fetch is a no-op, not an error.
		val, err := data.Future.Result()
		if err != nil {
			if errors.Is(err, dataset.ErrCancelled) {
				m.stats.IncrCancellations()
				return true
			}
			m.stats.IncrFetchErrors()
			m.logger.Printf("consumer %s: forced fetch failed: %v", c.id, err)
			return false
		}
		m.applyValue(c, val, updateContrast)
		return true
	}

	// Superseding an in-flight future: the poller's identity check will
	// drop the old result when it lands.
	c.data.Future = data.Future
	c.state = StateFetchPending
	if c.data.Value == nil {
		c.data.Value = c.placeholder()
		m.stats.IncrPlaceholders()
		m.queueRender(c)
	}
	return true
}

// applyValue installs a resolved value on a consumer and queues its render.
// Caller holds m.mu and runs on the apply context.
func (m *Manager) applyValue(c *Consumer, val *ndarray.Array, updateContrast bool) {
	c.data = Data{Value: val}
	c.state = StateApplied
	if updateContrast {
		c.needsAutoLevel = true
		c.needsRange = true
	}
	m.stats.IncrApplied()
	m.queueRender(c)
}

// queueRender schedules the consumer's render hook. Renders run on the apply
// context after the registry lock is released so hooks may call back into the
// manager. Caller holds m.mu.
func (m *Manager) queueRender(c *Consumer) {
	if c.render == nil {
		return
	}
	render, consumer := c.render, c
	m.pendingRenders = append(m.pendingRenders, func() { render(consumer) })
}
