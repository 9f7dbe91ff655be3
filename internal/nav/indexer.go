package nav

import (
	"fmt"

	"github.com/CSSFrancis/spyde-sub000/internal/ndarray"
)

// ComputeIndices maps a selector's on-screen geometry to the full index rows
// used to slice the underlying dataset.
//
// The local rows are the geometry's enumeration clipped to the selector
// surface's bounds. When the selector combines with its upstream chain, the
// chain's local rows (nearest first) are prepended and the cartesian product
// across all levels is taken, so every combination of upstream position and
// local position appears once, with the nearest upstream level varying
// slowest. A non-integrating selector is then collapsed to its representative
// point: the per-column rounded mean of the rows.
//
// Caller holds m.mu.
func (m *Manager) computeIndices(sel *Selector) (*ndarray.IntMatrix, error) {
	local, err := m.localIndices(sel)
	if err != nil {
		return nil, err
	}
	rows := local
	if sel.multi {
		chain := m.upstreamChain(sel)
		inputs := make([]*ndarray.IntMatrix, 0, len(chain)+1)
		for _, up := range chain {
			upLocal, err := m.localIndices(up)
			if err != nil {
				return nil, fmt.Errorf("upstream selector %s: %w", up.id, err)
			}
			inputs = append(inputs, upLocal)
		}
		inputs = append(inputs, local)
		rows = ndarray.BroadcastRowsCartesian(inputs...)
	}
	if !sel.integrating && !rows.IsEmpty() {
		return ndarray.CollapseMean(rows), nil
	}
	return rows, nil
}

// localIndices enumerates sel's geometry clipped to its surface bounds.
// Caller holds m.mu.
func (m *Manager) localIndices(sel *Selector) (*ndarray.IntMatrix, error) {
	rows, err := sel.geom.IndexRows()
	if err != nil {
		return nil, err
	}
	if rows.IsEmpty() {
		return rows, nil
	}
	surf := m.surfaces[sel.surface]
	if surf == nil {
		return nil, fmt.Errorf("nav: selector %s has no surface", sel.id)
	}
	return ndarray.ClipColumns(rows, surf.bounds)
}

// ComputeIndices is the exported form for callers outside the apply context.
func (m *Manager) ComputeIndices(id SelectorID) (*ndarray.IntMatrix, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sel := m.selectors[id]
	if sel == nil {
		return nil, fmt.Errorf("nav: unknown selector %s", id)
	}
	return m.computeIndices(sel)
}
