package nav

import (
	"fmt"

	"github.com/CSSFrancis/spyde-sub000/internal/dataset"
	"github.com/CSSFrancis/spyde-sub000/internal/ndarray"
)

// NavigationUpdate builds the standard update function: slice the signal at
// the selector's indices. Materialized signals answer synchronously; lazy
// signals return a future so the fetch runs off the apply context.
func NavigationUpdate(sig *dataset.Signal) UpdateFunc {
	return func(m *Manager, sel *Selector, c *Consumer, indices *ndarray.IntMatrix) (Data, error) {
		if !sig.IsLazy() {
			val, err := sig.Slice(indices)
			if err != nil {
				return Data{}, err
			}
			return Data{Value: val}, nil
		}
		val, fut, err := sig.GetChunk(indices, true)
		if err != nil {
			return Data{}, err
		}
		if val != nil {
			return Data{Value: val}, nil
		}
		return Data{Future: fut}, nil
	}
}

// FFTUpdate derives the consumer's data from the parent surface's displayed
// image: the shifted power spectrum of whatever the parent consumer currently
// shows. It never fetches; if the parent has nothing applied yet the update
// reports that and the consumer keeps its previous data.
func FFTUpdate(parent SurfaceID) UpdateFunc {
	return func(m *Manager, sel *Selector, c *Consumer, indices *ndarray.IntMatrix) (Data, error) {
		surf := m.surfaces[parent]
		if surf == nil {
			return Data{}, fmt.Errorf("nav: unknown parent surface %s", parent)
		}
		pc := m.consumers[surf.consumer]
		if pc == nil || pc.data.Value == nil {
			return Data{}, fmt.Errorf("nav: parent surface %s has no applied data", parent)
		}
		mag, err := ndarray.FFT2Mag(pc.data.Value)
		if err != nil {
			return Data{}, err
		}
		return Data{Value: mag}, nil
	}
}

// NoOpUpdate ignores the indices and returns empty data. Useful for surfaces
// whose content is driven externally.
func NoOpUpdate() UpdateFunc {
	return func(m *Manager, sel *Selector, c *Consumer, indices *ndarray.IntMatrix) (Data, error) {
		return Data{}, nil
	}
}
