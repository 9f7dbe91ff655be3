// Package nav implements the lazy navigation-to-signal pipeline: translating
// selector geometry into index sets, dispatching asynchronous chunk fetches,
// polling for completed futures, and applying results to display consumers
// while rejecting anything a newer fetch has superseded.
package nav

import (
	"github.com/CSSFrancis/spyde-sub000/internal/dataset"
	"github.com/CSSFrancis/spyde-sub000/internal/ndarray"
)

// ConsumerState names the stages of a consumer's fetch cycle.
type ConsumerState int

const (
	// StateIdle: no data has ever been dispatched.
	StateIdle ConsumerState = iota
	// StateFetchPending: a future is outstanding for this consumer.
	StateFetchPending
	// StateResolving: a resolved event for the current future is being applied.
	StateResolving
	// StateApplied: the displayed value matches the last dispatched fetch.
	StateApplied
)

func (s ConsumerState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateFetchPending:
		return "fetch-pending"
	case StateResolving:
		return "resolving"
	case StateApplied:
		return "applied"
	default:
		return "unknown"
	}
}

// Data is what a consumer currently holds: the last displayed value and, when
// a fetch is in flight, the future whose identity gates result application.
type Data struct {
	Value  *ndarray.Array
	Future *dataset.Future
}

// IsZero reports whether nothing has been displayed or dispatched yet.
func (d Data) IsZero() bool { return d.Value == nil && d.Future == nil }

// Pending reports whether a fetch is outstanding.
func (d Data) Pending() bool { return d.Future != nil }

// RenderFunc is the hook the display layer implements to actually paint a
// consumer's current value (and clear any updating indicator). It is invoked
// from the apply context, never from the poller.
type RenderFunc func(*Consumer)

// UpdateFunc computes new data for a consumer from a selector's index set.
// It must never block on a pending computation: lazy fetches return a Data
// holding a future.
type UpdateFunc func(m *Manager, sel *Selector, c *Consumer, indices *ndarray.IntMatrix) (Data, error)

// Consumer is one display endpoint fed by a selector: a surface plus the
// update function that computes what the surface shows. All fields besides
// the identifiers are owned by the manager's apply context.
type Consumer struct {
	id      ConsumerID
	surface SurfaceID
	dims    int   // displayed dimensionality, 1 or 2
	shape   []int // expected output shape, used for the loading placeholder

	update UpdateFunc
	render RenderFunc

	data  Data
	state ConsumerState

	// Display-layer hints set alongside data changes.
	needsAutoLevel bool
	needsRange     bool
}

// ID returns the consumer's registry identifier.
func (c *Consumer) ID() ConsumerID { return c.id }

// Surface returns the display surface this consumer paints.
func (c *Consumer) Surface() SurfaceID { return c.surface }

// Dims returns the displayed dimensionality (1 or 2).
func (c *Consumer) Dims() int { return c.dims }

// Value returns the last displayed array, which may be a placeholder while a
// fetch is pending.
func (c *Consumer) Value() *ndarray.Array { return c.data.Value }

// State returns the consumer's fetch-cycle state.
func (c *Consumer) State() ConsumerState { return c.state }

// NeedsAutoLevel reports whether the display should re-level on next paint,
// and clears the flag.
func (c *Consumer) NeedsAutoLevel() bool {
	v := c.needsAutoLevel
	c.needsAutoLevel = false
	return v
}

// NeedsRange reports whether the display should re-range on next paint, and
// clears the flag.
func (c *Consumer) NeedsRange() bool {
	v := c.needsRange
	c.needsRange = false
	return v
}

// placeholder synthesizes the loading pattern shown before the first fetch
// resolves: a checkerboard for 2D consumers, ones otherwise.
func (c *Consumer) placeholder() *ndarray.Array {
	shape := c.shape
	if len(shape) == 0 {
		shape = []int{1}
	}
	if c.dims == 2 && len(shape) == 2 {
		return ndarray.Checkerboard(shape...)
	}
	return ndarray.Ones(shape...)
}
