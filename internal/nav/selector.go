package nav

import (
	"fmt"
	"time"

	"github.com/CSSFrancis/spyde-sub000/internal/ndarray"
)

// Geometry is a selector's shape descriptor. The pipeline treats it as
// opaque beyond two operations: enumerating the index rows it covers and a
// compact size signature used to detect resizes.
type Geometry interface {
	// IndexRows lists the (possibly out-of-bounds) index tuples the shape
	// covers, one row per tuple.
	IndexRows() (*ndarray.IntMatrix, error)
	// SizeSignature identifies the shape's extent, ignoring position.
	SizeSignature() string
}

// RectGeometry is a 2D rectangular region selection, inclusive of both
// corners. Coordinates may extend past the data bounds mid-drag; clipping
// happens at index-computation time.
type RectGeometry struct {
	X0, Y0 int
	X1, Y1 int
}

func (g RectGeometry) IndexRows() (*ndarray.IntMatrix, error) {
	x0, x1 := orderPair(g.X0, g.X1)
	y0, y1 := orderPair(g.Y0, g.Y1)
	rows := (x1 - x0 + 1) * (y1 - y0 + 1)
	m := ndarray.NewIntMatrix(rows, 2)
	i := 0
	for x := x0; x <= x1; x++ {
		for y := y0; y <= y1; y++ {
			m.Vals[i] = x
			m.Vals[i+1] = y
			i += 2
		}
	}
	return m, nil
}

func (g RectGeometry) SizeSignature() string {
	x0, x1 := orderPair(g.X0, g.X1)
	y0, y1 := orderPair(g.Y0, g.Y1)
	return fmt.Sprintf("rect:%dx%d", x1-x0+1, y1-y0+1)
}

// PointGeometry is a crosshair selection of a single index tuple.
type PointGeometry struct {
	Coords []int
}

func (g PointGeometry) IndexRows() (*ndarray.IntMatrix, error) {
	if len(g.Coords) == 0 {
		return &ndarray.IntMatrix{}, nil
	}
	return ndarray.IndexRows(g.Coords)
}

func (g PointGeometry) SizeSignature() string { return "point" }

// SpanGeometry is a 1D region selection over [Lo, Hi], inclusive.
type SpanGeometry struct {
	Lo, Hi int
}

func (g SpanGeometry) IndexRows() (*ndarray.IntMatrix, error) {
	lo, hi := orderPair(g.Lo, g.Hi)
	m := ndarray.NewIntMatrix(hi-lo+1, 1)
	for i := lo; i <= hi; i++ {
		m.Vals[i-lo] = i
	}
	return m, nil
}

func (g SpanGeometry) SizeSignature() string {
	lo, hi := orderPair(g.Lo, g.Hi)
	return fmt.Sprintf("span:%d", hi-lo+1)
}

func orderPair(a, b int) (int, int) {
	if a > b {
		return b, a
	}
	return a, b
}

// Selector is a user-adjustable region of interest drawn on one surface and
// feeding one or more consumers. Geometry and index state are owned by the
// manager's apply context; the debounce timer is guarded separately so raw
// drag ticks can arrive from any goroutine.
type Selector struct {
	id      SelectorID
	surface SurfaceID

	geom        Geometry
	integrating bool
	multi       bool

	consumers []ConsumerID
	linked    []SelectorID

	currentIndices *ndarray.IntMatrix
	lastSizeSig    string

	delay time.Duration
	timer *time.Timer
}

// The accessors below read state owned by the manager's apply context. They
// are safe from update functions, render hooks and tasks posted to the
// manager; any other goroutine must go through the Manager's Selector*
// methods, which take the registry lock.

// ID returns the selector's registry identifier.
func (s *Selector) ID() SelectorID { return s.id }

// Surface returns the surface the selector is drawn on.
func (s *Selector) Surface() SurfaceID { return s.surface }

// Geometry returns the current shape descriptor.
func (s *Selector) Geometry() Geometry { return s.geom }

// IsIntegrating reports whether the selection aggregates its full extent
// rather than collapsing to a representative point.
func (s *Selector) IsIntegrating() bool { return s.integrating }

// Consumers returns the consumer fan-out in registration order.
func (s *Selector) Consumers() []ConsumerID {
	out := make([]ConsumerID, len(s.consumers))
	copy(out, s.consumers)
	return out
}

// CurrentIndices returns the last-dispatched index set, or nil.
func (s *Selector) CurrentIndices() *ndarray.IntMatrix {
	return s.currentIndices.Clone()
}
