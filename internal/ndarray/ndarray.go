// Package ndarray provides the dense array and integer index containers used
// by the navigation pipeline. Arrays are flat float64 buffers with an explicit
// shape; index matrices are row-lists of integer index tuples.
package ndarray

import (
	"fmt"

	"gonum.org/v1/gonum/floats"
)

// Array is a dense row-major N-dimensional array.
type Array struct {
	Shape []int
	Data  []float64
}

// New returns a zero-filled array with the given shape.
func New(shape ...int) *Array {
	return &Array{Shape: cloneShape(shape), Data: make([]float64, sizeOf(shape))}
}

// Ones returns an array of the given shape filled with 1.
func Ones(shape ...int) *Array {
	a := New(shape...)
	for i := range a.Data {
		a.Data[i] = 1
	}
	return a
}

// FromData wraps an existing buffer. The buffer length must match the shape.
func FromData(data []float64, shape ...int) (*Array, error) {
	if len(data) != sizeOf(shape) {
		return nil, fmt.Errorf("ndarray: data length %d does not match shape %v", len(data), shape)
	}
	return &Array{Shape: cloneShape(shape), Data: data}, nil
}

// Checkerboard returns a ones array with alternating cells zeroed. For 2D
// shapes this is the loading placeholder pattern; other ranks fall back to
// plain ones.
func Checkerboard(shape ...int) *Array {
	a := Ones(shape...)
	if len(shape) != 2 {
		return a
	}
	for r := 0; r < shape[0]; r += 2 {
		for c := 0; c < shape[1]; c += 2 {
			a.Data[r*shape[1]+c] = 0
		}
	}
	return a
}

// Size returns the total number of elements.
func (a *Array) Size() int { return len(a.Data) }

// NDim returns the number of dimensions.
func (a *Array) NDim() int { return len(a.Shape) }

// At returns the element at the given index tuple.
func (a *Array) At(idx ...int) float64 {
	return a.Data[a.flatOffset(idx)]
}

// Set assigns the element at the given index tuple.
func (a *Array) Set(v float64, idx ...int) {
	a.Data[a.flatOffset(idx)] = v
}

// Clone returns a deep copy.
func (a *Array) Clone() *Array {
	out := New(a.Shape...)
	copy(out.Data, a.Data)
	return out
}

// Equal reports whether two arrays have the same shape and contents.
func (a *Array) Equal(b *Array) bool {
	if a == nil || b == nil {
		return a == b
	}
	if !shapeEqual(a.Shape, b.Shape) {
		return false
	}
	return floats.Equal(a.Data, b.Data)
}

// SubSlice returns the sub-array obtained by fixing the leading len(idx)
// dimensions at the given index tuple. The result aliases a's buffer.
func (a *Array) SubSlice(idx ...int) (*Array, error) {
	if len(idx) > len(a.Shape) {
		return nil, fmt.Errorf("ndarray: index rank %d exceeds array rank %d", len(idx), len(a.Shape))
	}
	rest := a.Shape[len(idx):]
	span := sizeOf(rest)
	off := 0
	stride := len(a.Data)
	for d, i := range idx {
		if i < 0 || i >= a.Shape[d] {
			return nil, fmt.Errorf("ndarray: index %d out of range for axis %d (size %d)", i, d, a.Shape[d])
		}
		stride /= a.Shape[d]
		off += i * stride
	}
	return &Array{Shape: cloneShape(rest), Data: a.Data[off : off+span]}, nil
}

// MeanArrays returns the element-wise mean of the given arrays, which must all
// share one shape. An empty input is an error.
func MeanArrays(arrs []*Array) (*Array, error) {
	if len(arrs) == 0 {
		return nil, fmt.Errorf("ndarray: mean of zero arrays")
	}
	out := arrs[0].Clone()
	for _, a := range arrs[1:] {
		if !shapeEqual(a.Shape, out.Shape) {
			return nil, fmt.Errorf("ndarray: shape mismatch %v vs %v", a.Shape, out.Shape)
		}
		floats.Add(out.Data, a.Data)
	}
	floats.Scale(1/float64(len(arrs)), out.Data)
	return out, nil
}

func (a *Array) flatOffset(idx []int) int {
	if len(idx) != len(a.Shape) {
		panic(fmt.Sprintf("ndarray: index rank %d does not match array rank %d", len(idx), len(a.Shape)))
	}
	off := 0
	stride := len(a.Data)
	for d, i := range idx {
		stride /= a.Shape[d]
		off += i * stride
	}
	return off
}

func sizeOf(shape []int) int {
	n := 1
	for _, s := range shape {
		n *= s
	}
	return n
}

func cloneShape(shape []int) []int {
	out := make([]int, len(shape))
	copy(out, shape)
	return out
}

func shapeEqual(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
