package ndarray

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"
)

// IntMatrix is a row-major matrix of integer index tuples. Each row is one
// index tuple; each column is one axis.
type IntMatrix struct {
	Rows, Cols int
	Vals       []int
}

// NewIntMatrix returns a zeroed Rows x Cols matrix.
func NewIntMatrix(rows, cols int) *IntMatrix {
	return &IntMatrix{Rows: rows, Cols: cols, Vals: make([]int, rows*cols)}
}

// IndexRows builds a matrix from explicit rows. All rows must share a width.
func IndexRows(rows ...[]int) (*IntMatrix, error) {
	if len(rows) == 0 {
		return &IntMatrix{}, nil
	}
	cols := len(rows[0])
	m := NewIntMatrix(len(rows), cols)
	for r, row := range rows {
		if len(row) != cols {
			return nil, fmt.Errorf("ndarray: ragged index rows (%d vs %d)", len(row), cols)
		}
		copy(m.Vals[r*cols:(r+1)*cols], row)
	}
	return m, nil
}

// At returns the element at row r, column c.
func (m *IntMatrix) At(r, c int) int { return m.Vals[r*m.Cols+c] }

// Row returns row r. The slice aliases the matrix buffer.
func (m *IntMatrix) Row(r int) []int { return m.Vals[r*m.Cols : (r+1)*m.Cols] }

// IsEmpty reports whether the matrix holds no index tuples.
func (m *IntMatrix) IsEmpty() bool { return m == nil || m.Rows == 0 || m.Cols == 0 }

// Clone returns a deep copy.
func (m *IntMatrix) Clone() *IntMatrix {
	if m == nil {
		return nil
	}
	out := NewIntMatrix(m.Rows, m.Cols)
	copy(out.Vals, m.Vals)
	return out
}

// EqualInt reports whether two index matrices are element-wise equal.
// Nil matrices compare equal only to nil.
func EqualInt(a, b *IntMatrix) bool {
	if a == nil || b == nil {
		return a == b
	}
	if a.Rows != b.Rows || a.Cols != b.Cols {
		return false
	}
	for i := range a.Vals {
		if a.Vals[i] != b.Vals[i] {
			return false
		}
	}
	return true
}

// BroadcastRowsCartesian combines index matrices by the row-wise cartesian
// product, keeping the columns of each input together. Each input is (Ni x Ci);
// the output is (prod(Ni) x sum(Ci)), rows ordered with the first input varying
// slowest. Zero inputs yield an empty matrix.
func BroadcastRowsCartesian(mats ...*IntMatrix) *IntMatrix {
	if len(mats) == 0 {
		return &IntMatrix{}
	}
	totalRows := 1
	totalCols := 0
	for _, m := range mats {
		totalRows *= m.Rows
		totalCols += m.Cols
	}
	out := NewIntMatrix(totalRows, totalCols)
	if totalRows == 0 || totalCols == 0 {
		return out
	}
	// repeat counts how many consecutive output rows share one input row.
	repeat := totalRows
	colOff := 0
	for _, m := range mats {
		repeat /= m.Rows
		for r := 0; r < totalRows; r++ {
			src := m.Row((r / repeat) % m.Rows)
			copy(out.Vals[r*totalCols+colOff:r*totalCols+colOff+m.Cols], src)
		}
		colOff += m.Cols
	}
	return out
}

// ClipColumns clamps every element of column c into [0, bounds[c]-1]. The
// matrix must not be wider than bounds.
func ClipColumns(m *IntMatrix, bounds []int) (*IntMatrix, error) {
	if m.IsEmpty() {
		return m.Clone(), nil
	}
	if m.Cols > len(bounds) {
		return nil, fmt.Errorf("ndarray: %d index columns exceed %d bounded axes", m.Cols, len(bounds))
	}
	out := m.Clone()
	for r := 0; r < out.Rows; r++ {
		for c := 0; c < out.Cols; c++ {
			v := out.At(r, c)
			if v < 0 {
				v = 0
			}
			if max := bounds[c] - 1; v > max {
				v = max
			}
			out.Vals[r*out.Cols+c] = v
		}
	}
	return out, nil
}

// CollapseMean reduces an index matrix to a single representative row: the
// column-wise arithmetic mean rounded to the nearest integer. This is the
// crosshair ("live") degenerate form of a region selection.
func CollapseMean(m *IntMatrix) *IntMatrix {
	if m.IsEmpty() {
		return &IntMatrix{}
	}
	out := NewIntMatrix(1, m.Cols)
	col := make([]float64, m.Rows)
	for c := 0; c < m.Cols; c++ {
		for r := 0; r < m.Rows; r++ {
			col[r] = float64(m.At(r, c))
		}
		out.Vals[c] = int(math.Round(stat.Mean(col, nil)))
	}
	return out
}
