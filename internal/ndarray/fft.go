package ndarray

import (
	"fmt"
	"math/cmplx"

	"gonum.org/v1/gonum/dsp/fourier"
)

// FFT2Mag returns the centered magnitude spectrum of a 2D array: a full 2D
// DFT with the zero-frequency component shifted to the middle.
func FFT2Mag(a *Array) (*Array, error) {
	if a.NDim() != 2 {
		return nil, fmt.Errorf("ndarray: FFT2Mag requires a 2D array, got rank %d", a.NDim())
	}
	rows, cols := a.Shape[0], a.Shape[1]
	work := make([]complex128, rows*cols)
	for i, v := range a.Data {
		work[i] = complex(v, 0)
	}

	// Transform rows, then columns.
	rowFFT := fourier.NewCmplxFFT(cols)
	buf := make([]complex128, cols)
	for r := 0; r < rows; r++ {
		row := work[r*cols : (r+1)*cols]
		copy(buf, row)
		rowFFT.Coefficients(row, buf)
	}
	colFFT := fourier.NewCmplxFFT(rows)
	colIn := make([]complex128, rows)
	colOut := make([]complex128, rows)
	for c := 0; c < cols; c++ {
		for r := 0; r < rows; r++ {
			colIn[r] = work[r*cols+c]
		}
		colFFT.Coefficients(colOut, colIn)
		for r := 0; r < rows; r++ {
			work[r*cols+c] = colOut[r]
		}
	}

	out := New(rows, cols)
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			// fftshift: move the zero-frequency bin to the center.
			sr := (r + rows/2) % rows
			sc := (c + cols/2) % cols
			out.Data[sr*cols+sc] = cmplx.Abs(work[r*cols+c])
		}
	}
	return out, nil
}
