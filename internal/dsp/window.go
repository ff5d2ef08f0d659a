package dsp

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// DefaultLanczosWidth is the number of lobes either side of the kernel centre.
const DefaultLanczosWidth = 5

// Sinc returns the normalized sinc function sin(pi*x)/(pi*x).
func Sinc(x float64) float64 {
	if x == 0 {
		return 1
	}
	px := math.Pi * x
	return math.Sin(px) / px
}

// LanczosKernel evaluates the Lanczos window of width a at x, in units of the
// sample spacing. It is zero for |x| >= a.
func LanczosKernel(x float64, a int) float64 {
	if math.Abs(x) >= float64(a) {
		return 0
	}
	return Sinc(x) * Sinc(x/float64(a))
}

// LanczosForwardMatrix builds the len(y) x len(x) matrix that interpolates
// samples on the regular grid x onto the points y. With periodic set the grid
// is treated as one period of a periodic signal: separations longer than half
// the grid wrap around.
func LanczosForwardMatrix(x, y []float64, a int, periodic bool) (*mat.Dense, error) {
	if len(x) < 2 {
		return nil, fmt.Errorf("lanczos: need at least two grid points, got %d", len(x))
	}
	if len(y) == 0 {
		return nil, fmt.Errorf("lanczos: no output points")
	}
	if a <= 0 {
		return nil, fmt.Errorf("lanczos: width must be positive, got %d", a)
	}
	dx := x[1] - x[0]
	n := len(x)
	half := float64(n / 2)
	lz := mat.NewDense(len(y), n, nil)
	for i, yi := range y {
		for j, xj := range x {
			sep := (xj - yi) / dx
			if periodic && math.Abs(sep) > half {
				sep = float64(n) - math.Abs(sep)
			}
			if w := LanczosKernel(sep, a); w != 0 {
				lz.Set(i, j, w)
			}
		}
	}
	return lz, nil
}

// ResampleRows applies lz (nout x ncols) to every row of src, a row-major
// rows x ncols complex matrix, and returns the rows x nout result. Real and
// imaginary parts are transformed independently since lz is real.
func ResampleRows(src []complex128, rows, ncols int, lz *mat.Dense) ([]complex128, error) {
	nout, lc := lz.Dims()
	if lc != ncols {
		return nil, fmt.Errorf("resample: matrix has %d columns, data has %d", lc, ncols)
	}
	if len(src) != rows*ncols {
		return nil, fmt.Errorf("resample: data has %d elements, expected %d", len(src), rows*ncols)
	}
	out := make([]complex128, rows*nout)
	if rows == 0 {
		return out, nil
	}
	re := make([]float64, len(src))
	im := make([]float64, len(src))
	for i, v := range src {
		re[i] = real(v)
		im[i] = imag(v)
	}
	var outRe, outIm mat.Dense
	outRe.Mul(mat.NewDense(rows, ncols, re), lz.T())
	outIm.Mul(mat.NewDense(rows, ncols, im), lz.T())
	for r := 0; r < rows; r++ {
		for c := 0; c < nout; c++ {
			out[r*nout+c] = complex(outRe.At(r, c), outIm.At(r, c))
		}
	}
	return out, nil
}
