// Package sphharm analyses real sky maps on a Gauss-Legendre grid into
// spherical-harmonic coefficients, and synthesises maps from coefficients.
//
// Coefficients are stored for m >= 0 only, in an (lmax+1) x (lmax+1) row-major
// block indexed [l][m]; entries with m > l are zero. A real map is
//
//	f(theta, phi) = sum_l a_l0 Y_l0 + 2 Re sum_{m>0} a_lm Y_lm
package sphharm

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/integrate/quad"
)

// Grid is a set of iso-latitude rings at Gauss-Legendre colatitudes with
// NPhi equally spaced pixels per ring. Pixel (i, j) has index i*NPhi+j.
type Grid struct {
	NTheta int
	NPhi   int

	cosTheta []float64
	weights  []float64
}

// NewGrid builds a grid with ntheta rings ordered from the north pole down.
func NewGrid(ntheta, nphi int) (*Grid, error) {
	if ntheta < 1 || nphi < 1 {
		return nil, fmt.Errorf("grid needs positive dimensions, got %dx%d", ntheta, nphi)
	}
	x := make([]float64, ntheta)
	w := make([]float64, ntheta)
	quad.Legendre{}.FixedLocations(x, w, -1, 1)
	if ntheta > 1 && x[0] < x[ntheta-1] {
		for i, j := 0, ntheta-1; i < j; i, j = i+1, j-1 {
			x[i], x[j] = x[j], x[i]
			w[i], w[j] = w[j], w[i]
		}
	}
	return &Grid{NTheta: ntheta, NPhi: nphi, cosTheta: x, weights: w}, nil
}

// NPix returns the number of pixels.
func (g *Grid) NPix() int { return g.NTheta * g.NPhi }

// Theta returns the colatitude of ring i in radians.
func (g *Grid) Theta(i int) float64 { return math.Acos(g.cosTheta[i]) }

// Phi returns the longitude of pixel j in radians.
func (g *Grid) Phi(j int) float64 { return 2 * math.Pi * float64(j) / float64(g.NPhi) }

// Supports reports whether the grid integrates band-limited maps up to lmax
// exactly.
func (g *Grid) Supports(lmax int) error {
	if g.NTheta < lmax+1 {
		return fmt.Errorf("grid has %d rings, need at least %d for lmax=%d", g.NTheta, lmax+1, lmax)
	}
	if g.NPhi < 2*lmax+1 {
		return fmt.Errorf("grid has %d pixels per ring, need at least %d for lmax=%d", g.NPhi, 2*lmax+1, lmax)
	}
	return nil
}

// Legendre returns the orthonormal associated Legendre functions
// P_lm(cos theta), including the Condon-Shortley phase, for 0 <= m <= l <= lmax
// as an (lmax+1) x (lmax+1) row-major block indexed [l][m].
func Legendre(lmax int, cosTheta float64) []float64 {
	n := lmax + 1
	p := make([]float64, n*n)
	x := cosTheta
	s := math.Sqrt(math.Max(0, 1-x*x))

	pmm := math.Sqrt(1 / (4 * math.Pi))
	for m := 0; m <= lmax; m++ {
		if m > 0 {
			pmm *= -math.Sqrt(float64(2*m+1)/float64(2*m)) * s
		}
		p[m*n+m] = pmm
		if m+1 > lmax {
			continue
		}
		p[(m+1)*n+m] = math.Sqrt(float64(2*m+3)) * x * pmm
		for l := m + 2; l <= lmax; l++ {
			fl, fm := float64(l), float64(m)
			a := math.Sqrt((4*fl*fl - 1) / (fl*fl - fm*fm))
			b := math.Sqrt(((fl-1)*(fl-1) - fm*fm) / (4*(fl-1)*(fl-1) - 1))
			p[l*n+m] = a * (x*p[(l-1)*n+m] - b*p[(l-2)*n+m])
		}
	}
	return p
}

// Analyze returns the coefficients of a real map up to lmax.
func Analyze(g *Grid, pix []float64, lmax int) ([]complex128, error) {
	if len(pix) != g.NPix() {
		return nil, fmt.Errorf("map has %d pixels, grid has %d", len(pix), g.NPix())
	}
	if err := g.Supports(lmax); err != nil {
		return nil, err
	}
	n := lmax + 1
	alm := make([]complex128, n*n)
	fft := fourier.NewFFT(g.NPhi)
	coeff := make([]complex128, g.NPhi/2+1)
	dphi := 2 * math.Pi / float64(g.NPhi)

	for i := 0; i < g.NTheta; i++ {
		coeff = fft.Coefficients(coeff, pix[i*g.NPhi:(i+1)*g.NPhi])
		p := Legendre(lmax, g.cosTheta[i])
		w := g.weights[i] * dphi
		for m := 0; m <= lmax; m++ {
			cm := coeff[m] * complex(w, 0)
			for l := m; l <= lmax; l++ {
				alm[l*n+m] += complex(p[l*n+m], 0) * cm
			}
		}
	}
	return alm, nil
}

// Synthesize evaluates the real map described by alm on the grid.
func Synthesize(g *Grid, alm []complex128, lmax int) ([]float64, error) {
	n := lmax + 1
	if len(alm) != n*n {
		return nil, fmt.Errorf("coefficient block has %d entries, expected %d", len(alm), n*n)
	}
	if err := g.Supports(lmax); err != nil {
		return nil, err
	}
	pix := make([]float64, g.NPix())
	fft := fourier.NewFFT(g.NPhi)
	coeff := make([]complex128, g.NPhi/2+1)

	for i := 0; i < g.NTheta; i++ {
		for k := range coeff {
			coeff[k] = 0
		}
		p := Legendre(lmax, g.cosTheta[i])
		for m := 0; m <= lmax; m++ {
			var acc complex128
			for l := m; l <= lmax; l++ {
				acc += complex(p[l*n+m], 0) * alm[l*n+m]
			}
			if m == 0 {
				acc = complex(real(acc), 0)
			}
			coeff[m] = acc
		}
		fft.Sequence(pix[i*g.NPhi:(i+1)*g.NPhi], coeff)
	}
	return pix, nil
}
