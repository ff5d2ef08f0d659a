// Package beam defines the beam-transfer operator that projects sky harmonic
// coefficients of a single order onto telescope visibilities.
package beam

import (
	"errors"
	"fmt"
	"math"
	"math/cmplx"

	"github.com/rjboer/GoMSim/internal/cosmology"
	"github.com/rjboer/GoMSim/internal/telescope"
)

// ErrShape is returned when the coefficient block handed to Project does not
// match the operator.
var ErrShape = errors.New("beam: coefficient block has the wrong shape")

// Operator maps the coefficients of harmonic order m, alm[freq][pol][l], to
// telescope elements vis[freq][ntel]. The first NTel()/2 elements hold the
// positive-order response and the rest the negative-order response of the
// same baselines.
type Operator interface {
	NTel() int
	Project(m int, alm [][][]complex128) ([][]complex128, error)
}

// Synthetic is a deterministic operator derived from the telescope geometry.
// Each baseline responds to order m with a phase that grows with the baseline
// length in wavelengths, tapered by a Gaussian in l.
type Synthetic struct {
	nfreq  int
	npol   int
	lmax   int
	mmax   int
	npairs int
	// uvw[f][p] is the baseline length in wavelengths.
	uvw [][]float64
}

// NewSynthetic builds an operator for tel. Telescopes that do not expose
// baseline lengths are treated as unit-spaced.
func NewSynthetic(tel telescope.Telescope) (*Synthetic, error) {
	npairs := tel.NPairs()
	if npairs < 1 {
		return nil, fmt.Errorf("beam: telescope has no baselines")
	}
	var lengths []float64
	if b, ok := tel.(telescope.Baseliner); ok {
		lengths = b.Baselines()
	} else {
		lengths = make([]float64, npairs)
		for i := range lengths {
			lengths[i] = float64(i)
		}
	}
	freqs := tel.Frequencies()
	uvw := make([][]float64, len(freqs))
	for f, nu := range freqs {
		wavelength := cosmology.SpeedOfLight * 1e3 / (nu * 1e6)
		uvw[f] = make([]float64, npairs)
		for p := range uvw[f] {
			uvw[f][p] = lengths[p] / wavelength
		}
	}
	return &Synthetic{
		nfreq:  len(freqs),
		npol:   tel.NumPolSky(),
		lmax:   tel.LMax(),
		mmax:   tel.MMax(),
		npairs: npairs,
		uvw:    uvw,
	}, nil
}

// NTel implements Operator.
func (s *Synthetic) NTel() int { return 2 * s.npairs }

// Project implements Operator.
func (s *Synthetic) Project(m int, alm [][][]complex128) ([][]complex128, error) {
	if m < 0 || m > s.mmax {
		return nil, fmt.Errorf("beam: order %d outside [0, %d]", m, s.mmax)
	}
	if len(alm) != s.nfreq {
		return nil, fmt.Errorf("%w: %d frequencies, expected %d", ErrShape, len(alm), s.nfreq)
	}
	out := make([][]complex128, s.nfreq)
	taper := s.lmax + 1
	for f, polBlock := range alm {
		if len(polBlock) != s.npol {
			return nil, fmt.Errorf("%w: %d polarisations at frequency %d, expected %d", ErrShape, len(polBlock), f, s.npol)
		}
		row := make([]complex128, 2*s.npairs)
		for pol, ls := range polBlock {
			if len(ls) != s.lmax+1 {
				return nil, fmt.Errorf("%w: %d degrees, expected %d", ErrShape, len(ls), s.lmax+1)
			}
			polGain := 1 / float64(pol+1)
			for l := m; l <= s.lmax; l++ {
				a := ls[l]
				if a == 0 {
					continue
				}
				x := float64(l) / float64(taper)
				g := polGain * math.Exp(-x*x)
				for p := 0; p < s.npairs; p++ {
					phase := 2 * math.Pi * s.uvw[f][p] * float64(m) / float64(l+1)
					w := cmplx.Rect(g, phase)
					row[p] += w * a
					row[s.npairs+p] += cmplx.Conj(w) * a
				}
			}
		}
		out[f] = row
	}
	return out, nil
}
