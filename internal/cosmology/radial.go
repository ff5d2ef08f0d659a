package cosmology

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/interp"

	"github.com/rjboer/GoMSim/internal/dsp"
)

// Radial Fourier grid used to synthesise a single line-of-sight mode.
const (
	RadialKparMax = 20.0  // Mpc^-1
	RadialNKpar   = 32768 // grid points
)

// splineHalfWidth is the number of grid nodes fitted on either side of a
// sample. A node's influence on the spline falls by 2-sqrt(3) per node.
const splineHalfWidth = 24

// ErrKparOutOfGrid is returned when the requested wavenumber is not on the
// radial Fourier grid.
var ErrKparOutOfGrid = errors.New("kpar outside the radial Fourier grid")

// RelativeChannelDistances returns, for every channel, its comoving-distance
// offset from the lowest-frequency (most distant) channel of the band. The
// result is aligned with freqs and is zero at the lowest frequency.
func (c Cosmology) RelativeChannelDistances(freqs []float64) ([]float64, error) {
	if len(freqs) == 0 {
		return nil, fmt.Errorf("no frequencies")
	}
	chi, err := c.FrequencyDistances(freqs)
	if err != nil {
		return nil, err
	}
	far := floats.Max(chi)
	for i, c := range chi {
		chi[i] = far - c
	}
	return chi, nil
}

// FundamentalKpar returns 2*pi over the comoving depth spanned by the band.
func (c Cosmology) FundamentalKpar(freqs []float64) (float64, error) {
	rel, err := c.RelativeChannelDistances(freqs)
	if err != nil {
		return 0, err
	}
	span := floats.Max(rel)
	if span <= 0 {
		return 0, fmt.Errorf("band of %d channels spans no comoving depth", len(freqs))
	}
	return 2 * math.Pi / span, nil
}

// ChannelValuesFromKpar samples a single radial Fourier mode at the channel
// centres. The mode is built as the type-I cosine transform of a delta at
// kpar on the radial grid and interpolated with a not-a-knot cubic spline at
// each channel's relative comoving distance. The spline is fitted on a short
// window of grid nodes around every sample rather than the whole grid.
//
// With asKfMult, kparIn is a multiple of the fundamental wavenumber of the
// band. With unitAmplitude the mode has unit amplitude; otherwise it carries
// the 1/(2N) normalisation of the inverse transform. The wavenumber actually
// used is returned alongside the values.
func (c Cosmology) ChannelValuesFromKpar(freqs []float64, kparIn float64, asKfMult, unitAmplitude bool) ([]float64, float64, error) {
	if len(freqs) < 2 {
		return nil, 0, fmt.Errorf("need at least two channels to define a radial mode, got %d", len(freqs))
	}
	rel, err := c.RelativeChannelDistances(freqs)
	if err != nil {
		return nil, 0, err
	}
	span := floats.Max(rel)
	if span <= 0 {
		return nil, 0, fmt.Errorf("band of %d channels spans no comoving depth", len(freqs))
	}
	kf := 2 * math.Pi / span

	kparValue := kparIn
	if asKfMult {
		kparValue = kparIn * kf
	}

	kpar := floats.Span(make([]float64, RadialNKpar), 0, RadialKparMax)
	idx := sort.SearchFloat64s(kpar, kparValue)
	if kparValue < 0 || idx >= len(kpar) {
		return nil, kparValue, fmt.Errorf("%w: %g not in [0, %g]", ErrKparOutOfGrid, kparValue, RadialKparMax)
	}
	mode := make([]float64, RadialNKpar)
	mode[idx] = 1

	modeFT := dsp.DCT1(mode)
	switch {
	case !unitAmplitude:
		floats.Scale(1/float64(2*RadialNKpar), modeFT)
	case kparIn != 0:
		floats.Scale(0.5, modeFT)
	}

	x := make([]float64, RadialNKpar)
	for i := range x {
		x[i] = float64(i) * math.Pi / RadialKparMax
	}
	if span > x[len(x)-1] {
		return nil, kparValue, fmt.Errorf("band depth %.1f Mpc exceeds the radial grid extent %.1f Mpc", span, x[len(x)-1])
	}

	vals, err := splineSamples(x, modeFT, rel, splineHalfWidth)
	if err != nil {
		return nil, kparValue, fmt.Errorf("fit radial mode: %w", err)
	}
	return vals, kparValue, nil
}

// splineSamples evaluates a not-a-knot cubic spline through (xs, ys) at each
// point of at. xs must be uniformly spaced. Each point is fitted on at most
// 2*halfWidth+2 nodes around it; windows touching an end of the grid use the
// true end nodes, so the end conditions match a fit over the whole grid.
func splineSamples(xs, ys, at []float64, halfWidth int) ([]float64, error) {
	n := len(xs)
	if n < 4 || len(ys) != n {
		return nil, fmt.Errorf("need at least four matching nodes, got %d and %d", n, len(ys))
	}
	width := min(2*halfWidth+2, n)
	step := xs[1] - xs[0]
	out := make([]float64, len(at))
	for i, v := range at {
		if v < xs[0] || v > xs[n-1] {
			return nil, fmt.Errorf("sample %g outside [%g, %g]", v, xs[0], xs[n-1])
		}
		j := int((v - xs[0]) / step)
		lo := max(0, j-halfWidth)
		hi := min(n, lo+width)
		lo = hi - width
		var spline interp.NotAKnotCubic
		if err := spline.Fit(xs[lo:hi], ys[lo:hi]); err != nil {
			return nil, err
		}
		out[i] = spline.Predict(v)
	}
	return out, nil
}
