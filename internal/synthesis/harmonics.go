package synthesis

import (
	"errors"
	"fmt"
	"math"

	"github.com/rjboer/GoMSim/internal/containers"
	"github.com/rjboer/GoMSim/internal/cosmology"
	"github.com/rjboer/GoMSim/internal/mpiarray"
	"github.com/rjboer/GoMSim/internal/pipeline"
	"github.com/rjboer/GoMSim/internal/sphharm"
)

// mapCoefficients analyses the local frequencies of a map into
// alm[freq, pol*(lmax+1)+l, m] for m <= mcompute, distributed over frequency.
func mapCoefficients(mp *containers.Map, lmax, mcompute int) (*mpiarray.Array[complex128], error) {
	if mp.Data.Axis() != containers.AxisFreq {
		return nil, fmt.Errorf("map must be distributed over frequency, got axis %d", mp.Data.Axis())
	}
	grid, err := sphharm.NewGrid(mp.NTheta, mp.NPhi)
	if err != nil {
		return nil, err
	}
	n := lmax + 1
	rows, err := mpiarray.New[complex128](mp.Data.Comm(), []int{len(mp.Freq), mp.NPol * n, mcompute + 1}, containers.AxisFreq)
	if err != nil {
		return nil, err
	}
	for lf, gf := range mp.Data.Enumerate() {
		for pol := 0; pol < mp.NPol; pol++ {
			alm, err := sphharm.Analyze(grid, mp.Pixels(lf, pol), lmax)
			if err != nil {
				return nil, fmt.Errorf("analyse frequency %d pol %d: %w", gf, pol, err)
			}
			for l := 0; l <= lmax; l++ {
				for m := 0; m <= min(l, mcompute); m++ {
					rows.Set(alm[l*n+m], lf, pol*n+l, m)
				}
			}
		}
	}
	return rows, nil
}

// singleCoefficients builds alm[freq, pol*(lmax+1)+l, m] with one non-zero
// degree per frequency, in the first polarisation only. With m < 0 every
// order 0..ell[f] is set.
func singleCoefficients(comm *mpiarray.Comm, npol, lmax, mcompute int, ell []int, m int, vals []float64) (*mpiarray.Array[complex128], error) {
	for f, l := range ell {
		if l < 0 || l > lmax {
			return nil, fmt.Errorf("%w: degree %d at frequency %d outside [0, %d]", pipeline.ErrRange, l, f, lmax)
		}
	}
	n := lmax + 1
	rows, err := mpiarray.New[complex128](comm, []int{len(ell), npol * n, mcompute + 1}, containers.AxisFreq)
	if err != nil {
		return nil, err
	}
	for lf, gf := range rows.Enumerate() {
		v := complex(vals[gf], 0)
		if m >= 0 {
			rows.Set(v, lf, ell[gf], m)
			continue
		}
		for mi := 0; mi <= ell[gf]; mi++ {
			rows.Set(v, lf, ell[gf], mi)
		}
	}
	return rows, nil
}

// ellsFromKperp converts a transverse wavenumber into the nearest degree at
// each frequency's comoving distance.
func ellsFromKperp(cosmo cosmology.Cosmology, freqs []float64, kperp float64) ([]int, error) {
	chi, err := cosmo.FrequencyDistances(freqs)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", pipeline.ErrConfig, err)
	}
	out := make([]int, len(chi))
	for i, c := range chi {
		out[i] = int(math.RoundToEven(kperp * c))
	}
	return out, nil
}

// radialValues samples the requested radial mode, mapping grid errors onto
// the pipeline taxonomy.
func radialValues(cosmo cosmology.Cosmology, freqs []float64, kpar float64, asKfMult, unit bool) ([]float64, float64, error) {
	vals, used, err := cosmo.ChannelValuesFromKpar(freqs, kpar, asKfMult, unit)
	switch {
	case err == nil:
		return vals, used, nil
	case errors.Is(err, cosmology.ErrKparOutOfGrid):
		return nil, used, fmt.Errorf("%w: %v", pipeline.ErrRange, err)
	default:
		return nil, used, fmt.Errorf("%w: %v", pipeline.ErrConfig, err)
	}
}
