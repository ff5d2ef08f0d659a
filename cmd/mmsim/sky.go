package main

import (
	"fmt"
	"math"
	"math/cmplx"
	"math/rand/v2"
	"time"

	"github.com/rjboer/GoMSim/internal/containers"
	"github.com/rjboer/GoMSim/internal/mpiarray"
	"github.com/rjboer/GoMSim/internal/sphharm"
	"github.com/rjboer/GoMSim/internal/telescope"
)

// syntheticSky draws a band-limited random sky with a falling angular power
// spectrum. Each (channel, polarisation) has its own stream of the seed, so
// the sky does not depend on the group size.
func syntheticSky(comm *mpiarray.Comm, tel *telescope.Regular, ntheta, nphi int, seed uint64) (*containers.Map, error) {
	lmax := tel.LMax()
	if ntheta <= 0 {
		ntheta = lmax + 1
	}
	if nphi <= 0 {
		nphi = 2*lmax + 2
	}
	grid, err := sphharm.NewGrid(ntheta, nphi)
	if err != nil {
		return nil, err
	}
	if err := grid.Supports(lmax); err != nil {
		return nil, fmt.Errorf("synthetic sky: %w", err)
	}

	freqs := tel.Frequencies()
	freq := containers.FreqChannels(freqs, telescope.ChannelWidth(freqs))
	mp, err := containers.NewMap(comm, freq, tel.NumPolSky(), ntheta, nphi)
	if err != nil {
		return nil, err
	}
	n := lmax + 1
	alm := make([]complex128, n*n)
	for lf, gf := range mp.Data.Enumerate() {
		for pol := 0; pol < mp.NPol; pol++ {
			rng := rand.New(rand.NewPCG(seed, uint64(gf*mp.NPol+pol)))
			for l := 0; l <= lmax; l++ {
				amp := 1 / float64(l+1)
				for m := 0; m <= l; m++ {
					if m == 0 {
						alm[l*n] = complex(amp*rng.NormFloat64(), 0)
						continue
					}
					alm[l*n+m] = cmplx.Rect(amp*math.Abs(rng.NormFloat64()), 2*math.Pi*rng.Float64())
				}
			}
			pix, err := sphharm.Synthesize(grid, alm, lmax)
			if err != nil {
				return nil, err
			}
			copy(mp.Pixels(lf, pol), pix)
		}
	}
	mp.Attrs["seed"] = seed
	return mp, nil
}

func unixSeconds(t time.Time) float64 {
	return float64(t.Unix()) + float64(t.Nanosecond())/1e9
}
