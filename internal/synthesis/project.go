package synthesis

import (
	"context"
	"fmt"
	"math/cmplx"

	"github.com/rjboer/GoMSim/internal/beam"
	"github.com/rjboer/GoMSim/internal/dsp"
	"github.com/rjboer/GoMSim/internal/logging"
	"github.com/rjboer/GoMSim/internal/mpiarray"
)

// projectOrders moves rows, alm[freq, pol*(lmax+1)+l, m], onto the order axis
// and applies the beam operator to every local order. The result is
// vis[m, ntel, freq] distributed over m.
func projectOrders(ctx context.Context, rows *mpiarray.Array[complex128], op beam.Operator, npol, lmax int, opts Options) (*mpiarray.Array[complex128], error) {
	cols, err := rows.Redistribute(ctx, 2)
	if err != nil {
		return nil, fmt.Errorf("move coefficients to order axis: %w", err)
	}
	shape := cols.Shape()
	nfreq, norder := shape[0], shape[2]
	n := lmax + 1
	if shape[1] != npol*n {
		return nil, fmt.Errorf("coefficient rows %d do not match %d polarisations of lmax %d", shape[1], npol, lmax)
	}
	ntel := op.NTel()
	vis, err := mpiarray.New[complex128](cols.Comm(), []int{norder, ntel, nfreq}, 0)
	if err != nil {
		return nil, err
	}

	alm := make([][][]complex128, nfreq)
	for f := range alm {
		alm[f] = make([][]complex128, npol)
		for pol := range alm[f] {
			alm[f][pol] = make([]complex128, n)
		}
	}
	local := 0
	for lm, m := range cols.Enumerate() {
		opts.Logger.Debug("projecting order", logging.F("m", m), logging.F("local", lm))
		for f := 0; f < nfreq; f++ {
			for pol := 0; pol < npol; pol++ {
				for l := 0; l < n; l++ {
					alm[f][pol][l] = cols.At(f, pol*n+l, lm)
				}
			}
		}
		out, err := op.Project(m, alm)
		if err != nil {
			return nil, fmt.Errorf("project order %d: %w", m, err)
		}
		if len(out) != nfreq {
			return nil, fmt.Errorf("project order %d: operator returned %d frequencies, expected %d", m, len(out), nfreq)
		}
		for f, row := range out {
			if len(row) != ntel {
				return nil, fmt.Errorf("project order %d: operator returned %d elements, expected %d", m, len(row), ntel)
			}
			for e, v := range row {
				vis.Set(v, lm, e, f)
			}
		}
		local++
	}
	opts.Metrics.AddOrdersProjected(local)
	return vis, nil
}

// hermitianFill lays out the order-space spectrum of one baseline on a time
// axis of length ntime: index 0 takes pos[0], index m takes pos[m] and index
// ntime-m takes the conjugate of neg[m].
func hermitianFill(dst, pos, neg []complex128) {
	for i := range dst {
		dst[i] = 0
	}
	ntime := len(dst)
	if len(pos) == 0 {
		return
	}
	dst[0] = pos[0]
	for m := 1; m < len(pos); m++ {
		dst[m] = pos[m]
		dst[ntime-m] = cmplx.Conj(neg[m])
	}
}

// reconstructTime turns vis[m, 2*npairs, freq] into a sidereal time series
// vis[freq, npairs, ntime] distributed over frequency. Orders missing from the
// input are zero.
func reconstructTime(ctx context.Context, projected *mpiarray.Array[complex128], npairs, ntime int, plans *dsp.PlanCache) (*mpiarray.Array[complex128], error) {
	shape := projected.Shape()
	norder, ntel, nfreq := shape[0], shape[1], shape[2]
	if ntel != 2*npairs {
		return nil, fmt.Errorf("operator emits %d elements, expected 2*%d", ntel, npairs)
	}
	if 2*(norder-1)+1 > ntime {
		return nil, fmt.Errorf("%d orders do not fit a time axis of %d samples", norder, ntime)
	}
	cols, err := projected.Redistribute(ctx, 2)
	if err != nil {
		return nil, fmt.Errorf("move visibilities to frequency axis: %w", err)
	}
	out, err := mpiarray.New[complex128](cols.Comm(), []int{nfreq, npairs, ntime}, 0)
	if err != nil {
		return nil, err
	}
	pos := make([]complex128, norder)
	neg := make([]complex128, norder)
	buf := make([]complex128, ntime)
	for lf := range out.Enumerate() {
		for p := 0; p < npairs; p++ {
			for m := 0; m < norder; m++ {
				pos[m] = cols.At(m, p, lf)
				neg[m] = cols.At(m, npairs+p, lf)
			}
			hermitianFill(buf, pos, neg)
			seq := plans.InverseDFT(buf, buf)
			copy(out.Local()[out.Index(lf, p, 0):], seq)
		}
	}
	return out, nil
}
