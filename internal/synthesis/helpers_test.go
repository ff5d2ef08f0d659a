package synthesis

import (
	"context"
	"io"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/rjboer/GoMSim/internal/containers"
	"github.com/rjboer/GoMSim/internal/logging"
	"github.com/rjboer/GoMSim/internal/mpiarray"
	"github.com/rjboer/GoMSim/internal/telescope"
)

func quietOptions() Options {
	return Options{Logger: logging.New(logging.Error, logging.Text, io.Discard)}
}

func runGroup(t *testing.T, size int, fn func(ctx context.Context, comm *mpiarray.Comm) error) error {
	t.Helper()
	g, err := mpiarray.NewGroup(size)
	if err != nil {
		t.Fatalf("group: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return g.Run(ctx, fn)
}

func newRegular(t *testing.T, cfg telescope.Config) *telescope.Regular {
	t.Helper()
	tel, err := telescope.NewRegular(cfg)
	if err != nil {
		t.Fatalf("telescope: %v", err)
	}
	return tel
}

// tableOperator ignores the sky and returns a fixed value per (m, freq,
// element), so reconstructed streams can be checked against a direct sum.
type tableOperator struct {
	npairs int
	failAt int
	err    error

	mu     sync.Mutex
	orders []int
}

func tableValue(m, f, e int) complex128 {
	return complex(float64(m+1)+0.1*float64(e), float64(f)-0.3*float64(m*e))
}

func (o *tableOperator) NTel() int { return 2 * o.npairs }

func (o *tableOperator) Project(m int, alm [][][]complex128) ([][]complex128, error) {
	o.mu.Lock()
	o.orders = append(o.orders, m)
	o.mu.Unlock()
	if o.err != nil && m == o.failAt {
		return nil, o.err
	}
	out := make([][]complex128, len(alm))
	for f := range out {
		row := make([]complex128, 2*o.npairs)
		for e := range row {
			row[e] = tableValue(m, f, e)
		}
		out[f] = row
	}
	return out, nil
}

// directSeries evaluates the sidereal series of one baseline from its order
// spectrum without an FFT.
func directSeries(f, p, npairs, norder, ntime int) []complex128 {
	out := make([]complex128, ntime)
	for ti := range out {
		phase := func(k int) complex128 {
			a := 2 * math.Pi * float64(k*ti) / float64(ntime)
			return complex(math.Cos(a), math.Sin(a))
		}
		v := tableValue(0, f, p)
		for m := 1; m < norder; m++ {
			v += tableValue(m, f, p) * phase(m)
			neg := tableValue(m, f, npairs+p)
			v += complex(real(neg), -imag(neg)) * phase(ntime-m)
		}
		out[ti] = v
	}
	return out
}

// gather collects the local visibility slabs of every worker into one
// global row-major slice. Workers write disjoint ranges.
type gathered struct {
	mu   sync.Mutex
	data []complex128
}

func (g *gathered) add(vis *mpiarray.Array[complex128]) {
	shape := vis.Shape()
	inner := shape[1] * shape[2]
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.data == nil {
		g.data = make([]complex128, shape[0]*inner)
	}
	copy(g.data[vis.LocalOffset()*inner:], vis.Local())
}

func streamWithValues(t *testing.T, comm *mpiarray.Comm, axes containers.StreamAxes, value func(f, p, r int) complex128) *containers.SiderealStream {
	t.Helper()
	ss, err := containers.NewSiderealStream(comm, axes)
	if err != nil {
		t.Errorf("stream: %v", err)
		return nil
	}
	nvis := axes.NVis()
	for lf, gf := range ss.Vis.Enumerate() {
		for p := 0; p < nvis; p++ {
			for r := range axes.RA {
				ss.Vis.Set(value(gf, p, r), lf, p, r)
			}
		}
	}
	ss.Weight.Fill(1)
	return ss
}
