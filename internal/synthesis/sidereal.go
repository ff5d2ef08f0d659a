package synthesis

import (
	"context"
	"fmt"

	"github.com/rjboer/GoMSim/internal/beam"
	"github.com/rjboer/GoMSim/internal/containers"
	"github.com/rjboer/GoMSim/internal/logging"
	"github.com/rjboer/GoMSim/internal/mpiarray"
	"github.com/rjboer/GoMSim/internal/pipeline"
	"github.com/rjboer/GoMSim/internal/telemetry"
	"github.com/rjboer/GoMSim/internal/telescope"
)

// NTime returns the number of sidereal samples needed to represent orders up
// to mmax.
func NTime(mmax int) int { return 2*mmax + 1 }

// streamAxes builds the index maps of a simulated sidereal stream. A telescope
// whose baselines are not the full triangle is treated as stacked when
// stacked is set, and as a down-selection of the triangle otherwise.
func streamAxes(tel telescope.Telescope, freq []containers.FreqChannel, ntime int, stacked bool) (containers.StreamAxes, error) {
	axes := containers.StreamAxes{
		Freq:  freq,
		RA:    containers.RAAxis(ntime),
		Input: telescope.FeedIndex(tel),
	}
	if !telescope.IsFullTriangle(tel) && stacked {
		st, ok := tel.(telescope.Stacker)
		if !ok {
			return axes, fmt.Errorf("%w: telescope %T collates baselines but does not describe its stacks", pipeline.ErrConfig, tel)
		}
		axes.Prod = st.IndexMapProd()
		axes.Stack = st.IndexMapStack()
		axes.ReverseStack = st.ReverseMapStack()
		if len(axes.Stack) != tel.NPairs() {
			return axes, fmt.Errorf("%w: telescope reports %d stacks for %d baselines", pipeline.ErrConfig, len(axes.Stack), tel.NPairs())
		}
		return axes, nil
	}
	axes.Prod = tel.UniquePairs()
	return axes, nil
}

// assembleStream wraps reconstructed visibilities, vis[freq, npairs, ntime],
// into a sidereal stream with unit weights.
func assembleStream(comm *mpiarray.Comm, axes containers.StreamAxes, vis *mpiarray.Array[complex128]) (*containers.SiderealStream, error) {
	ss, err := containers.NewSiderealStream(comm, axes)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", pipeline.ErrConfig, err)
	}
	want, got := ss.Vis.Shape(), vis.Shape()
	for i := range want {
		if want[i] != got[i] {
			return nil, fmt.Errorf("reconstructed visibilities have shape %v, stream expects %v", got, want)
		}
	}
	ss.Vis = vis
	ss.Weight.Fill(1)
	return ss, nil
}

// simulate runs the shared projection and reconstruction for coefficient rows
// holding norder orders.
func simulate(ctx context.Context, tel telescope.Telescope, op beam.Operator, rows *mpiarray.Array[complex128], opts Options) (*mpiarray.Array[complex128], error) {
	projected, err := projectOrders(ctx, rows, op, tel.NumPolSky(), tel.LMax(), opts)
	if err != nil {
		return nil, err
	}
	return reconstructTime(ctx, projected, tel.NPairs(), NTime(tel.MMax()), opts.Plans)
}

func checkOperator(tel telescope.Telescope, op beam.Operator) error {
	if op == nil {
		return fmt.Errorf("%w: no beam operator", pipeline.ErrConfig)
	}
	if op.NTel() != 2*tel.NPairs() {
		return fmt.Errorf("%w: beam operator has %d elements, telescope needs 2*%d", pipeline.ErrConfig, op.NTel(), tel.NPairs())
	}
	return nil
}

// SiderealConfig configures SimulateSidereal.
type SiderealConfig struct {
	Stacked bool `json:"stacked"`
}

// SimulateSidereal produces the sidereal stream seen by the telescope when
// observing a sky map.
type SimulateSidereal struct {
	tel  telescope.Telescope
	op   beam.Operator
	cfg  SiderealConfig
	opts Options
}

// NewSimulateSidereal checks that the operator matches the telescope.
func NewSimulateSidereal(tel telescope.Telescope, op beam.Operator, cfg SiderealConfig, opts Options) (*SimulateSidereal, error) {
	if err := checkOperator(tel, op); err != nil {
		return nil, err
	}
	return &SimulateSidereal{tel: tel, op: op, cfg: cfg, opts: opts.withDefaults()}, nil
}

// Process simulates one sidereal day of visibilities from mp. The map's
// frequencies must match the telescope's channels.
func (s *SimulateSidereal) Process(ctx context.Context, mp *containers.Map) (*containers.SiderealStream, error) {
	tel := s.tel
	if len(mp.Freq) != tel.NFreq() {
		return nil, fmt.Errorf("%w: map has %d frequencies, telescope has %d", pipeline.ErrConfig, len(mp.Freq), tel.NFreq())
	}
	if mp.NPol != tel.NumPolSky() {
		return nil, fmt.Errorf("%w: map has %d polarisations, telescope has %d", pipeline.ErrConfig, mp.NPol, tel.NumPolSky())
	}
	comm := mp.Data.Comm()
	axes, err := streamAxes(tel, mp.Freq, NTime(tel.MMax()), s.cfg.Stacked)
	if err != nil {
		return nil, err
	}

	rows, err := mapCoefficients(mp, tel.LMax(), tel.MMax())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", pipeline.ErrConfig, err)
	}
	vis, err := simulate(ctx, tel, s.op, rows, s.opts)
	if err != nil {
		return nil, err
	}
	ss, err := assembleStream(comm, axes, vis)
	if err != nil {
		return nil, err
	}
	s.opts.Logger.Info("sidereal stream simulated",
		logging.F("nfreq", tel.NFreq()),
		logging.F("nvis", axes.NVis()),
		logging.F("ntime", len(axes.RA)),
		logging.F("stacked", axes.Stack != nil),
	)
	s.opts.emitted(comm, telemetry.Progress{Task: "simulate_sidereal", Kind: KindSidereal})
	return ss, nil
}
