package synthesis

import (
	"context"
	"fmt"
	"slices"

	"github.com/rjboer/GoMSim/internal/beam"
	"github.com/rjboer/GoMSim/internal/containers"
	"github.com/rjboer/GoMSim/internal/cosmology"
	"github.com/rjboer/GoMSim/internal/logging"
	"github.com/rjboer/GoMSim/internal/mpiarray"
	"github.com/rjboer/GoMSim/internal/pipeline"
	"github.com/rjboer/GoMSim/internal/telemetry"
	"github.com/rjboer/GoMSim/internal/telescope"
)

// SingleHarmonicConfig selects the one harmonic to simulate. Either Ell or
// Kperp must be set; Kperp wins when both are.
type SingleHarmonicConfig struct {
	Ell   *int     `json:"ell,omitempty"`
	M     *int     `json:"m,omitempty"`
	Kperp *float64 `json:"kperp,omitempty"`
	Kpar  *float64 `json:"kpar,omitempty"`
	// KparAsKfMult reads Kpar as a multiple of the band's fundamental mode.
	KparAsKfMult  bool `json:"kparAsKfMult"`
	UnitAmplitude bool `json:"unitAmplitude"`
	Stacked       bool `json:"stacked"`
}

// DefaultSingleHarmonicConfig returns a configuration with no harmonic
// selected and the default radial-mode conventions.
func DefaultSingleHarmonicConfig() SingleHarmonicConfig {
	return SingleHarmonicConfig{KparAsKfMult: true, UnitAmplitude: true, Stacked: true}
}

// SimulateSingleHarmonic produces, once, the sidereal stream of a sky made of
// a single spherical harmonic per frequency.
type SimulateSingleHarmonic struct {
	comm  *mpiarray.Comm
	tel   telescope.Telescope
	op    beam.Operator
	cfg   SingleHarmonicConfig
	opts  Options
	cosmo cosmology.Cosmology

	ell       []int
	vals      []float64
	kparValue float64
	mcompute  int
	axes      containers.StreamAxes
	done      bool
}

// NewSimulateSingleHarmonic validates cfg against the telescope. All
// configuration errors surface here, before any numerical work.
func NewSimulateSingleHarmonic(comm *mpiarray.Comm, tel telescope.Telescope, op beam.Operator, cfg SingleHarmonicConfig, opts Options) (*SimulateSingleHarmonic, error) {
	if err := checkOperator(tel, op); err != nil {
		return nil, err
	}
	s := &SimulateSingleHarmonic{
		comm:  comm,
		tel:   tel,
		op:    op,
		cfg:   cfg,
		opts:  opts.withDefaults(),
		cosmo: cosmology.Default(),
	}
	if err := s.setup(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SimulateSingleHarmonic) setup() error {
	cfg, tel := s.cfg, s.tel
	if cfg.Ell == nil && cfg.Kperp == nil {
		return fmt.Errorf("%w: must specify either ell or kperp", pipeline.ErrConfig)
	}
	freqs := tel.Frequencies()
	if cfg.Kperp != nil {
		ell, err := ellsFromKperp(s.cosmo, freqs, *cfg.Kperp)
		if err != nil {
			return err
		}
		s.ell = ell
	} else {
		s.ell = make([]int, len(freqs))
		for i := range s.ell {
			s.ell[i] = *cfg.Ell
		}
	}
	if len(s.ell) == 0 {
		return fmt.Errorf("%w: telescope has no frequencies", pipeline.ErrConfig)
	}
	s.opts.Logger.Info("ells being simulated", logging.F("ell", s.ell))

	maxEll, minEll := slices.Max(s.ell), slices.Min(s.ell)
	if minEll < 0 {
		return fmt.Errorf("%w: negative degree %d requested", pipeline.ErrRange, minEll)
	}
	if maxEll > tel.LMax() {
		return fmt.Errorf("%w: requested ell %d is greater than the telescope's lmax %d", pipeline.ErrRange, maxEll, tel.LMax())
	}
	if maxEll > tel.MMax() {
		return fmt.Errorf("%w: requested ell %d is greater than the telescope's mmax %d", pipeline.ErrRange, maxEll, tel.MMax())
	}
	s.mcompute = maxEll
	if cfg.M != nil {
		if *cfg.M < 0 || *cfg.M > tel.MMax() {
			return fmt.Errorf("%w: requested m %d outside [0, %d]", pipeline.ErrRange, *cfg.M, tel.MMax())
		}
		s.mcompute = *cfg.M
	}

	if cfg.Kpar != nil {
		vals, used, err := radialValues(s.cosmo, freqs, *cfg.Kpar, cfg.KparAsKfMult, cfg.UnitAmplitude)
		if err != nil {
			return err
		}
		s.vals, s.kparValue = vals, used
	} else {
		s.vals = make([]float64, len(freqs))
		for i := range s.vals {
			s.vals[i] = 1
		}
	}

	freq := containers.FreqChannels(freqs, telescope.ChannelWidth(freqs))
	axes, err := streamAxes(tel, freq, NTime(tel.MMax()), cfg.Stacked)
	if err != nil {
		return err
	}
	s.axes = axes
	return nil
}

// Ells returns the degree simulated at every frequency.
func (s *SimulateSingleHarmonic) Ells() []int { return append([]int(nil), s.ell...) }

// Next returns the simulated stream on the first call and
// pipeline.ErrStopIteration afterwards.
func (s *SimulateSingleHarmonic) Next(ctx context.Context) (*containers.SiderealStream, error) {
	if s.done {
		return nil, pipeline.ErrStopIteration
	}
	tel := s.tel
	m := -1
	if s.cfg.M != nil {
		m = *s.cfg.M
	} else {
		s.opts.Logger.Debug("no m given, setting every order up to ell")
	}
	rows, err := singleCoefficients(s.comm, tel.NumPolSky(), tel.LMax(), s.mcompute, s.ell, m, s.vals)
	if err != nil {
		return nil, err
	}
	vis, err := simulate(ctx, tel, s.op, rows, s.opts)
	if err != nil {
		return nil, err
	}
	ss, err := assembleStream(s.comm, s.axes, vis)
	if err != nil {
		return nil, err
	}
	ss.Attrs["ell"] = s.Ells()
	if s.cfg.Kperp != nil {
		ss.Attrs["kperp"] = *s.cfg.Kperp
	}
	if s.cfg.Kpar != nil {
		ss.Attrs["kpar"] = s.kparValue
	}
	s.done = true
	s.opts.emitted(s.comm, telemetry.Progress{Task: "simulate_single_harmonic", Kind: KindSidereal})
	return ss, nil
}
