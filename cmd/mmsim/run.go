package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/rjboer/GoMSim/internal/beam"
	"github.com/rjboer/GoMSim/internal/containers"
	"github.com/rjboer/GoMSim/internal/dsp"
	"github.com/rjboer/GoMSim/internal/logging"
	"github.com/rjboer/GoMSim/internal/metrics"
	"github.com/rjboer/GoMSim/internal/mpiarray"
	"github.com/rjboer/GoMSim/internal/pipeline"
	"github.com/rjboer/GoMSim/internal/quicklook"
	"github.com/rjboer/GoMSim/internal/store"
	"github.com/rjboer/GoMSim/internal/synthesis"
	"github.com/rjboer/GoMSim/internal/telemetry"
	"github.com/rjboer/GoMSim/internal/telescope"
)

// simulation holds what every worker of a run shares.
type simulation struct {
	cfg   cliConfig
	tel   *telescope.Regular
	op    beam.Operator
	store *store.Store
	opts  synthesis.Options
}

func run(ctx context.Context, cfg cliConfig, logger logging.Logger) error {
	tel, err := telescope.NewRegular(cfg.Telescope)
	if err != nil {
		return fmt.Errorf("%w: %v", pipeline.ErrConfig, err)
	}
	op, err := beam.NewSynthetic(tel)
	if err != nil {
		return err
	}
	collector, err := metrics.NewCollector(prometheus.NewRegistry())
	if err != nil {
		return err
	}
	st, err := store.New(cfg.OutDir, logger)
	if err != nil {
		return err
	}
	logger = logger.With(logging.F("run_id", st.RunID))

	hub := telemetry.NewHub(cfg.HistoryLimit, logger)
	reporter := telemetry.MultiReporter{telemetry.NewStdoutReporter(logger), hub}
	if cfg.MetricsAddr != "" {
		srvCtx, stop := context.WithCancel(ctx)
		defer stop()
		srv := telemetry.NewWebServer(cfg.MetricsAddr, hub, logger, map[string]http.Handler{"/metrics": collector.Handler()})
		go srv.Start(srvCtx)
		logger.Info("serving metrics and telemetry", logging.F("addr", cfg.MetricsAddr))
	}

	group, err := mpiarray.NewGroup(cfg.Workers)
	if err != nil {
		return err
	}
	group.OnRedistribute = collector.ObserveRedistribute

	sim := &simulation{
		cfg:   cfg,
		tel:   tel,
		op:    op,
		store: st,
		opts: synthesis.Options{
			Logger:   logger,
			Metrics:  collector,
			Reporter: reporter,
			Plans:    dsp.NewPlanCache(),
		},
	}
	logger.Info("simulation starting",
		logging.F("mode", cfg.Mode),
		logging.F("workers", cfg.Workers),
		logging.F("feeds", tel.NFeed()),
		logging.F("pairs", tel.NPairs()),
		logging.F("channels", tel.NFreq()),
		logging.F("lmax", tel.LMax()),
		logging.F("mmax", tel.MMax()),
	)
	if err := group.Run(ctx, sim.worker); err != nil {
		return err
	}
	logger.Info("simulation finished", logging.F("out", cfg.OutDir), logging.F("outputs", len(hub.History())))
	return nil
}

// worker runs the whole chain on one member of the group.
func (s *simulation) worker(ctx context.Context, comm *mpiarray.Comm) error {
	opts := s.opts
	opts.Logger = opts.Logger.With(logging.F("rank", comm.Rank()))

	ss, err := s.siderealStream(ctx, comm, opts)
	if err != nil {
		return err
	}
	if err := s.store.SaveSidereal(ctx, "sstream", ss); err != nil {
		return err
	}
	if s.cfg.Plot {
		if err := s.plot(ss, opts.Logger); err != nil {
			return err
		}
	}

	if s.cfg.Expand {
		full, err := synthesis.NewExpandProducts(s.tel, opts).Process(ctx, ss)
		if err != nil {
			return err
		}
		if err := s.store.SaveSidereal(ctx, "sstream_full", full); err != nil {
			return err
		}
		ss = full
	}

	if s.cfg.Days {
		days, err := synthesis.NewMakeSiderealDayStream(ss, s.tel, synthesis.SiderealDayConfig{
			Start: unixSeconds(s.cfg.start),
			End:   unixSeconds(s.cfg.end),
		}, opts)
		if err != nil {
			return err
		}
		for {
			day, err := days.Next(ctx)
			if pipeline.IsStop(err) {
				break
			}
			if err != nil {
				return err
			}
			if err := s.store.SaveSidereal(ctx, "sstream_"+day.Attrs["tag"].(string), day); err != nil {
				return err
			}
		}
	}

	if s.cfg.TimeStream {
		tcfg := synthesis.TimeStreamConfig{
			Start:          unixSeconds(s.cfg.start),
			End:            unixSeconds(s.cfg.end),
			FrameExp:       s.cfg.FrameExp,
			SamplesPerFile: s.cfg.SamplesPerFile,
		}
		if s.cfg.IntegrationTime > 0 {
			it := s.cfg.IntegrationTime
			tcfg.IntegrationTime = &it
		}
		chunks, err := synthesis.NewMakeTimeStream(ss, s.tel, tcfg, opts)
		if err != nil {
			return err
		}
		for i := 0; ; i++ {
			ts, err := chunks.Next(ctx)
			if pipeline.IsStop(err) {
				break
			}
			if err != nil {
				return err
			}
			if err := s.store.SaveTimeStream(fmt.Sprintf("tstream_%04d", i), ts); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *simulation) siderealStream(ctx context.Context, comm *mpiarray.Comm, opts synthesis.Options) (*containers.SiderealStream, error) {
	if s.cfg.Mode == modeSingle {
		task, err := synthesis.NewSimulateSingleHarmonic(comm, s.tel, s.op, synthesis.SingleHarmonicConfig{
			Ell:           s.cfg.Ell,
			M:             s.cfg.M,
			Kperp:         s.cfg.Kperp,
			Kpar:          s.cfg.Kpar,
			KparAsKfMult:  s.cfg.KparAsKfMult,
			UnitAmplitude: s.cfg.UnitAmplitude,
			Stacked:       s.cfg.Stacked,
		}, opts)
		if err != nil {
			return nil, err
		}
		return task.Next(ctx)
	}

	var (
		mp  *containers.Map
		err error
	)
	if s.cfg.MapName != "" {
		mp, err = store.LoadMap(comm, s.cfg.MapDir, s.cfg.MapName)
	} else {
		mp, err = syntheticSky(comm, s.tel, s.cfg.MapNTheta, s.cfg.MapNPhi, s.cfg.MapSeed)
		if err == nil {
			err = s.store.SaveMap("sky", mp)
		}
	}
	if err != nil {
		return nil, err
	}
	task, err := synthesis.NewSimulateSidereal(s.tel, s.op, synthesis.SiderealConfig{Stacked: s.cfg.Stacked}, opts)
	if err != nil {
		return nil, err
	}
	return task.Process(ctx, mp)
}

// plot draws the first baseline of the lowest channel on the worker that
// holds it.
func (s *simulation) plot(ss *containers.SiderealStream, logger logging.Logger) error {
	path := filepath.Join(s.cfg.OutDir, "sstream_quicklook.png")
	err := quicklook.PlotSidereal(path, ss, 0, 0, quicklook.DefaultSize)
	if errors.Is(err, quicklook.ErrNotLocal) {
		return nil
	}
	if err != nil {
		return err
	}
	logger.Info("quick-look written", logging.F("path", path))
	return nil
}
