package quicklook

import (
	"context"
	"errors"
	"image/png"
	"math/cmplx"
	"os"
	"path/filepath"
	"testing"

	"github.com/rjboer/GoMSim/internal/containers"
	"github.com/rjboer/GoMSim/internal/mpiarray"
)

func TestPlotSeriesWritesPNG(t *testing.T) {
	ra := containers.RAAxis(16)
	v := make([]complex128, len(ra))
	for i, x := range ra {
		v[i] = cmplx.Rect(2, x/30)
	}
	path := filepath.Join(t.TempDir(), "series.png")
	if err := PlotSeries(path, "test", "RA (deg)", ra, v, Size{Width: 320, Height: 240}); err != nil {
		t.Fatalf("plot: %v", err)
	}
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()
	cfg, err := png.DecodeConfig(f)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if cfg.Width != 320 || cfg.Height != 240 {
		t.Fatalf("image size %dx%d", cfg.Width, cfg.Height)
	}
}

func TestPlotSeriesRejectsBadInput(t *testing.T) {
	dir := t.TempDir()
	if err := PlotSeries(filepath.Join(dir, "a.png"), "", "", []float64{1, 2}, []complex128{1}, Size{}); err == nil {
		t.Fatalf("length mismatch should fail")
	}
	if err := PlotSeries(filepath.Join(dir, "b.png"), "", "", nil, nil, Size{}); err == nil {
		t.Fatalf("empty series should fail")
	}
}

func TestPlotSiderealOnlyOnOwningWorker(t *testing.T) {
	g, err := mpiarray.NewGroup(2)
	if err != nil {
		t.Fatalf("group: %v", err)
	}
	dir := t.TempDir()
	axes := containers.StreamAxes{
		Freq:  containers.FreqChannels([]float64{700, 690, 680}, 10),
		RA:    containers.RAAxis(8),
		Input: containers.DefaultInputs(2),
		Prod:  []containers.Prod{{InputA: 0, InputB: 1}},
	}
	err = g.Run(context.Background(), func(ctx context.Context, comm *mpiarray.Comm) error {
		ss, err := containers.NewSiderealStream(comm, axes)
		if err != nil {
			return err
		}
		ss.Vis.Fill(1 + 1i)
		series, err := SiderealSeries(ss, 2, 0)
		// Three channels over two workers: rank 0 holds 0-1, rank 1 holds 2.
		if comm.Rank() == 0 {
			if !errors.Is(err, ErrNotLocal) {
				t.Errorf("rank 0 should not hold channel 2: %v", err)
			}
			return nil
		}
		if err != nil {
			return err
		}
		if len(series) != 8 || series[3] != 1+1i {
			t.Errorf("series %v", series)
		}
		series[0] = 5
		if ss.Vis.At(0, 0, 0) == 5 {
			t.Errorf("series aliases the stream")
		}
		return PlotSidereal(filepath.Join(dir, "ss.png"), ss, 2, 0, Size{})
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "ss.png")); err != nil {
		t.Fatalf("plot missing: %v", err)
	}
}
