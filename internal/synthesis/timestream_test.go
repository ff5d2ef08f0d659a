package synthesis

import (
	"context"
	"errors"
	"math"
	"math/cmplx"
	"testing"

	"github.com/rjboer/GoMSim/internal/containers"
	"github.com/rjboer/GoMSim/internal/mpiarray"
	"github.com/rjboer/GoMSim/internal/pipeline"
	"github.com/rjboer/GoMSim/internal/telescope"
)

func smallAxes(nra int) containers.StreamAxes {
	return containers.StreamAxes{
		Freq:  containers.FreqChannels([]float64{700, 690}, 10),
		RA:    containers.RAAxis(nra),
		Input: containers.DefaultInputs(2),
		Prod:  []containers.Prod{{InputA: 0, InputB: 0}, {InputA: 0, InputB: 1}, {InputA: 1, InputB: 1}},
	}
}

func TestMakeTimeStreamChunking(t *testing.T) {
	site := telescope.NewSite(-119.6, telescope.DefaultLSDEpoch)
	start := 1.7e9
	cfg := TimeStreamConfig{Start: start, End: start + 1, FrameExp: 10, SamplesPerFile: 100}
	intTime := 2.56e-6 * 1024
	err := runGroup(t, 2, func(ctx context.Context, comm *mpiarray.Comm) error {
		src := streamWithValues(t, comm, smallAxes(9), func(f, p, r int) complex128 { return complex(float64(r), float64(p)) })
		task, err := NewMakeTimeStream(src, site, cfg, quietOptions())
		if err != nil {
			return err
		}
		var sizes []int
		var last float64
		count := 0
		for {
			ts, err := task.Next(ctx)
			if errors.Is(err, pipeline.ErrStopIteration) {
				break
			}
			if err != nil {
				return err
			}
			if ts.Time != nil || ts.Samples == nil {
				t.Errorf("frame exponent mode must produce frame-count samples")
			}
			sizes = append(sizes, len(ts.Samples))
			for _, s := range ts.Samples {
				count++
				if want := uint64(count * 1024); s.FPGACount != want {
					t.Errorf("sample %d: fpga count %d want %d", count, s.FPGACount, want)
				}
				if want := start + float64(count)*intTime; math.Abs(s.CTime-want) > 1e-5 {
					t.Errorf("sample %d: ctime %f want %f", count, s.CTime, want)
				}
				last = s.CTime
			}
			for _, w := range ts.Weight.Local() {
				if w != 1 {
					t.Errorf("weights must be one")
					break
				}
			}
		}
		want := []int{100, 100, 100, 82}
		if len(sizes) != len(want) {
			t.Errorf("chunk sizes %v want %v", sizes, want)
			return nil
		}
		for i := range want {
			if sizes[i] != want[i] {
				t.Errorf("chunk sizes %v want %v", sizes, want)
			}
		}
		if last < cfg.End || last >= cfg.End+intTime {
			t.Errorf("last timestamp %f should cover the end %f by less than one integration", last, cfg.End)
		}
		if _, err := task.Next(ctx); !errors.Is(err, pipeline.ErrStopIteration) {
			t.Errorf("exhausted task should keep stopping, got %v", err)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
}

func TestMakeTimeStreamStopsBeforeWork(t *testing.T) {
	site := telescope.NewSite(0, telescope.DefaultLSDEpoch)
	err := runGroup(t, 1, func(ctx context.Context, comm *mpiarray.Comm) error {
		src := streamWithValues(t, comm, smallAxes(5), func(int, int, int) complex128 { return 1 })
		task, err := NewMakeTimeStream(src, site, TimeStreamConfig{Start: 100, End: 100, FrameExp: 3, SamplesPerFile: 4}, quietOptions())
		if err != nil {
			return err
		}
		if _, err := task.Next(ctx); !errors.Is(err, pipeline.ErrStopIteration) {
			t.Errorf("empty range should stop immediately, got %v", err)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
}

func TestMakeTimeStreamResamplesSmoothSignal(t *testing.T) {
	site := telescope.NewSite(21.4, telescope.DefaultLSDEpoch)
	nra := 65
	signal := func(raDeg float64) complex128 {
		return cmplx.Rect(1, raDeg*math.Pi/180)
	}
	it := 600.0
	start := site.LSDToUnix(100.2)
	cfg := TimeStreamConfig{Start: start, End: start + 3599, IntegrationTime: &it, SamplesPerFile: 10}
	err := runGroup(t, 2, func(ctx context.Context, comm *mpiarray.Comm) error {
		ra := containers.RAAxis(nra)
		src := streamWithValues(t, comm, smallAxes(nra), func(f, p, r int) complex128 { return signal(ra[r]) })
		task, err := NewMakeTimeStream(src, site, cfg, quietOptions())
		if err != nil {
			return err
		}
		ts, err := task.Next(ctx)
		if err != nil {
			return err
		}
		if ts.Samples != nil || len(ts.Time) != 6 {
			t.Errorf("explicit integration time should give 6 plain timestamps, got %d", len(ts.Time))
			return nil
		}
		for i, stamp := range ts.Time {
			want := signal(site.UnixToLSA(stamp))
			for lf := range ts.Vis.Enumerate() {
				for p := 0; p < 3; p++ {
					if got := ts.Vis.At(lf, p, i); cmplx.Abs(got-want) > 2e-2 {
						t.Errorf("sample %d: got %v want %v", i, got, want)
					}
				}
			}
		}
		if ts.Vis.Shape()[0] != 2 || ts.Vis.Shape()[1] != 3 {
			t.Errorf("time stream shape %v", ts.Vis.Shape())
		}
		return nil
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
}

func TestMakeTimeStreamConfigErrors(t *testing.T) {
	site := telescope.NewSite(0, telescope.DefaultLSDEpoch)
	zero := 0.0
	err := runGroup(t, 1, func(ctx context.Context, comm *mpiarray.Comm) error {
		src := streamWithValues(t, comm, smallAxes(5), func(int, int, int) complex128 { return 1 })
		if _, err := NewMakeTimeStream(src, site, TimeStreamConfig{End: 1, FrameExp: 2}, quietOptions()); !errors.Is(err, pipeline.ErrConfig) {
			t.Errorf("zero samples per file: %v", err)
		}
		if _, err := NewMakeTimeStream(src, site, TimeStreamConfig{End: 1, IntegrationTime: &zero, SamplesPerFile: 2}, quietOptions()); !errors.Is(err, pipeline.ErrConfig) {
			t.Errorf("zero integration time: %v", err)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
}

func TestIntTimeFromFrameExponent(t *testing.T) {
	cfg := DefaultTimeStreamConfig()
	if got := cfg.IntTime(); math.Abs(got-2.56e-6*math.Pow(2, 23)) > 1e-12 {
		t.Fatalf("default integration %g", got)
	}
	it := 10.0
	cfg.IntegrationTime = &it
	if cfg.IntTime() != 10 {
		t.Fatalf("explicit integration time must take precedence")
	}
}
