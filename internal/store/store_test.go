package store

import (
	"context"
	"errors"
	"io"
	"os"
	"testing"
	"time"

	"github.com/rjboer/GoMSim/internal/containers"
	"github.com/rjboer/GoMSim/internal/logging"
	"github.com/rjboer/GoMSim/internal/mpiarray"
)

func run(t *testing.T, size int, fn func(ctx context.Context, comm *mpiarray.Comm) error) error {
	t.Helper()
	g, err := mpiarray.NewGroup(size)
	if err != nil {
		t.Fatalf("group: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return g.Run(ctx, fn)
}

func newStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(t.TempDir(), logging.New(logging.Error, logging.Text, io.Discard))
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	return s
}

func visValue(f, p, r int) complex128 { return complex(float64(100*f+10*p+r), float64(-f)) }

func testAxes() containers.StreamAxes {
	return containers.StreamAxes{
		Freq:  containers.FreqChannels([]float64{800, 790, 780, 770, 760}, 10),
		RA:    containers.RAAxis(4),
		Input: containers.DefaultInputs(2),
		Prod:  []containers.Prod{{InputA: 0, InputB: 0}, {InputA: 0, InputB: 1}, {InputA: 1, InputB: 1}},
		Stack: []containers.StackEntry{{Prod: 0}, {Prod: 1, Conjugate: true}},
		ReverseStack: []containers.ReverseStackEntry{
			{Stack: 0}, {Stack: 1, Conjugate: true}, {Stack: 0},
		},
	}
}

func saveStream(t *testing.T, s *Store, name string, size int) {
	t.Helper()
	err := run(t, size, func(ctx context.Context, comm *mpiarray.Comm) error {
		ss, err := containers.NewSiderealStream(comm, testAxes())
		if err != nil {
			return err
		}
		for lf, gf := range ss.Vis.Enumerate() {
			for p := 0; p < 2; p++ {
				for r := 0; r < 4; r++ {
					ss.Vis.Set(visValue(gf, p, r), lf, p, r)
					ss.Weight.Set(float64(gf), lf, p, r)
				}
			}
		}
		ss.Attrs["ell"] = []int{1, 2}
		ss.Attrs["tag"] = "lsd_11"
		return s.SaveSidereal(ctx, name, ss)
	})
	if err != nil {
		t.Fatalf("save with %d workers: %v", size, err)
	}
}

func TestSiderealRoundTripAcrossGroupSizes(t *testing.T) {
	s := newStore(t)
	saveStream(t, s, "sstream", 3)
	for _, size := range []int{1, 2, 4, 6} {
		err := run(t, size, func(ctx context.Context, comm *mpiarray.Comm) error {
			ss, err := LoadSidereal(comm, s.Dir, "sstream")
			if err != nil {
				return err
			}
			if got := ss.Vis.Shape(); got[0] != 5 || got[1] != 2 || got[2] != 4 {
				t.Errorf("shape %v", got)
			}
			if len(ss.Prod) != 3 || len(ss.Stack) != 2 || !ss.Stack[1].Conjugate || len(ss.ReverseStack) != 3 {
				t.Errorf("index maps not restored")
			}
			if ss.Freq[2].Centre != 780 || len(ss.RA) != 4 || ss.Input[1].ChanID != 1 {
				t.Errorf("axes not restored")
			}
			if ss.Attrs["tag"] != "lsd_11" || ss.Attrs[RunIDAttr] != s.RunID {
				t.Errorf("attributes %v", ss.Attrs)
			}
			if ell, ok := ss.Attrs["ell"].([]int); !ok || len(ell) != 2 {
				t.Errorf("ell attribute %v", ss.Attrs["ell"])
			}
			for lf, gf := range ss.Vis.Enumerate() {
				for p := 0; p < 2; p++ {
					for r := 0; r < 4; r++ {
						if got := ss.Vis.At(lf, p, r); got != visValue(gf, p, r) {
							t.Errorf("%d workers: vis[%d,%d,%d] = %v", size, gf, p, r, got)
						}
						if got := ss.Weight.At(lf, p, r); got != float64(gf) {
							t.Errorf("%d workers: weight[%d,%d,%d] = %g", size, gf, p, r, got)
						}
					}
				}
			}
			return nil
		})
		if err != nil {
			t.Fatalf("load with %d workers: %v", size, err)
		}
	}
}

func TestSaveWithFewerWorkersRemovesStaleShards(t *testing.T) {
	s := newStore(t)
	saveStream(t, s, "stream", 4)
	saveStream(t, s, "stream", 2)
	if _, err := os.Stat(ShardPath(s.Dir, "stream", 3)); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("shard of rank 3 should have been removed: %v", err)
	}
	err := run(t, 3, func(ctx context.Context, comm *mpiarray.Comm) error {
		_, err := LoadSidereal(comm, s.Dir, "stream")
		return err
	})
	if err != nil {
		t.Fatalf("load after resave: %v", err)
	}
}

func TestLoadErrors(t *testing.T) {
	s := newStore(t)
	saveStream(t, s, "stream", 2)
	err := run(t, 1, func(ctx context.Context, comm *mpiarray.Comm) error {
		if _, err := LoadSidereal(comm, s.Dir, "missing"); !errors.Is(err, ErrNotFound) {
			t.Errorf("missing container: %v", err)
		}
		if _, err := LoadMap(comm, s.Dir, "stream"); !errors.Is(err, ErrCorrupt) {
			t.Errorf("kind mismatch: %v", err)
		}
		if _, err := LoadSidereal(comm, s.Dir, "../stream"); err == nil {
			t.Errorf("path-like names must be rejected")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if err := os.Remove(ShardPath(s.Dir, "stream", 0)); err != nil {
		t.Fatalf("remove: %v", err)
	}
	err = run(t, 1, func(ctx context.Context, comm *mpiarray.Comm) error {
		_, err := LoadSidereal(comm, s.Dir, "stream")
		return err
	})
	if !errors.Is(err, ErrCorrupt) {
		t.Fatalf("missing shard should be reported as corrupt, got %v", err)
	}
}

func TestMapAndTimeStreamRoundTrip(t *testing.T) {
	s := newStore(t)
	freq := containers.FreqChannels([]float64{700, 690, 680}, 10)
	err := run(t, 2, func(ctx context.Context, comm *mpiarray.Comm) error {
		m, err := containers.NewMap(comm, freq, 2, 3, 5)
		if err != nil {
			return err
		}
		for lf, gf := range m.Data.Enumerate() {
			for pol := 0; pol < 2; pol++ {
				for i := range m.Pixels(lf, pol) {
					m.Pixels(lf, pol)[i] = float64(gf*1000 + pol*100 + i)
				}
			}
		}
		if err := s.SaveMap("sky", m); err != nil {
			return err
		}

		axes := testAxes()
		axes.Freq = freq
		ss, err := containers.NewSiderealStream(comm, axes)
		if err != nil {
			return err
		}
		ss.Vis.Fill(1 + 1i)
		samples := []containers.TimeSample{{FPGACount: 8, CTime: 10}, {FPGACount: 16, CTime: 11}}
		ts, err := containers.NewTimeStreamFrom(ss, nil, samples)
		if err != nil {
			return err
		}
		ts.Vis.Fill(2i)
		ts.Weight.Fill(1)
		return s.SaveTimeStream("chunk", ts)
	})
	if err != nil {
		t.Fatalf("save: %v", err)
	}

	err = run(t, 3, func(ctx context.Context, comm *mpiarray.Comm) error {
		m, err := LoadMap(comm, s.Dir, "sky")
		if err != nil {
			return err
		}
		if m.NPol != 2 || m.NTheta != 3 || m.NPhi != 5 {
			t.Errorf("map geometry %d %d %d", m.NPol, m.NTheta, m.NPhi)
		}
		for lf, gf := range m.Data.Enumerate() {
			if got := m.Pixels(lf, 1)[4]; got != float64(gf*1000+104) {
				t.Errorf("pixel value %g at freq %d", got, gf)
			}
		}

		ts, err := LoadTimeStream(comm, s.Dir, "chunk")
		if err != nil {
			return err
		}
		if ts.Time != nil || len(ts.Samples) != 2 || ts.Samples[1].FPGACount != 16 {
			t.Errorf("time axis %v %v", ts.Time, ts.Samples)
		}
		for _, v := range ts.Vis.Local() {
			if v != 2i {
				t.Errorf("time stream vis %v", v)
				break
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
}
