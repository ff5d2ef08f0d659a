package cosmology

import (
	"errors"
	"math"
	"runtime"
	"testing"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/interp"
)

func TestComovingDistanceEinsteinDeSitter(t *testing.T) {
	c := Cosmology{H0: 70, OmegaM: 1}
	for _, z := range []float64{0.1, 0.5, 1, 3} {
		want := 2 * c.HubbleDistance() * (1 - 1/math.Sqrt(1+z))
		got := c.ComovingDistance(z)
		if math.Abs(got-want)/want > 1e-8 {
			t.Fatalf("z=%g got %.6f want %.6f", z, got, want)
		}
	}
	if c.ComovingDistance(0) != 0 {
		t.Fatalf("distance at z=0 must be zero")
	}
}

func TestComovingDistancePlanckAtRedshiftOne(t *testing.T) {
	got := Default().ComovingDistance(1)
	if math.Abs(got-3396) > 10 {
		t.Fatalf("comoving distance to z=1 = %.1f Mpc", got)
	}
}

func TestRedshiftOfFrequency(t *testing.T) {
	z, err := RedshiftOfFrequency(Nu21 / 2)
	if err != nil || math.Abs(z-1) > 1e-12 {
		t.Fatalf("z = %g, err = %v", z, err)
	}
	if _, err := RedshiftOfFrequency(0); err == nil {
		t.Fatalf("expected error for zero frequency")
	}
}

func band(n int, start, end float64) []float64 {
	f := make([]float64, n)
	for i := range f {
		f[i] = start + (end-start)*float64(i)/float64(n-1)
	}
	return f
}

func TestRelativeChannelDistancesAlignedWithChannels(t *testing.T) {
	c := Default()
	for _, freqs := range [][]float64{band(5, 800, 700), band(5, 700, 800)} {
		rel, err := c.RelativeChannelDistances(freqs)
		if err != nil {
			t.Fatalf("relative distances: %v", err)
		}
		for i, f := range freqs {
			if f == 700 && rel[i] != 0 {
				t.Fatalf("lowest frequency must be the reference channel, got %g", rel[i])
			}
			if f == 800 && rel[i] != floats.Max(rel) {
				t.Fatalf("highest frequency must be furthest from the reference, got %g of %v", rel[i], rel)
			}
		}
	}
}

func TestChannelValuesFromKparFollowsCosine(t *testing.T) {
	c := Default()
	freqs := band(16, 800, 750)
	vals, kpar, err := c.ChannelValuesFromKpar(freqs, 0.3, false, true)
	if err != nil {
		t.Fatalf("values: %v", err)
	}
	// The delta sits on the first grid point at or above the request.
	step := RadialKparMax / float64(RadialNKpar-1)
	snapped := math.Ceil(kpar/step) * step
	rel, _ := c.RelativeChannelDistances(freqs)
	for i := range vals {
		want := math.Cos(snapped * rel[i])
		if math.Abs(vals[i]-want) > 1e-3 {
			t.Fatalf("channel %d: got %g want %g", i, vals[i], want)
		}
	}
}

func TestChannelValuesFromKparZeroIsFlat(t *testing.T) {
	vals, _, err := Default().ChannelValuesFromKpar(band(8, 800, 760), 0, true, true)
	if err != nil {
		t.Fatalf("values: %v", err)
	}
	for i, v := range vals {
		if math.Abs(v-1) > 1e-9 {
			t.Fatalf("channel %d: got %g want 1", i, v)
		}
	}
}

func TestChannelValuesFromKparFundamentalMultiple(t *testing.T) {
	c := Default()
	freqs := band(32, 800, 700)
	kf, err := c.FundamentalKpar(freqs)
	if err != nil {
		t.Fatalf("kf: %v", err)
	}
	_, kpar, err := c.ChannelValuesFromKpar(freqs, 2, true, true)
	if err != nil {
		t.Fatalf("values: %v", err)
	}
	if math.Abs(kpar-2*kf) > 1e-12 {
		t.Fatalf("kpar %g want %g", kpar, 2*kf)
	}
}

func TestChannelValuesFromKparErrors(t *testing.T) {
	c := Default()
	if _, _, err := c.ChannelValuesFromKpar([]float64{800}, 0.1, false, true); err == nil {
		t.Fatalf("expected error for a single channel")
	}
	_, _, err := c.ChannelValuesFromKpar(band(4, 800, 790), 50, false, true)
	if !errors.Is(err, ErrKparOutOfGrid) {
		t.Fatalf("expected out-of-grid error, got %v", err)
	}
}

func TestSplineSamplesMatchWholeGridFit(t *testing.T) {
	xs := make([]float64, 300)
	ys := make([]float64, len(xs))
	for i := range xs {
		xs[i] = 0.25 * float64(i)
		ys[i] = math.Sin(0.7*xs[i]) + 0.01*xs[i]*xs[i]
	}
	var whole interp.NotAKnotCubic
	if err := whole.Fit(xs, ys); err != nil {
		t.Fatalf("fit: %v", err)
	}
	at := []float64{0, 0.1, 3.3, 37.4, 40.01, 74.6, 74.75}
	got, err := splineSamples(xs, ys, at, splineHalfWidth)
	if err != nil {
		t.Fatalf("samples: %v", err)
	}
	for i, v := range at {
		if want := whole.Predict(v); math.Abs(got[i]-want) > 1e-9 {
			t.Fatalf("x=%g: got %.12f want %.12f", v, got[i], want)
		}
	}
	if _, err := splineSamples(xs, ys, []float64{75}, splineHalfWidth); err == nil {
		t.Fatalf("expected error for a sample beyond the grid")
	}
}

func TestChannelValuesFromKparStaysSmall(t *testing.T) {
	var before, after runtime.MemStats
	runtime.ReadMemStats(&before)
	vals, _, err := Default().ChannelValuesFromKpar(band(64, 800, 700), 3, true, true)
	runtime.ReadMemStats(&after)
	if err != nil {
		t.Fatalf("values: %v", err)
	}
	if len(vals) != 64 {
		t.Fatalf("got %d values", len(vals))
	}
	if used := after.TotalAlloc - before.TotalAlloc; used > 64<<20 {
		t.Fatalf("sampling a radial mode allocated %d MiB", used>>20)
	}
}
