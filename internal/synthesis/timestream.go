package synthesis

import (
	"context"
	"fmt"
	"math"

	"github.com/rjboer/GoMSim/internal/containers"
	"github.com/rjboer/GoMSim/internal/dsp"
	"github.com/rjboer/GoMSim/internal/logging"
	"github.com/rjboer/GoMSim/internal/pipeline"
	"github.com/rjboer/GoMSim/internal/telemetry"
	"github.com/rjboer/GoMSim/internal/telescope"
)

// FrameLength is the duration of one correlator frame in seconds.
const FrameLength = 2.56e-6

// TimeStreamConfig configures MakeTimeStream. Times are UNIX seconds.
type TimeStreamConfig struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	// IntegrationTime, when set, takes precedence over FrameExp and makes
	// the time axis plain timestamps.
	IntegrationTime *float64 `json:"integrationTime,omitempty"`
	// FrameExp gives an integration of 2^FrameExp frames and a frame-count
	// time axis. Frame counts since Start are rounded to the nearest integer,
	// not truncated, so float error in the division cannot lose a frame.
	FrameExp       int `json:"frameExp"`
	SamplesPerFile int `json:"samplesPerFile"`
}

// DefaultTimeStreamConfig returns the default integration settings.
func DefaultTimeStreamConfig() TimeStreamConfig {
	return TimeStreamConfig{FrameExp: 23, SamplesPerFile: 1024}
}

// IntTime returns the integration time in seconds.
func (c TimeStreamConfig) IntTime() float64 {
	if c.IntegrationTime != nil {
		return *c.IntegrationTime
	}
	return FrameLength * math.Pow(2, float64(c.FrameExp))
}

// MakeTimeStream resamples a sidereal stream onto consecutive chunks of a
// regular UTC time grid.
type MakeTimeStream struct {
	src  *containers.SiderealStream
	obs  telescope.Observer
	cfg  TimeStreamConfig
	opts Options

	intTime float64
	cur     float64
	index   int
}

// NewMakeTimeStream validates cfg and positions the cursor at the start time.
func NewMakeTimeStream(src *containers.SiderealStream, obs telescope.Observer, cfg TimeStreamConfig, opts Options) (*MakeTimeStream, error) {
	if cfg.SamplesPerFile <= 0 {
		return nil, fmt.Errorf("%w: samples per file must be positive, got %d", pipeline.ErrConfig, cfg.SamplesPerFile)
	}
	it := cfg.IntTime()
	if !(it > 0) || math.IsInf(it, 0) {
		return nil, fmt.Errorf("%w: integration time must be positive, got %g", pipeline.ErrConfig, it)
	}
	if len(src.RA) < 2 {
		return nil, fmt.Errorf("%w: sidereal stream has %d RA samples", pipeline.ErrConfig, len(src.RA))
	}
	return &MakeTimeStream{src: src, obs: obs, cfg: cfg, opts: opts.withDefaults(), intTime: it, cur: cfg.Start}, nil
}

// Next returns the next chunk, or pipeline.ErrStopIteration once the cursor
// has reached the end time.
func (t *MakeTimeStream) Next(ctx context.Context) (*containers.TimeStream, error) {
	if t.cur >= t.cfg.End {
		return nil, pipeline.ErrStopIteration
	}
	if t.src.Vis.Axis() != containers.AxisFreq {
		if err := t.src.Redistribute(ctx, containers.AxisFreq); err != nil {
			return nil, err
		}
	}

	chunkStart := t.cur
	times, samples := t.nextTimeAxis()
	ts, err := containers.NewTimeStreamFrom(t.src, times, samples)
	if err != nil {
		return nil, err
	}
	stamps := ts.Timestamps()

	ra := make([]float64, len(stamps))
	for i, s := range stamps {
		ra[i] = t.obs.UnixToLSA(s)
	}
	lz, err := dsp.LanczosForwardMatrix(t.src.RA, ra, dsp.DefaultLanczosWidth, true)
	if err != nil {
		return nil, err
	}

	local := t.src.Vis.LocalShape()
	resampled, err := dsp.ResampleRows(t.src.Vis.Local(), local[0]*local[1], local[2], lz)
	if err != nil {
		return nil, err
	}
	copy(ts.Vis.Local(), resampled)
	ts.Weight.Fill(1)

	t.opts.Logger.Debug("time stream chunk",
		logging.F("index", t.index),
		logging.F("samples", len(stamps)),
		logging.F("start", chunkStart),
	)
	t.opts.emitted(t.src.Vis.Comm(), telemetry.Progress{
		Task:    "make_timestream",
		Kind:    KindTimeStream,
		Index:   t.index,
		Samples: len(stamps),
		Start:   stamps[0],
		End:     stamps[len(stamps)-1],
	})
	t.index++
	return ts, nil
}

// nextTimeAxis returns the timestamps of the next chunk, which mark the end
// of each integration, and advances the cursor.
func (t *MakeTimeStream) nextTimeAxis() ([]float64, []containers.TimeSample) {
	nsamp := min(int(math.Ceil((t.cfg.End-t.cur)/t.intTime)), t.cfg.SamplesPerFile)
	stamps := make([]float64, nsamp)
	for i := range stamps {
		stamps[i] = t.cur + float64(i+1)*t.intTime
	}
	t.cur += float64(nsamp) * t.intTime

	if t.cfg.IntegrationTime != nil {
		return stamps, nil
	}
	frames := math.Pow(2, float64(t.cfg.FrameExp))
	samples := make([]containers.TimeSample, nsamp)
	for i, s := range stamps {
		samples[i] = containers.TimeSample{
			FPGACount: uint64(math.Round((s - t.cfg.Start) / t.intTime * frames)),
			CTime:     s,
		}
	}
	return nil, samples
}
