package synthesis

import (
	"context"
	"fmt"
	"math"

	"github.com/rjboer/GoMSim/internal/containers"
	"github.com/rjboer/GoMSim/internal/logging"
	"github.com/rjboer/GoMSim/internal/pipeline"
	"github.com/rjboer/GoMSim/internal/telemetry"
	"github.com/rjboer/GoMSim/internal/telescope"
)

// SiderealDayConfig bounds MakeSiderealDayStream in UNIX seconds.
type SiderealDayConfig struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// MakeSiderealDayStream emits a copy of a base stream for every whole local
// sidereal day that starts inside the configured range.
type MakeSiderealDayStream struct {
	src  *containers.SiderealStream
	opts Options

	lsdStart float64
	lsdEnd   float64
	current  int
	started  bool
}

// NewMakeSiderealDayStream converts the range into local sidereal days.
func NewMakeSiderealDayStream(src *containers.SiderealStream, obs telescope.Observer, cfg SiderealDayConfig, opts Options) (*MakeSiderealDayStream, error) {
	if cfg.End < cfg.Start {
		return nil, fmt.Errorf("%w: end time %g precedes start time %g", pipeline.ErrConfig, cfg.End, cfg.Start)
	}
	d := &MakeSiderealDayStream{
		src:      src,
		opts:     opts.withDefaults(),
		lsdStart: obs.UnixToLSD(cfg.Start),
		lsdEnd:   obs.UnixToLSD(cfg.End),
	}
	d.opts.Logger.Info("sidereal period requested",
		logging.F("lsd_start", int(d.lsdStart)),
		logging.F("lsd_end", int(d.lsdEnd)),
	)
	return d, nil
}

// LSDRange returns the requested range in local sidereal days.
func (d *MakeSiderealDayStream) LSDRange() (float64, float64) { return d.lsdStart, d.lsdEnd }

// Next returns the copy for the next day, tagged "lsd_<n>", or
// pipeline.ErrStopIteration once the day counter reaches the end of the range.
func (d *MakeSiderealDayStream) Next(_ context.Context) (*containers.SiderealStream, error) {
	if !d.started {
		if d.lsdStart == math.Trunc(d.lsdStart) {
			d.current = int(d.lsdStart)
		} else {
			d.current = int(math.Floor(d.lsdStart)) + 1
		}
		d.started = true
	}
	if float64(d.current) >= d.lsdEnd {
		return nil, pipeline.ErrStopIteration
	}

	ss := d.src.Copy()
	tag := fmt.Sprintf("lsd_%d", d.current)
	ss.Attrs["tag"] = tag
	ss.Attrs["lsd"] = d.current
	d.current++

	d.opts.emitted(d.src.Vis.Comm(), telemetry.Progress{Task: "make_sidereal_day", Kind: KindSiderealDay, Index: d.current - 1, Tag: tag})
	return ss, nil
}
