// Package synthesis turns sky harmonic coefficients into simulated
// interferometer visibilities: a sidereal stream per simulation, expanded to
// the full product triangle, resampled onto UTC time grids or replicated once
// per sidereal day.
//
// Every task runs on each worker of an mpiarray group with its own instance;
// the only synchronisation between workers happens inside redistributions.
package synthesis

import (
	"time"

	"github.com/rjboer/GoMSim/internal/dsp"
	"github.com/rjboer/GoMSim/internal/logging"
	"github.com/rjboer/GoMSim/internal/metrics"
	"github.com/rjboer/GoMSim/internal/mpiarray"
	"github.com/rjboer/GoMSim/internal/telemetry"
)

// Output kinds used for metrics and progress events.
const (
	KindSidereal    = "sidereal"
	KindExpanded    = "expanded"
	KindTimeStream  = "timestream"
	KindSiderealDay = "sidereal_day"
)

// Options carries the ambient collaborators shared by every task.
type Options struct {
	Logger   logging.Logger
	Metrics  *metrics.Collector
	Reporter telemetry.Reporter
	Plans    *dsp.PlanCache
}

func (o Options) withDefaults() Options {
	if o.Logger == nil {
		o.Logger = logging.Default()
	}
	if o.Plans == nil {
		o.Plans = dsp.NewPlanCache()
	}
	return o
}

// emitted records one output. Only rank 0 reports so that a collective
// output counts once.
func (o Options) emitted(comm *mpiarray.Comm, p telemetry.Progress) {
	if comm.Rank() != 0 {
		return
	}
	o.Metrics.OutputEmitted(p.Kind)
	if o.Reporter != nil {
		if p.Timestamp.IsZero() {
			p.Timestamp = time.Now()
		}
		o.Reporter.Report(p)
	}
}
