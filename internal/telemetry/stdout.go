package telemetry

import (
	"time"

	"github.com/rjboer/GoMSim/internal/logging"
)

// Progress describes one container emitted by a simulation task.
type Progress struct {
	Timestamp time.Time `json:"timestamp"`
	Task      string    `json:"task"`
	Kind      string    `json:"kind"`
	Index     int       `json:"index"`
	Tag       string    `json:"tag,omitempty"`
	Samples   int       `json:"samples,omitempty"`
	Start     float64   `json:"start,omitempty"`
	End       float64   `json:"end,omitempty"`
}

// Reporter receives progress events.
type Reporter interface {
	Report(p Progress)
}

// StdoutReporter logs every event.
type StdoutReporter struct {
	logger logging.Logger
}

// NewStdoutReporter builds a reporter writing through logger.
func NewStdoutReporter(logger logging.Logger) StdoutReporter {
	if logger == nil {
		logger = logging.Default()
	}
	return StdoutReporter{logger: logger}
}

// Report implements Reporter.
func (r StdoutReporter) Report(p Progress) {
	fields := []logging.Field{
		{Key: "subsystem", Value: "telemetry"},
		{Key: "task", Value: p.Task},
		{Key: "kind", Value: p.Kind},
		{Key: "index", Value: p.Index},
	}
	if p.Tag != "" {
		fields = append(fields, logging.Field{Key: "tag", Value: p.Tag})
	}
	if p.Samples != 0 {
		fields = append(fields, logging.Field{Key: "samples", Value: p.Samples})
	}
	if p.End != 0 {
		fields = append(fields,
			logging.Field{Key: "start", Value: p.Start},
			logging.Field{Key: "end", Value: p.End},
		)
	}
	r.logger.Info("output emitted", fields...)
}

// MultiReporter fans out events to several reporters.
type MultiReporter []Reporter

// Report implements Reporter.
func (m MultiReporter) Report(p Progress) {
	for _, r := range m {
		if r != nil {
			r.Report(p)
		}
	}
}
