// Package metrics exposes Prometheus instrumentation for simulation runs.
package metrics

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector bundles the simulator's metrics. A nil *Collector is valid and
// records nothing.
type Collector struct {
	gatherer prometheus.Gatherer

	RedistributeDuration *prometheus.HistogramVec
	OrdersProjected      prometheus.Counter
	OutputsEmitted       *prometheus.CounterVec
}

// NewCollector registers the metrics against reg, defaulting to the global
// registry when nil. Registering twice against the same registry reuses the
// existing collectors.
func NewCollector(reg prometheus.Registerer) (*Collector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	redistribute, err := register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "mmsim_redistribute_duration_seconds",
		Help:    "Time spent in all-to-all redistributions, labeled by source and target axis.",
		Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
	}, []string{"from", "to"}), "mmsim_redistribute_duration_seconds")
	if err != nil {
		return nil, err
	}
	orders, err := register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "mmsim_orders_projected_total",
		Help: "Harmonic orders projected through the beam operator.",
	}), "mmsim_orders_projected_total")
	if err != nil {
		return nil, err
	}
	outputs, err := register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mmsim_outputs_emitted_total",
		Help: "Containers emitted by simulation tasks, labeled by kind.",
	}, []string{"kind"}), "mmsim_outputs_emitted_total")
	if err != nil {
		return nil, err
	}

	return &Collector{
		gatherer:             gatherer,
		RedistributeDuration: redistribute,
		OrdersProjected:      orders,
		OutputsEmitted:       outputs,
	}, nil
}

// ObserveRedistribute has the signature of mpiarray.Group.OnRedistribute.
// Only rank 0 records so that one collective counts once.
func (c *Collector) ObserveRedistribute(rank, fromAxis, toAxis int, elapsed time.Duration) {
	if c == nil || rank != 0 {
		return
	}
	c.RedistributeDuration.WithLabelValues(strconv.Itoa(fromAxis), strconv.Itoa(toAxis)).Observe(elapsed.Seconds())
}

// AddOrdersProjected counts n projected orders.
func (c *Collector) AddOrdersProjected(n int) {
	if c == nil {
		return
	}
	c.OrdersProjected.Add(float64(n))
}

// OutputEmitted counts one emitted container of the given kind.
func (c *Collector) OutputEmitted(kind string) {
	if c == nil {
		return
	}
	c.OutputsEmitted.WithLabelValues(kind).Inc()
}

// Handler exposes a /metrics handler for the collector's registry.
func (c *Collector) Handler() http.Handler {
	if c == nil || c.gatherer == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(c.gatherer, promhttp.HandlerOpts{})
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C, name string) (C, error) {
	if err := reg.Register(c); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
			var zero C
			return zero, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		var zero C
		return zero, err
	}
	return c, nil
}
