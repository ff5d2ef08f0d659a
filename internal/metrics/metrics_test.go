package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCollectorCounts(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, err := NewCollector(reg)
	if err != nil {
		t.Fatalf("new collector: %v", err)
	}
	c.AddOrdersProjected(3)
	c.AddOrdersProjected(2)
	c.OutputEmitted("timestream")
	c.OutputEmitted("timestream")
	c.OutputEmitted("sidereal_day")

	if got := testutil.ToFloat64(c.OrdersProjected); got != 5 {
		t.Fatalf("orders projected = %v", got)
	}
	if got := testutil.ToFloat64(c.OutputsEmitted.WithLabelValues("timestream")); got != 2 {
		t.Fatalf("timestream outputs = %v", got)
	}
}

func TestObserveRedistributeCountsRankZeroOnly(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, _ := NewCollector(reg)
	for rank := 0; rank < 4; rank++ {
		c.ObserveRedistribute(rank, 0, 2, time.Millisecond)
	}
	if n := testutil.CollectAndCount(c.RedistributeDuration); n != 1 {
		t.Fatalf("expected one series, got %d", n)
	}
	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if !strings.Contains(rec.Body.String(), `mmsim_redistribute_duration_seconds_count{from="0",to="2"} 1`) {
		t.Fatalf("histogram not exposed:\n%s", rec.Body.String())
	}
}

func TestCollectorReusesRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	a, err := NewCollector(reg)
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	b, err := NewCollector(reg)
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	a.AddOrdersProjected(1)
	if got := testutil.ToFloat64(b.OrdersProjected); got != 1 {
		t.Fatalf("collectors should share the registered counter, got %v", got)
	}
}

func TestNilCollectorIsSafe(t *testing.T) {
	var c *Collector
	c.AddOrdersProjected(1)
	c.OutputEmitted("x")
	c.ObserveRedistribute(0, 0, 1, time.Second)
	if c.Handler() == nil {
		t.Fatalf("nil collector should still serve a handler")
	}
}
