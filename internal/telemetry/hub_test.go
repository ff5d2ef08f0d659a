package telemetry

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rjboer/GoMSim/internal/logging"
)

func newTestHub(limit int) *Hub {
	return NewHub(limit, logging.New(logging.Debug, logging.Text, io.Discard))
}

func TestHubHistoryIsBounded(t *testing.T) {
	hub := newTestHub(3)
	for i := 0; i < 5; i++ {
		hub.Report(Progress{Task: "timestream", Index: i})
	}
	h := hub.History()
	if len(h) != 3 {
		t.Fatalf("expected 3 events, got %d", len(h))
	}
	if h[0].Index != 2 || h[2].Index != 4 {
		t.Fatalf("history kept the wrong events: %+v", h)
	}
	if h[0].Timestamp.IsZero() {
		t.Fatalf("timestamp should be filled in")
	}
}

func TestHubSubscribeReceivesEvents(t *testing.T) {
	hub := newTestHub(10)
	ch, cancel := hub.Subscribe()
	defer cancel()
	hub.Report(Progress{Kind: "sidereal_day", Tag: "lsd_11"})
	p := <-ch
	if p.Tag != "lsd_11" {
		t.Fatalf("unexpected event %+v", p)
	}
}

func TestHandleHistory(t *testing.T) {
	hub := newTestHub(10)
	hub.Report(Progress{Task: "simulate", Kind: "sidereal"})
	srv := NewWebServer(":0", hub, nil, nil)

	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/history", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var got []Progress
	if err := json.NewDecoder(rr.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got) != 1 || got[0].Kind != "sidereal" {
		t.Fatalf("history %+v", got)
	}
}

func TestHandleConfigUpdate(t *testing.T) {
	hub := newTestHub(10)
	for i := 0; i < 8; i++ {
		hub.Report(Progress{Index: i})
	}
	body := bytes.NewBufferString(`{"historyLimit": 2}`)
	rr := httptest.NewRecorder()
	hub.handleConfig(rr, httptest.NewRequest(http.MethodPost, "/api/config", body))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if len(hub.History()) != 2 {
		t.Fatalf("history not trimmed to new limit")
	}

	rr = httptest.NewRecorder()
	hub.handleConfig(rr, httptest.NewRequest(http.MethodPost, "/api/config", strings.NewReader(`{"historyLimit": 100000}`)))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for out of range limit, got %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	hub.handleConfig(rr, httptest.NewRequest(http.MethodDelete, "/api/config", nil))
	if rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rr.Code)
	}
}

func TestExtraHandlersAreMounted(t *testing.T) {
	hub := newTestHub(1)
	extra := map[string]http.Handler{
		"/metrics": http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { io.WriteString(w, "ok") }),
	}
	srv := NewWebServer(":0", hub, nil, extra)
	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Body.String() != "ok" {
		t.Fatalf("extra handler not served: %q", rr.Body.String())
	}
}

type recording struct{ events []Progress }

func (r *recording) Report(p Progress) { r.events = append(r.events, p) }

func TestMultiReporterFansOut(t *testing.T) {
	a, b := &recording{}, &recording{}
	MultiReporter{a, nil, b}.Report(Progress{Index: 7})
	if len(a.events) != 1 || len(b.events) != 1 || b.events[0].Index != 7 {
		t.Fatalf("fan-out failed")
	}
}

func TestStdoutReporterLogs(t *testing.T) {
	var buf bytes.Buffer
	r := NewStdoutReporter(logging.New(logging.Info, logging.JSON, &buf))
	r.Report(Progress{Task: "timestream", Kind: "timestream", Index: 2, Samples: 100})
	out := buf.String()
	if !strings.Contains(out, `"samples":100`) || !strings.Contains(out, "output emitted") {
		t.Fatalf("unexpected log line %s", out)
	}
}
