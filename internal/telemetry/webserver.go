package telemetry

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/rjboer/GoMSim/internal/logging"
)

// WebServer exposes the hub's history, live feed and configuration over HTTP.
type WebServer struct {
	srv    *http.Server
	hub    *Hub
	logger logging.Logger
}

// NewWebServer builds a server for hub. Extra handlers, such as a metrics
// endpoint, are mounted by pattern.
func NewWebServer(addr string, hub *Hub, logger logging.Logger, extra map[string]http.Handler) *WebServer {
	if logger == nil {
		logger = logging.Default()
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/api/history", hub.handleHistory)
	mux.HandleFunc("/api/live", hub.handleLive)
	mux.HandleFunc("/api/config", hub.handleConfig)
	for pattern, h := range extra {
		mux.Handle(pattern, h)
	}
	return &WebServer{
		hub:    hub,
		logger: logger,
		srv:    &http.Server{Addr: addr, Handler: mux},
	}
}

// Handler returns the server's routes.
func (w *WebServer) Handler() http.Handler { return w.srv.Handler }

// Start listens until the context is canceled.
func (w *WebServer) Start(ctx context.Context) {
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := w.srv.Shutdown(shutdownCtx); err != nil {
			w.logger.Warn("telemetry shutdown", logging.F("error", err))
		}
	}()

	if err := w.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		w.logger.Error("telemetry server error", logging.F("error", err))
	}
}
