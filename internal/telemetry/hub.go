package telemetry

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rjboer/GoMSim/internal/logging"
)

// Config is the runtime configuration exposed by the hub.
type Config struct {
	HistoryLimit int `json:"historyLimit"`
}

const (
	minHistoryLimit = 1
	maxHistoryLimit = 10_000
)

func defaultConfig() Config {
	return Config{HistoryLimit: 500}
}

func validateConfig(cfg Config, base Config) (Config, error) {
	if base.HistoryLimit == 0 {
		base = defaultConfig()
	}
	if cfg.HistoryLimit == 0 {
		cfg.HistoryLimit = base.HistoryLimit
	}
	if cfg.HistoryLimit < minHistoryLimit || cfg.HistoryLimit > maxHistoryLimit {
		return Config{}, fmt.Errorf("history limit must be between %d and %d", minHistoryLimit, maxHistoryLimit)
	}
	return cfg, nil
}

// Hub keeps a bounded history of progress events and fans them out to live
// subscribers.
type Hub struct {
	mu          sync.RWMutex
	history     []Progress
	subscribers map[chan Progress]struct{}
	config      Config
	logger      logging.Logger
}

// NewHub builds a hub keeping at most historyLimit events.
func NewHub(historyLimit int, logger logging.Logger) *Hub {
	if logger == nil {
		logger = logging.Default()
	}
	cfg, err := validateConfig(Config{HistoryLimit: historyLimit}, defaultConfig())
	if err != nil {
		logger.Warn("invalid history limit, using default", logging.F("requested", historyLimit), logging.F("error", err))
		cfg = defaultConfig()
	}
	return &Hub{
		subscribers: make(map[chan Progress]struct{}),
		config:      cfg,
		logger:      logger.With(logging.F("subsystem", "telemetry")),
	}
}

// Report implements Reporter.
func (h *Hub) Report(p Progress) {
	if p.Timestamp.IsZero() {
		p.Timestamp = time.Now()
	}
	h.mu.Lock()
	h.history = append(h.history, p)
	if len(h.history) > h.config.HistoryLimit {
		h.history = h.history[len(h.history)-h.config.HistoryLimit:]
	}
	for ch := range h.subscribers {
		select {
		case ch <- p:
		default:
		}
	}
	h.mu.Unlock()
}

// History returns a copy of the stored events, oldest first.
func (h *Hub) History() []Progress {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]Progress, len(h.history))
	copy(out, h.history)
	return out
}

// ConfigSnapshot returns the current configuration.
func (h *Hub) ConfigSnapshot() Config {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.config
}

// Subscribe registers a listener for live events. Slow listeners miss events
// rather than block reporters.
func (h *Hub) Subscribe() (chan Progress, func()) {
	ch := make(chan Progress, 16)
	h.mu.Lock()
	h.subscribers[ch] = struct{}{}
	h.mu.Unlock()
	cancel := func() {
		h.mu.Lock()
		delete(h.subscribers, ch)
		close(ch)
		h.mu.Unlock()
	}
	return ch, cancel
}

func (h *Hub) applyConfig(cfg Config) {
	h.config = cfg
	if len(h.history) > cfg.HistoryLimit {
		h.history = h.history[len(h.history)-cfg.HistoryLimit:]
	}
}

func (h *Hub) handleHistory(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(h.History())
}

func (h *Hub) handleConfig(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(h.ConfigSnapshot())
	case http.MethodPost:
		var incoming Config
		if err := json.NewDecoder(r.Body).Decode(&incoming); err != nil {
			http.Error(w, fmt.Sprintf("invalid config payload: %v", err), http.StatusBadRequest)
			return
		}
		h.mu.Lock()
		cfg, err := validateConfig(incoming, h.config)
		if err == nil {
			h.applyConfig(cfg)
		}
		h.mu.Unlock()
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		h.logger.Info("telemetry config updated", logging.F("history_limit", cfg.HistoryLimit))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(cfg)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *Hub) handleLive(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ch, cancel := h.Subscribe()
	defer cancel()

	for _, p := range h.History() {
		writeEvent(w, p)
	}
	flusher.Flush()

	for {
		select {
		case p, ok := <-ch:
			if !ok {
				return
			}
			writeEvent(w, p)
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}

func writeEvent(w http.ResponseWriter, p Progress) {
	payload, _ := json.Marshal(p)
	w.Write([]byte("data: "))
	w.Write(payload)
	w.Write([]byte("\n\n"))
}
