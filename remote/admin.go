package remote

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/wippyai/jitlink/cache"
)

// AdminConfig configures the admin HTTP handler.
type AdminConfig struct {
	Server   *Server
	Cache    *cache.Cache
	Gatherer prometheus.Gatherer
	Logger   *zap.Logger
}

type admin struct {
	server *Server
	cache  *cache.Cache
	log    *zap.Logger
}

// NewAdminHandler serves health, metrics, session and cache information.
func NewAdminHandler(cfg AdminConfig) http.Handler {
	h := &admin{server: cfg.Server, cache: cfg.Cache, log: cfg.Logger}
	if h.log == nil {
		h.log = zap.NewNop()
	}
	gatherer := cfg.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	r := chi.NewRouter()
	r.Get("/healthz", h.handleHealth)
	r.Get("/sessions", h.handleSessions)
	r.Get("/cache", h.handleCache)
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	return r
}

func (h *admin) handleHealth(w http.ResponseWriter, r *http.Request) {
	h.encodeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *admin) handleSessions(w http.ResponseWriter, r *http.Request) {
	sessions := []SessionInfo{}
	if h.server != nil {
		sessions = h.server.Sessions()
	}
	h.encodeJSON(w, http.StatusOK, sessions)
}

func (h *admin) handleCache(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		h.encodeJSON(w, http.StatusNotFound, map[string]string{"error": "cache disabled"})
		return
	}
	stats, err := h.cache.Stats()
	if err != nil {
		h.log.Warn("Failed to read cache stats", zap.Error(err))
		h.encodeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if stats == nil {
		stats = []cache.TargetStats{}
	}
	h.encodeJSON(w, http.StatusOK, map[string]any{"dir": h.cache.Dir(), "targets": stats})
}

func (h *admin) encodeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.log.Debug("Failed to write admin response", zap.Error(err))
	}
}
