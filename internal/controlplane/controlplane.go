// Package controlplane implements the REST surface the embedding host
// mounts: a thin set of gorilla/mux handlers that validate commands,
// read/write the settings store, and drive the connection registry and
// tool cache coordinator.
package controlplane

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/standardbeagle/mcpbroker/internal/registry"
	"github.com/standardbeagle/mcpbroker/internal/settings"
	"github.com/standardbeagle/mcpbroker/internal/toolcache"
)

// Handler owns the dependencies every REST endpoint needs.
type Handler struct {
	reg    *registry.Registry
	store  *settings.Store
	cache  *toolcache.Coordinator
	logger *slog.Logger
}

// New builds a Handler.
func New(reg *registry.Registry, store *settings.Store, cache *toolcache.Coordinator, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{reg: reg, store: store, cache: cache, logger: logger}
}

// Routes returns the mountable http.Handler exposing the server
// management endpoints plus the per-server health check.
func (h *Handler) Routes() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/servers", h.listServers).Methods(http.MethodGet)
	r.HandleFunc("/servers", h.addServer).Methods(http.MethodPost)
	r.HandleFunc("/servers/disabled", h.setDisabledServers).Methods(http.MethodPost)
	r.HandleFunc("/servers/{name}", h.deleteServer).Methods(http.MethodDelete)
	r.HandleFunc("/servers/{name}/start", h.startServer).Methods(http.MethodPost)
	r.HandleFunc("/servers/{name}/stop", h.stopServer).Methods(http.MethodPost)
	r.HandleFunc("/servers/{name}/list-tools", h.listTools).Methods(http.MethodGet)
	r.HandleFunc("/servers/{name}/disabled-tools", h.setDisabledTools).Methods(http.MethodPost)
	r.HandleFunc("/servers/{name}/reload-tools", h.reloadTools).Methods(http.MethodPost)
	r.HandleFunc("/servers/{name}/call-tool", h.callTool).Methods(http.MethodPost)
	r.HandleFunc("/servers/{name}/health", h.health).Methods(http.MethodGet)
	r.Use(h.requestLogger)
	return r
}

// requestLogger tags every request with a fresh correlation id so log
// lines from one control-plane call can be tied together.
func (h *Handler) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := uuid.New().String()
		start := time.Now()
		next.ServeHTTP(w, r)
		h.logger.Debug("control-plane request",
			"requestId", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(start))
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(v)
}

func writeErrorMsg(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func nameFromPath(r *http.Request) string {
	return mux.Vars(r)["name"]
}
