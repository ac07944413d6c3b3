package handlers

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Pinger reports whether the backing database is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// RouterConfig collects the router's collaborators.
type RouterConfig struct {
	Identify *IdentifyHandler
	DB       Pinger
	// Gatherer backs /metrics; nil uses the default registry.
	Gatherer prometheus.Gatherer
}

// NewRouter wires every route and the shared middleware.
func NewRouter(cfg RouterConfig) *mux.Router {
	router := mux.NewRouter()
	router.Use(requestID, accessLog, recoverer)

	router.HandleFunc("/identify", cfg.Identify.Handle).Methods(http.MethodPost)
	router.HandleFunc("/health", health(cfg.DB)).Methods(http.MethodGet)

	gatherer := cfg.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	router.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)

	// mux skips middleware for these, so wrap them explicitly
	router.NotFoundHandler = requestID(accessLog(http.HandlerFunc(fallback)))
	router.MethodNotAllowedHandler = requestID(accessLog(http.HandlerFunc(methodNotAllowed)))
	return router
}

func health(db Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if db != nil {
			if err := db.Ping(r.Context()); err != nil {
				writeJSON(r.Context(), w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
				return
			}
		}
		writeJSON(r.Context(), w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

func fallback(w http.ResponseWriter, r *http.Request) {
	writeJSON(r.Context(), w, http.StatusOK, map[string]string{"message": "Project is running successfully"})
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request) {
	writeError(r.Context(), w, http.StatusMethodNotAllowed, "Method not allowed")
}
