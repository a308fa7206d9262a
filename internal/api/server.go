package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/shehryarbajwa/browserfarm/internal/proxy"
	"github.com/shehryarbajwa/browserfarm/internal/ratelimit"
)

// SetupRoutes configures all HTTP routes
func (h *Handler) SetupRoutes(envHandler *EnvironmentHandler, proxyServer *proxy.Server, rateLimiter *ratelimit.Limiter) *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/healthz", h.Health).Methods("GET")

	api := r.PathPrefix("/v1").Subrouter()

	// Run and environment mutations are rate limited per client
	limited := api.PathPrefix("").Subrouter()
	limited.Use(RateLimitMiddleware(rateLimiter))

	limited.HandleFunc("/runs", h.CreateRun).Methods("POST")
	limited.HandleFunc("/runs/{id}", h.CancelRun).Methods("DELETE")

	limited.HandleFunc("/environments", envHandler.CreateEnvironment).Methods("POST")
	limited.HandleFunc("/environments/{id}/launch", envHandler.LaunchEnvironment).Methods("POST")
	limited.HandleFunc("/environments/{id}/stop", envHandler.StopEnvironment).Methods("POST")
	limited.HandleFunc("/environments/{id}", envHandler.DeleteEnvironment).Methods("DELETE")

	// Reads are polled, so they are not limited
	api.HandleFunc("/runs", h.ListRuns).Methods("GET")
	api.HandleFunc("/runs/{id}", h.GetRun).Methods("GET")
	api.HandleFunc("/environments", envHandler.ListEnvironments).Methods("GET")
	api.HandleFunc("/runs/{id}/debug", h.GetDebugURL).Methods("GET")
	api.HandleFunc("/runs/{id}/ws", func(w http.ResponseWriter, r *http.Request) {
		proxyServer.HandleDebugConnection(w, r, mux.Vars(r)["id"])
	}).Methods("GET")

	r.Use(corsMiddleware)

	return r
}

// corsMiddleware adds CORS headers
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Client-ID")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
