package api

import (
	"net/http"
	"time"

	"attendance-relay/internal/utils"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

// NewRouter wires the /api/v1 routes.
func NewRouter(h *Handler) *mux.Router {
	router := mux.NewRouter()

	api := router.PathPrefix("/api/v1").Subrouter()

	// Health check
	api.HandleFunc("/health", h.HealthCheck).Methods("GET")

	// Devices
	api.HandleFunc("/devices", h.GetDevices).Methods("GET")
	api.HandleFunc("/devices/{ip}/recent", h.GetRecentLogs).Methods("GET")
	api.HandleFunc("/devices/{ip}/pending", h.GetPendingLogs).Methods("GET")

	// Failed-log retry
	api.HandleFunc("/sweep", h.TriggerSweep).Methods("POST")

	router.Use(corsMiddleware)
	router.Use(loggingMiddleware)

	return router
}

// NewServer builds the HTTP server for addr. Sweeps can take a while, so the
// write timeout is generous.
func NewServer(addr string, h *Handler) *http.Server {
	return &http.Server{
		Addr:         addr,
		Handler:      NewRouter(h),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 2 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		utils.Logger.WithFields(logrus.Fields{
			"method":   r.Method,
			"uri":      r.RequestURI,
			"remote":   r.RemoteAddr,
			"duration": time.Since(start).String(),
		}).Debug("HTTP request")
	})
}
