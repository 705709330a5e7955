// Package httpapi binds the upload coordinator to its HTTP surface.
package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/datalift/partstream/internal/coordinator"
	"github.com/datalift/partstream/internal/session"
)

// Server routes upload-protocol requests to a coordinator.
type Server struct {
	coord   coordinator.Coordinator
	metrics *Metrics
	router  *mux.Router
}

// NewServer wires the routes for the given coordinator. The session
// store is only used to feed the active-sessions gauge.
func NewServer(coord coordinator.Coordinator, sessions *session.Store) *Server {
	s := &Server{
		coord:   coord,
		metrics: NewMetrics(sessions),
	}

	r := mux.NewRouter()
	r.Use(s.logRequests)
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("ok"))
	}).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.HandlerFor(s.metrics.registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)

	apiRouter := r.PathPrefix("/api").Subrouter()
	apiRouter.Use(requireIdentity)
	apiRouter.HandleFunc("/uploads", s.handleInit).Methods(http.MethodPost)
	apiRouter.HandleFunc("/uploads/{session}/sign", s.handleSign).Methods(http.MethodPost)
	apiRouter.HandleFunc("/uploads/{session}/parts", s.handleListParts).Methods(http.MethodGet)
	apiRouter.HandleFunc("/uploads/{session}/parts/{number:[0-9]+}", s.handleUploadPart).Methods(http.MethodPut)
	apiRouter.HandleFunc("/uploads/{session}/complete", s.handleComplete).Methods(http.MethodPost)
	apiRouter.HandleFunc("/uploads/{session}/abort", s.handleAbort).Methods(http.MethodPost)

	s.router = r
	return s
}

// Metrics exposes the server's instruments for out-of-band updates
// such as the sweeper's reclaim counter.
func (s *Server) Metrics() *Metrics {
	return s.metrics
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
