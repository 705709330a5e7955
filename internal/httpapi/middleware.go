package httpapi

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/datalift/partstream/internal/logger"
)

// IdentityHeader carries the opaque caller identity, populated by the
// fronting auth gateway. The coordinator never interprets it beyond
// equality with the session owner.
const IdentityHeader = "X-Auth-Identity"

type identityKey struct{}

// callerIdentity returns the authenticated identity of the request.
func callerIdentity(r *http.Request) string {
	id, _ := r.Context().Value(identityKey{}).(string)
	return id
}

// requireIdentity rejects requests that arrive without an identity.
func requireIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(IdentityHeader)
		if id == "" {
			writeJSON(w, http.StatusUnauthorized, errorBody("PermissionDenied", "missing caller identity"))
			return
		}
		ctx := context.WithValue(r.Context(), identityKey{}, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := r.URL.Path
		if cur := mux.CurrentRoute(r); cur != nil {
			if tpl, err := cur.GetPathTemplate(); err == nil {
				route = tpl
			}
		}
		s.metrics.RequestsServed.WithLabelValues(route, strconv.Itoa(rec.status)).Inc()
		logger.Debug().
			Str("method", r.Method).
			Str("route", route).
			Int("status", rec.status).
			Dur("elapsed", time.Since(start)).
			Msg("request served")
	})
}
