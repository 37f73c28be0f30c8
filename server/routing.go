package server

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/teranos/jobpulse/logger"
	"github.com/teranos/jobpulse/metrics"
)

// UserHeader carries the caller's identity; authentication happens upstream
const UserHeader = "X-User-ID"

// RequestIDHeader correlates a request across jobpulse and the services it calls
const RequestIDHeader = "X-Request-ID"

// setupHTTPRoutes configures all HTTP handlers
func (s *Server) setupHTTPRoutes() {
	// Application actions, per-user rate limited
	s.mux.HandleFunc("POST /api/applications/{id}/accept", s.corsMiddleware(s.withUser(s.HandleAccept)))
	s.mux.HandleFunc("POST /api/applications/{id}/regenerate", s.corsMiddleware(s.withUser(s.HandleRegenerate)))
	s.mux.HandleFunc("POST /api/applications/{id}/rollback", s.corsMiddleware(s.withUser(s.HandleRollback)))

	// Generation pipeline progress (CloudEvents or plain JSON)
	s.mux.HandleFunc("POST /api/callbacks/generation", s.HandleGenerationCallback)

	s.mux.HandleFunc("GET /api/notifications", s.corsMiddleware(s.withUser(s.HandleListNotifications)))
	s.mux.HandleFunc("POST /api/notifications/{id}/read", s.corsMiddleware(s.withUser(s.HandleMarkRead)))
	s.mux.HandleFunc("GET /ws/notifications", s.HandleNotificationStream)

	s.mux.HandleFunc("OPTIONS /api/{path...}", s.corsMiddleware(func(w http.ResponseWriter, r *http.Request) {}))

	s.mux.Handle("GET /metrics", metrics.Handler())
	s.mux.HandleFunc("GET /health", s.corsMiddleware(s.HandleHealth))
}

// corsMiddleware adds CORS headers to HTTP responses using configured allowed origins.
// Uses the same origin validation as WebSocket connections (server.allowed_origins config)
func (s *Server) corsMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && s.checkOrigin(r) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Credentials", "true")
			w.Header().Add("Vary", "Origin")
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, "+UserHeader+", "+RequestIDHeader)

		// Handle preflight requests
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next(w, r)
	}
}

// withUser requires the identity header and applies the per-user request limit
func (s *Server) withUser(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := r.Header.Get(UserHeader)
		if userID == "" {
			writeError(w, http.StatusUnauthorized, UserHeader+" header required")
			return
		}
		if err := s.limiter.Allow(userID); err != nil {
			s.logger.Warnw("Request rate limited",
				logger.FieldUserID, userID,
				logger.FieldPath, r.URL.Path,
			)
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next(w, r)
	}
}

// requestLogger tags each request with a request ID and logs its outcome
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get(RequestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, requestID)
		r = r.WithContext(logger.WithRequestID(r.Context(), requestID))

		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		s.logger.Debugw("Request served",
			logger.FieldRequestID, requestID,
			logger.FieldMethod, r.Method,
			logger.FieldPath, r.URL.Path,
			logger.FieldStatus, rec.status,
			logger.FieldDurationMS, time.Since(start).Milliseconds(),
		)
	})
}
