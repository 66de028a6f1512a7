package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"evalert/internal/ics"
	appLog "evalert/internal/log"
	"evalert/internal/model"
	"evalert/internal/service"
)

const (
	maxJSONBody = 1 << 20
	maxICSBody  = 10 << 20

	readHeaderTimeout = 5 * time.Second
)

// EventService is what the HTTP layer needs from service.Service.
type EventService interface {
	Now() time.Time
	Location() *time.Location
	SubmitEvent(ctx context.Context, rec model.Record) (model.Event, error)
	ListEvents(ctx context.Context, owner string) ([]model.Event, error)
	FindUpcoming(ctx context.Context, owner string, now time.Time) ([]model.Event, error)
	FindConflicts(ctx context.Context, owner string) ([]model.ConflictPair, error)
	ImportRecords(ctx context.Context, recs []model.Record) (service.ImportResult, error)
	ImportICS(ctx context.Context, src ics.Source, body []byte) (service.ImportResult, error)
	ExportICS(ctx context.Context, owner string) (string, error)
}

// Server exposes the event API over HTTP.
type Server struct {
	svc      EventService
	gatherer prometheus.Gatherer
	mux      *http.ServeMux

	authUser string
	authPass string
}

type Option func(*Server)

// WithGatherer serves g on /metrics. Without it /metrics is not routed.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) {
		s.gatherer = g
	}
}

// WithBasicAuth protects every route except /health. Empty credentials
// leave auth off.
func WithBasicAuth(user, pass string) Option {
	return func(s *Server) {
		s.authUser = user
		s.authPass = pass
	}
}

func NewServer(svc EventService, opts ...Option) *Server {
	s := &Server{
		svc: svc,
		mux: http.NewServeMux(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.registerRoutes()
	return s
}

// Handler returns the routed handler wrapped in logging and, when
// configured, basic auth.
func (s *Server) Handler() http.Handler {
	h := http.Handler(s.mux)
	if s.basicAuthEnabled() {
		h = s.basicAuthMiddleware(h)
	}
	return requestLogger(h)
}

// HTTPServer builds the *http.Server for addr; the caller owns its lifecycle.
func (s *Server) HTTPServer(addr string) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
	}
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("/", s.handleIndex)
	s.mux.HandleFunc("/health", s.handleHealth)

	s.mux.HandleFunc("/add_event", s.handleAddEvent)
	s.mux.HandleFunc("/check_upcoming_events", s.handleCheckUpcoming)
	s.mux.HandleFunc("/check_conflicts", s.handleCheckConflicts)

	s.mux.HandleFunc("/api/events", s.handleListEvents)
	s.mux.HandleFunc("/api/events/batch", s.handleBatch)
	s.mux.HandleFunc("/api/calendar/import", s.handleImportICS)
	s.mux.HandleFunc("/api/calendar.ics", s.handleExportICS)

	if s.gatherer != nil {
		s.mux.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
}

func (s *Server) basicAuthEnabled() bool {
	return s.authUser != "" && s.authPass != ""
}

func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}
		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, s.authUser) || !secureCompare(p, s.authPass) {
			w.Header().Set("WWW-Authenticate", `Basic realm="evalert", charset="UTF-8"`)
			writeError(w, http.StatusUnauthorized, codeUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func secureCompare(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		kv := []any{
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start),
		}
		if r.URL.Path == "/health" || r.URL.Path == "/metrics" {
			appLog.Debug("request", kv...)
			return
		}
		appLog.Info("request", kv...)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

const (
	codeMethodNotAllowed = "method_not_allowed"
	codeNotFound         = "not_found"
	codeInvalidBody      = "invalid_request_body"
	codeUnauthorized     = "unauthorized"
	codeInternalError    = "internal_error"
)

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorResponse{Error: msg, Code: code})
}

// writeServiceError maps service errors to 400 for caller mistakes and 500
// otherwise.
func writeServiceError(w http.ResponseWriter, err error) {
	if service.IsValidation(err) {
		writeError(w, http.StatusBadRequest, service.Code(err), err.Error())
		return
	}
	appLog.Error("request failed", err)
	writeError(w, http.StatusInternalServerError, codeInternalError, "internal error")
}

func allowMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method == method {
		return true
	}
	w.Header().Set("Allow", method)
	writeError(w, http.StatusMethodNotAllowed, codeMethodNotAllowed, "method not allowed")
	return false
}
