// Package server implements the gateway's admin surface: a small JSON
// HTTP API for session and cluster inspection served as plain net/http
// handlers, plus a ConnectRPC health endpoint for orchestrators that
// expect one.
package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"runtime"
	"time"

	"connectrpc.com/connect"
	"connectrpc.com/grpchealth"

	"github.com/arcfix/fixrelay/internal/replication"
	"github.com/arcfix/fixrelay/internal/session"
)

// ErrSessionNotFound indicates no session exists for the requested key.
var ErrSessionNotFound = errors.New("server: session not found")

// healthServiceName is advertised on the grpchealth endpoint so
// orchestrators (Kubernetes, systemd sd_notify watchdogs via a sidecar,
// load balancers) can health-check this specific service by name.
const healthServiceName = "arcfix.fixrelay"

// clusterStatus is the JSON shape returned by GET /v1/cluster/status.
type clusterStatus struct {
	Role            string `json:"role"`
	Term            int64  `json:"term"`
	LeaderSessionID int64  `json:"leader_session_id,omitempty"`
	Position        int64  `json:"position"`
	CommitPosition  int64  `json:"commit_position"`
}

// stepDownResult is the JSON shape returned by POST /v1/cluster/step-down.
type stepDownResult struct {
	SteppedDown bool `json:"stepped_down"`
}

// errorBody is the JSON shape every non-2xx response carries.
type errorBody struct {
	Error string `json:"error"`
}

// handler holds the dependencies the admin endpoints read from.
type handler struct {
	sessions *session.Manager
	cluster  *replication.Engine
	logger   *slog.Logger
}

// New builds the admin HTTP handler: the JSON endpoints under /v1, wrapped
// in request logging and panic recovery, plus a ConnectRPC health check
// mounted at its standard path.
func New(sessions *session.Manager, cluster *replication.Engine, logger *slog.Logger) http.Handler {
	logger = logger.With(slog.String("component", "admin_server"))
	h := &handler{sessions: sessions, cluster: cluster, logger: logger}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/sessions", h.listSessions)
	mux.HandleFunc("GET /v1/sessions/{key}", h.getSession)
	mux.HandleFunc("GET /v1/cluster/status", h.clusterStatusHandler)
	mux.HandleFunc("POST /v1/cluster/step-down", h.stepDownHandler)

	checker := grpchealth.NewStaticChecker(
		grpchealth.HealthV1ServiceName,
		healthServiceName,
	)
	mux.Handle(grpchealth.NewHandler(checker,
		connect.WithInterceptors(LoggingInterceptor(logger), RecoveryInterceptor(logger))))

	return recoveryMiddleware(logger, loggingMiddleware(logger, mux))
}

func (h *handler) listSessions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.sessions.Sessions())
}

func (h *handler) getSession(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	for _, snap := range h.sessions.Sessions() {
		if snap.Key == key {
			writeJSON(w, http.StatusOK, snap)
			return
		}
	}
	writeError(w, http.StatusNotFound, ErrSessionNotFound)
}

func (h *handler) clusterStatusHandler(w http.ResponseWriter, r *http.Request) {
	snap := h.cluster.TermState().Snapshot()
	writeJSON(w, http.StatusOK, clusterStatus{
		Role:            h.cluster.Role().String(),
		Term:            snap.LeadershipTermID,
		LeaderSessionID: snap.LeaderSessionID,
		Position:        int64(snap.Position),
		CommitPosition:  int64(snap.CommitPosition),
	})
}

func (h *handler) stepDownHandler(w http.ResponseWriter, r *http.Request) {
	ok := h.cluster.StepDown(time.Now())
	if !ok {
		writeError(w, http.StatusConflict, replication.ErrNotLeader)
		return
	}
	writeJSON(w, http.StatusOK, stepDownResult{SteppedDown: true})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorBody{Error: err.Error()})
}

// loggingMiddleware logs every admin request with its path, status, and
// duration, mirroring LoggingInterceptor's shape for the plain-HTTP
// surface.
func loggingMiddleware(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		duration := time.Since(start)

		attrs := []slog.Attr{
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", sw.status),
			slog.Duration("duration", duration),
		}
		if sw.status >= 400 {
			logger.LogAttrs(r.Context(), slog.LevelWarn, "admin request completed with error", attrs...)
		} else {
			logger.LogAttrs(r.Context(), slog.LevelInfo, "admin request completed", attrs...)
		}
	})
}

// recoveryMiddleware recovers panics in admin handlers, logging the stack
// and returning a 500 instead of crashing the process, mirroring
// RecoveryInterceptor's shape for the plain-HTTP surface.
func recoveryMiddleware(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				buf := make([]byte, 4096)
				n := runtime.Stack(buf, false)
				logger.ErrorContext(r.Context(), "panic recovered in admin handler",
					slog.String("path", r.URL.Path),
					slog.Any("panic", rec),
					slog.String("stack", string(buf[:n])),
				)
				writeError(w, http.StatusInternalServerError, ErrPanicRecovered)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// statusWriter captures the status code written by a downstream handler so
// loggingMiddleware can report it.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}
