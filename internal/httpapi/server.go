// Package httpapi exposes the fleet control plane (host enrollment,
// inventory, power control, clone, guest-tools install, tasks,
// credentials) as a JSON REST facade over internal/store and its
// background workers.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"opsnav/internal/apperr"
	"opsnav/internal/clone"
	"opsnav/internal/logger"
	"opsnav/internal/power"
	"opsnav/internal/reconciler"
	"opsnav/internal/secrets"
	"opsnav/internal/store"
	"opsnav/internal/tasks"
)

// Server wires the REST facade to the daemon's components.
type Server struct {
	store        *store.Store
	reconciler   *reconciler.Reconciler
	tasks        *tasks.Tracker
	power        *power.Controller
	clone        *clone.Orchestrator
	secrets      secrets.SecretStore
	defaultCreds defaultHostCredential
	log          logger.Logger
	insecure     bool
	corsOrigins  []string
	httpServer   *http.Server
}

// defaultHostCredential is the fallback applied to host enrollment when
// the request omits a password, mirroring the original's
// "data.password or os.getenv('ESXI_PASSWORD')" behavior.
type defaultHostCredential struct {
	Username string
	Password string
}

// New builds a Server. corsOrigins empty means "allow any origin",
// matching a permissive local/dev deployment. ss and defaultPassword may
// be the zero value when no fallback credential is configured.
func New(
	s *store.Store,
	r *reconciler.Reconciler,
	tr *tasks.Tracker,
	pc *power.Controller,
	co *clone.Orchestrator,
	ss secrets.SecretStore,
	defaultUsername, defaultPassword string,
	log logger.Logger,
	insecure bool,
	corsOrigins []string,
	addr string,
) *Server {
	srv := &Server{
		store: s, reconciler: r, tasks: tr, power: pc, clone: co, secrets: ss,
		defaultCreds: defaultHostCredential{Username: defaultUsername, Password: defaultPassword},
		log:          log, insecure: insecure, corsOrigins: corsOrigins,
	}

	mux := http.NewServeMux()
	srv.registerRoutes(mux)

	srv.httpServer = &http.Server{
		Addr:         addr,
		Handler:      srv.corsMiddleware(srv.loggingMiddleware(mux)),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	return srv
}

func (s *Server) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /virtualization/hosts", s.handleListHosts)
	mux.HandleFunc("POST /virtualization/hosts", s.handleCreateHost)
	mux.HandleFunc("POST /virtualization/hosts/reorder", s.handleReorderHosts)
	mux.HandleFunc("PUT /virtualization/hosts/{id}", s.handleUpdateHost)
	mux.HandleFunc("DELETE /virtualization/hosts/{id}", s.handleDeleteHost)

	mux.HandleFunc("GET /virtualization/vms", s.handleListVMs)
	mux.HandleFunc("PATCH /virtualization/vms/{id}", s.handleUpdateVM)
	mux.HandleFunc("POST /virtualization/vms/{id}/power", s.handlePowerVM)
	mux.HandleFunc("POST /virtualization/vms/{id}/clone", s.handleCloneVM)
	mux.HandleFunc("GET /virtualization/vms/{id}/console", s.handleConsole)
	mux.HandleFunc("POST /virtualization/vms/{id}/install-tools", s.handleInstallTools)

	mux.HandleFunc("POST /virtualization/sync", s.handleSync)
	mux.HandleFunc("GET /virtualization/datastores/stats", s.handleDatastoreStats)

	mux.HandleFunc("GET /tasks", s.handleListTasks)
	mux.HandleFunc("GET /tasks/{id}", s.handleGetTask)

	mux.HandleFunc("GET /credentials", s.handleListCredentials)
	mux.HandleFunc("POST /credentials", s.handleCreateCredential)
	mux.HandleFunc("DELETE /credentials/{id}", s.handleDeleteCredential)

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())
}

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	s.log.Info("starting api server", "addr", s.httpServer.Addr)
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests and closes the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("shutting down api server")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.log.Debug("http request", "method", r.Method, "path", r.URL.Path, "duration", time.Since(start))
	})
}

// corsMiddleware allows the configured origins (or any origin, if none
// were configured) to call the facade from a browser-based dashboard.
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && s.originAllowed(origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) originAllowed(origin string) bool {
	if len(s.corsOrigins) == 0 {
		return true
	}
	for _, o := range s.corsOrigins {
		if o == "*" || o == origin {
			return true
		}
	}
	return false
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.jsonResponse(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// jsonResponse writes data as the JSON body with statusCode.
func (s *Server) jsonResponse(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

// errorResponse maps err's apperr.Kind to an HTTP status and writes a
// {"error": "..."} body, logging anything that isn't a plain validation
// failure (those are just the caller getting the request wrong).
func (s *Server) errorResponse(w http.ResponseWriter, err error) {
	s.writeErrorResponse(w, err, apperr.HTTPStatus(apperr.KindOf(err)))
}

// probeErrorResponse is errorResponse's variant for the host-enrollment
// probe stage, where an AuthKind error means the hypervisor actively
// rejected the supplied credentials (502) rather than the request simply
// omitting one (400, already handled before Probe is ever called).
func (s *Server) probeErrorResponse(w http.ResponseWriter, err error) {
	status := apperr.HTTPStatus(apperr.KindOf(err))
	if apperr.KindOf(err) == apperr.AuthKind {
		status = apperr.HTTPStatusAuthRejected()
	}
	s.writeErrorResponse(w, err, status)
}

func (s *Server) writeErrorResponse(w http.ResponseWriter, err error, status int) {
	kind := apperr.KindOf(err)
	if kind != apperr.ValidationKind && kind != apperr.NotFoundKind {
		s.log.Warn("api request failed", "status", status, "error", err)
	}
	s.jsonResponse(w, status, map[string]string{"error": err.Error()})
}

func decodeJSON(r *http.Request, v interface{}) error {
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		return apperr.Wrap(apperr.ValidationKind, "invalid request body", err)
	}
	return nil
}
