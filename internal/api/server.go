package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/contact-harvester/internal/config"
	"github.com/JakeFAU/contact-harvester/internal/credstore"
	"github.com/JakeFAU/contact-harvester/internal/harvest"
	"github.com/JakeFAU/contact-harvester/internal/jobs"
	"github.com/JakeFAU/contact-harvester/internal/metrics"
	"github.com/JakeFAU/contact-harvester/internal/store"
)

// Job kinds started by the control panel.
const (
	KindSocial  = "social"
	KindWebsite = "website"
	KindFilter  = "filter"
)

const (
	maxUploadBytes = credstore.MaxServiceAccountBytes + 4<<10
	requestTimeout = 60 * time.Second
)

// Runner executes harvest profiles and the email filter.
type Runner interface {
	RunProfile(ctx context.Context, profile string, logger *zap.Logger) (harvest.Summary, error)
	RunFilter(ctx context.Context, logger *zap.Logger) (harvest.FilterSummary, error)
	SheetID(ctx context.Context) (string, error)
}

// Credentials persists the uploaded service-account key and sheet ID.
type Credentials interface {
	SaveServiceAccount(ctx context.Context, r io.Reader) (string, error)
	SaveSheetID(ctx context.Context, id string) error
}

// JobRunner starts background jobs and reports their status.
type JobRunner interface {
	Start(ctx context.Context, kind string, fn jobs.Func) (jobs.Job, error)
	Get(ctx context.Context, id string) (jobs.Job, error)
	List(ctx context.Context) ([]jobs.Job, error)
}

// Deps bundles the collaborators the server routes to.
type Deps struct {
	Runner      Runner
	Credentials Credentials
	Jobs        JobRunner
	// Logs serves GET /ws/logs; nil disables the route.
	Logs http.Handler
	// Ledger backs /v1/runs; nil disables the routes.
	Ledger store.ResultLedger
}

// Server wires HTTP handlers to the job runner and credential store.
type Server struct {
	router chi.Router
	deps   Deps
	cfg    config.Config
	logger *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(deps Deps, cfg config.Config, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		deps:   deps,
		cfg:    cfg,
		logger: logger,
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(metrics.Middleware)

	r.Get("/", servePanel)
	r.Get("/static/*", serveStatic)
	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Group(func(r chi.Router) {
		if cfg.Auth.Enabled {
			r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
		}
		if deps.Logs != nil {
			r.Method(http.MethodGet, "/ws/logs", deps.Logs)
		}

		r.Group(func(r chi.Router) {
			// The log socket is long-lived and cannot sit behind the timeout.
			r.Use(timeoutMiddleware(requestTimeout))

			r.Post("/upload-json", s.uploadServiceAccount)
			r.Post("/save-sheet-id", s.saveSheetID)
			r.Post("/run-facebook-scraper", s.startProfile(KindSocial, config.ProfileSocial))
			r.Post("/run-website-scraper", s.startProfile(KindWebsite, config.ProfileWebsite))
			r.Post("/run-email-filter", s.startFilter)

			r.Route("/v1", func(r chi.Router) {
				r.Get("/jobs", s.listJobs)
				r.Get("/jobs/{job_id}", s.getJob)
				if deps.Ledger != nil {
					runs := NewRunsHandler(deps.Ledger, logger.Named("runs"))
					r.Get("/runs/{run_id}", runs.GetRun)
					r.Get("/runs/{run_id}/targets", runs.ListTargets)
				}
			})
		})
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	if s.deps.Runner == nil || s.deps.Jobs == nil {
		writeError(w, http.StatusServiceUnavailable, "job runner unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) uploadServiceAccount(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	file, _, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "No file uploaded")
		return
	}
	defer func() {
		_ = file.Close()
	}()
	if _, err := s.deps.Credentials.SaveServiceAccount(r.Context(), file); err != nil {
		if errors.Is(err, credstore.ErrInvalidKey) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.logger.Error("Saving service account failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to save service account")
		return
	}
	s.logger.Info("Service account uploaded")
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "message": "JSON uploaded"})
}

func (s *Server) saveSheetID(w http.ResponseWriter, r *http.Request) {
	id := r.FormValue("sheet_id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "Missing Sheet ID")
		return
	}
	if err := s.deps.Credentials.SaveSheetID(r.Context(), id); err != nil {
		s.logger.Error("Saving sheet ID failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to save sheet ID")
		return
	}
	s.logger.Info("Sheet ID saved")
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "message": "Sheet ID saved"})
}

func (s *Server) startProfile(kind, profile string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.start(w, r, kind, func(ctx context.Context, logger *zap.Logger) (any, error) {
			summary, err := s.deps.Runner.RunProfile(ctx, profile, logger)
			return summary, err
		})
	}
}

func (s *Server) startFilter(w http.ResponseWriter, r *http.Request) {
	s.start(w, r, KindFilter, func(ctx context.Context, logger *zap.Logger) (any, error) {
		summary, err := s.deps.Runner.RunFilter(ctx, logger)
		return summary, err
	})
}

// start refuses to launch a sheets-backed job without a sheet ID, then hands
// fn to the job runner and returns immediately.
func (s *Server) start(w http.ResponseWriter, r *http.Request, kind string, fn jobs.Func) {
	if s.cfg.Sheets.Backend == config.BackendSheets {
		id, err := s.deps.Runner.SheetID(r.Context())
		if err != nil {
			s.logger.Error("Reading sheet ID failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "failed to read sheet ID")
			return
		}
		if id == "" {
			writeJSON(w, http.StatusOK, map[string]string{"status": "error", "message": "Sheet ID not set"})
			return
		}
	}
	job, err := s.deps.Jobs.Start(r.Context(), kind, fn)
	if err != nil {
		s.logger.Error("Starting job failed", zap.String("kind", kind), zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "started", "job_id": job.ID})
}

func (s *Server) listJobs(w http.ResponseWriter, r *http.Request) {
	list, err := s.deps.Jobs.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list jobs")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": list})
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.deps.Jobs.Get(r.Context(), chi.URLParam(r, "job_id"))
	if err != nil {
		if errors.Is(err, jobs.ErrNotFound) {
			writeError(w, http.StatusNotFound, "job not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to load job")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"job": job})
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			reqID, _ := r.Context().Value(requestIDKey{}).(string)
			logger.Debug("Request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Int64("duration_ms", time.Since(start).Milliseconds()),
				zap.String("request_id", reqID),
			)
		})
	}
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("Panic recovered", zap.Any("error", rec), zap.String("path", r.URL.Path))
					writeError(w, http.StatusInternalServerError, "internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}
	return n, nil
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	conn, buf, err := h.Hijack()
	if err != nil {
		return nil, nil, fmt.Errorf("hijack connection: %w", err)
	}
	return conn, buf, nil
}

type requestIDKey struct{}

func apiKeyMiddleware(apiKey string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				// Browsers cannot set headers on websocket upgrades.
				key = r.URL.Query().Get("api_key")
			}
			if key != apiKey {
				writeError(w, http.StatusForbidden, "forbidden")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("Failed to encode JSON response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"status": "error", "message": msg})
}
