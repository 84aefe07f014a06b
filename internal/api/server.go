package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/supacrawl/internal/config"
	"github.com/JakeFAU/supacrawl/internal/crawler"
	"github.com/JakeFAU/supacrawl/internal/metrics"
	"github.com/JakeFAU/supacrawl/internal/middleware"
	"github.com/JakeFAU/supacrawl/internal/router"
)

const (
	requestTimeout = 60 * time.Second
	readyTimeout   = 2 * time.Second
	maxBodyBytes   = 1 << 20
)

// Submitter records and enqueues crawl jobs.
type Submitter interface {
	Submit(ctx context.Context, params crawler.JobParameters) (string, error)
}

// QueryHandler answers one chat line.
type QueryHandler interface {
	Handle(ctx context.Context, input string) router.Response
}

// Pinger reports store reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps are the collaborators behind the HTTP routes. Query may be nil, in
// which case /v1/query is not mounted.
type Deps struct {
	Jobs      crawler.JobStore
	Submitter Submitter
	Query     QueryHandler
	Store     Pinger
}

// Server wires HTTP handlers to the dispatcher, router and stores.
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
	s := &Server{deps: deps, cfg: cfg, logger: logger.Named("api")}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logging(s.logger))
	r.Use(middleware.Recover(s.logger))
	r.Use(metrics.Middleware)
	r.Use(middleware.Timeout(requestTimeout))
	if cfg.Auth.Enabled {
		r.Use(middleware.APIKey(cfg.Auth.APIKey, "/healthz", "/readyz"))
	}

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Route("/jobs", func(r chi.Router) {
			r.Post("/", s.submitJob)
			r.Route("/{job_id}", func(r chi.Router) {
				r.Get("/status", s.getJobStatus)
				r.Get("/result", s.getJobResult)
				r.Post("/cancel", s.cancelJob)
			})
		})
		if deps.Query != nil {
			r.Post("/query", s.query)
		}
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

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if s.deps.Store != nil {
		ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
		defer cancel()
		if err := s.deps.Store.Ping(ctx); err != nil {
			s.logger.Warn("readiness check failed", zap.Error(err))
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) submitJob(w http.ResponseWriter, r *http.Request) {
	var req jobRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	params, err := s.toJobParameters(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	jobID, err := s.deps.Submitter.Submit(r.Context(), params)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, context.DeadlineExceeded) {
			status = http.StatusRequestTimeout
		}
		s.logger.Error("job submission failed", zap.Error(err))
		writeError(w, status, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"job_id": jobID})
}

func (s *Server) getJobStatus(w http.ResponseWriter, r *http.Request) {
	job, ok := s.lookupJob(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"job": job})
}

func (s *Server) getJobResult(w http.ResponseWriter, r *http.Request) {
	job, ok := s.lookupJob(w, r)
	if !ok {
		return
	}
	pages, err := s.deps.Jobs.ListPages(r.Context(), job.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to fetch job pages")
		return
	}
	writeJSON(w, http.StatusOK, crawler.JobResult{Job: job, Pages: pages})
}

func (s *Server) cancelJob(w http.ResponseWriter, r *http.Request) {
	job, ok := s.lookupJob(w, r)
	if !ok {
		return
	}
	if job.Status.Terminal() {
		writeError(w, http.StatusConflict, fmt.Sprintf("job already %s", job.Status))
		return
	}
	if err := s.deps.Jobs.UpdateJobStatus(
		r.Context(),
		job.ID,
		crawler.JobStatusCanceled,
		"canceled via API",
		job.Counters,
	); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to cancel job")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"job_id": job.ID, "status": string(crawler.JobStatusCanceled)})
}

func (s *Server) query(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Input == "" {
		writeError(w, http.StatusBadRequest, "input required")
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Query.Handle(r.Context(), req.Input))
}

func (s *Server) lookupJob(w http.ResponseWriter, r *http.Request) (crawler.Job, bool) {
	jobID := chi.URLParam(r, "job_id")
	job, err := s.deps.Jobs.GetJob(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, crawler.ErrNotFound) {
			writeError(w, http.StatusNotFound, "job not found")
		} else {
			writeError(w, http.StatusInternalServerError, "failed to load job")
		}
		return crawler.Job{}, false
	}
	return job, true
}

func (s *Server) toJobParameters(req jobRequest) (crawler.JobParameters, error) {
	if len(req.URLs) == 0 {
		return crawler.JobParameters{}, errors.New("urls required")
	}
	urls := make([]string, 0, len(req.URLs))
	for _, u := range req.URLs {
		normalized, err := crawler.NormalizePageURL(u)
		if err != nil {
			return crawler.JobParameters{}, err
		}
		urls = append(urls, normalized)
	}
	return crawler.JobParameters{
		URLs:            urls,
		HeadlessAllowed: boolOrDefault(req.HeadlessAllowed, s.cfg.Headless.Enabled),
		RespectRobots:   boolOrDefault(req.RespectRobots, s.cfg.Crawler.RespectRobots),
	}, nil
}

type jobRequest struct {
	URLs            []string `json:"urls"`
	HeadlessAllowed *bool    `json:"headless_allowed"`
	RespectRobots   *bool    `json:"respect_robots"`
}

type queryRequest struct {
	Input string `json:"input"`
}

func boolOrDefault(ptr *bool, def bool) bool {
	if ptr == nil {
		return def
	}
	return *ptr
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("decode request: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
