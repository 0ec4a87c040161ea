// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package api exposes the HTTP surface: scan triggers, the vendor backfill
// pass, the cron hook, spend reports and health.
//
// Authentication of end users happens upstream; handlers trust the user ID
// in the path. The cron endpoint checks a shared bearer secret.
package api

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/goccy/go-json"

	"github.com/bcem/spendscan/internal/aggregate"
	"github.com/bcem/spendscan/internal/gmail"
	"github.com/bcem/spendscan/internal/ingest"
	"github.com/bcem/spendscan/internal/models"
	"github.com/bcem/spendscan/internal/queue"
)

// Scanner runs ingestion synchronously.
type Scanner interface {
	Scan(ctx context.Context, req ingest.ScanRequest) (models.RunResult, error)
	BackfillVendors(ctx context.Context, userID string) (models.RunResult, error)
}

// JobPublisher queues asynchronous scans.
type JobPublisher interface {
	PublishScan(ctx context.Context, job queue.ScanJob) (string, error)
}

// Reports answers the read-side queries.
type Reports interface {
	Dashboard(ctx context.Context, userID, rangeName string) (*aggregate.Dashboard, error)
	Renewals(ctx context.Context, userID string) ([]aggregate.Renewal, error)
	Export(ctx context.Context, w io.Writer, userID, rangeName string) error
}

// CronTrigger wakes the resync scheduler.
type CronTrigger interface {
	TriggerNow() bool
}

// HealthCheck reports whether a dependency is reachable.
type HealthCheck func(ctx context.Context) error

// Config wires the server's collaborators.
type Config struct {
	Scanner    Scanner
	Jobs       JobPublisher
	Reports    Reports
	Cron       CronTrigger
	CronSecret string
	Checks     map[string]HealthCheck
	// Ingest normalizes queued scan requests; zero uses ingest defaults.
	Ingest ingest.Config
}

// Server holds the HTTP handlers.
type Server struct {
	scanner    Scanner
	jobs       JobPublisher
	reports    Reports
	cron       CronTrigger
	cronSecret string
	checks     map[string]HealthCheck
	ingest     ingest.Config
	now        func() time.Time
}

// New creates the API server.
func New(cfg Config) *Server {
	if cfg.Ingest == (ingest.Config{}) {
		cfg.Ingest = ingest.DefaultConfig()
	}
	return &Server{
		scanner:    cfg.Scanner,
		jobs:       cfg.Jobs,
		reports:    cfg.Reports,
		cron:       cfg.Cron,
		cronSecret: cfg.CronSecret,
		checks:     cfg.Checks,
		ingest:     cfg.Ingest,
		now:        time.Now,
	}
}

// Routes builds the router.
func (s *Server) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)

	r.Get("/health", s.health)

	r.Route("/v1", func(r chi.Router) {
		r.Post("/cron/sync", s.cronSync)

		r.Route("/users/{userID}", func(r chi.Router) {
			r.Post("/scans", s.scan)
			r.Post("/vendor-backfill", s.vendorBackfill)
			r.Get("/dashboard", s.dashboard)
			r.Get("/renewals", s.renewals)
			r.Get("/export", s.export)
		})
	})
	return r
}

// scanBody is the optional JSON body of a scan request.
type scanBody struct {
	DaysBack     int      `json:"days_back"`
	StartDate    string   `json:"start_date"` // YYYY-MM-DD
	VendorIDs    []string `json:"vendor_ids"`
	ForceReparse bool     `json:"force_reparse"`
	MaxResults   int      `json:"max_results"`
}

func (s *Server) scan(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	var body scanBody
	if err := decodeOptional(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	req := ingest.ScanRequest{
		UserID:       userID,
		DaysBack:     body.DaysBack,
		VendorIDs:    body.VendorIDs,
		ForceReparse: body.ForceReparse,
		MaxResults:   body.MaxResults,
	}
	if body.StartDate != "" {
		start, ok := ingest.ParseDay(body.StartDate)
		if !ok {
			writeError(w, http.StatusBadRequest, "start_date must be YYYY-MM-DD")
			return
		}
		req.StartDate = &start
	}

	if r.URL.Query().Get("async") == "true" {
		req = ingest.NormalizeRequest(req, s.now(), s.ingest)
		id, err := s.jobs.PublishScan(r.Context(), queue.ScanJob{
			UserID:       userID,
			DaysBack:     req.DaysBack,
			VendorIDs:    req.VendorIDs,
			ForceReparse: req.ForceReparse,
			MaxResults:   req.MaxResults,
		})
		if err != nil {
			slog.Error("queue scan failed", "user", userID, "error", err)
			writeError(w, http.StatusServiceUnavailable, "could not queue scan")
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{"job_id": id})
		return
	}

	res, err := s.scanner.Scan(r.Context(), req)
	if err != nil {
		s.runFailed(w, userID, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) vendorBackfill(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	res, err := s.scanner.BackfillVendors(r.Context(), userID)
	if err != nil {
		s.runFailed(w, userID, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) runFailed(w http.ResponseWriter, userID string, err error) {
	if errors.Is(err, gmail.ErrNoAccount) {
		writeError(w, http.StatusNotFound, "no connected mailbox")
		return
	}
	slog.Error("ingestion run failed", "user", userID, "error", err)
	writeError(w, http.StatusBadGateway, "ingestion run failed")
}

func (s *Server) dashboard(w http.ResponseWriter, r *http.Request) {
	d, err := s.reports.Dashboard(r.Context(), chi.URLParam(r, "userID"), r.URL.Query().Get("range"))
	if err != nil {
		s.reportFailed(w, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (s *Server) renewals(w http.ResponseWriter, r *http.Request) {
	list, err := s.reports.Renewals(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		s.reportFailed(w, err)
		return
	}
	if list == nil {
		list = []aggregate.Renewal{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"renewals": list})
}

func (s *Server) export(w http.ResponseWriter, r *http.Request) {
	rangeName := r.URL.Query().Get("range")
	if rangeName == "" {
		rangeName = aggregate.RangeCurrentYear
	}
	if _, err := aggregate.Range(rangeName, s.now()); err != nil {
		s.reportFailed(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="spendscan-invoices-%s.csv"`, rangeName))
	if err := s.reports.Export(r.Context(), w, chi.URLParam(r, "userID"), rangeName); err != nil {
		// Nothing has been written if the query itself failed.
		s.reportFailed(w, err)
	}
}

func (s *Server) reportFailed(w http.ResponseWriter, err error) {
	if errors.Is(err, aggregate.ErrUnknownRange) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	slog.Error("report query failed", "error", err)
	writeError(w, http.StatusInternalServerError, "report unavailable")
}

func (s *Server) cronSync(w http.ResponseWriter, r *http.Request) {
	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok || s.cronSecret == "" || subtle.ConstantTimeCompare([]byte(token), []byte(s.cronSecret)) != 1 {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	triggered := s.cron.TriggerNow()
	slog.Info("cron sync requested", "triggered", triggered)
	writeJSON(w, http.StatusAccepted, map[string]bool{"triggered": triggered})
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	for name, check := range s.checks {
		if err := check(r.Context()); err != nil {
			slog.Warn("health check failed", "dependency", name, "error", err)
			http.Error(w, name+" unhealthy", http.StatusServiceUnavailable)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// decodeOptional decodes a JSON body if one was sent.
func decodeOptional(r *http.Request, v any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("write response failed", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// requestLogger logs one line per request.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		slog.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start).String(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

// Serve binds port and serves h until ctx is cancelled. The returned
// channel is closed once the listener is bound.
func Serve(ctx context.Context, port int, h http.Handler) (<-chan struct{}, error) {
	server := &http.Server{
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		// Synchronous scans run inside the request.
		WriteTimeout: 15 * time.Minute,
	}

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return nil, fmt.Errorf("bind api port %d: %w", port, err)
	}

	ready := make(chan struct{})

	go func() {
		<-ctx.Done()
		slog.Info("api server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("api server shutdown error", "error", err)
		}
	}()

	go func() {
		slog.Info("api server listening", "port", port)
		close(ready)
		if err := server.Serve(ln); err != http.ErrServerClosed {
			slog.Error("api server error", "error", err)
		}
	}()

	return ready, nil
}
