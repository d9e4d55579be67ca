// Lookalike - Audience Similarity Scoring Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lookalike

package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/tomtom215/lookalike/internal/models"
)

// LookalikeReader reads lookalike state from the relational store.
type LookalikeReader interface {
	Get(ctx context.Context, id int64) (*models.Lookalike, error)
	MembersPage(ctx context.Context, id int64, limit, offset int) ([]models.Member, error)
}

// RunEnqueuer hands a run request to the trigger consumer.
type RunEnqueuer interface {
	Enqueue(ctx context.Context, req models.RunRequest) error
}

// HealthCheck is one readiness dependency.
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// Handler serves the API routes.
type Handler struct {
	lookalikes   LookalikeReader
	enqueuer     RunEnqueuer
	checks       []HealthCheck
	checkTimeout time.Duration
	startTime    time.Time
	logger       zerolog.Logger
}

// HandlerOption configures a Handler.
type HandlerOption func(*Handler)

// WithEnqueuer enables POST /api/v1/lookalikes/{id}/runs.
func WithEnqueuer(e RunEnqueuer) HandlerOption {
	return func(h *Handler) { h.enqueuer = e }
}

// WithHealthCheck adds a readiness dependency.
func WithHealthCheck(name string, check func(ctx context.Context) error) HandlerOption {
	return func(h *Handler) { h.checks = append(h.checks, HealthCheck{Name: name, Check: check}) }
}

// WithCheckTimeout bounds each readiness check.
func WithCheckTimeout(d time.Duration) HandlerOption {
	return func(h *Handler) { h.checkTimeout = d }
}

// NewHandler creates a Handler.
func NewHandler(lookalikes LookalikeReader, logger zerolog.Logger, opts ...HandlerOption) *Handler {
	h := &Handler{
		lookalikes:   lookalikes,
		checkTimeout: 2 * time.Second,
		startTime:    time.Now(),
		logger:       logger,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// NewRouter builds the chi route tree.
func NewRouter(h *Handler, cfg MiddlewareConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(requestLogging(h.logger))
	r.Use(chimiddleware.Recoverer)
	r.Use(prometheusMetrics)
	r.Use(corsHandler(cfg))

	r.Get("/healthz/live", h.HealthLive)
	r.Get("/healthz/ready", h.HealthReady)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api/v1/lookalikes/{id}", func(r chi.Router) {
		r.Use(rateLimit(cfg))
		r.Get("/", h.GetLookalike)
		r.Get("/members", h.ListMembers)
		r.Post("/runs", h.EnqueueRun)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		NewResponseWriter(w, r).NotFound("route not found")
	})
	return r
}
