// Lookalike - Audience Similarity Scoring Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lookalike

package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"

	"github.com/tomtom215/lookalike/internal/logging"
	"github.com/tomtom215/lookalike/internal/models"
	"github.com/tomtom215/lookalike/internal/store"
	"github.com/tomtom215/lookalike/internal/validation"
)

const (
	defaultMembersLimit = 100
	maxMembersLimit     = 1000
)

// LookalikeStatus is the GET /api/v1/lookalikes/{id} payload.
type LookalikeStatus struct {
	*models.Lookalike
	// Progress is processed rows over universe size, in [0, 1].
	Progress float64 `json:"progress"`
}

// HealthLive reports that the process is serving requests.
func (h *Handler) HealthLive(w http.ResponseWriter, r *http.Request) {
	writePlainJSON(w, r, http.StatusOK, map[string]interface{}{
		"status":         "ok",
		"uptime_seconds": int64(time.Since(h.startTime).Seconds()),
	})
}

// HealthReady runs every readiness check and answers 503 when any fails.
func (h *Handler) HealthReady(w http.ResponseWriter, r *http.Request) {
	results := make(map[string]string, len(h.checks))
	status := http.StatusOK
	for _, c := range h.checks {
		ctx, cancel := context.WithTimeout(r.Context(), h.checkTimeout)
		err := c.Check(ctx)
		cancel()
		if err != nil {
			results[c.Name] = err.Error()
			status = http.StatusServiceUnavailable
			logging.Ctx(r.Context()).Warn().Err(err).Str("check", c.Name).Msg("Readiness check failed")
			continue
		}
		results[c.Name] = "ok"
	}

	state := "ready"
	if status != http.StatusOK {
		state = "not_ready"
	}
	writePlainJSON(w, r, status, map[string]interface{}{"status": state, "checks": results})
}

// GetLookalike returns the stored state of one lookalike.
func (h *Handler) GetLookalike(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	id, ok := lookalikeID(rw, r)
	if !ok {
		return
	}

	l, err := h.lookalikes.Get(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		rw.NotFound("lookalike not found")
		return
	}
	if err != nil {
		rw.DatabaseError(err)
		return
	}

	var progress float64
	if l.UniverseSize > 0 {
		progress = min(1, float64(l.ProcessedTrainModelSize)/float64(l.UniverseSize))
	}
	rw.Success(LookalikeStatus{Lookalike: l, Progress: progress})
}

// ListMembers returns one page of the finalized membership.
func (h *Handler) ListMembers(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	id, ok := lookalikeID(rw, r)
	if !ok {
		return
	}
	limit, err := queryInt(r, "limit", defaultMembersLimit)
	if err != nil || limit < 1 || limit > maxMembersLimit {
		rw.BadRequest("limit must be between 1 and " + strconv.Itoa(maxMembersLimit))
		return
	}
	offset, err := queryInt(r, "offset", 0)
	if err != nil || offset < 0 {
		rw.BadRequest("offset must be a non-negative integer")
		return
	}

	if _, err := h.lookalikes.Get(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			rw.NotFound("lookalike not found")
			return
		}
		rw.DatabaseError(err)
		return
	}

	// One extra row tells whether another page exists.
	members, err := h.lookalikes.MembersPage(r.Context(), id, limit+1, offset)
	if err != nil {
		rw.DatabaseError(err)
		return
	}
	hasMore := len(members) > limit
	if hasMore {
		members = members[:limit]
	}
	if members == nil {
		members = []models.Member{}
	}
	rw.SuccessWithPagination(members, &PaginationMeta{
		Count:   len(members),
		Offset:  offset,
		Limit:   limit,
		HasMore: hasMore,
	})
}

// runBody is the optional POST /runs body.
type runBody struct {
	Mode models.RunMode `json:"mode"`
}

// EnqueueRun publishes a run request for the trigger consumer.
func (h *Handler) EnqueueRun(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	if h.enqueuer == nil {
		rw.ServiceUnavailable("run triggers are disabled")
		return
	}
	id, ok := lookalikeID(rw, r)
	if !ok {
		return
	}

	var body runBody
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<12)).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
		rw.BadRequest("malformed request body")
		return
	}
	req := models.RunRequest{LookalikeID: id, Mode: body.Mode}
	if verr := validation.ValidateStruct(&req); verr != nil {
		rw.ValidationError(verr.Error(), nil)
		return
	}

	if _, err := h.lookalikes.Get(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			rw.NotFound("lookalike not found")
			return
		}
		rw.DatabaseError(err)
		return
	}
	if err := h.enqueuer.Enqueue(r.Context(), req); err != nil {
		rw.BrokerError(err)
		return
	}
	logging.Ctx(r.Context()).Info().Int64("lookalike_id", id).Str("mode", string(req.Mode)).Msg("Run request enqueued")
	rw.Accepted(req)
}

func lookalikeID(rw *ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		rw.BadRequest("id must be a positive integer")
		return 0, false
	}
	return id, true
}

func queryInt(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	return strconv.Atoi(raw)
}

// writePlainJSON writes an unenveloped body for health checks.
func writePlainJSON(w http.ResponseWriter, r *http.Request, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Ctx(r.Context()).Error().Err(err).Msg("Failed to encode JSON response")
	}
}
