// Lookalike - Audience Similarity Scoring Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lookalike

package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"

	"github.com/tomtom215/lookalike/internal/metrics"
	"github.com/tomtom215/lookalike/internal/models"
	"github.com/tomtom215/lookalike/internal/store"
)

// fakeReader serves one completed lookalike with five members.
type fakeReader struct {
	err error
}

func (f *fakeReader) Get(_ context.Context, id int64) (*models.Lookalike, error) {
	if f.err != nil {
		return nil, f.err
	}
	if id != 1 {
		return nil, store.ErrNotFound
	}
	return &models.Lookalike{
		ID:                      1,
		Name:                    "spring",
		Status:                  models.StatusScanning,
		UniverseSize:            1000,
		ProcessedTrainModelSize: 250,
	}, nil
}

func (f *fakeReader) MembersPage(_ context.Context, _ int64, limit, offset int) ([]models.Member, error) {
	all := []models.Member{
		{PersonID: 1, CandidateID: "a", Score: 0.9},
		{PersonID: 2, CandidateID: "b", Score: 0.8},
		{PersonID: 3, CandidateID: "c", Score: 0.7},
		{PersonID: 4, CandidateID: "d", Score: 0.6},
		{PersonID: 5, CandidateID: "e", Score: 0.5},
	}
	if offset >= len(all) {
		return nil, nil
	}
	end := min(len(all), offset+limit)
	return all[offset:end], nil
}

type fakeEnqueuer struct {
	mu   sync.Mutex
	reqs []models.RunRequest
	err  error
}

func (f *fakeEnqueuer) Enqueue(_ context.Context, req models.RunRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.reqs = append(f.reqs, req)
	return nil
}

func newTestRouter(reader LookalikeReader, opts ...HandlerOption) http.Handler {
	h := NewHandler(reader, zerolog.Nop(), opts...)
	return NewRouter(h, MiddlewareConfig{})
}

func do(t *testing.T, router http.Handler, method, path, body string) (*httptest.ResponseRecorder, APIResponse) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	var resp APIResponse
	if strings.HasPrefix(path, "/api/") {
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("decode %s %s: %v (body %q)", method, path, err, rec.Body.String())
		}
	}
	return rec, resp
}

func TestHealthLive(t *testing.T) {
	t.Parallel()
	rec, _ := do(t, newTestRouter(&fakeReader{}), http.MethodGet, "/healthz/live", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"status":"ok"`) {
		t.Errorf("body = %s", rec.Body.String())
	}
}

func TestHealthReady(t *testing.T) {
	t.Parallel()

	ok := func(context.Context) error { return nil }
	down := func(context.Context) error { return errors.New("connection refused") }

	tests := []struct {
		name       string
		opts       []HandlerOption
		wantStatus int
		wantBody   string
	}{
		{"no checks", nil, http.StatusOK, `"status":"ready"`},
		{"all healthy", []HandlerOption{WithHealthCheck("relational", ok), WithHealthCheck("universe", ok)}, http.StatusOK, `"universe":"ok"`},
		{"one failing", []HandlerOption{WithHealthCheck("relational", ok), WithHealthCheck("nats", down)}, http.StatusServiceUnavailable, `"nats":"connection refused"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			rec, _ := do(t, newTestRouter(&fakeReader{}, tt.opts...), http.MethodGet, "/healthz/ready", "")
			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if !strings.Contains(rec.Body.String(), tt.wantBody) {
				t.Errorf("body = %s, want it to contain %s", rec.Body.String(), tt.wantBody)
			}
		})
	}
}

func TestHealthReadyTimesOut(t *testing.T) {
	t.Parallel()
	slow := func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}
	router := newTestRouter(&fakeReader{}, WithHealthCheck("slow", slow), WithCheckTimeout(10*time.Millisecond))
	rec, _ := do(t, router, http.MethodGet, "/healthz/ready", "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()
	rec, _ := do(t, newTestRouter(&fakeReader{}), http.MethodGet, "/metrics", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "go_goroutines") {
		t.Error("metrics output is missing the default Go collectors")
	}
}

func TestRequestMetricsUseRoutePattern(t *testing.T) {
	t.Parallel()
	const pattern = "/api/v1/lookalikes/{id}/members"
	counter := metrics.APIRequestsTotal.WithLabelValues(http.MethodGet, pattern, "200")
	before := testutil.ToFloat64(counter)

	rec, _ := do(t, newTestRouter(&fakeReader{}), http.MethodGet, "/api/v1/lookalikes/1/members", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if got := testutil.ToFloat64(counter) - before; got < 1 {
		t.Errorf("api_requests_total{endpoint=%q} grew by %v, want >= 1", pattern, got)
	}
	if got := testutil.ToFloat64(metrics.APIRequestsTotal.WithLabelValues(http.MethodGet, "/api/v1/lookalikes/1/members", "200")); got != 0 {
		t.Errorf("raw path label recorded %v requests, want 0", got)
	}
}

func TestGetLookalike(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		reader     *fakeReader
		path       string
		wantStatus int
		wantCode   string
	}{
		{"found", &fakeReader{}, "/api/v1/lookalikes/1", http.StatusOK, ""},
		{"not found", &fakeReader{}, "/api/v1/lookalikes/2", http.StatusNotFound, ErrCodeNotFound},
		{"bad id", &fakeReader{}, "/api/v1/lookalikes/abc", http.StatusBadRequest, ErrCodeBadRequest},
		{"zero id", &fakeReader{}, "/api/v1/lookalikes/0", http.StatusBadRequest, ErrCodeBadRequest},
		{"store down", &fakeReader{err: errors.New("db closed")}, "/api/v1/lookalikes/1", http.StatusInternalServerError, ErrCodeDatabaseError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			rec, resp := do(t, newTestRouter(tt.reader), http.MethodGet, tt.path, "")
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d (body %s)", rec.Code, tt.wantStatus, rec.Body.String())
			}
			if tt.wantCode != "" {
				if resp.Error == nil || resp.Error.Code != tt.wantCode {
					t.Errorf("error = %+v, want code %s", resp.Error, tt.wantCode)
				}
				return
			}
			if !resp.Success {
				t.Error("success = false")
			}
			if !strings.Contains(rec.Body.String(), `"progress":0.25`) {
				t.Errorf("body = %s, want progress 0.25", rec.Body.String())
			}
			if resp.Meta == nil || resp.Meta.RequestID == "" {
				t.Error("response meta should carry the request id")
			}
		})
	}
}

func TestListMembersPagination(t *testing.T) {
	t.Parallel()
	router := newTestRouter(&fakeReader{})

	rec, resp := do(t, router, http.MethodGet, "/api/v1/lookalikes/1/members?limit=2&offset=1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	p := resp.Meta.Pagination
	if p == nil || p.Count != 2 || p.Offset != 1 || p.Limit != 2 || !p.HasMore {
		t.Errorf("pagination = %+v", p)
	}
	if !strings.Contains(rec.Body.String(), `"candidate_id":"b"`) {
		t.Errorf("body = %s, want candidate b first", rec.Body.String())
	}

	_, resp = do(t, router, http.MethodGet, "/api/v1/lookalikes/1/members?offset=3", "")
	if p := resp.Meta.Pagination; p == nil || p.Count != 2 || p.HasMore {
		t.Errorf("last page pagination = %+v", p)
	}

	_, resp = do(t, router, http.MethodGet, "/api/v1/lookalikes/1/members?offset=10", "")
	if !strings.Contains(string(mustJSON(t, resp.Data)), "[]") {
		t.Errorf("past the end should return an empty list, got %v", resp.Data)
	}

	for _, q := range []string{"limit=0", "limit=5000", "limit=x", "offset=-1"} {
		rec, _ := do(t, router, http.MethodGet, "/api/v1/lookalikes/1/members?"+q, "")
		if rec.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", q, rec.Code)
		}
	}

	rec, _ = do(t, router, http.MethodGet, "/api/v1/lookalikes/9/members", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown lookalike: status = %d, want 404", rec.Code)
	}
}

func TestEnqueueRun(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		path       string
		body       string
		enqueueErr error
		wantStatus int
		wantMode   models.RunMode
	}{
		{"default mode", "/api/v1/lookalikes/1/runs", "", nil, http.StatusAccepted, ""},
		{"restart", "/api/v1/lookalikes/1/runs", `{"mode":"restart"}`, nil, http.StatusAccepted, models.RunModeRestart},
		{"unknown mode", "/api/v1/lookalikes/1/runs", `{"mode":"rewind"}`, nil, http.StatusBadRequest, ""},
		{"malformed body", "/api/v1/lookalikes/1/runs", `{"mode":`, nil, http.StatusBadRequest, ""},
		{"unknown lookalike", "/api/v1/lookalikes/2/runs", "", nil, http.StatusNotFound, ""},
		{"broker down", "/api/v1/lookalikes/1/runs", "", errors.New("circuit breaker is open"), http.StatusBadGateway, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			q := &fakeEnqueuer{err: tt.enqueueErr}
			rec, _ := do(t, newTestRouter(&fakeReader{}, WithEnqueuer(q)), http.MethodPost, tt.path, tt.body)
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d (body %s)", rec.Code, tt.wantStatus, rec.Body.String())
			}
			if tt.wantStatus != http.StatusAccepted {
				if len(q.reqs) != 0 {
					t.Errorf("rejected request was enqueued: %v", q.reqs)
				}
				return
			}
			if len(q.reqs) != 1 || q.reqs[0].LookalikeID != 1 || q.reqs[0].Mode != tt.wantMode {
				t.Errorf("enqueued = %+v", q.reqs)
			}
		})
	}
}

func TestEnqueueRunDisabled(t *testing.T) {
	t.Parallel()
	rec, resp := do(t, newTestRouter(&fakeReader{}), http.MethodPost, "/api/v1/lookalikes/1/runs", "")
	if rec.Code != http.StatusServiceUnavailable || resp.Error == nil || resp.Error.Code != ErrCodeServiceUnavailable {
		t.Errorf("status = %d, error = %+v", rec.Code, resp.Error)
	}
}

func TestRateLimit(t *testing.T) {
	t.Parallel()
	h := NewHandler(&fakeReader{}, zerolog.Nop())
	router := NewRouter(h, MiddlewareConfig{RateLimitRequests: 2, RateLimitWindow: time.Minute})

	for i := range 2 {
		if rec, _ := do(t, router, http.MethodGet, "/api/v1/lookalikes/1", ""); rec.Code != http.StatusOK {
			t.Fatalf("request %d: status = %d, want 200", i, rec.Code)
		}
	}
	rec, resp := do(t, router, http.MethodGet, "/api/v1/lookalikes/1", "")
	if rec.Code != http.StatusTooManyRequests || resp.Error == nil || resp.Error.Code != ErrCodeTooManyRequests {
		t.Errorf("status = %d, error = %+v, want 429", rec.Code, resp.Error)
	}

	// Health checks are not limited.
	if rec, _ := do(t, router, http.MethodGet, "/healthz/live", ""); rec.Code != http.StatusOK {
		t.Errorf("liveness check was rate limited: %d", rec.Code)
	}
}

func TestCORS(t *testing.T) {
	t.Parallel()
	h := NewHandler(&fakeReader{}, zerolog.Nop())
	router := NewRouter(h, MiddlewareConfig{CORSAllowedOrigins: []string{"https://console.example"}})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/lookalikes/1", nil)
	req.Header.Set("Origin", "https://console.example")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://console.example" {
		t.Errorf("Access-Control-Allow-Origin = %q", got)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/lookalikes/1", nil)
	req.Header.Set("Origin", "https://evil.example")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("disallowed origin got Access-Control-Allow-Origin = %q", got)
	}
}

func mustJSON(t *testing.T, v interface{}) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return b
}
