package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"jobrunner/internal/gateway"
	"jobrunner/internal/hub"
	"jobrunner/internal/model"
	"jobrunner/internal/queue"
	"jobrunner/internal/repo"
	"jobrunner/internal/scheduler"
	"jobrunner/internal/state"
	"jobrunner/internal/store"
)

type noopNotifier struct{}

func (noopNotifier) NotifySuccess(ctx context.Context, jobName string, durationMs int64, channel string) error {
	return nil
}
func (noopNotifier) NotifyFailure(ctx context.Context, jobName string, durationMs int64, errMsg string, channel string) error {
	return nil
}

type noopGateway struct{}

func (noopGateway) SpawnSession(ctx context.Context, prompt string, opts gateway.SpawnOpts) (*gateway.SpawnResult, error) {
	return &gateway.SpawnResult{SessionKey: "s", RunID: "r"}, nil
}
func (noopGateway) IsSessionComplete(ctx context.Context, sessionKey string) (bool, error) {
	return true, nil
}
func (noopGateway) GetSessionInfo(ctx context.Context, sessionKey string) (*gateway.SessionInfo, error) {
	return &gateway.SessionInfo{}, nil
}

func newTestServer(t *testing.T) (*httptest.Server, *repo.Jobs) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "httpapi.sqlite")
	db, err := store.Open(path, zap.NewNop())
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	jobsRepo := repo.NewJobs(db)
	runsRepo := repo.NewRuns(db)
	st := state.New(db)
	q := queue.New(db)
	h := hub.New(zap.NewNop())

	sched := scheduler.New(scheduler.Config{
		MaxConcurrency:  4,
		ShutdownGraceMs: 100,
		DBPath:          path,
	}, db, jobsRepo, runsRepo, noopNotifier{}, h, zap.NewNop(), noopGateway{})

	handler := New(jobsRepo, runsRepo, st, q, sched, h, zap.NewNop())
	router := NewRouter(handler)
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv, jobsRepo
}

func decodeJSON(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func TestHealthEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)
	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var body map[string]any
	decodeJSON(t, resp, &body)
	if body["ok"] != true {
		t.Fatalf("body = %+v, want ok=true", body)
	}
}

func TestStatsEndpoint(t *testing.T) {
	srv, jobsRepo := newTestServer(t)
	if err := jobsRepo.Insert(context.Background(), &model.Job{
		ID: "j1", Name: "j1", Schedule: "@every 1h", Script: "true", Type: model.JobScript, OverlapPolicy: model.OverlapSkip,
	}); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	resp, err := http.Get(srv.URL + "/stats")
	if err != nil {
		t.Fatalf("GET /stats: %v", err)
	}
	var body map[string]any
	decodeJSON(t, resp, &body)
	if body["totalJobs"].(float64) != 1 {
		t.Fatalf("totalJobs = %v, want 1", body["totalJobs"])
	}
}

func TestCreateAndGetJob(t *testing.T) {
	srv, _ := newTestServer(t)

	job := model.Job{
		ID: "nightly", Name: "nightly", Schedule: "0 2 * * *", Script: "true", Type: model.JobScript,
	}
	payload, _ := json.Marshal(job)
	resp, err := http.Post(srv.URL+"/jobs/", "application/json", bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("POST /jobs: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	getResp, err := http.Get(srv.URL + "/jobs/nightly")
	if err != nil {
		t.Fatalf("GET /jobs/nightly: %v", err)
	}
	var body map[string]any
	decodeJSON(t, getResp, &body)
	got := body["job"].(map[string]any)
	if got["id"] != "nightly" {
		t.Fatalf("job id = %v, want nightly", got["id"])
	}
}

func TestCreateJobRejectsInvalidSchedule(t *testing.T) {
	srv, _ := newTestServer(t)

	job := model.Job{ID: "bad-sched", Name: "bad", Schedule: "not a schedule", Script: "true", Type: model.JobScript}
	payload, _ := json.Marshal(job)
	resp, err := http.Post(srv.URL+"/jobs/", "application/json", bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("POST /jobs: %v", err)
	}
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestGetJobNotFound(t *testing.T) {
	srv, _ := newTestServer(t)
	resp, err := http.Get(srv.URL + "/jobs/nope")
	if err != nil {
		t.Fatalf("GET /jobs/nope: %v", err)
	}
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

func TestEnableDisableJob(t *testing.T) {
	srv, jobsRepo := newTestServer(t)
	ctx := context.Background()
	if err := jobsRepo.Insert(ctx, &model.Job{
		ID: "toggle", Name: "toggle", Schedule: "@every 1h", Script: "true", Type: model.JobScript, Enabled: true,
	}); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	resp, err := http.Post(srv.URL+"/jobs/toggle/disable", "application/json", nil)
	if err != nil {
		t.Fatalf("POST disable: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	job, err := jobsRepo.Get(ctx, "toggle")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if job.Enabled {
		t.Fatalf("job still enabled after disable")
	}
}

func TestRunJobEndpoint(t *testing.T) {
	srv, jobsRepo := newTestServer(t)
	ctx := context.Background()
	if err := jobsRepo.Insert(ctx, &model.Job{
		ID: "runnable", Name: "runnable", Schedule: "@every 1h", Script: "true", Type: model.JobScript, OverlapPolicy: model.OverlapAllow,
	}); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	resp, err := http.Post(srv.URL+"/jobs/runnable/run", "application/json", nil)
	if err != nil {
		t.Fatalf("POST run: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
}

func TestStateRoundTrip(t *testing.T) {
	srv, _ := newTestServer(t)

	putBody, _ := json.Marshal(map[string]string{"value": "hello"})
	req, _ := http.NewRequest(http.MethodPut, srv.URL+"/state/ns1/k1", bytes.NewReader(putBody))
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("PUT /state: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("PUT status = %d, want 200", resp.StatusCode)
	}

	getResp, err := http.Get(srv.URL + "/state/ns1/k1")
	if err != nil {
		t.Fatalf("GET /state: %v", err)
	}
	var body map[string]any
	decodeJSON(t, getResp, &body)
	if body["value"] != "hello" {
		t.Fatalf("value = %v, want hello", body["value"])
	}

	delReq, _ := http.NewRequest(http.MethodDelete, srv.URL+"/state/ns1/k1", nil)
	delResp, err := http.DefaultClient.Do(delReq)
	if err != nil {
		t.Fatalf("DELETE /state: %v", err)
	}
	if delResp.StatusCode != http.StatusOK {
		t.Fatalf("DELETE status = %d, want 200", delResp.StatusCode)
	}

	missingResp, err := http.Get(srv.URL + "/state/ns1/k1")
	if err != nil {
		t.Fatalf("GET /state after delete: %v", err)
	}
	if missingResp.StatusCode != http.StatusNotFound {
		t.Fatalf("status after delete = %d, want 404", missingResp.StatusCode)
	}
}

func TestPeekQueueEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)
	resp, err := http.Get(srv.URL + "/queues/ghost-queue/items")
	if err != nil {
		t.Fatalf("GET /queues: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var body map[string]any
	decodeJSON(t, resp, &body)
	items, ok := body["items"].([]any)
	if !ok {
		t.Fatalf("items = %v, want an (empty) array", body["items"])
	}
	if len(items) != 0 {
		t.Fatalf("items = %v, want empty for a never-used queue", items)
	}
}

// NewRouter mounts cors.Handler with a permissive allow-all policy (the
// API is loopback-only and carries no cookie/session auth to leak), but
// exercise the stricter single-origin configuration a browser-facing
// deployment would actually run with.
func TestCorsHandlerAllowsConfiguredOrigin(t *testing.T) {
	c := cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://ops.example.com"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	})

	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	wrapped := c(inner)

	req := httptest.NewRequest(http.MethodOptions, "/jobs", nil)
	req.Header.Set("Origin", "https://ops.example.com")
	req.Header.Set("Access-Control-Request-Method", "POST")
	rec := httptest.NewRecorder()
	wrapped.ServeHTTP(rec, req)

	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://ops.example.com" {
		t.Fatalf("Access-Control-Allow-Origin = %q, want the configured origin", got)
	}
}

func TestCorsHandlerRejectsUnconfiguredOrigin(t *testing.T) {
	c := cors.Handler(cors.Options{
		AllowedOrigins: []string{"https://ops.example.com"},
		AllowedMethods: []string{"GET", "POST"},
	})
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	wrapped := c(inner)

	req := httptest.NewRequest(http.MethodOptions, "/jobs", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	req.Header.Set("Access-Control-Request-Method", "POST")
	rec := httptest.NewRecorder()
	wrapped.ServeHTTP(rec, req)

	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Fatalf("Access-Control-Allow-Origin = %q, want empty for an unconfigured origin", got)
	}
}
