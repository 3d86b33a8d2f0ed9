package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"testing"

	"planline/internal/config"
	"planline/internal/db"
	"planline/internal/engine"
	"planline/internal/migrate"
)

type testServer struct {
	URL    string
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		t.Fatalf("ensure workspace: %v", err)
	}
	cfg := config.Default("planline")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn, cfg)
	if _, err := e.InitProject(context.Background(), cfg.Project.ID, "", "", "tester"); err != nil {
		t.Fatalf("init project: %v", err)
	}
	handler, err := New(Config{
		Engine:   e,
		BasePath: "/v0",
		Auth:     AuthConfig{AllowLegacyActorHeader: true},
	})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

var actorHeaders = map[string]string{"X-Actor-Id": "tester"}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if headers == nil {
		headers = actorHeaders
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func seedWorkspace(t *testing.T, srv *testServer) {
	t.Helper()
	client := srv.Client()
	for _, payload := range []map[string]any{
		{"id": "go", "name": "Go"},
		{"id": "sql", "name": "SQL"},
	} {
		res, body := doJSON(t, client, http.MethodPost, srv.URL+"/v0/skills", payload, nil)
		if res.StatusCode != http.StatusCreated {
			t.Fatalf("create skill: %d %s", res.StatusCode, string(body))
		}
	}
	res, body := doJSON(t, client, http.MethodPost, srv.URL+"/v0/people", map[string]any{
		"id": "ana", "max_concurrent_tasks": 3,
	}, nil)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create person: %d %s", res.StatusCode, string(body))
	}
	res, body = doJSON(t, client, http.MethodPost, srv.URL+"/v0/history", map[string]any{
		"person_id": "ana", "skill_id": "go", "hours": 120, "completed_at": "2026-06-01T00:00:00Z",
	}, nil)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("add history: %d %s", res.StatusCode, string(body))
	}
}

func TestRunLifecycleOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	seedWorkspace(t, srv)

	for _, payload := range []map[string]any{
		{"id": "t1", "name": "design", "estimated_hours": 2, "skill_ids": []string{"go"}},
		{"id": "t2", "name": "build", "estimated_hours": 3, "skill_ids": []string{"go"}, "depends_on": []string{"t1"}},
	} {
		res, body := doJSON(t, client, http.MethodPost, srv.URL+"/v0/projects/planline/tasks", payload, nil)
		if res.StatusCode != http.StatusCreated {
			t.Fatalf("create task: %d %s", res.StatusCode, string(body))
		}
	}

	runRes, runBody := doJSON(t, client, http.MethodPost, srv.URL+"/v0/projects/planline/runs", map[string]any{}, nil)
	if runRes.StatusCode != http.StatusCreated {
		t.Fatalf("create run: %d %s", runRes.StatusCode, string(runBody))
	}
	var created RunWithScheduleResponse
	if err := json.Unmarshal(runBody, &created); err != nil {
		t.Fatalf("unmarshal run: %v", err)
	}
	if created.Run.Status != "draft" || created.Run.IsActive {
		t.Fatalf("expected inactive draft, got %+v", created.Run)
	}
	if created.Run.MakespanHours != 5 {
		t.Fatalf("makespan = %v, want 5", created.Run.MakespanHours)
	}
	if len(created.Schedule) != 2 {
		t.Fatalf("schedule rows = %d, want 2", len(created.Schedule))
	}

	// a different actor may not accept someone else's draft
	forbRes, forbBody := doJSON(t, client, http.MethodPost, srv.URL+"/v0/runs/"+created.Run.ID+"/accept", map[string]any{}, map[string]string{"X-Actor-Id": "intruder"})
	if forbRes.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %d %s", forbRes.StatusCode, string(forbBody))
	}

	accRes, accBody := doJSON(t, client, http.MethodPost, srv.URL+"/v0/runs/"+created.Run.ID+"/accept", map[string]any{}, nil)
	if accRes.StatusCode != http.StatusOK {
		t.Fatalf("accept: %d %s", accRes.StatusCode, string(accBody))
	}
	var accepted RunResponse
	if err := json.Unmarshal(accBody, &accepted); err != nil {
		t.Fatalf("unmarshal accepted: %v", err)
	}
	if accepted.Status != "approved" || !accepted.IsActive {
		t.Fatalf("expected active approved run, got %+v", accepted)
	}

	schedRes, schedBody := doJSON(t, client, http.MethodGet, srv.URL+"/v0/projects/planline/schedule", nil, nil)
	if schedRes.StatusCode != http.StatusOK {
		t.Fatalf("get schedule: %d %s", schedRes.StatusCode, string(schedBody))
	}
	var sched RunWithScheduleResponse
	if err := json.Unmarshal(schedBody, &sched); err != nil {
		t.Fatalf("unmarshal schedule: %v", err)
	}
	if sched.Run.ID != created.Run.ID {
		t.Fatalf("active schedule run %s, want %s", sched.Run.ID, created.Run.ID)
	}

	// a second accepted run replaces the first
	runRes2, runBody2 := doJSON(t, client, http.MethodPost, srv.URL+"/v0/projects/planline/runs", map[string]any{}, nil)
	if runRes2.StatusCode != http.StatusCreated {
		t.Fatalf("create second run: %d %s", runRes2.StatusCode, string(runBody2))
	}
	var second RunWithScheduleResponse
	_ = json.Unmarshal(runBody2, &second)
	if res, body := doJSON(t, client, http.MethodPost, srv.URL+"/v0/runs/"+second.Run.ID+"/accept", map[string]any{}, nil); res.StatusCode != http.StatusOK {
		t.Fatalf("accept second: %d %s", res.StatusCode, string(body))
	}
	listRes, listBody := doJSON(t, client, http.MethodGet, srv.URL+"/v0/projects/planline/runs", nil, nil)
	if listRes.StatusCode != http.StatusOK {
		t.Fatalf("list runs: %d %s", listRes.StatusCode, string(listBody))
	}
	var runs []RunResponse
	if err := json.Unmarshal(listBody, &runs); err != nil {
		t.Fatalf("unmarshal runs: %v", err)
	}
	active := 0
	for _, r := range runs {
		if r.IsActive {
			active++
		}
	}
	if active != 1 {
		t.Fatalf("active runs = %d, want 1", active)
	}
}

func TestCircularDependencyRejected(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	for _, payload := range []map[string]any{
		{"id": "a", "name": "a", "estimated_hours": 1},
		{"id": "b", "name": "b", "estimated_hours": 1, "depends_on": []string{"a"}},
	} {
		res, body := doJSON(t, client, http.MethodPost, srv.URL+"/v0/projects/planline/tasks", payload, nil)
		if res.StatusCode != http.StatusCreated {
			t.Fatalf("create task: %d %s", res.StatusCode, string(body))
		}
	}
	res, body := doJSON(t, client, http.MethodPatch, srv.URL+"/v0/tasks/a", map[string]any{
		"add_depends_on": []string{"b"},
	}, nil)
	if res.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d %s", res.StatusCode, string(body))
	}
	var envelope struct {
		Error struct {
			Code    string         `json:"code"`
			Details map[string]any `json:"details"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		t.Fatalf("unmarshal error: %v", err)
	}
	if envelope.Error.Code != "circular_dependency" {
		t.Fatalf("error code = %s, want circular_dependency", envelope.Error.Code)
	}
	if envelope.Error.Details["cycle"] == nil {
		t.Fatalf("missing cycle detail: %s", string(body))
	}
}

func TestAuthRequired(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, _ := doJSON(t, client, http.MethodGet, srv.URL+"/v0/projects", nil, map[string]string{})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", res.StatusCode)
	}
	res, _ = doJSON(t, client, http.MethodGet, srv.URL+"/v0/health", nil, map[string]string{})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health should be open, got %d", res.StatusCode)
	}
}

func TestRecommendOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	seedWorkspace(t, srv)

	res, body := doJSON(t, client, http.MethodPost, srv.URL+"/v0/projects/planline/tasks", map[string]any{
		"id": "t1", "name": "build", "estimated_hours": 4, "skill_ids": []string{"go"},
	}, nil)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create task: %d %s", res.StatusCode, string(body))
	}
	recRes, recBody := doJSON(t, client, http.MethodGet, srv.URL+"/v0/tasks/t1/recommendations", nil, nil)
	if recRes.StatusCode != http.StatusOK {
		t.Fatalf("recommend: %d %s", recRes.StatusCode, string(recBody))
	}
	var rec RecommendationResponse
	if err := json.Unmarshal(recBody, &rec); err != nil {
		t.Fatalf("unmarshal recommendation: %v", err)
	}
	if len(rec.Candidates) != 1 || rec.Candidates[0].PersonID != "ana" {
		t.Fatalf("unexpected candidates: %+v", rec.Candidates)
	}
	if rec.Candidates[0].Fit <= 0 {
		t.Fatalf("expected positive fit, got %v", rec.Candidates[0].Fit)
	}
}
