package server

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/fleetsmith/armada/audit"
	"github.com/fleetsmith/armada/config"
	"github.com/fleetsmith/armada/fleet"
	"github.com/fleetsmith/armada/policy"
	"github.com/fleetsmith/armada/shell"
	"github.com/fleetsmith/armada/task"
)

type apiFixture struct {
	srv    *Server
	token  string
	roster *fleet.SQLiteStore
}

func newAPIFixture(t *testing.T, rules []policy.Rule) *apiFixture {
	t.Helper()
	dir := t.TempDir()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	taskStore, err := task.NewSQLiteStore(filepath.Join(dir, "tasks.db"))
	if err != nil {
		t.Fatalf("task.NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { taskStore.Close() })

	roster, err := fleet.NewSQLiteStore(filepath.Join(dir, "fleet.db"))
	if err != nil {
		t.Fatalf("fleet.NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { roster.Close() })

	dial := func(*fleet.Agent) (shell.Executor, error) {
		return shell.NewLocalExecutor(), nil
	}
	orch := task.NewOrchestrator(taskStore, roster, task.NewChannel(dial),
		policy.NewEngine(rules), audit.NopSink{}, logger)
	enforcer := task.NewEnforcer(taskStore, audit.NopSink{}, logger)

	cfg := *config.DefaultConfig()
	cfg.Auth.JWTSecret = "test-secret"
	srv := New(cfg, "test", logger)
	srv.SetOrchestrator(orch)
	srv.SetEnforcer(enforcer)
	srv.SetRoster(roster)
	srv.registerRoutes()

	token, err := signJWT("test-secret", "admin")
	if err != nil {
		t.Fatalf("signJWT: %v", err)
	}
	return &apiFixture{srv: srv, token: token, roster: roster}
}

func (f *apiFixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader = bytes.NewReader([]byte("{}"))
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Authorization", "Bearer "+f.token)
	w := httptest.NewRecorder()
	f.srv.mux.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(w.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v (body %s)", err, w.Body.String())
	}
	return v
}

func TestAPI_TaskLifecycle(t *testing.T) {
	f := newAPIFixture(t, nil)

	w := f.do(t, "POST", "/api/agents", &fleet.Agent{
		Name: "worker", Status: fleet.StatusOnline,
		Capabilities: []string{"research"}, Workspace: t.TempDir(),
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("register agent: %d %s", w.Code, w.Body.String())
	}
	agent := decode[fleet.Agent](t, w)

	w = f.do(t, "POST", "/api/tasks", map[string]any{
		"title": "research the options", "requested_by": "op",
		"required_capabilities": []string{"research"},
		"auto_assign":           true,
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("create task: %d %s", w.Code, w.Body.String())
	}
	created := decode[task.Task](t, w)
	if created.Status != task.StatusAssigned || created.AssignedTo != agent.ID {
		t.Fatalf("task = %+v", created)
	}

	w = f.do(t, "POST", "/api/tasks/"+created.ID+"/dispatch", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("dispatch: %d %s", w.Code, w.Body.String())
	}
	running := decode[task.Task](t, w)
	if running.Status != task.StatusRunning {
		t.Fatalf("Status = %s", running.Status)
	}

	w = f.do(t, "POST", "/api/tasks/"+created.ID+"/poll", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("poll: %d %s", w.Code, w.Body.String())
	}
	polled := decode[task.Task](t, w)
	if polled.Status != task.StatusRunning {
		t.Fatalf("Status = %s, want still running", polled.Status)
	}

	w = f.do(t, "POST", "/api/tasks/"+created.ID+"/complete",
		map[string]string{"result": "done"})
	if w.Code != http.StatusOK {
		t.Fatalf("complete: %d %s", w.Code, w.Body.String())
	}
	finished := decode[task.Task](t, w)
	if finished.Status != task.StatusCompleted || finished.Result != "done" {
		t.Fatalf("task = %+v", finished)
	}

	// Terminal tasks refuse further transitions.
	if w := f.do(t, "POST", "/api/tasks/"+created.ID+"/cancel", nil); w.Code != http.StatusConflict {
		t.Errorf("cancel terminal: %d, want 409", w.Code)
	}
}

func TestAPI_TaskValidationAndNotFound(t *testing.T) {
	f := newAPIFixture(t, nil)

	w := f.do(t, "POST", "/api/tasks", map[string]string{"requested_by": "op"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("missing title: %d, want 400", w.Code)
	}

	if w := f.do(t, "GET", "/api/tasks/nope", nil); w.Code != http.StatusNotFound {
		t.Errorf("get missing: %d, want 404", w.Code)
	}
	if w := f.do(t, "POST", "/api/tasks/nope/dispatch", nil); w.Code != http.StatusNotFound {
		t.Errorf("dispatch missing: %d, want 404", w.Code)
	}
}

func TestAPI_DispatchBeforeAssignConflicts(t *testing.T) {
	f := newAPIFixture(t, nil)

	w := f.do(t, "POST", "/api/tasks", map[string]string{
		"title": "t", "requested_by": "op",
	})
	created := decode[task.Task](t, w)

	if w := f.do(t, "POST", "/api/tasks/"+created.ID+"/dispatch", nil); w.Code != http.StatusConflict {
		t.Fatalf("dispatch pending: %d, want 409", w.Code)
	}
}

func TestAPI_DispatchPolicyDenied(t *testing.T) {
	rules := []policy.Rule{{Action: "task.dispatch", Effect: policy.EffectDeny}}
	f := newAPIFixture(t, rules)

	w := f.do(t, "POST", "/api/agents", &fleet.Agent{
		Name: "worker", Status: fleet.StatusOnline, Workspace: t.TempDir(),
	})
	agent := decode[fleet.Agent](t, w)

	w = f.do(t, "POST", "/api/tasks", map[string]string{
		"title": "t", "requested_by": "op",
	})
	created := decode[task.Task](t, w)

	w = f.do(t, "POST", "/api/tasks/"+created.ID+"/assign",
		map[string]string{"agent_id": agent.ID})
	if w.Code != http.StatusOK {
		t.Fatalf("assign: %d %s", w.Code, w.Body.String())
	}

	if w := f.do(t, "POST", "/api/tasks/"+created.ID+"/dispatch", nil); w.Code != http.StatusForbidden {
		t.Fatalf("dispatch denied: %d, want 403", w.Code)
	}
}

func TestAPI_ListTasksFilter(t *testing.T) {
	f := newAPIFixture(t, nil)

	for _, title := range []string{"a", "b"} {
		w := f.do(t, "POST", "/api/tasks", map[string]string{
			"title": title, "requested_by": "op",
		})
		if w.Code != http.StatusCreated {
			t.Fatalf("create %s: %d", title, w.Code)
		}
	}

	w := f.do(t, "GET", "/api/tasks", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("list: %d", w.Code)
	}
	all := decode[[]task.Task](t, w)
	if len(all) != 2 {
		t.Fatalf("len = %d, want 2", len(all))
	}

	w = f.do(t, "GET", "/api/tasks?status=completed", nil)
	completed := decode[[]task.Task](t, w)
	if len(completed) != 0 {
		t.Errorf("completed = %d, want 0", len(completed))
	}
}

func TestAPI_RouteDryRun(t *testing.T) {
	f := newAPIFixture(t, nil)

	w := f.do(t, "POST", "/api/agents", &fleet.Agent{
		Name: "builder", Status: fleet.StatusOnline, Capabilities: []string{"build"},
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("register: %d", w.Code)
	}

	w = f.do(t, "POST", "/api/tasks", map[string]any{
		"title": "build it", "requested_by": "op",
		"required_capabilities": []string{"build"},
	})
	created := decode[task.Task](t, w)
	if created.Status != task.StatusPending {
		t.Fatalf("Status = %s, want pending without auto_assign", created.Status)
	}

	w = f.do(t, "GET", "/api/tasks/"+created.ID+"/route", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("route: %d", w.Code)
	}
	candidates := decode[[]task.Candidate](t, w)
	if len(candidates) != 1 || candidates[0].Agent.Name != "builder" {
		t.Fatalf("candidates = %+v", candidates)
	}

	// Dry run must not assign.
	w = f.do(t, "GET", "/api/tasks/"+created.ID, nil)
	got := decode[task.Task](t, w)
	if got.Status != task.StatusPending {
		t.Errorf("Status = %s after dry run", got.Status)
	}
}

func TestAPI_AgentsEndpoints(t *testing.T) {
	f := newAPIFixture(t, nil)

	if w := f.do(t, "POST", "/api/agents", &fleet.Agent{}); w.Code != http.StatusBadRequest {
		t.Errorf("nameless agent: %d, want 400", w.Code)
	}

	w := f.do(t, "POST", "/api/agents", &fleet.Agent{Name: "w1"})
	agent := decode[fleet.Agent](t, w)

	w = f.do(t, "GET", "/api/agents/"+agent.ID, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get agent: %d", w.Code)
	}

	w = f.do(t, "GET", "/api/agents", nil)
	agents := decode[[]fleet.Agent](t, w)
	if len(agents) != 1 {
		t.Errorf("len = %d, want 1", len(agents))
	}

	if w := f.do(t, "GET", "/api/agents/ghost", nil); w.Code != http.StatusNotFound {
		t.Errorf("missing agent: %d, want 404", w.Code)
	}
}

func TestAPI_Sweep(t *testing.T) {
	f := newAPIFixture(t, nil)

	w := f.do(t, "POST", "/api/sweep", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("sweep: %d %s", w.Code, w.Body.String())
	}
	resp := decode[map[string]int](t, w)
	if resp["timed_out"] != 0 {
		t.Errorf("timed_out = %d", resp["timed_out"])
	}
}
