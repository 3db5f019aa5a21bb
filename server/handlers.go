package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/fleetsmith/armada/fleet"
	"github.com/fleetsmith/armada/task"
)

// registerAPIRoutes sets up the protected task and fleet routes.
func (s *Server) registerAPIRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/tasks", s.listTasks)
	mux.HandleFunc("POST /api/tasks", s.createTask)
	mux.HandleFunc("GET /api/tasks/{id}", s.getTask)
	mux.HandleFunc("GET /api/tasks/{id}/route", s.routeTask)
	mux.HandleFunc("POST /api/tasks/{id}/assign", s.assignTask)
	mux.HandleFunc("POST /api/tasks/{id}/dispatch", s.dispatchTask)
	mux.HandleFunc("POST /api/tasks/{id}/poll", s.pollTask)
	mux.HandleFunc("POST /api/tasks/{id}/complete", s.completeTask)
	mux.HandleFunc("POST /api/tasks/{id}/fail", s.failTask)
	mux.HandleFunc("POST /api/tasks/{id}/cancel", s.cancelTask)
	mux.HandleFunc("POST /api/sweep", s.sweep)

	mux.HandleFunc("GET /api/agents", s.listAgents)
	mux.HandleFunc("GET /api/agents/{id}", s.getAgent)
	mux.HandleFunc("POST /api/agents", s.registerAgent)
}

// writeTaskError maps task-layer errors onto HTTP statuses.
func writeTaskError(w http.ResponseWriter, err error) {
	var denied *task.ErrPolicyDenied
	switch {
	case errors.Is(err, task.ErrNotFound), errors.Is(err, fleet.ErrNotFound):
		writeJSONError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, task.ErrTerminal), errors.Is(err, task.ErrNotDispatchable):
		writeJSONError(w, http.StatusConflict, err.Error())
	case errors.As(err, &denied):
		writeJSONError(w, http.StatusForbidden, err.Error())
	default:
		writeJSONError(w, http.StatusInternalServerError, err.Error())
	}
}

// --- Task handlers ---

func (s *Server) listTasks(w http.ResponseWriter, r *http.Request) {
	var filter task.Filter
	if v := r.URL.Query().Get("status"); v != "" {
		st := task.Status(v)
		filter.Status = &st
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		filter.Limit, _ = strconv.Atoi(v)
	}
	tasks, err := s.orch.List(filter)
	if err != nil {
		writeTaskError(w, err)
		return
	}
	if tasks == nil {
		tasks = []*task.Task{}
	}
	writeJSON(w, http.StatusOK, tasks)
}

func (s *Server) createTask(w http.ResponseWriter, r *http.Request) {
	var req struct {
		task.CreateRequest
		AutoAssign bool `json:"auto_assign"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	t, err := s.orch.Create(req.CreateRequest)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.AutoAssign {
		if assigned, ok, err := s.orch.AutoAssign(t.ID); err != nil {
			writeTaskError(w, err)
			return
		} else if ok {
			t = assigned
		}
	}
	writeJSON(w, http.StatusCreated, t)
}

func (s *Server) getTask(w http.ResponseWriter, r *http.Request) {
	t, err := s.orch.Get(r.PathValue("id"))
	if err != nil {
		writeTaskError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) routeTask(w http.ResponseWriter, r *http.Request) {
	candidates, err := s.orch.Route(r.PathValue("id"))
	if err != nil {
		writeTaskError(w, err)
		return
	}
	if candidates == nil {
		candidates = []task.Candidate{}
	}
	writeJSON(w, http.StatusOK, candidates)
}

func (s *Server) assignTask(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AgentID string `json:"agent_id"`
		Reason  string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	a, err := s.roster.Get(req.AgentID)
	if err != nil {
		writeTaskError(w, err)
		return
	}
	reason := req.Reason
	if reason == "" {
		reason = "manually assigned"
	}
	t, err := s.orch.Assign(r.PathValue("id"), a.ID, a.Name, reason)
	if err != nil {
		writeTaskError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) dispatchTask(w http.ResponseWriter, r *http.Request) {
	t, err := s.orch.Dispatch(r.Context(), r.PathValue("id"))
	if err != nil {
		writeTaskError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) pollTask(w http.ResponseWriter, r *http.Request) {
	t, err := s.orch.Poll(r.Context(), r.PathValue("id"))
	if err != nil {
		writeTaskError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) completeTask(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Result string `json:"result"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	t, err := s.orch.Complete(r.PathValue("id"), req.Result)
	if err != nil {
		writeTaskError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) failTask(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Error string `json:"error"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	t, err := s.orch.Fail(r.PathValue("id"), req.Error)
	if err != nil {
		writeTaskError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) cancelTask(w http.ResponseWriter, r *http.Request) {
	t, err := s.orch.Cancel(r.PathValue("id"))
	if err != nil {
		writeTaskError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) sweep(w http.ResponseWriter, _ *http.Request) {
	n, err := s.enforcer.Sweep()
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"timed_out": n})
}

// --- Agent handlers ---

func (s *Server) listAgents(w http.ResponseWriter, _ *http.Request) {
	agents, err := s.roster.List()
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if agents == nil {
		agents = []*fleet.Agent{}
	}
	writeJSON(w, http.StatusOK, agents)
}

func (s *Server) getAgent(w http.ResponseWriter, r *http.Request) {
	a, err := s.roster.Get(r.PathValue("id"))
	if err != nil {
		writeTaskError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (s *Server) registerAgent(w http.ResponseWriter, r *http.Request) {
	var a fleet.Agent
	if err := json.NewDecoder(r.Body).Decode(&a); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if a.Name == "" {
		writeJSONError(w, http.StatusBadRequest, "agent name is required")
		return
	}
	if _, err := s.roster.Register(&a); err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, &a)
}
