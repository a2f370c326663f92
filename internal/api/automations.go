package api

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/homeflow/internal/automation"
)

// Run log limits.
const (
	defaultRunLimit = 50
	maxRunLimit     = 500
)

// ruleView adds the engine state to a stored rule.
type ruleView struct {
	*automation.Rule
	State automation.RuleState `json:"state"`
}

// ─── Rules ─────────────────────────────────────────────────────────

func (s *Server) handleListRules(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	rules := s.engine.Registry().ListRules(ctx)
	views := make([]ruleView, 0, len(rules))
	for i := range rules {
		st, _ := s.engine.RuleState(ctx, rules[i].ID) //nolint:errcheck // listed rules exist
		views = append(views, ruleView{Rule: &rules[i], State: st})
	}
	writeJSON(w, http.StatusOK, map[string]any{"rules": views, "count": len(views)})
}

func (s *Server) handleGetRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	rule, err := s.engine.Registry().GetRule(ctx, chi.URLParam(r, "id"))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	st, _ := s.engine.RuleState(ctx, rule.ID) //nolint:errcheck // rule was just read
	writeJSON(w, http.StatusOK, ruleView{Rule: rule, State: st})
}

// handleCreateRule creates a user-defined rule. AI drafts become rules only
// through the suggestion accept endpoint.
func (s *Server) handleCreateRule(w http.ResponseWriter, r *http.Request) {
	var rule automation.Rule
	if err := decodeJSON(r, &rule); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	rule.IsUserDefined = true
	rule.IsAISuggested = false
	rule.Stats = automation.Stats{}

	if err := s.engine.CreateRule(r.Context(), &rule); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, rule)
}

func (s *Server) handleUpdateRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")
	existing, err := s.engine.Registry().GetRule(ctx, id)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	var rule automation.Rule
	if err := decodeJSON(r, &rule); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	rule.ID = id
	rule.IsUserDefined = existing.IsUserDefined
	rule.IsAISuggested = existing.IsAISuggested

	if err := s.engine.UpdateRule(ctx, &rule); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

func (s *Server) handleDeleteRule(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.DeleteRule(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleToggleRule(w http.ResponseWriter, r *http.Request) {
	rule, err := s.engine.ToggleRule(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

// ─── Routines ──────────────────────────────────────────────────────

func (s *Server) handleListRoutines(w http.ResponseWriter, r *http.Request) {
	routines := s.engine.Registry().ListRoutines(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{"routines": routines, "count": len(routines)})
}

func (s *Server) handleGetRoutine(w http.ResponseWriter, r *http.Request) {
	rt, err := s.engine.Registry().GetRoutine(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rt)
}

func (s *Server) handleCreateRoutine(w http.ResponseWriter, r *http.Request) {
	var rt automation.Routine
	if err := decodeJSON(r, &rt); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	rt.IsUserDefined = true
	rt.IsAISuggested = false
	rt.Stats = automation.Stats{}

	if err := s.engine.CreateRoutine(r.Context(), &rt); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, rt)
}

func (s *Server) handleUpdateRoutine(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")
	existing, err := s.engine.Registry().GetRoutine(ctx, id)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	var rt automation.Routine
	if err := decodeJSON(r, &rt); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	rt.ID = id
	rt.IsUserDefined = existing.IsUserDefined
	rt.IsAISuggested = existing.IsAISuggested

	if err := s.engine.UpdateRoutine(ctx, &rt); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rt)
}

func (s *Server) handleDeleteRoutine(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.DeleteRoutine(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleToggleRoutine(w http.ResponseWriter, r *http.Request) {
	rt, err := s.engine.ToggleRoutine(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rt)
}

// handleRunRoutine fires a routine now. Actions run asynchronously.
func (s *Server) handleRunRoutine(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.engine.RunRoutine(r.Context(), id); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted", "routine_id": id})
}

// ─── Scenarios ─────────────────────────────────────────────────────

func (s *Server) handleListScenarios(w http.ResponseWriter, r *http.Request) {
	scenarios := s.engine.Registry().ListScenarios(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{"scenarios": scenarios, "count": len(scenarios)})
}

func (s *Server) handleGetScenario(w http.ResponseWriter, r *http.Request) {
	sc, err := s.engine.Registry().GetScenario(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sc)
}

func (s *Server) handleCreateScenario(w http.ResponseWriter, r *http.Request) {
	var sc automation.Scenario
	if err := decodeJSON(r, &sc); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	sc.IsUserDefined = true
	sc.IsAISuggested = false
	sc.Stats = automation.Stats{}

	if err := s.engine.CreateScenario(r.Context(), &sc); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, sc)
}

func (s *Server) handleUpdateScenario(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")
	existing, err := s.engine.Registry().GetScenario(ctx, id)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	var sc automation.Scenario
	if err := decodeJSON(r, &sc); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	sc.ID = id
	sc.IsUserDefined = existing.IsUserDefined
	sc.IsAISuggested = existing.IsAISuggested

	if err := s.engine.UpdateScenario(ctx, &sc); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sc)
}

func (s *Server) handleDeleteScenario(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.DeleteScenario(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleExecuteScenario runs a scenario now. Actions run asynchronously.
func (s *Server) handleExecuteScenario(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.engine.ExecuteScenario(r.Context(), id); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted", "scenario_id": id})
}

// ─── Run log ───────────────────────────────────────────────────────

// handleListRuns returns the fire records of a rule, routine or scenario.
// The kind comes from the route prefix.
func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")
	reg := s.engine.Registry()

	var err error
	switch {
	case strings.Contains(r.URL.Path, "/rules/"):
		_, err = reg.GetRule(ctx, id)
	case strings.Contains(r.URL.Path, "/routines/"):
		_, err = reg.GetRoutine(ctx, id)
	default:
		_, err = reg.GetScenario(ctx, id)
	}
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	limit, err := parseLimit(r.URL.Query().Get("limit"), defaultRunLimit, maxRunLimit)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	runs, err := reg.ListRuns(ctx, id, limit)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	if runs == nil {
		runs = []automation.Run{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs, "count": len(runs)})
}
