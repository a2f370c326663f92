package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/homeflow/internal/automation"
)

type suggestionRequest struct {
	Context string `json:"context"`
}

// handleRequestSuggestions asks the suggestion service for drafts. Drafts
// land in the inbox and never run until accepted.
func (s *Server) handleRequestSuggestions(w http.ResponseWriter, r *http.Request) {
	var req suggestionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	drafts, err := s.engine.RequestSuggestions(r.Context(), req.Context)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	if drafts == nil {
		drafts = []automation.Suggestion{}
	}
	writeJSON(w, http.StatusCreated, map[string]any{"suggestions": drafts, "count": len(drafts)})
}

func (s *Server) handleListSuggestions(w http.ResponseWriter, _ *http.Request) {
	drafts := s.engine.Suggestions()
	if drafts == nil {
		drafts = []automation.Suggestion{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"suggestions": drafts, "count": len(drafts)})
}

func (s *Server) handleGetSuggestion(w http.ResponseWriter, r *http.Request) {
	draft, err := s.engine.GetSuggestion(chi.URLParam(r, "id"))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, draft)
}

// handleAcceptSuggestion turns a draft into a stored automation. A draft
// that no longer validates is rejected with 400 and stays in the inbox.
func (s *Server) handleAcceptSuggestion(w http.ResponseWriter, r *http.Request) {
	accepted, err := s.engine.AcceptSuggestion(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, accepted)
}

func (s *Server) handleRejectSuggestion(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.RejectSuggestion(chi.URLParam(r, "id")); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
