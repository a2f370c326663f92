package api

import (
	"net/http"
	"strings"

	"github.com/nerrad567/homeflow/internal/automation"
)

// handleLocationTrigger reports a presence transition and fires matching
// routines.
func (s *Server) handleLocationTrigger(w http.ResponseWriter, r *http.Request) {
	var ev automation.LocationEvent
	if err := decodeJSON(r, &ev); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if strings.TrimSpace(ev.Zone) == "" {
		writeBadRequest(w, "zone is required")
		return
	}
	if ev.Transition != automation.TransitionEnter && ev.Transition != automation.TransitionLeave {
		writeBadRequest(w, "transition must be enter or leave")
		return
	}

	fired := s.engine.HandleLocation(r.Context(), ev)
	writeJSON(w, http.StatusOK, map[string]int{"fired": fired})
}

type voiceRequest struct {
	Phrase string `json:"phrase"`
}

// handleVoiceTrigger fires routines whose voice phrase matches.
func (s *Server) handleVoiceTrigger(w http.ResponseWriter, r *http.Request) {
	var req voiceRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Phrase) == "" {
		writeBadRequest(w, "phrase is required")
		return
	}

	fired := s.engine.HandleVoiceCommand(r.Context(), req.Phrase)
	writeJSON(w, http.StatusOK, map[string]int{"fired": fired})
}
