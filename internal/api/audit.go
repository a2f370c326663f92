package api

import (
	"net/http"
	"strconv"

	"github.com/nerrad567/homeflow/internal/audit"
)

// handleListAudit returns audit entries, newest first.
//
// Query parameters:
//   - action: lock_set, lock_cleared, action_blocked, action_failed or
//     alert_acknowledged
//   - entity_type, entity_id: filter by subject
//   - limit (default 50, max 200) and offset
func (s *Server) handleListAudit(w http.ResponseWriter, r *http.Request) {
	if s.audit == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "audit log is not enabled")
		return
	}

	q := r.URL.Query()
	limit, err := parseLimit(q.Get("limit"), 50, 200) //nolint:mnd // same page size as the audit repository
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	offset := 0
	if raw := q.Get("offset"); raw != "" {
		offset, err = strconv.Atoi(raw)
		if err != nil || offset < 0 {
			writeBadRequest(w, "offset must be a non-negative integer")
			return
		}
	}

	result, err := s.audit.List(r.Context(), audit.Filter{
		Action:     audit.Action(q.Get("action")),
		EntityType: q.Get("entity_type"),
		EntityID:   q.Get("entity_id"),
		Limit:      limit,
		Offset:     offset,
	})
	if err != nil {
		s.logger.Error("failed to list audit entries", "error", err)
		writeInternalError(w, "failed to list audit entries")
		return
	}
	writeJSON(w, http.StatusOK, result)
}
