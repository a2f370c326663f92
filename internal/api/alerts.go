package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/homeflow/internal/anomaly"
)

// Alert list limits.
const (
	defaultAlertLimit = 50
	maxAlertLimit     = 200
)

// handleListAlerts returns stored alerts, newest first.
//
// Query parameters:
//   - status: active, acknowledged, expired or cleared
//   - severity: critical, warning or info
//   - device_id: filter by device
//   - limit: number of alerts (default 50, max 200)
func (s *Server) handleListAlerts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, err := parseLimit(q.Get("limit"), defaultAlertLimit, maxAlertLimit)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	alerts, err := s.detector.List(r.Context(), anomaly.Filter{
		Status:   anomaly.Status(q.Get("status")),
		Severity: anomaly.Severity(q.Get("severity")),
		DeviceID: q.Get("device_id"),
		Limit:    limit,
	})
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	if alerts == nil {
		alerts = []anomaly.Alert{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"alerts": alerts, "count": len(alerts)})
}

func (s *Server) handleGetAlert(w http.ResponseWriter, r *http.Request) {
	alert, err := s.detector.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, alert)
}

type acknowledgeRequest struct {
	Feedback anomaly.Feedback `json:"feedback"`
}

// handleAcknowledgeAlert closes an active alert. The body is optional.
func (s *Server) handleAcknowledgeAlert(w http.ResponseWriter, r *http.Request) {
	var req acknowledgeRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, io.EOF) {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	alert, err := s.detector.Acknowledge(r.Context(), chi.URLParam(r, "id"), req.Feedback)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, alert)
}
