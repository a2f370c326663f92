package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/homeflow/internal/auth"
	"github.com/nerrad567/homeflow/internal/device"
)

// guardianHeader carries a guardian capability token on status changes.
const guardianHeader = "X-Guardian-Token"

// History query limits.
const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 200
)

// apiSourceID labels mutations made through the HTTP API.
const apiSourceID = "api"

// handleListDevices returns a point-in-time snapshot of all devices.
//
// Query parameters:
//   - room_id: filter by room
//   - type: filter by device type
func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	roomID := r.URL.Query().Get("room_id")
	typ := device.Type(r.URL.Query().Get("type"))

	all := s.devices.List(r.Context())
	devices := make([]device.Device, 0, len(all))
	for _, d := range all {
		if roomID != "" && d.RoomID != roomID {
			continue
		}
		if typ != "" && d.Type != typ {
			continue
		}
		devices = append(devices, d)
	}
	writeJSON(w, http.StatusOK, map[string]any{"devices": devices, "count": len(devices)})
}

// handleGetDevice returns a single device by ID.
func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	dev, err := s.devices.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, dev)
}

// handleSetDeviceStatus applies a partial status change as a manual command.
//
// The body is a JSON object of status properties. An optional
// X-Guardian-Token header adds the token's capabilities to the source, which
// is how the AI safety lock is set or cleared.
func (s *Server) handleSetDeviceStatus(w http.ResponseWriter, r *http.Request) {
	src := device.Source{Kind: device.SourceManual, ID: apiSourceID}
	if token := r.Header.Get(guardianHeader); token != "" {
		if s.guardian == nil {
			writeUnauthorized(w, "guardian tokens are not enabled")
			return
		}
		claims, err := s.guardian.Parse(token)
		if err != nil {
			if errors.Is(err, auth.ErrTokenExpired) {
				writeUnauthorized(w, "guardian token has expired")
				return
			}
			writeUnauthorized(w, "invalid guardian token")
			return
		}
		src.ID = claims.Subject
		src = src.WithCapabilities(claims.Capabilities...)
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeBadRequest(w, "failed to read body")
		return
	}
	patch, err := device.PatchFromJSON(body)
	if err != nil {
		writeBadRequest(w, "body must be a JSON object of status properties")
		return
	}
	if len(patch) == 0 {
		writeBadRequest(w, "status patch is empty")
		return
	}

	dev, err := s.devices.Apply(r.Context(), chi.URLParam(r, "id"), patch, src)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, dev)
}

// handleGetDeviceHistory returns recent state changes of a device, newest
// first.
//
// Query parameters:
//   - limit: number of entries (default 50, max 200)
func (s *Server) handleGetDeviceHistory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")
	if s.history == nil {
		writeError(w, http.StatusServiceUnavailable, "service_unavailable", "state history is not enabled")
		return
	}
	if _, err := s.devices.Get(ctx, id); err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	limit, err := parseLimit(r.URL.Query().Get("limit"), defaultHistoryLimit, maxHistoryLimit)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	entries, err := s.history.GetHistory(ctx, id, limit)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	if entries == nil {
		entries = []device.StateHistoryEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"device_id": id, "history": entries, "count": len(entries)})
}

// parseLimit reads a positive page size, clamping it to max.
func parseLimit(raw string, def, maxLimit int) (int, error) {
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, errors.New("limit must be a positive integer")
	}
	if n > maxLimit {
		n = maxLimit
	}
	return n, nil
}

// decodeJSON decodes the request body into v, rejecting unknown fields.
func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
