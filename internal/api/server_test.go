package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/homeflow/internal/anomaly"
	"github.com/nerrad567/homeflow/internal/automation"
	"github.com/nerrad567/homeflow/internal/auth"
	"github.com/nerrad567/homeflow/internal/device"
	"github.com/nerrad567/homeflow/internal/events"
	"github.com/nerrad567/homeflow/internal/infrastructure/config"
)

// ─── Server & middleware ───────────────────────────────────────────

func TestNew_RequiresDependencies(t *testing.T) {
	if _, err := New(Deps{}); err == nil {
		t.Error("New(Deps{}) error = nil, want error")
	}
	if _, err := New(Deps{Logger: testLogger()}); err == nil {
		t.Error("New() without device store error = nil, want error")
	}
}

func TestHealth(t *testing.T) {
	f := newAPIFixture(t)

	w := f.do(t, http.MethodGet, "/api/v1/health", nil)
	expectStatus(t, w, http.StatusOK)

	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}
	resp := decode(t, w)
	if resp["status"] != "ok" || resp["version"] != "test" {
		t.Errorf("health = %v", resp)
	}
}

func TestRequestID(t *testing.T) {
	f := newAPIFixture(t)

	w := f.do(t, http.MethodGet, "/api/v1/health", nil)
	if w.Header().Get("X-Request-ID") == "" {
		t.Error("expected X-Request-ID header to be set")
	}

	w = f.do(t, http.MethodGet, "/api/v1/health", nil, "X-Request-ID", "client-123")
	if got := w.Header().Get("X-Request-ID"); got != "client-123" {
		t.Errorf("X-Request-ID = %q, want client-123", got)
	}
}

func TestCORS_Preflight(t *testing.T) {
	f := newAPIFixture(t)

	w := f.do(t, http.MethodOptions, "/api/v1/devices", nil, "Origin", "http://localhost:3000")
	expectStatus(t, w, http.StatusNoContent)
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Errorf("ACAO = %q, want http://localhost:3000", got)
	}
	if got := w.Header().Get("Access-Control-Allow-Headers"); !strings.Contains(got, guardianHeader) {
		t.Errorf("allowed headers %q missing %s", got, guardianHeader)
	}
}

func TestNotFoundRoute(t *testing.T) {
	f := newAPIFixture(t)
	w := f.do(t, http.MethodGet, "/api/v1/nonexistent", nil)
	expectStatus(t, w, http.StatusNotFound)
}

func TestMetrics(t *testing.T) {
	f := newAPIFixture(t)

	w := f.do(t, http.MethodGet, "/api/v1/metrics", nil)
	expectStatus(t, w, http.StatusOK)

	var m SystemMetrics
	if err := json.Unmarshal(w.Body.Bytes(), &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if m.Devices.Total != 3 {
		t.Errorf("devices.total = %d, want 3", m.Devices.Total)
	}
	if m.Devices.ByType["light"] != 1 || m.Devices.ByRoom["hall"] != 2 {
		t.Errorf("devices = %+v", m.Devices)
	}
	if m.Database == nil {
		t.Error("database metrics missing")
	}
	if m.MQTT != nil {
		t.Errorf("mqtt = %+v, want omitted without a client", m.MQTT)
	}
}

// ─── Devices ───────────────────────────────────────────────────────

func TestListDevices(t *testing.T) {
	f := newAPIFixture(t)

	tests := []struct {
		name  string
		query string
		want  int
	}{
		{"all", "", 3},
		{"by room", "?room_id=hall", 2},
		{"by type", "?type=water_sensor", 1},
		{"no match", "?room_id=attic", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := f.do(t, http.MethodGet, "/api/v1/devices"+tt.query, nil)
			expectStatus(t, w, http.StatusOK)
			if got := int(decode(t, w)["count"].(float64)); got != tt.want {
				t.Errorf("count = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestGetDevice(t *testing.T) {
	f := newAPIFixture(t)

	w := f.do(t, http.MethodGet, "/api/v1/devices/hall-light", nil)
	expectStatus(t, w, http.StatusOK)
	resp := decode(t, w)
	if resp["id"] != "hall-light" || resp["type"] != "light" {
		t.Errorf("device = %v", resp)
	}

	w = f.do(t, http.MethodGet, "/api/v1/devices/missing", nil)
	expectStatus(t, w, http.StatusNotFound)
	if decode(t, w)["code"] != ErrCodeNotFound {
		t.Errorf("code = %v, want %s", decode(t, w)["code"], ErrCodeNotFound)
	}
}

func TestSetDeviceStatus(t *testing.T) {
	f := newAPIFixture(t)

	w := f.do(t, http.MethodPatch, "/api/v1/devices/hall-light/status", `{"isOn": true, "brightness": 80}`)
	expectStatus(t, w, http.StatusOK)

	dev, err := f.store.Get(context.Background(), "hall-light")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	st := device.StatusMap(dev.Status)
	if st["isOn"] != true {
		t.Errorf("isOn = %v, want true", st["isOn"])
	}
}

func TestSetDeviceStatus_Validation(t *testing.T) {
	f := newAPIFixture(t)

	tests := []struct {
		name string
		path string
		body string
		want int
	}{
		{"unknown device", "/api/v1/devices/missing/status", `{"isOn": true}`, http.StatusNotFound},
		{"not an object", "/api/v1/devices/hall-light/status", `[1,2]`, http.StatusBadRequest},
		{"empty patch", "/api/v1/devices/hall-light/status", `{}`, http.StatusBadRequest},
		{"wrong type", "/api/v1/devices/hall-light/status", `{"isOn": "yes"}`, http.StatusBadRequest},
		{"out of range", "/api/v1/devices/hall-light/status", `{"brightness": 250}`, http.StatusBadRequest},
		{"unknown property", "/api/v1/devices/hall-light/status", `{"targetTemperature": 20}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := f.do(t, http.MethodPatch, tt.path, tt.body)
			expectStatus(t, w, tt.want)
		})
	}
}

func TestSetDeviceStatus_AILock(t *testing.T) {
	f := newAPIFixture(t)
	path := "/api/v1/devices/hall-light/status"

	// Without a guardian token the lock cannot be set.
	w := f.do(t, http.MethodPatch, path, `{"isLockedByAI": true}`)
	expectStatus(t, w, http.StatusLocked)
	if msg := decode(t, w)["message"]; msg != "device restricted" {
		t.Errorf("message = %v, want device restricted", msg)
	}

	token, err := f.guardian.Issue("guardian-panel", auth.CapLockOverride)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	w = f.do(t, http.MethodPatch, path, `{"isLockedByAI": true}`, guardianHeader, token)
	expectStatus(t, w, http.StatusOK)

	// Locked: ordinary commands are refused.
	w = f.do(t, http.MethodPatch, path, `{"isOn": true}`)
	expectStatus(t, w, http.StatusLocked)
	if decode(t, w)["code"] != ErrCodeLocked {
		t.Errorf("code = %v, want %s", decode(t, w)["code"], ErrCodeLocked)
	}

	// The guardian clears the lock and the command goes through.
	w = f.do(t, http.MethodPatch, path, `{"isLockedByAI": false}`, guardianHeader, token)
	expectStatus(t, w, http.StatusOK)
	w = f.do(t, http.MethodPatch, path, `{"isOn": true}`)
	expectStatus(t, w, http.StatusOK)
}

func TestSetDeviceStatus_BadGuardianToken(t *testing.T) {
	f := newAPIFixture(t)

	w := f.do(t, http.MethodPatch, "/api/v1/devices/hall-light/status", `{"isOn": true}`, guardianHeader, "not-a-jwt")
	expectStatus(t, w, http.StatusUnauthorized)

	other, err := auth.NewGuardian("another-secret-that-is-32-bytes-long!", time.Minute)
	if err != nil {
		t.Fatalf("NewGuardian() error = %v", err)
	}
	token, err := other.Issue("intruder", auth.CapLockOverride)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	w = f.do(t, http.MethodPatch, "/api/v1/devices/hall-light/status", `{"isLockedByAI": true}`, guardianHeader, token)
	expectStatus(t, w, http.StatusUnauthorized)
}

func TestDeviceHistory(t *testing.T) {
	f := newAPIFixture(t)

	for _, body := range []string{`{"isOn": true}`, `{"isOn": false}`, `{"brightness": 10}`} {
		expectStatus(t, f.do(t, http.MethodPatch, "/api/v1/devices/hall-light/status", body), http.StatusOK)
	}

	w := f.do(t, http.MethodGet, "/api/v1/devices/hall-light/history?limit=2", nil)
	expectStatus(t, w, http.StatusOK)
	resp := decode(t, w)
	if got := int(resp["count"].(float64)); got != 2 {
		t.Errorf("count = %d, want 2", got)
	}

	expectStatus(t, f.do(t, http.MethodGet, "/api/v1/devices/hall-light/history?limit=abc", nil), http.StatusBadRequest)
	expectStatus(t, f.do(t, http.MethodGet, "/api/v1/devices/missing/history", nil), http.StatusNotFound)
}

// ─── Rules ─────────────────────────────────────────────────────────

func TestRuleLifecycle(t *testing.T) {
	f := newAPIFixture(t)

	w := f.do(t, http.MethodPost, "/api/v1/rules", motionLightRule())
	expectStatus(t, w, http.StatusCreated)
	created := decode(t, w)
	id, _ := created["id"].(string)
	if id == "" {
		t.Fatalf("created rule has no id: %v", created)
	}
	if created["is_user_defined"] != true || created["is_ai_suggested"] != false {
		t.Errorf("provenance = %v/%v, want user-defined", created["is_user_defined"], created["is_ai_suggested"])
	}

	w = f.do(t, http.MethodGet, "/api/v1/rules/"+id, nil)
	expectStatus(t, w, http.StatusOK)
	if st := decode(t, w)["state"]; st != string(automation.StateArmed) {
		t.Errorf("state = %v, want %s", st, automation.StateArmed)
	}

	w = f.do(t, http.MethodPost, "/api/v1/rules/"+id+"/toggle", nil)
	expectStatus(t, w, http.StatusOK)
	if decode(t, w)["is_enabled"] != false {
		t.Error("toggle should disable the rule")
	}
	w = f.do(t, http.MethodGet, "/api/v1/rules/"+id, nil)
	if st := decode(t, w)["state"]; st != string(automation.StateDisabled) {
		t.Errorf("state after toggle = %v, want %s", st, automation.StateDisabled)
	}

	body := motionLightRule()
	body["name"] = "Hall motion light (renamed)"
	w = f.do(t, http.MethodPut, "/api/v1/rules/"+id, body)
	expectStatus(t, w, http.StatusOK)

	w = f.do(t, http.MethodGet, "/api/v1/rules", nil)
	expectStatus(t, w, http.StatusOK)
	resp := decode(t, w)
	if int(resp["count"].(float64)) != 1 {
		t.Fatalf("count = %v, want 1", resp["count"])
	}
	first := resp["rules"].([]any)[0].(map[string]any)
	if first["name"] != "Hall motion light (renamed)" {
		t.Errorf("name = %v", first["name"])
	}

	expectStatus(t, f.do(t, http.MethodDelete, "/api/v1/rules/"+id, nil), http.StatusNoContent)
	expectStatus(t, f.do(t, http.MethodGet, "/api/v1/rules/"+id, nil), http.StatusNotFound)
	expectStatus(t, f.do(t, http.MethodDelete, "/api/v1/rules/"+id, nil), http.StatusNotFound)
}

func TestCreateRule_Validation(t *testing.T) {
	f := newAPIFixture(t)

	unknown := motionLightRule()
	unknown["condition"] = map[string]any{"device_id": "ghost", "property": "isOn", "operator": "is_true"}

	noActions := motionLightRule()
	noActions["actions"] = []any{}

	tests := []struct {
		name string
		body any
	}{
		{"invalid json", `{"name":`},
		{"unknown field", `{"name": "x", "priority": 3}`},
		{"unknown device", unknown},
		{"no actions", noActions},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := f.do(t, http.MethodPost, "/api/v1/rules", tt.body)
			expectStatus(t, w, http.StatusBadRequest)
		})
	}
	if rules, _, _ := f.engine.Registry().Counts(); rules != 0 {
		t.Errorf("rules stored = %d, want 0", rules)
	}
}

func TestCreateRule_DuplicateID(t *testing.T) {
	f := newAPIFixture(t)

	body := motionLightRule()
	body["id"] = "rule-fixed"
	expectStatus(t, f.do(t, http.MethodPost, "/api/v1/rules", body), http.StatusCreated)
	expectStatus(t, f.do(t, http.MethodPost, "/api/v1/rules", body), http.StatusConflict)
}

// ─── Routines ──────────────────────────────────────────────────────

func voiceRoutine(enabled bool) map[string]any {
	return map[string]any{
		"name": "Movie night",
		"triggers": []any{
			map[string]any{"kind": "voice_command", "phrase": "Movie Night"},
			map[string]any{"kind": "location", "zone": "home", "transition": "enter"},
		},
		"actions": []any{
			map[string]any{"device_id": "hall-light", "target_status": map[string]any{"brightness": 10}},
		},
		"is_enabled": enabled,
	}
}

func TestRoutineLifecycle(t *testing.T) {
	f := newAPIFixture(t)

	w := f.do(t, http.MethodPost, "/api/v1/routines", voiceRoutine(true))
	expectStatus(t, w, http.StatusCreated)
	id := decode(t, w)["id"].(string)

	expectStatus(t, f.do(t, http.MethodGet, "/api/v1/routines/"+id, nil), http.StatusOK)

	w = f.do(t, http.MethodPost, "/api/v1/routines/"+id+"/run", nil)
	expectStatus(t, w, http.StatusAccepted)

	waitFor(t, "routine action", func() bool {
		v, _ := f.store.Snapshot().Property("hall-light", "brightness")
		n, ok := device.ToFloat(v)
		return ok && n == 10
	})

	w = f.do(t, http.MethodGet, "/api/v1/routines/"+id+"/runs", nil)
	expectStatus(t, w, http.StatusOK)
	if got := int(decode(t, w)["count"].(float64)); got != 1 {
		t.Errorf("runs = %d, want 1", got)
	}

	w = f.do(t, http.MethodPost, "/api/v1/routines/"+id+"/toggle", nil)
	expectStatus(t, w, http.StatusOK)
	expectStatus(t, f.do(t, http.MethodPost, "/api/v1/routines/"+id+"/run", nil), http.StatusConflict)

	expectStatus(t, f.do(t, http.MethodPut, "/api/v1/routines/"+id, voiceRoutine(true)), http.StatusOK)
	expectStatus(t, f.do(t, http.MethodDelete, "/api/v1/routines/"+id, nil), http.StatusNoContent)
	expectStatus(t, f.do(t, http.MethodPost, "/api/v1/routines/"+id+"/run", nil), http.StatusNotFound)
}

func TestTriggers(t *testing.T) {
	f := newAPIFixture(t)
	expectStatus(t, f.do(t, http.MethodPost, "/api/v1/routines", voiceRoutine(true)), http.StatusCreated)
	expectStatus(t, f.do(t, http.MethodPost, "/api/v1/routines", voiceRoutine(false)), http.StatusCreated)

	w := f.do(t, http.MethodPost, "/api/v1/triggers/voice", `{"phrase": "  movie   night "}`)
	expectStatus(t, w, http.StatusOK)
	if got := decode(t, w)["fired"]; got != float64(1) {
		t.Errorf("voice fired = %v, want 1", got)
	}

	w = f.do(t, http.MethodPost, "/api/v1/triggers/location", `{"zone": "HOME", "transition": "enter", "person": "sam"}`)
	expectStatus(t, w, http.StatusOK)
	if got := decode(t, w)["fired"]; got != float64(1) {
		t.Errorf("location fired = %v, want 1", got)
	}

	w = f.do(t, http.MethodPost, "/api/v1/triggers/location", `{"zone": "home", "transition": "leave"}`)
	if got := decode(t, w)["fired"]; got != float64(0) {
		t.Errorf("leave fired = %v, want 0", got)
	}

	expectStatus(t, f.do(t, http.MethodPost, "/api/v1/triggers/voice", `{"phrase": " "}`), http.StatusBadRequest)
	expectStatus(t, f.do(t, http.MethodPost, "/api/v1/triggers/location", `{"zone": "home", "transition": "arrive"}`), http.StatusBadRequest)
}

// ─── Scenarios ─────────────────────────────────────────────────────

func TestScenarioLifecycle(t *testing.T) {
	f := newAPIFixture(t)

	body := map[string]any{
		"name":        "Lights up",
		"description": "Full brightness in the hall",
		"actions": []any{
			map[string]any{"device_id": "hall-light", "target_status": map[string]any{"isOn": true, "brightness": 100}},
		},
	}
	w := f.do(t, http.MethodPost, "/api/v1/scenarios", body)
	expectStatus(t, w, http.StatusCreated)
	id := decode(t, w)["id"].(string)

	expectStatus(t, f.do(t, http.MethodPost, "/api/v1/scenarios/"+id+"/execute", nil), http.StatusAccepted)
	waitFor(t, "scenario action", func() bool {
		v, _ := f.store.Snapshot().Property("hall-light", "isOn")
		return v == true
	})

	w = f.do(t, http.MethodGet, "/api/v1/scenarios/"+id+"/runs", nil)
	expectStatus(t, w, http.StatusOK)
	if got := int(decode(t, w)["count"].(float64)); got != 1 {
		t.Errorf("runs = %d, want 1", got)
	}

	body["name"] = "Lights up!"
	expectStatus(t, f.do(t, http.MethodPut, "/api/v1/scenarios/"+id, body), http.StatusOK)

	w = f.do(t, http.MethodGet, "/api/v1/scenarios", nil)
	if got := int(decode(t, w)["count"].(float64)); got != 1 {
		t.Errorf("count = %d, want 1", got)
	}

	expectStatus(t, f.do(t, http.MethodDelete, "/api/v1/scenarios/"+id, nil), http.StatusNoContent)
	expectStatus(t, f.do(t, http.MethodPost, "/api/v1/scenarios/"+id+"/execute", nil), http.StatusNotFound)
	expectStatus(t, f.do(t, http.MethodGet, "/api/v1/scenarios/"+id+"/runs", nil), http.StatusNotFound)
}

// ─── Alerts ────────────────────────────────────────────────────────

func raiseLeak(t *testing.T, f *apiFixture) string {
	t.Helper()
	ctx := context.Background()
	src := device.Source{Kind: device.SourceDevice, ID: "basement-leak"}
	if _, err := f.store.Apply(ctx, "basement-leak", device.Patch{"isLeaking": true}, src); err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	f.detector.Check(ctx)

	alerts, err := f.detector.List(ctx, anomaly.Filter{Status: anomaly.StatusActive})
	if err != nil || len(alerts) != 1 {
		t.Fatalf("active alerts = %v (err %v), want 1", alerts, err)
	}
	return alerts[0].ID
}

func TestAlerts(t *testing.T) {
	f := newAPIFixture(t)
	id := raiseLeak(t, f)

	w := f.do(t, http.MethodGet, "/api/v1/alerts?status=active&severity=critical", nil)
	expectStatus(t, w, http.StatusOK)
	if got := int(decode(t, w)["count"].(float64)); got != 1 {
		t.Errorf("count = %d, want 1", got)
	}

	w = f.do(t, http.MethodGet, "/api/v1/alerts?device_id=hall-light", nil)
	if got := int(decode(t, w)["count"].(float64)); got != 0 {
		t.Errorf("count for hall-light = %d, want 0", got)
	}

	w = f.do(t, http.MethodGet, "/api/v1/alerts/"+id, nil)
	expectStatus(t, w, http.StatusOK)
	if decode(t, w)["type"] != string(anomaly.TypeLeak) {
		t.Errorf("alert = %s", w.Body.String())
	}

	expectStatus(t, f.do(t, http.MethodPost, "/api/v1/alerts/"+id+"/acknowledge", `{"feedback": "meh"}`), http.StatusBadRequest)

	w = f.do(t, http.MethodPost, "/api/v1/alerts/"+id+"/acknowledge", `{"feedback": "helpful"}`)
	expectStatus(t, w, http.StatusOK)
	resp := decode(t, w)
	if resp["status"] != string(anomaly.StatusAcknowledged) || resp["feedback"] != "helpful" {
		t.Errorf("acknowledged alert = %v", resp)
	}

	expectStatus(t, f.do(t, http.MethodPost, "/api/v1/alerts/"+id+"/acknowledge", nil), http.StatusConflict)
	expectStatus(t, f.do(t, http.MethodPost, "/api/v1/alerts/alert-missing/acknowledge", nil), http.StatusNotFound)
	expectStatus(t, f.do(t, http.MethodGet, "/api/v1/alerts/alert-missing", nil), http.StatusNotFound)
}

// ─── Suggestions ───────────────────────────────────────────────────

func TestSuggestions_AcceptAndReject(t *testing.T) {
	f := newAPIFixture(t)
	f.suggester.resp = &automation.SuggestionResponse{
		Rules: []automation.Rule{{
			Name: "Night light",
			Condition: automation.Condition{
				DeviceID: "hall-motion", Property: "motionDetected", Operator: automation.OpIsTrue,
			},
			Actions: []automation.Action{{DeviceID: "hall-light", TargetStatus: device.Patch{"isOn": true}}},
		}},
		Scenarios: []automation.Scenario{{
			Name:    "Ghost scene",
			Actions: []automation.Action{{DeviceID: "ghost", TargetStatus: device.Patch{"isOn": true}}},
		}},
		Rationale: "motion at night",
	}

	w := f.do(t, http.MethodPost, "/api/v1/suggestions", `{"context": "light the hall at night"}`)
	expectStatus(t, w, http.StatusCreated)
	if got := int(decode(t, w)["count"].(float64)); got != 2 {
		t.Fatalf("drafts = %d, want 2", got)
	}

	// Drafts are never stored as automations until accepted.
	if rules, _, scenarios := f.engine.Registry().Counts(); rules != 0 || scenarios != 0 {
		t.Fatalf("counts = %d rules, %d scenarios; want none", rules, scenarios)
	}

	var ruleID, sceneID string
	for _, s := range f.engine.Suggestions() {
		switch s.Kind {
		case automation.KindRule:
			ruleID = s.ID
		case automation.KindScenario:
			sceneID = s.ID
			if s.Problem == "" {
				t.Error("draft naming an unknown device should carry a problem")
			}
		}
	}

	expectStatus(t, f.do(t, http.MethodGet, "/api/v1/suggestions/"+ruleID, nil), http.StatusOK)

	w = f.do(t, http.MethodPost, "/api/v1/suggestions/"+ruleID+"/accept", nil)
	expectStatus(t, w, http.StatusCreated)
	rule := decode(t, w)["rule"].(map[string]any)
	if rule["is_ai_suggested"] != true || rule["is_enabled"] != true {
		t.Errorf("accepted rule = %v", rule)
	}

	expectStatus(t, f.do(t, http.MethodPost, "/api/v1/suggestions/"+sceneID+"/accept", nil), http.StatusBadRequest)
	expectStatus(t, f.do(t, http.MethodGet, "/api/v1/suggestions/"+sceneID, nil), http.StatusOK)

	expectStatus(t, f.do(t, http.MethodDelete, "/api/v1/suggestions/"+sceneID, nil), http.StatusNoContent)
	expectStatus(t, f.do(t, http.MethodDelete, "/api/v1/suggestions/"+sceneID, nil), http.StatusNotFound)

	w = f.do(t, http.MethodGet, "/api/v1/suggestions", nil)
	if got := int(decode(t, w)["count"].(float64)); got != 0 {
		t.Errorf("inbox = %d, want 0", got)
	}
}

func TestSuggestions_ServiceFailure(t *testing.T) {
	f := newAPIFixture(t)
	f.suggester.err = errors.Join(automation.ErrSuggestionService, errors.New("connection refused"))

	w := f.do(t, http.MethodPost, "/api/v1/suggestions", `{"context": "anything"}`)
	expectStatus(t, w, http.StatusBadGateway)
}

// ─── WebSocket ─────────────────────────────────────────────────────

func TestHub_PatternSubscriptions(t *testing.T) {
	hub := NewHub(config.WebSocketConfig{MaxMessageSize: 8192, PingInterval: 30, PongTimeout: 10}, testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	alerts := &WSClient{hub: hub, send: make(chan []byte, wsSendBufferSize), subscriptions: map[string]struct{}{"alert.*": {}}}
	devices := &WSClient{hub: hub, send: make(chan []byte, wsSendBufferSize), subscriptions: map[string]struct{}{events.TopicDeviceStateChanged: {}}}
	hub.Register(alerts)
	hub.Register(devices)
	if hub.ClientCount() != 2 {
		t.Fatalf("ClientCount() = %d, want 2", hub.ClientCount())
	}

	hub.Broadcast(events.TopicAlertRaised, map[string]any{"id": "alert-1"})

	select {
	case msg := <-alerts.send:
		var frame WSMessage
		if err := json.Unmarshal(msg, &frame); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if frame.Type != WSTypeEvent || frame.EventType != events.TopicAlertRaised {
			t.Errorf("frame = %+v", frame)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for alert frame")
	}

	select {
	case <-devices.send:
		t.Error("device subscriber should not receive alert frames")
	case <-time.After(50 * time.Millisecond):
	}

	hub.Unregister(alerts)
	hub.Unregister(alerts)
	if hub.ClientCount() != 1 {
		t.Errorf("ClientCount() = %d, want 1", hub.ClientCount())
	}
}

func TestWebSocket_RelaysBusEvents(t *testing.T) {
	f := newAPIFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go f.srv.hub.Run(ctx)
	f.srv.relay = f.bus.Subscribe("websocket-relay", f.srv.relayEvent, "*")
	defer f.srv.relay.Close()

	ts := httptest.NewServer(f.router)
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second)) //nolint:errcheck // test deadline

	sub := WSMessage{Type: WSTypeSubscribe, ID: "1", Payload: WSSubscribePayload{Channels: []string{"device.*"}}}
	if err := conn.WriteJSON(sub); err != nil {
		t.Fatalf("write subscribe: %v", err)
	}
	var ack WSMessage
	if err := conn.ReadJSON(&ack); err != nil {
		t.Fatalf("read ack: %v", err)
	}
	if ack.Type != WSTypeResponse || ack.ID != "1" {
		t.Fatalf("ack = %+v", ack)
	}

	expectStatus(t, f.do(t, http.MethodPatch, "/api/v1/devices/hall-light/status", `{"isOn": true}`), http.StatusOK)

	var frame WSMessage
	if err := conn.ReadJSON(&frame); err != nil {
		t.Fatalf("read event: %v", err)
	}
	if frame.Type != WSTypeEvent || frame.EventType != events.TopicDeviceStateChanged {
		t.Errorf("frame = %+v", frame)
	}
	payload, _ := frame.Payload.(map[string]any)
	if payload["device_id"] != "hall-light" {
		t.Errorf("payload = %v", frame.Payload)
	}
}

func TestWebSocket_UnknownMessage(t *testing.T) {
	f := newAPIFixture(t)
	ts := httptest.NewServer(f.router)
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second)) //nolint:errcheck // test deadline

	if err := conn.WriteJSON(WSMessage{Type: "shout", ID: "9"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	var reply WSMessage
	if err := conn.ReadJSON(&reply); err != nil {
		t.Fatalf("read: %v", err)
	}
	if reply.Type != WSTypeError || reply.ID != "9" {
		t.Errorf("reply = %+v", reply)
	}
}

// ─── Audit ──────────────────────────────────────────────────────────

func TestAuditTrail(t *testing.T) {
	f := newAPIFixture(t)

	token, err := f.guardian.Issue("guardian-panel", auth.CapLockOverride)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	w := f.do(t, http.MethodPatch, "/api/v1/devices/hall-light/status", `{"isLockedByAI": true}`, guardianHeader, token)
	expectStatus(t, w, http.StatusOK)

	var body map[string]any
	waitFor(t, "audit entry", func() bool {
		w := f.do(t, http.MethodGet, "/api/v1/audit?action=lock_set", nil)
		if w.Code != http.StatusOK {
			return false
		}
		body = decode(t, w)
		return body["total"] == float64(1)
	})

	entries, _ := body["entries"].([]any)
	entry, _ := entries[0].(map[string]any)
	if entry["entity_id"] != "hall-light" {
		t.Errorf("entry = %v", entry)
	}
	caps, _ := entry["details"].(map[string]any)["capabilities"].([]any)
	if len(caps) != 1 || caps[0] != auth.CapLockOverride {
		t.Errorf("capabilities = %v, want guardian capability recorded", caps)
	}

	expectStatus(t, f.do(t, http.MethodGet, "/api/v1/audit?offset=-1", nil), http.StatusBadRequest)
	expectStatus(t, f.do(t, http.MethodGet, "/api/v1/audit?limit=abc", nil), http.StatusBadRequest)
}
