package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/homeflow/internal/anomaly"
	"github.com/nerrad567/homeflow/internal/arbiter"
	"github.com/nerrad567/homeflow/internal/audit"
	"github.com/nerrad567/homeflow/internal/auth"
	"github.com/nerrad567/homeflow/internal/automation"
	"github.com/nerrad567/homeflow/internal/device"
	"github.com/nerrad567/homeflow/internal/events"
	"github.com/nerrad567/homeflow/internal/infrastructure/config"
	"github.com/nerrad567/homeflow/internal/infrastructure/database"
	"github.com/nerrad567/homeflow/internal/infrastructure/logging"
	"github.com/nerrad567/homeflow/migrations"
)

const testGuardianSecret = "test-guardian-secret-at-least-32-bytes"

// fakeSuggester answers suggestion requests with a canned response.
type fakeSuggester struct {
	mu   sync.Mutex
	resp *automation.SuggestionResponse
	err  error
	reqs []automation.SuggestionRequest
}

func (f *fakeSuggester) Suggest(_ context.Context, req automation.SuggestionRequest) (*automation.SuggestionResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reqs = append(f.reqs, req)
	if f.err != nil {
		return nil, f.err
	}
	return f.resp, nil
}

// apiFixture wires the real store, arbiter, engine and detector on a
// migrated SQLite database.
type apiFixture struct {
	srv       *Server
	router    http.Handler
	store     *device.Store
	engine    *automation.Engine
	detector  *anomaly.Detector
	bus       *events.Bus
	guardian  *auth.Guardian
	suggester *fakeSuggester
}

func testLogger() *logging.Logger {
	return logging.New(config.LoggingConfig{Level: "error", Format: "text", Output: "stdout"}, "test")
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	ctx := context.Background()

	db, err := database.Open(database.Config{
		Path:        filepath.Join(t.TempDir(), "api.db"),
		WALMode:     true,
		BusyTimeout: 5,
	})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // test cleanup
	if _, err := db.Migrate(ctx, migrations.Source()); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}

	log := testLogger()
	bus := events.NewBus()
	t.Cleanup(bus.Close)

	history := device.NewSQLiteStateHistoryRepository(db.DB)
	store := device.NewStore(device.NewSQLiteRepository(db.DB), bus, log)
	store.SetAuthorizer(arbiter.New(auth.CapLockOverride))
	store.SetHistory(history)

	seed := []struct {
		id, room string
		typ      device.Type
		status   map[string]any
	}{
		{"hall-light", "hall", device.TypeLight, map[string]any{"isOn": false, "brightness": 40}},
		{"hall-motion", "hall", device.TypeMotionSensor, map[string]any{"motionDetected": false}},
		{"basement-leak", "basement", device.TypeWaterSensor, map[string]any{"isLeaking": false}},
	}
	for _, s := range seed {
		d, err := device.NewDevice(s.id, "", s.room, s.typ, s.status)
		if err != nil {
			t.Fatalf("NewDevice(%s) error = %v", s.id, err)
		}
		if err := store.Register(ctx, d); err != nil {
			t.Fatalf("Register(%s) error = %v", s.id, err)
		}
	}

	registry := automation.NewRegistry(automation.NewSQLiteRepository(db.DB), store)
	if err := registry.RefreshCache(ctx); err != nil {
		t.Fatalf("RefreshCache() error = %v", err)
	}
	executor := automation.NewExecutor(store, bus, nil, log)
	t.Cleanup(executor.Close)

	engine := automation.NewEngine(automation.EngineConfig{SuggestionTTL: time.Hour}, registry, executor, store, bus, nil, log)
	suggester := &fakeSuggester{resp: &automation.SuggestionResponse{}}
	engine.SetSuggestionService(suggester)

	detector := anomaly.NewDetector(anomaly.NewSQLiteRepository(db.DB), store, bus, anomaly.Config{}, nil, log)

	auditRepo := audit.NewSQLiteRepository(db.DB)
	auditRecorder := audit.NewRecorder(auditRepo, log)
	auditRecorder.Attach(bus)
	t.Cleanup(auditRecorder.Close)

	guardian, err := auth.NewGuardian(testGuardianSecret, time.Minute)
	if err != nil {
		t.Fatalf("NewGuardian() error = %v", err)
	}

	srv, err := New(Deps{
		Config: config.APIConfig{
			Host:     "127.0.0.1",
			Timeouts: config.APITimeoutConfig{Read: 5, Write: 5, Idle: 5},
		},
		WS:       config.WebSocketConfig{MaxMessageSize: 8192, PingInterval: 30, PongTimeout: 10},
		Logger:   log,
		Devices:  store,
		History:  history,
		Engine:   engine,
		Detector: detector,
		Bus:      bus,
		Guardian: guardian,
		Audit:    auditRepo,
		DB:       db.DB,
		Version:  "test",
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	return &apiFixture{
		srv:       srv,
		router:    srv.buildRouter(),
		store:     store,
		engine:    engine,
		detector:  detector,
		bus:       bus,
		guardian:  guardian,
		suggester: suggester,
	}
}

// do sends a request through the router. body may be nil, a string or a
// value to marshal.
func (f *apiFixture) do(t *testing.T, method, path string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		data, err := json.Marshal(b)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

// decode unmarshals a response body into a generic map.
func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("unmarshal %q: %v", w.Body.String(), err)
	}
	return out
}

// expectStatus fails the test when the response code differs.
func expectStatus(t *testing.T, w *httptest.ResponseRecorder, want int) {
	t.Helper()
	if w.Code != want {
		t.Fatalf("status = %d, want %d; body: %s", w.Code, want, w.Body.String())
	}
}

// waitFor polls cond until it holds or a second passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// motionLightRule is a valid rule body over the seeded devices.
func motionLightRule() map[string]any {
	return map[string]any{
		"name": "Hall motion light",
		"condition": map[string]any{
			"device_id": "hall-motion",
			"property":  "motionDetected",
			"operator":  "is_true",
		},
		"actions": []any{
			map[string]any{"device_id": "hall-light", "target_status": map[string]any{"isOn": true}},
		},
		"is_enabled": true,
	}
}
