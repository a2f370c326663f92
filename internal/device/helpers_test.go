package device

import (
	"context"
	"database/sql"
	"path/filepath"
	"sync"
	"testing"

	"github.com/nerrad567/homeflow/internal/infrastructure/database"
	"github.com/nerrad567/homeflow/migrations"
)

// setupTestDB opens a migrated SQLite database in a temp directory.
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := database.Open(database.Config{
		Path:        filepath.Join(t.TempDir(), "devices.db"),
		WALMode:     true,
		BusyTimeout: 5,
	})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // test cleanup

	if _, err := db.Migrate(context.Background(), migrations.Source()); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}
	return db.DB
}

// mockPublisher records published events.
type mockPublisher struct {
	mu     sync.Mutex
	topics []string
	events []any
}

func (m *mockPublisher) Publish(topic string, payload any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.topics = append(m.topics, topic)
	m.events = append(m.events, payload)
}

func (m *mockPublisher) stateChanges() []StateChange {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []StateChange
	for _, ev := range m.events {
		if c, ok := ev.(StateChange); ok {
			out = append(out, c)
		}
	}
	return out
}

// mockAuthorizer returns err for every call and records the sources it saw.
type mockAuthorizer struct {
	mu      sync.Mutex
	err     error
	sources []Source
}

func (m *mockAuthorizer) Authorize(_ context.Context, _ *Device, _ Patch, src Source) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sources = append(m.sources, src)
	return m.err
}

// newTestStore returns a Store over a migrated database with one light
// ("kitchen") registered off.
func newTestStore(t *testing.T) (*Store, *mockPublisher) {
	t.Helper()
	pub := &mockPublisher{}
	store := NewStore(NewSQLiteRepository(setupTestDB(t)), pub, nil)

	light, err := NewDevice("kitchen", "Kitchen", "kitchen-room", TypeLight, map[string]any{"isOn": false})
	if err != nil {
		t.Fatalf("NewDevice() error = %v", err)
	}
	if err := store.Register(context.Background(), light); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	return store, pub
}
