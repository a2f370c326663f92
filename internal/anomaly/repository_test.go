package anomaly

import (
	"context"
	"errors"
	"testing"
	"time"
)

func testAlert(id, deviceID string, severity Severity, created time.Time) *Alert {
	return &Alert{
		ID:              id,
		Type:            TypeLeak,
		Severity:        severity,
		DeviceID:        deviceID,
		Heuristic:       HeuristicWaterLeak,
		Message:         "Water detected",
		SuggestedAction: "Shut off the water supply.",
		Status:          StatusActive,
		CreatedAt:       created,
		ExpiresAt:       created.Add(time.Hour),
	}
}

func TestSQLiteRepository_CreateAndGet(t *testing.T) {
	repo := NewSQLiteRepository(setupTestDB(t))
	ctx := context.Background()
	created := time.Date(2026, 3, 1, 9, 0, 0, 123, time.UTC)

	if err := repo.Create(ctx, testAlert("alert-1", "basement-leak", SeverityCritical, created)); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	got, err := repo.GetByID(ctx, "alert-1")
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if got.DeviceID != "basement-leak" || got.Severity != SeverityCritical || got.Status != StatusActive {
		t.Errorf("GetByID() = %+v", got)
	}
	if !got.CreatedAt.Equal(created) || !got.ExpiresAt.Equal(created.Add(time.Hour)) {
		t.Errorf("timestamps = %v / %v", got.CreatedAt, got.ExpiresAt)
	}
	if got.AcknowledgedAt != nil || got.Feedback != "" {
		t.Errorf("new alert has acknowledgement: %+v", got)
	}

	if _, err := repo.GetByID(ctx, "missing"); !errors.Is(err, ErrAlertNotFound) {
		t.Errorf("GetByID(missing) error = %v, want ErrAlertNotFound", err)
	}
}

func TestSQLiteRepository_UpdateStatus(t *testing.T) {
	repo := NewSQLiteRepository(setupTestDB(t))
	ctx := context.Background()
	created := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	a := testAlert("alert-1", "basement-leak", SeverityCritical, created)
	if err := repo.Create(ctx, a); err != nil {
		t.Fatal(err)
	}

	acked := created.Add(5 * time.Minute)
	a.Status = StatusAcknowledged
	a.Feedback = FeedbackHelpful
	a.AcknowledgedAt = &acked
	if err := repo.UpdateStatus(ctx, a); err != nil {
		t.Fatalf("UpdateStatus() error = %v", err)
	}

	got, _ := repo.GetByID(ctx, "alert-1")
	if got.Status != StatusAcknowledged || got.Feedback != FeedbackHelpful {
		t.Errorf("after update = %+v", got)
	}
	if got.AcknowledgedAt == nil || !got.AcknowledgedAt.Equal(acked) {
		t.Errorf("AcknowledgedAt = %v, want %v", got.AcknowledgedAt, acked)
	}

	missing := testAlert("missing", "x", SeverityInfo, created)
	if err := repo.UpdateStatus(ctx, missing); !errors.Is(err, ErrAlertNotFound) {
		t.Errorf("UpdateStatus(missing) error = %v, want ErrAlertNotFound", err)
	}
}

func TestSQLiteRepository_ListFilters(t *testing.T) {
	repo := NewSQLiteRepository(setupTestDB(t))
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	alerts := []*Alert{
		testAlert("a1", "basement-leak", SeverityCritical, base),
		testAlert("a2", "kitchen-leak", SeverityWarning, base.Add(time.Minute)),
		testAlert("a3", "basement-leak", SeverityInfo, base.Add(2*time.Minute)),
	}
	alerts[1].Status = StatusAcknowledged
	for _, a := range alerts {
		if err := repo.Create(ctx, a); err != nil {
			t.Fatal(err)
		}
	}

	tests := []struct {
		name   string
		filter Filter
		want   []string
	}{
		{"all newest first", Filter{}, []string{"a3", "a2", "a1"}},
		{"by status", Filter{Status: StatusActive}, []string{"a3", "a1"}},
		{"by severity", Filter{Severity: SeverityWarning}, []string{"a2"}},
		{"by device", Filter{DeviceID: "basement-leak"}, []string{"a3", "a1"}},
		{"combined", Filter{DeviceID: "basement-leak", Severity: SeverityCritical}, []string{"a1"}},
		{"limit", Filter{Limit: 1}, []string{"a3"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := repo.List(ctx, tt.filter)
			if err != nil {
				t.Fatalf("List() error = %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("List() returned %d alerts, want %d", len(got), len(tt.want))
			}
			for i, id := range tt.want {
				if got[i].ID != id {
					t.Errorf("List()[%d] = %s, want %s", i, got[i].ID, id)
				}
			}
		})
	}

	active, err := repo.ListActive(ctx)
	if err != nil {
		t.Fatalf("ListActive() error = %v", err)
	}
	if len(active) != 2 || active[0].ID != "a1" {
		t.Errorf("ListActive() = %+v, want a1 then a3", active)
	}
}
