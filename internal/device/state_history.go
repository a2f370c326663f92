package device

import (
	"context"
	"time"
)

// StateHistoryEntry is one recorded status change.
//
// Entries keep both the diff and the full status after the change, so the
// history stays readable even when the time-series database is unavailable.
type StateHistoryEntry struct {
	ID        int64          `json:"id"`
	DeviceID  string         `json:"device_id"`
	Seq       uint64         `json:"seq"`
	Changes   Changes        `json:"changes"`
	Status    map[string]any `json:"status"`
	Source    string         `json:"source"`
	CreatedAt time.Time      `json:"created_at"`
}

// HistoryEntryFrom converts a published state change into a history entry.
func HistoryEntryFrom(c StateChange) StateHistoryEntry {
	return StateHistoryEntry{
		DeviceID:  c.DeviceID,
		Seq:       c.Seq,
		Changes:   c.Changes,
		Status:    c.Status,
		Source:    c.Source.String(),
		CreatedAt: c.At,
	}
}

// StateHistoryRepository stores and retrieves device state change history.
//
// Implementations must be thread-safe and use UTC timestamps.
type StateHistoryRepository interface {
	// RecordStateChange stores one entry. ID is assigned by the store.
	RecordStateChange(ctx context.Context, entry StateHistoryEntry) error

	// GetHistory returns recent entries for the device, newest first.
	//
	// Parameters:
	//   - ctx: Context for cancellation and timeout
	//   - deviceID: Unique device identifier
	//   - limit: Maximum entries to return (implementation may clamp bounds)
	//
	// Returns:
	//   - []StateHistoryEntry: Ordered newest-first history entries (may be empty)
	//   - error: nil on success, otherwise the underlying query error
	GetHistory(ctx context.Context, deviceID string, limit int) ([]StateHistoryEntry, error)
}
