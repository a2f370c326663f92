package device

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 200
)

// SQLiteStateHistoryRepository implements StateHistoryRepository on the
// state_history table.
type SQLiteStateHistoryRepository struct {
	db *sql.DB
}

// NewSQLiteStateHistoryRepository creates a new SQLite state history repository.
func NewSQLiteStateHistoryRepository(db *sql.DB) *SQLiteStateHistoryRepository {
	return &SQLiteStateHistoryRepository{db: db}
}

// RecordStateChange inserts a history entry.
func (r *SQLiteStateHistoryRepository) RecordStateChange(ctx context.Context, entry StateHistoryEntry) error {
	if entry.DeviceID == "" {
		return fmt.Errorf("device id is required")
	}
	if entry.Source == "" {
		entry.Source = string(SourceSystem)
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}

	changesJSON, err := json.Marshal(nonNilMap(entry.Changes))
	if err != nil {
		return fmt.Errorf("marshalling changes: %w", err)
	}
	statusJSON, err := json.Marshal(nonNilMap(entry.Status))
	if err != nil {
		return fmt.Errorf("marshalling status: %w", err)
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO state_history (device_id, seq, changes, status, source, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		entry.DeviceID,
		int64(entry.Seq), //nolint:gosec // sequence numbers stay far below MaxInt64
		string(changesJSON),
		string(statusJSON),
		entry.Source,
		entry.CreatedAt.UTC().Format(timestampLayout),
	)
	if err != nil {
		return fmt.Errorf("inserting state history: %w", err)
	}
	return nil
}

// GetHistory returns recent state history entries for a device, newest first.
//
// Parameters:
//   - ctx: Context for cancellation and timeout
//   - deviceID: Unique device identifier
//   - limit: Maximum entries to return (default 50, max 200)
func (r *SQLiteStateHistoryRepository) GetHistory(ctx context.Context, deviceID string, limit int) ([]StateHistoryEntry, error) {
	if deviceID == "" {
		return nil, fmt.Errorf("device id is required")
	}
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT id, device_id, seq, changes, status, source, created_at
		 FROM state_history
		 WHERE device_id = ?
		 ORDER BY created_at DESC, id DESC
		 LIMIT ?`,
		deviceID,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying state history: %w", err)
	}
	defer rows.Close()

	entries := make([]StateHistoryEntry, 0, limit)
	for rows.Next() {
		var entry StateHistoryEntry
		var seq int64
		var changesJSON, statusJSON, createdAt string
		if err := rows.Scan(&entry.ID, &entry.DeviceID, &seq, &changesJSON, &statusJSON, &entry.Source, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning state history: %w", err)
		}
		entry.Seq = uint64(seq) //nolint:gosec // stored from a uint64
		if err := json.Unmarshal([]byte(changesJSON), &entry.Changes); err != nil {
			return nil, fmt.Errorf("unmarshalling changes: %w", err)
		}
		if err := json.Unmarshal([]byte(statusJSON), &entry.Status); err != nil {
			return nil, fmt.Errorf("unmarshalling status: %w", err)
		}
		if entry.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating state history: %w", err)
	}
	return entries, nil
}

// PruneHistory deletes entries older than olderThan and returns how many
// rows were removed.
func (r *SQLiteStateHistoryRepository) PruneHistory(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		return 0, fmt.Errorf("olderThan must be positive")
	}

	cutoff := time.Now().UTC().Add(-olderThan).Format(timestampLayout)
	result, err := r.db.ExecContext(ctx, "DELETE FROM state_history WHERE created_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("deleting state history: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("checking rows affected: %w", err)
	}
	return n, nil
}

func nonNilMap[M ~map[string]any](m M) M {
	if m == nil {
		return M{}
	}
	return m
}
