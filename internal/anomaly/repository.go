package anomaly

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// timestampLayout is fixed width so stored timestamps sort lexically.
const timestampLayout = "2006-01-02T15:04:05.000000000Z07:00"

// List limits.
const (
	defaultListLimit = 50
	maxListLimit     = 200
)

// Repository defines the interface for alert persistence.
type Repository interface {
	// Create inserts a new alert.
	Create(ctx context.Context, a *Alert) error

	// GetByID retrieves one alert.
	// Returns ErrAlertNotFound if it does not exist.
	GetByID(ctx context.Context, id string) (*Alert, error)

	// UpdateStatus persists the status, feedback and acknowledgement time.
	// Returns ErrAlertNotFound if it does not exist.
	UpdateStatus(ctx context.Context, a *Alert) error

	// List returns alerts matching the filter, newest first.
	List(ctx context.Context, filter Filter) ([]Alert, error)

	// ListActive returns every active alert regardless of limits.
	ListActive(ctx context.Context) ([]Alert, error)
}

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new alert repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const alertColumns = `id, type, severity, device_id, heuristic, message, suggested_action,
	status, feedback, created_at, acknowledged_at, expires_at`

// Create inserts a new alert.
func (r *SQLiteRepository) Create(ctx context.Context, a *Alert) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO alerts (`+alertColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, string(a.Type), string(a.Severity), a.DeviceID, a.Heuristic,
		a.Message, a.SuggestedAction, string(a.Status), string(a.Feedback),
		formatTime(a.CreatedAt), nullableTime(a.AcknowledgedAt), formatTime(a.ExpiresAt),
	)
	if err != nil {
		return fmt.Errorf("inserting alert: %w", err)
	}
	return nil
}

// GetByID retrieves one alert.
func (r *SQLiteRepository) GetByID(ctx context.Context, id string) (*Alert, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+alertColumns+` FROM alerts WHERE id = ?`, id)
	a, err := scanAlert(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrAlertNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return a, nil
}

// UpdateStatus persists the mutable fields of an alert.
func (r *SQLiteRepository) UpdateStatus(ctx context.Context, a *Alert) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE alerts SET status = ?, feedback = ?, acknowledged_at = ? WHERE id = ?`,
		string(a.Status), string(a.Feedback), nullableTime(a.AcknowledgedAt), a.ID,
	)
	if err != nil {
		return fmt.Errorf("updating alert: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrAlertNotFound, a.ID)
	}
	return nil
}

// List returns alerts matching the filter, ordered by most recent first.
func (r *SQLiteRepository) List(ctx context.Context, filter Filter) ([]Alert, error) {
	if filter.Limit <= 0 {
		filter.Limit = defaultListLimit
	}
	if filter.Limit > maxListLimit {
		filter.Limit = maxListLimit
	}

	var conditions []string
	var args []any
	if filter.Status != "" {
		conditions = append(conditions, "status = ?")
		args = append(args, string(filter.Status))
	}
	if filter.Severity != "" {
		conditions = append(conditions, "severity = ?")
		args = append(args, string(filter.Severity))
	}
	if filter.DeviceID != "" {
		conditions = append(conditions, "device_id = ?")
		args = append(args, filter.DeviceID)
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	query := fmt.Sprintf( //nolint:gosec // WHERE built from parameterised conditions, not user input
		"SELECT %s FROM alerts %s ORDER BY created_at DESC, id LIMIT ?",
		alertColumns, where,
	)
	args = append(args, filter.Limit)
	return r.query(ctx, query, args...)
}

// ListActive returns every active alert, oldest first.
func (r *SQLiteRepository) ListActive(ctx context.Context) ([]Alert, error) {
	return r.query(ctx,
		`SELECT `+alertColumns+` FROM alerts WHERE status = ? ORDER BY created_at, id`,
		string(StatusActive),
	)
}

func (r *SQLiteRepository) query(ctx context.Context, query string, args ...any) ([]Alert, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying alerts: %w", err)
	}
	defer rows.Close()

	var alerts []Alert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		alerts = append(alerts, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating alerts: %w", err)
	}
	return alerts, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAlert(row rowScanner) (*Alert, error) {
	var (
		a                               Alert
		typ, severity, status, feedback string
		createdAt, expiresAt            string
		acknowledgedAt                  sql.NullString
	)
	err := row.Scan(&a.ID, &typ, &severity, &a.DeviceID, &a.Heuristic, &a.Message,
		&a.SuggestedAction, &status, &feedback, &createdAt, &acknowledgedAt, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("scanning alert: %w", err)
	}

	a.Type = Type(typ)
	a.Severity = Severity(severity)
	a.Status = Status(status)
	a.Feedback = Feedback(feedback)
	if a.CreatedAt, err = time.Parse(timestampLayout, createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at of alert %s: %w", a.ID, err)
	}
	if a.ExpiresAt, err = time.Parse(timestampLayout, expiresAt); err != nil {
		return nil, fmt.Errorf("parsing expires_at of alert %s: %w", a.ID, err)
	}
	if acknowledgedAt.Valid {
		t, err := time.Parse(timestampLayout, acknowledgedAt.String)
		if err != nil {
			return nil, fmt.Errorf("parsing acknowledged_at of alert %s: %w", a.ID, err)
		}
		a.AcknowledgedAt = &t
	}
	return &a, nil
}

func formatTime(t time.Time) string { return t.UTC().Format(timestampLayout) }

func nullableTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}
