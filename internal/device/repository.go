package device

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"
)

// Repository defines the interface for device persistence operations.
// This abstraction allows for different implementations (SQLite, mock, etc.)
// and enables unit testing without database dependencies.
type Repository interface {
	// GetByID retrieves a device by its unique identifier.
	// Returns ErrDeviceNotFound if the device does not exist.
	GetByID(ctx context.Context, id string) (*Device, error)

	// List retrieves all devices.
	List(ctx context.Context) ([]Device, error)

	// Create inserts a new device.
	// Returns ErrDeviceExists if a device with the same ID already exists.
	Create(ctx context.Context, device *Device) error

	// UpdateStatus writes status, usage counters and updated_at.
	// Returns ErrDeviceNotFound if the device does not exist.
	UpdateStatus(ctx context.Context, device *Device) error

	// UpdateDiagnostics writes energy usage, error status, connection
	// issues and updated_at.
	// Returns ErrDeviceNotFound if the device does not exist.
	UpdateDiagnostics(ctx context.Context, device *Device) error

	// Delete removes a device by ID.
	// Returns ErrDeviceNotFound if the device does not exist.
	Delete(ctx context.Context, id string) error
}

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed repository.
// The db parameter should be an open SQLite connection.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const deviceColumns = `id, name, room_id, type, status, energy_usage, error_status,
	connection_issues, usage, created_at, updated_at`

// GetByID retrieves a device by its unique identifier.
func (r *SQLiteRepository) GetByID(ctx context.Context, id string) (*Device, error) {
	row := r.db.QueryRowContext(ctx, "SELECT "+deviceColumns+" FROM devices WHERE id = ?", id)
	d, err := scanDevice(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrDeviceNotFound, id)
		}
		return nil, fmt.Errorf("querying device by id: %w", err)
	}
	return d, nil
}

// List retrieves all devices ordered by room, then name.
func (r *SQLiteRepository) List(ctx context.Context) ([]Device, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT "+deviceColumns+" FROM devices ORDER BY room_id, name")
	if err != nil {
		return nil, fmt.Errorf("querying devices: %w", err)
	}
	defer rows.Close()

	var devices []Device
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, err
		}
		devices = append(devices, *d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating devices: %w", err)
	}
	return devices, nil
}

// Create inserts a new device.
func (r *SQLiteRepository) Create(ctx context.Context, d *Device) error {
	statusJSON, err := json.Marshal(d.Status)
	if err != nil {
		return fmt.Errorf("marshalling status: %w", err)
	}
	usageJSON, err := marshalUsage(d.Usage)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	if d.CreatedAt.IsZero() {
		d.CreatedAt = now
	}
	if d.UpdatedAt.IsZero() {
		d.UpdatedAt = now
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO devices (`+deviceColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID,
		d.Name,
		d.RoomID,
		string(d.Type),
		string(statusJSON),
		nullableFloat(d.EnergyUsage),
		nullableString(d.ErrorStatus),
		boolToInt(d.ConnectionIssues),
		usageJSON,
		d.CreatedAt.UTC().Format(timestampLayout),
		d.UpdatedAt.UTC().Format(timestampLayout),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("%w: %s", ErrDeviceExists, d.ID)
		}
		return fmt.Errorf("inserting device: %w", err)
	}
	return nil
}

// UpdateStatus writes the status column and usage counters.
func (r *SQLiteRepository) UpdateStatus(ctx context.Context, d *Device) error {
	statusJSON, err := json.Marshal(d.Status)
	if err != nil {
		return fmt.Errorf("marshalling status: %w", err)
	}
	usageJSON, err := marshalUsage(d.Usage)
	if err != nil {
		return err
	}

	result, err := r.db.ExecContext(ctx,
		"UPDATE devices SET status = ?, usage = ?, updated_at = ? WHERE id = ?",
		string(statusJSON),
		usageJSON,
		d.UpdatedAt.UTC().Format(timestampLayout),
		d.ID,
	)
	if err != nil {
		return fmt.Errorf("updating device status: %w", err)
	}
	return requireRow(result, d.ID)
}

// UpdateDiagnostics writes the health columns.
func (r *SQLiteRepository) UpdateDiagnostics(ctx context.Context, d *Device) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE devices
		SET energy_usage = ?, error_status = ?, connection_issues = ?, updated_at = ?
		WHERE id = ?`,
		nullableFloat(d.EnergyUsage),
		nullableString(d.ErrorStatus),
		boolToInt(d.ConnectionIssues),
		d.UpdatedAt.UTC().Format(timestampLayout),
		d.ID,
	)
	if err != nil {
		return fmt.Errorf("updating device diagnostics: %w", err)
	}
	return requireRow(result, d.ID)
}

// Delete removes a device by ID.
func (r *SQLiteRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM devices WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting device: %w", err)
	}
	return requireRow(result, id)
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanDevice(row rowScanner) (*Device, error) {
	var (
		d                    Device
		typ, statusJSON      string
		energy               sql.NullFloat64
		errorStatus, usage   sql.NullString
		connIssues           int
		createdAt, updatedAt string
	)
	if err := row.Scan(
		&d.ID, &d.Name, &d.RoomID, &typ, &statusJSON, &energy, &errorStatus,
		&connIssues, &usage, &createdAt, &updatedAt,
	); err != nil {
		return nil, err
	}

	d.Type = Type(typ)
	status, err := DecodeStatus(d.Type, []byte(statusJSON))
	if err != nil {
		return nil, fmt.Errorf("decoding status of %s: %w", d.ID, err)
	}
	d.Status = status

	if energy.Valid {
		v := energy.Float64
		d.EnergyUsage = &v
	}
	if errorStatus.Valid {
		v := errorStatus.String
		d.ErrorStatus = &v
	}
	d.ConnectionIssues = connIssues != 0

	if usage.Valid && usage.String != "" {
		var u UsageCounters
		if err := json.Unmarshal([]byte(usage.String), &u); err != nil {
			return nil, fmt.Errorf("unmarshalling usage of %s: %w", d.ID, err)
		}
		d.Usage = &u
	}

	d.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt) //nolint:errcheck // written by us
	d.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt) //nolint:errcheck // written by us
	return &d, nil
}

func marshalUsage(u *UsageCounters) (sql.NullString, error) {
	if u == nil {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(u)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("marshalling usage: %w", err)
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func requireRow(result sql.Result, id string) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrDeviceNotFound, id)
	}
	return nil
}

// nullableString returns a sql.NullString for optional string pointers.
func nullableString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullableFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}

// boolToInt converts a boolean to 0/1 for SQLite storage.
func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// isUniqueConstraintError reports whether err is a SQLite primary key or
// unique constraint violation.
func isUniqueConstraintError(err error) bool {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
		sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
}
