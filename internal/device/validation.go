package device

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
)

const (
	maxNameLength = 100
	maxIDLength   = 64

	// maxPatchKeys bounds patch size; no variant declares more properties.
	maxPatchKeys = 16
)

// ValidateDevice checks identity fields and that Status is the variant for
// Type. Errors wrap ErrInvalidDevice or ErrInvalidDeviceType.
func ValidateDevice(d *Device) error {
	if d == nil {
		return fmt.Errorf("%w: nil device", ErrInvalidDevice)
	}
	if err := ValidateID(d.ID); err != nil {
		return err
	}
	if err := ValidateName(d.Name); err != nil {
		return err
	}
	if !d.Type.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidDeviceType, d.Type)
	}
	if d.Status == nil {
		return fmt.Errorf("%w: status is required", ErrInvalidDevice)
	}
	if d.Status.DeviceType() != d.Type {
		return fmt.Errorf("%w: %s device carries %s status", ErrInvalidDevice, d.Type, d.Status.DeviceType())
	}
	if err := d.Status.Validate(); err != nil {
		return err
	}
	return nil
}

// ValidateID checks a device ID. IDs appear in MQTT topics, so they may not
// contain topic separators or wildcards.
func ValidateID(id string) error {
	if id == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidDevice)
	}
	if len(id) > maxIDLength {
		return fmt.Errorf("%w: id exceeds %d characters", ErrInvalidDevice, maxIDLength)
	}
	if strings.ContainsAny(id, "/+# ") {
		return fmt.Errorf("%w: id %q contains a reserved character", ErrInvalidDevice, id)
	}
	return nil
}

// ValidateName checks a device display name.
func ValidateName(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidDevice)
	}
	if utf8.RuneCountInString(name) > maxNameLength {
		return fmt.Errorf("%w: name exceeds %d characters", ErrInvalidDevice, maxNameLength)
	}
	return nil
}

// ValidatePatch checks a patch for type t without applying it: it must be
// non-empty, bounded, and name only declared properties.
func ValidatePatch(t Type, p Patch) error {
	if len(p) == 0 {
		return fmt.Errorf("%w: empty patch", ErrTypeMismatch)
	}
	if len(p) > maxPatchKeys {
		return fmt.Errorf("%w: patch has %d keys", ErrTypeMismatch, len(p))
	}
	if err := CheckPatch(t, p); err != nil {
		return err
	}
	current, err := NewStatus(t)
	if err != nil {
		return err
	}
	// Kind and range errors surface here; the defaults carry no lock so
	// only the patch values are checked.
	_, _, _, err = ApplyPatch(current, p)
	return err
}

// NewDevice builds a device with default status for t, then overlays
// initial. It is used when seeding devices from configuration.
func NewDevice(id, name, roomID string, t Type, initial map[string]any) (*Device, error) {
	status, err := NewStatus(t)
	if err != nil {
		return nil, err
	}
	if len(initial) > 0 {
		status, _, _, err = ApplyPatch(status, Patch(initial))
		if err != nil {
			return nil, fmt.Errorf("initial status of %s: %w", id, err)
		}
	}
	d := &Device{ID: id, Name: name, RoomID: roomID, Type: t, Status: status}
	if d.Name == "" {
		d.Name = id
	}
	if err := ValidateDevice(d); err != nil {
		return nil, err
	}
	return d, nil
}

// PatchFromJSON decodes a JSON object into a Patch, keeping numbers as
// float64 like any JSON client would.
func PatchFromJSON(raw []byte) (Patch, error) {
	var p Patch
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTypeMismatch, err)
	}
	return p, nil
}

// GenerateID creates a new unique device ID.
func GenerateID() string {
	return uuid.New().String()
}
