package device

import "errors"

// Domain errors for the device package.
//
// These errors can be checked using errors.Is() for error handling:
//
//	if errors.Is(err, device.ErrLocked) {
//	    // surface "device restricted" to the caller
//	}
var (
	// ErrDeviceNotFound is returned when a device ID does not exist.
	ErrDeviceNotFound = errors.New("device: not found")

	// ErrDeviceExists is returned when registering an ID that is already taken.
	ErrDeviceExists = errors.New("device: already exists")

	// ErrInvalidDevice is returned when device validation fails.
	ErrInvalidDevice = errors.New("device: invalid")

	// ErrInvalidDeviceType is returned when a device type is not recognised.
	ErrInvalidDeviceType = errors.New("device: invalid type")

	// ErrTypeMismatch is returned when a patch names a property the device
	// type does not declare, or carries a value of the wrong JSON kind.
	ErrTypeMismatch = errors.New("device: type mismatch")

	// ErrOutOfRange is returned when a patch leaves a property outside its
	// allowed range or enumeration.
	ErrOutOfRange = errors.New("device: value out of range")

	// ErrLocked is returned when the arbiter denies a mutation.
	ErrLocked = errors.New("device restricted")
)
