package anomaly

import "errors"

// Domain errors for the anomaly detector.
var (
	// ErrAlertNotFound is returned when an alert does not exist.
	ErrAlertNotFound = errors.New("alert: not found")

	// ErrAlertClosed is returned when acknowledging an alert that is no
	// longer active.
	ErrAlertClosed = errors.New("alert: not active")

	// ErrInvalidFeedback is returned for feedback other than helpful,
	// not_helpful or empty.
	ErrInvalidFeedback = errors.New("alert: invalid feedback")
)
