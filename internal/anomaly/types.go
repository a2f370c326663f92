package anomaly

import "time"

// Type classifies an alert.
type Type string

// Alert types.
const (
	TypeLeak        Type = "leak"
	TypeSmoke       Type = "smoke"
	TypeBreach      Type = "breach"
	TypeMalfunction Type = "malfunction"
	TypeMaintenance Type = "maintenance"
)

// Severity ranks an alert.
type Severity string

// Severities, most urgent first.
const (
	SeverityCritical Severity = "critical"
	SeverityWarning  Severity = "warning"
	SeverityInfo     Severity = "info"
)

// Status is the lifecycle state of an alert.
type Status string

// Alert statuses. Only active alerts can be acknowledged.
const (
	StatusActive       Status = "active"
	StatusAcknowledged Status = "acknowledged"
	StatusExpired      Status = "expired"
	StatusCleared      Status = "cleared"
)

// Feedback is the user's verdict on an alert.
type Feedback string

// Feedback values. The empty value means no feedback.
const (
	FeedbackHelpful    Feedback = "helpful"
	FeedbackNotHelpful Feedback = "not_helpful"
)

// Valid reports whether f is a known feedback value or empty.
func (f Feedback) Valid() bool {
	return f == "" || f == FeedbackHelpful || f == FeedbackNotHelpful
}

// Alert is a severity-tagged notice raised by a heuristic.
type Alert struct {
	ID              string   `json:"id"`
	Type            Type     `json:"type"`
	Severity        Severity `json:"severity"`
	DeviceID        string   `json:"device_id"`
	Heuristic       string   `json:"heuristic"`
	Message         string   `json:"message"`
	SuggestedAction string   `json:"suggested_action"`
	Status          Status   `json:"status"`
	Feedback        Feedback `json:"feedback,omitempty"`

	CreatedAt      time.Time  `json:"created_at"`
	AcknowledgedAt *time.Time `json:"acknowledged_at,omitempty"`
	ExpiresAt      time.Time  `json:"expires_at"`
}

// Clone returns an independent copy of the alert.
func (a *Alert) Clone() *Alert {
	if a == nil {
		return nil
	}
	c := *a
	if a.AcknowledgedAt != nil {
		t := *a.AcknowledgedAt
		c.AcknowledgedAt = &t
	}
	return &c
}

// key identifies the (device, heuristic) latch the alert belongs to.
func (a *Alert) key() string { return latchKey(a.DeviceID, a.Heuristic) }

func latchKey(deviceID, heuristic string) string { return deviceID + "/" + heuristic }

// Filter controls which alerts List returns.
type Filter struct {
	Status   Status   // optional
	Severity Severity // optional
	DeviceID string   // optional
	Limit    int      // default 50, max 200
}
