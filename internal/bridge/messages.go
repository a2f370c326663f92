package bridge

import (
	"time"

	"github.com/nerrad567/homeflow/internal/device"
)

// CommandMessage is the payload of a command or report topic. The device ID
// comes from the topic.
type CommandMessage struct {
	// RequestID is echoed in the ack. Optional.
	RequestID string `json:"request_id,omitempty"`

	// Status is the partial status to apply.
	Status device.Patch `json:"status"`
}

// AckStatus is the outcome of one command.
type AckStatus string

// Ack outcomes.
const (
	AckAccepted AckStatus = "accepted"
	AckRejected AckStatus = "rejected"
)

// AckMessage reports the result of a command on the ack topic.
type AckMessage struct {
	RequestID string    `json:"request_id,omitempty"`
	DeviceID  string    `json:"device_id"`
	Status    AckStatus `json:"status"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// StateMessage is the retained payload of a device state topic.
type StateMessage struct {
	DeviceID  string         `json:"device_id"`
	Type      device.Type    `json:"type"`
	RoomID    string         `json:"room_id,omitempty"`
	Status    map[string]any `json:"status"`
	Source    string         `json:"source"`
	Seq       uint64         `json:"seq"`
	Timestamp time.Time      `json:"timestamp"`
}

// VoiceMessage is the payload of the voice trigger topic.
type VoiceMessage struct {
	Phrase string `json:"phrase"`
}
