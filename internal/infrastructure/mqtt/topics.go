package mqtt

import "strings"

// DefaultTopicPrefix is the root of every Homeflow topic.
const DefaultTopicPrefix = "homeflow"

// Topics builds Homeflow MQTT topics under one prefix.
//
//	topics := mqtt.NewTopics("homeflow")
//	topics.State("hall-light")     // homeflow/state/hall-light
//	topics.Event("alert.raised")   // homeflow/event/alert.raised
type Topics struct {
	Prefix string
}

// NewTopics returns builders for prefix. An empty prefix selects
// DefaultTopicPrefix; surrounding slashes are trimmed.
func NewTopics(prefix string) Topics {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		prefix = DefaultTopicPrefix
	}
	return Topics{Prefix: prefix}
}

func (t Topics) join(parts ...string) string {
	return t.Prefix + "/" + strings.Join(parts, "/")
}

// --- Ingress ---

// Command is where clients send manual status patches for a device.
func (t Topics) Command(deviceID string) string { return t.join("command", deviceID) }

// Report is where hardware publishes observed status for a device.
func (t Topics) Report(deviceID string) string { return t.join("report", deviceID) }

// LocationTrigger carries presence transitions.
func (t Topics) LocationTrigger() string { return t.join("trigger", "location") }

// VoiceTrigger carries recognised voice phrases.
func (t Topics) VoiceTrigger() string { return t.join("trigger", "voice") }

// AllCommands matches every device command topic.
func (t Topics) AllCommands() string { return t.join("command", "+") }

// AllReports matches every device report topic.
func (t Topics) AllReports() string { return t.join("report", "+") }

// --- Egress ---

// State is the retained full status of a device.
func (t Topics) State(deviceID string) string { return t.join("state", deviceID) }

// Event carries one engine event; eventType is the bus topic.
func (t Topics) Event(eventType string) string { return t.join("event", eventType) }

// Ack carries the result of one command.
func (t Topics) Ack(deviceID string) string { return t.join("ack", deviceID) }

// SystemStatus is the retained online/offline status, also used for the LWT.
func (t Topics) SystemStatus() string { return t.join("system", "status") }

// DeviceID extracts the device ID from a command, report or state topic.
// It reports false for any other topic.
func (t Topics) DeviceID(topic string) (string, bool) {
	rest, ok := strings.CutPrefix(topic, t.Prefix+"/")
	if !ok {
		return "", false
	}
	kind, id, ok := strings.Cut(rest, "/")
	if !ok || id == "" || strings.Contains(id, "/") {
		return "", false
	}
	switch kind {
	case "command", "report", "state":
		return id, true
	}
	return "", false
}
