package mqtt

import "testing"

func TestNewTopicsPrefix(t *testing.T) {
	tests := []struct {
		prefix string
		want   string
	}{
		{"", DefaultTopicPrefix},
		{"home", "home"},
		{"/site-1/", "site-1"},
	}
	for _, tt := range tests {
		if got := NewTopics(tt.prefix).Prefix; got != tt.want {
			t.Errorf("NewTopics(%q).Prefix = %q, want %q", tt.prefix, got, tt.want)
		}
	}
}

func TestTopicBuilders(t *testing.T) {
	topics := NewTopics("homeflow")

	tests := []struct {
		name string
		got  string
		want string
	}{
		{"command", topics.Command("hall-light"), "homeflow/command/hall-light"},
		{"report", topics.Report("hall-light"), "homeflow/report/hall-light"},
		{"location", topics.LocationTrigger(), "homeflow/trigger/location"},
		{"voice", topics.VoiceTrigger(), "homeflow/trigger/voice"},
		{"all commands", topics.AllCommands(), "homeflow/command/+"},
		{"all reports", topics.AllReports(), "homeflow/report/+"},
		{"state", topics.State("hall-light"), "homeflow/state/hall-light"},
		{"event", topics.Event("alert.raised"), "homeflow/event/alert.raised"},
		{"ack", topics.Ack("hall-light"), "homeflow/ack/hall-light"},
		{"system status", topics.SystemStatus(), "homeflow/system/status"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %q, want %q", tt.got, tt.want)
			}
		})
	}
}

func TestTopicsDeviceID(t *testing.T) {
	topics := NewTopics("homeflow")

	tests := []struct {
		topic  string
		wantID string
		wantOK bool
	}{
		{"homeflow/command/hall-light", "hall-light", true},
		{"homeflow/report/basement-leak", "basement-leak", true},
		{"homeflow/state/hall-light", "hall-light", true},
		{"homeflow/trigger/location", "", false},
		{"homeflow/command/", "", false},
		{"homeflow/command/a/b", "", false},
		{"other/command/hall-light", "", false},
		{"homeflow", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.topic, func(t *testing.T) {
			id, ok := topics.DeviceID(tt.topic)
			if id != tt.wantID || ok != tt.wantOK {
				t.Errorf("DeviceID(%q) = (%q, %v), want (%q, %v)", tt.topic, id, ok, tt.wantID, tt.wantOK)
			}
		})
	}
}
