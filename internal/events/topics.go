package events

// Topics published by the engine.
const (
	TopicDeviceStateChanged       = "device.state_changed"
	TopicDeviceDiagnosticsChanged = "device.diagnostics_changed"
	TopicRuleFired                = "rule.fired"
	TopicRoutineFired             = "routine.fired"
	TopicScenarioExecuted         = "scenario.executed"
	TopicActionFailed             = "action.failed"
	TopicAlertRaised              = "alert.raised"
	TopicAlertUpdated             = "alert.updated"
)

// AllTopics lists every topic the engine publishes.
func AllTopics() []string {
	return []string{
		TopicDeviceStateChanged,
		TopicDeviceDiagnosticsChanged,
		TopicRuleFired,
		TopicRoutineFired,
		TopicScenarioExecuted,
		TopicActionFailed,
		TopicAlertRaised,
		TopicAlertUpdated,
	}
}
