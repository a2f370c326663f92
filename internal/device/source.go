package device

import "slices"

// SourceKind identifies who asked for a mutation.
type SourceKind string

// Mutation sources.
const (
	// SourceManual is a user command from the API or an MQTT command topic.
	SourceManual SourceKind = "manual"

	// SourceRule is an automation rule firing.
	SourceRule SourceKind = "rule"

	// SourceRoutine is a routine trigger firing.
	SourceRoutine SourceKind = "routine"

	// SourceScenario is an on-demand scenario execution.
	SourceScenario SourceKind = "scenario"

	// SourceDevice is a hardware state report. It records what the device
	// observed rather than requesting a change.
	SourceDevice SourceKind = "device"

	// SourceSystem is internal housekeeping such as seeding.
	SourceSystem SourceKind = "system"
)

// Source describes the origin of a mutation and the capabilities it holds.
type Source struct {
	Kind SourceKind `json:"kind"`

	// ID is the rule, routine or scenario ID, or the caller's label.
	ID string `json:"id,omitempty"`

	// Capabilities are privileges granted to this caller, such as the
	// guardian capability that may lift an AI lock.
	Capabilities []string `json:"capabilities,omitempty"`
}

// Has reports whether the source holds capability c.
func (s Source) Has(c string) bool {
	return c != "" && slices.Contains(s.Capabilities, c)
}

// WithCapabilities returns a copy of s with extra capabilities appended.
func (s Source) WithCapabilities(caps ...string) Source {
	out := s
	out.Capabilities = append(slices.Clone(s.Capabilities), caps...)
	return out
}

// String renders the source as "kind" or "kind:id".
func (s Source) String() string {
	if s.ID == "" {
		return string(s.Kind)
	}
	return string(s.Kind) + ":" + s.ID
}
