package automation

import "errors"

// Domain errors for the automation package.
//
// These errors can be checked using errors.Is() for error handling:
//
//	if errors.Is(err, automation.ErrRuleNotFound) {
//	    // handle not found case
//	}
var (
	// ErrRuleNotFound is returned when a rule ID does not exist.
	ErrRuleNotFound = errors.New("rule: not found")

	// ErrRoutineNotFound is returned when a routine ID does not exist.
	ErrRoutineNotFound = errors.New("routine: not found")

	// ErrScenarioNotFound is returned when a scenario ID does not exist.
	ErrScenarioNotFound = errors.New("scenario: not found")

	// ErrSuggestionNotFound is returned when a draft is not in the inbox,
	// including drafts that have expired.
	ErrSuggestionNotFound = errors.New("suggestion: not found")

	// ErrAutomationExists is returned when creating an item whose ID is taken.
	ErrAutomationExists = errors.New("automation: already exists")

	// ErrInvalidRuleDefinition is returned when a condition, action or
	// trigger references a property the device type does not declare, or
	// pairs an operator with an unsuitable value.
	ErrInvalidRuleDefinition = errors.New("automation: invalid rule definition")

	// ErrSchedulingConflict marks a submission for a device whose lane still
	// holds pending work. It is logged, never returned to callers.
	ErrSchedulingConflict = errors.New("automation: scheduling conflict")

	// ErrExecutorClosed is returned by Submit after Close.
	ErrExecutorClosed = errors.New("automation: executor closed")

	// ErrRoutineDisabled is returned when running a disabled routine.
	ErrRoutineDisabled = errors.New("routine: disabled")

	// ErrSuggestionService is returned when the suggestion service fails or
	// answers with something unusable.
	ErrSuggestionService = errors.New("suggestion: service unavailable")
)
