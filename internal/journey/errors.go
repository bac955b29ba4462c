package journey

import (
	"errors"
	"fmt"
)

// StateError represents a rejected journey operation.
//
// State errors are deterministic outcomes of the state machine, not faults:
// completing a future step, pausing a completed journey, starting a second
// active journey. Callers classify them with the Is* helpers.
type StateError struct {
	// Code identifies the rejection category.
	Code StateErrorCode

	// Message is a human-readable description.
	Message string

	// JourneyID identifies the affected journey (empty for Start rejections
	// before a journey exists).
	JourneyID string

	// StepID identifies the offending step, for step-level rejections.
	StepID string

	// Status is the journey status at the time of the rejection.
	Status Status
}

// StateErrorCode categorizes state errors.
type StateErrorCode string

const (
	// ErrCodeInvalidStep indicates the step is unknown or not yet reachable.
	ErrCodeInvalidStep StateErrorCode = "INVALID_STEP"

	// ErrCodeJourneyTerminal indicates the journey is completed and frozen.
	ErrCodeJourneyTerminal StateErrorCode = "JOURNEY_TERMINAL"

	// ErrCodeInvalidTransition indicates the operation is not valid from the
	// journey's current status.
	ErrCodeInvalidTransition StateErrorCode = "INVALID_TRANSITION"

	// ErrCodeAlreadyStarted indicates an active journey already exists for
	// the owner and playbook.
	ErrCodeAlreadyStarted StateErrorCode = "ALREADY_STARTED"
)

// Error implements the error interface.
func (e *StateError) Error() string {
	if e.JourneyID != "" && e.StepID != "" {
		return fmt.Sprintf("%s: %s (journey=%s, step=%s)", e.Code, e.Message, e.JourneyID, e.StepID)
	}
	if e.JourneyID != "" {
		return fmt.Sprintf("%s: %s (journey=%s)", e.Code, e.Message, e.JourneyID)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// IsInvalidStep returns true if the error is a step resolution rejection.
// Uses errors.As to handle wrapped errors.
func IsInvalidStep(err error) bool {
	return hasCode(err, ErrCodeInvalidStep)
}

// IsTerminal returns true if the error is a completed-journey rejection.
func IsTerminal(err error) bool {
	return hasCode(err, ErrCodeJourneyTerminal)
}

// IsInvalidTransition returns true if the error is a status transition rejection.
func IsInvalidTransition(err error) bool {
	return hasCode(err, ErrCodeInvalidTransition)
}

// IsAlreadyStarted returns true if the error is a duplicate-start rejection.
func IsAlreadyStarted(err error) bool {
	return hasCode(err, ErrCodeAlreadyStarted)
}

func hasCode(err error, code StateErrorCode) bool {
	var se *StateError
	if errors.As(err, &se) {
		return se.Code == code
	}
	return false
}

// NewInvalidStepError creates a StateError for an unreachable or unknown step.
func NewInvalidStepError(journeyID, stepID, message string) *StateError {
	return &StateError{
		Code:      ErrCodeInvalidStep,
		Message:   message,
		JourneyID: journeyID,
		StepID:    stepID,
	}
}

// NewTerminalError creates a StateError for an operation on a completed journey.
func NewTerminalError(journeyID string) *StateError {
	return &StateError{
		Code:      ErrCodeJourneyTerminal,
		Message:   "journey is completed and cannot change",
		JourneyID: journeyID,
		Status:    StatusCompleted,
	}
}

// NewTransitionError creates a StateError for an operation invalid from the
// journey's current status.
func NewTransitionError(journeyID string, status Status, op string) *StateError {
	return &StateError{
		Code:      ErrCodeInvalidTransition,
		Message:   fmt.Sprintf("cannot %s a %s journey", op, status),
		JourneyID: journeyID,
		Status:    status,
	}
}

// NewAlreadyStartedError creates a StateError for a duplicate start.
func NewAlreadyStartedError(journeyID string, status Status) *StateError {
	return &StateError{
		Code:      ErrCodeAlreadyStarted,
		Message:   "an active journey already exists for this owner and playbook",
		JourneyID: journeyID,
		Status:    status,
	}
}
