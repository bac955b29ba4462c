package journey

import (
	"fmt"
	"time"
)

// Status is the lifecycle state of a journey.
type Status string

const (
	// StatusNotStarted is the state after a reset, before (re)starting.
	StatusNotStarted Status = "not_started"

	// StatusInProgress is the active state: steps may be completed.
	StatusInProgress Status = "in_progress"

	// StatusPaused holds a journey without losing its position.
	StatusPaused Status = "paused"

	// StatusCompleted is terminal. Completed journeys never change again;
	// re-engaging the same playbook starts a fresh journey.
	StatusCompleted Status = "completed"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusNotStarted, StatusInProgress, StatusPaused, StatusCompleted:
		return true
	}
	return false
}

// Terminal reports whether the status admits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusCompleted
}

// StepResponse is the recorded payload for one completed step.
// StepIndex is the step's 1-based position in the playbook version the
// journey snapshotted. Responses are immutable once written; revising an
// earlier step truncates everything at and after it and writes a new record.
type StepResponse struct {
	JourneyID   string
	StepIndex   int
	StepID      string
	Payload     map[string]any
	CompletedAt time.Time
}

// Journey is one run of a playbook by an owner, scoped to an organization.
//
// CurrentStep is the 1-based index of the next step to complete. On a
// completed journey it equals TotalSteps+1; that equivalence is the core
// state invariant and is checked on every save.
type Journey struct {
	ID              string
	OwnerID         string
	OrgID           string
	PlaybookID      string
	PlaybookVersion int

	Status      Status
	CurrentStep int
	TotalSteps  int

	StartedAt   time.Time
	CompletedAt *time.Time
	UpdatedAt   time.Time

	Responses []StepResponse
}

// Completed reports whether the journey has reached its terminal state.
func (j *Journey) Completed() bool {
	return j.Status == StatusCompleted
}

// Progress returns the percentage of steps completed, in [0, 100].
// Derived from the recorded responses, never stored.
func (j *Journey) Progress() float64 {
	if j.TotalSteps == 0 {
		return 0
	}
	return 100 * float64(len(j.Responses)) / float64(j.TotalSteps)
}

// CheckInvariants verifies the journey's structural invariants. The store
// runs this before every write; tests use it to pin state-machine behavior.
//
//   - status is a known status
//   - 1 <= CurrentStep <= TotalSteps+1
//   - completed exactly when CurrentStep == TotalSteps+1
//   - at most one response per step index, all indices below CurrentStep
func (j *Journey) CheckInvariants() error {
	if !j.Status.Valid() {
		return fmt.Errorf("journey %s: unknown status %q", j.ID, j.Status)
	}
	if j.TotalSteps < 1 {
		return fmt.Errorf("journey %s: total steps %d < 1", j.ID, j.TotalSteps)
	}
	if j.CurrentStep < 1 || j.CurrentStep > j.TotalSteps+1 {
		return fmt.Errorf("journey %s: current step %d out of range [1, %d]", j.ID, j.CurrentStep, j.TotalSteps+1)
	}
	atEnd := j.CurrentStep == j.TotalSteps+1
	if j.Completed() != atEnd {
		return fmt.Errorf("journey %s: status %s with current step %d of %d", j.ID, j.Status, j.CurrentStep, j.TotalSteps)
	}
	if len(j.Responses) > j.CurrentStep-1 {
		return fmt.Errorf("journey %s: %d responses ahead of current step %d", j.ID, len(j.Responses), j.CurrentStep)
	}
	seen := make(map[int]bool, len(j.Responses))
	for _, r := range j.Responses {
		if r.StepIndex < 1 || r.StepIndex >= j.CurrentStep {
			return fmt.Errorf("journey %s: response for step %d outside completed range", j.ID, r.StepIndex)
		}
		if seen[r.StepIndex] {
			return fmt.Errorf("journey %s: duplicate response for step %d", j.ID, r.StepIndex)
		}
		seen[r.StepIndex] = true
	}
	return nil
}
