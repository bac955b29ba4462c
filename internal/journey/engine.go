package journey

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/camino/internal/playbook"
)

// TemplateSource resolves playbook templates.
// Version 0 means the highest published version.
type TemplateSource interface {
	GetTemplate(ctx context.Context, id string, version int) (*playbook.Template, error)
}

// Store persists journeys.
//
// Save persists the journey and its responses atomically, guarded by
// optimistic concurrency: it fails with a version conflict when the stored
// UpdatedAt differs from expectedUpdatedAt.
//
// GetActiveByOwnerAndPlaybook returns (nil, nil) when no non-completed
// journey exists for the pair; at most one can exist at a time.
type Store interface {
	Create(ctx context.Context, j *Journey) error
	GetByID(ctx context.Context, id string) (*Journey, error)
	GetActiveByOwnerAndPlaybook(ctx context.Context, ownerID, playbookID string) (*Journey, error)
	Save(ctx context.Context, j *Journey, expectedUpdatedAt time.Time) error
}

// Enqueuer accepts enrichment work keyed by journey ID.
// Enqueue must be idempotent: re-enqueueing a pending journey is a no-op.
type Enqueuer interface {
	EnqueueEnhance(ctx context.Context, journeyID, orgID string, now time.Time) error
}

// Engine drives the journey state machine.
//
// All operations are synchronous and complete against the store before
// returning. Knowledge synthesis is decoupled: completing the final step
// only enqueues a job, it never waits on the pipeline. A journey completes
// even when the queue is unreachable; the job can be re-enqueued later.
type Engine struct {
	templates TemplateSource
	journeys  Store
	queue     Enqueuer

	idgen         IDGenerator
	now           func() time.Time
	enhanceOnStep bool
}

// Option configures an Engine.
type Option func(*Engine)

// WithIDGenerator sets the journey ID generator.
// Tests use FixedIDGenerator for deterministic IDs.
func WithIDGenerator(g IDGenerator) Option {
	return func(e *Engine) {
		e.idgen = g
	}
}

// WithClock sets the time source. Tests use a fixed clock so timestamps
// are stable in golden snapshots.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// WithEnhanceOnStep makes the engine enqueue the journey's enrichment job
// after every step completion instead of only at journey completion.
// Finished jobs are revived; pending ones coalesce.
func WithEnhanceOnStep(enabled bool) Option {
	return func(e *Engine) {
		e.enhanceOnStep = enabled
	}
}

// NewEngine creates an Engine over the given template source, journey store,
// and enrichment queue.
func NewEngine(templates TemplateSource, journeys Store, queue Enqueuer, opts ...Option) *Engine {
	e := &Engine{
		templates: templates,
		journeys:  journeys,
		queue:     queue,
		idgen:     UUIDv7Generator{},
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Start begins a journey for the owner on the given playbook, snapshotting
// the playbook's current version and step count.
//
// If an active (in-progress or paused) journey already exists for the owner
// and playbook, Start fails with AlreadyStarted. A journey left in
// not_started by a reset is restarted in place, re-snapshotting the current
// template version. Completed journeys never block a new start.
func (e *Engine) Start(ctx context.Context, ownerID, orgID, playbookID string) (*Journey, error) {
	tmpl, err := e.templates.GetTemplate(ctx, playbookID, 0)
	if err != nil {
		return nil, fmt.Errorf("start journey: %w", err)
	}

	existing, err := e.journeys.GetActiveByOwnerAndPlaybook(ctx, ownerID, playbookID)
	if err != nil {
		return nil, fmt.Errorf("start journey: %w", err)
	}
	if existing != nil {
		if existing.Status != StatusNotStarted {
			return nil, NewAlreadyStartedError(existing.ID, existing.Status)
		}

		// Reset leftover: restart in place on the current template version.
		now := e.now()
		expected := existing.UpdatedAt
		existing.PlaybookVersion = tmpl.Version
		existing.TotalSteps = tmpl.TotalSteps()
		existing.Status = StatusInProgress
		existing.CurrentStep = 1
		existing.Responses = nil
		existing.StartedAt = now
		existing.CompletedAt = nil
		existing.UpdatedAt = now
		if err := e.journeys.Save(ctx, existing, expected); err != nil {
			return nil, fmt.Errorf("start journey: %w", err)
		}
		slog.Info("journey restarted",
			"journey_id", existing.ID,
			"playbook", tmpl.ID,
			"playbook_version", tmpl.Version)
		return existing, nil
	}

	now := e.now()
	j := &Journey{
		ID:              e.idgen.Generate(),
		OwnerID:         ownerID,
		OrgID:           orgID,
		PlaybookID:      tmpl.ID,
		PlaybookVersion: tmpl.Version,
		Status:          StatusInProgress,
		CurrentStep:     1,
		TotalSteps:      tmpl.TotalSteps(),
		StartedAt:       now,
		UpdatedAt:       now,
	}
	if err := e.journeys.Create(ctx, j); err != nil {
		return nil, fmt.Errorf("start journey: %w", err)
	}

	slog.Info("journey started",
		"journey_id", j.ID,
		"owner_id", ownerID,
		"org_id", orgID,
		"playbook", tmpl.ID,
		"playbook_version", tmpl.Version,
		"total_steps", j.TotalSteps)
	return j, nil
}

// CompleteStep records a response for a step and advances the journey.
//
// Completing the step at CurrentStep advances normally. Completing an
// earlier step is a revision: every response at or after that step is
// discarded, the new response is recorded, and the journey resumes from the
// following step. Completing a later or unknown step fails with InvalidStep.
//
// Completing the final step transitions the journey to completed and
// enqueues exactly one enrichment job keyed by the journey ID. The enqueue
// is fire-and-forget: its failure is logged, never surfaced, and the
// journey stays completed.
func (e *Engine) CompleteStep(ctx context.Context, journeyID, stepID string, payload map[string]any) (*Journey, error) {
	j, err := e.journeys.GetByID(ctx, journeyID)
	if err != nil {
		return nil, fmt.Errorf("complete step: %w", err)
	}

	if j.Completed() {
		return nil, NewTerminalError(j.ID)
	}
	if j.Status != StatusInProgress {
		return nil, NewTransitionError(j.ID, j.Status, "complete a step of")
	}

	tmpl, err := e.templates.GetTemplate(ctx, j.PlaybookID, j.PlaybookVersion)
	if err != nil {
		return nil, fmt.Errorf("complete step: %w", err)
	}

	step, idx, ok := tmpl.Step(stepID)
	if !ok {
		return nil, NewInvalidStepError(j.ID, stepID, "step is not part of the playbook")
	}
	if idx > j.CurrentStep {
		return nil, NewInvalidStepError(j.ID, stepID,
			fmt.Sprintf("step %d is ahead of the journey's current step %d", idx, j.CurrentStep))
	}

	if err := playbook.ValidatePayload(step, payload); err != nil {
		return nil, fmt.Errorf("complete step: %w", err)
	}

	now := e.now()
	resp := StepResponse{
		JourneyID:   j.ID,
		StepIndex:   idx,
		StepID:      stepID,
		Payload:     payload,
		CompletedAt: now,
	}

	revised := idx < j.CurrentStep
	if revised {
		// Destructive-forward revision: answers to steps after the revised
		// one may depend on it, so they are discarded, not kept.
		j.Responses = append(j.Responses[:idx-1], resp)
		j.CurrentStep = idx + 1
	} else {
		j.Responses = append(j.Responses, resp)
		j.CurrentStep++
	}

	if j.CurrentStep > j.TotalSteps {
		j.Status = StatusCompleted
		completedAt := now
		j.CompletedAt = &completedAt
	} else {
		j.Status = StatusInProgress
		j.CompletedAt = nil
	}

	expected := j.UpdatedAt
	j.UpdatedAt = now
	if err := e.journeys.Save(ctx, j, expected); err != nil {
		return nil, fmt.Errorf("complete step: %w", err)
	}

	slog.Info("step completed",
		"journey_id", j.ID,
		"step", stepID,
		"step_index", idx,
		"revised", revised,
		"current_step", j.CurrentStep,
		"status", j.Status)

	if j.Completed() || e.enhanceOnStep {
		e.enqueueEnhance(ctx, j)
	}

	return j, nil
}

// Pause suspends an in-progress journey. Any other status, including
// completed, fails with InvalidTransition.
func (e *Engine) Pause(ctx context.Context, journeyID string) (*Journey, error) {
	return e.transition(ctx, journeyID, "pause", StatusInProgress, StatusPaused)
}

// Resume reactivates a paused journey. Any other status fails with
// InvalidTransition.
func (e *Engine) Resume(ctx context.Context, journeyID string) (*Journey, error) {
	return e.transition(ctx, journeyID, "resume", StatusPaused, StatusInProgress)
}

// transition moves a journey from exactly one status to another.
func (e *Engine) transition(ctx context.Context, journeyID, op string, from, to Status) (*Journey, error) {
	j, err := e.journeys.GetByID(ctx, journeyID)
	if err != nil {
		return nil, fmt.Errorf("%s journey: %w", op, err)
	}
	if j.Status != from {
		return nil, NewTransitionError(j.ID, j.Status, op)
	}

	now := e.now()
	expected := j.UpdatedAt
	j.Status = to
	j.UpdatedAt = now
	if err := e.journeys.Save(ctx, j, expected); err != nil {
		return nil, fmt.Errorf("%s journey: %w", op, err)
	}

	slog.Info("journey "+op+"d", "journey_id", j.ID)
	return j, nil
}

// Reset returns a journey to not_started: responses cleared, position back
// to step one. Valid from any status except not_started itself. Knowledge
// already merged from the journey keeps its provenance; reset never touches
// the knowledge store.
func (e *Engine) Reset(ctx context.Context, journeyID string) (*Journey, error) {
	j, err := e.journeys.GetByID(ctx, journeyID)
	if err != nil {
		return nil, fmt.Errorf("reset journey: %w", err)
	}
	if j.Status == StatusNotStarted {
		return nil, NewTransitionError(j.ID, j.Status, "reset")
	}

	now := e.now()
	expected := j.UpdatedAt
	j.Status = StatusNotStarted
	j.CurrentStep = 1
	j.Responses = nil
	j.CompletedAt = nil
	j.UpdatedAt = now
	if err := e.journeys.Save(ctx, j, expected); err != nil {
		return nil, fmt.Errorf("reset journey: %w", err)
	}

	slog.Info("journey reset", "journey_id", j.ID)
	return j, nil
}

// enqueueEnhance hands the journey to the enrichment queue. Failures are
// logged and swallowed: step completion must never block on, or fail
// because of, the synthesis side.
func (e *Engine) enqueueEnhance(ctx context.Context, j *Journey) {
	if e.queue == nil {
		return
	}
	if err := e.queue.EnqueueEnhance(ctx, j.ID, j.OrgID, e.now()); err != nil {
		slog.Error("enqueue enrichment job failed",
			"journey_id", j.ID,
			"org_id", j.OrgID,
			"error", err)
		return
	}
	slog.Debug("enrichment job enqueued", "journey_id", j.ID, "org_id", j.OrgID)
}
