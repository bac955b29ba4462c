package journey_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/camino/internal/journey"
	"github.com/roach88/camino/internal/knowledge"
	"github.com/roach88/camino/internal/playbook"
	"github.com/roach88/camino/internal/store"
)

var epoch = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

// fiveStepTemplate builds a linear playbook with the given version. Step IDs
// are s1..s5, each declaring one required text answer; s1 routes into the
// mission field.
func fiveStepTemplate(version int) *playbook.Template {
	steps := make([]playbook.StepSpec, 0, 5)
	for _, id := range []string{"s1", "s2", "s3", "s4", "s5"} {
		step := playbook.StepSpec{
			ID:       id,
			Title:    id,
			Prompt:   "Answer for " + id,
			Fields:   map[string]playbook.FieldSpec{"answer": {Type: playbook.TypeString}},
			Requires: []string{"answer"},
		}
		if id == "s1" {
			step.Map = map[string]knowledge.Key{"answer": knowledge.KeyMission}
		}
		steps = append(steps, step)
	}
	return &playbook.Template{
		ID:      "onboarding",
		Version: version,
		Name:    "Onboarding",
		Purpose: "A five step walkthrough.",
		Steps:   steps,
	}
}

// newEngine wires an Engine over a fresh store with deterministic IDs and a
// fixed clock, and publishes version 1 of the five-step playbook.
func newEngine(t *testing.T, opts ...journey.Option) (*journey.Engine, *store.Store) {
	t.Helper()

	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	require.NoError(t, s.Templates().Publish(context.Background(), fiveStepTemplate(1), "", epoch))

	base := []journey.Option{
		journey.WithIDGenerator(journey.NewFixedIDGenerator("j-1", "j-2", "j-3")),
		journey.WithClock(func() time.Time { return epoch }),
	}
	eng := journey.NewEngine(s.Templates(), s.Journeys(), s.Jobs(), append(base, opts...)...)
	return eng, s
}

func answer(text string) map[string]any {
	return map[string]any{"answer": text}
}

// completeSteps advances the journey through the named steps.
func completeSteps(t *testing.T, eng *journey.Engine, journeyID string, stepIDs ...string) *journey.Journey {
	t.Helper()
	var j *journey.Journey
	var err error
	for _, id := range stepIDs {
		j, err = eng.CompleteStep(context.Background(), journeyID, id, answer("answer for "+id))
		require.NoError(t, err)
	}
	return j
}

func TestStartSnapshotsLatestVersion(t *testing.T) {
	eng, s := newEngine(t)
	ctx := context.Background()
	require.NoError(t, s.Templates().Publish(ctx, fiveStepTemplate(2), "", epoch))

	j, err := eng.Start(ctx, "owner-1", "org-1", "onboarding")
	require.NoError(t, err)

	assert.Equal(t, "j-1", j.ID)
	assert.Equal(t, journey.StatusInProgress, j.Status)
	assert.Equal(t, 1, j.CurrentStep)
	assert.Equal(t, 5, j.TotalSteps)
	assert.Equal(t, 2, j.PlaybookVersion)
	assert.True(t, j.StartedAt.Equal(epoch))
	require.NoError(t, j.CheckInvariants())
}

func TestStartRejectsSecondActiveJourney(t *testing.T) {
	eng, _ := newEngine(t)
	ctx := context.Background()

	first, err := eng.Start(ctx, "owner-1", "org-1", "onboarding")
	require.NoError(t, err)

	_, err = eng.Start(ctx, "owner-1", "org-1", "onboarding")
	require.Error(t, err)
	assert.True(t, journey.IsAlreadyStarted(err))

	// A paused journey still counts as active.
	_, err = eng.Pause(ctx, first.ID)
	require.NoError(t, err)
	_, err = eng.Start(ctx, "owner-1", "org-1", "onboarding")
	assert.True(t, journey.IsAlreadyStarted(err))

	// A different owner is unaffected.
	_, err = eng.Start(ctx, "owner-2", "org-1", "onboarding")
	require.NoError(t, err)
}

func TestStartAfterCompletionBeginsFreshJourney(t *testing.T) {
	eng, _ := newEngine(t)
	ctx := context.Background()

	j, err := eng.Start(ctx, "owner-1", "org-1", "onboarding")
	require.NoError(t, err)
	completeSteps(t, eng, j.ID, "s1", "s2", "s3", "s4", "s5")

	again, err := eng.Start(ctx, "owner-1", "org-1", "onboarding")
	require.NoError(t, err)
	assert.NotEqual(t, j.ID, again.ID)
	assert.Equal(t, journey.StatusInProgress, again.Status)
	assert.Equal(t, 1, again.CurrentStep)
}

func TestStartRestartsResetJourneyInPlace(t *testing.T) {
	eng, s := newEngine(t)
	ctx := context.Background()

	j, err := eng.Start(ctx, "owner-1", "org-1", "onboarding")
	require.NoError(t, err)
	completeSteps(t, eng, j.ID, "s1", "s2")
	_, err = eng.Reset(ctx, j.ID)
	require.NoError(t, err)

	// A new version published between reset and restart is picked up.
	require.NoError(t, s.Templates().Publish(ctx, fiveStepTemplate(2), "", epoch))

	restarted, err := eng.Start(ctx, "owner-1", "org-1", "onboarding")
	require.NoError(t, err)
	assert.Equal(t, j.ID, restarted.ID)
	assert.Equal(t, journey.StatusInProgress, restarted.Status)
	assert.Equal(t, 1, restarted.CurrentStep)
	assert.Equal(t, 2, restarted.PlaybookVersion)
	assert.Empty(t, restarted.Responses)
}

func TestCompleteStepAdvancesAndRecords(t *testing.T) {
	eng, s := newEngine(t)
	ctx := context.Background()

	j, err := eng.Start(ctx, "owner-1", "org-1", "onboarding")
	require.NoError(t, err)

	j, err = eng.CompleteStep(ctx, j.ID, "s1", answer("We fix onboarding for clinics"))
	require.NoError(t, err)
	assert.Equal(t, 2, j.CurrentStep)
	assert.Equal(t, journey.StatusInProgress, j.Status)
	require.NoError(t, j.CheckInvariants())

	stored, err := s.Journeys().GetByID(ctx, j.ID)
	require.NoError(t, err)
	require.Len(t, stored.Responses, 1)
	assert.Equal(t, "s1", stored.Responses[0].StepID)
	assert.Equal(t, 1, stored.Responses[0].StepIndex)
	assert.Equal(t, "We fix onboarding for clinics", stored.Responses[0].Payload["answer"])
	assert.InDelta(t, 20.0, stored.Progress(), 0.001)
}

func TestCompleteStepRejectsFutureAndUnknownSteps(t *testing.T) {
	eng, _ := newEngine(t)
	ctx := context.Background()

	j, err := eng.Start(ctx, "owner-1", "org-1", "onboarding")
	require.NoError(t, err)

	_, err = eng.CompleteStep(ctx, j.ID, "s3", answer("too early"))
	require.Error(t, err)
	assert.True(t, journey.IsInvalidStep(err))

	_, err = eng.CompleteStep(ctx, j.ID, "s99", answer("no such step"))
	require.Error(t, err)
	assert.True(t, journey.IsInvalidStep(err))
}

func TestCompleteStepPayloadFailureDoesNotAdvance(t *testing.T) {
	eng, s := newEngine(t)
	ctx := context.Background()

	j, err := eng.Start(ctx, "owner-1", "org-1", "onboarding")
	require.NoError(t, err)

	_, err = eng.CompleteStep(ctx, j.ID, "s1", map[string]any{})
	require.Error(t, err)
	assert.True(t, playbook.IsPayloadError(err))

	_, err = eng.CompleteStep(ctx, j.ID, "s1", map[string]any{"answer": 12.0})
	require.Error(t, err)
	assert.True(t, playbook.IsPayloadError(err))

	stored, err := s.Journeys().GetByID(ctx, j.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, stored.CurrentStep)
	assert.Empty(t, stored.Responses)
}

func TestCompleteStepRevisionTruncatesForward(t *testing.T) {
	eng, s := newEngine(t)
	ctx := context.Background()

	j, err := eng.Start(ctx, "owner-1", "org-1", "onboarding")
	require.NoError(t, err)
	completeSteps(t, eng, j.ID, "s1", "s2", "s3", "s4")

	// Revising step 2 discards steps 2-4 and resumes from step 3.
	j, err = eng.CompleteStep(ctx, j.ID, "s2", answer("second thoughts"))
	require.NoError(t, err)
	assert.Equal(t, 3, j.CurrentStep)
	assert.Equal(t, journey.StatusInProgress, j.Status)
	require.NoError(t, j.CheckInvariants())

	stored, err := s.Journeys().GetByID(ctx, j.ID)
	require.NoError(t, err)
	require.Len(t, stored.Responses, 2)
	assert.Equal(t, "s1", stored.Responses[0].StepID)
	assert.Equal(t, "s2", stored.Responses[1].StepID)
	assert.Equal(t, "second thoughts", stored.Responses[1].Payload["answer"])
}

func TestCompleteFinalStepCompletesAndEnqueues(t *testing.T) {
	eng, s := newEngine(t)
	ctx := context.Background()

	j, err := eng.Start(ctx, "owner-1", "org-1", "onboarding")
	require.NoError(t, err)
	j = completeSteps(t, eng, j.ID, "s1", "s2", "s3", "s4", "s5")

	assert.Equal(t, journey.StatusCompleted, j.Status)
	assert.Equal(t, 6, j.CurrentStep)
	require.NotNil(t, j.CompletedAt)
	assert.True(t, j.CompletedAt.Equal(epoch))
	require.NoError(t, j.CheckInvariants())
	assert.InDelta(t, 100.0, j.Progress(), 0.001)

	jobs, err := s.Jobs().List(ctx, "")
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, j.ID, jobs[0].JourneyID)
	assert.Equal(t, store.JobEnhance, jobs[0].Kind)
	assert.Equal(t, store.JobPending, jobs[0].Status)
	assert.Equal(t, "org-1", jobs[0].OrgID)
}

func TestCompletedJourneyIsFrozen(t *testing.T) {
	eng, _ := newEngine(t)
	ctx := context.Background()

	j, err := eng.Start(ctx, "owner-1", "org-1", "onboarding")
	require.NoError(t, err)
	completeSteps(t, eng, j.ID, "s1", "s2", "s3", "s4", "s5")

	_, err = eng.CompleteStep(ctx, j.ID, "s2", answer("late revision"))
	require.Error(t, err)
	assert.True(t, journey.IsTerminal(err))

	_, err = eng.Pause(ctx, j.ID)
	require.Error(t, err)
	assert.True(t, journey.IsInvalidTransition(err))

	_, err = eng.Resume(ctx, j.ID)
	require.Error(t, err)
	assert.True(t, journey.IsInvalidTransition(err))
}

func TestPauseAndResume(t *testing.T) {
	eng, _ := newEngine(t)
	ctx := context.Background()

	j, err := eng.Start(ctx, "owner-1", "org-1", "onboarding")
	require.NoError(t, err)
	completeSteps(t, eng, j.ID, "s1")

	paused, err := eng.Pause(ctx, j.ID)
	require.NoError(t, err)
	assert.Equal(t, journey.StatusPaused, paused.Status)
	assert.Equal(t, 2, paused.CurrentStep)

	// No step work while paused, and no double pause.
	_, err = eng.CompleteStep(ctx, j.ID, "s2", answer("while paused"))
	assert.True(t, journey.IsInvalidTransition(err))
	_, err = eng.Pause(ctx, j.ID)
	assert.True(t, journey.IsInvalidTransition(err))

	resumed, err := eng.Resume(ctx, j.ID)
	require.NoError(t, err)
	assert.Equal(t, journey.StatusInProgress, resumed.Status)
	assert.Equal(t, 2, resumed.CurrentStep)

	_, err = eng.Resume(ctx, j.ID)
	assert.True(t, journey.IsInvalidTransition(err))
}

func TestResetClearsProgress(t *testing.T) {
	eng, s := newEngine(t)
	ctx := context.Background()

	j, err := eng.Start(ctx, "owner-1", "org-1", "onboarding")
	require.NoError(t, err)
	completeSteps(t, eng, j.ID, "s1", "s2", "s3")

	reset, err := eng.Reset(ctx, j.ID)
	require.NoError(t, err)
	assert.Equal(t, journey.StatusNotStarted, reset.Status)
	assert.Equal(t, 1, reset.CurrentStep)
	assert.Empty(t, reset.Responses)
	assert.Nil(t, reset.CompletedAt)

	_, err = eng.Reset(ctx, j.ID)
	require.Error(t, err)
	assert.True(t, journey.IsInvalidTransition(err))

	stored, err := s.Journeys().GetByID(ctx, j.ID)
	require.NoError(t, err)
	assert.Empty(t, stored.Responses)
}

func TestEnhanceOnStepEnqueuesEagerly(t *testing.T) {
	eng, s := newEngine(t, journey.WithEnhanceOnStep(true))
	ctx := context.Background()

	j, err := eng.Start(ctx, "owner-1", "org-1", "onboarding")
	require.NoError(t, err)
	completeSteps(t, eng, j.ID, "s1")

	job, err := s.Jobs().Get(ctx, j.ID, store.JobEnhance)
	require.NoError(t, err)
	assert.Equal(t, store.JobPending, job.Status)

	// Later steps coalesce into the same pending job.
	completeSteps(t, eng, j.ID, "s2")
	jobs, err := s.Jobs().List(ctx, "")
	require.NoError(t, err)
	assert.Len(t, jobs, 1)
}

// failingQueue rejects every enqueue.
type failingQueue struct{}

func (failingQueue) EnqueueEnhance(context.Context, string, string, time.Time) error {
	return errors.New("queue unreachable")
}

func TestCompletionSurvivesEnqueueFailure(t *testing.T) {
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	ctx := context.Background()
	require.NoError(t, s.Templates().Publish(ctx, fiveStepTemplate(1), "", epoch))

	eng := journey.NewEngine(s.Templates(), s.Journeys(), failingQueue{},
		journey.WithIDGenerator(journey.NewFixedIDGenerator("j-1")),
		journey.WithClock(func() time.Time { return epoch }))

	j, err := eng.Start(ctx, "owner-1", "org-1", "onboarding")
	require.NoError(t, err)
	j = completeSteps(t, eng, j.ID, "s1", "s2", "s3", "s4", "s5")

	// The journey completes even though the queue is down.
	assert.Equal(t, journey.StatusCompleted, j.Status)

	stored, err := s.Journeys().GetByID(ctx, j.ID)
	require.NoError(t, err)
	assert.Equal(t, journey.StatusCompleted, stored.Status)
}
