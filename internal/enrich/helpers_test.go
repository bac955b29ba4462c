package enrich

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/camino/internal/journey"
	"github.com/roach88/camino/internal/knowledge"
	"github.com/roach88/camino/internal/playbook"
	"github.com/roach88/camino/internal/store"
	"github.com/roach88/camino/internal/synth"
	"github.com/roach88/camino/internal/testutil"
)

var epoch = testutil.Epoch

// growthTemplate is the three-step playbook used across these tests: a
// required mission mapped directly, an optional health assessment, and a
// reflection step that carries only notes.
func growthTemplate() *playbook.Template {
	return &playbook.Template{
		ID:      "growth-foundations",
		Version: 1,
		Name:    "Growth Foundations",
		Purpose: "Baseline the business and set a growth direction.",
		Steps: []playbook.StepSpec{
			{
				ID:     "identity",
				Title:  "Identity",
				Prompt: "What is the company's mission?",
				Fields: map[string]playbook.FieldSpec{
					"mission": {Type: playbook.TypeString},
				},
				Requires: []string{"mission"},
				Map:      map[string]knowledge.Key{"mission": knowledge.KeyMission},
			},
			{
				ID:     "assessment",
				Title:  "Assessment",
				Prompt: "How healthy is the business today?",
				Fields: map[string]playbook.FieldSpec{
					"healthScore": {Type: playbook.TypeNumber},
				},
			},
			{
				ID:     "reflection",
				Title:  "Reflection",
				Prompt: "What did you learn along the way?",
			},
		},
	}
}

// rig wires a real store, engine, pipeline, and worker around a shared test
// clock and a fixed synthesizer.
type rig struct {
	store  *store.Store
	engine *journey.Engine
	pipe   *Pipeline
	worker *Worker
	synth  *synth.Fixed
	clock  *testutil.Clock
}

func newRig(t *testing.T) *rig {
	t.Helper()

	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	ck := testutil.NewClock(epoch)
	fx := synth.NewFixed(synth.Response{
		MarketPosition:        "Challenger in a fragmented market",
		CompetitiveAdvantages: []string{"founder-led sales", "fast iteration"},
		GrowthStrategy:        "Win the wedge segment, then expand upmarket",
		RiskFactors:           []string{"single-channel acquisition"},
		GrowthIndicators:      []string{"net revenue retention"},
		Confidence:            0.7,
	})

	eng := journey.NewEngine(s.Templates(), s.Journeys(), s.Jobs(),
		journey.WithIDGenerator(journey.NewFixedIDGenerator("j-1", "j-2", "j-3", "j-4")),
		journey.WithClock(ck.Now))

	pipe := NewPipeline(s, fx, WithClock(ck.Now))
	worker := NewWorker(s, pipe, WithWorkerClock(ck.Now))

	require.NoError(t, s.Templates().Publish(context.Background(), growthTemplate(), "", ck.Now()))

	return &rig{store: s, engine: eng, pipe: pipe, worker: worker, synth: fx, clock: ck}
}

// completeJourney runs one owner through all three steps: the given mission,
// a 0.85 health score, and two tagged notes.
func (r *rig) completeJourney(t *testing.T, owner, mission string) *journey.Journey {
	t.Helper()
	ctx := context.Background()

	j, err := r.engine.Start(ctx, owner, "org-1", "growth-foundations")
	require.NoError(t, err)

	_, err = r.engine.CompleteStep(ctx, j.ID, "identity", map[string]any{"mission": mission})
	require.NoError(t, err)
	_, err = r.engine.CompleteStep(ctx, j.ID, "assessment", map[string]any{"healthScore": 0.85})
	require.NoError(t, err)
	j, err = r.engine.CompleteStep(ctx, j.ID, "reflection", map[string]any{
		"notes": []any{
			map[string]any{"tag": "insight", "text": "Churn concentrates in month two"},
			map[string]any{"tag": "pattern", "text": "Weekly onboarding calls retain customers"},
		},
	})
	require.NoError(t, err)
	require.True(t, j.Completed())
	return j
}

// respAt builds a recorded step response for candidate-layer unit tests.
func respAt(idx int, stepID string, payload map[string]any) journey.StepResponse {
	return journey.StepResponse{
		JourneyID:   "j-1",
		StepIndex:   idx,
		StepID:      stepID,
		Payload:     payload,
		CompletedAt: epoch,
	}
}
