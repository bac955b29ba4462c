package enrich

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/camino/internal/journey"
	"github.com/roach88/camino/internal/knowledge"
)

func TestDerivedCandidatesTaxonomy(t *testing.T) {
	j := &journey.Journey{
		ID: "j-1",
		Responses: []journey.StepResponse{
			respAt(1, "reflection", map[string]any{
				"notes": []any{
					map[string]any{"tag": "insight", "text": "Churn concentrates in month two"},
					map[string]any{"tag": "pattern", "text": "Weekly onboarding calls retain customers"},
					map[string]any{"tag": "learning", "text": "Annual plans reduce churn"},
					map[string]any{"tag": "recommendation", "text": "Hire a customer success lead"},
				},
			}),
		},
	}

	got := derivedCandidates(j)
	require.Len(t, got, 3)

	assert.Equal(t, knowledge.KeyChallenges, got[0].Key)
	assert.Equal(t, knowledge.List{"Churn concentrates in month two"}, got[0].Value)

	assert.Equal(t, knowledge.KeyRecommendations, got[1].Key)
	assert.Equal(t, knowledge.List{"Hire a customer success lead"}, got[1].Value)

	assert.Equal(t, knowledge.KeyStrengths, got[2].Key)
	assert.Equal(t, knowledge.List{
		"Weekly onboarding calls retain customers",
		"Annual plans reduce churn",
	}, got[2].Value)

	for _, c := range got {
		assert.Equal(t, knowledge.LayerDerived, c.Layer)
		assert.Equal(t, derivedListConfidence, c.Confidence)
	}
}

func TestDerivedCandidatesHealthScore(t *testing.T) {
	j := &journey.Journey{
		ID: "j-1",
		Responses: []journey.StepResponse{
			respAt(1, "assessment", map[string]any{"healthScore": 0.85}),
		},
	}

	got := derivedCandidates(j)
	require.Len(t, got, 2)

	assert.Equal(t, knowledge.KeyHealthScore, got[0].Key)
	assert.Equal(t, knowledge.Score(0.85), got[0].Value)
	assert.Equal(t, 1.0, got[0].Confidence)
	assert.Equal(t, knowledge.LayerDerived, got[0].Layer)

	assert.Equal(t, knowledge.KeyHealthSummary, got[1].Key)
	assert.Equal(t, knowledge.Text(healthStrong), got[1].Value)
}

func TestDerivedCandidatesLastScoreWins(t *testing.T) {
	j := &journey.Journey{
		ID: "j-1",
		Responses: []journey.StepResponse{
			respAt(1, "checkin", map[string]any{"healthScore": 0.3}),
			respAt(2, "assessment", map[string]any{"healthScore": 0.9}),
		},
	}

	got := derivedCandidates(j)
	require.Len(t, got, 2)
	assert.Equal(t, knowledge.Score(0.9), got[0].Value)
	assert.Equal(t, knowledge.Text(healthStrong), got[1].Value)
}

func TestHealthNarrativeThresholds(t *testing.T) {
	tests := []struct {
		score float64
		want  string
	}{
		{0.95, healthStrong},
		{0.80, healthStrong},
		{0.79, healthDeveloping},
		{0.50, healthDeveloping},
		{0.49, healthEarly},
		{0, healthEarly},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, healthNarrative(tt.score), "score %v", tt.score)
	}
}

func TestDerivedCandidatesIgnoresUntaxonomizedTags(t *testing.T) {
	j := &journey.Journey{
		ID: "j-1",
		Responses: []journey.StepResponse{
			respAt(1, "reflection", map[string]any{
				"notes": []any{
					map[string]any{"tag": "aside", "text": "Not part of the taxonomy"},
				},
			}),
		},
	}

	assert.Empty(t, derivedCandidates(j))
}

func TestDerivedCandidatesNoSignal(t *testing.T) {
	j := &journey.Journey{
		ID: "j-1",
		Responses: []journey.StepResponse{
			respAt(1, "identity", map[string]any{"mission": "Help independent retailers modernize"}),
		},
	}

	assert.Empty(t, derivedCandidates(j))
}
