package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/roach88/camino/internal/journey"
	"github.com/roach88/camino/internal/knowledge"
	"github.com/roach88/camino/internal/playbook"
)

// testEpoch anchors fixture timestamps so equality checks are exact.
var testEpoch = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

// createTestStore creates a new on-disk store for testing.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// createTestTemplate builds a minimal two-step template.
func createTestTemplate(id string, version int) *playbook.Template {
	return &playbook.Template{
		ID:      id,
		Version: version,
		Name:    "Test Playbook",
		Purpose: "exercise the store",
		Steps: []playbook.StepSpec{
			{
				ID:     "identity",
				Title:  "Identity",
				Prompt: "Who are you?",
				Fields: map[string]playbook.FieldSpec{
					"mission": {Type: playbook.TypeString},
				},
				Requires: []string{"mission"},
				Map:      map[string]knowledge.Key{"mission": knowledge.KeyMission},
			},
			{
				ID:     "market",
				Title:  "Market",
				Prompt: "Who do you serve?",
				Fields: map[string]playbook.FieldSpec{
					"targetMarket": {Type: playbook.TypeString},
				},
			},
		},
	}
}

// createTestJourney builds a fresh in-progress journey with no responses.
func createTestJourney(id, ownerID, playbookID string) *journey.Journey {
	return &journey.Journey{
		ID:              id,
		OwnerID:         ownerID,
		OrgID:           "org-1",
		PlaybookID:      playbookID,
		PlaybookVersion: 1,
		Status:          journey.StatusInProgress,
		CurrentStep:     1,
		TotalSteps:      2,
		StartedAt:       testEpoch,
		UpdatedAt:       testEpoch,
	}
}

// createTestField builds a knowledge field carrying the given value.
func createTestField(v knowledge.Value, journeyID string, layer knowledge.Layer) knowledge.Field {
	return knowledge.Field{
		Value:           v,
		UpdatedAt:       testEpoch,
		SourceJourneyID: journeyID,
		SourceLayer:     layer,
	}
}
