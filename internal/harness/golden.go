package harness

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/sebdah/goldie/v2"
)

// Snapshot is the canonical serialization of a scenario's final state.
// Maps marshal with sorted keys and the deterministic clock, ID sequence,
// and fixed synthesizer pin every value, so snapshots are byte-stable.
//
// Timestamps are deliberately excluded: they collapse to the scenario epoch
// (plus any advances) and would only pad the golden files.
type Snapshot struct {
	Scenario  string                              `json:"scenario"`
	Journeys  []JourneySnapshot                   `json:"journeys"`
	Knowledge map[string]map[string]FieldSnapshot `json:"knowledge,omitempty"`
	Jobs      []JobSnapshot                       `json:"jobs,omitempty"`
}

// JourneySnapshot is one journey's final position.
type JourneySnapshot struct {
	ID          string  `json:"id"`
	Owner       string  `json:"owner"`
	Org         string  `json:"org"`
	Playbook    string  `json:"playbook"`
	Version     int     `json:"version"`
	Status      string  `json:"status"`
	CurrentStep int     `json:"current_step"`
	TotalSteps  int     `json:"total_steps"`
	Progress    float64 `json:"progress"`
	Responses   int     `json:"responses"`
}

// FieldSnapshot is one knowledge field with its provenance.
type FieldSnapshot struct {
	Kind   string `json:"kind"`
	Value  any    `json:"value"`
	Layer  string `json:"layer"`
	Source string `json:"source,omitempty"`
}

// JobSnapshot is one enrichment job's final state.
type JobSnapshot struct {
	JourneyID string `json:"journey_id"`
	Kind      string `json:"kind"`
	Status    string `json:"status"`
	Attempts  int    `json:"attempts"`
}

// BuildSnapshot projects a result into its canonical snapshot form.
func BuildSnapshot(name string, result *Result) *Snapshot {
	snap := &Snapshot{Scenario: name, Journeys: []JourneySnapshot{}}

	for _, j := range result.Journeys {
		snap.Journeys = append(snap.Journeys, JourneySnapshot{
			ID:          j.ID,
			Owner:       j.OwnerID,
			Org:         j.OrgID,
			Playbook:    j.PlaybookID,
			Version:     j.PlaybookVersion,
			Status:      string(j.Status),
			CurrentStep: j.CurrentStep,
			TotalSteps:  j.TotalSteps,
			Progress:    j.Progress(),
			Responses:   len(j.Responses),
		})
	}

	for orgID, k := range result.Knowledge {
		if len(k.Fields) == 0 {
			continue
		}
		if snap.Knowledge == nil {
			snap.Knowledge = make(map[string]map[string]FieldSnapshot)
		}
		fields := make(map[string]FieldSnapshot, len(k.Fields))
		for _, key := range k.SortedKeys() {
			field := k.Fields[key]
			fields[string(key)] = FieldSnapshot{
				Kind:   string(field.Value.Kind()),
				Value:  renderValue(field.Value),
				Layer:  string(field.SourceLayer),
				Source: field.SourceJourneyID,
			}
		}
		snap.Knowledge[orgID] = fields
	}

	for _, job := range result.Jobs {
		snap.Jobs = append(snap.Jobs, JobSnapshot{
			JourneyID: job.JourneyID,
			Kind:      string(job.Kind),
			Status:    string(job.Status),
			Attempts:  job.Attempts,
		})
	}

	return snap
}

// Marshal renders the snapshot as indented JSON with a trailing newline,
// the exact bytes stored in golden files.
func (s *Snapshot) Marshal() ([]byte, error) {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal snapshot: %w", err)
	}
	return append(data, '\n'), nil
}

// RunWithGolden executes a scenario, fails the test on assertion failures,
// and compares the final-state snapshot against the golden file at
// testdata/golden/<scenario name>.golden.
//
// Regenerate golden files with:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenario *Scenario) *Result {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		t.Fatalf("scenario %s: %v", scenario.Name, err)
	}
	for _, failure := range result.Failures {
		t.Errorf("scenario %s: %s", scenario.Name, failure)
	}

	data, err := BuildSnapshot(scenario.Name, result).Marshal()
	if err != nil {
		t.Fatalf("scenario %s: %v", scenario.Name, err)
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenario.Name, data)
	return result
}
