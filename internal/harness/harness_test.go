package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/camino/internal/knowledge"
	"github.com/roach88/camino/internal/store"
)

func load(t *testing.T, path string) *Scenario {
	t.Helper()
	s, err := LoadScenario(path)
	require.NoError(t, err)
	return s
}

func TestGrowthJourneyGolden(t *testing.T) {
	scenario := load(t, "testdata/growth_journey.yaml")
	result := RunWithGolden(t, scenario)

	require.Len(t, result.Journeys, 1)
	assert.NoError(t, result.Journeys[0].CheckInvariants())
}

func TestStrategicRetryScenario(t *testing.T) {
	scenario := load(t, "testdata/strategic_retry.yaml")
	result, err := Run(scenario)
	require.NoError(t, err)
	require.Empty(t, result.Failures)

	retry := jobByKey(result, "j-1", store.JobStrategicRetry)
	require.NotNil(t, retry)
	assert.Equal(t, store.JobDone, retry.Status)
}

func TestRevisionScenario(t *testing.T) {
	scenario, err := ParseScenario([]byte(`
name: revision
description: Revising an earlier step truncates everything after it.
playbooks:
  - |
    playbook: {
        id:      "pb"
        version: 1
        name:    "PB"
        purpose: "p"
        steps: [{
            id: "one", title: "One", prompt: "?"
            fields: {a: string}
        }, {
            id: "two", title: "Two", prompt: "?"
            fields: {b: string}
        }, {
            id: "three", title: "Three", prompt: "?"
            fields: {c: string}
        }]
    }
flow:
  - start: {owner: u-1, org: org-1, playbook: pb}
  - step: {id: one, payload: {a: "1"}}
  - step: {id: two, payload: {b: "2"}}
  - step: {id: one, payload: {a: "1 revised"}}
assertions:
  - type: journey_status
    status: in_progress
`))
	require.NoError(t, err)

	result, err := Run(scenario)
	require.NoError(t, err)
	require.Empty(t, result.Failures)

	j := result.Journeys[0]
	assert.Equal(t, 2, j.CurrentStep)
	require.Len(t, j.Responses, 1)
	assert.Equal(t, "1 revised", j.Responses[0].Payload["a"])
}

func TestExpectedErrorFlow(t *testing.T) {
	scenario, err := ParseScenario([]byte(`
name: expected-errors
description: Declared failures are matched, not fatal.
playbooks:
  - |
    playbook: {
        id:      "pb"
        version: 1
        name:    "PB"
        purpose: "p"
        steps: [{
            id: "one", title: "One", prompt: "?"
            fields: {a: string}
        }]
    }
flow:
  - start: {owner: u-1, org: org-1, playbook: pb}
  - start: {owner: u-1, org: org-1, playbook: pb, error: already exists}
  - resume: {error: cannot resume}
  - step: {id: bogus, payload: {}, error: not part of the playbook}
assertions:
  - type: journey_status
    status: in_progress
`))
	require.NoError(t, err)

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.True(t, result.Passed())
}

func TestUnexpectedErrorAbortsRun(t *testing.T) {
	scenario, err := ParseScenario([]byte(`
name: aborts
description: An undeclared failure aborts the run.
playbooks:
  - |
    playbook: {
        id:      "pb"
        version: 1
        name:    "PB"
        purpose: "p"
        steps: [{
            id: "one", title: "One", prompt: "?"
            fields: {a: string}
        }]
    }
flow:
  - start: {owner: u-1, org: org-1, playbook: pb}
  - pause: {}
  - step: {id: one, payload: {a: "1"}}
assertions:
  - type: journey_status
    status: paused
`))
	require.NoError(t, err)

	_, err = Run(scenario)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "flow[2]")
}

func TestIdempotentReEnhance(t *testing.T) {
	scenario := load(t, "testdata/growth_journey.yaml")
	// Re-running enrichment for the same journey must change nothing.
	scenario.Flow = append(scenario.Flow, FlowStep{Enrich: &EnrichStep{Journey: "j-1"}})

	result, err := Run(scenario)
	require.NoError(t, err)
	require.Empty(t, result.Failures)

	k := result.Knowledge["org-1"]
	require.NotNil(t, k)
	assert.Equal(t, int64(1), k.Version, "second enhance must not bump the aggregate version")
	field, ok := k.Get(knowledge.KeyMission)
	require.True(t, ok)
	assert.Equal(t, knowledge.Text("Empower local retailers with data"), field.Value)
}

func TestOrderingAcrossJourneys(t *testing.T) {
	scenario, err := ParseScenario([]byte(`
name: ordering
description: The later journey's value wins fields touched by both.
playbooks:
  - |
    playbook: {
        id:      "pb"
        version: 1
        name:    "PB"
        purpose: "p"
        steps: [{
            id: "one", title: "One", prompt: "?"
            fields: {mission: string}
            requires: ["mission"]
            map: {mission: "mission"}
        }]
    }
flow:
  - start: {owner: u-1, org: org-1, playbook: pb}
  - step: {id: one, payload: {mission: "Help businesses grow"}}
  - start: {owner: u-2, org: org-1, playbook: pb}
  - step: {id: one, payload: {mission: "Empower entrepreneurs with AI tools"}}
  - enrich: {}
assertions:
  - type: knowledge_field
    org: org-1
    field: mission
    value: "Empower entrepreneurs with AI tools"
    layer: direct
    source: j-2
`))
	require.NoError(t, err)

	result, err := Run(scenario)
	require.NoError(t, err)
	require.Empty(t, result.Failures)
}
