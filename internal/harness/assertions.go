package harness

import (
	"fmt"
	"math"
	"strings"

	"github.com/roach88/camino/internal/journey"
	"github.com/roach88/camino/internal/knowledge"
	"github.com/roach88/camino/internal/store"
)

// evaluate checks every assertion against the final state and returns the
// failures. lastJourney is the default target for assertions that name none.
func evaluate(scenario *Scenario, result *Result, lastJourney string) []string {
	failures := []string{}
	for i, a := range scenario.Assertions {
		if msg := check(&a, result, lastJourney); msg != "" {
			failures = append(failures, fmt.Sprintf("assertions[%d]: %s", i, msg))
		}
	}
	return failures
}

// check evaluates one assertion; empty string means it held.
func check(a *Assertion, result *Result, lastJourney string) string {
	switch a.Type {
	case AssertJourneyStatus:
		return checkJourneyStatus(a, result, lastJourney)
	case AssertKnowledgeField:
		return checkKnowledgeField(a, result)
	case AssertJobState:
		return checkJobState(a, result, lastJourney)
	}
	return fmt.Sprintf("unknown assertion type %q", a.Type)
}

func checkJourneyStatus(a *Assertion, result *Result, lastJourney string) string {
	id := a.Journey
	if id == "" {
		id = lastJourney
	}
	j := findJourney(result, id)
	if j == nil {
		return fmt.Sprintf("journey %q was never started", id)
	}
	if string(j.Status) != a.Status {
		return fmt.Sprintf("journey %s: status %s, want %s", id, j.Status, a.Status)
	}
	return ""
}

func checkKnowledgeField(a *Assertion, result *Result) string {
	k, ok := result.Knowledge[a.Org]
	if !ok {
		return fmt.Sprintf("organization %q was never touched", a.Org)
	}
	field, present := k.Get(knowledge.Key(a.Field))

	if a.Absent {
		if present {
			return fmt.Sprintf("%s.%s: present with value %v, want absent", a.Org, a.Field, renderValue(field.Value))
		}
		return ""
	}
	if !present {
		return fmt.Sprintf("%s.%s: field is absent", a.Org, a.Field)
	}
	if a.Value != nil && !matchValue(field.Value, a.Value) {
		return fmt.Sprintf("%s.%s: value %v, want %v", a.Org, a.Field, renderValue(field.Value), a.Value)
	}
	if a.Layer != "" && string(field.SourceLayer) != a.Layer {
		return fmt.Sprintf("%s.%s: layer %s, want %s", a.Org, a.Field, field.SourceLayer, a.Layer)
	}
	if a.Source != "" && field.SourceJourneyID != a.Source {
		return fmt.Sprintf("%s.%s: source journey %s, want %s", a.Org, a.Field, field.SourceJourneyID, a.Source)
	}
	return ""
}

func checkJobState(a *Assertion, result *Result, lastJourney string) string {
	id := a.Journey
	if id == "" {
		id = lastJourney
	}
	for _, job := range result.Jobs {
		if job.JourneyID != id || string(job.Kind) != a.Kind {
			continue
		}
		if string(job.Status) != a.State {
			return fmt.Sprintf("job %s/%s: status %s, want %s", id, a.Kind, job.Status, a.State)
		}
		if a.Attempts != nil && job.Attempts != *a.Attempts {
			return fmt.Sprintf("job %s/%s: attempts %d, want %d", id, a.Kind, job.Attempts, *a.Attempts)
		}
		return ""
	}
	if a.State == "absent" {
		return ""
	}
	return fmt.Sprintf("job %s/%s: not found", id, a.Kind)
}

func findJourney(result *Result, id string) *journey.Journey {
	for _, j := range result.Journeys {
		if j.ID == id {
			return j
		}
	}
	return nil
}

// matchValue compares a knowledge value to the YAML-typed expectation:
// strings to text, sequences to lists, numbers to scores.
func matchValue(v knowledge.Value, want any) bool {
	switch v := v.(type) {
	case knowledge.Text:
		s, ok := want.(string)
		return ok && string(v) == s
	case knowledge.Score:
		f, ok := asFloat(want)
		return ok && math.Abs(float64(v)-f) < 1e-9
	case knowledge.List:
		items, ok := want.([]any)
		if !ok || len(items) != len(v) {
			return false
		}
		for i, item := range items {
			s, ok := item.(string)
			if !ok || v[i] != s {
				return false
			}
		}
		return true
	}
	return false
}

func asFloat(v any) (float64, bool) {
	switch v := v.(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	}
	return 0, false
}

func renderValue(v knowledge.Value) any {
	switch v := v.(type) {
	case knowledge.Text:
		return string(v)
	case knowledge.Score:
		return float64(v)
	case knowledge.List:
		return []string(v)
	}
	return v
}

// containsFold is a case-insensitive substring check for expected errors.
func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}

// jobByKey finds a job on the result; exposed for tests that inspect queue
// state beyond the declarative assertions.
func jobByKey(result *Result, journeyID string, kind store.JobKind) *store.Job {
	for i := range result.Jobs {
		if result.Jobs[i].JourneyID == journeyID && result.Jobs[i].Kind == kind {
			return &result.Jobs[i]
		}
	}
	return nil
}
