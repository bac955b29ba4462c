package harness

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Scenario defines one end-to-end run: playbooks to publish, a flow of
// journey operations, and assertions on the final state.
type Scenario struct {
	// Name uniquely identifies the scenario; golden files are keyed by it.
	Name string `yaml:"name"`

	// Description explains what the scenario validates.
	Description string `yaml:"description"`

	// Playbooks are inline CUE sources published before the flow runs.
	Playbooks []string `yaml:"playbooks"`

	// Synthesizer configures the fixed strategic synthesizer. When nil the
	// strategic layer is disabled and only the deterministic layers run.
	Synthesizer *SynthSpec `yaml:"synthesizer,omitempty"`

	// Flow is the ordered list of operations to execute.
	Flow []FlowStep `yaml:"flow"`

	// Assertions validate the final state after the flow completes.
	Assertions []Assertion `yaml:"assertions"`
}

// SynthSpec is the canned strategic response the scenario's synthesizer
// returns. Fail makes it unavailable until a `synth: recover` flow step.
type SynthSpec struct {
	Fail                  bool     `yaml:"fail,omitempty"`
	MarketPosition        string   `yaml:"market_position,omitempty"`
	CompetitiveAdvantages []string `yaml:"competitive_advantages,omitempty"`
	GrowthStrategy        string   `yaml:"growth_strategy,omitempty"`
	RiskFactors           []string `yaml:"risk_factors,omitempty"`
	GrowthIndicators      []string `yaml:"growth_indicators,omitempty"`
	Confidence            float64  `yaml:"confidence,omitempty"`
}

// FlowStep is one operation in the flow. Exactly one of its fields must be
// set.
type FlowStep struct {
	// Start begins a journey.
	Start *StartStep `yaml:"start,omitempty"`

	// Step completes (or revises) a step of a journey.
	Step *StepStep `yaml:"step,omitempty"`

	// Pause, Resume, and Reset apply the matching engine transition.
	Pause  *TargetStep `yaml:"pause,omitempty"`
	Resume *TargetStep `yaml:"resume,omitempty"`
	Reset  *TargetStep `yaml:"reset,omitempty"`

	// Enrich drains every ready enrichment job through the worker, or runs
	// the pipeline directly for one journey when Journey is set.
	Enrich *EnrichStep `yaml:"enrich,omitempty"`

	// Advance moves the scenario clock forward, e.g. "10s". Scheduled work
	// (retry backoff, strategic retries) becomes ready this way.
	Advance string `yaml:"advance,omitempty"`

	// Synth is "fail" or "recover" and flips the synthesizer's availability.
	Synth string `yaml:"synth,omitempty"`
}

// StartStep starts a journey for an owner on a playbook.
type StartStep struct {
	Owner    string `yaml:"owner"`
	Org      string `yaml:"org"`
	Playbook string `yaml:"playbook"`

	// Error, when set, means the operation must fail and the error text
	// must contain this substring.
	Error string `yaml:"error,omitempty"`
}

// StepStep completes one step. Journey defaults to the most recently started
// journey.
type StepStep struct {
	Journey string         `yaml:"journey,omitempty"`
	ID      string         `yaml:"id"`
	Payload map[string]any `yaml:"payload,omitempty"`
	Error   string         `yaml:"error,omitempty"`
}

// TargetStep names the journey a transition applies to; it defaults to the
// most recently started journey.
type TargetStep struct {
	Journey string `yaml:"journey,omitempty"`
	Error   string `yaml:"error,omitempty"`
}

// EnrichStep runs enrichment. With Journey set the pipeline runs directly
// (the operator re-synthesis path); otherwise the worker drains the queue.
type EnrichStep struct {
	Journey string `yaml:"journey,omitempty"`
}

// Assertion types.
const (
	AssertJourneyStatus  = "journey_status"
	AssertKnowledgeField = "knowledge_field"
	AssertJobState       = "job_state"
)

// Assertion validates one aspect of the final state.
type Assertion struct {
	// Type is one of journey_status, knowledge_field, or job_state.
	Type string `yaml:"type"`

	// Journey names the target journey (journey_status, job_state).
	// Defaults to the most recently started journey.
	Journey string `yaml:"journey,omitempty"`

	// Status is the expected journey status (journey_status).
	Status string `yaml:"status,omitempty"`

	// Org and Field locate a knowledge field (knowledge_field).
	Org   string `yaml:"org,omitempty"`
	Field string `yaml:"field,omitempty"`

	// Value is the expected field value: a string for text, a list for
	// list fields, a number for scores. Omitted means only presence,
	// layer, and source are checked.
	Value any `yaml:"value,omitempty"`

	// Layer is the expected provenance layer (knowledge_field).
	Layer string `yaml:"layer,omitempty"`

	// Source is the expected source journey (knowledge_field).
	Source string `yaml:"source,omitempty"`

	// Absent asserts the field is not present at all (knowledge_field).
	Absent bool `yaml:"absent,omitempty"`

	// Kind and State identify a job and its expected status (job_state).
	Kind  string `yaml:"kind,omitempty"`
	State string `yaml:"state,omitempty"`

	// Attempts, when non-nil, is the expected lease count (job_state).
	Attempts *int `yaml:"attempts,omitempty"`
}

// LoadScenario reads and parses a scenario YAML file. Unknown fields are
// rejected so typos fail loudly instead of silently skipping assertions.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses scenario YAML bytes.
func ParseScenario(data []byte) (*Scenario, error) {
	var s Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&s); err != nil {
		return nil, fmt.Errorf("parse scenario: %w", err)
	}
	if err := validateScenario(&s); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &s, nil
}

// validateScenario checks required fields and that every flow step and
// assertion is well-formed.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Playbooks) == 0 {
		return fmt.Errorf("playbooks list is required and must be non-empty")
	}
	if len(s.Flow) == 0 {
		return fmt.Errorf("flow list is required and must be non-empty")
	}

	for i, step := range s.Flow {
		if err := validateFlowStep(i, &step); err != nil {
			return err
		}
	}
	for i, a := range s.Assertions {
		if err := validateAssertion(i, &a); err != nil {
			return err
		}
	}
	return nil
}

// validateFlowStep checks that exactly one operation is set per entry.
func validateFlowStep(index int, step *FlowStep) error {
	ops := 0
	if step.Start != nil {
		ops++
		if step.Start.Owner == "" || step.Start.Org == "" || step.Start.Playbook == "" {
			return fmt.Errorf("flow[%d].start: owner, org, and playbook are required", index)
		}
	}
	if step.Step != nil {
		ops++
		if step.Step.ID == "" {
			return fmt.Errorf("flow[%d].step: id is required", index)
		}
	}
	if step.Pause != nil {
		ops++
	}
	if step.Resume != nil {
		ops++
	}
	if step.Reset != nil {
		ops++
	}
	if step.Enrich != nil {
		ops++
	}
	if step.Advance != "" {
		ops++
		if _, err := time.ParseDuration(step.Advance); err != nil {
			return fmt.Errorf("flow[%d].advance: %v", index, err)
		}
	}
	if step.Synth != "" {
		ops++
		if step.Synth != "fail" && step.Synth != "recover" {
			return fmt.Errorf("flow[%d].synth: must be \"fail\" or \"recover\", got %q", index, step.Synth)
		}
	}

	if ops == 0 {
		return fmt.Errorf("flow[%d]: empty step", index)
	}
	if ops > 1 {
		return fmt.Errorf("flow[%d]: exactly one operation per step", index)
	}
	return nil
}

// validateAssertion checks one assertion against its type's requirements.
func validateAssertion(index int, a *Assertion) error {
	switch a.Type {
	case AssertJourneyStatus:
		if a.Status == "" {
			return fmt.Errorf("assertions[%d]: status is required for journey_status", index)
		}
	case AssertKnowledgeField:
		if a.Org == "" {
			return fmt.Errorf("assertions[%d]: org is required for knowledge_field", index)
		}
		if a.Field == "" {
			return fmt.Errorf("assertions[%d]: field is required for knowledge_field", index)
		}
		if a.Absent && (a.Value != nil || a.Layer != "" || a.Source != "") {
			return fmt.Errorf("assertions[%d]: absent excludes value, layer, and source", index)
		}
	case AssertJobState:
		if a.Kind == "" {
			return fmt.Errorf("assertions[%d]: kind is required for job_state", index)
		}
		if a.State == "" {
			return fmt.Errorf("assertions[%d]: state is required for job_state", index)
		}
	case "":
		return fmt.Errorf("assertions[%d]: type is required", index)
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
