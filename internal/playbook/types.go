package playbook

import (
	"github.com/roach88/camino/internal/knowledge"
)

// Template is a compiled, immutable playbook version: an ordered sequence of
// guided steps. Published templates are never edited; changes ship as a new
// Version under the same ID.
type Template struct {
	ID      string     `json:"id"`
	Version int        `json:"version"`
	Name    string     `json:"name"`
	Purpose string     `json:"purpose"`
	Steps   []StepSpec `json:"steps"`
}

// TotalSteps returns the number of steps in the template.
func (t *Template) TotalSteps() int {
	return len(t.Steps)
}

// Step looks up a step by ID and returns it with its 1-based position.
func (t *Template) Step(id string) (StepSpec, int, bool) {
	for i, s := range t.Steps {
		if s.ID == id {
			return s, i + 1, true
		}
	}
	return StepSpec{}, 0, false
}

// StepAt returns the step at a 1-based position.
func (t *Template) StepAt(index int) (StepSpec, bool) {
	if index < 1 || index > len(t.Steps) {
		return StepSpec{}, false
	}
	return t.Steps[index-1], true
}

// StepSpec defines one step of a playbook: what is asked, which payload
// fields exist, which are required, and how payload fields route into
// knowledge fields.
type StepSpec struct {
	ID     string `json:"id"`
	Title  string `json:"title"`
	Prompt string `json:"prompt"`

	// Fields declares the payload schema for the step's response.
	Fields map[string]FieldSpec `json:"fields"`

	// Requires lists the payload fields that must be present and non-empty.
	// Fields not listed are optional.
	Requires []string `json:"requires,omitempty"`

	// Map routes payload fields to knowledge fields for direct synthesis.
	// Keys are payload field names, values are knowledge field keys.
	Map map[string]knowledge.Key `json:"map,omitempty"`
}

// FieldSpec describes one payload field of a step.
type FieldSpec struct {
	Type FieldType `json:"type"`
}

// FieldType is the declared shape of a step payload field.
type FieldType string

const (
	TypeString FieldType = "string"
	TypeInt    FieldType = "int"
	TypeNumber FieldType = "number"
	TypeBool   FieldType = "bool"
	TypeArray  FieldType = "array"
	TypeObject FieldType = "object"
)

// knowledgeKind returns the knowledge value kind a payload field of this
// type can route into, if any. Bool and object fields cannot be mapped.
func (ft FieldType) knowledgeKind() (knowledge.Kind, bool) {
	switch ft {
	case TypeString:
		return knowledge.KindText, true
	case TypeInt, TypeNumber:
		return knowledge.KindScore, true
	case TypeArray:
		return knowledge.KindList, true
	}
	return "", false
}

// NotesField is the reserved payload key for free-text context annotations.
// Any step may carry it without declaring it; entries are objects with a
// "tag" and a "text" and feed the derived synthesis layer.
const NotesField = "notes"

// Note is one context annotation attached to a step response.
type Note struct {
	Tag  string `json:"tag"`
	Text string `json:"text"`
}

// Annotation tags understood by the derived layer's taxonomy.
const (
	TagInsight        = "insight"
	TagPattern        = "pattern"
	TagLearning       = "learning"
	TagRecommendation = "recommendation"
)
