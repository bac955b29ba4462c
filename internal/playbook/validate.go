package playbook

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
)

// ValidatePayload checks a step response payload against the step's declared
// schema: all required fields present and non-empty, all fields declared,
// all values of the declared type. The reserved notes field is validated
// separately for its annotation shape.
//
// Payloads arrive as decoded JSON (map[string]any), so numbers are float64.
func ValidatePayload(step StepSpec, payload map[string]any) error {
	for _, name := range step.Requires {
		v, ok := payload[name]
		if !ok {
			return &PayloadError{
				StepID:  step.ID,
				Field:   name,
				Message: "required field is missing",
			}
		}
		if isBlank(v) {
			return &PayloadError{
				StepID:  step.ID,
				Field:   name,
				Message: "required field is empty",
			}
		}
	}

	for name, v := range payload {
		if name == NotesField {
			if err := validateNotes(step.ID, v); err != nil {
				return err
			}
			continue
		}
		spec, ok := step.Fields[name]
		if !ok {
			return &PayloadError{
				StepID:  step.ID,
				Field:   name,
				Message: "field is not declared by the step",
			}
		}
		if err := checkType(step.ID, name, spec.Type, v); err != nil {
			return err
		}
	}

	return nil
}

// ParseNotes extracts the context annotations from a payload, if any.
// Assumes the payload already passed ValidatePayload.
func ParseNotes(payload map[string]any) []Note {
	raw, ok := payload[NotesField].([]any)
	if !ok {
		return nil
	}
	notes := make([]Note, 0, len(raw))
	for _, entry := range raw {
		m, ok := entry.(map[string]any)
		if !ok {
			continue
		}
		tag, _ := m["tag"].(string)
		text, _ := m["text"].(string)
		if tag == "" || strings.TrimSpace(text) == "" {
			continue
		}
		notes = append(notes, Note{Tag: tag, Text: text})
	}
	return notes
}

// validateNotes checks the reserved annotations field:
// a list of {tag, text} objects with known tags.
func validateNotes(stepID string, v any) error {
	entries, ok := v.([]any)
	if !ok {
		return &PayloadError{
			StepID:  stepID,
			Field:   NotesField,
			Message: "notes must be a list of {tag, text} objects",
		}
	}
	for i, entry := range entries {
		m, ok := entry.(map[string]any)
		if !ok {
			return &PayloadError{
				StepID:  stepID,
				Field:   NotesField,
				Message: fmt.Sprintf("entry %d is not an object", i),
			}
		}
		tag, _ := m["tag"].(string)
		text, _ := m["text"].(string)
		if tag == "" || text == "" {
			return &PayloadError{
				StepID:  stepID,
				Field:   NotesField,
				Message: fmt.Sprintf("entry %d needs a tag and a text", i),
			}
		}
		switch tag {
		case TagInsight, TagPattern, TagLearning, TagRecommendation:
		default:
			return &PayloadError{
				StepID:  stepID,
				Field:   NotesField,
				Message: fmt.Sprintf("entry %d has unknown tag %q", i, tag),
			}
		}
	}
	return nil
}

// checkType verifies a payload value against its declared field type.
func checkType(stepID, field string, ft FieldType, v any) error {
	fail := func(msg string) error {
		return &PayloadError{StepID: stepID, Field: field, Message: msg}
	}

	switch ft {
	case TypeString:
		if _, ok := v.(string); !ok {
			return fail(fmt.Sprintf("expected string, got %T", v))
		}
	case TypeInt:
		n, ok := asNumber(v)
		if !ok {
			return fail(fmt.Sprintf("expected int, got %T", v))
		}
		if n != math.Trunc(n) {
			return fail(fmt.Sprintf("expected int, got %v", v))
		}
	case TypeNumber:
		if _, ok := asNumber(v); !ok {
			return fail(fmt.Sprintf("expected number, got %T", v))
		}
	case TypeBool:
		if _, ok := v.(bool); !ok {
			return fail(fmt.Sprintf("expected bool, got %T", v))
		}
	case TypeArray:
		switch v.(type) {
		case []any, []string:
		default:
			return fail(fmt.Sprintf("expected array, got %T", v))
		}
	case TypeObject:
		if _, ok := v.(map[string]any); !ok {
			return fail(fmt.Sprintf("expected object, got %T", v))
		}
	default:
		return fail(fmt.Sprintf("unknown field type %q", ft))
	}
	return nil
}

// asNumber widens the numeric shapes a decoded payload can carry.
func asNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			return 0, false
		}
		return f, true
	}
	return 0, false
}

// isBlank reports whether a required field value counts as empty.
func isBlank(v any) bool {
	switch val := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(val) == ""
	case []any:
		return len(val) == 0
	case []string:
		return len(val) == 0
	case map[string]any:
		return len(val) == 0
	}
	return false
}
