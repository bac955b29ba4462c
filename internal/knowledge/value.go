package knowledge

import (
	"encoding/json"
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"
)

// Value is a sealed interface over the value types a knowledge field can hold.
// Only Text, List, and Score implement it. Keeping the set closed lets the
// store and the merge path exhaustively type-switch without a default case
// silently accepting garbage.
type Value interface {
	knowledgeValue() // Sealed - only these types implement it
	Kind() Kind
}

// Kind identifies the value shape of a knowledge field.
type Kind string

const (
	// KindText is a free-text field (mission, positioning, narratives).
	KindText Kind = "text"

	// KindList is an ordered list of short text entries (challenges, strengths).
	KindList Kind = "list"

	// KindScore is a numeric assessment in [0, 1] (health score).
	KindScore Kind = "score"
)

// Text is a free-text field value.
type Text string

func (Text) knowledgeValue() {}

// Kind implements Value.
func (Text) Kind() Kind { return KindText }

// List is an ordered list of short text entries.
type List []string

func (List) knowledgeValue() {}

// Kind implements Value.
func (List) Kind() Kind { return KindList }

// Score is a numeric field value.
type Score float64

func (Score) knowledgeValue() {}

// Kind implements Value.
func (Score) Kind() Kind { return KindScore }

// IsEmpty reports whether a value carries no usable content.
// Empty and whitespace-only candidates are discarded before merge.
func IsEmpty(v Value) bool {
	switch val := v.(type) {
	case nil:
		return true
	case Text:
		return strings.TrimSpace(string(val)) == ""
	case List:
		for _, item := range val {
			if strings.TrimSpace(item) != "" {
				return false
			}
		}
		return true
	case Score:
		return math.IsNaN(float64(val))
	default:
		return true
	}
}

// Equal reports whether two values are equivalent for merge purposes.
// Text compares exactly after whitespace trimming, lists compare
// sorted-and-serialized (order-insensitive), scores compare numerically.
func Equal(a, b Value) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if a.Kind() != b.Kind() {
		return false
	}
	switch av := a.(type) {
	case Text:
		return strings.TrimSpace(string(av)) == strings.TrimSpace(string(b.(Text)))
	case List:
		return string(sortedSerialized(av)) == string(sortedSerialized(b.(List)))
	case Score:
		return float64(av) == float64(b.(Score))
	default:
		return false
	}
}

// sortedSerialized returns the canonical comparison form of a list:
// entries trimmed, sorted, JSON-encoded. Used for order-insensitive equality.
func sortedSerialized(l List) []byte {
	items := make([]string, 0, len(l))
	for _, item := range l {
		items = append(items, strings.TrimSpace(item))
	}
	slices.Sort(items)
	data, err := json.Marshal(items)
	if err != nil {
		// []string cannot fail to marshal
		panic(fmt.Sprintf("serialize list: %v", err))
	}
	return data
}

// MarshalValue serializes a value to its JSON storage form.
// Text becomes a JSON string, List a JSON array, Score a JSON number.
// The kind is stored alongside the payload, not inside it.
func MarshalValue(v Value) ([]byte, error) {
	switch val := v.(type) {
	case Text:
		return json.Marshal(string(val))
	case List:
		if val == nil {
			val = List{}
		}
		return json.Marshal([]string(val))
	case Score:
		return json.Marshal(float64(val))
	default:
		return nil, fmt.Errorf("unknown value type: %T", v)
	}
}

// UnmarshalValue deserializes a stored JSON payload into the value type
// for the given kind.
func UnmarshalValue(kind Kind, data []byte) (Value, error) {
	switch kind {
	case KindText:
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return nil, fmt.Errorf("unmarshal text value: %w", err)
		}
		return Text(s), nil
	case KindList:
		var items []string
		if err := json.Unmarshal(data, &items); err != nil {
			return nil, fmt.Errorf("unmarshal list value: %w", err)
		}
		if items == nil {
			items = []string{}
		}
		return List(items), nil
	case KindScore:
		var n float64
		if err := json.Unmarshal(data, &n); err != nil {
			return nil, fmt.Errorf("unmarshal score value: %w", err)
		}
		return Score(n), nil
	default:
		return nil, fmt.Errorf("unknown value kind: %q", kind)
	}
}

// ParseValue converts operator-supplied text into a value of the given kind.
// Lists accept either a JSON array or a comma-separated string. Used by the
// manual override path.
func ParseValue(kind Kind, raw string) (Value, error) {
	switch kind {
	case KindText:
		return Text(raw), nil
	case KindList:
		trimmed := strings.TrimSpace(raw)
		if strings.HasPrefix(trimmed, "[") {
			var items []string
			if err := json.Unmarshal([]byte(trimmed), &items); err != nil {
				return nil, fmt.Errorf("parse list value: %w", err)
			}
			return List(items), nil
		}
		var items List
		for _, part := range strings.Split(raw, ",") {
			if part = strings.TrimSpace(part); part != "" {
				items = append(items, part)
			}
		}
		return items, nil
	case KindScore:
		n, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil {
			return nil, fmt.Errorf("parse score value: %w", err)
		}
		return Score(n), nil
	default:
		return nil, fmt.Errorf("unknown value kind: %q", kind)
	}
}

// FromPayload converts a decoded JSON payload value into a knowledge value.
// Strings become Text, string arrays become List, numbers become Score.
// Anything else is rejected - step payloads may carry richer structures, but
// only these shapes can route into knowledge fields.
func FromPayload(v any) (Value, error) {
	switch val := v.(type) {
	case string:
		return Text(val), nil
	case float64:
		return Score(val), nil
	case int:
		return Score(float64(val)), nil
	case int64:
		return Score(float64(val)), nil
	case json.Number:
		n, err := val.Float64()
		if err != nil {
			return nil, fmt.Errorf("payload number out of range: %s", val)
		}
		return Score(n), nil
	case []string:
		return List(val), nil
	case []any:
		items := make(List, 0, len(val))
		for i, elem := range val {
			s, ok := elem.(string)
			if !ok {
				return nil, fmt.Errorf("payload list element %d: expected string, got %T", i, elem)
			}
			items = append(items, s)
		}
		return items, nil
	default:
		return nil, fmt.Errorf("payload value type %T cannot map to a knowledge field", v)
	}
}
