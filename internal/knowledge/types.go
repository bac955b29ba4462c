package knowledge

import (
	"fmt"
	"slices"
	"time"
)

// Key names a knowledge field. The set of valid keys is fixed by Registry;
// the store rejects writes outside it.
type Key string

// Knowledge field keys. Direct fields are routed from step payloads by
// playbook mappings; derived and strategic fields are produced by the
// synthesis layers.
const (
	KeyIdentity     Key = "identity"
	KeyMission      Key = "mission"
	KeyVision       Key = "vision"
	KeyTargetMarket Key = "targetMarket"
	KeyPositioning  Key = "positioning"

	KeyHealthScore   Key = "healthScore"
	KeyHealthSummary Key = "healthSummary"
	KeyChallenges    Key = "challenges"
	KeyStrengths     Key = "strengths"
	KeyRecommendations Key = "recommendations"

	KeyMarketPosition        Key = "marketPosition"
	KeyCompetitiveAdvantages Key = "competitiveAdvantages"
	KeyGrowthStrategy        Key = "growthStrategy"
	KeyRiskFactors           Key = "riskFactors"
	KeyGrowthIndicators      Key = "growthIndicators"
)

// Registry maps every valid knowledge key to its value kind.
// Merges with unknown keys or mismatched kinds fail at the store boundary.
var Registry = map[Key]Kind{
	KeyIdentity:     KindText,
	KeyMission:      KindText,
	KeyVision:       KindText,
	KeyTargetMarket: KindText,
	KeyPositioning:  KindText,

	KeyHealthScore:     KindScore,
	KeyHealthSummary:   KindText,
	KeyChallenges:      KindList,
	KeyStrengths:       KindList,
	KeyRecommendations: KindList,

	KeyMarketPosition:        KindText,
	KeyCompetitiveAdvantages: KindList,
	KeyGrowthStrategy:        KindText,
	KeyRiskFactors:           KindList,
	KeyGrowthIndicators:      KindList,
}

// KindOf returns the registered kind for a key.
func KindOf(key Key) (Kind, bool) {
	kind, ok := Registry[key]
	return kind, ok
}

// ValidateField checks that a key is registered and the value matches its kind.
func ValidateField(key Key, v Value) error {
	kind, ok := Registry[key]
	if !ok {
		return fmt.Errorf("unknown knowledge field %q", key)
	}
	if v == nil {
		return fmt.Errorf("knowledge field %q: nil value", key)
	}
	if v.Kind() != kind {
		return fmt.Errorf("knowledge field %q: expected %s value, got %s", key, kind, v.Kind())
	}
	return nil
}

// Keys returns all registered keys in sorted order for deterministic iteration.
func Keys() []Key {
	keys := make([]Key, 0, len(Registry))
	for k := range Registry {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// Layer identifies which synthesis layer produced a field value.
type Layer string

const (
	// LayerDirect marks values mapped verbatim from step responses.
	LayerDirect Layer = "direct"

	// LayerDerived marks values inferred by fixed rules (taxonomy, thresholds).
	LayerDerived Layer = "derived"

	// LayerStrategic marks values produced by the strategic synthesizer.
	LayerStrategic Layer = "strategic"

	// LayerManual marks operator overrides applied through the CLI.
	LayerManual Layer = "manual"
)

// ValidLayer reports whether the layer name is one of the known layers.
func ValidLayer(l Layer) bool {
	switch l {
	case LayerDirect, LayerDerived, LayerStrategic, LayerManual:
		return true
	}
	return false
}

// Field is one knowledge field value with its provenance: when it was last
// updated, by which journey, and from which synthesis layer.
type Field struct {
	Value           Value
	UpdatedAt       time.Time
	SourceJourneyID string
	SourceLayer     Layer
}

// Knowledge is the per-organization aggregate. Version increments on every
// successful merge and backs optimistic concurrency in the store.
type Knowledge struct {
	OrgID     string
	Version   int64
	UpdatedAt time.Time
	Fields    map[Key]Field
}

// New returns an empty aggregate for an organization at version 0.
func New(orgID string) *Knowledge {
	return &Knowledge{
		OrgID:  orgID,
		Fields: make(map[Key]Field),
	}
}

// Get returns the field for a key, if present.
func (k *Knowledge) Get(key Key) (Field, bool) {
	f, ok := k.Fields[key]
	return f, ok
}

// SortedKeys returns the aggregate's populated keys in sorted order.
func (k *Knowledge) SortedKeys() []Key {
	keys := make([]Key, 0, len(k.Fields))
	for key := range k.Fields {
		keys = append(keys, key)
	}
	slices.Sort(keys)
	return keys
}

// Candidate is an ephemeral proposed field update produced by a synthesis
// layer. Candidates that survive validation are merged; they are never
// persisted on their own.
type Candidate struct {
	Key        Key
	Value      Value
	Layer      Layer
	Confidence float64
	Reason     string
}
