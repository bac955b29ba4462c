package enrich

import (
	"slices"
	"strings"

	"github.com/roach88/camino/internal/journey"
	"github.com/roach88/camino/internal/knowledge"
	"github.com/roach88/camino/internal/playbook"
)

// noteTargets routes annotation tags into list-valued knowledge fields.
var noteTargets = map[string]knowledge.Key{
	playbook.TagInsight:        knowledge.KeyChallenges,
	playbook.TagPattern:        knowledge.KeyStrengths,
	playbook.TagLearning:       knowledge.KeyStrengths,
	playbook.TagRecommendation: knowledge.KeyRecommendations,
}

// derivedListConfidence is assigned to taxonomy-derived list candidates.
// Annotations are signal, not statement, so they rank below direct mappings.
const derivedListConfidence = 0.75

// healthScoreField is the payload key scanned for a numeric assessment.
// Any step may carry it; the last one in step order wins.
const healthScoreField = "healthScore"

// Health narratives by score magnitude.
const (
	healthStrong     = "Strong foundation. Core fundamentals are in place; focus on scaling what already works."
	healthDeveloping = "Developing. Several fundamentals are established, with clear gaps still to close."
	healthEarly      = "Early stage. Most fundamentals still need to be put in place."
)

// healthNarrative maps a score to its fixed threshold narrative.
func healthNarrative(score float64) string {
	switch {
	case score >= 0.80:
		return healthStrong
	case score >= 0.50:
		return healthDeveloping
	default:
		return healthEarly
	}
}

// derivedCandidates classifies annotation notes by the tag taxonomy and
// extracts health assessments from step payloads.
//
// Note texts accumulate across all steps into their target list field; the
// union with already-stored entries is computed at merge time, against the
// latest aggregate. A health score yields two candidates: the score itself
// and a narrative derived from fixed thresholds.
func derivedCandidates(j *journey.Journey) []knowledge.Candidate {
	notes := make(map[knowledge.Key][]string)
	var health *float64

	for _, resp := range j.Responses {
		for _, note := range playbook.ParseNotes(resp.Payload) {
			key, ok := noteTargets[note.Tag]
			if !ok {
				continue
			}
			notes[key] = append(notes[key], strings.TrimSpace(note.Text))
		}

		raw, ok := resp.Payload[healthScoreField]
		if !ok {
			continue
		}
		v, err := knowledge.FromPayload(raw)
		if err != nil {
			continue
		}
		if score, ok := v.(knowledge.Score); ok {
			f := float64(score)
			health = &f
		}
	}

	keys := make([]knowledge.Key, 0, len(notes))
	for key := range notes {
		keys = append(keys, key)
	}
	slices.Sort(keys)

	out := make([]knowledge.Candidate, 0, len(notes)+2)
	for _, key := range keys {
		out = append(out, knowledge.Candidate{
			Key:        key,
			Value:      knowledge.List(notes[key]),
			Layer:      knowledge.LayerDerived,
			Confidence: derivedListConfidence,
			Reason:     "annotation taxonomy",
		})
	}
	if health != nil {
		out = append(out,
			knowledge.Candidate{
				Key:        knowledge.KeyHealthScore,
				Value:      knowledge.Score(*health),
				Layer:      knowledge.LayerDerived,
				Confidence: 1.0,
				Reason:     "assessment score",
			},
			knowledge.Candidate{
				Key:        knowledge.KeyHealthSummary,
				Value:      knowledge.Text(healthNarrative(*health)),
				Layer:      knowledge.LayerDerived,
				Confidence: 1.0,
				Reason:     "assessment narrative",
			},
		)
	}
	return out
}
