package enrich

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/roach88/camino/internal/journey"
	"github.com/roach88/camino/internal/knowledge"
	"github.com/roach88/camino/internal/playbook"
	"github.com/roach88/camino/internal/synth"
)

// strategicRequest renders the current aggregate, the journey's recorded
// payload, and the cheaper layers' candidates into one synthesizer request.
// Notes are left out of the response section; their substance already rides
// along as derived candidates.
func strategicRequest(j *journey.Journey, k *knowledge.Knowledge, direct, derived []knowledge.Candidate) *synth.Request {
	current := make(map[string]string, len(k.Fields))
	for _, key := range k.SortedKeys() {
		current[string(key)] = renderValue(k.Fields[key].Value)
	}

	responses := make(map[string]string)
	for _, resp := range j.Responses {
		for field, raw := range resp.Payload {
			if field == playbook.NotesField {
				continue
			}
			responses[field] = renderPayload(raw)
		}
	}

	return &synth.Request{
		OrgID:             k.OrgID,
		Context:           current,
		Responses:         responses,
		DirectCandidates:  toSynthCandidates(direct),
		DerivedCandidates: toSynthCandidates(derived),
	}
}

// strategicCandidates wraps a synthesizer response into knowledge candidates.
// Empty fields mean the synthesizer had too little signal; they produce no
// candidate at all.
func strategicCandidates(resp *synth.Response) []knowledge.Candidate {
	var out []knowledge.Candidate
	add := func(key knowledge.Key, v knowledge.Value) {
		if knowledge.IsEmpty(v) {
			return
		}
		out = append(out, knowledge.Candidate{
			Key:        key,
			Value:      v,
			Layer:      knowledge.LayerStrategic,
			Confidence: resp.Confidence,
			Reason:     "strategic synthesis",
		})
	}

	add(knowledge.KeyMarketPosition, knowledge.Text(resp.MarketPosition))
	add(knowledge.KeyCompetitiveAdvantages, knowledge.List(resp.CompetitiveAdvantages))
	add(knowledge.KeyGrowthStrategy, knowledge.Text(resp.GrowthStrategy))
	add(knowledge.KeyRiskFactors, knowledge.List(resp.RiskFactors))
	add(knowledge.KeyGrowthIndicators, knowledge.List(resp.GrowthIndicators))
	return out
}

// toSynthCandidates flattens knowledge candidates into the synthesizer's
// field/value/confidence shape.
func toSynthCandidates(candidates []knowledge.Candidate) []synth.Candidate {
	out := make([]synth.Candidate, 0, len(candidates))
	for _, c := range candidates {
		out = append(out, synth.Candidate{
			Field:      string(c.Key),
			Value:      renderValue(c.Value),
			Confidence: c.Confidence,
		})
	}
	return out
}

// renderValue flattens a knowledge value to prompt text.
func renderValue(v knowledge.Value) string {
	switch val := v.(type) {
	case knowledge.Text:
		return string(val)
	case knowledge.List:
		return strings.Join(val, ", ")
	case knowledge.Score:
		return strconv.FormatFloat(float64(val), 'f', -1, 64)
	}
	return ""
}

// renderPayload flattens a decoded payload value to prompt text. Structured
// values fall back to compact JSON.
func renderPayload(raw any) string {
	switch val := raw.(type) {
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(val)
	case nil:
		return ""
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return ""
	}
	return string(data)
}
