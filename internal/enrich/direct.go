package enrich

import (
	"log/slog"
	"slices"

	"github.com/roach88/camino/internal/journey"
	"github.com/roach88/camino/internal/knowledge"
	"github.com/roach88/camino/internal/playbook"
)

// directValue is the winning payload value for one knowledge key, with the
// step it came from for provenance.
type directValue struct {
	value knowledge.Value
	step  string
}

// directCandidates routes recorded payload fields onto knowledge fields
// using the snapshotted template's map. Responses are walked in step order,
// so a later step shadows an earlier write to the same key; within a step,
// payload fields apply in name order. Values that cannot convert are logged
// and skipped, never fatal - the payload passed schema validation when the
// step completed, but the mapping may still point a shape at a field that
// cannot hold it.
func directCandidates(j *journey.Journey, tmpl *playbook.Template) []knowledge.Candidate {
	final := make(map[knowledge.Key]directValue)

	for _, resp := range j.Responses {
		step, _, ok := tmpl.Step(resp.StepID)
		if !ok {
			slog.Warn("response references a step the template does not define",
				"journey_id", j.ID, "step", resp.StepID)
			continue
		}

		fields := make([]string, 0, len(step.Map))
		for field := range step.Map {
			fields = append(fields, field)
		}
		slices.Sort(fields)

		for _, field := range fields {
			raw, ok := resp.Payload[field]
			if !ok {
				continue
			}
			v, err := knowledge.FromPayload(raw)
			if err != nil {
				slog.Warn("payload field cannot route into knowledge",
					"journey_id", j.ID, "step", resp.StepID, "field", field, "error", err)
				continue
			}
			final[step.Map[field]] = directValue{value: v, step: resp.StepID}
		}
	}

	keys := make([]knowledge.Key, 0, len(final))
	for key := range final {
		keys = append(keys, key)
	}
	slices.Sort(keys)

	out := make([]knowledge.Candidate, 0, len(final))
	for _, key := range keys {
		dv := final[key]
		out = append(out, knowledge.Candidate{
			Key:        key,
			Value:      dv.value,
			Layer:      knowledge.LayerDirect,
			Confidence: 1.0,
			Reason:     "mapped from step " + dv.step,
		})
	}
	return out
}
