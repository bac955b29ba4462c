package enrich

import (
	"context"
	"log/slog"
	"strings"

	"github.com/roach88/camino/internal/knowledge"
	"github.com/roach88/camino/internal/store"
)

// mergeResult is the outcome of the validate-and-merge layer.
type mergeResult struct {
	version int64
	merged  []MergedField
	dropped []DroppedField
}

// merge validates candidates against the latest aggregate and writes the
// survivors in one transaction. On a version conflict another writer merged
// first; the aggregate is refetched and every candidate revalidated against
// it, bounded by mergeRetries. Candidates arrive in layer order, so a later
// layer's write supersedes an earlier layer's for the same key before
// anything reaches the store.
func (p *Pipeline) merge(ctx context.Context, orgID, journeyID string, candidates []knowledge.Candidate) (*mergeResult, error) {
	for attempt := 0; ; attempt++ {
		current, err := p.store.Knowledge().GetByOrg(ctx, orgID)
		if err != nil {
			return nil, err
		}

		res := &mergeResult{version: current.Version}
		fields := make(map[knowledge.Key]knowledge.Field)
		now := p.now()

		for _, c := range candidates {
			v, reason := resolve(c, effectiveValue(current, fields, c.Key))
			if v == nil {
				res.dropped = append(res.dropped, DroppedField{Key: c.Key, Layer: c.Layer, Reason: reason})
				continue
			}
			if _, pending := fields[c.Key]; pending {
				for i := range res.merged {
					if res.merged[i].Key == c.Key {
						res.merged[i].Layer = c.Layer
					}
				}
			} else {
				res.merged = append(res.merged, MergedField{Key: c.Key, Layer: c.Layer})
			}
			fields[c.Key] = knowledge.Field{
				Value:           v,
				UpdatedAt:       now,
				SourceJourneyID: journeyID,
				SourceLayer:     c.Layer,
			}
		}

		if len(fields) == 0 {
			return res, nil
		}

		version, err := p.store.Knowledge().MergeFields(ctx, orgID, fields, current.Version)
		if err == nil {
			res.version = version
			return res, nil
		}
		if store.IsVersionConflict(err) && attempt < p.mergeRetries {
			slog.Debug("knowledge merge raced, revalidating",
				"org_id", orgID, "journey_id", journeyID, "attempt", attempt+1)
			continue
		}
		return nil, err
	}
}

// resolve validates one candidate against the value its field would hold at
// this point in the merge. It returns the value to write, or nil and a drop
// reason.
//
// Rules, in order: malformed candidates drop; empty values drop; derived
// lists become the union with the effective value and drop when the union
// adds nothing; equal values drop as no-ops; direct text similar enough to
// the effective value drops, guarding against races with concurrent
// journeys that merged between candidate production and now.
func resolve(c knowledge.Candidate, effective knowledge.Value) (knowledge.Value, string) {
	if err := knowledge.ValidateField(c.Key, c.Value); err != nil {
		return nil, err.Error()
	}
	if knowledge.IsEmpty(c.Value) {
		return nil, "empty value"
	}

	if list, ok := c.Value.(knowledge.List); ok && c.Layer == knowledge.LayerDerived {
		merged := unionList(effective, list)
		if effective != nil && knowledge.Equal(merged, effective) {
			return nil, "no new entries"
		}
		return merged, ""
	}

	if effective == nil {
		return c.Value, ""
	}
	if knowledge.Equal(c.Value, effective) {
		return nil, "no change"
	}
	if c.Layer == knowledge.LayerDirect {
		text, tok := c.Value.(knowledge.Text)
		stored, sok := effective.(knowledge.Text)
		if tok && sok && knowledge.SimilarEnough(string(stored), string(text)) {
			return nil, "similar to stored value"
		}
	}
	return c.Value, ""
}

// effectiveValue is what a field holds at this point in the merge: a pending
// write from an earlier layer wins over the stored value.
func effectiveValue(current *knowledge.Knowledge, pending map[knowledge.Key]knowledge.Field, key knowledge.Key) knowledge.Value {
	if f, ok := pending[key]; ok {
		return f.Value
	}
	if f, ok := current.Get(key); ok {
		return f.Value
	}
	return nil
}

// unionList appends incoming entries to the effective list, deduplicating on
// normalized text. Existing entries keep their order and spelling; an
// incoming duplicate never replaces what is already there.
func unionList(effective knowledge.Value, incoming knowledge.List) knowledge.List {
	existing, _ := effective.(knowledge.List)
	out := make(knowledge.List, 0, len(existing)+len(incoming))
	seen := make(map[string]bool, len(existing)+len(incoming))
	add := func(item string) {
		item = strings.TrimSpace(item)
		if item == "" {
			return
		}
		norm := knowledge.NormalizeText(item)
		if seen[norm] {
			return
		}
		seen[norm] = true
		out = append(out, item)
	}
	for _, item := range existing {
		add(item)
	}
	for _, item := range incoming {
		add(item)
	}
	return out
}
