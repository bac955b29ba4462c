// Package enrich runs the four-layer knowledge synthesis pipeline and the
// queue workers that drive it.
//
// The Pipeline turns one journey's recorded responses into knowledge field
// updates:
//
//	layer 1 (direct)    payload fields routed by the playbook's map
//	layer 2 (derived)   annotation taxonomy and health assessments
//	layer 3 (strategic) external synthesizer, bounded timeout
//	layer 4 (merge)     validate against latest knowledge, write once
//
// Layers 1-3 only propose candidates; nothing is written until layer 4
// merges the survivors in a single transaction. Candidates are validated
// against the latest stored aggregate, so a re-run of an already-merged
// journey proposes the same values and drops them all as no-ops: Enhance is
// idempotent and safe to re-invoke at any time.
//
// A failing or timed-out synthesizer never blocks the cheaper layers.
// Layers 1-2 merge anyway, the run is marked partial, and a strategic_retry
// job is scheduled to re-run the pipeline once the synthesizer recovers.
//
// The Worker drains the enrichment queue: it leases jobs (per-organization
// FIFO, one in flight per organization), runs the Pipeline, and settles each
// job. Failures retry on an exponential backoff schedule until the attempt
// cap, then dead-letter; dead letters are replayed only by an explicit
// operator action.
package enrich
