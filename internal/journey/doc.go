// Package journey implements the guided journey state machine.
//
// A journey is one run of a playbook by an owner, scoped to an organization.
// It moves through four statuses:
//
//	not_started -> in_progress <-> paused
//	                    |
//	                completed (terminal)
//
// The Engine's operations (Start, CompleteStep, Pause, Resume, Reset) are
// synchronous: they validate against the state machine, persist, and return.
// Rejections are StateErrors with stable codes, not faults.
//
// Step completion is strictly ordered. The only way backward is revision:
// completing an already-completed step discards every response at and after
// it and resumes from the following step (destructive-forward). The only
// way to clear a journey entirely is Reset.
//
// Completing the final step is the coupling point to knowledge synthesis:
// the engine enqueues a single enrichment job keyed by the journey ID and
// returns without waiting. Synthesis outcome never changes journey state.
package journey
