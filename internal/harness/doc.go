// Package harness runs end-to-end scenarios against a real store, engine,
// pipeline, and worker wired to deterministic stand-ins: a frozen clock, a
// sequential ID generator, and a fixed synthesizer.
//
// A scenario is a YAML file that publishes playbooks, drives journeys through
// their steps, runs enrichment, and then asserts on journey status, knowledge
// fields, and job states. The final state can additionally be snapshotted and
// compared against a golden file; the deterministic stand-ins keep snapshots
// byte-stable across runs.
package harness
