package harness

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/roach88/camino/internal/enrich"
	"github.com/roach88/camino/internal/journey"
	"github.com/roach88/camino/internal/knowledge"
	"github.com/roach88/camino/internal/playbook"
	"github.com/roach88/camino/internal/store"
	"github.com/roach88/camino/internal/synth"
	"github.com/roach88/camino/internal/testutil"
)

// Result is the final state of a scenario run plus any assertion failures.
type Result struct {
	// Journeys holds every started journey in start order, reloaded from the
	// store after the flow completed.
	Journeys []*journey.Journey

	// Knowledge holds the aggregate of every organization the flow touched.
	Knowledge map[string]*knowledge.Knowledge

	// Jobs lists all enrichment jobs in seq order.
	Jobs []store.Job

	// Failures lists assertion failures. An empty slice means the scenario
	// passed.
	Failures []string
}

// Passed reports whether every assertion held.
func (r *Result) Passed() bool {
	return len(r.Failures) == 0
}

// Run executes a scenario in a throwaway store. A flow operation behaving
// differently than declared (an unexpected error, or an expected error that
// never happened) aborts the run; assertion failures do not, they are
// collected on the Result.
func Run(scenario *Scenario) (*Result, error) {
	dir, err := os.MkdirTemp("", "camino-scenario-*")
	if err != nil {
		return nil, fmt.Errorf("run scenario: %w", err)
	}
	defer os.RemoveAll(dir)

	st, err := store.Open(filepath.Join(dir, "scenario.db"))
	if err != nil {
		return nil, fmt.Errorf("run scenario: %w", err)
	}
	defer st.Close()

	return RunWithStore(scenario, st)
}

// RunWithStore executes a scenario against a caller-owned store. Tests use
// this with a t.TempDir-backed store.
func RunWithStore(scenario *Scenario, st *store.Store) (*Result, error) {
	ctx := context.Background()
	clock := testutil.NewClock(testutil.Epoch)

	for i, src := range scenario.Playbooks {
		name := fmt.Sprintf("playbooks[%d].cue", i)
		tmpl, err := playbook.CompileSource(name, src)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		if err := st.Templates().Publish(ctx, tmpl, src, clock.Now()); err != nil {
			return nil, fmt.Errorf("publish %s: %w", name, err)
		}
	}

	var fixed *synth.Fixed
	var sx synth.Synthesizer
	if spec := scenario.Synthesizer; spec != nil {
		fixed = synth.NewFixed(synth.Response{
			MarketPosition:        spec.MarketPosition,
			CompetitiveAdvantages: spec.CompetitiveAdvantages,
			GrowthStrategy:        spec.GrowthStrategy,
			RiskFactors:           spec.RiskFactors,
			GrowthIndicators:      spec.GrowthIndicators,
			Confidence:            spec.Confidence,
		})
		if spec.Fail {
			fixed.Fail(errors.New("scenario synthesizer down"))
		}
		sx = fixed
	}

	engine := journey.NewEngine(st.Templates(), st.Journeys(), st.Jobs(),
		journey.WithIDGenerator(testutil.NewIDSequence("j")),
		journey.WithClock(clock.Now))
	pipeline := enrich.NewPipeline(st, sx, enrich.WithClock(clock.Now))
	worker := enrich.NewWorker(st, pipeline, enrich.WithWorkerClock(clock.Now))

	run := &scenarioRun{
		scenario: scenario,
		store:    st,
		clock:    clock,
		fixed:    fixed,
		engine:   engine,
		pipeline: pipeline,
		worker:   worker,
	}
	for i, step := range scenario.Flow {
		if err := run.execute(ctx, i, &step); err != nil {
			return nil, err
		}
	}
	return run.collect(ctx)
}

// scenarioRun carries the wired components and the journeys started so far.
type scenarioRun struct {
	scenario *Scenario
	store    *store.Store
	clock    *testutil.Clock
	fixed    *synth.Fixed
	engine   *journey.Engine
	pipeline *enrich.Pipeline
	worker   *enrich.Worker

	started []string
	orgs    []string
}

// execute runs one flow step.
func (r *scenarioRun) execute(ctx context.Context, index int, step *FlowStep) error {
	switch {
	case step.Start != nil:
		j, err := r.engine.Start(ctx, step.Start.Owner, step.Start.Org, step.Start.Playbook)
		if err == nil {
			r.started = append(r.started, j.ID)
			r.noteOrg(j.OrgID)
		}
		return r.settle(index, "start", err, step.Start.Error)

	case step.Step != nil:
		id, err := r.resolve(step.Step.Journey)
		if err != nil {
			return fmt.Errorf("flow[%d]: %w", index, err)
		}
		_, err = r.engine.CompleteStep(ctx, id, step.Step.ID, step.Step.Payload)
		return r.settle(index, "step "+step.Step.ID, err, step.Step.Error)

	case step.Pause != nil:
		return r.transition(ctx, index, "pause", step.Pause, r.engine.Pause)
	case step.Resume != nil:
		return r.transition(ctx, index, "resume", step.Resume, r.engine.Resume)
	case step.Reset != nil:
		return r.transition(ctx, index, "reset", step.Reset, r.engine.Reset)

	case step.Enrich != nil:
		if step.Enrich.Journey != "" {
			if _, err := r.pipeline.Enhance(ctx, step.Enrich.Journey); err != nil {
				return fmt.Errorf("flow[%d]: enhance %s: %w", index, step.Enrich.Journey, err)
			}
			return nil
		}
		if _, err := r.worker.RunOnce(ctx); err != nil {
			return fmt.Errorf("flow[%d]: enrich: %w", index, err)
		}
		return nil

	case step.Advance != "":
		d, err := time.ParseDuration(step.Advance)
		if err != nil {
			return fmt.Errorf("flow[%d]: %w", index, err)
		}
		r.clock.Advance(d)
		return nil

	case step.Synth != "":
		if r.fixed == nil {
			return fmt.Errorf("flow[%d]: scenario declares no synthesizer", index)
		}
		if step.Synth == "fail" {
			r.fixed.Fail(errors.New("scenario synthesizer down"))
		} else {
			r.fixed.Recover()
		}
		return nil
	}
	return fmt.Errorf("flow[%d]: empty step", index)
}

// transition runs one pause/resume/reset operation.
func (r *scenarioRun) transition(ctx context.Context, index int, op string, target *TargetStep, fn func(context.Context, string) (*journey.Journey, error)) error {
	id, err := r.resolve(target.Journey)
	if err != nil {
		return fmt.Errorf("flow[%d]: %w", index, err)
	}
	_, err = fn(ctx, id)
	return r.settle(index, op, err, target.Error)
}

// settle reconciles an operation's outcome with its declared expectation.
func (r *scenarioRun) settle(index int, op string, err error, want string) error {
	switch {
	case err == nil && want == "":
		return nil
	case err == nil:
		return fmt.Errorf("flow[%d]: %s: expected error containing %q, got none", index, op, want)
	case want == "":
		return fmt.Errorf("flow[%d]: %s: %w", index, op, err)
	case !containsFold(err.Error(), want):
		return fmt.Errorf("flow[%d]: %s: error %q does not contain %q", index, op, err, want)
	}
	return nil
}

// resolve maps a journey reference to an ID; empty means the most recently
// started journey.
func (r *scenarioRun) resolve(ref string) (string, error) {
	if ref != "" {
		return ref, nil
	}
	if len(r.started) == 0 {
		return "", fmt.Errorf("no journey started yet")
	}
	return r.started[len(r.started)-1], nil
}

func (r *scenarioRun) noteOrg(orgID string) {
	for _, o := range r.orgs {
		if o == orgID {
			return
		}
	}
	r.orgs = append(r.orgs, orgID)
}

// collect reloads the final state and evaluates the assertions.
func (r *scenarioRun) collect(ctx context.Context) (*Result, error) {
	result := &Result{Knowledge: make(map[string]*knowledge.Knowledge)}

	for _, id := range r.started {
		j, err := r.store.Journeys().GetByID(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("collect journey %s: %w", id, err)
		}
		result.Journeys = append(result.Journeys, j)
	}
	for _, orgID := range r.orgs {
		k, err := r.store.Knowledge().GetByOrg(ctx, orgID)
		if err != nil {
			return nil, fmt.Errorf("collect knowledge %s: %w", orgID, err)
		}
		result.Knowledge[orgID] = k
	}
	jobs, err := r.store.Jobs().List(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("collect jobs: %w", err)
	}
	result.Jobs = jobs

	result.Failures = evaluate(r.scenario, result, r.lastStarted())
	return result, nil
}

func (r *scenarioRun) lastStarted() string {
	if len(r.started) == 0 {
		return ""
	}
	return r.started[len(r.started)-1]
}
