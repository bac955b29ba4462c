package enrich

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/camino/internal/journey"
	"github.com/roach88/camino/internal/knowledge"
	"github.com/roach88/camino/internal/store"
	"github.com/roach88/camino/internal/synth"
)

// Pipeline defaults.
const (
	// DefaultSynthTimeout bounds one strategic synthesizer call.
	DefaultSynthTimeout = 30 * time.Second

	// DefaultRetryDelay is the base delay of the retry schedule: the first
	// strategic retry waits this long, and the worker's backoff grows from it.
	DefaultRetryDelay = 5 * time.Second

	// DefaultMergeRetries bounds revalidation rounds after a version conflict.
	DefaultMergeRetries = 3
)

// Pipeline runs the four-layer knowledge synthesis for a journey.
//
// Thread-safety: Pipeline is safe for concurrent use. Merges for the same
// organization serialize on an in-process lock; the queue's per-organization
// lease rule covers the multi-process case.
type Pipeline struct {
	store *store.Store
	synth synth.Synthesizer

	now          func() time.Time
	synthTimeout time.Duration
	retryDelay   time.Duration
	mergeRetries int

	mu   sync.Mutex
	orgs map[string]*sync.Mutex
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithClock sets the time source. Tests use a fixed clock so provenance
// timestamps are stable in golden snapshots.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) {
		p.now = now
	}
}

// WithSynthTimeout bounds each strategic synthesizer call.
func WithSynthTimeout(d time.Duration) Option {
	return func(p *Pipeline) {
		p.synthTimeout = d
	}
}

// WithRetryDelay sets the delay before a scheduled strategic retry runs.
func WithRetryDelay(d time.Duration) Option {
	return func(p *Pipeline) {
		p.retryDelay = d
	}
}

// WithMergeRetries bounds the revalidation rounds the merge layer attempts
// after optimistic-concurrency conflicts.
func WithMergeRetries(n int) Option {
	return func(p *Pipeline) {
		p.mergeRetries = n
	}
}

// NewPipeline creates a Pipeline over the store and a strategic synthesizer.
// A nil synthesizer disables the strategic layer entirely; the cheaper
// layers still run.
func NewPipeline(st *store.Store, s synth.Synthesizer, opts ...Option) *Pipeline {
	p := &Pipeline{
		store:        st,
		synth:        s,
		now:          time.Now,
		synthTimeout: DefaultSynthTimeout,
		retryDelay:   DefaultRetryDelay,
		mergeRetries: DefaultMergeRetries,
		orgs:         make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Report summarizes one enrichment run.
type Report struct {
	JourneyID string
	OrgID     string

	// Version is the knowledge aggregate version after the merge.
	Version int64

	Merged  []MergedField
	Dropped []DroppedField

	// Partial is set when the strategic layer was skipped because the
	// synthesizer failed or timed out. Layers 1-2 merged regardless.
	Partial bool

	// RetryScheduled is set when the journey's strategic_retry job is
	// pending or in flight after this run.
	RetryScheduled bool
}

// MergedField records one written field and the layer that won it.
type MergedField struct {
	Key   knowledge.Key   `json:"key"`
	Layer knowledge.Layer `json:"layer"`
}

// DroppedField records one candidate the validation layer discarded.
type DroppedField struct {
	Key    knowledge.Key   `json:"key"`
	Layer  knowledge.Layer `json:"layer"`
	Reason string          `json:"reason"`
}

// Enhance runs the synthesis pipeline for a journey.
//
// It is idempotent: a re-run proposes the same candidates and the validation
// layer drops them all as no-ops, leaving the aggregate version unchanged.
// The strategic layer runs only for completed journeys and is called outside
// the organization lock, so a slow synthesizer never blocks other merges.
// When the synthesizer fails or times out, layers 1-2 still merge, the
// report is marked partial, and one strategic_retry job is scheduled.
func (p *Pipeline) Enhance(ctx context.Context, journeyID string) (*Report, error) {
	j, err := p.store.Journeys().GetByID(ctx, journeyID)
	if err != nil {
		return nil, fmt.Errorf("enhance: %w", err)
	}
	tmpl, err := p.store.Templates().GetTemplate(ctx, j.PlaybookID, j.PlaybookVersion)
	if err != nil {
		return nil, fmt.Errorf("enhance: %w", err)
	}

	direct := directCandidates(j, tmpl)
	derived := derivedCandidates(j)
	report := &Report{JourneyID: j.ID, OrgID: j.OrgID}

	var strategic []knowledge.Candidate
	if j.Completed() && p.synth != nil {
		current, err := p.store.Knowledge().GetByOrg(ctx, j.OrgID)
		if err != nil {
			return nil, fmt.Errorf("enhance: %w", err)
		}
		strategic, err = p.synthesize(ctx, strategicRequest(j, current, direct, derived))
		if err != nil {
			report.Partial = true
			report.RetryScheduled = p.scheduleRetry(ctx, j)
			slog.Warn("strategic synthesis unavailable",
				"journey_id", j.ID,
				"org_id", j.OrgID,
				"retry_scheduled", report.RetryScheduled,
				"error", err)
		}
	}

	candidates := make([]knowledge.Candidate, 0, len(direct)+len(derived)+len(strategic))
	candidates = append(candidates, direct...)
	candidates = append(candidates, derived...)
	candidates = append(candidates, strategic...)

	lock := p.orgLock(j.OrgID)
	lock.Lock()
	defer lock.Unlock()

	res, err := p.merge(ctx, j.OrgID, j.ID, candidates)
	if err != nil {
		return nil, fmt.Errorf("enhance: %w", err)
	}
	report.Version = res.version
	report.Merged = res.merged
	report.Dropped = res.dropped

	slog.Info("journey enriched",
		"journey_id", j.ID,
		"org_id", j.OrgID,
		"merged", len(report.Merged),
		"dropped", len(report.Dropped),
		"version", report.Version,
		"partial", report.Partial)
	return report, nil
}

// synthesize calls the strategic synthesizer under the configured timeout
// and maps its response onto candidates.
func (p *Pipeline) synthesize(ctx context.Context, req *synth.Request) ([]knowledge.Candidate, error) {
	sctx, cancel := context.WithTimeout(ctx, p.synthTimeout)
	defer cancel()

	resp, err := p.synth.Synthesize(sctx, req)
	if err != nil {
		return nil, err
	}
	resp.Normalize()
	return strategicCandidates(resp), nil
}

// scheduleRetry enqueues the journey's strategic_retry job and reports
// whether a retry is live afterwards. A pending retry coalesces; a finished
// one is revived; a dead-lettered one stays dead until an operator replays
// it, so it does not count as scheduled.
func (p *Pipeline) scheduleRetry(ctx context.Context, j *journey.Journey) bool {
	now := p.now()
	_, enqueued, err := p.store.Jobs().Enqueue(ctx, j.ID, j.OrgID, store.JobStrategicRetry, now, now.Add(p.retryDelay))
	if err != nil {
		slog.Error("schedule strategic retry failed",
			"journey_id", j.ID, "org_id", j.OrgID, "error", err)
		return false
	}
	if enqueued {
		return true
	}
	job, err := p.store.Jobs().Get(ctx, j.ID, store.JobStrategicRetry)
	if err != nil {
		return false
	}
	return job.Status == store.JobPending || job.Status == store.JobLeased
}

// orgLock returns the mutex guarding merges for an organization.
func (p *Pipeline) orgLock(orgID string) *sync.Mutex {
	p.mu.Lock()
	defer p.mu.Unlock()
	m, ok := p.orgs[orgID]
	if !ok {
		m = &sync.Mutex{}
		p.orgs[orgID] = m
	}
	return m
}
