package enrich

import (
	"context"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/camino/internal/store"
)

// Worker defaults.
const (
	// DefaultWorkers is the number of concurrent job loops.
	DefaultWorkers = 2

	// DefaultPollInterval is how long an idle loop waits before polling again.
	DefaultPollInterval = time.Second

	// DefaultLease is how long a dequeued job stays invisible to other
	// workers. Must comfortably exceed DefaultJobTimeout.
	DefaultLease = 2 * time.Minute

	// DefaultJobTimeout bounds one pipeline run.
	DefaultJobTimeout = time.Minute

	// DefaultMaxAttempts is the lease count after which a failing job is
	// dead-lettered instead of retried.
	DefaultMaxAttempts = 5

	// maxRetryDelay caps the exponential backoff schedule.
	maxRetryDelay = 5 * time.Minute

	// sweepInterval is how often expired leases are released.
	sweepInterval = 30 * time.Second
)

// Worker drains the enrichment queue: it leases jobs, runs the Pipeline,
// and settles each job by its outcome.
//
// An enhance job that merged the cheap layers but missed the strategic one
// is acknowledged; the pipeline already scheduled a strategic_retry job to
// finish the work. A strategic_retry job in the same position failed at its
// whole purpose, so it retries on the backoff schedule until the attempt
// cap, then dead-letters.
type Worker struct {
	store    *store.Store
	pipeline *Pipeline

	now          func() time.Time
	workers      int
	pollInterval time.Duration
	lease        time.Duration
	jobTimeout   time.Duration
	maxAttempts  int
	retryBase    time.Duration
}

// WorkerOption configures a Worker.
type WorkerOption func(*Worker)

// WithWorkers sets the number of concurrent job loops.
func WithWorkers(n int) WorkerOption {
	return func(w *Worker) {
		w.workers = n
	}
}

// WithPollInterval sets the idle polling interval.
func WithPollInterval(d time.Duration) WorkerOption {
	return func(w *Worker) {
		w.pollInterval = d
	}
}

// WithLease sets how long a dequeued job stays leased.
func WithLease(d time.Duration) WorkerOption {
	return func(w *Worker) {
		w.lease = d
	}
}

// WithJobTimeout bounds each pipeline run.
func WithJobTimeout(d time.Duration) WorkerOption {
	return func(w *Worker) {
		w.jobTimeout = d
	}
}

// WithMaxAttempts sets the lease count after which a failing job
// dead-letters.
func WithMaxAttempts(n int) WorkerOption {
	return func(w *Worker) {
		w.maxAttempts = n
	}
}

// WithRetryBase sets the first retry delay; later retries double from it.
func WithRetryBase(d time.Duration) WorkerOption {
	return func(w *Worker) {
		w.retryBase = d
	}
}

// WithWorkerClock sets the time source used for leases and retry schedules.
func WithWorkerClock(now func() time.Time) WorkerOption {
	return func(w *Worker) {
		w.now = now
	}
}

// NewWorker creates a Worker over the store and pipeline.
func NewWorker(st *store.Store, p *Pipeline, opts ...WorkerOption) *Worker {
	w := &Worker{
		store:        st,
		pipeline:     p,
		now:          time.Now,
		workers:      DefaultWorkers,
		pollInterval: DefaultPollInterval,
		lease:        DefaultLease,
		jobTimeout:   DefaultJobTimeout,
		maxAttempts:  DefaultMaxAttempts,
		retryBase:    DefaultRetryDelay,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run polls the queue until the context is canceled. It starts the
// configured number of job loops plus a sweeper that returns expired leases
// to the queue. Cancellation is a clean shutdown: in-flight jobs settle,
// then Run returns nil.
func (w *Worker) Run(ctx context.Context) error {
	slog.Info("enrichment worker started",
		"workers", w.workers,
		"poll_interval", w.pollInterval,
		"lease", w.lease)

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < w.workers; i++ {
		g.Go(func() error {
			return w.loop(ctx)
		})
	}
	g.Go(func() error {
		return w.sweep(ctx)
	})
	err := g.Wait()
	slog.Info("enrichment worker stopped")
	return err
}

// RunOnce drains every ready job and returns how many it processed. Jobs
// scheduled for later (backoff, strategic retries) stay queued. Used by the
// one-shot CLI path and the scenario harness.
func (w *Worker) RunOnce(ctx context.Context) (int, error) {
	if _, err := w.store.Jobs().ReleaseExpiredLeases(ctx, w.now()); err != nil {
		return 0, err
	}

	processed := 0
	for {
		job, ok, err := w.store.Jobs().Dequeue(ctx, w.now(), w.lease)
		if err != nil {
			return processed, err
		}
		if !ok {
			return processed, nil
		}
		w.process(ctx, job)
		processed++
	}
}

// loop is one polling job loop.
func (w *Worker) loop(ctx context.Context) error {
	for {
		job, ok, err := w.store.Jobs().Dequeue(ctx, w.now(), w.lease)
		if err != nil {
			slog.Error("dequeue failed", "error", err)
		}
		if ok {
			w.process(ctx, job)
			continue
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(w.pollInterval):
		}
	}
}

// sweep periodically returns expired leases to the queue so jobs orphaned
// by a crashed worker run again.
func (w *Worker) sweep(ctx context.Context) error {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			released, err := w.store.Jobs().ReleaseExpiredLeases(ctx, w.now())
			if err != nil {
				slog.Error("lease sweep failed", "error", err)
				continue
			}
			if released > 0 {
				slog.Warn("released expired job leases", "count", released)
			}
		}
	}
}

// process runs one leased job through the pipeline and settles it. The
// settle calls use the parent context: a job that failed by timeout must
// still be able to record its failure.
func (w *Worker) process(ctx context.Context, job *store.Job) {
	jctx, cancel := context.WithTimeout(ctx, w.jobTimeout)
	report, err := w.pipeline.Enhance(jctx, job.JourneyID)
	cancel()

	now := w.now()
	switch {
	case err == nil && (job.Kind != store.JobStrategicRetry || !report.Partial):
		if ackErr := w.store.Jobs().Ack(ctx, job.Seq, now); ackErr != nil {
			slog.Error("ack failed", "seq", job.Seq, "journey_id", job.JourneyID, "error", ackErr)
			return
		}
		slog.Info("job done",
			"seq", job.Seq,
			"journey_id", job.JourneyID,
			"kind", job.Kind,
			"attempts", job.Attempts,
			"partial", report.Partial)

	case err != nil && store.IsNotFound(err):
		// Nothing to run the pipeline against; retrying cannot help.
		w.deadLetter(ctx, job, now, err.Error())

	default:
		cause := "strategic synthesizer unavailable"
		if err != nil {
			cause = err.Error()
		}
		if job.Attempts >= w.maxAttempts {
			w.deadLetter(ctx, job, now, cause)
			return
		}
		retryAt := now.Add(w.retryDelay(job.Attempts))
		if nackErr := w.store.Jobs().Nack(ctx, job.Seq, now, retryAt, cause); nackErr != nil {
			slog.Error("nack failed", "seq", job.Seq, "journey_id", job.JourneyID, "error", nackErr)
			return
		}
		slog.Warn("job failed, retry scheduled",
			"seq", job.Seq,
			"journey_id", job.JourneyID,
			"kind", job.Kind,
			"attempts", job.Attempts,
			"retry_at", retryAt,
			"cause", cause)
	}
}

// deadLetter parks a job and logs it loudly; dead letters need an operator.
func (w *Worker) deadLetter(ctx context.Context, job *store.Job, now time.Time, reason string) {
	if err := w.store.Jobs().DeadLetter(ctx, job.Seq, now, reason); err != nil {
		slog.Error("dead-letter failed", "seq", job.Seq, "journey_id", job.JourneyID, "error", err)
		return
	}
	slog.Error("job dead-lettered",
		"seq", job.Seq,
		"journey_id", job.JourneyID,
		"kind", job.Kind,
		"attempts", job.Attempts,
		"reason", reason)
}

// retryDelay computes the wait before the next attempt: retryBase doubling
// per failed attempt, capped at maxRetryDelay. Attempt 1 waits retryBase.
func (w *Worker) retryDelay(attempts int) time.Duration {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = w.retryBase
	b.RandomizationFactor = 0
	b.Multiplier = 2
	b.MaxInterval = maxRetryDelay
	b.MaxElapsedTime = 0
	b.Reset()

	d := b.NextBackOff()
	for i := 1; i < attempts; i++ {
		d = b.NextBackOff()
	}
	return d
}
