package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/camino/internal/journey"
)

// JobKind distinguishes enrichment job types.
type JobKind string

const (
	// JobEnhance runs the full synthesis pipeline for a completed journey.
	JobEnhance JobKind = "enhance"

	// JobStrategicRetry re-runs only the strategic layer after it was
	// skipped in a partial run. At most one exists per journey.
	JobStrategicRetry JobKind = "strategic_retry"
)

// JobStatus is the lifecycle state of an enrichment job.
type JobStatus string

const (
	JobPending JobStatus = "pending"
	JobLeased  JobStatus = "leased"
	JobDone    JobStatus = "done"
	JobDead    JobStatus = "dead"
)

// Job is one enrichment work item, keyed by (journey, kind).
//
// Seq is assigned on first enqueue and fixes the FIFO order: within an
// organization, jobs are processed in the order their journeys completed.
type Job struct {
	Seq       int64
	JourneyID string
	OrgID     string
	Kind      JobKind
	Status    JobStatus

	// Attempts counts leases taken; it is the attempt number of the run
	// currently holding (or last to hold) the job.
	Attempts  int
	NotBefore time.Time
	LastError string

	EnqueuedAt       time.Time
	UpdatedAt        time.Time
	CompletedAt      *time.Time
	DeadLetteredAt   *time.Time
	DeadLetterReason string
}

// JobStore persists the enrichment queue.
//
// The queue lives in the same database as the journeys that feed it, so a
// journey's completion and its job enqueue can share transactional locality
// without a broker. Leasing (not popping) keeps jobs recoverable: a crashed
// worker's lease expires and the sweep returns the job to pending.
type JobStore struct {
	db *sql.DB
}

// Enqueue inserts a job, idempotently keyed by (journey, kind). The job
// becomes ready at notBefore. Returns the job's seq and whether this call
// changed anything.
//
//   - No row yet: insert as pending (enqueued=true).
//   - Row pending or leased: no-op (enqueued=false) - duplicate completions
//     and step-mode re-enqueues coalesce.
//   - Row done: revived to pending with attempts reset (enqueued=true),
//     so re-running synthesis for a journey is an enqueue, not a new row.
//   - Row dead: no-op. Dead letters are revived only by Replay.
func (s *JobStore) Enqueue(ctx context.Context, journeyID, orgID string, kind JobKind, now, notBefore time.Time) (seq int64, enqueued bool, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, false, fmt.Errorf("enqueue job: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	result, err := tx.ExecContext(ctx, `
		INSERT INTO enrichment_jobs
		(journey_id, org_id, kind, status, attempts, not_before, enqueued_at, updated_at)
		VALUES (?, ?, ?, 'pending', 0, ?, ?, ?)
		ON CONFLICT(journey_id, kind) DO UPDATE SET
			status = 'pending',
			attempts = 0,
			not_before = excluded.not_before,
			last_error = '',
			completed_at = NULL,
			updated_at = excluded.updated_at
		WHERE enrichment_jobs.status = 'done'
	`,
		journeyID,
		orgID,
		string(kind),
		notBefore.UnixMilli(),
		formatTime(now),
		formatTime(now),
	)
	if err != nil {
		return 0, false, fmt.Errorf("enqueue job: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, false, fmt.Errorf("enqueue job: rows affected: %w", err)
	}

	// Fetch the seq either way - callers log it.
	err = tx.QueryRowContext(ctx, `
		SELECT seq FROM enrichment_jobs WHERE journey_id = ? AND kind = ?
	`, journeyID, string(kind)).Scan(&seq)
	if err != nil {
		return 0, false, fmt.Errorf("enqueue job: select seq: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, false, fmt.Errorf("enqueue job: commit: %w", err)
	}
	return seq, affected > 0, nil
}

// EnqueueEnhance implements journey.Enqueuer for the engine's
// fire-and-forget completion hook. The job is ready immediately.
func (s *JobStore) EnqueueEnhance(ctx context.Context, journeyID, orgID string, now time.Time) error {
	_, _, err := s.Enqueue(ctx, journeyID, orgID, JobEnhance, now, now)
	return err
}

var _ journey.Enqueuer = (*JobStore)(nil)

// Dequeue leases the oldest ready job whose organization has no leased job,
// enforcing both per-org FIFO and per-org mutual exclusion. Returns
// (nil, false, nil) when nothing is ready.
//
// The lease is held until Ack/Nack/DeadLetter or until leaseFor elapses,
// after which ReleaseExpiredLeases returns the job to pending.
func (s *JobStore) Dequeue(ctx context.Context, now time.Time, leaseFor time.Duration) (*Job, bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("dequeue job: begin tx: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, `
		SELECT seq, journey_id, org_id, kind, status, attempts, not_before,
		       last_error, enqueued_at, updated_at, completed_at,
		       dead_lettered_at, dead_letter_reason
		FROM enrichment_jobs AS j
		WHERE j.status = 'pending'
		  AND j.not_before <= ?
		  AND NOT EXISTS (
			SELECT 1 FROM enrichment_jobs AS held
			WHERE held.org_id = j.org_id AND held.status = 'leased'
		  )
		ORDER BY j.seq ASC
		LIMIT 1
	`, now.UnixMilli())

	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("dequeue job: %w", err)
	}

	result, err := tx.ExecContext(ctx, `
		UPDATE enrichment_jobs
		SET status = 'leased', attempts = attempts + 1,
		    lease_expires_at = ?, updated_at = ?
		WHERE seq = ? AND status = 'pending'
	`, now.Add(leaseFor).UnixMilli(), formatTime(now), job.Seq)
	if err != nil {
		return nil, false, fmt.Errorf("dequeue job: lease: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("dequeue job: rows affected: %w", err)
	}
	if affected == 0 {
		// Lost a race with another connection; treat as nothing ready.
		return nil, false, nil
	}

	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("dequeue job: commit: %w", err)
	}

	job.Status = JobLeased
	job.Attempts++
	job.UpdatedAt = now
	return job, true, nil
}

// Ack marks a leased job done.
func (s *JobStore) Ack(ctx context.Context, seq int64, now time.Time) error {
	return s.finish(ctx, seq, now, `
		UPDATE enrichment_jobs
		SET status = 'done', completed_at = ?, lease_expires_at = 0, updated_at = ?
		WHERE seq = ? AND status = 'leased'
	`, formatTime(now), formatTime(now), seq)
}

// Nack returns a leased job to pending for a later retry.
func (s *JobStore) Nack(ctx context.Context, seq int64, now, retryAt time.Time, cause string) error {
	return s.finish(ctx, seq, now, `
		UPDATE enrichment_jobs
		SET status = 'pending', not_before = ?, last_error = ?,
		    lease_expires_at = 0, updated_at = ?
		WHERE seq = ? AND status = 'leased'
	`, retryAt.UnixMilli(), cause, formatTime(now), seq)
}

// DeadLetter parks a leased job permanently with a reason.
// Dead jobs are excluded from dequeue until replayed by an operator.
func (s *JobStore) DeadLetter(ctx context.Context, seq int64, now time.Time, reason string) error {
	return s.finish(ctx, seq, now, `
		UPDATE enrichment_jobs
		SET status = 'dead', dead_lettered_at = ?, dead_letter_reason = ?,
		    lease_expires_at = 0, updated_at = ?
		WHERE seq = ? AND status = 'leased'
	`, formatTime(now), reason, formatTime(now), seq)
}

// finish runs a lease-closing update and verifies the lease was still held.
func (s *JobStore) finish(ctx context.Context, seq int64, now time.Time, query string, args ...any) error {
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("finish job %d: %w", seq, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("finish job %d: rows affected: %w", seq, err)
	}
	if affected == 0 {
		return fmt.Errorf("finish job %d: lease no longer held", seq)
	}
	return nil
}

// Replay revives a dead-lettered job back to pending with a clean slate.
// Returns false if the journey has no dead job.
func (s *JobStore) Replay(ctx context.Context, journeyID string, now time.Time) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE enrichment_jobs
		SET status = 'pending', attempts = 0, not_before = ?, last_error = '',
		    dead_lettered_at = NULL, dead_letter_reason = '', updated_at = ?
		WHERE journey_id = ? AND status = 'dead'
	`, now.UnixMilli(), formatTime(now), journeyID)
	if err != nil {
		return false, fmt.Errorf("replay job: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("replay job: rows affected: %w", err)
	}
	return affected > 0, nil
}

// ReleaseExpiredLeases returns timed-out leased jobs to pending so another
// worker can pick them up. Returns the number of leases released.
func (s *JobStore) ReleaseExpiredLeases(ctx context.Context, now time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE enrichment_jobs
		SET status = 'pending', lease_expires_at = 0,
		    last_error = 'lease expired', updated_at = ?
		WHERE status = 'leased' AND lease_expires_at <= ?
	`, formatTime(now), now.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("release expired leases: %w", err)
	}
	released, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("release expired leases: rows affected: %w", err)
	}
	return released, nil
}

// Get loads one job by journey and kind. Fails with NotFound if absent.
func (s *JobStore) Get(ctx context.Context, journeyID string, kind JobKind) (*Job, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT seq, journey_id, org_id, kind, status, attempts, not_before,
		       last_error, enqueued_at, updated_at, completed_at,
		       dead_lettered_at, dead_letter_reason
		FROM enrichment_jobs
		WHERE journey_id = ? AND kind = ?
	`, journeyID, string(kind))

	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &NotFoundError{Entity: "job", Key: fmt.Sprintf("%s/%s", journeyID, kind)}
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// List returns jobs in seq order, optionally filtered by status.
// Returns an empty slice (not nil) when nothing matches.
func (s *JobStore) List(ctx context.Context, status JobStatus) ([]Job, error) {
	query := `
		SELECT seq, journey_id, org_id, kind, status, attempts, not_before,
		       last_error, enqueued_at, updated_at, completed_at,
		       dead_lettered_at, dead_letter_reason
		FROM enrichment_jobs
	`
	var args []any
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY seq ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("list jobs: %w", err)
		}
		jobs = append(jobs, *job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list jobs: iterate: %w", err)
	}

	if jobs == nil {
		jobs = []Job{}
	}
	return jobs, nil
}

// scanJob scans a job row.
func scanJob(scanner rowScanner) (*Job, error) {
	var job Job
	var kind, status, enqueuedAt, updatedAt string
	var notBefore int64
	var completedAt, deadLetteredAt sql.NullString

	if err := scanner.Scan(
		&job.Seq, &job.JourneyID, &job.OrgID, &kind, &status, &job.Attempts,
		&notBefore, &job.LastError, &enqueuedAt, &updatedAt,
		&completedAt, &deadLetteredAt, &job.DeadLetterReason,
	); err != nil {
		return nil, err
	}

	job.Kind = JobKind(kind)
	job.Status = JobStatus(status)
	job.NotBefore = time.UnixMilli(notBefore).UTC()

	var err error
	if job.EnqueuedAt, err = parseTime(enqueuedAt); err != nil {
		return nil, err
	}
	if job.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	if job.CompletedAt, err = parseNullableTime(completedAt); err != nil {
		return nil, err
	}
	if job.DeadLetteredAt, err = parseNullableTime(deadLetteredAt); err != nil {
		return nil, err
	}
	return &job, nil
}
