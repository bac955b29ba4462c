package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/camino/internal/journey"
)

// JourneyStore persists journeys and their step responses.
// Implements journey.Store.
//
// Saves are guarded two ways: CheckInvariants rejects structurally invalid
// state before it reaches the database, and the updated_at equality check
// rejects lost updates. The partial unique index idx_journeys_active backs
// the one-active-journey rule even under concurrent starts.
type JourneyStore struct {
	db *sql.DB
}

// Create inserts a new journey with its responses (normally none).
// A collision on the active-journey index maps to AlreadyStarted.
func (s *JourneyStore) Create(ctx context.Context, j *journey.Journey) error {
	if err := j.CheckInvariants(); err != nil {
		return fmt.Errorf("create journey: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("create journey: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	_, err = tx.ExecContext(ctx, `
		INSERT INTO journeys
		(id, owner_id, org_id, playbook_id, playbook_version, status,
		 current_step, total_steps, started_at, completed_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		j.ID,
		j.OwnerID,
		j.OrgID,
		j.PlaybookID,
		j.PlaybookVersion,
		string(j.Status),
		j.CurrentStep,
		j.TotalSteps,
		formatTime(j.StartedAt),
		formatNullableTime(j.CompletedAt),
		formatTime(j.UpdatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return journey.NewAlreadyStartedError(j.ID, j.Status)
		}
		return fmt.Errorf("create journey: %w", err)
	}

	if err := insertResponses(ctx, tx, j); err != nil {
		return fmt.Errorf("create journey: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("create journey: commit: %w", err)
	}
	return nil
}

// GetByID loads a journey with its responses ordered by step index.
// Fails with NotFound if the journey does not exist.
func (s *JourneyStore) GetByID(ctx context.Context, id string) (*journey.Journey, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, owner_id, org_id, playbook_id, playbook_version, status,
		       current_step, total_steps, started_at, completed_at, updated_at
		FROM journeys
		WHERE id = ?
	`, id)

	j, err := scanJourney(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &NotFoundError{Entity: "journey", Key: id}
	}
	if err != nil {
		return nil, fmt.Errorf("get journey: %w", err)
	}

	j.Responses, err = s.readResponses(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get journey: %w", err)
	}
	return j, nil
}

// GetActiveByOwnerAndPlaybook returns the single non-completed journey for
// the pair, or (nil, nil) when none exists.
func (s *JourneyStore) GetActiveByOwnerAndPlaybook(ctx context.Context, ownerID, playbookID string) (*journey.Journey, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, owner_id, org_id, playbook_id, playbook_version, status,
		       current_step, total_steps, started_at, completed_at, updated_at
		FROM journeys
		WHERE owner_id = ? AND playbook_id = ? AND status != 'completed'
	`, ownerID, playbookID)

	j, err := scanJourney(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get active journey: %w", err)
	}

	j.Responses, err = s.readResponses(ctx, j.ID)
	if err != nil {
		return nil, fmt.Errorf("get active journey: %w", err)
	}
	return j, nil
}

// ListByOrg returns all journeys for an organization, oldest first.
// Responses are not loaded. Returns an empty slice (not nil) when none exist.
func (s *JourneyStore) ListByOrg(ctx context.Context, orgID string) ([]journey.Journey, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, owner_id, org_id, playbook_id, playbook_version, status,
		       current_step, total_steps, started_at, completed_at, updated_at
		FROM journeys
		WHERE org_id = ?
		ORDER BY started_at ASC, id COLLATE BINARY ASC
	`, orgID)
	if err != nil {
		return nil, fmt.Errorf("list journeys: %w", err)
	}
	defer rows.Close()

	var journeys []journey.Journey
	for rows.Next() {
		j, err := scanJourneyRows(rows)
		if err != nil {
			return nil, fmt.Errorf("list journeys: %w", err)
		}
		journeys = append(journeys, *j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list journeys: iterate: %w", err)
	}

	if journeys == nil {
		journeys = []journey.Journey{}
	}
	return journeys, nil
}

// Save persists the journey and its responses atomically.
//
// Optimistic concurrency: the row is updated only when its stored updated_at
// equals expectedUpdatedAt; otherwise Save fails with VersionConflict and
// the caller must refetch. Responses are rewritten wholesale - revision
// truncation makes a delta encoding more fragile than it is worth.
func (s *JourneyStore) Save(ctx context.Context, j *journey.Journey, expectedUpdatedAt time.Time) error {
	if err := j.CheckInvariants(); err != nil {
		return fmt.Errorf("save journey: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("save journey: begin tx: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `
		UPDATE journeys
		SET owner_id = ?, org_id = ?, playbook_id = ?, playbook_version = ?,
		    status = ?, current_step = ?, total_steps = ?,
		    started_at = ?, completed_at = ?, updated_at = ?
		WHERE id = ? AND updated_at = ?
	`,
		j.OwnerID,
		j.OrgID,
		j.PlaybookID,
		j.PlaybookVersion,
		string(j.Status),
		j.CurrentStep,
		j.TotalSteps,
		formatTime(j.StartedAt),
		formatNullableTime(j.CompletedAt),
		formatTime(j.UpdatedAt),
		j.ID,
		formatTime(expectedUpdatedAt),
	)
	if err != nil {
		// Resetting a completed journey collides here when another active
		// journey already exists for the same owner and playbook.
		if isUniqueViolation(err) {
			return journey.NewAlreadyStartedError(j.ID, j.Status)
		}
		return fmt.Errorf("save journey: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("save journey: rows affected: %w", err)
	}
	if affected == 0 {
		// Either the journey vanished or someone else wrote first.
		var exists int
		if err := tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM journeys WHERE id = ?`, j.ID).Scan(&exists); err != nil {
			return fmt.Errorf("save journey: %w", err)
		}
		if exists == 0 {
			return &NotFoundError{Entity: "journey", Key: j.ID}
		}
		return &VersionConflictError{
			Entity:   "journey",
			Key:      j.ID,
			Expected: formatTime(expectedUpdatedAt),
		}
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM step_responses WHERE journey_id = ?`, j.ID); err != nil {
		return fmt.Errorf("save journey: clear responses: %w", err)
	}
	if err := insertResponses(ctx, tx, j); err != nil {
		return fmt.Errorf("save journey: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("save journey: commit: %w", err)
	}
	return nil
}

// insertResponses writes all of a journey's responses inside a transaction.
func insertResponses(ctx context.Context, tx *sql.Tx, j *journey.Journey) error {
	for _, r := range j.Responses {
		payload, err := json.Marshal(r.Payload)
		if err != nil {
			return fmt.Errorf("marshal response payload (step %d): %w", r.StepIndex, err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO step_responses (journey_id, step_index, step_id, payload, completed_at)
			VALUES (?, ?, ?, ?, ?)
		`,
			j.ID,
			r.StepIndex,
			r.StepID,
			string(payload),
			formatTime(r.CompletedAt),
		); err != nil {
			return fmt.Errorf("insert response (step %d): %w", r.StepIndex, err)
		}
	}
	return nil
}

// readResponses loads responses ordered deterministically by step index.
func (s *JourneyStore) readResponses(ctx context.Context, journeyID string) ([]journey.StepResponse, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT journey_id, step_index, step_id, payload, completed_at
		FROM step_responses
		WHERE journey_id = ?
		ORDER BY step_index ASC
	`, journeyID)
	if err != nil {
		return nil, fmt.Errorf("query responses: %w", err)
	}
	defer rows.Close()

	var responses []journey.StepResponse
	for rows.Next() {
		var r journey.StepResponse
		var payload, completedAt string
		if err := rows.Scan(&r.JourneyID, &r.StepIndex, &r.StepID, &payload, &completedAt); err != nil {
			return nil, fmt.Errorf("scan response: %w", err)
		}
		if err := json.Unmarshal([]byte(payload), &r.Payload); err != nil {
			return nil, fmt.Errorf("unmarshal response payload (step %d): %w", r.StepIndex, err)
		}
		if r.CompletedAt, err = parseTime(completedAt); err != nil {
			return nil, err
		}
		responses = append(responses, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate responses: %w", err)
	}

	// Return empty slice instead of nil
	if responses == nil {
		responses = []journey.StepResponse{}
	}
	return responses, nil
}

// rowScanner abstracts sql.Row and sql.Rows for the scan helpers.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanJourney scans a journey row from a QueryRow result.
func scanJourney(row *sql.Row) (*journey.Journey, error) {
	return scanJourneyFrom(row)
}

// scanJourneyRows scans a journey row during rows iteration.
func scanJourneyRows(rows *sql.Rows) (*journey.Journey, error) {
	return scanJourneyFrom(rows)
}

func scanJourneyFrom(scanner rowScanner) (*journey.Journey, error) {
	var j journey.Journey
	var status, startedAt, updatedAt string
	var completedAt sql.NullString

	if err := scanner.Scan(
		&j.ID, &j.OwnerID, &j.OrgID, &j.PlaybookID, &j.PlaybookVersion, &status,
		&j.CurrentStep, &j.TotalSteps, &startedAt, &completedAt, &updatedAt,
	); err != nil {
		return nil, err
	}

	j.Status = journey.Status(status)

	var err error
	if j.StartedAt, err = parseTime(startedAt); err != nil {
		return nil, err
	}
	if j.CompletedAt, err = parseNullableTime(completedAt); err != nil {
		return nil, err
	}
	if j.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &j, nil
}
