package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/roach88/camino/internal/knowledge"
)

// KnowledgeStore persists the per-organization knowledge aggregate.
//
// The aggregate row carries a version counter; MergeFields bumps it on every
// successful merge and refuses to write over a version the caller has not
// seen. Field writes are last-writer-wins upserts inside one transaction, so
// a merge is observed either entirely or not at all.
type KnowledgeStore struct {
	db *sql.DB
}

// GetByOrg loads the aggregate for an organization. An organization with no
// merged knowledge yet yields an empty aggregate at version 0, not an error.
func (s *KnowledgeStore) GetByOrg(ctx context.Context, orgID string) (*knowledge.Knowledge, error) {
	k := knowledge.New(orgID)

	var updatedAt string
	err := s.db.QueryRowContext(ctx, `
		SELECT version, updated_at FROM knowledge WHERE org_id = ?
	`, orgID).Scan(&k.Version, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return k, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get knowledge: %w", err)
	}
	if k.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("get knowledge: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT field, kind, value, updated_at, source_journey_id, source_layer
		FROM knowledge_fields
		WHERE org_id = ?
		ORDER BY field ASC
	`, orgID)
	if err != nil {
		return nil, fmt.Errorf("get knowledge fields: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var key, kind, value, fieldUpdatedAt, sourceJourney, sourceLayer string
		if err := rows.Scan(&key, &kind, &value, &fieldUpdatedAt, &sourceJourney, &sourceLayer); err != nil {
			return nil, fmt.Errorf("scan knowledge field: %w", err)
		}

		val, err := knowledge.UnmarshalValue(knowledge.Kind(kind), []byte(value))
		if err != nil {
			return nil, fmt.Errorf("knowledge field %s: %w", key, err)
		}
		updated, err := parseTime(fieldUpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("knowledge field %s: %w", key, err)
		}

		k.Fields[knowledge.Key(key)] = knowledge.Field{
			Value:           val,
			UpdatedAt:       updated,
			SourceJourneyID: sourceJourney,
			SourceLayer:     knowledge.Layer(sourceLayer),
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate knowledge fields: %w", err)
	}

	return k, nil
}

// MergeFields applies a set of field updates to the aggregate in a single
// transaction and returns the new aggregate version.
//
// expectedVersion is the version the caller read; if the stored version has
// moved, MergeFields fails with VersionConflict and writes nothing. Merging
// into an organization with no aggregate row expects version 0.
//
// Every field is validated against the knowledge registry before any write.
// An empty update set is a no-op and does not bump the version.
func (s *KnowledgeStore) MergeFields(ctx context.Context, orgID string, fields map[knowledge.Key]knowledge.Field, expectedVersion int64) (int64, error) {
	if len(fields) == 0 {
		return expectedVersion, nil
	}

	keys := make([]knowledge.Key, 0, len(fields))
	for key, field := range fields {
		if err := knowledge.ValidateField(key, field.Value); err != nil {
			return 0, fmt.Errorf("merge knowledge: %w", err)
		}
		if !knowledge.ValidLayer(field.SourceLayer) {
			return 0, fmt.Errorf("merge knowledge: field %q: unknown layer %q", key, field.SourceLayer)
		}
		keys = append(keys, key)
	}
	// Deterministic write order.
	slices.Sort(keys)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("merge knowledge: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	var current int64
	var aggregateExists bool
	err = tx.QueryRowContext(ctx,
		`SELECT version FROM knowledge WHERE org_id = ?`, orgID).Scan(&current)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		current = 0
	case err != nil:
		return 0, fmt.Errorf("merge knowledge: read version: %w", err)
	default:
		aggregateExists = true
	}

	if current != expectedVersion {
		return 0, &VersionConflictError{
			Entity:   "knowledge",
			Key:      orgID,
			Expected: fmt.Sprintf("v%d", expectedVersion),
		}
	}

	newVersion := current + 1
	now := latestUpdate(fields)

	if aggregateExists {
		if _, err := tx.ExecContext(ctx, `
			UPDATE knowledge SET version = ?, updated_at = ? WHERE org_id = ?
		`, newVersion, formatTime(now), orgID); err != nil {
			return 0, fmt.Errorf("merge knowledge: bump version: %w", err)
		}
	} else {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO knowledge (org_id, version, updated_at) VALUES (?, ?, ?)
		`, orgID, newVersion, formatTime(now)); err != nil {
			return 0, fmt.Errorf("merge knowledge: create aggregate: %w", err)
		}
	}

	for _, key := range keys {
		field := fields[key]
		value, err := knowledge.MarshalValue(field.Value)
		if err != nil {
			return 0, fmt.Errorf("merge knowledge: field %q: %w", key, err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO knowledge_fields
			(org_id, field, kind, value, updated_at, source_journey_id, source_layer)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(org_id, field) DO UPDATE SET
				kind = excluded.kind,
				value = excluded.value,
				updated_at = excluded.updated_at,
				source_journey_id = excluded.source_journey_id,
				source_layer = excluded.source_layer
		`,
			orgID,
			string(key),
			string(field.Value.Kind()),
			string(value),
			formatTime(field.UpdatedAt),
			field.SourceJourneyID,
			string(field.SourceLayer),
		); err != nil {
			return 0, fmt.Errorf("merge knowledge: write field %q: %w", key, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("merge knowledge: commit: %w", err)
	}
	return newVersion, nil
}

// latestUpdate picks the newest field timestamp as the aggregate timestamp.
func latestUpdate(fields map[knowledge.Key]knowledge.Field) time.Time {
	var latest time.Time
	for _, f := range fields {
		if f.UpdatedAt.After(latest) {
			latest = f.UpdatedAt
		}
	}
	return latest
}
