package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/camino/internal/playbook"
)

// TemplateStore persists published playbook templates.
//
// Published versions are frozen: rows are insert-only, and re-publishing an
// existing (id, version) fails with AlreadyExists. Journeys snapshot the
// version they start with, so replacing a published version would silently
// change running journeys.
type TemplateStore struct {
	db *sql.DB
}

// TemplateInfo is a listing row for the admin surface.
type TemplateInfo struct {
	ID        string
	Version   int
	Name      string
	Steps     int
	CreatedAt time.Time
}

// Publish stores a compiled template version together with its CUE source.
// Fails with AlreadyExists if the (id, version) pair is already published.
func (s *TemplateStore) Publish(ctx context.Context, tmpl *playbook.Template, source string, now time.Time) error {
	compiled, err := json.Marshal(tmpl)
	if err != nil {
		return fmt.Errorf("publish template: marshal: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO templates (id, version, name, purpose, source, compiled, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		tmpl.ID,
		tmpl.Version,
		tmpl.Name,
		tmpl.Purpose,
		source,
		string(compiled),
		formatTime(now),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return &AlreadyExistsError{
				Entity: "template",
				Key:    fmt.Sprintf("%s@%d", tmpl.ID, tmpl.Version),
			}
		}
		return fmt.Errorf("publish template: %w", err)
	}
	return nil
}

// GetTemplate loads a published template. Version 0 means the highest
// published version. Fails with NotFound when the template (or requested
// version) is not published.
func (s *TemplateStore) GetTemplate(ctx context.Context, id string, version int) (*playbook.Template, error) {
	var compiled string
	var err error
	if version == 0 {
		err = s.db.QueryRowContext(ctx, `
			SELECT compiled FROM templates
			WHERE id = ?
			ORDER BY version DESC
			LIMIT 1
		`, id).Scan(&compiled)
	} else {
		err = s.db.QueryRowContext(ctx, `
			SELECT compiled FROM templates
			WHERE id = ? AND version = ?
		`, id, version).Scan(&compiled)
	}
	if errors.Is(err, sql.ErrNoRows) {
		key := id
		if version != 0 {
			key = fmt.Sprintf("%s@%d", id, version)
		}
		return nil, &NotFoundError{Entity: "template", Key: key}
	}
	if err != nil {
		return nil, fmt.Errorf("get template: %w", err)
	}

	var tmpl playbook.Template
	if err := json.Unmarshal([]byte(compiled), &tmpl); err != nil {
		return nil, fmt.Errorf("get template: unmarshal %s: %w", id, err)
	}
	return &tmpl, nil
}

// Source returns the stored CUE source of a published version.
func (s *TemplateStore) Source(ctx context.Context, id string, version int) (string, error) {
	var source string
	err := s.db.QueryRowContext(ctx, `
		SELECT source FROM templates WHERE id = ? AND version = ?
	`, id, version).Scan(&source)
	if errors.Is(err, sql.ErrNoRows) {
		return "", &NotFoundError{Entity: "template", Key: fmt.Sprintf("%s@%d", id, version)}
	}
	if err != nil {
		return "", fmt.Errorf("get template source: %w", err)
	}
	return source, nil
}

// List returns all published template versions ordered by id, then version.
// Returns an empty slice (not nil) when nothing is published.
func (s *TemplateStore) List(ctx context.Context) ([]TemplateInfo, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, version, name, compiled, created_at
		FROM templates
		ORDER BY id ASC, version ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}
	defer rows.Close()

	var infos []TemplateInfo
	for rows.Next() {
		var info TemplateInfo
		var compiled, createdAt string
		if err := rows.Scan(&info.ID, &info.Version, &info.Name, &compiled, &createdAt); err != nil {
			return nil, fmt.Errorf("list templates: scan: %w", err)
		}
		var tmpl playbook.Template
		if err := json.Unmarshal([]byte(compiled), &tmpl); err != nil {
			return nil, fmt.Errorf("list templates: unmarshal %s: %w", info.ID, err)
		}
		info.Steps = tmpl.TotalSteps()
		if info.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, fmt.Errorf("list templates: %w", err)
		}
		infos = append(infos, info)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list templates: iterate: %w", err)
	}

	if infos == nil {
		infos = []TemplateInfo{}
	}
	return infos, nil
}
