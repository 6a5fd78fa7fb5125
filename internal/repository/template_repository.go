package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/kkkkikiki/studyping/internal/model"
)

const templateColumns = `id, study_id, name, message, url, url_text, reminder_latency_s, expire_latency_s,
	schedule, created_at, updated_at, deleted_at`

// TemplateRepository handles ping template data operations
type TemplateRepository struct{}

// NewTemplateRepository creates a new ping template repository
func NewTemplateRepository() *TemplateRepository {
	return &TemplateRepository{}
}

// CreateTemplate creates a new ping template
func (r *TemplateRepository) CreateTemplate(ctx context.Context, db DBExecutor, t *model.PingTemplate) error {
	query := `
		INSERT INTO ping_templates (study_id, name, message, url, url_text,
			reminder_latency_s, expire_latency_s, schedule, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)
		RETURNING id
	`

	now := time.Now().UTC()
	t.CreatedAt = now
	t.UpdatedAt = now

	err := db.GetContext(ctx, &t.ID, query,
		t.StudyID, t.Name, t.Message, t.URL, t.URLText,
		t.ReminderLatency, t.ExpireLatency, t.Schedule, now)
	if err != nil {
		return fmt.Errorf("failed to create ping template: %w", err)
	}

	return nil
}

// GetTemplate retrieves a ping template by ID
func (r *TemplateRepository) GetTemplate(ctx context.Context, db DBExecutor, id int64, includeDeleted bool) (*model.PingTemplate, error) {
	query := `SELECT ` + templateColumns + ` FROM ping_templates WHERE id = $1 AND ($2 OR deleted_at IS NULL)`

	var t model.PingTemplate
	if err := getOne(ctx, db, &t, "ping template", query, id, includeDeleted); err != nil {
		return nil, err
	}
	return &t, nil
}

// ListTemplatesByStudy returns the templates of a study in creation order
func (r *TemplateRepository) ListTemplatesByStudy(ctx context.Context, db DBExecutor, studyID int64, includeDeleted bool) ([]*model.PingTemplate, error) {
	query := `
		SELECT ` + templateColumns + `
		FROM ping_templates
		WHERE study_id = $1 AND ($2 OR deleted_at IS NULL)
		ORDER BY id
	`

	var templates []*model.PingTemplate
	if err := db.SelectContext(ctx, &templates, query, studyID, includeDeleted); err != nil {
		return nil, fmt.Errorf("failed to list ping templates: %w", err)
	}
	return templates, nil
}

// UpdateSchedule replaces the schedule of a live template
func (r *TemplateRepository) UpdateSchedule(ctx context.Context, db DBExecutor, id int64, s model.Schedule) error {
	query := `
		UPDATE ping_templates
		SET schedule = $2, updated_at = $3
		WHERE id = $1 AND deleted_at IS NULL
	`

	result, err := db.ExecContext(ctx, query, id, s, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to update schedule: %w", err)
	}
	return expectRows(result, "ping template")
}

// SoftDeleteTemplate tombstones a template and every ping generated from it
func (r *TemplateRepository) SoftDeleteTemplate(ctx context.Context, db DBExecutor, id int64, at time.Time) error {
	result, err := db.ExecContext(ctx, `
		UPDATE ping_templates SET deleted_at = $2, updated_at = $2
		WHERE id = $1 AND deleted_at IS NULL
	`, id, at)
	if err != nil {
		return fmt.Errorf("failed to delete ping template: %w", err)
	}
	if err := expectRows(result, "ping template"); err != nil {
		return err
	}

	_, err = db.ExecContext(ctx, `
		UPDATE pings SET deleted_at = $2, updated_at = $2
		WHERE ping_template_id = $1 AND deleted_at IS NULL
	`, id, at)
	if err != nil {
		return fmt.Errorf("failed to delete template pings: %w", err)
	}
	return nil
}
