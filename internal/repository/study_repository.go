package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/kkkkikiki/studyping/internal/model"
)

const studyColumns = `id, public_name, internal_name, code, contact_message, created_at, updated_at, deleted_at`

// StudyRepository handles study data operations
type StudyRepository struct{}

// NewStudyRepository creates a new study repository
func NewStudyRepository() *StudyRepository {
	return &StudyRepository{}
}

// CreateStudy creates a new study
func (r *StudyRepository) CreateStudy(ctx context.Context, db DBExecutor, study *model.Study) error {
	query := `
		INSERT INTO studies (public_name, internal_name, code, contact_message, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $5)
		RETURNING id
	`

	now := time.Now().UTC()
	study.CreatedAt = now
	study.UpdatedAt = now

	err := db.GetContext(ctx, &study.ID, query,
		study.PublicName, study.InternalName, study.Code, study.ContactMessage, now)
	if err != nil {
		return fmt.Errorf("failed to create study: %w", err)
	}

	return nil
}

// GetStudy retrieves a study by ID
func (r *StudyRepository) GetStudy(ctx context.Context, db DBExecutor, id int64, includeDeleted bool) (*model.Study, error) {
	query := `SELECT ` + studyColumns + ` FROM studies WHERE id = $1 AND ($2 OR deleted_at IS NULL)`

	var study model.Study
	if err := getOne(ctx, db, &study, "study", query, id, includeDeleted); err != nil {
		return nil, err
	}
	return &study, nil
}

// GetStudyByCode retrieves a study by its enrollment code
func (r *StudyRepository) GetStudyByCode(ctx context.Context, db DBExecutor, code string, includeDeleted bool) (*model.Study, error) {
	query := `SELECT ` + studyColumns + ` FROM studies WHERE code = $1 AND ($2 OR deleted_at IS NULL)`

	var study model.Study
	if err := getOne(ctx, db, &study, "study", query, code, includeDeleted); err != nil {
		return nil, err
	}
	return &study, nil
}

// AddMember grants a researcher a role on a study
func (r *StudyRepository) AddMember(ctx context.Context, db DBExecutor, m *model.UserStudy) error {
	query := `
		INSERT INTO user_studies (user_id, study_id, role, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $4)
		RETURNING id
	`

	now := time.Now().UTC()
	m.CreatedAt = now
	m.UpdatedAt = now

	if err := db.GetContext(ctx, &m.ID, query, m.UserID, m.StudyID, m.Role, now); err != nil {
		return fmt.Errorf("failed to add study member: %w", err)
	}
	return nil
}

// ListMembers returns the researchers of a study
func (r *StudyRepository) ListMembers(ctx context.Context, db DBExecutor, studyID int64, includeDeleted bool) ([]*model.UserStudy, error) {
	query := `
		SELECT id, user_id, study_id, role, created_at, updated_at, deleted_at
		FROM user_studies
		WHERE study_id = $1 AND ($2 OR deleted_at IS NULL)
		ORDER BY id
	`

	var members []*model.UserStudy
	if err := db.SelectContext(ctx, &members, query, studyID, includeDeleted); err != nil {
		return nil, fmt.Errorf("failed to list study members: %w", err)
	}
	return members, nil
}
