package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/kkkkikiki/studyping/internal/model"
)

const enrollmentColumns = `id, study_id, tz, study_pid, telegram_id, telegram_link_code,
	telegram_link_code_expire_ts, telegram_link_code_used, enrolled, signup_ts, pr_completed,
	dashboard_otp, dashboard_otp_expire_ts, created_at, updated_at, deleted_at`

// EnrollmentRepository handles enrollment data operations
type EnrollmentRepository struct{}

// NewEnrollmentRepository creates a new enrollment repository
func NewEnrollmentRepository() *EnrollmentRepository {
	return &EnrollmentRepository{}
}

// CreateEnrollment creates a new enrollment
func (r *EnrollmentRepository) CreateEnrollment(ctx context.Context, db DBExecutor, e *model.Enrollment) error {
	query := `
		INSERT INTO enrollments (study_id, tz, study_pid, telegram_id, telegram_link_code,
			telegram_link_code_expire_ts, enrolled, signup_ts, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)
		RETURNING id
	`

	now := time.Now().UTC()
	e.CreatedAt = now
	e.UpdatedAt = now

	err := db.GetContext(ctx, &e.ID, query,
		e.StudyID, e.TZ, e.StudyPID, e.TelegramID, e.LinkCode,
		e.LinkCodeExpireTS, e.Enrolled, e.SignupTS, now)
	if err != nil {
		return fmt.Errorf("failed to create enrollment: %w", err)
	}

	return nil
}

// GetEnrollment retrieves an enrollment by ID
func (r *EnrollmentRepository) GetEnrollment(ctx context.Context, db DBExecutor, id int64, includeDeleted bool) (*model.Enrollment, error) {
	query := `SELECT ` + enrollmentColumns + ` FROM enrollments WHERE id = $1 AND ($2 OR deleted_at IS NULL)`

	var e model.Enrollment
	if err := getOne(ctx, db, &e, "enrollment", query, id, includeDeleted); err != nil {
		return nil, err
	}
	return &e, nil
}

// GetEnrollmentByLinkCode retrieves the live enrollment holding a link code
func (r *EnrollmentRepository) GetEnrollmentByLinkCode(ctx context.Context, db DBExecutor, code string) (*model.Enrollment, error) {
	query := `SELECT ` + enrollmentColumns + ` FROM enrollments WHERE telegram_link_code = $1 AND deleted_at IS NULL`

	var e model.Enrollment
	if err := getOne(ctx, db, &e, "enrollment", query, code); err != nil {
		return nil, err
	}
	return &e, nil
}

// LinkCodeExists reports whether any enrollment, deleted or not, holds code
func (r *EnrollmentRepository) LinkCodeExists(ctx context.Context, db DBExecutor, code string) (bool, error) {
	var exists bool
	err := db.GetContext(ctx, &exists, `SELECT EXISTS (SELECT 1 FROM enrollments WHERE telegram_link_code = $1)`, code)
	if err != nil {
		return false, fmt.Errorf("failed to check link code: %w", err)
	}
	return exists, nil
}

// MarkLinked consumes the link code and stores the recipient
func (r *EnrollmentRepository) MarkLinked(ctx context.Context, db DBExecutor, id int64, recipient string, at time.Time) error {
	query := `
		UPDATE enrollments
		SET telegram_id = $2, telegram_link_code_used = true, enrolled = true, updated_at = $3
		WHERE id = $1 AND NOT telegram_link_code_used AND deleted_at IS NULL
	`

	result, err := db.ExecContext(ctx, query, id, recipient, at)
	if err != nil {
		return fmt.Errorf("failed to link enrollment: %w", err)
	}
	return expectRows(result, "unused link code")
}

// SetDashboardCode stores a one-time dashboard code
func (r *EnrollmentRepository) SetDashboardCode(ctx context.Context, db DBExecutor, id int64, code string, expires time.Time) error {
	query := `
		UPDATE enrollments
		SET dashboard_otp = $2, dashboard_otp_expire_ts = $3, updated_at = now()
		WHERE id = $1 AND deleted_at IS NULL
	`

	result, err := db.ExecContext(ctx, query, id, code, expires)
	if err != nil {
		return fmt.Errorf("failed to store dashboard code: %w", err)
	}
	return expectRows(result, "enrollment")
}

// SetCompletion stores the completion ratio
func (r *EnrollmentRepository) SetCompletion(ctx context.Context, db DBExecutor, id int64, ratio float64) error {
	result, err := db.ExecContext(ctx,
		`UPDATE enrollments SET pr_completed = $2, updated_at = now() WHERE id = $1`, id, ratio)
	if err != nil {
		return fmt.Errorf("failed to store completion ratio: %w", err)
	}
	return expectRows(result, "enrollment")
}

// ClearRecipient unlinks every enrollment delivered to recipient
func (r *EnrollmentRepository) ClearRecipient(ctx context.Context, db DBExecutor, recipient string) (int64, error) {
	result, err := db.ExecContext(ctx,
		`UPDATE enrollments SET telegram_id = NULL, updated_at = now() WHERE telegram_id = $1`, recipient)
	if err != nil {
		return 0, fmt.Errorf("failed to clear recipient: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n, nil
}

// SoftDeleteEnrollment tombstones an enrollment and its pings
func (r *EnrollmentRepository) SoftDeleteEnrollment(ctx context.Context, db DBExecutor, id int64, at time.Time) error {
	result, err := db.ExecContext(ctx, `
		UPDATE enrollments SET deleted_at = $2, updated_at = $2
		WHERE id = $1 AND deleted_at IS NULL
	`, id, at)
	if err != nil {
		return fmt.Errorf("failed to delete enrollment: %w", err)
	}
	if err := expectRows(result, "enrollment"); err != nil {
		return err
	}

	_, err = db.ExecContext(ctx, `
		UPDATE pings SET deleted_at = $2, updated_at = $2
		WHERE enrollment_id = $1 AND deleted_at IS NULL
	`, id, at)
	if err != nil {
		return fmt.Errorf("failed to delete enrollment pings: %w", err)
	}
	return nil
}
