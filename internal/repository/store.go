package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/kkkkikiki/studyping/internal/model"
	"github.com/kkkkikiki/studyping/internal/service"
)

// Store implements service.Store on PostgreSQL. A Store returned to a
// WithTx callback runs every call inside that transaction.
type Store struct {
	db *sqlx.DB
	tx *sqlx.Tx
	ex DBExecutor

	studies     *StudyRepository
	templates   *TemplateRepository
	enrollments *EnrollmentRepository
	pings       *PingRepository
}

var _ service.Store = (*Store)(nil)

// NewStore creates a Store on db
func NewStore(db *sqlx.DB) *Store {
	return &Store{
		db:          db,
		ex:          db,
		studies:     NewStudyRepository(),
		templates:   NewTemplateRepository(),
		enrollments: NewEnrollmentRepository(),
		pings:       NewPingRepository(),
	}
}

// WithTx runs fn in a transaction. Calls made on a transaction-bound Store
// join the open transaction.
func (s *Store) WithTx(ctx context.Context, fn func(tx service.Store) error) error {
	if s.tx != nil {
		return fn(s)
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() // Rollback if not committed

	bound := *s
	bound.tx = tx
	bound.ex = tx
	if err := fn(&bound); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// CreateStudy creates a study
func (s *Store) CreateStudy(ctx context.Context, study *model.Study) error {
	return s.studies.CreateStudy(ctx, s.ex, study)
}

func (s *Store) GetStudy(ctx context.Context, id int64, includeDeleted bool) (*model.Study, error) {
	return s.studies.GetStudy(ctx, s.ex, id, includeDeleted)
}

func (s *Store) GetStudyByCode(ctx context.Context, code string, includeDeleted bool) (*model.Study, error) {
	return s.studies.GetStudyByCode(ctx, s.ex, code, includeDeleted)
}

// AddStudyMember grants a researcher a role on a study
func (s *Store) AddStudyMember(ctx context.Context, m *model.UserStudy) error {
	return s.studies.AddMember(ctx, s.ex, m)
}

// ListStudyMembers returns the researchers of a study
func (s *Store) ListStudyMembers(ctx context.Context, studyID int64, includeDeleted bool) ([]*model.UserStudy, error) {
	return s.studies.ListMembers(ctx, s.ex, studyID, includeDeleted)
}

func (s *Store) GetTemplate(ctx context.Context, id int64, includeDeleted bool) (*model.PingTemplate, error) {
	return s.templates.GetTemplate(ctx, s.ex, id, includeDeleted)
}

func (s *Store) ListTemplatesByStudy(ctx context.Context, studyID int64, includeDeleted bool) ([]*model.PingTemplate, error) {
	return s.templates.ListTemplatesByStudy(ctx, s.ex, studyID, includeDeleted)
}

func (s *Store) CreateTemplate(ctx context.Context, t *model.PingTemplate) error {
	return s.templates.CreateTemplate(ctx, s.ex, t)
}

func (s *Store) UpdateTemplateSchedule(ctx context.Context, id int64, sched model.Schedule) error {
	return s.templates.UpdateSchedule(ctx, s.ex, id, sched)
}

func (s *Store) SoftDeleteTemplate(ctx context.Context, id int64, at time.Time) error {
	return s.templates.SoftDeleteTemplate(ctx, s.ex, id, at)
}

func (s *Store) CreateEnrollment(ctx context.Context, e *model.Enrollment) error {
	return s.enrollments.CreateEnrollment(ctx, s.ex, e)
}

func (s *Store) GetEnrollment(ctx context.Context, id int64, includeDeleted bool) (*model.Enrollment, error) {
	return s.enrollments.GetEnrollment(ctx, s.ex, id, includeDeleted)
}

func (s *Store) GetEnrollmentByLinkCode(ctx context.Context, code string) (*model.Enrollment, error) {
	return s.enrollments.GetEnrollmentByLinkCode(ctx, s.ex, code)
}

func (s *Store) LinkCodeExists(ctx context.Context, code string) (bool, error) {
	return s.enrollments.LinkCodeExists(ctx, s.ex, code)
}

func (s *Store) MarkLinked(ctx context.Context, id int64, recipient string, at time.Time) error {
	return s.enrollments.MarkLinked(ctx, s.ex, id, recipient, at)
}

func (s *Store) SetDashboardCode(ctx context.Context, id int64, code string, expires time.Time) error {
	return s.enrollments.SetDashboardCode(ctx, s.ex, id, code, expires)
}

func (s *Store) SetCompletion(ctx context.Context, id int64, ratio float64) error {
	return s.enrollments.SetCompletion(ctx, s.ex, id, ratio)
}

func (s *Store) ClearRecipient(ctx context.Context, recipient string) (int64, error) {
	return s.enrollments.ClearRecipient(ctx, s.ex, recipient)
}

func (s *Store) SoftDeleteEnrollment(ctx context.Context, id int64, at time.Time) error {
	return s.enrollments.SoftDeleteEnrollment(ctx, s.ex, id, at)
}

func (s *Store) CreatePings(ctx context.Context, pings []*model.Ping) error {
	return s.pings.CreatePings(ctx, s.ex, pings)
}

func (s *Store) GetPing(ctx context.Context, id int64, includeDeleted bool) (*model.Ping, error) {
	return s.pings.GetPing(ctx, s.ex, id, includeDeleted)
}

func (s *Store) ListPingsByEnrollment(ctx context.Context, enrollmentID int64, includeDeleted bool) ([]*model.Ping, error) {
	return s.pings.ListPingsByEnrollment(ctx, s.ex, enrollmentID, includeDeleted)
}

func (s *Store) RecordClick(ctx context.Context, id int64, at time.Time) (*model.Ping, error) {
	return s.pings.RecordClick(ctx, s.ex, id, at)
}

func (s *Store) ClaimDuePings(ctx context.Context, now time.Time, limit int) ([]int64, error) {
	return s.pings.ClaimDuePings(ctx, s.ex, now, limit)
}

func (s *Store) ReleasePing(ctx context.Context, id int64, claimedAt time.Time) error {
	return s.pings.ReleasePing(ctx, s.ex, id, claimedAt)
}

func (s *Store) MarkPingSent(ctx context.Context, id int64, message string) error {
	return s.pings.MarkPingSent(ctx, s.ex, id, message)
}

func (s *Store) ClaimDueReminders(ctx context.Context, now time.Time, limit int) ([]int64, error) {
	return s.pings.ClaimDueReminders(ctx, s.ex, now, limit)
}

func (s *Store) ReleaseReminder(ctx context.Context, id int64, claimedAt time.Time) error {
	return s.pings.ReleaseReminder(ctx, s.ex, id, claimedAt)
}
