package service

import (
	"context"
	"time"

	"github.com/kkkkikiki/studyping/internal/model"
)

// Clock returns the current instant.
type Clock func() time.Time

// SystemClock is the wall clock in UTC.
func SystemClock() time.Time { return time.Now().UTC() }

// Sender delivers one message to one recipient. Implementations return an
// error wrapping ErrRecipientBlocked when the recipient can never be reached.
type Sender interface {
	Send(ctx context.Context, recipient, text string) error
}

// Store is the transactional datastore. Reads skip soft-deleted rows unless
// includeDeleted is set. Lookups of missing rows return model.ErrNotFound.
type Store interface {
	// WithTx runs fn against a transaction-bound Store, committing when fn
	// returns nil and rolling back otherwise.
	WithTx(ctx context.Context, fn func(tx Store) error) error

	CreateStudy(ctx context.Context, study *model.Study) error
	GetStudy(ctx context.Context, id int64, includeDeleted bool) (*model.Study, error)
	GetStudyByCode(ctx context.Context, code string, includeDeleted bool) (*model.Study, error)

	GetTemplate(ctx context.Context, id int64, includeDeleted bool) (*model.PingTemplate, error)
	ListTemplatesByStudy(ctx context.Context, studyID int64, includeDeleted bool) ([]*model.PingTemplate, error)
	CreateTemplate(ctx context.Context, t *model.PingTemplate) error
	UpdateTemplateSchedule(ctx context.Context, id int64, s model.Schedule) error
	// SoftDeleteTemplate tombstones the template and its pings.
	SoftDeleteTemplate(ctx context.Context, id int64, at time.Time) error

	CreateEnrollment(ctx context.Context, e *model.Enrollment) error
	GetEnrollment(ctx context.Context, id int64, includeDeleted bool) (*model.Enrollment, error)
	GetEnrollmentByLinkCode(ctx context.Context, code string) (*model.Enrollment, error)
	LinkCodeExists(ctx context.Context, code string) (bool, error)
	// MarkLinked consumes the link code; it returns model.ErrNotFound
	// when the code was already used.
	MarkLinked(ctx context.Context, id int64, recipient string, at time.Time) error
	SetDashboardCode(ctx context.Context, id int64, code string, expires time.Time) error
	SetCompletion(ctx context.Context, id int64, ratio float64) error
	// ClearRecipient unlinks every enrollment delivered to recipient.
	ClearRecipient(ctx context.Context, recipient string) (int64, error)
	// SoftDeleteEnrollment tombstones the enrollment and its pings.
	SoftDeleteEnrollment(ctx context.Context, id int64, at time.Time) error

	CreatePings(ctx context.Context, pings []*model.Ping) error
	GetPing(ctx context.Context, id int64, includeDeleted bool) (*model.Ping, error)
	ListPingsByEnrollment(ctx context.Context, enrollmentID int64, includeDeleted bool) ([]*model.Ping, error)
	RecordClick(ctx context.Context, id int64, at time.Time) (*model.Ping, error)

	// ClaimDuePings atomically stamps sent_ts=now on up to limit eligible
	// pings and returns their ids.
	ClaimDuePings(ctx context.Context, now time.Time, limit int) ([]int64, error)
	// ReleasePing clears sent_ts if it still holds the claim stamp.
	ReleasePing(ctx context.Context, id int64, claimedAt time.Time) error
	MarkPingSent(ctx context.Context, id int64, message string) error

	// ClaimDueReminders stamps reminder_sent_ts=now on unclicked pings whose
	// reminder is due. Pings sent at now itself wait for the next tick.
	ClaimDueReminders(ctx context.Context, now time.Time, limit int) ([]int64, error)
	ReleaseReminder(ctx context.Context, id int64, claimedAt time.Time) error
}

// loadBundle fetches the rows a ping's message is rendered from. Soft-deleted
// parents are included: a claimed ping is rendered as it was scheduled.
func loadBundle(ctx context.Context, store Store, p *model.Ping) (model.PingBundle, error) {
	b := model.PingBundle{Ping: p}
	var err error
	if b.Template, err = store.GetTemplate(ctx, p.PingTemplateID, true); err != nil {
		return b, err
	}
	if b.Enrollment, err = store.GetEnrollment(ctx, p.EnrollmentID, true); err != nil {
		return b, err
	}
	if b.Study, err = store.GetStudy(ctx, p.StudyID, true); err != nil {
		return b, err
	}
	return b, nil
}
