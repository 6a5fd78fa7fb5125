package model

import (
	"time"
)

// Ping is one scheduled message to one participant
type Ping struct {
	ID             int64 `db:"id" json:"id"`
	StudyID        int64 `db:"study_id" json:"study_id"`
	PingTemplateID int64 `db:"ping_template_id" json:"ping_template_id"`
	EnrollmentID   int64 `db:"enrollment_id" json:"enrollment_id"`
	DayNum         int   `db:"day_num" json:"day_num"`

	ScheduledTS    time.Time  `db:"scheduled_ts" json:"scheduled_ts"`
	ExpireTS       *time.Time `db:"expire_ts" json:"expire_ts"`
	ReminderTS     *time.Time `db:"reminder_ts" json:"reminder_ts"`
	SentTS         *time.Time `db:"sent_ts" json:"sent_ts"`
	ReminderSentTS *time.Time `db:"reminder_sent_ts" json:"reminder_sent_ts"`
	FirstClickedTS *time.Time `db:"first_clicked_ts" json:"first_clicked_ts"`
	LastClickedTS  *time.Time `db:"last_clicked_ts" json:"last_clicked_ts"`

	// Message is the text as it was sent, independent of later template edits.
	Message        *string `db:"message" json:"message"`
	ForwardingCode string  `db:"forwarding_code" json:"-"`

	CreatedAt time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt time.Time  `db:"updated_at" json:"updated_at"`
	DeletedAt *time.Time `db:"deleted_at" json:"deleted_at,omitempty"`
}

// Expired reports whether the ping's expiry has passed at now.
func (p *Ping) Expired(now time.Time) bool {
	return p.ExpireTS != nil && !now.Before(*p.ExpireTS)
}

// Completed reports whether the participant has clicked through a sent ping.
func (p *Ping) Completed() bool {
	return p.SentTS != nil && p.FirstClickedTS != nil
}

// PingBundle is a ping together with the rows its message is rendered from.
type PingBundle struct {
	Ping       *Ping
	Template   *PingTemplate
	Enrollment *Enrollment
	Study      *Study
}
