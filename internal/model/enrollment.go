package model

import (
	"time"
)

// Enrollment represents one participant's membership in a study
type Enrollment struct {
	ID       int64  `db:"id" json:"id"`
	StudyID  int64  `db:"study_id" json:"study_id"`
	TZ       string `db:"tz" json:"tz"`               // IANA zone name
	StudyPID string `db:"study_pid" json:"study_pid"` // researcher-assigned participant code

	// TelegramID is the recipient chat id; nil until the link code is redeemed
	// or after the participant blocked the bot.
	TelegramID *string `db:"telegram_id" json:"telegram_id"`

	LinkCode         *string    `db:"telegram_link_code" json:"-"`
	LinkCodeExpireTS *time.Time `db:"telegram_link_code_expire_ts" json:"-"`
	LinkCodeUsed     bool       `db:"telegram_link_code_used" json:"-"`

	Enrolled    bool      `db:"enrolled" json:"enrolled"`
	SignupTS    time.Time `db:"signup_ts" json:"signup_ts"`
	PrCompleted float64   `db:"pr_completed" json:"pr_completed"`

	DashboardOTP         *string    `db:"dashboard_otp" json:"-"`
	DashboardOTPExpireTS *time.Time `db:"dashboard_otp_expire_ts" json:"-"`

	CreatedAt time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt time.Time  `db:"updated_at" json:"updated_at"`
	DeletedAt *time.Time `db:"deleted_at" json:"deleted_at,omitempty"`
}

// Linked reports whether the enrollment currently has a delivery address.
func (e Enrollment) Linked() bool {
	return e.TelegramID != nil && *e.TelegramID != ""
}
