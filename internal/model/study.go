package model

import (
	"time"
)

// Study represents a research study in the database
type Study struct {
	ID             int64      `db:"id" json:"id"`
	PublicName     string     `db:"public_name" json:"public_name" validate:"required,max=255"`
	InternalName   string     `db:"internal_name" json:"internal_name" validate:"required,max=255"`
	Code           string     `db:"code" json:"code" validate:"required,max=64"` // unique enrollment code
	ContactMessage *string    `db:"contact_message" json:"contact_message"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time  `db:"updated_at" json:"updated_at"`
	DeletedAt      *time.Time `db:"deleted_at" json:"deleted_at,omitempty"`
}

// UserStudy links a researcher account to a study with a role
type UserStudy struct {
	ID        int64      `db:"id" json:"id"`
	UserID    int64      `db:"user_id" json:"user_id"`
	StudyID   int64      `db:"study_id" json:"study_id"`
	Role      string     `db:"role" json:"role"` // 'owner', 'editor' or 'viewer'
	CreatedAt time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt time.Time  `db:"updated_at" json:"updated_at"`
	DeletedAt *time.Time `db:"deleted_at" json:"deleted_at,omitempty"`
}
