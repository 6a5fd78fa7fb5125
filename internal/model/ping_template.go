package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/kkkkikiki/studyping/internal/schedule"
)

// PingTemplate describes a recurring message of a study and when to send it
type PingTemplate struct {
	ID              int64        `db:"id" json:"id"`
	StudyID         int64        `db:"study_id" json:"study_id"`
	Name            string       `db:"name" json:"name" validate:"required,max=255"`
	Message         string       `db:"message" json:"message" validate:"required"`
	URL             *string      `db:"url" json:"url" validate:"omitempty,max=2048"`
	URLText         *string      `db:"url_text" json:"url_text" validate:"omitempty,max=255"`
	ReminderLatency NullDuration `db:"reminder_latency_s" json:"reminder_latency"`
	ExpireLatency   NullDuration `db:"expire_latency_s" json:"expire_latency"`
	Schedule        Schedule     `db:"schedule" json:"schedule" validate:"required,min=1,dive"`
	CreatedAt       time.Time    `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time    `db:"updated_at" json:"updated_at"`
	DeletedAt       *time.Time   `db:"deleted_at" json:"deleted_at,omitempty"`
}

// HasURL reports whether the template links to a survey.
func (t *PingTemplate) HasURL() bool {
	return t.URL != nil && *t.URL != ""
}

// Schedule is the JSONB list of windows of a template
type Schedule []schedule.Window

// Value implements driver.Valuer
func (s Schedule) Value() (driver.Value, error) {
	if s == nil {
		return []byte("[]"), nil
	}
	b, err := json.Marshal([]schedule.Window(s))
	if err != nil {
		return nil, fmt.Errorf("failed to encode schedule: %w", err)
	}
	return b, nil
}

// Scan implements sql.Scanner
func (s *Schedule) Scan(src any) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*s = nil
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("unsupported schedule column type %T", src)
	}
	var windows []schedule.Window
	if err := json.Unmarshal(raw, &windows); err != nil {
		return fmt.Errorf("failed to decode schedule: %w", err)
	}
	*s = windows
	return nil
}

// NullDuration is an optional latency stored as whole seconds
type NullDuration struct {
	Duration time.Duration
	Valid    bool
}

// NewNullDuration returns a set latency.
func NewNullDuration(d time.Duration) NullDuration {
	return NullDuration{Duration: d, Valid: true}
}

// Value implements driver.Valuer
func (d NullDuration) Value() (driver.Value, error) {
	if !d.Valid {
		return nil, nil
	}
	return int64(d.Duration / time.Second), nil
}

// Scan implements sql.Scanner
func (d *NullDuration) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*d = NullDuration{}
	case int64:
		*d = NewNullDuration(time.Duration(v) * time.Second)
	default:
		return fmt.Errorf("unsupported latency column type %T", src)
	}
	return nil
}

// After returns t shifted by the latency, or nil when unset.
func (d NullDuration) After(t time.Time) *time.Time {
	if !d.Valid {
		return nil
	}
	v := t.Add(d.Duration)
	return &v
}

// MarshalJSON encodes the latency as a Go duration string or null.
func (d NullDuration) MarshalJSON() ([]byte, error) {
	if !d.Valid {
		return []byte("null"), nil
	}
	return json.Marshal(d.Duration.String())
}

// UnmarshalJSON accepts null or a Go duration string such as "1h30m".
func (d *NullDuration) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*d = NullDuration{}
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("latency must be a duration string: %w", err)
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid latency %q: %w", s, err)
	}
	*d = NewNullDuration(v)
	return nil
}
