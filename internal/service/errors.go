package service

import (
	"errors"

	"github.com/kkkkikiki/studyping/internal/schedule"
	"github.com/kkkkikiki/studyping/internal/telegram"
)

var (
	// Configuration errors.
	ErrInvalidWindow   = schedule.ErrInvalidWindow
	ErrInvalidTimezone = schedule.ErrInvalidTimezone
	ErrNoTemplates     = errors.New("study has no ping templates")
	ErrInvalidTemplate = errors.New("invalid ping template")
	ErrInvalidStudy    = errors.New("invalid study")

	// Generation preconditions.
	ErrNotEnrolled      = errors.New("enrollment is not enrolled")
	ErrAlreadyGenerated = errors.New("pings already generated for enrollment")

	// Lookup errors.
	ErrStudyNotFound      = errors.New("study not found")
	ErrEnrollmentNotFound = errors.New("enrollment not found")
	ErrTemplateNotFound   = errors.New("ping template not found")
	ErrPingNotFound       = errors.New("ping not found")

	// Participant-facing errors.
	ErrInvalidCode     = errors.New("invalid code")
	ErrInvalidLinkCode = errors.New("link code invalid or expired")

	// ErrGenerationFailed wraps a generation error raised after an
	// enrollment was already linked.
	ErrGenerationFailed = errors.New("ping generation failed")

	// ErrRecipientBlocked marks a permanent delivery failure: the recipient
	// blocked the bot or no longer exists.
	ErrRecipientBlocked = telegram.ErrRecipientBlocked
)
