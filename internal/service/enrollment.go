package service

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"log"
	"math/big"
	"strings"
	"time"

	"github.com/kkkkikiki/studyping/internal/model"
	"github.com/kkkkikiki/studyping/internal/schedule"
)

const (
	linkCodeAlphabet = "abcdefghijkmnpqrstuvwxyz23456789"
	linkCodeLength   = 6
	linkCodeAttempts = 10
)

// EnrollmentConfig holds the code lifetimes
type EnrollmentConfig struct {
	LinkCodeTTL      time.Duration
	DashboardCodeTTL time.Duration
}

// EnrollmentService signs participants up and links them to a recipient
type EnrollmentService struct {
	store     Store
	generator *PingGenerator
	now       Clock
	cfg       EnrollmentConfig
}

// NewEnrollmentService creates an EnrollmentService
func NewEnrollmentService(store Store, generator *PingGenerator, now Clock, cfg EnrollmentConfig) *EnrollmentService {
	if cfg.LinkCodeTTL <= 0 {
		cfg.LinkCodeTTL = 24 * time.Hour
	}
	if cfg.DashboardCodeTTL <= 0 {
		cfg.DashboardCodeTTL = time.Hour
	}
	if now == nil {
		now = SystemClock
	}
	return &EnrollmentService{store: store, generator: generator, now: now, cfg: cfg}
}

// Signup creates an unlinked enrollment in the study with the given code and
// issues its single-use link code.
func (s *EnrollmentService) Signup(ctx context.Context, studyCode, pid, tz string) (*model.Enrollment, error) {
	study, err := s.store.GetStudyByCode(ctx, studyCode, false)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return nil, fmt.Errorf("%w: code=%q", ErrStudyNotFound, studyCode)
		}
		return nil, fmt.Errorf("failed to get study: %w", err)
	}
	if _, err := schedule.LoadZone(tz); err != nil {
		return nil, err
	}

	code, err := s.newLinkCode(ctx)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	expires := now.Add(s.cfg.LinkCodeTTL)
	e := &model.Enrollment{
		StudyID:          study.ID,
		TZ:               tz,
		StudyPID:         pid,
		LinkCode:         &code,
		LinkCodeExpireTS: &expires,
		SignupTS:         now,
	}
	if err := s.store.CreateEnrollment(ctx, e); err != nil {
		return nil, fmt.Errorf("failed to create enrollment: %w", err)
	}

	log.Printf("[LINK] enrollment=%d signed up to study=%d", e.ID, study.ID)
	return e, nil
}

func (s *EnrollmentService) newLinkCode(ctx context.Context) (string, error) {
	for i := 0; i < linkCodeAttempts; i++ {
		code, err := randomLinkCode()
		if err != nil {
			return "", err
		}
		exists, err := s.store.LinkCodeExists(ctx, code)
		if err != nil {
			return "", fmt.Errorf("failed to check link code: %w", err)
		}
		if !exists {
			return code, nil
		}
	}
	return "", fmt.Errorf("failed to allocate a unique link code after %d attempts", linkCodeAttempts)
}

func randomLinkCode() (string, error) {
	size := big.NewInt(int64(len(linkCodeAlphabet)))
	b := make([]byte, linkCodeLength)
	for i := range b {
		n, err := rand.Int(rand.Reader, size)
		if err != nil {
			return "", fmt.Errorf("failed to read random link code: %w", err)
		}
		b[i] = linkCodeAlphabet[n.Int64()]
	}
	return string(b), nil
}

// Link redeems a link code for recipient and generates the enrollment's
// pings. When generation fails the enrollment stays linked and the error
// wraps ErrGenerationFailed.
func (s *EnrollmentService) Link(ctx context.Context, code, recipient string) (*model.Enrollment, error) {
	code = strings.ToLower(strings.TrimSpace(code))
	if !ValidLinkCode(code) || recipient == "" {
		return nil, ErrInvalidLinkCode
	}
	now := s.now().UTC()

	var linked *model.Enrollment
	err := s.store.WithTx(ctx, func(tx Store) error {
		e, err := tx.GetEnrollmentByLinkCode(ctx, code)
		if err != nil {
			if errors.Is(err, model.ErrNotFound) {
				return ErrInvalidLinkCode
			}
			return fmt.Errorf("failed to get enrollment: %w", err)
		}
		if e.LinkCodeUsed || (e.LinkCodeExpireTS != nil && !now.Before(*e.LinkCodeExpireTS)) {
			return ErrInvalidLinkCode
		}
		if err := tx.MarkLinked(ctx, e.ID, recipient, now); err != nil {
			if errors.Is(err, model.ErrNotFound) {
				return ErrInvalidLinkCode
			}
			return fmt.Errorf("failed to link enrollment: %w", err)
		}
		linked, err = tx.GetEnrollment(ctx, e.ID, false)
		if err != nil {
			return fmt.Errorf("failed to reload enrollment: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	log.Printf("[LINK] enrollment=%d linked", linked.ID)

	if _, err := s.generator.Generate(ctx, linked.ID); err != nil {
		log.Printf("[LINK] enrollment=%d is linked but has no pings: %v", linked.ID, err)
		return linked, fmt.Errorf("%w: %w", ErrGenerationFailed, err)
	}
	return linked, nil
}

// IssueDashboardCode stores a fresh one-time dashboard code for the
// enrollment and returns it.
func (s *EnrollmentService) IssueDashboardCode(ctx context.Context, enrollmentID int64) (string, time.Time, error) {
	if _, err := s.store.GetEnrollment(ctx, enrollmentID, false); err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return "", time.Time{}, fmt.Errorf("%w: id=%d", ErrEnrollmentNotFound, enrollmentID)
		}
		return "", time.Time{}, fmt.Errorf("failed to get enrollment: %w", err)
	}

	raw := make([]byte, 16)
	if _, err := rand.Read(raw); err != nil {
		return "", time.Time{}, fmt.Errorf("failed to read random dashboard code: %w", err)
	}
	code := base64.RawURLEncoding.EncodeToString(raw)
	expires := s.now().UTC().Add(s.cfg.DashboardCodeTTL)

	if err := s.store.SetDashboardCode(ctx, enrollmentID, code, expires); err != nil {
		return "", time.Time{}, fmt.Errorf("failed to store dashboard code: %w", err)
	}
	return code, expires, nil
}

// Unenroll soft-deletes the enrollment together with its pings.
func (s *EnrollmentService) Unenroll(ctx context.Context, enrollmentID int64) error {
	now := s.now().UTC()
	err := s.store.WithTx(ctx, func(tx Store) error {
		if _, err := tx.GetEnrollment(ctx, enrollmentID, false); err != nil {
			if errors.Is(err, model.ErrNotFound) {
				return fmt.Errorf("%w: id=%d", ErrEnrollmentNotFound, enrollmentID)
			}
			return fmt.Errorf("failed to get enrollment: %w", err)
		}
		if err := tx.SoftDeleteEnrollment(ctx, enrollmentID, now); err != nil {
			return fmt.Errorf("failed to delete enrollment: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	log.Printf("[LINK] enrollment=%d unenrolled", enrollmentID)
	return nil
}

// ValidLinkCode reports whether code is shaped like an issued link code.
func ValidLinkCode(code string) bool {
	if len(code) != linkCodeLength {
		return false
	}
	for i := 0; i < len(code); i++ {
		if strings.IndexByte(linkCodeAlphabet, code[i]) < 0 {
			return false
		}
	}
	return true
}
