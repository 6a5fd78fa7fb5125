package service

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/go-playground/validator/v10"

	"github.com/kkkkikiki/studyping/internal/model"
)

// TemplateService manages the ping templates of a study
type TemplateService struct {
	store    Store
	validate *validator.Validate
	now      Clock
}

// NewTemplateService creates a TemplateService
func NewTemplateService(store Store, now Clock) *TemplateService {
	if now == nil {
		now = SystemClock
	}
	return &TemplateService{store: store, validate: validator.New(), now: now}
}

// CreateTemplate validates t and stores it under its study.
func (s *TemplateService) CreateTemplate(ctx context.Context, t *model.PingTemplate) error {
	if err := s.check(t); err != nil {
		return err
	}
	if _, err := s.store.GetStudy(ctx, t.StudyID, false); err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return fmt.Errorf("%w: id=%d", ErrStudyNotFound, t.StudyID)
		}
		return fmt.Errorf("failed to get study: %w", err)
	}
	if err := s.store.CreateTemplate(ctx, t); err != nil {
		return fmt.Errorf("failed to create ping template: %w", err)
	}
	log.Printf("[TEMPLATE] created template=%d for study=%d with %d windows", t.ID, t.StudyID, len(t.Schedule))
	return nil
}

// UpdateSchedule replaces the schedule of a template. Pings that were
// already generated keep their instants.
func (s *TemplateService) UpdateSchedule(ctx context.Context, id int64, sched model.Schedule) error {
	t, err := s.store.GetTemplate(ctx, id, false)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return fmt.Errorf("%w: id=%d", ErrTemplateNotFound, id)
		}
		return fmt.Errorf("failed to get ping template: %w", err)
	}
	t.Schedule = sched
	if err := s.check(t); err != nil {
		return err
	}
	if err := s.store.UpdateTemplateSchedule(ctx, id, sched); err != nil {
		return fmt.Errorf("failed to update schedule: %w", err)
	}
	return nil
}

// DeleteTemplate soft-deletes a template and its pings.
func (s *TemplateService) DeleteTemplate(ctx context.Context, id int64) error {
	now := s.now().UTC()
	return s.store.WithTx(ctx, func(tx Store) error {
		if _, err := tx.GetTemplate(ctx, id, false); err != nil {
			if errors.Is(err, model.ErrNotFound) {
				return fmt.Errorf("%w: id=%d", ErrTemplateNotFound, id)
			}
			return fmt.Errorf("failed to get ping template: %w", err)
		}
		if err := tx.SoftDeleteTemplate(ctx, id, now); err != nil {
			return fmt.Errorf("failed to delete ping template: %w", err)
		}
		return nil
	})
}

func (s *TemplateService) check(t *model.PingTemplate) error {
	if err := s.validate.Struct(t); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidTemplate, err)
	}
	if t.ReminderLatency.Valid && t.ReminderLatency.Duration < 0 {
		return fmt.Errorf("%w: negative reminder latency", ErrInvalidTemplate)
	}
	if t.ExpireLatency.Valid && t.ExpireLatency.Duration < 0 {
		return fmt.Errorf("%w: negative expire latency", ErrInvalidTemplate)
	}
	for i, w := range t.Schedule {
		if err := w.Validate(); err != nil {
			return fmt.Errorf("window %d: %w", i, err)
		}
	}
	return nil
}
