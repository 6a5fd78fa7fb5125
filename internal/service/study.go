package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/kkkkikiki/studyping/internal/model"
)

// StudyService registers studies participants can sign up to
type StudyService struct {
	store    Store
	validate *validator.Validate
}

// NewStudyService creates a StudyService
func NewStudyService(store Store) *StudyService {
	return &StudyService{store: store, validate: validator.New()}
}

// CreateStudy validates the study and stores it. Enrollment codes are unique
// across deleted studies too.
func (s *StudyService) CreateStudy(ctx context.Context, study *model.Study) error {
	study.Code = strings.TrimSpace(study.Code)
	if err := s.validate.Struct(study); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidStudy, err)
	}

	_, err := s.store.GetStudyByCode(ctx, study.Code, true)
	switch {
	case err == nil:
		return fmt.Errorf("%w: code %q is already in use", ErrInvalidStudy, study.Code)
	case !errors.Is(err, model.ErrNotFound):
		return fmt.Errorf("failed to check study code: %w", err)
	}

	if err := s.store.CreateStudy(ctx, study); err != nil {
		return fmt.Errorf("failed to create study: %w", err)
	}
	log.Printf("[TEMPLATE] created study=%d code=%q", study.ID, study.Code)
	return nil
}
