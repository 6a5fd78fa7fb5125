package service

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/google/uuid"

	"github.com/kkkkikiki/studyping/internal/metrics"
	"github.com/kkkkikiki/studyping/internal/model"
	"github.com/kkkkikiki/studyping/internal/schedule"
)

// PingGenerator materialises the pings of a newly linked enrollment
type PingGenerator struct {
	store Store
	rng   schedule.Rand
}

// NewPingGenerator creates a generator. A nil rng uses schedule.DefaultRand.
func NewPingGenerator(store Store, rng schedule.Rand) *PingGenerator {
	if rng == nil {
		rng = schedule.DefaultRand
	}
	return &PingGenerator{store: store, rng: rng}
}

// Generate creates one ping per schedule window of every template of the
// enrollment's study. Either every ping is committed or none is.
func (g *PingGenerator) Generate(ctx context.Context, enrollmentID int64) ([]*model.Ping, error) {
	var created []*model.Ping
	err := g.store.WithTx(ctx, func(tx Store) error {
		pings, err := g.generate(ctx, tx, enrollmentID)
		if err != nil {
			return err
		}
		created = pings
		return nil
	})
	if err != nil {
		metrics.RecordGenerationFailure(generationFailureReason(err))
		log.Printf("[GENERATE] aborted for enrollment=%d, no pings created: %v", enrollmentID, err)
		return nil, err
	}

	metrics.RecordPingsGenerated(len(created))
	log.Printf("[GENERATE] created %d pings for enrollment=%d", len(created), enrollmentID)
	return created, nil
}

func (g *PingGenerator) generate(ctx context.Context, tx Store, enrollmentID int64) ([]*model.Ping, error) {
	enrollment, err := tx.GetEnrollment(ctx, enrollmentID, false)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return nil, fmt.Errorf("%w: id=%d", ErrEnrollmentNotFound, enrollmentID)
		}
		return nil, fmt.Errorf("failed to get enrollment: %w", err)
	}
	if !enrollment.Enrolled {
		return nil, fmt.Errorf("%w: id=%d", ErrNotEnrolled, enrollmentID)
	}
	// Tombstoned pings count too: a ping set is generated once per enrollment.
	existing, err := tx.ListPingsByEnrollment(ctx, enrollmentID, true)
	if err != nil {
		return nil, fmt.Errorf("failed to list existing pings: %w", err)
	}
	if len(existing) > 0 {
		return nil, fmt.Errorf("%w: id=%d has %d pings", ErrAlreadyGenerated, enrollmentID, len(existing))
	}

	study, err := tx.GetStudy(ctx, enrollment.StudyID, false)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return nil, fmt.Errorf("%w: id=%d", ErrStudyNotFound, enrollment.StudyID)
		}
		return nil, fmt.Errorf("failed to get study: %w", err)
	}

	templates, err := tx.ListTemplatesByStudy(ctx, study.ID, false)
	if err != nil {
		return nil, fmt.Errorf("failed to list ping templates: %w", err)
	}
	if len(templates) == 0 {
		return nil, fmt.Errorf("%w: study=%d", ErrNoTemplates, study.ID)
	}

	loc, err := schedule.LoadZone(enrollment.TZ)
	if err != nil {
		return nil, err
	}

	var all []*model.Ping
	for _, tpl := range templates {
		pings := make([]*model.Ping, 0, len(tpl.Schedule))
		for i, w := range tpl.Schedule {
			at, err := schedule.Sample(g.rng, enrollment.SignupTS, loc, w)
			if err != nil {
				return nil, fmt.Errorf("template=%d window=%d: %w", tpl.ID, i, err)
			}
			pings = append(pings, &model.Ping{
				StudyID:        study.ID,
				PingTemplateID: tpl.ID,
				EnrollmentID:   enrollment.ID,
				DayNum:         w.BeginDay,
				ScheduledTS:    at,
				ExpireTS:       tpl.ExpireLatency.After(at),
				ReminderTS:     tpl.ReminderLatency.After(at),
				ForwardingCode: uuid.NewString(),
			})
		}
		if len(pings) == 0 {
			continue
		}
		if err := tx.CreatePings(ctx, pings); err != nil {
			return nil, fmt.Errorf("failed to create pings for template=%d: %w", tpl.ID, err)
		}
		all = append(all, pings...)
	}
	return all, nil
}

func generationFailureReason(err error) string {
	switch {
	case errors.Is(err, ErrEnrollmentNotFound), errors.Is(err, ErrStudyNotFound):
		return "not_found"
	case errors.Is(err, ErrNoTemplates):
		return "no_templates"
	case errors.Is(err, ErrNotEnrolled), errors.Is(err, ErrAlreadyGenerated):
		return "precondition"
	case errors.Is(err, ErrInvalidWindow), errors.Is(err, ErrInvalidTimezone):
		return "config"
	default:
		return "internal"
	}
}
