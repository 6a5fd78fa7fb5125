package service

import (
	"context"
	"fmt"

	"github.com/kkkkikiki/studyping/internal/model"
)

// CompletionTracker maintains enrollments.pr_completed
type CompletionTracker struct {
	store Store
}

// NewCompletionTracker creates a CompletionTracker
func NewCompletionTracker(store Store) *CompletionTracker {
	return &CompletionTracker{store: store}
}

// Recompute derives the completion ratio of an enrollment from its pings and
// stores it. It is idempotent for a given set of pings.
func (c *CompletionTracker) Recompute(ctx context.Context, enrollmentID int64) (float64, error) {
	pings, err := c.store.ListPingsByEnrollment(ctx, enrollmentID, false)
	if err != nil {
		return 0, fmt.Errorf("failed to list pings: %w", err)
	}
	ratio := CompletionRatio(pings)
	if err := c.store.SetCompletion(ctx, enrollmentID, ratio); err != nil {
		return 0, fmt.Errorf("failed to store completion ratio: %w", err)
	}
	return ratio, nil
}

// CompletionRatio is clicked-and-sent over sent, or 0 when nothing was sent.
func CompletionRatio(pings []*model.Ping) float64 {
	var sent, completed int
	for _, p := range pings {
		if p.SentTS == nil {
			continue
		}
		sent++
		if p.FirstClickedTS != nil {
			completed++
		}
	}
	if sent == 0 {
		return 0
	}
	return float64(completed) / float64(sent)
}
