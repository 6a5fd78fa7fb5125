package service

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log"

	"github.com/kkkkikiki/studyping/internal/metrics"
	"github.com/kkkkikiki/studyping/internal/model"
	"github.com/kkkkikiki/studyping/internal/render"
)

// ExpiredMessage is shown instead of a redirect once a ping has lapsed.
const ExpiredMessage = "This ping has expired. Please wait for the next one."

// ForwardResult tells the HTTP layer how to answer a click
type ForwardResult struct {
	Expired     bool
	RedirectURL string // empty when the template links nowhere
}

// Forwarder validates and records clicks on forwarding links
type Forwarder struct {
	store    Store
	renderer *render.Renderer
	tracker  *CompletionTracker
	now      Clock
}

// NewForwarder creates a Forwarder
func NewForwarder(store Store, renderer *render.Renderer, tracker *CompletionTracker, now Clock) *Forwarder {
	if now == nil {
		now = SystemClock
	}
	return &Forwarder{store: store, renderer: renderer, tracker: tracker, now: now}
}

// Forward checks code against the ping's forwarding secret, records the
// click and resolves where to send the participant. Nothing is written
// unless the code matches.
func (f *Forwarder) Forward(ctx context.Context, pingID int64, code string) (result *ForwardResult, err error) {
	status := "error"
	defer func() { metrics.RecordForward(status) }()

	p, err := f.store.GetPing(ctx, pingID, false)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			status = "not_found"
			return nil, ErrPingNotFound
		}
		return nil, fmt.Errorf("failed to get ping: %w", err)
	}

	if code == "" || subtle.ConstantTimeCompare([]byte(code), []byte(p.ForwardingCode)) != 1 {
		status = "invalid_code"
		log.Printf("[FORWARD] rejected click on ping=%d: invalid code", pingID)
		return nil, ErrInvalidCode
	}

	now := f.now()
	p, err = f.store.RecordClick(ctx, pingID, now)
	if err != nil {
		return nil, fmt.Errorf("failed to record click: %w", err)
	}

	if p.Expired(now) {
		status = "expired"
		log.Printf("[FORWARD] click on expired ping=%d", pingID)
		return &ForwardResult{Expired: true}, nil
	}

	if _, err := f.tracker.Recompute(ctx, p.EnrollmentID); err != nil {
		log.Printf("[FORWARD] enrollment=%d: failed to recompute completion: %v", p.EnrollmentID, err)
	}

	b, err := loadBundle(ctx, f.store, p)
	if err != nil {
		return nil, fmt.Errorf("failed to load ping context: %w", err)
	}
	target, err := f.renderer.SurveyURL(b)
	if err != nil {
		return nil, fmt.Errorf("failed to render survey url: %w", err)
	}

	status = "redirect"
	log.Printf("[FORWARD] ping=%d clicked, enrollment=%d", p.ID, p.EnrollmentID)
	return &ForwardResult{RedirectURL: target}, nil
}
