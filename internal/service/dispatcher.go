package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kkkkikiki/studyping/internal/metrics"
	"github.com/kkkkikiki/studyping/internal/render"
)

// DispatcherConfig bounds the work done by one tick
type DispatcherConfig struct {
	BatchSize   int           // max pings claimed per phase per tick
	Workers     int           // concurrent transmissions
	SendTimeout time.Duration // per transmission attempt
}

// DefaultDispatcherConfig returns the recommended limits
func DefaultDispatcherConfig() DispatcherConfig {
	return DispatcherConfig{BatchSize: 500, Workers: 8, SendTimeout: 10 * time.Second}
}

// TickResult summarises one dispatch tick
type TickResult struct {
	Sent           int `json:"sent"`
	Failed         int `json:"failed"`
	Blocked        int `json:"blocked"`
	Reminded       int `json:"reminded"`
	ReminderFailed int `json:"reminder_failed"`
}

type outcome int

const (
	outcomeSent outcome = iota
	outcomeFailed
	outcomeBlocked
)

func (o outcome) String() string {
	switch o {
	case outcomeSent:
		return "success"
	case outcomeBlocked:
		return "blocked"
	default:
		return "failure"
	}
}

type phase struct {
	kind     string
	reminder bool
	claim    func(ctx context.Context, now time.Time, limit int) ([]int64, error)
	release  func(ctx context.Context, id int64, claimedAt time.Time) error
	sent     func(ctx context.Context, id, enrollmentID int64, text string)
}

// Dispatcher sends due pings and reminders
type Dispatcher struct {
	store    Store
	sender   Sender
	renderer *render.Renderer
	tracker  *CompletionTracker
	now      Clock
	cfg      DispatcherConfig
}

// NewDispatcher creates a Dispatcher
func NewDispatcher(store Store, sender Sender, renderer *render.Renderer, tracker *CompletionTracker, now Clock, cfg DispatcherConfig) *Dispatcher {
	def := DefaultDispatcherConfig()
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = def.SendTimeout
	}
	if now == nil {
		now = SystemClock
	}
	return &Dispatcher{
		store:    store,
		sender:   sender,
		renderer: renderer,
		tracker:  tracker,
		now:      now,
		cfg:      cfg,
	}
}

// Tick runs the send phase and then the reminder phase once. Items are
// claimed in the datastore before transmission and released when it fails,
// so a failed item is retried on the next tick and never within this one.
func (d *Dispatcher) Tick(ctx context.Context) (TickResult, error) {
	start := time.Now()
	var res TickResult
	var errs []error

	// Postgres stores microseconds; the claim stamp must compare equal on release.
	now := d.now().UTC().Truncate(time.Microsecond)

	sends := phase{
		kind:    "ping",
		claim:   d.store.ClaimDuePings,
		release: d.store.ReleasePing,
		sent:    d.onPingSent,
	}
	counts, err := d.runPhase(ctx, sends, now)
	if err != nil {
		errs = append(errs, err)
	}
	res.Sent, res.Failed, res.Blocked = counts[outcomeSent], counts[outcomeFailed], counts[outcomeBlocked]

	reminders := phase{
		kind:     "reminder",
		reminder: true,
		claim:    d.store.ClaimDueReminders,
		release:  d.store.ReleaseReminder,
	}
	counts, err = d.runPhase(ctx, reminders, now)
	if err != nil {
		errs = append(errs, err)
	}
	res.Reminded = counts[outcomeSent]
	res.ReminderFailed = counts[outcomeFailed] + counts[outcomeBlocked]
	res.Blocked += counts[outcomeBlocked]

	metrics.RecordDispatchTick(time.Since(start).Seconds())
	if res != (TickResult{}) {
		log.Printf("[DISPATCH] tick at %s: sent=%d failed=%d blocked=%d reminded=%d reminder_failed=%d",
			now.Format(time.RFC3339), res.Sent, res.Failed, res.Blocked, res.Reminded, res.ReminderFailed)
	}
	return res, errors.Join(errs...)
}

func (d *Dispatcher) runPhase(ctx context.Context, ph phase, now time.Time) (map[outcome]int, error) {
	counts := map[outcome]int{}
	ids, err := ph.claim(ctx, now, d.cfg.BatchSize)
	if err != nil {
		return counts, fmt.Errorf("failed to claim due %ss: %w", ph.kind, err)
	}
	if len(ids) == 0 {
		return counts, nil
	}

	var mu sync.Mutex
	var g errgroup.Group
	g.SetLimit(d.cfg.Workers)
	for _, id := range ids {
		g.Go(func() error {
			o := d.deliver(ctx, ph, id, now)
			metrics.RecordMessage(ph.kind, o.String())
			mu.Lock()
			counts[o]++
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return counts, nil
}

// deliver transmits one claimed item. Every failure path releases the claim.
func (d *Dispatcher) deliver(ctx context.Context, ph phase, id int64, claimedAt time.Time) outcome {
	release := func(reason string, cause error) {
		// The claim must be released even when the tick context is done.
		if err := ph.release(context.WithoutCancel(ctx), id, claimedAt); err != nil {
			log.Printf("[DISPATCH] %s=%d: failed to release claim after %s: %v", ph.kind, id, reason, err)
		}
		log.Printf("[DISPATCH] %s=%d not delivered (%s): %v", ph.kind, id, reason, cause)
	}

	p, err := d.store.GetPing(ctx, id, true)
	if err != nil {
		release("load", err)
		return outcomeFailed
	}
	b, err := loadBundle(ctx, d.store, p)
	if err != nil {
		release("load", err)
		return outcomeFailed
	}
	if !b.Enrollment.Linked() {
		release("unlinked", errors.New("enrollment has no recipient"))
		return outcomeFailed
	}

	var text string
	if ph.reminder {
		text, err = d.renderer.Reminder(b)
	} else {
		text, err = d.renderer.Message(b)
	}
	if err != nil {
		release("render", err)
		return outcomeFailed
	}

	recipient := *b.Enrollment.TelegramID
	sendCtx, cancel := context.WithTimeout(ctx, d.cfg.SendTimeout)
	err = d.sender.Send(sendCtx, recipient, text)
	cancel()
	if err != nil {
		if errors.Is(err, ErrRecipientBlocked) {
			release("blocked", err)
			n, cerr := d.store.ClearRecipient(context.WithoutCancel(ctx), recipient)
			if cerr != nil {
				log.Printf("[DISPATCH] failed to clear blocked recipient of enrollment=%d: %v", b.Enrollment.ID, cerr)
			} else {
				log.Printf("[DISPATCH] recipient of enrollment=%d is unreachable, unlinked %d enrollments", b.Enrollment.ID, n)
			}
			return outcomeBlocked
		}
		release("send", err)
		return outcomeFailed
	}

	if ph.sent != nil {
		ph.sent(ctx, p.ID, b.Enrollment.ID, text)
	}
	log.Printf("[DISPATCH] %s=%d sent to enrollment=%d", ph.kind, p.ID, b.Enrollment.ID)
	return outcomeSent
}

// onPingSent snapshots the text and refreshes the completion ratio. The
// send is already committed, so failures here are only logged.
func (d *Dispatcher) onPingSent(ctx context.Context, id, enrollmentID int64, text string) {
	ctx = context.WithoutCancel(ctx)
	if err := d.store.MarkPingSent(ctx, id, text); err != nil {
		log.Printf("[DISPATCH] ping=%d: failed to store sent message: %v", id, err)
	}
	if _, err := d.tracker.Recompute(ctx, enrollmentID); err != nil {
		log.Printf("[DISPATCH] enrollment=%d: failed to recompute completion: %v", enrollmentID, err)
	}
}
