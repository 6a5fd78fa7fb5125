package scheduler

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/kkkkikiki/studyping/internal/service"
)

// Ticker runs one dispatch pass
type Ticker interface {
	Tick(ctx context.Context) (service.TickResult, error)
}

// Scheduler triggers dispatch ticks on a cron spec. A tick that is still
// running when the next one is due causes that one to be skipped.
type Scheduler struct {
	cron    *cron.Cron
	ticker  Ticker
	timeout time.Duration
}

// New creates a Scheduler. spec accepts the robfig/cron syntax including
// descriptors such as "@every 1m".
func New(spec string, ticker Ticker, timeout time.Duration) (*Scheduler, error) {
	c := cron.New(cron.WithChain(
		cron.Recover(cron.DefaultLogger),
		cron.SkipIfStillRunning(cron.DefaultLogger),
	))
	s := &Scheduler{cron: c, ticker: ticker, timeout: timeout}
	if _, err := c.AddFunc(spec, s.RunOnce); err != nil {
		return nil, fmt.Errorf("invalid dispatch schedule %q: %w", spec, err)
	}
	return s, nil
}

// RunOnce runs a single tick bounded by the configured timeout
func (s *Scheduler) RunOnce() {
	ctx := context.Background()
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	start := time.Now()
	if _, err := s.ticker.Tick(ctx); err != nil {
		log.Printf("[DISPATCH] tick failed after %v: %v", time.Since(start), err)
	}
}

func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts scheduling and waits for a running tick to finish or ctx to end
func (s *Scheduler) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
		log.Printf("[DISPATCH] shutdown while a tick was still running")
	}
}
