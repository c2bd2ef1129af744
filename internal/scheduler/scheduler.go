// Package scheduler owns the background poll loop that promotes due
// campaigns to running workers, and enforces at most one active worker per
// campaign: atomically in the store via the conditional claim, and locally
// via a registry of live runners.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"dispatch/internal/observability"
)

type Store interface {
	DueCampaigns(ctx context.Context, now time.Time, staleAfter time.Duration) ([]string, error)
	ClaimCampaign(ctx context.Context, id string, now time.Time, staleAfter time.Duration) (bool, error)
}

// RunnerFunc processes one claimed campaign to a stopping point.
type RunnerFunc func(ctx context.Context, campaignID string) error

type Scheduler struct {
	Store      Store
	Run        RunnerFunc
	Interval   time.Duration
	StaleAfter time.Duration

	mu     sync.Mutex
	active map[string]context.CancelFunc
	wg     sync.WaitGroup
	nudge  chan struct{}
}

func New(st Store, run RunnerFunc, interval, staleAfter time.Duration) *Scheduler {
	return &Scheduler{
		Store:      st,
		Run:        run,
		Interval:   interval,
		StaleAfter: staleAfter,
		active:     map[string]context.CancelFunc{},
		nudge:      make(chan struct{}, 1),
	}
}

// Start polls until ctx is cancelled, then waits for live runners to stop.
func (s *Scheduler) Start(ctx context.Context) error {
	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()

	s.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			s.stopAll()
			s.wg.Wait()
			return ctx.Err()
		case <-ticker.C:
			s.tick(ctx)
		case <-s.nudge:
			s.tick(ctx)
		}
	}
}

// Nudge requests an immediate tick, so co-located submissions and resumes
// do not wait out a full poll interval.
func (s *Scheduler) Nudge() {
	select {
	case s.nudge <- struct{}{}:
	default:
	}
}

// Interrupt cancels the live runner for a campaign, if this process has
// one, so a pause or cancel cuts a pending delay short. Returns whether a
// runner was found.
func (s *Scheduler) Interrupt(campaignID string) bool {
	s.mu.Lock()
	cancel, ok := s.active[campaignID]
	s.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

func (s *Scheduler) ActiveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active)
}

func (s *Scheduler) tick(ctx context.Context) {
	now := time.Now().UTC()
	ids, err := s.Store.DueCampaigns(ctx, now, s.StaleAfter)
	if err != nil {
		slog.Error("scheduler poll failed", "err", err)
		return
	}
	for _, id := range ids {
		s.startRunner(ctx, id)
	}
}

func (s *Scheduler) startRunner(ctx context.Context, campaignID string) {
	s.mu.Lock()
	if _, running := s.active[campaignID]; running {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	claimed, err := s.Store.ClaimCampaign(ctx, campaignID, time.Now().UTC(), s.StaleAfter)
	if err != nil {
		slog.Error("claim failed", "campaign_id", campaignID, "err", err)
		return
	}
	if !claimed {
		// Another instance (or a concurrent tick) got there first.
		observability.Claims.WithLabelValues("lost").Inc()
		return
	}
	observability.Claims.WithLabelValues("won").Inc()
	observability.CampaignTransitions.WithLabelValues("running").Inc()

	runCtx, cancel := context.WithCancel(ctx)

	s.mu.Lock()
	if _, running := s.active[campaignID]; running {
		s.mu.Unlock()
		cancel()
		return
	}
	s.active[campaignID] = cancel
	s.mu.Unlock()

	observability.ActiveRunners.Inc()
	s.wg.Add(1)
	go func() {
		defer func() {
			cancel()
			s.mu.Lock()
			delete(s.active, campaignID)
			s.mu.Unlock()
			observability.ActiveRunners.Dec()
			s.wg.Done()
		}()

		slog.Info("runner started", "campaign_id", campaignID)
		if err := s.Run(runCtx, campaignID); err != nil {
			// Campaign-fatal: already marked failed by the runner, not
			// retried automatically. An operator resubmits after fixing
			// the underlying fault.
			slog.Error("runner halted", "campaign_id", campaignID, "err", err)
		}
	}()
}

func (s *Scheduler) stopAll() {
	s.mu.Lock()
	for _, cancel := range s.active {
		cancel()
	}
	s.mu.Unlock()
}
