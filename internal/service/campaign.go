package service

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"dispatch/internal/domain"
	"dispatch/internal/humanize"
	"dispatch/internal/observability"
	"dispatch/internal/store"
	"dispatch/internal/util"
)

var (
	ErrNotFound = errors.New("campaign not found")
	// ErrConflict means the campaign's current status does not allow the
	// requested transition.
	ErrConflict = errors.New("invalid status transition")
)

type Store interface {
	InsertCampaign(ctx context.Context, in store.CampaignInsert) error
	GetCampaign(ctx context.Context, id string) (store.Campaign, bool, error)
	RecipientAtPosition(ctx context.Context, campaignID string, pos int) (store.Recipient, bool, error)
	PauseCampaign(ctx context.Context, id string, now time.Time) (bool, error)
	ResumeCampaign(ctx context.Context, id string, now time.Time) (bool, error)
	CancelCampaign(ctx context.Context, id string, now time.Time) (bool, error)
}

// Engine is the optional co-located scheduler. Control operations go
// through the store either way; the engine hooks only cut latency (prompt
// resume pick-up, prompt interruption of a pending delay).
type Engine interface {
	Nudge()
	Interrupt(campaignID string) bool
}

type CampaignService struct {
	Store  Store
	Engine Engine

	mu  sync.Mutex
	rnd *rand.Rand
}

func New(st Store, eng Engine) *CampaignService {
	return &CampaignService{
		Store:  st,
		Engine: eng,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Submit validates and persists a campaign with its recipients. The
// processing order is fixed here, once: shuffled when the campaign asks for
// randomization, submission order otherwise. Pause/resume and crash
// recovery reuse these positions.
func (s *CampaignService) Submit(ctx context.Context, req domain.SubmitCampaignRequest) (domain.SubmitResponse, error) {
	if err := req.Validate(); err != nil {
		return domain.SubmitResponse{}, err
	}

	var order []int
	if req.Pacing.Randomize {
		s.mu.Lock()
		order = humanize.Shuffle(len(req.Recipients), s.rnd)
		s.mu.Unlock()
	} else {
		order = humanize.Identity(len(req.Recipients))
	}

	in := store.CampaignInsert{
		ID:              util.NewCampaignID(),
		Name:            req.Name,
		MessageType:     string(req.Message.Type),
		MessageTemplate: req.Message.TextTemplate,
		MediaRef:        req.Message.MediaRef,
		DelayMinSecs:    req.Pacing.DelayMinSecs,
		DelayMaxSecs:    req.Pacing.DelayMaxSecs,
		Randomize:       req.Pacing.Randomize,
		ScheduledAt:     req.ScheduledAt,
		Status:          domain.StatusScheduled.String(),
		Now:             util.NowUTC(),
	}
	in.Recipients = make([]store.RecipientInsert, len(req.Recipients))
	for i, r := range req.Recipients {
		in.Recipients[i] = store.RecipientInsert{
			ID:            util.NewRecipientID(),
			Destination:   r.Destination,
			DisplayName:   r.DisplayName,
			Vars:          r.Vars,
			OrderPosition: order[i],
		}
	}

	if err := s.Store.InsertCampaign(ctx, in); err != nil {
		return domain.SubmitResponse{}, err
	}
	observability.CampaignTransitions.WithLabelValues("scheduled").Inc()

	// Immediate submissions are picked up on the next tick; nudge so a
	// co-located engine does not wait one out.
	if req.ScheduledAt == nil && s.Engine != nil {
		s.Engine.Nudge()
	}

	return domain.SubmitResponse{CampaignID: in.ID, Status: in.Status}, nil
}

func (s *CampaignService) Get(ctx context.Context, id string) (store.Campaign, error) {
	c, found, err := s.Store.GetCampaign(ctx, id)
	if err != nil {
		return store.Campaign{}, err
	}
	if !found {
		return store.Campaign{}, ErrNotFound
	}
	return c, nil
}

// Pause takes effect after the in-flight recipient completes: the store
// transition is observed by the worker at its next iteration boundary, and
// the interrupt only cuts a pending delay short.
func (s *CampaignService) Pause(ctx context.Context, id string) error {
	ok, err := s.Store.PauseCampaign(ctx, id, util.NowUTC())
	if err != nil {
		return err
	}
	if !ok {
		return s.transitionErr(ctx, id)
	}
	observability.CampaignTransitions.WithLabelValues("paused").Inc()
	if s.Engine != nil {
		s.Engine.Interrupt(id)
	}
	return nil
}

func (s *CampaignService) Resume(ctx context.Context, id string) error {
	ok, err := s.Store.ResumeCampaign(ctx, id, util.NowUTC())
	if err != nil {
		return err
	}
	if !ok {
		return s.transitionErr(ctx, id)
	}
	observability.CampaignTransitions.WithLabelValues("running").Inc()
	if s.Engine != nil {
		s.Engine.Nudge()
	}
	return nil
}

func (s *CampaignService) Cancel(ctx context.Context, id string) error {
	ok, err := s.Store.CancelCampaign(ctx, id, util.NowUTC())
	if err != nil {
		return err
	}
	if !ok {
		return s.transitionErr(ctx, id)
	}
	observability.CampaignTransitions.WithLabelValues("cancelled").Inc()
	if s.Engine != nil {
		s.Engine.Interrupt(id)
	}
	return nil
}

func (s *CampaignService) Progress(ctx context.Context, id string) (domain.Progress, error) {
	c, found, err := s.Store.GetCampaign(ctx, id)
	if err != nil {
		return domain.Progress{}, err
	}
	if !found {
		return domain.Progress{}, ErrNotFound
	}

	p := domain.Progress{
		CampaignID: c.ID,
		Status:     c.Status,
		Total:      c.Total,
		Sent:       c.Sent,
		Failed:     c.Failed,
	}

	remaining := c.Total - c.Sent - c.Failed
	if remaining > 0 {
		p.EstimatedSecondsRemaining = int64(remaining) * int64(c.DelayMinSecs+c.DelayMaxSecs) / 2
	}

	if c.Status == domain.StatusRunning.String() {
		if rec, ok, err := s.Store.RecipientAtPosition(ctx, id, c.Cursor); err == nil && ok {
			p.CurrentRecipient = rec.Destination
		}
	}
	return p, nil
}

// transitionErr distinguishes "no such campaign" from "wrong status" after a
// conditional transition matched no row.
func (s *CampaignService) transitionErr(ctx context.Context, id string) error {
	_, found, err := s.Store.GetCampaign(ctx, id)
	if err != nil {
		return err
	}
	if !found {
		return ErrNotFound
	}
	return ErrConflict
}
