// Package worker runs one claimed campaign: pull the next pending recipient
// in the stored order, pace with a humanized delay, send, record the
// outcome, advance the cursor, repeat until done, paused or cancelled.
package worker

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"dispatch/internal/domain"
	"dispatch/internal/gateway"
	"dispatch/internal/observability"
	"dispatch/internal/render"
	"dispatch/internal/store"
)

type Store interface {
	GetCampaign(ctx context.Context, id string) (store.Campaign, bool, error)
	NextPending(ctx context.Context, campaignID string, fromPos int) (store.Recipient, bool, error)
	MarkRecipientSent(ctx context.Context, in store.RecipientSent) error
	MarkRecipientFailed(ctx context.Context, in store.RecipientFailed) error
	CompleteCampaign(ctx context.Context, id string, now time.Time) error
	FailCampaign(ctx context.Context, id, lastError string, now time.Time) error
	Heartbeat(ctx context.Context, id string, now time.Time) error
}

type Sender interface {
	Send(ctx context.Context, req gateway.SendRequest) (gateway.SendResponse, error)
}

const (
	storeAttempts   = 3
	storeRetryDelay = 1 * time.Second
	limiterWait     = 2 * time.Second
)

type Runner struct {
	Store   Store
	Sender  Sender
	Limiter *rate.Limiter
	Breaker *gobreaker.CircuitBreaker

	// Delay produces the humanized inter-send delay for the campaign's
	// pacing range. Injected so tests can run without sleeping.
	Delay func(minSecs, maxSecs int) time.Duration

	// Backoff overrides the transient retry schedule; nil means
	// gateway.Backoff.
	Backoff func(attempt int) time.Duration

	// HeartbeatEvery bounds how long the runner sleeps between claim
	// refreshes. Must be below the scheduler's staleness window or another
	// engine can reclaim the campaign in the middle of a long delay.
	HeartbeatEvery time.Duration

	SendTimeout time.Duration
}

func (r *Runner) backoff(attempt int) time.Duration {
	if r.Backoff != nil {
		return r.Backoff(attempt)
	}
	return gateway.Backoff(attempt)
}

// Run processes the campaign until no pending recipients remain or the
// campaign leaves the running state. A pause or cancel interrupts a pending
// delay via ctx; the in-flight send (including its retry sequence) always
// finishes first, so no recipient is ever left half-recorded. Only a store
// failure that survives the retry budget returns an error; the campaign is
// then marked failed.
func (r *Runner) Run(ctx context.Context, campaignID string) error {
	for {
		var c store.Campaign
		var found bool
		err := r.withStoreRetry(ctx, func(sctx context.Context) error {
			var err error
			c, found, err = r.Store.GetCampaign(sctx, campaignID)
			return err
		})
		if err != nil {
			return r.fatal(ctx, campaignID, "load campaign: "+err.Error())
		}
		if !found {
			return errors.New("campaign not found: " + campaignID)
		}

		// Pause/cancel are store transitions observed here, at the
		// iteration boundary.
		if c.Status != domain.StatusRunning.String() {
			slog.Info("runner stopping", "campaign_id", campaignID, "status", c.Status)
			return nil
		}

		var rec store.Recipient
		var more bool
		err = r.withStoreRetry(ctx, func(sctx context.Context) error {
			var err error
			rec, more, err = r.Store.NextPending(sctx, campaignID, c.Cursor)
			return err
		})
		if err != nil {
			return r.fatal(ctx, campaignID, "next recipient: "+err.Error())
		}
		if !more {
			err = r.withStoreRetry(ctx, func(sctx context.Context) error {
				return r.Store.CompleteCampaign(sctx, campaignID, time.Now().UTC())
			})
			if err != nil {
				return r.fatal(ctx, campaignID, "complete: "+err.Error())
			}
			observability.CampaignTransitions.WithLabelValues("completed").Inc()
			slog.Info("campaign completed", "campaign_id", campaignID, "sent", c.Sent, "failed", c.Failed)
			return nil
		}

		if !r.pace(ctx, campaignID, r.Delay(c.DelayMinSecs, c.DelayMaxSecs)) {
			// Interrupted delay; the new status is honored on the next
			// claim or loop iteration.
			return nil
		}

		body := render.Render(c.MessageTemplate, recipientVars(rec), time.Now())
		sendErr := r.sendRecipient(ctx, c, rec, body)

		now := time.Now().UTC()
		if sendErr == nil {
			err = r.withStoreRetry(ctx, func(sctx context.Context) error {
				return r.Store.MarkRecipientSent(sctx, store.RecipientSent{
					CampaignID:  campaignID,
					RecipientID: rec.ID,
					NextCursor:  rec.OrderPosition + 1,
					Now:         now,
				})
			})
		} else {
			slog.Warn("recipient send failed",
				"campaign_id", campaignID,
				"destination", rec.Destination,
				"classification", string(sendErr.Class),
				"err", sendErr.Message,
			)
			err = r.withStoreRetry(ctx, func(sctx context.Context) error {
				return r.Store.MarkRecipientFailed(sctx, store.RecipientFailed{
					CampaignID:   campaignID,
					RecipientID:  rec.ID,
					NextCursor:   rec.OrderPosition + 1,
					ErrorClass:   string(sendErr.Class),
					ErrorMessage: sendErr.Message,
					Now:          now,
				})
			})
		}
		if err != nil {
			return r.fatal(ctx, campaignID, "record outcome: "+err.Error())
		}
	}
}

// sendRecipient runs the full retry sequence for one recipient and returns
// nil on success or the final classified failure. The sequence is one
// uninterruptible unit: it deliberately ignores ctx cancellation so a pause
// never leaves an attempted send unrecorded.
func (r *Runner) sendRecipient(ctx context.Context, c store.Campaign, rec store.Recipient, body string) *gateway.SendError {
	sendCtx := context.WithoutCancel(ctx)
	req := gateway.SendRequest{To: rec.Destination, Body: body, MediaRef: c.MediaRef}

	var lastErr *gateway.SendError
	for attempt := 0; attempt < gateway.MaxAttempts; attempt++ {
		if attempt > 0 {
			observability.SendRetries.Inc()
			time.Sleep(r.backoff(attempt - 1))
		}

		if r.Limiter != nil {
			waitCtx, cancelWait := context.WithTimeout(sendCtx, limiterWait)
			err := r.Limiter.Wait(waitCtx)
			cancelWait()
			if err != nil {
				lastErr = &gateway.SendError{Class: gateway.ClassRateLimited, Message: "local rate limit"}
				observability.Sends.WithLabelValues("error", string(gateway.ClassRateLimited)).Inc()
				continue
			}
		}

		start := time.Now()
		_, err := r.send(sendCtx, req)
		observability.SendLatency.Observe(time.Since(start).Seconds())

		if err == nil {
			observability.Sends.WithLabelValues("ok", "").Inc()
			return nil
		}

		se := asSendError(err)
		observability.Sends.WithLabelValues("error", string(se.Class)).Inc()
		lastErr = se

		if !se.Class.Transient() {
			return se
		}
	}
	return lastErr
}

func (r *Runner) send(ctx context.Context, req gateway.SendRequest) (gateway.SendResponse, error) {
	call := func() (any, error) {
		attemptCtx, cancel := context.WithTimeout(ctx, r.SendTimeout)
		defer cancel()
		return r.Sender.Send(attemptCtx, req)
	}

	if r.Breaker == nil {
		res, err := call()
		if err != nil {
			return gateway.SendResponse{}, err
		}
		return res.(gateway.SendResponse), nil
	}

	res, err := r.Breaker.Execute(call)
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return gateway.SendResponse{}, &gateway.SendError{Class: gateway.ClassProviderUnavailable, Message: "circuit open"}
	}
	if err != nil {
		return gateway.SendResponse{}, err
	}
	return res.(gateway.SendResponse), nil
}

// withStoreRetry runs a store operation with a small retry budget. It uses
// a context detached from cancellation so an interrupted campaign still
// persists the outcome it already owns.
func (r *Runner) withStoreRetry(ctx context.Context, op func(context.Context) error) error {
	sctx := context.WithoutCancel(ctx)
	var last error
	for i := 0; i < storeAttempts; i++ {
		if i > 0 {
			time.Sleep(storeRetryDelay)
		}
		if last = op(sctx); last == nil {
			return nil
		}
	}
	return last
}

// fatal marks the campaign failed (best effort) and surfaces the error to
// the scheduler. Per-recipient bookkeeping is untouched: nothing is marked
// incorrectly, the campaign just stops.
func (r *Runner) fatal(ctx context.Context, campaignID, msg string) error {
	slog.Error("campaign fatal", "campaign_id", campaignID, "err", msg)
	_ = r.Store.FailCampaign(context.WithoutCancel(ctx), campaignID, msg, time.Now().UTC())
	observability.CampaignTransitions.WithLabelValues("failed").Inc()
	return errors.New(msg)
}

func asSendError(err error) *gateway.SendError {
	var se *gateway.SendError
	if errors.As(err, &se) {
		return se
	}
	return &gateway.SendError{Class: gateway.ClassSendError, Message: err.Error()}
}

func recipientVars(rec store.Recipient) map[string]string {
	vars := make(map[string]string, len(rec.Vars)+1)
	if rec.DisplayName != "" {
		vars["name"] = rec.DisplayName
	}
	for k, v := range rec.Vars {
		vars[k] = v
	}
	return vars
}

// pace sleeps the humanized delay in chunks, refreshing the claim between
// chunks so a delay longer than the staleness window never lets another
// engine reclaim the campaign mid-sleep. Returns false if ctx was cancelled.
func (r *Runner) pace(ctx context.Context, campaignID string, d time.Duration) bool {
	_ = r.Store.Heartbeat(ctx, campaignID, time.Now().UTC())

	every := r.HeartbeatEvery
	if every <= 0 {
		every = time.Minute
	}
	for d > 0 {
		chunk := d
		if chunk > every {
			chunk = every
		}
		if !sleep(ctx, chunk) {
			return false
		}
		d -= chunk
		if d > 0 {
			_ = r.Store.Heartbeat(ctx, campaignID, time.Now().UTC())
		}
	}
	return true
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	tmr := time.NewTimer(d)
	defer tmr.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-tmr.C:
		return true
	}
}
