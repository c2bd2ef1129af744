package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"dispatch/internal/domain"
	"dispatch/internal/store"
)

type fakeStore struct {
	inserted  *store.CampaignInsert
	campaign  store.Campaign
	found     bool
	recipient store.Recipient
	recFound  bool

	pauseOK, resumeOK, cancelOK bool
}

func (fs *fakeStore) InsertCampaign(ctx context.Context, in store.CampaignInsert) error {
	fs.inserted = &in
	return nil
}

func (fs *fakeStore) GetCampaign(ctx context.Context, id string) (store.Campaign, bool, error) {
	return fs.campaign, fs.found, nil
}

func (fs *fakeStore) RecipientAtPosition(ctx context.Context, campaignID string, pos int) (store.Recipient, bool, error) {
	return fs.recipient, fs.recFound, nil
}

func (fs *fakeStore) PauseCampaign(ctx context.Context, id string, now time.Time) (bool, error) {
	return fs.pauseOK, nil
}

func (fs *fakeStore) ResumeCampaign(ctx context.Context, id string, now time.Time) (bool, error) {
	return fs.resumeOK, nil
}

func (fs *fakeStore) CancelCampaign(ctx context.Context, id string, now time.Time) (bool, error) {
	return fs.cancelOK, nil
}

type fakeEngine struct {
	nudges     int
	interrupts []string
}

func (fe *fakeEngine) Nudge() { fe.nudges++ }
func (fe *fakeEngine) Interrupt(id string) bool {
	fe.interrupts = append(fe.interrupts, id)
	return true
}

func validRequest(n int) domain.SubmitCampaignRequest {
	req := domain.SubmitCampaignRequest{
		Name: "spring promo",
		Message: domain.MessageDef{
			Type:         domain.MessageText,
			TextTemplate: "Hi {{name}}",
		},
		Pacing: domain.Pacing{DelayMinSecs: 1, DelayMaxSecs: 5},
	}
	for i := 0; i < n; i++ {
		req.Recipients = append(req.Recipients, domain.SubmitRecipient{
			Destination: "+1555000" + string(rune('0'+i)),
		})
	}
	return req
}

func TestSubmitRejectsBadDelayRange(t *testing.T) {
	fs := &fakeStore{}
	svc := New(fs, nil)

	req := validRequest(2)
	req.Pacing = domain.Pacing{DelayMinSecs: 10, DelayMaxSecs: 3}

	_, err := svc.Submit(context.Background(), req)
	var ve *domain.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if _, ok := ve.Fields["pacing.delayMaxSecs"]; !ok {
		t.Fatalf("expected delay range field error, got %v", ve.Fields)
	}
	if fs.inserted != nil {
		t.Fatal("invalid campaign must not be created")
	}
}

func TestSubmitRejectsEmptyRecipientsAndBadTemplate(t *testing.T) {
	fs := &fakeStore{}
	svc := New(fs, nil)

	req := validRequest(0)
	req.Message.TextTemplate = "Hi {{name"

	_, err := svc.Submit(context.Background(), req)
	var ve *domain.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected validation error, got %v", err)
	}
	for _, field := range []string{"recipients", "message.textTemplate"} {
		if _, ok := ve.Fields[field]; !ok {
			t.Fatalf("missing field error %q in %v", field, ve.Fields)
		}
	}
}

func TestSubmitRejectsDuplicateDestinations(t *testing.T) {
	svc := New(&fakeStore{}, nil)

	req := validRequest(2)
	req.Recipients[1].Destination = req.Recipients[0].Destination

	_, err := svc.Submit(context.Background(), req)
	var ve *domain.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestSubmitAssignsIdentityOrder(t *testing.T) {
	fs := &fakeStore{}
	eng := &fakeEngine{}
	svc := New(fs, eng)

	resp, err := svc.Submit(context.Background(), validRequest(4))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if resp.Status != "scheduled" {
		t.Fatalf("expected scheduled, got %s", resp.Status)
	}
	for i, r := range fs.inserted.Recipients {
		if r.OrderPosition != i {
			t.Fatalf("recipient %d got position %d without randomize", i, r.OrderPosition)
		}
		if r.ID == "" {
			t.Fatalf("recipient %d missing id", i)
		}
	}
	if eng.nudges != 1 {
		t.Fatalf("immediate submit should nudge the engine, got %d", eng.nudges)
	}
}

func TestSubmitShuffleAssignsPermutation(t *testing.T) {
	fs := &fakeStore{}
	svc := New(fs, nil)

	req := validRequest(8)
	req.Pacing.Randomize = true

	if _, err := svc.Submit(context.Background(), req); err != nil {
		t.Fatalf("submit: %v", err)
	}
	seen := map[int]bool{}
	for _, r := range fs.inserted.Recipients {
		if r.OrderPosition < 0 || r.OrderPosition >= 8 || seen[r.OrderPosition] {
			t.Fatalf("positions are not a permutation: %+v", fs.inserted.Recipients)
		}
		seen[r.OrderPosition] = true
	}
}

func TestSubmitScheduledDoesNotNudge(t *testing.T) {
	fs := &fakeStore{}
	eng := &fakeEngine{}
	svc := New(fs, eng)

	req := validRequest(2)
	at := time.Now().Add(time.Hour)
	req.ScheduledAt = &at

	if _, err := svc.Submit(context.Background(), req); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if eng.nudges != 0 {
		t.Fatalf("future submit must not nudge, got %d", eng.nudges)
	}
}

func TestPauseConflictAndNotFound(t *testing.T) {
	fs := &fakeStore{pauseOK: false, found: true, campaign: store.Campaign{Status: "completed"}}
	svc := New(fs, nil)

	if err := svc.Pause(context.Background(), "cmp_1"); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}

	fs.found = false
	if err := svc.Pause(context.Background(), "cmp_1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestControlOpsHitEngineHooks(t *testing.T) {
	fs := &fakeStore{pauseOK: true, resumeOK: true, cancelOK: true}
	eng := &fakeEngine{}
	svc := New(fs, eng)

	if err := svc.Pause(context.Background(), "cmp_1"); err != nil {
		t.Fatalf("pause: %v", err)
	}
	if err := svc.Resume(context.Background(), "cmp_1"); err != nil {
		t.Fatalf("resume: %v", err)
	}
	if err := svc.Cancel(context.Background(), "cmp_1"); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if len(eng.interrupts) != 2 {
		t.Fatalf("pause+cancel should interrupt, got %v", eng.interrupts)
	}
	if eng.nudges != 1 {
		t.Fatalf("resume should nudge, got %d", eng.nudges)
	}
}

func TestProgressEstimate(t *testing.T) {
	fs := &fakeStore{
		found: true,
		campaign: store.Campaign{
			ID: "cmp_1", Status: "running",
			Total: 10, Sent: 3, Failed: 1, Cursor: 4,
			DelayMinSecs: 2, DelayMaxSecs: 6,
		},
		recFound:  true,
		recipient: store.Recipient{Destination: "+15550009"},
	}
	svc := New(fs, nil)

	p, err := svc.Progress(context.Background(), "cmp_1")
	if err != nil {
		t.Fatalf("progress: %v", err)
	}
	// 6 remaining * (2+6)/2 = 24s.
	if p.EstimatedSecondsRemaining != 24 {
		t.Fatalf("estimate %d, want 24", p.EstimatedSecondsRemaining)
	}
	if p.CurrentRecipient != "+15550009" {
		t.Fatalf("current recipient %q", p.CurrentRecipient)
	}
}

func TestProgressNotFound(t *testing.T) {
	svc := New(&fakeStore{}, nil)
	if _, err := svc.Progress(context.Background(), "cmp_x"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
