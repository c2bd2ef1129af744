package report

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"dispatch/internal/service"
	"dispatch/internal/store"
)

type fakeStore struct {
	campaign   store.Campaign
	found      bool
	recipients []store.Recipient
	errClasses map[string]int

	cache    *store.ReportCache
	cachePut int
}

func (fs *fakeStore) GetCampaign(ctx context.Context, id string) (store.Campaign, bool, error) {
	return fs.campaign, fs.found, nil
}

func (fs *fakeStore) ListRecipients(ctx context.Context, campaignID string) ([]store.Recipient, error) {
	return fs.recipients, nil
}

func (fs *fakeStore) ErrorsByClass(ctx context.Context, campaignID string) (map[string]int, error) {
	return fs.errClasses, nil
}

func (fs *fakeStore) GetReportCache(ctx context.Context, campaignID string) (store.ReportCache, bool, error) {
	if fs.cache == nil {
		return store.ReportCache{}, false, nil
	}
	return *fs.cache, true, nil
}

func (fs *fakeStore) PutReportCache(ctx context.Context, rc store.ReportCache) error {
	fs.cachePut++
	// Write-once: first snapshot sticks, like INSERT ON CONFLICT DO NOTHING.
	if fs.cache == nil {
		fs.cache = &rc
	}
	return nil
}

func completedCampaign() store.Campaign {
	started := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	done := started.Add(90 * time.Second)
	return store.Campaign{
		ID: "cmp_1", Name: "launch", Status: "completed",
		Total: 3, Sent: 2, Failed: 1,
		StartedAt: &started, CompletedAt: &done,
	}
}

func TestReportTotalsAndDuration(t *testing.T) {
	fs := &fakeStore{
		campaign:   completedCampaign(),
		found:      true,
		errClasses: map[string]int{"invalid_destination": 1},
	}
	agg := &Aggregator{Store: fs}

	rep, err := agg.Report(context.Background(), "cmp_1")
	if err != nil {
		t.Fatalf("report: %v", err)
	}
	if rep.Sent != 2 || rep.Failed != 1 || rep.Total != 3 {
		t.Fatalf("totals %d/%d/%d", rep.Sent, rep.Failed, rep.Total)
	}
	if rep.SuccessRate < 0.66 || rep.SuccessRate > 0.67 {
		t.Fatalf("success rate %f", rep.SuccessRate)
	}
	if rep.DurationSecs == nil || *rep.DurationSecs != 90 {
		t.Fatalf("duration %v", rep.DurationSecs)
	}
	if rep.ErrorsByType["invalid_destination"] != 1 {
		t.Fatalf("errors by type %v", rep.ErrorsByType)
	}
}

func TestReportTerminalCampaignIsCachedOnce(t *testing.T) {
	fs := &fakeStore{
		campaign:   completedCampaign(),
		found:      true,
		errClasses: map[string]int{"provider_rejected": 1},
	}
	agg := &Aggregator{Store: fs}

	first, err := agg.Report(context.Background(), "cmp_1")
	if err != nil {
		t.Fatalf("first report: %v", err)
	}
	if fs.cachePut != 1 {
		t.Fatalf("expected one cache write, got %d", fs.cachePut)
	}

	// Later counter drift must not change the served report.
	fs.campaign.Sent = 99
	second, err := agg.Report(context.Background(), "cmp_1")
	if err != nil {
		t.Fatalf("second report: %v", err)
	}
	if fs.cachePut != 1 {
		t.Fatalf("cached report regenerated, %d writes", fs.cachePut)
	}
	if second.Sent != first.Sent || !second.GeneratedAt.Equal(first.GeneratedAt) {
		t.Fatalf("repeated reads differ: %+v vs %+v", first, second)
	}
}

func TestReportRunningCampaignNotCached(t *testing.T) {
	fs := &fakeStore{
		campaign: store.Campaign{ID: "cmp_1", Name: "live", Status: "running", Total: 10, Sent: 4},
		found:    true,
	}
	agg := &Aggregator{Store: fs}

	if _, err := agg.Report(context.Background(), "cmp_1"); err != nil {
		t.Fatalf("report: %v", err)
	}
	if fs.cachePut != 0 {
		t.Fatalf("live campaign must not be cached, got %d writes", fs.cachePut)
	}
}

func TestReportNotFound(t *testing.T) {
	agg := &Aggregator{Store: &fakeStore{}}
	if _, err := agg.Report(context.Background(), "cmp_x"); !errors.Is(err, service.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestExportCSV(t *testing.T) {
	sentAt := time.Date(2026, 3, 1, 10, 0, 30, 0, time.UTC)
	fs := &fakeStore{
		campaign: completedCampaign(),
		found:    true,
		recipients: []store.Recipient{
			{Destination: "+15550001", Status: "sent", SentAt: &sentAt},
			{Destination: "+15550002", Status: "failed", ErrorClass: "invalid_destination", ErrorMessage: "unknown number"},
			{Destination: "+15550003", Status: "sent", SentAt: &sentAt},
		},
	}
	agg := &Aggregator{Store: fs}

	var buf bytes.Buffer
	if err := agg.ExportCSV(context.Background(), "cmp_1", &buf); err != nil {
		t.Fatalf("export: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 4 {
		t.Fatalf("expected header + 3 rows, got %d lines:\n%s", len(lines), buf.String())
	}
	if lines[0] != "destination,status,error_classification,error_message,sent_at" {
		t.Fatalf("header %q", lines[0])
	}
	if lines[1] != "+15550001,sent,,,2026-03-01T10:00:30Z" {
		t.Fatalf("row %q", lines[1])
	}
	if lines[2] != "+15550002,failed,invalid_destination,unknown number," {
		t.Fatalf("row %q", lines[2])
	}
}

func TestCompare(t *testing.T) {
	fs := &fakeStore{campaign: completedCampaign(), found: true}
	agg := &Aggregator{Store: fs}

	reps, err := agg.Compare(context.Background(), []string{"cmp_1", "cmp_1"})
	if err != nil {
		t.Fatalf("compare: %v", err)
	}
	if len(reps) != 2 {
		t.Fatalf("expected 2 reports, got %d", len(reps))
	}
}
