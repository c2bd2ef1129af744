// Package report derives summary statistics from per-recipient state. All
// operations are read-only over live campaigns; terminal campaigns get a
// write-once cached snapshot so repeated reads are identical.
package report

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"io"
	"time"

	"dispatch/internal/domain"
	"dispatch/internal/service"
	"dispatch/internal/store"
	"dispatch/internal/util"
)

type Store interface {
	GetCampaign(ctx context.Context, id string) (store.Campaign, bool, error)
	ListRecipients(ctx context.Context, campaignID string) ([]store.Recipient, error)
	ErrorsByClass(ctx context.Context, campaignID string) (map[string]int, error)
	GetReportCache(ctx context.Context, campaignID string) (store.ReportCache, bool, error)
	PutReportCache(ctx context.Context, rc store.ReportCache) error
}

type Aggregator struct {
	Store Store
}

// cachedTotals is the shape persisted in campaign_reports.totals_json.
type cachedTotals struct {
	Name        string     `json:"name"`
	Status      string     `json:"status"`
	Total       int        `json:"total"`
	Sent        int        `json:"sent"`
	Failed      int        `json:"failed"`
	StartedAt   *time.Time `json:"startedAt,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

// Report computes (or serves the cached) summary for one campaign.
func (a *Aggregator) Report(ctx context.Context, campaignID string) (domain.CampaignReport, error) {
	if rc, found, err := a.Store.GetReportCache(ctx, campaignID); err != nil {
		return domain.CampaignReport{}, err
	} else if found {
		return fromCache(campaignID, rc)
	}

	c, found, err := a.Store.GetCampaign(ctx, campaignID)
	if err != nil {
		return domain.CampaignReport{}, err
	}
	if !found {
		return domain.CampaignReport{}, service.ErrNotFound
	}

	errorsByType, err := a.Store.ErrorsByClass(ctx, campaignID)
	if err != nil {
		return domain.CampaignReport{}, err
	}

	rep := build(c, errorsByType, util.NowUTC())

	if domain.CampaignStatus(c.Status).IsTerminal() {
		totals, _ := json.Marshal(cachedTotals{
			Name: c.Name, Status: c.Status,
			Total: c.Total, Sent: c.Sent, Failed: c.Failed,
			StartedAt: c.StartedAt, CompletedAt: c.CompletedAt,
		})
		errs, _ := json.Marshal(errorsByType)
		if err := a.Store.PutReportCache(ctx, store.ReportCache{
			CampaignID:  campaignID,
			TotalsJSON:  totals,
			ErrorsJSON:  errs,
			GeneratedAt: rep.GeneratedAt,
		}); err != nil {
			return domain.CampaignReport{}, err
		}
		// Read back: a concurrent writer may have won, and the first
		// snapshot is the one everybody serves from then on.
		if rc, found, err := a.Store.GetReportCache(ctx, campaignID); err == nil && found {
			return fromCache(campaignID, rc)
		}
	}
	return rep, nil
}

// ExportCSV streams one row per recipient.
func (a *Aggregator) ExportCSV(ctx context.Context, campaignID string, w io.Writer) error {
	_, found, err := a.Store.GetCampaign(ctx, campaignID)
	if err != nil {
		return err
	}
	if !found {
		return service.ErrNotFound
	}

	recipients, err := a.Store.ListRecipients(ctx, campaignID)
	if err != nil {
		return err
	}

	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"destination", "status", "error_classification", "error_message", "sent_at"}); err != nil {
		return err
	}
	for _, r := range recipients {
		sentAt := ""
		if r.SentAt != nil {
			sentAt = r.SentAt.UTC().Format(time.RFC3339)
		}
		if err := cw.Write([]string{r.Destination, r.Status, r.ErrorClass, r.ErrorMessage, sentAt}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// Compare joins reports for side-by-side metrics.
func (a *Aggregator) Compare(ctx context.Context, campaignIDs []string) ([]domain.CampaignReport, error) {
	out := make([]domain.CampaignReport, 0, len(campaignIDs))
	for _, id := range campaignIDs {
		rep, err := a.Report(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, rep)
	}
	return out, nil
}

func build(c store.Campaign, errorsByType map[string]int, generatedAt time.Time) domain.CampaignReport {
	rep := domain.CampaignReport{
		CampaignID:   c.ID,
		Name:         c.Name,
		Status:       c.Status,
		Total:        c.Total,
		Sent:         c.Sent,
		Failed:       c.Failed,
		StartedAt:    c.StartedAt,
		CompletedAt:  c.CompletedAt,
		ErrorsByType: errorsByType,
		GeneratedAt:  generatedAt,
	}
	if rep.ErrorsByType == nil {
		rep.ErrorsByType = map[string]int{}
	}
	if c.Total > 0 {
		rep.SuccessRate = float64(c.Sent) / float64(c.Total)
	}
	if c.StartedAt != nil && c.CompletedAt != nil {
		d := c.CompletedAt.Sub(*c.StartedAt).Seconds()
		rep.DurationSecs = &d
	}
	return rep
}

func fromCache(campaignID string, rc store.ReportCache) (domain.CampaignReport, error) {
	var totals cachedTotals
	if err := json.Unmarshal(rc.TotalsJSON, &totals); err != nil {
		return domain.CampaignReport{}, err
	}
	errorsByType := map[string]int{}
	if err := json.Unmarshal(rc.ErrorsJSON, &errorsByType); err != nil {
		return domain.CampaignReport{}, err
	}
	rep := build(store.Campaign{
		ID:          campaignID,
		Name:        totals.Name,
		Status:      totals.Status,
		Total:       totals.Total,
		Sent:        totals.Sent,
		Failed:      totals.Failed,
		StartedAt:   totals.StartedAt,
		CompletedAt: totals.CompletedAt,
	}, errorsByType, rc.GeneratedAt)
	return rep, nil
}
