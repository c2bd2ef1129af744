package pg

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"dispatch/internal/store"
)

type Store struct {
	DB *pgxpool.Pool
}

func New(db *pgxpool.Pool) *Store { return &Store{DB: db} }

func (s *Store) InsertCampaign(ctx context.Context, in store.CampaignInsert) error {
	tx, err := s.DB.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `
		INSERT INTO campaigns (id, name, message_type, message_template, media_ref,
			delay_min_secs, delay_max_secs, randomize, scheduled_at, status,
			total, sent, failed, cursor, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,0,0,0,$12,$12)
	`, in.ID, in.Name, in.MessageType, in.MessageTemplate, nullIfEmpty(in.MediaRef),
		in.DelayMinSecs, in.DelayMaxSecs, in.Randomize, in.ScheduledAt, in.Status,
		len(in.Recipients), in.Now)
	if err != nil {
		return err
	}

	rows := make([][]any, 0, len(in.Recipients))
	for _, r := range in.Recipients {
		b, _ := json.Marshal(r.Vars)
		rows = append(rows, []any{r.ID, in.ID, r.Destination, nullIfEmpty(r.DisplayName), b, "pending", r.OrderPosition})
	}
	_, err = tx.CopyFrom(ctx,
		pgx.Identifier{"campaign_recipients"},
		[]string{"id", "campaign_id", "destination", "display_name", "vars_json", "status", "order_position"},
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return err
	}

	return tx.Commit(ctx)
}

func (s *Store) GetCampaign(ctx context.Context, id string) (store.Campaign, bool, error) {
	row := s.DB.QueryRow(ctx, `
		SELECT id, name, message_type, message_template, COALESCE(media_ref,''),
		       delay_min_secs, delay_max_secs, randomize, scheduled_at, status,
		       total, sent, failed, cursor, claimed_at, started_at, completed_at,
		       COALESCE(last_error,''), created_at, updated_at
		FROM campaigns WHERE id=$1
	`, id)

	var c store.Campaign
	err := row.Scan(&c.ID, &c.Name, &c.MessageType, &c.MessageTemplate, &c.MediaRef,
		&c.DelayMinSecs, &c.DelayMaxSecs, &c.Randomize, &c.ScheduledAt, &c.Status,
		&c.Total, &c.Sent, &c.Failed, &c.Cursor, &c.ClaimedAt, &c.StartedAt, &c.CompletedAt,
		&c.LastError, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if err.Error() == "no rows in result set" {
			return store.Campaign{}, false, nil
		}
		return store.Campaign{}, false, err
	}
	return c, true, nil
}

func (s *Store) ListRecipients(ctx context.Context, campaignID string) ([]store.Recipient, error) {
	rows, err := s.DB.Query(ctx, `
		SELECT id, campaign_id, destination, COALESCE(display_name,''), vars_json, status,
		       COALESCE(error_class,''), COALESCE(error_message,''), sent_at, order_position
		FROM campaign_recipients WHERE campaign_id=$1 ORDER BY order_position
	`, campaignID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.Recipient
	for rows.Next() {
		r, err := scanRecipient(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) RecipientAtPosition(ctx context.Context, campaignID string, pos int) (store.Recipient, bool, error) {
	row := s.DB.QueryRow(ctx, `
		SELECT id, campaign_id, destination, COALESCE(display_name,''), vars_json, status,
		       COALESCE(error_class,''), COALESCE(error_message,''), sent_at, order_position
		FROM campaign_recipients WHERE campaign_id=$1 AND order_position=$2
	`, campaignID, pos)
	r, err := scanRecipient(row)
	if err != nil {
		if err.Error() == "no rows in result set" {
			return store.Recipient{}, false, nil
		}
		return store.Recipient{}, false, err
	}
	return r, true, nil
}

// NextPending returns the first unprocessed recipient at or past the cursor.
func (s *Store) NextPending(ctx context.Context, campaignID string, fromPos int) (store.Recipient, bool, error) {
	row := s.DB.QueryRow(ctx, `
		SELECT id, campaign_id, destination, COALESCE(display_name,''), vars_json, status,
		       COALESCE(error_class,''), COALESCE(error_message,''), sent_at, order_position
		FROM campaign_recipients
		WHERE campaign_id=$1 AND status='pending' AND order_position >= $2
		ORDER BY order_position
		LIMIT 1
	`, campaignID, fromPos)
	r, err := scanRecipient(row)
	if err != nil {
		if err.Error() == "no rows in result set" {
			return store.Recipient{}, false, nil
		}
		return store.Recipient{}, false, err
	}
	return r, true, nil
}

func (s *Store) MarkRecipientSent(ctx context.Context, in store.RecipientSent) error {
	tx, err := s.DB.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	ct, err := tx.Exec(ctx, `
		UPDATE campaign_recipients SET status='sent', sent_at=$2 WHERE id=$1 AND status='pending'
	`, in.RecipientID, in.Now)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		// Already recorded, e.g. by a runner that lost its claim after
		// sending. Counters and cursor must not move again.
		return tx.Commit(ctx)
	}
	_, err = tx.Exec(ctx, `
		UPDATE campaigns SET sent=sent+1, cursor=$2, claimed_at=$3, updated_at=$3 WHERE id=$1
	`, in.CampaignID, in.NextCursor, in.Now)
	if err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *Store) MarkRecipientFailed(ctx context.Context, in store.RecipientFailed) error {
	tx, err := s.DB.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	ct, err := tx.Exec(ctx, `
		UPDATE campaign_recipients SET status='failed', error_class=$2, error_message=$3, sent_at=$4
		WHERE id=$1 AND status='pending'
	`, in.RecipientID, in.ErrorClass, in.ErrorMessage, in.Now)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return tx.Commit(ctx)
	}
	_, err = tx.Exec(ctx, `
		UPDATE campaigns SET failed=failed+1, cursor=$2, claimed_at=$3, updated_at=$3 WHERE id=$1
	`, in.CampaignID, in.NextCursor, in.Now)
	if err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *Store) PauseCampaign(ctx context.Context, id string, now time.Time) (bool, error) {
	ct, err := s.DB.Exec(ctx, `
		UPDATE campaigns SET status='paused', updated_at=$2 WHERE id=$1 AND status='running'
	`, id, now)
	if err != nil {
		return false, err
	}
	return ct.RowsAffected() > 0, nil
}

// ResumeCampaign clears the claim so the next scheduler tick picks the
// campaign up again from the persisted cursor.
func (s *Store) ResumeCampaign(ctx context.Context, id string, now time.Time) (bool, error) {
	ct, err := s.DB.Exec(ctx, `
		UPDATE campaigns SET status='running', claimed_at=NULL, updated_at=$2 WHERE id=$1 AND status='paused'
	`, id, now)
	if err != nil {
		return false, err
	}
	return ct.RowsAffected() > 0, nil
}

// CancelCampaign is terminal. Remaining recipients stay pending so a report
// can tell "never attempted" from "attempted and failed".
func (s *Store) CancelCampaign(ctx context.Context, id string, now time.Time) (bool, error) {
	ct, err := s.DB.Exec(ctx, `
		UPDATE campaigns SET status='cancelled', completed_at=$2, updated_at=$2
		WHERE id=$1 AND status IN ('running','paused')
	`, id, now)
	if err != nil {
		return false, err
	}
	return ct.RowsAffected() > 0, nil
}

func (s *Store) CompleteCampaign(ctx context.Context, id string, now time.Time) error {
	_, err := s.DB.Exec(ctx, `
		UPDATE campaigns SET status='completed', completed_at=$2, updated_at=$2
		WHERE id=$1 AND status='running'
	`, id, now)
	return err
}

func (s *Store) FailCampaign(ctx context.Context, id, lastError string, now time.Time) error {
	_, err := s.DB.Exec(ctx, `
		UPDATE campaigns SET status='failed', last_error=$2, completed_at=$3, updated_at=$3
		WHERE id=$1 AND status='running'
	`, id, nullIfEmpty(lastError), now)
	return err
}

// Heartbeat refreshes the claim so other engine instances do not reclaim a
// campaign that is merely pacing itself through a long delay.
func (s *Store) Heartbeat(ctx context.Context, id string, now time.Time) error {
	_, err := s.DB.Exec(ctx, `
		UPDATE campaigns SET claimed_at=$2, updated_at=$2 WHERE id=$1 AND status='running'
	`, id, now)
	return err
}

// DueCampaigns lists campaigns a scheduler tick should try to claim: due
// scheduled ones, plus running ones whose claim is missing or stale
// (resume pick-up and crash recovery).
func (s *Store) DueCampaigns(ctx context.Context, now time.Time, staleAfter time.Duration) ([]string, error) {
	staleBefore := now.Add(-staleAfter)
	rows, err := s.DB.Query(ctx, `
		SELECT id FROM campaigns
		WHERE (status='scheduled' AND (scheduled_at IS NULL OR scheduled_at <= $1))
		   OR (status='running' AND (claimed_at IS NULL OR claimed_at < $2))
		ORDER BY created_at
	`, now, staleBefore)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ClaimCampaign atomically grants one caller the right to run a campaign.
// It allows reclaiming a running campaign whose claim went stale.
func (s *Store) ClaimCampaign(ctx context.Context, id string, now time.Time, staleAfter time.Duration) (bool, error) {
	staleBefore := now.Add(-staleAfter)
	ct, err := s.DB.Exec(ctx, `
		UPDATE campaigns
		SET status='running', claimed_at=$2, started_at=COALESCE(started_at,$2), updated_at=$2
		WHERE id=$1 AND (
			(status='scheduled' AND (scheduled_at IS NULL OR scheduled_at <= $2))
			OR (status='running' AND (claimed_at IS NULL OR claimed_at < $3)))
	`, id, now, staleBefore)
	if err != nil {
		return false, err
	}
	return ct.RowsAffected() > 0, nil
}

func (s *Store) ErrorsByClass(ctx context.Context, campaignID string) (map[string]int, error) {
	rows, err := s.DB.Query(ctx, `
		SELECT COALESCE(error_class,''), COUNT(*)
		FROM campaign_recipients
		WHERE campaign_id=$1 AND status='failed'
		GROUP BY error_class
	`, campaignID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[string]int{}
	for rows.Next() {
		var class string
		var n int
		if err := rows.Scan(&class, &n); err != nil {
			return nil, err
		}
		out[class] = n
	}
	return out, rows.Err()
}

func (s *Store) GetReportCache(ctx context.Context, campaignID string) (store.ReportCache, bool, error) {
	row := s.DB.QueryRow(ctx, `
		SELECT campaign_id, totals_json, errors_by_type_json, generated_at
		FROM campaign_reports WHERE campaign_id=$1
	`, campaignID)
	var rc store.ReportCache
	err := row.Scan(&rc.CampaignID, &rc.TotalsJSON, &rc.ErrorsJSON, &rc.GeneratedAt)
	if err != nil {
		if err.Error() == "no rows in result set" {
			return store.ReportCache{}, false, nil
		}
		return store.ReportCache{}, false, err
	}
	return rc, true, nil
}

// PutReportCache is write-once: the first snapshot of a terminal campaign
// wins and later writes are ignored.
func (s *Store) PutReportCache(ctx context.Context, rc store.ReportCache) error {
	_, err := s.DB.Exec(ctx, `
		INSERT INTO campaign_reports (campaign_id, totals_json, errors_by_type_json, generated_at)
		VALUES ($1,$2,$3,$4)
		ON CONFLICT (campaign_id) DO NOTHING
	`, rc.CampaignID, rc.TotalsJSON, rc.ErrorsJSON, rc.GeneratedAt)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecipient(row rowScanner) (store.Recipient, error) {
	var r store.Recipient
	var varsJSON []byte
	err := row.Scan(&r.ID, &r.CampaignID, &r.Destination, &r.DisplayName, &varsJSON,
		&r.Status, &r.ErrorClass, &r.ErrorMessage, &r.SentAt, &r.OrderPosition)
	if err != nil {
		return store.Recipient{}, err
	}
	_ = json.Unmarshal(varsJSON, &r.Vars)
	return r, nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
