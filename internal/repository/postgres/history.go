package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/ignite/ses-bulk-sender/internal/domain"
	"github.com/ignite/ses-bulk-sender/internal/service/history"
)

var _ history.Repository = (*HistoryRepo)(nil)

// HistoryRepo implements history.Repository against PostgreSQL.
type HistoryRepo struct{ db *sql.DB }

// NewHistoryRepo creates a Postgres-backed history repository.
func NewHistoryRepo(db *sql.DB) *HistoryRepo { return &HistoryRepo{db: db} }

func (r *HistoryRepo) CreateCampaign(ctx context.Context, c *domain.Campaign) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO campaigns
			(id, subject, body, sender, email_type, attachments, total_recipients, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, c.ID, c.Subject, c.Body, c.Sender, string(c.Format), pq.Array(c.Attachments),
		c.TotalRecipients, string(c.Status), c.CreatedAt)
	if err != nil {
		return fmt.Errorf("create campaign: %w", err)
	}
	return nil
}

func (r *HistoryRepo) RecordOutcomes(ctx context.Context, id string, outcomes []domain.RecipientOutcome, at time.Time) error {
	var sent, sentIDs, failed, reasons []string
	for _, o := range outcomes {
		switch o.Status {
		case domain.OutcomeSent:
			sent = append(sent, o.Recipient)
			sentIDs = append(sentIDs, o.MessageID)
		case domain.OutcomeFailed:
			failed = append(failed, o.Recipient)
			reasons = append(reasons, o.Error)
		}
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE campaigns
		SET sent_count = sent_count + $2, failed_count = failed_count + $3
		WHERE id = $1
	`, id, len(sent), len(failed))
	if err != nil {
		return fmt.Errorf("update campaign counts: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return history.ErrNotFound
	}

	if len(sent) > 0 {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO sent_emails (campaign_id, recipient, message_id, sent_at)
			SELECT $1, r, m, $4 FROM unnest($2::text[], $3::text[]) AS t(r, m)
		`, id, pq.Array(sent), pq.Array(sentIDs), at); err != nil {
			return fmt.Errorf("insert sent recipients: %w", err)
		}
	}
	if len(failed) > 0 {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO failed_emails (campaign_id, recipient, error_reason, failed_at)
			SELECT $1, r, e, $4 FROM unnest($2::text[], $3::text[]) AS t(r, e)
		`, id, pq.Array(failed), pq.Array(reasons), at); err != nil {
			return fmt.Errorf("insert failed recipients: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit outcomes: %w", err)
	}
	return nil
}

func (r *HistoryRepo) FinishCampaign(ctx context.Context, id string, status domain.CampaignStatus, sent, failed int, at time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE campaigns
		SET status = $2, sent_count = $3, failed_count = $4, completed_at = $5
		WHERE id = $1
	`, id, string(status), sent, failed, at)
	if err != nil {
		return fmt.Errorf("finish campaign: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return history.ErrNotFound
	}
	return nil
}

func (r *HistoryRepo) Get(ctx context.Context, id string) (*domain.CampaignDetail, error) {
	d := &domain.CampaignDetail{}
	c := &d.Campaign
	var completed sql.NullTime
	err := r.db.QueryRowContext(ctx, `
		SELECT id, subject, body, sender, email_type, attachments, total_recipients,
		       sent_count, failed_count, status, created_at, completed_at
		FROM campaigns
		WHERE id = $1
	`, id).Scan(
		&c.ID, &c.Subject, &c.Body, &c.Sender, &c.Format, pq.Array(&c.Attachments), &c.TotalRecipients,
		&c.SentCount, &c.FailedCount, &c.Status, &c.CreatedAt, &completed,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, history.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get campaign: %w", err)
	}
	if completed.Valid {
		c.CompletedAt = &completed.Time
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT recipient, error_reason, failed_at
		FROM failed_emails
		WHERE campaign_id = $1
		ORDER BY id
	`, id)
	if err != nil {
		return nil, fmt.Errorf("list failed recipients: %w", err)
	}
	defer rows.Close()

	d.Failed = []domain.FailedRecipient{}
	for rows.Next() {
		f := domain.FailedRecipient{CampaignID: id}
		if err := rows.Scan(&f.Recipient, &f.Reason, &f.FailedAt); err != nil {
			return nil, fmt.Errorf("scan failed recipient: %w", err)
		}
		d.Failed = append(d.Failed, f)
	}
	return d, rows.Err()
}

func (r *HistoryRepo) List(ctx context.Context, f history.ListFilter) ([]domain.Campaign, int, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = history.DefaultListLimit
	}

	where := ""
	args := []interface{}{}
	idx := 1
	if f.Search != "" {
		where = fmt.Sprintf(" WHERE subject ILIKE $%d OR sender ILIKE $%d", idx, idx)
		args = append(args, "%"+f.Search+"%")
		idx++
	}

	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM campaigns`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count campaigns: %w", err)
	}

	q := `
		SELECT id, subject, sender, email_type, attachments, total_recipients,
		       sent_count, failed_count, status, created_at, completed_at
		FROM campaigns` + where +
		fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", idx, idx+1)
	args = append(args, limit, f.Offset)

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list campaigns: %w", err)
	}
	defer rows.Close()

	out := []domain.Campaign{}
	for rows.Next() {
		var c domain.Campaign
		var completed sql.NullTime
		if err := rows.Scan(
			&c.ID, &c.Subject, &c.Sender, &c.Format, pq.Array(&c.Attachments), &c.TotalRecipients,
			&c.SentCount, &c.FailedCount, &c.Status, &c.CreatedAt, &completed,
		); err != nil {
			return nil, 0, fmt.Errorf("scan campaign: %w", err)
		}
		if completed.Valid {
			c.CompletedAt = &completed.Time
		}
		out = append(out, c)
	}
	return out, total, rows.Err()
}

func (r *HistoryRepo) Stats(ctx context.Context, now time.Time) (*domain.HistoryStats, error) {
	st := &domain.HistoryStats{}
	today := now.Truncate(24 * time.Hour)
	weekAgo := now.Add(-7 * 24 * time.Hour)

	err := r.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM campaigns),
			(SELECT COALESCE(SUM(sent_count), 0) FROM campaigns),
			(SELECT COALESCE(SUM(failed_count), 0) FROM campaigns),
			(SELECT COUNT(DISTINCT lower(recipient)) FROM sent_emails),
			(SELECT COUNT(*) FROM sent_emails WHERE sent_at >= $1),
			(SELECT COUNT(*) FROM sent_emails WHERE sent_at >= $2)
	`, today, weekAgo).Scan(
		&st.TotalCampaigns, &st.TotalSent, &st.TotalFailed,
		&st.UniqueRecipients, &st.SentToday, &st.SentThisWeek,
	)
	if err != nil {
		return nil, fmt.Errorf("history stats: %w", err)
	}
	return st, nil
}

func (r *HistoryRepo) SentRecipients(ctx context.Context, ids []string) (map[string]struct{}, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if len(ids) == 0 {
		rows, err = r.db.QueryContext(ctx, `SELECT DISTINCT lower(recipient) FROM sent_emails`)
	} else {
		rows, err = r.db.QueryContext(ctx,
			`SELECT DISTINCT lower(recipient) FROM sent_emails WHERE campaign_id = ANY($1)`, pq.Array(ids))
	}
	if err != nil {
		return nil, fmt.Errorf("sent recipients: %w", err)
	}
	defer rows.Close()

	out := make(map[string]struct{})
	for rows.Next() {
		var addr string
		if err := rows.Scan(&addr); err != nil {
			return nil, fmt.Errorf("scan recipient: %w", err)
		}
		out[addr] = struct{}{}
	}
	return out, rows.Err()
}

func (r *HistoryRepo) Exists(ctx context.Context, id string) (bool, error) {
	var ok bool
	err := r.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM campaigns WHERE id = $1)`, id).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("campaign exists: %w", err)
	}
	return ok, nil
}

// Ping checks the database connection.
func (r *HistoryRepo) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}
