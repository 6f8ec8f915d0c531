package postgres

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/ses-bulk-sender/internal/domain"
	"github.com/ignite/ses-bulk-sender/internal/service/history"
)

func newMockRepo(t *testing.T) (*HistoryRepo, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		db.Close()
	})
	return NewHistoryRepo(db), mock
}

func TestCreateCampaign(t *testing.T) {
	r, mock := newMockRepo(t)
	created := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)

	mock.ExpectExec(`INSERT INTO campaigns`).
		WithArgs("c1", "Hello", "<p>hi</p>", "Sender", "html", sqlmock.AnyArg(), 3, "sending", created).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := r.CreateCampaign(context.Background(), &domain.Campaign{
		ID: "c1", Subject: "Hello", Body: "<p>hi</p>", Sender: "Sender", Format: domain.FormatHTML,
		Attachments: []string{"a.pdf"}, TotalRecipients: 3, Status: domain.CampaignSending, CreatedAt: created,
	})
	require.NoError(t, err)
}

func TestRecordOutcomes(t *testing.T) {
	r, mock := newMockRepo(t)
	at := time.Now().UTC()

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE campaigns\s+SET sent_count = sent_count \+ \$2`).
		WithArgs("c1", 2, 1).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO sent_emails`).
		WithArgs("c1", sqlmock.AnyArg(), sqlmock.AnyArg(), at).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec(`INSERT INTO failed_emails`).
		WithArgs("c1", sqlmock.AnyArg(), sqlmock.AnyArg(), at).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := r.RecordOutcomes(context.Background(), "c1", []domain.RecipientOutcome{
		{Recipient: "a@example.com", Status: domain.OutcomeSent, MessageID: "m1"},
		{Recipient: "b@example.com", Status: domain.OutcomeFailed, Error: "rejected"},
		{Recipient: "c@example.com", Status: domain.OutcomeSent, MessageID: "m2"},
	}, at)
	require.NoError(t, err)
}

func TestRecordOutcomesUnknownCampaign(t *testing.T) {
	r, mock := newMockRepo(t)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE campaigns`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := r.RecordOutcomes(context.Background(), "missing", []domain.RecipientOutcome{
		{Recipient: "a@example.com", Status: domain.OutcomeSent},
	}, time.Now())
	assert.ErrorIs(t, err, history.ErrNotFound)
}

func TestFinishCampaign(t *testing.T) {
	r, mock := newMockRepo(t)
	at := time.Now().UTC()

	mock.ExpectExec(`UPDATE campaigns\s+SET status = \$2`).
		WithArgs("c1", "sent", 10, 2, at).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, r.FinishCampaign(context.Background(), "c1", domain.CampaignSent, 10, 2, at))

	mock.ExpectExec(`UPDATE campaigns`).WillReturnResult(sqlmock.NewResult(0, 0))
	assert.ErrorIs(t, r.FinishCampaign(context.Background(), "nope", domain.CampaignSent, 0, 0, at), history.ErrNotFound)
}

func TestGetCampaign(t *testing.T) {
	r, mock := newMockRepo(t)
	created := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)
	completed := created.Add(time.Hour)

	mock.ExpectQuery(`SELECT id, subject, body, sender`).
		WithArgs("c1").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "subject", "body", "sender", "email_type", "attachments", "total_recipients",
			"sent_count", "failed_count", "status", "created_at", "completed_at",
		}).AddRow("c1", "Hello", "body", "Sender", "markdown", "{a.pdf,b.pdf}", 3, 2, 1, "sent", created, completed))
	mock.ExpectQuery(`SELECT recipient, error_reason, failed_at\s+FROM failed_emails`).
		WithArgs("c1").
		WillReturnRows(sqlmock.NewRows([]string{"recipient", "error_reason", "failed_at"}).
			AddRow("b@example.com", "Address blacklisted.", completed))

	d, err := r.Get(context.Background(), "c1")
	require.NoError(t, err)
	assert.Equal(t, domain.FormatMarkdown, d.Format)
	assert.Equal(t, []string{"a.pdf", "b.pdf"}, d.Attachments)
	assert.Equal(t, domain.CampaignSent, d.Status)
	require.NotNil(t, d.CompletedAt)
	assert.Equal(t, completed, *d.CompletedAt)
	require.Len(t, d.Failed, 1)
	assert.Equal(t, "Address blacklisted.", d.Failed[0].Reason)
	assert.Equal(t, "c1", d.Failed[0].CampaignID)
}

func TestGetCampaignNotFound(t *testing.T) {
	r, mock := newMockRepo(t)
	mock.ExpectQuery(`FROM campaigns`).WithArgs("nope").WillReturnError(sql.ErrNoRows)

	_, err := r.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, history.ErrNotFound)
}

func TestListCampaignsSearch(t *testing.T) {
	r, mock := newMockRepo(t)
	created := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM campaigns WHERE subject ILIKE \$1 OR sender ILIKE \$1`).
		WithArgs("%sale%").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectQuery(`ORDER BY created_at DESC LIMIT \$2 OFFSET \$3`).
		WithArgs("%sale%", 20, 0).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "subject", "sender", "email_type", "attachments", "total_recipients",
			"sent_count", "failed_count", "status", "created_at", "completed_at",
		}).AddRow("c1", "Spring Sale", "Sender", "html", "{}", 5, 5, 0, "sent", created, nil))

	list, total, err := r.List(context.Background(), history.ListFilter{Search: "sale", Limit: 20})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, list, 1)
	assert.Equal(t, "Spring Sale", list[0].Subject)
	assert.Nil(t, list[0].CompletedAt)
	assert.Empty(t, list[0].Attachments)
}

func TestListCampaignsDefaultLimit(t *testing.T) {
	r, mock := newMockRepo(t)

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM campaigns$`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectQuery(`LIMIT \$1 OFFSET \$2`).
		WithArgs(history.DefaultListLimit, 0).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	list, total, err := r.List(context.Background(), history.ListFilter{})
	require.NoError(t, err)
	assert.Equal(t, 0, total)
	assert.Empty(t, list)
}

func TestStats(t *testing.T) {
	r, mock := newMockRepo(t)
	now := time.Date(2026, 4, 10, 15, 30, 0, 0, time.UTC)

	mock.ExpectQuery(`COUNT\(DISTINCT lower\(recipient\)\)`).
		WithArgs(time.Date(2026, 4, 10, 0, 0, 0, 0, time.UTC), now.Add(-7*24*time.Hour)).
		WillReturnRows(sqlmock.NewRows([]string{"a", "b", "c", "d", "e", "f"}).AddRow(4, 120, 3, 90, 10, 60))

	st, err := r.Stats(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, domain.HistoryStats{
		TotalCampaigns: 4, TotalSent: 120, TotalFailed: 3,
		UniqueRecipients: 90, SentToday: 10, SentThisWeek: 60,
	}, *st)
}

func TestSentRecipients(t *testing.T) {
	r, mock := newMockRepo(t)

	mock.ExpectQuery(`SELECT DISTINCT lower\(recipient\) FROM sent_emails$`).
		WillReturnRows(sqlmock.NewRows([]string{"recipient"}).AddRow("a@example.com").AddRow("b@example.com"))
	all, err := r.SentRecipients(context.Background(), nil)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	mock.ExpectQuery(`WHERE campaign_id = ANY\(\$1\)`).
		WithArgs(sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"recipient"}).AddRow("a@example.com"))
	some, err := r.SentRecipients(context.Background(), []string{"c1"})
	require.NoError(t, err)
	assert.Contains(t, some, "a@example.com")
	assert.Len(t, some, 1)
}

func TestExists(t *testing.T) {
	r, mock := newMockRepo(t)
	mock.ExpectQuery(`SELECT EXISTS`).WithArgs("c1").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	ok, err := r.Exists(context.Background(), "c1")
	require.NoError(t, err)
	assert.True(t, ok)
}
