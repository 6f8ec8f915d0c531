package history_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/ses-bulk-sender/internal/domain"
	"github.com/ignite/ses-bulk-sender/internal/repository/memory"
	"github.com/ignite/ses-bulk-sender/internal/service/history"
)

func newJob(t *testing.T, subject string, recipients ...string) *domain.SendJob {
	t.Helper()
	job, err := domain.NewSendJob(domain.SendRequest{
		Recipients: recipients, Subject: subject, Body: "<p>hi</p>",
	}, 2, 0)
	require.NoError(t, err)
	return job
}

func outcome(addr string, err string) domain.RecipientOutcome {
	if err != "" {
		return domain.RecipientOutcome{Recipient: addr, Status: domain.OutcomeFailed, Error: err}
	}
	return domain.RecipientOutcome{Recipient: addr, Status: domain.OutcomeSent, MessageID: "m-" + addr}
}

// record runs one job through the recorder the way the dispatcher would.
func record(t *testing.T, rec *history.Recorder, job *domain.SendJob, outcomes []domain.RecipientOutcome, status domain.JobStatus) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, rec.JobStarted(ctx, job))
	require.NoError(t, rec.BatchFinished(ctx, job, domain.BatchResult{Number: 1}, outcomes))

	state := domain.DispatchState{JobID: job.ID, Status: status}
	for _, o := range outcomes {
		if o.Status == domain.OutcomeSent {
			state.TotalSent++
		} else {
			state.TotalFailed++
		}
	}
	require.NoError(t, rec.JobFinished(ctx, job, state))
}

func TestRecorderPersistsCampaign(t *testing.T) {
	repo := memory.NewHistoryRepo()
	rec := history.NewRecorder(repo, "SES Email Sender")
	svc := history.NewService(repo)

	job := newJob(t, "Launch", "a@example.com", "b@example.com")
	record(t, rec, job, []domain.RecipientOutcome{
		outcome("a@example.com", ""),
		outcome("b@example.com", "Address blacklisted."),
	}, domain.JobComplete)

	got, err := svc.Get(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, "Launch", got.Subject)
	assert.Equal(t, "SES Email Sender", got.Sender)
	assert.Equal(t, 2, got.TotalRecipients)
	assert.Equal(t, 1, got.SentCount)
	assert.Equal(t, 1, got.FailedCount)
	assert.Equal(t, domain.CampaignSent, got.Status)
	require.NotNil(t, got.CompletedAt)
	require.Len(t, got.Failed, 1)
	assert.Equal(t, "b@example.com", got.Failed[0].Recipient)
	assert.Equal(t, "Address blacklisted.", got.Failed[0].Reason)
}

func TestCampaignStatus(t *testing.T) {
	tests := []struct {
		state domain.DispatchState
		want  domain.CampaignStatus
	}{
		{domain.DispatchState{Status: domain.JobComplete, TotalSent: 3}, domain.CampaignSent},
		{domain.DispatchState{Status: domain.JobComplete, TotalSent: 1, TotalFailed: 2}, domain.CampaignSent},
		{domain.DispatchState{Status: domain.JobComplete, TotalFailed: 2}, domain.CampaignFailed},
		{domain.DispatchState{Status: domain.JobError}, domain.CampaignFailed},
		{domain.DispatchState{Status: domain.JobCancelled, TotalSent: 5}, domain.CampaignCancelled},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, history.CampaignStatus(tt.state), "%+v", tt.state)
	}
}

func TestServiceListSearch(t *testing.T) {
	repo := memory.NewHistoryRepo()
	rec := history.NewRecorder(repo, "Marketing")
	svc := history.NewService(repo)

	record(t, rec, newJob(t, "Spring Sale", "a@example.com"), []domain.RecipientOutcome{outcome("a@example.com", "")}, domain.JobComplete)
	record(t, rec, newJob(t, "Newsletter", "a@example.com"), []domain.RecipientOutcome{outcome("a@example.com", "")}, domain.JobComplete)

	all, total, err := svc.List(context.Background(), history.ListFilter{})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Len(t, all, 2)

	found, total, err := svc.List(context.Background(), history.ListFilter{Search: "  sale "})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, found, 1)
	assert.Equal(t, "Spring Sale", found[0].Subject)

	found, _, err = svc.List(context.Background(), history.ListFilter{Search: "marketing"})
	require.NoError(t, err)
	assert.Len(t, found, 2, "search matches the sender too")
}

func TestServiceStats(t *testing.T) {
	repo := memory.NewHistoryRepo()
	rec := history.NewRecorder(repo, "s")
	svc := history.NewService(repo)

	record(t, rec, newJob(t, "one", "a@example.com", "b@example.com"), []domain.RecipientOutcome{
		outcome("a@example.com", ""), outcome("b@example.com", ""),
	}, domain.JobComplete)
	record(t, rec, newJob(t, "two", "a@example.com", "c@example.com"), []domain.RecipientOutcome{
		outcome("A@example.com", ""), outcome("c@example.com", "rejected"),
	}, domain.JobComplete)

	st, err := svc.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, st.TotalCampaigns)
	assert.Equal(t, 3, st.TotalSent)
	assert.Equal(t, 1, st.TotalFailed)
	assert.Equal(t, 2, st.UniqueRecipients, "addresses are counted case-insensitively")
	assert.Equal(t, 3, st.SentToday)
	assert.Equal(t, 75.0, st.SuccessRate)
}

func TestServiceCompare(t *testing.T) {
	repo := memory.NewHistoryRepo()
	rec := history.NewRecorder(repo, "s")
	svc := history.NewService(repo)
	ctx := context.Background()

	first := newJob(t, "one", "a@example.com", "b@example.com")
	record(t, rec, first, []domain.RecipientOutcome{
		outcome("a@example.com", ""), outcome("b@example.com", "bounced"),
	}, domain.JobComplete)
	second := newJob(t, "two", "c@example.com")
	record(t, rec, second, []domain.RecipientOutcome{outcome("c@example.com", "")}, domain.JobComplete)

	input := []string{"A@example.com", "b@example.com", "c@example.com", "d@example.com", "not-an-email"}

	cmp, err := svc.Compare(ctx, input, nil)
	require.NoError(t, err)
	assert.Equal(t, 4, cmp.Total)
	assert.Equal(t, []string{"A@example.com", "c@example.com"}, cmp.AlreadySentList)
	assert.Equal(t, []string{"b@example.com", "d@example.com"}, cmp.NewList, "failed sends count as new")
	assert.Equal(t, 2, cmp.AlreadySent)
	assert.Equal(t, 2, cmp.New)

	cmp, err = svc.Compare(ctx, input, []string{second.ID})
	require.NoError(t, err)
	assert.Equal(t, []string{"c@example.com"}, cmp.AlreadySentList)

	_, err = svc.Compare(ctx, input, []string{"missing"})
	assert.ErrorIs(t, err, history.ErrUnknownCampaign)

	_, err = svc.Compare(ctx, []string{"bad"}, nil)
	assert.ErrorIs(t, err, history.ErrNoRecipients)
}

type failingRepo struct {
	*memory.HistoryRepo
}

func (failingRepo) Stats(context.Context, time.Time) (*domain.HistoryStats, error) {
	return nil, errors.New("db down")
}

func TestServiceStatsError(t *testing.T) {
	svc := history.NewService(failingRepo{memory.NewHistoryRepo()})
	_, err := svc.Stats(context.Background())
	assert.EqualError(t, err, "db down")
}
