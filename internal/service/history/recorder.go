package history

import (
	"context"
	"time"

	"github.com/ignite/ses-bulk-sender/internal/domain"
)

// Recorder persists dispatcher progress as campaign history. It implements
// sending.Observer.
type Recorder struct {
	repo   Repository
	sender string
	now    func() time.Time
}

// NewRecorder creates a recorder. sender is stored on every campaign.
func NewRecorder(repo Repository, sender string) *Recorder {
	return &Recorder{repo: repo, sender: sender, now: time.Now}
}

// JobStarted creates the campaign record.
func (r *Recorder) JobStarted(ctx context.Context, job *domain.SendJob) error {
	return r.repo.CreateCampaign(ctx, &domain.Campaign{
		ID:              job.ID,
		Subject:         job.Subject,
		Body:            job.Body,
		Sender:          r.sender,
		Format:          job.Format,
		Attachments:     append([]string{}, job.Attachments...),
		TotalRecipients: len(job.Recipients),
		Status:          domain.CampaignSending,
		CreatedAt:       job.CreatedAt,
	})
}

// BatchFinished stores the batch's recipient outcomes.
func (r *Recorder) BatchFinished(ctx context.Context, job *domain.SendJob, _ domain.BatchResult, outcomes []domain.RecipientOutcome) error {
	return r.repo.RecordOutcomes(ctx, job.ID, outcomes, r.now().UTC())
}

// JobFinished closes the campaign with its final counts.
func (r *Recorder) JobFinished(ctx context.Context, job *domain.SendJob, state domain.DispatchState) error {
	return r.repo.FinishCampaign(ctx, job.ID, CampaignStatus(state), state.TotalSent, state.TotalFailed, r.now().UTC())
}

// CampaignStatus maps a final dispatch state onto a campaign status. A
// completed job with no successful sends is failed.
func CampaignStatus(state domain.DispatchState) domain.CampaignStatus {
	switch state.Status {
	case domain.JobCancelled:
		return domain.CampaignCancelled
	case domain.JobError:
		return domain.CampaignFailed
	}
	if state.TotalSent == 0 && state.TotalFailed > 0 {
		return domain.CampaignFailed
	}
	return domain.CampaignSent
}
