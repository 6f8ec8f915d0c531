package history

import (
	"context"
	"time"

	"github.com/ignite/ses-bulk-sender/internal/domain"
)

// Repository defines the data access contract for campaign history.
// Implementations must be safe for concurrent use.
type Repository interface {
	// CreateCampaign inserts a campaign in sending status.
	CreateCampaign(ctx context.Context, c *domain.Campaign) error

	// RecordOutcomes stores the per-recipient results of one batch.
	RecordOutcomes(ctx context.Context, campaignID string, outcomes []domain.RecipientOutcome, at time.Time) error

	// FinishCampaign sets the final counts and status. Returns ErrNotFound
	// if the campaign doesn't exist.
	FinishCampaign(ctx context.Context, id string, status domain.CampaignStatus, sent, failed int, at time.Time) error

	// Get returns a campaign with its failed recipients. Returns ErrNotFound
	// if it doesn't exist.
	Get(ctx context.Context, id string) (*domain.CampaignDetail, error)

	// List returns campaigns matching the filter, ordered by created_at DESC,
	// and the total number of matches.
	List(ctx context.Context, filter ListFilter) ([]domain.Campaign, int, error)

	// Stats aggregates all campaigns. Day and week windows end at now.
	Stats(ctx context.Context, now time.Time) (*domain.HistoryStats, error)

	// SentRecipients returns the lower-cased addresses successfully sent by
	// the given campaigns, or by all campaigns when ids is empty.
	SentRecipients(ctx context.Context, ids []string) (map[string]struct{}, error)

	// Exists reports whether a campaign id is known.
	Exists(ctx context.Context, id string) (bool, error)
}

// ListFilter controls pagination and search for campaign lists. Search
// matches subject or sender case-insensitively.
type ListFilter struct {
	Search string
	Limit  int
	Offset int
}

// DefaultListLimit is applied when a filter has no limit.
const DefaultListLimit = 50
