package history

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/ignite/ses-bulk-sender/internal/domain"
)

// Service answers history queries. All public methods are safe for
// concurrent use if the underlying repository is concurrency-safe.
type Service struct {
	repo Repository
	now  func() time.Time
}

// NewService creates a history service backed by the given repository.
func NewService(repo Repository) *Service {
	return &Service{repo: repo, now: time.Now}
}

// List returns campaigns, newest first.
func (s *Service) List(ctx context.Context, f ListFilter) ([]domain.Campaign, int, error) {
	f.Search = strings.TrimSpace(f.Search)
	if f.Limit <= 0 {
		f.Limit = DefaultListLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return s.repo.List(ctx, f)
}

// Get returns one campaign with its failed recipients.
func (s *Service) Get(ctx context.Context, id string) (*domain.CampaignDetail, error) {
	return s.repo.Get(ctx, id)
}

// Stats returns totals across all campaigns.
func (s *Service) Stats(ctx context.Context) (*domain.HistoryStats, error) {
	st, err := s.repo.Stats(ctx, s.now().UTC())
	if err != nil {
		return nil, err
	}
	if total := st.TotalSent + st.TotalFailed; total > 0 {
		st.SuccessRate = math.Round(float64(st.TotalSent)/float64(total)*1000) / 10
	}
	return st, nil
}

// Compare splits recipients into addresses already sent by the given
// campaigns (all campaigns when ids is empty) and new ones. Input is
// normalized like a submission; invalid entries are skipped.
func (s *Service) Compare(ctx context.Context, recipients, ids []string) (*domain.RecipientComparison, error) {
	list := domain.NormalizeRecipients(recipients, nil)
	if len(list) == 0 {
		return nil, ErrNoRecipients
	}

	for _, id := range ids {
		ok, err := s.repo.Exists(ctx, id)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownCampaign, id)
		}
	}

	sent, err := s.repo.SentRecipients(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("load sent recipients: %w", err)
	}

	out := &domain.RecipientComparison{
		Total:           len(list),
		AlreadySentList: []string{},
		NewList:         []string{},
	}
	for _, r := range list {
		if _, ok := sent[strings.ToLower(r)]; ok {
			out.AlreadySentList = append(out.AlreadySentList, r)
		} else {
			out.NewList = append(out.NewList, r)
		}
	}
	out.AlreadySent = len(out.AlreadySentList)
	out.New = len(out.NewList)
	return out, nil
}
