// Package memory holds in-process repository implementations, used when no
// database is configured. Contents are lost on restart.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ignite/ses-bulk-sender/internal/domain"
	"github.com/ignite/ses-bulk-sender/internal/service/history"
)

type sentRecord struct {
	recipient string
	at        time.Time
}

var _ history.Repository = (*HistoryRepo)(nil)

// HistoryRepo implements history.Repository in memory.
type HistoryRepo struct {
	mu        sync.RWMutex
	campaigns map[string]*domain.Campaign
	failed    map[string][]domain.FailedRecipient
	sent      map[string][]sentRecord
}

// NewHistoryRepo creates an empty repository.
func NewHistoryRepo() *HistoryRepo {
	return &HistoryRepo{
		campaigns: make(map[string]*domain.Campaign),
		failed:    make(map[string][]domain.FailedRecipient),
		sent:      make(map[string][]sentRecord),
	}
}

func (r *HistoryRepo) CreateCampaign(_ context.Context, c *domain.Campaign) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *c
	cp.Attachments = append([]string{}, c.Attachments...)
	r.campaigns[c.ID] = &cp
	return nil
}

func (r *HistoryRepo) RecordOutcomes(_ context.Context, id string, outcomes []domain.RecipientOutcome, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.campaigns[id]
	if !ok {
		return history.ErrNotFound
	}
	for _, o := range outcomes {
		switch o.Status {
		case domain.OutcomeSent:
			r.sent[id] = append(r.sent[id], sentRecord{recipient: o.Recipient, at: at})
			c.SentCount++
		case domain.OutcomeFailed:
			r.failed[id] = append(r.failed[id], domain.FailedRecipient{
				CampaignID: id, Recipient: o.Recipient, Reason: o.Error, FailedAt: at,
			})
			c.FailedCount++
		}
	}
	return nil
}

func (r *HistoryRepo) FinishCampaign(_ context.Context, id string, status domain.CampaignStatus, sent, failed int, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.campaigns[id]
	if !ok {
		return history.ErrNotFound
	}
	c.Status = status
	c.SentCount = sent
	c.FailedCount = failed
	c.CompletedAt = &at
	return nil
}

func (r *HistoryRepo) Get(_ context.Context, id string) (*domain.CampaignDetail, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.campaigns[id]
	if !ok {
		return nil, history.ErrNotFound
	}
	return &domain.CampaignDetail{
		Campaign: *c,
		Failed:   append([]domain.FailedRecipient{}, r.failed[id]...),
	}, nil
}

func (r *HistoryRepo) List(_ context.Context, f history.ListFilter) ([]domain.Campaign, int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	search := strings.ToLower(f.Search)
	var out []domain.Campaign
	for _, c := range r.campaigns {
		if search != "" &&
			!strings.Contains(strings.ToLower(c.Subject), search) &&
			!strings.Contains(strings.ToLower(c.Sender), search) {
			continue
		}
		cp := *c
		cp.Body = ""
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })

	total := len(out)
	if f.Offset >= total {
		return []domain.Campaign{}, total, nil
	}
	out = out[f.Offset:]
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, total, nil
}

func (r *HistoryRepo) Stats(_ context.Context, now time.Time) (*domain.HistoryStats, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	st := &domain.HistoryStats{TotalCampaigns: len(r.campaigns)}
	for _, c := range r.campaigns {
		st.TotalSent += c.SentCount
		st.TotalFailed += c.FailedCount
	}

	today := now.Truncate(24 * time.Hour)
	weekAgo := now.Add(-7 * 24 * time.Hour)
	unique := make(map[string]struct{})
	for _, records := range r.sent {
		for _, s := range records {
			unique[strings.ToLower(s.recipient)] = struct{}{}
			if !s.at.Before(today) {
				st.SentToday++
			}
			if !s.at.Before(weekAgo) {
				st.SentThisWeek++
			}
		}
	}
	st.UniqueRecipients = len(unique)
	return st, nil
}

func (r *HistoryRepo) SentRecipients(_ context.Context, ids []string) (map[string]struct{}, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]struct{})
	add := func(records []sentRecord) {
		for _, s := range records {
			out[strings.ToLower(s.recipient)] = struct{}{}
		}
	}
	if len(ids) == 0 {
		for _, records := range r.sent {
			add(records)
		}
		return out, nil
	}
	for _, id := range ids {
		add(r.sent[id])
	}
	return out, nil
}

func (r *HistoryRepo) Exists(_ context.Context, id string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.campaigns[id]
	return ok, nil
}
