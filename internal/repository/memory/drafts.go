package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/ignite/ses-bulk-sender/internal/domain"
	"github.com/ignite/ses-bulk-sender/internal/service/drafts"
)

var _ drafts.Repository = (*DraftRepo)(nil)

// DraftRepo implements drafts.Repository in memory.
type DraftRepo struct {
	mu     sync.RWMutex
	nextID int64
	drafts map[int64]domain.Draft
}

// NewDraftRepo creates an empty repository.
func NewDraftRepo() *DraftRepo {
	return &DraftRepo{drafts: make(map[int64]domain.Draft)}
}

func cloneDraft(d domain.Draft) domain.Draft {
	d.Recipients = append([]string{}, d.Recipients...)
	d.Attachments = append([]string{}, d.Attachments...)
	return d
}

func (r *DraftRepo) Create(_ context.Context, d *domain.Draft) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	d.ID = r.nextID
	r.drafts[d.ID] = cloneDraft(*d)
	return nil
}

func (r *DraftRepo) Get(_ context.Context, id int64) (*domain.Draft, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.drafts[id]
	if !ok {
		return nil, drafts.ErrNotFound
	}
	d = cloneDraft(d)
	return &d, nil
}

func (r *DraftRepo) List(_ context.Context) ([]domain.Draft, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.Draft, 0, len(r.drafts))
	for _, d := range r.drafts {
		out = append(out, cloneDraft(d))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.After(out[j].UpdatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

func (r *DraftRepo) Save(_ context.Context, d *domain.Draft) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.drafts[d.ID]; !ok {
		return drafts.ErrNotFound
	}
	r.drafts[d.ID] = cloneDraft(*d)
	return nil
}

func (r *DraftRepo) Delete(_ context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.drafts[id]; !ok {
		return drafts.ErrNotFound
	}
	delete(r.drafts, id)
	return nil
}
