package drafts

import (
	"context"
	"strings"
	"time"

	"github.com/ignite/ses-bulk-sender/internal/domain"
)

// Service validates and stores drafts. Drafts are incomplete by nature:
// only the name and, when set, the body format are checked. Recipients are
// validated when the draft is sent.
type Service struct {
	repo Repository
	now  func() time.Time
}

// NewService creates a draft service backed by repo.
func NewService(repo Repository) *Service {
	return &Service{repo: repo, now: time.Now}
}

// Create stores a new draft and returns it with its id.
func (s *Service) Create(ctx context.Context, d domain.Draft) (*domain.Draft, error) {
	if err := normalize(&d); err != nil {
		return nil, err
	}
	now := s.now().UTC()
	d.ID = 0
	d.CreatedAt, d.UpdatedAt = now, now
	if err := s.repo.Create(ctx, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

// Get returns one draft.
func (s *Service) Get(ctx context.Context, id int64) (*domain.Draft, error) {
	return s.repo.Get(ctx, id)
}

// List returns all drafts.
func (s *Service) List(ctx context.Context) ([]domain.Draft, error) {
	return s.repo.List(ctx)
}

// Update applies patch to draft id. An empty patch returns ErrNoChanges.
func (s *Service) Update(ctx context.Context, id int64, patch domain.DraftPatch) (*domain.Draft, error) {
	if patch.Empty() {
		return nil, ErrNoChanges
	}
	d, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	patch.Apply(d)
	if err := normalize(d); err != nil {
		return nil, err
	}
	d.UpdatedAt = s.now().UTC()
	if err := s.repo.Save(ctx, d); err != nil {
		return nil, err
	}
	return d, nil
}

// Delete removes draft id.
func (s *Service) Delete(ctx context.Context, id int64) error {
	return s.repo.Delete(ctx, id)
}

func normalize(d *domain.Draft) error {
	verr := &domain.ValidationError{}
	d.Name = strings.TrimSpace(d.Name)
	if d.Name == "" {
		verr.Fields = append(verr.Fields, domain.FieldError{Field: "name", Message: "name is required"})
	}
	if d.Format == "" {
		d.Format = domain.FormatHTML
	}
	if !d.Format.Valid() {
		verr.Fields = append(verr.Fields, domain.FieldError{
			Field: "email_type", Message: "email_type must be html, text or markdown",
		})
	}
	if d.Recipients == nil {
		d.Recipients = []string{}
	}
	if d.Attachments == nil {
		d.Attachments = []string{}
	}
	if len(verr.Fields) > 0 {
		return verr
	}
	return nil
}
