// Package drafts stores unsent messages operators save and reload.
package drafts

import (
	"context"
	"errors"

	"github.com/ignite/ses-bulk-sender/internal/domain"
)

var (
	ErrNotFound  = errors.New("draft not found")
	ErrNoChanges = errors.New("no fields to update")
)

// Repository is the storage contract for drafts. Implementations must be
// safe for concurrent use.
type Repository interface {
	// Create assigns d.ID.
	Create(ctx context.Context, d *domain.Draft) error
	// Get returns ErrNotFound for an unknown id.
	Get(ctx context.Context, id int64) (*domain.Draft, error)
	// List returns every draft, most recently updated first.
	List(ctx context.Context) ([]domain.Draft, error)
	// Save overwrites an existing draft. Returns ErrNotFound for an unknown id.
	Save(ctx context.Context, d *domain.Draft) error
	// Delete returns ErrNotFound for an unknown id.
	Delete(ctx context.Context, id int64) error
}
