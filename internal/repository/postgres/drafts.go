package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/ignite/ses-bulk-sender/internal/domain"
	"github.com/ignite/ses-bulk-sender/internal/service/drafts"
)

var _ drafts.Repository = (*DraftRepo)(nil)

// DraftRepo implements drafts.Repository against PostgreSQL.
type DraftRepo struct{ db *sql.DB }

// NewDraftRepo creates a Postgres-backed draft repository.
func NewDraftRepo(db *sql.DB) *DraftRepo { return &DraftRepo{db: db} }

const draftColumns = `id, name, subject, body, sender, recipients, attachments, email_type, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDraft(s rowScanner) (*domain.Draft, error) {
	d := &domain.Draft{}
	err := s.Scan(&d.ID, &d.Name, &d.Subject, &d.Body, &d.Sender,
		pq.Array(&d.Recipients), pq.Array(&d.Attachments), &d.Format, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if d.Recipients == nil {
		d.Recipients = []string{}
	}
	if d.Attachments == nil {
		d.Attachments = []string{}
	}
	return d, nil
}

func (r *DraftRepo) Create(ctx context.Context, d *domain.Draft) error {
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO drafts
			(name, subject, body, sender, recipients, attachments, email_type, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id
	`, d.Name, d.Subject, d.Body, d.Sender, pq.Array(d.Recipients), pq.Array(d.Attachments),
		string(d.Format), d.CreatedAt, d.UpdatedAt).Scan(&d.ID)
	if err != nil {
		return fmt.Errorf("create draft: %w", err)
	}
	return nil
}

func (r *DraftRepo) Get(ctx context.Context, id int64) (*domain.Draft, error) {
	d, err := scanDraft(r.db.QueryRowContext(ctx,
		`SELECT `+draftColumns+` FROM drafts WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, drafts.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get draft: %w", err)
	}
	return d, nil
}

func (r *DraftRepo) List(ctx context.Context) ([]domain.Draft, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+draftColumns+` FROM drafts ORDER BY updated_at DESC, id DESC`)
	if err != nil {
		return nil, fmt.Errorf("list drafts: %w", err)
	}
	defer rows.Close()

	out := []domain.Draft{}
	for rows.Next() {
		d, err := scanDraft(rows)
		if err != nil {
			return nil, fmt.Errorf("scan draft: %w", err)
		}
		out = append(out, *d)
	}
	return out, rows.Err()
}

func (r *DraftRepo) Save(ctx context.Context, d *domain.Draft) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE drafts
		SET name = $2, subject = $3, body = $4, sender = $5, recipients = $6,
		    attachments = $7, email_type = $8, updated_at = $9
		WHERE id = $1
	`, d.ID, d.Name, d.Subject, d.Body, d.Sender, pq.Array(d.Recipients), pq.Array(d.Attachments),
		string(d.Format), d.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save draft: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return drafts.ErrNotFound
	}
	return nil
}

func (r *DraftRepo) Delete(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM drafts WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete draft: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return drafts.ErrNotFound
	}
	return nil
}
