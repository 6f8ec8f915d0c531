package drafts_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/ses-bulk-sender/internal/domain"
	"github.com/ignite/ses-bulk-sender/internal/repository/memory"
	"github.com/ignite/ses-bulk-sender/internal/service/drafts"
)

func ptr[T any](v T) *T { return &v }

func TestServiceCreateDefaults(t *testing.T) {
	svc := drafts.NewService(memory.NewDraftRepo())

	d, err := svc.Create(context.Background(), domain.Draft{Name: "  Launch  ", Subject: "Hi"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), d.ID)
	assert.Equal(t, "Launch", d.Name)
	assert.Equal(t, domain.FormatHTML, d.Format)
	assert.Equal(t, []string{}, d.Recipients)
	assert.False(t, d.CreatedAt.IsZero())
}

func TestServiceCreateValidation(t *testing.T) {
	svc := drafts.NewService(memory.NewDraftRepo())

	_, err := svc.Create(context.Background(), domain.Draft{Format: "pdf"})
	var verr *domain.ValidationError
	require.ErrorAs(t, err, &verr)
	require.Len(t, verr.Fields, 2)
	assert.Equal(t, "name", verr.Fields[0].Field)
	assert.Equal(t, "email_type", verr.Fields[1].Field)
}

func TestServiceUpdate(t *testing.T) {
	ctx := context.Background()
	svc := drafts.NewService(memory.NewDraftRepo())
	d, err := svc.Create(ctx, domain.Draft{Name: "n", Subject: "old", Body: "keep"})
	require.NoError(t, err)

	updated, err := svc.Update(ctx, d.ID, domain.DraftPatch{
		Subject:    ptr("new"),
		Recipients: []string{"a@example.com"},
		Format:     ptr(domain.FormatMarkdown),
	})
	require.NoError(t, err)
	assert.Equal(t, "new", updated.Subject)
	assert.Equal(t, "keep", updated.Body)
	assert.Equal(t, []string{"a@example.com"}, updated.Recipients)
	assert.Equal(t, domain.FormatMarkdown, updated.Format)

	got, err := svc.Get(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, "new", got.Subject)

	_, err = svc.Update(ctx, d.ID, domain.DraftPatch{})
	assert.ErrorIs(t, err, drafts.ErrNoChanges)

	_, err = svc.Update(ctx, 99, domain.DraftPatch{Subject: ptr("x")})
	assert.ErrorIs(t, err, drafts.ErrNotFound)

	_, err = svc.Update(ctx, d.ID, domain.DraftPatch{Name: ptr(" ")})
	assert.ErrorIs(t, err, domain.ErrInvalidJob)
}

func TestServiceListAndDelete(t *testing.T) {
	ctx := context.Background()
	svc := drafts.NewService(memory.NewDraftRepo())
	first, err := svc.Create(ctx, domain.Draft{Name: "first"})
	require.NoError(t, err)
	time.Sleep(time.Millisecond)
	_, err = svc.Create(ctx, domain.Draft{Name: "second"})
	require.NoError(t, err)

	list, err := svc.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "second", list[0].Name)

	require.NoError(t, svc.Delete(ctx, first.ID))
	assert.ErrorIs(t, svc.Delete(ctx, first.ID), drafts.ErrNotFound)
	_, err = svc.Get(ctx, first.ID)
	assert.ErrorIs(t, err, drafts.ErrNotFound)
}

func TestDraftSendRequest(t *testing.T) {
	d := &domain.Draft{Subject: "s", Body: "b", Recipients: []string{"a@example.com"}, Format: domain.FormatText}
	req := d.SendRequest()
	assert.Equal(t, "s", req.Subject)
	assert.Equal(t, domain.FormatText, req.EmailType)
	req.Recipients[0] = "changed"
	assert.Equal(t, "a@example.com", d.Recipients[0])
}
