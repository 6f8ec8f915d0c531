package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/ignite/ses-bulk-sender/internal/domain"
	"github.com/ignite/ses-bulk-sender/internal/pkg/httputil"
	"github.com/ignite/ses-bulk-sender/internal/service/drafts"
)

type draftList struct {
	Drafts []domain.Draft `json:"drafts"`
	Total  int            `json:"total"`
}

// ListDrafts returns every saved draft, most recently updated first.
//
//	GET /api/drafts
func (h *Handlers) ListDrafts(w http.ResponseWriter, r *http.Request) {
	list, err := h.drafts.List(r.Context())
	if err != nil {
		respondSafeError(w, http.StatusInternalServerError, err, "failed to load drafts")
		return
	}
	if list == nil {
		list = []domain.Draft{}
	}
	httputil.OK(w, draftList{Drafts: list, Total: len(list)})
}

// GetDraft returns one draft.
//
//	GET /api/drafts/{id}
func (h *Handlers) GetDraft(w http.ResponseWriter, r *http.Request) {
	id, ok := draftID(w, r)
	if !ok {
		return
	}
	d, err := h.drafts.Get(r.Context(), id)
	if err != nil {
		respondDraftError(w, err)
		return
	}
	httputil.OK(w, d)
}

// CreateDraft saves a new draft.
//
//	POST /api/drafts
func (h *Handlers) CreateDraft(w http.ResponseWriter, r *http.Request) {
	var in domain.Draft
	if !httputil.Decode(w, r, &in) {
		return
	}
	d, err := h.drafts.Create(r.Context(), in)
	if err != nil {
		respondDraftError(w, err)
		return
	}
	httputil.Created(w, d)
}

// UpdateDraft applies a partial update. Omitted fields keep their value.
//
//	PUT /api/drafts/{id}
func (h *Handlers) UpdateDraft(w http.ResponseWriter, r *http.Request) {
	id, ok := draftID(w, r)
	if !ok {
		return
	}
	var patch domain.DraftPatch
	if !httputil.Decode(w, r, &patch) {
		return
	}
	d, err := h.drafts.Update(r.Context(), id, patch)
	if err != nil {
		respondDraftError(w, err)
		return
	}
	httputil.OK(w, d)
}

// DeleteDraft removes a draft.
//
//	DELETE /api/drafts/{id}
func (h *Handlers) DeleteDraft(w http.ResponseWriter, r *http.Request) {
	id, ok := draftID(w, r)
	if !ok {
		return
	}
	if err := h.drafts.Delete(r.Context(), id); err != nil {
		respondDraftError(w, err)
		return
	}
	httputil.OK(w, map[string]any{"id": id, "deleted": true})
}

func draftID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httputil.BadRequest(w, "invalid draft id")
		return 0, false
	}
	return id, true
}

func respondDraftError(w http.ResponseWriter, err error) {
	var verr *domain.ValidationError
	switch {
	case errors.Is(err, drafts.ErrNotFound):
		httputil.NotFound(w, "draft not found")
	case errors.Is(err, drafts.ErrNoChanges):
		httputil.ErrorWithDetails(w, http.StatusBadRequest, err.Error(), "no_changes", nil)
	case errors.As(err, &verr):
		httputil.ErrorWithDetails(w, http.StatusBadRequest, "invalid draft", "validation_failed", verr.Fields)
	default:
		respondSafeError(w, http.StatusInternalServerError, err, "draft operation failed")
	}
}
