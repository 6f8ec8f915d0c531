package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/ignite/ses-bulk-sender/internal/domain"
	"github.com/ignite/ses-bulk-sender/internal/pkg/httputil"
	"github.com/ignite/ses-bulk-sender/internal/service/history"
)

const maxHistoryLimit = 200

type historyPage struct {
	Campaigns  []domain.Campaign `json:"campaigns"`
	Total      int               `json:"total"`
	Pagination PaginationMeta    `json:"pagination"`
}

// ListHistory returns recorded campaigns, newest first.
//
//	GET /api/history?search=&page=&limit=
func (h *Handlers) ListHistory(w http.ResponseWriter, r *http.Request) {
	p := ParsePagination(r, history.DefaultListLimit, maxHistoryLimit)
	campaigns, total, err := h.history.List(r.Context(), history.ListFilter{
		Search: r.URL.Query().Get("search"),
		Limit:  p.Limit,
		Offset: p.Offset,
	})
	if err != nil {
		respondSafeError(w, http.StatusInternalServerError, err, "failed to load history")
		return
	}
	if campaigns == nil {
		campaigns = []domain.Campaign{}
	}
	httputil.OK(w, historyPage{
		Campaigns:  campaigns,
		Total:      total,
		Pagination: NewPaginationMeta(p, total),
	})
}

// HistoryStats returns totals across all campaigns.
//
//	GET /api/history/stats
func (h *Handlers) HistoryStats(w http.ResponseWriter, r *http.Request) {
	st, err := h.history.Stats(r.Context())
	if err != nil {
		respondSafeError(w, http.StatusInternalServerError, err, "failed to load history stats")
		return
	}
	httputil.OK(w, st)
}

// GetCampaign returns one campaign with its failed recipients.
//
//	GET /api/history/{id}
func (h *Handlers) GetCampaign(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	detail, err := h.history.Get(r.Context(), id)
	if errors.Is(err, history.ErrNotFound) {
		httputil.NotFound(w, "campaign not found")
		return
	}
	if err != nil {
		respondSafeError(w, http.StatusInternalServerError, err, "failed to load campaign")
		return
	}
	httputil.OK(w, detail)
}

type compareRequest struct {
	Recipients  []string `json:"recipients"`
	CampaignIDs []string `json:"campaign_ids"`
}

// CompareRecipients splits recipients into already-sent and new addresses.
//
//	POST /api/emails/compare
func (h *Handlers) CompareRecipients(w http.ResponseWriter, r *http.Request) {
	var req compareRequest
	if !httputil.Decode(w, r, &req) {
		return
	}

	ids := make([]string, 0, len(req.CampaignIDs))
	for _, id := range req.CampaignIDs {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}

	cmp, err := h.history.Compare(r.Context(), req.Recipients, ids)
	switch {
	case errors.Is(err, history.ErrNoRecipients):
		httputil.BadRequest(w, "at least one valid recipient is required")
	case errors.Is(err, history.ErrUnknownCampaign):
		httputil.NotFound(w, err.Error())
	case err != nil:
		respondSafeError(w, http.StatusInternalServerError, err, "failed to compare recipients")
	default:
		httputil.OK(w, cmp)
	}
}
