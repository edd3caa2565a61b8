package handler

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/matthewbaird/payoutrules/internal/activity"
	"github.com/matthewbaird/payoutrules/internal/event"
	"github.com/matthewbaird/payoutrules/internal/types"
)

// HistoryHandler serves the change history of templates and rules from the
// activity store.
type HistoryHandler struct {
	store activity.Store
}

func NewHistoryHandler(store activity.Store) *HistoryHandler {
	return &HistoryHandler{store: store}
}

// RuleHistory handles GET /v1/rules/{id}/history.
func (h *HistoryHandler) RuleHistory(w http.ResponseWriter, r *http.Request) {
	h.history(w, r, event.EntityRule)
}

// TemplateHistory handles GET /v1/templates/{id}/history.
func (h *HistoryHandler) TemplateHistory(w http.ResponseWriter, r *http.Request) {
	h.history(w, r, event.EntityTemplate)
}

func (h *HistoryHandler) history(w http.ResponseWriter, r *http.Request, entityType string) {
	id, ok := pathParam(w, r, "id")
	if !ok {
		return
	}

	q := r.URL.Query()
	opts := activity.DefaultQueryOptions()
	for name, dst := range map[string]**time.Time{"since": &opts.Since, "until": &opts.Until} {
		raw := q.Get(name)
		if raw == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_PARAMS", name+" must be RFC 3339")
			return
		}
		*dst = &t
	}
	if v := q.Get("event_types"); v != "" {
		opts.EventTypes = strings.Split(v, ",")
	}
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			opts.Limit = n
		}
	}
	opts.Cursor = q.Get("cursor")

	entries, next, total, err := h.store.QueryByEntity(r.Context(), OwnerFrom(r.Context()), entityType, id, opts)
	if err != nil {
		errorToHTTP(w, r, err)
		return
	}
	if entries == nil {
		entries = []types.ActivityEntry{}
	}
	writeJSON(w, http.StatusOK, struct {
		Activities []types.ActivityEntry `json:"activities"`
		NextCursor string                `json:"next_cursor,omitempty"`
		TotalCount int                   `json:"total_count"`
	}{entries, next, total})
}
