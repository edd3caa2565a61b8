package handler

import (
	"net/http"

	"github.com/matthewbaird/payoutrules/internal/rules"
	"github.com/matthewbaird/payoutrules/internal/types"
)

// TemplateHandler implements the calculation template endpoints.
type TemplateHandler struct {
	svc *rules.Service
}

func NewTemplateHandler(svc *rules.Service) *TemplateHandler {
	return &TemplateHandler{svc: svc}
}

// CreateTemplate handles POST /v1/templates.
func (h *TemplateHandler) CreateTemplate(w http.ResponseWriter, r *http.Request) {
	var in rules.TemplateInput
	if !decodeJSON(w, r, &in) {
		return
	}
	t, err := h.svc.CreateTemplate(r.Context(), OwnerFrom(r.Context()), in)
	if err != nil {
		errorToHTTP(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

// ListTemplates handles GET /v1/templates.
func (h *TemplateHandler) ListTemplates(w http.ResponseWriter, r *http.Request) {
	list, err := h.svc.ListTemplates(r.Context(), OwnerFrom(r.Context()))
	if err != nil {
		errorToHTTP(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"templates": list})
}

// GetTemplate handles GET /v1/templates/{id}. The template's rules are
// included.
func (h *TemplateHandler) GetTemplate(w http.ResponseWriter, r *http.Request) {
	id, ok := pathParam(w, r, "id")
	if !ok {
		return
	}
	owner := OwnerFrom(r.Context())
	t, err := h.svc.GetTemplate(r.Context(), owner, id)
	if err != nil {
		errorToHTTP(w, r, err)
		return
	}
	rs, err := h.svc.ListRules(r.Context(), owner, rules.RuleFilter{TemplateID: id})
	if err != nil {
		errorToHTTP(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		types.Template
		Rules []types.Rule `json:"rules"`
	}{t, rs})
}

// UpdateTemplate handles PATCH /v1/templates/{id}.
func (h *TemplateHandler) UpdateTemplate(w http.ResponseWriter, r *http.Request) {
	id, ok := pathParam(w, r, "id")
	if !ok {
		return
	}
	var patch rules.TemplatePatch
	if !decodeJSON(w, r, &patch) {
		return
	}
	t, err := h.svc.UpdateTemplate(r.Context(), OwnerFrom(r.Context()), id, patch)
	if err != nil {
		errorToHTTP(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// PromoteTemplate handles POST /v1/templates/{id}/promote.
func (h *TemplateHandler) PromoteTemplate(w http.ResponseWriter, r *http.Request) {
	id, ok := pathParam(w, r, "id")
	if !ok {
		return
	}
	t, err := h.svc.PromoteDefault(r.Context(), OwnerFrom(r.Context()), id)
	if err != nil {
		errorToHTTP(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// DeleteTemplate handles DELETE /v1/templates/{id}.
func (h *TemplateHandler) DeleteTemplate(w http.ResponseWriter, r *http.Request) {
	id, ok := pathParam(w, r, "id")
	if !ok {
		return
	}
	res, err := h.svc.DeleteTemplate(r.Context(), OwnerFrom(r.Context()), id)
	if err != nil {
		errorToHTTP(w, r, err)
		return
	}
	resp := map[string]any{
		"template":           res.Template,
		"deleted_rule_count": res.DeletedRuleCount,
	}
	if res.Warning != nil {
		resp["warning"] = res.Warning.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

// ListCustomFields handles GET /v1/custom-fields.
func (h *TemplateHandler) ListCustomFields(w http.ResponseWriter, r *http.Request) {
	fields, err := h.svc.ListCustomFields(r.Context(), OwnerFrom(r.Context()))
	if err != nil {
		errorToHTTP(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"custom_fields": fields})
}
