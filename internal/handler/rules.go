package handler

import (
	"net/http"

	"github.com/matthewbaird/payoutrules/internal/rules"
)

// RuleHandler implements the calculation rule endpoints.
type RuleHandler struct {
	svc *rules.Service
}

func NewRuleHandler(svc *rules.Service) *RuleHandler {
	return &RuleHandler{svc: svc}
}

// CreateRule handles POST /v1/rules.
func (h *RuleHandler) CreateRule(w http.ResponseWriter, r *http.Request) {
	var in rules.RuleInput
	if !decodeJSON(w, r, &in) {
		return
	}
	rule, err := h.svc.CreateRule(r.Context(), OwnerFrom(r.Context()), in)
	if err != nil {
		errorToHTTP(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, rule)
}

// ListRules handles GET /v1/rules. Query parameters template_id,
// untemplated, platform, target_field and active_only narrow the list.
func (h *RuleHandler) ListRules(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := rules.RuleFilter{
		TemplateID:  q.Get("template_id"),
		Untemplated: queryBool(r, "untemplated"),
		TargetField: q.Get("target_field"),
		ActiveOnly:  queryBool(r, "active_only"),
	}
	if raw := q.Get("platform"); raw != "" {
		p, err := h.svc.Platforms().Parse(raw)
		if err != nil {
			errorToHTTP(w, r, err)
			return
		}
		filter.Platform = p
	}
	list, err := h.svc.ListRules(r.Context(), OwnerFrom(r.Context()), filter)
	if err != nil {
		errorToHTTP(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"rules": list})
}

// GetRule handles GET /v1/rules/{id}.
func (h *RuleHandler) GetRule(w http.ResponseWriter, r *http.Request) {
	id, ok := pathParam(w, r, "id")
	if !ok {
		return
	}
	rule, err := h.svc.GetRule(r.Context(), OwnerFrom(r.Context()), id)
	if err != nil {
		errorToHTTP(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

// UpdateRule handles PATCH /v1/rules/{id}.
func (h *RuleHandler) UpdateRule(w http.ResponseWriter, r *http.Request) {
	id, ok := pathParam(w, r, "id")
	if !ok {
		return
	}
	var patch rules.RulePatch
	if !decodeJSON(w, r, &patch) {
		return
	}
	rule, err := h.svc.UpdateRule(r.Context(), OwnerFrom(r.Context()), id, patch)
	if err != nil {
		errorToHTTP(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

// DeleteRule handles DELETE /v1/rules/{id}.
func (h *RuleHandler) DeleteRule(w http.ResponseWriter, r *http.Request) {
	id, ok := pathParam(w, r, "id")
	if !ok {
		return
	}
	if err := h.svc.DeleteRule(r.Context(), OwnerFrom(r.Context()), id); err != nil {
		errorToHTTP(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
