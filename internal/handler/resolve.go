package handler

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/matthewbaird/payoutrules/internal/formula"
	"github.com/matthewbaird/payoutrules/internal/platform"
	"github.com/matthewbaird/payoutrules/internal/resolve"
	"github.com/matthewbaird/payoutrules/internal/types"
)

const maxBatch = 1000

// ResolveHandler implements resolution, formula validation and platform
// discovery.
type ResolveHandler struct {
	engine    *resolve.Engine
	platforms *platform.Set
	formulas  *formula.Cache
}

func NewResolveHandler(engine *resolve.Engine, platforms *platform.Set, formulas *formula.Cache) *ResolveHandler {
	return &ResolveHandler{engine: engine, platforms: platforms, formulas: formulas}
}

type resolveRequest struct {
	ID       string                 `json:"id,omitempty"`
	Platform string                 `json:"platform"`
	Record   types.RawBookingSource `json:"record"`
}

// Resolve handles POST /v1/resolve.
func (h *ResolveHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	var req resolveRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	p, err := h.platforms.ParseRecordPlatform(req.Platform)
	if err != nil {
		errorToHTTP(w, r, err)
		return
	}
	out, err := h.engine.Resolve(r.Context(), req.Record, p, OwnerFrom(r.Context()))
	if err != nil {
		errorToHTTP(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// ResolveBatch handles POST /v1/resolve/batch.
func (h *ResolveHandler) ResolveBatch(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Bookings []resolveRequest `json:"bookings"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if len(req.Bookings) > maxBatch {
		writeError(w, http.StatusBadRequest, "BATCH_TOO_LARGE", fmt.Sprintf("at most %d bookings per batch", maxBatch))
		return
	}

	bookings := make([]resolve.Booking, len(req.Bookings))
	for i, b := range req.Bookings {
		p, err := h.platforms.ParseRecordPlatform(b.Platform)
		if err != nil {
			var upe *platform.UnknownPlatformError
			if errors.As(err, &upe) {
				writeJSON(w, http.StatusBadRequest, map[string]any{
					"error":      fmt.Sprintf("booking %d: %s", i, upe.Error()),
					"code":       "UNKNOWN_PLATFORM",
					"index":      i,
					"suggestion": upe.Suggestion,
				})
				return
			}
			errorToHTTP(w, r, err)
			return
		}
		id := b.ID
		if id == "" {
			id = fmt.Sprint(i)
		}
		bookings[i] = resolve.Booking{ID: id, Platform: p, Record: b.Record}
	}

	results, err := h.engine.ResolveBatch(r.Context(), bookings, OwnerFrom(r.Context()))
	if err != nil {
		errorToHTTP(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

// ValidateFormula handles POST /v1/formulas/validate. A syntax error is a
// successful validation with valid=false. When a record is supplied the
// formula is also evaluated against it.
func (h *ResolveHandler) ValidateFormula(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Formula string                 `json:"formula"`
		Record  types.RawBookingSource `json:"record,omitempty"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	expr, err := h.formulas.Compile(req.Formula)
	if err != nil {
		var se *formula.SyntaxError
		if !errors.As(err, &se) {
			errorToHTTP(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"valid":      false,
			"error":      se.Message,
			"col":        se.Col,
			"suggestion": se.Suggestion,
		})
		return
	}

	resp := map[string]any{
		"valid":     true,
		"canonical": expr.String(),
		"fields":    expr.Fields(),
	}
	if req.Record != nil {
		if v, ok := expr.Evaluate(req.Record); ok {
			resp["value"] = v
		} else {
			resp["value"] = nil
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// ListPlatforms handles GET /v1/platforms.
func (h *ResolveHandler) ListPlatforms(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"wildcard":  "ALL",
		"platforms": h.platforms.All(),
	})
}

// PlatformAdapters handles GET /v1/platforms/{platform}/adapters.
func (h *ResolveHandler) PlatformAdapters(w http.ResponseWriter, r *http.Request) {
	raw, ok := pathParam(w, r, "platform")
	if !ok {
		return
	}
	p, err := h.platforms.ParseRecordPlatform(raw)
	if err != nil {
		errorToHTTP(w, r, err)
		return
	}
	reg := h.engine.Registry()
	derived := map[string]platform.Derivation{}
	for _, f := range types.CanonicalFields {
		if d, ok := reg.Derivation(p, f); ok {
			derived[f] = d
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"platform": p,
		"version":  reg.Version(),
		"chains":   reg.Describe(p),
		"derived":  derived,
	})
}
