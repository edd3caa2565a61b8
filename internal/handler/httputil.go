package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/matthewbaird/payoutrules/internal/formula"
	"github.com/matthewbaird/payoutrules/internal/logger"
	"github.com/matthewbaird/payoutrules/internal/platform"
	"github.com/matthewbaird/payoutrules/internal/rules"
)

const maxBodyBytes = 4 << 20

// writeJSON marshals v as JSON and writes it with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.WithError(err).Warn("writeJSON encode error")
	}
}

// writeError writes a structured JSON error response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]string{
		"error": message,
		"code":  code,
	})
}

// decodeJSON decodes the request body into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	defer r.Body.Close()
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "invalid request body: "+err.Error())
		return false
	}
	return true
}

// pathParam returns a required URL parameter.
func pathParam(w http.ResponseWriter, r *http.Request, name string) (string, bool) {
	v := chi.URLParam(r, name)
	if v == "" {
		writeError(w, http.StatusBadRequest, "MISSING_PARAMS", name+" is required")
		return "", false
	}
	return v, true
}

func queryBool(r *http.Request, name string) bool {
	b, _ := strconv.ParseBool(r.URL.Query().Get(name))
	return b
}

// errorToHTTP maps service errors to HTTP responses.
func errorToHTTP(w http.ResponseWriter, r *http.Request, err error) {
	var (
		syntax   *formula.SyntaxError
		unknown  *platform.UnknownPlatformError
		conflict *rules.DefaultTemplateConflictError
	)
	switch {
	case errors.As(err, &syntax):
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error":      syntax.Error(),
			"code":       "FORMULA_SYNTAX",
			"col":        syntax.Col,
			"suggestion": syntax.Suggestion,
		})
	case errors.As(err, &unknown):
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error":      unknown.Error(),
			"code":       "UNKNOWN_PLATFORM",
			"suggestion": unknown.Suggestion,
		})
	case errors.As(err, &conflict):
		writeError(w, http.StatusConflict, "DEFAULT_TEMPLATE_CONFLICT", err.Error())
	case errors.Is(err, rules.ErrInvalid):
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
	case errors.Is(err, rules.ErrNotFound):
		writeError(w, http.StatusNotFound, "NOT_FOUND", err.Error())
	case errors.Is(err, rules.ErrConflict):
		writeError(w, http.StatusConflict, "CONFLICT", err.Error())
	default:
		logger.WithError(err).WithField("path", r.URL.Path).Error("internal error")
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
	}
}
