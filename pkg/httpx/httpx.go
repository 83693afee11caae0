package httpx

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"

	"signlane/pkg/domain"
)

func NewRequestID() string { return "req_" + uuid.NewString() }

func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("content-type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func ReadJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func WriteError(w http.ResponseWriter, status int, code, message string, details any) {
	resp := map[string]any{
		"request_id": NewRequestID(),
		"error": map[string]any{
			"code": code, "message": message, "details": details,
		},
	}
	WriteJSON(w, status, resp)
}

// WriteDomainError maps the engine's error taxonomy onto HTTP statuses.
// Anything unrecognized is treated as an internal failure without leaking
// the underlying message.
func WriteDomainError(w http.ResponseWriter, err error) {
	var ve *domain.ValidationError
	var ise *domain.InvalidStateError
	var nf *domain.NotFoundError
	var cc *domain.ConcurrencyConflictError
	var xd *domain.ExternalDependencyError
	switch {
	case errors.As(err, &ve):
		WriteError(w, http.StatusBadRequest, "validation_error", ve.Error(), map[string]any{"field": ve.Field})
	case errors.As(err, &ise):
		WriteError(w, http.StatusConflict, "invalid_state", ise.Error(), map[string]any{"status": ise.Status})
	case errors.As(err, &nf):
		WriteError(w, http.StatusNotFound, "not_found", nf.Error(), nil)
	case errors.As(err, &cc):
		WriteError(w, http.StatusConflict, "concurrency_conflict", cc.Error(), map[string]any{"expected_version": cc.ExpectedVersion})
	case errors.As(err, &xd):
		WriteError(w, http.StatusBadGateway, "dependency_failure", xd.Dependency+" unavailable", nil)
	default:
		WriteError(w, http.StatusInternalServerError, "internal", "internal error", nil)
	}
}
