package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/go-logr/logr"

	apperrors "github.com/jordigilh/medlearn-core/internal/errors"
)

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}

// writeError renders err as an RFC 7807 problem+json body. Learner-facing
// endpoints never leak algorithm internals: SafeErrorMessage strips detail
// for every type except validation and supply errors.
func writeError(w http.ResponseWriter, r *http.Request, log logr.Logger, err error) {
	appErr, ok := err.(*apperrors.AppError)
	if !ok {
		appErr = apperrors.Wrap(err, apperrors.ErrorTypeInternal, "unexpected error")
	}
	if appErr.StatusCode >= http.StatusInternalServerError {
		log.Error(err, "request failed", "path", r.URL.Path, "method", r.Method)
	}
	pd := apperrors.ToRFC7807(appErr, r.URL.Path)
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(pd.Status)
	_ = json.NewEncoder(w).Encode(pd)
}

func decodeJSON(r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return apperrors.Wrap(err, apperrors.ErrorTypeValidation, "malformed request body")
	}
	return nil
}
