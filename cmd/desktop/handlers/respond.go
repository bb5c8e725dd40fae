// Package handlers provides the REST API handlers of the desktop daemon.
package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/Jasujung99/couples-diary-pwa-sub001/internal/errors"
	"github.com/Jasujung99/couples-diary-pwa-sub001/internal/logging"
)

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logging.Error("failed to encode response", err, nil)
	}
}

func respondError(w http.ResponseWriter, status int, code errors.ErrorCode, message string) {
	respondJSON(w, status, map[string]interface{}{
		"error":   true,
		"code":    code,
		"message": message,
	})
}

// respondAppError maps an error code onto an HTTP status.
func respondAppError(w http.ResponseWriter, err error) {
	code := errors.CodeOf(err)
	status := http.StatusInternalServerError
	switch code {
	case errors.ErrInvalid, errors.ErrValidation:
		status = http.StatusBadRequest
	case errors.ErrNotFound:
		status = http.StatusNotFound
	case errors.ErrInvalidPassword:
		status = http.StatusUnauthorized
	case errors.ErrCorruptedArchive:
		status = http.StatusUnprocessableEntity
	case errors.ErrSyncConflict:
		status = http.StatusConflict
	case errors.ErrSyncNetwork, errors.ErrSyncTimeout:
		status = http.StatusBadGateway
	}
	if status == http.StatusInternalServerError {
		logging.ErrorWithCode("request failed", string(code), err)
	}
	respondJSON(w, status, map[string]interface{}{
		"error":   true,
		"code":    code,
		"message": err.Error(),
	})
}

func decodeJSON(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return errors.Wrap(errors.ErrInvalid, "invalid request body", err)
	}
	return nil
}
