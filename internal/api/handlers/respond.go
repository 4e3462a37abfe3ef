// Package handlers provides REST API handlers for activities and sync.
package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/kimhsiao/timeaudit/internal/errors"
	"github.com/kimhsiao/timeaudit/internal/logging"
)

type errorBody struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Error("Failed to encode response", err, nil)
	}
}

// writeError maps an AppError code to an HTTP status.
func writeError(w http.ResponseWriter, err error) {
	code := errors.CodeOf(err)

	status := http.StatusInternalServerError
	switch code {
	case errors.ErrValidation, errors.ErrInvalid:
		status = http.StatusBadRequest
	case errors.ErrNotAuthenticated:
		status = http.StatusUnauthorized
	case errors.ErrNotFound:
		status = http.StatusNotFound
	case errors.ErrDuplicate:
		status = http.StatusConflict
	case errors.ErrLocalWrite:
		status = http.StatusInsufficientStorage
	case errors.ErrRemoteUnavailable:
		status = http.StatusServiceUnavailable
	}
	if status == http.StatusInternalServerError {
		logging.ErrorWithCode("Request failed", string(code), err, nil)
	}

	var body errorBody
	body.Error.Code = string(code)
	body.Error.Message = err.Error()
	writeJSON(w, status, body)
}

func methodNotAllowed(w http.ResponseWriter) {
	http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
}
