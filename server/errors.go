package server

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/teranos/jobpulse/errors"
	"github.com/teranos/jobpulse/logger"
)

// statusForError maps the error taxonomy onto HTTP status codes
func statusForError(err error) int {
	switch {
	case errors.IsNotFoundError(err):
		return http.StatusNotFound
	case errors.IsInvalidRequestError(err):
		return http.StatusBadRequest
	case errors.IsConflictError(err):
		return http.StatusConflict
	case errors.IsExternalServiceError(err):
		return http.StatusBadGateway
	case errors.Is(err, errors.ErrServiceUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeServiceError logs err and writes it with the status its class maps to.
// Hints attached to the error are returned to the caller; internal errors are not echoed.
func writeServiceError(w http.ResponseWriter, r *http.Request, log *zap.SugaredLogger, err error, action string) {
	status := statusForError(err)
	fields := append(logger.FieldsFromContext(r.Context()), logger.FieldError, err, logger.FieldStatus, status)
	if status >= http.StatusInternalServerError {
		log.Errorw(action, fields...)
	} else {
		log.Infow(action, fields...)
	}

	message := err.Error()
	if status == http.StatusInternalServerError {
		message = action
	}
	body := map[string]interface{}{"error": message}
	if hints := errors.GetAllHints(err); len(hints) > 0 {
		body["hint"] = hints[0]
	}
	writeJSON(w, status, body)
}
