package rest

import (
	"encoding/json"
	stderrors "errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/fleetdesk/fleetdesk-backend/internal/domain/errors"
)

type errorBody struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

type errorResponse struct {
	Error errorBody `json:"error"`
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.logger.Error("encoding response failed", zap.Error(err))
	}
}

// writeError maps domain errors onto HTTP. AppError carries its own status
// code; anything else is an opaque 500.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var appErr *errors.AppError
	if !stderrors.As(err, &appErr) {
		appErr = errors.NewInternalError("internal error").WithCause(err)
	}

	status := appErr.StatusCode
	if status == 0 {
		status = http.StatusInternalServerError
	}
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
	}

	body := errorResponse{Error: errorBody{
		Code:    appErr.Code,
		Message: appErr.Message,
		Details: appErr.Details,
	}}
	if status == http.StatusInternalServerError {
		// Internal details stay in the logs.
		body.Error.Message = "an internal error occurred"
		body.Error.Details = nil
	}
	h.writeJSON(w, status, body)
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		h.writeError(w, r, errors.NewValidationError("INVALID_BODY", "malformed request body"))
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		h.writeError(w, r, errors.NewValidationError("VALIDATION_FAILED", err.Error()))
		return false
	}
	return true
}
