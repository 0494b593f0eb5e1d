package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/andychuong/ttb-label-verification/internal/auth"
	"github.com/andychuong/ttb-label-verification/internal/submissions"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	codeNotFound             = "NOT_FOUND"
	codeValidationInProgress = "VALIDATION_IN_PROGRESS"
	codeVersionConflict      = "VERSION_CONFLICT"
	codeInvalidStatus        = "INVALID_STATUS"
	codeValidationError      = "VALIDATION_ERROR"
	codeForbidden            = "FORBIDDEN"
	codeUnauthorized         = "UNAUTHORIZED"
	codeInternalError        = "INTERNAL_ERROR"
)

type envelope struct {
	Success bool           `json:"success"`
	Data    any            `json:"data,omitempty"`
	Error   *envelopeError `json:"error,omitempty"`
}

type envelopeError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

func respondOK(c *gin.Context, status int, data any) {
	c.JSON(status, envelope{Success: true, Data: data})
}

func abortWithError(c *gin.Context, status int, code, message string, details any) {
	c.AbortWithStatusJSON(status, envelope{
		Success: false,
		Error:   &envelopeError{Code: code, Message: message, Details: details},
	})
}

// respondError maps service errors onto the envelope.
func (h *httpHandler) respondError(c *gin.Context, err error) {
	var fieldErrs submissions.FieldErrors
	switch {
	case errors.As(err, &fieldErrs):
		abortWithError(c, http.StatusBadRequest, codeValidationError, "Invalid submission data", map[string][]string(fieldErrs))
	case errors.Is(err, submissions.ErrSubmissionNotFound):
		abortWithError(c, http.StatusNotFound, codeNotFound, "Submission not found", nil)
	case errors.Is(err, submissions.ErrValidationInProgress):
		abortWithError(c, http.StatusLocked, codeValidationInProgress, "Validation is in progress for this submission. Try again shortly.", nil)
	case errors.Is(err, submissions.ErrVersionConflict):
		abortWithError(c, http.StatusConflict, codeVersionConflict, "Submission was modified by another request. Reload and try again.", nil)
	case errors.Is(err, submissions.ErrInvalidStatus):
		abortWithError(c, http.StatusBadRequest, codeInvalidStatus, detailMessage(err, submissions.ErrInvalidStatus), nil)
	case errors.Is(err, submissions.ErrInvalidReview):
		abortWithError(c, http.StatusBadRequest, codeValidationError, detailMessage(err, submissions.ErrInvalidReview), nil)
	case errors.Is(err, submissions.ErrInvalidImage):
		abortWithError(c, http.StatusBadRequest, codeValidationError, detailMessage(err, submissions.ErrInvalidImage), nil)
	case errors.Is(err, submissions.ErrInvalidSubmissionID),
		errors.Is(err, submissions.ErrInvalidUserID),
		errors.Is(err, errInvalidRequest):
		abortWithError(c, http.StatusBadRequest, codeValidationError, "Invalid request", nil)
	case errors.Is(err, auth.ErrForbidden):
		abortWithError(c, http.StatusForbidden, codeForbidden, "Admin access required", nil)
	default:
		h.logger.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
		abortWithError(c, http.StatusInternalServerError, codeInternalError, "Internal server error", nil)
	}
}

// detailMessage returns the text that follows the sentinel, which is the
// user-facing part of a wrapped service error.
func detailMessage(err, sentinel error) string {
	message := err.Error()
	marker := sentinel.Error() + ": "
	if index := strings.LastIndex(message, marker); index >= 0 {
		return message[index+len(marker):]
	}
	return sentinel.Error()
}
