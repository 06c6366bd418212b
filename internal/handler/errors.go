package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"wa-gateway-lite/internal/session"
)

// respondError maps orchestrator error codes to HTTP statuses.
func respondError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	msg := "Internal error"
	switch session.CodeOf(err) {
	case session.ErrorNotFound:
		status, msg = http.StatusNotFound, "Session not found"
	case session.ErrorReferenceNotFound:
		status, msg = http.StatusNotFound, "Referenced message not found"
	case session.ErrorInvalidInput:
		status = http.StatusBadRequest
		msg = "Invalid request"
		var se *session.Error
		if errors.As(err, &se) && se.Reason != "" {
			msg = se.Reason
		}
	default:
		_ = c.Error(err)
	}
	c.JSON(status, gin.H{"error": msg})
}

func denyScope(c *gin.Context) {
	c.JSON(http.StatusForbidden, gin.H{"error": "Session not permitted for this token"})
}
