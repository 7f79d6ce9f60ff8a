package api

import (
	"errors"
	"net/http"

	"drug-analytics/apperrors"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// respondError übersetzt Fehler der Services in HTTP-Antworten.
func respondError(c *gin.Context, log *zap.Logger, err error) {
	status, title := classify(err)
	if status >= http.StatusInternalServerError {
		log.Error("Request failed",
			zap.String("path", c.FullPath()),
			zap.Int("status", status),
			zap.Error(err))
		if status == http.StatusInternalServerError {
			c.JSON(status, gin.H{"error": title, "message": "internal server error"})
			return
		}
	}
	c.JSON(status, gin.H{"error": title, "message": err.Error()})
}

func classify(err error) (int, string) {
	switch {
	case apperrors.IsValidation(err), errors.Is(err, apperrors.ErrInvalidCursor):
		return http.StatusBadRequest, "Validation Error"
	case errors.Is(err, apperrors.ErrPayloadTooLarge):
		return http.StatusRequestEntityTooLarge, "Payload Too Large"
	case errors.Is(err, apperrors.ErrNotFound):
		return http.StatusNotFound, "Not Found"
	case errors.Is(err, apperrors.ErrConflict):
		return http.StatusConflict, "Conflict"
	case apperrors.IsDependency(err):
		return http.StatusBadGateway, "Storage Error"
	}
	return http.StatusInternalServerError, "Internal Server Error"
}
