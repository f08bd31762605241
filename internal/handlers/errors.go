package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"imagedrop/internal/middleware"
	"imagedrop/internal/service"
)

// writeError maps service error kinds onto responses. Storage detail is
// logged and never returned.
func (h HandlerSet) writeError(c *gin.Context, err error) {
	_ = c.Error(err)

	switch service.KindOf(err) {
	case service.KindValidation:
		msg := service.PublicMessage(err)
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   strings.ReplaceAll(msg, " ", "_"),
			"message": msg,
		})
	case service.KindNotFound:
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
	default:
		h.log.Error().
			Err(err).
			Str("kind", service.KindOf(err).String()).
			Str("request_id", middleware.GetRequestID(c)).
			Str("path", c.Request.URL.Path).
			Msg("request failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_server_error"})
	}
}
