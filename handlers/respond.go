package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"spectra/services"
)

// respondError writes the classified status for err with a JSON body.
func respondError(c *gin.Context, logger *zap.Logger, message string, err error) {
	status := services.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		logger.Error(message,
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", status),
			zap.Error(err))
	} else {
		logger.Debug(message, zap.String("path", c.Request.URL.Path), zap.Error(err))
	}
	c.JSON(status, gin.H{
		"error":   message,
		"details": err.Error(),
	})
}

// trackID parses the :id path parameter.
func trackID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid track id",
			"details": c.Param("id"),
		})
		return 0, false
	}
	return id, true
}

func queryInt(c *gin.Context, name string, fallback int) int {
	raw := c.Query(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return fallback
	}
	return v
}
