package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"spectra/services"
	"spectra/types"
)

// SearchHandler handles catalog search
type SearchHandler struct {
	core   *services.Orchestrator
	logger *zap.Logger
}

// NewSearchHandler creates a new search handler
func NewSearchHandler(core *services.Orchestrator, logger *zap.Logger) *SearchHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SearchHandler{core: core, logger: logger.Named("search")}
}

// Search matches tracks by title, artist or album
func (h *SearchHandler) Search(c *gin.Context) {
	query := strings.TrimSpace(c.Query("q"))
	if query == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "query parameter 'q' is required",
		})
		return
	}

	results, err := h.core.SearchTracks(c.Request.Context(), query, queryInt(c, "limit", 50))
	if err != nil {
		respondError(c, h.logger, "search failed", err)
		return
	}
	if results == nil {
		results = []*types.Track{}
	}

	c.JSON(http.StatusOK, gin.H{
		"query":   query,
		"results": results,
	})
}
