package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"spectra/services"
	"spectra/types"
)

// ArtifactHandler handles stem separation and lyric transcription requests
type ArtifactHandler struct {
	core   *services.Orchestrator
	logger *zap.Logger
}

// NewArtifactHandler creates a new artifact handler
func NewArtifactHandler(core *services.Orchestrator, logger *zap.Logger) *ArtifactHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ArtifactHandler{core: core, logger: logger.Named("artifacts")}
}

// RequestStems returns stem URLs or queues a separation job
func (h *ArtifactHandler) RequestStems(c *gin.Context) {
	h.request(c, "separation request failed", h.core.RequestSeparation)
}

// RequestLyrics returns the lyric URL or queues a transcription job
func (h *ArtifactHandler) RequestLyrics(c *gin.Context) {
	h.request(c, "lyrics request failed", h.core.RequestLyrics)
}

func (h *ArtifactHandler) request(c *gin.Context, failure string, fn func(context.Context, int64) (*types.ArtifactResponse, error)) {
	id, ok := trackID(c)
	if !ok {
		return
	}
	resp, err := fn(c.Request.Context(), id)
	if err != nil {
		respondError(c, h.logger, failure, err)
		return
	}

	status := http.StatusOK
	if resp.Status == types.ArtifactProcessing {
		status = http.StatusAccepted
	}
	c.JSON(status, resp)
}
