package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"spectra/services"
	"spectra/types"
)

// TrackHandler handles ingest, catalog and analysis endpoints
type TrackHandler struct {
	core   *services.Orchestrator
	logger *zap.Logger
}

// NewTrackHandler creates a new track handler
func NewTrackHandler(core *services.Orchestrator, logger *zap.Logger) *TrackHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TrackHandler{core: core, logger: logger.Named("tracks")}
}

// IngestRemote downloads and catalogs a remote asset
func (h *TrackHandler) IngestRemote(c *gin.Context) {
	var req types.RemoteIngestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid ingest request",
			"details": err.Error(),
		})
		return
	}

	resp, err := h.core.IngestRemote(c.Request.Context(), req)
	if err != nil {
		respondError(c, h.logger, "ingest failed", err)
		return
	}
	c.JSON(ingestStatus(resp), resp)
}

// IngestLocal catalogs a file already present in a storage root
func (h *TrackHandler) IngestLocal(c *gin.Context) {
	var req types.LocalIngestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid ingest request",
			"details": err.Error(),
		})
		return
	}

	resp, err := h.core.IngestLocal(c.Request.Context(), req)
	if err != nil {
		respondError(c, h.logger, "ingest failed", err)
		return
	}
	c.JSON(ingestStatus(resp), resp)
}

func ingestStatus(resp *types.IngestResponse) int {
	if resp.Duplicate {
		return http.StatusOK
	}
	return http.StatusCreated
}

// ListTracks returns catalog rows newest first
func (h *TrackHandler) ListTracks(c *gin.Context) {
	ctx := c.Request.Context()
	tracks, err := h.core.ListTracks(ctx, queryInt(c, "limit", 100), queryInt(c, "offset", 0))
	if err != nil {
		respondError(c, h.logger, "failed to list tracks", err)
		return
	}
	stats, err := h.core.Stats(ctx)
	if err != nil {
		respondError(c, h.logger, "failed to count tracks", err)
		return
	}
	if tracks == nil {
		tracks = []*types.Track{}
	}

	c.JSON(http.StatusOK, gin.H{
		"tracks": tracks,
		"count":  len(tracks),
		"stats":  stats,
	})
}

// GetTrack returns a single catalog row
func (h *TrackHandler) GetTrack(c *gin.Context) {
	id, ok := trackID(c)
	if !ok {
		return
	}
	track, err := h.core.GetTrack(c.Request.Context(), id)
	if err != nil {
		respondError(c, h.logger, "track not found", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"track": track,
	})
}

// LookupAnalysis returns analysis data selected by exactly one of the
// id, archive_id or library_id query parameters
func (h *TrackHandler) LookupAnalysis(c *gin.Context) {
	var key services.AnalysisKey
	if raw := c.Query("id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid track id",
				"details": raw,
			})
			return
		}
		key.TrackID = id
	}
	key.ArchiveID = c.Query("archive_id")
	key.LibraryID = c.Query("library_id")

	resp, err := h.core.LookupAnalysis(c.Request.Context(), key)
	if err != nil {
		respondError(c, h.logger, "analysis lookup failed", err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// Analyze re-queues analysis for a pending or failed track
func (h *TrackHandler) Analyze(c *gin.Context) {
	id, ok := trackID(c)
	if !ok {
		return
	}
	track, queued, err := h.core.RequestAnalysis(c.Request.Context(), id)
	if err != nil {
		respondError(c, h.logger, "analysis request failed", err)
		return
	}

	status := http.StatusOK
	if queued {
		status = http.StatusAccepted
	}
	c.JSON(status, gin.H{
		"track":  track,
		"queued": queued,
	})
}
