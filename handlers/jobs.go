package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"spectra/services"
	"spectra/websocket"
)

// JobHandler exposes the background queues and the event feed
type JobHandler struct {
	core   *services.Orchestrator
	hub    websocket.Hub
	logger *zap.Logger
}

// NewJobHandler creates a new job handler
func NewJobHandler(core *services.Orchestrator, hub websocket.Hub, logger *zap.Logger) *JobHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &JobHandler{core: core, hub: hub, logger: logger.Named("jobs")}
}

// GetAllJobs returns every queued or running job
func (h *JobHandler) GetAllJobs(c *gin.Context) {
	jobs := h.core.Jobs()
	c.JSON(http.StatusOK, gin.H{
		"jobs":  jobs,
		"total": len(jobs),
	})
}

// GetJob returns a specific job by ID
func (h *JobHandler) GetJob(c *gin.Context) {
	job, exists := h.core.Job(c.Param("jobId"))
	if !exists {
		c.JSON(http.StatusNotFound, gin.H{
			"error": "job not found",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"job": job,
	})
}

// QueueStats returns the counters of every queue
func (h *JobHandler) QueueStats(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"queues": h.core.QueueStats(),
	})
}

// Events upgrades to a websocket that receives events for the optional
// topic query parameter, or all events when it is absent.
func (h *JobHandler) Events(c *gin.Context) {
	topic := c.DefaultQuery("topic", websocket.TopicAll)
	if err := websocket.Serve(h.hub, c.Writer, c.Request, topic, h.logger); err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
	}
}
