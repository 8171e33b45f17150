package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"spectra/types"
)

// Version is reported by the health endpoint.
const Version = "1.0.0"

// WorkerStatusSource reports the supervised worker's state.
type WorkerStatusSource interface {
	Status() types.WorkerStatus
}

// HealthHandler handles health check endpoints
type HealthHandler struct {
	worker WorkerStatusSource
}

// NewHealthHandler creates a new health handler. worker may be nil when the
// worker is not supervised by this process.
func NewHealthHandler(worker WorkerStatusSource) *HealthHandler {
	return &HealthHandler{worker: worker}
}

// HealthCheck returns the health status of the service
func (h *HealthHandler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":      "healthy",
		"service":     "spectra",
		"version":     Version,
		"timestamp":   time.Now().Unix(),
		"workerReady": h.workerStatus().Ready,
	})
}

// WorkerStatus returns the supervisor state of the analysis worker
func (h *HealthHandler) WorkerStatus(c *gin.Context) {
	c.JSON(http.StatusOK, h.workerStatus())
}

func (h *HealthHandler) workerStatus() types.WorkerStatus {
	if h.worker == nil {
		return types.WorkerStatus{State: "unmanaged"}
	}
	return h.worker.Status()
}
