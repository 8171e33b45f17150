package handlers

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"spectra/config"
	"spectra/middleware"
	"spectra/services"
	"spectra/websocket"
)

// RouterDeps carries what the HTTP routes are served from.
type RouterDeps struct {
	Config *config.Config
	Core   *services.Orchestrator
	Hub    websocket.Hub
	Worker WorkerStatusSource
	Logger *zap.Logger
}

// NewRouter builds the gin engine with middleware and every route.
func NewRouter(deps RouterDeps) *gin.Engine {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.CORS(deps.Config.Server.CORSOrigins))
	r.Use(middleware.Logging(logger))

	setupRoutes(r,
		NewTrackHandler(deps.Core, logger),
		NewFileHandler(deps.Core, logger),
		NewArtifactHandler(deps.Core, logger),
		NewJobHandler(deps.Core, deps.Hub, logger),
		NewSearchHandler(deps.Core, logger),
		NewHealthHandler(deps.Worker),
		NewSettingsHandler(deps.Config),
	)
	return r
}

// setupRoutes configures all the HTTP routes
func setupRoutes(r *gin.Engine, trackHandler *TrackHandler, fileHandler *FileHandler, artifactHandler *ArtifactHandler, jobHandler *JobHandler, searchHandler *SearchHandler, healthHandler *HealthHandler, settingsHandler *SettingsHandler) {
	// Health check endpoint
	r.GET("/health", healthHandler.HealthCheck)

	apiGroup := r.Group("/api")
	{
		ingestGroup := apiGroup.Group("/ingest")
		{
			ingestGroup.POST("/remote", trackHandler.IngestRemote)
			ingestGroup.POST("/local", trackHandler.IngestLocal)
		}

		tracksGroup := apiGroup.Group("/tracks")
		{
			tracksGroup.GET("", trackHandler.ListTracks)
			tracksGroup.GET("/:id", trackHandler.GetTrack)
			tracksGroup.POST("/:id/analyze", trackHandler.Analyze)
		}
		apiGroup.GET("/analysis", trackHandler.LookupAnalysis)
		apiGroup.GET("/search", searchHandler.Search)

		// Playback and artwork
		apiGroup.GET("/stream/:id", fileHandler.StreamTrack)
		apiGroup.HEAD("/stream/:id", fileHandler.StreamTrack)
		apiGroup.GET("/cover/:id", fileHandler.Cover)
		apiGroup.GET("/artifacts/:id/:kind", fileHandler.Artifact)

		// Derived artifacts
		apiGroup.POST("/vox/:id", artifactHandler.RequestStems)
		apiGroup.POST("/lyrics/:id", artifactHandler.RequestLyrics)

		// Background work
		apiGroup.GET("/worker", healthHandler.WorkerStatus)
		apiGroup.GET("/queues", jobHandler.QueueStats)
		jobsGroup := apiGroup.Group("/jobs")
		{
			jobsGroup.GET("", jobHandler.GetAllJobs)
			jobsGroup.GET("/:jobId", jobHandler.GetJob)
		}
		apiGroup.GET("/ws/events", jobHandler.Events)

		apiGroup.GET("/settings", settingsHandler.GetSettings)
	}
}
