package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"spectra/config"
)

// SettingsHandler exposes the effective runtime configuration
type SettingsHandler struct {
	cfg *config.Config
}

// NewSettingsHandler creates a new settings handler
func NewSettingsHandler(cfg *config.Config) *SettingsHandler {
	return &SettingsHandler{cfg: cfg}
}

// Settings is the read-only view of the configuration served to clients.
type Settings struct {
	MediaDir      string        `json:"mediaDir"`
	CoverDir      string        `json:"coverDir"`
	StemsDir      string        `json:"stemsDir"`
	LyricsDir     string        `json:"lyricsDir"`
	StorageRoots  []string      `json:"storageRoots"`
	WorkerURL     string        `json:"workerUrl"`
	WorkerManaged bool          `json:"workerManaged"`
	Queues        config.Queues `json:"queues"`
	CoverLookup   bool          `json:"coverLookup"`
}

// GetSettings returns the current settings
func (h *SettingsHandler) GetSettings(c *gin.Context) {
	c.JSON(http.StatusOK, Settings{
		MediaDir:      h.cfg.Paths.MediaDir,
		CoverDir:      h.cfg.Paths.CoverDir,
		StemsDir:      h.cfg.Paths.StemsDir,
		LyricsDir:     h.cfg.Paths.LyricsDir,
		StorageRoots:  h.cfg.Paths.StorageRoots,
		WorkerURL:     h.cfg.WorkerURL(),
		WorkerManaged: h.cfg.Worker.Enabled,
		Queues:        h.cfg.Queues,
		CoverLookup:   h.cfg.Lookup.Enabled,
	})
}
