package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// loadDotEnv reads .env from the working directory. Variables that are
// already set in the process environment win.
func loadDotEnv() {
	_ = godotenv.Load()
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists && strings.TrimSpace(value) != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intVal, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
			return intVal
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		if boolVal, err := strconv.ParseBool(strings.TrimSpace(value)); err == nil {
			return boolVal
		}
	}
	return fallback
}

func getEnvList(key string, fallback []string) []string {
	value, exists := os.LookupEnv(key)
	if !exists || strings.TrimSpace(value) == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// applyEnv overlays SPECTRA_* variables. GIN_MODE and CORS_ORIGINS keep
// their conventional names.
func applyEnv(cfg *Config) {
	cfg.Server.Port = getEnvInt("SPECTRA_PORT", cfg.Server.Port)
	cfg.Server.GinMode = getEnv("GIN_MODE", cfg.Server.GinMode)
	cfg.Server.CORSOrigins = getEnvList("CORS_ORIGINS", cfg.Server.CORSOrigins)

	cfg.Paths.DataDir = getEnv("SPECTRA_DATA_DIR", cfg.Paths.DataDir)
	cfg.Paths.MediaDir = getEnv("SPECTRA_MEDIA_DIR", cfg.Paths.MediaDir)
	cfg.Paths.CoverDir = getEnv("SPECTRA_COVER_DIR", cfg.Paths.CoverDir)
	cfg.Paths.StemsDir = getEnv("SPECTRA_STEMS_DIR", cfg.Paths.StemsDir)
	cfg.Paths.LyricsDir = getEnv("SPECTRA_LYRICS_DIR", cfg.Paths.LyricsDir)
	cfg.Paths.DBPath = getEnv("SPECTRA_DB_PATH", cfg.Paths.DBPath)
	cfg.Paths.StorageRoots = getEnvList("SPECTRA_STORAGE_ROOTS", cfg.Paths.StorageRoots)

	cfg.Worker.Enabled = getEnvBool("SPECTRA_WORKER_ENABLED", cfg.Worker.Enabled)
	cfg.Worker.Command = getEnv("SPECTRA_WORKER_COMMAND", cfg.Worker.Command)
	cfg.Worker.Args = getEnvList("SPECTRA_WORKER_ARGS", cfg.Worker.Args)
	cfg.Worker.Dir = getEnv("SPECTRA_WORKER_DIR", cfg.Worker.Dir)
	cfg.Worker.Port = getEnvInt("SPECTRA_WORKER_PORT", cfg.Worker.Port)

	cfg.Lookup.Enabled = getEnvBool("SPECTRA_LOOKUP_ENABLED", cfg.Lookup.Enabled)

	cfg.Logging.Level = getEnv("SPECTRA_LOG_LEVEL", cfg.Logging.Level)
	cfg.Logging.File = getEnv("SPECTRA_LOG_FILE", cfg.Logging.File)
}
