package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// DefaultConfigName is the file looked up in the working directory when no
// explicit path is given.
const DefaultConfigName = "spectra.toml"

// Server contains HTTP listener settings.
type Server struct {
	Port        int      `toml:"port"`
	GinMode     string   `toml:"gin_mode"`
	CORSOrigins []string `toml:"cors_origins"`
}

// Paths contains every directory the core reads from or writes to.
type Paths struct {
	DataDir      string   `toml:"data_dir"`
	MediaDir     string   `toml:"media_dir"`
	CoverDir     string   `toml:"cover_dir"`
	StemsDir     string   `toml:"stems_dir"`
	LyricsDir    string   `toml:"lyrics_dir"`
	DBPath       string   `toml:"db_path"`
	StorageRoots []string `toml:"storage_roots"`
	CoverNames   []string `toml:"cover_names"`
}

// Worker describes how the external analysis worker is launched and probed.
type Worker struct {
	Enabled               bool     `toml:"enabled"`
	Command               string   `toml:"command"`
	Args                  []string `toml:"args"`
	Dir                   string   `toml:"dir"`
	Host                  string   `toml:"host"`
	Port                  int      `toml:"port"`
	KillStale             bool     `toml:"kill_stale"`
	HealthIntervalMillis  int      `toml:"health_interval_ms"`
	HealthAttempts        int      `toml:"health_attempts"`
	RestartDelaySeconds   int      `toml:"restart_delay_seconds"`
	StopTimeoutSeconds    int      `toml:"stop_timeout_seconds"`
	AnalysisTimeoutSecs   int      `toml:"analysis_timeout_seconds"`
	ProcessTimeoutSeconds int      `toml:"process_timeout_seconds"`
}

// Queues holds the concurrency limit for each job class.
type Queues struct {
	Analysis   int `toml:"analysis" json:"analysis"`
	Separation int `toml:"separation" json:"separation"`
	Lyrics     int `toml:"lyrics" json:"lyrics"`
}

// Lookup configures the external artwork search stage.
type Lookup struct {
	Enabled        bool    `toml:"enabled"`
	SearchURL      string  `toml:"search_url"`
	ArchiveURL     string  `toml:"archive_url"`
	TimeoutSeconds int     `toml:"timeout_seconds"`
	MinScore       float64 `toml:"min_score"`
}

// Logging configures the zap logger and its rotating file sink.
type Logging struct {
	Level      string `toml:"level"`
	File       string `toml:"file"`
	MaxSizeMB  int    `toml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days"`
	Compress   bool   `toml:"compress"`
}

// Config is the full runtime configuration.
type Config struct {
	Server  Server  `toml:"server"`
	Paths   Paths   `toml:"paths"`
	Worker  Worker  `toml:"worker"`
	Queues  Queues  `toml:"queues"`
	Lookup  Lookup  `toml:"lookup"`
	Logging Logging `toml:"logging"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Server: Server{
			Port:        3001,
			GinMode:     "release",
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173", "http://localhost:5174"},
		},
		Paths: Paths{
			DataDir:    "./data",
			CoverNames: []string{"cover.jpg", "folder.jpg", "album.jpg", "front.jpg"},
		},
		Worker: Worker{
			Enabled:               true,
			Command:               "python",
			Args:                  []string{"spectra_server.py"},
			Host:                  "127.0.0.1",
			Port:                  8008,
			KillStale:             true,
			HealthIntervalMillis:  2000,
			HealthAttempts:        60,
			RestartDelaySeconds:   5,
			StopTimeoutSeconds:    10,
			AnalysisTimeoutSecs:   300,
			ProcessTimeoutSeconds: 600,
		},
		Queues: Queues{
			Analysis:   2,
			Separation: 1,
			Lyrics:     1,
		},
		Lookup: Lookup{
			Enabled:        true,
			SearchURL:      "https://itunes.apple.com/search",
			ArchiveURL:     "https://archive.org",
			TimeoutSeconds: 10,
			MinScore:       0.8,
		},
		Logging: Logging{
			Level:      "info",
			MaxSizeMB:  50,
			MaxBackups: 5,
			MaxAgeDays: 30,
		},
	}
}

// Load builds the configuration from defaults, an optional TOML file, the
// .env file and SPECTRA_* environment variables, in that order.
func Load(path string) (*Config, error) {
	cfg := Default()

	resolved, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, err
	}
	if exists {
		file, err := os.Open(resolved)
		if err != nil {
			return nil, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		if err := toml.NewDecoder(file).Decode(&cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	loadDotEnv()
	applyEnv(&cfg)

	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path == "" {
		path = os.Getenv("SPECTRA_CONFIG")
	}
	explicit := path != ""
	if !explicit {
		path = DefaultConfigName
	}

	expanded, err := ExpandPath(path)
	if err != nil {
		return "", false, err
	}
	if _, err := os.Stat(expanded); err != nil {
		if errors.Is(err, os.ErrNotExist) && !explicit {
			return expanded, false, nil
		}
		return "", false, fmt.Errorf("stat config %q: %w", expanded, err)
	}
	return expanded, true, nil
}

func (c *Config) normalize() error {
	var err error
	if c.Paths.DataDir, err = ExpandPath(c.Paths.DataDir); err != nil {
		return err
	}

	derived := []struct {
		target *string
		name   string
	}{
		{&c.Paths.MediaDir, "media"},
		{&c.Paths.CoverDir, "covers"},
		{&c.Paths.StemsDir, "stems"},
		{&c.Paths.LyricsDir, "lyrics"},
		{&c.Paths.DBPath, "spectra.db"},
	}
	for _, d := range derived {
		if strings.TrimSpace(*d.target) == "" {
			*d.target = filepath.Join(c.Paths.DataDir, d.name)
			continue
		}
		if *d.target, err = ExpandPath(*d.target); err != nil {
			return err
		}
	}

	if len(c.Paths.StorageRoots) == 0 {
		c.Paths.StorageRoots = []string{
			c.Paths.MediaDir,
			filepath.Join(c.Paths.DataDir, "uploads", "music"),
			filepath.Join(c.Paths.DataDir, "uploads"),
		}
	}
	roots := make([]string, 0, len(c.Paths.StorageRoots))
	for _, root := range c.Paths.StorageRoots {
		if strings.TrimSpace(root) == "" {
			continue
		}
		expanded, err := ExpandPath(root)
		if err != nil {
			return err
		}
		roots = append(roots, expanded)
	}
	c.Paths.StorageRoots = roots

	if c.Worker.Dir != "" {
		if c.Worker.Dir, err = ExpandPath(c.Worker.Dir); err != nil {
			return err
		}
	}
	if c.Logging.File != "" {
		if c.Logging.File, err = ExpandPath(c.Logging.File); err != nil {
			return err
		}
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	return nil
}

// EnsureDirectories creates the writable directories the core needs.
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		c.Paths.DataDir,
		c.Paths.MediaDir,
		c.Paths.CoverDir,
		c.Paths.StemsDir,
		c.Paths.LyricsDir,
		filepath.Dir(c.Paths.DBPath),
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// LockPath is the single-instance lock file used by the server.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.DataDir, "spectra.lock")
}

// WorkerURL is the base URL of the worker's local RPC endpoint.
func (c *Config) WorkerURL() string {
	return fmt.Sprintf("http://%s:%d", c.Worker.Host, c.Worker.Port)
}

func (w Worker) HealthInterval() time.Duration {
	return time.Duration(w.HealthIntervalMillis) * time.Millisecond
}

func (w Worker) RestartDelay() time.Duration {
	return time.Duration(w.RestartDelaySeconds) * time.Second
}

func (w Worker) StopTimeout() time.Duration {
	return time.Duration(w.StopTimeoutSeconds) * time.Second
}

func (w Worker) AnalysisTimeout() time.Duration {
	return time.Duration(w.AnalysisTimeoutSecs) * time.Second
}

func (w Worker) ProcessTimeout() time.Duration {
	return time.Duration(w.ProcessTimeoutSeconds) * time.Second
}

func (l Lookup) Timeout() time.Duration {
	return time.Duration(l.TimeoutSeconds) * time.Second
}

// ExpandPath resolves a leading ~ and returns a cleaned absolute path.
func ExpandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	absolute, err := filepath.Abs(filepath.Clean(pathValue))
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", pathValue, err)
	}
	return absolute, nil
}
