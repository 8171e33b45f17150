package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv("SPECTRA_CONFIG", "")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 3001, cfg.Server.Port)
	assert.Equal(t, 8008, cfg.Worker.Port)
	assert.Equal(t, 2, cfg.Queues.Analysis)
	assert.Equal(t, 1, cfg.Queues.Separation)
	assert.Equal(t, 1, cfg.Queues.Lyrics)
	assert.Equal(t, 2*time.Second, cfg.Worker.HealthInterval())

	dataDir := filepath.Join(dir, "data")
	assert.Equal(t, dataDir, cfg.Paths.DataDir)
	assert.Equal(t, filepath.Join(dataDir, "media"), cfg.Paths.MediaDir)
	assert.Equal(t, filepath.Join(dataDir, "spectra.db"), cfg.Paths.DBPath)
	require.NotEmpty(t, cfg.Paths.StorageRoots)
	assert.Equal(t, cfg.Paths.MediaDir, cfg.Paths.StorageRoots[0])
	assert.Equal(t, "http://127.0.0.1:8008", cfg.WorkerURL())
}

func TestLoadFileAndEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)

	configPath := filepath.Join(dir, "custom.toml")
	contents := `
[server]
port = 4100

[paths]
data_dir = "` + filepath.ToSlash(filepath.Join(dir, "state")) + `"

[queues]
analysis = 4

[worker]
port = 9009
health_interval_ms = 250
`
	require.NoError(t, os.WriteFile(configPath, []byte(contents), 0o644))
	t.Setenv("SPECTRA_WORKER_PORT", "9100")
	t.Setenv("SPECTRA_LOG_LEVEL", "DEBUG")

	cfg, err := Load(configPath)
	require.NoError(t, err)

	assert.Equal(t, 4100, cfg.Server.Port)
	assert.Equal(t, 4, cfg.Queues.Analysis)
	assert.Equal(t, 9100, cfg.Worker.Port, "environment wins over file")
	assert.Equal(t, 250*time.Millisecond, cfg.Worker.HealthInterval())
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, filepath.Join(dir, "state", "covers"), cfg.Paths.CoverDir)
}

func TestLoadMissingExplicitFile(t *testing.T) {
	t.Chdir(t.TempDir())
	_, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "defaults", mutate: func(*Config) {}},
		{name: "bad port", mutate: func(c *Config) { c.Server.Port = 0 }, wantErr: true},
		{name: "zero concurrency", mutate: func(c *Config) { c.Queues.Separation = 0 }, wantErr: true},
		{name: "score out of range", mutate: func(c *Config) { c.Lookup.MinScore = 1.5 }, wantErr: true},
		{name: "unknown log level", mutate: func(c *Config) { c.Logging.Level = "trace" }, wantErr: true},
		{name: "missing worker command", mutate: func(c *Config) { c.Worker.Command = " " }, wantErr: true},
		{
			name: "disabled worker skips command check",
			mutate: func(c *Config) {
				c.Worker.Enabled = false
				c.Worker.Command = ""
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestEnsureDirectories(t *testing.T) {
	t.Chdir(t.TempDir())
	cfg := Default()
	cfg.Paths.DataDir = filepath.Join(t.TempDir(), "data")
	require.NoError(t, cfg.normalize())
	require.NoError(t, cfg.EnsureDirectories())

	for _, dir := range []string{cfg.Paths.MediaDir, cfg.Paths.CoverDir, cfg.Paths.StemsDir, cfg.Paths.LyricsDir} {
		info, err := os.Stat(dir)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	}
}
