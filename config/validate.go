package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port)
	}
	if err := c.validateWorker(); err != nil {
		return err
	}
	if c.Queues.Analysis < 1 || c.Queues.Separation < 1 || c.Queues.Lyrics < 1 {
		return errors.New("queues: every concurrency limit must be at least 1")
	}
	if c.Lookup.MinScore < 0 || c.Lookup.MinScore > 1 {
		return fmt.Errorf("lookup.min_score must be within [0,1], got %v", c.Lookup.MinScore)
	}
	if c.Lookup.Enabled && c.Lookup.TimeoutSeconds <= 0 {
		return errors.New("lookup.timeout_seconds must be positive")
	}
	switch c.Logging.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level %q is not one of debug, info, warn, error", c.Logging.Level)
	}
	return nil
}

func (c *Config) validateWorker() error {
	w := c.Worker
	if w.Port <= 0 || w.Port > 65535 {
		return fmt.Errorf("worker.port must be between 1 and 65535, got %d", w.Port)
	}
	if !w.Enabled {
		return nil
	}
	if strings.TrimSpace(w.Command) == "" {
		return errors.New("worker.command is required when the worker is enabled")
	}
	if w.HealthIntervalMillis <= 0 || w.HealthAttempts <= 0 {
		return errors.New("worker health interval and attempts must be positive")
	}
	if w.RestartDelaySeconds < 0 {
		return errors.New("worker.restart_delay_seconds must not be negative")
	}
	if w.AnalysisTimeoutSecs <= 0 || w.ProcessTimeoutSeconds <= 0 {
		return errors.New("worker call timeouts must be positive")
	}
	return nil
}
