//go:build !linux

package services

import "go.uber.org/zap"

// killPortListeners is only implemented on Linux.
func killPortListeners(port int, logger *zap.Logger) ([]int, error) {
	logger.Debug("stale listener cleanup unsupported on this platform", zap.Int("port", port))
	return nil, nil
}
