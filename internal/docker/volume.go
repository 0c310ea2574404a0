package docker

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/raworc/raworc/internal/common/logger"
)

// VolumeManager creates and removes per-session workspace directories under
// a shared root. Each session owns exactly one directory, named by its id.
type VolumeManager struct {
	basePath string
	logger   *logger.Logger
}

// NewVolumeManager creates a VolumeManager rooted at basePath.
func NewVolumeManager(basePath string, log *logger.Logger) *VolumeManager {
	return &VolumeManager{basePath: basePath, logger: log}
}

// Path returns the host directory for a session volume.
func (v *VolumeManager) Path(sessionID string) string {
	return filepath.Join(v.basePath, sessionID)
}

// Exists reports whether the session volume directory is present.
func (v *VolumeManager) Exists(sessionID string) bool {
	_, err := os.Stat(v.Path(sessionID))
	return err == nil
}

// Create ensures the session volume directory exists.
func (v *VolumeManager) Create(sessionID string) (string, error) {
	path := v.Path(sessionID)
	if err := os.MkdirAll(path, 0o755); err != nil {
		return "", fmt.Errorf("failed to create volume directory: %w", err)
	}
	v.logger.Info("Created session volume",
		zap.String("session_id", sessionID),
		zap.String("path", path),
	)
	return path, nil
}

// Remove deletes the session volume directory. A missing directory is logged
// and ignored.
func (v *VolumeManager) Remove(sessionID string) error {
	path := v.Path(sessionID)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		v.logger.Warn("Session volume not found",
			zap.String("session_id", sessionID),
			zap.String("path", path),
		)
		return nil
	}
	if err := os.RemoveAll(path); err != nil {
		return fmt.Errorf("failed to remove volume directory: %w", err)
	}
	v.logger.Info("Removed session volume",
		zap.String("session_id", sessionID),
		zap.String("path", path),
	)
	return nil
}
