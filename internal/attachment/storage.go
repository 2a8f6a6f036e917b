package attachment

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Storage lays attachments out on disk as
// <base>/task_<id>/step_<id>/<timestamp>_<name>. The timestamp prefix keeps
// repeated uploads of the same filename from colliding.
type Storage struct {
	baseDir string
	logger  *zap.Logger
}

// NewStorage creates attachment storage rooted at baseDir
func NewStorage(baseDir string, logger *zap.Logger) *Storage {
	return &Storage{baseDir: baseDir, logger: logger}
}

// Save writes content under the task and step folder and returns the
// stored path
func (s *Storage) Save(taskID, stepID int64, fileName string, content []byte) (string, error) {
	safe := sanitizeFileName(fileName)
	if safe == "" {
		return "", fmt.Errorf("invalid file name: %q", fileName)
	}

	dir := filepath.Join(s.baseDir,
		fmt.Sprintf("task_%d", taskID),
		fmt.Sprintf("step_%d", stepID))
	fullPath := filepath.Join(dir, fmt.Sprintf("%d_%s", time.Now().UnixNano(), safe))

	if err := s.validatePath(fullPath); err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		s.logger.Error("Failed to create attachment directory",
			zap.String("path", dir),
			zap.Error(err))
		return "", fmt.Errorf("failed to create directories: %w", err)
	}
	if err := os.WriteFile(fullPath, content, 0644); err != nil {
		s.logger.Error("Failed to write attachment",
			zap.String("path", fullPath),
			zap.Error(err))
		return "", fmt.Errorf("failed to write file: %w", err)
	}

	s.logger.Debug("Attachment saved",
		zap.String("path", fullPath),
		zap.Int("size", len(content)))
	return fullPath, nil
}

// Open returns the stored file's path after re-validating it against the
// base directory
func (s *Storage) Open(storedPath string) (string, error) {
	if err := s.validatePath(storedPath); err != nil {
		return "", err
	}
	if _, err := os.Stat(storedPath); err != nil {
		return "", fmt.Errorf("attachment file missing: %w", err)
	}
	return storedPath, nil
}

// validatePath checks that the path stays within baseDir
func (s *Storage) validatePath(fullPath string) error {
	absPath, err := filepath.Abs(fullPath)
	if err != nil {
		return fmt.Errorf("failed to resolve path: %w", err)
	}
	absBase, err := filepath.Abs(s.baseDir)
	if err != nil {
		return fmt.Errorf("failed to resolve base path: %w", err)
	}
	if !strings.HasPrefix(absPath, absBase+string(filepath.Separator)) && absPath != absBase {
		return fmt.Errorf("path escapes base directory: %s", fullPath)
	}
	return nil
}

// sanitizeFileName strips directory components and path separators
func sanitizeFileName(name string) string {
	name = filepath.Base(strings.TrimSpace(name))
	name = strings.ReplaceAll(name, string(filepath.Separator), "_")
	if name == "." || name == ".." {
		return ""
	}
	return name
}
