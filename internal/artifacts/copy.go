package artifacts

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/jonathan/lesson-video-pipeline/internal/ledger"
)

// CopyToRunFolder writes the final video into runDir as final_<runID>.mp4.
func CopyToRunFolder(runDir, runID string, data []byte) (string, error) {
	if runDir == "" {
		return "", fmt.Errorf("run folder is required")
	}
	if err := ledger.ValidateRunID(runID); err != nil {
		return "", err
	}
	info, err := os.Stat(runDir)
	if err != nil {
		return "", fmt.Errorf("failed to stat run folder: %w", err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("run folder is not a directory: %s", runDir)
	}

	dst := filepath.Join(runDir, FinalName(runID))
	tmp, err := os.CreateTemp(runDir, ".final-*.tmp")
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return "", fmt.Errorf("failed to write video copy: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("failed to close video copy: %w", err)
	}
	if err := os.Rename(tmpName, dst); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("failed to move video copy into place: %w", err)
	}
	return dst, nil
}
