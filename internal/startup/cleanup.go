// Package startup provides utilities for application startup tasks.
package startup

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// TranscodeDirPrefix is the directory-name prefix CleanupOrphanedTempDirs
// removes. The transcode pool's per-(source, profile) working directories
// (vtmp/transc/vid<device>_<seq>_<profile> under the data directory) do not
// carry this prefix, so the startup sweep does not remove them.
const TranscodeDirPrefix = "tvcaptd-transcode-"

// CleanupOrphanedTempDirs removes orphaned temporary directories older than
// maxAge from baseDir. A directory survives a crash mid-transcode with no
// owning worker left to remove it; this sweep runs once at startup before
// the scheduler begins accepting jobs.
func CleanupOrphanedTempDirs(logger *slog.Logger, baseDir string, maxAge time.Duration) (int, error) {
	if _, err := os.Stat(baseDir); os.IsNotExist(err) {
		logger.Debug("base directory does not exist, skipping cleanup",
			"path", baseDir,
		)
		return 0, nil
	}

	entries, err := os.ReadDir(baseDir)
	if err != nil {
		logger.Error("failed to read directory for cleanup",
			"path", baseDir,
			"error", err,
		)
		return 0, err
	}

	cutoff := time.Now().Add(-maxAge)
	var removed int

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if !strings.HasPrefix(entry.Name(), TranscodeDirPrefix) {
			continue
		}

		dirPath := filepath.Join(baseDir, entry.Name())

		info, err := entry.Info()
		if err != nil {
			logger.Warn("failed to get directory info",
				"path", dirPath,
				"error", err,
			)
			continue
		}

		if info.ModTime().After(cutoff) {
			logger.Debug("preserving recent temp directory",
				"path", dirPath,
				"age", time.Since(info.ModTime()).Round(time.Second),
			)
			continue
		}

		if err := os.RemoveAll(dirPath); err != nil {
			logger.Warn("failed to remove orphaned temp directory",
				"path", dirPath,
				"error", err,
			)
			continue
		}

		logger.Info("removed orphaned temp directory",
			"path", dirPath,
			"age", time.Since(info.ModTime()).Round(time.Second),
		)
		removed++
	}

	return removed, nil
}

// DefaultCleanupAge is the default maximum age for orphaned transcode temp
// directories (24h, matching the transcode watchdog period so a sweep never
// removes a directory a still-running watchdog might legitimately own).
const DefaultCleanupAge = 24 * time.Hour
