package startup

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestCleanupOrphanedTempDirs(t *testing.T) {
	t.Run("removes old transcode directories", func(t *testing.T) {
		logger := newTestLogger()

		baseDir, err := os.MkdirTemp("", "cleanup-test-*")
		require.NoError(t, err)
		defer os.RemoveAll(baseDir)

		oldDir := filepath.Join(baseDir, "tvcaptd-transcode-01HZ1234567890ABCDEF")
		require.NoError(t, os.Mkdir(oldDir, 0755))

		dummyFile := filepath.Join(oldDir, "dummy.txt")
		require.NoError(t, os.WriteFile(dummyFile, []byte("test"), 0644))

		oldTime := time.Now().Add(-25 * time.Hour)
		require.NoError(t, os.Chtimes(oldDir, oldTime, oldTime))

		count, err := CleanupOrphanedTempDirs(logger, baseDir, DefaultCleanupAge)
		require.NoError(t, err)

		assert.Equal(t, 1, count)
		_, err = os.Stat(oldDir)
		assert.True(t, os.IsNotExist(err), "old directory should be removed")
	})

	t.Run("preserves recent transcode directories", func(t *testing.T) {
		logger := newTestLogger()

		baseDir, err := os.MkdirTemp("", "cleanup-test-*")
		require.NoError(t, err)
		defer os.RemoveAll(baseDir)

		recentDir := filepath.Join(baseDir, "tvcaptd-transcode-01HZ0987654321FEDCBA")
		require.NoError(t, os.Mkdir(recentDir, 0755))

		recentTime := time.Now().Add(-30 * time.Minute)
		require.NoError(t, os.Chtimes(recentDir, recentTime, recentTime))

		count, err := CleanupOrphanedTempDirs(logger, baseDir, DefaultCleanupAge)
		require.NoError(t, err)

		assert.Equal(t, 0, count)
		_, err = os.Stat(recentDir)
		assert.NoError(t, err, "recent directory should be preserved")
	})

	t.Run("ignores non-transcode directories", func(t *testing.T) {
		logger := newTestLogger()

		baseDir, err := os.MkdirTemp("", "cleanup-test-*")
		require.NoError(t, err)
		defer os.RemoveAll(baseDir)

		otherDir := filepath.Join(baseDir, "vid0")
		require.NoError(t, os.Mkdir(otherDir, 0755))

		oldTime := time.Now().Add(-48 * time.Hour)
		require.NoError(t, os.Chtimes(otherDir, oldTime, oldTime))

		count, err := CleanupOrphanedTempDirs(logger, baseDir, DefaultCleanupAge)
		require.NoError(t, err)

		assert.Equal(t, 0, count)
		_, err = os.Stat(otherDir)
		assert.NoError(t, err, "non-matching directory should be preserved")
	})

	t.Run("handles non-existent directory gracefully", func(t *testing.T) {
		logger := newTestLogger()

		count, err := CleanupOrphanedTempDirs(logger, "/nonexistent/path/12345", DefaultCleanupAge)
		require.NoError(t, err)
		assert.Equal(t, 0, count)
	})

	t.Run("cleans up multiple old directories", func(t *testing.T) {
		logger := newTestLogger()

		baseDir, err := os.MkdirTemp("", "cleanup-test-*")
		require.NoError(t, err)
		defer os.RemoveAll(baseDir)

		oldDirs := []string{
			"tvcaptd-transcode-01HZ1111111111111111",
			"tvcaptd-transcode-01HZ2222222222222222",
			"tvcaptd-transcode-01HZ3333333333333333",
		}

		oldTime := time.Now().Add(-48 * time.Hour)
		for _, dir := range oldDirs {
			dirPath := filepath.Join(baseDir, dir)
			require.NoError(t, os.Mkdir(dirPath, 0755))
			require.NoError(t, os.Chtimes(dirPath, oldTime, oldTime))
		}

		count, err := CleanupOrphanedTempDirs(logger, baseDir, DefaultCleanupAge)
		require.NoError(t, err)

		assert.Equal(t, 3, count)
		for _, dir := range oldDirs {
			dirPath := filepath.Join(baseDir, dir)
			_, err = os.Stat(dirPath)
			assert.True(t, os.IsNotExist(err), "directory %s should be removed", dir)
		}
	})
}
