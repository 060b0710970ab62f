package transcode

import (
	"os"
	"path/filepath"
)

// symlink links the source recording into a transcode's working
// directory under a stable, collision-free name, so the external
// transcoder's own log filenames never clash between concurrent
// transcodes of the same source.
func symlink(target, linkPath string) error {
	return os.Symlink(target, linkPath)
}

// renameFile moves src to dest, creating dest's parent directory first.
func renameFile(src, dest string) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o750); err != nil {
		return err
	}
	return os.Rename(src, dest)
}
