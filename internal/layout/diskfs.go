package layout

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// DiskFS is the local-filesystem handle artifacts use for their temp
// files. Create makes parent directories as needed; Rename relies on
// the destination sharing a filesystem with the source, which holds
// because temp paths are derived from their final path.
type DiskFS struct{}

func (DiskFS) Create(path string) (io.WriteCloser, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("layout: create dir for %s: %w", path, err)
	}
	return os.Create(path)
}

func (DiskFS) Rename(oldPath, newPath string) error {
	return os.Rename(oldPath, newPath)
}

func (DiskFS) Remove(path string) error {
	return os.Remove(path)
}
