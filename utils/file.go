package utils

import (
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
)

// EnsureDir creates dir and its parents if they don't exist.
func EnsureDir(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return eris.Wrapf(err, "failed to create %s", dir)
	}
	return nil
}

// WriteFile writes data to path, creating the parent directory first. The
// file is written next to its destination and renamed, so readers never see
// a partial artifact.
func WriteFile(path string, data []byte) error {
	if err := EnsureDir(filepath.Dir(path)); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return eris.Wrapf(err, "failed to create temp file for %s", path)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return eris.Wrapf(err, "failed to write %s", path)
	}
	if err := tmp.Close(); err != nil {
		return eris.Wrapf(err, "failed to close %s", path)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return eris.Wrapf(err, "failed to move %s into place", path)
	}
	return nil
}
