// Package fsutil holds small afero helpers shared by the file-backed stores.
package fsutil

import (
	"os"
	"path/filepath"

	"github.com/spf13/afero"

	"github.com/example/shift-scheduler/internal/errors"
)

// WriteFileAtomic replaces path with data so readers see either the old
// contents or the new ones, never a truncated file. The data is written to a
// temp file in the same directory, synced, then renamed over path.
func WriteFileAtomic(fs afero.Fs, path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrapf(err, "create directory %s", dir)
	}

	tmp, err := afero.TempFile(fs, dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return errors.Wrap(err, "create temp file")
	}
	tmpPath := tmp.Name()
	renamed := false
	defer func() {
		if !renamed {
			_ = fs.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return errors.Wrap(err, "write temp file")
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return errors.Wrap(err, "sync temp file")
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, "close temp file")
	}
	if err := fs.Chmod(tmpPath, perm); err != nil {
		return errors.Wrap(err, "chmod temp file")
	}

	if err := fs.Rename(tmpPath, path); err != nil {
		return errors.Wrapf(err, "rename temp file to %s", path)
	}
	renamed = true
	return nil
}

// AppendLine appends one line to path, creating the file when missing.
func AppendLine(fs afero.Fs, path string, line []byte) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := fs.MkdirAll(dir, 0o755); err != nil {
			return errors.Wrapf(err, "create directory %s", dir)
		}
	}
	f, err := fs.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return errors.Wrapf(err, "open %s", path)
	}
	if len(line) == 0 || line[len(line)-1] != '\n' {
		line = append(line, '\n')
	}
	if _, err := f.Write(line); err != nil {
		_ = f.Close()
		return errors.Wrapf(err, "append to %s", path)
	}
	return errors.Wrapf(f.Close(), "close %s", path)
}
