// Package fsutil provides filesystem helpers for durable writes and renames.
package fsutil

import (
	"os"
	"path/filepath"

	"emperror.dev/errors"
)

const tmpPrefix = ".au-tmp-"

// AtomicWrite writes data to a temporary file, fsyncs, then renames to target path.
func AtomicWrite(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, tmpPrefix+"*")
	if err != nil {
		return errors.Wrap(err, "atomic write create tmp")
	}
	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			tmp.Close()
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		return errors.Wrap(err, "atomic write")
	}
	if err := tmp.Chmod(perm); err != nil {
		return errors.Wrap(err, "atomic write chmod")
	}
	if err := tmp.Sync(); err != nil {
		return errors.Wrap(err, "atomic write fsync")
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, "atomic write close")
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return errors.Wrap(err, "atomic write rename")
	}
	if err := FsyncDir(dir); err != nil {
		return errors.Wrap(err, "atomic write fsync dir")
	}

	success = true
	return nil
}

// ReplaceFile removes whatever is at dst (a stale file or a dangling symlink)
// and writes a regular-file copy of src in its place.
func ReplaceFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return errors.Wrapf(err, "read %s", src)
	}
	info, err := os.Stat(src)
	if err != nil {
		return errors.Wrapf(err, "stat %s", src)
	}
	if err := os.Remove(dst); err != nil && !os.IsNotExist(err) {
		return errors.Wrapf(err, "remove %s", dst)
	}
	return AtomicWrite(dst, data, info.Mode().Perm())
}

// SavedEntry is what a path held before it was overwritten: nothing, a symlink
// or a regular file.
type SavedEntry struct {
	path   string
	exists bool
	link   string
	data   []byte
	mode   os.FileMode
}

// SaveEntry records the entry at path without following symlinks.
func SaveEntry(path string) (*SavedEntry, error) {
	e := &SavedEntry{path: path}
	info, err := os.Lstat(path)
	if os.IsNotExist(err) {
		return e, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "lstat %s", path)
	}
	e.exists = true
	switch {
	case info.Mode()&os.ModeSymlink != 0:
		if e.link, err = os.Readlink(path); err != nil {
			return nil, errors.Wrapf(err, "readlink %s", path)
		}
	case info.Mode().IsRegular():
		if e.data, err = os.ReadFile(path); err != nil {
			return nil, errors.Wrapf(err, "read %s", path)
		}
		e.mode = info.Mode().Perm()
	default:
		return nil, errors.Errorf("%s is neither a file nor a symlink", path)
	}
	return e, nil
}

// Restore puts the saved entry back, removing whatever replaced it.
func (e *SavedEntry) Restore() error {
	if err := os.Remove(e.path); err != nil && !os.IsNotExist(err) {
		return errors.Wrapf(err, "remove %s", e.path)
	}
	switch {
	case !e.exists:
		return nil
	case e.link != "":
		if err := os.Symlink(e.link, e.path); err != nil {
			return errors.Wrapf(err, "symlink %s", e.path)
		}
		return FsyncDir(filepath.Dir(e.path))
	default:
		return AtomicWrite(e.path, e.data, e.mode)
	}
}

// RenameAndSync renames old to new and fsyncs the destination's parent directory.
func RenameAndSync(oldpath, newpath string) error {
	if err := os.Rename(oldpath, newpath); err != nil {
		return errors.WithStack(err)
	}
	return FsyncDir(filepath.Dir(newpath))
}

// FsyncDir fsyncs a directory to ensure rename visibility is durable.
func FsyncDir(dirPath string) error {
	d, err := os.Open(dirPath)
	if err != nil {
		return errors.Wrap(err, "fsync dir open")
	}
	defer d.Close()
	return d.Sync()
}

// Exists reports whether path exists, without following a final symlink.
func Exists(path string) bool {
	_, err := os.Lstat(path)
	return err == nil
}
