package fsutil_test

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atomic-update/au/pkg/fsutil"
)

func TestAtomicWrite_CreatesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "journal.yaml")

	require.NoError(t, fsutil.AtomicWrite(path, []byte("state: mounted\n"), 0644))

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "state: mounted\n", string(content))
}

func TestAtomicWrite_OverwritesExisting(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "atomic-update.conf")
	require.NoError(t, os.WriteFile(path, []byte("old"), 0644))

	require.NoError(t, fsutil.AtomicWrite(path, []byte("new"), 0600))

	content, _ := os.ReadFile(path)
	assert.Equal(t, "new", string(content))
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
}

func TestAtomicWrite_NoTmpLeftOnSuccess(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, fsutil.AtomicWrite(filepath.Join(dir, "f"), []byte("x"), 0644))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, e := range entries {
		assert.False(t, strings.HasPrefix(e.Name(), ".au-tmp-"), "leftover %s", e.Name())
	}
}

func TestAtomicWrite_MissingDir(t *testing.T) {
	err := fsutil.AtomicWrite(filepath.Join(t.TempDir(), "missing", "f"), []byte("x"), 0644)
	assert.Error(t, err)
}

func TestReplaceFile_ReplacesStaleCopy(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "host-resolv.conf")
	require.NoError(t, os.WriteFile(src, []byte("nameserver 9.9.9.9\n"), 0644))
	dst := filepath.Join(dir, "resolv.conf")
	require.NoError(t, os.WriteFile(dst, []byte("nameserver 127.0.0.53\n"), 0644))

	require.NoError(t, fsutil.ReplaceFile(src, dst))

	content, _ := os.ReadFile(dst)
	assert.Equal(t, "nameserver 9.9.9.9\n", string(content))
}

func TestReplaceFile_ReplacesDanglingSymlink(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "host-resolv.conf")
	require.NoError(t, os.WriteFile(src, []byte("nameserver 1.1.1.1\n"), 0644))
	dst := filepath.Join(dir, "resolv.conf")
	require.NoError(t, os.Symlink("/run/systemd/resolve/stub-resolv.conf", dst))

	require.NoError(t, fsutil.ReplaceFile(src, dst))

	info, err := os.Lstat(dst)
	require.NoError(t, err)
	assert.True(t, info.Mode().IsRegular())
}

func TestReplaceFile_MissingSource(t *testing.T) {
	dir := t.TempDir()
	err := fsutil.ReplaceFile(filepath.Join(dir, "nope"), filepath.Join(dir, "dst"))
	assert.Error(t, err)
}

func TestSavedEntry_RestoresSymlink(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "host-resolv.conf")
	require.NoError(t, os.WriteFile(src, []byte("nameserver 1.1.1.1\n"), 0644))
	dst := filepath.Join(dir, "resolv.conf")
	require.NoError(t, os.Symlink("../run/systemd/resolve/stub-resolv.conf", dst))

	saved, err := fsutil.SaveEntry(dst)
	require.NoError(t, err)
	require.NoError(t, fsutil.ReplaceFile(src, dst))
	require.NoError(t, saved.Restore())

	target, err := os.Readlink(dst)
	require.NoError(t, err)
	assert.Equal(t, "../run/systemd/resolve/stub-resolv.conf", target)
}

func TestSavedEntry_RestoresFileAndAbsence(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "resolv.conf")
	require.NoError(t, os.WriteFile(file, []byte("nameserver 127.0.0.53\n"), 0600))
	missing := filepath.Join(dir, "missing.conf")

	savedFile, err := fsutil.SaveEntry(file)
	require.NoError(t, err)
	savedMissing, err := fsutil.SaveEntry(missing)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(file, []byte("changed"), 0644))
	require.NoError(t, os.WriteFile(missing, []byte("changed"), 0644))
	require.NoError(t, savedFile.Restore())
	require.NoError(t, savedMissing.Restore())

	content, err := os.ReadFile(file)
	require.NoError(t, err)
	assert.Equal(t, "nameserver 127.0.0.53\n", string(content))
	info, err := os.Stat(file)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
	assert.NoFileExists(t, missing)
}

func TestSaveEntry_RejectsDirectory(t *testing.T) {
	_, err := fsutil.SaveEntry(t.TempDir())
	assert.Error(t, err)
}

func TestRenameAndSync(t *testing.T) {
	dir := t.TempDir()
	oldPath := filepath.Join(dir, "root")
	newPath := filepath.Join(dir, "rollback")
	require.NoError(t, os.Mkdir(oldPath, 0755))

	require.NoError(t, fsutil.RenameAndSync(oldPath, newPath))

	assert.False(t, fsutil.Exists(oldPath))
	assert.True(t, fsutil.Exists(newPath))
}

func TestRenameAndSync_MissingSource(t *testing.T) {
	dir := t.TempDir()
	err := fsutil.RenameAndSync(filepath.Join(dir, "nope"), filepath.Join(dir, "dst"))
	assert.ErrorIs(t, err, fs.ErrNotExist)
}

func TestFsyncDir(t *testing.T) {
	assert.NoError(t, fsutil.FsyncDir(t.TempDir()))
	assert.Error(t, fsutil.FsyncDir(filepath.Join(t.TempDir(), "missing")))
}
