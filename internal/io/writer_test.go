package io

import (
	"bytes"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
)

func TestWriteLines(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	n, err := WriteLines(&buf, []string{"a.b.com", "a.com", "b.com"})
	require.NoError(t, err)
	require.Equal(t, 3, n)
	require.Equal(t, "a.b.com\na.com\nb.com\n", buf.String())
}

func TestWriteLinesEmpty(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	n, err := WriteLines(&buf, nil)
	require.NoError(t, err)
	require.Zero(t, n)
	require.Zero(t, buf.Len(), "an empty result must produce zero lines")
}

func TestWriteFileTruncatesExisting(t *testing.T) {
	t.Parallel()
	mfs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(mfs, "/out/hosts.txt", []byte("stale\nstale\nstale\n"), 0644))

	n, err := WriteFile(mfs, "/out/hosts.txt", []string{"api.example.com"})
	require.NoError(t, err)
	require.Equal(t, 1, n)

	b, err := afero.ReadFile(mfs, "/out/hosts.txt")
	require.NoError(t, err)
	require.Equal(t, "api.example.com\n", string(b))

	fi, err := mfs.Stat("/out/hosts.txt")
	require.NoError(t, err)
	require.Equal(t, FileMode, fi.Mode().Perm())
}

func TestWriteFileLeavesNoTempFiles(t *testing.T) {
	t.Parallel()
	mfs := afero.NewMemMapFs()
	require.NoError(t, mfs.MkdirAll("/out", 0755))
	_, err := WriteFile(mfs, "/out/hosts.txt", []string{"a", "b"})
	require.NoError(t, err)

	entries, err := afero.ReadDir(mfs, "/out")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "hosts.txt", entries[0].Name())
}

func TestWriteFileEmptyResult(t *testing.T) {
	t.Parallel()
	mfs := afero.NewMemMapFs()
	n, err := WriteFile(mfs, "/hosts.txt", nil)
	require.NoError(t, err)
	require.Zero(t, n)
	b, err := afero.ReadFile(mfs, "/hosts.txt")
	require.NoError(t, err)
	require.Empty(t, b)
}

func TestWriteFileReadOnlyFs(t *testing.T) {
	t.Parallel()
	_, err := WriteFile(afero.NewReadOnlyFs(afero.NewMemMapFs()), "/hosts.txt", []string{"a"})

	var ioErr *IOError
	require.True(t, errors.As(err, &ioErr))
	require.Equal(t, "create", ioErr.Op)
	require.Equal(t, "/hosts.txt", ioErr.Path)
}

func TestWriteFileMissingDirectory(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "missing", "hosts.txt")
	_, err := WriteFile(afero.NewOsFs(), path, []string{"a"})

	var ioErr *IOError
	require.ErrorAs(t, err, &ioErr)
	require.True(t, errors.Is(err, fs.ErrNotExist))
	_, statErr := os.Stat(path)
	require.True(t, os.IsNotExist(statErr))
}

func TestWriteFileKeepsExistingMode(t *testing.T) {
	t.Parallel()
	mfs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(mfs, "/hosts.txt", []byte("old\n"), 0600))

	_, err := WriteFile(mfs, "/hosts.txt", []string{"new"})
	require.NoError(t, err)

	fi, err := mfs.Stat("/hosts.txt")
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0600), fi.Mode().Perm())
}

func TestWriteFileThroughSymlink(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	target := filepath.Join(dir, "real.txt")
	link := filepath.Join(dir, "hosts.txt")
	require.NoError(t, os.WriteFile(target, []byte("old\n"), 0600))
	require.NoError(t, os.Chmod(target, 0600))
	if err := os.Symlink("real.txt", link); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}

	n, err := WriteFile(afero.NewOsFs(), link, []string{"api.example.com"})
	require.NoError(t, err)
	require.Equal(t, 1, n)

	li, err := os.Lstat(link)
	require.NoError(t, err)
	require.NotZero(t, li.Mode()&os.ModeSymlink, "the link itself must survive")

	b, err := os.ReadFile(target)
	require.NoError(t, err)
	require.Equal(t, "api.example.com\n", string(b))

	fi, err := os.Stat(target)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0600), fi.Mode().Perm())
}
